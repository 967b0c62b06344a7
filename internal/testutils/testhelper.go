package testutils

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blindctl/pkg/crypt"
	"github.com/srg/blindctl/pkg/protocol"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// NewCodec returns a protocol codec configured for UTC whose clock is now.
func (h *TestHelper) NewCodec(now func() time.Time) *protocol.Codec {
	h.T.Helper()

	opts := []crypt.Option{crypt.WithTimezone("UTC")}
	if now != nil {
		opts = append(opts, crypt.WithClock(now))
	}
	c, err := crypt.NewCodec(opts...)
	if err != nil {
		h.T.Fatalf("failed to create codec: %v", err)
	}
	return protocol.NewCodec(c)
}

// Bodies decrypts written command payloads and strips their timestamps.
func (h *TestHelper) Bodies(codec *protocol.Codec, writes [][]byte) []string {
	h.T.Helper()

	bodies := make([]string, 0, len(writes))
	for _, raw := range writes {
		body, _, err := codec.DecodeCommand(raw)
		if err != nil {
			h.T.Fatalf("written payload does not decrypt: %v", err)
		}
		bodies = append(bodies, body)
	}
	return bodies
}

// Encrypt returns the raw bytes a motor would send for plainHex.
func (h *TestHelper) Encrypt(codec *protocol.Codec, plainHex string) []byte {
	h.T.Helper()

	enc, err := codec.Crypt().Encrypt(plainHex)
	if err != nil {
		h.T.Fatalf("failed to encrypt %q: %v", plainHex, err)
	}
	raw, err := hex.DecodeString(enc)
	if err != nil {
		h.T.Fatalf("encrypted payload is not hex: %v", err)
	}
	return raw
}
