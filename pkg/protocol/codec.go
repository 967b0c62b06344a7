// Package protocol builds encrypted motor commands and decodes motor
// notifications.
package protocol

import (
	"encoding/hex"
	"fmt"

	"github.com/srg/blindctl/pkg/crypt"
)

// Codec turns Commands into wire bytes and wire bytes into Notifications.
type Codec struct {
	crypt *crypt.Codec
}

// NewCodec wraps a crypt.Codec.
func NewCodec(c *crypt.Codec) *Codec {
	return &Codec{crypt: c}
}

// Crypt returns the underlying cipher codec.
func (c *Codec) Crypt() *crypt.Codec {
	return c.crypt
}

// Encode appends a fresh timestamp to cmd, encrypts it and returns the bytes
// to write. Encode must be called for every write attempt since the motor
// rejects stale timestamps.
func (c *Codec) Encode(cmd Command) ([]byte, error) {
	ts, err := c.crypt.Timestamp()
	if err != nil {
		return nil, err
	}

	enc, err := c.crypt.Encrypt(cmd.Hex() + ts)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd, err)
	}

	return hex.DecodeString(enc)
}

// Decode decrypts a raw notification. Unknown notification kinds return
// (nil, nil); undecryptable payloads return a *crypt.DecodeError.
func (c *Codec) Decode(raw []byte) (Notification, error) {
	plain, err := c.crypt.Decrypt(hex.EncodeToString(raw))
	if err != nil {
		return nil, err
	}
	return parsePlaintext(plain)
}

// DecodeCommand decrypts an encoded command and splits off its timestamp.
// The motor never needs this; it exists for logging and for tests that
// inspect what was written.
func (c *Codec) DecodeCommand(raw []byte) (body string, timestamp string, err error) {
	plain, err := c.crypt.Decrypt(hex.EncodeToString(raw))
	if err != nil {
		return "", "", err
	}
	if len(plain) < crypt.TimestampLength {
		return "", "", &crypt.DecodeError{Payload: plain, Reason: "command shorter than timestamp"}
	}
	cut := len(plain) - crypt.TimestampLength
	return plain[:cut], plain[cut:], nil
}
