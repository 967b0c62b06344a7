package crypt_test

import (
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srg/blindctl/pkg/crypt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type CodecTestSuite struct {
	suite.Suite

	codec *crypt.Codec
	now   time.Time
}

func (s *CodecTestSuite) SetupTest() {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	s.Require().NoError(err, "test timezone MUST load")
	s.now = time.Date(2025, time.October, 18, 14, 30, 0, 500*int(time.Millisecond), loc)

	s.codec, err = crypt.NewCodec(
		crypt.WithTimezone("Europe/Amsterdam"),
		crypt.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err, "codec MUST be created")
}

func (s *CodecTestSuite) TestKnownVectors() {
	// GOAL: Verify the cipher matches the motor firmware bit for bit
	//
	// TEST SCENARIO: Decrypt a captured notification and encrypt a known command → exact hex matches

	s.Run("decrypt captured position notification", func() {
		plain, err := s.codec.Decrypt("244e1d963ebdc5453f43e896465b5bcf")

		s.Require().NoError(err, "captured notification MUST decrypt")
		s.Assert().Equal("070404020e0059b4", plain, "plaintext MUST match capture")
	})

	s.Run("encrypt open command", func() {
		out, err := s.codec.Encrypt("03020301190a120e1e0001f4")

		s.Require().NoError(err, "encryption MUST succeed")
		s.Assert().Equal("6e7b9003fd78d6fe6a4e4b7d92cb5c93", out, "ciphertext MUST match firmware expectation")
	})

	s.Run("encryption is deterministic", func() {
		a, errA := s.codec.Encrypt("03020303")
		b, errB := s.codec.Encrypt("03020303")

		s.Require().NoError(errA)
		s.Require().NoError(errB)
		s.Assert().Equal(a, b, "ECB MUST yield identical ciphertext for identical input")
	})
}

func (s *CodecTestSuite) TestRoundTrip() {
	// GOAL: Verify decrypt(encrypt(x)) == x for payloads of every padding length
	//
	// TEST SCENARIO: Plaintexts of 0..40 bytes → encrypt → decrypt → original returned

	for n := 0; n <= 40; n++ {
		plain := make([]byte, n)
		for i := range plain {
			plain[i] = byte(i*37 + n)
		}
		plainHex := hex.EncodeToString(plain)

		enc, err := s.codec.Encrypt(plainHex)
		s.Require().NoError(err, "encrypt MUST succeed for %d bytes", n)
		s.Assert().Zero(len(enc)%32, "ciphertext MUST be whole blocks for %d bytes", n)

		dec, err := s.codec.Decrypt(enc)
		s.Require().NoError(err, "decrypt MUST succeed for %d bytes", n)
		s.Assert().Equal(plainHex, dec, "round trip MUST return the plaintext for %d bytes", n)
	}
}

func (s *CodecTestSuite) TestDecryptErrors() {
	// GOAL: Verify malformed ciphertexts fail with DecodeError
	//
	// TEST SCENARIO: Bad hex, bad length, bad padding → errors.Is(err, ErrDecode)

	cases := map[string]string{
		"invalid hex":     "zz",
		"empty":           "",
		"partial block":   "244e1d963ebdc5453f43e896465b5b",
		"invalid padding": "00000000000000000000000000000000",
	}

	for name, payload := range cases {
		s.Run(name, func() {
			_, err := s.codec.Decrypt(payload)

			s.Require().Error(err, "decrypt MUST fail")
			s.Assert().ErrorIs(err, crypt.ErrDecode, "error MUST match ErrDecode")

			var decodeErr *crypt.DecodeError
			s.Assert().ErrorAs(err, &decodeErr, "error MUST be a *DecodeError")
		})
	}
}

func (s *CodecTestSuite) TestTimestamp() {
	// GOAL: Verify the timestamp field layout
	//
	// TEST SCENARIO: Fixed clock → yy mm dd hh mi ss as hex bytes + 4 hex chars of milliseconds

	ts, err := s.codec.Timestamp()

	s.Require().NoError(err, "timestamp MUST succeed once timezone is set")
	s.Assert().Equal("190a120e1e0001f4", ts, "timestamp MUST encode 2025-10-18 14:30:00.500")
	s.Assert().Len(ts, crypt.TimestampLength, "timestamp MUST have fixed length")
}

func (s *CodecTestSuite) TestTimestampUsesConfiguredZone() {
	// GOAL: Verify the wall clock is converted into the configured zone
	//
	// TEST SCENARIO: UTC instant, codec in Asia/Tokyo → hour field shifted by +9

	utc := time.Date(2025, time.January, 1, 23, 59, 59, 999*int(time.Millisecond), time.UTC)
	codec, err := crypt.NewCodec(crypt.WithTimezone("Asia/Tokyo"), crypt.WithClock(func() time.Time { return utc }))
	s.Require().NoError(err)

	ts, err := codec.Timestamp()

	s.Require().NoError(err)
	s.Assert().Equal("190102083b3b03e7", ts, "timestamp MUST be 2025-01-02 08:59:59.999 in Tokyo")
}

func TestCodecTestSuite(t *testing.T) {
	suite.Run(t, new(CodecTestSuite))
}

func TestTimestampRequiresTimezone(t *testing.T) {
	codec, err := crypt.NewCodec()
	require.NoError(t, err)

	_, err = codec.Timestamp()
	assert.ErrorIs(t, err, crypt.ErrTimezoneNotConfigured, "timestamp MUST fail before timezone configuration")

	require.NoError(t, codec.SetTimezone("UTC"))
	ts, err := codec.Timestamp()
	require.NoError(t, err)
	assert.Len(t, ts, crypt.TimestampLength)
	_, err = hex.DecodeString(ts)
	assert.NoError(t, err, "timestamp MUST be valid hex")
}

func TestSetTimezoneOnlyOnce(t *testing.T) {
	codec, err := crypt.NewCodec()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- codec.SetTimezone("UTC")
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, crypt.ErrTimezoneAlreadySet)
	}
	assert.Equal(t, 1, succeeded, "exactly one SetTimezone MUST win")
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := crypt.NewCodec(crypt.WithKey([]byte("short")))
	assert.Error(t, err, "short key MUST be rejected")

	_, err = crypt.NewCodec(crypt.WithTimezone("Not/AZone"))
	require.Error(t, err, "unknown timezone MUST be rejected")
	assert.True(t, strings.Contains(err.Error(), "Not/AZone"), "error MUST name the timezone")
}
