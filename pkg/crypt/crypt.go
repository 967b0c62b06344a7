// Package crypt implements the symmetric transform and the timestamp field
// used by the motor's BLE command protocol.
//
// Payloads travel as hex strings. Encryption is AES-128 in ECB mode with
// PKCS#7 padding under a fixed key shared with the motor firmware, so equal
// plaintexts always produce equal ciphertexts.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultKey is the key baked into the motor firmware.
var DefaultKey = []byte("a3q8r8c135sqbn66")

// TimestampLength is the number of hex characters produced by Timestamp:
// year, month, day, hour, minute and second as one byte each, followed by a
// two byte millisecond field.
const TimestampLength = 16

var (
	ErrTimezoneNotConfigured = errors.New("timezone not configured")
	ErrTimezoneAlreadySet    = errors.New("timezone already set")
	ErrDecode                = errors.New("decode error")
)

// DecodeError reports a payload that could not be decrypted.
type DecodeError struct {
	Payload string
	Reason  string
}

func (e *DecodeError) Error() string {
	if e.Payload == "" {
		return fmt.Sprintf("decode error: %s", e.Reason)
	}
	return fmt.Sprintf("decode error: %s (payload %q)", e.Reason, e.Payload)
}

// Is lets errors.Is match any DecodeError against ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Codec encrypts, decrypts and timestamps protocol payloads.
// A Codec is safe for concurrent use.
type Codec struct {
	block    cipher.Block
	location atomic.Pointer[time.Location]
	now      func() time.Time
}

// Option configures a Codec.
type Option func(*codecOptions)

type codecOptions struct {
	key      []byte
	timezone string
	now      func() time.Time
}

// WithKey overrides the cipher key. The key must be 16 bytes.
func WithKey(key []byte) Option {
	return func(o *codecOptions) { o.key = key }
}

// WithTimezone sets the timezone used by Timestamp at construction time.
func WithTimezone(name string) Option {
	return func(o *codecOptions) { o.timezone = name }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *codecOptions) { o.now = now }
}

// NewCodec creates a Codec. Without WithTimezone the codec can encrypt and
// decrypt but Timestamp fails until SetTimezone is called.
func NewCodec(opts ...Option) (*Codec, error) {
	o := codecOptions{key: DefaultKey, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if len(o.key) != aes.BlockSize {
		return nil, fmt.Errorf("crypt: key must be %d bytes, got %d", aes.BlockSize, len(o.key))
	}
	block, err := aes.NewCipher(o.key)
	if err != nil {
		return nil, fmt.Errorf("crypt: new cipher: %w", err)
	}

	c := &Codec{block: block, now: o.now}
	if o.timezone != "" {
		if err := c.SetTimezone(o.timezone); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetTimezone configures the timezone used by Timestamp. It may succeed only
// once per Codec; later calls return ErrTimezoneAlreadySet.
func (c *Codec) SetTimezone(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("crypt: load timezone %q: %w", name, err)
	}
	if !c.location.CompareAndSwap(nil, loc) {
		return fmt.Errorf("crypt: %w (%s)", ErrTimezoneAlreadySet, c.location.Load())
	}
	return nil
}

// Timezone returns the configured location, or nil.
func (c *Codec) Timezone() *time.Location {
	return c.location.Load()
}

// Encrypt pads and encrypts a hex encoded plaintext and returns hex.
func (c *Codec) Encrypt(plainHex string) (string, error) {
	plain, err := hex.DecodeString(plainHex)
	if err != nil {
		return "", fmt.Errorf("crypt: invalid plaintext hex: %w", err)
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += aes.BlockSize {
		c.block.Encrypt(out[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
	}
	return hex.EncodeToString(out), nil
}

// Decrypt decrypts a hex encoded ciphertext, strips padding and returns hex.
func (c *Codec) Decrypt(cipherHex string) (string, error) {
	data, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", &DecodeError{Payload: cipherHex, Reason: "invalid hex"}
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", &DecodeError{Payload: cipherHex, Reason: fmt.Sprintf("length %d is not a multiple of %d", len(data), aes.BlockSize)}
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		c.block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}

	plain, ok := pkcs7Unpad(out, aes.BlockSize)
	if !ok {
		return "", &DecodeError{Payload: cipherHex, Reason: "invalid padding"}
	}
	return hex.EncodeToString(plain), nil
}

// Timestamp encodes the current time in the configured timezone. Every
// command carries one; the firmware rejects stale values.
func (c *Codec) Timestamp() (string, error) {
	loc := c.location.Load()
	if loc == nil {
		return "", ErrTimezoneNotConfigured
	}

	now := c.now().In(loc)
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x%04x",
		now.Year()%100,
		int(now.Month()),
		now.Day(),
		now.Hour(),
		now.Minute(),
		now.Second(),
		now.Nanosecond()/int(time.Millisecond),
	), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
