package protocol_test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/srg/blindctl/pkg/crypt"
	"github.com/srg/blindctl/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ProtocolTestSuite struct {
	suite.Suite

	now   time.Time
	crypt *crypt.Codec
	codec *protocol.Codec
}

func (s *ProtocolTestSuite) SetupTest() {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	s.Require().NoError(err)
	s.now = time.Date(2025, time.October, 18, 14, 30, 0, 500*int(time.Millisecond), loc)

	s.crypt, err = crypt.NewCodec(
		crypt.WithTimezone("Europe/Amsterdam"),
		crypt.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	s.codec = protocol.NewCodec(s.crypt)
}

// encrypted returns the wire bytes a motor would send for plainHex.
func (s *ProtocolTestSuite) encrypted(plainHex string) []byte {
	enc, err := s.crypt.Encrypt(plainHex)
	s.Require().NoError(err)
	raw, err := hex.DecodeString(enc)
	s.Require().NoError(err)
	return raw
}

func (s *ProtocolTestSuite) TestEncode() {
	// GOAL: Verify commands are encoded with a fresh timestamp on every call
	//
	// TEST SCENARIO: Encode OPEN at a fixed clock → known ciphertext; advance clock → different ciphertext

	raw, err := s.codec.Encode(protocol.Open())
	s.Require().NoError(err, "encode MUST succeed")
	s.Assert().Equal("6e7b9003fd78d6fe6a4e4b7d92cb5c93", hex.EncodeToString(raw), "OPEN MUST encode to the firmware vector")

	body, ts, err := s.codec.DecodeCommand(raw)
	s.Require().NoError(err)
	s.Assert().Equal("03020301", body, "body MUST be the opcode")
	s.Assert().Equal("190a120e1e0001f4", ts, "timestamp MUST trail the body")

	s.now = s.now.Add(1500 * time.Millisecond)
	again, err := s.codec.Encode(protocol.Open())
	s.Require().NoError(err)
	s.Assert().NotEqual(raw, again, "re-encoding later MUST produce a new timestamp")

	_, ts2, err := s.codec.DecodeCommand(again)
	s.Require().NoError(err)
	s.Assert().Equal("190a120e1e020000", ts2, "timestamp MUST reflect the advanced clock")
}

func (s *ProtocolTestSuite) TestEncodeRequiresTimezone() {
	c, err := crypt.NewCodec()
	s.Require().NoError(err)

	_, err = protocol.NewCodec(c).Encode(protocol.Stop())

	s.Assert().ErrorIs(err, crypt.ErrTimezoneNotConfigured, "encode MUST fail without timezone")
}

func (s *ProtocolTestSuite) TestDecodeNotifications() {
	// GOAL: Verify each notification kind is parsed from decrypted payloads
	//
	// TEST SCENARIO: Captured and synthetic payloads → typed notifications with exact fields

	s.Run("captured position notification", func() {
		n, err := s.codec.Decode(s.encrypted("070404020e0059b4"))

		s.Require().NoError(err)
		s.Require().IsType(&protocol.PositionUpdate{}, n, "MUST decode as PositionUpdate")
		s.Assert().Equal(&protocol.PositionUpdate{
			Position: 89,
			Tilt:     100,
			Endstops: protocol.EndstopInfo{Up: true, Down: true},
		}, n)
	})

	s.Run("running notification wins over percentage prefix", func() {
		n, err := s.codec.Decode(s.encrypted("070404021e01"))

		s.Require().NoError(err)
		s.Assert().Equal(&protocol.RunningUpdate{Direction: protocol.Opening}, n, "longest prefix MUST match first")
	})

	s.Run("running directions", func() {
		for payload, dir := range map[string]protocol.RunningDirection{
			"070404021e02": protocol.Closing,
			"070404021e00": protocol.Still,
			"070404021e7f": protocol.Still,
		} {
			n, err := s.codec.Decode(s.encrypted(payload))
			s.Require().NoError(err)
			s.Assert().Equal(&protocol.RunningUpdate{Direction: dir}, n, "payload %s", payload)
		}
	})

	s.Run("status notification", func() {
		n, err := s.codec.Decode(s.encrypted("12040f020800285a0000000002000000004d"))

		s.Require().NoError(err)
		s.Assert().Equal(&protocol.StatusUpdate{
			Position: 40,
			Tilt:     50,
			Battery:  77,
			Speed:    protocol.SpeedMedium,
			Endstops: protocol.EndstopInfo{Up: true, Down: false},
		}, n)
	})

	s.Run("unknown prefix is ignored", func() {
		n, err := s.codec.Decode(s.encrypted("0102030405"))

		s.Assert().NoError(err, "unknown notification MUST NOT be an error")
		s.Assert().Nil(n, "unknown notification MUST yield nil")
	})

	s.Run("truncated payloads fail", func() {
		for _, payload := range []string{"070404020e00", "12040f020800285a"} {
			_, err := s.codec.Decode(s.encrypted(payload))
			s.Assert().ErrorIs(err, crypt.ErrDecode, "short %s MUST fail", payload)
		}
	})

	s.Run("garbage fails", func() {
		_, err := s.codec.Decode([]byte{0x01, 0x02})
		s.Assert().ErrorIs(err, crypt.ErrDecode)
	})
}

func TestProtocolTestSuite(t *testing.T) {
	suite.Run(t, new(ProtocolTestSuite))
}

func TestCommandParameters(t *testing.T) {
	cases := []struct {
		name  string
		build func() (protocol.Command, error)
		hex   string
		ok    bool
	}{
		{"percentage 0", func() (protocol.Command, error) { return protocol.Percentage(0) }, "050204400000", true},
		{"percentage 100", func() (protocol.Command, error) { return protocol.Percentage(100) }, "050204406400", true},
		{"percentage 150", func() (protocol.Command, error) { return protocol.Percentage(150) }, "", false},
		{"percentage -1", func() (protocol.Command, error) { return protocol.Percentage(-1) }, "", false},
		{"angle 180", func() (protocol.Command, error) { return protocol.Angle(180) }, "0502042000b4", true},
		{"angle 181", func() (protocol.Command, error) { return protocol.Angle(181) }, "", false},
		{"tilt 50", func() (protocol.Command, error) { return protocol.TiltPercentage(50) }, "05020420005a", true},
		{"tilt 101", func() (protocol.Command, error) { return protocol.TiltPercentage(101) }, "", false},
		{"speed high", func() (protocol.Command, error) { return protocol.Speed(protocol.SpeedHigh) }, "0403010a03", true},
		{"speed 0", func() (protocol.Command, error) { return protocol.Speed(0) }, "", false},
		{"speed 4", func() (protocol.Command, error) { return protocol.Speed(4) }, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := tc.build()
			if !tc.ok {
				require.Error(t, err, "out of range parameter MUST be rejected")
				assert.ErrorIs(t, err, protocol.ErrInvalidParameter)
				var pe *protocol.ParameterError
				assert.ErrorAs(t, err, &pe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.hex, cmd.Hex())
		})
	}
}

func TestFixedCommands(t *testing.T) {
	assert.Equal(t, "03020301", protocol.Open().Hex())
	assert.Equal(t, "03020302", protocol.Close().Hex())
	assert.Equal(t, "03020303", protocol.Stop().Hex())
	assert.Equal(t, "03020306", protocol.Favorite().Hex())
	assert.Equal(t, "02c001", protocol.SetKey().Hex())
	assert.Equal(t, "03050f02", protocol.StatusQuery().Hex())
	assert.Equal(t, "02c005", protocol.UserQuery().Hex())
	assert.Equal(t, "03050120", protocol.PointSetQuery().Hex())
	assert.Equal(t, "050204200000", protocol.OpenTilt().Hex())
	assert.Equal(t, "0502042000b4", protocol.CloseTilt().Hex())
	assert.Equal(t, "stop", protocol.Stop().String())
}

func TestAngleConversion(t *testing.T) {
	assert.Equal(t, 0, protocol.AngleToPercent(0))
	assert.Equal(t, 50, protocol.AngleToPercent(90))
	assert.Equal(t, 100, protocol.AngleToPercent(180))
	assert.Equal(t, 90, protocol.PercentToAngle(50))

	for a := protocol.MinAngle; a <= protocol.MaxAngle; a++ {
		back := protocol.PercentToAngle(protocol.AngleToPercent(a))
		assert.InDelta(t, a, back, 1, "angle %d MUST survive a round trip within one degree", a)
	}
}

func TestParseSpeedLevel(t *testing.T) {
	for input, want := range map[string]protocol.SpeedLevel{
		"low":    protocol.SpeedLow,
		"Medium": protocol.SpeedMedium,
		" high ": protocol.SpeedHigh,
		"2":      protocol.SpeedMedium,
	} {
		got, err := protocol.ParseSpeedLevel(input)
		require.NoError(t, err, "%q MUST parse", input)
		assert.Equal(t, want, got)
	}

	for _, input := range []string{"", "0", "4", "turbo"} {
		_, err := protocol.ParseSpeedLevel(input)
		assert.ErrorIs(t, err, protocol.ErrInvalidParameter, "%q MUST be rejected", input)
	}
}
