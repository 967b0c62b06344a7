package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blindctl/internal/testutils"
	"github.com/srg/blindctl/internal/testutils/mocks"
	"github.com/srg/blindctl/internal/transport/goble"
	"github.com/srg/blindctl/pkg/protocol"
	"github.com/srg/blindctl/pkg/transport"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const address = "AA:BB:CC:DD:EE:FF"

type GoBLETransportTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	client *mocks.MockGATTClient
	dialed []string
}

func (s *GoBLETransportTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.client = testutils.MotorPeripheral(
		protocol.ServiceUUID,
		protocol.CommandCharacteristic,
		protocol.NotificationCharacteristic,
	).Build()
	s.dialed = nil
}

func (s *GoBLETransportTestSuite) newTransport(client goble.Client) *goble.Transport {
	t, err := goble.New("",
		goble.WithLogger(s.helper.Logger),
		goble.WithDialer(func(_ context.Context, addr string) (goble.Client, error) {
			s.dialed = append(s.dialed, addr)
			return client, nil
		}),
	)
	s.Require().NoError(err)
	return t
}

func (s *GoBLETransportTestSuite) TestConnectWriteAndNotify() {
	// GOAL: Verify the go-ble transport resolves the motor characteristics and routes I/O
	//
	// TEST SCENARIO: Motor profile → connect → subscribe + write → client receives matching calls

	tr := s.newTransport(s.client)

	session, err := tr.Connect(context.Background(), address)
	s.Require().NoError(err, "connect MUST succeed when the service is present")
	s.Assert().Equal([]string{address}, s.dialed)

	received := make(chan []byte, 1)
	s.Require().NoError(session.Subscribe(protocol.NotificationCharacteristic, func(data []byte) { received <- data }))
	s.Require().True(s.client.Notify(blelib.MustParse(protocol.NotificationCharacteristic), []byte{0x01, 0x02}))
	s.Assert().Equal([]byte{0x01, 0x02}, <-received, "notification MUST reach the handler")

	s.Require().NoError(session.Write(protocol.CommandCharacteristic, []byte{0xaa}, false))
	s.client.AssertCalled(s.T(), "WriteCharacteristic",
		mock.MatchedBy(func(c *blelib.Characteristic) bool {
			return c.UUID.Equal(blelib.MustParse(protocol.CommandCharacteristic))
		}),
		[]byte{0xaa},
		true, // write without response
	)

	s.Require().NoError(session.Disconnect())
	s.Require().NoError(session.Disconnect(), "second disconnect MUST be a no-op")
	s.client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)

	s.Assert().ErrorIs(session.Write(protocol.CommandCharacteristic, []byte{0xaa}, false), transport.ErrNotConnected)
}

func (s *GoBLETransportTestSuite) TestMissingService() {
	client := testutils.NewPeripheralBuilder().
		WithService("180F").
		WithCharacteristic("2A19", "read").
		Build()
	tr := s.newTransport(client)

	_, err := tr.Connect(context.Background(), address)

	s.Assert().ErrorIs(err, transport.ErrNotFound, "missing service MUST be reported")
	client.AssertCalled(s.T(), "CancelConnection")
}

func (s *GoBLETransportTestSuite) TestMissingServiceCancelFailureLogged() {
	// GOAL: Verify a failed cancel after a missing service is logged, not lost
	//
	// TEST SCENARIO: profile without the motor service, CancelConnection fails → ErrNotFound and one warning

	client := mocks.NewMockGATTClient()
	client.On("DiscoverProfile", true).Return(testutils.NewPeripheralBuilder().WithService("180F").Profile(), nil)
	client.On("CancelConnection").Return(errors.New("hci: command disallowed"))
	hook := logtest.NewLocal(s.helper.Logger)
	tr := s.newTransport(client)

	_, err := tr.Connect(context.Background(), address)

	s.Require().ErrorIs(err, transport.ErrNotFound)
	var warnings []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings = append(warnings, e)
		}
	}
	s.Require().Len(warnings, 1, "cancel failure MUST be logged")
	s.Assert().Equal("Failed to cancel connection after missing service", warnings[0].Message)
	s.Assert().EqualError(warnings[0].Data["cancel_error"].(error), "hci: command disallowed")
}

func (s *GoBLETransportTestSuite) TestUnknownCharacteristic() {
	tr := s.newTransport(s.client)
	session, err := tr.Connect(context.Background(), address)
	s.Require().NoError(err)

	err = session.Write("2a19", []byte{0x01}, false)

	s.Assert().ErrorIs(err, transport.ErrNotFound)
}

func (s *GoBLETransportTestSuite) TestDiscoveryFailure() {
	client := mocks.NewMockGATTClient()
	client.On("DiscoverProfile", true).Return(nil, errors.New("device not connected"))
	client.On("CancelConnection").Return(nil)
	tr := s.newTransport(client)

	_, err := tr.Connect(context.Background(), address)

	s.Assert().ErrorIs(err, transport.ErrNotConnected, "go-ble errors MUST be normalized")
	client.AssertCalled(s.T(), "CancelConnection")
}

func (s *GoBLETransportTestSuite) TestLinkLossInvokesCallback() {
	// GOAL: Verify a BLE stack disconnect reaches the session's OnDisconnect callback
	//
	// TEST SCENARIO: Connected session → client Disconnected() closes → callback fires once

	tr := s.newTransport(s.client)
	session, err := tr.Connect(context.Background(), address)
	s.Require().NoError(err)

	dropped := make(chan struct{}, 2)
	session.OnDisconnect(func() { dropped <- struct{}{} })

	s.client.Drop()

	select {
	case <-dropped:
	case <-time.After(time.Second):
		s.Require().Fail("OnDisconnect MUST fire on link loss")
	}
	s.Assert().ErrorIs(session.Write(protocol.CommandCharacteristic, []byte{0x01}, false), transport.ErrNotConnected)
	s.Assert().NoError(session.Disconnect())
	s.client.AssertNotCalled(s.T(), "CancelConnection")
}

func (s *GoBLETransportTestSuite) TestLocalDisconnectDoesNotInvokeCallback() {
	tr := s.newTransport(s.client)
	session, err := tr.Connect(context.Background(), address)
	s.Require().NoError(err)

	dropped := make(chan struct{}, 1)
	session.OnDisconnect(func() { dropped <- struct{}{} })

	s.Require().NoError(session.Disconnect())
	s.client.Drop()

	select {
	case <-dropped:
		s.Fail("local disconnect MUST NOT be reported as link loss")
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *GoBLETransportTestSuite) TestInvalidServiceUUID() {
	_, err := goble.New("not-a-uuid")
	s.Assert().Error(err)
}

func (s *GoBLETransportTestSuite) TestScanWithoutAdapter() {
	orig := goble.DeviceFactory
	goble.DeviceFactory = func() (blelib.Device, error) {
		return nil, errors.New("Bluetooth is turned off")
	}
	defer func() { goble.DeviceFactory = orig }()

	tr, err := goble.New("", goble.WithLogger(s.helper.Logger))
	s.Require().NoError(err)

	err = tr.Scan(context.Background(), false, func(blelib.Advertisement) {})
	s.Require().ErrorIs(err, transport.ErrBluetoothOff, "adapter failure MUST surface as Bluetooth off")
}

func TestGoBLETransportTestSuite(t *testing.T) {
	suite.Run(t, new(GoBLETransportTestSuite))
}

func TestNormalizeError(t *testing.T) {
	cases := map[string]error{
		"central manager has invalid state: have=4 want=5: is Bluetooth turned on?": transport.ErrBluetoothOff,
		"Bluetooth is turned off":   transport.ErrBluetoothOff,
		"device not connected":      transport.ErrNotConnected,
		"peripheral disconnected":   transport.ErrNotConnected,
	}
	for msg, want := range cases {
		t.Run(msg, func(t *testing.T) {
			if err := goble.NormalizeError(errors.New(msg)); !errors.Is(err, want) {
				t.Errorf("NormalizeError(%q) = %v, MUST wrap %v", msg, err, want)
			}
		})
	}

	if goble.NormalizeError(nil) != nil {
		t.Error("nil MUST stay nil")
	}
	other := errors.New("att error 0x0e")
	if goble.NormalizeError(other) != other {
		t.Error("unknown errors MUST pass through unchanged")
	}
}
