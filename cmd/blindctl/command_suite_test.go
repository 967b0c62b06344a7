package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blindctl/internal/devicefactory"
	"github.com/srg/blindctl/internal/testutils"
	"github.com/srg/blindctl/internal/testutils/mocks"
	"github.com/srg/blindctl/pkg/protocol"
	"github.com/srg/blindctl/pkg/transport"
)

const testConfig = `
timezone: UTC
connection:
  connect_attempts: 1
  command_retries: 0
  set_key_delay: 0s
  double_click: 10ms
devices:
  - address: AA:BB:CC:DD:EE:FF
    name: living room
  - address: 11:22:33:44:55:66
    name: office
    type: position_tilt
  - address: 22:33:44:55:66:77
    name: patio
    type: position_curtain
`

// CommandTestSuite runs CLI commands against mocked motors.
// All cmd/blindctl test suites should embed it.
type CommandTestSuite struct {
	suite.Suite
	helper    *testutils.TestHelper
	transport *mocks.MockTransport
	session   *mocks.MockSession
	codec     *protocol.Codec
	text      *testutils.TextAsserter

	origFactory func(string, *logrus.Logger) (transport.Transport, error)

	// onWrite, when set, sees every decrypted command body.
	writeMu sync.Mutex
	onWrite func(body string)
}

func (s *CommandTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.transport = &mocks.MockTransport{}
	s.session = &mocks.MockSession{}
	s.codec = s.helper.NewCodec(nil)
	s.text = testutils.NewTextAsserter(s.T())

	s.origFactory = devicefactory.TransportFactory
	devicefactory.TransportFactory = func(string, *logrus.Logger) (transport.Transport, error) {
		return s.transport, nil
	}

	// Reset flags before each test for proper isolation
	configPath = s.WriteConfig(testConfig)
	timezoneOverride = ""
	backendOverride = ""
	motorType = "position"
	statusTimeout = 2 * time.Second
	connectTimeout = 0
	bridgeOptions = nil
	s.onWrite = nil

	s.session.On("Subscribe", protocol.NotificationCharacteristic, mock.Anything).Return(nil)
	s.session.On("Disconnect").Return(nil)
	s.session.On("Write", protocol.CommandCharacteristic, mock.Anything, false).
		Run(func(args mock.Arguments) {
			body, _, err := s.codec.DecodeCommand(args.Get(1).([]byte))
			s.Require().NoError(err, "written command MUST decrypt")
			s.writeMu.Lock()
			fn := s.onWrite
			s.writeMu.Unlock()
			if fn != nil {
				fn(body)
			}
		}).
		Return(nil)
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.TransportFactory = s.origFactory
}

// ExpectMotor makes the transport hand out the mocked session for address.
func (s *CommandTestSuite) ExpectMotor(address string) {
	s.transport.On("Connect", mock.Anything, address).Return(s.session, nil)
}

// OnWrite installs a hook that sees every decrypted command body.
func (s *CommandTestSuite) OnWrite(fn func(body string)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.onWrite = fn
}

// WriteConfig stores yaml in a temporary config file and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

// Bodies returns the command bodies written so far, without timestamps.
func (s *CommandTestSuite) Bodies() []string {
	return s.helper.Bodies(s.codec, s.session.Writes())
}

// Run executes cmd's RunE with args and returns its output and error.
func (s *CommandTestSuite) Run(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	defer func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
	}()

	err := cmd.RunE(cmd, args)
	return buf.String(), err
}
