package devicefactory

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blindctl/internal/testutils"
	"github.com/srg/blindctl/internal/testutils/mocks"
	"github.com/srg/blindctl/internal/transport/goble"
	"github.com/srg/blindctl/internal/transport/tinyble"
	"github.com/srg/blindctl/pkg/config"
	"github.com/srg/blindctl/pkg/crypt"
	"github.com/srg/blindctl/pkg/motion"
	"github.com/srg/blindctl/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTransport(t *testing.T, tr transport.Transport) {
	t.Helper()
	orig := TransportFactory
	TransportFactory = func(string, *logrus.Logger) (transport.Transport, error) { return tr, nil }
	t.Cleanup(func() { TransportFactory = orig })
}

func TestTransportFactoryBackends(t *testing.T) {
	logger := testutils.NewTestHelper(t).Logger

	tr, err := TransportFactory(config.BackendGoBLE, logger)
	require.NoError(t, err)
	assert.IsType(t, &goble.Transport{}, tr)

	tr, err = TransportFactory(config.BackendTinyGo, logger)
	require.NoError(t, err)
	assert.IsType(t, &tinyble.Transport{}, tr)

	_, err = TransportFactory("bluez", logger)
	assert.Error(t, err, "unknown backend MUST be rejected")
}

func TestDevicesFromConfig(t *testing.T) {
	// GOAL: Verify configured motors become devices with matching capabilities
	//
	// TEST SCENARIO: Two devices (position, tilt) → two devices in order with their capability sets

	withTransport(t, &mocks.MockTransport{})

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Devices = []config.DeviceConfig{
		{Address: "AA:BB:CC:DD:EE:FF", Name: "living", Type: motion.TypePosition},
		{Address: "11:22:33:44:55:66", Type: motion.TypeTilt},
	}

	f, err := New(cfg, testutils.NewTestHelper(t).Logger)
	require.NoError(t, err)

	devices, err := f.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", devices[0].Address())
	assert.Equal(t, motion.Capabilities{Position: true, Speed: true}, devices[0].Capabilities())
	assert.Equal(t, "11:22:33:44:55:66", devices[1].Address())
	assert.Equal(t, motion.Capabilities{Tilt: true, Speed: true}, devices[1].Capabilities())
}

func TestDeviceWithoutTimezoneFailsLoudly(t *testing.T) {
	tr := &mocks.MockTransport{}
	withTransport(t, tr)

	cfg := config.DefaultConfig()
	f, err := New(cfg, nil)
	require.NoError(t, err)

	d, err := f.Device(config.DeviceConfig{Address: "AA:BB:CC:DD:EE:FF", Type: motion.TypePosition})
	require.NoError(t, err)

	_, err = d.Open(context.Background())
	assert.ErrorIs(t, err, crypt.ErrTimezoneNotConfigured)
	tr.AssertNotCalled(t, "Connect")
}

func TestUnknownTypeRejected(t *testing.T) {
	withTransport(t, &mocks.MockTransport{})

	f, err := New(config.DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = f.Device(config.DeviceConfig{Address: "AA:BB:CC:DD:EE:FF", Type: "venetian"})
	assert.Error(t, err)
}

func TestManagerOptions(t *testing.T) {
	opts := ManagerOptions(config.ConnectionConfig{
		ConnectAttempts:   2,
		CommandRetries:    1,
		DisconnectTimeout: time.Minute,
		SetKeyDelay:       50 * time.Millisecond,
	})
	assert.Len(t, opts, 4)
}

func TestScannerNeedsScanningTransport(t *testing.T) {
	withTransport(t, &mocks.MockTransport{})
	f, err := New(config.DefaultConfig(), nil)
	require.NoError(t, err)
	_, err = f.Scanner()
	assert.ErrorIs(t, err, ErrScanUnsupported, "transport without Scan MUST be rejected")

	tr, err := goble.New("")
	require.NoError(t, err)
	withTransport(t, tr)
	f, err = New(config.DefaultConfig(), nil)
	require.NoError(t, err)
	s, err := f.Scanner()
	require.NoError(t, err)
	assert.NotNil(t, s)
}
