package testutils

import (
	"encoding/json"
	"fmt"

	blelib "github.com/go-ble/ble"
	"github.com/srg/blindctl/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "write,notify"
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig is the GATT profile a mocked motor exposes.
type PeripheralConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds a MockGATTClient that serves a configured profile.
// Subscribe, WriteCharacteristic and CancelConnection succeed by default.
type PeripheralBuilder struct {
	profile PeripheralConfig
}

func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{}
}

// MotorPeripheral returns a builder for the motor control service with its
// command and notification characteristics.
func MotorPeripheral(service, command, notification string) *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(`{
		"services": [
			{
				"uuid": %q,
				"characteristics": [
					{ "uuid": %q, "properties": "write" },
					{ "uuid": %q, "properties": "notify" }
				]
			}
		]
	}`, service, command, notification)
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// FromJSON fills the profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var cfg PeripheralConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &cfg); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = cfg
	return b
}

func parseProperties(props string) blelib.Property {
	switch props {
	case "write":
		return blelib.CharWrite | blelib.CharWriteNR
	case "notify":
		return blelib.CharNotify
	case "read":
		return blelib.CharRead
	default:
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}
}

// Profile builds the go-ble profile.
func (b *PeripheralBuilder) Profile() *blelib.Profile {
	profile := &blelib.Profile{}
	for _, svcCfg := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcCfg.UUID)}
		for _, charCfg := range svcCfg.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &blelib.Characteristic{
				UUID:     blelib.MustParse(charCfg.UUID),
				Property: parseProperties(charCfg.Properties),
			})
		}
		profile.Services = append(profile.Services, svc)
	}
	return profile
}

// Build creates a MockGATTClient serving the profile.
func (b *PeripheralBuilder) Build() *mocks.MockGATTClient {
	client := mocks.NewMockGATTClient()
	client.On("DiscoverProfile", true).Return(b.Profile(), nil)
	client.On("Subscribe", mock.Anything, false, mock.Anything).Return(nil)
	client.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	client.On("CancelConnection").Return(nil)
	return client
}
