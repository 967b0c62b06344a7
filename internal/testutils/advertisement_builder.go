package testutils

import (
	"github.com/go-ble/ble"
)

// AdvertisementBuilder builds ble.Advertisement values for scanner tests.
type AdvertisementBuilder struct {
	adv advertisement
}

// NewAdvertisementBuilder starts a connectable advertisement with no name.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: advertisement{connectable: true}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.addr = ble.NewAddr(addr)
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.rssi = rssi
	return b
}

// WithServices adds service UUIDs in short or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	for _, u := range uuids {
		b.adv.services = append(b.adv.services, ble.MustParse(u))
	}
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.connectable = c
	return b
}

func (b *AdvertisementBuilder) Build() ble.Advertisement {
	adv := b.adv
	return &adv
}

type advertisement struct {
	name        string
	addr        ble.Addr
	rssi        int
	services    []ble.UUID
	connectable bool
}

func (a *advertisement) LocalName() string { return a.name }
func (a *advertisement) ManufacturerData() []byte { return nil }
func (a *advertisement) ServiceData() []ble.ServiceData { return nil }
func (a *advertisement) Services() []ble.UUID { return a.services }
func (a *advertisement) OverflowService() []ble.UUID { return nil }
func (a *advertisement) TxPowerLevel() int { return 0 }
func (a *advertisement) Connectable() bool { return a.connectable }
func (a *advertisement) SolicitedService() []ble.UUID { return nil }
func (a *advertisement) RSSI() int { return a.rssi }
func (a *advertisement) Addr() ble.Addr { return a.addr }
