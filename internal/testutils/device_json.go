package testutils

import (
	"encoding/json"

	"github.com/srg/bletrack/internal/gatt"
	"github.com/srg/bletrack/internal/registry"
)

// deviceJSON is the stable projection used by JSON assertions on aggregates.
type deviceJSON struct {
	Address          string        `json:"address"`
	Name             string        `json:"name"`
	AddressType      string        `json:"address_type"`
	DeviceType       string        `json:"device_type"`
	ConnectionState  string        `json:"connection_state"`
	TxPower          *int          `json:"tx_power"`
	ManufacturerData []byte        `json:"manufacturer_data"`
	ServiceUUIDs     []string      `json:"service_uuids"`
	RSSI             *int          `json:"rssi"`
	RSSIHistoryLen   int           `json:"rssi_history_len"`
	Services         []serviceJSON `json:"services"`
	UpdateHistoryLen int           `json:"update_history_len"`
	EventCount       uint64        `json:"event_count"`
}

type serviceJSON struct {
	UUID            string   `json:"uuid"`
	Characteristics []string `json:"characteristics"`
}

// DeviceToJSON renders an aggregate as JSON for assertion.
func DeviceToJSON(d *registry.Device) string {
	out := deviceJSON{
		Address:          d.Address().String(),
		Name:             d.Name(),
		AddressType:      d.AddressType().String(),
		DeviceType:       d.DeviceType().String(),
		ConnectionState:  d.ConnectionState().String(),
		TxPower:          d.TxPower(),
		ManufacturerData: d.ManufacturerData(),
		RSSIHistoryLen:   len(d.RSSIHistory()),
		UpdateHistoryLen: len(d.CharacteristicUpdates()),
		EventCount:       d.EventCount(),
	}
	if rssi, ok := d.CurrentRSSI(); ok {
		out.RSSI = &rssi
	}
	for _, u := range d.ServiceUUIDs() {
		out.ServiceUUIDs = append(out.ServiceUUIDs, u.String())
	}
	for _, svc := range d.Services() {
		out.Services = append(out.Services, serviceToJSON(svc))
	}
	data, err := json.Marshal(out)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func serviceToJSON(svc gatt.Service) serviceJSON {
	sj := serviceJSON{UUID: svc.UUID.String(), Characteristics: []string{}}
	for _, c := range svc.Characteristics {
		sj.Characteristics = append(sj.Characteristics, c.UUID.String())
	}
	return sj
}
