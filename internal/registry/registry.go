// Package registry folds provider events into per-device aggregates and
// emits granular change notifications after each mutation. It is the
// event-sourcing core: current state is derived purely from the event
// stream.
//
// The registry is consumer-side only. It is not safe for concurrent use;
// the bounded event queue is the sole synchronization boundary between it
// and the provider's background producer.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/gatt"
	"github.com/srg/bletrack/internal/observe"
	"github.com/srg/bletrack/internal/provider"
	"github.com/srg/bletrack/internal/queue"
)

// ObjectTypeName is the type name carried in every change notification the
// registry emits.
const ObjectTypeName = "Device"

// Property names carried by scoped update notifications.
const (
	PropertyConnectionState       = "connection_state"
	PropertyGATTServices          = "gatt_services"
	PropertyCharacteristicUpdates = "characteristic_updates"
)

// ErrNilEvent is returned when ApplyEvent is handed a nil event.
var ErrNilEvent = errors.New("nil event")

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the keyed collection of device aggregates. Devices are kept
// in insertion order; a device is created only by the first
// DeviceDiscovered event for its address and removed only when the registry
// is discarded.
type Registry struct {
	devices *orderedmap.OrderedMap[bleid.Address, *Device]
	changes *observe.ChangeContext
	logger  *logrus.Logger
	now     func() time.Time
}

// New creates an empty Registry.
func New(logger *logrus.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{
		devices: orderedmap.New[bleid.Address, *Device](),
		changes: observe.NewChangeContext(),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe registers fn for every change notification and returns a handle
// for Unobserve.
func (r *Registry) Observe(fn func(observe.ObjectChange)) observe.Handle {
	return r.changes.AddObserver(fn)
}

// Unobserve removes a previously registered observer.
func (r *Registry) Unobserve(h observe.Handle) {
	r.changes.RemoveObserver(h)
}

// ApplyEvent folds one event into the matching aggregate, creating it on a
// first discovery, and notifies observers on success. Events for unknown
// addresses other than DeviceDiscovered are silently dropped; adapter,
// raw-transport and provider-error events carry no per-device effect.
// The outcome is always observable by the caller: a non-nil error means no
// aggregate was modified and no notification was emitted.
func (r *Registry) ApplyEvent(ev provider.Event) error {
	if ev == nil {
		return ErrNilEvent
	}

	switch e := ev.(type) {
	case provider.DeviceDiscovered:
		r.applyDiscovered(e)
	case provider.DeviceConnected:
		r.applyConnected(e)
	case provider.ServicesDiscovered:
		r.applyServices(e)
	case provider.CharacteristicChanged:
		r.applyCharacteristic(e)
	case provider.AdapterStateChanged:
		r.logger.WithField("state", e.State).Debug("Adapter state changed")
	case provider.RawTransport:
		r.logger.WithFields(logrus.Fields{
			"type_tag": e.TypeTag,
			"len":      len(e.Data),
		}).Debug("Ignoring raw transport event")
	case provider.ProviderError:
		r.logger.WithField("error", e.Error()).Warn("Provider reported an error")
	default:
		return fmt.Errorf("unknown event kind %v", ev.Kind())
	}
	return nil
}

func (r *Registry) objectID(addr bleid.Address) observe.ObjectID {
	return observe.NewObjectID(ObjectTypeName, addr.String())
}

func (r *Registry) applyDiscovered(e provider.DeviceDiscovered) {
	now := r.now()

	dev, present := r.devices.Get(e.Address)
	if !present {
		dev = newDevice(e.Address, now)
		mergeDiscovery(dev, e, now)
		dev.eventCount = 1
		r.devices.Set(e.Address, dev)

		r.logger.WithFields(logrus.Fields{
			"address": e.Address.String(),
			"name":    dev.name,
			"rssi":    e.RSSI,
		}).Info("Discovered new device")
		r.changes.NotifyInserted(r.objectID(e.Address))
		return
	}

	mergeDiscovery(dev, e, now)
	dev.lastSeen = now
	dev.eventCount++
	r.changes.NotifyUpdated(r.objectID(e.Address))
}

// mergeDiscovery copies advertisement fields into the aggregate. Name and
// manufacturer data are replaced only when they actually differ; the
// advertised service UUID list is replaced wholesale when present; the RSSI
// sentinel is never recorded.
func mergeDiscovery(dev *Device, e provider.DeviceDiscovered, now time.Time) {
	if e.Name != "" && e.Name != dev.name {
		dev.name = e.Name
	}
	if e.AddressType != provider.AddressTypeUnknown {
		dev.addressType = e.AddressType
	}
	if e.DeviceType != provider.DeviceTypeUnknown {
		dev.deviceType = e.DeviceType
	}
	if e.ClassOfDevice != nil {
		dev.classOfDevice = clonePtr(e.ClassOfDevice)
	}
	if e.Appearance != nil {
		dev.appearance = clonePtr(e.Appearance)
	}
	if e.TxPower != nil {
		dev.txPower = clonePtr(e.TxPower)
	}
	if e.ManufacturerData != nil && !bytes.Equal(e.ManufacturerData, dev.manufacturerData) {
		dev.manufacturerData = cloneBytes(e.ManufacturerData)
	}
	if e.ServiceUUIDs != nil {
		dev.serviceUUIDs = cloneUUIDs(e.ServiceUUIDs)
	}
	if e.RSSI != provider.RSSINoReading {
		dev.rssiHistory.append(RSSISample{Time: now, RSSI: e.RSSI})
	}
}

func (r *Registry) applyConnected(e provider.DeviceConnected) {
	dev, present := r.devices.Get(e.Address)
	if !present {
		r.logger.WithField("address", e.Address.String()).
			Debug("Connection event for unknown device, dropping")
		return
	}

	now := r.now()
	dev.connectionState = e.State
	if e.State == provider.Connected {
		dev.lastConnected = now
	}
	dev.lastSeen = now
	dev.eventCount++

	r.logger.WithFields(logrus.Fields{
		"address": e.Address.String(),
		"state":   e.State.String(),
	}).Debug("Connection state changed")
	r.changes.NotifyUpdated(r.objectID(e.Address), PropertyConnectionState)
}

func (r *Registry) applyServices(e provider.ServicesDiscovered) {
	dev, present := r.devices.Get(e.Address)
	if !present {
		r.logger.WithField("address", e.Address.String()).
			Debug("Service discovery for unknown device, dropping")
		return
	}

	// Wholesale replacement: the previous tree is discarded, the new one is
	// deep-copied so the event's buffers are never aliased.
	dev.services = gatt.CloneServices(e.Services)
	dev.lastSeen = r.now()
	dev.eventCount++

	r.logger.WithFields(logrus.Fields{
		"address":  e.Address.String(),
		"services": len(e.Services),
	}).Debug("GATT tree replaced")
	r.changes.NotifyUpdated(r.objectID(e.Address), PropertyGATTServices)
}

func (r *Registry) applyCharacteristic(e provider.CharacteristicChanged) {
	dev, present := r.devices.Get(e.Address)
	if !present {
		r.logger.WithField("address", e.Address.String()).
			Debug("Characteristic change for unknown device, dropping")
		return
	}

	now := r.now()
	dev.charUpdates.append(CharacteristicUpdate{
		Time:               now,
		ServiceUUID:        e.ServiceUUID,
		CharacteristicUUID: e.CharacteristicUUID,
		Value:              cloneBytes(e.Value),
	})

	// Patch the cached value inside the current tree when the
	// characteristic is present.
	if chr := gatt.FindCharacteristic(dev.services, e.ServiceUUID, e.CharacteristicUUID); chr != nil {
		chr.Value = cloneBytes(e.Value)
	}

	dev.lastSeen = now
	dev.eventCount++
	r.changes.NotifyUpdated(r.objectID(e.Address), PropertyCharacteristicUpdates)
}

// GetDevice returns the aggregate for addr; ok is false when the address
// has never been discovered. The returned pointer stays owned by the
// registry; use Clone for a detached copy.
func (r *Registry) GetDevice(addr bleid.Address) (*Device, bool) {
	return r.devices.Get(addr)
}

// AllDevices returns detached copies of every aggregate in insertion order.
func (r *Registry) AllDevices() []Device {
	out := make([]Device, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Clone())
	}
	return out
}

// DevicesSortedByLastSeen returns detached copies sorted by last-seen time,
// most recent first.
func (r *Registry) DevicesSortedByLastSeen() []Device {
	out := r.AllDevices()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].lastSeen.After(out[j].lastSeen)
	})
	return out
}

// DeviceCount returns the number of known devices.
func (r *Registry) DeviceCount() int {
	return r.devices.Len()
}

// ConnectedDeviceCount returns the number of devices currently connected.
func (r *Registry) ConnectedDeviceCount() int {
	n := 0
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.IsConnected() {
			n++
		}
	}
	return n
}

// Drain applies queued events without blocking until the queue is empty or
// max events have been applied (max <= 0 means no limit). It returns the
// number of events applied and the first folding error encountered, having
// stopped there so the caller can observe it.
func (r *Registry) Drain(q *queue.Queue[provider.Event], max int) (int, error) {
	applied := 0
	for max <= 0 || applied < max {
		ev, ok := q.TryPop()
		if !ok {
			break
		}
		if err := r.ApplyEvent(ev); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
