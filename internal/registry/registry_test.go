package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/gatt"
	"github.com/srg/bletrack/internal/observe"
	"github.com/srg/bletrack/internal/provider"
	"github.com/srg/bletrack/internal/queue"
	"github.com/srg/bletrack/internal/registry"
	"github.com/srg/bletrack/internal/testutils"
)

const (
	addr1 = "AA:BB:CC:DD:EE:01"
	addr2 = "AA:BB:CC:DD:EE:02"
)

// fakeClock steps one second per reading so every applied event gets a
// distinct, deterministic timestamp.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

// changeRecorder collects every notification in delivery order.
type changeRecorder struct {
	changes []observe.ObjectChange
}

func (r *changeRecorder) record(ch observe.ObjectChange) {
	r.changes = append(r.changes, ch)
}

func newTestRegistry(t *testing.T) (*registry.Registry, *changeRecorder) {
	t.Helper()
	reg := registry.New(nil, registry.WithClock(newFakeClock().now))
	rec := &changeRecorder{}
	reg.Observe(rec.record)
	return reg, rec
}

func deviceID(addr string) observe.ObjectID {
	return observe.NewObjectID(registry.ObjectTypeName, addr)
}

func TestFirstDiscoveryInserts(t *testing.T) {
	reg, rec := newTestRegistry(t)

	ev := testutils.NewDiscovery(addr1).Name("Sensor").RSSI(-60).Build()
	require.NoError(t, reg.ApplyEvent(ev))

	dev, ok := reg.GetDevice(bleid.MustParseAddress(addr1))
	require.True(t, ok)
	assert.Equal(t, "Sensor", dev.Name())
	assert.Equal(t, uint64(1), dev.EventCount())
	assert.Equal(t, dev.FirstSeen(), dev.LastSeen())

	rssi, ok := dev.CurrentRSSI()
	require.True(t, ok)
	assert.Equal(t, -60, rssi)

	require.Len(t, rec.changes, 1)
	assert.Equal(t, observe.ObjectChange{
		ID:   deviceID(addr1),
		Type: observe.ChangeInserted,
	}, rec.changes[0])
}

func TestRediscoveryUpdatesSameAggregate(t *testing.T) {
	reg, rec := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).RSSI(-60).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Name("Sensor").RSSI(-55).Build()))

	assert.Equal(t, 1, reg.DeviceCount(), "one aggregate per address")

	dev, _ := reg.GetDevice(bleid.MustParseAddress(addr1))
	assert.Equal(t, "Sensor", dev.Name())
	assert.Equal(t, uint64(2), dev.EventCount())
	assert.True(t, dev.LastSeen().After(dev.FirstSeen()))
	assert.Len(t, dev.RSSIHistory(), 2)

	require.Len(t, rec.changes, 2)
	assert.Equal(t, observe.ChangeInserted, rec.changes[0].Type)
	assert.Equal(t, observe.ChangeUpdated, rec.changes[1].Type)
	assert.Empty(t, rec.changes[1].Property, "plain discovery updates are unscoped")
}

func TestRSSISentinelNeverRecorded(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Name("Sensor").Build()))

	dev, _ := reg.GetDevice(bleid.MustParseAddress(addr1))
	_, ok := dev.CurrentRSSI()
	assert.False(t, ok)
	assert.Empty(t, dev.RSSIHistory())

	// A sentinel reading between two real ones leaves only the real samples.
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).RSSI(-70).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).RSSI(provider.RSSINoReading).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).RSSI(-65).Build()))

	history := dev.RSSIHistory()
	require.Len(t, history, 2)
	assert.Equal(t, -70, history[0].RSSI)
	assert.Equal(t, -65, history[1].RSSI)
}

func TestRSSIHistoryBounded(t *testing.T) {
	reg, _ := newTestRegistry(t)

	for i := 0; i < registry.RSSIHistoryCap+10; i++ {
		ev := testutils.NewDiscovery(addr1).RSSI(-30 - i).Build()
		require.NoError(t, reg.ApplyEvent(ev))
	}

	dev, _ := reg.GetDevice(bleid.MustParseAddress(addr1))
	history := dev.RSSIHistory()
	require.Len(t, history, registry.RSSIHistoryCap)

	// The ten oldest samples were evicted in FIFO order.
	assert.Equal(t, -40, history[0].RSSI)
	assert.Equal(t, -30-(registry.RSSIHistoryCap+9), history[len(history)-1].RSSI)

	rssi, ok := dev.CurrentRSSI()
	require.True(t, ok)
	assert.Equal(t, history[len(history)-1].RSSI, rssi)
}

func TestConnectionStateTransitions(t *testing.T) {
	reg, rec := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.Connected(addr1, provider.Connecting)))

	dev, _ := reg.GetDevice(bleid.MustParseAddress(addr1))
	assert.Equal(t, provider.Connecting, dev.ConnectionState())
	assert.False(t, dev.IsConnected())
	assert.True(t, dev.LastConnected().IsZero(), "connecting alone never marks a connection")

	require.NoError(t, reg.ApplyEvent(testutils.Connected(addr1, provider.Connected)))
	assert.True(t, dev.IsConnected())
	assert.False(t, dev.LastConnected().IsZero())
	lastConnected := dev.LastConnected()

	require.NoError(t, reg.ApplyEvent(testutils.Connected(addr1, provider.Disconnected)))
	assert.False(t, dev.IsConnected())
	assert.Equal(t, lastConnected, dev.LastConnected(), "disconnect keeps the last connection time")

	require.Len(t, rec.changes, 4)
	for _, ch := range rec.changes[1:] {
		assert.Equal(t, observe.ChangeUpdated, ch.Type)
		assert.Equal(t, registry.PropertyConnectionState, ch.Property)
	}
}

func TestEventsForUnknownAddressAreDropped(t *testing.T) {
	reg, rec := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.Connected(addr1, provider.Connected)))
	require.NoError(t, reg.ApplyEvent(testutils.ServicesFor(addr1, "180F", "2A19")))
	require.NoError(t, reg.ApplyEvent(testutils.CharChanged(addr1, "180F", "2A19", []byte{1})))

	assert.Equal(t, 0, reg.DeviceCount())
	assert.Empty(t, rec.changes, "dropped events emit no notification")
}

func TestServicesReplacedWholesale(t *testing.T) {
	reg, rec := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.ServicesFor(addr1, "180F", "2A19")))

	dev, _ := reg.GetDevice(bleid.MustParseAddress(addr1))
	require.Len(t, dev.Services(), 1)
	assert.Equal(t, bleid.MustParseUUID("180F"), dev.Services()[0].UUID)

	// A later discovery replaces the previous tree entirely.
	require.NoError(t, reg.ApplyEvent(testutils.ServicesFor(addr1, "180D", "2A37")))
	require.Len(t, dev.Services(), 1)
	assert.Equal(t, bleid.MustParseUUID("180D"), dev.Services()[0].UUID)

	last := rec.changes[len(rec.changes)-1]
	assert.Equal(t, observe.ChangeUpdated, last.Type)
	assert.Equal(t, registry.PropertyGATTServices, last.Property)
}

func TestServicesEventBufferNotAliased(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Build()))

	ev := testutils.ServicesFor(addr1, "180F", "2A19")
	ev.Services[0].Characteristics[0].Value = []byte{50}
	require.NoError(t, reg.ApplyEvent(ev))

	// The provider may reuse its buffers once the event is consumed.
	ev.Services[0].Characteristics[0].Value[0] = 99
	ev.Services[0].UUID = bleid.MustParseUUID("FFFF")

	dev, _ := reg.GetDevice(bleid.MustParseAddress(addr1))
	assert.Equal(t, bleid.MustParseUUID("180F"), dev.Services()[0].UUID)
	assert.Equal(t, []byte{50}, dev.Services()[0].Characteristics[0].Value)
}

func TestCharacteristicUpdateRecorded(t *testing.T) {
	reg, rec := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.ServicesFor(addr1, "180F", "2A19")))
	require.NoError(t, reg.ApplyEvent(testutils.CharChanged(addr1, "180F", "2A19", []byte{87})))

	dev, _ := reg.GetDevice(bleid.MustParseAddress(addr1))

	updates := dev.CharacteristicUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, bleid.MustParseUUID("2A19"), updates[0].CharacteristicUUID)
	assert.Equal(t, []byte{87}, updates[0].Value)

	// The cached value inside the tree is patched in place.
	chr := gatt.FindCharacteristic(dev.Services(), bleid.MustParseUUID("180F"), bleid.MustParseUUID("2A19"))
	require.NotNil(t, chr)
	assert.Equal(t, []byte{87}, chr.Value)

	last := rec.changes[len(rec.changes)-1]
	assert.Equal(t, registry.PropertyCharacteristicUpdates, last.Property)
}

func TestCharacteristicUpdateWithoutTreeStillRecorded(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.CharChanged(addr1, "180F", "2A19", []byte{1})))

	dev, _ := reg.GetDevice(bleid.MustParseAddress(addr1))
	assert.Len(t, dev.CharacteristicUpdates(), 1)
	assert.Empty(t, dev.Services())
}

func TestCharacteristicHistoryBounded(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Build()))

	for i := 0; i < registry.CharacteristicUpdateCap+5; i++ {
		ev := testutils.CharChanged(addr1, "180F", "2A19", []byte{byte(i), byte(i >> 8)})
		require.NoError(t, reg.ApplyEvent(ev))
	}

	dev, _ := reg.GetDevice(bleid.MustParseAddress(addr1))
	updates := dev.CharacteristicUpdates()
	require.Len(t, updates, registry.CharacteristicUpdateCap)

	// The five oldest updates were evicted.
	assert.Equal(t, []byte{5, 0}, updates[0].Value)
	n := registry.CharacteristicUpdateCap + 4
	assert.Equal(t, []byte{byte(n), byte(n >> 8)}, updates[len(updates)-1].Value)
}

func TestNonDeviceEventsHaveNoEffect(t *testing.T) {
	reg, rec := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(provider.AdapterStateChanged{State: provider.AdapterOn}))
	require.NoError(t, reg.ApplyEvent(provider.RawTransport{TypeTag: 0x04, Data: []byte{1, 2}}))
	require.NoError(t, reg.ApplyEvent(provider.ProviderError{Message: "scan failed"}))

	assert.Equal(t, 0, reg.DeviceCount())
	assert.Empty(t, rec.changes)
}

func TestApplyNilEvent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	assert.ErrorIs(t, reg.ApplyEvent(nil), registry.ErrNilEvent)
}

func TestNotificationOrderInsertBeforeUpdate(t *testing.T) {
	reg, rec := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).RSSI(-60).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).RSSI(-61).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr2).RSSI(-80).Build()))

	// Per object, inserted always precedes any updated.
	first := map[observe.ObjectID]observe.ChangeType{}
	for _, ch := range rec.changes {
		if _, seen := first[ch.ID]; !seen {
			first[ch.ID] = ch.Type
		}
	}
	assert.Equal(t, observe.ChangeInserted, first[deviceID(addr1)])
	assert.Equal(t, observe.ChangeInserted, first[deviceID(addr2)])
}

func TestUnobserveStopsDelivery(t *testing.T) {
	reg := registry.New(nil)

	calls := 0
	h := reg.Observe(func(observe.ObjectChange) { calls++ })

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Build()))
	reg.Unobserve(h)
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Build()))

	assert.Equal(t, 1, calls)
}

func TestAllDevicesInsertionOrderAndDetached(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Name("First").Build()))
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr2).Name("Second").Build()))
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).RSSI(-50).Build()))

	all := reg.AllDevices()
	require.Len(t, all, 2)
	assert.Equal(t, "First", all[0].Name())
	assert.Equal(t, "Second", all[1].Name())

	// Copies are detached: later folding does not show through.
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr2).Name("Renamed").Build()))
	assert.Equal(t, "Second", all[1].Name())
}

func TestDevicesSortedByLastSeen(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr2).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).RSSI(-40).Build()))

	sorted := reg.DevicesSortedByLastSeen()
	require.Len(t, sorted, 2)
	assert.Equal(t, bleid.MustParseAddress(addr1), sorted[0].Address(), "most recently seen first")
	assert.Equal(t, bleid.MustParseAddress(addr2), sorted[1].Address())
}

func TestConnectedDeviceCount(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr1).Build()))
	require.NoError(t, reg.ApplyEvent(testutils.NewDiscovery(addr2).Build()))
	assert.Equal(t, 0, reg.ConnectedDeviceCount())

	require.NoError(t, reg.ApplyEvent(testutils.Connected(addr1, provider.Connected)))
	assert.Equal(t, 1, reg.ConnectedDeviceCount())

	require.NoError(t, reg.ApplyEvent(testutils.Connected(addr1, provider.Disconnected)))
	assert.Equal(t, 0, reg.ConnectedDeviceCount())
}

func TestDrain(t *testing.T) {
	reg, _ := newTestRegistry(t)
	q := queue.New[provider.Event](16)

	q.Push(testutils.NewDiscovery(addr1).RSSI(-60).Build())
	q.Push(testutils.Connected(addr1, provider.Connected))
	q.Push(testutils.NewDiscovery(addr2).RSSI(-70).Build())

	applied, err := reg.Drain(q, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 2, reg.DeviceCount())
	assert.Equal(t, 1, reg.ConnectedDeviceCount())
}

func TestDrainRespectsMax(t *testing.T) {
	reg, _ := newTestRegistry(t)
	q := queue.New[provider.Event](16)

	for i := 0; i < 5; i++ {
		q.Push(testutils.NewDiscovery(addr1).RSSI(-60 - i).Build())
	}

	applied, err := reg.Drain(q, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 3, q.Len())
}

func TestDrainStopsAtFirstError(t *testing.T) {
	reg, _ := newTestRegistry(t)
	q := queue.New[provider.Event](16)

	q.Push(testutils.NewDiscovery(addr1).Build())
	q.Push(nil)
	q.Push(testutils.NewDiscovery(addr2).Build())

	applied, err := reg.Drain(q, 0)
	assert.ErrorIs(t, err, registry.ErrNilEvent)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, q.Len(), "the event after the failure stays queued")
}

// TestRediscoveryScenario walks the canonical two-advertisement sequence and
// checks every externally observable effect.
func TestRediscoveryScenario(t *testing.T) {
	reg, rec := newTestRegistry(t)
	const addr = "AA:BB:CC:DD:EE:FF"

	require.NoError(t, reg.ApplyEvent(
		testutils.NewDiscovery(addr).Name("Sensor").RSSI(-60).Build()))

	assert.Equal(t, 1, reg.DeviceCount())
	dev, ok := reg.GetDevice(bleid.MustParseAddress(addr))
	require.True(t, ok)
	rssi, _ := dev.CurrentRSSI()
	assert.Equal(t, -60, rssi)
	require.Len(t, rec.changes, 1)
	assert.Equal(t, observe.ChangeInserted, rec.changes[0].Type)

	require.NoError(t, reg.ApplyEvent(
		testutils.NewDiscovery(addr).Name("Sensor").RSSI(-65).Build()))

	assert.Equal(t, 1, reg.DeviceCount())
	assert.Len(t, dev.RSSIHistory(), 2)
	rssi, _ = dev.CurrentRSSI()
	assert.Equal(t, -65, rssi)
	assert.Equal(t, "Sensor", dev.Name())
	require.Len(t, rec.changes, 2)
	assert.Equal(t, observe.ChangeUpdated, rec.changes[1].Type)
}

// TestDiscoverConnectNotifyScenario walks a full session: discovery,
// connection, service discovery and a stream of notifications.
func TestDiscoverConnectNotifyScenario(t *testing.T) {
	reg, rec := newTestRegistry(t)
	addr := bleid.MustParseAddress(addr1)

	require.NoError(t, reg.ApplyEvent(
		testutils.NewDiscovery(addr1).Name("HR Monitor").RSSI(-58).ServiceUUIDs("180D").Build()))
	require.NoError(t, reg.ApplyEvent(testutils.Connected(addr1, provider.Connecting)))
	require.NoError(t, reg.ApplyEvent(testutils.Connected(addr1, provider.Connected)))
	require.NoError(t, reg.ApplyEvent(testutils.ServicesFor(addr1, "180D", "2A37")))
	for _, hr := range []byte{72, 74, 71} {
		require.NoError(t, reg.ApplyEvent(testutils.CharChanged(addr1, "180D", "2A37", []byte{0x00, hr})))
	}

	dev, ok := reg.GetDevice(addr)
	require.True(t, ok)
	assert.Equal(t, "HR Monitor", dev.Name())
	assert.True(t, dev.IsConnected())
	assert.Equal(t, []bleid.UUID{bleid.MustParseUUID("180D")}, dev.ServiceUUIDs())
	assert.Equal(t, uint64(7), dev.EventCount())

	updates := dev.CharacteristicUpdates()
	require.Len(t, updates, 3)
	assert.Equal(t, []byte{0x00, 71}, updates[2].Value)

	chr := gatt.FindCharacteristic(dev.Services(),
		bleid.MustParseUUID("180D"), bleid.MustParseUUID("2A37"))
	require.NotNil(t, chr)
	assert.Equal(t, []byte{0x00, 71}, chr.Value, "cached value tracks the latest notification")

	wantProps := []string{
		"", // inserted
		registry.PropertyConnectionState,
		registry.PropertyConnectionState,
		registry.PropertyGATTServices,
		registry.PropertyCharacteristicUpdates,
		registry.PropertyCharacteristicUpdates,
		registry.PropertyCharacteristicUpdates,
	}
	require.Len(t, rec.changes, len(wantProps))
	for i, want := range wantProps {
		assert.Equal(t, want, rec.changes[i].Property, "notification %d", i)
	}
}

func TestDeviceCloneIsDeep(t *testing.T) {
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.ApplyEvent(
		testutils.NewDiscovery(addr1).Name("Sensor").RSSI(-60).
			TxPower(4).ManufacturerData([]byte{0x4C, 0x00}).ServiceUUIDs("180F").Build()))
	require.NoError(t, reg.ApplyEvent(testutils.ServicesFor(addr1, "180F", "2A19")))
	require.NoError(t, reg.ApplyEvent(testutils.CharChanged(addr1, "180F", "2A19", []byte{90})))

	dev, _ := reg.GetDevice(bleid.MustParseAddress(addr1))
	clone := dev.Clone()

	// Mutating the clone's buffers must not reach the registry's aggregate.
	clone.ManufacturerData()[0] = 0xFF
	*clone.TxPower() = -99
	clone.Services()[0].Characteristics[0].Value[0] = 0
	clone.CharacteristicUpdates()[0].Value[0] = 0

	assert.Equal(t, byte(0x4C), dev.ManufacturerData()[0])
	assert.Equal(t, 4, *dev.TxPower())
	assert.Equal(t, byte(90), dev.Services()[0].Characteristics[0].Value[0])
	assert.Equal(t, byte(90), dev.CharacteristicUpdates()[0].Value[0])
}
