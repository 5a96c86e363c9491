package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/gatt"
	"github.com/srg/bletrack/internal/provider"
)

var (
	sensorAddr  = bleid.MustParseAddress("AA:BB:CC:DD:EE:01")
	unknownAddr = bleid.MustParseAddress("FF:FF:FF:FF:FF:FF")

	batterySvc   = bleid.UUID16(0x180F)
	batteryLevel = bleid.UUID16(0x2A19)
)

func sensorPeripheral() *Peripheral {
	return &Peripheral{
		Address:      sensorAddr,
		Name:         "Sensor",
		RSSI:         -60,
		ServiceUUIDs: []bleid.UUID{batterySvc},
		Services: []gatt.Service{{
			UUID:    batterySvc,
			Primary: true,
			Characteristics: []gatt.Characteristic{{
				UUID:       batteryLevel,
				Properties: gatt.Read | gatt.Write | gatt.Notify,
				Value:      []byte{100},
			}},
		}},
	}
}

func startedProvider(t *testing.T) *Provider {
	t.Helper()
	p := New(nil, WithAdvertiseInterval(10*time.Millisecond))
	p.AddPeripheral(sensorPeripheral())
	require.NoError(t, p.Init())
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// nextEvent polls the queue until an event arrives or the deadline passes.
func nextEvent(t *testing.T, p *Provider) provider.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := p.Events().TryPop(); ok {
			return ev
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no event before deadline")
	return nil
}

// nextEventOfKind discards events until one of the wanted kind arrives.
func nextEventOfKind(t *testing.T, p *Provider, kind provider.EventKind) provider.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := p.Events().TryPop(); ok {
			if ev.Kind() == kind {
				return ev
			}
			continue
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no %s event before deadline", kind)
	return nil
}

func TestLifecycleErrors(t *testing.T) {
	p := New(nil)

	assert.ErrorIs(t, p.Start(), provider.ErrNotInitialized)
	assert.ErrorIs(t, p.StartDiscovery(), provider.ErrNotStarted)
	assert.ErrorIs(t, p.Connect(context.Background(), sensorAddr), provider.ErrUnknownDevice)

	_, err := p.AdapterInfo()
	assert.ErrorIs(t, err, provider.ErrNotInitialized)

	require.NoError(t, p.Init())
	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), provider.ErrAlreadyStarted)

	require.NoError(t, p.Stop())
	assert.NoError(t, p.Stop(), "stop while stopped is a no-op")
	require.NoError(t, p.Close())
}

func TestAdapterInfo(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Init())

	info, err := p.AdapterInfo()
	require.NoError(t, err)
	assert.Equal(t, "sim0", info.Name)
	assert.Equal(t, provider.AdapterOff, info.State)

	require.NoError(t, p.Start())
	defer p.Close()

	info, err = p.AdapterInfo()
	require.NoError(t, err)
	assert.Equal(t, provider.AdapterOn, info.State)
}

func TestDiscoveryAdvertisesPeripherals(t *testing.T) {
	p := startedProvider(t)
	require.NoError(t, p.StartDiscovery())

	ev := nextEventOfKind(t, p, provider.KindDeviceDiscovered)
	disc := ev.(provider.DeviceDiscovered)

	assert.Equal(t, sensorAddr, disc.Address)
	assert.Equal(t, "Sensor", disc.Name)
	assert.Equal(t, -60, disc.RSSI)
	assert.Equal(t, provider.AddressTypePublic, disc.AddressType)
	assert.Equal(t, provider.DeviceTypeLE, disc.DeviceType)
	assert.Equal(t, []bleid.UUID{batterySvc}, disc.ServiceUUIDs)
}

func TestDiscoveryRepeatsWhileActive(t *testing.T) {
	p := startedProvider(t)
	require.NoError(t, p.StartDiscovery())

	nextEventOfKind(t, p, provider.KindDeviceDiscovered)
	nextEventOfKind(t, p, provider.KindDeviceDiscovered)
}

func TestStopDiscoverySilencesAdvertisements(t *testing.T) {
	p := startedProvider(t)
	require.NoError(t, p.StartDiscovery())
	nextEventOfKind(t, p, provider.KindDeviceDiscovered)

	require.NoError(t, p.StopDiscovery())

	// Drain anything already queued, then confirm silence.
	time.Sleep(30 * time.Millisecond)
	for {
		if _, ok := p.Events().TryPop(); !ok {
			break
		}
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, p.Events().Len())
}

func TestConnectEmitsTransitions(t *testing.T) {
	p := startedProvider(t)

	require.NoError(t, p.Connect(context.Background(), sensorAddr))

	ev := nextEventOfKind(t, p, provider.KindDeviceConnected)
	assert.Equal(t, provider.Connecting, ev.(provider.DeviceConnected).State)

	ev = nextEventOfKind(t, p, provider.KindDeviceConnected)
	conn := ev.(provider.DeviceConnected)
	assert.Equal(t, sensorAddr, conn.Address)
	assert.Equal(t, provider.Connected, conn.State)
}

func TestConnectUnknownDevice(t *testing.T) {
	p := startedProvider(t)
	assert.ErrorIs(t, p.Connect(context.Background(), unknownAddr), provider.ErrUnknownDevice)
}

func TestDisconnect(t *testing.T) {
	p := startedProvider(t)

	assert.ErrorIs(t, p.Disconnect(sensorAddr), provider.ErrUnknownDevice)

	require.NoError(t, p.Connect(context.Background(), sensorAddr))
	require.NoError(t, p.Disconnect(sensorAddr))

	nextEventOfKind(t, p, provider.KindDeviceConnected)
	nextEventOfKind(t, p, provider.KindDeviceConnected)
	ev := nextEventOfKind(t, p, provider.KindDeviceConnected)
	assert.Equal(t, provider.Disconnected, ev.(provider.DeviceConnected).State)
}

func TestDiscoverServicesRequiresConnection(t *testing.T) {
	p := startedProvider(t)
	assert.ErrorIs(t, p.DiscoverServices(context.Background(), sensorAddr), provider.ErrNotConnected)
}

func TestDiscoverServicesEmitsDetachedTree(t *testing.T) {
	p := startedProvider(t)
	require.NoError(t, p.Connect(context.Background(), sensorAddr))
	require.NoError(t, p.DiscoverServices(context.Background(), sensorAddr))

	ev := nextEventOfKind(t, p, provider.KindServicesDiscovered)
	svcs := ev.(provider.ServicesDiscovered)
	require.Len(t, svcs.Services, 1)
	assert.Equal(t, batterySvc, svcs.Services[0].UUID)
	assert.Equal(t, []byte{100}, svcs.Services[0].Characteristics[0].Value)

	// A later write must not show through the already-emitted tree.
	require.NoError(t, p.WriteCharacteristic(context.Background(), sensorAddr,
		batterySvc, batteryLevel, []byte{42}, true))
	assert.Equal(t, []byte{100}, svcs.Services[0].Characteristics[0].Value)
}

func TestReadWriteCharacteristic(t *testing.T) {
	p := startedProvider(t)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, sensorAddr))

	v, err := p.ReadCharacteristic(ctx, sensorAddr, batterySvc, batteryLevel)
	require.NoError(t, err)
	assert.Equal(t, []byte{100}, v)

	// The returned buffer is a copy.
	v[0] = 0
	v, err = p.ReadCharacteristic(ctx, sensorAddr, batterySvc, batteryLevel)
	require.NoError(t, err)
	assert.Equal(t, []byte{100}, v)

	require.NoError(t, p.WriteCharacteristic(ctx, sensorAddr, batterySvc, batteryLevel, []byte{55}, true))
	v, err = p.ReadCharacteristic(ctx, sensorAddr, batterySvc, batteryLevel)
	require.NoError(t, err)
	assert.Equal(t, []byte{55}, v)

	_, err = p.ReadCharacteristic(ctx, sensorAddr, batterySvc, bleid.UUID16(0xFFFF))
	assert.Error(t, err)
}

func TestWriteEchoesToSubscribers(t *testing.T) {
	p := startedProvider(t)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, sensorAddr))

	// Unsubscribed writes emit nothing.
	require.NoError(t, p.WriteCharacteristic(ctx, sensorAddr, batterySvc, batteryLevel, []byte{90}, true))

	require.NoError(t, p.EnableNotifications(sensorAddr, batterySvc, batteryLevel))
	require.NoError(t, p.WriteCharacteristic(ctx, sensorAddr, batterySvc, batteryLevel, []byte{80}, true))

	ev := nextEventOfKind(t, p, provider.KindCharacteristicChanged)
	chg := ev.(provider.CharacteristicChanged)
	assert.Equal(t, sensorAddr, chg.Address)
	assert.Equal(t, batteryLevel, chg.CharacteristicUUID)
	assert.Equal(t, []byte{80}, chg.Value)

	require.NoError(t, p.DisableNotifications(sensorAddr, batterySvc, batteryLevel))
	require.NoError(t, p.WriteCharacteristic(ctx, sensorAddr, batterySvc, batteryLevel, []byte{70}, true))

	time.Sleep(50 * time.Millisecond)
	_, ok := p.Events().TryPop()
	assert.False(t, ok, "no echo after unsubscribing")
}

func TestEnableNotificationsRequiresConnection(t *testing.T) {
	p := startedProvider(t)
	assert.ErrorIs(t, p.EnableNotifications(sensorAddr, batterySvc, batteryLevel), provider.ErrNotConnected)
	assert.ErrorIs(t, p.EnableNotifications(unknownAddr, batterySvc, batteryLevel), provider.ErrUnknownDevice)
}

func TestPushNotificationCopiesValue(t *testing.T) {
	p := startedProvider(t)
	require.NoError(t, p.Connect(context.Background(), sensorAddr))

	buf := []byte{1, 2, 3}
	require.NoError(t, p.PushNotification(sensorAddr, batterySvc, batteryLevel, buf))
	buf[0] = 99

	ev := nextEventOfKind(t, p, provider.KindCharacteristicChanged)
	assert.Equal(t, []byte{1, 2, 3}, ev.(provider.CharacteristicChanged).Value)
}

func TestPushError(t *testing.T) {
	p := startedProvider(t)

	code := 42
	require.NoError(t, p.PushError("adapter glitch", &code))

	ev := nextEventOfKind(t, p, provider.KindProviderError)
	perr := ev.(provider.ProviderError)
	assert.Equal(t, "adapter glitch", perr.Message)
	assert.Equal(t, 42, *perr.Code)
}

func TestNoPushAfterStop(t *testing.T) {
	p := startedProvider(t)
	require.NoError(t, p.Connect(context.Background(), sensorAddr))
	require.NoError(t, p.Stop())

	assert.ErrorIs(t, p.PushNotification(sensorAddr, batterySvc, batteryLevel, []byte{1}),
		provider.ErrNotStarted)
	assert.ErrorIs(t, p.PushError("late", nil), provider.ErrNotStarted)

	queued := p.Events().Len()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, queued, p.Events().Len(), "nothing is pushed after stop")
}

func TestCloseEndsEventStream(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Init())
	require.NoError(t, p.Start())
	require.NoError(t, p.Close())

	_, ok := p.Events().Pop()
	assert.False(t, ok, "a closed, drained queue reports end of stream")
}
