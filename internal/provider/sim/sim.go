// Package sim implements the provider contract entirely in process. It
// backs the CLI demo and the integration tests: scripted peripherals are
// registered up front, discovery re-advertises them on a ticker, and
// connect / service-discovery / notification flows synthesize the same
// events a real transport would.
package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/gatt"
	"github.com/srg/bletrack/internal/provider"
	"github.com/srg/bletrack/internal/queue"
)

// DefaultQueueCapacity bounds the event queue when no capacity is given.
const DefaultQueueCapacity = 256

// Peripheral describes one scripted device. The advertisement fields are
// treated as immutable once registered; the service tree is guarded by the
// provider and mutated only through WriteCharacteristic.
type Peripheral struct {
	Address          bleid.Address
	Name             string
	RSSI             int
	TxPower          *int
	ManufacturerData []byte
	ServiceUUIDs     []bleid.UUID
	Services         []gatt.Service
}

// Provider is a simulated transport. All events are pushed by the single
// background goroutine launched by Start; control-side operations hand their
// event emissions to it through an internal command channel, so the
// no-push-after-Stop guarantee holds by construction.
type Provider struct {
	logger *logrus.Logger
	events *queue.Queue[provider.Event]

	adapter provider.AdapterInfo

	// Concurrently accessed from the control side and the background
	// producer.
	peripherals *hashmap.Map[string, *Peripheral]
	connected   *hashmap.Map[string, bool]
	subs        *hashmap.Map[string, bool]

	advertiseInterval time.Duration
	discovering       atomic.Bool

	mu          sync.Mutex // guards lifecycle state and service trees
	initialized bool
	running     bool
	commands    chan func()
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// Option configures a Provider.
type Option func(*Provider)

// WithQueueCapacity overrides the event queue capacity.
func WithQueueCapacity(n int) Option {
	return func(p *Provider) { p.events = queue.New[provider.Event](n) }
}

// WithAdvertiseInterval overrides the discovery re-advertisement cadence.
func WithAdvertiseInterval(d time.Duration) Option {
	return func(p *Provider) { p.advertiseInterval = d }
}

// New creates a simulated provider. The event queue instance is created here
// and stays stable for the provider's lifetime.
func New(logger *logrus.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Provider{
		logger:            logger,
		events:            queue.New[provider.Event](DefaultQueueCapacity),
		peripherals:       hashmap.New[string, *Peripheral](),
		connected:         hashmap.New[string, bool](),
		subs:              hashmap.New[string, bool](),
		advertiseInterval: 500 * time.Millisecond,
		adapter: provider.AdapterInfo{
			Address: bleid.MustParseAddress("02:00:00:00:00:01"),
			Name:    "sim0",
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddPeripheral registers a scripted device. May be called at any point in
// the lifecycle.
func (p *Provider) AddPeripheral(per *Peripheral) {
	p.peripherals.Set(per.Address.String(), per)
}

// Init implements provider.Provider.
func (p *Provider) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = true
	return nil
}

// Close implements provider.Provider. It stops the provider if needed and
// closes the event queue so a draining consumer observes the end of stream.
func (p *Provider) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}
	p.initialized = false
	p.events.Close()
	return nil
}

// Start implements provider.Provider.
func (p *Provider) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return fmt.Errorf("%w: sim provider", provider.ErrNotInitialized)
	}
	if p.running {
		return fmt.Errorf("%w: sim provider", provider.ErrAlreadyStarted)
	}
	p.running = true
	p.commands = make(chan func(), 16)
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.run(p.commands, p.stopCh)
	p.logger.Debug("Sim provider started")
	return nil
}

// Stop implements provider.Provider. Stop while not running is a no-op.
// Once Stop returns, the background producer has exited and no further
// events will be pushed.
func (p *Provider) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.discovering.Store(false)
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("Sim provider stopped")
	return nil
}

// Events implements provider.Provider.
func (p *Provider) Events() *queue.Queue[provider.Event] {
	return p.events
}

// AdapterInfo implements provider.Provider.
func (p *Provider) AdapterInfo() (provider.AdapterInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return provider.AdapterInfo{}, fmt.Errorf("%w: sim provider", provider.ErrNotInitialized)
	}
	info := p.adapter
	if p.running {
		info.State = provider.AdapterOn
	}
	return info, nil
}

// run is the sole producer into the event queue.
func (p *Provider) run(commands <-chan func(), stopCh <-chan struct{}) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.advertiseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case fn := <-commands:
			fn()
		case <-ticker.C:
			if p.discovering.Load() {
				p.advertiseAll()
			}
		}
	}
}

// post hands an event emission to the background goroutine. Returns
// ErrNotStarted when the provider is not running.
func (p *Provider) post(fn func()) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("%w: sim provider", provider.ErrNotStarted)
	}
	commands, stopCh := p.commands, p.stopCh
	p.mu.Unlock()

	select {
	case commands <- fn:
		return nil
	case <-stopCh:
		return fmt.Errorf("%w: sim provider", provider.ErrNotStarted)
	}
}

func (p *Provider) advertiseAll() {
	p.peripherals.Range(func(_ string, per *Peripheral) bool {
		p.events.Push(p.discoveryEvent(per))
		return true
	})
}

func (p *Provider) discoveryEvent(per *Peripheral) provider.Event {
	return provider.DeviceDiscovered{
		Address:          per.Address,
		AddressType:      provider.AddressTypePublic,
		DeviceType:       provider.DeviceTypeLE,
		Name:             per.Name,
		RSSI:             per.RSSI,
		TxPower:          per.TxPower,
		ManufacturerData: per.ManufacturerData,
		ServiceUUIDs:     per.ServiceUUIDs,
	}
}

// StartDiscovery implements provider.Provider.
func (p *Provider) StartDiscovery() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("%w: sim provider", provider.ErrNotStarted)
	}
	p.discovering.Store(true)
	return nil
}

// StopDiscovery implements provider.Provider.
func (p *Provider) StopDiscovery() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("%w: sim provider", provider.ErrNotStarted)
	}
	p.discovering.Store(false)
	return nil
}

// Connect implements provider.Provider. It emits the connecting and
// connected transitions for a known peripheral.
func (p *Provider) Connect(_ context.Context, addr bleid.Address) error {
	key := addr.String()
	if _, ok := p.peripherals.Get(key); !ok {
		return fmt.Errorf("%w: %s", provider.ErrUnknownDevice, key)
	}
	err := p.post(func() {
		p.events.Push(provider.DeviceConnected{Address: addr, State: provider.Connecting})
		p.events.Push(provider.DeviceConnected{Address: addr, State: provider.Connected})
	})
	if err != nil {
		return err
	}
	p.connected.Set(key, true)
	return nil
}

// Disconnect implements provider.Provider.
func (p *Provider) Disconnect(addr bleid.Address) error {
	key := addr.String()
	if ok, _ := p.connected.Get(key); !ok {
		return fmt.Errorf("%w: %s", provider.ErrUnknownDevice, key)
	}
	err := p.post(func() {
		p.events.Push(provider.DeviceConnected{Address: addr, State: provider.Disconnected})
	})
	if err != nil {
		return err
	}
	p.connected.Del(key)
	return nil
}

// DiscoverServices implements provider.Provider. The emitted tree is a deep
// copy, so later writes through the provider never alias consumer state.
func (p *Provider) DiscoverServices(_ context.Context, addr bleid.Address) error {
	per, err := p.connectedPeripheral(addr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	services := gatt.CloneServices(per.Services)
	p.mu.Unlock()
	return p.post(func() {
		p.events.Push(provider.ServicesDiscovered{Address: addr, Services: services})
	})
}

// ReadCharacteristic implements provider.Provider.
func (p *Provider) ReadCharacteristic(_ context.Context, addr bleid.Address, svc, chr bleid.UUID) ([]byte, error) {
	per, err := p.connectedPeripheral(addr)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := gatt.FindCharacteristic(per.Services, svc, chr)
	if c == nil {
		return nil, fmt.Errorf("characteristic %s not found in service %s", chr, svc)
	}
	out := make([]byte, len(c.Value))
	copy(out, c.Value)
	return out, nil
}

// WriteCharacteristic implements provider.Provider. A write to a subscribed
// characteristic surfaces as a CharacteristicChanged event, mimicking a
// peripheral echoing its new value.
func (p *Provider) WriteCharacteristic(_ context.Context, addr bleid.Address, svc, chr bleid.UUID, data []byte, _ bool) error {
	per, err := p.connectedPeripheral(addr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	c := gatt.FindCharacteristic(per.Services, svc, chr)
	if c == nil {
		p.mu.Unlock()
		return fmt.Errorf("characteristic %s not found in service %s", chr, svc)
	}
	c.Value = make([]byte, len(data))
	copy(c.Value, data)
	p.mu.Unlock()

	if ok, _ := p.subs.Get(subKey(addr, svc, chr)); ok {
		return p.PushNotification(addr, svc, chr, data)
	}
	return nil
}

// EnableNotifications implements provider.Provider.
func (p *Provider) EnableNotifications(addr bleid.Address, svc, chr bleid.UUID) error {
	if _, err := p.connectedPeripheral(addr); err != nil {
		return err
	}
	p.subs.Set(subKey(addr, svc, chr), true)
	return nil
}

// DisableNotifications implements provider.Provider.
func (p *Provider) DisableNotifications(addr bleid.Address, svc, chr bleid.UUID) error {
	if _, err := p.connectedPeripheral(addr); err != nil {
		return err
	}
	p.subs.Del(subKey(addr, svc, chr))
	return nil
}

// PushNotification synthesizes a characteristic value update. Used by tests
// and demo scripts to drive subscribed characteristics.
func (p *Provider) PushNotification(addr bleid.Address, svc, chr bleid.UUID, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	return p.post(func() {
		p.events.Push(provider.CharacteristicChanged{
			Address:            addr,
			ServiceUUID:        svc,
			CharacteristicUUID: chr,
			Value:              v,
		})
	})
}

// PushError surfaces a transport failure through the event stream.
func (p *Provider) PushError(msg string, code *int) error {
	return p.post(func() {
		p.events.Push(provider.ProviderError{Message: msg, Code: code})
	})
}

func (p *Provider) connectedPeripheral(addr bleid.Address) (*Peripheral, error) {
	key := addr.String()
	per, ok := p.peripherals.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownDevice, key)
	}
	if ok, _ := p.connected.Get(key); !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotConnected, key)
	}
	return per, nil
}

func subKey(addr bleid.Address, svc, chr bleid.UUID) string {
	return addr.String() + "/" + svc.String() + "/" + chr.String()
}
