// Package goble implements the provider contract over github.com/go-ble/ble.
//
// Events are pushed by the scan goroutine, disconnect watchers, and transport
// notification callbacks. Every push goes through the push gate: producers
// hold its read side, and Stop acquires the write side after leaving the
// running state, so once Stop returns no producer can reach the queue.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/provider"
	"github.com/srg/bletrack/internal/queue"
)

// DefaultQueueCapacity bounds the event queue when no capacity is given.
const DefaultQueueCapacity = 256

// connection tracks one dialed peripheral.
type connection struct {
	client  ble.Client
	profile *ble.Profile
}

// Provider is the go-ble transport adapter.
type Provider struct {
	logger *logrus.Logger
	events *queue.Queue[provider.Event]

	// Accessed from the control side, the scan goroutine, and transport
	// callbacks.
	conns *hashmap.Map[string, *connection]

	mu          sync.Mutex // guards lifecycle state
	initialized bool
	running     bool
	dev         ble.Device
	scanCancel  context.CancelFunc
	stopCh      chan struct{} // created by Start, closed by Stop
	wg          sync.WaitGroup

	// pushMu is the push gate: producers push under the read lock, Stop
	// takes the write lock once running is cleared.
	pushMu sync.RWMutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithQueueCapacity overrides the event queue capacity.
func WithQueueCapacity(n int) Option {
	return func(p *Provider) { p.events = queue.New[provider.Event](n) }
}

// New creates a go-ble backed provider.
func New(logger *logrus.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Provider{
		logger: logger,
		events: queue.New[provider.Event](DefaultQueueCapacity),
		conns:  hashmap.New[string, *connection](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init implements provider.Provider. It opens the platform HCI device.
func (p *Provider) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	dev, err := NewDeviceFn()
	if err != nil {
		return fmt.Errorf("open transport device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)
	p.dev = dev
	p.initialized = true
	return nil
}

// Close implements provider.Provider.
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
	err := p.dev.Stop()
	p.dev = nil
	p.events.Close()
	return NormalizeError(err)
}

// Start implements provider.Provider.
func (p *Provider) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return fmt.Errorf("%w: transport device not opened", provider.ErrNotInitialized)
	}
	if p.running {
		return fmt.Errorf("%w: goble provider", provider.ErrAlreadyStarted)
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.logger.Debug("goble provider started")
	return nil
}

// Stop implements provider.Provider. It leaves the running state, closes the
// push gate, cancels the scan, disconnects every peripheral, and waits for
// the producers to exit; no event is pushed after it returns.
func (p *Provider) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	if p.scanCancel != nil {
		p.scanCancel()
		p.scanCancel = nil
	}
	stopCh := p.stopCh
	p.mu.Unlock()

	// Drain the push gate: in-flight pushes hold the read lock, and every
	// producer that starts after this sees running == false.
	p.pushMu.Lock()
	p.pushMu.Unlock()

	close(stopCh)

	p.conns.Range(func(key string, c *connection) bool {
		if err := c.client.CancelConnection(); err != nil {
			p.logger.WithFields(logrus.Fields{
				"address": key,
				"error":   err,
			}).Warn("Failed to cancel connection during stop")
		}
		p.conns.Del(key)
		return true
	})

	p.wg.Wait()
	p.logger.Debug("goble provider stopped")
	return nil
}

// Events implements provider.Provider.
func (p *Provider) Events() *queue.Queue[provider.Event] {
	return p.events
}

// AdapterInfo implements provider.Provider. go-ble does not expose the local
// adapter address portably, so only name and power state are reported.
func (p *Provider) AdapterInfo() (provider.AdapterInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return provider.AdapterInfo{}, fmt.Errorf("%w: transport device not opened", provider.ErrNotInitialized)
	}
	info := provider.AdapterInfo{Name: "hci0"}
	if p.running {
		info.State = provider.AdapterOn
	}
	return info, nil
}

// StartDiscovery implements provider.Provider. The scan goroutine is the
// main event producer: every advertisement surfaces as a DeviceDiscovered
// event, and a failed scan surfaces as a ProviderError.
func (p *Provider) StartDiscovery() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("%w: goble provider", provider.ErrNotStarted)
	}
	if p.scanCancel != nil {
		return nil // already scanning
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.scanCancel = cancel
	dev := p.dev

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := dev.Scan(ctx, true, p.handleAdvertisement)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			p.logger.WithField("error", err).Error("Scan failed")
			p.push(provider.ProviderError{Message: fmt.Sprintf("scan failed: %v", err)})
		}
	}()
	return nil
}

// StopDiscovery implements provider.Provider.
func (p *Provider) StopDiscovery() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("%w: goble provider", provider.ErrNotStarted)
	}
	if p.scanCancel != nil {
		p.scanCancel()
		p.scanCancel = nil
	}
	return nil
}

func (p *Provider) handleAdvertisement(adv ble.Advertisement) {
	addr, ok := addressFromBLE(adv.Addr())
	if !ok {
		p.logger.WithField("addr", adv.Addr().String()).
			Debug("Dropping advertisement with unparseable address")
		return
	}
	p.push(discoveredFromAdvertisement(addr, adv))
}

// Connect implements provider.Provider.
func (p *Provider) Connect(ctx context.Context, addr bleid.Address) error {
	if err := p.requireRunning(); err != nil {
		return err
	}
	key := addr.String()

	p.push(provider.DeviceConnected{Address: addr, State: provider.Connecting})
	client, err := ble.Dial(ctx, ble.NewAddr(strings.ToLower(key)))
	if err != nil {
		p.push(provider.DeviceConnected{Address: addr, State: provider.Disconnected})
		return fmt.Errorf("dial %s: %w", key, NormalizeError(err))
	}

	p.conns.Set(key, &connection{client: client})

	// The watcher joins the producer group only while running; Stop clears
	// running under mu before waiting, so the Add never races the Wait.
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.conns.Del(key)
		_ = client.CancelConnection()
		return fmt.Errorf("%w: goble provider", provider.ErrNotStarted)
	}
	p.wg.Add(1)
	go p.watchDisconnect(key, addr, client.Disconnected(), p.stopCh)
	p.mu.Unlock()

	p.push(provider.DeviceConnected{Address: addr, State: provider.Connected})
	return nil
}

// watchDisconnect surfaces a transport-initiated disconnect when the link
// drops. It exits on stopCh so Stop never waits on a link that stays up.
func (p *Provider) watchDisconnect(key string, addr bleid.Address, disconnected, stopCh <-chan struct{}) {
	defer p.wg.Done()
	select {
	case <-disconnected:
	case <-stopCh:
		return
	}
	if _, ok := p.conns.Get(key); !ok {
		return // torn down by Disconnect or Stop
	}
	p.conns.Del(key)
	p.push(provider.DeviceConnected{Address: addr, State: provider.Disconnected})
}

// Disconnect implements provider.Provider.
func (p *Provider) Disconnect(addr bleid.Address) error {
	if err := p.requireRunning(); err != nil {
		return err
	}
	key := addr.String()
	c, ok := p.conns.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", provider.ErrNotConnected, key)
	}
	p.conns.Del(key)
	p.push(provider.DeviceConnected{Address: addr, State: provider.Disconnecting})
	if err := c.client.CancelConnection(); err != nil {
		return fmt.Errorf("disconnect %s: %w", key, NormalizeError(err))
	}
	p.push(provider.DeviceConnected{Address: addr, State: provider.Disconnected})
	return nil
}

// DiscoverServices implements provider.Provider.
func (p *Provider) DiscoverServices(_ context.Context, addr bleid.Address) error {
	c, err := p.conn(addr)
	if err != nil {
		return err
	}
	profile, err := c.client.DiscoverProfile(true)
	if err != nil {
		return fmt.Errorf("discover profile %s: %w", addr, NormalizeError(err))
	}
	c.profile = profile
	p.push(provider.ServicesDiscovered{
		Address:  addr,
		Services: servicesFromProfile(profile),
	})
	return nil
}

// ReadCharacteristic implements provider.Provider.
func (p *Provider) ReadCharacteristic(_ context.Context, addr bleid.Address, svc, chr bleid.UUID) ([]byte, error) {
	c, bleChr, err := p.characteristic(addr, svc, chr)
	if err != nil {
		return nil, err
	}
	data, err := c.client.ReadCharacteristic(bleChr)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", svc, chr, NormalizeError(err))
	}
	return data, nil
}

// WriteCharacteristic implements provider.Provider.
func (p *Provider) WriteCharacteristic(_ context.Context, addr bleid.Address, svc, chr bleid.UUID, data []byte, withResponse bool) error {
	c, bleChr, err := p.characteristic(addr, svc, chr)
	if err != nil {
		return err
	}
	if err := c.client.WriteCharacteristic(bleChr, data, !withResponse); err != nil {
		return fmt.Errorf("write %s/%s: %w", svc, chr, NormalizeError(err))
	}
	return nil
}

// EnableNotifications implements provider.Provider. Incoming notifications
// surface as CharacteristicChanged events.
func (p *Provider) EnableNotifications(addr bleid.Address, svc, chr bleid.UUID) error {
	c, bleChr, err := p.characteristic(addr, svc, chr)
	if err != nil {
		return err
	}
	handler := func(data []byte) {
		p.push(provider.CharacteristicChanged{
			Address:            addr,
			ServiceUUID:        svc,
			CharacteristicUUID: chr,
			Value:              data,
		})
	}
	if err := c.client.Subscribe(bleChr, false, handler); err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", svc, chr, NormalizeError(err))
	}
	return nil
}

// DisableNotifications implements provider.Provider.
func (p *Provider) DisableNotifications(addr bleid.Address, svc, chr bleid.UUID) error {
	c, bleChr, err := p.characteristic(addr, svc, chr)
	if err != nil {
		return err
	}
	if err := c.client.Unsubscribe(bleChr, false); err != nil {
		return fmt.Errorf("unsubscribe %s/%s: %w", svc, chr, NormalizeError(err))
	}
	return nil
}

// push emits ev through the push gate. It reports false, without pushing,
// when the provider has left the running state; a push that saw running set
// completes before Stop drains the gate and returns.
func (p *Provider) push(ev provider.Event) bool {
	p.pushMu.RLock()
	defer p.pushMu.RUnlock()
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return false
	}
	p.events.Push(ev)
	return true
}

func (p *Provider) requireRunning() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("%w: goble provider", provider.ErrNotStarted)
	}
	return nil
}

func (p *Provider) conn(addr bleid.Address) (*connection, error) {
	if err := p.requireRunning(); err != nil {
		return nil, err
	}
	c, ok := p.conns.Get(addr.String())
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotConnected, addr)
	}
	return c, nil
}

// characteristic locates the live transport characteristic for a
// service/characteristic UUID pair within the discovered profile.
func (p *Provider) characteristic(addr bleid.Address, svc, chr bleid.UUID) (*connection, *ble.Characteristic, error) {
	c, err := p.conn(addr)
	if err != nil {
		return nil, nil, err
	}
	if c.profile == nil {
		return nil, nil, fmt.Errorf("%w: services not discovered for %s", provider.ErrNotInitialized, addr)
	}
	svcUUID := uuidToBLE(svc)
	chrUUID := uuidToBLE(chr)
	for _, s := range c.profile.Services {
		if !s.UUID.Equal(svcUUID) {
			continue
		}
		for _, ch := range s.Characteristics {
			if ch.UUID.Equal(chrUUID) {
				return c, ch, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("characteristic %s not found in service %s on %s", chr, svc, addr)
}
