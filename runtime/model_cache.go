package runtime

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	haieriot "github.com/baranwang/haier-iot"
)

// Listener receives devDigitalModelUpdate notifications. The model is a copy
// owned by the listener.
type Listener func(deviceID string, model *haieriot.DevDigitalModel)

// CacheEntry is a cached model plus where it came from.
type CacheEntry struct {
	Model     *haieriot.DevDigitalModel
	UpdatedAt time.Time
	Source    haieriot.UpdateSource
}

// ModelCache holds the last known digital model per device id and fans out
// every change to listeners synchronously, in write order. A panicking
// listener is logged and skipped. Listeners must not write to the cache.
type ModelCache struct {
	clock clock.Clock
	log   logrus.FieldLogger

	mu      sync.RWMutex
	entries map[string]*CacheEntry

	// emitMu orders listener delivery the same as writes.
	emitMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []listenerSlot
	nextID      uint64
}

type listenerSlot struct {
	id uint64
	fn sourcedListener
}

type sourcedListener func(deviceID string, model *haieriot.DevDigitalModel, source haieriot.UpdateSource)

func NewModelCache(clk clock.Clock, log logrus.FieldLogger) *ModelCache {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ModelCache{
		clock:   clk,
		log:     log.WithField("component", "cache"),
		entries: make(map[string]*CacheEntry),
	}
}

// Get returns a copy of the cached model.
func (c *ModelCache) Get(deviceID string) (*haieriot.DevDigitalModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[deviceID]
	if !ok {
		return nil, false
	}
	return e.Model.Clone(), true
}

// Entry returns a copy of the cached entry with its metadata.
func (c *ModelCache) Entry(deviceID string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[deviceID]
	if !ok {
		return CacheEntry{}, false
	}
	return CacheEntry{Model: e.Model.Clone(), UpdatedAt: e.UpdatedAt, Source: e.Source}, true
}

// DeviceIDs lists cached device ids in sorted order.
func (c *ModelCache) DeviceIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Set replaces the entry and emits an update. Authoritative sets overwrite
// any optimistic patch applied before them.
func (c *ModelCache) Set(deviceID string, model *haieriot.DevDigitalModel, source haieriot.UpdateSource) {
	if model == nil {
		return
	}
	stored := model.Clone()
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	c.entries[deviceID] = &CacheEntry{Model: stored, UpdatedAt: c.clock.Now(), Source: source}
	snapshot := stored.Clone()
	c.mu.Unlock()
	c.emit(deviceID, snapshot, source)
}

// Patch overwrites the value of every referenced attribute that exists in
// the cached model, then emits an update. It reports false when the device
// has no cached model.
func (c *ModelCache) Patch(deviceID string, commands []haieriot.Command) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	e, ok := c.entries[deviceID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	for _, cmd := range commands {
		for name, value := range cmd {
			if p, found := e.Model.Property(name); found {
				p.Value = value
			}
		}
	}
	e.UpdatedAt = c.clock.Now()
	e.Source = haieriot.SourceOptimistic
	snapshot := e.Model.Clone()
	c.mu.Unlock()
	c.emit(deviceID, snapshot, haieriot.SourceOptimistic)
	return true
}

// OnUpdate registers fn and returns a function that removes it.
func (c *ModelCache) OnUpdate(fn Listener) (cancel func()) {
	return c.addListener(func(deviceID string, model *haieriot.DevDigitalModel, _ haieriot.UpdateSource) {
		fn(deviceID, model)
	})
}

func (c *ModelCache) addListener(fn sourcedListener) func() {
	c.listenersMu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerSlot{id: id, fn: fn})
	c.listenersMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			defer c.listenersMu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *ModelCache) emit(deviceID string, model *haieriot.DevDigitalModel, source haieriot.UpdateSource) {
	c.listenersMu.RLock()
	listeners := append([]listenerSlot(nil), c.listeners...)
	c.listenersMu.RUnlock()
	for i, l := range listeners {
		m := model
		if i < len(listeners)-1 {
			m = model.Clone()
		}
		c.call(l.fn, deviceID, m, source)
	}
}

func (c *ModelCache) call(fn sourcedListener, deviceID string, model *haieriot.DevDigitalModel, source haieriot.UpdateSource) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{"device": deviceID, "source": source, "panic": r}).Error("listener panicked")
		}
	}()
	fn(deviceID, model, source)
}

// Subscribe returns a channel of update events. Slow subscribers drop events.
func (c *ModelCache) Subscribe(buffer int) haieriot.EventSubscription {
	es := &eventSub{ch: make(chan haieriot.Event, buffer)}
	es.cancel = c.addListener(func(deviceID string, model *haieriot.DevDigitalModel, source haieriot.UpdateSource) {
		es.send(haieriot.Event{
			Kind:       haieriot.EventDevDigitalModelUpdate,
			DeviceID:   deviceID,
			OccurredAt: c.clock.Now(),
			Source:     source,
			Model:      model,
		})
	})
	return es
}

type eventSub struct {
	mu     sync.Mutex
	ch     chan haieriot.Event
	closed bool
	cancel func()
}

func (e *eventSub) send(evt haieriot.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- evt:
	default: /* drop if slow */
	}
}

func (e *eventSub) C() <-chan haieriot.Event { return e.ch }

func (e *eventSub) Close() error {
	e.cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
	return nil
}
