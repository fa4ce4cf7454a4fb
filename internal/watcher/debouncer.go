package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid events per path. Each path fires once after its
// own quiet period with the latest event seen for it. Events for different
// paths are never merged and nothing is dropped: fired events queue up until
// Drain is called.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
	ready   []ChangeEvent
	stopped bool

	notify chan struct{}
}

type pendingEvent struct {
	event ChangeEvent
	gen   uint64
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*pendingEvent),
		notify:  make(chan struct{}, 1),
	}
}

// Trigger records event and restarts the quiet period for its path.
func (d *Debouncer) Trigger(event ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	p, ok := d.pending[event.Path]
	if !ok {
		p = &pendingEvent{}
		d.pending[event.Path] = p
	} else if p.timer != nil {
		p.timer.Stop()
	}

	p.event = event
	p.gen++
	gen := p.gen
	path := event.Path
	p.timer = time.AfterFunc(d.delay, func() { d.fire(path, gen) })
}

func (d *Debouncer) fire(path string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[path]
	// A newer Trigger owns the path; its own timer will fire.
	if !ok || p.gen != gen || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.ready = append(d.ready, p.event)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Ready signals that Drain has events to return.
func (d *Debouncer) Ready() <-chan struct{} {
	return d.notify
}

// Drain returns the events whose quiet period has elapsed, oldest first.
func (d *Debouncer) Drain() []ChangeEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := d.ready
	d.ready = nil
	return out
}

// Pending returns the number of paths still waiting for their quiet period.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending timer.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
}
