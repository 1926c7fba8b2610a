package presenter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TextDebouncer coalesces bursts of SetText calls per label: the first write in
// a window goes out immediately, later ones collapse to the latest value and
// flush when the window reopens. Only text is shaped; visibility, filters and
// speech pass through untouched. The authoritative counts live in the engine,
// so dropping intermediate renders is safe.
type TextDebouncer struct {
	next     Presenter
	interval time.Duration

	mu     sync.Mutex
	labels map[string]*debounceEntry
}

type debounceEntry struct {
	lim     *rate.Limiter
	pending string
	waiting bool
}

func NewTextDebouncer(next Presenter, interval time.Duration) *TextDebouncer {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &TextDebouncer{
		next:     next,
		interval: interval,
		labels:   make(map[string]*debounceEntry),
	}
}

func (d *TextDebouncer) SetText(label, value string) error {
	d.mu.Lock()
	e, ok := d.labels[label]
	if !ok {
		e = &debounceEntry{lim: rate.NewLimiter(rate.Every(d.interval), 1)}
		d.labels[label] = e
	}
	if e.waiting {
		e.pending = value
		d.mu.Unlock()
		return nil
	}
	if e.lim.Allow() {
		d.mu.Unlock()
		return d.next.SetText(label, value)
	}
	e.pending = value
	e.waiting = true
	time.AfterFunc(d.interval, func() { d.flush(label) })
	d.mu.Unlock()
	return nil
}

func (d *TextDebouncer) flush(label string) {
	d.mu.Lock()
	e, ok := d.labels[label]
	if !ok || !e.waiting {
		d.mu.Unlock()
		return
	}
	value := e.pending
	e.waiting = false
	e.lim.Allow() // consume the reopened slot
	d.mu.Unlock()
	_ = d.next.SetText(label, value)
}

func (d *TextDebouncer) SetVisibility(scene, source string, visible bool) error {
	return d.next.SetVisibility(scene, source, visible)
}

func (d *TextDebouncer) SetFilterState(scene, filter string, enabled bool) error {
	return d.next.SetFilterState(scene, filter, enabled)
}

func (d *TextDebouncer) SpeakUtterance(text, voiceProfile string) error {
	return d.next.SpeakUtterance(text, voiceProfile)
}
