package presenter

import (
	"log/slog"
	"sync"
)

// Async decouples engine state transitions from blocking backend calls. Calls
// enqueue and return immediately; a single worker drains the queue in FIFO
// order so paired commands (filter on, speak, filter off) keep their order.
// When the queue is full the command is dropped, not the caller blocked.
type Async struct {
	base   Presenter
	queue  chan func(Presenter)
	onDrop func()

	closeOnce sync.Once
	done      chan struct{}
}

type AsyncOptions struct {
	QueueSize int
	// OnDrop is invoked (without the command) each time a full queue forces a
	// drop. Used for the drop counter metric.
	OnDrop func()
}

func NewAsync(base Presenter, opts AsyncOptions) *Async {
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	a := &Async{
		base:   base,
		queue:  make(chan func(Presenter), size),
		onDrop: opts.OnDrop,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for cmd := range a.queue {
		cmd(a.base)
	}
}

// Close stops the worker after draining queued commands.
func (a *Async) Close() {
	a.closeOnce.Do(func() { close(a.queue) })
	<-a.done
}

func (a *Async) enqueue(cmd func(Presenter)) {
	defer func() {
		// send on closed queue during shutdown; command is lost, which is fine
		// for fire-and-forget presentation
		_ = recover()
	}()
	select {
	case a.queue <- cmd:
	default:
		if a.onDrop != nil {
			a.onDrop()
		}
	}
}

func (a *Async) SetText(label, value string) error {
	a.enqueue(func(p Presenter) {
		if err := p.SetText(label, value); err != nil {
			slog.Warn("presenter: set text failed", "label", label, "err", err)
		}
	})
	return nil
}

func (a *Async) SetVisibility(scene, source string, visible bool) error {
	a.enqueue(func(p Presenter) {
		if err := p.SetVisibility(scene, source, visible); err != nil {
			slog.Warn("presenter: set visibility failed", "scene", scene, "source", source, "err", err)
		}
	})
	return nil
}

func (a *Async) SetFilterState(scene, filter string, enabled bool) error {
	a.enqueue(func(p Presenter) {
		if err := p.SetFilterState(scene, filter, enabled); err != nil {
			slog.Warn("presenter: set filter failed", "scene", scene, "filter", filter, "err", err)
		}
	})
	return nil
}

func (a *Async) SpeakUtterance(text, voiceProfile string) error {
	a.enqueue(func(p Presenter) {
		if err := p.SpeakUtterance(text, voiceProfile); err != nil {
			slog.Warn("presenter: speak failed", "voice", voiceProfile, "err", err)
		}
	})
	return nil
}
