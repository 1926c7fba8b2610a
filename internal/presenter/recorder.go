package presenter

import (
	"fmt"
	"sync"
)

// Recorder captures presentation commands for assertions in tests.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *Recorder) record(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *Recorder) SetText(label, value string) error {
	r.record(fmt.Sprintf("text %s=%s", label, value))
	return nil
}

func (r *Recorder) SetVisibility(scene, source string, visible bool) error {
	r.record(fmt.Sprintf("vis %s/%s=%t", scene, source, visible))
	return nil
}

func (r *Recorder) SetFilterState(scene, filter string, enabled bool) error {
	r.record(fmt.Sprintf("filter %s/%s=%t", scene, filter, enabled))
	return nil
}

func (r *Recorder) SpeakUtterance(text, voiceProfile string) error {
	r.record(fmt.Sprintf("speak %s:%s", voiceProfile, text))
	return nil
}
