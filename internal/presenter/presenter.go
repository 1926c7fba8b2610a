// Package presenter defines the fixed capability surface the engine requires
// from the overlay/audio side, and the plumbing that keeps slow backends from
// ever blocking a core lock.
package presenter

import "log/slog"

// Presenter is the one-way command surface toward OBS and the TTS engine.
// Callers never consume a return value beyond logging; a failed call must not
// unwind committed engine state.
type Presenter interface {
	SetText(label, value string) error
	SetVisibility(scene, source string, visible bool) error
	SetFilterState(scene, filter string, enabled bool) error
	SpeakUtterance(text, voiceProfile string) error
}

// Visual is the OBS-side subset of Presenter.
type Visual interface {
	SetText(label, value string) error
	SetVisibility(scene, source string, visible bool) error
	SetFilterState(scene, filter string, enabled bool) error
}

// Speaker is the audio-side subset of Presenter.
type Speaker interface {
	SpeakUtterance(text, voiceProfile string) error
}

// Backend composes a visual backend and a speaker into a full Presenter.
type Backend struct {
	Visual
	Speaker
}

func NewBackend(v Visual, s Speaker) Backend {
	return Backend{Visual: v, Speaker: s}
}

// Log is a Presenter that only logs, for running without OBS or TTS attached.
type Log struct{}

func (Log) SetText(label, value string) error {
	slog.Debug("presenter: set text", "label", label, "value", value)
	return nil
}

func (Log) SetVisibility(scene, source string, visible bool) error {
	slog.Debug("presenter: set visibility", "scene", scene, "source", source, "visible", visible)
	return nil
}

func (Log) SetFilterState(scene, filter string, enabled bool) error {
	slog.Debug("presenter: set filter", "scene", scene, "filter", filter, "enabled", enabled)
	return nil
}

func (Log) SpeakUtterance(text, voiceProfile string) error {
	slog.Debug("presenter: speak", "voice", voiceProfile, "len", len(text))
	return nil
}
