// Package conference binds chatter pools to the on-screen character slots and
// mediates pick, set, remove and speech routing for them.
package conference

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/you/chat-conference/internal/core"
	"github.com/you/chat-conference/internal/pool"
	"github.com/you/chat-conference/internal/presenter"
)

// MaxSlots is the number of character positions on the overlay.
const MaxSlots = 10

var (
	ErrSlotRange   = errors.New("slot number out of range")
	ErrNoCandidate = errors.New("no candidate available in pool")
	ErrVacant      = errors.New("slot has no occupant")
)

// Options carries the overlay naming scheme. Zero values get defaults.
type Options struct {
	Scene          string // scene holding the character sources
	SourceTemplate string // fmt template, e.g. "Character %d"
	NameTemplate   string // e.g. "Character %d Name"
	TextTemplate   string // e.g. "Character %d Text"
	AudioScene     string // scene holding the voice audio source
	FilterTemplate string // e.g. "Audio Move - Character %d"
	PoolTimeout    time.Duration
	Voices         []string // default profiles, assigned round-robin by slot
}

func (o *Options) applyDefaults() {
	if o.Scene == "" {
		o.Scene = "Conference and backdrop"
	}
	if o.SourceTemplate == "" {
		o.SourceTemplate = "Character %d"
	}
	if o.NameTemplate == "" {
		o.NameTemplate = "Character %d Name"
	}
	if o.TextTemplate == "" {
		o.TextTemplate = "Character %d Text"
	}
	if o.AudioScene == "" {
		o.AudioScene = "Line In"
	}
	if o.FilterTemplate == "" {
		o.FilterTemplate = "Audio Move - Character %d"
	}
	if o.PoolTimeout <= 0 {
		o.PoolTimeout = pool.DefaultTimeout
	}
	if len(o.Voices) == 0 {
		o.Voices = []string{"af_bella", "am_michael"}
	}
}

type slot struct {
	occupant core.Identity // zero value means vacant
	voice    string
	pool     *pool.Pool
}

// SlotState is the externally visible view of one slot.
type SlotState struct {
	Number   int    `json:"number"`
	Username string `json:"username,omitempty"`
	Platform string `json:"platform,omitempty"`
	Voice    string `json:"voice"`
}

// Coordinator owns all slot state. Slots are allocated lazily on first
// reference; pools carry their own locks, everything else sits under one
// coordinator lock. Presentation and audio go out after release.
type Coordinator struct {
	pr   presenter.Presenter
	opts Options

	mu    sync.Mutex
	slots map[int]*slot
	muted bool
}

func New(pr presenter.Presenter, opts Options) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{pr: pr, opts: opts, slots: make(map[int]*slot)}
}

// EnsureSlot allocates slot n if needed. Out-of-range numbers are an input
// error, not a fault.
func (c *Coordinator) EnsureSlot(n int) error {
	if n < 1 || n > MaxSlots {
		return fmt.Errorf("%w: %d", ErrSlotRange, n)
	}
	c.mu.Lock()
	c.ensureLocked(n)
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) ensureLocked(n int) *slot {
	s, ok := c.slots[n]
	if !ok {
		s = &slot{
			voice: c.opts.Voices[(n-1)%len(c.opts.Voices)],
			pool:  pool.New(c.opts.PoolTimeout),
		}
		c.slots[n] = s
	}
	return s
}

// AddChatter records a chatter into slot n's pool.
func (c *Coordinator) AddChatter(n int, username string, platform core.Platform) error {
	if n < 1 || n > MaxSlots {
		return fmt.Errorf("%w: %d", ErrSlotRange, n)
	}
	c.mu.Lock()
	s := c.ensureLocked(n)
	c.mu.Unlock()
	s.pool.AddChatter(username, platform)
	return nil
}

// Pick draws a chatter from slot n's pool and seats them. pref is "twitch",
// "tiktok" or "either". A drained pool leaves the slot untouched.
func (c *Coordinator) Pick(n int, pref string) (core.Identity, error) {
	if n < 1 || n > MaxSlots {
		return core.Identity{}, fmt.Errorf("%w: %d", ErrSlotRange, n)
	}
	c.mu.Lock()
	s := c.ensureLocked(n)
	c.mu.Unlock()

	var id core.Identity
	var ok bool
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "twitch":
		var name string
		if name, ok = s.pool.PickRandomTwitch(); ok {
			id = core.Identity{Username: name, Platform: core.PlatformTwitch}
		}
	case "tiktok":
		var name string
		if name, ok = s.pool.PickRandomTiktok(); ok {
			id = core.Identity{Username: name, Platform: core.PlatformTikTok}
		}
	default:
		id, ok = s.pool.PickRandomEither()
	}
	if !ok {
		return core.Identity{}, ErrNoCandidate
	}

	if err := c.Set(n, id.Username, id.Platform); err != nil {
		return core.Identity{}, err
	}
	slog.Info("conference: picked", "slot", n, "user", id.Username, "platform", id.Platform)
	return id, nil
}

// Set seats (username, platform) in slot n, overwriting any occupant.
func (c *Coordinator) Set(n int, username string, platform core.Platform) error {
	if n < 1 || n > MaxSlots {
		return fmt.Errorf("%w: %d", ErrSlotRange, n)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("empty username")
	}

	c.mu.Lock()
	s := c.ensureLocked(n)
	s.occupant = core.Identity{Username: username, Platform: platform}
	c.mu.Unlock()

	_ = c.pr.SetText(c.nameLabel(n), username)
	_ = c.pr.SetText(c.textLabel(n), "")
	_ = c.pr.SetVisibility(c.opts.Scene, c.source(n), true)
	return nil
}

// Remove vacates slot n and restores the idle presentation state.
func (c *Coordinator) Remove(n int) error {
	if n < 1 || n > MaxSlots {
		return fmt.Errorf("%w: %d", ErrSlotRange, n)
	}
	c.mu.Lock()
	s := c.ensureLocked(n)
	s.occupant = core.Identity{}
	c.mu.Unlock()

	_ = c.pr.SetText(c.nameLabel(n), fmt.Sprintf("Character %d", n))
	_ = c.pr.SetText(c.textLabel(n), "")
	_ = c.pr.SetVisibility(c.opts.Scene, c.source(n), false)
	_ = c.pr.SetFilterState(c.opts.AudioScene, c.moveFilter(n), false)
	return nil
}

// RemoveAll vacates every allocated slot.
func (c *Coordinator) RemoveAll() {
	c.mu.Lock()
	var nums []int
	for n := range c.slots {
		nums = append(nums, n)
	}
	c.mu.Unlock()
	for _, n := range nums {
		_ = c.Remove(n)
	}
}

// SetVoice changes slot n's TTS profile.
func (c *Coordinator) SetVoice(n int, style string) error {
	if n < 1 || n > MaxSlots {
		return fmt.Errorf("%w: %d", ErrSlotRange, n)
	}
	style = strings.TrimSpace(style)
	if style == "" {
		return errors.New("empty voice style")
	}
	c.mu.Lock()
	c.ensureLocked(n).voice = style
	c.mu.Unlock()
	return nil
}

// Speak forwards a message to slot n's voice only when (username, platform)
// exactly matches the current occupant. A stale or impersonating sender with
// the same name on the other platform does not qualify. Mute suppresses the
// audio synthesis, not the text update.
func (c *Coordinator) Speak(n int, username string, platform core.Platform, message string) (bool, error) {
	if n < 1 || n > MaxSlots {
		return false, fmt.Errorf("%w: %d", ErrSlotRange, n)
	}
	c.mu.Lock()
	s := c.ensureLocked(n)
	occ, voice, muted := s.occupant, s.voice, c.muted
	c.mu.Unlock()

	if occ.Zero() || occ.Username != username || occ.Platform != platform {
		return false, nil
	}

	c.emitSpeech(n, message, voice, muted)
	return true, nil
}

// SpeakAs puts words in slot n's mouth regardless of who occupies it. The
// occupant guard is for chat traffic; this is the operator's override.
func (c *Coordinator) SpeakAs(n int, alias, message string) error {
	if n < 1 || n > MaxSlots {
		return fmt.Errorf("%w: %d", ErrSlotRange, n)
	}
	c.mu.Lock()
	s := c.ensureLocked(n)
	voice, muted := s.voice, c.muted
	c.mu.Unlock()

	if alias = strings.TrimSpace(alias); alias != "" {
		_ = c.pr.SetText(c.nameLabel(n), alias)
	}
	c.emitSpeech(n, message, voice, muted)
	return nil
}

func (c *Coordinator) emitSpeech(n int, message, voice string, muted bool) {
	_ = c.pr.SetText(c.textLabel(n), message)
	if muted {
		return
	}
	// the move filter ducks the speaking character's audio source in while
	// the utterance plays; speech synthesis blocks inside the dispatcher, so
	// the off toggle lands after playback
	_ = c.pr.SetFilterState(c.opts.AudioScene, c.moveFilter(n), true)
	_ = c.pr.SpeakUtterance(message, voice)
	_ = c.pr.SetFilterState(c.opts.AudioScene, c.moveFilter(n), false)
}

// RouteIncomingMessage scans the slots for a matching occupant and speaks the
// message through the first match. Reports whether any slot matched.
func (c *Coordinator) RouteIncomingMessage(username string, platform core.Platform, message string) bool {
	c.mu.Lock()
	var match int
	for n := 1; n <= MaxSlots; n++ {
		s, ok := c.slots[n]
		if !ok {
			continue
		}
		if !s.occupant.Zero() && s.occupant.Username == username && s.occupant.Platform == platform {
			match = n
			break
		}
	}
	c.mu.Unlock()

	if match == 0 {
		return false
	}
	ok, err := c.Speak(match, username, platform, message)
	if err != nil {
		slog.Warn("conference: speak failed", "slot", match, "err", err)
		return false
	}
	return ok
}

// ResetPool clears slot n's pool, including its picked set.
func (c *Coordinator) ResetPool(n int) error {
	if n < 1 || n > MaxSlots {
		return fmt.Errorf("%w: %d", ErrSlotRange, n)
	}
	c.mu.Lock()
	s := c.ensureLocked(n)
	c.mu.Unlock()
	s.pool.ClearAll()
	return nil
}

// ResetAllPools clears every allocated slot's pool.
func (c *Coordinator) ResetAllPools() {
	c.mu.Lock()
	pools := make([]*pool.Pool, 0, len(c.slots))
	for _, s := range c.slots {
		pools = append(pools, s.pool)
	}
	c.mu.Unlock()
	for _, p := range pools {
		p.ClearAll()
	}
}

// SetMuted flips the global TTS mute. Text updates keep flowing either way.
func (c *Coordinator) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	slog.Info("conference: mute", "muted", muted)
}

func (c *Coordinator) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Slots returns the allocated slots in number order.
func (c *Coordinator) Slots() []SlotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []SlotState
	for n := 1; n <= MaxSlots; n++ {
		s, ok := c.slots[n]
		if !ok {
			continue
		}
		st := SlotState{Number: n, Voice: s.voice}
		if !s.occupant.Zero() {
			st.Username = s.occupant.Username
			st.Platform = string(s.occupant.Platform)
		}
		out = append(out, st)
	}
	return out
}

func (c *Coordinator) source(n int) string {
	return fmt.Sprintf(c.opts.SourceTemplate, n)
}

func (c *Coordinator) nameLabel(n int) string {
	return fmt.Sprintf(c.opts.NameTemplate, n)
}

func (c *Coordinator) textLabel(n int) string {
	return fmt.Sprintf(c.opts.TextTemplate, n)
}

func (c *Coordinator) moveFilter(n int) string {
	return fmt.Sprintf(c.opts.FilterTemplate, n)
}
