// Package duel implements the two-sided threshold poll with its countdown.
//
// A duel session runs exactly one countdown goroutine. Two triggers race
// against manual End: either side's vote share reaching the threshold
// (checked transactionally with the vote that caused it) or the timer hitting
// zero. Starting a new session cancels and awaits the previous countdown
// before spawning the next, so two countdowns never coexist.
package duel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/you/chat-conference/internal/presenter"
)

const (
	// DefaultThreshold ends the duel once a side holds this vote share.
	DefaultThreshold = 0.70
	// DefaultTotalCircles is circles per side on the overlay progress line.
	DefaultTotalCircles = 8
	// baselineVotes seeds both sides at start so the line opens 50/50 instead
	// of jarring full-empty, and early votes move it gently.
	baselineVotes = 20
)

var (
	ErrNotActive   = errors.New("duel poll is not active")
	ErrInvalidSide = errors.New("invalid vote, use '1' or '2'")
)

// Options carries overlay source names and tuning. Zero values get defaults.
type Options struct {
	ContainerScene string // scene that holds the duel widget
	WidgetSource   string // widget source toggled on show/hide
	Scene          string // scene containing the circles and timer
	BlueTemplate   string // fmt template, e.g. "Blue Circle %d"
	RedTemplate    string
	TimerSource    string
	ProgressSource string // media source re-shown for the progress cue
	WinSource      string // media source re-shown for the win cue
	Threshold      float64

	// Tick overrides the countdown cadence; tests shrink it.
	Tick time.Duration
}

func (o *Options) applyDefaults() {
	if o.ContainerScene == "" {
		o.ContainerScene = "Conference and backdrop"
	}
	if o.WidgetSource == "" {
		o.WidgetSource = "Vote duel"
	}
	if o.Scene == "" {
		o.Scene = "Vote duel"
	}
	if o.BlueTemplate == "" {
		o.BlueTemplate = "Blue Circle %d"
	}
	if o.RedTemplate == "" {
		o.RedTemplate = "Red Circle %d"
	}
	if o.TimerSource == "" {
		o.TimerSource = "Timer"
	}
	if o.ProgressSource == "" {
		o.ProgressSource = "Duel Tick SFX"
	}
	if o.WinSource == "" {
		o.WinSource = "Duel Win SFX"
	}
	if o.Threshold <= 0 || o.Threshold >= 1 {
		o.Threshold = DefaultThreshold
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
}

// Outcome is the result of an ended duel. Winner is 1 or 2, or 0 on an exact
// tie or zero total votes.
type Outcome struct {
	Winner int     `json:"winner"`
	Ratio  float64 `json:"ratio"`
	Reason string  `json:"reason"`
}

// State is an internally-consistent snapshot taken under one lock acquisition.
type State struct {
	Active       bool               `json:"active"`
	Votes        map[string]int     `json:"votes"`
	Ratios       map[string]float64 `json:"ratios"`
	TimeLeftS    int                `json:"time_left_s"`
	TotalCircles int                `json:"total_circles"`
}

// Duel is the two-sided tally plus its countdown task.
type Duel struct {
	pr   presenter.Presenter
	opts Options

	mu           sync.Mutex
	votes1       int
	votes2       int
	active       bool
	totalCircles int
	timeLeft     int

	// last rendered circle counts, to skip redundant presentation pushes
	lastBlue int
	lastRed  int

	cancel context.CancelFunc
	done   chan struct{}

	// startMu serializes Start: the retire-then-spawn sequence must not
	// interleave or two countdowns could briefly coexist
	startMu sync.Mutex
}

func New(pr presenter.Presenter, opts Options) *Duel {
	opts.applyDefaults()
	return &Duel{pr: pr, opts: opts}
}

// IsValidVote reports whether a raw chat token is a duel ballot.
func IsValidVote(message string) bool {
	s := strings.TrimSpace(message)
	return s == "1" || s == "2"
}

// Start begins (or restarts) a session: awaits the previous countdown, seeds
// the 50/50 baseline, and spawns exactly one new countdown task.
func (d *Duel) Start(durationSeconds, totalCircles int) {
	d.startMu.Lock()
	defer d.startMu.Unlock()

	// retire any previous session first; the old countdown must be fully gone
	// before the new one spawns
	d.mu.Lock()
	prevCancel, prevDone := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.active = false
	d.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
	}
	if prevDone != nil {
		<-prevDone
	}

	if totalCircles < 1 {
		totalCircles = DefaultTotalCircles
	}
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	d.mu.Lock()
	d.votes1, d.votes2 = baselineVotes, baselineVotes
	d.totalCircles = totalCircles
	d.timeLeft = durationSeconds
	d.active = true
	d.cancel, d.done = cancel, done
	// force the initial render to count as changed
	d.lastBlue, d.lastRed = -1, -1
	timeLeft := d.timeLeft
	d.mu.Unlock()

	go d.countdown(ctx, done)

	half := totalCircles / 2
	blueOn := half
	redOn := totalCircles - half // odd count gives the extra to the right

	_ = d.pr.SetVisibility(d.opts.ContainerScene, d.opts.WidgetSource, true)
	d.applyCircles(blueOn, redOn, totalCircles)
	d.cueIfChanged(blueOn, redOn)
	_ = d.pr.SetText(d.opts.TimerSource, fmtMMSS(timeLeft))

	slog.Info("duel: started", "duration_s", durationSeconds, "circles", totalCircles)
}

// Vote counts a ballot for side "1" or "2". The threshold check happens under
// the same lock that records the vote; the resulting End side effects run
// after release.
func (d *Duel) Vote(side string) error {
	side = strings.TrimSpace(side)

	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return ErrNotActive
	}
	switch side {
	case "1":
		d.votes1++
	case "2":
		d.votes2++
	default:
		d.mu.Unlock()
		return ErrInvalidSide
	}

	v1, v2 := d.votes1, d.votes2
	n := d.totalCircles
	threshold := d.opts.Threshold

	total := v1 + v2
	p1 := float64(v1) / float64(total)
	p2 := float64(v2) / float64(total)

	// map share to the visual scale so share==threshold means fully lit
	blueOn := int(math.Round(p1 / threshold * float64(n)))
	redOn := int(math.Round(p2 / threshold * float64(n)))

	reached := p1 >= threshold || p2 >= threshold
	if reached {
		// the winner fills the whole line, whatever rounding said
		if p1 >= threshold {
			blueOn, redOn = n, 0
		} else {
			blueOn, redOn = 0, n
		}
	}

	changed := blueOn != d.lastBlue || redOn != d.lastRed
	if changed {
		d.lastBlue, d.lastRed = blueOn, redOn
	}
	d.mu.Unlock()

	if changed {
		d.applyCircles(blueOn, redOn, n)
		d.cue(d.opts.ProgressSource)
	}

	if reached {
		if out, ended := d.End("threshold"); ended {
			slog.Info("duel: threshold reached", "winner", out.Winner, "ratio", out.Ratio)
		}
	}
	return nil
}

// End finishes the session. It is idempotent: a second call reports ended=false
// and fires no side effects. The countdown is cancelled but not awaited here
// (End may be called from the countdown itself); Start is the only spawner and
// awaits the previous task.
func (d *Duel) End(reason string) (Outcome, bool) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return Outcome{}, false
	}
	d.active = false

	cancel := d.cancel
	d.cancel = nil // done stays set until the goroutine closes it; Start awaits it

	v1, v2 := d.votes1, d.votes2
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	out := Outcome{Reason: reason}
	total := v1 + v2
	switch {
	case total == 0:
		// nothing cast, nothing won
	case v1 == v2:
		out.Ratio = float64(v1) / float64(total)
	case v1 > v2:
		out.Winner = 1
		out.Ratio = float64(v1) / float64(total)
	default:
		out.Winner = 2
		out.Ratio = float64(v2) / float64(total)
	}

	_ = d.pr.SetText(d.opts.TimerSource, "00:00")
	d.cue(d.opts.WinSource)
	slog.Info("duel: ended", "reason", reason, "winner", out.Winner, "ratio", out.Ratio)
	return out, true
}

// Hide removes the duel widget from the overlay. Presentation only.
func (d *Duel) Hide() {
	_ = d.pr.SetVisibility(d.opts.ContainerScene, d.opts.WidgetSource, false)
}

// Active reports whether a session is running.
func (d *Duel) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Snapshot returns the current state under a single lock acquisition. With no
// real deviation from the baseline the ratios read 50/50.
func (d *Duel) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := d.votes1 + d.votes2
	p1, p2 := 0.5, 0.5
	if total > 0 {
		p1 = float64(d.votes1) / float64(total)
		p2 = float64(d.votes2) / float64(total)
	}
	return State{
		Active:       d.active,
		Votes:        map[string]int{"1": d.votes1, "2": d.votes2},
		Ratios:       map[string]float64{"1": p1, "2": p2},
		TimeLeftS:    d.timeLeft,
		TotalCircles: d.totalCircles,
	}
}

// countdown publishes the remaining time once per tick and ends the duel when
// it runs out. The lock is held only for the state peek and the decrement,
// never across the presentation push or the sleep.
func (d *Duel) countdown(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.opts.Tick)
	defer ticker.Stop()

	for {
		d.mu.Lock()
		if !d.active {
			d.mu.Unlock()
			return
		}
		remaining := d.timeLeft
		d.mu.Unlock()

		_ = d.pr.SetText(d.opts.TimerSource, fmtMMSS(remaining))

		if remaining <= 0 {
			d.End("timer")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		if d.active && d.timeLeft > 0 {
			d.timeLeft--
		}
		d.mu.Unlock()
	}
}

// applyCircles lights the first blueOn blue circles from the left and the
// first redOn red circles from the right; everything else is hidden.
func (d *Duel) applyCircles(blueOn, redOn, total int) {
	for i := 1; i <= total; i++ {
		blueVisible := i <= blueOn
		redVisible := i > total-redOn
		_ = d.pr.SetVisibility(d.opts.Scene, fmt.Sprintf(d.opts.BlueTemplate, i), blueVisible)
		_ = d.pr.SetVisibility(d.opts.Scene, fmt.Sprintf(d.opts.RedTemplate, i), redVisible)
	}
}

// cue re-shows a media source, which makes OBS restart its playback.
func (d *Duel) cue(source string) {
	_ = d.pr.SetVisibility(d.opts.Scene, source, false)
	_ = d.pr.SetVisibility(d.opts.Scene, source, true)
}

func (d *Duel) cueIfChanged(blueOn, redOn int) {
	d.mu.Lock()
	changed := blueOn != d.lastBlue || redOn != d.lastRed
	if changed {
		d.lastBlue, d.lastRed = blueOn, redOn
	}
	d.mu.Unlock()
	if changed {
		d.cue(d.opts.ProgressSource)
	}
}

func fmtMMSS(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
