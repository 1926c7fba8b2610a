// Package poll implements the six-option single-winner chat poll.
package poll

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/you/chat-conference/internal/presenter"
)

// NumOptions is fixed at construction; vote keys are never added or removed.
const NumOptions = 6

var (
	ErrNotActive     = errors.New("poll is not active")
	ErrInvalidChoice = errors.New("invalid vote, must be between 1 and 6")
)

// Options carries the overlay source names the poll writes to.
type Options struct {
	Scene       string // scene holding the poll widget
	OptionLabel string // fmt template, e.g. "Vote %d"
	WinnerLabel string
	ShowFilter  string
	HideFilter  string
}

func (o *Options) applyDefaults() {
	if o.Scene == "" {
		o.Scene = "Conference and backdrop"
	}
	if o.OptionLabel == "" {
		o.OptionLabel = "Vote %d"
	}
	if o.WinnerLabel == "" {
		o.WinnerLabel = "Poll Winner"
	}
	if o.ShowFilter == "" {
		o.ShowFilter = "Move vote onscreen"
	}
	if o.HideFilter == "" {
		o.HideFilter = "Move vote offscreen"
	}
}

// Poll is the 1..6 tally. Votes only mutate while active; state mutates under
// the lock, presentation side effects go out after release.
type Poll struct {
	mu     sync.Mutex
	votes  [NumOptions + 1]int // index 1..6
	active bool

	pr   presenter.Presenter
	opts Options
}

func New(pr presenter.Presenter, opts Options) *Poll {
	opts.applyDefaults()
	return &Poll{pr: pr, opts: opts}
}

// IsValidVote reports whether a raw chat token is a poll ballot. Only the
// literal strings "1".."6" qualify; "02" or "+2" are not ballots.
func IsValidVote(message string) bool {
	s := strings.TrimSpace(message)
	return len(s) == 1 && s[0] >= '1' && s[0] <= '0'+NumOptions
}

// Start resets all counters and activates the poll. Starting while already
// active simply restarts.
func (p *Poll) Start() {
	p.mu.Lock()
	for i := range p.votes {
		p.votes[i] = 0
	}
	p.active = true
	p.mu.Unlock()

	for i := 1; i <= NumOptions; i++ {
		_ = p.pr.SetText(p.optionLabel(i), "0")
	}
	_ = p.pr.SetText(p.opts.WinnerLabel, "")
	_ = p.pr.SetFilterState(p.opts.Scene, p.opts.ShowFilter, true)
}

// Vote counts a ballot for choice 1..6 and returns the new tally for that
// option. ErrNotActive and ErrInvalidChoice are expected outcomes, not faults.
func (p *Poll) Vote(choice int) (int, error) {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return 0, ErrNotActive
	}
	if choice < 1 || choice > NumOptions {
		p.mu.Unlock()
		return 0, ErrInvalidChoice
	}
	p.votes[choice]++
	count := p.votes[choice]
	p.mu.Unlock()

	_ = p.pr.SetText(p.optionLabel(choice), strconv.Itoa(count))
	return count, nil
}

// End deactivates the poll and returns every option tied for the maximum
// count, with the count itself. An idle or zero-vote poll yields (nil, 0).
func (p *Poll) End() ([]int, int) {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil, 0
	}
	p.active = false

	max := 0
	for i := 1; i <= NumOptions; i++ {
		if p.votes[i] > max {
			max = p.votes[i]
		}
	}
	var winners []int
	if max > 0 {
		for i := 1; i <= NumOptions; i++ {
			if p.votes[i] == max {
				winners = append(winners, i)
			}
		}
	}
	p.mu.Unlock()

	_ = p.pr.SetText(p.opts.WinnerLabel, winnerText(winners))
	return winners, max
}

// Hide moves the poll widget offscreen. Presentation only, no state change.
func (p *Poll) Hide() {
	_ = p.pr.SetFilterState(p.opts.Scene, p.opts.HideFilter, true)
}

// Active reports whether ballots are being accepted.
func (p *Poll) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Totals returns a snapshot of the tally under a single lock acquisition.
func (p *Poll) Totals() map[int]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]int, NumOptions)
	for i := 1; i <= NumOptions; i++ {
		out[i] = p.votes[i]
	}
	return out
}

func (p *Poll) optionLabel(i int) string {
	return fmt.Sprintf(p.opts.OptionLabel, i)
}

func winnerText(winners []int) string {
	if len(winners) == 0 {
		return "Poll Ended"
	}
	parts := make([]string, len(winners))
	for i, w := range winners {
		parts[i] = strconv.Itoa(w)
	}
	return "Winner: " + strings.Join(parts, ", ")
}
