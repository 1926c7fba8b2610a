// Package chance holds the operator-triggered luck games: the roulette gun
// and the twelve-crate bomb hunt. Both render through the same presentation
// surface as the polls; SFX cues re-show a media source so OBS restarts its
// playback.
package chance

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/you/chat-conference/internal/presenter"
)

// NumCrates is the fixed board size of the crates game.
const NumCrates = 12

var (
	ErrNotActive   = errors.New("chance: crates game not active")
	ErrCrateRange  = errors.New("chance: crate number out of range")
	ErrCrateOpened = errors.New("chance: crate already opened")
)

type Options struct {
	GunScene        string // scene holding the gun source
	GunSource       string
	FlipRightFilter string // move filter pointing the gun at player 2
	FlipLeftFilter  string // move filter pointing the gun at player 1
	FireSource      string // media sources re-shown as SFX cues
	EmptySource     string

	CratesScene     string
	CrateTemplate   string // fmt template, e.g. "Crate %d"
	BombTemplate    string
	DrumrollSource  string
	SafeSource      string
	ExplosionSource string
}

func (o *Options) applyDefaults() {
	if o.GunScene == "" {
		o.GunScene = "Conference and backdrop"
	}
	if o.GunSource == "" {
		o.GunSource = "gun"
	}
	if o.FlipRightFilter == "" {
		o.FlipRightFilter = "Flip gun right"
	}
	if o.FlipLeftFilter == "" {
		o.FlipLeftFilter = "Flip gun left"
	}
	if o.FireSource == "" {
		o.FireSource = "Gun Shot SFX"
	}
	if o.EmptySource == "" {
		o.EmptySource = "Empty Gun SFX"
	}
	if o.CratesScene == "" {
		o.CratesScene = "Crate Game"
	}
	if o.CrateTemplate == "" {
		o.CrateTemplate = "Crate %d"
	}
	if o.BombTemplate == "" {
		o.BombTemplate = "Bomb %d"
	}
	if o.DrumrollSource == "" {
		o.DrumrollSource = "Drum Roll SFX"
	}
	if o.SafeSource == "" {
		o.SafeSource = "Safe Crate SFX"
	}
	if o.ExplosionSource == "" {
		o.ExplosionSource = "Explosion SFX"
	}
}

// State is a snapshot taken under one lock acquisition. The bomb position is
// deliberately not exposed; it would leak straight to the overlay clients.
type State struct {
	Player       int   `json:"player"`
	GunHidden    bool  `json:"gun_hidden"`
	CratesActive bool  `json:"crates_active"`
	Opened       []int `json:"opened"`
}

// Games owns both game states under one mutex. State mutates under the lock,
// presentation side effects go out after release.
type Games struct {
	pr   presenter.Presenter
	opts Options

	mu           sync.Mutex
	player       int
	gunHidden    bool
	cratesActive bool
	bombCrate    int
	opened       map[int]bool

	pick func(int) int
}

func New(pr presenter.Presenter, opts Options) *Games {
	opts.applyDefaults()
	return &Games{
		pr:     pr,
		opts:   opts,
		player: 1,
		opened: make(map[int]bool),
		pick:   rand.IntN,
	}
}

// ShootGun plays the 50/50 and reports whether the gun fired.
func (g *Games) ShootGun() bool {
	fired := g.pick(2) == 0
	if fired {
		g.cue(g.opts.GunScene, g.opts.FireSource)
	} else {
		g.cue(g.opts.GunScene, g.opts.EmptySource)
	}
	return fired
}

// FlipGun points the gun at the other player and returns who it faces now.
func (g *Games) FlipGun() int {
	g.mu.Lock()
	if g.player == 1 {
		g.player = 2
	} else {
		g.player = 1
	}
	player := g.player
	g.mu.Unlock()

	filter := g.opts.FlipLeftFilter
	if player == 2 {
		filter = g.opts.FlipRightFilter
	}
	_ = g.pr.SetFilterState(g.opts.GunScene, filter, true)
	return player
}

// ToggleGun flips the gun source's visibility and reports whether it is now
// hidden.
func (g *Games) ToggleGun() bool {
	g.mu.Lock()
	g.gunHidden = !g.gunHidden
	hidden := g.gunHidden
	g.mu.Unlock()

	_ = g.pr.SetVisibility(g.opts.GunScene, g.opts.GunSource, !hidden)
	return hidden
}

// StartCrates begins a fresh board: all crates shown, all bombs hidden except
// the one under the randomly chosen crate.
func (g *Games) StartCrates() {
	g.mu.Lock()
	g.cratesActive = true
	g.opened = make(map[int]bool)
	g.bombCrate = g.pick(NumCrates) + 1
	bomb := g.bombCrate
	g.mu.Unlock()

	for i := 1; i <= NumCrates; i++ {
		_ = g.pr.SetVisibility(g.opts.CratesScene, g.crate(i), true)
		_ = g.pr.SetVisibility(g.opts.CratesScene, g.bomb(i), false)
	}
	_ = g.pr.SetVisibility(g.opts.CratesScene, g.bomb(bomb), true)
}

// SelectCrate opens crate n and reports whether it held the bomb. The opened
// mark and the boom outcome are decided under the same lock acquisition, so a
// crate can never be opened twice.
func (g *Games) SelectCrate(n int) (bool, error) {
	if n < 1 || n > NumCrates {
		return false, ErrCrateRange
	}

	g.mu.Lock()
	if !g.cratesActive {
		g.mu.Unlock()
		return false, ErrNotActive
	}
	if g.opened[n] {
		g.mu.Unlock()
		return false, ErrCrateOpened
	}
	g.opened[n] = true
	boom := n == g.bombCrate
	if boom {
		g.cratesActive = false
	}
	g.mu.Unlock()

	g.cue(g.opts.CratesScene, g.opts.DrumrollSource)
	_ = g.pr.SetVisibility(g.opts.CratesScene, g.crate(n), false)
	if boom {
		g.cue(g.opts.CratesScene, g.opts.ExplosionSource)
	} else {
		g.cue(g.opts.CratesScene, g.opts.SafeSource)
	}
	return boom, nil
}

// ResetCrates clears the board state and hides every crate and bomb.
func (g *Games) ResetCrates() {
	g.mu.Lock()
	g.cratesActive = false
	g.bombCrate = 0
	g.opened = make(map[int]bool)
	g.mu.Unlock()

	for i := 1; i <= NumCrates; i++ {
		_ = g.pr.SetVisibility(g.opts.CratesScene, g.crate(i), false)
		_ = g.pr.SetVisibility(g.opts.CratesScene, g.bomb(i), false)
	}
}

func (g *Games) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	opened := make([]int, 0, len(g.opened))
	for n := range g.opened {
		opened = append(opened, n)
	}
	sort.Ints(opened)
	return State{
		Player:       g.player,
		GunHidden:    g.gunHidden,
		CratesActive: g.cratesActive,
		Opened:       opened,
	}
}

// cue re-shows a media source, which makes OBS restart its playback.
func (g *Games) cue(scene, source string) {
	_ = g.pr.SetVisibility(scene, source, false)
	_ = g.pr.SetVisibility(scene, source, true)
}

func (g *Games) crate(i int) string { return fmt.Sprintf(g.opts.CrateTemplate, i) }

func (g *Games) bomb(i int) string { return fmt.Sprintf(g.opts.BombTemplate, i) }
