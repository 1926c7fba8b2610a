// Package pool tracks recently-seen chatters per platform and hands out
// uniform-random picks without replacement.
package pool

import (
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/you/chat-conference/internal/core"
)

// DefaultTimeout is how long a chatter stays eligible after their last message.
const DefaultTimeout = 60 * time.Second

// Pool holds one membership map and one picked set per platform. Entries are
// pruned lazily on pick attempts, never on a timer, so an idle pool costs
// nothing. Picked chatters stay excluded until ClearAll.
type Pool struct {
	mu      sync.Mutex
	timeout time.Duration

	members map[core.Platform]map[string]time.Time
	picked  map[core.Platform]map[string]struct{}
	last    map[string]string // "twitch" | "tiktok" | "either" -> username

	now  func() time.Time
	pick func(n int) int
}

func New(timeout time.Duration) *Pool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pool{
		timeout: timeout,
		members: map[core.Platform]map[string]time.Time{
			core.PlatformTwitch: {},
			core.PlatformTikTok: {},
		},
		picked: map[core.Platform]map[string]struct{}{
			core.PlatformTwitch: {},
			core.PlatformTikTok: {},
		},
		last: map[string]string{},
		now:  time.Now,
		pick: rand.IntN,
	}
}

// AddChatter upserts lastSeen for (platform, username). Unknown platforms are
// ignored so malformed input can never break ingestion.
func (p *Pool) AddChatter(username string, platform core.Platform) {
	username = trimName(username)
	if username == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.members[platform]
	if !ok {
		return
	}
	m[username] = p.now()
}

// PickRandomTwitch draws a not-yet-picked Twitch chatter, or ok=false when the
// pool is exhausted.
func (p *Pool) PickRandomTwitch() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.pickLocked(core.PlatformTwitch)
	if ok {
		p.last["twitch"] = name
	}
	return name, ok
}

// PickRandomTiktok draws a not-yet-picked TikTok chatter.
func (p *Pool) PickRandomTiktok() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.pickLocked(core.PlatformTikTok)
	if ok {
		p.last["tiktok"] = name
	}
	return name, ok
}

// PickRandomEither draws uniformly from the union of both pools minus both
// picked sets. If a username appears in both pools (possible only in the
// transient window before pruning), Twitch wins the attribution.
func (p *Pool) PickRandomEither() (core.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked(core.PlatformTwitch)
	p.pruneLocked(core.PlatformTikTok)

	seen := make(map[string]struct{})
	var available []string
	for _, platform := range []core.Platform{core.PlatformTwitch, core.PlatformTikTok} {
		for name := range p.members[platform] {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			if p.isPickedLocked(name) {
				continue
			}
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return core.Identity{}, false
	}
	sort.Strings(available)
	name := available[p.pick(len(available))]

	// twitch-first tie-break
	platform := core.PlatformTikTok
	if _, ok := p.members[core.PlatformTwitch][name]; ok {
		platform = core.PlatformTwitch
	}
	p.picked[platform][name] = struct{}{}
	p.last["either"] = name
	return core.Identity{Username: name, Platform: platform}, true
}

// ClearAll empties both pools, both picked sets and the last-selected record.
func (p *Pool) ClearAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for platform := range p.members {
		p.members[platform] = map[string]time.Time{}
		p.picked[platform] = map[string]struct{}{}
	}
	p.last = map[string]string{}
}

// LastSelected returns a copy of the last pick per selector kind.
func (p *Pool) LastSelected() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.last))
	for k, v := range p.last {
		out[k] = v
	}
	return out
}

// Sizes reports current membership per platform, after pruning.
func (p *Pool) Sizes() map[core.Platform]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(core.PlatformTwitch)
	p.pruneLocked(core.PlatformTikTok)
	return map[core.Platform]int{
		core.PlatformTwitch: len(p.members[core.PlatformTwitch]),
		core.PlatformTikTok: len(p.members[core.PlatformTikTok]),
	}
}

func (p *Pool) pickLocked(platform core.Platform) (string, bool) {
	p.pruneLocked(platform)

	var available []string
	for name := range p.members[platform] {
		if _, taken := p.picked[platform][name]; taken {
			continue
		}
		available = append(available, name)
	}
	if len(available) == 0 {
		return "", false
	}
	sort.Strings(available)
	name := available[p.pick(len(available))]
	p.picked[platform][name] = struct{}{}
	return name, true
}

func (p *Pool) pruneLocked(platform core.Platform) {
	cutoff := p.now().Add(-p.timeout)
	for name, lastSeen := range p.members[platform] {
		if lastSeen.Before(cutoff) {
			delete(p.members[platform], name)
		}
	}
}

func (p *Pool) isPickedLocked(name string) bool {
	if _, ok := p.picked[core.PlatformTwitch][name]; ok {
		return true
	}
	_, ok := p.picked[core.PlatformTikTok][name]
	return ok
}

func trimName(s string) string { return strings.TrimSpace(s) }
