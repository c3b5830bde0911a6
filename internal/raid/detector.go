// Package raid detects join bursts: more joins inside a sliding window
// than a guild should ever see organically.
package raid

import (
	"sync"
	"time"

	"github.com/groblegark/warden/internal/model"
)

// Default detection parameters. Ten joins in thirty seconds is far
// outside organic growth for the guilds this serves.
const (
	DefaultThreshold = 10
	DefaultWindow    = 30 * time.Second
)

// fastJoinGap is the maximum spacing between consecutive joins for the
// later join to be considered part of a scripted burst.
const fastJoinGap = 2 * time.Second

// Activation describes a detected burst. MemberIDs are the joins still
// inside the window when the threshold tripped, so the responder can
// quarantine the members who caused the burst, not just later arrivals.
type Activation struct {
	GuildID    int64
	MemberIDs  []int64
	Window     time.Duration
	DetectedAt time.Time
}

// Join is the result of recording one join event.
type Join struct {
	// Fast is set when this join landed within fastJoinGap of the
	// previous one.
	Fast bool
	// Triggered carries the activation when this join pushed the guild
	// over the threshold. Nil otherwise, and nil for every join while
	// the guild is already marked active.
	Triggered *Activation
}

type join struct {
	at     time.Time
	member int64
}

type guildState struct {
	joins    []join
	lastJoin time.Time
	active   bool
}

// Detector tracks join timestamps per guild. Callers mark a guild
// active once they have acted on an activation; an active guild emits
// no further activations until Reset.
type Detector struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	guilds    map[int64]*guildState
}

// New creates a detector with the given threshold and window. Zero
// values select the defaults.
func New(threshold int, window time.Duration) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Detector{threshold: threshold, window: window, guilds: make(map[int64]*guildState)}
}

// Observe records a join and reports whether it was fast and whether it
// tripped the threshold. A valid policy overrides the detector's
// defaults for this evaluation; the zero policy keeps them. Timestamps
// are expected in non-decreasing order per guild; a stale timestamp is
// still counted but prunes nothing.
func (d *Detector) Observe(guildID, memberID int64, at time.Time, policy model.RatePolicy) Join {
	d.mu.Lock()
	defer d.mu.Unlock()

	threshold, window := d.threshold, d.window
	if policy.Joins > 0 && policy.Per > 0 {
		threshold, window = policy.Joins, policy.Per
	}

	g, ok := d.guilds[guildID]
	if !ok {
		g = &guildState{}
		d.guilds[guildID] = g
	}

	var j Join
	if !g.lastJoin.IsZero() && at.Sub(g.lastJoin) <= fastJoinGap {
		j.Fast = true
	}
	g.lastJoin = at

	// Drop joins that fell out of the window before counting.
	cutoff := at.Add(-window)
	kept := g.joins[:0]
	for _, e := range g.joins {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	g.joins = append(kept, join{at: at, member: memberID})

	if len(g.joins) >= threshold && !g.active {
		g.active = true
		members := make([]int64, len(g.joins))
		for i, e := range g.joins {
			members[i] = e.member
		}
		j.Triggered = &Activation{
			GuildID:    guildID,
			MemberIDs:  members,
			Window:     window,
			DetectedAt: at,
		}
	}
	return j
}

// Active reports whether the guild is currently marked as raided.
func (d *Detector) Active(guildID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.guilds[guildID]
	return ok && g.active
}

// MarkActive forces the active flag, used when a gatekeeper session is
// restored from storage on startup.
func (d *Detector) MarkActive(guildID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.guilds[guildID]
	if !ok {
		g = &guildState{}
		d.guilds[guildID] = g
	}
	g.active = true
}

// Reset clears the active flag and the join history so a later burst
// can trigger again.
func (d *Detector) Reset(guildID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.guilds, guildID)
}
