package automod

import (
	"fmt"
	"sync"
	"time"

	"github.com/groblegark/warden/internal/model"
)

// Message is the inbound message event the spam checker evaluates.
type Message struct {
	GuildID   int64
	ChannelID int64
	AuthorID  int64
	Content   string
	// MentionCount is the number of distinct non-bot, non-self user
	// mentions in the message, counted by the event feed.
	MentionCount int
	CreatedAt    time.Time
}

// cooldown is a fixed-window rate counter keyed by string. A key that
// accumulates more than rate tokens inside one window is rate-limited.
type cooldown struct {
	rate    int
	per     time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	tokens      int
}

func newCooldown(rate int, per time.Duration) *cooldown {
	return &cooldown{rate: rate, per: per, buckets: make(map[string]*bucket)}
}

// update adds tokens for the key and reports whether the rate is now
// exceeded within the current window.
func (c *cooldown) update(key string, now time.Time, tokens int) bool {
	b, ok := c.buckets[key]
	if !ok || now.Sub(b.windowStart) >= c.per {
		b = &bucket{windowStart: now}
		c.buckets[key] = b
	}
	b.tokens += tokens
	return b.tokens > c.rate
}

// evict drops buckets whose window has long passed, bounding memory on
// busy guilds. Called opportunistically from the update path.
func (c *cooldown) evict(now time.Time) {
	for key, b := range c.buckets {
		if now.Sub(b.windowStart) >= 2*c.per {
			delete(c.buckets, key)
		}
	}
}

// Checker holds one guild's spam-tracking state. The thresholds follow
// long-observed raid behavior: ordinary members do not hit them.
//
//  1. A single user sending more than 10 messages in 12 seconds.
//  2. The same content appearing more than 15 times in 17 seconds
//     (catches alternating spam bots).
//  3. Members who joined in a fast-join burst sending more than 10
//     messages in 12 seconds anywhere in a channel.
type Checker struct {
	mu          sync.Mutex
	byUser      *cooldown
	byContent   *cooldown
	hitAndRun   *cooldown
	byMentions  *cooldown
	mentionRate int

	fastJoiners map[int64]time.Time
	lastJoin    time.Time
}

// fastJoinerTTL is how long a fast-join flag sticks to a member.
const fastJoinerTTL = 30 * time.Minute

// NewChecker creates spam-tracking state for one guild.
func NewChecker() *Checker {
	return &Checker{
		byUser:      newCooldown(10, 12*time.Second),
		byContent:   newCooldown(15, 17*time.Second),
		hitAndRun:   newCooldown(10, 12*time.Second),
		fastJoiners: make(map[int64]time.Time),
	}
}

// ObserveJoin records a join and reports whether it was "fast": within
// two seconds of the previous join. Fast joiners get a stickier spam
// bucket for a while.
func (c *Checker) ObserveJoin(memberID int64, joinedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastJoin.IsZero() {
		c.lastJoin = joinedAt
		return false
	}
	fast := joinedAt.Sub(c.lastJoin) <= 2*time.Second
	c.lastJoin = joinedAt
	if fast {
		c.fastJoiners[memberID] = joinedAt.Add(fastJoinerTTL)
	}
	return fast
}

// IsSpamming evaluates a message against the per-user, per-content,
// and fast-joiner buckets.
func (c *Checker) IsSpamming(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := msg.CreatedAt
	c.byUser.evict(now)

	if expiry, ok := c.fastJoiners[msg.AuthorID]; ok {
		if now.After(expiry) {
			delete(c.fastJoiners, msg.AuthorID)
		} else if c.hitAndRun.update(fmt.Sprintf("%d", msg.ChannelID), now, 1) {
			return true
		}
	}

	if c.byUser.update(fmt.Sprintf("%d", msg.AuthorID), now, 1) {
		return true
	}
	if c.byContent.update(fmt.Sprintf("%d:%s", msg.ChannelID, msg.Content), now, 1) {
		return true
	}
	return false
}

// IsMentionSpam reports whether the message pushes its author over the
// guild's mention budget: config.MentionCount * 2 mentions inside 12
// seconds. A single message at or above the raw threshold is the
// caller's fast path; this catches spreading mentions across messages.
func (c *Checker) IsMentionSpam(msg Message, cfg *model.AutomodConfig) bool {
	if cfg.MentionCount == 0 || msg.MentionCount == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	threshold := cfg.MentionCount * 2
	if c.byMentions == nil || c.mentionRate != threshold {
		c.byMentions = newCooldown(threshold, 12*time.Second)
		c.mentionRate = threshold
	}
	return c.byMentions.update(fmt.Sprintf("%d", msg.AuthorID), msg.CreatedAt, msg.MentionCount)
}

// Checkers is a registry of per-guild spam state.
type Checkers struct {
	mu     sync.Mutex
	guilds map[int64]*Checker
}

// NewCheckers creates an empty registry.
func NewCheckers() *Checkers {
	return &Checkers{guilds: make(map[int64]*Checker)}
}

// Guild returns the guild's checker, creating it on first use.
func (cs *Checkers) Guild(guildID int64) *Checker {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.guilds[guildID]
	if !ok {
		c = NewChecker()
		cs.guilds[guildID] = c
	}
	return c
}
