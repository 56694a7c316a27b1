package webhooks

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

type BurstMode string

const (
	BurstModeNone     BurstMode = "none"
	BurstModeCoalesce BurstMode = "coalesce"
	BurstModeDebounce BurstMode = "debounce"
)

const (
	defaultBurstWindow     = 5 * time.Second
	defaultBurstMaxEntries = 4096
)

type BurstDecision struct {
	Allow bool
	// Suppressed counts deliveries dropped for the key in the current burst,
	// including this one.
	Suppressed int
	Metadata   map[string]any
}

type BurstController interface {
	Allow(ctx context.Context, notification Notification) (BurstDecision, error)
}

type BurstKeyExtractor func(notification Notification) (string, bool)

type BurstOptions struct {
	Mode       BurstMode
	Window     time.Duration
	MaxEntries int
	ExtractKey BurstKeyExtractor
	Now        func() time.Time
}

type burstEntry struct {
	openedAt   time.Time
	lastSeenAt time.Time
	suppressed int
}

// DefaultBurstController suppresses notifications whose key is inside an
// open burst. Coalesce closes the burst a window after its first delivery,
// debounce a window after its latest one.
type DefaultBurstController struct {
	mode       BurstMode
	window     time.Duration
	maxEntries int
	extractKey BurstKeyExtractor
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*burstEntry
}

func NewBurstController(opts BurstOptions) *DefaultBurstController {
	c := &DefaultBurstController{
		mode:       normalizeBurstMode(opts.Mode),
		window:     opts.Window,
		maxEntries: opts.MaxEntries,
		extractKey: opts.ExtractKey,
		now:        opts.Now,
		entries:    map[string]*burstEntry{},
	}
	if c.window <= 0 {
		c.window = defaultBurstWindow
	}
	if c.maxEntries <= 0 {
		c.maxEntries = defaultBurstMaxEntries
	}
	if c.extractKey == nil {
		c.extractKey = DefaultBurstKeyExtractor
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

func (c *DefaultBurstController) Allow(_ context.Context, notification Notification) (BurstDecision, error) {
	if c == nil || c.mode == BurstModeNone {
		return BurstDecision{Allow: true}, nil
	}
	key, ok := c.extractKey(notification)
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return BurstDecision{Allow: true}, nil
	}

	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[key]
	if entry == nil || !c.open(entry, now) {
		c.entries[key] = &burstEntry{openedAt: now, lastSeenAt: now}
		c.evict(now)
		return BurstDecision{Allow: true}, nil
	}

	entry.lastSeenAt = now
	entry.suppressed++
	return BurstDecision{
		Allow:      false,
		Suppressed: entry.suppressed,
		Metadata: map[string]any{
			"burst_mode":      string(c.mode),
			"burst_key":       key,
			"burst_window_ms": c.window.Milliseconds(),
			"burst_age_ms":    now.Sub(entry.openedAt).Milliseconds(),
		},
	}, nil
}

// Len reports the number of tracked burst keys.
func (c *DefaultBurstController) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *DefaultBurstController) open(entry *burstEntry, now time.Time) bool {
	anchor := entry.openedAt
	if c.mode == BurstModeDebounce {
		anchor = entry.lastSeenAt
	}
	return now.Sub(anchor) < c.window
}

// evict drops closed bursts; when every tracked burst is still open and the
// table is over capacity, the least recently seen keys go first.
func (c *DefaultBurstController) evict(now time.Time) {
	for key, entry := range c.entries {
		if !c.open(entry, now) {
			delete(c.entries, key)
		}
	}
	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.lastSeenAt.Before(oldest) {
				oldestKey, oldest = key, entry.lastSeenAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

// DefaultBurstKeyExtractor keys a notification by seller, topic and resource.
func DefaultBurstKeyExtractor(notification Notification) (string, bool) {
	topic := strings.ToLower(strings.TrimSpace(notification.Topic))
	resource := strings.ToLower(strings.TrimSpace(notification.Resource))
	if topic == "" || resource == "" || notification.UserID <= 0 {
		return "", false
	}
	return strconv.FormatInt(notification.UserID, 10) + ":" + topic + ":" + resource, true
}

func normalizeBurstMode(mode BurstMode) BurstMode {
	switch BurstMode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case BurstModeCoalesce:
		return BurstModeCoalesce
	case BurstModeDebounce:
		return BurstModeDebounce
	default:
		return BurstModeNone
	}
}

var _ BurstController = (*DefaultBurstController)(nil)
