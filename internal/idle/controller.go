// Package idle expires an inactive personnel session in two steps: a soft
// reset after the first timeout and a logout after the second. Every tab of
// a session group runs a Controller; activity in any of them restarts the
// clock in all of them, and each tier action runs in exactly one tab.
//
// The department (tenant) login is never touched. Only the personnel slot
// in the session store is cleared.
package idle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/station-notify/internal/bus"
	"github.com/hubenschmidt/station-notify/internal/clock"
	"github.com/hubenschmidt/station-notify/internal/metrics"
	"github.com/hubenschmidt/station-notify/internal/session"
)

const (
	DefaultSoftResetAfter = 10 * time.Minute
	DefaultLogoutAfter    = 15 * time.Minute
	DefaultThrottle       = time.Second

	topic         = "idle"
	actionTimeout = 5 * time.Second
)

var ErrInvalidConfig = errors.New("invalid idle controller configuration")

// Options configures a Controller.
type Options struct {
	// Group names the session group; claims are scoped to it.
	Group string

	// SoftResetAfter and LogoutAfter are both measured from the last
	// activity. LogoutAfter must be larger.
	SoftResetAfter time.Duration
	LogoutAfter    time.Duration

	// Throttle drops local activity reported this soon after the current
	// epoch, so a stream of input events costs one broadcast.
	Throttle time.Duration

	Bus   bus.Bus
	Store session.Store
	Clock clock.Clock

	// OnSoftReset runs in the claiming tab at both tiers: return the
	// console to the department home.
	OnSoftReset func()
	// OnLogout runs in the claiming tab after the personnel record has been
	// cleared. It is not called when nobody was signed in.
	OnLogout func(*session.Record)
	// OnTier runs in every tab whenever its local tier changes.
	OnTier func(Tier)

	Logger *slog.Logger
}

// Controller is one tab's view of the shared idle state.
type Controller struct {
	opts  Options
	tabID string
	log   *slog.Logger

	mu      sync.Mutex
	epoch   time.Time
	tier    Tier
	timer   *clock.Timer
	gen     uint64
	started bool
	closed  bool

	sub     bus.Subscription
	unwatch func()
}

// New validates opts and returns a stopped Controller.
func New(opts Options) (*Controller, error) {
	if opts.Bus == nil || opts.Store == nil {
		return nil, fmt.Errorf("%w: bus and store are required", ErrInvalidConfig)
	}
	if opts.SoftResetAfter <= 0 {
		opts.SoftResetAfter = DefaultSoftResetAfter
	}
	if opts.LogoutAfter <= 0 {
		opts.LogoutAfter = DefaultLogoutAfter
	}
	if opts.LogoutAfter <= opts.SoftResetAfter {
		return nil, fmt.Errorf("%w: logout after %s must exceed soft reset after %s",
			ErrInvalidConfig, opts.LogoutAfter, opts.SoftResetAfter)
	}
	if opts.Throttle < 0 {
		opts.Throttle = 0
	} else if opts.Throttle == 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	tab := uuid.NewString()
	return &Controller{
		opts:  opts,
		tabID: tab,
		log:   opts.Logger.With("component", "idle", "tab", tab),
	}, nil
}

// Start subscribes to the group and arms the soft-reset timer from now.
// Opening a tab counts as activity for the whole group.
func (c *Controller) Start(ctx context.Context) error {
	sub, err := c.opts.Bus.Subscribe(ctx, topic, c.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe idle topic: %w", err)
	}
	unwatch, err := c.opts.Store.Watch(ctx, c.handleSessionChange)
	if err != nil {
		sub.Close()
		return err
	}

	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		sub.Close()
		unwatch()
		return nil
	}
	c.started = true
	c.sub = sub
	c.unwatch = unwatch
	now := c.opts.Clock.Now()
	c.epoch = now
	c.armLocked(c.opts.SoftResetAfter, TierSoftReset)
	c.mu.Unlock()

	c.publish(ctx, message{Kind: kindActivity, Tab: c.tabID, At: now})
	return nil
}

// Activity records user input in this tab and, unless throttled, tells the
// rest of the group.
func (c *Controller) Activity(ctx context.Context) {
	now := c.opts.Clock.Now()

	c.mu.Lock()
	if !c.started || c.closed {
		c.mu.Unlock()
		return
	}
	if d := now.Sub(c.epoch); c.tier == TierActive && d >= 0 && d < c.opts.Throttle {
		c.mu.Unlock()
		return
	}
	changed := c.resetLocked(now)
	c.mu.Unlock()

	c.notifyTier(changed)
	c.publish(ctx, message{Kind: kindActivity, Tab: c.tabID, At: now})
}

// State returns the current epoch and tier.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{LastActivity: c.epoch, Tier: c.tier}
}

// Close cancels the pending timer and leaves the group.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.timer.Stop()
	c.timer = nil
	sub, unwatch := c.sub, c.unwatch
	c.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if sub != nil {
		return sub.Close()
	}
	return nil
}

// resetLocked adopts at as the epoch, returns to TierActive and re-arms
// the soft-reset timer. It reports whether the tier changed.
func (c *Controller) resetLocked(at time.Time) bool {
	changed := c.tier != TierActive
	c.epoch = at
	c.tier = TierActive
	c.armLocked(c.opts.SoftResetAfter, TierSoftReset)
	return changed
}

// armLocked schedules the transition to next at epoch+after.
func (c *Controller) armLocked(after time.Duration, next Tier) {
	c.timer.Stop()
	c.gen++
	gen := c.gen
	delay := max(c.epoch.Add(after).Sub(c.opts.Clock.Now()), time.Millisecond)
	c.timer = c.opts.Clock.AfterFunc(delay, func() { c.expire(gen, next) })
}

// advanceLocked moves to tier and arms the logout timer if one follows.
func (c *Controller) advanceLocked(tier Tier) {
	c.tier = tier
	if tier == TierSoftReset {
		c.armLocked(c.opts.LogoutAfter, TierLogout)
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.gen++
}

func (c *Controller) expire(gen uint64, tier Tier) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.tier >= tier {
		c.mu.Unlock()
		return
	}
	c.advanceLocked(tier)
	epoch := c.epoch
	c.mu.Unlock()

	c.notifyTier(true)

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if !c.claim(ctx, epoch, tier) {
		return
	}
	c.runAction(ctx, tier)
	c.publish(ctx, message{Kind: kindTier, Tab: c.tabID, At: epoch, Tier: tier})
}

// claim reports whether this tab runs the action for epoch and tier. A bus
// failure runs the action locally: a missed logout is worse than a repeated
// navigation.
func (c *Controller) claim(ctx context.Context, epoch time.Time, tier Tier) bool {
	key := fmt.Sprintf("idle:%s:%d:%d", c.opts.Group, epoch.UnixMilli(), tier)
	won, err := c.opts.Bus.Claim(ctx, key, c.opts.LogoutAfter)
	if err != nil {
		c.log.Warn("idle claim failed, acting locally", "tier", tier.String(), "error", err)
		return true
	}
	return won
}

func (c *Controller) runAction(ctx context.Context, tier Tier) {
	metrics.IdleTransitions.WithLabelValues(tier.String()).Inc()
	c.log.Info("idle timeout", "tier", tier.String())

	if tier == TierLogout {
		c.logout(ctx)
	}
	if c.opts.OnSoftReset != nil {
		c.opts.OnSoftReset()
	}
}

func (c *Controller) logout(ctx context.Context) {
	rec, err := c.opts.Store.Read(ctx)
	if err != nil {
		c.log.Error("read personnel session", "error", err)
		return
	}
	if rec == nil {
		return
	}
	if err := c.opts.Store.Clear(ctx); err != nil {
		c.log.Error("clear personnel session", "error", err)
		return
	}
	c.log.Info("personnel session expired", "personnel_id", rec.PersonnelID)
	if c.opts.OnLogout != nil {
		c.opts.OnLogout(rec)
	}
}

func (c *Controller) handleMessage(payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Warn("idle message decode", "error", err)
		return
	}
	if msg.Tab == c.tabID {
		return
	}
	switch msg.Kind {
	case kindActivity:
		c.adopt(msg.At)
	case kindTier:
		c.follow(msg.At, msg.Tier)
	}
}

// handleSessionChange treats a sign-in from another tab as activity. The
// writing tab does not see its own change, so the adopted epoch is passed
// on to the group.
func (c *Controller) handleSessionChange(ch session.Change) {
	if ch.Cleared() || ch.Record.IssuedAt.IsZero() {
		return
	}
	if at, ok := c.adopt(ch.Record.IssuedAt); ok {
		c.publish(context.Background(), message{Kind: kindActivity, Tab: c.tabID, At: at})
	}
}

// adopt restarts from a remote epoch if it is later than ours. An epoch
// in the future is taken as now. It returns the epoch adopted.
func (c *Controller) adopt(at time.Time) (time.Time, bool) {
	if now := c.opts.Clock.Now(); at.After(now) {
		at = now
	}
	c.mu.Lock()
	if !c.started || c.closed || !at.After(c.epoch) {
		c.mu.Unlock()
		return time.Time{}, false
	}
	changed := c.resetLocked(at)
	c.mu.Unlock()
	c.notifyTier(changed)
	return at, true
}

// follow applies a tier another tab reached for our epoch.
func (c *Controller) follow(epoch time.Time, tier Tier) {
	c.mu.Lock()
	if !c.started || c.closed || !epoch.Equal(c.epoch) || tier <= c.tier {
		c.mu.Unlock()
		return
	}
	c.advanceLocked(tier)
	c.mu.Unlock()
	c.notifyTier(true)
}

func (c *Controller) notifyTier(changed bool) {
	if !changed || c.opts.OnTier == nil {
		return
	}
	c.opts.OnTier(c.State().Tier)
}

func (c *Controller) publish(ctx context.Context, msg message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.opts.Bus.Publish(ctx, topic, payload); err != nil {
		c.log.Warn("idle publish", "kind", msg.Kind, "error", err)
	}
}
