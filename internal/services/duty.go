package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"patrol-beat-tracker/internal/models"
	"patrol-beat-tracker/internal/positioning"
	"patrol-beat-tracker/internal/repository"
)

const (
	// DefaultSyncTimeout bounds each location upsert and delete
	DefaultSyncTimeout = 10 * time.Second
	// DefaultFixTimeout bounds a one-shot position request
	DefaultFixTimeout = 30 * time.Second

	defaultSampleBuffer = 8
)

// ErrEngineClosed is returned for operations issued after Close
var ErrEngineClosed = errors.New("duty engine closed")

// BotNotifier defines the interface for dispatch notifications
type BotNotifier interface {
	SendNotification(message string)
}

// DutyController defines the operations the control API drives
type DutyController interface {
	Login(ctx context.Context, email, password string) (*models.Principal, error)
	Logout(ctx context.Context) error
	CurrentPrincipal() *models.Principal
	StartDuty(ctx context.Context) error
	TakeBreak(ctx context.Context) error
	ResumeDuty(ctx context.Context) error
	EndDuty(ctx context.Context) error
	CurrentPosition(ctx context.Context) (models.Position, error)
	VerifyLocation(ctx context.Context) (*models.LocationRecord, error)
	Status() DutyStatus
}

var _ DutyController = (*Engine)(nil)

// BeatSource exposes the most recently resolved assignment
type BeatSource interface {
	CachedAssignment() *models.BeatAssignment
}

// EngineConfig tunes the reporting loop
// Zero values select the defaults. MinDistance is in meters; DisableDistance
// turns the distance trigger off so only the interval emits samples.
type EngineConfig struct {
	Interval        time.Duration
	MinDistance     float64
	DisableDistance bool
	SyncTimeout     time.Duration
	FixTimeout      time.Duration
	SampleBuffer    int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Interval <= 0 {
		c.Interval = positioning.DefaultInterval
	}
	switch {
	case c.DisableDistance:
		c.MinDistance = 0
	case c.MinDistance <= 0:
		c.MinDistance = positioning.DefaultMinDistance
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	if c.FixTimeout <= 0 {
		c.FixTimeout = DefaultFixTimeout
	}
	if c.SampleBuffer <= 0 {
		c.SampleBuffer = defaultSampleBuffer
	}
	return c
}

// DutyStatus is a point-in-time view of the engine
type DutyStatus struct {
	State               models.DutyState       `json:"state"`
	Tracking            bool                   `json:"tracking"`
	PrincipalID         string                 `json:"principal_id,omitempty"`
	LastSynced          *models.LocationRecord `json:"last_synced,omitempty"`
	ConsecutiveFailures int                    `json:"consecutive_sync_failures"`
}

type command struct {
	ctx   context.Context
	run   func(context.Context) error
	reply chan error
}

type sample struct {
	gen uint64
	pos models.Position
}

// Engine owns the duty state machine and the location reporting loop.
// A single goroutine applies transitions and syncs samples in arrival order.
type Engine struct {
	session  *Session
	beats    BeatSource
	source   positioning.Source
	store    repository.LocationStore
	notifier BotNotifier
	metrics  *Metrics
	cfg      EngineConfig

	commands  chan command
	samples   chan sample
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by run
	state         models.DutyState
	subscription  positioning.SubscriptionID
	generation    uint64
	trackedID     string
	lastSubmitted time.Time
	lastSynced    *models.LocationRecord
	failures      int

	statusMu sync.RWMutex
	status   DutyStatus
}

// NewEngine creates an engine in OFF_DUTY and starts its goroutine.
// beats, notifier and metrics may be nil. A zero MinDistance in cfg selects
// the default trigger; set DisableDistance to report on the interval only.
func NewEngine(
	session *Session,
	beats BeatSource,
	source positioning.Source,
	store repository.LocationStore,
	notifier BotNotifier,
	metrics *Metrics,
	cfg EngineConfig,
) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		session:  session,
		beats:    beats,
		source:   source,
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		commands: make(chan command),
		samples:  make(chan sample, cfg.SampleBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    models.OffDuty,
	}
	e.publishStatus()
	e.metrics.setState(models.OffDuty)

	go e.run()
	return e
}

// Close stops the reporting loop without touching the remote record.
// Callers end duty first when they want the record cleared.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.done
	})
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			e.disarm()
			return
		case cmd := <-e.commands:
			cmd.reply <- cmd.run(cmd.ctx)
		case s := <-e.samples:
			e.handleSample(s)
		}
	}
}

// do runs fn on the engine goroutine and waits for its result
func (e *Engine) do(ctx context.Context, fn func(context.Context) error) error {
	cmd := command{ctx: ctx, run: fn, reply: make(chan error, 1)}
	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrEngineClosed
	}
	return <-cmd.reply
}

// Login signs in and clears any location record left by an earlier run
func (e *Engine) Login(ctx context.Context, email, password string) (*models.Principal, error) {
	var principal *models.Principal
	err := e.do(ctx, func(ctx context.Context) error {
		p, err := e.session.Login(ctx, email, password)
		if err != nil {
			return err
		}
		principal = p
		e.clearStale(ctx, p.ID)
		return nil
	})
	return principal, err
}

// Restore resumes a session from a held identity token and clears stale records
func (e *Engine) Restore(ctx context.Context) (*models.Principal, error) {
	var principal *models.Principal
	err := e.do(ctx, func(ctx context.Context) error {
		p, err := e.session.Restore(ctx)
		if err != nil {
			return err
		}
		principal = p
		e.clearStale(ctx, p.ID)
		return nil
	})
	return principal, err
}

// clearStale enforces off-duty on sign-in; failure is only logged
func (e *Engine) clearStale(ctx context.Context, principalID string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SyncTimeout)
	defer cancel()
	if err := e.store.DeleteLocation(delCtx, principalID); err != nil {
		logrus.WithError(err).WithField("principal", principalID).Warn("⚠️ Could not clear stale location record")
	}
}

// StartDuty requests both permission tiers and arms the reporting loop
func (e *Engine) StartDuty(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) error {
		principal := e.session.CurrentPrincipal()
		if principal == nil {
			return ErrUnauthenticated
		}
		if e.state != models.OffDuty {
			return fmt.Errorf("%w: cannot start duty while %s", ErrInvalidTransition, e.state)
		}
		if err := e.requestPermissions(ctx); err != nil {
			return err
		}
		if err := e.arm(principal.ID); err != nil {
			return err
		}

		e.setState(models.OnDuty)
		logrus.WithFields(logrus.Fields{"principal": principal.ID, "state": e.state}).Info("🚓 Duty started")
		e.notify(e.startMessage(principal, time.Now()))
		return nil
	})
}

// TakeBreak pauses duty; reporting continues
func (e *Engine) TakeBreak(ctx context.Context) error {
	return e.transition(ctx, models.OnDuty, models.Break, "☕ *%s* is on break")
}

// ResumeDuty returns from a break
func (e *Engine) ResumeDuty(ctx context.Context) error {
	return e.transition(ctx, models.Break, models.OnDuty, "🚓 *%s* resumed duty")
}

func (e *Engine) transition(ctx context.Context, from, to models.DutyState, message string) error {
	return e.do(ctx, func(ctx context.Context) error {
		principal := e.session.CurrentPrincipal()
		if principal == nil {
			return ErrUnauthenticated
		}
		if e.state != from {
			return fmt.Errorf("%w: cannot go %s from %s", ErrInvalidTransition, to, e.state)
		}
		e.setState(to)
		logrus.WithFields(logrus.Fields{"principal": principal.ID, "state": to}).Info("🔁 Duty state changed")
		e.notify(fmt.Sprintf(message, displayName(principal)))
		return nil
	})
}

// EndDuty disarms the loop and deletes the remote record. The state is OFF_DUTY
// even when the delete fails; the error then wraps ErrTeardownFailure.
func (e *Engine) EndDuty(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) error {
		principal := e.session.CurrentPrincipal()
		if principal == nil {
			return ErrUnauthenticated
		}
		if e.state == models.OffDuty {
			return fmt.Errorf("%w: already off duty", ErrInvalidTransition)
		}

		err := e.teardown(ctx)
		logrus.WithField("principal", principal.ID).Info("🏁 Duty ended")
		e.notify(fmt.Sprintf("🏁 *%s* is off duty", displayName(principal)))
		return err
	})
}

// Logout ends duty if needed and tears down the session. It is safe to call when signed out.
func (e *Engine) Logout(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) error {
		principal := e.session.CurrentPrincipal()

		var err error
		if e.state != models.OffDuty || e.subscription != "" {
			err = e.teardown(ctx)
			if principal != nil {
				e.notify(fmt.Sprintf("👋 *%s* signed out while on duty", displayName(principal)))
			}
		}
		e.session.Logout(ctx)
		return err
	})
}

// CurrentPrincipal returns the signed-in principal, or nil
func (e *Engine) CurrentPrincipal() *models.Principal {
	return e.session.CurrentPrincipal()
}

// CurrentPosition returns a single fix after checking foreground permission
func (e *Engine) CurrentPosition(ctx context.Context) (models.Position, error) {
	if !e.session.IsAuthenticated() {
		return models.Position{}, ErrUnauthenticated
	}
	granted, err := e.source.RequestForegroundPermission(ctx)
	if err != nil || granted != positioning.Granted {
		return models.Position{}, permissionErr(positioning.Foreground, err)
	}

	fixCtx, cancel := context.WithTimeout(ctx, e.cfg.FixTimeout)
	defer cancel()
	p, err := e.source.GetOnce(fixCtx)
	if err != nil {
		return models.Position{}, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// VerifyLocation reads back the principal's remote record; nil means none exists
func (e *Engine) VerifyLocation(ctx context.Context) (*models.LocationRecord, error) {
	principal := e.session.CurrentPrincipal()
	if principal == nil {
		return nil, ErrUnauthenticated
	}
	rec, err := readWithRetry(ctx, "read location", e.cfg.SyncTimeout, func(ctx context.Context) (*models.LocationRecord, error) {
		return e.store.GetLocation(ctx, principal.ID)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Status returns a snapshot of the engine
func (e *Engine) Status() DutyStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	st := e.status
	if st.LastSynced != nil {
		rec := *st.LastSynced
		st.LastSynced = &rec
	}
	return st
}

// State returns the current duty state
func (e *Engine) State() models.DutyState {
	return e.Status().State
}

func (e *Engine) requestPermissions(ctx context.Context) error {
	fg, err := e.source.RequestForegroundPermission(ctx)
	if err != nil || fg != positioning.Granted {
		return permissionErr(positioning.Foreground, err)
	}
	bg, err := e.source.RequestBackgroundPermission(ctx)
	if err != nil || bg != positioning.Granted {
		return permissionErr(positioning.Background, err)
	}
	return nil
}

func permissionErr(tier positioning.Tier, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s access: %w", ErrPermissionDenied, tier, err)
	}
	return fmt.Errorf("%w: %s access not granted", ErrPermissionDenied, tier)
}

// arm subscribes once; a live subscription makes it a no-op
func (e *Engine) arm(principalID string) error {
	if e.subscription != "" {
		return nil
	}

	e.generation++
	gen := e.generation
	// ordering is per shift; a skewed fix from an earlier shift must not block this one
	e.lastSubmitted = time.Time{}
	id, err := e.source.Subscribe(e.cfg.Interval, e.cfg.MinDistance, func(p models.Position) {
		select {
		case e.samples <- sample{gen: gen, pos: p}:
		default:
			e.metrics.observeSync(SyncDropped, 0)
		}
	})
	if err != nil {
		return fmt.Errorf("start location updates: %w", err)
	}

	e.subscription = id
	e.trackedID = principalID
	e.publishStatus()
	logrus.WithFields(logrus.Fields{
		"principal":    principalID,
		"interval":     e.cfg.Interval,
		"min_distance": e.cfg.MinDistance,
	}).Info("📡 Location tracking armed")
	return nil
}

// disarm stops future samples; queued samples from this arm are discarded by generation
func (e *Engine) disarm() {
	if e.subscription == "" {
		return
	}
	if err := e.source.Unsubscribe(e.subscription); err != nil {
		logrus.WithError(err).Warn("⚠️ Unsubscribe failed")
	}
	e.subscription = ""
	e.generation++
	e.publishStatus()
	logrus.WithField("principal", e.trackedID).Info("📴 Location tracking disarmed")
}

// teardown disarms, moves to OFF_DUTY and deletes the remote record
func (e *Engine) teardown(ctx context.Context) error {
	principalID := e.trackedID
	e.disarm()
	e.trackedID = ""
	e.lastSubmitted = time.Time{}
	e.lastSynced = nil
	e.failures = 0
	e.setState(models.OffDuty)

	if principalID == "" {
		return nil
	}

	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SyncTimeout)
	defer cancel()
	if err := e.store.DeleteLocation(delCtx, principalID); err != nil {
		e.metrics.teardownFailed()
		logrus.WithError(err).WithField("principal", principalID).Error("❌ Failed to clear location record")
		e.notify(fmt.Sprintf("⚠️ *Location record not cleared*\n👤 `%s`\nThe dashboard may still show this officer.", principalID))
		return fmt.Errorf("%w: %w", ErrTeardownFailure, err)
	}
	return nil
}

func (e *Engine) handleSample(s sample) {
	if e.subscription == "" || s.gen != e.generation {
		e.metrics.observeSync(SyncStale, 0)
		return
	}
	if !s.pos.Timestamp.After(e.lastSubmitted) {
		e.metrics.observeSync(SyncStale, 0)
		logrus.WithField("timestamp", s.pos.Timestamp).Debug("dropping out-of-order sample")
		return
	}
	e.lastSubmitted = s.pos.Timestamp

	rec := models.LocationRecord{
		PersonnelID: e.trackedID,
		Latitude:    s.pos.Latitude,
		Longitude:   s.pos.Longitude,
		Accuracy:    s.pos.Accuracy,
		UpdatedAt:   s.pos.Timestamp.UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SyncTimeout)
	started := time.Now()
	err := e.store.UpsertLocation(ctx, rec)
	took := time.Since(started)
	cancel()

	fields := logrus.Fields{
		"principal": rec.PersonnelID,
		"state":     e.state,
		"lat":       rec.Latitude,
		"lng":       rec.Longitude,
	}

	if err != nil {
		e.metrics.observeSync(SyncError, took)
		e.failures++
		logrus.WithError(fmt.Errorf("%w: %w", ErrSyncFailure, err)).WithFields(fields).Error("❌ Location sync failed")
		if e.failures == 1 {
			e.notify(fmt.Sprintf("⚠️ *Location sync failing*\n👤 `%s`\n`%v`", rec.PersonnelID, err))
		}
		e.publishStatus()
		return
	}

	e.metrics.observeSync(SyncOK, took)
	if e.failures > 0 {
		logrus.WithFields(fields).Info("✅ Location sync recovered")
		e.notify(fmt.Sprintf("✅ *Location sync recovered*\n👤 `%s`", rec.PersonnelID))
	}
	e.failures = 0
	e.lastSynced = &rec
	e.publishStatus()
	logrus.WithFields(fields).Debug("location synced")
}

func (e *Engine) setState(state models.DutyState) {
	e.state = state
	e.metrics.setState(state)
	e.publishStatus()
}

func (e *Engine) publishStatus() {
	st := DutyStatus{
		State:               e.state,
		Tracking:            e.subscription != "",
		PrincipalID:         e.trackedID,
		ConsecutiveFailures: e.failures,
	}
	if e.lastSynced != nil {
		rec := *e.lastSynced
		st.LastSynced = &rec
	}
	e.statusMu.Lock()
	e.status = st
	e.statusMu.Unlock()
}

func (e *Engine) notify(message string) {
	if e.notifier == nil {
		return
	}
	e.notifier.SendNotification(message)
}

func (e *Engine) startMessage(p *models.Principal, now time.Time) string {
	msg := fmt.Sprintf("🚓 *%s is on duty*\n🕐 Time: `%s`", displayName(p), now.Format("15:04:05"))
	if e.beats == nil {
		return msg
	}
	ba := e.beats.CachedAssignment()
	if ba == nil {
		return msg
	}

	msg += fmt.Sprintf("\n📍 Beat: `%s`", ba.Beat.Name)
	switch calculateStatus(now, ba.Beat.DutyStartTime) {
	case StartOnTime:
		msg += "\n⏰ Status: *on time*"
	case StartLate:
		msg += fmt.Sprintf("\n⚠️ Status: *%s*", calculateLateStatus(now, ba.Beat.DutyStartTime))
	}
	return msg
}

func displayName(p *models.Principal) string {
	if p.Rank != "" && p.FullName != "" {
		return p.Rank + " " + p.FullName
	}
	if p.FullName != "" {
		return p.FullName
	}
	return p.Email
}
