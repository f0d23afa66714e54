// Package syncer replays queued writes against the remote store and
// refreshes the local cache. An Orchestrator moves between Idle, Syncing and
// Offline; writes made while Offline wait in the queue until the next pass.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gartstein/fives/internal/fives/cache"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/events"
	"github.com/gartstein/fives/internal/fives/ids"
	"github.com/gartstein/fives/internal/fives/metrics"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/queue"
	"github.com/gartstein/fives/internal/fives/remote"
	"github.com/gartstein/fives/internal/fives/session"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Remote is the part of the remote store the orchestrator drives.
type Remote interface {
	Apply(ctx context.Context, op models.Operation) (string, error)
	Fetch(ctx context.Context, table string, scope remote.Scope) ([]models.Record, error)
	Ping(ctx context.Context) error
}

// Publisher announces confirmed writes.
type Publisher interface {
	Produce(event events.Event)
}

type Config struct {
	// Interval between connectivity probes and periodic passes.
	Interval time.Duration
	// RequestTimeout bounds every remote call.
	RequestTimeout time.Duration
	// ReplayRate caps replayed operations per second; zero disables the cap.
	ReplayRate  float64
	ReplayBurst int
	// Origin names this instance in published events.
	Origin string
}

func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		RequestTimeout: 10 * time.Second,
		ReplayRate:     20,
		ReplayBurst:    5,
		Origin:         "fives",
	}
}

// Result summarizes one sync pass.
type Result struct {
	Attempted    int `json:"attempted"`
	Applied      int `json:"applied"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
	Skipped      int `json:"skipped"`
	Reconciled   int `json:"reconciled"`

	// Deferred counts operations still waiting out their backoff.
	Deferred int `json:"deferred"`
	// Remaining counts operations still queued after the pass.
	Remaining int64 `json:"remaining"`

	Refreshed      int  `json:"refreshed"`
	RefreshFailed  int  `json:"refresh_failed"`
	StoppedOffline bool `json:"stopped_offline"`
}

// Status is a snapshot of the orchestrator for status endpoints.
type Status struct {
	State       string    `json:"state"`
	Pending     int64     `json:"pending"`
	DeadLetters int       `json:"dead_letters"`
	LastSyncAt  time.Time `json:"last_sync_at"`
	LastError   string    `json:"last_error,omitempty"`
}

type Orchestrator struct {
	cache     *cache.Store
	queue     *queue.Queue
	remote    Remote
	sessions  *session.Manager
	publisher Publisher
	metrics   *metrics.Metrics
	limiter   *rate.Limiter
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time

	pass    sync.Mutex
	trigger chan struct{}

	mu         sync.RWMutex
	state      State
	forceNext  bool
	lastSyncAt time.Time
	lastErr    string
	listeners  []func(State)
}

// New returns an orchestrator in the Offline state; Run or GoOnline brings it up.
// publisher and m may be nil.
func New(
	store *cache.Store,
	q *queue.Queue,
	r Remote,
	sessions *session.Manager,
	publisher Publisher,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	limit := rate.Inf
	if cfg.ReplayRate > 0 {
		limit = rate.Limit(cfg.ReplayRate)
	}
	burst := cfg.ReplayBurst
	if burst < 1 {
		burst = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	o := &Orchestrator{
		cache:     store,
		queue:     q,
		remote:    r,
		sessions:  sessions,
		publisher: publisher,
		metrics:   m,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger.Named("syncer"),
		cfg:       cfg,
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
		state:     Offline,
	}
	m.SetState(Offline.String(), stateNames...)
	return o
}

// OnStateChange registers fn to run on every state transition.
func (o *Orchestrator) OnStateChange(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Online reports whether writes may go straight to the remote store.
func (o *Orchestrator) Online() bool {
	return o.State() != Offline
}

// RequestTimeout is the bound applied to remote calls.
func (o *Orchestrator) RequestTimeout() time.Duration { return o.cfg.RequestTimeout }

func (o *Orchestrator) setState(next State) {
	o.mu.Lock()
	prev := o.state
	o.state = next
	listeners := append([]func(State){}, o.listeners...)
	o.mu.Unlock()

	if prev == next {
		return
	}
	o.logger.Info("Sync state changed", zap.Stringer("from", prev), zap.Stringer("to", next))
	o.metrics.SetState(next.String(), stateNames...)
	for _, fn := range listeners {
		fn(next)
	}
}

// GoOnline leaves Offline and requests a forced pass, which replays every
// queued operation regardless of its backoff schedule.
func (o *Orchestrator) GoOnline() {
	o.mu.Lock()
	wasOffline := o.state == Offline
	if wasOffline {
		o.forceNext = true
	}
	o.mu.Unlock()

	if !wasOffline {
		return
	}
	o.setState(Idle)
	o.signal()
}

// GoOffline switches writes to queue mode. A pass in flight stops before
// its next operation.
func (o *Orchestrator) GoOffline() {
	o.setState(Offline)
}

// Trigger requests a user-initiated pass from the run loop.
func (o *Orchestrator) Trigger() {
	o.mu.Lock()
	o.forceNext = true
	o.mu.Unlock()
	o.signal()
}

func (o *Orchestrator) signal() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) takeForce() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	force := o.forceNext
	o.forceNext = false
	return force
}

// Status reports the state and queue depth.
func (o *Orchestrator) Status(ctx context.Context) Status {
	o.mu.RLock()
	st := Status{
		State:      o.state.String(),
		LastSyncAt: o.lastSyncAt,
		LastError:  o.lastErr,
	}
	o.mu.RUnlock()

	if n, err := o.queue.Len(ctx); err == nil {
		st.Pending = n
	}
	if dead, err := o.queue.DeadLetters(ctx); err == nil {
		st.DeadLetters = len(dead)
	}
	return st
}

// Sync runs one pass: drain the queue, then refresh the cache. force
// replays operations still waiting out their backoff.
func (o *Orchestrator) Sync(ctx context.Context, force bool) (Result, error) {
	if !o.Online() {
		return Result{}, e.ErrOffline
	}
	if !o.pass.TryLock() {
		return Result{}, e.ErrSyncInProgress
	}
	defer o.pass.Unlock()

	start := o.now()
	o.setState(Syncing)

	res, err := o.drain(ctx, force)
	if err == nil && !res.StoppedOffline {
		res.Refreshed, res.RefreshFailed = o.refresh(ctx)
	}
	if n, lenErr := o.queue.Len(ctx); lenErr == nil {
		res.Remaining = n
	}

	outcome := "ok"
	o.mu.Lock()
	switch {
	case err != nil:
		outcome = "error"
		o.lastErr = err.Error()
	case res.Failed > 0 || res.RefreshFailed > 0:
		outcome = "partial"
		o.lastErr = ""
	default:
		o.lastErr = ""
	}
	o.lastSyncAt = o.now()
	stillSyncing := o.state == Syncing
	o.mu.Unlock()

	if stillSyncing {
		o.setState(Idle)
	}
	o.observeQueue(ctx)
	o.metrics.ObserveSync(outcome, o.now().Sub(start))

	o.logger.Info("Sync pass finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("applied", res.Applied),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int64("remaining", res.Remaining),
		zap.Int("refreshed", res.Refreshed),
	)
	return res, err
}

// Drain replays queued operations without refreshing the cache.
func (o *Orchestrator) Drain(ctx context.Context, force bool) (Result, error) {
	if !o.Online() {
		return Result{}, e.ErrOffline
	}
	if !o.pass.TryLock() {
		return Result{}, e.ErrSyncInProgress
	}
	defer o.pass.Unlock()

	res, err := o.drain(ctx, force)
	if n, lenErr := o.queue.Len(ctx); lenErr == nil {
		res.Remaining = n
	}
	o.observeQueue(ctx)
	return res, err
}

func (o *Orchestrator) drain(ctx context.Context, force bool) (Result, error) {
	var res Result
	// every live operation is loaded so ones still in backoff hold back their dependents
	ops, err := o.queue.Pending(ctx, true)
	if err != nil {
		return res, err
	}

	// record ids whose earlier operation did not make it in this pass
	unresolved := make(map[string]bool)
	parked, err := o.queue.DeadLetters(ctx)
	if err != nil {
		return res, err
	}
	for _, op := range parked {
		if op.Kind == models.OpCreate && ids.IsLocal(op.RecordID) {
			unresolved[op.RecordID] = true
		}
	}
	now := o.now()

	for i := 0; i < len(ops); i++ {
		op := ops[i]
		if !o.Online() {
			res.StoppedOffline = true
			break
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		if !force && op.NextAttemptAt.After(now) {
			res.Deferred++
			unresolved[op.RecordID] = true
			continue
		}
		if dependsOn(op, unresolved) {
			res.Skipped++
			unresolved[op.RecordID] = true
			o.logger.Debug("Skipping operation with unresolved reference", zap.Uint64("seq", op.Seq))
			continue
		}

		if err := o.limiter.Wait(ctx); err != nil {
			return res, err
		}

		res.Attempted++
		canonical, err := o.apply(ctx, op)
		if err != nil {
			res.Failed++
			unresolved[op.RecordID] = true
			o.metrics.ObserveReplay(op.Table, "failed")
			dead, ferr := o.queue.RecordFailure(ctx, op.Seq, err)
			if ferr != nil {
				o.logger.Error("Failed to record replay failure", zap.Uint64("seq", op.Seq), zap.Error(ferr))
			}
			if dead {
				res.DeadLettered++
			}
			o.logger.Warn("Replay failed",
				zap.Uint64("seq", op.Seq),
				zap.String("table", op.Table),
				zap.String("record_id", op.RecordID),
				zap.Bool("dead_letter", dead),
				zap.Error(err),
			)
			continue
		}

		res.Applied++
		o.metrics.ObserveReplay(op.Table, "applied")
		if err := o.queue.Remove(ctx, op.Seq); err != nil && !errors.Is(err, e.ErrNotFound) {
			// the receipt makes the next replay of this key a no-op
			o.logger.Error("Failed to remove replayed operation", zap.Uint64("seq", op.Seq), zap.Error(err))
		}

		if op.Kind == models.OpCreate && ids.IsLocal(op.RecordID) && canonical != op.RecordID {
			o.reconcile(ctx, op.RecordID, canonical)
			rewrite(ops[i+1:], op.RecordID, canonical)
			res.Reconciled++
		}
		o.publish(op, canonical)
	}
	return res, nil
}

func (o *Orchestrator) apply(ctx context.Context, op models.Operation) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	return o.remote.Apply(ctx, op)
}

// reconcile replaces a confirmed temporary id in the cache and in the queue.
func (o *Orchestrator) reconcile(ctx context.Context, localID, canonical string) {
	rows := o.cache.RewriteReference(ctx, localID, canonical)
	queued, err := o.queue.RewriteReference(ctx, localID, canonical)
	if err != nil {
		o.logger.Error("Failed to rewrite queued references",
			zap.String("local_id", localID),
			zap.String("id", canonical),
			zap.Error(err),
		)
	}
	o.logger.Info("Reconciled local id",
		zap.String("local_id", localID),
		zap.String("id", canonical),
		zap.Int("cached_rows", rows),
		zap.Int("queued_ops", queued),
	)
}

func (o *Orchestrator) publish(op models.Operation, id string) {
	if o.publisher == nil {
		return
	}
	typ := events.RecordUpdated
	if op.Kind == models.OpCreate {
		typ = events.RecordCreated
	}
	o.publisher.Produce(events.Event{
		Type:     typ,
		Table:    op.Table,
		RecordID: id,
		Origin:   o.cfg.Origin,
		At:       o.now().UTC(),
	})
}

// dependsOn reports whether op targets an unresolved record or references
// an unresolved temporary id.
func dependsOn(op models.Operation, unresolved map[string]bool) bool {
	if unresolved[op.RecordID] {
		return true
	}
	for id := range unresolved {
		if ids.IsLocal(id) && bytes.Contains(op.Payload, []byte(id)) {
			return true
		}
	}
	return false
}

// rewrite applies a reconciliation to operations already loaded for this pass.
func rewrite(ops []models.Operation, oldID, newID string) {
	for i := range ops {
		if ops[i].RecordID == oldID {
			ops[i].RecordID = newID
		}
		ops[i].Payload = bytes.ReplaceAll(ops[i].Payload, []byte(oldID), []byte(newID))
	}
}

// Refresh pulls every mirrored table for the current session into the cache.
func (o *Orchestrator) Refresh(ctx context.Context) (int, error) {
	if !o.Online() {
		return 0, e.ErrOffline
	}
	if _, err := o.sessions.Current(); err != nil {
		return 0, err
	}
	refreshed, failed := o.refresh(ctx)
	if failed > 0 {
		return refreshed, fmt.Errorf("%d of %d tables failed to refresh", failed, len(cache.MirroredTables))
	}
	return refreshed, nil
}

func (o *Orchestrator) refresh(ctx context.Context) (refreshed, failed int) {
	sess, err := o.sessions.Current()
	if err != nil {
		o.logger.Debug("Skipping refresh without a session")
		return 0, 0
	}

	for _, table := range cache.MirroredTables {
		if !o.Online() {
			break
		}
		if err := o.refreshTable(ctx, sess, table); err != nil {
			failed++
			continue
		}
		refreshed++
	}
	o.overlayPending(ctx)
	return refreshed, failed
}

// RefreshTable replaces the cached copy of one mirrored table. On failure the
// previous snapshot is kept.
func (o *Orchestrator) RefreshTable(ctx context.Context, table string) error {
	if !o.Online() {
		return e.ErrOffline
	}
	sess, err := o.sessions.Current()
	if err != nil {
		return err
	}
	if err := o.refreshTable(ctx, sess, table); err != nil {
		return err
	}
	o.overlayPending(ctx)
	return nil
}

func (o *Orchestrator) refreshTable(ctx context.Context, sess *session.Session, table string) error {
	store, ok := cache.StoreForTable(table)
	if !ok {
		return fmt.Errorf("%w: %s is not cached", e.ErrUnknownTable, table)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	recs, err := o.remote.Fetch(fetchCtx, table, sess.Scope())
	if err != nil {
		o.logger.Warn("Refresh failed, keeping cached snapshot", zap.String("table", table), zap.Error(err))
		return err
	}
	if !o.cache.ReplaceStore(ctx, store, recs) {
		return fmt.Errorf("failed to replace cached %s", table)
	}
	return nil
}

// overlayPending writes queued records back over a fresh snapshot so local
// edits stay visible until they are replayed.
func (o *Orchestrator) overlayPending(ctx context.Context) {
	ops, err := o.queue.Pending(ctx, true)
	if err != nil {
		o.logger.Warn("Failed to list pending operations for overlay", zap.Error(err))
		return
	}
	for _, op := range ops {
		store, ok := cache.StoreForTable(op.Table)
		if !ok {
			continue
		}
		rec, err := remote.Decode(op.Table, op.Payload)
		if err != nil {
			continue
		}
		o.cache.Put(ctx, store, rec)
	}
}

// HandleEvent refreshes the table named by another instance's change event.
func (o *Orchestrator) HandleEvent(ctx context.Context, event events.Event) error {
	if _, ok := cache.StoreForTable(event.Table); !ok {
		return nil
	}
	err := o.RefreshTable(ctx, event.Table)
	if errors.Is(err, e.ErrOffline) || errors.Is(err, e.ErrNotSignedIn) {
		return nil
	}
	return err
}

func (o *Orchestrator) observeQueue(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	n, err := o.queue.Len(ctx)
	if err != nil {
		return
	}
	dead, err := o.queue.DeadLetters(ctx)
	if err != nil {
		return
	}
	o.metrics.SetQueue(int(n), len(dead))
}

// Probe checks connectivity and moves between Offline and Idle.
func (o *Orchestrator) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	if err := o.remote.Ping(ctx); err != nil {
		if o.Online() {
			o.logger.Warn("Remote store unreachable", zap.Error(err))
			o.GoOffline()
		}
		return false
	}
	if !o.Online() {
		o.GoOnline()
	}
	return true
}

// Run probes connectivity every interval and runs passes on reconnect, on
// Trigger and on the timer. It returns when ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	o.logger.Info("Starting sync loop", zap.Duration("interval", o.cfg.Interval))
	o.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Sync loop stopped")
			return
		case <-ticker.C:
			if o.Probe(ctx) {
				o.runPass(ctx, o.takeForce())
			}
		case <-o.trigger:
			o.runPass(ctx, o.takeForce())
		}
	}
}

func (o *Orchestrator) runPass(ctx context.Context, force bool) {
	_, err := o.Sync(ctx, force)
	switch {
	case err == nil, errors.Is(err, e.ErrOffline), errors.Is(err, e.ErrSyncInProgress):
	case errors.Is(err, context.Canceled):
	default:
		o.logger.Error("Sync pass failed", zap.Error(err))
	}
}
