// Package controller implements the data-access service. Reads are served
// from the local cache and refreshed in the background; writes go to the
// remote store when it is reachable and to the pending queue when it is not.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gartstein/fives/internal/fives/cache"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/events"
	"github.com/gartstein/fives/internal/fives/ids"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/notify"
	"github.com/gartstein/fives/internal/fives/queue"
	"github.com/gartstein/fives/internal/fives/remote"
	"github.com/gartstein/fives/internal/fives/session"
	"go.uber.org/zap"
)

// Remote defines the remote store operations the service uses.
type Remote interface {
	Apply(ctx context.Context, op models.Operation) (string, error)
	Get(ctx context.Context, table, id string) (models.Record, error)
	Fetch(ctx context.Context, table string, scope remote.Scope) ([]models.Record, error)
	CreateCompanyUser(ctx context.Context, in remote.NewCompanyUser) (*models.CompanyUser, error)
	ListCompanyUsers(ctx context.Context, companyIDs []string, role models.Role) ([]models.CompanyUser, error)
	ListAuditors(ctx context.Context, companyIDs []string) ([]models.CompanyUser, error)
	DeleteUsers(ctx context.Context, userIDs []string) (int64, error)
}

// Syncer reports connectivity and refreshes cached tables.
type Syncer interface {
	Online() bool
	RefreshTable(ctx context.Context, table string) error
	RequestTimeout() time.Duration
}

type EventProducer interface {
	Produce(event events.Event)
}

type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

// Deps wires the service. Producer and Notifier may be nil.
type Deps struct {
	Cache    *cache.Store
	Queue    *queue.Queue
	Remote   Remote
	Syncer   Syncer
	Sessions *session.Manager
	Producer EventProducer
	Notifier Notifier
	// Origin names this instance in published events.
	Origin string
	Scale  models.ScoreScale
}

// Service provides the read and write operations of every workflow.
type Service struct {
	cache    *cache.Store
	queue    *queue.Queue
	remote   Remote
	syncer   Syncer
	sessions *session.Manager
	producer EventProducer
	notifier Notifier
	origin   string
	scale    models.ScoreScale
	logger   *zap.Logger
	now      func() time.Time

	refreshes sync.WaitGroup
	mu        sync.Mutex
	inflight  map[string]bool
}

func NewService(deps Deps, logger *zap.Logger) *Service {
	scale := deps.Scale
	if scale == "" {
		scale = models.ScaleTen
	}
	return &Service{
		cache:    deps.Cache,
		queue:    deps.Queue,
		remote:   deps.Remote,
		syncer:   deps.Syncer,
		sessions: deps.Sessions,
		producer: deps.Producer,
		notifier: deps.Notifier,
		origin:   deps.Origin,
		scale:    scale,
		logger:   logger.Named("service"),
		now:      time.Now,
		inflight: make(map[string]bool),
	}
}

// Scale is the score range audits are computed in.
func (s *Service) Scale() models.ScoreScale { return s.scale }

// Wait blocks until background refreshes have finished.
func (s *Service) Wait() {
	s.refreshes.Wait()
}

func (s *Service) current() (*session.Session, error) {
	return s.sessions.Current()
}

func (s *Service) requireAccess(companyID string) (*session.Session, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	if !sess.CanAccessCompany(companyID) {
		return nil, fmt.Errorf("%w: no access to company %s", e.ErrForbidden, companyID)
	}
	return sess, nil
}

func (s *Service) requireManage(companyID string) (*session.Session, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	if !sess.CanManageCompany(companyID) {
		return nil, fmt.Errorf("%w: cannot manage company %s", e.ErrForbidden, companyID)
	}
	return sess, nil
}

func (s *Service) requirePlatformAdmin() (*session.Session, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	if !sess.IsPlatformAdmin() {
		return nil, fmt.Errorf("%w: platform admin only", e.ErrForbidden)
	}
	return sess, nil
}

func (s *Service) requireOnline() error {
	if !s.syncer.Online() {
		return e.ErrOffline
	}
	return nil
}

// refreshLater starts a bounded background refresh of table unless one is
// already running. The caller has already answered from the cache.
func (s *Service) refreshLater(table string) {
	if !s.syncer.Online() {
		return
	}
	s.mu.Lock()
	if s.inflight[table] {
		s.mu.Unlock()
		return
	}
	s.inflight[table] = true
	s.mu.Unlock()

	s.refreshes.Add(1)
	go func() {
		defer s.refreshes.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, table)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.syncer.RequestTimeout())
		defer cancel()
		if err := s.syncer.RefreshTable(ctx, table); err != nil {
			s.logger.Debug("Background refresh failed", zap.String("table", table), zap.Error(err))
		}
	}()
}

// newID returns a remote id when the write can go straight to the remote
// store and a temporary local id otherwise.
func (s *Service) newID(refs ...string) string {
	if s.syncer.Online() {
		for _, ref := range refs {
			if ids.IsLocal(ref) {
				return ids.NewLocal()
			}
		}
		return ids.New()
	}
	return ids.NewLocal()
}

// mustQueue reports whether a write touching these ids has to wait behind
// operations already in the queue.
func (s *Service) mustQueue(ctx context.Context, refs []string) (bool, error) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if ids.IsLocal(ref) {
			return true, nil
		}
		pending, err := s.queue.HasPending(ctx, ref)
		if err != nil {
			return false, err
		}
		if pending {
			return true, nil
		}
	}
	return false, nil
}

// write applies a create or update. Online, it goes to the remote store
// first; offline, or when the remote call fails transiently, it is queued.
// Either way the cache ends up holding rec. refs name records rec points
// to, so a write referencing unsynced data is queued behind it.
func (s *Service) write(ctx context.Context, kind models.OpKind, table string, rec models.Record, fields []string, refs ...string) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", table, err)
	}
	op := models.Operation{
		Kind:           kind,
		Table:          table,
		RecordID:       rec.RecordID(),
		Payload:        payload,
		Fields:         fields,
		IdempotencyKey: ids.New(),
	}

	// any temporary id named in the payload has to be confirmed first
	refs = append(refs, ids.LocalRefs(payload, op.RecordID)...)
	queued, err := s.mustQueue(ctx, append(refs, op.RecordID))
	if err != nil {
		return err
	}

	if s.syncer.Online() && !queued {
		applyCtx, cancel := context.WithTimeout(ctx, s.syncer.RequestTimeout())
		id, err := s.remote.Apply(applyCtx, op)
		cancel()
		switch {
		case err == nil:
			rec.SetRecordID(id)
			s.cachePut(ctx, table, rec)
			s.publish(op, id)
			return nil
		case e.IsPermanent(err):
			return err
		}
		// the idempotency key makes a replay harmless if the write did land
		s.logger.Warn("Remote write failed, queueing",
			zap.String("table", table),
			zap.String("record_id", op.RecordID),
			zap.Error(err),
		)
	}

	if kind == models.OpCreate && !ids.IsLocal(op.RecordID) {
		// queued creates carry a temporary id until replay confirms one
		if err := relabel(&op, rec, ids.NewLocal()); err != nil {
			return err
		}
	}
	if err := s.queue.Enqueue(ctx, &op); err != nil {
		return fmt.Errorf("failed to queue %s write: %w", table, err)
	}
	s.cachePut(ctx, table, rec)
	return nil
}

// relabel gives a create a new record id, keeping its idempotency key so a
// receipt left by an earlier attempt still resolves to that attempt's row.
func relabel(op *models.Operation, rec models.Record, id string) error {
	rec.SetRecordID(id)
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", op.Table, err)
	}
	op.RecordID = id
	op.Payload = payload
	return nil
}

func (s *Service) cachePut(ctx context.Context, table string, rec models.Record) {
	if store, ok := cache.StoreForTable(table); ok {
		s.cache.Put(ctx, store, rec)
	}
}

func (s *Service) publish(op models.Operation, id string) {
	if s.producer == nil {
		return
	}
	typ := events.RecordUpdated
	if op.Kind == models.OpCreate {
		typ = events.RecordCreated
	}
	s.producer.Produce(events.Event{
		Type:     typ,
		Table:    op.Table,
		RecordID: id,
		Origin:   s.origin,
		At:       s.now().UTC(),
	})
}

// load finds a record in the cache, falling back to the remote store when
// online. Records found remotely are cached.
func load[T any, PT interface {
	*T
	models.Record
}](ctx context.Context, s *Service, table, id string) (PT, error) {
	store, cached := cache.StoreForTable(table)
	rec := PT(new(T))
	if cached && s.cache.Get(ctx, store, id, rec) {
		return rec, nil
	}
	if !s.syncer.Online() || ids.IsLocal(id) {
		return nil, fmt.Errorf("%w: %s %s", e.ErrNotFound, table, id)
	}

	getCtx, cancel := context.WithTimeout(ctx, s.syncer.RequestTimeout())
	defer cancel()
	got, err := s.remote.Get(getCtx, table, id)
	if err != nil {
		return nil, err
	}
	typed, ok := got.(PT)
	if !ok {
		return nil, fmt.Errorf("unexpected %T for %s", got, table)
	}
	if cached {
		s.cache.Put(ctx, store, typed)
	}
	return typed, nil
}
