package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gartstein/fives/internal/fives/cache"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/metrics"
	"github.com/gartstein/fives/internal/fives/queue"
	"github.com/gartstein/fives/internal/fives/remote"
	"github.com/gartstein/fives/internal/fives/session"
	"github.com/gartstein/fives/internal/fives/syncer"
	"go.uber.org/zap"
)

// local is the on-device state every command works against.
type local struct {
	store    *cache.Store
	queue    *queue.Queue
	remote   *remote.Repository
	sessions *session.Manager
}

func (a *app) openLocal(ctx context.Context) (*local, error) {
	store, err := cache.Open(ctx, a.cfg.Cache.Path, a.logger)
	if err != nil {
		return nil, err
	}
	q, err := queue.New(ctx, store.DB(), a.cfg.QueuePolicy(), a.logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	repo, err := remote.Open(a.cfg.RemoteConfig(), a.logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sessions := session.NewManager(store, a.cfg.Auth.JWTSecret, a.logger)
	if err := a.restoreSession(ctx, sessions); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &local{store: store, queue: q, remote: repo, sessions: sessions}, nil
}

// restoreSession signs in with the configured token, or picks up the
// identity cached by an earlier run.
func (a *app) restoreSession(ctx context.Context, sessions *session.Manager) error {
	if a.cfg.Auth.Token != "" {
		if _, err := sessions.SignIn(ctx, a.cfg.Auth.Token); err != nil {
			return fmt.Errorf("failed to sign in with configured token: %w", err)
		}
		return nil
	}
	s, err := sessions.Restore(ctx)
	if errors.Is(err, e.ErrNotSignedIn) {
		a.logger.Info("No cached session, waiting for sign-in")
		return nil
	}
	if err != nil {
		return err
	}
	a.logger.Info("Restored session", zap.String("user_id", s.UserID), zap.String("role", string(s.Role)))
	return nil
}

func (l *local) orchestrator(a *app, publisher syncer.Publisher, m *metrics.Metrics) *syncer.Orchestrator {
	return syncer.New(l.store, l.queue, l.remote, l.sessions, publisher, m, a.cfg.SyncConfig(), a.logger)
}

func (l *local) Close() error {
	return l.store.Close()
}
