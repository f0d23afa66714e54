package handlers

import (
	"context"

	"github.com/gartstein/fives/internal/fives/auth"
	"github.com/gartstein/fives/internal/fives/syncer"
	"go.uber.org/zap"
)

// Orchestrator is the sync control surface the handlers drive.
type Orchestrator interface {
	Status(ctx context.Context) syncer.Status
	Sync(ctx context.Context, force bool) (syncer.Result, error)
	Trigger()
	GoOnline()
	GoOffline()
	State() syncer.State
}

// SyncHandler serves fives.v1.SyncService.
type SyncHandler struct {
	orch   Orchestrator
	logger *zap.Logger
}

func NewSyncHandler(orch Orchestrator, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		orch:   orch,
		logger: logger.Named("grpc_handler"),
	}
}

// Status reports the orchestrator state and queue depth.
func (h *SyncHandler) Status(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	st := h.orch.Status(ctx)
	resp := &StatusResponse{
		State:       st.State,
		Pending:     st.Pending,
		DeadLetters: st.DeadLetters,
		LastError:   st.LastError,
	}
	if !st.LastSyncAt.IsZero() {
		resp.LastSyncAt = &st.LastSyncAt
	}
	return resp, nil
}

// TriggerSync starts a user-requested pass.
func (h *SyncHandler) TriggerSync(ctx context.Context, req *TriggerSyncRequest) (*TriggerSyncResponse, error) {
	if !req.Wait {
		h.orch.Trigger()
		return &TriggerSyncResponse{Started: true}, nil
	}

	res, err := h.orch.Sync(ctx, true)
	if err != nil {
		return nil, mapServiceError(err, h.logger)
	}
	return &TriggerSyncResponse{Started: true, Result: &res}, nil
}

// SetConnectivity reports a connectivity change observed by the caller.
func (h *SyncHandler) SetConnectivity(ctx context.Context, req *SetConnectivityRequest) (*SetConnectivityResponse, error) {
	if req.Online {
		h.orch.GoOnline()
	} else {
		h.orch.GoOffline()
	}
	fields := []zap.Field{zap.Bool("online", req.Online)}
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		fields = append(fields, zap.String("user_id", claims.Subject))
	}
	h.logger.Info("Connectivity changed", fields...)
	return &SetConnectivityResponse{State: h.orch.State().String()}, nil
}
