package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gartstein/fives/internal/fives/auth"
	"github.com/gartstein/fives/internal/fives/controller"
	e "github.com/gartstein/fives/internal/fives/errors"
	"github.com/gartstein/fives/internal/fives/models"
	"github.com/gartstein/fives/internal/fives/notify"
	"github.com/gartstein/fives/internal/fives/session"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 1 << 20
	xlsxType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Controller defines the data operations the HTTP routes invoke.
type Controller interface {
	ListCompanies(ctx context.Context) ([]models.Company, error)
	GetCompany(ctx context.Context, id string) (*models.Company, error)
	CreateCompany(ctx context.Context, company *models.Company) (*models.Company, error)
	UpdateCompany(ctx context.Context, update *models.CompanyUpdate) (*models.Company, error)
	SetCompanyStatus(ctx context.Context, id string, status models.CompanyStatus) (*models.Company, error)

	ListEnvironments(ctx context.Context, companyID string) ([]models.Environment, error)
	EnvironmentTree(ctx context.Context, companyID string) ([]*models.EnvironmentNode, error)
	CreateEnvironment(ctx context.Context, env *models.Environment) (*models.Environment, error)
	UpdateEnvironment(ctx context.Context, update *models.EnvironmentUpdate) (*models.Environment, error)

	ListCriteria(ctx context.Context, companyID string) ([]models.Criterion, error)
	ListMasterCriteria(ctx context.Context) ([]models.Criterion, error)
	CreateCriterion(ctx context.Context, c *models.Criterion) (*models.Criterion, error)
	UpdateCriterion(ctx context.Context, update *models.CriterionUpdate) (*models.Criterion, error)
	AdoptMasterCriteria(ctx context.Context, companyID string, masterIDs []string) ([]models.Criterion, error)
	LinkCriterion(ctx context.Context, environmentID, criterionID string) (*models.EnvironmentCriterion, error)
	ListEnvironmentCriteria(ctx context.Context, environmentID string) ([]models.Criterion, error)
	ListModels(ctx context.Context, companyID string) ([]models.AuditModel, error)
	CreateModel(ctx context.Context, m *models.AuditModel) (*models.AuditModel, error)

	ListAudits(ctx context.Context, companyID string) ([]models.Audit, error)
	GetAudit(ctx context.Context, id string) (*controller.AuditDetail, error)
	ListAuditItems(ctx context.Context, auditID string) ([]models.AuditItem, error)
	StartAudit(ctx context.Context, environmentID, modelID string) (*controller.AuditDetail, error)
	AnswerItem(ctx context.Context, itemID string, answer bool, comment string) (*models.AuditItem, error)
	CompleteAudit(ctx context.Context, id string) (*controller.AuditDetail, error)
	DeleteAudit(ctx context.Context, id string) error
	ExportAudit(ctx context.Context, id string, w io.Writer) error
	ExportAudits(ctx context.Context, companyID string, w io.Writer) error

	AssignUser(ctx context.Context, userID, companyID string, role models.Role) (*controller.Assignment, error)
	ListCompanyUsers(ctx context.Context, companyID string) ([]models.CompanyUser, error)
	CreateCompanyUser(ctx context.Context, in controller.NewUser) (*models.CompanyUser, error)
	ListAuditors(ctx context.Context) ([]models.CompanyUser, error)
	DeleteUsers(ctx context.Context, userIDs []string) (int64, error)
	SendEmail(ctx context.Context, msg notify.Message) error
}

// Sessions signs the local user in and out.
type Sessions interface {
	SignIn(ctx context.Context, token string) (*session.Session, error)
	SignOut(ctx context.Context)
	Current() (*session.Session, error)
}

// Queue exposes the pending operations for inspection.
type Queue interface {
	Pending(ctx context.Context, force bool) ([]models.Operation, error)
	DeadLetters(ctx context.Context) ([]models.Operation, error)
	Requeue(ctx context.Context, seq uint64) error
}

// API serves the HTTP/JSON routes.
type API struct {
	svc      Controller
	sessions Sessions
	orch     Orchestrator
	queue    Queue
	logger   *zap.Logger
}

func NewAPI(svc Controller, sessions Sessions, orch Orchestrator, queue Queue, logger *zap.Logger) *API {
	return &API{
		svc:      svc,
		sessions: sessions,
		orch:     orch,
		queue:    queue,
		logger:   logger.Named("http_handler"),
	}
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

func (a *API) routes() []route {
	return []route{
		{http.MethodPost, "/v1/session", a.signIn},
		{http.MethodGet, "/v1/session", a.currentSession},
		{http.MethodDelete, "/v1/session", a.signOut},

		{http.MethodGet, "/v1/companies", a.listCompanies},
		{http.MethodPost, "/v1/companies", a.createCompany},
		{http.MethodGet, "/v1/companies/{id}", a.getCompany},
		{http.MethodPatch, "/v1/companies/{id}", a.updateCompany},
		{http.MethodPost, "/v1/companies/{id}/status", a.setCompanyStatus},

		{http.MethodGet, "/v1/companies/{company_id}/environments", a.listEnvironments},
		{http.MethodGet, "/v1/companies/{company_id}/tree", a.environmentTree},
		{http.MethodPost, "/v1/environments", a.createEnvironment},
		{http.MethodPatch, "/v1/environments/{id}", a.updateEnvironment},
		{http.MethodGet, "/v1/environments/{id}/criteria", a.listEnvironmentCriteria},
		{http.MethodPost, "/v1/environments/{id}/criteria", a.linkCriterion},

		{http.MethodGet, "/v1/companies/{company_id}/criteria", a.listCriteria},
		{http.MethodPost, "/v1/companies/{company_id}/criteria/adopt", a.adoptCriteria},
		{http.MethodGet, "/v1/master/criteria", a.listMasterCriteria},
		{http.MethodPost, "/v1/criteria", a.createCriterion},
		{http.MethodPatch, "/v1/criteria/{id}", a.updateCriterion},
		{http.MethodGet, "/v1/companies/{company_id}/models", a.listModels},
		{http.MethodPost, "/v1/models", a.createModel},

		{http.MethodGet, "/v1/companies/{company_id}/audits", a.listAudits},
		{http.MethodGet, "/v1/companies/{company_id}/audits/export", a.exportAudits},
		{http.MethodPost, "/v1/audits", a.startAudit},
		{http.MethodGet, "/v1/audits/{id}", a.getAudit},
		{http.MethodDelete, "/v1/audits/{id}", a.deleteAudit},
		{http.MethodGet, "/v1/audits/{id}/items", a.listAuditItems},
		{http.MethodPost, "/v1/audits/{id}/complete", a.completeAudit},
		{http.MethodGet, "/v1/audits/{id}/export", a.exportAudit},
		{http.MethodPatch, "/v1/audit-items/{id}", a.answerItem},

		{http.MethodGet, "/v1/companies/{company_id}/users", a.listCompanyUsers},
		{http.MethodPost, "/v1/companies/{company_id}/users", a.assignUser},
		{http.MethodPost, "/v1/admin/users", a.createCompanyUser},
		{http.MethodPost, "/v1/admin/users/delete", a.deleteUsers},
		{http.MethodGet, "/v1/admin/auditors", a.listAuditors},
		{http.MethodPost, "/v1/admin/email", a.sendEmail},

		{http.MethodGet, "/v1/sync", a.syncStatus},
		{http.MethodPost, "/v1/sync", a.triggerSync},
		{http.MethodPost, "/v1/sync/connectivity", a.setConnectivity},
		{http.MethodGet, "/v1/queue", a.listQueue},
		{http.MethodGet, "/v1/queue/dead-letters", a.listDeadLetters},
		{http.MethodPost, "/v1/queue/{seq}/requeue", a.requeue},
	}
}

// Register adds every route to mux.
func (a *API) Register(mux *runtime.ServeMux) error {
	for _, r := range a.routes() {
		h := r.handler
		if r.method != http.MethodGet && !(r.method == http.MethodPost && r.pattern == "/v1/session") {
			h = a.sessionBound(h)
		}
		if err := mux.HandlePath(r.method, r.pattern, h); err != nil {
			return fmt.Errorf("failed to register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// sessionBound rejects a write whose bearer token was issued to someone other
// than the signed-in user.
func (a *API) sessionBound(next runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			a.writeError(w, r, fmt.Errorf("%w: missing bearer token", e.ErrNotSignedIn))
			return
		}
		if sess, err := a.sessions.Current(); err == nil && sess.UserID != claims.Subject {
			a.logger.Warn("Token does not match session",
				zap.String("session_user", sess.UserID),
				zap.String("token_subject", claims.Subject),
			)
			a.writeError(w, r, fmt.Errorf("%w: token belongs to another user", e.ErrForbidden))
			return
		}
		next(w, r, params)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		a.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal server error"
	}
	a.writeJSON(w, code, map[string]string{"error": msg})
}

// respond writes v, or the error when err is set.
func (a *API) respond(w http.ResponseWriter, r *http.Request, code int, v any, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, code, v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", e.ErrInvalidInput, err)
	}
	return nil
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req signInRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sess, err := a.sessions.SignIn(r.Context(), req.Token)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, sessionToResponse(sess))
}

func (a *API) currentSession(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	sess, err := a.sessions.Current()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, sessionToResponse(sess))
}

func (a *API) signOut(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	a.sessions.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listCompanies(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	companies, err := a.svc.ListCompanies(r.Context())
	a.respond(w, r, http.StatusOK, companies, err)
}

func (a *API) createCompany(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req companyRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	company, err := a.svc.CreateCompany(r.Context(), req.toModel())
	a.respond(w, r, http.StatusCreated, company, err)
}

func (a *API) getCompany(w http.ResponseWriter, r *http.Request, params map[string]string) {
	company, err := a.svc.GetCompany(r.Context(), params["id"])
	a.respond(w, r, http.StatusOK, company, err)
}

func (a *API) updateCompany(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req companyPatch
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	company, err := a.svc.UpdateCompany(r.Context(), req.toUpdate(params["id"]))
	a.respond(w, r, http.StatusOK, company, err)
}

func (a *API) setCompanyStatus(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req companyStatusRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	company, err := a.svc.SetCompanyStatus(r.Context(), params["id"], req.Status)
	a.respond(w, r, http.StatusOK, company, err)
}

func (a *API) listEnvironments(w http.ResponseWriter, r *http.Request, params map[string]string) {
	envs, err := a.svc.ListEnvironments(r.Context(), params["company_id"])
	a.respond(w, r, http.StatusOK, envs, err)
}

func (a *API) environmentTree(w http.ResponseWriter, r *http.Request, params map[string]string) {
	tree, err := a.svc.EnvironmentTree(r.Context(), params["company_id"])
	a.respond(w, r, http.StatusOK, tree, err)
}

func (a *API) createEnvironment(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req environmentRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	env, err := a.svc.CreateEnvironment(r.Context(), req.toModel())
	a.respond(w, r, http.StatusCreated, env, err)
}

func (a *API) updateEnvironment(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req environmentPatch
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	env, err := a.svc.UpdateEnvironment(r.Context(), req.toUpdate(params["id"]))
	a.respond(w, r, http.StatusOK, env, err)
}

func (a *API) listEnvironmentCriteria(w http.ResponseWriter, r *http.Request, params map[string]string) {
	criteria, err := a.svc.ListEnvironmentCriteria(r.Context(), params["id"])
	a.respond(w, r, http.StatusOK, criteria, err)
}

func (a *API) linkCriterion(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req linkRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	link, err := a.svc.LinkCriterion(r.Context(), params["id"], req.CriterionID)
	a.respond(w, r, http.StatusCreated, link, err)
}

func (a *API) listCriteria(w http.ResponseWriter, r *http.Request, params map[string]string) {
	criteria, err := a.svc.ListCriteria(r.Context(), params["company_id"])
	a.respond(w, r, http.StatusOK, criteria, err)
}

func (a *API) adoptCriteria(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req adoptRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	criteria, err := a.svc.AdoptMasterCriteria(r.Context(), params["company_id"], req.MasterIDs)
	a.respond(w, r, http.StatusCreated, criteria, err)
}

func (a *API) listMasterCriteria(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	criteria, err := a.svc.ListMasterCriteria(r.Context())
	a.respond(w, r, http.StatusOK, criteria, err)
}

func (a *API) createCriterion(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req criterionRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	c, err := a.svc.CreateCriterion(r.Context(), req.toModel())
	a.respond(w, r, http.StatusCreated, c, err)
}

func (a *API) updateCriterion(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req criterionPatch
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	c, err := a.svc.UpdateCriterion(r.Context(), req.toUpdate(params["id"]))
	a.respond(w, r, http.StatusOK, c, err)
}

func (a *API) listModels(w http.ResponseWriter, r *http.Request, params map[string]string) {
	list, err := a.svc.ListModels(r.Context(), params["company_id"])
	a.respond(w, r, http.StatusOK, list, err)
}

func (a *API) createModel(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req modelRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	m, err := a.svc.CreateModel(r.Context(), req.toModel())
	a.respond(w, r, http.StatusCreated, m, err)
}

func (a *API) listAudits(w http.ResponseWriter, r *http.Request, params map[string]string) {
	audits, err := a.svc.ListAudits(r.Context(), params["company_id"])
	a.respond(w, r, http.StatusOK, audits, err)
}

func (a *API) startAudit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req startAuditRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	detail, err := a.svc.StartAudit(r.Context(), req.EnvironmentID, req.ModelID)
	a.respond(w, r, http.StatusCreated, detail, err)
}

func (a *API) getAudit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	detail, err := a.svc.GetAudit(r.Context(), params["id"])
	a.respond(w, r, http.StatusOK, detail, err)
}

func (a *API) deleteAudit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if err := a.svc.DeleteAudit(r.Context(), params["id"]); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listAuditItems(w http.ResponseWriter, r *http.Request, params map[string]string) {
	items, err := a.svc.ListAuditItems(r.Context(), params["id"])
	a.respond(w, r, http.StatusOK, items, err)
}

func (a *API) completeAudit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	detail, err := a.svc.CompleteAudit(r.Context(), params["id"])
	a.respond(w, r, http.StatusOK, detail, err)
}

func (a *API) answerItem(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req answerRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.Answer == nil {
		a.writeError(w, r, fmt.Errorf("%w: answer is required", e.ErrInvalidInput))
		return
	}
	item, err := a.svc.AnswerItem(r.Context(), params["id"], *req.Answer, req.Comment)
	a.respond(w, r, http.StatusOK, item, err)
}

func (a *API) exportAudit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	a.export(w, r, "audit-"+params["id"]+".xlsx", func(out io.Writer) error {
		return a.svc.ExportAudit(r.Context(), params["id"], out)
	})
}

func (a *API) exportAudits(w http.ResponseWriter, r *http.Request, params map[string]string) {
	a.export(w, r, "audits-"+params["company_id"]+".xlsx", func(out io.Writer) error {
		return a.svc.ExportAudits(r.Context(), params["company_id"], out)
	})
}

// export renders the workbook in memory so a failed lookup still gets a
// JSON error response.
func (a *API) export(w http.ResponseWriter, r *http.Request, filename string, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		a.logger.Warn("Failed to write export", zap.Error(err))
	}
}

func (a *API) listCompanyUsers(w http.ResponseWriter, r *http.Request, params map[string]string) {
	users, err := a.svc.ListCompanyUsers(r.Context(), params["company_id"])
	a.respond(w, r, http.StatusOK, users, err)
}

func (a *API) assignUser(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req assignRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	assignment, err := a.svc.AssignUser(r.Context(), req.UserID, params["company_id"], req.Role)
	a.respond(w, r, http.StatusCreated, assignment, err)
}

func (a *API) createCompanyUser(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req controller.NewUser
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	user, err := a.svc.CreateCompanyUser(r.Context(), req)
	a.respond(w, r, http.StatusCreated, user, err)
}

func (a *API) deleteUsers(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req deleteUsersRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	deleted, err := a.svc.DeleteUsers(r.Context(), req.UserIDs)
	a.respond(w, r, http.StatusOK, map[string]int64{"deleted": deleted}, err)
}

func (a *API) listAuditors(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	auditors, err := a.svc.ListAuditors(r.Context())
	a.respond(w, r, http.StatusOK, auditors, err)
}

func (a *API) sendEmail(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var msg notify.Message
	if err := decode(r, &msg); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.SendEmail(r.Context(), msg); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) syncStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	a.writeJSON(w, http.StatusOK, a.orch.Status(r.Context()))
}

func (a *API) triggerSync(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if r.URL.Query().Get("wait") != "true" {
		a.orch.Trigger()
		a.writeJSON(w, http.StatusAccepted, TriggerSyncResponse{Started: true})
		return
	}
	res, err := a.orch.Sync(r.Context(), true)
	a.respond(w, r, http.StatusOK, TriggerSyncResponse{Started: true, Result: &res}, err)
}

func (a *API) setConnectivity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req SetConnectivityRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.Online {
		a.orch.GoOnline()
	} else {
		a.orch.GoOffline()
	}
	a.writeJSON(w, http.StatusOK, SetConnectivityResponse{State: a.orch.State().String()})
}

func (a *API) listQueue(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ops, err := a.queue.Pending(r.Context(), true)
	a.respond(w, r, http.StatusOK, ops, err)
}

func (a *API) listDeadLetters(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ops, err := a.queue.DeadLetters(r.Context())
	a.respond(w, r, http.StatusOK, ops, err)
}

func (a *API) requeue(w http.ResponseWriter, r *http.Request, params map[string]string) {
	seq, err := strconv.ParseUint(params["seq"], 10, 64)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: bad sequence %q", e.ErrInvalidInput, params["seq"]))
		return
	}
	if err := a.queue.Requeue(r.Context(), seq); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.orch.Trigger()
	w.WriteHeader(http.StatusNoContent)
}
