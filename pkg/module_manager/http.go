package module_manager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/schema"
	"go.uber.org/zap"
)

var decoder = schema.NewDecoder()

func init() {
	decoder.IgnoreUnknownKeys(true)
}

// adminRequest is the form accepted by POST /modules/admin
type adminRequest struct {
	Action string `schema:"action,required"`
	Module string `schema:"module,required"`
	Token  string `schema:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type adminResponse struct {
	Action  string             `json:"action"`
	Module  string             `json:"module"`
	Modules []ModuleDescriptor `json:"modules"`
}

func (m *ManagerImpl) registerRoutes() {
	if m.webhookManager == nil {
		return
	}
	m.webhookManager.RegisterRoute("/modules", m.handleListModules, []string{http.MethodGet}, false)
	m.webhookManager.RegisterRoute("/modules/admin", m.handleAdmin, []string{http.MethodPost}, true)
}

// jsonResponse encodes a generic object to json and writes it to the provided HTTP response
func jsonResponse(w http.ResponseWriter, status int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(obj)
}

func (m *ManagerImpl) handleListModules(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, m.List())
}

func (m *ManagerImpl) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		jsonResponse(w, http.StatusBadRequest, &errorResponse{Error: "invalid form"})
		return
	}

	req := &adminRequest{}
	if err := decoder.Decode(req, r.PostForm); err != nil {
		m.l.Warn("invalid admin request", zap.Error(err))
		jsonResponse(w, http.StatusBadRequest, &errorResponse{Error: err.Error()})
		return
	}

	var op func(ctx context.Context, name string) error
	switch req.Action {
	case "load":
		op = m.Load
	case "unload":
		op = m.Unload
	case "reload":
		op = m.Reload
	default:
		jsonResponse(w, http.StatusBadRequest, &errorResponse{Error: "unknown action " + req.Action})
		return
	}

	m.l.Info("admin request", zap.String("action", req.Action), zap.String("module", req.Module))
	if err := op(r.Context(), req.Module); err != nil {
		jsonResponse(w, statusFor(err), &errorResponse{Error: err.Error()})
		return
	}

	if err := m.SyncCommands(); err != nil {
		m.l.Error("unable to sync commands", zap.Error(err))
	}

	jsonResponse(w, http.StatusOK, &adminResponse{
		Action:  req.Action,
		Module:  req.Module,
		Modules: m.List(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyLoaded), errors.Is(err, ErrNotLoaded), errors.Is(err, ErrStaticModule):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
