package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/service"
)

type AppHandler struct {
	svc *service.AppService
}

func NewAppHandler(svc *service.AppService) *AppHandler {
	return &AppHandler{svc: svc}
}

func (h *AppHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	if req.Operator == "" {
		req.Operator = callerIdentity(r)
	}
	app, err := h.svc.CreateApplication(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (h *AppHandler) List(w http.ResponseWriter, r *http.Request) {
	apps, err := h.svc.ListApplications(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *AppHandler) Get(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	app, err := h.svc.GetApplication(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *AppHandler) CreateModule(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	name := chi.URLParam(r, "module")
	var req service.CreateModuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	module, err := h.svc.CreateModule(r.Context(), code, name, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, module)
}

func (h *AppHandler) ListModules(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	modules, err := h.svc.ListModules(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modules)
}

func (h *AppHandler) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	envs, err := h.svc.ListEnvironments(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

// GetEnvironment 按 (app, module, env) 定位环境。
func (h *AppHandler) GetEnvironment(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	moduleName := chi.URLParam(r, "module")
	envName := domain.Environment(chi.URLParam(r, "env"))
	if !envName.Valid() {
		writeError(w, domain.ErrInvalidInput)
		return
	}

	module, err := h.svc.GetModule(r.Context(), code, moduleName)
	if err != nil {
		writeError(w, err)
		return
	}
	env, err := h.svc.GetEnvironment(r.Context(), module.ID, envName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *AppHandler) OfflineEnv(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	if err := h.svc.OfflineEnv(r.Context(), envID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"offlined": envID})
}

func (h *AppHandler) OnlineEnv(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	if err := h.svc.OnlineEnv(r.Context(), envID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"onlined": envID})
}
