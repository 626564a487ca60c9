package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/service"
)

type AddonHandler struct {
	svc    *service.AddonService
	appSvc *service.AppService
}

func NewAddonHandler(svc *service.AddonService, appSvc *service.AppService) *AddonHandler {
	return &AddonHandler{svc: svc, appSvc: appSvc}
}

// Bind 把增强服务绑定到模块及其全部环境。
func (h *AddonHandler) Bind(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	moduleName := chi.URLParam(r, "module")
	serviceName := chi.URLParam(r, "service")

	module, err := h.appSvc.GetModule(r.Context(), code, moduleName)
	if err != nil {
		writeError(w, err)
		return
	}
	engineApps, err := h.moduleEngineApps(r, code, module.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.BindService(r.Context(), module, engineApps, serviceName, false); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"bound": serviceName})
}

// Unbind 解除环境级绑定，实例按服务偏好同步回收或进入异步队列。
func (h *AddonHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	serviceID := chi.URLParam(r, "service_id")

	env, err := h.appSvc.GetEnvironmentByID(r.Context(), envID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.Unbind(r.Context(), env.EngineApp, serviceID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"unbound": serviceID})
}

// EnvVars 汇总该环境全部已供给实例的凭据。
func (h *AddonHandler) EnvVars(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	env, err := h.appSvc.GetEnvironmentByID(r.Context(), envID)
	if err != nil {
		writeError(w, err)
		return
	}
	envs, err := h.svc.GetEnvVars(r.Context(), env.EngineApp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

func (h *AddonHandler) moduleEngineApps(r *http.Request, appCode, moduleID string) ([]*domain.EngineApp, error) {
	envs, err := h.appSvc.ListEnvironments(r.Context(), appCode)
	if err != nil {
		return nil, err
	}
	var engineApps []*domain.EngineApp
	for _, env := range envs {
		if env.ModuleID == moduleID {
			engineApps = append(engineApps, env.EngineApp)
		}
	}
	return engineApps, nil
}
