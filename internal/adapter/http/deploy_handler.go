package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/service"
)

type DeployHandler struct {
	svc *service.DeployService
}

func NewDeployHandler(svc *service.DeployService) *DeployHandler {
	return &DeployHandler{svc: svc}
}

type createDeploymentRequest struct {
	Operator string                 `json:"operator"`
	Version  domain.VersionInfo     `json:"version"`
	Manifest string                 `json:"manifest,omitempty"` // app_desc.yaml 原文
	Options  domain.AdvancedOptions `json:"advanced_options"`
}

func (h *DeployHandler) Create(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	var req createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	if req.Operator == "" {
		req.Operator = callerIdentity(r)
	}

	d, err := h.svc.CreateDeployment(r.Context(), envID, service.DeployRequest{
		Operator:  req.Operator,
		Version:   req.Version,
		Manifest:  []byte(req.Manifest),
		SourceDir: req.Options.SourceDir,
		Options:   req.Options,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *DeployHandler) List(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: invalid limit %q", domain.ErrInvalidInput, raw))
			return
		}
		limit = n
	}
	deployments, err := h.svc.ListDeployments(r.Context(), envID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (h *DeployHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.svc.GetDeployment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Result 是轻量的结果轮询接口：status + 用户可见错误文案。
func (h *DeployHandler) Result(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := h.svc.GetResult(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *DeployHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Interrupt(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"interrupted": id})
}

func (h *DeployHandler) DeployPreps(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	changes, err := h.svc.DeployPreps(r.Context(), envID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proc_replicas_changes": changes})
}

func (h *DeployHandler) ImageTags(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	tags, err := h.svc.ListImageTags(r.Context(), envID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tags": tags})
}

// ModelResource 返回按当前数据库状态渲染的 BkApp 模型。
func (h *DeployHandler) ModelResource(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	res, err := h.svc.GetModelResource(r.Context(), envID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type replaceModelResourceRequest struct {
	Manifest string `json:"manifest"`
}

// ReplaceModelResource 用应用描述文件整体替换模块模型。
func (h *DeployHandler) ReplaceModelResource(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	var req replaceModelResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	res, err := h.svc.ReplaceModelResource(r.Context(), envID, []byte(req.Manifest))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// EnvStatus 返回环境现状：最近部署、BkApp 条件、访问地址。
func (h *DeployHandler) EnvStatus(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	status, err := h.svc.GetEnvStatus(r.Context(), envID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Stream 以 SSE 推送部署事件，直到 EOF 事件或客户端断开。
func (h *DeployHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, cancel, err := h.svc.Subscribe(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
			if event.Event == domain.EventEOF {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event domain.StreamEvent) {
	fmt.Fprintf(w, "id: %d\n", event.ID)
	fmt.Fprintf(w, "event: %s\n", event.Event)
	fmt.Fprintf(w, "data: %s\n\n", event.Data)
}
