package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/service"
)

// defaultWatchTimeout 是单条 watch 流的最长存活时间。
const defaultWatchTimeout = 10 * time.Minute

type ProcessHandler struct {
	svc     *service.ProcessService
	logSvc  *service.LogService
	limiter *watchRateLimiter
}

func NewProcessHandler(svc *service.ProcessService, logSvc *service.LogService) *ProcessHandler {
	return &ProcessHandler{
		svc:     svc,
		logSvc:  logSvc,
		limiter: newWatchRateLimiter(10, time.Minute),
	}
}

// Operate 处理进程的 start / stop / scale。
func (h *ProcessHandler) Operate(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	var req service.ProcessOperateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	result, err := h.svc.Operate(r.Context(), envID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ProcessHandler) List(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	info, err := h.svc.ListProcesses(r.Context(), envID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Watch 打开进程/实例的合并 watch 流（SSE）。
// 单个调用方一分钟内最多开 10 条流。
func (h *ProcessHandler) Watch(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(callerIdentity(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many watch streams"})
		return
	}

	envID := chi.URLParam(r, "env_id")
	rvProc := r.URL.Query().Get("rv_proc")
	rvInst := r.URL.Query().Get("rv_inst")
	timeout := defaultWatchTimeout
	if raw := r.URL.Query().Get("timeout_seconds"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, fmt.Errorf("%w: invalid timeout_seconds %q", domain.ErrInvalidInput, raw))
			return
		}
		timeout = time.Duration(n) * time.Second
	}

	events, err := h.svc.Watch(r.Context(), envID, rvProc, rvInst, timeout)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "event: ping\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func (h *ProcessHandler) RestartInstance(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	podName := chi.URLParam(r, "instance")
	if err := h.svc.RestartInstance(r.Context(), envID, podName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"restarted": podName})
}

// InstanceLogs 读取实例运行日志。previous=true 读上一个容器。
func (h *ProcessHandler) InstanceLogs(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	podName := chi.URLParam(r, "instance")

	var tailLines int64
	if raw := r.URL.Query().Get("tail_lines"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, fmt.Errorf("%w: invalid tail_lines %q", domain.ErrInvalidInput, raw))
			return
		}
		tailLines = n
	}
	previous := r.URL.Query().Get("previous") == "true"

	logs, err := h.logSvc.InstanceLogs(r.Context(), envID, podName, tailLines, previous)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

// BuildLogs 读取一次构建的完整日志。
func (h *ProcessHandler) BuildLogs(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "env_id")
	buildProcessID := chi.URLParam(r, "id")
	logs, err := h.logSvc.BuildLogs(r.Context(), envID, buildProcessID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}
