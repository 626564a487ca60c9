package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

const (
	defaultLogTailLines = 1000
	maxLogTailLines     = 10000
)

// LogService 查询构建日志与实例运行日志。
// Pod 已被回收时退回日志后端补读（直读 → 落库日志 → 后端三级回退）。
type LogService struct {
	envRepo   port.EnvironmentRepository
	buildRepo port.BuildRepository
	watcher   port.ProcessWatcher
	querier   port.LogQuerier
}

func NewLogService(
	envRepo port.EnvironmentRepository,
	buildRepo port.BuildRepository,
	watcher port.ProcessWatcher,
	querier port.LogQuerier,
) *LogService {
	return &LogService{
		envRepo:   envRepo,
		buildRepo: buildRepo,
		watcher:   watcher,
		querier:   querier,
	}
}

// InstanceLogs 读取某个实例的运行日志。tailLines 上限 10000。
func (s *LogService) InstanceLogs(ctx context.Context, environmentID, podName string, tailLines int64, previous bool) (string, error) {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return "", err
	}
	if tailLines <= 0 {
		tailLines = defaultLogTailLines
	}
	if tailLines > maxLogTailLines {
		tailLines = maxLogTailLines
	}

	logs, err := s.watcher.InstanceLogs(ctx, env.EngineApp.Namespace, podName, tailLines, previous)
	if err == nil {
		return logs, nil
	}
	if s.querier == nil {
		return "", err
	}

	// Pod 可能已被回收，从日志后端按 wl-app 标签补读。
	slog.Info("pod logs unavailable, falling back to log backend",
		"pod", podName, "namespace", env.EngineApp.Namespace, "error", err)
	end := time.Now()
	return s.querier.QueryAppLogs(ctx, env.EngineApp.Namespace, env.EngineApp.Name, "", end.Add(-time.Hour), end, int(tailLines))
}

// BuildLogs 读取一次构建的完整日志。
// 优先取落库的日志行；进行中的构建直读 Pod；两者皆空时回退日志后端。
func (s *LogService) BuildLogs(ctx context.Context, environmentID, buildProcessID string) (string, error) {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return "", err
	}
	bp, err := s.buildRepo.FindProcessByID(ctx, buildProcessID)
	if err != nil {
		return "", err
	}
	if bp.LogLines != "" {
		return bp.LogLines, nil
	}

	if logs, err := s.watcher.InstanceLogs(ctx, env.EngineApp.Namespace, bp.PodName, maxLogTailLines, false); err == nil && logs != "" {
		return logs, nil
	}
	if s.querier == nil {
		return "", nil
	}

	end := bp.UpdatedAt.Add(5 * time.Minute)
	if !bp.Status.IsTerminal() {
		end = time.Now()
	}
	return s.querier.QueryBuildLogs(ctx, env.EngineApp.Namespace, env.EngineApp.Name, bp.CreatedAt, end)
}
