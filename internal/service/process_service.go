package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// defaultOperationInterval 是同一进程两次变更操作的最小间隔。
const defaultOperationInterval = 3 * time.Second

// ProcessService 处理进程的启停、扩缩容与实例级操作。
type ProcessService struct {
	envRepo     port.EnvironmentRepository
	processRepo port.ProcessRepository
	controller  port.ProcessController
	watcher     port.ProcessWatcher

	operationInterval time.Duration

	mu      sync.Mutex
	lastOps map[string]time.Time
}

func NewProcessService(
	envRepo port.EnvironmentRepository,
	processRepo port.ProcessRepository,
	controller port.ProcessController,
	watcher port.ProcessWatcher,
) *ProcessService {
	return &ProcessService{
		envRepo:           envRepo,
		processRepo:       processRepo,
		controller:        controller,
		watcher:           watcher,
		operationInterval: defaultOperationInterval,
		lastOps:           make(map[string]time.Time),
	}
}

const (
	OperateStart = "start"
	OperateStop  = "stop"
	OperateScale = "scale"
)

type ProcessOperateRequest struct {
	ProcessType    string                    `json:"process_type"`
	OperateType    string                    `json:"operate_type"`
	TargetReplicas *int32                    `json:"target_replicas,omitempty"`
	Autoscaling    *bool                     `json:"autoscaling,omitempty"`
	ScalingConfig  *domain.AutoscalingConfig `json:"scaling_config,omitempty"`
}

type ProcessOperateResult struct {
	TargetReplicas int32  `json:"target_replicas"`
	TargetStatus   string `json:"target_status"`
}

// Operate 执行一次进程变更。下架环境拒绝；同一进程 3s 内的连续操作拒绝。
func (s *ProcessService) Operate(ctx context.Context, environmentID string, req ProcessOperateRequest) (*ProcessOperateResult, error) {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	if env.IsOfflined {
		return nil, domain.ErrEnvOfflined
	}
	proc, err := s.processRepo.FindByModuleAndName(ctx, env.ModuleID, req.ProcessType)
	if err != nil {
		return nil, err
	}
	if err := s.checkOperationInterval(environmentID, proc.Name); err != nil {
		return nil, err
	}

	config := port.ProcessConfig{EngineApp: env.EngineApp, ProcessType: proc.Name}

	switch req.OperateType {
	case OperateStart:
		replicas := s.startReplicas(ctx, env, proc)
		if err := s.controller.Scale(ctx, config, replicas); err != nil {
			return nil, err
		}
		return &ProcessOperateResult{TargetReplicas: replicas, TargetStatus: OperateStart}, nil

	case OperateStop:
		if err := s.controller.Shutdown(ctx, config); err != nil {
			return nil, err
		}
		return &ProcessOperateResult{TargetReplicas: 0, TargetStatus: OperateStop}, nil

	case OperateScale:
		return s.scale(ctx, env, proc, config, req)

	default:
		return nil, fmt.Errorf("%w: unknown operate_type %q", domain.ErrInvalidInput, req.OperateType)
	}
}

func (s *ProcessService) scale(ctx context.Context, env *domain.ModuleEnvironment, proc *domain.Process, config port.ProcessConfig, req ProcessOperateRequest) (*ProcessOperateResult, error) {
	if req.TargetReplicas == nil && req.Autoscaling == nil {
		return nil, fmt.Errorf("%w: scale requires target_replicas or autoscaling", domain.ErrInvalidInput)
	}

	// 副本数上限取自进程资源档位，legacy 档位先归档再查表。
	maxReplicas := domain.PlanMaxReplicas(domain.NormalizeResQuotaPlan(proc.ResQuotaPlan, 0))

	overlay := &domain.ProcessSpecEnvOverlay{
		ProcessName: proc.Name,
		Environment: env.Environment,
		Autoscaling: req.Autoscaling,
	}
	if req.ScalingConfig != nil {
		if req.ScalingConfig.MaxReplicas > maxReplicas {
			return nil, domain.ErrScaleExceedsPlan
		}
		overlay.ScalingConfig = req.ScalingConfig
	}

	target := proc.Replicas
	if req.TargetReplicas != nil {
		target = *req.TargetReplicas
		if target < 0 || target > maxReplicas {
			return nil, domain.ErrScaleExceedsPlan
		}
		overlay.TargetReplicas = req.TargetReplicas
	}

	if err := s.processRepo.SaveOverlay(ctx, env.ModuleID, overlay); err != nil {
		return nil, err
	}
	if req.TargetReplicas != nil {
		if err := s.controller.Scale(ctx, config, target); err != nil {
			return nil, err
		}
	}

	status := OperateStart
	if target == 0 {
		status = OperateStop
	}
	return &ProcessOperateResult{TargetReplicas: target, TargetStatus: status}, nil
}

// startReplicas 取进程的目标副本数：环境覆写优先，退回基础定义，至少 1。
func (s *ProcessService) startReplicas(ctx context.Context, env *domain.ModuleEnvironment, proc *domain.Process) int32 {
	replicas := proc.Replicas
	if overlays, err := s.processRepo.FindOverlays(ctx, env.ModuleID); err == nil {
		for _, o := range overlays {
			if o.ProcessName == proc.Name && o.Environment == env.Environment && o.TargetReplicas != nil {
				replicas = *o.TargetReplicas
			}
		}
	}
	if replicas < 1 {
		replicas = 1
	}
	return replicas
}

func (s *ProcessService) checkOperationInterval(environmentID, processName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := environmentID + "/" + processName
	now := time.Now()
	if last, ok := s.lastOps[key]; ok && now.Sub(last) < s.operationInterval {
		return domain.ErrOperationTooOften
	}
	s.lastOps[key] = now
	return nil
}

// ListProcesses 实时读取环境下的进程与实例状态。
func (s *ProcessService) ListProcesses(ctx context.Context, environmentID string) (*domain.ProcessesInfo, error) {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	return s.watcher.ListProcesses(ctx, env.EngineApp)
}

// Watch 打开环境的合并 watch 流。
func (s *ProcessService) Watch(ctx context.Context, environmentID, rvProc, rvInst string, timeout time.Duration) (<-chan domain.ProcessWatchEvent, error) {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	return s.watcher.Watch(ctx, env.EngineApp, rvProc, rvInst, timeout)
}

// RestartInstance 删除指定 Pod，由控制器重建。
func (s *ProcessService) RestartInstance(ctx context.Context, environmentID, podName string) error {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return err
	}
	if env.IsOfflined {
		return domain.ErrEnvOfflined
	}
	return s.controller.RestartInstance(ctx, env.EngineApp.Namespace, podName)
}
