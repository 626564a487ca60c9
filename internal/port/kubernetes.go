package port

import (
	"context"
	"time"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/bkapp"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

// BkAppApplier 负责把渲染好的 BkApp 下发到集群并读回状态。
type BkAppApplier interface {
	Apply(ctx context.Context, namespace string, res *bkapp.BkApp) error
	Get(ctx context.Context, namespace, name string) (*bkapp.BkApp, error)
	// EnsureNamespace 创建命名空间并等待 default ServiceAccount 就绪。
	EnsureNamespace(ctx context.Context, namespace string, saTimeout time.Duration) error
}

// BuildTask 描述一次 slug Pod 构建的全部输入。
type BuildTask struct {
	PodName      string
	Namespace    string
	BuilderImage string
	// Runtime 为 buildpack 或 dockerfile。
	Runtime        string
	SourceTarURL   string
	DestImage      string
	Buildpacks     []domain.BuildpackInfo
	Envs           map[string]string
	DockerfilePath string
	BuildArgs      map[string]string
}

// BuildPodStatus 是一次轮询观察到的构建 Pod 状态。
type BuildPodStatus struct {
	Phase    string // Pending / Running / Succeeded / Failed
	LogLines []string
}

// BuildExecutor 驱动单发构建 Pod 的生命周期。
type BuildExecutor interface {
	// Launch 创建构建 Pod；遇到超龄的 Running 残留 Pod 会强删重建。
	Launch(ctx context.Context, task *BuildTask) error
	// Poll 读取 Pod phase 与累计日志行。
	Poll(ctx context.Context, namespace, podName string) (*BuildPodStatus, error)
	// Interrupt 以 grace period 1s 删除 Pod。
	Interrupt(ctx context.Context, namespace, podName string) error
}

// ProcessConfig 标识一次进程操作的目标。
type ProcessConfig struct {
	EngineApp   *domain.EngineApp
	ProcessType string
}

// ProcessController 把 start/stop/scale/restart 翻译为 Deployment 变更。
type ProcessController interface {
	Deploy(ctx context.Context, engineApp *domain.EngineApp, processes []*domain.Process, image string) error
	Scale(ctx context.Context, config ProcessConfig, replicas int32) error
	Shutdown(ctx context.Context, config ProcessConfig) error
	Restart(ctx context.Context, config ProcessConfig) error
	RestartInstance(ctx context.Context, namespace, podName string) error
	Delete(ctx context.Context, config ProcessConfig, removeSvc bool) error
	DeleteGracefully(ctx context.Context, config ProcessConfig) error
}

// ProcessWatcher 直接从集群 list/watch 进程与实例状态。
type ProcessWatcher interface {
	ListProcesses(ctx context.Context, engineApp *domain.EngineApp) (*domain.ProcessesInfo, error)
	// Watch 打开两条 list-watch 流并合并。timeout 到期后通道关闭。
	Watch(ctx context.Context, engineApp *domain.EngineApp, rvProc, rvInst string, timeout time.Duration) (<-chan domain.ProcessWatchEvent, error)
	// InstanceLogs 读取 Pod log 子资源，tailLines 上限 10000。
	InstanceLogs(ctx context.Context, namespace, podName string, tailLines int64, previous bool) (string, error)
}

// IngressManager 渲染并下发模块环境的 Ingress 资源。
type IngressManager interface {
	Sync(ctx context.Context, engineApp *domain.EngineApp, domains []AppDomain) error
	Delete(ctx context.Context, engineApp *domain.EngineApp, host string) error
}

// AppDomain 是模块环境下的一个访问入口。
type AppDomain struct {
	Host          string
	PathPrefixes  []string
	TLSEnabled    bool
	TLSSecretName string
	// RewriteToRoot 为 true 时所有前缀重写到 /。
	RewriteToRoot bool
	ServiceName   string
	ServicePort   int32
}
