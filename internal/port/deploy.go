package port

import (
	"context"
	"time"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

// Coordinator 是环境级部署互斥锁 + 心跳。
type Coordinator interface {
	// Acquire 以 NX+PX 语义抢锁，返回是否成功。
	Acquire(ctx context.Context, environmentID string) (bool, error)
	// SetDeployment 记录当前部署并刷新心跳。
	SetDeployment(ctx context.Context, environmentID, deploymentID string) error
	// GetCurrent 返回当前部署 id；心跳过期时自动释放并返回空。
	GetCurrent(ctx context.Context, environmentID string) (string, error)
	// Release 释放锁。expected 非空时先校验当前部署匹配，不匹配则报错且不动状态。
	Release(ctx context.Context, environmentID, expected string) error
	// UpdatePollingTime 刷新心跳。
	UpdatePollingTime(ctx context.Context, environmentID string) error
}

// EventStream 是每部署一条的 SSE 事件通道。
type EventStream interface {
	Publish(ctx context.Context, deploymentID string, event domain.StreamEvent) error
	// Subscribe 返回事件通道与取消函数。订阅立即收到一条 ping。
	Subscribe(ctx context.Context, deploymentID string) (<-chan domain.StreamEvent, func(), error)
	// CloseStream 发送终止 EOF。
	CloseStream(ctx context.Context, deploymentID string) error
}

// BlobStore 上传源码包并签发下载地址。
type BlobStore interface {
	Upload(ctx context.Context, localPath, destPath string) error
	SignDownload(ctx context.Context, destPath string, ttl time.Duration) (string, error)
}

// AddonProvisioner 执行增强服务实例的供给与回收。
type AddonProvisioner interface {
	Provision(ctx context.Context, svc *domain.AddonService, plan *domain.AddonPlan, engineApp *domain.EngineApp) (*domain.ServiceInstance, error)
	Recycle(ctx context.Context, svc *domain.AddonService, instanceID string) error
}

// SourcePackager 把源码目录打包上传，返回 blob store 内的路径。
type SourcePackager interface {
	PackageAndUpload(ctx context.Context, engineApp *domain.EngineApp, version domain.VersionInfo, sourceDir string) (string, error)
}

// LogQuerier 从日志后端补读已回收 Pod 的日志。
type LogQuerier interface {
	QueryBuildLogs(ctx context.Context, namespace, wlappName string, start, end time.Time) (string, error)
	QueryAppLogs(ctx context.Context, namespace, wlappName, processType string, start, end time.Time, limit int) (string, error)
}

// ConsoleBroker 向 BCS gateway 申请一次性 web-console 会话。
type ConsoleBroker interface {
	CreateSession(ctx context.Context, req ConsoleSessionRequest) (*ConsoleSession, error)
}

type ConsoleSessionRequest struct {
	ClusterID string
	ProjectID string
	Namespace string
	Pod       string
	Container string
	Command   string
}

type ConsoleSession struct {
	SessionID string `json:"session_id"`
	WebURL    string `json:"web_console_url"`
}
