package port

import (
	"context"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

type ApplicationRepository interface {
	Save(ctx context.Context, app *domain.Application) error
	FindByCode(ctx context.Context, code string) (*domain.Application, error)
	FindAll(ctx context.Context) ([]*domain.Application, error)
}

type ModuleRepository interface {
	Save(ctx context.Context, module *domain.Module) error
	FindByID(ctx context.Context, id string) (*domain.Module, error)
	FindByAppAndName(ctx context.Context, appCode, name string) (*domain.Module, error)
	FindByApp(ctx context.Context, appCode string) ([]*domain.Module, error)
}

type EnvironmentRepository interface {
	Save(ctx context.Context, env *domain.ModuleEnvironment) error
	FindByID(ctx context.Context, id string) (*domain.ModuleEnvironment, error)
	FindByModuleAndEnv(ctx context.Context, moduleID string, env domain.Environment) (*domain.ModuleEnvironment, error)
	FindByApp(ctx context.Context, appCode string) ([]*domain.ModuleEnvironment, error)
}

type DeploymentRepository interface {
	Save(ctx context.Context, d *domain.Deployment) error
	Update(ctx context.Context, d *domain.Deployment) error
	FindByID(ctx context.Context, id string) (*domain.Deployment, error)
	// FindLatest 返回环境下最近创建的一条部署记录。
	FindLatest(ctx context.Context, environmentID string) (*domain.Deployment, error)
	FindLatestSuccessful(ctx context.Context, environmentID string) (*domain.Deployment, error)
	ListByEnvironment(ctx context.Context, environmentID string, limit int) ([]*domain.Deployment, error)
}

type BuildRepository interface {
	SaveProcess(ctx context.Context, bp *domain.BuildProcess) error
	UpdateProcess(ctx context.Context, bp *domain.BuildProcess) error
	FindProcessByID(ctx context.Context, id string) (*domain.BuildProcess, error)
	SaveBuild(ctx context.Context, b *domain.Build) error
	FindBuildByID(ctx context.Context, id string) (*domain.Build, error)
	// ListImageTags 返回该 EngineApp 历史构建产物的镜像引用，新者在前。
	ListImageTags(ctx context.Context, engineAppID string) ([]string, error)
}

type ReleaseRepository interface {
	Save(ctx context.Context, r *domain.Release) error
	FindByID(ctx context.Context, id string) (*domain.Release, error)
	// NextVersion 返回该 EngineApp 的下一个 release 序号（从 1 开始）。
	NextVersion(ctx context.Context, engineAppID string) (int, error)
}

type ProcessRepository interface {
	Save(ctx context.Context, p *domain.Process) error
	FindByModule(ctx context.Context, moduleID string) ([]*domain.Process, error)
	FindByModuleAndName(ctx context.Context, moduleID, name string) (*domain.Process, error)
	FindOverlays(ctx context.Context, moduleID string) ([]*domain.ProcessSpecEnvOverlay, error)
	SaveOverlay(ctx context.Context, moduleID string, o *domain.ProcessSpecEnvOverlay) error
}

type ConfigVarRepository interface {
	Save(ctx context.Context, moduleID string, v *domain.ConfigVar) error
	// FindByModule 返回对 env 生效的变量（含全局项）。
	FindByModule(ctx context.Context, moduleID string, env domain.Environment) ([]*domain.ConfigVar, error)
}

type MountRepository interface {
	Save(ctx context.Context, moduleID string, m *domain.Mount) error
	FindByModule(ctx context.Context, moduleID string) ([]*domain.Mount, error)
}

type HookRepository interface {
	Save(ctx context.Context, h *domain.DeployHook) error
	FindByModule(ctx context.Context, moduleID string) (*domain.DeployHook, error)
}

// BkAppRevision 是一次渲染出的 BkApp manifest 持久化记录。
type BkAppRevision struct {
	ID       string
	ModuleID string
	Manifest string // JSON
}

type RevisionRepository interface {
	Save(ctx context.Context, rev *BkAppRevision) error
	FindByID(ctx context.Context, id string) (*BkAppRevision, error)
}

type AddonRepository interface {
	FindService(ctx context.Context, serviceID string) (*domain.AddonService, error)
	FindServiceByName(ctx context.Context, name string) (*domain.AddonService, error)
	FindPlans(ctx context.Context, serviceID string) ([]*domain.AddonPlan, error)
	FindBindingPolicy(ctx context.Context, serviceID string) (*domain.BindingPolicy, error)

	SaveModuleAttachment(ctx context.Context, a *domain.ServiceModuleAttachment) error
	FindModuleAttachments(ctx context.Context, moduleID string) ([]*domain.ServiceModuleAttachment, error)

	SaveEngineAppAttachment(ctx context.Context, a *domain.ServiceEngineAppAttachment) error
	UpdateEngineAppAttachment(ctx context.Context, a *domain.ServiceEngineAppAttachment) error
	DeleteEngineAppAttachment(ctx context.Context, id string) error
	FindEngineAppAttachments(ctx context.Context, engineAppID string) ([]*domain.ServiceEngineAppAttachment, error)

	SaveInstance(ctx context.Context, inst *domain.ServiceInstance) error
	FindInstance(ctx context.Context, id string) (*domain.ServiceInstance, error)

	SaveUnboundAttachment(ctx context.Context, u *domain.UnboundServiceEngineAppAttachment) error
	FindPendingUnbound(ctx context.Context, limit int) ([]*domain.UnboundServiceEngineAppAttachment, error)
	MarkUnboundRecycled(ctx context.Context, id string) error
}
