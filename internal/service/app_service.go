package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// AppService 管理 Application / Module / ModuleEnvironment 的生命周期。
// 创建模块时同步生成 stag/prod 两个环境及其 EngineApp。
type AppService struct {
	appRepo    port.ApplicationRepository
	moduleRepo port.ModuleRepository
	envRepo    port.EnvironmentRepository

	defaultCluster string
}

func NewAppService(
	appRepo port.ApplicationRepository,
	moduleRepo port.ModuleRepository,
	envRepo port.EnvironmentRepository,
	defaultCluster string,
) *AppService {
	return &AppService{
		appRepo:        appRepo,
		moduleRepo:     moduleRepo,
		envRepo:        envRepo,
		defaultCluster: defaultCluster,
	}
}

type CreateApplicationRequest struct {
	Code     string         `json:"code"`
	Name     string         `json:"name"`
	Type     domain.AppType `json:"type"`
	Region   string         `json:"region"`
	TenantID string         `json:"tenant_id"`
	Operator string         `json:"operator"`
}

// CreateApplication 创建应用及其 default 模块。
func (s *AppService) CreateApplication(ctx context.Context, req CreateApplicationRequest) (*domain.Application, error) {
	if err := domain.ValidateAppCode(req.Code); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = domain.AppTypeCloudNative
	}
	if req.Region == "" {
		req.Region = "default"
	}

	now := time.Now()
	app := &domain.Application{
		Code:      req.Code,
		Name:      req.Name,
		Type:      req.Type,
		Region:    req.Region,
		TenantID:  req.TenantID,
		Owner:     req.Operator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.appRepo.Save(ctx, app); err != nil {
		return nil, err
	}
	if _, err := s.createModule(ctx, app, domain.DefaultModuleName, CreateModuleRequest{}); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *AppService) GetApplication(ctx context.Context, code string) (*domain.Application, error) {
	return s.appRepo.FindByCode(ctx, code)
}

func (s *AppService) ListApplications(ctx context.Context) ([]*domain.Application, error) {
	return s.appRepo.FindAll(ctx)
}

type CreateModuleRequest struct {
	SourceOrigin     domain.SourceOrigin `json:"source_origin"`
	SourceType       string              `json:"source_type"`
	SourceRepoURL    string              `json:"source_repo_url"`
	BuildpackRuntime bool                `json:"buildpack_runtime"`
}

// CreateModule 在应用下创建一个新模块。
func (s *AppService) CreateModule(ctx context.Context, appCode, name string, req CreateModuleRequest) (*domain.Module, error) {
	if err := domain.ValidateModuleName(name); err != nil {
		return nil, err
	}
	app, err := s.appRepo.FindByCode(ctx, appCode)
	if err != nil {
		return nil, err
	}
	if _, err := s.moduleRepo.FindByAppAndName(ctx, appCode, name); err == nil {
		return nil, domain.ErrAlreadyExists
	}
	return s.createModule(ctx, app, name, req)
}

// createModule 落库模块并为 stag/prod 各建一个环境。
// EngineApp 命名与 Namespace 统一取 WlAppName，保证集群内资源可溯源。
func (s *AppService) createModule(ctx context.Context, app *domain.Application, name string, req CreateModuleRequest) (*domain.Module, error) {
	if req.SourceOrigin == "" {
		req.SourceOrigin = domain.OriginAuthorizedVCS
	}

	now := time.Now()
	module := &domain.Module{
		ID:               uuid.NewString(),
		AppCode:          app.Code,
		Name:             name,
		SourceOrigin:     req.SourceOrigin,
		SourceType:       req.SourceType,
		SourceRepoURL:    req.SourceRepoURL,
		ExposedURLType:   domain.ExposedSubpath,
		BuildpackRuntime: req.BuildpackRuntime,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.moduleRepo.Save(ctx, module); err != nil {
		return nil, err
	}

	mapperVersion := 1
	if app.IsCloudNative() {
		mapperVersion = 2
	}
	for _, envName := range []domain.Environment{domain.EnvStag, domain.EnvProd} {
		wlName := domain.WlAppName(app.Code, name, envName)
		env := &domain.ModuleEnvironment{
			ID:          uuid.NewString(),
			AppCode:     app.Code,
			ModuleID:    module.ID,
			ModuleName:  name,
			Environment: envName,
			EngineApp: &domain.EngineApp{
				ID:            uuid.NewString(),
				Name:          wlName,
				Region:        app.Region,
				TenantID:      app.TenantID,
				Cluster:       s.defaultCluster,
				Namespace:     wlName,
				Env:           envName,
				MapperVersion: mapperVersion,
			},
		}
		if err := s.envRepo.Save(ctx, env); err != nil {
			return nil, err
		}
	}
	return module, nil
}

func (s *AppService) GetModule(ctx context.Context, appCode, name string) (*domain.Module, error) {
	return s.moduleRepo.FindByAppAndName(ctx, appCode, name)
}

func (s *AppService) ListModules(ctx context.Context, appCode string) ([]*domain.Module, error) {
	if _, err := s.appRepo.FindByCode(ctx, appCode); err != nil {
		return nil, err
	}
	return s.moduleRepo.FindByApp(ctx, appCode)
}

func (s *AppService) GetEnvironmentByID(ctx context.Context, environmentID string) (*domain.ModuleEnvironment, error) {
	return s.envRepo.FindByID(ctx, environmentID)
}

func (s *AppService) GetEnvironment(ctx context.Context, moduleID string, env domain.Environment) (*domain.ModuleEnvironment, error) {
	return s.envRepo.FindByModuleAndEnv(ctx, moduleID, env)
}

func (s *AppService) ListEnvironments(ctx context.Context, appCode string) ([]*domain.ModuleEnvironment, error) {
	return s.envRepo.FindByApp(ctx, appCode)
}

// OfflineEnv 下架环境：置 IsOfflined 标记，后续进程操作与新部署被拒绝。
func (s *AppService) OfflineEnv(ctx context.Context, environmentID string) error {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return err
	}
	env.IsOfflined = true
	return s.envRepo.Save(ctx, env)
}

// OnlineEnv 恢复已下架的环境。
func (s *AppService) OnlineEnv(ctx context.Context, environmentID string) error {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return err
	}
	env.IsOfflined = false
	return s.envRepo.Save(ctx, env)
}
