package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

var _ port.ModuleRepository = (*ModuleRepo)(nil)

type ModuleRepo struct {
	db *gorm.DB
}

func NewModuleRepo(db *gorm.DB) *ModuleRepo {
	return &ModuleRepo{db: db}
}

func (r *ModuleRepo) Save(ctx context.Context, module *domain.Module) error {
	m, err := moduleToModel(module)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *ModuleRepo) FindByID(ctx context.Context, id string) (*domain.Module, error) {
	var m ModuleModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrModuleNotFound
		}
		return nil, result.Error
	}
	return modelToModule(&m)
}

func (r *ModuleRepo) FindByAppAndName(ctx context.Context, appCode, name string) (*domain.Module, error) {
	var m ModuleModel
	result := r.db.WithContext(ctx).First(&m, "app_code = ? AND name = ?", appCode, name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrModuleNotFound
		}
		return nil, result.Error
	}
	return modelToModule(&m)
}

func (r *ModuleRepo) FindByApp(ctx context.Context, appCode string) ([]*domain.Module, error) {
	var models []ModuleModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models, "app_code = ?", appCode).Error; err != nil {
		return nil, err
	}
	modules := make([]*domain.Module, 0, len(models))
	for i := range models {
		module, err := modelToModule(&models[i])
		if err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	return modules, nil
}

func moduleToModel(m *domain.Module) (*ModuleModel, error) {
	svcDiscoveryJSON, err := toJSON(m.SvcDiscovery)
	if err != nil {
		return nil, err
	}
	domainResolutionJSON, err := toJSON(m.DomainResolution)
	if err != nil {
		return nil, err
	}
	return &ModuleModel{
		ID:               m.ID,
		AppCode:          m.AppCode,
		Name:             m.Name,
		SourceOrigin:     string(m.SourceOrigin),
		SourceType:       m.SourceType,
		SourceRepoURL:    m.SourceRepoURL,
		ExposedURLType:   string(m.ExposedURLType),
		BuildpackRuntime: m.BuildpackRuntime,
		SvcDiscovery:     svcDiscoveryJSON,
		DomainResolution: domainResolutionJSON,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

func modelToModule(m *ModuleModel) (*domain.Module, error) {
	var svcDiscovery []domain.SvcDiscoveryEntry
	if err := fromJSON(m.SvcDiscovery, &svcDiscovery); err != nil {
		return nil, err
	}
	var domainResolution *domain.DomainResolution
	if err := fromJSON(m.DomainResolution, &domainResolution); err != nil {
		return nil, err
	}
	return &domain.Module{
		ID:               m.ID,
		AppCode:          m.AppCode,
		Name:             m.Name,
		SourceOrigin:     domain.SourceOrigin(m.SourceOrigin),
		SourceType:       m.SourceType,
		SourceRepoURL:    m.SourceRepoURL,
		ExposedURLType:   domain.ExposedURLType(m.ExposedURLType),
		BuildpackRuntime: m.BuildpackRuntime,
		SvcDiscovery:     svcDiscovery,
		DomainResolution: domainResolution,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

var _ port.EnvironmentRepository = (*EnvironmentRepo)(nil)

type EnvironmentRepo struct {
	db *gorm.DB
}

func NewEnvironmentRepo(db *gorm.DB) *EnvironmentRepo {
	return &EnvironmentRepo{db: db}
}

func (r *EnvironmentRepo) Save(ctx context.Context, env *domain.ModuleEnvironment) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(environmentToModel(env))
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *EnvironmentRepo) FindByID(ctx context.Context, id string) (*domain.ModuleEnvironment, error) {
	var m ModuleEnvironmentModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrEnvNotFound
		}
		return nil, result.Error
	}
	return modelToEnvironment(&m), nil
}

func (r *EnvironmentRepo) FindByModuleAndEnv(ctx context.Context, moduleID string, env domain.Environment) (*domain.ModuleEnvironment, error) {
	var m ModuleEnvironmentModel
	result := r.db.WithContext(ctx).First(&m, "module_id = ? AND environment = ?", moduleID, env)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrEnvNotFound
		}
		return nil, result.Error
	}
	return modelToEnvironment(&m), nil
}

func (r *EnvironmentRepo) FindByApp(ctx context.Context, appCode string) ([]*domain.ModuleEnvironment, error) {
	var models []ModuleEnvironmentModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models, "app_code = ?", appCode).Error; err != nil {
		return nil, err
	}
	envs := make([]*domain.ModuleEnvironment, 0, len(models))
	for i := range models {
		envs = append(envs, modelToEnvironment(&models[i]))
	}
	return envs, nil
}

func environmentToModel(e *domain.ModuleEnvironment) *ModuleEnvironmentModel {
	m := &ModuleEnvironmentModel{
		ID:          e.ID,
		AppCode:     e.AppCode,
		ModuleID:    e.ModuleID,
		ModuleName:  e.ModuleName,
		Environment: string(e.Environment),
		IsOfflined:  e.IsOfflined,
	}
	if e.EngineApp != nil {
		m.EngineAppID = e.EngineApp.ID
		m.EngineAppName = e.EngineApp.Name
		m.Region = e.EngineApp.Region
		m.TenantID = e.EngineApp.TenantID
		m.Cluster = e.EngineApp.Cluster
		m.Namespace = e.EngineApp.Namespace
		m.MapperVersion = e.EngineApp.MapperVersion
	}
	return m
}

func modelToEnvironment(m *ModuleEnvironmentModel) *domain.ModuleEnvironment {
	return &domain.ModuleEnvironment{
		ID:          m.ID,
		AppCode:     m.AppCode,
		ModuleID:    m.ModuleID,
		ModuleName:  m.ModuleName,
		Environment: domain.Environment(m.Environment),
		IsOfflined:  m.IsOfflined,
		EngineApp: &domain.EngineApp{
			ID:            m.EngineAppID,
			Name:          m.EngineAppName,
			Region:        m.Region,
			TenantID:      m.TenantID,
			Cluster:       m.Cluster,
			Namespace:     m.Namespace,
			Env:           domain.Environment(m.Environment),
			MapperVersion: m.MapperVersion,
		},
	}
}
