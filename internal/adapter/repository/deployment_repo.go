package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

var _ port.DeploymentRepository = (*DeploymentRepo)(nil)

type DeploymentRepo struct {
	db *gorm.DB
}

func NewDeploymentRepo(db *gorm.DB) *DeploymentRepo {
	return &DeploymentRepo{db: db}
}

func (r *DeploymentRepo) Save(ctx context.Context, d *domain.Deployment) error {
	m, err := deploymentToModel(d)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Create(m)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *DeploymentRepo) Update(ctx context.Context, d *domain.Deployment) error {
	m, err := deploymentToModel(d)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *DeploymentRepo) FindByID(ctx context.Context, id string) (*domain.Deployment, error) {
	var m DeploymentModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDeploymentNotFound
		}
		return nil, result.Error
	}
	return modelToDeployment(&m)
}

func (r *DeploymentRepo) FindLatest(ctx context.Context, environmentID string) (*domain.Deployment, error) {
	var m DeploymentModel
	result := r.db.WithContext(ctx).
		Where("environment_id = ?", environmentID).
		Order("created_at DESC").
		First(&m)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDeploymentNotFound
		}
		return nil, result.Error
	}
	return modelToDeployment(&m)
}

func (r *DeploymentRepo) FindLatestSuccessful(ctx context.Context, environmentID string) (*domain.Deployment, error) {
	var m DeploymentModel
	result := r.db.WithContext(ctx).
		Where("environment_id = ? AND status = ?", environmentID, domain.DeployStatusSuccessful).
		Order("created_at DESC").
		First(&m)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDeploymentNotFound
		}
		return nil, result.Error
	}
	return modelToDeployment(&m)
}

func (r *DeploymentRepo) ListByEnvironment(ctx context.Context, environmentID string, limit int) ([]*domain.Deployment, error) {
	var models []DeploymentModel
	query := r.db.WithContext(ctx).
		Where("environment_id = ?", environmentID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	deployments := make([]*domain.Deployment, 0, len(models))
	for i := range models {
		d, err := modelToDeployment(&models[i])
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, nil
}

func deploymentToModel(d *domain.Deployment) (*DeploymentModel, error) {
	versionJSON, err := toJSON(d.Version)
	if err != nil {
		return nil, err
	}
	optionsJSON, err := toJSON(d.Options)
	if err != nil {
		return nil, err
	}
	return &DeploymentModel{
		ID:                    d.ID,
		EnvironmentID:         d.EnvironmentID,
		AppCode:               d.AppCode,
		ModuleName:            d.ModuleName,
		Environment:           string(d.Environment),
		Operator:              d.Operator,
		Version:               versionJSON,
		Status:                string(d.Status),
		ErrDetail:             d.ErrDetail,
		BuildProcessID:        d.BuildProcessID,
		BuildID:               d.BuildID,
		ReleaseID:             d.ReleaseID,
		BkAppRevisionID:       d.BkAppRevisionID,
		AdvancedOptions:       optionsJSON,
		BuildIntRequestedAt:   d.BuildIntRequestedAt,
		ReleaseIntRequestedAt: d.ReleaseIntRequestedAt,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}, nil
}

func modelToDeployment(m *DeploymentModel) (*domain.Deployment, error) {
	var version domain.VersionInfo
	if err := fromJSON(m.Version, &version); err != nil {
		return nil, err
	}
	var options domain.AdvancedOptions
	if err := fromJSON(m.AdvancedOptions, &options); err != nil {
		return nil, err
	}
	return &domain.Deployment{
		ID:                    m.ID,
		EnvironmentID:         m.EnvironmentID,
		AppCode:               m.AppCode,
		ModuleName:            m.ModuleName,
		Environment:           domain.Environment(m.Environment),
		Operator:              m.Operator,
		Version:               version,
		Status:                domain.DeploymentStatus(m.Status),
		ErrDetail:             m.ErrDetail,
		BuildProcessID:        m.BuildProcessID,
		BuildID:               m.BuildID,
		ReleaseID:             m.ReleaseID,
		BkAppRevisionID:       m.BkAppRevisionID,
		Options:               options,
		BuildIntRequestedAt:   m.BuildIntRequestedAt,
		ReleaseIntRequestedAt: m.ReleaseIntRequestedAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}, nil
}
