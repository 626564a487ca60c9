package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

var _ port.BuildRepository = (*BuildRepo)(nil)

type BuildRepo struct {
	db *gorm.DB
}

func NewBuildRepo(db *gorm.DB) *BuildRepo {
	return &BuildRepo{db: db}
}

func (r *BuildRepo) SaveProcess(ctx context.Context, bp *domain.BuildProcess) error {
	m, err := buildProcessToModel(bp)
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

func (r *BuildRepo) UpdateProcess(ctx context.Context, bp *domain.BuildProcess) error {
	m, err := buildProcessToModel(bp)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *BuildRepo) FindProcessByID(ctx context.Context, id string) (*domain.BuildProcess, error) {
	var m BuildProcessModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBuildNotFound
		}
		return nil, result.Error
	}
	return modelToBuildProcess(&m)
}

func (r *BuildRepo) SaveBuild(ctx context.Context, b *domain.Build) error {
	m, err := buildToModel(b)
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

func (r *BuildRepo) FindBuildByID(ctx context.Context, id string) (*domain.Build, error) {
	var m BuildModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBuildNotFound
		}
		return nil, result.Error
	}
	return modelToBuild(&m)
}

func (r *BuildRepo) ListImageTags(ctx context.Context, engineAppID string) ([]string, error) {
	var images []string
	err := r.db.WithContext(ctx).
		Model(&BuildModel{}).
		Where("engine_app_id = ?", engineAppID).
		Order("created_at DESC").
		Pluck("image", &images).Error
	if err != nil {
		return nil, err
	}
	return images, nil
}

func buildProcessToModel(bp *domain.BuildProcess) (*BuildProcessModel, error) {
	versionJSON, err := toJSON(bp.Version)
	if err != nil {
		return nil, err
	}
	buildpacksJSON, err := toJSON(bp.Buildpacks)
	if err != nil {
		return nil, err
	}
	return &BuildProcessModel{
		ID:            bp.ID,
		Owner:         bp.Owner,
		EngineAppID:   bp.EngineAppID,
		DeploymentID:  bp.DeploymentID,
		BuilderImage:  bp.BuilderImage,
		SourceTarPath: bp.SourceTarPath,
		Version:       versionJSON,
		Buildpacks:    buildpacksJSON,
		Status:        string(bp.Status),
		PodName:       bp.PodName,
		LogLines:      bp.LogLines,
		CreatedAt:     bp.CreatedAt,
		UpdatedAt:     bp.UpdatedAt,
	}, nil
}

func modelToBuildProcess(m *BuildProcessModel) (*domain.BuildProcess, error) {
	var version domain.VersionInfo
	if err := fromJSON(m.Version, &version); err != nil {
		return nil, err
	}
	var buildpacks []domain.BuildpackInfo
	if err := fromJSON(m.Buildpacks, &buildpacks); err != nil {
		return nil, err
	}
	return &domain.BuildProcess{
		ID:            m.ID,
		Owner:         m.Owner,
		EngineAppID:   m.EngineAppID,
		DeploymentID:  m.DeploymentID,
		BuilderImage:  m.BuilderImage,
		SourceTarPath: m.SourceTarPath,
		Version:       version,
		Buildpacks:    buildpacks,
		Status:        domain.BuildStatus(m.Status),
		PodName:       m.PodName,
		LogLines:      m.LogLines,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

func buildToModel(b *domain.Build) (*BuildModel, error) {
	procfileJSON, err := toJSON(b.Procfile)
	if err != nil {
		return nil, err
	}
	return &BuildModel{
		ID:              b.ID,
		BuildProcessID:  b.BuildProcessID,
		EngineAppID:     b.EngineAppID,
		Image:           b.Image,
		Procfile:        procfileJSON,
		BkAppRevisionID: b.BkAppRevisionID,
		CreatedAt:       b.CreatedAt,
	}, nil
}

func modelToBuild(m *BuildModel) (*domain.Build, error) {
	var procfile map[string]string
	if err := fromJSON(m.Procfile, &procfile); err != nil {
		return nil, err
	}
	return &domain.Build{
		ID:              m.ID,
		BuildProcessID:  m.BuildProcessID,
		EngineAppID:     m.EngineAppID,
		Image:           m.Image,
		Procfile:        procfile,
		BkAppRevisionID: m.BkAppRevisionID,
		CreatedAt:       m.CreatedAt,
	}, nil
}
