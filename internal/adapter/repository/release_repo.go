package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

var _ port.ReleaseRepository = (*ReleaseRepo)(nil)

type ReleaseRepo struct {
	db *gorm.DB
}

func NewReleaseRepo(db *gorm.DB) *ReleaseRepo {
	return &ReleaseRepo{db: db}
}

func (r *ReleaseRepo) Save(ctx context.Context, rel *domain.Release) error {
	m, err := releaseToModel(rel)
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

func (r *ReleaseRepo) FindByID(ctx context.Context, id string) (*domain.Release, error) {
	var m ReleaseModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReleaseNotFound
		}
		return nil, result.Error
	}
	return modelToRelease(&m)
}

// NextVersion 返回该 EngineApp 的下一个 release 序号。并发部署由
// 环境级 Redis 锁互斥，这里不再做数据库级防护。
func (r *ReleaseRepo) NextVersion(ctx context.Context, engineAppID string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).
		Model(&ReleaseModel{}).
		Where("engine_app_id = ?", engineAppID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func releaseToModel(rel *domain.Release) (*ReleaseModel, error) {
	envJSON, err := toJSON(rel.EnvVariables)
	if err != nil {
		return nil, err
	}
	procfileJSON, err := toJSON(rel.Procfile)
	if err != nil {
		return nil, err
	}
	return &ReleaseModel{
		ID:              rel.ID,
		EngineAppID:     rel.EngineAppID,
		Version:         rel.Version,
		BuildID:         rel.BuildID,
		DeploymentID:    rel.DeploymentID,
		EnvVariables:    envJSON,
		Procfile:        procfileJSON,
		BkAppRevisionID: rel.BkAppRevisionID,
		CreatedAt:       rel.CreatedAt,
	}, nil
}

func modelToRelease(m *ReleaseModel) (*domain.Release, error) {
	var envVariables map[string]string
	if err := fromJSON(m.EnvVariables, &envVariables); err != nil {
		return nil, err
	}
	var procfile map[string]string
	if err := fromJSON(m.Procfile, &procfile); err != nil {
		return nil, err
	}
	return &domain.Release{
		ID:              m.ID,
		EngineAppID:     m.EngineAppID,
		Version:         m.Version,
		BuildID:         m.BuildID,
		DeploymentID:    m.DeploymentID,
		EnvVariables:    envVariables,
		Procfile:        procfile,
		BkAppRevisionID: m.BkAppRevisionID,
		CreatedAt:       m.CreatedAt,
	}, nil
}

var _ port.RevisionRepository = (*RevisionRepo)(nil)

// RevisionRepo 持久化渲染出的 BkApp manifest，供回滚与审计查询。
type RevisionRepo struct {
	db *gorm.DB
}

func NewRevisionRepo(db *gorm.DB) *RevisionRepo {
	return &RevisionRepo{db: db}
}

func (r *RevisionRepo) Save(ctx context.Context, rev *port.BkAppRevision) error {
	m := &BkAppRevisionModel{
		ID:       rev.ID,
		ModuleID: rev.ModuleID,
		Manifest: rev.Manifest,
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

func (r *RevisionRepo) FindByID(ctx context.Context, id string) (*port.BkAppRevision, error) {
	var m BkAppRevisionModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, result.Error
	}
	return &port.BkAppRevision{ID: m.ID, ModuleID: m.ModuleID, Manifest: m.Manifest}, nil
}
