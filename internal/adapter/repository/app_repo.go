package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

var _ port.ApplicationRepository = (*ApplicationRepo)(nil)

type ApplicationRepo struct {
	db *gorm.DB
}

func NewApplicationRepo(db *gorm.DB) *ApplicationRepo {
	return &ApplicationRepo{db: db}
}

func (r *ApplicationRepo) Save(ctx context.Context, app *domain.Application) error {
	result := r.db.WithContext(ctx).Create(applicationToModel(app))
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *ApplicationRepo) FindByCode(ctx context.Context, code string) (*domain.Application, error) {
	var m ApplicationModel
	result := r.db.WithContext(ctx).First(&m, "code = ?", code)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAppNotFound
		}
		return nil, result.Error
	}
	return modelToApplication(&m), nil
}

func (r *ApplicationRepo) FindAll(ctx context.Context) ([]*domain.Application, error) {
	var models []ApplicationModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models).Error; err != nil {
		return nil, err
	}
	apps := make([]*domain.Application, 0, len(models))
	for i := range models {
		apps = append(apps, modelToApplication(&models[i]))
	}
	return apps, nil
}

func applicationToModel(a *domain.Application) *ApplicationModel {
	return &ApplicationModel{
		Code:      a.Code,
		Name:      a.Name,
		Type:      string(a.Type),
		Region:    a.Region,
		TenantID:  a.TenantID,
		Owner:     a.Owner,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func modelToApplication(m *ApplicationModel) *domain.Application {
	return &domain.Application{
		Code:      m.Code,
		Name:      m.Name,
		Type:      domain.AppType(m.Type),
		Region:    m.Region,
		TenantID:  m.TenantID,
		Owner:     m.Owner,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
