package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

var _ port.AddonRepository = (*AddonRepo)(nil)

type AddonRepo struct {
	db *gorm.DB
}

func NewAddonRepo(db *gorm.DB) *AddonRepo {
	return &AddonRepo{db: db}
}

func (r *AddonRepo) FindService(ctx context.Context, serviceID string) (*domain.AddonService, error) {
	var m AddonServiceModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", serviceID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrServiceNotFound
		}
		return nil, result.Error
	}
	return modelToAddonService(&m), nil
}

func (r *AddonRepo) FindServiceByName(ctx context.Context, name string) (*domain.AddonService, error) {
	var m AddonServiceModel
	result := r.db.WithContext(ctx).First(&m, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrServiceNotFound
		}
		return nil, result.Error
	}
	return modelToAddonService(&m), nil
}

func (r *AddonRepo) FindPlans(ctx context.Context, serviceID string) ([]*domain.AddonPlan, error) {
	var models []AddonPlanModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models, "service_id = ?", serviceID).Error; err != nil {
		return nil, err
	}
	plans := make([]*domain.AddonPlan, 0, len(models))
	for i := range models {
		p, err := modelToAddonPlan(&models[i])
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (r *AddonRepo) FindBindingPolicy(ctx context.Context, serviceID string) (*domain.BindingPolicy, error) {
	var m BindingPolicyModel
	result := r.db.WithContext(ctx).First(&m, "service_id = ?", serviceID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, result.Error
	}
	policy := &domain.BindingPolicy{ServiceID: m.ServiceID}
	if err := fromJSON(m.Uniform, &policy.Uniform); err != nil {
		return nil, err
	}
	if err := fromJSON(m.PerEnv, &policy.PerEnv); err != nil {
		return nil, err
	}
	if err := fromJSON(m.Rules, &policy.Rules); err != nil {
		return nil, err
	}
	return policy, nil
}

func (r *AddonRepo) SaveModuleAttachment(ctx context.Context, a *domain.ServiceModuleAttachment) error {
	m := &ServiceModuleAttachmentModel{
		ID:               a.ID,
		ServiceID:        a.ServiceID,
		ModuleID:         a.ModuleID,
		SharedFromModule: a.SharedFromModule,
		CreatedAt:        a.CreatedAt,
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

func (r *AddonRepo) FindModuleAttachments(ctx context.Context, moduleID string) ([]*domain.ServiceModuleAttachment, error) {
	var models []ServiceModuleAttachmentModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models, "module_id = ?", moduleID).Error; err != nil {
		return nil, err
	}
	attachments := make([]*domain.ServiceModuleAttachment, 0, len(models))
	for i := range models {
		attachments = append(attachments, &domain.ServiceModuleAttachment{
			ID:               models[i].ID,
			ServiceID:        models[i].ServiceID,
			ModuleID:         models[i].ModuleID,
			SharedFromModule: models[i].SharedFromModule,
			CreatedAt:        models[i].CreatedAt,
		})
	}
	return attachments, nil
}

func (r *AddonRepo) SaveEngineAppAttachment(ctx context.Context, a *domain.ServiceEngineAppAttachment) error {
	result := r.db.WithContext(ctx).Create(engineAppAttachmentToModel(a))
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *AddonRepo) UpdateEngineAppAttachment(ctx context.Context, a *domain.ServiceEngineAppAttachment) error {
	return r.db.WithContext(ctx).Save(engineAppAttachmentToModel(a)).Error
}

func (r *AddonRepo) DeleteEngineAppAttachment(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&ServiceEngineAppAttachmentModel{}, "id = ?", id).Error
}

func (r *AddonRepo) FindEngineAppAttachments(ctx context.Context, engineAppID string) ([]*domain.ServiceEngineAppAttachment, error) {
	var models []ServiceEngineAppAttachmentModel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&models, "engine_app_id = ?", engineAppID).Error; err != nil {
		return nil, err
	}
	attachments := make([]*domain.ServiceEngineAppAttachment, 0, len(models))
	for i := range models {
		attachments = append(attachments, modelToEngineAppAttachment(&models[i]))
	}
	return attachments, nil
}

func (r *AddonRepo) SaveInstance(ctx context.Context, inst *domain.ServiceInstance) error {
	m, err := instanceToModel(inst)
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

func (r *AddonRepo) FindInstance(ctx context.Context, id string) (*domain.ServiceInstance, error) {
	var m ServiceInstanceModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, result.Error
	}
	return modelToInstance(&m)
}

func (r *AddonRepo) SaveUnboundAttachment(ctx context.Context, u *domain.UnboundServiceEngineAppAttachment) error {
	m := &UnboundAttachmentModel{
		ID:                u.ID,
		ServiceID:         u.ServiceID,
		EngineAppID:       u.EngineAppID,
		ServiceInstanceID: u.ServiceInstanceID,
		RecycledAt:        u.RecycledAt,
		CreatedAt:         u.CreatedAt,
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

func (r *AddonRepo) FindPendingUnbound(ctx context.Context, limit int) ([]*domain.UnboundServiceEngineAppAttachment, error) {
	var models []UnboundAttachmentModel
	query := r.db.WithContext(ctx).
		Where("recycled_at IS NULL").
		Order("created_at")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	pending := make([]*domain.UnboundServiceEngineAppAttachment, 0, len(models))
	for i := range models {
		pending = append(pending, &domain.UnboundServiceEngineAppAttachment{
			ID:                models[i].ID,
			ServiceID:         models[i].ServiceID,
			EngineAppID:       models[i].EngineAppID,
			ServiceInstanceID: models[i].ServiceInstanceID,
			RecycledAt:        models[i].RecycledAt,
			CreatedAt:         models[i].CreatedAt,
		})
	}
	return pending, nil
}

func (r *AddonRepo) MarkUnboundRecycled(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&UnboundAttachmentModel{}).
		Where("id = ?", id).
		Update("recycled_at", &now).Error
}

func modelToAddonService(m *AddonServiceModel) *domain.AddonService {
	return &domain.AddonService{
		ID:                m.ID,
		Name:              m.Name,
		Provider:          domain.AddonProvider(m.Provider),
		PreferAsyncDelete: m.PreferAsyncDelete,
	}
}

func modelToAddonPlan(m *AddonPlanModel) (*domain.AddonPlan, error) {
	var properties map[string]string
	if err := fromJSON(m.Properties, &properties); err != nil {
		return nil, err
	}
	return &domain.AddonPlan{
		ID:          m.ID,
		ServiceID:   m.ServiceID,
		Name:        m.Name,
		Properties:  properties,
		Environment: domain.Environment(m.Environment),
	}, nil
}

func engineAppAttachmentToModel(a *domain.ServiceEngineAppAttachment) *ServiceEngineAppAttachmentModel {
	return &ServiceEngineAppAttachmentModel{
		ID:                a.ID,
		ServiceID:         a.ServiceID,
		EngineAppID:       a.EngineAppID,
		PlanID:            a.PlanID,
		ServiceInstanceID: a.ServiceInstanceID,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func modelToEngineAppAttachment(m *ServiceEngineAppAttachmentModel) *domain.ServiceEngineAppAttachment {
	return &domain.ServiceEngineAppAttachment{
		ID:                m.ID,
		ServiceID:         m.ServiceID,
		EngineAppID:       m.EngineAppID,
		PlanID:            m.PlanID,
		ServiceInstanceID: m.ServiceInstanceID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func instanceToModel(inst *domain.ServiceInstance) (*ServiceInstanceModel, error) {
	credentialsJSON, err := toJSON(inst.Credentials)
	if err != nil {
		return nil, err
	}
	configJSON, err := toJSON(inst.Config)
	if err != nil {
		return nil, err
	}
	hiddenJSON, err := toJSON(inst.ShouldHiddenFields)
	if err != nil {
		return nil, err
	}
	removeJSON, err := toJSON(inst.ShouldRemoveFields)
	if err != nil {
		return nil, err
	}
	return &ServiceInstanceModel{
		ID:                 inst.ID,
		ServiceID:          inst.ServiceID,
		PlanID:             inst.PlanID,
		Credentials:        credentialsJSON,
		Config:             configJSON,
		TenantID:           inst.TenantID,
		ShouldHiddenFields: hiddenJSON,
		ShouldRemoveFields: removeJSON,
		CreateTime:         inst.CreateTime,
	}, nil
}

func modelToInstance(m *ServiceInstanceModel) (*domain.ServiceInstance, error) {
	var credentials, config map[string]string
	if err := fromJSON(m.Credentials, &credentials); err != nil {
		return nil, err
	}
	if err := fromJSON(m.Config, &config); err != nil {
		return nil, err
	}
	var hidden, remove []string
	if err := fromJSON(m.ShouldHiddenFields, &hidden); err != nil {
		return nil, err
	}
	if err := fromJSON(m.ShouldRemoveFields, &remove); err != nil {
		return nil, err
	}
	return &domain.ServiceInstance{
		ID:                 m.ID,
		ServiceID:          m.ServiceID,
		PlanID:             m.PlanID,
		Credentials:        credentials,
		Config:             config,
		TenantID:           m.TenantID,
		ShouldHiddenFields: hidden,
		ShouldRemoveFields: remove,
		CreateTime:         m.CreateTime,
	}, nil
}
