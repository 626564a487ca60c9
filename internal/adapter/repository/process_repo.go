package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

var _ port.ProcessRepository = (*ProcessRepo)(nil)

type ProcessRepo struct {
	db *gorm.DB
}

func NewProcessRepo(db *gorm.DB) *ProcessRepo {
	return &ProcessRepo{db: db}
}

// Save 写入或覆盖进程定义。描述文件每次部署重新导入，按 (module, name) 幂等。
func (r *ProcessRepo) Save(ctx context.Context, p *domain.Process) error {
	m, err := processToModel(p)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

func (r *ProcessRepo) FindByModule(ctx context.Context, moduleID string) ([]*domain.Process, error) {
	var models []ProcessModel
	if err := r.db.WithContext(ctx).Order("name").Find(&models, "module_id = ?", moduleID).Error; err != nil {
		return nil, err
	}
	processes := make([]*domain.Process, 0, len(models))
	for i := range models {
		p, err := modelToProcess(&models[i])
		if err != nil {
			return nil, err
		}
		processes = append(processes, p)
	}
	return processes, nil
}

func (r *ProcessRepo) FindByModuleAndName(ctx context.Context, moduleID, name string) (*domain.Process, error) {
	var m ProcessModel
	result := r.db.WithContext(ctx).First(&m, "module_id = ? AND name = ?", moduleID, name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProcessNotFound
		}
		return nil, result.Error
	}
	return modelToProcess(&m)
}

func (r *ProcessRepo) FindOverlays(ctx context.Context, moduleID string) ([]*domain.ProcessSpecEnvOverlay, error) {
	var models []ProcessOverlayModel
	if err := r.db.WithContext(ctx).
		Order("process_name, environment").
		Find(&models, "module_id = ?", moduleID).Error; err != nil {
		return nil, err
	}
	overlays := make([]*domain.ProcessSpecEnvOverlay, 0, len(models))
	for i := range models {
		o, err := modelToOverlay(&models[i])
		if err != nil {
			return nil, err
		}
		overlays = append(overlays, o)
	}
	return overlays, nil
}

func (r *ProcessRepo) SaveOverlay(ctx context.Context, moduleID string, o *domain.ProcessSpecEnvOverlay) error {
	m, err := overlayToModel(moduleID, o)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

func processToModel(p *domain.Process) (*ProcessModel, error) {
	commandJSON, err := toJSON(p.Command)
	if err != nil {
		return nil, err
	}
	argsJSON, err := toJSON(p.Args)
	if err != nil {
		return nil, err
	}
	autoscalingJSON, err := toJSON(p.Autoscaling)
	if err != nil {
		return nil, err
	}
	probesJSON, err := toJSON(p.Probes)
	if err != nil {
		return nil, err
	}
	servicesJSON, err := toJSON(p.Services)
	if err != nil {
		return nil, err
	}
	return &ProcessModel{
		ModuleID:      p.ModuleID,
		Name:          p.Name,
		Command:       commandJSON,
		Args:          argsJSON,
		ProcCommand:   p.ProcCommand,
		Replicas:      p.Replicas,
		ResQuotaPlan:  p.ResQuotaPlan,
		Autoscaling:   autoscalingJSON,
		Probes:        probesJSON,
		Services:      servicesJSON,
		ImageOverride: p.ImageOverride,
	}, nil
}

func modelToProcess(m *ProcessModel) (*domain.Process, error) {
	var command, args []string
	if err := fromJSON(m.Command, &command); err != nil {
		return nil, err
	}
	if err := fromJSON(m.Args, &args); err != nil {
		return nil, err
	}
	var autoscaling *domain.AutoscalingConfig
	if err := fromJSON(m.Autoscaling, &autoscaling); err != nil {
		return nil, err
	}
	var probes *domain.ProbeSet
	if err := fromJSON(m.Probes, &probes); err != nil {
		return nil, err
	}
	var services []domain.ProcService
	if err := fromJSON(m.Services, &services); err != nil {
		return nil, err
	}
	return &domain.Process{
		Name:          m.Name,
		ModuleID:      m.ModuleID,
		Command:       command,
		Args:          args,
		ProcCommand:   m.ProcCommand,
		Replicas:      m.Replicas,
		ResQuotaPlan:  m.ResQuotaPlan,
		Autoscaling:   autoscaling,
		Probes:        probes,
		Services:      services,
		ImageOverride: m.ImageOverride,
	}, nil
}

func overlayToModel(moduleID string, o *domain.ProcessSpecEnvOverlay) (*ProcessOverlayModel, error) {
	scalingJSON, err := toJSON(o.ScalingConfig)
	if err != nil {
		return nil, err
	}
	return &ProcessOverlayModel{
		ModuleID:       moduleID,
		ProcessName:    o.ProcessName,
		Environment:    string(o.Environment),
		Plan:           o.Plan,
		TargetReplicas: o.TargetReplicas,
		Autoscaling:    o.Autoscaling,
		ScalingConfig:  scalingJSON,
	}, nil
}

func modelToOverlay(m *ProcessOverlayModel) (*domain.ProcessSpecEnvOverlay, error) {
	var scaling *domain.AutoscalingConfig
	if err := fromJSON(m.ScalingConfig, &scaling); err != nil {
		return nil, err
	}
	return &domain.ProcessSpecEnvOverlay{
		ProcessName:    m.ProcessName,
		Environment:    domain.Environment(m.Environment),
		Plan:           m.Plan,
		TargetReplicas: m.TargetReplicas,
		Autoscaling:    m.Autoscaling,
		ScalingConfig:  scaling,
	}, nil
}

var _ port.ConfigVarRepository = (*ConfigVarRepo)(nil)

type ConfigVarRepo struct {
	db *gorm.DB
}

func NewConfigVarRepo(db *gorm.DB) *ConfigVarRepo {
	return &ConfigVarRepo{db: db}
}

func (r *ConfigVarRepo) Save(ctx context.Context, moduleID string, v *domain.ConfigVar) error {
	m := &ConfigVarModel{
		ModuleID:    moduleID,
		Key:         v.Key,
		Environment: string(v.Environment),
		Value:       v.Value,
		Preset:      v.Preset,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

// FindByModule 返回对 env 生效的变量：全局项加环境专属项。
func (r *ConfigVarRepo) FindByModule(ctx context.Context, moduleID string, env domain.Environment) ([]*domain.ConfigVar, error) {
	var models []ConfigVarModel
	err := r.db.WithContext(ctx).
		Where("module_id = ? AND (environment = ? OR environment = ?)", moduleID, "", string(env)).
		Order("key").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	vars := make([]*domain.ConfigVar, 0, len(models))
	for i := range models {
		vars = append(vars, &domain.ConfigVar{
			Key:         models[i].Key,
			Value:       models[i].Value,
			Environment: domain.Environment(models[i].Environment),
			Preset:      models[i].Preset,
		})
	}
	return vars, nil
}

var _ port.MountRepository = (*MountRepo)(nil)

type MountRepo struct {
	db *gorm.DB
}

func NewMountRepo(db *gorm.DB) *MountRepo {
	return &MountRepo{db: db}
}

func (r *MountRepo) Save(ctx context.Context, moduleID string, mount *domain.Mount) error {
	m := &MountModel{
		ModuleID:    moduleID,
		Name:        mount.Name,
		Environment: string(mount.Environment),
		MountPath:   mount.MountPath,
		SourceType:  string(mount.Source.Type),
		SourceName:  mount.Source.Name,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

func (r *MountRepo) FindByModule(ctx context.Context, moduleID string) ([]*domain.Mount, error) {
	var models []MountModel
	if err := r.db.WithContext(ctx).Order("name").Find(&models, "module_id = ?", moduleID).Error; err != nil {
		return nil, err
	}
	mounts := make([]*domain.Mount, 0, len(models))
	for i := range models {
		mounts = append(mounts, &domain.Mount{
			Name:      models[i].Name,
			MountPath: models[i].MountPath,
			Source: domain.VolumeSource{
				Type: domain.VolumeSourceType(models[i].SourceType),
				Name: models[i].SourceName,
			},
			Environment: domain.Environment(models[i].Environment),
		})
	}
	return mounts, nil
}

var _ port.HookRepository = (*HookRepo)(nil)

type HookRepo struct {
	db *gorm.DB
}

func NewHookRepo(db *gorm.DB) *HookRepo {
	return &HookRepo{db: db}
}

func (r *HookRepo) Save(ctx context.Context, h *domain.DeployHook) error {
	commandJSON, err := toJSON(h.Command)
	if err != nil {
		return err
	}
	argsJSON, err := toJSON(h.Args)
	if err != nil {
		return err
	}
	m := &DeployHookModel{
		ModuleID:    h.ModuleID,
		Command:     commandJSON,
		Args:        argsJSON,
		ProcCommand: h.ProcCommand,
		Enabled:     h.Enabled,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

func (r *HookRepo) FindByModule(ctx context.Context, moduleID string) (*domain.DeployHook, error) {
	var m DeployHookModel
	result := r.db.WithContext(ctx).First(&m, "module_id = ?", moduleID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, result.Error
	}
	var command, args []string
	if err := fromJSON(m.Command, &command); err != nil {
		return nil, err
	}
	if err := fromJSON(m.Args, &args); err != nil {
		return nil, err
	}
	return &domain.DeployHook{
		ModuleID:    m.ModuleID,
		Command:     command,
		Args:        args,
		ProcCommand: m.ProcCommand,
		Enabled:     m.Enabled,
	}, nil
}
