package service

import (
	"context"
	"log/slog"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/appdesc"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// ImportService 把应用描述文件导入为数据库内的应用模型。
// 导入按 (module, name) 幂等：重复部署同一份描述文件不产生重复记录。
type ImportService struct {
	moduleRepo    port.ModuleRepository
	processRepo   port.ProcessRepository
	configVarRepo port.ConfigVarRepository
	hookRepo      port.HookRepository
	addons        *AddonService
}

func NewImportService(
	moduleRepo port.ModuleRepository,
	processRepo port.ProcessRepository,
	configVarRepo port.ConfigVarRepository,
	hookRepo port.HookRepository,
	addons *AddonService,
) *ImportService {
	return &ImportService{
		moduleRepo:    moduleRepo,
		processRepo:   processRepo,
		configVarRepo: configVarRepo,
		hookRepo:      hookRepo,
		addons:        addons,
	}
}

// ImportManifest 解析并落库 app_desc.yaml。
// 解析失败返回 DescriptionValidationError，映射为 400。
func (s *ImportService) ImportManifest(ctx context.Context, module *domain.Module, engineApps []*domain.EngineApp, raw []byte) (*appdesc.AppDesc, error) {
	desc, err := appdesc.Parse(raw)
	if err != nil {
		return nil, err
	}

	if err := s.importProcesses(ctx, module, desc.Module.Spec.Processes); err != nil {
		return nil, err
	}
	if err := s.importModuleConfig(ctx, module, &desc.Module.Spec); err != nil {
		return nil, err
	}
	if err := s.importConfigVars(ctx, module, desc.Module.Spec.Configuration.Env); err != nil {
		return nil, err
	}
	if err := s.importHooks(ctx, module, desc.Module.Spec.Hooks); err != nil {
		return nil, err
	}
	if err := s.importAddons(ctx, module, engineApps, desc.Module.Spec.Addons); err != nil {
		return nil, err
	}
	return desc, nil
}

func (s *ImportService) importProcesses(ctx context.Context, module *domain.Module, processes []appdesc.ProcessDesc) error {
	procs := make([]*domain.Process, 0, len(processes))
	for _, p := range processes {
		replicas := int32(1)
		if p.Replicas != nil {
			replicas = *p.Replicas
		}
		procs = append(procs, &domain.Process{
			Name:         p.Name,
			ModuleID:     module.ID,
			ProcCommand:  p.ProcCommand,
			Replicas:     replicas,
			ResQuotaPlan: domain.NormalizeResQuotaPlan(p.ResQuotaPlan, 0),
			Services:     importProcServices(p.Services),
		})
	}
	if err := domain.ValidateProcServices(procs); err != nil {
		return err
	}
	for _, proc := range procs {
		if err := s.processRepo.Save(ctx, proc); err != nil {
			return err
		}
	}
	return nil
}

func importProcServices(services []appdesc.ProcServiceDesc) []domain.ProcService {
	if len(services) == 0 {
		return nil
	}
	out := make([]domain.ProcService, 0, len(services))
	for _, svc := range services {
		item := domain.ProcService{
			Name:       svc.Name,
			TargetPort: svc.TargetPort,
			Protocol:   svc.Protocol,
			Port:       svc.Port,
		}
		if svc.ExposedType != nil {
			item.ExposedType = &domain.ExposedType{Name: svc.ExposedType.Name}
		}
		out = append(out, item)
	}
	return out
}

// importModuleConfig 落库模块级渲染配置（服务发现、域名解析）。
func (s *ImportService) importModuleConfig(ctx context.Context, module *domain.Module, spec *appdesc.ModuleSpec) error {
	if spec.SvcDiscovery == nil && spec.DomainResolution == nil {
		return nil
	}
	if spec.SvcDiscovery != nil {
		entries := make([]domain.SvcDiscoveryEntry, 0, len(spec.SvcDiscovery.BkSaaS))
		for _, e := range spec.SvcDiscovery.BkSaaS {
			entries = append(entries, domain.SvcDiscoveryEntry{
				BkAppCode:  e.BkAppCode,
				ModuleName: e.ModuleName,
			})
		}
		module.SvcDiscovery = entries
	}
	if spec.DomainResolution != nil {
		dr := &domain.DomainResolution{Nameservers: spec.DomainResolution.Nameservers}
		for _, a := range spec.DomainResolution.HostAliases {
			dr.HostAliases = append(dr.HostAliases, domain.HostAlias{IP: a.IP, Hostnames: a.Hostnames})
		}
		module.DomainResolution = dr
	}
	return s.moduleRepo.Save(ctx, module)
}

// importConfigVars 落库描述文件声明的环境变量，一律作为全局预设项。
func (s *ImportService) importConfigVars(ctx context.Context, module *domain.Module, vars []appdesc.EnvVarDesc) error {
	for _, v := range vars {
		cv := &domain.ConfigVar{Key: v.Name, Value: v.Value, Preset: true}
		if err := s.configVarRepo.Save(ctx, module.ID, cv); err != nil {
			return err
		}
	}
	return nil
}

func (s *ImportService) importHooks(ctx context.Context, module *domain.Module, hooks *appdesc.HooksDesc) error {
	if hooks == nil || hooks.PreRelease == nil {
		return nil
	}
	return s.hookRepo.Save(ctx, &domain.DeployHook{
		ModuleID:    module.ID,
		ProcCommand: hooks.PreRelease.ProcCommand,
		Enabled:     true,
	})
}

// importAddons 为声明的增强服务建立绑定，plan 取服务的第一个方案。
// 共享引用（sharedFromModule）不在本模块下建绑定，跳过。
func (s *ImportService) importAddons(ctx context.Context, module *domain.Module, engineApps []*domain.EngineApp, addons []appdesc.AddonDesc) error {
	for _, addon := range addons {
		if addon.SharedFromModule != "" {
			slog.Info("skip shared addon reference",
				"module", module.Name, "service", addon.Name, "shared_from", addon.SharedFromModule)
			continue
		}
		if err := s.addons.BindService(ctx, module, engineApps, addon.Name, true); err != nil {
			return err
		}
	}
	return nil
}
