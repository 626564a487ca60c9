package appdesc

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

// descV2 是 spec v2 的文档结构（snake_case 键名）。
type descV2 struct {
	SpecVersion int      `yaml:"spec_version"`
	AppCode     string   `yaml:"app_code"`
	Module      moduleV2 `yaml:"module"`
}

type moduleV2 struct {
	Language     string               `yaml:"language"`
	Processes    map[string]processV2 `yaml:"processes"`
	Services     []serviceV2          `yaml:"services"`
	EnvVariables []envVarV2           `yaml:"env_variables"`
	Scripts      scriptsV2            `yaml:"scripts"`
	SvcDiscovery *svcDiscoveryV2      `yaml:"svc_discovery"`
	BkMonitor    *bkMonitorV2         `yaml:"bkmonitor"`
}

type processV2 struct {
	Command  string `yaml:"command"`
	Replicas *int32 `yaml:"replicas"`
	Plan     string `yaml:"plan"`
}

type serviceV2 struct {
	Name       string `yaml:"name"`
	SharedFrom string `yaml:"shared_from"`
}

type envVarV2 struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type scriptsV2 struct {
	PreReleaseHook string `yaml:"pre_release_hook"`
}

type svcDiscoveryV2 struct {
	BkSaaS []svcDiscoveryEntryV2 `yaml:"bk_saas"`
}

type svcDiscoveryEntryV2 struct {
	BkAppCode  string `yaml:"bk_app_code"`
	ModuleName string `yaml:"module_name"`
}

type bkMonitorV2 struct {
	Port int32 `yaml:"port"`
}

// parseV2 把 v2 文档按固定改写规则就地升级到 v3：
// services → spec.addons，env_variables → spec.configuration.env，
// processes → spec.processes，svc_discovery → spec.svcDiscovery，
// scripts.pre_release_hook → spec.hooks.preRelease.procCommand，
// bkmonitor.port → web 进程追加 metrics service + observability metric。
func parseV2(raw []byte) (*AppDesc, error) {
	var v2 descV2
	if err := yaml.Unmarshal(raw, &v2); err != nil {
		return nil, &domain.DescriptionValidationError{FieldPath: ".", Message: err.Error()}
	}

	desc := &AppDesc{
		SpecVersion: 3,
		AppCode:     v2.AppCode,
		Module: ModuleDesc{
			Language: v2.Module.Language,
		},
	}

	// map 键序不稳定，按名称排序保证确定性输出
	names := make([]string, 0, len(v2.Module.Processes))
	for name := range v2.Module.Processes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		proc := v2.Module.Processes[name]
		desc.Module.Spec.Processes = append(desc.Module.Spec.Processes, ProcessDesc{
			Name:         name,
			ProcCommand:  proc.Command,
			Replicas:     proc.Replicas,
			ResQuotaPlan: proc.Plan,
		})
	}

	for _, svc := range v2.Module.Services {
		desc.Module.Spec.Addons = append(desc.Module.Spec.Addons, AddonDesc{
			Name:             svc.Name,
			SharedFromModule: svc.SharedFrom,
		})
	}

	for _, ev := range v2.Module.EnvVariables {
		desc.Module.Spec.Configuration.Env = append(desc.Module.Spec.Configuration.Env, EnvVarDesc{
			Name:  ev.Key,
			Value: ev.Value,
		})
	}

	if v2.Module.SvcDiscovery != nil {
		sd := &SvcDiscoveryDesc{}
		for _, e := range v2.Module.SvcDiscovery.BkSaaS {
			sd.BkSaaS = append(sd.BkSaaS, SvcDiscoveryEntryDesc{
				BkAppCode:  e.BkAppCode,
				ModuleName: e.ModuleName,
			})
		}
		desc.Module.Spec.SvcDiscovery = sd
	}

	if v2.Module.Scripts.PreReleaseHook != "" {
		desc.Module.Spec.Hooks = &HooksDesc{
			PreRelease: &HookDesc{ProcCommand: v2.Module.Scripts.PreReleaseHook},
		}
	}

	if v2.Module.BkMonitor != nil && v2.Module.BkMonitor.Port > 0 {
		applyBkMonitor(desc, v2.Module.BkMonitor.Port)
	}

	if err := validate(desc); err != nil {
		return nil, err
	}
	return desc, nil
}

// applyBkMonitor 只对 web 进程生效：追加 metrics service 并登记 observability metric。
func applyBkMonitor(desc *AppDesc, port int32) {
	for i := range desc.Module.Spec.Processes {
		proc := &desc.Module.Spec.Processes[i]
		if proc.Name != "web" {
			continue
		}
		proc.Services = append(proc.Services, ProcServiceDesc{
			Name:       "metrics",
			TargetPort: fmt.Sprintf("%d", port),
			Protocol:   "TCP",
		})
		desc.Module.Spec.Observability = &Observability{
			Monitoring: &Monitoring{
				Metrics: []Metric{{Process: "web", ServiceName: "metrics", Path: "/metrics"}},
			},
		}
		return
	}
}
