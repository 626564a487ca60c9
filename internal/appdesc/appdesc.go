// Package appdesc 解析平台应用描述文件（app_desc.yaml，spec v2 / v3），
// 统一产出 v3 形态的内部模型。
package appdesc

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

// AppDesc 是 v3 规范化后的应用描述。
type AppDesc struct {
	SpecVersion int        `yaml:"specVersion" json:"specVersion"`
	AppCode     string     `yaml:"appCode,omitempty" json:"appCode,omitempty"`
	Module      ModuleDesc `yaml:"module" json:"module"`
}

type ModuleDesc struct {
	Name     string     `yaml:"name,omitempty" json:"name,omitempty"`
	Language string     `yaml:"language,omitempty" json:"language,omitempty"`
	Spec     ModuleSpec `yaml:"spec" json:"spec"`
}

type ModuleSpec struct {
	Processes        []ProcessDesc         `yaml:"processes,omitempty" json:"processes,omitempty"`
	Addons           []AddonDesc           `yaml:"addons,omitempty" json:"addons,omitempty"`
	Configuration    Configuration         `yaml:"configuration,omitempty" json:"configuration,omitempty"`
	Hooks            *HooksDesc            `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	SvcDiscovery     *SvcDiscoveryDesc     `yaml:"svcDiscovery,omitempty" json:"svcDiscovery,omitempty"`
	DomainResolution *DomainResolutionDesc `yaml:"domainResolution,omitempty" json:"domainResolution,omitempty"`
	Observability    *Observability        `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// SvcDiscoveryDesc 声明对其它 SaaS 应用的服务发现依赖。
type SvcDiscoveryDesc struct {
	BkSaaS []SvcDiscoveryEntryDesc `yaml:"bkSaaS,omitempty" json:"bkSaaS,omitempty"`
}

type SvcDiscoveryEntryDesc struct {
	BkAppCode  string `yaml:"bkAppCode" json:"bkAppCode"`
	ModuleName string `yaml:"moduleName,omitempty" json:"moduleName,omitempty"`
}

// DomainResolutionDesc 是模块自定义的域名解析配置。
type DomainResolutionDesc struct {
	Nameservers []string        `yaml:"nameservers,omitempty" json:"nameservers,omitempty"`
	HostAliases []HostAliasDesc `yaml:"hostAliases,omitempty" json:"hostAliases,omitempty"`
}

type HostAliasDesc struct {
	IP        string   `yaml:"ip" json:"ip"`
	Hostnames []string `yaml:"hostnames" json:"hostnames"`
}

type ProcessDesc struct {
	Name         string            `yaml:"name" json:"name"`
	ProcCommand  string            `yaml:"procCommand,omitempty" json:"procCommand,omitempty"`
	Replicas     *int32            `yaml:"replicas,omitempty" json:"replicas,omitempty"`
	ResQuotaPlan string            `yaml:"resQuotaPlan,omitempty" json:"resQuotaPlan,omitempty"`
	Services     []ProcServiceDesc `yaml:"services,omitempty" json:"services,omitempty"`
}

type ProcServiceDesc struct {
	Name        string           `yaml:"name" json:"name"`
	TargetPort  string           `yaml:"targetPort" json:"targetPort"`
	Protocol    string           `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Port        int32            `yaml:"port,omitempty" json:"port,omitempty"`
	ExposedType *ExposedTypeDesc `yaml:"exposedType,omitempty" json:"exposedType,omitempty"`
}

type ExposedTypeDesc struct {
	Name string `yaml:"name" json:"name"`
}

type AddonDesc struct {
	Name             string `yaml:"name" json:"name"`
	SharedFromModule string `yaml:"sharedFromModule,omitempty" json:"sharedFromModule,omitempty"`
}

type Configuration struct {
	Env []EnvVarDesc `yaml:"env,omitempty" json:"env,omitempty"`
}

type EnvVarDesc struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

type HooksDesc struct {
	PreRelease *HookDesc `yaml:"preRelease,omitempty" json:"preRelease,omitempty"`
}

type HookDesc struct {
	ProcCommand string `yaml:"procCommand,omitempty" json:"procCommand,omitempty"`
}

type Observability struct {
	Monitoring *Monitoring `yaml:"monitoring,omitempty" json:"monitoring,omitempty"`
}

type Monitoring struct {
	Metrics []Metric `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

type Metric struct {
	Process     string `yaml:"process" json:"process"`
	ServiceName string `yaml:"serviceName" json:"serviceName"`
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
}

// versionProbe 只读 spec 版本字段，决定走哪条解析路径。
type versionProbe struct {
	SpecVersion int `yaml:"specVersion"`
	// v2 用 snake_case 键名
	SpecVersionV2 int `yaml:"spec_version"`
}

// Parse 解析 app_desc.yaml 内容。v2 文档被规范化为 v3；
// 解析或校验失败时返回 DescriptionValidationError。
func Parse(raw []byte) (*AppDesc, error) {
	var probe versionProbe
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return nil, &domain.DescriptionValidationError{FieldPath: ".", Message: err.Error()}
	}

	switch {
	case probe.SpecVersion == 3:
		return parseV3(raw)
	case probe.SpecVersionV2 == 2:
		return parseV2(raw)
	default:
		return nil, &domain.DescriptionValidationError{
			FieldPath: "specVersion",
			Message:   "unsupported spec version, expected 2 or 3",
		}
	}
}

func parseV3(raw []byte) (*AppDesc, error) {
	var desc AppDesc
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return nil, &domain.DescriptionValidationError{FieldPath: ".", Message: err.Error()}
	}
	if err := validate(&desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func validate(desc *AppDesc) error {
	for i, proc := range desc.Module.Spec.Processes {
		if err := domain.ValidateProcessName(proc.Name); err != nil {
			return &domain.DescriptionValidationError{
				FieldPath: fmt.Sprintf("module.spec.processes[%d].name", i),
				Message:   err.Error(),
			}
		}
		for j, svc := range proc.Services {
			if err := domain.ValidateTargetPort(svc.TargetPort); err != nil {
				return &domain.DescriptionValidationError{
					FieldPath: fmt.Sprintf("module.spec.processes[%d].services[%d].targetPort", i, j),
					Message:   err.Error(),
				}
			}
		}
	}
	return nil
}
