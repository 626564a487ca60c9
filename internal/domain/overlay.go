package domain

// ProcessSpecEnvOverlay 是某进程在某环境下的增量覆写，叠加在基础 Process 之上。
type ProcessSpecEnvOverlay struct {
	ProcessName    string             `json:"process_name"`
	Environment    Environment        `json:"environment"`
	Plan           string             `json:"plan,omitempty"`
	TargetReplicas *int32             `json:"target_replicas,omitempty"`
	Autoscaling    *bool              `json:"autoscaling,omitempty"`
	ScalingConfig  *AutoscalingConfig `json:"scaling_config,omitempty"`
}

// VolumeSourceType 是挂载卷的来源类别。
type VolumeSourceType string

const (
	VolumeSourceConfigMap         VolumeSourceType = "ConfigMap"
	VolumeSourcePersistentStorage VolumeSourceType = "PersistentStorage"
)

// VolumeSource 指向一个 ConfigMap 或持久存储。
type VolumeSource struct {
	Type VolumeSourceType `json:"type"`
	Name string           `json:"name"`
}

// Mount 把一个 VolumeSource 挂进容器指定路径；Environment 为空表示全局挂载。
type Mount struct {
	Name        string       `json:"name"`
	MountPath   string       `json:"mountPath"`
	Source      VolumeSource `json:"source"`
	Environment Environment  `json:"environment,omitempty"`
}

// ConfigVar 是环境变量；Environment 为空表示对所有环境生效。
// Preset 标记来源于应用描述文件的预设项，优先级低于用户自定义项。
type ConfigVar struct {
	Key         string      `json:"key"`
	Value       string      `json:"value"`
	Environment Environment `json:"environment,omitempty"`
	Preset      bool        `json:"preset,omitempty"`
}

// SvcDiscoveryEntry 声明对另一 SaaS 应用的服务发现依赖。
type SvcDiscoveryEntry struct {
	BkAppCode  string `json:"bkAppCode"`
	ModuleName string `json:"moduleName,omitempty"`
}

// DomainResolution 是应用自定义的域名解析配置。
type DomainResolution struct {
	Nameservers []string    `json:"nameservers,omitempty"`
	HostAliases []HostAlias `json:"hostAliases,omitempty"`
}

type HostAlias struct {
	IP        string   `json:"ip"`
	Hostnames []string `json:"hostnames"`
}

// DeployHook 是发布前钩子。Enabled 为 false 时描述文件里声明的钩子被忽略。
type DeployHook struct {
	ModuleID    string   `json:"module_id"`
	Command     []string `json:"command,omitempty"`
	Args        []string `json:"args,omitempty"`
	ProcCommand string   `json:"proc_command,omitempty"`
	Enabled     bool     `json:"enabled"`
}
