package repository

import "time"

// ApplicationModel 是 Application 的数据库持久化模型。
type ApplicationModel struct {
	Code      string `gorm:"primaryKey"`
	Name      string
	Type      string
	Region    string
	TenantID  string
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ApplicationModel) TableName() string { return "applications" }

// ModuleModel 是 Module 的数据库持久化模型。
type ModuleModel struct {
	ID               string `gorm:"primaryKey"`
	AppCode          string `gorm:"uniqueIndex:idx_module_app_name"`
	Name             string `gorm:"uniqueIndex:idx_module_app_name"`
	SourceOrigin     string
	SourceType       string
	SourceRepoURL    string
	ExposedURLType   string
	BuildpackRuntime bool
	SvcDiscovery     string `gorm:"type:text"` // JSON 序列化的 []SvcDiscoveryEntry
	DomainResolution string `gorm:"type:text"` // JSON 序列化的 *DomainResolution
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ModuleModel) TableName() string { return "modules" }

// ModuleEnvironmentModel 是 ModuleEnvironment 及其 EngineApp 的持久化模型。
// EngineApp 与环境一一对应，平铺为同一行的列。
type ModuleEnvironmentModel struct {
	ID            string `gorm:"primaryKey"`
	AppCode       string `gorm:"index"`
	ModuleID      string `gorm:"uniqueIndex:idx_env_module_env"`
	ModuleName    string
	Environment   string `gorm:"uniqueIndex:idx_env_module_env"`
	IsOfflined    bool
	EngineAppID   string `gorm:"index"`
	EngineAppName string
	Region        string
	TenantID      string
	Cluster       string
	Namespace     string
	MapperVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ModuleEnvironmentModel) TableName() string { return "module_environments" }

// DeploymentModel 是 Deployment 的数据库持久化模型，append-only。
type DeploymentModel struct {
	ID                    string `gorm:"primaryKey"`
	EnvironmentID         string `gorm:"index"`
	AppCode               string
	ModuleName            string
	Environment           string
	Operator              string
	Version               string // JSON 序列化的 VersionInfo
	Status                string
	ErrDetail             string `gorm:"type:text"`
	BuildProcessID        string
	BuildID               string
	ReleaseID             string
	BkAppRevisionID       string
	AdvancedOptions       string // JSON 序列化的 AdvancedOptions
	BuildIntRequestedAt   *time.Time
	ReleaseIntRequestedAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (DeploymentModel) TableName() string { return "deployments" }

// BuildProcessModel 是 BuildProcess 的数据库持久化模型。
type BuildProcessModel struct {
	ID            string `gorm:"primaryKey"`
	Owner         string
	EngineAppID   string `gorm:"index"`
	DeploymentID  string `gorm:"index"`
	BuilderImage  string
	SourceTarPath string
	Version       string // JSON 序列化的 VersionInfo
	Buildpacks    string // JSON 序列化的 []BuildpackInfo
	Status        string
	PodName       string
	LogLines      string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (BuildProcessModel) TableName() string { return "build_processes" }

// BuildModel 是构建产物 Build 的数据库持久化模型。
type BuildModel struct {
	ID              string `gorm:"primaryKey"`
	BuildProcessID  string `gorm:"index"`
	EngineAppID     string `gorm:"index"`
	Image           string
	Procfile        string // JSON 序列化的 map[string]string
	BkAppRevisionID string
	CreatedAt       time.Time
}

func (BuildModel) TableName() string { return "builds" }

// ReleaseModel 是 Release 的数据库持久化模型。
type ReleaseModel struct {
	ID              string `gorm:"primaryKey"`
	EngineAppID     string `gorm:"uniqueIndex:idx_release_engine_version"`
	Version         int    `gorm:"uniqueIndex:idx_release_engine_version"`
	BuildID         string
	DeploymentID    string
	EnvVariables    string `gorm:"type:text"` // JSON 序列化的 map[string]string
	Procfile        string // JSON 序列化的 map[string]string
	BkAppRevisionID string
	CreatedAt       time.Time
}

func (ReleaseModel) TableName() string { return "releases" }

// ProcessModel 是逻辑进程定义的数据库持久化模型。
type ProcessModel struct {
	ModuleID      string `gorm:"primaryKey"`
	Name          string `gorm:"primaryKey"`
	Command       string // JSON 序列化的 []string
	Args          string // JSON 序列化的 []string
	ProcCommand   string
	Replicas      int32
	ResQuotaPlan  string
	Autoscaling   string // JSON 序列化的 *AutoscalingConfig
	Probes        string // JSON 序列化的 *ProbeSet
	Services      string // JSON 序列化的 []ProcService
	ImageOverride string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ProcessModel) TableName() string { return "processes" }

// ProcessOverlayModel 是进程环境覆写的数据库持久化模型。
type ProcessOverlayModel struct {
	ModuleID       string `gorm:"primaryKey"`
	ProcessName    string `gorm:"primaryKey"`
	Environment    string `gorm:"primaryKey"`
	Plan           string
	TargetReplicas *int32
	Autoscaling    *bool
	ScalingConfig  string // JSON 序列化的 *AutoscalingConfig
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ProcessOverlayModel) TableName() string { return "process_spec_env_overlays" }

// ConfigVarModel 是环境变量的数据库持久化模型。
// Environment 为空字符串表示全局生效；Preset 标记描述文件预设项。
type ConfigVarModel struct {
	ModuleID    string `gorm:"primaryKey"`
	Key         string `gorm:"primaryKey;column:key"`
	Environment string `gorm:"primaryKey"`
	Value       string `gorm:"type:text"`
	Preset      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ConfigVarModel) TableName() string { return "config_vars" }

// MountModel 是挂载卷的数据库持久化模型。
type MountModel struct {
	ModuleID    string `gorm:"primaryKey"`
	Name        string `gorm:"primaryKey"`
	Environment string `gorm:"primaryKey"`
	MountPath   string
	SourceType  string
	SourceName  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (MountModel) TableName() string { return "mounts" }

// DeployHookModel 是发布前钩子的数据库持久化模型，每模块至多一条。
type DeployHookModel struct {
	ModuleID    string `gorm:"primaryKey"`
	Command     string // JSON 序列化的 []string
	Args        string // JSON 序列化的 []string
	ProcCommand string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (DeployHookModel) TableName() string { return "deploy_hooks" }

// BkAppRevisionModel 持久化每次渲染出的 BkApp manifest。
type BkAppRevisionModel struct {
	ID        string `gorm:"primaryKey"`
	ModuleID  string `gorm:"index"`
	Manifest  string `gorm:"type:text"` // JSON
	CreatedAt time.Time
}

func (BkAppRevisionModel) TableName() string { return "bkapp_revisions" }

// AddonServiceModel 是增强服务定义的数据库持久化模型。
type AddonServiceModel struct {
	ID                string `gorm:"primaryKey"`
	Name              string `gorm:"uniqueIndex"`
	Provider          string
	PreferAsyncDelete bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (AddonServiceModel) TableName() string { return "addon_services" }

// AddonPlanModel 是增强服务方案的数据库持久化模型。
type AddonPlanModel struct {
	ID          string `gorm:"primaryKey"`
	ServiceID   string `gorm:"index"`
	Name        string
	Properties  string // JSON 序列化的 map[string]string
	Environment string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (AddonPlanModel) TableName() string { return "addon_plans" }

// BindingPolicyModel 是增强服务绑定策略的数据库持久化模型，每服务一条。
type BindingPolicyModel struct {
	ServiceID string `gorm:"primaryKey"`
	Uniform   string // JSON 序列化的 []string
	PerEnv    string // JSON 序列化的 map[Environment][]string
	Rules     string // JSON 序列化的 []PrecedencePolicy
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (BindingPolicyModel) TableName() string { return "service_binding_policies" }

// ServiceModuleAttachmentModel 记录模块级服务绑定。
type ServiceModuleAttachmentModel struct {
	ID               string `gorm:"primaryKey"`
	ServiceID        string `gorm:"uniqueIndex:idx_attach_service_module"`
	ModuleID         string `gorm:"uniqueIndex:idx_attach_service_module"`
	SharedFromModule string
	CreatedAt        time.Time
}

func (ServiceModuleAttachmentModel) TableName() string { return "service_module_attachments" }

// ServiceEngineAppAttachmentModel 记录环境级服务绑定及其供给结果。
type ServiceEngineAppAttachmentModel struct {
	ID                string `gorm:"primaryKey"`
	ServiceID         string `gorm:"uniqueIndex:idx_attach_service_engine"`
	EngineAppID       string `gorm:"uniqueIndex:idx_attach_service_engine"`
	PlanID            string
	ServiceInstanceID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (ServiceEngineAppAttachmentModel) TableName() string { return "service_engine_app_attachments" }

// ServiceInstanceModel 是供给完成的实例及凭据的数据库持久化模型。
type ServiceInstanceModel struct {
	ID                 string `gorm:"primaryKey"`
	ServiceID          string `gorm:"index"`
	PlanID             string
	Credentials        string `gorm:"type:text"` // JSON 序列化的 map[string]string
	Config             string // JSON 序列化的 map[string]string
	TenantID           string
	ShouldHiddenFields string // JSON 序列化的 []string
	ShouldRemoveFields string // JSON 序列化的 []string
	CreateTime         time.Time
}

func (ServiceInstanceModel) TableName() string { return "service_instances" }

// UnboundAttachmentModel 是解绑后待异步回收的残留记录。
type UnboundAttachmentModel struct {
	ID                string `gorm:"primaryKey"`
	ServiceID         string
	EngineAppID       string
	ServiceInstanceID string
	RecycledAt        *time.Time `gorm:"index"`
	CreatedAt         time.Time
}

func (UnboundAttachmentModel) TableName() string { return "unbound_service_engine_app_attachments" }
