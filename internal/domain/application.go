package domain

import (
	"fmt"
	"time"
)

// AppType 是应用类型。
type AppType string

const (
	AppTypeDefault     AppType = "default"
	AppTypeCloudNative AppType = "cloud-native"
	AppTypeEngineless  AppType = "engineless"
	AppTypeBkPlugin    AppType = "bk-plugin"
)

// Environment 是部署环境，每个 Module 固定拥有 stag 和 prod 两个环境。
type Environment string

const (
	EnvStag Environment = "stag"
	EnvProd Environment = "prod"
)

func (e Environment) Valid() bool {
	return e == EnvStag || e == EnvProd
}

// Application 是租户拥有的顶层单元，下辖多个 Module。
type Application struct {
	Code      string    `json:"code"` // 全局唯一，[a-z0-9-]{1,16}
	Name      string    `json:"name"`
	Type      AppType   `json:"type"`
	Region    string    `json:"region"`
	TenantID  string    `json:"tenant_id"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Application) IsCloudNative() bool {
	return a.Type == AppTypeCloudNative
}

// SourceOrigin 标识 Module 源码的来源。
type SourceOrigin string

const (
	OriginAuthorizedVCS SourceOrigin = "authorized_vcs"
	OriginImageRegistry SourceOrigin = "image_registry"
	OriginSMart         SourceOrigin = "s_mart"
	OriginLesscode      SourceOrigin = "lesscode"
	OriginCNativeImage  SourceOrigin = "cnative_image"
)

// ExposedURLType 是模块的访问入口类型。
type ExposedURLType string

const (
	ExposedSubdomain ExposedURLType = "subdomain"
	ExposedSubpath   ExposedURLType = "subpath"
)

const DefaultModuleName = "default"

// Module 是 Application 下可独立构建的子单元。
type Module struct {
	ID             string         `json:"id"`
	AppCode        string         `json:"app_code"`
	Name           string         `json:"name"` // [a-z0-9-]{1,16}，default 为主模块
	SourceOrigin   SourceOrigin   `json:"source_origin"`
	SourceType     string         `json:"source_type"` // git / svn / docker
	SourceRepoURL  string         `json:"source_repo_url,omitempty"`
	ExposedURLType ExposedURLType `json:"exposed_url_type"`
	// BuildpackRuntime 为 true 表示使用 slug-builder 构建，否则走 Dockerfile。
	BuildpackRuntime bool `json:"buildpack_runtime"`
	// SvcDiscovery / DomainResolution 是模块级渲染配置，来源于应用描述文件。
	SvcDiscovery     []SvcDiscoveryEntry `json:"svc_discovery,omitempty"`
	DomainResolution *DomainResolution   `json:"domain_resolution,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (m *Module) IsDefault() bool {
	return m.Name == DefaultModuleName
}

// EngineApp 是 ModuleEnvironment 的 workload 化身，与 WlApp 共享同一 uuid。
// 其 Name 即 K8s 资源名前缀。
type EngineApp struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Region    string      `json:"region"`
	TenantID  string      `json:"tenant_id"`
	Cluster   string      `json:"cluster"` // 绑定的集群名，同一时刻只有一个
	Namespace string      `json:"namespace"`
	Env       Environment `json:"environment"`
	// MapperVersion 决定进程到 K8s 对象命名/标签的映射策略，当前为 1 或 2。
	MapperVersion int `json:"mapper_version"`
}

// ModuleEnvironment 是 (Module, Environment) 组合，拥有且仅拥有一个 EngineApp。
type ModuleEnvironment struct {
	ID          string      `json:"id"`
	AppCode     string      `json:"app_code"`
	ModuleID    string      `json:"module_id"`
	ModuleName  string      `json:"module_name"`
	Environment Environment `json:"environment"`
	EngineApp   *EngineApp  `json:"engine_app"`
	// IsOfflined 为 true 时该环境已下架，拒绝进程操作与新部署。
	IsOfflined bool `json:"is_offlined"`
}

// WlAppName 生成 workload 名称：bkapp-<code>[-m-<module>]-<env>。
// module 为 default 时省略 "-m-<module>" 片段。
func WlAppName(code, module string, env Environment) string {
	if module == DefaultModuleName {
		return fmt.Sprintf("bkapp-%s-%s", code, env)
	}
	return fmt.Sprintf("bkapp-%s-m-%s-%s", code, module, env)
}
