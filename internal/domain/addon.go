package domain

import "time"

// AddonProvider 区分增强服务的供给方式。
type AddonProvider string

const (
	// AddonLocal 由内部 Plan 直接生成凭据。
	AddonLocal AddonProvider = "local"
	// AddonRemote 由进程外的服务中心经 HTTPS 供给。
	AddonRemote AddonProvider = "remote"
)

// AddonService 是一类可绑定的增强服务（数据库、缓存、对象存储等）。
type AddonService struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Provider AddonProvider `json:"provider"`
	// PreferAsyncDelete 为 true 时解绑走异步回收队列。
	PreferAsyncDelete bool `json:"prefer_async_delete"`
}

// AddonPlan 是服务的一个供给方案。
type AddonPlan struct {
	ID          string            `json:"id"`
	ServiceID   string            `json:"service_id"`
	Name        string            `json:"name"`
	Properties  map[string]string `json:"properties,omitempty"`
	Environment Environment       `json:"environment,omitempty"` // 空值表示对所有环境生效
}

// PolicyCondType 是规则式绑定策略的条件类型。
type PolicyCondType string

const (
	CondRegionIn    PolicyCondType = "REGION_IN"
	CondClusterIn   PolicyCondType = "CLUSTER_IN"
	CondAlwaysMatch PolicyCondType = "ALWAYS_MATCH"
)

// PrecedencePolicy 是一条带优先级的方案选择规则。
// 优先级最低的一条必须是 ALWAYS_MATCH 兜底。
type PrecedencePolicy struct {
	Priority  int            `json:"priority"`
	CondType  PolicyCondType `json:"cond_type"`
	CondData  []string       `json:"cond_data,omitempty"` // region / cluster 列表
	PlanIDs   []string       `json:"plan_ids"`
	ServiceID string         `json:"service_id"`
}

// Matches 判断策略条件是否命中给定的 region 和 cluster。
func (p *PrecedencePolicy) Matches(region, cluster string) bool {
	switch p.CondType {
	case CondAlwaysMatch:
		return true
	case CondRegionIn:
		return containsString(p.CondData, region)
	case CondClusterIn:
		return containsString(p.CondData, cluster)
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// BindingPolicy 是某服务的完整绑定策略。
// Uniform 与 Rules 二选一：Uniform 非空时统一应用，否则按 Rules 优先级匹配。
type BindingPolicy struct {
	ServiceID string             `json:"service_id"`
	Uniform   []string           `json:"uniform,omitempty"` // plan id 集
	PerEnv    map[Environment][]string `json:"per_env,omitempty"`
	Rules     []PrecedencePolicy `json:"rules,omitempty"`
}

// ServiceInstance 是供给完成后的资源实例及其凭据。
type ServiceInstance struct {
	ID                 string            `json:"id"`
	ServiceID          string            `json:"service_id"`
	PlanID             string            `json:"plan_id"`
	Credentials        map[string]string `json:"credentials"`
	Config             map[string]string `json:"config,omitempty"`
	TenantID           string            `json:"tenant_id,omitempty"`
	ShouldHiddenFields []string          `json:"should_hidden_fields,omitempty"`
	ShouldRemoveFields []string          `json:"should_remove_fields,omitempty"`
	CreateTime         time.Time         `json:"create_time"`
}

// ServiceModuleAttachment 记录 (Module, Service) 的绑定，每模块一条。
type ServiceModuleAttachment struct {
	ID        string `json:"id"`
	ServiceID string `json:"service_id"`
	ModuleID  string `json:"module_id"`
	// SharedFromModule 非空表示该服务由其它模块共享而来。
	SharedFromModule string    `json:"shared_from_module,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ServiceEngineAppAttachment 是每环境一条的绑定记录。
// Plan 在供给后不可变更；ServiceInstanceID 为空表示尚未供给。
type ServiceEngineAppAttachment struct {
	ID                string    `json:"id"`
	ServiceID         string    `json:"service_id"`
	EngineAppID       string    `json:"engine_app_id"`
	PlanID            string    `json:"plan_id"`
	ServiceInstanceID string    `json:"service_instance_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (a *ServiceEngineAppAttachment) Provisioned() bool {
	return a.ServiceInstanceID != ""
}

// UnboundServiceEngineAppAttachment 是解绑后待异步回收的残留记录。
type UnboundServiceEngineAppAttachment struct {
	ID                string    `json:"id"`
	ServiceID         string    `json:"service_id"`
	EngineAppID       string    `json:"engine_app_id"`
	ServiceInstanceID string    `json:"service_instance_id"`
	RecycledAt        *time.Time `json:"recycled_at,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
