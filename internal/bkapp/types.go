// Package bkapp 定义 BkApp 自定义资源（apiVersion paas.bk.tencent.com/v1alpha2）
// 的 Go 类型，是控制面与集群内 operator 之间的稳定 wire contract。
package bkapp

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	GroupVersion = "paas.bk.tencent.com/v1alpha2"
	Kind         = "BkApp"

	Group    = "paas.bk.tencent.com"
	Version  = "v1alpha2"
	Resource = "bkapps"
)

// 控制面写入的注解键。
const (
	AnnotAppCode             = "bkapp.paas.bk.tencent.com/code"
	AnnotAppName             = "bkapp.paas.bk.tencent.com/name"
	AnnotAppRegion           = "bkapp.paas.bk.tencent.com/region"
	AnnotModuleName          = "bkapp.paas.bk.tencent.com/module-name"
	AnnotEnvironment         = "bkapp.paas.bk.tencent.com/environment"
	AnnotWlAppName           = "bkapp.paas.bk.tencent.com/wl-app-name"
	AnnotDeployID            = "bkapp.paas.bk.tencent.com/deploy-id"
	AnnotImageCredentialsRef = "bkapp.paas.bk.tencent.com/image-credentials-reference"
	AnnotLogCollectorType    = "bkapp.paas.bk.tencent.com/log-collector-type"
	AnnotUseCNB              = "bkapp.paas.bk.tencent.com/use-cnb"
	AnnotAccessControl       = "bkapp.paas.bk.tencent.com/access-control"
	AnnotPaSiteID            = "bkapp.paas.bk.tencent.com/pa-site-id"
	AnnotProcServicesEnabled = "bkapp.paas.bk.tencent.com/proc-services-feature-enabled"
)

// BkApp 是应用模型的集群内投影，由 operator 负责调和。
type BkApp struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   BkAppSpec   `json:"spec,omitempty"`
	Status BkAppStatus `json:"status,omitempty"`
}

type BkAppSpec struct {
	Build            *BuildConfig       `json:"build,omitempty"`
	Processes        []Process          `json:"processes"`
	Hooks            *Hooks             `json:"hooks,omitempty"`
	Addons           []Addon            `json:"addons,omitempty"`
	Mounts           []Mount            `json:"mounts,omitempty"`
	Configuration    AppConfig          `json:"configuration,omitempty"`
	DomainResolution *DomainResolution  `json:"domainResolution,omitempty"`
	SvcDiscovery     *SvcDiscoveryConfig `json:"svcDiscovery,omitempty"`
	EnvOverlay       *EnvOverlay        `json:"envOverlay,omitempty"`
}

// BuildConfig 描述镜像来源；部署时 Image 被覆写为本次构建产物。
type BuildConfig struct {
	Image           string `json:"image,omitempty"`
	ImagePullPolicy string `json:"imagePullPolicy,omitempty"`
	ImageCredentialsName string `json:"imageCredentialsName,omitempty"`
}

type Process struct {
	Name         string             `json:"name"`
	Replicas     *int32             `json:"replicas,omitempty"`
	Command      []string           `json:"command,omitempty"`
	Args         []string           `json:"args,omitempty"`
	TargetPort   int32              `json:"targetPort,omitempty"`
	ResQuotaPlan string             `json:"resQuotaPlan,omitempty"`
	Autoscaling  *AutoscalingSpec   `json:"autoscaling,omitempty"`
	Probes       *ProbeSet          `json:"probes,omitempty"`
	Services     []ProcService      `json:"services,omitempty"`
}

type ProcService struct {
	Name        string       `json:"name"`
	TargetPort  string       `json:"targetPort"`
	Protocol    string       `json:"protocol,omitempty"`
	Port        int32        `json:"port,omitempty"`
	ExposedType *ExposedType `json:"exposedType,omitempty"`
}

type ExposedType struct {
	Name string `json:"name"`
}

type AutoscalingSpec struct {
	MinReplicas int32  `json:"minReplicas"`
	MaxReplicas int32  `json:"maxReplicas"`
	Policy      string `json:"policy,omitempty"`
}

type ProbeSet struct {
	Liveness  *corev1.Probe `json:"liveness,omitempty"`
	Readiness *corev1.Probe `json:"readiness,omitempty"`
	Startup   *corev1.Probe `json:"startup,omitempty"`
}

type Hooks struct {
	PreRelease *Hook `json:"preRelease,omitempty"`
}

type Hook struct {
	Command []string `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// Addon 是绑定到模块的增强服务声明。
type Addon struct {
	Name             string      `json:"name"`
	Specs            []AddonSpec `json:"specs,omitempty"`
	SharedFromModule string      `json:"sharedFromModule,omitempty"`
}

type AddonSpec struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Mount struct {
	Name      string      `json:"name"`
	MountPath string      `json:"mountPath"`
	Source    MountSource `json:"source"`
}

type MountSource struct {
	ConfigMap         *ConfigMapSource  `json:"configMap,omitempty"`
	PersistentStorage *PersistentStorage `json:"persistentStorage,omitempty"`
}

type ConfigMapSource struct {
	Name string `json:"name"`
}

type PersistentStorage struct {
	Name string `json:"name"`
}

type AppConfig struct {
	Env []EnvVar `json:"env,omitempty"`
}

type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type DomainResolution struct {
	Nameservers []string    `json:"nameservers,omitempty"`
	HostAliases []HostAlias `json:"hostAliases,omitempty"`
}

type HostAlias struct {
	IP        string   `json:"ip"`
	Hostnames []string `json:"hostnames"`
}

type SvcDiscoveryConfig struct {
	BkSaaS []SvcDiscoveryEntry `json:"bkSaaS,omitempty"`
}

type SvcDiscoveryEntry struct {
	BkAppCode  string `json:"bkAppCode"`
	ModuleName string `json:"moduleName,omitempty"`
}

// EnvOverlay 汇集所有按环境生效的增量配置。
type EnvOverlay struct {
	Replicas     []ReplicasOverlay    `json:"replicas,omitempty"`
	ResQuotas    []ResQuotaOverlay    `json:"resQuotas,omitempty"`
	Autoscaling  []AutoscalingOverlay `json:"autoscaling,omitempty"`
	EnvVariables []EnvVarOverlay      `json:"envVariables,omitempty"`
	Mounts       []MountOverlay       `json:"mounts,omitempty"`
}

type ReplicasOverlay struct {
	EnvName string `json:"envName"`
	Process string `json:"process"`
	Count   int32  `json:"count"`
}

type ResQuotaOverlay struct {
	EnvName string `json:"envName"`
	Process string `json:"process"`
	Plan    string `json:"plan"`
}

type AutoscalingOverlay struct {
	EnvName string `json:"envName"`
	Process string `json:"process"`
	AutoscalingSpec `json:",inline"`
}

type EnvVarOverlay struct {
	EnvName string `json:"envName"`
	Name    string `json:"name"`
	Value   string `json:"value"`
}

type MountOverlay struct {
	EnvName string `json:"envName"`
	Mount   `json:",inline"`
}

// BkAppStatus 由 operator 回写。
type BkAppStatus struct {
	Phase              string             `json:"phase,omitempty"`
	ObservedGeneration int64              `json:"observedGeneration,omitempty"`
	Conditions         []metav1.Condition `json:"conditions,omitempty"`
	Revision           *Revision          `json:"revision,omitempty"`
	DeployID           string             `json:"deployId,omitempty"`
}

type Revision struct {
	Revision int64 `json:"revision"`
}

// AvailableCondition 是 operator 回写的就绪条件类型。
const AvailableCondition = "AppAvailable"
