package domain

import (
	"regexp"
	"sort"
	"strconv"

	corev1 "k8s.io/api/core/v1"
)

// VarPORT 是 targetPort 里允许出现的占位符，由渲染层替换为容器端口。
const VarPORT = "${PORT}"

// ExposedTypeBkHTTP 是模块内至多一个 service 可携带的主入口类型。
const ExposedTypeBkHTTP = "bk/http"

// ExposedType 标记一个 ProcService 的对外暴露方式。
type ExposedType struct {
	Name string `json:"name"`
}

// ProcService 是进程声明的一个端口服务。
// TargetPort 为 "${PORT}" 字面量或 1..65535 的端口号字符串。
type ProcService struct {
	Name        string       `json:"name"`
	TargetPort  string       `json:"targetPort"`
	Protocol    string       `json:"protocol"` // TCP / UDP
	Port        int32        `json:"port,omitempty"`
	ExposedType *ExposedType `json:"exposedType,omitempty"`
}

// AutoscalingConfig 是进程的弹性伸缩配置。
type AutoscalingConfig struct {
	MinReplicas int32  `json:"minReplicas"`
	MaxReplicas int32  `json:"maxReplicas"`
	Policy      string `json:"policy"`
}

// ProbeSet 汇集进程的三类探针。
type ProbeSet struct {
	Liveness  *corev1.Probe `json:"liveness,omitempty"`
	Readiness *corev1.Probe `json:"readiness,omitempty"`
	Startup   *corev1.Probe `json:"startup,omitempty"`
}

// Process 是 (module, process_type) 级别的逻辑进程，如 web、worker。
// Command/Args 与 ProcCommand 在渲染时互斥，ProcCommand 优先。
type Process struct {
	Name         string             `json:"name"` // ^[a-z0-9]([-a-z0-9])*$，≤12 字符
	ModuleID     string             `json:"module_id"`
	Command      []string           `json:"command,omitempty"`
	Args         []string           `json:"args,omitempty"`
	ProcCommand  string             `json:"proc_command,omitempty"` // 单行 shell 命令
	Replicas     int32              `json:"replicas"`
	ResQuotaPlan string             `json:"res_quota_plan,omitempty"`
	Autoscaling  *AutoscalingConfig `json:"autoscaling,omitempty"`
	Probes       *ProbeSet          `json:"probes,omitempty"`
	Services     []ProcService      `json:"services,omitempty"`
	// ImageOverride 是数据模型内的进程级镜像覆写，按 Deployment 渲染生效。
	ImageOverride string `json:"image_override,omitempty"`
}

// ResQuota 是一档资源配额的 requests/limits 表。
type ResQuota struct {
	CPURequest    string
	MemoryRequest string
	CPULimit      string
	MemoryLimit   string
	// memoryLimitMi 用于 legacy plan 的就近归档比较。
	memoryLimitMi int
}

// 预设资源配额档位。数值越靠后的档位越大，档位名尾缀 5R 即副本数上限。
var resQuotaPlans = []struct {
	Name        string
	MaxReplicas int32
	Quota       ResQuota
}{
	{"Starter", 5, ResQuota{
		CPURequest: "200m", MemoryRequest: "256Mi",
		CPULimit: "4", MemoryLimit: "1024Mi", memoryLimitMi: 1024,
	}},
	{"4C1G5R", 5, ResQuota{
		CPURequest: "200m", MemoryRequest: "256Mi",
		CPULimit: "4", MemoryLimit: "1024Mi", memoryLimitMi: 1024,
	}},
	{"4C2G5R", 5, ResQuota{
		CPURequest: "200m", MemoryRequest: "512Mi",
		CPULimit: "4", MemoryLimit: "2048Mi", memoryLimitMi: 2048,
	}},
	{"4C4G5R", 5, ResQuota{
		CPURequest: "200m", MemoryRequest: "1024Mi",
		CPULimit: "4", MemoryLimit: "4096Mi", memoryLimitMi: 4096,
	}},
}

// defaultPlanMaxReplicas 兜底未知档位的副本数上限。
const defaultPlanMaxReplicas = 5

// PlanMaxReplicas 返回档位允许的副本数上限。
func PlanMaxReplicas(name string) int32 {
	for _, p := range resQuotaPlans {
		if p.Name == name {
			return p.MaxReplicas
		}
	}
	return defaultPlanMaxReplicas
}

// IsKnownResQuotaPlan 判断名称是否在预设档位里。
func IsKnownResQuotaPlan(name string) bool {
	for _, p := range resQuotaPlans {
		if p.Name == name {
			return true
		}
	}
	return false
}

// legacyPlanMemRegex 从历史档位名（如 2C1G、2C1.5G5R）提取内存规格。
var legacyPlanMemRegex = regexp.MustCompile(`^\d+C(\d+(\.\d+)?)G`)

// LegacyPlanMemLimitMi 从历史档位名推导内存上限（Mi），无法识别返回 0。
func LegacyPlanMemLimitMi(name string) int {
	m := legacyPlanMemRegex.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	g, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return int(g * 1024)
}

// NormalizeResQuotaPlan 把 legacy plan 归档到预设档位：
// 名称在枚举内直接沿用；否则选内存上限 ≥ legacy 内存上限的最小档位，
// 都不满足时取最大档位。内存上限未给出时从档位名推导。
func NormalizeResQuotaPlan(name string, legacyMemLimitMi int) string {
	if IsKnownResQuotaPlan(name) {
		return name
	}
	if legacyMemLimitMi == 0 {
		legacyMemLimitMi = LegacyPlanMemLimitMi(name)
	}
	candidates := make([]struct {
		Name  string
		MemMi int
	}, 0, len(resQuotaPlans))
	for _, p := range resQuotaPlans {
		candidates = append(candidates, struct {
			Name  string
			MemMi int
		}{p.Name, p.Quota.memoryLimitMi})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].MemMi < candidates[j].MemMi })
	for _, c := range candidates {
		if c.MemMi >= legacyMemLimitMi {
			return c.Name
		}
	}
	return candidates[len(candidates)-1].Name
}

// ResQuotaByPlan 返回档位对应的配额表，未知档位返回 false。
func ResQuotaByPlan(name string) (ResQuota, bool) {
	for _, p := range resQuotaPlans {
		if p.Name == name {
			return p.Quota, true
		}
	}
	return ResQuota{}, false
}
