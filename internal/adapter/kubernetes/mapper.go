package kubernetes

import (
	"fmt"
	"strings"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

// ResourceNames 是一个逻辑进程映射出的 K8s 对象名集合。
type ResourceNames struct {
	Deployment string
	Service    string
	PodPrefix  string
}

// Mapper 把逻辑进程映射为具体的 K8s 对象名与标签。
// 存量应用仍在 v1 命名上运行，映射版本随 EngineApp 持久化。
type Mapper interface {
	Names(engineApp *domain.EngineApp, processType string) ResourceNames
	MatchLabels(engineApp *domain.EngineApp, processType string) map[string]string
}

// MapperForVersion 返回版本对应的映射器，未知版本回退 v2。
func MapperForVersion(version int) Mapper {
	if version == 1 {
		return v1Mapper{}
	}
	return v2Mapper{}
}

// v1Mapper：Deployment 名 <wlapp>--<proc>，选择子只有 pod_selector。
type v1Mapper struct{}

func (v1Mapper) Names(engineApp *domain.EngineApp, processType string) ResourceNames {
	base := fmt.Sprintf("%s--%s", engineApp.Name, processType)
	return ResourceNames{Deployment: base, Service: base, PodPrefix: base}
}

func (v1Mapper) MatchLabels(engineApp *domain.EngineApp, processType string) map[string]string {
	return map[string]string{
		"pod_selector": podSelector(engineApp, processType),
	}
}

// v2Mapper：命名同 v1，标签补充 app/category/process_id，供跨模块 list 聚合。
type v2Mapper struct{}

func (v2Mapper) Names(engineApp *domain.EngineApp, processType string) ResourceNames {
	base := fmt.Sprintf("%s--%s", engineApp.Name, processType)
	return ResourceNames{Deployment: base, Service: base, PodPrefix: base}
}

func (v2Mapper) MatchLabels(engineApp *domain.EngineApp, processType string) map[string]string {
	return map[string]string{
		"pod_selector": podSelector(engineApp, processType),
		"app":          engineApp.Name,
		"category":     "bkapp",
		"process_id":   processType,
	}
}

func podSelector(engineApp *domain.EngineApp, processType string) string {
	return strings.Join([]string{engineApp.Name, processType}, "-")
}
