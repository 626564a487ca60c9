package kubernetes

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/bkapp"
)

// 对集群 API 的默认请求超时：连接 5s，读 60s。
const (
	DefaultConnectTimeoutSeconds = 5
	DefaultReadTimeoutSeconds    = 60
)

func NewClientset(kubeconfigPath string) (kubernetes.Interface, *rest.Config, error) {
	var cfg *rest.Config
	var err error

	if kubeconfigPath != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, nil, err
	}

	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cs, cfg, nil
}

func NewDynamicClient(cfg *rest.Config) (dynamic.Interface, error) {
	return dynamic.NewForConfig(cfg)
}

// 常用 kind 的寻址注册表。BkApp 为平台自定义资源。
var (
	BkAppKind = KindInfo{
		Kind: bkapp.Kind,
		GVR: schema.GroupVersionResource{
			Group: bkapp.Group, Version: bkapp.Version, Resource: bkapp.Resource,
		},
		Namespaced: true,
	}
	IngressKind = KindInfo{
		Kind: "Ingress",
		GVR: schema.GroupVersionResource{
			Group: "networking.k8s.io", Version: "v1", Resource: "ingresses",
		},
		Namespaced: true,
	}
	SecretKind = KindInfo{
		Kind:       "Secret",
		GVR:        schema.GroupVersionResource{Version: "v1", Resource: "secrets"},
		Namespaced: true,
	}
)
