package kubernetes

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// Missing 表示资源不存在（服务端 404）。
type Missing struct {
	Kind string
	Name string
}

func (m *Missing) Error() string {
	return fmt.Sprintf("resource %s/%s missing", m.Kind, m.Name)
}

// IsMissing 判断 err 是否为 Missing。
func IsMissing(err error) bool {
	_, ok := err.(*Missing)
	return ok
}

// ReadTargetStatusTimeout 表示等待资源达到目标状态超时。
type ReadTargetStatusTimeout struct {
	Name    string
	Timeout time.Duration
}

func (e *ReadTargetStatusTimeout) Error() string {
	return fmt.Sprintf("waiting for %s to reach target status timed out after %s", e.Name, e.Timeout)
}

// PatchType 对应 Kubernetes 的三种 patch Content-Type。
type PatchType string

const (
	PatchStrategic PatchType = "strategic"
	PatchMerge     PatchType = "merge"
	PatchJSON      PatchType = "json"
)

func (p PatchType) k8sType() types.PatchType {
	switch p {
	case PatchMerge:
		return types.MergePatchType
	case PatchJSON:
		return types.JSONPatchType
	default:
		return types.StrategicMergePatchType
	}
}

// UpdateMethod 决定 CreateOrUpdate 冲突时的回退方式。
type UpdateMethod string

const (
	UpdateByReplace UpdateMethod = "replace"
	UpdateByPatch   UpdateMethod = "patch"
)

// KindInfo 描述一种资源的寻址信息。explicit apiVersion 为空时
// 使用 discovery 报告的 preferred group-version。
type KindInfo struct {
	Kind       string
	GVR        schema.GroupVersionResource
	Namespaced bool
}

// ResourceClient 是按 kind 泛化的资源访问器。
// 基于 dynamic client，404 被翻译为 Missing。
type ResourceClient struct {
	dyn       dynamic.Interface
	discovery discovery.DiscoveryInterface
	info      KindInfo
}

func NewResourceClient(dyn dynamic.Interface, disc discovery.DiscoveryInterface, info KindInfo) *ResourceClient {
	return &ResourceClient{dyn: dyn, discovery: disc, info: info}
}

// ResolveGroupVersion 校验 explicit apiVersion 在集群可用，否则回退 preferred。
// 支持 kind 不在 preferred group-version、但存在于旧版本的集群
// （例如 networking.k8s.io/v1 与 extensions/v1beta1 并存的 Ingress）。
func (c *ResourceClient) ResolveGroupVersion(explicit string) (string, error) {
	if c.discovery == nil {
		return c.info.GVR.GroupVersion().String(), nil
	}
	preferred, err := c.discovery.ServerPreferredResources()
	if err != nil {
		return "", fmt.Errorf("discover preferred resources: %w", err)
	}
	available := make([]string, 0, 4)
	for _, list := range preferred {
		for _, res := range list.APIResources {
			if res.Kind == c.info.Kind {
				available = append(available, list.GroupVersion)
			}
		}
	}
	if explicit != "" {
		for _, gv := range available {
			if gv == explicit {
				return explicit, nil
			}
		}
		return "", fmt.Errorf("apiVersion %s for kind %s not available on cluster", explicit, c.info.Kind)
	}
	if len(available) > 0 {
		return available[0], nil
	}
	return c.info.GVR.GroupVersion().String(), nil
}

func (c *ResourceClient) resource(ns string) dynamic.ResourceInterface {
	if c.info.Namespaced {
		return c.dyn.Resource(c.info.GVR).Namespace(ns)
	}
	return c.dyn.Resource(c.info.GVR)
}

func (c *ResourceClient) Get(ctx context.Context, name, ns string) (*unstructured.Unstructured, error) {
	obj, err := c.resource(ns).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, &Missing{Kind: c.info.Kind, Name: name}
	}
	return obj, err
}

func (c *ResourceClient) List(ctx context.Context, ns, labelSelector string) (*unstructured.UnstructuredList, error) {
	return c.resource(ns).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
}

func (c *ResourceClient) Create(ctx context.Context, ns string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	return c.resource(ns).Create(ctx, obj, metav1.CreateOptions{})
}

func (c *ResourceClient) Patch(ctx context.Context, name, ns string, patchType PatchType, data []byte) (*unstructured.Unstructured, error) {
	obj, err := c.resource(ns).Patch(ctx, name, patchType.k8sType(), data, metav1.PatchOptions{})
	if apierrors.IsNotFound(err) {
		return nil, &Missing{Kind: c.info.Kind, Name: name}
	}
	return obj, err
}

func (c *ResourceClient) Replace(ctx context.Context, ns string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	return c.resource(ns).Update(ctx, obj, metav1.UpdateOptions{})
}

// ReplaceOrPatch：对象带 resourceVersion 时走 replace，否则整体 merge patch。
func (c *ResourceClient) ReplaceOrPatch(ctx context.Context, ns string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	if obj.GetResourceVersion() != "" {
		return c.Replace(ctx, ns, obj)
	}
	data, err := obj.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return c.Patch(ctx, obj.GetName(), ns, PatchMerge, data)
}

// CreateOrUpdateOptions 控制冲突回退行为。
type CreateOrUpdateOptions struct {
	UpdateMethod UpdateMethod
	// AutoAddVersion 在 replace 前读取现存对象填充 metadata.resourceVersion。
	AutoAddVersion bool
}

// CreateOrUpdate 先尝试 create；409 AlreadyExists 时按配置回退 replace/patch。
func (c *ResourceClient) CreateOrUpdate(ctx context.Context, ns string, obj *unstructured.Unstructured, opts CreateOrUpdateOptions) (*unstructured.Unstructured, error) {
	created, err := c.Create(ctx, ns, obj)
	if err == nil {
		return created, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return nil, err
	}

	switch opts.UpdateMethod {
	case UpdateByReplace:
		if opts.AutoAddVersion {
			existing, getErr := c.Get(ctx, obj.GetName(), ns)
			if getErr != nil {
				return nil, getErr
			}
			obj.SetResourceVersion(existing.GetResourceVersion())
		}
		return c.Replace(ctx, ns, obj)
	default:
		data, mErr := obj.MarshalJSON()
		if mErr != nil {
			return nil, mErr
		}
		return c.Patch(ctx, obj.GetName(), ns, PatchMerge, data)
	}
}

// GetOrCreate 返回现存对象，不存在时创建。
func (c *ResourceClient) GetOrCreate(ctx context.Context, ns string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	existing, err := c.Get(ctx, obj.GetName(), ns)
	if err == nil {
		return existing, nil
	}
	if !IsMissing(err) {
		return nil, err
	}
	return c.Create(ctx, ns, obj)
}

// DeleteOptions 控制删除语义。
type DeleteOptions struct {
	// NonGracePeriod 为 true 时 grace_period_seconds=0。
	NonGracePeriod     bool
	GracePeriodSeconds *int64
	// RaiseIfNonExists 为 true 时资源不存在视为错误，默认视为成功。
	RaiseIfNonExists bool
}

func (o DeleteOptions) build() metav1.DeleteOptions {
	opts := metav1.DeleteOptions{}
	if o.NonGracePeriod {
		zero := int64(0)
		opts.GracePeriodSeconds = &zero
	} else if o.GracePeriodSeconds != nil {
		opts.GracePeriodSeconds = o.GracePeriodSeconds
	}
	return opts
}

func (c *ResourceClient) Delete(ctx context.Context, name, ns string, opts DeleteOptions) error {
	err := c.resource(ns).Delete(ctx, name, opts.build())
	if apierrors.IsNotFound(err) {
		if opts.RaiseIfNonExists {
			return &Missing{Kind: c.info.Kind, Name: name}
		}
		return nil
	}
	return err
}

// DeleteCollection 按标签批量删除（服务端级联）。
func (c *ResourceClient) DeleteCollection(ctx context.Context, ns, labelSelector string, opts DeleteOptions) error {
	return c.resource(ns).DeleteCollection(ctx, opts.build(), metav1.ListOptions{LabelSelector: labelSelector})
}

// DeleteIndividual 逐个删除标签命中的对象，规避卡死的 finalizer。
func (c *ResourceClient) DeleteIndividual(ctx context.Context, ns, labelSelector string, opts DeleteOptions) error {
	list, err := c.List(ctx, ns, labelSelector)
	if err != nil {
		return err
	}
	for i := range list.Items {
		if err := c.Delete(ctx, list.Items[i].GetName(), ns, opts); err != nil {
			return err
		}
	}
	return nil
}

// CreateWatchStream 打开一条 list-watch 流。
func (c *ResourceClient) CreateWatchStream(ctx context.Context, ns, labelSelector, resourceVersion string, timeoutSeconds *int64) (watch.Interface, error) {
	return c.resource(ns).Watch(ctx, metav1.ListOptions{
		LabelSelector:   labelSelector,
		ResourceVersion: resourceVersion,
		TimeoutSeconds:  timeoutSeconds,
	})
}

// NamespaceEnsurer 负责命名空间的创建与 default SA 等待。
type NamespaceEnsurer struct {
	client kubernetes.Interface
}

func NewNamespaceEnsurer(client kubernetes.Interface) *NamespaceEnsurer {
	return &NamespaceEnsurer{client: client}
}

// Ensure 创建命名空间（已存在视为成功）。
func (e *NamespaceEnsurer) Ensure(ctx context.Context, ns string) error {
	_, err := e.client.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: ns},
	}, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

const defaultSAPollPeriod = 500 * time.Millisecond

// WaitForDefaultSA 轮询直到 default ServiceAccount 存在。
// 1.24 起不再要求绑定 Secret，只检查 SA 本身。
func (e *NamespaceEnsurer) WaitForDefaultSA(ctx context.Context, ns string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := e.client.CoreV1().ServiceAccounts(ns).Get(ctx, "default", metav1.GetOptions{})
		if err == nil {
			return nil
		}
		if !apierrors.IsNotFound(err) {
			return err
		}
		if time.Now().After(deadline) {
			return &ReadTargetStatusTimeout{Name: "serviceaccount/default", Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(defaultSAPollPeriod):
		}
	}
}

// WaitForPodStatus 轮询 Pod phase 直到进入目标集合或超时。
func WaitForPodStatus(ctx context.Context, client kubernetes.Interface, ns, name string, targets []corev1.PodPhase, timeout, checkPeriod time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pod, err := client.CoreV1().Pods(ns).Get(ctx, name, metav1.GetOptions{})
		if err == nil {
			for _, target := range targets {
				if pod.Status.Phase == target {
					return nil
				}
			}
		} else if !apierrors.IsNotFound(err) {
			return err
		}
		if time.Now().After(deadline) {
			return &ReadTargetStatusTimeout{Name: "pod/" + name, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(checkPeriod):
		}
	}
}
