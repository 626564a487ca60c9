package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/bkapp"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// BkAppApplier 通过 dynamic client 下发 BkApp 资源。
// Apply 采用 create-or-replace 语义，409 冲突时带退避重试。
type BkAppApplier struct {
	resources *ResourceClient
	ensurer   *NamespaceEnsurer
}

var _ port.BkAppApplier = (*BkAppApplier)(nil)

func NewBkAppApplier(resources *ResourceClient, client kubernetes.Interface) *BkAppApplier {
	return &BkAppApplier{
		resources: resources,
		ensurer:   NewNamespaceEnsurer(client),
	}
}

func (a *BkAppApplier) Apply(ctx context.Context, namespace string, res *bkapp.BkApp) error {
	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(res)
	if err != nil {
		return fmt.Errorf("convert BkApp to unstructured: %w", err)
	}
	u := &unstructured.Unstructured{Object: obj}
	// status 由 operator 回写，下发时剔除。
	unstructured.RemoveNestedField(u.Object, "status")
	unstructured.RemoveNestedField(u.Object, "metadata", "creationTimestamp")

	operation := func() error {
		_, err := a.resources.CreateOrUpdate(ctx, namespace, u.DeepCopy(), CreateOrUpdateOptions{
			UpdateMethod:   UpdateByReplace,
			AutoAddVersion: true,
		})
		if apierrors.IsConflict(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(200*time.Millisecond)), 4), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("apply BkApp %s/%s: %w", namespace, res.Name, err)
	}

	slog.Info("applied BkApp", "namespace", namespace, "name", res.Name,
		"deploy_id", res.Annotations[bkapp.AnnotDeployID])
	return nil
}

func (a *BkAppApplier) Get(ctx context.Context, namespace, name string) (*bkapp.BkApp, error) {
	obj, err := a.resources.Get(ctx, name, namespace)
	if err != nil {
		return nil, err
	}
	res := &bkapp.BkApp{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, res); err != nil {
		return nil, fmt.Errorf("convert unstructured to BkApp: %w", err)
	}
	return res, nil
}

func (a *BkAppApplier) EnsureNamespace(ctx context.Context, namespace string, saTimeout time.Duration) error {
	if err := a.ensurer.Ensure(ctx, namespace); err != nil {
		return fmt.Errorf("ensure namespace %s: %w", namespace, err)
	}
	return a.ensurer.WaitForDefaultSA(ctx, namespace, saTimeout)
}
