package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

const (
	annotSSLRedirect   = "nginx.ingress.kubernetes.io/ssl-redirect"
	annotRewriteTarget = "nginx.ingress.kubernetes.io/rewrite-target"
	annotConfigSnippet = "nginx.ingress.kubernetes.io/configuration-snippet"
	annotSkipFilterCLB = "bkbcs.tencent.com/skip-filter-clb"
)

// NginxIngressManager 为模块环境渲染并下发 Ingress。
// useRegex 为 true 时使用 ingress-nginx >=0.22 的正则改写路径，
// 否则使用旧版前缀捕获组方案。
type NginxIngressManager struct {
	client   kubernetes.Interface
	useRegex bool
}

var _ port.IngressManager = (*NginxIngressManager)(nil)

func NewNginxIngressManager(client kubernetes.Interface, useRegex bool) *NginxIngressManager {
	return &NginxIngressManager{client: client, useRegex: useRegex}
}

func (m *NginxIngressManager) Sync(ctx context.Context, engineApp *domain.EngineApp, domains []port.AppDomain) error {
	for _, d := range domains {
		ing := m.render(engineApp, d)
		if err := m.createOrUpdate(ctx, engineApp.Namespace, ing); err != nil {
			return fmt.Errorf("sync ingress for host %s: %w", d.Host, err)
		}
		slog.Info("ingress synced",
			"engine_app", engineApp.Name, "host", d.Host, "use_regex", m.useRegex)
	}
	return nil
}

func (m *NginxIngressManager) Delete(ctx context.Context, engineApp *domain.EngineApp, host string) error {
	name := ingressName(engineApp, host)
	err := m.client.NetworkingV1().Ingresses(engineApp.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

func (m *NginxIngressManager) createOrUpdate(ctx context.Context, ns string, ing *networkingv1.Ingress) error {
	ingresses := m.client.NetworkingV1().Ingresses(ns)
	existing, err := ingresses.Get(ctx, ing.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = ingresses.Create(ctx, ing, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	ing.ResourceVersion = existing.ResourceVersion
	_, err = ingresses.Update(ctx, ing, metav1.UpdateOptions{})
	return err
}

func (m *NginxIngressManager) render(engineApp *domain.EngineApp, d port.AppDomain) *networkingv1.Ingress {
	annotations := map[string]string{
		annotSSLRedirect:   "false",
		annotSkipFilterCLB: "true",
	}
	if m.useRegex {
		annotations[annotRewriteTarget] = "/$2"
		annotations[annotConfigSnippet] = "proxy_set_header X-Script-Name /$1$3;"
	} else if d.RewriteToRoot || hasSubpath(d.PathPrefixes) {
		annotations[annotRewriteTarget] = "/$2"
		annotations[annotConfigSnippet] = legacyLocationSnippet(d.PathPrefixes)
	}

	pathType := networkingv1.PathTypeImplementationSpecific
	paths := make([]networkingv1.HTTPIngressPath, 0, len(d.PathPrefixes))
	for _, prefix := range d.PathPrefixes {
		paths = append(paths, networkingv1.HTTPIngressPath{
			Path:     m.renderPath(prefix, d.RewriteToRoot),
			PathType: &pathType,
			Backend: networkingv1.IngressBackend{
				Service: &networkingv1.IngressServiceBackend{
					Name: d.ServiceName,
					Port: networkingv1.ServiceBackendPort{Number: d.ServicePort},
				},
			},
		})
	}

	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:        ingressName(engineApp, d.Host),
			Namespace:   engineApp.Namespace,
			Annotations: annotations,
			Labels: map[string]string{
				"app": engineApp.Name,
			},
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: d.Host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{Paths: paths},
				},
			}},
		},
	}

	if d.TLSEnabled {
		ing.Spec.TLS = []networkingv1.IngressTLS{{
			Hosts:      []string{d.Host},
			SecretName: d.TLSSecretName,
		}}
	}
	return ing
}

// renderPath 按策略展开路径前缀。
// 旧版：子路径一律展开为 /<prefix>(/|$)(.*) 捕获组形式，
// 根路径仅在要求改写时退化为 /()(.*)；
// 正则：/(<prefix>)/(.*)|/(<prefix>$)，保留 $1$3 供 X-Script-Name 使用。
func (m *NginxIngressManager) renderPath(prefix string, rewriteToRoot bool) string {
	trimmed := strings.Trim(prefix, "/")
	if m.useRegex {
		if trimmed == "" {
			return "/()(.*)"
		}
		return fmt.Sprintf("/(%s)/(.*)|/(%s$)", trimmed, trimmed)
	}
	if trimmed == "" {
		if rewriteToRoot {
			return "/()(.*)"
		}
		return "/"
	}
	return fmt.Sprintf("/%s(/|$)(.*)", trimmed)
}

func hasSubpath(prefixes []string) bool {
	for _, p := range prefixes {
		if strings.Trim(p, "/") != "" {
			return true
		}
	}
	return false
}

func legacyLocationSnippet(prefixes []string) string {
	var b strings.Builder
	for _, prefix := range prefixes {
		trimmed := strings.Trim(prefix, "/")
		if trimmed == "" {
			continue
		}
		fmt.Fprintf(&b, "set $location_path /%s;\n", trimmed)
	}
	return b.String()
}

// ingressName 由 engine app 名与 host 派生，host 中的点替换为连字符。
func ingressName(engineApp *domain.EngineApp, host string) string {
	return engineApp.Name + "-" + strings.ReplaceAll(host, ".", "-")
}
