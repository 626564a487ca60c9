package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

const (
	restartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"
	mainContainerName     = "main"
)

// DeploymentProcessController 把进程操作翻译为 Deployment/Service 变更。
// 普通应用不经 operator，由控制面直接维护 workload 对象。
type DeploymentProcessController struct {
	client kubernetes.Interface
}

var _ port.ProcessController = (*DeploymentProcessController)(nil)

func NewDeploymentProcessController(client kubernetes.Interface) *DeploymentProcessController {
	return &DeploymentProcessController{client: client}
}

func (c *DeploymentProcessController) Deploy(ctx context.Context, engineApp *domain.EngineApp, processes []*domain.Process, image string) error {
	mapper := MapperForVersion(engineApp.MapperVersion)
	for _, proc := range processes {
		deploy := renderDeployment(mapper, engineApp, proc, image)
		if err := c.replaceOrCreateDeployment(ctx, engineApp.Namespace, deploy); err != nil {
			return fmt.Errorf("deploy process %s: %w", proc.Name, err)
		}
		if err := c.ensureDefaultService(ctx, mapper, engineApp, proc); err != nil {
			return fmt.Errorf("ensure service for %s: %w", proc.Name, err)
		}
		slog.Info("process deployed",
			"engine_app", engineApp.Name, "process", proc.Name, "replicas", proc.Replicas)
	}
	return nil
}

func (c *DeploymentProcessController) replaceOrCreateDeployment(ctx context.Context, ns string, deploy *appsv1.Deployment) error {
	deployments := c.client.AppsV1().Deployments(ns)
	existing, err := deployments.Get(ctx, deploy.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = deployments.Create(ctx, deploy, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	deploy.ResourceVersion = existing.ResourceVersion
	_, err = deployments.Update(ctx, deploy, metav1.UpdateOptions{})
	return err
}

func (c *DeploymentProcessController) Scale(ctx context.Context, config port.ProcessConfig, replicas int32) error {
	mapper := MapperForVersion(config.EngineApp.MapperVersion)
	names := mapper.Names(config.EngineApp, config.ProcessType)

	patch := fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas)
	_, err := c.client.AppsV1().Deployments(config.EngineApp.Namespace).
		Patch(ctx, names.Deployment, types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if apierrors.IsNotFound(err) {
		return &Missing{Kind: "Deployment", Name: names.Deployment}
	}
	if err != nil {
		return err
	}
	return c.ensureDefaultService(ctx, mapper, config.EngineApp, &domain.Process{Name: config.ProcessType})
}

func (c *DeploymentProcessController) Shutdown(ctx context.Context, config port.ProcessConfig) error {
	return c.Scale(ctx, config, 0)
}

// Restart 以注解变更触发滚动重启，语义等价 kubectl rollout restart。
func (c *DeploymentProcessController) Restart(ctx context.Context, config port.ProcessConfig) error {
	names := MapperForVersion(config.EngineApp.MapperVersion).Names(config.EngineApp, config.ProcessType)
	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{%q:%q}}}}}`,
		restartedAtAnnotation, time.Now().UTC().Format(time.RFC3339))
	_, err := c.client.AppsV1().Deployments(config.EngineApp.Namespace).
		Patch(ctx, names.Deployment, types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if apierrors.IsNotFound(err) {
		return &Missing{Kind: "Deployment", Name: names.Deployment}
	}
	return err
}

func (c *DeploymentProcessController) RestartInstance(ctx context.Context, namespace, podName string) error {
	err := c.client.CoreV1().Pods(namespace).Delete(ctx, podName, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return &Missing{Kind: "Pod", Name: podName}
	}
	return err
}

// Delete 逐个显式删除 Deployment、ReplicaSet、Pod，不依赖服务端级联，
// 规避 finalizer 卡住导致的残留。
func (c *DeploymentProcessController) Delete(ctx context.Context, config port.ProcessConfig, removeSvc bool) error {
	ns := config.EngineApp.Namespace
	mapper := MapperForVersion(config.EngineApp.MapperVersion)
	names := mapper.Names(config.EngineApp, config.ProcessType)
	selector := labelSelectorString(mapper.MatchLabels(config.EngineApp, config.ProcessType))

	zero := int64(0)
	err := c.client.AppsV1().Deployments(ns).Delete(ctx, names.Deployment,
		metav1.DeleteOptions{GracePeriodSeconds: &zero})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}

	rsList, err := c.client.AppsV1().ReplicaSets(ns).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return err
	}
	for i := range rsList.Items {
		if err := c.client.AppsV1().ReplicaSets(ns).Delete(ctx, rsList.Items[i].Name,
			metav1.DeleteOptions{GracePeriodSeconds: &zero}); err != nil && !apierrors.IsNotFound(err) {
			return err
		}
	}

	podList, err := c.client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return err
	}
	for i := range podList.Items {
		if err := c.client.CoreV1().Pods(ns).Delete(ctx, podList.Items[i].Name,
			metav1.DeleteOptions{GracePeriodSeconds: &zero}); err != nil && !apierrors.IsNotFound(err) {
			return err
		}
	}

	if removeSvc {
		if err := c.client.CoreV1().Services(ns).Delete(ctx, names.Service, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (c *DeploymentProcessController) DeleteGracefully(ctx context.Context, config port.ProcessConfig) error {
	names := MapperForVersion(config.EngineApp.MapperVersion).Names(config.EngineApp, config.ProcessType)
	err := c.client.AppsV1().Deployments(config.EngineApp.Namespace).
		Delete(ctx, names.Deployment, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *DeploymentProcessController) ensureDefaultService(ctx context.Context, mapper Mapper, engineApp *domain.EngineApp, proc *domain.Process) error {
	names := mapper.Names(engineApp, proc.Name)
	services := c.client.CoreV1().Services(engineApp.Namespace)

	desired := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      names.Service,
			Namespace: engineApp.Namespace,
			Labels:    mapper.MatchLabels(engineApp, proc.Name),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{"pod_selector": podSelector(engineApp, proc.Name)},
			Ports:    servicePorts(proc),
		},
	}

	existing, err := services.Get(ctx, names.Service, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = services.Create(ctx, desired, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	desired.ResourceVersion = existing.ResourceVersion
	desired.Spec.ClusterIP = existing.Spec.ClusterIP
	_, err = services.Update(ctx, desired, metav1.UpdateOptions{})
	return err
}

func servicePorts(proc *domain.Process) []corev1.ServicePort {
	if len(proc.Services) == 0 {
		return []corev1.ServicePort{{
			Name:       proc.Name,
			Protocol:   corev1.ProtocolTCP,
			Port:       defaultServicePort,
			TargetPort: intstr.FromInt32(defaultContainerPort),
		}}
	}
	ports := make([]corev1.ServicePort, 0, len(proc.Services))
	for _, svc := range proc.Services {
		target := intstr.FromInt32(defaultContainerPort)
		if svc.TargetPort != domain.VarPORT {
			target = intstr.Parse(svc.TargetPort)
		}
		protocol := corev1.ProtocolTCP
		if svc.Protocol == "UDP" {
			protocol = corev1.ProtocolUDP
		}
		port := svc.Port
		if port == 0 {
			port = defaultServicePort
		}
		ports = append(ports, corev1.ServicePort{
			Name: svc.Name, Protocol: protocol, Port: port, TargetPort: target,
		})
	}
	return ports
}

func renderDeployment(mapper Mapper, engineApp *domain.EngineApp, proc *domain.Process, image string) *appsv1.Deployment {
	labels := mapper.MatchLabels(engineApp, proc.Name)
	names := mapper.Names(engineApp, proc.Name)
	replicas := proc.Replicas

	if proc.ImageOverride != "" {
		image = proc.ImageOverride
	}

	container := corev1.Container{
		Name:  mainContainerName,
		Image: image,
		Env: []corev1.EnvVar{
			{Name: "PORT", Value: fmt.Sprintf("%d", defaultContainerPort)},
		},
		Ports: []corev1.ContainerPort{{ContainerPort: defaultContainerPort}},
	}
	container.Command, container.Args = deployCommand(proc)

	if quota, ok := domain.ResQuotaByPlan(domain.NormalizeResQuotaPlan(proc.ResQuotaPlan, 0)); ok {
		container.Resources = corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(quota.CPURequest),
				corev1.ResourceMemory: resource.MustParse(quota.MemoryRequest),
			},
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(quota.CPULimit),
				corev1.ResourceMemory: resource.MustParse(quota.MemoryLimit),
			},
		}
	}
	if proc.Probes != nil {
		container.LivenessProbe = proc.Probes.Liveness
		container.ReadinessProbe = proc.Probes.Readiness
		container.StartupProbe = proc.Probes.Startup
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      names.Deployment,
			Namespace: engineApp.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
				},
			},
		},
	}
}

func deployCommand(proc *domain.Process) (command, args []string) {
	if proc.ProcCommand != "" {
		tokens, err := shlex.Split(proc.ProcCommand)
		if err == nil && len(tokens) > 0 {
			return []string{tokens[0]}, rewritePortTokens(tokens[1:])
		}
	}
	return proc.Command, rewritePortTokens(proc.Args)
}

func labelSelectorString(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, ",")
}
