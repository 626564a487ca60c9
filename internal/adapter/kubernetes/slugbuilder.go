package kubernetes

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// ResourceDuplicate 表示已有同名构建 Pod 在运行且未超龄。
type ResourceDuplicate struct {
	Kind string
	Name string
}

func (e *ResourceDuplicate) Error() string {
	return fmt.Sprintf("resource %s/%s already exists and is still active", e.Kind, e.Name)
}

const (
	RuntimeBuildpack  = "buildpack"
	RuntimeDockerfile = "dockerfile"

	builderContainerName = "builder"
	builderCategoryLabel = "slug-builder"

	podDeletionWait   = 60 * time.Second
	podDeletionPeriod = 500 * time.Millisecond
)

// SlugBuilderExecutor 以单发 Pod 执行一次构建。
// 超过 maxPodAge 仍在 Running 的残留 Pod 会被强删后重建。
type SlugBuilderExecutor struct {
	client    kubernetes.Interface
	maxPodAge time.Duration
}

var _ port.BuildExecutor = (*SlugBuilderExecutor)(nil)

func NewSlugBuilderExecutor(client kubernetes.Interface, maxPodAge time.Duration) *SlugBuilderExecutor {
	return &SlugBuilderExecutor{client: client, maxPodAge: maxPodAge}
}

func (e *SlugBuilderExecutor) Launch(ctx context.Context, task *port.BuildTask) error {
	pods := e.client.CoreV1().Pods(task.Namespace)

	existing, err := pods.Get(ctx, task.PodName, metav1.GetOptions{})
	switch {
	case err == nil:
		if existing.Status.Phase == corev1.PodRunning &&
			time.Since(existing.CreationTimestamp.Time) < e.maxPodAge {
			return &ResourceDuplicate{Kind: "Pod", Name: task.PodName}
		}
		// 超龄 Running 或已终止的残留 Pod：强删后重建。
		slog.Warn("removing stale builder pod",
			"namespace", task.Namespace, "pod", task.PodName, "phase", existing.Status.Phase)
		zero := int64(0)
		if err := pods.Delete(ctx, task.PodName, metav1.DeleteOptions{GracePeriodSeconds: &zero}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("delete stale builder pod: %w", err)
		}
		if err := e.waitPodGone(ctx, task.Namespace, task.PodName); err != nil {
			return err
		}
	case !apierrors.IsNotFound(err):
		return fmt.Errorf("check builder pod: %w", err)
	}

	_, err = pods.Create(ctx, e.renderPod(task), metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create builder pod %s: %w", task.PodName, err)
	}
	slog.Info("builder pod launched",
		"namespace", task.Namespace, "pod", task.PodName, "runtime", task.Runtime)
	return nil
}

func (e *SlugBuilderExecutor) renderPod(task *port.BuildTask) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      task.PodName,
			Namespace: task.Namespace,
			Labels: map[string]string{
				"category":     builderCategoryLabel,
				"pod_selector": task.PodName,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:            builderContainerName,
				Image:           task.BuilderImage,
				ImagePullPolicy: corev1.PullAlways,
				Env:             buildEnv(task),
			}},
		},
	}
}

// buildEnv 组装构建容器的环境变量契约：
// buildpack 注入 REQUIRED_BUILDPACKS（"type name url version" 以分号连接），
// dockerfile 注入 DOCKERFILE_PATH 与 BUILD_ARG。
func buildEnv(task *port.BuildTask) []corev1.EnvVar {
	merged := map[string]string{}
	for k, v := range task.Envs {
		merged[k] = v
	}
	merged["SOURCE_GET_URL"] = task.SourceTarURL
	merged["OUTPUT_IMAGE"] = task.DestImage

	switch task.Runtime {
	case RuntimeDockerfile:
		merged["DOCKERFILE_PATH"] = task.DockerfilePath
		if len(task.BuildArgs) > 0 {
			merged["BUILD_ARG"] = encodeBuildArgs(task.BuildArgs)
		}
	default:
		if len(task.Buildpacks) > 0 {
			merged["REQUIRED_BUILDPACKS"] = encodeBuildpacks(task.Buildpacks)
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		env = append(env, corev1.EnvVar{Name: k, Value: merged[k]})
	}
	return env
}

func encodeBuildpacks(bps []domain.BuildpackInfo) string {
	tuples := make([]string, 0, len(bps))
	for _, bp := range bps {
		tuples = append(tuples, strings.Join([]string{bp.Type, bp.Name, bp.URL, bp.Version}, " "))
	}
	return strings.Join(tuples, ";")
}

func encodeBuildArgs(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+args[k])
	}
	return strings.Join(pairs, "&")
}

func (e *SlugBuilderExecutor) Poll(ctx context.Context, namespace, podName string) (*port.BuildPodStatus, error) {
	pod, err := e.client.CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, &Missing{Kind: "Pod", Name: podName}
		}
		return nil, err
	}

	status := &port.BuildPodStatus{Phase: string(pod.Status.Phase)}

	// Pending 阶段容器尚未产出日志，跳过读取。
	if pod.Status.Phase == corev1.PodPending {
		return status, nil
	}

	stream, err := e.client.CoreV1().Pods(namespace).
		GetLogs(podName, &corev1.PodLogOptions{Container: builderContainerName}).Stream(ctx)
	if err != nil {
		// 日志暂不可读不算轮询失败，phase 仍然有效。
		slog.Debug("builder pod logs unavailable", "pod", podName, "err", err)
		return status, nil
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		status.LogLines = append(status.LogLines, scanner.Text())
	}
	return status, nil
}

// Interrupt 以 1s grace period 删除构建 Pod，配合协作式取消。
func (e *SlugBuilderExecutor) Interrupt(ctx context.Context, namespace, podName string) error {
	one := int64(1)
	err := e.client.CoreV1().Pods(namespace).Delete(ctx, podName, metav1.DeleteOptions{GracePeriodSeconds: &one})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

func (e *SlugBuilderExecutor) waitPodGone(ctx context.Context, namespace, podName string) error {
	deadline := time.Now().Add(podDeletionWait)
	for {
		_, err := e.client.CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return &ReadTargetStatusTimeout{Name: "pod/" + podName, Timeout: podDeletionWait}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(podDeletionPeriod):
		}
	}
}
