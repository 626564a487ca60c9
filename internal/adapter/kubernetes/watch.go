package kubernetes

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// MaxTailLines 是实例日志单次读取的行数上限。
const MaxTailLines = 10000

// ProcessWatcher 直接从集群 list/watch 进程与实例状态。
type ProcessWatcher struct {
	client kubernetes.Interface
}

var _ port.ProcessWatcher = (*ProcessWatcher)(nil)

func NewProcessWatcher(client kubernetes.Interface) *ProcessWatcher {
	return &ProcessWatcher{client: client}
}

// ListProcesses 读取命名空间内的 Deployment 与 Pod，按标签 join 成进程快照。
// 返回的 rv_proc/rv_inst 供 Watch 续传。
func (w *ProcessWatcher) ListProcesses(ctx context.Context, engineApp *domain.EngineApp) (*domain.ProcessesInfo, error) {
	ns := engineApp.Namespace

	deployList, err := w.client.AppsV1().Deployments(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	podList, err := w.client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	info := &domain.ProcessesInfo{
		RvProc: deployList.ResourceVersion,
		RvInst: podList.ResourceVersion,
	}
	for i := range deployList.Items {
		deploy := &deployList.Items[i]
		snapshot := processSnapshot(deploy)
		for j := range podList.Items {
			pod := &podList.Items[j]
			if pod.Labels["pod_selector"] == deploy.Spec.Selector.MatchLabels["pod_selector"] {
				snapshot.Instances = append(snapshot.Instances, instanceSnapshot(pod))
			}
		}
		info.Processes = append(info.Processes, *snapshot)
	}
	return info, nil
}

// Watch 打开 Deployment 与 Pod 两条 watch 流并合并为单通道。
// timeout 到期或两条流都结束时通道关闭。
func (w *ProcessWatcher) Watch(ctx context.Context, engineApp *domain.EngineApp, rvProc, rvInst string, timeout time.Duration) (<-chan domain.ProcessWatchEvent, error) {
	ns := engineApp.Namespace
	timeoutSeconds := int64(timeout / time.Second)

	procWatch, err := w.client.AppsV1().Deployments(ns).Watch(ctx, metav1.ListOptions{
		ResourceVersion: rvProc, TimeoutSeconds: &timeoutSeconds,
	})
	if err != nil {
		return nil, err
	}
	instWatch, err := w.client.CoreV1().Pods(ns).Watch(ctx, metav1.ListOptions{
		ResourceVersion: rvInst, TimeoutSeconds: &timeoutSeconds,
	})
	if err != nil {
		procWatch.Stop()
		return nil, err
	}

	out := make(chan domain.ProcessWatchEvent, 32)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		w.pumpProcessEvents(ctx, procWatch, out)
	}()
	go func() {
		defer wg.Done()
		w.pumpInstanceEvents(ctx, instWatch, out)
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	// ctx 撤销时终止两条底层流，事件泵随之退出。
	go func() {
		<-ctx.Done()
		procWatch.Stop()
		instWatch.Stop()
	}()
	return out, nil
}

func (w *ProcessWatcher) pumpProcessEvents(ctx context.Context, src watch.Interface, out chan<- domain.ProcessWatchEvent) {
	for ev := range src.ResultChan() {
		deploy, ok := ev.Object.(*appsv1.Deployment)
		if !ok {
			continue
		}
		event := domain.ProcessWatchEvent{
			Type:    watchEventType(ev.Type),
			Kind:    domain.WatchObjectProcess,
			Process: processSnapshot(deploy),
		}
		select {
		case out <- event:
		case <-ctx.Done():
			return
		}
	}
}

func (w *ProcessWatcher) pumpInstanceEvents(ctx context.Context, src watch.Interface, out chan<- domain.ProcessWatchEvent) {
	for ev := range src.ResultChan() {
		pod, ok := ev.Object.(*corev1.Pod)
		if !ok {
			continue
		}
		inst := instanceSnapshot(pod)
		event := domain.ProcessWatchEvent{
			Type:     watchEventType(ev.Type),
			Kind:     domain.WatchObjectInstance,
			Instance: &inst,
		}
		select {
		case out <- event:
		case <-ctx.Done():
			return
		}
	}
}

// InstanceLogs 读取 Pod log 子资源，tailLines 封顶 10000。
func (w *ProcessWatcher) InstanceLogs(ctx context.Context, namespace, podName string, tailLines int64, previous bool) (string, error) {
	if tailLines <= 0 || tailLines > MaxTailLines {
		tailLines = MaxTailLines
	}
	stream, err := w.client.CoreV1().Pods(namespace).GetLogs(podName, &corev1.PodLogOptions{
		TailLines: &tailLines,
		Previous:  previous,
	}).Stream(ctx)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, stream); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func watchEventType(t watch.EventType) domain.WatchEventType {
	switch t {
	case watch.Added:
		return domain.WatchAdded
	case watch.Deleted:
		return domain.WatchDeleted
	default:
		return domain.WatchModified
	}
}

func processSnapshot(deploy *appsv1.Deployment) *domain.ProcessSnapshot {
	replicas := int32(0)
	if deploy.Spec.Replicas != nil {
		replicas = *deploy.Spec.Replicas
	}
	return &domain.ProcessSnapshot{
		Type:           processTypeFromName(deploy.Name),
		ModuleName:     deploy.Labels["module_name"],
		DeploymentName: deploy.Name,
		Replicas:       replicas,
		Available:      deploy.Status.AvailableReplicas,
	}
}

func instanceSnapshot(pod *corev1.Pod) domain.InstanceSnapshot {
	inst := domain.InstanceSnapshot{
		Name:        pod.Name,
		ProcessType: pod.Labels["process_id"],
		Host:        pod.Status.HostIP,
		State:       string(pod.Status.Phase),
		Version:     pod.Labels["release_version"],
	}
	for _, cs := range pod.Status.ContainerStatuses {
		inst.Ready = inst.Ready || cs.Ready
		inst.RestartCount += cs.RestartCount
	}
	if len(pod.Spec.Containers) > 0 {
		inst.Image = pod.Spec.Containers[0].Image
	}
	return inst
}

// processTypeFromName 从 "<wlapp>--<proc>" 形式的名称提取进程类型。
func processTypeFromName(name string) string {
	if idx := strings.LastIndex(name, "--"); idx >= 0 {
		return name[idx+2:]
	}
	return name
}
