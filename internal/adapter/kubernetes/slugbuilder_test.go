package kubernetes

import (
	"context"
	"errors"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

func buildTaskFixture() *port.BuildTask {
	return &port.BuildTask{
		PodName:      "slug-bkapp-demo-stag",
		Namespace:    "bkapp-demo-stag",
		BuilderImage: "registry/slugbuilder:latest",
		Runtime:      RuntimeBuildpack,
		SourceTarURL: "https://blobstore/demo.tar.gz",
		DestImage:    "registry/demo:build-1",
		Buildpacks: []domain.BuildpackInfo{
			{Type: "tar", Name: "python", URL: "https://bp/python.tar", Version: "v213"},
		},
		Envs: map[string]string{"BKPAAS_APP_ID": "demo"},
	}
}

func TestSlugBuilderLaunch(t *testing.T) {
	client := fake.NewSimpleClientset()
	exec := NewSlugBuilderExecutor(client, 900*time.Second)
	task := buildTaskFixture()

	if err := exec.Launch(context.Background(), task); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	pod, err := client.CoreV1().Pods(task.Namespace).Get(context.Background(), task.PodName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if pod.Spec.RestartPolicy != corev1.RestartPolicyNever {
		t.Errorf("restartPolicy = %v", pod.Spec.RestartPolicy)
	}

	env := map[string]string{}
	for _, ev := range pod.Spec.Containers[0].Env {
		env[ev.Name] = ev.Value
	}
	if env["REQUIRED_BUILDPACKS"] != "tar python https://bp/python.tar v213" {
		t.Errorf("REQUIRED_BUILDPACKS = %q", env["REQUIRED_BUILDPACKS"])
	}
	if env["SOURCE_GET_URL"] != task.SourceTarURL || env["OUTPUT_IMAGE"] != task.DestImage {
		t.Errorf("env = %v", env)
	}
	if env["BKPAAS_APP_ID"] != "demo" {
		t.Errorf("用户 env 未透传：%v", env)
	}
}

func TestSlugBuilderLaunchDockerfileEnv(t *testing.T) {
	client := fake.NewSimpleClientset()
	exec := NewSlugBuilderExecutor(client, 900*time.Second)
	task := buildTaskFixture()
	task.Runtime = RuntimeDockerfile
	task.Buildpacks = nil
	task.DockerfilePath = "Dockerfile"
	task.BuildArgs = map[string]string{"GOFLAGS": "-mod=vendor"}

	if err := exec.Launch(context.Background(), task); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	pod, _ := client.CoreV1().Pods(task.Namespace).Get(context.Background(), task.PodName, metav1.GetOptions{})
	env := map[string]string{}
	for _, ev := range pod.Spec.Containers[0].Env {
		env[ev.Name] = ev.Value
	}
	if env["DOCKERFILE_PATH"] != "Dockerfile" || env["BUILD_ARG"] != "GOFLAGS=-mod=vendor" {
		t.Errorf("dockerfile env = %v", env)
	}
	if _, ok := env["REQUIRED_BUILDPACKS"]; ok {
		t.Error("dockerfile 构建不应注入 REQUIRED_BUILDPACKS")
	}
}

func TestSlugBuilderLaunchDuplicateRunningPod(t *testing.T) {
	task := buildTaskFixture()
	running := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: task.PodName, Namespace: task.Namespace,
			CreationTimestamp: metav1.Now(),
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	client := fake.NewSimpleClientset(running)
	exec := NewSlugBuilderExecutor(client, 900*time.Second)

	err := exec.Launch(context.Background(), task)
	var dup *ResourceDuplicate
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want ResourceDuplicate", err)
	}
}

func TestSlugBuilderLaunchReplacesStalePod(t *testing.T) {
	task := buildTaskFixture()
	stale := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: task.PodName, Namespace: task.Namespace,
			CreationTimestamp: metav1.NewTime(time.Now().Add(-time.Hour)),
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	client := fake.NewSimpleClientset(stale)
	exec := NewSlugBuilderExecutor(client, 900*time.Second)

	if err := exec.Launch(context.Background(), task); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	pod, err := client.CoreV1().Pods(task.Namespace).Get(context.Background(), task.PodName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get pod: %v", err)
	}
	if pod.Spec.Containers[0].Image != task.BuilderImage {
		t.Errorf("超龄 Pod 未被重建：%+v", pod.Spec)
	}
}

func TestSlugBuilderPollMissing(t *testing.T) {
	exec := NewSlugBuilderExecutor(fake.NewSimpleClientset(), 900*time.Second)
	_, err := exec.Poll(context.Background(), "ns", "slug-nope")
	if !IsMissing(err) {
		t.Fatalf("err = %v, want Missing", err)
	}
}

func TestSlugBuilderInterruptIdempotent(t *testing.T) {
	exec := NewSlugBuilderExecutor(fake.NewSimpleClientset(), 900*time.Second)
	if err := exec.Interrupt(context.Background(), "ns", "slug-nope"); err != nil {
		t.Fatalf("Interrupt 对不存在的 Pod 应视为成功：%v", err)
	}
}
