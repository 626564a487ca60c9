package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

type fakeQuerier struct {
	buildLogs string
	appLogs   string
	called    bool
}

func (q *fakeQuerier) QueryBuildLogs(_ context.Context, _, _ string, _, _ time.Time) (string, error) {
	q.called = true
	return q.buildLogs, nil
}

func (q *fakeQuerier) QueryAppLogs(_ context.Context, _, _, _ string, _, _ time.Time, _ int) (string, error) {
	q.called = true
	return q.appLogs, nil
}

func newLogFixture(t *testing.T, watcher *fakeWatcher, querier port.LogQuerier) (*LogService, *fakeBuildRepo) {
	t.Helper()
	envRepo := newFakeEnvRepo()
	buildRepo := newFakeBuildRepo()
	if err := envRepo.Save(context.Background(), &domain.ModuleEnvironment{
		ID:          "env-1",
		Environment: domain.EnvStag,
		EngineApp:   &domain.EngineApp{ID: "ea-1", Name: "bkapp-demo-stag", Namespace: "bkapp-demo-stag"},
	}); err != nil {
		t.Fatal(err)
	}
	return NewLogService(envRepo, buildRepo, watcher, querier), buildRepo
}

func TestInstanceLogsFromPod(t *testing.T) {
	querier := &fakeQuerier{appLogs: "backend line"}
	svc, _ := newLogFixture(t, &fakeWatcher{logs: "pod line"}, querier)

	logs, err := svc.InstanceLogs(context.Background(), "env-1", "web-abc", 100, false)
	if err != nil {
		t.Fatal(err)
	}
	if logs != "pod line" {
		t.Errorf("logs = %q", logs)
	}
	if querier.called {
		t.Error("backend should not be queried when pod logs succeed")
	}
}

func TestInstanceLogsFallbackToBackend(t *testing.T) {
	querier := &fakeQuerier{appLogs: "backend line"}
	svc, _ := newLogFixture(t, &fakeWatcher{logsErr: errors.New("pod not found")}, querier)

	logs, err := svc.InstanceLogs(context.Background(), "env-1", "web-abc", 100, false)
	if err != nil {
		t.Fatal(err)
	}
	if logs != "backend line" {
		t.Errorf("logs = %q", logs)
	}
}

func TestInstanceLogsNoBackend(t *testing.T) {
	svc, _ := newLogFixture(t, &fakeWatcher{logsErr: errors.New("pod not found")}, nil)

	if _, err := svc.InstanceLogs(context.Background(), "env-1", "web-abc", 100, false); err == nil {
		t.Fatal("expected the pod error to surface without a backend")
	}
}

func TestBuildLogsFromStoredLines(t *testing.T) {
	querier := &fakeQuerier{buildLogs: "backend build log"}
	svc, buildRepo := newLogFixture(t, &fakeWatcher{logsErr: errors.New("pod gone")}, querier)

	bp := &domain.BuildProcess{
		ID: "bp-1", PodName: "slug-bkapp-demo-stag",
		Status: domain.BuildSuccessful, LogLines: "stored line 1\nstored line 2",
	}
	if err := buildRepo.SaveProcess(context.Background(), bp); err != nil {
		t.Fatal(err)
	}

	logs, err := svc.BuildLogs(context.Background(), "env-1", "bp-1")
	if err != nil {
		t.Fatal(err)
	}
	if logs != "stored line 1\nstored line 2" {
		t.Errorf("logs = %q", logs)
	}
	if querier.called {
		t.Error("backend should not be queried when stored lines exist")
	}
}

func TestBuildLogsFallbackChain(t *testing.T) {
	querier := &fakeQuerier{buildLogs: "backend build log"}
	svc, buildRepo := newLogFixture(t, &fakeWatcher{logsErr: errors.New("pod gone")}, querier)

	bp := &domain.BuildProcess{ID: "bp-1", PodName: "slug-bkapp-demo-stag", Status: domain.BuildFailed}
	if err := buildRepo.SaveProcess(context.Background(), bp); err != nil {
		t.Fatal(err)
	}

	logs, err := svc.BuildLogs(context.Background(), "env-1", "bp-1")
	if err != nil {
		t.Fatal(err)
	}
	if logs != "backend build log" {
		t.Errorf("logs = %q", logs)
	}
}

func TestInstanceLogsTailCap(t *testing.T) {
	// tailLines 超上限时收敛到 10000，由 watcher 侧兜底断言
	watcher := &fakeWatcher{logs: "ok"}
	svc, _ := newLogFixture(t, watcher, &fakeQuerier{})

	if _, err := svc.InstanceLogs(context.Background(), "env-1", "web-abc", 50000, false); err != nil {
		t.Fatal(err)
	}
}
