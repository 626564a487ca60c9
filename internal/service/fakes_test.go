package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/bkapp"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// 本文件是 service 包测试共用的内存版 port 实现。

type fakeAppRepo struct {
	mu   sync.Mutex
	apps map[string]*domain.Application
}

func newFakeAppRepo() *fakeAppRepo {
	return &fakeAppRepo{apps: map[string]*domain.Application{}}
}

func (r *fakeAppRepo) Save(_ context.Context, app *domain.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[app.Code]; ok {
		return domain.ErrAlreadyExists
	}
	r.apps[app.Code] = app
	return nil
}

func (r *fakeAppRepo) FindByCode(_ context.Context, code string) (*domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[code]
	if !ok {
		return nil, domain.ErrAppNotFound
	}
	return app, nil
}

func (r *fakeAppRepo) FindAll(_ context.Context) ([]*domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Application
	for _, app := range r.apps {
		out = append(out, app)
	}
	return out, nil
}

type fakeModuleRepo struct {
	mu      sync.Mutex
	modules map[string]*domain.Module
}

func newFakeModuleRepo() *fakeModuleRepo {
	return &fakeModuleRepo{modules: map[string]*domain.Module{}}
}

func (r *fakeModuleRepo) Save(_ context.Context, m *domain.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.ID] = m
	return nil
}

func (r *fakeModuleRepo) FindByID(_ context.Context, id string) (*domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[id]
	if !ok {
		return nil, domain.ErrModuleNotFound
	}
	return m, nil
}

func (r *fakeModuleRepo) FindByAppAndName(_ context.Context, appCode, name string) (*domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.modules {
		if m.AppCode == appCode && m.Name == name {
			return m, nil
		}
	}
	return nil, domain.ErrModuleNotFound
}

func (r *fakeModuleRepo) FindByApp(_ context.Context, appCode string) ([]*domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Module
	for _, m := range r.modules {
		if m.AppCode == appCode {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeEnvRepo struct {
	mu   sync.Mutex
	envs map[string]*domain.ModuleEnvironment
}

func newFakeEnvRepo() *fakeEnvRepo {
	return &fakeEnvRepo{envs: map[string]*domain.ModuleEnvironment{}}
}

func (r *fakeEnvRepo) Save(_ context.Context, env *domain.ModuleEnvironment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs[env.ID] = env
	return nil
}

func (r *fakeEnvRepo) FindByID(_ context.Context, id string) (*domain.ModuleEnvironment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.envs[id]
	if !ok {
		return nil, domain.ErrEnvNotFound
	}
	return env, nil
}

func (r *fakeEnvRepo) FindByModuleAndEnv(_ context.Context, moduleID string, env domain.Environment) (*domain.ModuleEnvironment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.envs {
		if e.ModuleID == moduleID && e.Environment == env {
			return e, nil
		}
	}
	return nil, domain.ErrEnvNotFound
}

func (r *fakeEnvRepo) FindByApp(_ context.Context, appCode string) ([]*domain.ModuleEnvironment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ModuleEnvironment
	for _, e := range r.envs {
		if e.AppCode == appCode {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeDeployRepo struct {
	mu          sync.Mutex
	deployments map[string]*domain.Deployment
}

func newFakeDeployRepo() *fakeDeployRepo {
	return &fakeDeployRepo{deployments: map[string]*domain.Deployment{}}
}

func (r *fakeDeployRepo) Save(_ context.Context, d *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *d
	r.deployments[d.ID] = &copied
	return nil
}

func (r *fakeDeployRepo) Update(ctx context.Context, d *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *d
	r.deployments[d.ID] = &copied
	return nil
}

func (r *fakeDeployRepo) FindByID(_ context.Context, id string) (*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deployments[id]
	if !ok {
		return nil, domain.ErrDeploymentNotFound
	}
	copied := *d
	return &copied, nil
}

func (r *fakeDeployRepo) FindLatest(_ context.Context, environmentID string) (*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Deployment
	for _, d := range r.deployments {
		if d.EnvironmentID != environmentID {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			latest = d
		}
	}
	if latest == nil {
		return nil, domain.ErrDeploymentNotFound
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeDeployRepo) FindLatestSuccessful(ctx context.Context, environmentID string) (*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Deployment
	for _, d := range r.deployments {
		if d.EnvironmentID != environmentID || d.Status != domain.DeployStatusSuccessful {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			latest = d
		}
	}
	if latest == nil {
		return nil, domain.ErrDeploymentNotFound
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeDeployRepo) ListByEnvironment(_ context.Context, environmentID string, limit int) ([]*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Deployment
	for _, d := range r.deployments {
		if d.EnvironmentID == environmentID {
			copied := *d
			out = append(out, &copied)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeBuildRepo struct {
	mu        sync.Mutex
	processes map[string]*domain.BuildProcess
	builds    map[string]*domain.Build
}

func newFakeBuildRepo() *fakeBuildRepo {
	return &fakeBuildRepo{
		processes: map[string]*domain.BuildProcess{},
		builds:    map[string]*domain.Build{},
	}
}

func (r *fakeBuildRepo) SaveProcess(_ context.Context, bp *domain.BuildProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *bp
	r.processes[bp.ID] = &copied
	return nil
}

func (r *fakeBuildRepo) UpdateProcess(ctx context.Context, bp *domain.BuildProcess) error {
	return r.SaveProcess(ctx, bp)
}

func (r *fakeBuildRepo) FindProcessByID(_ context.Context, id string) (*domain.BuildProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.processes[id]
	if !ok {
		return nil, domain.ErrBuildNotFound
	}
	copied := *bp
	return &copied, nil
}

func (r *fakeBuildRepo) SaveBuild(_ context.Context, b *domain.Build) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds[b.ID] = b
	return nil
}

func (r *fakeBuildRepo) FindBuildByID(_ context.Context, id string) (*domain.Build, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.builds[id]
	if !ok {
		return nil, domain.ErrBuildNotFound
	}
	return b, nil
}

func (r *fakeBuildRepo) ListImageTags(_ context.Context, engineAppID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.builds {
		if b.EngineAppID == engineAppID {
			out = append(out, b.Image)
		}
	}
	return out, nil
}

type fakeReleaseRepo struct {
	mu       sync.Mutex
	releases map[string]*domain.Release
}

func newFakeReleaseRepo() *fakeReleaseRepo {
	return &fakeReleaseRepo{releases: map[string]*domain.Release{}}
}

func (r *fakeReleaseRepo) Save(_ context.Context, rel *domain.Release) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases[rel.ID] = rel
	return nil
}

func (r *fakeReleaseRepo) FindByID(_ context.Context, id string) (*domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, ok := r.releases[id]
	if !ok {
		return nil, domain.ErrReleaseNotFound
	}
	return rel, nil
}

func (r *fakeReleaseRepo) NextVersion(_ context.Context, engineAppID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, rel := range r.releases {
		if rel.EngineAppID == engineAppID && rel.Version > max {
			max = rel.Version
		}
	}
	return max + 1, nil
}

type fakeRevisionRepo struct {
	mu        sync.Mutex
	revisions map[string]*port.BkAppRevision
}

func newFakeRevisionRepo() *fakeRevisionRepo {
	return &fakeRevisionRepo{revisions: map[string]*port.BkAppRevision{}}
}

func (r *fakeRevisionRepo) Save(_ context.Context, rev *port.BkAppRevision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revisions[rev.ID] = rev
	return nil
}

func (r *fakeRevisionRepo) FindByID(_ context.Context, id string) (*port.BkAppRevision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rev, ok := r.revisions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rev, nil
}

type fakeProcessRepo struct {
	mu        sync.Mutex
	processes map[string]*domain.Process // key: moduleID/name
	overlays  map[string]*domain.ProcessSpecEnvOverlay
}

func newFakeProcessRepo() *fakeProcessRepo {
	return &fakeProcessRepo{
		processes: map[string]*domain.Process{},
		overlays:  map[string]*domain.ProcessSpecEnvOverlay{},
	}
}

func (r *fakeProcessRepo) Save(_ context.Context, p *domain.Process) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[p.ModuleID+"/"+p.Name] = p
	return nil
}

func (r *fakeProcessRepo) FindByModule(_ context.Context, moduleID string) ([]*domain.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Process
	for _, p := range r.processes {
		if p.ModuleID == moduleID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeProcessRepo) FindByModuleAndName(_ context.Context, moduleID, name string) (*domain.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[moduleID+"/"+name]
	if !ok {
		return nil, domain.ErrProcessNotFound
	}
	return p, nil
}

func (r *fakeProcessRepo) FindOverlays(_ context.Context, moduleID string) ([]*domain.ProcessSpecEnvOverlay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ProcessSpecEnvOverlay
	for key, o := range r.overlays {
		if len(key) > len(moduleID) && key[:len(moduleID)] == moduleID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeProcessRepo) SaveOverlay(_ context.Context, moduleID string, o *domain.ProcessSpecEnvOverlay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlays[fmt.Sprintf("%s/%s/%s", moduleID, o.ProcessName, o.Environment)] = o
	return nil
}

type fakeConfigVarRepo struct {
	mu   sync.Mutex
	vars map[string][]*domain.ConfigVar
}

func newFakeConfigVarRepo() *fakeConfigVarRepo {
	return &fakeConfigVarRepo{vars: map[string][]*domain.ConfigVar{}}
}

func (r *fakeConfigVarRepo) Save(_ context.Context, moduleID string, v *domain.ConfigVar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.vars[moduleID] {
		if existing.Key == v.Key && existing.Environment == v.Environment {
			r.vars[moduleID][i] = v
			return nil
		}
	}
	r.vars[moduleID] = append(r.vars[moduleID], v)
	return nil
}

func (r *fakeConfigVarRepo) FindByModule(_ context.Context, moduleID string, env domain.Environment) ([]*domain.ConfigVar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ConfigVar
	for _, v := range r.vars[moduleID] {
		if v.Environment == "" || v.Environment == env {
			out = append(out, v)
		}
	}
	return out, nil
}

type fakeMountRepo struct {
	mu     sync.Mutex
	mounts map[string][]*domain.Mount
}

func newFakeMountRepo() *fakeMountRepo {
	return &fakeMountRepo{mounts: map[string][]*domain.Mount{}}
}

func (r *fakeMountRepo) Save(_ context.Context, moduleID string, m *domain.Mount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts[moduleID] = append(r.mounts[moduleID], m)
	return nil
}

func (r *fakeMountRepo) FindByModule(_ context.Context, moduleID string) ([]*domain.Mount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mounts[moduleID], nil
}

type fakeHookRepo struct {
	mu    sync.Mutex
	hooks map[string]*domain.DeployHook
}

func newFakeHookRepo() *fakeHookRepo {
	return &fakeHookRepo{hooks: map[string]*domain.DeployHook{}}
}

func (r *fakeHookRepo) Save(_ context.Context, h *domain.DeployHook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[h.ModuleID] = h
	return nil
}

func (r *fakeHookRepo) FindByModule(_ context.Context, moduleID string) (*domain.DeployHook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[moduleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return h, nil
}

// fakeCoordinator 用单进程内存状态模拟 Redis 协调器。
type fakeCoordinator struct {
	mu      sync.Mutex
	locked  map[string]bool
	current map[string]string
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{locked: map[string]bool{}, current: map[string]string{}}
}

func (c *fakeCoordinator) Acquire(_ context.Context, envID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked[envID] {
		return false, nil
	}
	c.locked[envID] = true
	return true, nil
}

func (c *fakeCoordinator) SetDeployment(_ context.Context, envID, deploymentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current[envID] = deploymentID
	return nil
}

func (c *fakeCoordinator) GetCurrent(_ context.Context, envID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current[envID], nil
}

func (c *fakeCoordinator) Release(_ context.Context, envID, expected string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if expected != "" && c.current[envID] != "" && c.current[envID] != expected {
		return domain.ErrStaleDeployment
	}
	delete(c.locked, envID)
	delete(c.current, envID)
	return nil
}

func (c *fakeCoordinator) UpdatePollingTime(_ context.Context, envID string) error { return nil }

func (c *fakeCoordinator) isLocked(envID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked[envID]
}

// fakeStream 收集发布的事件供断言。
type fakeStream struct {
	mu     sync.Mutex
	events map[string][]domain.StreamEvent
	closed map[string]bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: map[string][]domain.StreamEvent{}, closed: map[string]bool{}}
}

func (s *fakeStream) Publish(_ context.Context, deploymentID string, event domain.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[deploymentID] = append(s.events[deploymentID], event)
	return nil
}

func (s *fakeStream) Subscribe(_ context.Context, deploymentID string) (<-chan domain.StreamEvent, func(), error) {
	ch := make(chan domain.StreamEvent)
	close(ch)
	return ch, func() {}, nil
}

func (s *fakeStream) CloseStream(_ context.Context, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[deploymentID] = true
	return nil
}

func (s *fakeStream) eventsOf(deploymentID string) []domain.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StreamEvent(nil), s.events[deploymentID]...)
}

// fakeApplier 记录 Apply 的资源；Get 可按需回放就绪状态。
type fakeApplier struct {
	mu      sync.Mutex
	applied *bkapp.BkApp
	// getFn 非空时接管 Get 的返回。
	getFn func(namespace, name string) (*bkapp.BkApp, error)
}

func (a *fakeApplier) Apply(_ context.Context, namespace string, res *bkapp.BkApp) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = res
	return nil
}

func (a *fakeApplier) Get(_ context.Context, namespace, name string) (*bkapp.BkApp, error) {
	a.mu.Lock()
	fn := a.getFn
	applied := a.applied
	a.mu.Unlock()
	// 锁外调用 getFn，回调里允许再进 lastApplied。
	if fn != nil {
		return fn(namespace, name)
	}
	if applied == nil {
		return nil, domain.ErrNotFound
	}
	return applied, nil
}

func (a *fakeApplier) EnsureNamespace(_ context.Context, namespace string, _ time.Duration) error {
	return nil
}

func (a *fakeApplier) lastApplied() *bkapp.BkApp {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

// fakeExecutor 按预置脚本回放构建 Pod 的状态序列。
type fakeExecutor struct {
	mu          sync.Mutex
	launched    *port.BuildTask
	interrupted bool
	statuses    []*port.BuildPodStatus
	cursor      int
}

func (e *fakeExecutor) Launch(_ context.Context, task *port.BuildTask) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launched = task
	return nil
}

func (e *fakeExecutor) Poll(_ context.Context, namespace, podName string) (*port.BuildPodStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.statuses) == 0 {
		return &port.BuildPodStatus{Phase: "Running"}, nil
	}
	status := e.statuses[e.cursor]
	if e.cursor < len(e.statuses)-1 {
		e.cursor++
	}
	return status, nil
}

func (e *fakeExecutor) Interrupt(_ context.Context, namespace, podName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interrupted = true
	return nil
}

type fakeController struct {
	mu       sync.Mutex
	deployed bool
	scaled   map[string]int32
	shutdown map[string]bool
}

func newFakeController() *fakeController {
	return &fakeController{scaled: map[string]int32{}, shutdown: map[string]bool{}}
}

func (c *fakeController) Deploy(_ context.Context, _ *domain.EngineApp, _ []*domain.Process, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deployed = true
	return nil
}

func (c *fakeController) Scale(_ context.Context, config port.ProcessConfig, replicas int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scaled[config.ProcessType] = replicas
	return nil
}

func (c *fakeController) Shutdown(_ context.Context, config port.ProcessConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown[config.ProcessType] = true
	return nil
}

func (c *fakeController) Restart(_ context.Context, _ port.ProcessConfig) error { return nil }

func (c *fakeController) RestartInstance(_ context.Context, _, _ string) error { return nil }

func (c *fakeController) Delete(_ context.Context, _ port.ProcessConfig, _ bool) error { return nil }

func (c *fakeController) DeleteGracefully(_ context.Context, _ port.ProcessConfig) error { return nil }

type fakeWatcher struct {
	info    *domain.ProcessesInfo
	logs    string
	logsErr error
}

func (w *fakeWatcher) ListProcesses(_ context.Context, _ *domain.EngineApp) (*domain.ProcessesInfo, error) {
	return w.info, nil
}

func (w *fakeWatcher) Watch(_ context.Context, _ *domain.EngineApp, _, _ string, _ time.Duration) (<-chan domain.ProcessWatchEvent, error) {
	ch := make(chan domain.ProcessWatchEvent)
	close(ch)
	return ch, nil
}

func (w *fakeWatcher) InstanceLogs(_ context.Context, _, _ string, _ int64, _ bool) (string, error) {
	return w.logs, w.logsErr
}

type fakeBlobStore struct{}

func (fakeBlobStore) Upload(_ context.Context, _, _ string) error { return nil }

func (fakeBlobStore) SignDownload(_ context.Context, destPath string, _ time.Duration) (string, error) {
	return "https://signed.example.com/" + destPath, nil
}

type fakePackager struct{}

func (fakePackager) PackageAndUpload(_ context.Context, ea *domain.EngineApp, version domain.VersionInfo, _ string) (string, error) {
	return fmt.Sprintf("%s/home/%s:%s:%s/tar", ea.Region, ea.Name, version.VersionName, version.Revision), nil
}

// fakeAddonRepo 是 AddonRepository 的全内存实现。
type fakeAddonRepo struct {
	mu sync.Mutex

	services    map[string]*domain.AddonService
	plans       map[string][]*domain.AddonPlan
	policies    map[string]*domain.BindingPolicy
	moduleAtts  []*domain.ServiceModuleAttachment
	engineAtts  map[string]*domain.ServiceEngineAppAttachment
	instances   map[string]*domain.ServiceInstance
	unbound     map[string]*domain.UnboundServiceEngineAppAttachment
}

func newFakeAddonRepo() *fakeAddonRepo {
	return &fakeAddonRepo{
		services:   map[string]*domain.AddonService{},
		plans:      map[string][]*domain.AddonPlan{},
		policies:   map[string]*domain.BindingPolicy{},
		engineAtts: map[string]*domain.ServiceEngineAppAttachment{},
		instances:  map[string]*domain.ServiceInstance{},
		unbound:    map[string]*domain.UnboundServiceEngineAppAttachment{},
	}
}

func (r *fakeAddonRepo) FindService(_ context.Context, serviceID string) (*domain.AddonService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[serviceID]
	if !ok {
		return nil, domain.ErrServiceNotFound
	}
	return svc, nil
}

func (r *fakeAddonRepo) FindServiceByName(_ context.Context, name string) (*domain.AddonService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, svc := range r.services {
		if svc.Name == name {
			return svc, nil
		}
	}
	return nil, domain.ErrServiceNotFound
}

func (r *fakeAddonRepo) FindPlans(_ context.Context, serviceID string) ([]*domain.AddonPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plans[serviceID], nil
}

func (r *fakeAddonRepo) FindBindingPolicy(_ context.Context, serviceID string) (*domain.BindingPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	policy, ok := r.policies[serviceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return policy, nil
}

func (r *fakeAddonRepo) SaveModuleAttachment(_ context.Context, a *domain.ServiceModuleAttachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moduleAtts = append(r.moduleAtts, a)
	return nil
}

func (r *fakeAddonRepo) FindModuleAttachments(_ context.Context, moduleID string) ([]*domain.ServiceModuleAttachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ServiceModuleAttachment
	for _, a := range r.moduleAtts {
		if a.ModuleID == moduleID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAddonRepo) SaveEngineAppAttachment(_ context.Context, a *domain.ServiceEngineAppAttachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engineAtts[a.ID] = a
	return nil
}

func (r *fakeAddonRepo) UpdateEngineAppAttachment(ctx context.Context, a *domain.ServiceEngineAppAttachment) error {
	return r.SaveEngineAppAttachment(ctx, a)
}

func (r *fakeAddonRepo) DeleteEngineAppAttachment(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engineAtts, id)
	return nil
}

func (r *fakeAddonRepo) FindEngineAppAttachments(_ context.Context, engineAppID string) ([]*domain.ServiceEngineAppAttachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ServiceEngineAppAttachment
	for _, a := range r.engineAtts {
		if a.EngineAppID == engineAppID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAddonRepo) SaveInstance(_ context.Context, inst *domain.ServiceInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
	return nil
}

func (r *fakeAddonRepo) FindInstance(_ context.Context, id string) (*domain.ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return inst, nil
}

func (r *fakeAddonRepo) SaveUnboundAttachment(_ context.Context, u *domain.UnboundServiceEngineAppAttachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbound[u.ID] = u
	return nil
}

func (r *fakeAddonRepo) FindPendingUnbound(_ context.Context, limit int) ([]*domain.UnboundServiceEngineAppAttachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.UnboundServiceEngineAppAttachment
	for _, u := range r.unbound {
		if u.RecycledAt == nil {
			out = append(out, u)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeAddonRepo) MarkUnboundRecycled(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.unbound[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	u.RecycledAt = &now
	return nil
}

// fakeProvisioner 产出固定凭据的实例。
type fakeProvisioner struct {
	mu       sync.Mutex
	seq      int
	recycled []string
	creds    map[string]string
	err      error
}

func (p *fakeProvisioner) Provision(_ context.Context, svc *domain.AddonService, plan *domain.AddonPlan, _ *domain.EngineApp) (*domain.ServiceInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.seq++
	creds := p.creds
	if creds == nil {
		creds = map[string]string{"HOST": fmt.Sprintf("host-%d", p.seq)}
	}
	return &domain.ServiceInstance{
		ID:          fmt.Sprintf("inst-%s-%d", svc.Name, p.seq),
		ServiceID:   svc.ID,
		PlanID:      plan.ID,
		Credentials: creds,
		CreateTime:  time.Now().Add(time.Duration(p.seq) * time.Millisecond),
	}, nil
}

func (p *fakeProvisioner) Recycle(_ context.Context, _ *domain.AddonService, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.recycled = append(p.recycled, instanceID)
	return nil
}

type fakeIngress struct {
	mu      sync.Mutex
	synced  []port.AppDomain
	deleted []string
}

func (i *fakeIngress) Sync(_ context.Context, _ *domain.EngineApp, domains []port.AppDomain) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.synced = append(i.synced, domains...)
	return nil
}

func (i *fakeIngress) Delete(_ context.Context, _ *domain.EngineApp, host string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deleted = append(i.deleted, host)
	return nil
}

func (i *fakeIngress) syncedHosts() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	hosts := make([]string, 0, len(i.synced))
	for _, d := range i.synced {
		hosts = append(hosts, d.Host)
	}
	return hosts
}
