package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/adapter/kubernetes"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/bkapp"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// errInterrupted 标记用户中断，run 循环据此写 interrupted 终态。
var errInterrupted = errors.New("deployment interrupted by user")

// DeployConfig 汇集部署流水线的可调参数，默认值见 config 包。
type DeployConfig struct {
	SlugBuilderImage string
	KanikoImage      string
	ImageRepoPrefix  string
	ImagePullPolicy  string

	RegistryMirrors         string
	SkipTLSVerifyRegistries string
	DefaultBuildpacks       []domain.BuildpackInfo

	// RootDomain 为空时不托管访问入口。
	RootDomain string
	// LogCollectorType 写入 BkApp 注解，ELK / BK_LOG。
	LogCollectorType string

	PollInterval     time.Duration
	MaxBuildDuration time.Duration
	ReleaseTimeout   time.Duration
	SourceURLTTL     time.Duration
	SATimeout        time.Duration
}

// DeployService 驱动 Preparation → Build → Release 三阶段流水线。
// 每环境同一时刻只允许一个活跃部署，由 Coordinator 互斥。
type DeployService struct {
	appRepo       port.ApplicationRepository
	moduleRepo    port.ModuleRepository
	envRepo       port.EnvironmentRepository
	deployRepo    port.DeploymentRepository
	buildRepo     port.BuildRepository
	releaseRepo   port.ReleaseRepository
	revisionRepo  port.RevisionRepository
	processRepo   port.ProcessRepository
	configVarRepo port.ConfigVarRepository
	mountRepo     port.MountRepository
	hookRepo      port.HookRepository

	coordinator port.Coordinator
	stream      port.EventStream
	blobStore   port.BlobStore
	packager    port.SourcePackager
	executor    port.BuildExecutor
	applier     port.BkAppApplier
	controller  port.ProcessController
	ingress     port.IngressManager
	addons      *AddonService
	importer    *ImportService

	cfg DeployConfig
}

func NewDeployService(
	appRepo port.ApplicationRepository,
	moduleRepo port.ModuleRepository,
	envRepo port.EnvironmentRepository,
	deployRepo port.DeploymentRepository,
	buildRepo port.BuildRepository,
	releaseRepo port.ReleaseRepository,
	revisionRepo port.RevisionRepository,
	processRepo port.ProcessRepository,
	configVarRepo port.ConfigVarRepository,
	mountRepo port.MountRepository,
	hookRepo port.HookRepository,
	coordinator port.Coordinator,
	stream port.EventStream,
	blobStore port.BlobStore,
	packager port.SourcePackager,
	executor port.BuildExecutor,
	applier port.BkAppApplier,
	controller port.ProcessController,
	ingress port.IngressManager,
	addons *AddonService,
	importer *ImportService,
	cfg DeployConfig,
) *DeployService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxBuildDuration <= 0 {
		cfg.MaxBuildDuration = 15 * time.Minute
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Minute
	}
	if cfg.SourceURLTTL <= 0 {
		cfg.SourceURLTTL = 30 * time.Minute
	}
	if cfg.SATimeout <= 0 {
		cfg.SATimeout = 15 * time.Second
	}
	if cfg.ImagePullPolicy == "" {
		cfg.ImagePullPolicy = "IfNotPresent"
	}
	return &DeployService{
		appRepo: appRepo, moduleRepo: moduleRepo, envRepo: envRepo,
		deployRepo: deployRepo, buildRepo: buildRepo, releaseRepo: releaseRepo,
		revisionRepo: revisionRepo, processRepo: processRepo,
		configVarRepo: configVarRepo, mountRepo: mountRepo, hookRepo: hookRepo,
		coordinator: coordinator, stream: stream, blobStore: blobStore,
		packager: packager, executor: executor, applier: applier,
		controller: controller, ingress: ingress, addons: addons, importer: importer,
		cfg: cfg,
	}
}

// DeployRequest 是一次部署的输入。Manifest 非空时先导入描述文件。
type DeployRequest struct {
	Operator  string                 `json:"operator"`
	Version   domain.VersionInfo     `json:"version"`
	Manifest  []byte                 `json:"manifest,omitempty"`
	SourceDir string                 `json:"-"`
	Options   domain.AdvancedOptions `json:"advanced_options"`
}

// CreateDeployment 抢锁并登记一次新部署，流水线异步执行。
// 锁被占用时返回 ErrDeployInProgress，调用方映射为 409。
func (s *DeployService) CreateDeployment(ctx context.Context, environmentID string, req DeployRequest) (*domain.Deployment, error) {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	if env.IsOfflined {
		return nil, domain.ErrEnvOfflined
	}

	acquired, err := s.coordinator.Acquire(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, domain.ErrDeployInProgress
	}

	now := time.Now()
	d := &domain.Deployment{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		AppCode:       env.AppCode,
		ModuleName:    env.ModuleName,
		Environment:   env.Environment,
		Operator:      req.Operator,
		Version:       req.Version,
		Status:        domain.DeployStatusPending,
		Options:       req.Options,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.deployRepo.Save(ctx, d); err != nil {
		_ = s.coordinator.Release(ctx, environmentID, "")
		return nil, err
	}
	if err := s.coordinator.SetDeployment(ctx, environmentID, d.ID); err != nil {
		_ = s.coordinator.Release(ctx, environmentID, "")
		return nil, err
	}

	go s.run(d, env, req)
	return d, nil
}

// run 在独立 goroutine 里执行完整流水线并落终态。
func (s *DeployService) run(d *domain.Deployment, env *domain.ModuleEnvironment, req DeployRequest) {
	ctx := context.Background()
	err := s.execute(ctx, d, env, req)
	s.finish(ctx, d, env, err)
}

func (s *DeployService) execute(ctx context.Context, d *domain.Deployment, env *domain.ModuleEnvironment, req DeployRequest) error {
	module, err := s.moduleRepo.FindByID(ctx, env.ModuleID)
	if err != nil {
		return err
	}
	app, err := s.appRepo.FindByCode(ctx, env.AppCode)
	if err != nil {
		return err
	}

	s.publishTitle(ctx, d.ID, "准备阶段")
	tarPath, err := s.preparation(ctx, d, env, module, app, req)
	if err != nil {
		return err
	}

	s.publishTitle(ctx, d.ID, "构建阶段")
	image, err := s.build(ctx, d, env, module, tarPath)
	if err != nil {
		return err
	}
	if req.Options.BuildOnly {
		s.publishMessage(ctx, d.ID, "仅构建模式：跳过发布阶段", "STDOUT")
		return nil
	}

	s.publishTitle(ctx, d.ID, "发布阶段")
	return s.release(ctx, d, env, module, app, image)
}

// preparation 执行同步准备：导入描述文件、固化 BkApp revision、
// 打包上传源码、供给增强服务。返回源码包路径（镜像部署为空）。
func (s *DeployService) preparation(ctx context.Context, d *domain.Deployment, env *domain.ModuleEnvironment, module *domain.Module, app *domain.Application, req DeployRequest) (string, error) {
	if len(req.Manifest) > 0 {
		s.publishMessage(ctx, d.ID, "解析应用描述文件", "STDOUT")
		if _, err := s.importer.ImportManifest(ctx, module, []*domain.EngineApp{env.EngineApp}, req.Manifest); err != nil {
			return "", domain.AbortDeploy("应用描述文件不合法", err)
		}
	}

	if app.IsCloudNative() {
		rev, err := s.persistRevision(ctx, d, env, module, app)
		if err != nil {
			return "", err
		}
		d.BkAppRevisionID = rev.ID
		if err := s.deployRepo.Update(ctx, d); err != nil {
			return "", err
		}
	}

	tarPath := ""
	if req.SourceDir != "" && d.Version.VersionType != domain.VersionImage {
		s.publishMessage(ctx, d.ID, "上传仓库代码", "STDOUT")
		path, err := s.packager.PackageAndUpload(ctx, env.EngineApp, d.Version, req.SourceDir)
		if err != nil {
			return "", domain.AbortDeploy("源码打包上传失败", err)
		}
		tarPath = path
	}

	s.publishMessage(ctx, d.ID, "配置资源实例", "STDOUT")
	if err := s.addons.ProvisionEnv(ctx, env.EngineApp); err != nil {
		return "", domain.AbortDeploy("增强服务实例配置失败", err)
	}
	return tarPath, nil
}

// persistRevision 渲染 BkApp 并固化一条 manifest 记录。
func (s *DeployService) persistRevision(ctx context.Context, d *domain.Deployment, env *domain.ModuleEnvironment, module *domain.Module, app *domain.Application) (*port.BkAppRevision, error) {
	res, _, err := s.renderBkApp(ctx, d.ID, env, module, app)
	if err != nil {
		return nil, err
	}
	// manifest 以 YAML 存档，和集群里 kubectl get -o yaml 的形态一致。
	manifest, err := sigsyaml.Marshal(res)
	if err != nil {
		return nil, err
	}
	rev := &port.BkAppRevision{
		ID:       uuid.NewString(),
		ModuleID: module.ID,
		Manifest: string(manifest),
	}
	if err := s.revisionRepo.Save(ctx, rev); err != nil {
		return nil, err
	}
	return rev, nil
}

// build 启动 slug Pod 并轮询到终态，产出镜像引用。
// 镜像部署直接返回模块镜像仓库 + 版本 tag。
func (s *DeployService) build(ctx context.Context, d *domain.Deployment, env *domain.ModuleEnvironment, module *domain.Module, tarPath string) (string, error) {
	ea := env.EngineApp
	if d.Version.VersionType == domain.VersionImage {
		return fmt.Sprintf("%s:%s", module.SourceRepoURL, d.Version.VersionName), nil
	}
	if tarPath == "" {
		return "", domain.AbortDeploy("没有可构建的源码包", nil)
	}

	sourceURL, err := s.blobStore.SignDownload(ctx, tarPath, s.cfg.SourceURLTTL)
	if err != nil {
		return "", domain.AbortDeploy("签发源码下载地址失败", err)
	}

	destImage := fmt.Sprintf("%s/%s:%s", s.cfg.ImageRepoPrefix, ea.Name, d.Version.Revision)
	runtime := kubernetes.RuntimeDockerfile
	builderImage := s.cfg.KanikoImage
	var buildpacks []domain.BuildpackInfo
	if module.BuildpackRuntime {
		runtime = kubernetes.RuntimeBuildpack
		builderImage = s.cfg.SlugBuilderImage
		buildpacks = s.cfg.DefaultBuildpacks
	}

	now := time.Now()
	bp := &domain.BuildProcess{
		ID:            uuid.NewString(),
		Owner:         d.Operator,
		EngineAppID:   ea.ID,
		DeploymentID:  d.ID,
		BuilderImage:  builderImage,
		SourceTarPath: tarPath,
		Version:       d.Version,
		Buildpacks:    buildpacks,
		Status:        domain.BuildPending,
		PodName:       "slug-" + ea.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.buildRepo.SaveProcess(ctx, bp); err != nil {
		return "", err
	}
	d.BuildProcessID = bp.ID
	if err := s.deployRepo.Update(ctx, d); err != nil {
		return "", err
	}

	if err := s.applier.EnsureNamespace(ctx, ea.Namespace, s.cfg.SATimeout); err != nil {
		return "", domain.AbortDeploy("初始化命名空间失败", err)
	}

	envVars, err := s.buildEnvVars(ctx, env, module)
	if err != nil {
		return "", err
	}
	task := &port.BuildTask{
		PodName:      bp.PodName,
		Namespace:    ea.Namespace,
		BuilderImage: builderImage,
		Runtime:      runtime,
		SourceTarURL: sourceURL,
		DestImage:    destImage,
		Buildpacks:   buildpacks,
		Envs:         envVars,
	}
	if !module.BuildpackRuntime {
		task.DockerfilePath = "Dockerfile"
		task.BuildArgs = map[string]string{}
	}
	if s.cfg.RegistryMirrors != "" {
		task.Envs["REGISTRY_MIRRORS"] = s.cfg.RegistryMirrors
	}
	if s.cfg.SkipTLSVerifyRegistries != "" {
		task.Envs["SKIP_TLS_VERIFY_REGISTRIES"] = s.cfg.SkipTLSVerifyRegistries
	}

	if err := s.executor.Launch(ctx, task); err != nil {
		var dup *kubernetes.ResourceDuplicate
		if errors.As(err, &dup) {
			return "", domain.AbortDeploy("已有进行中的构建任务", err)
		}
		return "", domain.AbortDeploy("创建构建任务失败", err)
	}

	return s.pollBuild(ctx, d, env, bp, destImage)
}

// pollBuild 每个轮询周期读取构建 Pod 状态：推进步骤正则、刷新心跳、
// 响应中断标记。瞬时错误最多容忍 10 次。
func (s *DeployService) pollBuild(ctx context.Context, d *domain.Deployment, env *domain.ModuleEnvironment, bp *domain.BuildProcess, destImage string) (string, error) {
	phase := &domain.DeployPhase{
		DeploymentID: d.ID,
		Type:         domain.PhaseBuild,
		Steps:        domain.DefaultPhaseSteps(domain.PhaseBuild),
	}
	deadline := time.Now().Add(s.cfg.MaxBuildDuration)
	seenLines := 0
	transientFailures := 0

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}

		fresh, err := s.deployRepo.FindByID(ctx, d.ID)
		if err == nil && fresh.BuildIntRequestedAt != nil {
			s.interruptBuild(ctx, env, bp)
			return "", errInterrupted
		}

		status, err := s.executor.Poll(ctx, env.EngineApp.Namespace, bp.PodName)
		if err != nil {
			transientFailures++
			if transientFailures > 10 {
				s.markBuildFailed(ctx, bp, err.Error())
				return "", domain.AbortDeploy("构建状态轮询失败", err)
			}
			continue
		}
		transientFailures = 0

		for _, line := range status.LogLines[min(seenLines, len(status.LogLines)):] {
			s.advanceSteps(ctx, d.ID, phase, line)
			s.publishMessage(ctx, d.ID, line, "STDOUT")
		}
		seenLines = len(status.LogLines)

		if err := s.coordinator.UpdatePollingTime(ctx, d.EnvironmentID); err != nil {
			slog.Warn("refresh deploy heartbeat failed", "deployment_id", d.ID, "error", err)
		}

		switch status.Phase {
		case "Succeeded":
			return destImage, s.completeBuild(ctx, d, env, bp, destImage, status.LogLines)
		case "Failed":
			s.markBuildFailed(ctx, bp, joinLines(status.LogLines))
			return "", domain.AbortDeploy("构建失败", nil)
		}

		if time.Now().After(deadline) {
			_ = s.executor.Interrupt(ctx, env.EngineApp.Namespace, bp.PodName)
			s.markBuildFailed(ctx, bp, "build timed out")
			return "", domain.AbortDeploy("构建超时", nil)
		}
	}
}

func (s *DeployService) interruptBuild(ctx context.Context, env *domain.ModuleEnvironment, bp *domain.BuildProcess) {
	if err := s.executor.Interrupt(ctx, env.EngineApp.Namespace, bp.PodName); err != nil {
		slog.Warn("interrupt build pod failed", "pod", bp.PodName, "error", err)
	}
	bp.Status = domain.BuildInterrupted
	bp.UpdatedAt = time.Now()
	if err := s.buildRepo.UpdateProcess(ctx, bp); err != nil {
		slog.Error("update interrupted build process failed", "build_process_id", bp.ID, "error", err)
	}
}

func (s *DeployService) markBuildFailed(ctx context.Context, bp *domain.BuildProcess, detail string) {
	bp.Status = domain.BuildFailed
	bp.LogLines = detail
	bp.UpdatedAt = time.Now()
	if err := s.buildRepo.UpdateProcess(ctx, bp); err != nil {
		slog.Error("update failed build process failed", "build_process_id", bp.ID, "error", err)
	}
}

func (s *DeployService) completeBuild(ctx context.Context, d *domain.Deployment, env *domain.ModuleEnvironment, bp *domain.BuildProcess, destImage string, logLines []string) error {
	bp.Status = domain.BuildSuccessful
	bp.LogLines = joinLines(logLines)
	bp.UpdatedAt = time.Now()
	if err := s.buildRepo.UpdateProcess(ctx, bp); err != nil {
		return err
	}

	procfile, err := s.procfile(ctx, env)
	if err != nil {
		return err
	}
	build := &domain.Build{
		ID:              uuid.NewString(),
		BuildProcessID:  bp.ID,
		EngineAppID:     env.EngineApp.ID,
		Image:           destImage,
		Procfile:        procfile,
		BkAppRevisionID: d.BkAppRevisionID,
		CreatedAt:       time.Now(),
	}
	if err := s.buildRepo.SaveBuild(ctx, build); err != nil {
		return err
	}
	d.BuildID = build.ID
	return s.deployRepo.Update(ctx, d)
}

// release 下发应用模型并轮询就绪。云原生应用走 BkApp CR，
// 普通应用由进程控制器直接铺 Deployment。
func (s *DeployService) release(ctx context.Context, d *domain.Deployment, env *domain.ModuleEnvironment, module *domain.Module, app *domain.Application, image string) error {
	ea := env.EngineApp

	envVariables, err := s.releaseEnvVars(ctx, env, module, app)
	if err != nil {
		return err
	}
	procfile, err := s.procfile(ctx, env)
	if err != nil {
		return err
	}
	version, err := s.releaseRepo.NextVersion(ctx, ea.ID)
	if err != nil {
		return err
	}
	rel := &domain.Release{
		ID:              uuid.NewString(),
		EngineAppID:     ea.ID,
		BuildID:         d.BuildID,
		DeploymentID:    d.ID,
		Version:         version,
		EnvVariables:    envVariables,
		Procfile:        procfile,
		BkAppRevisionID: d.BkAppRevisionID,
		CreatedAt:       time.Now(),
	}
	if err := s.releaseRepo.Save(ctx, rel); err != nil {
		return err
	}
	d.ReleaseID = rel.ID
	if err := s.deployRepo.Update(ctx, d); err != nil {
		return err
	}

	if err := s.applier.EnsureNamespace(ctx, ea.Namespace, s.cfg.SATimeout); err != nil {
		return domain.AbortDeploy("初始化命名空间失败", err)
	}

	s.publishMessage(ctx, d.ID, "下发应用模型", "STDOUT")
	if !app.IsCloudNative() {
		processes, err := s.processRepo.FindByModule(ctx, env.ModuleID)
		if err != nil {
			return err
		}
		if err := s.controller.Deploy(ctx, ea, processes, image); err != nil {
			return domain.AbortDeploy("下发进程资源失败", err)
		}
		return s.syncIngress(ctx, env, module, app)
	}

	res, useCNB, err := s.renderBkApp(ctx, d.ID, env, module, app)
	if err != nil {
		return err
	}
	pullPolicy := s.cfg.ImagePullPolicy
	if d.Options.ImagePullPolicy != "" {
		pullPolicy = d.Options.ImagePullPolicy
	}
	kubernetes.ApplyForDeploy(res, image, pullPolicy, d.ID, true, useCNB)
	if err := s.applier.Apply(ctx, ea.Namespace, res); err != nil {
		return domain.AbortDeploy("下发应用模型失败", err)
	}

	s.publishMessage(ctx, d.ID, "检测部署结果", "STDOUT")
	if err := s.pollRelease(ctx, d, env, res.Name); err != nil {
		return err
	}
	return s.syncIngress(ctx, env, module, app)
}

// syncIngress 为 web 进程下发访问入口。
// 未配置根域、未接入 ingress 或模块没有 web 进程时跳过。
func (s *DeployService) syncIngress(ctx context.Context, env *domain.ModuleEnvironment, module *domain.Module, app *domain.Application) error {
	if s.ingress == nil || s.cfg.RootDomain == "" {
		return nil
	}
	processes, err := s.processRepo.FindByModule(ctx, env.ModuleID)
	if err != nil {
		return err
	}
	var web *domain.Process
	for _, proc := range processes {
		if proc.Name == "web" {
			web = proc
			break
		}
	}
	if web == nil {
		return nil
	}

	ea := env.EngineApp
	host, path := s.exposedEntry(env, module, app)
	appDomain := port.AppDomain{
		Host:          host,
		PathPrefixes:  []string{path},
		RewriteToRoot: path != "/",
		ServiceName:   kubernetes.MapperForVersion(ea.MapperVersion).Names(ea, web.Name).Service,
		ServicePort:   80,
	}

	if err := s.ingress.Sync(ctx, ea, []port.AppDomain{appDomain}); err != nil {
		return domain.AbortDeploy("访问入口配置失败", err)
	}
	return nil
}

// exposedEntry 计算模块环境的访问 host 与路径前缀。
// 子域名模式下 prod 默认模块直接用应用 code 作为子域。
func (s *DeployService) exposedEntry(env *domain.ModuleEnvironment, module *domain.Module, app *domain.Application) (host, path string) {
	if module.ExposedURLType == domain.ExposedSubdomain {
		host = env.EngineApp.Name + "." + s.cfg.RootDomain
		if env.Environment == domain.EnvProd && module.IsDefault() {
			host = app.Code + "." + s.cfg.RootDomain
		}
		return host, "/"
	}
	prefix := app.Code
	if !module.IsDefault() {
		prefix = app.Code + "--" + module.Name
	}
	if env.Environment != domain.EnvProd {
		prefix = string(env.Environment) + "--" + prefix
	}
	return s.cfg.RootDomain, "/" + prefix + "/"
}

// pollRelease 等 operator 回写：deploy-id 注解与本次部署一致，
// 且 AppAvailable 条件为 True。
func (s *DeployService) pollRelease(ctx context.Context, d *domain.Deployment, env *domain.ModuleEnvironment, name string) error {
	deadline := time.Now().Add(s.cfg.ReleaseTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}

		fresh, err := s.deployRepo.FindByID(ctx, d.ID)
		if err == nil && fresh.ReleaseIntRequestedAt != nil {
			// 中断不回滚：集群保持已下发状态。
			return errInterrupted
		}

		if err := s.coordinator.UpdatePollingTime(ctx, d.EnvironmentID); err != nil {
			slog.Warn("refresh deploy heartbeat failed", "deployment_id", d.ID, "error", err)
		}

		got, err := s.applier.Get(ctx, env.EngineApp.Namespace, name)
		if err != nil {
			if time.Now().After(deadline) {
				return domain.AbortDeploy("读取应用模型状态失败", err)
			}
			continue
		}

		if got.Annotations[bkapp.AnnotDeployID] == d.ID || got.Status.DeployID == d.ID {
			for _, cond := range got.Status.Conditions {
				if cond.Type != bkapp.AvailableCondition {
					continue
				}
				switch cond.Status {
				case metav1.ConditionTrue:
					return nil
				case metav1.ConditionFalse:
					// observedGeneration 落后时条件可能还是上一版的，继续等。
					if got.Status.ObservedGeneration >= got.Generation {
						return domain.AbortDeploy(fmt.Sprintf("应用未就绪: %s", cond.Message), nil)
					}
				}
			}
		}

		if time.Now().After(deadline) {
			return domain.AbortDeploy("检测部署结果超时", nil)
		}
	}
}

// finish 落终态：更新记录、发终止事件、释放环境锁。
func (s *DeployService) finish(ctx context.Context, d *domain.Deployment, env *domain.ModuleEnvironment, err error) {
	switch {
	case err == nil:
		d.Status = domain.DeployStatusSuccessful
		s.publishTitle(ctx, d.ID, "部署成功")
	case errors.Is(err, errInterrupted):
		d.Status = domain.DeployStatusInterrupted
		d.ErrDetail = "部署已中断"
		s.publishTitle(ctx, d.ID, "部署已中断")
	default:
		d.Status = domain.DeployStatusFailed
		d.ErrDetail = domain.UserFacingReason(err)
		slog.Error("deployment failed", "deployment_id", d.ID, "error", err)
		s.publishMessage(ctx, d.ID, d.ErrDetail, "STDERR")
	}
	d.UpdatedAt = time.Now()
	if uerr := s.deployRepo.Update(ctx, d); uerr != nil {
		slog.Error("update deployment terminal status failed", "deployment_id", d.ID, "error", uerr)
	}

	if cerr := s.stream.CloseStream(ctx, d.ID); cerr != nil {
		slog.Warn("close deploy event stream failed", "deployment_id", d.ID, "error", cerr)
	}
	if rerr := s.coordinator.Release(ctx, env.ID, d.ID); rerr != nil {
		slog.Warn("release deploy lock failed", "environment_id", env.ID, "error", rerr)
	}
}

// Interrupt 设置中断标记，由流水线在下一个轮询间隙响应。
func (s *DeployService) Interrupt(ctx context.Context, deploymentID string) error {
	d, err := s.deployRepo.FindByID(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d.Status.IsTerminal() {
		return fmt.Errorf("%w: deployment already finished", domain.ErrPrecondition)
	}
	now := time.Now()
	if d.BuildID == "" {
		d.BuildIntRequestedAt = &now
	}
	d.ReleaseIntRequestedAt = &now
	d.UpdatedAt = now
	return s.deployRepo.Update(ctx, d)
}

func (s *DeployService) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return s.deployRepo.FindByID(ctx, id)
}

func (s *DeployService) ListDeployments(ctx context.Context, environmentID string, limit int) ([]*domain.Deployment, error) {
	return s.deployRepo.ListByEnvironment(ctx, environmentID, limit)
}

// DeployResult 是部署结果查询的响应体。
type DeployResult struct {
	Status    domain.DeploymentStatus `json:"status"`
	ErrDetail string                  `json:"error_detail,omitempty"`
}

func (s *DeployService) GetResult(ctx context.Context, id string) (*DeployResult, error) {
	d, err := s.deployRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DeployResult{Status: d.Status, ErrDetail: d.ErrDetail}, nil
}

// ProcReplicasChange 描述一次部署会引起的副本数变化。
type ProcReplicasChange struct {
	Name   string `json:"name"`
	Old    int32  `json:"old"`
	New    int32  `json:"new"`
	Reason string `json:"reason"`
}

// DeployPreps 是部署前的干跑检查：对比基础定义与环境覆写，
// 返回将发生的副本数变化。
func (s *DeployService) DeployPreps(ctx context.Context, environmentID string) ([]ProcReplicasChange, error) {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	processes, err := s.processRepo.FindByModule(ctx, env.ModuleID)
	if err != nil {
		return nil, err
	}
	overlays, err := s.processRepo.FindOverlays(ctx, env.ModuleID)
	if err != nil {
		return nil, err
	}

	var changes []ProcReplicasChange
	for _, proc := range processes {
		for _, o := range overlays {
			if o.ProcessName != proc.Name || o.Environment != env.Environment {
				continue
			}
			if o.TargetReplicas != nil && *o.TargetReplicas != proc.Replicas {
				changes = append(changes, ProcReplicasChange{
					Name:   proc.Name,
					Old:    proc.Replicas,
					New:    *o.TargetReplicas,
					Reason: "env overlay",
				})
			}
		}
	}
	return changes, nil
}

// ListImageTags 返回该环境历史构建产物的镜像引用。
func (s *DeployService) ListImageTags(ctx context.Context, environmentID string) ([]string, error) {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	return s.buildRepo.ListImageTags(ctx, env.EngineApp.ID)
}

// Subscribe 透传部署事件订阅。
func (s *DeployService) Subscribe(ctx context.Context, deploymentID string) (<-chan domain.StreamEvent, func(), error) {
	if _, err := s.deployRepo.FindByID(ctx, deploymentID); err != nil {
		return nil, nil, err
	}
	return s.stream.Subscribe(ctx, deploymentID)
}

func (s *DeployService) loadEnvContext(ctx context.Context, environmentID string) (*domain.ModuleEnvironment, *domain.Module, *domain.Application, error) {
	env, err := s.envRepo.FindByID(ctx, environmentID)
	if err != nil {
		return nil, nil, nil, err
	}
	module, err := s.moduleRepo.FindByID(ctx, env.ModuleID)
	if err != nil {
		return nil, nil, nil, err
	}
	app, err := s.appRepo.FindByCode(ctx, env.AppCode)
	if err != nil {
		return nil, nil, nil, err
	}
	return env, module, app, nil
}

// GetModelResource 渲染模块环境当前的 BkApp 模型资源（不含 deploy-id）。
func (s *DeployService) GetModelResource(ctx context.Context, environmentID string) (*bkapp.BkApp, error) {
	env, module, app, err := s.loadEnvContext(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	if !app.IsCloudNative() {
		return nil, fmt.Errorf("%w: only cloud-native apps carry a model resource", domain.ErrPrecondition)
	}
	res, _, err := s.renderBkApp(ctx, "", env, module, app)
	return res, err
}

// ReplaceModelResource 用应用描述文件整体替换模块模型，返回替换后的渲染结果。
func (s *DeployService) ReplaceModelResource(ctx context.Context, environmentID string, manifest []byte) (*bkapp.BkApp, error) {
	env, module, app, err := s.loadEnvContext(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	if !app.IsCloudNative() {
		return nil, fmt.Errorf("%w: only cloud-native apps carry a model resource", domain.ErrPrecondition)
	}
	if _, err := s.importer.ImportManifest(ctx, module, []*domain.EngineApp{env.EngineApp}, manifest); err != nil {
		return nil, err
	}
	res, _, err := s.renderBkApp(ctx, "", env, module, app)
	return res, err
}

// EnvStatus 是环境状态查询的响应体。
type EnvStatus struct {
	LatestDeployment *domain.Deployment `json:"latest_deployment,omitempty"`
	Conditions       []metav1.Condition `json:"conditions,omitempty"`
	AccessURL        string             `json:"access_url,omitempty"`
}

// GetEnvStatus 汇总环境现状：最近一次部署、集群内 BkApp 条件、访问地址。
// 集群读取失败不阻塞其余信息，降级返回。
func (s *DeployService) GetEnvStatus(ctx context.Context, environmentID string) (*EnvStatus, error) {
	env, module, app, err := s.loadEnvContext(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	st := &EnvStatus{}
	if s.cfg.RootDomain != "" {
		host, path := s.exposedEntry(env, module, app)
		st.AccessURL = "http://" + host + path
	}
	if deployments, err := s.deployRepo.ListByEnvironment(ctx, environmentID, 1); err == nil && len(deployments) > 0 {
		st.LatestDeployment = deployments[0]
	}
	if app.IsCloudNative() {
		got, err := s.applier.Get(ctx, env.EngineApp.Namespace, env.EngineApp.Name)
		if err != nil {
			slog.Warn("read BkApp status failed", "environment_id", environmentID, "error", err)
		} else {
			st.Conditions = got.Status.Conditions
		}
	}
	return st, nil
}

// renderBkApp 汇集数据库状态并渲染 BkApp。第二个返回值为 useCNB 标记。
func (s *DeployService) renderBkApp(ctx context.Context, deployID string, env *domain.ModuleEnvironment, module *domain.Module, app *domain.Application) (*bkapp.BkApp, bool, error) {
	processes, err := s.processRepo.FindByModule(ctx, env.ModuleID)
	if err != nil {
		return nil, false, err
	}
	overlays, err := s.processRepo.FindOverlays(ctx, env.ModuleID)
	if err != nil {
		return nil, false, err
	}
	mounts, err := s.mountRepo.FindByModule(ctx, env.ModuleID)
	if err != nil {
		return nil, false, err
	}
	hook, err := s.hookRepo.FindByModule(ctx, env.ModuleID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	configVars, err := s.configVarRepo.FindByModule(ctx, env.ModuleID, env.Environment)
	if err != nil {
		return nil, false, err
	}
	addonEnvVars, err := s.addons.GetEnvVars(ctx, env.EngineApp)
	if err != nil {
		return nil, false, err
	}
	boundServices, err := s.addons.ListBoundServices(ctx, env.ModuleID)
	if err != nil {
		return nil, false, err
	}
	addons := make([]bkapp.Addon, 0, len(boundServices))
	for _, b := range boundServices {
		addons = append(addons, bkapp.Addon{Name: b.Name, SharedFromModule: b.SharedFromModule})
	}

	// 描述文件预设项与用户自定义项分层，渲染层按 preset < user 合并。
	presetVars := map[string]string{}
	userVars := make([]*domain.ConfigVar, 0, len(configVars))
	for _, cv := range configVars {
		if cv.Preset {
			presetVars[cv.Key] = cv.Value
			continue
		}
		userVars = append(userVars, cv)
	}

	useCNB := module.BuildpackRuntime
	res := kubernetes.Render(&kubernetes.RenderInput{
		App:              app,
		Module:           module,
		Env:              env,
		DeployID:         deployID,
		Processes:        processes,
		Overlays:         overlays,
		Mounts:           mounts,
		Hook:             hook,
		Addons:           addons,
		PresetEnvVars:    presetVars,
		ConfigVars:       userVars,
		AddonEnvVars:     addonEnvVars,
		BuiltinEnvVars:   s.builtinEnvVars(app, env),
		SvcDiscovery:     module.SvcDiscovery,
		DomainResolution: module.DomainResolution,
		LogCollectorType: s.cfg.LogCollectorType,
		UseCNB:           useCNB,
	})
	return res, useCNB, nil
}

// builtinEnvVars 是平台内建注入变量（非穷举）。
func (s *DeployService) builtinEnvVars(app *domain.Application, env *domain.ModuleEnvironment) map[string]string {
	return map[string]string{
		"PORT":                   "5000",
		"BKPAAS_APP_ID":          app.Code,
		"BKPAAS_APP_MODULE_NAME": env.ModuleName,
		"BKPAAS_ENVIRONMENT":     string(env.Environment),
		"BKPAAS_ENGINE_APP_NAME": env.EngineApp.Name,
		"BKPAAS_ENGINE_REGION":   env.EngineApp.Region,
		"BKPAAS_MAJOR_VERSION":   "3",
		"BKPAAS_PROCESS_VERSION": "v2",
	}
}

// buildEnvVars 汇集注入构建 Pod 的应用环境变量。
func (s *DeployService) buildEnvVars(ctx context.Context, env *domain.ModuleEnvironment, module *domain.Module) (map[string]string, error) {
	configVars, err := s.configVarRepo.FindByModule(ctx, env.ModuleID, env.Environment)
	if err != nil {
		return nil, err
	}
	addonVars, err := s.addons.GetEnvVars(ctx, env.EngineApp)
	if err != nil {
		return nil, err
	}
	envs := make(map[string]string, len(configVars)+len(addonVars))
	for _, v := range configVars {
		envs[v.Key] = v.Value
	}
	for k, v := range addonVars {
		envs[k] = v
	}
	return envs, nil
}

// releaseEnvVars 固化进 Release 记录的变量全集。
func (s *DeployService) releaseEnvVars(ctx context.Context, env *domain.ModuleEnvironment, module *domain.Module, app *domain.Application) (map[string]string, error) {
	envs, err := s.buildEnvVars(ctx, env, module)
	if err != nil {
		return nil, err
	}
	for k, v := range s.builtinEnvVars(app, env) {
		envs[k] = v
	}
	return envs, nil
}

func (s *DeployService) procfile(ctx context.Context, env *domain.ModuleEnvironment) (map[string]string, error) {
	processes, err := s.processRepo.FindByModule(ctx, env.ModuleID)
	if err != nil {
		return nil, err
	}
	procfile := make(map[string]string, len(processes))
	for _, p := range processes {
		if p.ProcCommand != "" {
			procfile[p.Name] = p.ProcCommand
		}
	}
	return procfile, nil
}

// advanceSteps 用日志行推进步骤状态并把状态变化发布为 step 事件。
func (s *DeployService) advanceSteps(ctx context.Context, deploymentID string, phase *domain.DeployPhase, line string) {
	before := stepStatuses(phase)
	phase.AdvanceSteps(line, time.Now())
	for _, step := range phase.Steps {
		if before[step.Name] == step.Status {
			continue
		}
		data, _ := json.Marshal(map[string]string{"name": step.Name, "status": string(step.Status)})
		if err := s.stream.Publish(ctx, deploymentID, domain.StreamEvent{
			Event: domain.EventStep, Data: string(data),
		}); err != nil {
			slog.Warn("publish step event failed", "deployment_id", deploymentID, "error", err)
		}
	}
}

func stepStatuses(phase *domain.DeployPhase) map[string]domain.StepStatus {
	m := make(map[string]domain.StepStatus, len(phase.Steps))
	for _, step := range phase.Steps {
		m[step.Name] = step.Status
	}
	return m
}

func (s *DeployService) publishTitle(ctx context.Context, deploymentID, title string) {
	if err := s.stream.Publish(ctx, deploymentID, domain.NewTitleEvent(title)); err != nil {
		slog.Warn("publish title event failed", "deployment_id", deploymentID, "error", err)
	}
}

func (s *DeployService) publishMessage(ctx context.Context, deploymentID, line, streamName string) {
	if err := s.stream.Publish(ctx, deploymentID, domain.NewMessageEvent(line, streamName)); err != nil {
		slog.Warn("publish message event failed", "deployment_id", deploymentID, "error", err)
	}
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

