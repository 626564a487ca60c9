package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/adapter/blobstore"
	httpadapter "github.com/TencentBlueKing/blueking-paas-sub003/internal/adapter/http"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/adapter/kubernetes"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/adapter/loki"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/adapter/redisstore"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/adapter/repository"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/adapter/servicehub"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/config"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/service"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// 数据库
	db, err := repository.OpenDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open db", "error", err)
		os.Exit(1)
	}
	appRepo := repository.NewApplicationRepo(db)
	moduleRepo := repository.NewModuleRepo(db)
	envRepo := repository.NewEnvironmentRepo(db)
	deployRepo := repository.NewDeploymentRepo(db)
	buildRepo := repository.NewBuildRepo(db)
	releaseRepo := repository.NewReleaseRepo(db)
	revisionRepo := repository.NewRevisionRepo(db)
	processRepo := repository.NewProcessRepo(db)
	configVarRepo := repository.NewConfigVarRepo(db)
	mountRepo := repository.NewMountRepo(db)
	hookRepo := repository.NewHookRepo(db)
	addonRepo := repository.NewAddonRepo(db)

	// Redis：部署互斥锁 + 事件流
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	coordinator := redisstore.NewCoordinator(redisClient, cfg.DeployLockTTL, cfg.PollingTimeout)
	stream := redisstore.NewEventStream(redisClient)

	// 对象存储（源码包）
	blobStore, err := blobstore.NewMinioStore(blobstore.Config{
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		UseSSL:    cfg.BlobUseSSL,
	})
	if err != nil {
		slog.Error("failed to init blob store", "error", err)
		os.Exit(1)
	}
	if err := blobStore.EnsureBucket(ctx); err != nil {
		slog.Error("failed to ensure blob bucket", "bucket", cfg.BlobBucket, "error", err)
		os.Exit(1)
	}
	packager := blobstore.NewTarPackager(blobStore)

	// K8s 客户端
	cs, restCfg, err := kubernetes.NewClientset(cfg.KubeconfigPath)
	if err != nil {
		slog.Error("failed to init k8s client", "error", err)
		os.Exit(1)
	}
	dyn, err := kubernetes.NewDynamicClient(restCfg)
	if err != nil {
		slog.Error("failed to init dynamic client", "error", err)
		os.Exit(1)
	}
	bkappResources := kubernetes.NewResourceClient(dyn, cs.Discovery(), kubernetes.BkAppKind)
	applier := kubernetes.NewBkAppApplier(bkappResources, cs)
	executor := kubernetes.NewSlugBuilderExecutor(cs, cfg.MaxBuildDuration)
	controller := kubernetes.NewDeploymentProcessController(cs)
	watcher := kubernetes.NewProcessWatcher(cs)
	ingress := kubernetes.NewNginxIngressManager(cs, cfg.IngressUseRegex)

	// 日志后端
	lokiClient := loki.NewClient(cfg.LokiURL)

	// 增强服务供给器：未配置中枢地址时全部走本地供给
	var remote port.AddonProvisioner = servicehub.NewLocalProvisioner()
	if cfg.ServiceHubURL != "" {
		remote = servicehub.NewRemoteProvisioner(cfg.ServiceHubURL, cfg.ServiceHubToken)
	}

	// 服务层
	addonSvc := service.NewAddonService(addonRepo, servicehub.NewLocalProvisioner(), remote)
	importSvc := service.NewImportService(moduleRepo, processRepo, configVarRepo, hookRepo, addonSvc)
	appSvc := service.NewAppService(appRepo, moduleRepo, envRepo, cfg.DefaultCluster)
	processSvc := service.NewProcessService(envRepo, processRepo, controller, watcher)
	logSvc := service.NewLogService(envRepo, buildRepo, watcher, lokiClient)
	deploySvc := service.NewDeployService(
		appRepo, moduleRepo, envRepo, deployRepo, buildRepo, releaseRepo,
		revisionRepo, processRepo, configVarRepo, mountRepo, hookRepo,
		coordinator, stream, blobStore, packager, executor, applier,
		controller, ingress, addonSvc, importSvc,
		service.DeployConfig{
			SlugBuilderImage:        cfg.SlugBuilderImage,
			KanikoImage:             cfg.KanikoImage,
			ImageRepoPrefix:         cfg.ImageRepoPrefix,
			ImagePullPolicy:         cfg.ImagePullPolicy,
			RegistryMirrors:         cfg.RegistryMirrors,
			SkipTLSVerifyRegistries: cfg.SkipTLSVerifyRegistries,
			DefaultBuildpacks:       cfg.DefaultBuildpacks,
			RootDomain:              cfg.RootDomain,
			LogCollectorType:        cfg.LogCollectorType,
			PollInterval:            cfg.DeployPollInterval,
			MaxBuildDuration:        cfg.MaxBuildDuration,
			ReleaseTimeout:          cfg.ReleaseTimeout,
			SourceURLTTL:            cfg.SourceURLTTL,
			SATimeout:               cfg.SATimeout,
		},
	)

	// 解绑实例的异步回收
	recycleCtx, stopRecycle := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cfg.AddonRecycleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-recycleCtx.Done():
				return
			case <-ticker.C:
				addonSvc.RecycleUnbound(recycleCtx, 20)
			}
		}
	}()

	handler := httpadapter.NewRouter(
		httpadapter.NewAppHandler(appSvc),
		httpadapter.NewDeployHandler(deploySvc),
		httpadapter.NewProcessHandler(processSvc, logSvc),
		httpadapter.NewAddonHandler(addonSvc, appSvc),
		cfg.APIToken,
	)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: handler,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	stopRecycle()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
}
