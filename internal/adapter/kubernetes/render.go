package kubernetes

import (
	"sort"
	"strings"

	"github.com/google/shlex"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/bkapp"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

// slug-runner 的固定入口，buildpack 运行时进程一律使用。
var slugRunnerCommand = []string{"bash", "/runner/init"}

const (
	defaultContainerPort = 5000
	defaultServicePort   = 80
)

// RenderInput 汇集渲染一个 BkApp 所需的全部数据库状态。
// 渲染是纯函数：同样的输入产出等价的 manifest。
type RenderInput struct {
	App      *domain.Application
	Module   *domain.Module
	Env      *domain.ModuleEnvironment
	DeployID string

	Processes []*domain.Process
	Overlays  []*domain.ProcessSpecEnvOverlay
	Mounts    []*domain.Mount
	Hook      *domain.DeployHook
	Addons    []bkapp.Addon

	// 环境变量三级优先级：preset < user < builtin（addon 凭据归入 builtin 级，先并入）。
	PresetEnvVars  map[string]string
	ConfigVars     []*domain.ConfigVar
	AddonEnvVars   map[string]string
	BuiltinEnvVars map[string]string

	SvcDiscovery     []domain.SvcDiscoveryEntry
	DomainResolution *domain.DomainResolution

	Image            string
	ImagePullPolicy  string
	LogCollectorType string // ELK / BK_LOG
	UseCNB           bool
	AccessControl    bool
	PaSiteID         string
	ContainerPort    int32
}

// Render 把应用模型映射为 BkApp 自定义资源。
func Render(in *RenderInput) *bkapp.BkApp {
	wlName := in.Env.EngineApp.Name
	containerPort := in.ContainerPort
	if containerPort == 0 {
		containerPort = defaultContainerPort
	}

	res := &bkapp.BkApp{
		TypeMeta: metav1.TypeMeta{
			APIVersion: bkapp.GroupVersion,
			Kind:       bkapp.Kind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:        wlName,
			Annotations: renderAnnotations(in, wlName),
		},
	}

	res.Spec.Build = &bkapp.BuildConfig{
		Image:                in.Image,
		ImagePullPolicy:      in.ImagePullPolicy,
		ImageCredentialsName: wlName + "--dockerconfigjson",
	}

	for _, proc := range in.Processes {
		res.Spec.Processes = append(res.Spec.Processes, renderProcess(proc, in.Module.BuildpackRuntime, containerPort))
	}

	res.Spec.Addons = in.Addons
	res.Spec.Hooks = renderHooks(in.Hook)
	res.Spec.Configuration.Env = renderEnvVars(in)
	res.Spec.Mounts, res.Spec.EnvOverlay = renderMounts(in.Mounts, res.Spec.EnvOverlay)
	res.Spec.EnvOverlay = renderOverlays(in.Processes, in.Overlays, res.Spec.EnvOverlay)
	res.Spec.EnvOverlay = renderEnvVarOverlays(in.ConfigVars, res.Spec.EnvOverlay)

	if len(in.SvcDiscovery) > 0 {
		cfg := &bkapp.SvcDiscoveryConfig{}
		for _, entry := range in.SvcDiscovery {
			cfg.BkSaaS = append(cfg.BkSaaS, bkapp.SvcDiscoveryEntry{
				BkAppCode:  entry.BkAppCode,
				ModuleName: entry.ModuleName,
			})
		}
		res.Spec.SvcDiscovery = cfg
	}

	if in.DomainResolution != nil {
		dr := &bkapp.DomainResolution{Nameservers: in.DomainResolution.Nameservers}
		for _, alias := range in.DomainResolution.HostAliases {
			dr.HostAliases = append(dr.HostAliases, bkapp.HostAlias{IP: alias.IP, Hostnames: alias.Hostnames})
		}
		res.Spec.DomainResolution = dr
	}

	return res
}

func renderAnnotations(in *RenderInput, wlName string) map[string]string {
	annots := map[string]string{
		bkapp.AnnotAppCode:             in.App.Code,
		bkapp.AnnotAppName:             in.App.Name,
		bkapp.AnnotAppRegion:           in.App.Region,
		bkapp.AnnotModuleName:          in.Module.Name,
		bkapp.AnnotEnvironment:         string(in.Env.Environment),
		bkapp.AnnotWlAppName:           wlName,
		bkapp.AnnotImageCredentialsRef: wlName + "--dockerconfigjson",
		bkapp.AnnotLogCollectorType:    in.LogCollectorType,
		bkapp.AnnotUseCNB:              boolString(in.UseCNB),
	}
	if in.DeployID != "" {
		annots[bkapp.AnnotDeployID] = in.DeployID
	}
	if in.AccessControl {
		annots[bkapp.AnnotAccessControl] = "true"
	}
	if in.PaSiteID != "" {
		annots[bkapp.AnnotPaSiteID] = in.PaSiteID
	}
	return annots
}

// renderProcess 推导单个进程的 command/args/services。
// buildpack 运行时固定走 slug-runner 入口，proc_command 留给 Procfile；
// 否则 proc_command 以 POSIX shell 规则切分，首 token 为 command。
func renderProcess(proc *domain.Process, buildpack bool, containerPort int32) bkapp.Process {
	replicas := proc.Replicas
	out := bkapp.Process{
		Name:         proc.Name,
		Replicas:     &replicas,
		TargetPort:   containerPort,
		ResQuotaPlan: domain.NormalizeResQuotaPlan(proc.ResQuotaPlan, 0),
	}

	switch {
	case buildpack:
		out.Command = slugRunnerCommand
		out.Args = []string{"start", proc.Name}
	case proc.ProcCommand != "":
		tokens, err := shlex.Split(proc.ProcCommand)
		if err == nil && len(tokens) > 0 {
			out.Command = []string{tokens[0]}
			out.Args = rewritePortTokens(tokens[1:])
		}
	default:
		out.Command = proc.Command
		out.Args = rewritePortTokens(proc.Args)
	}

	if proc.Autoscaling != nil {
		out.Autoscaling = &bkapp.AutoscalingSpec{
			MinReplicas: proc.Autoscaling.MinReplicas,
			MaxReplicas: proc.Autoscaling.MaxReplicas,
			Policy:      proc.Autoscaling.Policy,
		}
	}
	if proc.Probes != nil {
		out.Probes = &bkapp.ProbeSet{
			Liveness:  proc.Probes.Liveness,
			Readiness: proc.Probes.Readiness,
			Startup:   proc.Probes.Startup,
		}
	}

	out.Services = renderProcServices(proc)
	return out
}

// renderProcServices 应用服务默认值：未声明服务的进程获得一个
// targetPort=${PORT}、port=80 的默认服务，web 进程额外标记 bk/http 主入口。
func renderProcServices(proc *domain.Process) []bkapp.ProcService {
	if len(proc.Services) == 0 {
		svc := bkapp.ProcService{
			Name:       proc.Name,
			Protocol:   "TCP",
			TargetPort: domain.VarPORT,
			Port:       defaultServicePort,
		}
		if proc.Name == "web" {
			svc.ExposedType = &bkapp.ExposedType{Name: domain.ExposedTypeBkHTTP}
		}
		return []bkapp.ProcService{svc}
	}

	services := make([]bkapp.ProcService, 0, len(proc.Services))
	for _, svc := range proc.Services {
		out := bkapp.ProcService{
			Name:       svc.Name,
			Protocol:   svc.Protocol,
			TargetPort: svc.TargetPort,
			Port:       svc.Port,
		}
		if out.Protocol == "" {
			out.Protocol = "TCP"
		}
		if out.Port == 0 {
			out.Port = defaultServicePort
		}
		if svc.ExposedType != nil {
			out.ExposedType = &bkapp.ExposedType{Name: svc.ExposedType.Name}
		}
		services = append(services, out)
	}
	return services
}

// rewritePortTokens 把 ${PORT:-5000} 字面量改写为 ${PORT}，交由 operator 替换；
// 其它变量引用原样透传。
func rewritePortTokens(args []string) []string {
	if len(args) == 0 {
		return args
	}
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = strings.ReplaceAll(arg, "${PORT:-5000}", domain.VarPORT)
	}
	return out
}

func renderHooks(hook *domain.DeployHook) *bkapp.Hooks {
	if hook == nil || !hook.Enabled {
		return nil
	}
	h := &bkapp.Hook{Command: hook.Command, Args: hook.Args}
	if hook.ProcCommand != "" {
		tokens, err := shlex.Split(hook.ProcCommand)
		if err == nil && len(tokens) > 0 {
			h.Command = []string{tokens[0]}
			h.Args = tokens[1:]
		}
	}
	return &bkapp.Hooks{PreRelease: h}
}

// renderEnvVars 按 preset < user < (addon, builtin) 优先级合并环境变量，
// 输出按键名排序保证确定性。
func renderEnvVars(in *RenderInput) []bkapp.EnvVar {
	merged := map[string]string{}
	for k, v := range in.PresetEnvVars {
		merged[k] = v
	}
	for _, cv := range in.ConfigVars {
		if cv.Environment == "" || cv.Environment == in.Env.Environment {
			merged[cv.Key] = cv.Value
		}
	}
	for k, v := range in.AddonEnvVars {
		merged[k] = v
	}
	for k, v := range in.BuiltinEnvVars {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]bkapp.EnvVar, 0, len(keys))
	for _, k := range keys {
		env = append(env, bkapp.EnvVar{Name: k, Value: merged[k]})
	}
	return env
}

func renderMounts(mounts []*domain.Mount, overlay *bkapp.EnvOverlay) ([]bkapp.Mount, *bkapp.EnvOverlay) {
	var global []bkapp.Mount
	for _, m := range mounts {
		rendered := bkapp.Mount{
			Name:      m.Name,
			MountPath: m.MountPath,
			Source:    renderMountSource(m.Source),
		}
		if m.Environment == "" {
			global = append(global, rendered)
			continue
		}
		if overlay == nil {
			overlay = &bkapp.EnvOverlay{}
		}
		overlay.Mounts = append(overlay.Mounts, bkapp.MountOverlay{
			EnvName: string(m.Environment),
			Mount:   rendered,
		})
	}
	return global, overlay
}

func renderMountSource(src domain.VolumeSource) bkapp.MountSource {
	switch src.Type {
	case domain.VolumeSourcePersistentStorage:
		return bkapp.MountSource{PersistentStorage: &bkapp.PersistentStorage{Name: src.Name}}
	default:
		return bkapp.MountSource{ConfigMap: &bkapp.ConfigMapSource{Name: src.Name}}
	}
}

// renderOverlays 只为与基础值确有差异的覆写生成 envOverlay 条目。
func renderOverlays(processes []*domain.Process, overlays []*domain.ProcessSpecEnvOverlay, overlay *bkapp.EnvOverlay) *bkapp.EnvOverlay {
	byName := map[string]*domain.Process{}
	for _, p := range processes {
		byName[p.Name] = p
	}

	ensure := func() *bkapp.EnvOverlay {
		if overlay == nil {
			overlay = &bkapp.EnvOverlay{}
		}
		return overlay
	}

	for _, o := range overlays {
		base, ok := byName[o.ProcessName]
		if !ok {
			continue
		}

		if o.TargetReplicas != nil && *o.TargetReplicas != base.Replicas {
			ensure().Replicas = append(overlay.Replicas, bkapp.ReplicasOverlay{
				EnvName: string(o.Environment),
				Process: o.ProcessName,
				Count:   *o.TargetReplicas,
			})
		}

		if o.Plan != "" {
			plan := domain.NormalizeResQuotaPlan(o.Plan, 0)
			if plan != domain.NormalizeResQuotaPlan(base.ResQuotaPlan, 0) {
				ensure().ResQuotas = append(overlay.ResQuotas, bkapp.ResQuotaOverlay{
					EnvName: string(o.Environment),
					Process: o.ProcessName,
					Plan:    plan,
				})
			}
		}

		if o.Autoscaling != nil && *o.Autoscaling && o.ScalingConfig != nil {
			spec := bkapp.AutoscalingSpec{
				MinReplicas: o.ScalingConfig.MinReplicas,
				MaxReplicas: o.ScalingConfig.MaxReplicas,
				Policy:      o.ScalingConfig.Policy,
			}
			if !autoscalingEqual(base.Autoscaling, &spec) {
				ensure().Autoscaling = append(overlay.Autoscaling, bkapp.AutoscalingOverlay{
					EnvName:         string(o.Environment),
					Process:         o.ProcessName,
					AutoscalingSpec: spec,
				})
			}
		}
	}
	return overlay
}

func renderEnvVarOverlays(vars []*domain.ConfigVar, overlay *bkapp.EnvOverlay) *bkapp.EnvOverlay {
	for _, cv := range vars {
		if cv.Environment == "" {
			continue
		}
		if overlay == nil {
			overlay = &bkapp.EnvOverlay{}
		}
		overlay.EnvVariables = append(overlay.EnvVariables, bkapp.EnvVarOverlay{
			EnvName: string(cv.Environment),
			Name:    cv.Key,
			Value:   cv.Value,
		})
	}
	return overlay
}

func autoscalingEqual(base *domain.AutoscalingConfig, spec *bkapp.AutoscalingSpec) bool {
	if base == nil {
		return false
	}
	return base.MinReplicas == spec.MinReplicas &&
		base.MaxReplicas == spec.MaxReplicas &&
		base.Policy == spec.Policy
}

// ApplyForDeploy 在实际部署前对渲染结果做最终调整：
// 覆写镜像、设置 deploy-id 等注解。
func ApplyForDeploy(res *bkapp.BkApp, image, pullPolicy, deployID string, procServicesEnabled, useCNB bool) {
	if res.Spec.Build == nil {
		res.Spec.Build = &bkapp.BuildConfig{}
	}
	if image != "" {
		res.Spec.Build.Image = image
	}
	if pullPolicy != "" {
		res.Spec.Build.ImagePullPolicy = pullPolicy
	}
	if res.Annotations == nil {
		res.Annotations = map[string]string{}
	}
	res.Annotations[bkapp.AnnotDeployID] = deployID
	res.Annotations[bkapp.AnnotProcServicesEnabled] = boolString(procServicesEnabled)
	res.Annotations[bkapp.AnnotUseCNB] = boolString(useCNB)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
