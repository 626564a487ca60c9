package kubernetes

import (
	"reflect"
	"testing"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/bkapp"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

func renderInputFixture(buildpack bool) *RenderInput {
	module := &domain.Module{
		ID: "mod-1", AppCode: "demo", Name: "default",
		BuildpackRuntime: buildpack,
	}
	return &RenderInput{
		App:    &domain.Application{Code: "demo", Name: "Demo", Region: "default", Type: domain.AppTypeCloudNative},
		Module: module,
		Env: &domain.ModuleEnvironment{
			ID: "env-1", AppCode: "demo", ModuleName: "default", Environment: domain.EnvStag,
			EngineApp: &domain.EngineApp{
				ID: "ea-1", Name: domain.WlAppName("demo", "default", domain.EnvStag),
				Namespace: "bkapp-demo-stag",
			},
		},
		Processes: []*domain.Process{
			{Name: "web", Replicas: 2, ResQuotaPlan: "4C1G5R"},
		},
		Image: "registry.example.com/demo:v1",
	}
}

func TestRenderBuildpackProcessCommand(t *testing.T) {
	in := renderInputFixture(true)
	res := Render(in)

	if res.Name != "bkapp-demo-stag" {
		t.Fatalf("metadata.name = %q", res.Name)
	}
	if len(res.Spec.Processes) != 1 {
		t.Fatalf("processes = %d", len(res.Spec.Processes))
	}
	web := res.Spec.Processes[0]
	if !reflect.DeepEqual(web.Command, []string{"bash", "/runner/init"}) {
		t.Errorf("command = %v", web.Command)
	}
	if !reflect.DeepEqual(web.Args, []string{"start", "web"}) {
		t.Errorf("args = %v", web.Args)
	}
	if len(web.Services) != 1 {
		t.Fatalf("services = %d", len(web.Services))
	}
	svc := web.Services[0]
	if svc.Name != "web" || svc.TargetPort != "${PORT}" || svc.Port != 80 || svc.Protocol != "TCP" {
		t.Errorf("default service = %+v", svc)
	}
	if svc.ExposedType == nil || svc.ExposedType.Name != domain.ExposedTypeBkHTTP {
		t.Errorf("web 进程默认服务应携带 bk/http exposedType，got %+v", svc.ExposedType)
	}
}

func TestRenderProcCommandSplitAndPortRewrite(t *testing.T) {
	in := renderInputFixture(false)
	in.Processes = []*domain.Process{
		{
			Name: "web", Replicas: 1, ResQuotaPlan: "Starter",
			ProcCommand: `gunicorn app:wsgi -b "0.0.0.0:${PORT:-5000}"`,
		},
		{Name: "worker", Replicas: 1, ResQuotaPlan: "Starter", ProcCommand: "celery -A app worker"},
	}
	res := Render(in)

	web := res.Spec.Processes[0]
	if !reflect.DeepEqual(web.Command, []string{"gunicorn"}) {
		t.Errorf("command = %v", web.Command)
	}
	want := []string{"app:wsgi", "-b", "0.0.0.0:${PORT}"}
	if !reflect.DeepEqual(web.Args, want) {
		t.Errorf("args = %v, want %v", web.Args, want)
	}

	worker := res.Spec.Processes[1]
	if worker.Services[0].ExposedType != nil {
		t.Errorf("非 web 进程的默认服务不应有 exposedType")
	}
}

func TestRenderUnknownResQuotaPlanFallsBack(t *testing.T) {
	in := renderInputFixture(false)
	in.Processes = []*domain.Process{
		{Name: "web", Replicas: 1, ResQuotaPlan: "2C512M"},
	}
	res := Render(in)
	if got := res.Spec.Processes[0].ResQuotaPlan; got != "Starter" {
		t.Errorf("resQuotaPlan = %q, want Starter", got)
	}
}

func TestRenderEnvOverlayOnlyWhenDiffers(t *testing.T) {
	in := renderInputFixture(false)
	two := int32(2)
	five := int32(5)
	in.Processes = []*domain.Process{
		{Name: "web", Replicas: 2, ResQuotaPlan: "4C1G5R"},
	}
	in.Overlays = []*domain.ProcessSpecEnvOverlay{
		// 与基础值相同：不应产生条目。
		{ProcessName: "web", Environment: domain.EnvStag, TargetReplicas: &two},
		{
			ProcessName: "web", Environment: domain.EnvProd,
			TargetReplicas: &five, Plan: "4C2G5R",
			Autoscaling: boolPtr(true),
			ScalingConfig: &domain.AutoscalingConfig{
				MinReplicas: 2, MaxReplicas: 5, Policy: "default",
			},
		},
	}
	res := Render(in)

	ov := res.Spec.EnvOverlay
	if ov == nil {
		t.Fatal("envOverlay 不应为空")
	}
	if len(ov.Replicas) != 1 || ov.Replicas[0].EnvName != "prod" || ov.Replicas[0].Count != 5 {
		t.Errorf("replicas overlay = %+v", ov.Replicas)
	}
	if len(ov.ResQuotas) != 1 || ov.ResQuotas[0].Plan != "4C2G5R" {
		t.Errorf("resQuotas overlay = %+v", ov.ResQuotas)
	}
	if len(ov.Autoscaling) != 1 || ov.Autoscaling[0].MaxReplicas != 5 {
		t.Errorf("autoscaling overlay = %+v", ov.Autoscaling)
	}
}

func TestRenderEnvVarPrecedenceAndScoping(t *testing.T) {
	in := renderInputFixture(false)
	in.PresetEnvVars = map[string]string{"FOO": "preset", "ONLY_PRESET": "1"}
	in.ConfigVars = []*domain.ConfigVar{
		{Key: "FOO", Value: "user"},
		{Key: "PROD_ONLY", Value: "x", Environment: domain.EnvProd},
	}
	in.AddonEnvVars = map[string]string{"MYSQL_HOST": "db.local"}
	in.BuiltinEnvVars = map[string]string{"PORT": "5000", "FOO": "builtin"}
	res := Render(in)

	got := map[string]string{}
	for _, ev := range res.Spec.Configuration.Env {
		got[ev.Name] = ev.Value
	}
	if got["FOO"] != "builtin" {
		t.Errorf("内建变量应覆盖用户与预设值，FOO = %q", got["FOO"])
	}
	if got["ONLY_PRESET"] != "1" || got["MYSQL_HOST"] != "db.local" || got["PORT"] != "5000" {
		t.Errorf("merged env = %v", got)
	}
	if _, ok := got["PROD_ONLY"]; ok {
		t.Error("prod 作用域变量不应出现在 stag 的基础 env 里")
	}
	if res.Spec.EnvOverlay == nil || len(res.Spec.EnvOverlay.EnvVariables) != 1 {
		t.Fatalf("env 作用域变量应进 envOverlay：%+v", res.Spec.EnvOverlay)
	}
	if ev := res.Spec.EnvOverlay.EnvVariables[0]; ev.EnvName != "prod" || ev.Name != "PROD_ONLY" {
		t.Errorf("envVariables overlay = %+v", ev)
	}

	// 输出按键名排序。
	for i := 1; i < len(res.Spec.Configuration.Env); i++ {
		if res.Spec.Configuration.Env[i-1].Name > res.Spec.Configuration.Env[i].Name {
			t.Fatal("configuration.env 未按键名排序")
		}
	}
}

func TestRenderMountsAndHooks(t *testing.T) {
	in := renderInputFixture(false)
	in.Mounts = []*domain.Mount{
		{Name: "etc", MountPath: "/etc/app", Source: domain.VolumeSource{Type: domain.VolumeSourceConfigMap, Name: "app-cm"}},
		{Name: "data", MountPath: "/data", Environment: domain.EnvProd,
			Source: domain.VolumeSource{Type: domain.VolumeSourcePersistentStorage, Name: "app-pvc"}},
	}
	in.Hook = &domain.DeployHook{Enabled: true, ProcCommand: "python manage.py migrate"}
	res := Render(in)

	if len(res.Spec.Mounts) != 1 || res.Spec.Mounts[0].Source.ConfigMap == nil {
		t.Errorf("global mounts = %+v", res.Spec.Mounts)
	}
	if res.Spec.EnvOverlay == nil || len(res.Spec.EnvOverlay.Mounts) != 1 {
		t.Fatalf("env 作用域挂载应进 envOverlay")
	}
	mo := res.Spec.EnvOverlay.Mounts[0]
	if mo.EnvName != "prod" || mo.Source.PersistentStorage == nil {
		t.Errorf("mount overlay = %+v", mo)
	}

	if res.Spec.Hooks == nil || res.Spec.Hooks.PreRelease == nil {
		t.Fatal("preRelease hook 缺失")
	}
	hook := res.Spec.Hooks.PreRelease
	if !reflect.DeepEqual(hook.Command, []string{"python"}) || !reflect.DeepEqual(hook.Args, []string{"manage.py", "migrate"}) {
		t.Errorf("hook = %+v", hook)
	}
}

func TestRenderDisabledHookOmitted(t *testing.T) {
	in := renderInputFixture(false)
	in.Hook = &domain.DeployHook{Enabled: false, ProcCommand: "python manage.py migrate"}
	if res := Render(in); res.Spec.Hooks != nil {
		t.Errorf("禁用的钩子不应渲染：%+v", res.Spec.Hooks)
	}
}

func TestApplyForDeploy(t *testing.T) {
	in := renderInputFixture(true)
	res := Render(in)
	ApplyForDeploy(res, "registry.example.com/demo:build-42", "IfNotPresent", "deploy-123", true, false)

	if res.Spec.Build.Image != "registry.example.com/demo:build-42" {
		t.Errorf("image = %q", res.Spec.Build.Image)
	}
	if res.Annotations[bkapp.AnnotDeployID] != "deploy-123" {
		t.Errorf("deploy-id 注解 = %q", res.Annotations[bkapp.AnnotDeployID])
	}
	if res.Annotations[bkapp.AnnotProcServicesEnabled] != "true" {
		t.Errorf("proc-services 注解 = %q", res.Annotations[bkapp.AnnotProcServicesEnabled])
	}
	if res.Annotations[bkapp.AnnotUseCNB] != "false" {
		t.Errorf("use-cnb 注解 = %q", res.Annotations[bkapp.AnnotUseCNB])
	}
}

func boolPtr(b bool) *bool { return &b }
