package service

import (
	"context"
	"errors"
	"testing"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

const sampleManifest = `
specVersion: 3
module:
  name: default
  language: python
  spec:
    processes:
      - name: web
        procCommand: python main.py
        replicas: 2
      - name: worker
        procCommand: celery -A app worker
    configuration:
      env:
        - name: DEBUG
          value: "false"
    hooks:
      preRelease:
        procCommand: python manage.py migrate
    addons:
      - name: mysql
`

func newImportFixture() (*ImportService, *fakeProcessRepo, *fakeConfigVarRepo, *fakeHookRepo, *fakeAddonRepo) {
	processRepo := newFakeProcessRepo()
	configVarRepo := newFakeConfigVarRepo()
	hookRepo := newFakeHookRepo()
	addonRepo := newFakeAddonRepo()
	seedMySQLService(addonRepo)
	addons := NewAddonService(addonRepo, &fakeProvisioner{}, &fakeProvisioner{})
	svc := NewImportService(newFakeModuleRepo(), processRepo, configVarRepo, hookRepo, addons)
	return svc, processRepo, configVarRepo, hookRepo, addonRepo
}

func TestImportManifest(t *testing.T) {
	svc, processRepo, configVarRepo, hookRepo, addonRepo := newImportFixture()
	module := &domain.Module{ID: "mod-1", AppCode: "demo", Name: "default"}
	ctx := context.Background()

	desc, err := svc.ImportManifest(ctx, module, addonEngineApps(), []byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	if desc.Module.Language != "python" {
		t.Errorf("language = %q", desc.Module.Language)
	}

	web, err := processRepo.FindByModuleAndName(ctx, "mod-1", "web")
	if err != nil {
		t.Fatal(err)
	}
	if web.Replicas != 2 || web.ProcCommand != "python main.py" {
		t.Errorf("web = %+v", web)
	}

	worker, err := processRepo.FindByModuleAndName(ctx, "mod-1", "worker")
	if err != nil {
		t.Fatal(err)
	}
	if worker.Replicas != 1 {
		t.Errorf("worker replicas = %d, want default 1", worker.Replicas)
	}

	vars, err := configVarRepo.FindByModule(ctx, "mod-1", domain.EnvStag)
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 1 || vars[0].Key != "DEBUG" || vars[0].Value != "false" {
		t.Errorf("vars = %+v", vars)
	}
	if !vars[0].Preset {
		t.Error("description env vars should be stored as preset")
	}

	hook, err := hookRepo.FindByModule(ctx, "mod-1")
	if err != nil {
		t.Fatal(err)
	}
	if !hook.Enabled || hook.ProcCommand != "python manage.py migrate" {
		t.Errorf("hook = %+v", hook)
	}

	// addon 声明触发默认绑定，plan 取第一个
	atts, _ := addonRepo.FindEngineAppAttachments(ctx, "ea-stag")
	if len(atts) != 1 || atts[0].PlanID != "plan-stag" {
		t.Errorf("addon attachments = %+v", atts)
	}
}

func TestImportManifestIdempotent(t *testing.T) {
	svc, processRepo, configVarRepo, _, _ := newImportFixture()
	module := &domain.Module{ID: "mod-1", AppCode: "demo", Name: "default"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.ImportManifest(ctx, module, addonEngineApps(), []byte(sampleManifest)); err != nil {
			t.Fatal(err)
		}
	}

	processes, _ := processRepo.FindByModule(ctx, "mod-1")
	if len(processes) != 2 {
		t.Errorf("processes = %d, want 2", len(processes))
	}
	vars, _ := configVarRepo.FindByModule(ctx, "mod-1", domain.EnvStag)
	if len(vars) != 1 {
		t.Errorf("config vars = %d, want 1", len(vars))
	}
}

func TestImportManifestInvalid(t *testing.T) {
	svc, _, _, _, _ := newImportFixture()
	module := &domain.Module{ID: "mod-1"}

	cases := []struct {
		name string
		raw  string
	}{
		{"unsupported version", "specVersion: 1\nmodule: {}"},
		{"bad process name", `
specVersion: 3
module:
  spec:
    processes:
      - name: WEB_PROCESS
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ImportManifest(context.Background(), module, nil, []byte(tc.raw))
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestImportManifestModuleConfig(t *testing.T) {
	svc, _, _, _, _ := newImportFixture()
	module := &domain.Module{ID: "mod-1", AppCode: "demo", Name: "default"}

	manifest := `
specVersion: 3
module:
  spec:
    processes:
      - name: web
        procCommand: python main.py
    svcDiscovery:
      bkSaaS:
        - bkAppCode: other-app
          moduleName: api
    domainResolution:
      nameservers: ["8.8.8.8"]
      hostAliases:
        - ip: 10.0.0.1
          hostnames: [internal.example.com]
`
	if _, err := svc.ImportManifest(context.Background(), module, nil, []byte(manifest)); err != nil {
		t.Fatal(err)
	}

	if len(module.SvcDiscovery) != 1 || module.SvcDiscovery[0].BkAppCode != "other-app" {
		t.Errorf("svc discovery = %+v", module.SvcDiscovery)
	}
	if module.DomainResolution == nil || module.DomainResolution.Nameservers[0] != "8.8.8.8" {
		t.Errorf("domain resolution = %+v", module.DomainResolution)
	}
	if len(module.DomainResolution.HostAliases) != 1 || module.DomainResolution.HostAliases[0].IP != "10.0.0.1" {
		t.Errorf("host aliases = %+v", module.DomainResolution.HostAliases)
	}
}

func TestImportManifestDuplicateExposedType(t *testing.T) {
	svc, _, _, _, _ := newImportFixture()
	module := &domain.Module{ID: "mod-1", AppCode: "demo", Name: "default"}

	manifest := `
specVersion: 3
module:
  spec:
    processes:
      - name: web
        services:
          - name: web
            targetPort: "8000"
            exposedType:
              name: bk/http
      - name: api
        services:
          - name: api
            targetPort: "8001"
            exposedType:
              name: bk/http
`
	_, err := svc.ImportManifest(context.Background(), module, nil, []byte(manifest))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput for duplicate exposed type", err)
	}
}

func TestImportManifestSkipsSharedAddons(t *testing.T) {
	svc, _, _, _, addonRepo := newImportFixture()
	module := &domain.Module{ID: "mod-2", AppCode: "demo", Name: "backend"}

	manifest := `
specVersion: 3
module:
  spec:
    addons:
      - name: mysql
        sharedFromModule: default
`
	if _, err := svc.ImportManifest(context.Background(), module, addonEngineApps(), []byte(manifest)); err != nil {
		t.Fatal(err)
	}
	atts, _ := addonRepo.FindModuleAttachments(context.Background(), "mod-2")
	if len(atts) != 0 {
		t.Errorf("shared addon should not create local binding, got %+v", atts)
	}
}
