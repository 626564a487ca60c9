package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

func seedMySQLService(repo *fakeAddonRepo) {
	repo.services["svc-mysql"] = &domain.AddonService{
		ID: "svc-mysql", Name: "mysql", Provider: domain.AddonLocal,
	}
	repo.plans["svc-mysql"] = []*domain.AddonPlan{
		{ID: "plan-stag", ServiceID: "svc-mysql", Name: "stag-plan", Environment: domain.EnvStag},
		{ID: "plan-prod", ServiceID: "svc-mysql", Name: "prod-plan", Environment: domain.EnvProd},
		{ID: "plan-any", ServiceID: "svc-mysql", Name: "default-plan"},
	}
}

func addonEngineApps() []*domain.EngineApp {
	return []*domain.EngineApp{
		{ID: "ea-stag", Name: "bkapp-demo-stag", Region: "default", Cluster: "main", Env: domain.EnvStag},
		{ID: "ea-prod", Name: "bkapp-demo-prod", Region: "default", Cluster: "main", Env: domain.EnvProd},
	}
}

func TestBindServicePerEnvPlans(t *testing.T) {
	repo := newFakeAddonRepo()
	seedMySQLService(repo)
	svc := NewAddonService(repo, &fakeProvisioner{}, &fakeProvisioner{})
	module := &domain.Module{ID: "mod-1", AppCode: "demo", Name: "default"}

	if err := svc.BindService(context.Background(), module, addonEngineApps(), "mysql", false); err != nil {
		t.Fatal(err)
	}

	atts, _ := repo.FindModuleAttachments(context.Background(), "mod-1")
	if len(atts) != 1 {
		t.Fatalf("module attachments = %d, want 1", len(atts))
	}

	stagAtts, _ := repo.FindEngineAppAttachments(context.Background(), "ea-stag")
	if len(stagAtts) != 1 || stagAtts[0].PlanID != "plan-stag" {
		t.Errorf("stag attachments = %+v", stagAtts)
	}
	prodAtts, _ := repo.FindEngineAppAttachments(context.Background(), "ea-prod")
	if len(prodAtts) != 1 || prodAtts[0].PlanID != "plan-prod" {
		t.Errorf("prod attachments = %+v", prodAtts)
	}
}

func TestBindServiceIdempotent(t *testing.T) {
	repo := newFakeAddonRepo()
	seedMySQLService(repo)
	svc := NewAddonService(repo, &fakeProvisioner{}, &fakeProvisioner{})
	module := &domain.Module{ID: "mod-1", AppCode: "demo", Name: "default"}

	for i := 0; i < 2; i++ {
		if err := svc.BindService(context.Background(), module, addonEngineApps(), "mysql", false); err != nil {
			t.Fatal(err)
		}
	}

	atts, _ := repo.FindModuleAttachments(context.Background(), "mod-1")
	if len(atts) != 1 {
		t.Errorf("module attachments = %d, want 1", len(atts))
	}
	eaAtts, _ := repo.FindEngineAppAttachments(context.Background(), "ea-stag")
	if len(eaAtts) != 1 {
		t.Errorf("engine app attachments = %d, want 1", len(eaAtts))
	}
}

func TestBindServicePolicyRules(t *testing.T) {
	repo := newFakeAddonRepo()
	seedMySQLService(repo)
	repo.policies["svc-mysql"] = &domain.BindingPolicy{
		ServiceID: "svc-mysql",
		Rules: []domain.PrecedencePolicy{
			{Priority: 0, CondType: domain.CondAlwaysMatch, PlanIDs: []string{"plan-any"}},
			{Priority: 10, CondType: domain.CondClusterIn, CondData: []string{"main"}, PlanIDs: []string{"plan-stag", "plan-prod"}},
		},
	}
	svc := NewAddonService(repo, &fakeProvisioner{}, &fakeProvisioner{})
	module := &domain.Module{ID: "mod-1", AppCode: "demo", Name: "default"}

	if err := svc.BindService(context.Background(), module, addonEngineApps(), "mysql", false); err != nil {
		t.Fatal(err)
	}

	// 高优先级规则命中 cluster=main，plan 按环境挑选
	stagAtts, _ := repo.FindEngineAppAttachments(context.Background(), "ea-stag")
	if stagAtts[0].PlanID != "plan-stag" {
		t.Errorf("stag plan = %s, want plan-stag", stagAtts[0].PlanID)
	}
}

func TestBindServiceUniformPolicyWins(t *testing.T) {
	repo := newFakeAddonRepo()
	seedMySQLService(repo)
	repo.policies["svc-mysql"] = &domain.BindingPolicy{
		ServiceID: "svc-mysql",
		Uniform:   []string{"plan-any"},
		Rules: []domain.PrecedencePolicy{
			{Priority: 10, CondType: domain.CondAlwaysMatch, PlanIDs: []string{"plan-stag"}},
		},
	}
	svc := NewAddonService(repo, &fakeProvisioner{}, &fakeProvisioner{})
	module := &domain.Module{ID: "mod-1", AppCode: "demo", Name: "default"}

	if err := svc.BindService(context.Background(), module, addonEngineApps(), "mysql", false); err != nil {
		t.Fatal(err)
	}
	atts, _ := repo.FindEngineAppAttachments(context.Background(), "ea-stag")
	if atts[0].PlanID != "plan-any" {
		t.Errorf("plan = %s, want plan-any (uniform)", atts[0].PlanID)
	}
}

func TestProvisionEnvSkipsProvisioned(t *testing.T) {
	repo := newFakeAddonRepo()
	seedMySQLService(repo)
	provisioner := &fakeProvisioner{}
	svc := NewAddonService(repo, provisioner, &fakeProvisioner{})
	module := &domain.Module{ID: "mod-1", AppCode: "demo", Name: "default"}
	ea := addonEngineApps()[0]

	if err := svc.BindService(context.Background(), module, []*domain.EngineApp{ea}, "mysql", false); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.ProvisionEnv(context.Background(), ea); err != nil {
			t.Fatal(err)
		}
	}

	if provisioner.seq != 1 {
		t.Errorf("provision called %d times, want 1", provisioner.seq)
	}
	atts, _ := repo.FindEngineAppAttachments(context.Background(), ea.ID)
	if !atts[0].Provisioned() {
		t.Error("attachment not marked provisioned")
	}
}

func TestGetEnvVarsLaterInstanceOverrides(t *testing.T) {
	repo := newFakeAddonRepo()
	svc := NewAddonService(repo, &fakeProvisioner{}, &fakeProvisioner{})
	ea := addonEngineApps()[0]

	base := time.Now()
	repo.instances["inst-1"] = &domain.ServiceInstance{
		ID: "inst-1", Credentials: map[string]string{"HOST": "old", "PORT": "3306"}, CreateTime: base,
	}
	repo.instances["inst-2"] = &domain.ServiceInstance{
		ID: "inst-2", Credentials: map[string]string{"HOST": "new"}, CreateTime: base.Add(time.Second),
	}
	repo.engineAtts["a1"] = &domain.ServiceEngineAppAttachment{
		ID: "a1", ServiceID: "s1", EngineAppID: ea.ID, PlanID: "p1", ServiceInstanceID: "inst-1",
	}
	repo.engineAtts["a2"] = &domain.ServiceEngineAppAttachment{
		ID: "a2", ServiceID: "s2", EngineAppID: ea.ID, PlanID: "p2", ServiceInstanceID: "inst-2",
	}

	envs, err := svc.GetEnvVars(context.Background(), ea)
	if err != nil {
		t.Fatal(err)
	}
	if envs["HOST"] != "new" || envs["PORT"] != "3306" {
		t.Errorf("envs = %v", envs)
	}
}

func TestUnbindAsyncGoesToRecycleQueue(t *testing.T) {
	repo := newFakeAddonRepo()
	repo.services["svc-rabbit"] = &domain.AddonService{
		ID: "svc-rabbit", Name: "rabbitmq", Provider: domain.AddonRemote, PreferAsyncDelete: true,
	}
	repo.engineAtts["a1"] = &domain.ServiceEngineAppAttachment{
		ID: "a1", ServiceID: "svc-rabbit", EngineAppID: "ea-stag", PlanID: "p1", ServiceInstanceID: "inst-1",
	}
	provisioner := &fakeProvisioner{}
	svc := NewAddonService(repo, &fakeProvisioner{}, provisioner)
	ea := addonEngineApps()[0]

	if err := svc.Unbind(context.Background(), ea, "svc-rabbit"); err != nil {
		t.Fatal(err)
	}

	if len(provisioner.recycled) != 0 {
		t.Error("async-delete service should not be recycled synchronously")
	}
	pending, _ := repo.FindPendingUnbound(context.Background(), 10)
	if len(pending) != 1 || pending[0].ServiceInstanceID != "inst-1" {
		t.Errorf("pending = %+v", pending)
	}
	atts, _ := repo.FindEngineAppAttachments(context.Background(), "ea-stag")
	if len(atts) != 0 {
		t.Error("attachment should be deleted after unbind")
	}
}

func TestRecycleUnboundRound(t *testing.T) {
	repo := newFakeAddonRepo()
	repo.services["svc-rabbit"] = &domain.AddonService{
		ID: "svc-rabbit", Name: "rabbitmq", Provider: domain.AddonRemote, PreferAsyncDelete: true,
	}
	repo.unbound["u1"] = &domain.UnboundServiceEngineAppAttachment{
		ID: "u1", ServiceID: "svc-rabbit", EngineAppID: "ea-stag", ServiceInstanceID: "inst-1",
	}
	provisioner := &fakeProvisioner{}
	svc := NewAddonService(repo, &fakeProvisioner{}, provisioner)

	svc.RecycleUnbound(context.Background(), 10)

	if len(provisioner.recycled) != 1 || provisioner.recycled[0] != "inst-1" {
		t.Errorf("recycled = %v", provisioner.recycled)
	}
	pending, _ := repo.FindPendingUnbound(context.Background(), 10)
	if len(pending) != 0 {
		t.Errorf("pending after recycle = %d, want 0", len(pending))
	}
}

func TestBindServiceUnknownService(t *testing.T) {
	repo := newFakeAddonRepo()
	svc := NewAddonService(repo, &fakeProvisioner{}, &fakeProvisioner{})
	module := &domain.Module{ID: "mod-1"}

	err := svc.BindService(context.Background(), module, addonEngineApps(), "ghost", false)
	if !errors.Is(err, domain.ErrServiceNotFound) {
		t.Fatalf("err = %v, want ErrServiceNotFound", err)
	}
}
