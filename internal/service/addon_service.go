package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// AddonService 实现增强服务的绑定、供给、解绑与环境变量透出。
type AddonService struct {
	repo         port.AddonRepository
	provisioners map[domain.AddonProvider]port.AddonProvisioner
}

func NewAddonService(repo port.AddonRepository, local, remote port.AddonProvisioner) *AddonService {
	return &AddonService{
		repo: repo,
		provisioners: map[domain.AddonProvider]port.AddonProvisioner{
			domain.AddonLocal:  local,
			domain.AddonRemote: remote,
		},
	}
}

// BindService 把一个服务绑定到模块及其各环境。
// 模块级绑定幂等；每环境生成一条 plan 固定、实例为空的绑定记录。
// useFirstPlan 跳过策略解析，直接取第一个 plan，用于模板默认绑定。
func (s *AddonService) BindService(ctx context.Context, module *domain.Module, engineApps []*domain.EngineApp, serviceName string, useFirstPlan bool) error {
	svc, err := s.repo.FindServiceByName(ctx, serviceName)
	if err != nil {
		return err
	}
	plans, err := s.repo.FindPlans(ctx, svc.ID)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		return fmt.Errorf("%w: service %s has no plans", domain.ErrPlanNotFound, serviceName)
	}

	if err := s.ensureModuleAttachment(ctx, svc.ID, module.ID); err != nil {
		return err
	}

	for _, ea := range engineApps {
		attachments, err := s.repo.FindEngineAppAttachments(ctx, ea.ID)
		if err != nil {
			return err
		}
		if hasServiceAttachment(attachments, svc.ID) {
			continue
		}

		plan, err := s.selectPlan(ctx, svc.ID, plans, ea, useFirstPlan)
		if err != nil {
			return err
		}
		now := time.Now()
		attachment := &domain.ServiceEngineAppAttachment{
			ID:          uuid.NewString(),
			ServiceID:   svc.ID,
			EngineAppID: ea.ID,
			PlanID:      plan.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.SaveEngineAppAttachment(ctx, attachment); err != nil {
			return err
		}
	}
	return nil
}

func (s *AddonService) ensureModuleAttachment(ctx context.Context, serviceID, moduleID string) error {
	attachments, err := s.repo.FindModuleAttachments(ctx, moduleID)
	if err != nil {
		return err
	}
	for _, a := range attachments {
		if a.ServiceID == serviceID {
			return nil
		}
	}
	return s.repo.SaveModuleAttachment(ctx, &domain.ServiceModuleAttachment{
		ID:        uuid.NewString(),
		ServiceID: serviceID,
		ModuleID:  moduleID,
		CreatedAt: time.Now(),
	})
}

// BoundService 是模块绑定服务的只读视图，供渲染与展示使用。
type BoundService struct {
	Name             string `json:"name"`
	SharedFromModule string `json:"shared_from_module,omitempty"`
}

// ListBoundServices 返回模块已绑定的服务，按绑定先后排序。
func (s *AddonService) ListBoundServices(ctx context.Context, moduleID string) ([]BoundService, error) {
	attachments, err := s.repo.FindModuleAttachments(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(attachments, func(i, j int) bool {
		return attachments[i].CreatedAt.Before(attachments[j].CreatedAt)
	})
	out := make([]BoundService, 0, len(attachments))
	for _, a := range attachments {
		svc, err := s.repo.FindService(ctx, a.ServiceID)
		if err != nil {
			return nil, err
		}
		out = append(out, BoundService{Name: svc.Name, SharedFromModule: a.SharedFromModule})
	}
	return out, nil
}

// selectPlan 按绑定策略选出该环境适用的 plan。
func (s *AddonService) selectPlan(ctx context.Context, serviceID string, plans []*domain.AddonPlan, ea *domain.EngineApp, useFirstPlan bool) (*domain.AddonPlan, error) {
	if useFirstPlan {
		return plans[0], nil
	}

	policy, err := s.repo.FindBindingPolicy(ctx, serviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// 无策略时按环境偏好直接挑 plan。
			return pickPlanForEnv(plans, ea.Env)
		}
		return nil, err
	}

	planIDs, err := resolvePlanIDs(policy, ea)
	if err != nil {
		return nil, err
	}
	candidates := make([]*domain.AddonPlan, 0, len(planIDs))
	for _, id := range planIDs {
		for _, p := range plans {
			if p.ID == id {
				candidates = append(candidates, p)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: policy for service %s selected no known plan", domain.ErrPlanNotFound, serviceID)
	}
	return pickPlanForEnv(candidates, ea.Env)
}

// resolvePlanIDs 解析策略：Uniform 优先，其次 per-env，最后按规则优先级匹配。
func resolvePlanIDs(policy *domain.BindingPolicy, ea *domain.EngineApp) ([]string, error) {
	if len(policy.Uniform) > 0 {
		return policy.Uniform, nil
	}
	if ids, ok := policy.PerEnv[ea.Env]; ok && len(ids) > 0 {
		return ids, nil
	}
	if len(policy.Rules) > 0 {
		rules := make([]domain.PrecedencePolicy, len(policy.Rules))
		copy(rules, policy.Rules)
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
		for _, rule := range rules {
			if rule.Matches(ea.Region, ea.Cluster) {
				return rule.PlanIDs, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no binding rule matched region=%s cluster=%s",
		domain.ErrPlanNotFound, ea.Region, ea.Cluster)
}

// pickPlanForEnv 在候选 plan 中优先匹配环境专属项，退回全局项。
func pickPlanForEnv(plans []*domain.AddonPlan, env domain.Environment) (*domain.AddonPlan, error) {
	for _, p := range plans {
		if p.Environment == env {
			return p, nil
		}
	}
	for _, p := range plans {
		if p.Environment == "" {
			return p, nil
		}
	}
	return nil, domain.ErrPlanNotFound
}

// ProvisionEnv 为该环境所有尚未供给的绑定执行供给，部署 Preparation 阶段调用。
func (s *AddonService) ProvisionEnv(ctx context.Context, ea *domain.EngineApp) error {
	attachments, err := s.repo.FindEngineAppAttachments(ctx, ea.ID)
	if err != nil {
		return err
	}
	for _, attachment := range attachments {
		if attachment.Provisioned() {
			continue
		}
		if err := s.provisionAttachment(ctx, attachment, ea); err != nil {
			return err
		}
	}
	return nil
}

func (s *AddonService) provisionAttachment(ctx context.Context, attachment *domain.ServiceEngineAppAttachment, ea *domain.EngineApp) error {
	svc, err := s.repo.FindService(ctx, attachment.ServiceID)
	if err != nil {
		return err
	}
	plan, err := s.findPlan(ctx, attachment.ServiceID, attachment.PlanID)
	if err != nil {
		return err
	}
	provisioner, ok := s.provisioners[svc.Provider]
	if !ok {
		return fmt.Errorf("no provisioner for provider %s", svc.Provider)
	}

	inst, err := provisioner.Provision(ctx, svc, plan, ea)
	if err != nil {
		return err
	}
	if err := s.repo.SaveInstance(ctx, inst); err != nil {
		return err
	}
	attachment.ServiceInstanceID = inst.ID
	attachment.UpdatedAt = time.Now()
	if err := s.repo.UpdateEngineAppAttachment(ctx, attachment); err != nil {
		return err
	}
	slog.Info("provisioned addon instance",
		"service", svc.Name, "engine_app", ea.Name, "instance_id", inst.ID)
	return nil
}

func (s *AddonService) findPlan(ctx context.Context, serviceID, planID string) (*domain.AddonPlan, error) {
	plans, err := s.repo.FindPlans(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		if p.ID == planID {
			return p, nil
		}
	}
	return nil, domain.ErrPlanNotFound
}

// GetEnvVars 汇总该环境所有已供给实例的凭据。
// 按 create_time 升序合并，同名 key 新实例覆盖旧实例。
func (s *AddonService) GetEnvVars(ctx context.Context, ea *domain.EngineApp) (map[string]string, error) {
	attachments, err := s.repo.FindEngineAppAttachments(ctx, ea.ID)
	if err != nil {
		return nil, err
	}

	var instances []*domain.ServiceInstance
	for _, attachment := range attachments {
		if !attachment.Provisioned() {
			continue
		}
		inst, err := s.repo.FindInstance(ctx, attachment.ServiceInstanceID)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].CreateTime.Before(instances[j].CreateTime)
	})

	envs := make(map[string]string)
	for _, inst := range instances {
		for k, v := range inst.Credentials {
			envs[k] = v
		}
	}
	return envs, nil
}

// Unbind 解除环境级绑定。已供给实例按服务偏好走同步回收或进入异步回收队列。
func (s *AddonService) Unbind(ctx context.Context, ea *domain.EngineApp, serviceID string) error {
	attachments, err := s.repo.FindEngineAppAttachments(ctx, ea.ID)
	if err != nil {
		return err
	}
	var target *domain.ServiceEngineAppAttachment
	for _, a := range attachments {
		if a.ServiceID == serviceID {
			target = a
			break
		}
	}
	if target == nil {
		return domain.ErrServiceNotFound
	}

	if target.Provisioned() {
		svc, err := s.repo.FindService(ctx, serviceID)
		if err != nil {
			return err
		}
		if svc.PreferAsyncDelete {
			unbound := &domain.UnboundServiceEngineAppAttachment{
				ID:                uuid.NewString(),
				ServiceID:         serviceID,
				EngineAppID:       ea.ID,
				ServiceInstanceID: target.ServiceInstanceID,
				CreatedAt:         time.Now(),
			}
			if err := s.repo.SaveUnboundAttachment(ctx, unbound); err != nil {
				return err
			}
		} else if provisioner, ok := s.provisioners[svc.Provider]; ok {
			if err := provisioner.Recycle(ctx, svc, target.ServiceInstanceID); err != nil {
				return err
			}
		}
	}

	return s.repo.DeleteEngineAppAttachment(ctx, target.ID)
}

// RecycleUnbound 是后台回收任务的一轮：回收待处理的解绑残留并打标。
// 单条失败只记日志，留待下一轮重试。
func (s *AddonService) RecycleUnbound(ctx context.Context, limit int) {
	pending, err := s.repo.FindPendingUnbound(ctx, limit)
	if err != nil {
		slog.Error("list pending unbound attachments failed", "error", err)
		return
	}
	for _, u := range pending {
		svc, err := s.repo.FindService(ctx, u.ServiceID)
		if err != nil {
			slog.Error("recycle: find service failed", "service_id", u.ServiceID, "error", err)
			continue
		}
		provisioner, ok := s.provisioners[svc.Provider]
		if !ok {
			continue
		}
		if err := provisioner.Recycle(ctx, svc, u.ServiceInstanceID); err != nil {
			slog.Error("recycle instance failed",
				"service", svc.Name, "instance_id", u.ServiceInstanceID, "error", err)
			continue
		}
		if err := s.repo.MarkUnboundRecycled(ctx, u.ID); err != nil {
			slog.Error("mark recycled failed", "id", u.ID, "error", err)
		}
	}
}

func hasServiceAttachment(attachments []*domain.ServiceEngineAppAttachment, serviceID string) bool {
	for _, a := range attachments {
		if a.ServiceID == serviceID {
			return true
		}
	}
	return false
}
