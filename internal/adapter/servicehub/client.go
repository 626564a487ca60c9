// Package servicehub 对接进程外的增强服务中心。
package servicehub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// ProvisionInstanceError 表示服务中心拒绝或未能完成供给。
type ProvisionInstanceError struct {
	ServiceName string
	StatusCode  int
	Detail      string
}

func (e *ProvisionInstanceError) Error() string {
	return fmt.Sprintf("provision instance for service %s failed (status %d): %s",
		e.ServiceName, e.StatusCode, e.Detail)
}

// RemoteProvisioner 经 HTTPS 调用服务中心供给/回收实例。
type RemoteProvisioner struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ port.AddonProvisioner = (*RemoteProvisioner)(nil)

func NewRemoteProvisioner(baseURL, token string) *RemoteProvisioner {
	return &RemoteProvisioner{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type provisionRequest struct {
	ServiceID   string `json:"service_id"`
	PlanID      string `json:"plan_id"`
	EngineApp   string `json:"engine_app_name"`
	Region      string `json:"region"`
	Environment string `json:"environment"`
	TenantID    string `json:"tenant_id,omitempty"`
}

type provisionResponse struct {
	UUID               string            `json:"uuid"`
	Credentials        map[string]string `json:"credentials"`
	Config             map[string]string `json:"config"`
	TenantID           string            `json:"tenant_id"`
	ShouldHiddenFields []string          `json:"should_hidden_fields"`
	ShouldRemoveFields []string          `json:"should_remove_fields"`
	CreateTime         time.Time         `json:"create_time"`
}

func (p *RemoteProvisioner) Provision(ctx context.Context, svc *domain.AddonService, plan *domain.AddonPlan, engineApp *domain.EngineApp) (*domain.ServiceInstance, error) {
	body, err := json.Marshal(provisionRequest{
		ServiceID:   svc.ID,
		PlanID:      plan.ID,
		EngineApp:   engineApp.Name,
		Region:      engineApp.Region,
		Environment: string(engineApp.Env),
		TenantID:    engineApp.TenantID,
	})
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/services/%s/instances/", p.baseURL, svc.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("servicehub: build request: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("servicehub: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail := decodeErrorDetail(resp)
		return nil, &ProvisionInstanceError{
			ServiceName: svc.Name, StatusCode: resp.StatusCode, Detail: detail,
		}
	}

	var result provisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("servicehub: decode response: %w", err)
	}

	createTime := result.CreateTime
	if createTime.IsZero() {
		createTime = time.Now()
	}
	return &domain.ServiceInstance{
		ID:                 result.UUID,
		ServiceID:          svc.ID,
		PlanID:             plan.ID,
		Credentials:        result.Credentials,
		Config:             result.Config,
		TenantID:           result.TenantID,
		ShouldHiddenFields: result.ShouldHiddenFields,
		ShouldRemoveFields: result.ShouldRemoveFields,
		CreateTime:         createTime,
	}, nil
}

// Recycle 删除远端实例。404 视为已回收。
func (p *RemoteProvisioner) Recycle(ctx context.Context, svc *domain.AddonService, instanceID string) error {
	reqURL := fmt.Sprintf("%s/services/%s/instances/%s/", p.baseURL, svc.ID, instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return fmt.Errorf("servicehub: build request: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("servicehub: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("servicehub: recycle instance %s: unexpected status %d", instanceID, resp.StatusCode)
	}
}

func (p *RemoteProvisioner) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
}

func decodeErrorDetail(resp *http.Response) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Detail == "" {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return payload.Detail
}

// LocalProvisioner 由内部 Plan 直接生成凭据，不出进程。
// Plan 的 Properties 即实例凭据模板。
type LocalProvisioner struct{}

var _ port.AddonProvisioner = (*LocalProvisioner)(nil)

func NewLocalProvisioner() *LocalProvisioner { return &LocalProvisioner{} }

func (p *LocalProvisioner) Provision(_ context.Context, svc *domain.AddonService, plan *domain.AddonPlan, engineApp *domain.EngineApp) (*domain.ServiceInstance, error) {
	credentials := make(map[string]string, len(plan.Properties))
	for k, v := range plan.Properties {
		credentials[k] = v
	}
	// 每实例独立的资源标识，避免同 plan 的环境相互覆盖。
	credentials["INSTANCE_NAME"] = fmt.Sprintf("%s-%s", engineApp.Name, uuid.NewString()[:8])

	return &domain.ServiceInstance{
		ID:          uuid.NewString(),
		ServiceID:   svc.ID,
		PlanID:      plan.ID,
		Credentials: credentials,
		TenantID:    engineApp.TenantID,
		CreateTime:  time.Now(),
	}, nil
}

func (p *LocalProvisioner) Recycle(_ context.Context, _ *domain.AddonService, _ string) error {
	// 本地实例没有外部资源，记录删除即回收完成。
	return nil
}
