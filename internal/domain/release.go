package domain

import "time"

// Release 是 Build + 渲染配置下发到集群后的不可变记录。
type Release struct {
	ID              string            `json:"id"`
	EngineAppID     string            `json:"engine_app_id"`
	BuildID         string            `json:"build_id"`
	DeploymentID    string            `json:"deployment_id"`
	Version         int               `json:"version"`
	EnvVariables    map[string]string `json:"env_variables,omitempty"`
	Procfile        map[string]string `json:"procfile,omitempty"`
	BkAppRevisionID string            `json:"bkapp_revision_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}
