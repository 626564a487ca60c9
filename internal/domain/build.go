package domain

import "time"

// BuildStatus 是 BuildProcess 的状态机枚举。
// 状态流转：pending → (successful | failed | interrupted)
type BuildStatus string

const (
	BuildPending     BuildStatus = "pending"
	BuildSuccessful  BuildStatus = "successful"
	BuildFailed      BuildStatus = "failed"
	BuildInterrupted BuildStatus = "interrupted"
)

func (s BuildStatus) IsTerminal() bool {
	return s == BuildSuccessful || s == BuildFailed || s == BuildInterrupted
}

// BuildpackInfo 描述构建所需的单个 buildpack。
type BuildpackInfo struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Version string `json:"version"`
}

// BuildProcess 代表一次进行中的镜像构建，对应集群里的单发 slug Pod。
type BuildProcess struct {
	ID            string          `json:"id"`
	Owner         string          `json:"owner"`
	EngineAppID   string          `json:"engine_app_id"`
	DeploymentID  string          `json:"deployment_id"`
	BuilderImage  string          `json:"builder_image"`
	SourceTarPath string          `json:"source_tar_path"`
	Version       VersionInfo     `json:"version"`
	Buildpacks    []BuildpackInfo `json:"buildpacks,omitempty"`
	Status        BuildStatus     `json:"status"`
	PodName       string          `json:"pod_name,omitempty"`
	LogLines      string          `json:"log_lines,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Build 是构建成功后的不可变产物：镜像 + procfile。
type Build struct {
	ID              string            `json:"id"`
	BuildProcessID  string            `json:"build_process_id"`
	EngineAppID     string            `json:"engine_app_id"`
	Image           string            `json:"image"`
	Procfile        map[string]string `json:"procfile,omitempty"`
	BkAppRevisionID string            `json:"bkapp_revision_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}
