package domain

import (
	"regexp"
	"time"
)

// VersionType 是部署版本的来源类别。
type VersionType string

const (
	VersionBranch  VersionType = "branch"
	VersionTag     VersionType = "tag"
	VersionTrunk   VersionType = "trunk"
	VersionPackage VersionType = "package"
	VersionImage   VersionType = "image"
)

// VersionInfo 描述一次部署的源码/镜像版本。
type VersionInfo struct {
	Revision    string      `json:"revision"`
	VersionName string      `json:"version_name"`
	VersionType VersionType `json:"version_type"`
}

// ReplicasPolicy 决定副本数的取值优先级。
type ReplicasPolicy string

const (
	ReplicasAppDescPriority ReplicasPolicy = "app_desc_priority"
	ReplicasManualPriority  ReplicasPolicy = "manual_priority"
)

// AdvancedOptions 是部署时的可选开关。
type AdvancedOptions struct {
	SourceDir       string         `json:"source_dir,omitempty"`
	ImagePullPolicy string         `json:"image_pull_policy,omitempty"`
	BuildOnly       bool           `json:"build_only,omitempty"`
	SpecialTag      string         `json:"special_tag,omitempty"`
	ReplicasPolicy  ReplicasPolicy `json:"replicas_policy,omitempty"`
}

// DeploymentStatus 是部署的状态机枚举。
// 状态流转：pending → (successful | failed | interrupted)
type DeploymentStatus string

const (
	DeployStatusPending     DeploymentStatus = "pending"
	DeployStatusSuccessful  DeploymentStatus = "successful"
	DeployStatusFailed      DeploymentStatus = "failed"
	DeployStatusInterrupted DeploymentStatus = "interrupted"
)

func (s DeploymentStatus) IsTerminal() bool {
	return s == DeployStatusSuccessful || s == DeployStatusFailed || s == DeployStatusInterrupted
}

// Deployment 代表一次 (module, env) 的部署尝试，append-only。
type Deployment struct {
	ID             string           `json:"id"`
	EnvironmentID  string           `json:"environment_id"`
	AppCode        string           `json:"app_code"`
	ModuleName     string           `json:"module_name"`
	Environment    Environment      `json:"environment"`
	Operator       string           `json:"operator"`
	Version        VersionInfo      `json:"version"`
	Status         DeploymentStatus `json:"status"`
	ErrDetail      string           `json:"err_detail,omitempty"`
	BuildProcessID string           `json:"build_process_id,omitempty"`
	BuildID        string           `json:"build_id,omitempty"`
	ReleaseID      string           `json:"release_id,omitempty"`
	BkAppRevisionID string          `json:"bkapp_revision_id,omitempty"`
	Options        AdvancedOptions  `json:"advanced_options"`

	// 用户中断请求时间。pipeline 在轮询间隙检查这些标记。
	BuildIntRequestedAt   *time.Time `json:"build_int_requested_at,omitempty"`
	ReleaseIntRequestedAt *time.Time `json:"release_int_requested_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PhaseType 是部署的三个阶段。
type PhaseType string

const (
	PhasePreparation PhaseType = "preparation"
	PhaseBuild       PhaseType = "build"
	PhaseRelease     PhaseType = "release"
)

// OrderedPhases 按执行顺序排列。
var OrderedPhases = []PhaseType{PhasePreparation, PhaseBuild, PhaseRelease}

// StepStatus 是 DeployStep / DeployPhase 的状态。
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepSuccessful  StepStatus = "successful"
	StepFailed      StepStatus = "failed"
	StepInterrupted StepStatus = "interrupted"
)

func (s StepStatus) IsTerminal() bool {
	return s == StepSuccessful || s == StepFailed || s == StepInterrupted
}

// DeployStep 是阶段内的一个步骤，依靠日志行的正则匹配驱动状态流转。
type DeployStep struct {
	Name             string     `json:"name"`
	Status           StepStatus `json:"status,omitempty"`
	StartedPatterns  []string   `json:"-"`
	FinishedPatterns []string   `json:"-"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	startedRe  []*regexp.Regexp
	finishedRe []*regexp.Regexp
}

// MatchStarted 判断日志行是否命中本步骤的启动模式。
func (s *DeployStep) MatchStarted(line string) bool {
	if s.startedRe == nil {
		s.startedRe = compilePatterns(s.StartedPatterns)
	}
	return matchAny(s.startedRe, line)
}

// MatchFinished 判断日志行是否命中本步骤的完成模式。
func (s *DeployStep) MatchFinished(line string) bool {
	if s.finishedRe == nil {
		s.finishedRe = compilePatterns(s.FinishedPatterns)
	}
	return matchAny(s.finishedRe, line)
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		res = append(res, re)
	}
	return res
}

func matchAny(res []*regexp.Regexp, line string) bool {
	for _, re := range res {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// DeployPhase 是 Deployment 的一个阶段及其有序步骤集。
type DeployPhase struct {
	DeploymentID string     `json:"deployment_id"`
	Type         PhaseType  `json:"type"`
	Status       StepStatus `json:"status,omitempty"`
	Steps        []*DeployStep `json:"steps"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// AdvanceSteps 将日志行依次喂给各步骤的正则，推进步骤状态。
// 每个步骤在同一状态上至多流转一次。
func (p *DeployPhase) AdvanceSteps(line string, now time.Time) {
	for _, step := range p.Steps {
		if step.Status == "" && step.MatchStarted(line) {
			step.Status = StepPending
			t := now
			step.StartedAt = &t
		}
		if step.Status == StepPending && step.MatchFinished(line) {
			step.Status = StepSuccessful
			t := now
			step.CompletedAt = &t
		}
	}
}

// DefaultPhaseSteps 返回各阶段的内置步骤集（DeployStepMeta）。
func DefaultPhaseSteps(phase PhaseType) []*DeployStep {
	switch phase {
	case PhasePreparation:
		return []*DeployStep{
			{Name: "解析应用描述文件"},
			{Name: "上传仓库代码"},
			{Name: "配置资源实例"},
		}
	case PhaseBuild:
		return []*DeployStep{
			{
				Name:            "下载构建上下文",
				StartedPatterns: []string{"Downloading app source"},
				FinishedPatterns: []string{"Restoring cache", "Building apps"},
			},
			{
				Name:             "构建应用",
				StartedPatterns:  []string{"Building apps", "Step 1/"},
				FinishedPatterns: []string{"Discovering process types", "Successfully built"},
			},
			{
				Name:             "上传镜像",
				StartedPatterns:  []string{"Uploading image", "Pushing image"},
				FinishedPatterns: []string{"Image uploaded", "Pushed image"},
			},
		}
	case PhaseRelease:
		return []*DeployStep{
			{Name: "下发应用模型"},
			{Name: "检测部署结果"},
		}
	}
	return nil
}
