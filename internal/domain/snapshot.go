package domain

// InstanceSnapshot 是一个运行实例（Pod）的即时状态。
type InstanceSnapshot struct {
	Name         string `json:"name"`
	ProcessType  string `json:"process_type"`
	Host         string `json:"host,omitempty"`
	State        string `json:"state"` // Pending / Running / Succeeded / Failed / Unknown
	Ready        bool   `json:"ready"`
	Image        string `json:"image,omitempty"`
	RestartCount int32  `json:"restart_count"`
	Version      string `json:"version,omitempty"`
}

// ProcessSnapshot 是一个逻辑进程及其实例的即时状态，由集群直接读出。
type ProcessSnapshot struct {
	Type           string             `json:"type"`
	ModuleName     string             `json:"module_name,omitempty"`
	DeploymentName string             `json:"deployment_name"`
	Replicas       int32              `json:"replicas"`
	Available      int32              `json:"available"`
	Instances      []InstanceSnapshot `json:"instances"`
}

// ProcessesInfo 是一次 list 的完整结果。rv_* 供后续 watch 续传。
type ProcessesInfo struct {
	Processes []ProcessSnapshot `json:"processes"`
	RvProc    string            `json:"rv_proc"`
	RvInst    string            `json:"rv_inst"`
}

// WatchEventType 对齐 Kubernetes watch 的事件类别。
type WatchEventType string

const (
	WatchAdded    WatchEventType = "added"
	WatchModified WatchEventType = "modified"
	WatchDeleted  WatchEventType = "deleted"
)

// WatchObjectKind 标记事件载荷是进程还是实例。
type WatchObjectKind string

const (
	WatchObjectProcess  WatchObjectKind = "process"
	WatchObjectInstance WatchObjectKind = "instance"
)

// ProcessWatchEvent 是合并后的 watch 事件流上的单条事件。
type ProcessWatchEvent struct {
	Type     WatchEventType    `json:"type"`
	Kind     WatchObjectKind   `json:"object_type"`
	Process  *ProcessSnapshot  `json:"process,omitempty"`
	Instance *InstanceSnapshot `json:"instance,omitempty"`
	// Error 非空表示 watch 流异常终止。
	Error string `json:"error,omitempty"`
}
