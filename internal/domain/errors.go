package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrPrecondition  = errors.New("precondition failed")

	ErrAppNotFound        = fmt.Errorf("application %w", ErrNotFound)
	ErrModuleNotFound     = fmt.Errorf("module %w", ErrNotFound)
	ErrEnvNotFound        = fmt.Errorf("environment %w", ErrNotFound)
	ErrDeploymentNotFound = fmt.Errorf("deployment %w", ErrNotFound)
	ErrBuildNotFound      = fmt.Errorf("build %w", ErrNotFound)
	ErrReleaseNotFound    = fmt.Errorf("release %w", ErrNotFound)
	ErrProcessNotFound    = fmt.Errorf("process %w", ErrNotFound)
	ErrServiceNotFound    = fmt.Errorf("service %w", ErrNotFound)
	ErrPlanNotFound       = fmt.Errorf("plan %w", ErrNotFound)

	// ErrDeployInProgress：同一环境同一时刻只允许一个活跃部署。
	ErrDeployInProgress = fmt.Errorf("%w: 环境部署中", ErrPrecondition)
	// ErrEnvOfflined：已下架环境拒绝进程操作与新部署。
	ErrEnvOfflined = fmt.Errorf("%w: environment is offlined", ErrPrecondition)
	// ErrOperationTooOften：同一进程的连续操作间隔过短。
	ErrOperationTooOften = fmt.Errorf("%w: process operation too often", ErrPrecondition)
	// ErrScaleExceedsPlan：目标副本数超出方案上限。
	ErrScaleExceedsPlan = fmt.Errorf("%w: replicas exceeds plan max_replicas", ErrInvalidInput)
	// ErrPlanImmutable：已供给实例的绑定不允许换 plan。
	ErrPlanImmutable = fmt.Errorf("%w: plan is immutable after provisioning", ErrPrecondition)
	// ErrStaleDeployment：释放锁时携带的部署 id 与当前记录不一致。
	ErrStaleDeployment = fmt.Errorf("%w: deployment does not match current owner", ErrPrecondition)
)

// DeployAbortError 是应中止部署、且原因可直接透出给用户的错误。
type DeployAbortError struct {
	Reason string
	Err    error
}

func (e *DeployAbortError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DeployAbortError) Unwrap() error { return e.Err }

// AbortDeploy 构造一个 DeployAbortError。
func AbortDeploy(reason string, err error) *DeployAbortError {
	return &DeployAbortError{Reason: reason, Err: err}
}

// UnknownErrorMessage 是内部错误透出给用户的统一文案，完整堆栈只进日志。
const UnknownErrorMessage = "Unknown error, please retry"

// UserFacingReason 提取错误的用户可见文案：
// DeployAbortError 原样透出，其余一律掩码。
func UserFacingReason(err error) string {
	var abort *DeployAbortError
	if errors.As(err, &abort) {
		return abort.Reason
	}
	return UnknownErrorMessage
}

// DescriptionValidationError 携带描述文件校验失败的字段路径。
type DescriptionValidationError struct {
	FieldPath string
	Message   string
}

func (e *DescriptionValidationError) Error() string {
	return fmt.Sprintf("invalid app description at %s: %s", e.FieldPath, e.Message)
}

func (e *DescriptionValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}
