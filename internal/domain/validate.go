package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

// appCodeRegex：应用 code 与模块名共用的命名约束。
var appCodeRegex = regexp.MustCompile(`^[a-z0-9-]{1,16}$`)

// ValidateAppCode 校验应用 code。
func ValidateAppCode(code string) error {
	if !appCodeRegex.MatchString(code) {
		return fmt.Errorf("%w: app code %q must match [a-z0-9-]{1,16}", ErrInvalidInput, code)
	}
	return nil
}

// ValidateModuleName 校验模块名。
func ValidateModuleName(name string) error {
	if !appCodeRegex.MatchString(name) {
		return fmt.Errorf("%w: module name %q must match [a-z0-9-]{1,16}", ErrInvalidInput, name)
	}
	return nil
}

var processNameRegex = regexp.MustCompile(`^[a-z0-9]([-a-z0-9])*$`)

const maxProcessNameLen = 12

// ValidateProcessName 校验进程名：小写字母数字连字符，≤12 字符。
func ValidateProcessName(name string) error {
	if len(name) == 0 || len(name) > maxProcessNameLen || !processNameRegex.MatchString(name) {
		return fmt.Errorf("%w: process name %q must match ^[a-z0-9]([-a-z0-9])*$ and be at most %d chars",
			ErrInvalidInput, name, maxProcessNameLen)
	}
	return nil
}

// ValidateTargetPort 校验 ProcService.TargetPort：
// "${PORT}" 字面量，或 1..65535 的端口号。
func ValidateTargetPort(port string) error {
	if port == VarPORT {
		return nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%w: targetPort %q must be 1..65535 or the literal %s", ErrInvalidInput, port, VarPORT)
	}
	return nil
}

// ValidateProcServices 校验模块全部进程的服务声明：端口与协议合法，
// 且每种 exposedType 在模块所有进程之间至多出现一次。
// Protocol 为空表示取默认值 TCP，渲染层补齐。
func ValidateProcServices(processes []*Process) error {
	exposedBy := map[string]string{}
	for _, proc := range processes {
		for _, svc := range proc.Services {
			if err := ValidateTargetPort(svc.TargetPort); err != nil {
				return err
			}
			if svc.Protocol != "" && svc.Protocol != "TCP" && svc.Protocol != "UDP" {
				return fmt.Errorf("%w: service %q protocol must be TCP or UDP", ErrInvalidInput, svc.Name)
			}
			if svc.ExposedType == nil {
				continue
			}
			if prev, ok := exposedBy[svc.ExposedType.Name]; ok {
				return fmt.Errorf("%w: exposed type %s already declared by process %q",
					ErrInvalidInput, svc.ExposedType.Name, prev)
			}
			exposedBy[svc.ExposedType.Name] = proc.Name
		}
	}
	return nil
}
