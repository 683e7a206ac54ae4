package runtime

import "fmt"

// ConfigErrorCode identifies flow graph construction failures. These are
// fatal at assembly/resolution time and never retried.
type ConfigErrorCode string

const (
	ErrorCodeDuplicateStep   ConfigErrorCode = "DUPLICATE_STEP"
	ErrorCodeMissingStart    ConfigErrorCode = "MISSING_START_STEP"
	ErrorCodeUnresolvedStep  ConfigErrorCode = "UNRESOLVED_STEP"
	ErrorCodeInvalidStep     ConfigErrorCode = "INVALID_STEP"
	ErrorCodeRollbackBudget  ConfigErrorCode = "ROLLBACK_BUDGET_EXHAUSTED"
	ErrorCodeUnknownTask     ConfigErrorCode = "UNKNOWN_TASK"
	ErrorCodeInvalidFlowFile ConfigErrorCode = "INVALID_FLOW_FILE"
)

// ConfigError reports an invalid flow graph or flow definition.
type ConfigError struct {
	Code    ConfigErrorCode
	Step    string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (step: %s)", e.Code, e.Message, e.Step)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func newConfigError(code ConfigErrorCode, step, format string, args ...any) *ConfigError {
	return &ConfigError{
		Code:    code,
		Step:    step,
		Message: fmt.Sprintf(format, args...),
	}
}
