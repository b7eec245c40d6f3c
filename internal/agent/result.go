package agent

import (
	"fmt"

	xerrors "OpenAgent-Loop/internal/errors"
)

// ResultStatus 标记一次执行循环的结局，三种取值互斥。
type ResultStatus string

const (
	StatusSuccess            ResultStatus = "success"
	StatusError              ResultStatus = "error"
	StatusInterruptedByHuman ResultStatus = "interrupted_by_human"
)

// ActionResult 是一次命令执行的最终结果，每个执行循环恰好产生一个。
type ActionResult struct {
	Status   ResultStatus `json:"status"`
	Outputs  any          `json:"outputs,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Err      error        `json:"-"`
	Feedback string       `json:"feedback,omitempty"`
}

// Success 构造成功结果。
func Success(outputs any) *ActionResult {
	return &ActionResult{Status: StatusSuccess, Outputs: outputs}
}

// ErrorReason 构造带有说明的失败结果。
func ErrorReason(reason string) *ActionResult {
	return &ActionResult{Status: StatusError, Reason: reason}
}

// ErrorFrom 从错误构造失败结果，保留结构化错误供上层检查。
func ErrorFrom(err error) *ActionResult {
	reason := ""
	if structured, ok := xerrors.From(err); ok {
		reason = structured.Message()
	} else if err != nil {
		reason = err.Error()
	}
	return &ActionResult{Status: StatusError, Reason: reason, Err: err}
}

// Interrupted 构造被人工打断的结果，原样保留用户反馈。
func Interrupted(feedback string) *ActionResult {
	return &ActionResult{Status: StatusInterruptedByHuman, Feedback: feedback}
}

// String 将结果渲染为提供给模型的文本，也用于输出规模估算。
func (r *ActionResult) String() string {
	if r == nil {
		return ""
	}
	switch r.Status {
	case StatusSuccess:
		return fmt.Sprintf("%v", r.Outputs)
	case StatusError:
		if r.Err != nil {
			return fmt.Sprintf("Action failed: %s (%v)", r.Reason, r.Err)
		}
		return fmt.Sprintf("Action failed: %s", r.Reason)
	case StatusInterruptedByHuman:
		return fmt.Sprintf("The user interrupted the action with the following feedback: %s", r.Feedback)
	default:
		return ""
	}
}
