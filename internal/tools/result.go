package tools

import "github.com/syneagent/syne/internal/providers"

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`            // content sent to the LLM
	ForUser string `json:"for_user,omitempty"`  // content shown to the user
	Silent  bool   `json:"silent"`              // suppress user message
	IsError bool   `json:"is_error"`            // marks error
	Async   bool   `json:"async"`               // running asynchronously
	Err     error  `json:"-"`                   // internal error (not serialized)

	// MediaPath is set when the tool produced a file the channel should
	// deliver alongside the text (outbound's "MEDIA:" directive convention).
	MediaPath string `json:"-"`

	// Usage holds token usage from tools that make internal LLM calls.
	// The agent loop does not read these three fields.
	Usage    *providers.Usage `json:"-"`
	Provider string           `json:"-"` // provider name of the internal call
	Model    string           `json:"-"` // model of the internal call
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func AsyncResult(message string) *Result {
	return &Result{ForLLM: message, Async: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
