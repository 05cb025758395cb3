package tools

import "encoding/json"

// Result is the outcome of one tool invocation: either Ok with a JSON
// payload or Err with a description. The zero value is not meaningful.
type Result struct {
	tool    string
	payload json.RawMessage
	errMsg  string
	failed  bool
}

func Ok(tool string, payload json.RawMessage) Result {
	return Result{tool: tool, payload: payload}
}

func Err(tool, msg string) Result {
	return Result{tool: tool, errMsg: msg, failed: true}
}

func (r Result) Tool() string { return r.tool }

func (r Result) IsErr() bool { return r.failed }

// Payload is the serialized operation result; nil for Err.
func (r Result) Payload() json.RawMessage {
	if r.failed {
		return nil
	}
	return r.payload
}

// Message is the failure description; empty for Ok.
func (r Result) Message() string { return r.errMsg }

// Content is the text handed back to the model: the payload itself, or an
// error object naming the tool so the model can correct its arguments.
func (r Result) Content() string {
	if !r.failed {
		return string(r.payload)
	}
	b, err := json.Marshal(struct {
		Error string `json:"error"`
		Type  string `json:"type"`
	}{r.errMsg, r.tool})
	if err != nil {
		return `{"error":"unserializable error","type":"` + r.tool + `"}`
	}
	return string(b)
}
