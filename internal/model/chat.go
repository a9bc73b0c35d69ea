package model

import "encoding/json"

// FallbackReason 说明为何没有使用检索上下文回答问题。
type FallbackReason string

const (
	ReasonNoContext         FallbackReason = "no_context"
	ReasonEmbeddingMismatch FallbackReason = "embedding_mismatch"
	ReasonException         FallbackReason = "exception"
)

// ChatResponse 是问答接口的统一返回结构。
// 正常回答只包含 answer/sources；降级回答额外带 fallback/reason/error；
// 连降级生成都失败时只包含 status/message。
type ChatResponse struct {
	Answer   string         `json:"answer,omitempty"`
	Sources  []string       `json:"sources"`
	Fallback bool           `json:"fallback,omitempty"`
	Reason   FallbackReason `json:"reason,omitempty"`
	Error    string         `json:"error,omitempty"`
	Status   string         `json:"status,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// IsTerminalError 表示这是一个终止性的错误结果，没有可用的回答。
func (r ChatResponse) IsTerminalError() bool {
	return r.Status == "error"
}

// MarshalJSON 让终止性错误结果只输出 status/message 两个字段。
func (r ChatResponse) MarshalJSON() ([]byte, error) {
	if r.IsTerminalError() {
		return json.Marshal(struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}{r.Status, r.Message})
	}
	type plain ChatResponse
	p := plain(r)
	if p.Sources == nil {
		p.Sources = []string{}
	}
	return json.Marshal(p)
}
