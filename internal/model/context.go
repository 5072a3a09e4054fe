package model

// 上下文条目的角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContextEntry 是交给生成模型的一条带角色的文本，仅在一次请求中存在，不落库。
type ContextEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
