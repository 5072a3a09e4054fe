package model

import (
	"strings"
	"time"
	"unicode/utf16"
)

// Chat 类型，与 Telegram 的 chat.type 取值一致。
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
)

// Chat 描述消息所在的会话。
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Author 是传输层提供的发送者信息。
type Author struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// Entity 是消息文本中的一个标注片段。Offset 与 Length 以 UTF-16 code unit 计。
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// ChatMessage 是传输层（Telegram、WebSocket）交给核心的消息结构。
type ChatMessage struct {
	MessageID int64        `json:"messageId"`
	Chat      Chat         `json:"chat"`
	From      Author       `json:"from"`
	ReplyTo   *ChatMessage `json:"replyTo,omitempty"`
	Text      string       `json:"text"`
	Date      time.Time    `json:"date"`
	EditDate  time.Time    `json:"editDate,omitempty"`
	Entities  []Entity     `json:"entities,omitempty"`
}

// IsPrivate 判断是否为私聊。
func (m ChatMessage) IsPrivate() bool {
	return m.Chat.Type == ChatTypePrivate
}

// Mentions 返回文本中所有 mention 实体，形如 "@username"。
func (m ChatMessage) Mentions() []string {
	if len(m.Entities) == 0 {
		return nil
	}
	units := utf16.Encode([]rune(m.Text))
	var mentions []string
	for _, e := range m.Entities {
		if e.Type != "mention" || e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
			continue
		}
		mentions = append(mentions, string(utf16.Decode(units[e.Offset:e.Offset+e.Length])))
	}
	return mentions
}

// Command 返回消息开头的命令名（不含 "/" 与 "@bot" 后缀），非命令时返回空串。
func (m ChatMessage) Command() string {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

// BotIdentity 标识机器人自身，用于区分 assistant 与 user 角色。
type BotIdentity struct {
	ID       int64
	Username string
}

// Matches 判断 user 是否为机器人本身：ID 相同，或 handle 非空且相同。
func (b BotIdentity) Matches(u *User) bool {
	if u == nil {
		return false
	}
	if b.ID != 0 && u.ID == b.ID {
		return true
	}
	return b.Username != "" && u.Username != nil && strings.EqualFold(*u.Username, b.Username)
}
