package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatMessage_Mentions(t *testing.T) {
	// "é" 与 emoji 会让 rune 偏移和 UTF-16 偏移不同
	msg := ChatMessage{
		Text: "héllo 👋 @ctxbot and @other",
		Entities: []Entity{
			{Type: "mention", Offset: 9, Length: 7},
			{Type: "bold", Offset: 0, Length: 5},
			{Type: "mention", Offset: 21, Length: 6},
			{Type: "mention", Offset: 40, Length: 3},
		},
	}
	assert.Equal(t, []string{"@ctxbot", "@other"}, msg.Mentions())
}

func TestChatMessage_Command(t *testing.T) {
	assert.Equal(t, "clear", ChatMessage{Text: "/clear"}.Command())
	assert.Equal(t, "help", ChatMessage{Text: "/Help@ctxbot please"}.Command())
	assert.Equal(t, "", ChatMessage{Text: "hello /clear"}.Command())
}

func TestBotIdentity_Matches(t *testing.T) {
	handle := "CtxBot"
	bot := BotIdentity{ID: 42, Username: "ctxbot"}

	assert.True(t, bot.Matches(&User{ID: 42}))
	assert.True(t, bot.Matches(&User{ID: 7, Username: &handle}))
	assert.False(t, bot.Matches(&User{ID: 7}))
	assert.False(t, bot.Matches(nil))
}

func TestUser_DisplayName(t *testing.T) {
	handle := "alice"
	assert.Equal(t, "Alice Smith", User{ID: 1, FirstName: "Alice", LastName: "Smith", Username: &handle}.DisplayName())
	assert.Equal(t, "@alice", User{ID: 1, Username: &handle}.DisplayName())
	assert.Equal(t, "user 1", User{ID: 1}.DisplayName())
}
