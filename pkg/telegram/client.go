// Package telegram 封装 telegram-bot-api，只暴露机器人用到的方法，并把消息转换成核心结构。
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ctxbot-go/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageChars 是 Telegram 单条消息的长度上限。
const maxMessageChars = 4096

// BotCommand 是 setMyCommands 中的一条命令。
type BotCommand = tgbotapi.BotCommand

// Client 包装 tgbotapi.BotAPI，为每个调用加上 ctx 取消。
type Client struct {
	bot *tgbotapi.BotAPI
}

// NewClient 创建 Telegram 客户端。apiBase 形如 "https://api.telegram.org"，
// 调用地址为 apiBase + "/bot<token>/<method>"。构造时不会请求 getMe。
func NewClient(apiBase, token string, requestTimeout time.Duration) *Client {
	bot := &tgbotapi.BotAPI{
		Token:  token,
		Client: &http.Client{Timeout: requestTimeout},
		Buffer: 100,
	}
	bot.SetAPIEndpoint(strings.TrimRight(apiBase, "/") + "/bot%s/%s")
	return &Client{bot: bot}
}

// await 在 goroutine 中执行不支持 ctx 的库调用；ctx 结束时立即返回，
// 遗留的请求由 http.Client 的超时兜底。
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// GetMe 返回机器人自身的账号信息。
func (c *Client) GetMe(ctx context.Context) (tgbotapi.User, error) {
	me, err := await(ctx, c.bot.GetMe)
	if err != nil {
		return tgbotapi.User{}, fmt.Errorf("telegram getMe failed: %w", err)
	}
	c.bot.Self = me
	return me, nil
}

// GetUpdates 长轮询新的消息 update，timeout 单位为秒。
func (c *Client) GetUpdates(ctx context.Context, offset, timeout int) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = timeout
	cfg.AllowedUpdates = []string{"message"}
	updates, err := await(ctx, func() ([]tgbotapi.Update, error) { return c.bot.GetUpdates(cfg) })
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates failed: %w", err)
	}
	return updates, nil
}

// SendMessage 发送文本消息；replyTo 非 0 时作为对该消息的回复。
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (*tgbotapi.Message, error) {
	cfg := tgbotapi.NewMessage(chatID, truncate(text, maxMessageChars))
	if replyTo != 0 {
		cfg.ReplyToMessageID = int(replyTo)
		cfg.AllowSendingWithoutReply = true
	}
	m, err := await(ctx, func() (tgbotapi.Message, error) { return c.bot.Send(cfg) })
	if err != nil {
		return nil, fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	return &m, nil
}

// EditMessageText 修改已发送消息的文本，返回编辑后的消息（带 edit_date）。
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) (*tgbotapi.Message, error) {
	cfg := tgbotapi.NewEditMessageText(chatID, int(messageID), truncate(text, maxMessageChars))
	m, err := await(ctx, func() (tgbotapi.Message, error) { return c.bot.Send(cfg) })
	if err != nil {
		return nil, fmt.Errorf("telegram editMessageText failed: %w", err)
	}
	return &m, nil
}

// SetMyCommands 注册命令列表，供客户端展示补全。
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := await(ctx, func() (*tgbotapi.APIResponse, error) { return c.bot.Request(cfg) }); err != nil {
		return fmt.Errorf("telegram setMyCommands failed: %w", err)
	}
	return nil
}

// IsNotModified 判断编辑失败是否只是因为文本没有变化。
func IsNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "message is not modified")
}

// ToChatMessage 把 Telegram 消息转换成核心使用的消息结构。
func ToChatMessage(m *tgbotapi.Message) model.ChatMessage {
	msg := model.ChatMessage{
		MessageID: int64(m.MessageID),
		Text:      m.Text,
		Date:      time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.Chat != nil {
		msg.Chat = model.Chat{ID: m.Chat.ID, Type: m.Chat.Type}
	}
	if m.EditDate != 0 {
		msg.EditDate = time.Unix(int64(m.EditDate), 0).UTC()
	}
	if m.From != nil {
		msg.From = model.Author{
			ID:           m.From.ID,
			Username:     m.From.UserName,
			FirstName:    m.From.FirstName,
			LastName:     m.From.LastName,
			LanguageCode: m.From.LanguageCode,
		}
	}
	if m.ReplyToMessage != nil {
		parent := ToChatMessage(m.ReplyToMessage)
		msg.ReplyTo = &parent
	}
	for _, e := range m.Entities {
		msg.Entities = append(msg.Entities, model.Entity{Type: e.Type, Offset: e.Offset, Length: e.Length})
	}
	return msg
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
