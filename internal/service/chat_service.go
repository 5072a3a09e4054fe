package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ctxbot-go/internal/config"
	"ctxbot-go/internal/model"
	"ctxbot-go/internal/repository"
	"ctxbot-go/pkg/llm"
	"ctxbot-go/pkg/lock"
	"ctxbot-go/pkg/log"

	"go.uber.org/zap"
)

// Command 是机器人支持的一条斜杠命令。
type Command struct {
	Name        string
	Description string
}

// Commands 列出了机器人支持的命令，同时用于 /help 与 Telegram setMyCommands。
var Commands = []Command{
	{Name: "help", Description: "Show the available commands"},
	{Name: "clear", Description: "Clear the chat history"},
}

const (
	clearingText = "Clearing chat history..."
	clearedText  = "Chat history cleared."
)

// Replier 是聊天传输层发送与编辑消息的能力。返回的消息是传输层实际发出的版本。
type Replier interface {
	Reply(ctx context.Context, to model.ChatMessage, text string) (model.ChatMessage, error)
	Edit(ctx context.Context, sent model.ChatMessage, text string) (model.ChatMessage, error)
}

// ChatService 定义了聊天传输层调用的操作。
type ChatService interface {
	// HandleText 处理一条收到的文本消息：命令、记录、判断是否回复、流式生成并记录最终回复。
	HandleText(ctx context.Context, msg model.ChatMessage, replier Replier) error
	RecordIncoming(ctx context.Context, msg model.ChatMessage) error
	RecordOutgoingFinal(ctx context.Context, msg model.ChatMessage, repliedToID int64) error
	ClearHistory(ctx context.Context, chatID int64) error
	BuildContext(ctx context.Context, req ContextRequest) ([]model.ContextEntry, error)
	Bot() model.BotIdentity
}

// ChatOptions 配置 ChatService。
type ChatOptions struct {
	Bot          model.BotIdentity
	Settings     config.BotConfig
	EditInterval time.Duration
	SystemPrompt string
	Generation   *llm.GenerationParams
}

type chatService struct {
	messageRepo    repository.MessageRepository
	contextService ContextService
	llmClient      llm.Client
	locker         lock.Locker
	opts           ChatOptions
}

// NewChatService 创建一个新的 ChatService 实例。locker 为 nil 时使用进程内锁。
func NewChatService(messageRepo repository.MessageRepository, contextService ContextService, llmClient llm.Client, locker lock.Locker, opts ChatOptions) ChatService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if opts.Settings.Placeholder == "" {
		opts.Settings.Placeholder = "I'm thinking..."
	}
	if opts.Settings.ApologyText == "" {
		opts.Settings.ApologyText = "I'm sorry, I got confused. Please try again."
	}
	return &chatService{
		messageRepo:    messageRepo,
		contextService: contextService,
		llmClient:      llmClient,
		locker:         locker,
		opts:           opts,
	}
}

func (s *chatService) Bot() model.BotIdentity {
	return s.opts.Bot
}

func (s *chatService) RecordIncoming(ctx context.Context, msg model.ChatMessage) error {
	return s.messageRepo.AddMessage(ctx, msg, false, nil)
}

// RecordOutgoingFinal 使用编辑时间记录最终回复，并显式指向被回复的消息。
func (s *chatService) RecordOutgoingFinal(ctx context.Context, msg model.ChatMessage, repliedToID int64) error {
	return s.messageRepo.AddMessage(ctx, msg, true, &repliedToID)
}

func (s *chatService) ClearHistory(ctx context.Context, chatID int64) error {
	return s.messageRepo.ClearHistory(ctx, chatID)
}

func (s *chatService) BuildContext(ctx context.Context, req ContextRequest) ([]model.ContextEntry, error) {
	return s.contextService.BuildContext(ctx, req)
}

func (s *chatService) HandleText(ctx context.Context, msg model.ChatMessage, replier Replier) error {
	span := log.Span(msg.Chat.ID, msg.MessageID)

	unlock, err := s.locker.Lock(ctx, fmt.Sprintf("chat:%d", msg.Chat.ID))
	if err != nil {
		return fmt.Errorf("failed to lock chat %d: %w", msg.Chat.ID, err)
	}
	defer unlock()

	switch s.commandOf(msg) {
	case "help", "start":
		span.Info("/help command called")
		return s.help(ctx, msg, replier)
	case "clear":
		span.Info("/clear command called")
		return s.clear(ctx, msg, replier)
	}

	span.Info("Received text message")
	if err := s.RecordIncoming(ctx, msg); err != nil {
		span.Errorw("failed to record incoming message", "error", err)
		return err
	}

	if !s.shouldReply(msg) {
		span.Info("Message not intended for the bot")
		return nil
	}

	reply, err := replier.Reply(ctx, msg, s.opts.Settings.Placeholder)
	if err != nil {
		span.Errorw("failed to send placeholder", "error", err)
		return err
	}

	final, genErr := s.generate(ctx, span, msg, reply, replier)
	if genErr != nil {
		span.Errorw("Error handling text message", "error", genErr)
		if edited, err := replier.Edit(ctx, final, s.opts.Settings.ApologyText); err != nil {
			span.Warnw("failed to send apology", "error", err)
		} else {
			final = edited
		}
	}

	// 即使请求已被取消，也要记录已经发出的回复
	if err := s.RecordOutgoingFinal(context.WithoutCancel(ctx), final, msg.MessageID); err != nil {
		span.Errorw("failed to record final reply", "error", err)
		if genErr == nil {
			return err
		}
	}
	return genErr
}

// commandOf 返回发给本机器人的命令名。/cmd@other_bot 不算。
func (s *chatService) commandOf(msg model.ChatMessage) string {
	cmd := msg.Command()
	if cmd == "" {
		return ""
	}
	first := strings.Fields(strings.TrimSpace(msg.Text))[0]
	if i := strings.IndexByte(first, '@'); i >= 0 {
		target := first[i+1:]
		if s.opts.Bot.Username == "" || !strings.EqualFold(target, s.opts.Bot.Username) {
			return ""
		}
	}
	return cmd
}

// shouldReply 私聊总是回复；群聊中仅当回复了机器人或 @ 了机器人时回复。
func (s *chatService) shouldReply(msg model.ChatMessage) bool {
	if msg.IsPrivate() {
		return true
	}
	bot := s.opts.Bot
	if msg.ReplyTo != nil {
		from := msg.ReplyTo.From
		if (bot.ID != 0 && from.ID == bot.ID) || (bot.Username != "" && strings.EqualFold(from.Username, bot.Username)) {
			return true
		}
	}
	if bot.Username == "" {
		return false
	}
	want := "@" + bot.Username
	for _, m := range msg.Mentions() {
		if strings.EqualFold(m, want) {
			return true
		}
	}
	return false
}

// generate 组装上下文并流式生成回复，返回最后一次编辑后的消息。
// 出错时返回的消息仍是当前可编辑的回复。
func (s *chatService) generate(ctx context.Context, span *zap.SugaredLogger, msg, reply model.ChatMessage, replier Replier) (model.ChatMessage, error) {
	settings := s.opts.Settings
	entries, err := s.contextService.BuildContext(ctx, ContextRequest{
		ChatID:        msg.Chat.ID,
		IncomingText:  msg.Text,
		HistoryWindow: settings.HistoryWindow,
		TopK:          settings.TopK,
		MinSimilarity: settings.MinSimilarity,
		Bot:           s.opts.Bot,
	})
	if err != nil {
		return reply, fmt.Errorf("failed to build context: %w", err)
	}
	span.Debugw("context assembled", "entries", len(entries))

	messages := make([]llm.Message, 0, len(entries)+1)
	if s.opts.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: model.RoleSystem, Content: s.opts.SystemPrompt})
	}
	for _, e := range entries {
		messages = append(messages, llm.Message{Role: e.Role, Content: e.Content})
	}

	w := &editingWriter{
		ctx:      ctx,
		replier:  replier,
		current:  reply,
		shown:    settings.Placeholder,
		interval: s.opts.EditInterval,
		lastEdit: time.Now(),
	}
	if err := s.llmClient.StreamChatMessages(ctx, messages, s.opts.Generation, w); err != nil {
		return w.message(), err
	}
	return w.flush()
}

// editingWriter 把流式分块累积成完整文本，并按时间间隔编辑占位消息。
type editingWriter struct {
	ctx      context.Context
	replier  Replier
	interval time.Duration

	mu       sync.Mutex
	buf      strings.Builder
	current  model.ChatMessage
	shown    string
	lastEdit time.Time
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *editingWriter) WriteMessage(_ int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(data)
	if time.Since(w.lastEdit) < w.interval {
		return nil
	}
	return w.editLocked()
}

func (w *editingWriter) editLocked() error {
	text := strings.TrimSpace(w.buf.String())
	if text == "" || text == w.shown {
		return nil
	}
	edited, err := w.replier.Edit(w.ctx, w.current, text)
	if err != nil {
		return fmt.Errorf("failed to edit reply: %w", err)
	}
	w.current = edited
	w.shown = text
	w.lastEdit = time.Now()
	return nil
}

// flush 做最后一次编辑，保证最终文本完整显示。
func (w *editingWriter) flush() (model.ChatMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if strings.TrimSpace(w.buf.String()) == "" {
		return w.current, errors.New("model returned an empty response")
	}
	if err := w.editLocked(); err != nil {
		return w.current, err
	}
	return w.current, nil
}

func (w *editingWriter) message() model.ChatMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (s *chatService) help(ctx context.Context, msg model.ChatMessage, replier Replier) error {
	var b strings.Builder
	b.WriteString("The following commands are available:\n\n")
	for _, c := range Commands {
		fmt.Fprintf(&b, "/%s - %s\n", c.Name, c.Description)
	}
	_, err := replier.Reply(ctx, msg, b.String())
	return err
}

func (s *chatService) clear(ctx context.Context, msg model.ChatMessage, replier Replier) error {
	reply, err := replier.Reply(ctx, msg, clearingText)
	if err != nil {
		return err
	}
	if err := s.ClearHistory(ctx, msg.Chat.ID); err != nil {
		return err
	}
	_, err = replier.Edit(ctx, reply, clearedText)
	return err
}
