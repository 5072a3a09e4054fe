package handler

import (
	"context"
	"sync"
	"time"

	"ctxbot-go/internal/model"
	"ctxbot-go/internal/service"
	"ctxbot-go/pkg/log"
	"ctxbot-go/pkg/telegram"
)

const (
	chatQueueSize     = 32
	workerIdleTimeout = 5 * time.Minute
	pollRetryDelay    = 3 * time.Second
)

// TelegramReplier 通过 Bot API 发送与编辑消息，实现 service.Replier。
type TelegramReplier struct {
	client *telegram.Client
}

// NewTelegramReplier 创建一个 TelegramReplier。
func NewTelegramReplier(client *telegram.Client) *TelegramReplier {
	return &TelegramReplier{client: client}
}

func (r *TelegramReplier) Reply(ctx context.Context, to model.ChatMessage, text string) (model.ChatMessage, error) {
	m, err := r.client.SendMessage(ctx, to.Chat.ID, text, to.MessageID)
	if err != nil {
		return model.ChatMessage{}, err
	}
	return telegram.ToChatMessage(m), nil
}

func (r *TelegramReplier) Edit(ctx context.Context, sent model.ChatMessage, text string) (model.ChatMessage, error) {
	m, err := r.client.EditMessageText(ctx, sent.Chat.ID, sent.MessageID, text)
	if err != nil {
		if telegram.IsNotModified(err) {
			return sent, nil
		}
		return sent, err
	}
	return telegram.ToChatMessage(m), nil
}

// TelegramHandler 长轮询 getUpdates，并把每条文本消息交给所属 chat 的 worker。
// 同一个 chat 的消息由同一个 goroutine 按到达顺序处理。
type TelegramHandler struct {
	client      *telegram.Client
	chatService service.ChatService
	replier     service.Replier
	pollTimeout int
	idleTimeout time.Duration

	mu      sync.Mutex
	workers map[int64]chan model.ChatMessage
	wg      sync.WaitGroup
}

// NewTelegramHandler 创建一个新的 TelegramHandler。
func NewTelegramHandler(client *telegram.Client, chatService service.ChatService, pollTimeout int) *TelegramHandler {
	return &TelegramHandler{
		client:      client,
		chatService: chatService,
		replier:     NewTelegramReplier(client),
		pollTimeout: pollTimeout,
		idleTimeout: workerIdleTimeout,
		workers:     make(map[int64]chan model.ChatMessage),
	}
}

// RegisterCommands 把支持的命令同步到 Telegram。
func (h *TelegramHandler) RegisterCommands(ctx context.Context) error {
	commands := make([]telegram.BotCommand, 0, len(service.Commands))
	for _, c := range service.Commands {
		commands = append(commands, telegram.BotCommand{Command: c.Name, Description: c.Description})
	}
	return h.client.SetMyCommands(ctx, commands)
}

// Run 阻塞轮询直到 ctx 结束，然后等待所有 worker 退出。
func (h *TelegramHandler) Run(ctx context.Context) {
	log.Infof("[TelegramHandler] 开始轮询, bot: @%s", h.chatService.Bot().Username)
	var offset int
	for ctx.Err() == nil {
		updates, err := h.client.GetUpdates(ctx, offset, h.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warnf("[TelegramHandler] getUpdates 失败: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(pollRetryDelay):
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			h.dispatch(ctx, telegram.ToChatMessage(u.Message))
		}
	}
	h.shutdown()
	log.Info("[TelegramHandler] 已停止")
}

// dispatch 把消息放入 chat 的队列，从不阻塞轮询：队列已满时丢弃并记录日志。
func (h *TelegramHandler) dispatch(ctx context.Context, msg model.ChatMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.workers[msg.Chat.ID]
	if !ok {
		ch = make(chan model.ChatMessage, chatQueueSize)
		h.workers[msg.Chat.ID] = ch
		h.wg.Add(1)
		go h.work(ctx, msg.Chat.ID, ch)
	}
	select {
	case ch <- msg:
		return true
	default:
		log.Span(msg.Chat.ID, msg.MessageID).Warnw("chat queue is full, dropping message", "queue_size", chatQueueSize)
		return false
	}
}

func (h *TelegramHandler) work(ctx context.Context, chatID int64, ch chan model.ChatMessage) {
	defer h.wg.Done()
	idle := time.NewTimer(h.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := h.chatService.HandleText(ctx, msg, h.replier); err != nil {
				log.Span(msg.Chat.ID, msg.MessageID).Errorw("failed to handle message", "error", err)
			}
			idle.Reset(h.idleTimeout)
		case <-idle.C:
			// 空闲的 worker 退出；队列非空时继续处理
			h.mu.Lock()
			if len(ch) == 0 {
				delete(h.workers, chatID)
				h.mu.Unlock()
				return
			}
			h.mu.Unlock()
			idle.Reset(h.idleTimeout)
		}
	}
}

func (h *TelegramHandler) shutdown() {
	h.mu.Lock()
	for id, ch := range h.workers {
		close(ch)
		delete(h.workers, id)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
