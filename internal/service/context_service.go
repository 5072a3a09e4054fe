// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ctxbot-go/internal/knowledge"
	"ctxbot-go/internal/model"
	"ctxbot-go/internal/repository"
	"ctxbot-go/pkg/log"
)

// ErrKnowledgeUnavailable 表示知识检索失败。历史部分仍会随错误一起返回。
var ErrKnowledgeUnavailable = errors.New("knowledge retrieval unavailable")

// 知识检索失败时的处理策略。
const (
	KnowledgeFailureDegrade = "degrade"
	KnowledgeFailureFail    = "fail"
)

// ContextRequest 描述一次上下文组装所需的参数。
type ContextRequest struct {
	ChatID        int64
	IncomingText  string
	HistoryWindow int
	TopK          int
	MinSimilarity float64
	Bot           model.BotIdentity
}

// ContextService 把最近的聊天记录与相关知识合并成带角色的上下文。
type ContextService interface {
	BuildContext(ctx context.Context, req ContextRequest) ([]model.ContextEntry, error)
}

type contextService struct {
	messageRepo      repository.MessageRepository
	retriever        knowledge.Retriever
	knowledgeFailure string
}

// NewContextService 创建一个新的 ContextService 实例。knowledgeFailure 为空时按 degrade 处理。
func NewContextService(messageRepo repository.MessageRepository, retriever knowledge.Retriever, knowledgeFailure string) ContextService {
	if knowledgeFailure == "" {
		knowledgeFailure = KnowledgeFailureDegrade
	}
	return &contextService{
		messageRepo:      messageRepo,
		retriever:        retriever,
		knowledgeFailure: knowledgeFailure,
	}
}

// BuildContext 返回按时间正序排列的历史条目，后接每条知识一个 system 条目。
func (s *contextService) BuildContext(ctx context.Context, req ContextRequest) ([]model.ContextEntry, error) {
	messages, err := s.messageRepo.GetRecentMessages(ctx, req.ChatID, req.HistoryWindow, 0)
	if err != nil {
		return nil, err
	}

	entries := make([]model.ContextEntry, 0, len(messages)+req.TopK)
	// 仓储返回新消息在前，这里倒序遍历得到时间正序
	for i := len(messages) - 1; i >= 0; i-- {
		entries = append(entries, historyEntry(messages[i], req.Bot))
	}

	if s.retriever == nil || strings.TrimSpace(req.IncomingText) == "" {
		return entries, nil
	}
	results, err := s.retriever.Query(ctx, req.IncomingText, req.TopK, req.MinSimilarity)
	if err != nil {
		if s.knowledgeFailure == KnowledgeFailureFail {
			return entries, fmt.Errorf("%w: %w", ErrKnowledgeUnavailable, err)
		}
		log.Warnw("knowledge retrieval failed, continuing with history only",
			"chat_id", req.ChatID, "error", err)
		return entries, nil
	}
	for _, r := range results {
		entries = append(entries, model.ContextEntry{
			Role:    model.RoleSystem,
			Content: fmt.Sprintf("Background knowledge \"%s\":\n%s", r.Title, r.Content),
		})
	}
	return entries, nil
}

func historyEntry(m model.Message, bot model.BotIdentity) model.ContextEntry {
	role := model.RoleUser
	if bot.Matches(m.FromUser) {
		role = model.RoleAssistant
	}

	var b strings.Builder
	b.WriteString(displayName(m.FromUser, m.FromUserID))
	if m.ReplyTo != nil {
		b.WriteString(" (replying to ")
		b.WriteString(displayName(m.ReplyTo.FromUser, m.ReplyTo.FromUserID))
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(m.Text)
	return model.ContextEntry{Role: role, Content: b.String()}
}

func displayName(u *model.User, id int64) string {
	if u == nil {
		return model.User{ID: id}.DisplayName()
	}
	return u.DisplayName()
}
