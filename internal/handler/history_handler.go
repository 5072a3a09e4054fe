package handler

import (
	"net/http"
	"strconv"

	"ctxbot-go/internal/config"
	"ctxbot-go/internal/repository"
	"ctxbot-go/internal/service"
	"ctxbot-go/pkg/log"

	"github.com/gin-gonic/gin"
)

const maxHistoryPage = 200

// HistoryHandler 提供聊天记录的查询、清空与上下文预览。
type HistoryHandler struct {
	messageRepo repository.MessageRepository
	chatService service.ChatService
	defaults    config.BotConfig
}

// NewHistoryHandler 创建一个新的 HistoryHandler。
func NewHistoryHandler(messageRepo repository.MessageRepository, chatService service.ChatService, defaults config.BotConfig) *HistoryHandler {
	return &HistoryHandler{messageRepo: messageRepo, chatService: chatService, defaults: defaults}
}

func chatIDParam(c *gin.Context) (int64, bool) {
	chatID, err := strconv.ParseInt(c.Param("chatId"), 10, 64)
	if err != nil {
		respond(c, http.StatusBadRequest, "chatId 必须是整数", nil)
		return 0, false
	}
	return chatID, true
}

// ListMessages 返回最近的消息，新消息在前。
func (h *HistoryHandler) ListMessages(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit", h.defaults.HistoryWindow)
	if err != nil || limit < 0 {
		respond(c, http.StatusBadRequest, "limit 必须是非负整数", nil)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		respond(c, http.StatusBadRequest, "offset 必须是非负整数", nil)
		return
	}
	limit = min(limit, maxHistoryPage)

	messages, err := h.messageRepo.GetRecentMessages(c.Request.Context(), chatID, limit, offset)
	if err != nil {
		log.Errorf("ListMessages failed, chat: %d, error: %v", chatID, err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", messages)
}

// ClearMessages 清空某个 chat 的聊天记录。
func (h *HistoryHandler) ClearMessages(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	if err := h.chatService.ClearHistory(c.Request.Context(), chatID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Chat history cleared.", nil)
}

// ContextPreviewRequest 是上下文预览的请求体，未给出的参数使用 bot 配置。
type ContextPreviewRequest struct {
	Text          string   `json:"text"`
	HistoryWindow *int     `json:"historyWindow"`
	TopK          *int     `json:"topK"`
	MinSimilarity *float64 `json:"minSimilarity"`
}

// PreviewContext 返回某个 chat 在收到 text 时会交给模型的上下文。
func (h *HistoryHandler) PreviewContext(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	var req ContextPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}

	ctxReq := service.ContextRequest{
		ChatID:        chatID,
		IncomingText:  req.Text,
		HistoryWindow: h.defaults.HistoryWindow,
		TopK:          h.defaults.TopK,
		MinSimilarity: h.defaults.MinSimilarity,
		Bot:           h.chatService.Bot(),
	}
	if req.HistoryWindow != nil {
		ctxReq.HistoryWindow = *req.HistoryWindow
	}
	if req.TopK != nil {
		ctxReq.TopK = *req.TopK
	}
	if req.MinSimilarity != nil {
		ctxReq.MinSimilarity = *req.MinSimilarity
	}

	entries, err := h.chatService.BuildContext(c.Request.Context(), ctxReq)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", entries)
}
