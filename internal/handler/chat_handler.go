package handler

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ctxbot-go/internal/model"
	"ctxbot-go/internal/service"
	"ctxbot-go/pkg/log"
	"ctxbot-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理 WebSocket 聊天连接。每个连接是一个私聊 chat，
// 可通过 ?chatId= 续接已有的 chat。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		jwtManager:  jwtManager,
	}
}

// wsFrame 是发往客户端的 JSON 帧。
type wsFrame struct {
	Type      string `json:"type"`
	ChatID    int64  `json:"chatId,omitempty"`
	MessageID int64  `json:"messageId,omitempty"`
	ReplyTo   int64  `json:"replyTo,omitempty"`
	Text      string `json:"text,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsSession 是一个连接上的 chat 状态，同时实现 service.Replier。
type wsSession struct {
	conn   *websocket.Conn
	chat   model.Chat
	user   model.Author
	bot    model.Author
	nextID atomic.Int64

	writeMu sync.Mutex
}

func (s *wsSession) send(f wsFrame) error {
	f.Timestamp = time.Now().UnixMilli()
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *wsSession) Reply(_ context.Context, to model.ChatMessage, text string) (model.ChatMessage, error) {
	reply := model.ChatMessage{
		MessageID: s.nextID.Add(1),
		Chat:      s.chat,
		From:      s.bot,
		Text:      text,
		Date:      time.Now().UTC(),
		ReplyTo:   &to,
	}
	err := s.send(wsFrame{Type: "reply", MessageID: reply.MessageID, ReplyTo: to.MessageID, Text: text})
	return reply, err
}

func (s *wsSession) Edit(_ context.Context, sent model.ChatMessage, text string) (model.ChatMessage, error) {
	if err := s.send(wsFrame{Type: "edit", MessageID: sent.MessageID, Text: text}); err != nil {
		return sent, err
	}
	sent.Text = text
	sent.EditDate = time.Now().UTC()
	return sent, nil
}

// sessionChatID 把 uuid 折叠成一个正的 int64，作为新会话的 chat id。
func sessionChatID() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]) &^ (1 << 63))
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyKind(c.Param("token"), token.KindAccess)
	if err != nil {
		respond(c, http.StatusUnauthorized, "无效的 token", nil)
		return
	}

	chatID := sessionChatID()
	if raw := c.Query("chatId"); raw != "" {
		chatID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respond(c, http.StatusBadRequest, "chatId 必须是整数", nil)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	bot := h.chatService.Bot()
	session := &wsSession{
		conn: conn,
		chat: model.Chat{ID: chatID, Type: model.ChatTypePrivate},
		// 与 Telegram 私聊一致，用户 ID 等于 chat ID
		user: model.Author{ID: chatID, Username: claims.Username},
		bot:  model.Author{ID: bot.ID, Username: bot.Username},
	}
	session.nextID.Store(time.Now().UnixMilli())
	log.Infof("WebSocket 连接已建立，用户: %s, chat: %d", claims.Username, chatID)
	if err := session.send(wsFrame{Type: "session", ChatID: chatID}); err != nil {
		return
	}

	ctx := c.Request.Context()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}
		text := strings.TrimSpace(string(message))
		if text == "" {
			continue
		}

		msg := model.ChatMessage{
			MessageID: session.nextID.Add(1),
			Chat:      session.chat,
			From:      session.user,
			Text:      text,
			Date:      time.Now().UTC(),
		}
		if err := session.send(wsFrame{Type: "ack", MessageID: msg.MessageID}); err != nil {
			break
		}

		completion := wsFrame{Type: "completion", Status: "finished"}
		if err := h.chatService.HandleText(ctx, msg, session); err != nil {
			log.Errorf("处理 WebSocket 消息失败: %v", err)
			completion.Status = "error"
			completion.Error = "AI服务暂时不可用，请稍后重试"
		}
		if err := session.send(completion); err != nil {
			break
		}
	}
}
