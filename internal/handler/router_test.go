package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ctxbot-go/internal/apperrors"
	"ctxbot-go/internal/config"
	"ctxbot-go/internal/knowledge"
	"ctxbot-go/internal/model"
	"ctxbot-go/internal/pipeline"
	"ctxbot-go/internal/repository"
	"ctxbot-go/internal/service"
	"ctxbot-go/pkg/database"
	"ctxbot-go/pkg/llm"
	"ctxbot-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// topicEmbedder 把提到 go 的文本映射到同一个方向，"down" 模拟向量服务不可用。
type topicEmbedder struct{}

func (topicEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	switch {
	case text == "down":
		return nil, &apperrors.EmbeddingUnavailableError{Attempts: []string{"503", "503", "503"}}
	case strings.Contains(strings.ToLower(text), "go"):
		return []float32{1, 0}, nil
	default:
		return []float32{0, 1}, nil
	}
}

func (topicEmbedder) Close() error { return nil }

// scriptedLLM 依次写出预设的分块。
type scriptedLLM struct{ chunks []string }

func (s scriptedLLM) StreamChatMessages(_ context.Context, _ []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	for _, c := range s.chunks {
		if err := w.WriteMessage(websocket.TextMessage, []byte(c)); err != nil {
			return err
		}
	}
	return nil
}

func (scriptedLLM) Close() error { return nil }

type testEnv struct {
	router     *gin.Engine
	repo       repository.MessageRepository
	jwtManager *token.JWTManager
	access     string
}

var testBot = model.BotIdentity{ID: 42, Username: "ctxbot"}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := database.Open("sqlite", filepath.Join(dir, "test.db")+"?_foreign_keys=on")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	repo := repository.NewMessageRepository(db)

	store, err := knowledge.Open(ctx, topicEmbedder{}, knowledge.NewFileBackend(filepath.Join(dir, "kb.json")))
	require.NoError(t, err)

	settings := config.BotConfig{HistoryWindow: 10, TopK: 3, MinSimilarity: 0.1}
	contextService := service.NewContextService(repo, store, service.KnowledgeFailureDegrade)
	chatService := service.NewChatService(repo, contextService, scriptedLLM{chunks: []string{"Hel", "lo"}}, nil, service.ChatOptions{
		Bot:      testBot,
		Settings: settings,
	})
	knowledgeService := service.NewKnowledgeService(store, nil, pipeline.NewProcessor(store, nil, nil), nil)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	jwtManager := token.NewJWTManager("test-secret", 1, 1)
	authService := service.NewAuthService(config.AdminConfig{Username: "admin", PasswordHash: string(hash)}, jwtManager)
	access, err := jwtManager.GenerateToken("admin", service.AdminRole)
	require.NoError(t, err)

	router := NewRouter(jwtManager, Handlers{
		Auth:      NewAuthHandler(authService),
		Knowledge: NewKnowledgeHandler(knowledgeService, settings),
		History:   NewHistoryHandler(repo, chatService, settings),
		Chat:      NewChatHandler(chatService, jwtManager),
		Health: NewHealthHandler(map[string]HealthCheck{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		}),
	})
	return &testEnv{router: router, repo: repo, jwtManager: jwtManager, access: access}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, authed bool) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.access)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	code, body := env.do(t, http.MethodGet, "/api/v1/health", nil, false)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"database":"ok"}`, string(body.Data))
}

func TestLoginAndAuth(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "admin", "password": "s3cret"}, false)
	require.Equal(t, http.StatusOK, code)
	var tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &tokens))
	_, err := env.jwtManager.VerifyKind(tokens.AccessToken, token.KindAccess)
	require.NoError(t, err)

	code, _ = env.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "admin", "password": "nope"}, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodGet, "/api/v1/knowledge", nil, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	// refresh token 不能当作 access token 使用
	req := httptest.NewRequest(http.MethodGet, "/api/v1/knowledge", nil)
	req.Header.Set("Authorization", "Bearer "+tokens.RefreshToken)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestKnowledgeEndpoints(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/v1/knowledge", gin.H{"title": "Go", "content": "Go is a language"}, true)
	require.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodPost, "/api/v1/knowledge?async=true", gin.H{"title": "Tea", "content": "Tea is a drink"}, true)
	require.Equal(t, http.StatusOK, code, "without a queue the entry is added inline")

	code, body := env.do(t, http.MethodGet, "/api/v1/knowledge", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"count":2}`, string(body.Data))

	code, body = env.do(t, http.MethodGet, "/api/v1/knowledge/search?query=golang&topK=5", nil, true)
	require.Equal(t, http.StatusOK, code)
	var results []knowledge.Result
	require.NoError(t, json.Unmarshal(body.Data, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "Go", results[0].Title)

	code, _ = env.do(t, http.MethodGet, "/api/v1/knowledge/search?query=x&topK=abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/api/v1/knowledge/search?query=", nil, true)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/api/v1/knowledge/search?query=down", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = env.do(t, http.MethodPost, "/api/v1/knowledge", gin.H{"title": "", "content": "x"}, true)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestKnowledgeWritesRequireAdminRole(t *testing.T) {
	env := newTestEnv(t)
	viewer, err := env.jwtManager.GenerateToken("viewer", "USER")
	require.NoError(t, err)

	send := func(method, path string, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+viewer)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusForbidden, send(http.MethodPost, "/api/v1/knowledge", `{"title":"Go","content":"x"}`))
	assert.Equal(t, http.StatusForbidden, send(http.MethodDelete, "/api/v1/chats/1/messages", ""))
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/api/v1/knowledge", ""))
}

func TestUploadDocumentWithoutStorage(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "lore.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.4"))
	require.NoError(t, mw.WriteField("prefix", "Lore"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.access)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	chat := model.Chat{ID: 77, Type: model.ChatTypeGroup}
	ann := model.Author{ID: 7, Username: "ann", FirstName: "Ann"}

	require.NoError(t, env.repo.AddMessage(ctx, model.ChatMessage{MessageID: 1, Chat: chat, From: ann, Text: "is go fast?", Date: base}, false, nil))
	require.NoError(t, env.repo.AddMessage(ctx, model.ChatMessage{
		MessageID: 2, Chat: chat, From: model.Author{ID: 42, Username: "ctxbot"}, Text: "yes",
		Date: base.Add(time.Minute), ReplyTo: &model.ChatMessage{MessageID: 1},
	}, false, nil))

	code, body := env.do(t, http.MethodGet, "/api/v1/chats/77/messages?limit=1", nil, true)
	require.Equal(t, http.StatusOK, code)
	var msgs []model.Message
	require.NoError(t, json.Unmarshal(body.Data, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "yes", msgs[0].Text)
	require.NotNil(t, msgs[0].ReplyTo)
	assert.Equal(t, "is go fast?", msgs[0].ReplyTo.Text)

	code, body = env.do(t, http.MethodPost, "/api/v1/chats/77/context", gin.H{"text": "tell me more"}, true)
	require.Equal(t, http.StatusOK, code)
	var entries []model.ContextEntry
	require.NoError(t, json.Unmarshal(body.Data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, model.ContextEntry{Role: model.RoleUser, Content: "Ann: is go fast?"}, entries[0])
	assert.Equal(t, model.RoleAssistant, entries[1].Role)

	code, _ = env.do(t, http.MethodDelete, "/api/v1/chats/77/messages", nil, true)
	require.Equal(t, http.StatusOK, code)
	code, body = env.do(t, http.MethodGet, "/api/v1/chats/77/messages", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body.Data))

	code, _ = env.do(t, http.MethodGet, "/api/v1/chats/abc/messages", nil, true)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/api/v1/chats/77/messages?limit=-1", nil, true)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWebsocketChat(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/" + env.access
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var session wsFrame
	require.NoError(t, conn.ReadJSON(&session))
	require.Equal(t, "session", session.Type)
	require.Positive(t, session.ChatID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi there")))

	var frames []wsFrame
	for {
		var f wsFrame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type == "completion" {
			break
		}
	}
	require.GreaterOrEqual(t, len(frames), 4)
	assert.Equal(t, "ack", frames[0].Type)
	assert.Equal(t, "reply", frames[1].Type)
	assert.Equal(t, "I'm thinking...", frames[1].Text)
	assert.Equal(t, frames[0].MessageID, frames[1].ReplyTo)
	last := frames[len(frames)-2]
	assert.Equal(t, "edit", last.Type)
	assert.Equal(t, "Hello", last.Text)
	assert.Equal(t, "finished", frames[len(frames)-1].Status)

	msgs, err := env.repo.GetRecentMessages(context.Background(), session.ChatID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Text)
	require.NotNil(t, msgs[0].ReplyTo)
	assert.Equal(t, "hi there", msgs[0].ReplyTo.Text)
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/chat/not-a-token", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
