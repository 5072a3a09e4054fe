package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ctxbot-go/internal/apperrors"
	"ctxbot-go/internal/knowledge"
	"ctxbot-go/internal/model"
	"ctxbot-go/internal/repository"
	"ctxbot-go/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessageRepo(t *testing.T) repository.MessageRepository {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "svc.db")+"?_foreign_keys=on")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repository.NewMessageRepository(db)
}

type stubRetriever struct {
	results []knowledge.Result
	err     error
	query   string
	topK    int
	min     float64
}

func (r *stubRetriever) Query(_ context.Context, text string, topK int, minSimilarity float64) ([]knowledge.Result, error) {
	r.query, r.topK, r.min = text, topK, minSimilarity
	return r.results, r.err
}

type failingRepo struct{ repository.MessageRepository }

func (failingRepo) GetRecentMessages(context.Context, int64, int, int) ([]model.Message, error) {
	return nil, apperrors.Persistence("get recent messages", errors.New("db down"))
}

var (
	t0      = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	botUser = model.Author{ID: 42, Username: "ctxbot", FirstName: "Ctx"}
	botID   = model.BotIdentity{ID: 42, Username: "ctxbot"}
	human   = model.Author{ID: 7, Username: "ann", FirstName: "Ann"}
	anon    = model.Author{ID: 8}
)

func chatMsg(id int64, from model.Author, text string, at time.Duration) model.ChatMessage {
	return model.ChatMessage{
		MessageID: id,
		Chat:      model.Chat{ID: 500, Type: model.ChatTypeGroup},
		From:      from,
		Text:      text,
		Date:      t0.Add(at),
	}
}

func seedConversation(t *testing.T, repo repository.MessageRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.AddMessage(ctx, chatMsg(1, human, "What is Go?", 0), false, nil))
	answer := chatMsg(2, botUser, "A programming language.", time.Minute)
	answer.EditDate = t0.Add(2 * time.Minute)
	require.NoError(t, repo.AddMessage(ctx, answer, true, ptr(int64(1))))
	require.NoError(t, repo.AddMessage(ctx, chatMsg(3, anon, "nice", 3*time.Minute), false, nil))
}

func ptr[T any](v T) *T { return &v }

func TestBuildContext_ChronologicalWithKnowledge(t *testing.T) {
	repo := newMessageRepo(t)
	seedConversation(t, repo)
	retriever := &stubRetriever{results: []knowledge.Result{
		{Title: "Go", Content: "Go is a language by Google.", Similarity: 0.9},
	}}

	svc := NewContextService(repo, retriever, "")
	entries, err := svc.BuildContext(context.Background(), ContextRequest{
		ChatID: 500, IncomingText: "nice", HistoryWindow: 10, TopK: 3, MinSimilarity: 0.1, Bot: botID,
	})
	require.NoError(t, err)

	assert.Equal(t, []model.ContextEntry{
		{Role: model.RoleUser, Content: "Ann: What is Go?"},
		{Role: model.RoleAssistant, Content: "Ctx (replying to Ann): A programming language."},
		{Role: model.RoleUser, Content: "user 8: nice"},
		{Role: model.RoleSystem, Content: "Background knowledge \"Go\":\nGo is a language by Google."},
	}, entries)
	assert.Equal(t, "nice", retriever.query)
	assert.Equal(t, 3, retriever.topK)
	assert.InDelta(t, 0.1, retriever.min, 1e-9)
}

func TestBuildContext_HistoryWindow(t *testing.T) {
	repo := newMessageRepo(t)
	seedConversation(t, repo)

	svc := NewContextService(repo, &stubRetriever{}, "")
	entries, err := svc.BuildContext(context.Background(), ContextRequest{
		ChatID: 500, IncomingText: "nice", HistoryWindow: 2, TopK: 3, Bot: botID,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.RoleAssistant, entries[0].Role)
	assert.Equal(t, "user 8: nice", entries[1].Content)
}

func TestBuildContext_KnowledgeFailureDegrades(t *testing.T) {
	repo := newMessageRepo(t)
	seedConversation(t, repo)
	retriever := &stubRetriever{err: &apperrors.EmbeddingUnavailableError{Attempts: []string{"a", "b", "c"}}}

	entries, err := NewContextService(repo, retriever, KnowledgeFailureDegrade).BuildContext(context.Background(), ContextRequest{
		ChatID: 500, IncomingText: "nice", HistoryWindow: 10, TopK: 3, Bot: botID,
	})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestBuildContext_KnowledgeFailureFails(t *testing.T) {
	repo := newMessageRepo(t)
	seedConversation(t, repo)
	retriever := &stubRetriever{err: &apperrors.EmbeddingUnavailableError{Attempts: []string{"a", "b", "c"}}}

	entries, err := NewContextService(repo, retriever, KnowledgeFailureFail).BuildContext(context.Background(), ContextRequest{
		ChatID: 500, IncomingText: "nice", HistoryWindow: 10, TopK: 3, Bot: botID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKnowledgeUnavailable)
	assert.ErrorIs(t, err, apperrors.ErrEmbeddingUnavailable)
	assert.Len(t, entries, 3)
}

func TestBuildContext_HistoryFailure(t *testing.T) {
	_, err := NewContextService(failingRepo{}, &stubRetriever{}, "").BuildContext(context.Background(), ContextRequest{
		ChatID: 1, IncomingText: "x", HistoryWindow: 10, TopK: 3,
	})
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
}

func TestBuildContext_EmptyChat(t *testing.T) {
	entries, err := NewContextService(newMessageRepo(t), &stubRetriever{}, "").BuildContext(context.Background(), ContextRequest{
		ChatID: 999, IncomingText: "hello", HistoryWindow: 10, TopK: 3,
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
