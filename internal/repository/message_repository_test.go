package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ctxbot-go/internal/apperrors"
	"ctxbot-go/internal/model"
	"ctxbot-go/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_foreign_keys=on"
	db, err := database.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func alice() model.Author {
	return model.Author{ID: 1, Username: "alice", FirstName: "Alice", LastName: "Liddell", LanguageCode: "en"}
}

func bob() model.Author {
	return model.Author{ID: 2, Username: "bob"}
}

func msgAt(id, chatID int64, from model.Author, text string, minute int) model.ChatMessage {
	return model.ChatMessage{
		MessageID: id,
		Chat:      model.Chat{ID: chatID, Type: model.ChatTypeGroup},
		From:      from,
		Text:      text,
		Date:      base.Add(time.Duration(minute) * time.Minute),
	}
}

func TestAddMessage_CompositeUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))

	require.NoError(t, repo.AddMessage(ctx, msgAt(1, 100, alice(), "hi", 0), false, nil))
	// 同一 ID 在另一个 chat 中是合法的
	require.NoError(t, repo.AddMessage(ctx, msgAt(1, 200, alice(), "hi there", 0), false, nil))

	err := repo.AddMessage(ctx, msgAt(1, 100, bob(), "dup", 1), false, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	var pe *apperrors.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "add message", pe.Op)

	msgs, err := repo.GetRecentMessages(ctx, 100, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestAddMessage_FailedInsertRollsBackUser(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	require.NoError(t, repo.AddMessage(ctx, msgAt(1, 100, alice(), "hi", 0), false, nil))

	carol := model.Author{ID: 3, Username: "carol"}
	require.Error(t, repo.AddMessage(ctx, msgAt(1, 100, carol, "dup", 1), false, nil))

	var count int64
	require.NoError(t, db.Model(&model.User{}).Where("id = ?", 3).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGetRecentMessages_ThreadedReconstruction(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))

	require.NoError(t, repo.AddMessage(ctx, msgAt(10, 100, alice(), "question", 0), false, nil))
	reply := msgAt(11, 100, bob(), "answer", 1)
	reply.ReplyTo = &model.ChatMessage{MessageID: 10}
	require.NoError(t, repo.AddMessage(ctx, reply, false, nil))

	msgs, err := repo.GetRecentMessages(ctx, 100, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	newest := msgs[0]
	assert.Equal(t, int64(11), newest.ID)
	require.NotNil(t, newest.FromUser)
	assert.Equal(t, "@bob", newest.FromUser.DisplayName())
	require.NotNil(t, newest.ReplyTo)
	assert.Equal(t, int64(10), newest.ReplyTo.ID)
	assert.Equal(t, "question", newest.ReplyTo.Text)
	require.NotNil(t, newest.ReplyTo.FromUser)
	assert.Equal(t, "Alice Liddell", newest.ReplyTo.FromUser.DisplayName())
	require.NotNil(t, newest.ReplyToMessageID)
	assert.Equal(t, int64(10), *newest.ReplyToMessageID)

	assert.Nil(t, msgs[1].ReplyTo)
	assert.True(t, base.Equal(msgs[1].Timestamp))
}

func TestAddMessage_ReplyOverrideTakesPrecedence(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))

	require.NoError(t, repo.AddMessage(ctx, msgAt(1, 100, alice(), "first", 0), false, nil))
	require.NoError(t, repo.AddMessage(ctx, msgAt(2, 100, alice(), "second", 1), false, nil))

	out := msgAt(3, 100, bob(), "bot reply", 2)
	out.ReplyTo = &model.ChatMessage{MessageID: 1}
	override := int64(2)
	require.NoError(t, repo.AddMessage(ctx, out, false, &override))

	msgs, err := repo.GetRecentMessages(ctx, 100, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].ReplyTo)
	assert.Equal(t, "second", msgs[0].ReplyTo.Text)
}

func TestAddMessage_UnresolvedReplyStaysEmpty(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))

	// 祖先在另一个 chat 中，不能跨 chat 解析
	require.NoError(t, repo.AddMessage(ctx, msgAt(5, 200, alice(), "elsewhere", 0), false, nil))
	m := msgAt(6, 100, bob(), "reply to unknown", 1)
	m.ReplyTo = &model.ChatMessage{MessageID: 5}
	require.NoError(t, repo.AddMessage(ctx, m, false, nil))

	msgs, err := repo.GetRecentMessages(ctx, 100, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].ReplyTo)
	assert.Nil(t, msgs[0].ReplyToMessageID)
	assert.Nil(t, msgs[0].ReplyToRowID)
}

func TestAddMessage_EditTimestamp(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))

	m := msgAt(1, 100, alice(), "edited", 0)
	m.EditDate = base.Add(time.Hour)
	require.NoError(t, repo.AddMessage(ctx, m, true, nil))

	// 没有编辑时间时回退到发送时间
	m2 := msgAt(2, 100, alice(), "plain", 5)
	require.NoError(t, repo.AddMessage(ctx, m2, true, nil))

	msgs, err := repo.GetRecentMessages(ctx, 100, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.True(t, base.Add(time.Hour).Equal(msgs[0].Timestamp))
	assert.True(t, base.Add(5*time.Minute).Equal(msgs[1].Timestamp))
}

func TestAddMessage_UserUpsert(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewMessageRepository(db)

	require.NoError(t, repo.AddMessage(ctx, msgAt(1, 100, alice(), "a", 0), false, nil))

	renamed := alice()
	renamed.Username = "alice_new"
	renamed.FirstName = "Al"
	renamed.LastName = ""
	require.NoError(t, repo.AddMessage(ctx, msgAt(2, 100, renamed, "b", 1), false, nil))

	anon := model.Author{ID: 9}
	require.NoError(t, repo.AddMessage(ctx, msgAt(3, 100, anon, "c", 2), false, nil))
	require.NoError(t, repo.AddMessage(ctx, msgAt(4, 100, anon, "d", 3), false, nil))

	var users []model.User
	require.NoError(t, db.Order("id").Find(&users).Error)
	require.Len(t, users, 2)
	require.NotNil(t, users[0].Username)
	assert.Equal(t, "alice_new", *users[0].Username)
	assert.Equal(t, "Al", users[0].DisplayName())
	assert.Nil(t, users[1].Username)
	assert.Equal(t, "user 9", users[1].DisplayName())
}

func TestGetRecentMessages_OrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(newTestDB(t))

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, repo.AddMessage(ctx, msgAt(i, 100, alice(), "m", int(i)), false, nil))
	}
	// 同一时间戳按写入顺序倒序
	require.NoError(t, repo.AddMessage(ctx, msgAt(6, 100, alice(), "tie", 5), false, nil))

	msgs, err := repo.GetRecentMessages(ctx, 100, 3, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []int64{6, 5, 4}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	msgs, err = repo.GetRecentMessages(ctx, 100, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	msgs, err = repo.GetRecentMessages(ctx, 100, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestClearHistory_IsolatedPerChat(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewMessageRepository(db)

	require.NoError(t, repo.AddMessage(ctx, msgAt(1, 100, alice(), "a", 0), false, nil))
	r := msgAt(2, 100, bob(), "b", 1)
	r.ReplyTo = &model.ChatMessage{MessageID: 1}
	require.NoError(t, repo.AddMessage(ctx, r, false, nil))
	require.NoError(t, repo.AddMessage(ctx, msgAt(1, 200, bob(), "other", 0), false, nil))

	require.NoError(t, repo.ClearHistory(ctx, 100))

	msgs, err := repo.GetRecentMessages(ctx, 100, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = repo.GetRecentMessages(ctx, 200, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "other", msgs[0].Text)

	var users int64
	require.NoError(t, db.Model(&model.User{}).Count(&users).Error)
	assert.Equal(t, int64(2), users)

	// 清空后同一 ID 可以再次写入
	require.NoError(t, repo.AddMessage(ctx, msgAt(1, 100, alice(), "again", 2), false, nil))
}
