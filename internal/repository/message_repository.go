// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"time"

	"ctxbot-go/internal/apperrors"
	"ctxbot-go/internal/model"
	"ctxbot-go/pkg/log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository 定义了聊天记录的持久化操作。
type MessageRepository interface {
	// AddMessage 在一个事务内 upsert 作者并写入消息。
	// replyToOverride 非空时优先于 msg.ReplyTo 作为回复目标。
	AddMessage(ctx context.Context, msg model.ChatMessage, useEditTimestamp bool, replyToOverride *int64) error
	// GetRecentMessages 返回某个 chat 最近的消息，新消息在前，
	// 作者、被回复消息及其作者均已填充。
	GetRecentMessages(ctx context.Context, chatID int64, limit, offset int) ([]model.Message, error)
	// ClearHistory 删除某个 chat 的全部消息，不删除用户。
	ClearHistory(ctx context.Context, chatID int64) error
}

// messageRepository 是 MessageRepository 接口的 GORM 实现。
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) AddMessage(ctx context.Context, msg model.ChatMessage, useEditTimestamp bool, replyToOverride *int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := upsertUser(tx, msg.From)
		if err != nil {
			return err
		}

		record := model.Message{
			ID:         msg.MessageID,
			ChatID:     msg.Chat.ID,
			FromUserID: user.ID,
			Text:       msg.Text,
			Timestamp:  messageTimestamp(msg, useEditTimestamp),
		}

		var replyID *int64
		if replyToOverride != nil {
			replyID = replyToOverride
		} else if msg.ReplyTo != nil {
			replyID = &msg.ReplyTo.MessageID
		}
		if replyID != nil {
			var ancestor model.Message
			err := tx.Select("row_id", "id").
				Where("chat_id = ? AND id = ?", msg.Chat.ID, *replyID).
				Take(&ancestor).Error
			switch {
			case err == nil:
				id, rowID := ancestor.ID, ancestor.RowID
				record.ReplyToMessageID = &id
				record.ReplyToRowID = &rowID
			case errors.Is(err, gorm.ErrRecordNotFound):
				// 祖先消息本地未知，回复关系按未解析处理
				log.Debugf("reply target %d not found in chat %d", *replyID, msg.Chat.ID)
			default:
				return err
			}
		}

		return tx.Omit(clause.Associations).Create(&record).Error
	})
	return apperrors.Persistence("add message", err)
}

func messageTimestamp(msg model.ChatMessage, useEditTimestamp bool) time.Time {
	if useEditTimestamp && !msg.EditDate.IsZero() {
		return msg.EditDate.UTC()
	}
	return msg.Date.UTC()
}

// upsertUser 优先按 handle 匹配用户；没有 handle 或未匹配到时按 ID 匹配，
// 都不存在则以作者 ID 新建。匹配到时刷新资料字段。
func upsertUser(tx *gorm.DB, author model.Author) (*model.User, error) {
	var user model.User
	found := false
	if author.Username != "" {
		err := tx.Where("username = ?", author.Username).Order("id").First(&user).Error
		if err == nil {
			found = true
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if !found {
		err := tx.Where("id = ?", author.ID).First(&user).Error
		if err == nil {
			found = true
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var username *string
	if author.Username != "" {
		username = &author.Username
	}

	if !found {
		user = model.User{
			ID:           author.ID,
			Username:     username,
			FirstName:    author.FirstName,
			LastName:     author.LastName,
			LanguageCode: author.LanguageCode,
		}
		if err := tx.Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}

	updates := map[string]interface{}{
		"first_name":    author.FirstName,
		"last_name":     author.LastName,
		"language_code": author.LanguageCode,
	}
	if username != nil {
		updates["username"] = *username
	}
	if err := tx.Model(&user).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// messageRow 是联表查询的扁平结果，m 为消息本身，u 为作者，r 为被回复消息，ru 为其作者。
type messageRow struct {
	RowID            uint64    `gorm:"column:row_id"`
	ID               int64     `gorm:"column:id"`
	ChatID           int64     `gorm:"column:chat_id"`
	FromUserID       int64     `gorm:"column:from_user_id"`
	ReplyToMessageID *int64    `gorm:"column:reply_to_message_id"`
	ReplyToRowID     *uint64   `gorm:"column:reply_to_row_id"`
	Text             string    `gorm:"column:text"`
	Timestamp        time.Time `gorm:"column:timestamp"`

	UUsername     *string `gorm:"column:u_username"`
	UFirstName    string  `gorm:"column:u_first_name"`
	ULastName     string  `gorm:"column:u_last_name"`
	ULanguageCode string  `gorm:"column:u_language_code"`

	RID         *int64     `gorm:"column:r_id"`
	RChatID     *int64     `gorm:"column:r_chat_id"`
	RFromUserID *int64     `gorm:"column:r_from_user_id"`
	RText       *string    `gorm:"column:r_text"`
	RTimestamp  *time.Time `gorm:"column:r_timestamp"`

	RUUsername     *string `gorm:"column:ru_username"`
	RUFirstName    *string `gorm:"column:ru_first_name"`
	RULastName     *string `gorm:"column:ru_last_name"`
	RULanguageCode *string `gorm:"column:ru_language_code"`
}

const recentMessagesColumns = `m.row_id, m.id, m.chat_id, m.from_user_id, m.reply_to_message_id, m.reply_to_row_id, m.text, m.timestamp,
u.username AS u_username, u.first_name AS u_first_name, u.last_name AS u_last_name, u.language_code AS u_language_code,
r.id AS r_id, r.chat_id AS r_chat_id, r.from_user_id AS r_from_user_id, r.text AS r_text, r.timestamp AS r_timestamp,
ru.username AS ru_username, ru.first_name AS ru_first_name, ru.last_name AS ru_last_name, ru.language_code AS ru_language_code`

func (r *messageRepository) GetRecentMessages(ctx context.Context, chatID int64, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	var rows []messageRow
	err := r.db.WithContext(ctx).
		Table("messages AS m").
		Select(recentMessagesColumns).
		Joins("JOIN users AS u ON u.id = m.from_user_id").
		Joins("LEFT JOIN messages AS r ON r.row_id = m.reply_to_row_id").
		Joins("LEFT JOIN users AS ru ON ru.id = r.from_user_id").
		Where("m.chat_id = ?", chatID).
		Order("m.timestamp DESC").
		Order("m.row_id DESC").
		Limit(limit).
		Offset(offset).
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.Persistence("get recent messages", err)
	}

	messages := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toMessage())
	}
	return messages, nil
}

func (row messageRow) toMessage() model.Message {
	msg := model.Message{
		RowID:            row.RowID,
		ID:               row.ID,
		ChatID:           row.ChatID,
		FromUserID:       row.FromUserID,
		ReplyToMessageID: row.ReplyToMessageID,
		ReplyToRowID:     row.ReplyToRowID,
		Text:             row.Text,
		Timestamp:        row.Timestamp.UTC(),
		FromUser: &model.User{
			ID:           row.FromUserID,
			Username:     row.UUsername,
			FirstName:    row.UFirstName,
			LastName:     row.ULastName,
			LanguageCode: row.ULanguageCode,
		},
	}
	if row.ReplyToRowID == nil || row.RID == nil {
		return msg
	}

	reply := &model.Message{
		RowID:  *row.ReplyToRowID,
		ID:     *row.RID,
		ChatID: deref(row.RChatID),
		Text:   deref(row.RText),
	}
	if row.RTimestamp != nil {
		reply.Timestamp = row.RTimestamp.UTC()
	}
	if row.RFromUserID != nil {
		reply.FromUserID = *row.RFromUserID
		reply.FromUser = &model.User{
			ID:           *row.RFromUserID,
			Username:     row.RUUsername,
			FirstName:    deref(row.RUFirstName),
			LastName:     deref(row.RULastName),
			LanguageCode: deref(row.RULanguageCode),
		}
	}
	msg.ReplyTo = reply
	return msg
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (r *messageRepository) ClearHistory(ctx context.Context, chatID int64) error {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先断开本 chat 内的回复链接，避免依赖数据库的级联删除顺序
		if err := tx.Model(&model.Message{}).
			Where("chat_id = ? AND reply_to_row_id IS NOT NULL", chatID).
			Update("reply_to_row_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("chat_id = ?", chatID).Delete(&model.Message{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return apperrors.Persistence("clear history", err)
	}
	log.Infof("[MessageRepository] 已清空 chat %d 的 %d 条消息", chatID, deleted)
	return nil
}
