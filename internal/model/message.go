package model

import "time"

// Message 对应 messages 表。
// 消息 ID 仅在单个 chat 内唯一，(chat_id, id) 组合唯一；row_id 为代理主键，
// 供 reply_to_row_id 自引用外键使用。
type Message struct {
	RowID            uint64    `gorm:"primaryKey;autoIncrement;column:row_id" json:"-"`
	ID               int64     `gorm:"not null;uniqueIndex:uix_id_chat_id,priority:2;column:id" json:"id"`
	ChatID           int64     `gorm:"not null;uniqueIndex:uix_id_chat_id,priority:1;index:idx_messages_chat_ts,priority:1;column:chat_id" json:"chatId"`
	FromUserID       int64     `gorm:"not null;index;column:from_user_id" json:"fromUserId"`
	ReplyToMessageID *int64    `gorm:"column:reply_to_message_id" json:"replyToMessageId,omitempty"`
	ReplyToRowID     *uint64   `gorm:"index;column:reply_to_row_id" json:"-"`
	Text             string    `gorm:"type:text;column:text" json:"text"`
	Timestamp        time.Time `gorm:"not null;index:idx_messages_chat_ts,priority:2;column:timestamp" json:"timestamp"`

	FromUser *User    `gorm:"foreignKey:FromUserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"fromUser,omitempty"`
	ReplyTo  *Message `gorm:"foreignKey:ReplyToRowID;references:RowID;constraint:OnDelete:SET NULL" json:"replyTo,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}
