// Package model 定义了与数据库表对应的 Go 结构体以及传输层消息结构。
package model

import (
	"fmt"
	"strings"
)

// User 对应 users 表。ID 由聊天传输层分配，不自增。
type User struct {
	ID           int64   `gorm:"primaryKey;autoIncrement:false;column:id" json:"id"`
	Username     *string `gorm:"type:varchar(64);index;column:username" json:"username,omitempty"`
	FirstName    string  `gorm:"type:varchar(128);column:first_name" json:"firstName"`
	LastName     string  `gorm:"type:varchar(128);column:last_name" json:"lastName"`
	LanguageCode string  `gorm:"type:varchar(16);column:language_code" json:"languageCode"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// DisplayName 优先使用姓名，其次 @handle，最后回退到数字 ID。
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.Username != nil && *u.Username != "" {
		return "@" + *u.Username
	}
	return fmt.Sprintf("user %d", u.ID)
}
