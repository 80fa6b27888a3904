package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// 消息状态
const (
	MessageSent      = "sent"      // 已发送
	MessageDelivered = "delivered" // 已送达
	MessageRead      = "read"      // 已读
)

// RecalledPlaceholder 撤回后替换消息内容的占位文本
const RecalledPlaceholder = "[消息已撤回]"

// Message 私聊消息模型
// 发送后 SenderID/ReceiverID 不可变；撤回后内容被占位文本替换且不可再编辑
// Metadata 存放非文本载荷的指针信息（序列化为JSON文本）
type Message struct {
	ID         uint           `gorm:"primaryKey"`
	SenderID   uint           `gorm:"not null;index;comment:发送者ID"`
	ReceiverID uint           `gorm:"not null;index;comment:接收者ID"`
	Content    string         `gorm:"type:text;not null;comment:消息内容"`
	MsgType    string         `gorm:"type:varchar(32);default:'text';comment:消息类型"`
	Status     string         `gorm:"type:varchar(32);default:'sent';comment:消息状态"`
	IsRead     bool           `gorm:"default:false;comment:是否已读"`
	IsRecalled bool           `gorm:"default:false;comment:是否已撤回"`
	ReadAt     *time.Time     `gorm:"comment:已读时间"`
	Metadata   string         `gorm:"type:text;comment:附加元数据(JSON)"`
	CreatedAt  time.Time      `gorm:"index;comment:创建时间"`
	UpdatedAt  time.Time      `gorm:"comment:更新时间"`
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

func (Message) TableName() string { return "message" }

// SetMetadata 序列化并写入元数据
func (m *Message) SetMetadata(meta map[string]string) error {
	if len(meta) == 0 {
		m.Metadata = ""
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	m.Metadata = string(data)
	return nil
}

// GetMetadata 解析元数据，空值返回nil
func (m *Message) GetMetadata() map[string]string {
	if m.Metadata == "" {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
		return nil
	}
	return meta
}
