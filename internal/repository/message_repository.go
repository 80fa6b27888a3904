package repository

import (
	"time"

	"chat-server/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 消息数据仓储
// 状态转移一律使用带条件的单条UPDATE，受影响行数为0表示转移不合法，
// 由服务层回查区分具体原因
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建MessageRepository实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create 创建消息
func (r *MessageRepository) Create(message *model.Message) error {
	return r.db.Create(message).Error
}

// GetByID 根据ID获取消息
func (r *MessageRepository) GetByID(id uint) (*model.Message, error) {
	var message model.Message
	if err := r.db.First(&message, id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// GetPrivateMessages 获取两个用户之间的私聊消息（双向），按创建时间升序分页
func (r *MessageRepository) GetPrivateMessages(userID, otherUserID uint, limit, offset int) ([]*model.Message, error) {
	var messages []*model.Message

	err := r.db.Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		userID, otherUserID, otherUserID, userID,
	).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error

	return messages, err
}

// GetUnreadMessages 获取用户未读消息
func (r *MessageRepository) GetUnreadMessages(userID uint) ([]*model.Message, error) {
	var messages []*model.Message

	err := r.db.Where("receiver_id = ? AND is_read = ?", userID, false).
		Order("created_at ASC").
		Find(&messages).Error

	return messages, err
}

// MarkAsRead 接收者标记消息已读的条件更新
// 仅当 reader 为接收者且尚未读时生效；幂等重试返回0行
func (r *MessageRepository) MarkAsRead(messageID, readerID uint) (int64, error) {
	now := time.Now()
	result := r.db.Model(&model.Message{}).
		Where("id = ? AND receiver_id = ? AND is_read = ?", messageID, readerID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": now,
			"status":  model.MessageRead,
		})
	return result.RowsAffected, result.Error
}

// Recall 发送者撤回消息的条件更新
// 仅当发送者匹配、未撤回且在时间窗口内生效；内容替换为占位文本
func (r *MessageRepository) Recall(messageID, senderID uint, notBefore time.Time) (int64, error) {
	result := r.db.Model(&model.Message{}).
		Where("id = ? AND sender_id = ? AND is_recalled = ? AND created_at >= ?",
			messageID, senderID, false, notBefore).
		Updates(map[string]interface{}{
			"is_recalled": true,
			"content":     model.RecalledPlaceholder,
			"updated_at":  time.Now(),
		})
	return result.RowsAffected, result.Error
}

// Edit 发送者编辑消息的条件更新
// 仅当发送者匹配、未撤回且在时间窗口内生效
func (r *MessageRepository) Edit(messageID, senderID uint, newContent string, notBefore time.Time) (int64, error) {
	result := r.db.Model(&model.Message{}).
		Where("id = ? AND sender_id = ? AND is_recalled = ? AND created_at >= ?",
			messageID, senderID, false, notBefore).
		Updates(map[string]interface{}{
			"content":    newContent,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// GetUnreadCount 获取用户未读消息数量
func (r *MessageRepository) GetUnreadCount(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.Message{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// GetConversationUnreadCount 获取与特定用户的未读消息数量
func (r *MessageRepository) GetConversationUnreadCount(userID, otherUserID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", userID, otherUserID, false).
		Count(&count).Error
	return count, err
}

// GetRecentMessages 获取用户参与的最新消息（用于聚合会话列表）
func (r *MessageRepository) GetRecentMessages(userID uint, limit int) ([]*model.Message, error) {
	var messages []*model.Message

	err := r.db.Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error

	return messages, err
}
