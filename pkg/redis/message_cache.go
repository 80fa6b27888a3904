package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"chat-server/internal/model"
)

// 消息缓存相关常量
const (
	PrivateMessagesKeyPrefix = "chat:history:"  // 私聊消息缓存key前缀
	ConversationsKeyPrefix   = "chat:sessions:" // 会话列表缓存key前缀
)

// 缓存配置
var (
	MessageCacheTTL        = 1 * time.Hour // 消息缓存TTL
	MaxCachedMessages      = 30            // 最大缓存消息数
	MaxCachedConversations = 10            // 最大缓存会话数
)

// CachedMessage 缓存的消息结构
// 字段与model.Message一一对应，缓存命中与回源必须返回相同内容
type CachedMessage struct {
	ID         uint       `json:"id"`
	SenderID   uint       `json:"sender_id"`
	ReceiverID uint       `json:"receiver_id"`
	Content    string     `json:"content"`
	MsgType    string     `json:"msg_type"`
	Status     string     `json:"status"`
	IsRead     bool       `json:"is_read"`
	IsRecalled bool       `json:"is_recalled"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	Metadata   string     `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// cachedHistory 私聊历史缓存载荷
// Complete 表示该无序对的全部历史都在缓存里（首窗口未装满），
// 否则缓存只是最早一段，超出部分必须回源数据库
type cachedHistory struct {
	Complete bool            `json:"complete"`
	Messages []CachedMessage `json:"messages"`
}

// CachedConversation 缓存的会话结构
type CachedConversation struct {
	UserID      uint      `json:"user_id"`
	Username    string    `json:"username"`
	Avatar      string    `json:"avatar"`
	LastMessage string    `json:"last_message"`
	LastTime    time.Time `json:"last_time"`
	UnreadCount int64     `json:"unread_count"`
}

// pairKey 无序对key：固定小ID在前，保证双向查询命中同一缓存
func pairKey(prefix string, userID1, userID2 uint) string {
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}
	return fmt.Sprintf("%s%d:%d", prefix, userID1, userID2)
}

// CachePrivateMessages 缓存私聊消息（历史最早一个窗口）
// complete 表示 messages 已覆盖该无序对的全部历史
func CachePrivateMessages(userID1, userID2 uint, messages []*model.Message, complete bool) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	key := pairKey(PrivateMessagesKeyPrefix, userID1, userID2)

	payload := cachedHistory{Complete: complete}
	for _, msg := range messages {
		payload.Messages = append(payload.Messages, CachedMessage{
			ID:         msg.ID,
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
			Content:    msg.Content,
			MsgType:    msg.MsgType,
			Status:     msg.Status,
			IsRead:     msg.IsRead,
			IsRecalled: msg.IsRecalled,
			ReadAt:     msg.ReadAt,
			Metadata:   msg.Metadata,
			CreatedAt:  msg.CreatedAt,
			UpdatedAt:  msg.UpdatedAt,
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	if err := Set(key, data, MessageCacheTTL); err != nil {
		return fmt.Errorf("缓存私聊消息失败: %w", err)
	}

	return nil
}

// GetCachedPrivateMessages 获取缓存的私聊消息
// 第二个返回值表示缓存是否覆盖全部历史
func GetCachedPrivateMessages(userID1, userID2 uint) ([]*model.Message, bool, error) {
	if client == nil {
		return nil, false, fmt.Errorf("redis客户端未初始化")
	}

	key := pairKey(PrivateMessagesKeyPrefix, userID1, userID2)

	data, err := Get(key)
	if err != nil {
		return nil, false, err
	}

	var payload cachedHistory
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, false, fmt.Errorf("反序列化消息失败: %w", err)
	}

	var messages []*model.Message
	for _, cached := range payload.Messages {
		messages = append(messages, &model.Message{
			ID:         cached.ID,
			SenderID:   cached.SenderID,
			ReceiverID: cached.ReceiverID,
			Content:    cached.Content,
			MsgType:    cached.MsgType,
			Status:     cached.Status,
			IsRead:     cached.IsRead,
			IsRecalled: cached.IsRecalled,
			ReadAt:     cached.ReadAt,
			Metadata:   cached.Metadata,
			CreatedAt:  cached.CreatedAt,
			UpdatedAt:  cached.UpdatedAt,
		})
	}

	return messages, payload.Complete, nil
}

// ClearMessageCache 清除某对用户的消息缓存（消息变更后失效）
func ClearMessageCache(userID1, userID2 uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	return Del(pairKey(PrivateMessagesKeyPrefix, userID1, userID2))
}

// CacheConversations 缓存会话列表
func CacheConversations(userID uint, conversations []CachedConversation) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	key := fmt.Sprintf("%s%d", ConversationsKeyPrefix, userID)

	if len(conversations) > MaxCachedConversations {
		conversations = conversations[:MaxCachedConversations]
	}

	data, err := json.Marshal(conversations)
	if err != nil {
		return fmt.Errorf("序列化会话列表失败: %w", err)
	}

	if err := Set(key, data, MessageCacheTTL); err != nil {
		return fmt.Errorf("缓存会话列表失败: %w", err)
	}

	return nil
}

// GetCachedConversations 获取缓存的会话列表
func GetCachedConversations(userID uint) ([]CachedConversation, error) {
	if client == nil {
		return nil, fmt.Errorf("redis客户端未初始化")
	}

	key := fmt.Sprintf("%s%d", ConversationsKeyPrefix, userID)

	data, err := Get(key)
	if err != nil {
		return nil, err
	}

	var conversations []CachedConversation
	if err := json.Unmarshal([]byte(data), &conversations); err != nil {
		return nil, fmt.Errorf("反序列化会话列表失败: %w", err)
	}

	return conversations, nil
}

// ClearConversationCache 清除会话列表缓存（有新消息或已读变更后失效）
func ClearConversationCache(userID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	return Del(fmt.Sprintf("%s%d", ConversationsKeyPrefix, userID))
}
