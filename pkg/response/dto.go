package response

import (
	"time"

	"chat-server/internal/model"
	"chat-server/pkg/redis"
)

// UserInfo 用户信息（隐藏敏感字段）
type UserInfo struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	Status    string `json:"status"`
	LastLogin string `json:"last_login"`
	LastSeen  string `json:"last_seen"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// UserSummary 用户摘要（用于嵌入好友/会话响应）
type UserSummary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// FilterUserInfo 过滤用户信息，隐藏敏感字段
func FilterUserInfo(user *model.User) *UserInfo {
	if user == nil {
		return nil
	}

	return &UserInfo{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Nickname:  user.Nickname,
		Avatar:    user.Avatar,
		Status:    user.Status,
		LastLogin: user.LastLogin.Format("2006-01-02 15:04:05"),
		LastSeen:  user.LastSeen.Format("2006-01-02 15:04:05"),
		CreatedAt: user.CreatedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt: user.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

// FilterUserSummary 生成用户摘要
func FilterUserSummary(user *model.User) *UserSummary {
	if user == nil {
		return nil
	}
	return &UserSummary{
		ID:       user.ID,
		Username: user.Username,
		Avatar:   user.Avatar,
	}
}

// LoginResponse 登录响应
type LoginResponse struct {
	User        *UserInfo `json:"user"`
	AccessToken string    `json:"access_token"`
}

// RegisterResponse 注册响应
type RegisterResponse struct {
	User        *UserInfo `json:"user"`
	AccessToken string    `json:"access_token"`
}

// MessageResponse 消息响应
type MessageResponse struct {
	ID         uint              `json:"id"`
	SenderID   uint              `json:"sender_id"`
	ReceiverID uint              `json:"receiver_id"`
	Content    string            `json:"content"`
	MsgType    string            `json:"msg_type"`
	Status     string            `json:"status"`
	IsRead     bool              `json:"is_read"`
	IsRecalled bool              `json:"is_recalled"`
	ReadAt     string            `json:"read_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

// FilterMessageInfo 过滤消息信息
func FilterMessageInfo(message *model.Message) *MessageResponse {
	if message == nil {
		return nil
	}

	readAt := ""
	if message.ReadAt != nil {
		readAt = message.ReadAt.Format("2006-01-02 15:04:05")
	}

	return &MessageResponse{
		ID:         message.ID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		Content:    message.Content,
		MsgType:    message.MsgType,
		Status:     message.Status,
		IsRead:     message.IsRead,
		IsRecalled: message.IsRecalled,
		ReadAt:     readAt,
		Metadata:   message.GetMetadata(),
		CreatedAt:  message.CreatedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt:  message.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

// FilterMessageList 批量过滤消息
func FilterMessageList(messages []*model.Message) []*MessageResponse {
	result := make([]*MessageResponse, 0, len(messages))
	for _, m := range messages {
		result = append(result, FilterMessageInfo(m))
	}
	return result
}

// FriendshipResponse 好友关系响应
// Friend 为相对于请求方的另一方摘要
type FriendshipResponse struct {
	ID        uint         `json:"id"`
	UserID    uint         `json:"user_id"`
	FriendID  uint         `json:"friend_id"`
	Status    string       `json:"status"`
	Remark    string       `json:"remark,omitempty"`
	Group     string       `json:"group,omitempty"`
	IsPinned  bool         `json:"is_pinned"`
	IsMuted   bool         `json:"is_muted"`
	Friend    *UserSummary `json:"friend,omitempty"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
}

// FilterFriendshipInfo 过滤好友关系信息
func FilterFriendshipInfo(f *model.Friendship, friend *model.User) *FriendshipResponse {
	if f == nil {
		return nil
	}

	return &FriendshipResponse{
		ID:        f.ID,
		UserID:    f.UserID,
		FriendID:  f.FriendID,
		Status:    f.Status,
		Remark:    f.Remark,
		Group:     f.Group,
		IsPinned:  f.IsPinned,
		IsMuted:   f.IsMuted,
		Friend:    FilterUserSummary(friend),
		CreatedAt: f.CreatedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt: f.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

// ChatSessionResponse 会话响应：与某个对端的最近消息与未读数
type ChatSessionResponse struct {
	UserID          uint      `json:"user_id"`
	Username        string    `json:"username"`
	Avatar          string    `json:"avatar"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	UnreadCount     int64     `json:"unread_count"`
}

// FilterSessionList 将缓存会话转换为会话响应列表
func FilterSessionList(sessions []redis.CachedConversation) []*ChatSessionResponse {
	list := make([]*ChatSessionResponse, 0, len(sessions))
	for _, s := range sessions {
		list = append(list, &ChatSessionResponse{
			UserID:          s.UserID,
			Username:        s.Username,
			Avatar:          s.Avatar,
			LastMessage:     s.LastMessage,
			LastMessageTime: s.LastTime,
			UnreadCount:     s.UnreadCount,
		})
	}
	return list
}
