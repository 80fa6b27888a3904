package service

import (
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"chat-server/config"
	"chat-server/internal/event"
	"chat-server/internal/model"
	"chat-server/internal/repository"
	"chat-server/pkg/apperr"
	"chat-server/pkg/redis"

	"gorm.io/gorm"
)

// MessageService 消息服务
// 持有消息生命周期状态机：sent -> read，撤回为终态；编辑/撤回受时间窗口约束
type MessageService struct {
	messageRepo *repository.MessageRepository
	userRepo    *repository.UserRepository
	dispatcher  *event.Dispatcher
	cfg         config.MessageConfig
}

// NewMessageService 创建MessageService实例
func NewMessageService(
	messageRepo *repository.MessageRepository,
	userRepo *repository.UserRepository,
	dispatcher *event.Dispatcher,
	cfg config.MessageConfig,
) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		dispatcher:  dispatcher,
		cfg:         cfg,
	}
}

// validateContent 校验消息内容：非空且不超过长度上限
func (s *MessageService) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.Validation("消息内容不能为空")
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxContentLen {
		return "", apperr.Validation("消息内容超过长度限制")
	}
	return content, nil
}

// Send 发送私聊消息
// 持久化成功后尽力推送给接收者的活跃连接，不在线不算失败
func (s *MessageService) Send(senderID, receiverID uint, content string, metadata map[string]string) (*model.Message, error) {
	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}

	if senderID == receiverID {
		return nil, apperr.Validation("不能给自己发消息")
	}

	exists, err := s.userRepo.Exists(receiverID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFound("接收者不存在")
	}

	message := &model.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		MsgType:    "text",
		Status:     model.MessageSent,
	}
	if err := message.SetMetadata(metadata); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "元数据格式非法", err)
	}

	if err := s.messageRepo.Create(message); err != nil {
		return nil, err
	}

	// 缓存维护（尽力而为）：未读计数+1，相关缓存失效
	_ = redis.IncrementUnreadCount(receiverID)
	_ = redis.ClearMessageCache(senderID, receiverID)
	_ = redis.ClearConversationCache(senderID)
	_ = redis.ClearConversationCache(receiverID)

	// 推送给接收者
	s.dispatcher.Publish(event.Event{
		Type: event.TypeMessageReceived,
		Payload: map[string]interface{}{
			"msg_id":    message.ID,
			"from":      senderID,
			"to":        receiverID,
			"content":   content,
			"msg_type":  message.MsgType,
			"timestamp": message.CreatedAt.Unix(),
		},
	}, receiverID)

	return message, nil
}

// MarkRead 接收者标记消息已读（幂等）
// 重复调用直接成功，已读时间以第一次为准
func (s *MessageService) MarkRead(messageID, readerID uint) error {
	message, err := s.messageRepo.GetByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("消息不存在")
		}
		return err
	}

	if message.ReceiverID != readerID {
		return apperr.Forbidden("只能标记发给自己的消息为已读")
	}

	if message.IsRead {
		return nil // 幂等：已读无需重复操作
	}

	rows, err := s.messageRepo.MarkAsRead(messageID, readerID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil // 并发标记已完成，同样视为成功
	}

	// 已读转换会改变历史投影，消息缓存必须一并失效
	_ = redis.DecrementUnreadCount(readerID)
	_ = redis.ClearMessageCache(message.SenderID, message.ReceiverID)
	_ = redis.ClearConversationCache(readerID)

	// 通知发送者已读回执
	s.dispatcher.Publish(event.Event{
		Type: event.TypeMessageStatusUpdated,
		Payload: map[string]interface{}{
			"msg_id": messageID,
			"status": model.MessageRead,
			"by":     readerID,
		},
	}, message.SenderID)

	return nil
}

// Edit 发送者在时间窗口内编辑消息
func (s *MessageService) Edit(messageID, editorID uint, newContent string) (*model.Message, error) {
	newContent, err := s.validateContent(newContent)
	if err != nil {
		return nil, err
	}

	message, err := s.messageRepo.GetByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("消息不存在")
		}
		return nil, err
	}

	if message.SenderID != editorID {
		return nil, apperr.Forbidden("只能编辑自己发送的消息")
	}
	if message.IsRecalled {
		return nil, apperr.InvalidOp("已撤回的消息不能编辑")
	}
	if time.Since(message.CreatedAt) > s.cfg.EditWindow {
		return nil, apperr.InvalidOp("超出可编辑时间窗口")
	}

	// 条件更新兜底并发撤回：撤回先落库则编辑失败
	rows, err := s.messageRepo.Edit(messageID, editorID, newContent, time.Now().Add(-s.cfg.EditWindow))
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, apperr.InvalidOp("消息当前状态不允许编辑")
	}

	_ = redis.ClearMessageCache(message.SenderID, message.ReceiverID)
	_ = redis.ClearConversationCache(message.SenderID)
	_ = redis.ClearConversationCache(message.ReceiverID)

	return s.messageRepo.GetByID(messageID)
}

// Recall 发送者在时间窗口内撤回消息
// 撤回后内容替换为占位文本，为终态，不可再编辑或重复撤回
func (s *MessageService) Recall(messageID, requesterID uint) (*model.Message, error) {
	message, err := s.messageRepo.GetByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("消息不存在")
		}
		return nil, err
	}

	if message.SenderID != requesterID {
		return nil, apperr.Forbidden("只能撤回自己发送的消息")
	}
	if message.IsRecalled {
		return nil, apperr.InvalidOp("消息已经被撤回")
	}
	if time.Since(message.CreatedAt) > s.cfg.RecallWindow {
		return nil, apperr.InvalidOp("超出可撤回时间窗口")
	}

	rows, err := s.messageRepo.Recall(messageID, requesterID, time.Now().Add(-s.cfg.RecallWindow))
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, apperr.InvalidOp("消息已经被撤回")
	}

	_ = redis.ClearMessageCache(message.SenderID, message.ReceiverID)
	_ = redis.ClearConversationCache(message.SenderID)
	_ = redis.ClearConversationCache(message.ReceiverID)

	// 通知接收者消息被撤回
	s.dispatcher.Publish(event.Event{
		Type: event.TypeMessageRecalled,
		Payload: map[string]interface{}{
			"msg_id": messageID,
			"from":   requesterID,
		},
	}, message.ReceiverID)

	return s.messageRepo.GetByID(messageID)
}

// History 获取与指定用户的私聊消息历史（按创建时间升序分页）
// 纯投影：不修改任何状态，相同参数重复查询返回一致结果
func (s *MessageService) History(userID, otherUserID uint, page, pageSize int) ([]*model.Message, error) {
	exists, err := s.userRepo.Exists(otherUserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFound("用户不存在")
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	// 第一页且数量在缓存范围内时走缓存
	// 缓存不足以覆盖请求数量且未标记完整时不可用，必须回源
	if page == 1 && pageSize <= redis.MaxCachedMessages {
		if cached, complete, cacheErr := redis.GetCachedPrivateMessages(userID, otherUserID); cacheErr == nil {
			if len(cached) >= pageSize {
				return cached[:pageSize], nil
			}
			if complete {
				return cached, nil
			}
		}

		// 独立于调用方分页拉取完整缓存窗口，避免小页查询污染缓存
		window, err := s.messageRepo.GetPrivateMessages(userID, otherUserID, redis.MaxCachedMessages, 0)
		if err != nil {
			return nil, err
		}
		complete := len(window) < redis.MaxCachedMessages

		// 异步回填缓存
		go func() {
			_ = redis.CachePrivateMessages(userID, otherUserID, window, complete)
		}()

		if len(window) > pageSize {
			return window[:pageSize], nil
		}
		return window, nil
	}

	return s.messageRepo.GetPrivateMessages(userID, otherUserID, pageSize, offset)
}

// Sessions 获取会话列表：按对端聚合的最近消息与未读数，按最近时间降序
func (s *MessageService) Sessions(userID uint, limit int) ([]redis.CachedConversation, error) {
	if limit <= 0 || limit > redis.MaxCachedConversations {
		limit = redis.MaxCachedConversations
	}

	// 尝试缓存
	if cached, err := redis.GetCachedConversations(userID); err == nil && len(cached) > 0 {
		if len(cached) > limit {
			return cached[:limit], nil
		}
		return cached, nil
	}

	// 缓存未命中，从数据库聚合
	messages, err := s.messageRepo.GetRecentMessages(userID, limit*20)
	if err != nil {
		return nil, err
	}

	conversationMap := make(map[uint]*redis.CachedConversation)
	for _, msg := range messages {
		otherUserID := msg.ReceiverID
		if msg.ReceiverID == userID {
			otherUserID = msg.SenderID
		}

		// 消息按时间降序返回，首次遇到的即为该对端的最新消息
		if _, exists := conversationMap[otherUserID]; exists {
			continue
		}

		conversationMap[otherUserID] = &redis.CachedConversation{
			UserID:      otherUserID,
			LastMessage: msg.Content,
			LastTime:    msg.CreatedAt,
		}
	}

	conversations := make([]redis.CachedConversation, 0, len(conversationMap))
	for otherUserID, conv := range conversationMap {
		if other, err := s.userRepo.GetByID(otherUserID); err == nil {
			conv.Username = other.Username
			conv.Avatar = other.Avatar
		}
		if unread, err := s.messageRepo.GetConversationUnreadCount(userID, otherUserID); err == nil {
			conv.UnreadCount = unread
		}
		conversations = append(conversations, *conv)
	}

	// 按最近消息时间降序
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastTime.After(conversations[j].LastTime)
	})

	if len(conversations) > limit {
		conversations = conversations[:limit]
	}

	// 异步回填缓存
	go func() {
		_ = redis.CacheConversations(userID, conversations)
	}()

	return conversations, nil
}

// UnreadMessages 获取未读消息列表
func (s *MessageService) UnreadMessages(userID uint) ([]*model.Message, error) {
	return s.messageRepo.GetUnreadMessages(userID)
}

// UnreadCount 获取未读消息数量（优先从Redis获取，未命中从数据库回源）
func (s *MessageService) UnreadCount(userID uint) (int64, error) {
	count, err := redis.GetUnreadCount(userID)
	if err == nil && count >= 0 {
		return count, nil
	}

	dbCount, err := s.messageRepo.GetUnreadCount(userID)
	if err != nil {
		return 0, err
	}

	// 同步到Redis
	_ = redis.SetUnreadCount(userID, dbCount)

	return dbCount, nil
}
