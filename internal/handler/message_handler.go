package handler

import (
	"strconv"

	"chat-server/internal/service"
	"chat-server/pkg/jwt"
	"chat-server/pkg/response"

	"github.com/gin-gonic/gin"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	service *service.MessageService
}

// NewMessageHandler 创建MessageHandler实例
func NewMessageHandler(s *service.MessageService) *MessageHandler {
	return &MessageHandler{service: s}
}

// currentUserID 从JWT上下文取当前用户ID
func currentUserID(c *gin.Context) (uint, bool) {
	userID := jwt.GetUserIDUint(c)
	if userID == 0 {
		response.Unauthorized(c, "用户未认证")
		return 0, false
	}
	return userID, true
}

// pathID 解析路径参数中的数字ID
func pathID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || v == 0 {
		response.BadRequest(c, "无效的"+name)
		return 0, false
	}
	return uint(v), true
}

// SendMessage 发送私聊消息
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	type req struct {
		ReceiverID uint              `json:"receiver_id" binding:"required"`
		Content    string            `json:"content" binding:"required"`
		Metadata   map[string]string `json:"metadata"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.service.Send(userID, r.ReceiverID, r.Content, r.Metadata)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "发送成功", response.FilterMessageInfo(msg))
}

// GetHistory 查询与指定用户的历史消息（分页，时间升序）
func (h *MessageHandler) GetHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	otherID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	messages, err := h.service.History(userID, otherID, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"page":      page,
		"page_size": pageSize,
		"messages":  response.FilterMessageList(messages),
	})
}

// MarkRead 将消息标记为已读（仅接收方）
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}

	if err := h.service.MarkRead(messageID, userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已读", nil)
}

// EditMessage 编辑消息（仅发送方、时间窗口内）
func (h *MessageHandler) EditMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}

	type req struct {
		Content string `json:"content" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.service.Edit(messageID, userID, r.Content)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "编辑成功", response.FilterMessageInfo(msg))
}

// RecallMessage 撤回消息（仅发送方、时间窗口内）
func (h *MessageHandler) RecallMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}

	msg, err := h.service.Recall(messageID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "撤回成功", response.FilterMessageInfo(msg))
}

// GetSessions 获取最近会话列表（按最后一条消息时间倒序）
func (h *MessageHandler) GetSessions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	sessions, err := h.service.Sessions(userID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"sessions": response.FilterSessionList(sessions)})
}

// GetUnreadMessages 获取全部未读消息
func (h *MessageHandler) GetUnreadMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	messages, err := h.service.UnreadMessages(userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"count":    len(messages),
		"messages": response.FilterMessageList(messages),
	})
}

// GetUnreadCount 获取未读消息总数
func (h *MessageHandler) GetUnreadCount(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"unread_count": count})
}
