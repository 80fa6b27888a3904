package handler

import (
	"chat-server/internal/model"
	"chat-server/internal/service"
	"chat-server/pkg/response"

	"github.com/gin-gonic/gin"
)

// FriendshipHandler 好友关系处理器
type FriendshipHandler struct {
	service *service.FriendshipService
}

// NewFriendshipHandler 创建FriendshipHandler实例
func NewFriendshipHandler(s *service.FriendshipService) *FriendshipHandler {
	return &FriendshipHandler{service: s}
}

// filterList 将好友关系与对端用户资料组装为响应列表
func filterList(userID uint, friendships []*model.Friendship, users map[uint]*model.User) []*response.FriendshipResponse {
	list := make([]*response.FriendshipResponse, 0, len(friendships))
	for _, f := range friendships {
		list = append(list, response.FilterFriendshipInfo(f, users[f.CounterpartOf(userID)]))
	}
	return list
}

// ListFriends 获取好友列表
func (h *FriendshipHandler) ListFriends(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	friendships, users, err := h.service.ListFriends(userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"count":   len(friendships),
		"friends": filterList(userID, friendships, users),
	})
}

// ListRequests 获取待处理的好友请求（当前用户为接收方）
func (h *FriendshipHandler) ListRequests(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	friendships, users, err := h.service.ListPendingRequests(userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"count":    len(friendships),
		"requests": filterList(userID, friendships, users),
	})
}

// SendRequest 发起好友请求
func (h *FriendshipHandler) SendRequest(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	type req struct {
		TargetID uint   `json:"target_id" binding:"required"`
		Remark   string `json:"remark"`
		Group    string `json:"group"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	f, err := h.service.SendRequest(userID, r.TargetID, r.Remark, r.Group)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "好友请求已发送", response.FilterFriendshipInfo(f, nil))
}

// RespondRequest 处理好友请求（接受或拒绝）
func (h *FriendshipHandler) RespondRequest(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	friendshipID, ok := pathID(c, "friendship_id")
	if !ok {
		return
	}

	type req struct {
		Decision string `json:"decision" binding:"required,oneof=accept reject"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	f, err := h.service.Respond(userID, friendshipID, r.Decision == "accept")
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "好友请求已处理", response.FilterFriendshipInfo(f, nil))
}

// UpdateMetadata 更新好友关系元数据（备注/分组/置顶/免打扰）
func (h *FriendshipHandler) UpdateMetadata(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	friendshipID, ok := pathID(c, "friendship_id")
	if !ok {
		return
	}

	type req struct {
		Remark   *string `json:"remark"`
		Group    *string `json:"group"`
		IsPinned *bool   `json:"is_pinned"`
		IsMuted  *bool   `json:"is_muted"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	f, err := h.service.UpdateMetadata(userID, friendshipID, service.MetadataUpdate{
		Remark:   r.Remark,
		Group:    r.Group,
		IsPinned: r.IsPinned,
		IsMuted:  r.IsMuted,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已更新", response.FilterFriendshipInfo(f, nil))
}

// DeleteFriend 删除好友关系
func (h *FriendshipHandler) DeleteFriend(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	friendshipID, ok := pathID(c, "friendship_id")
	if !ok {
		return
	}

	if err := h.service.Delete(userID, friendshipID); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已删除", nil)
}
