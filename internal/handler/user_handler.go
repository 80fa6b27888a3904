package handler

import (
	"chat-server/internal/service"
	"chat-server/pkg/jwt"
	"chat-server/pkg/redis"
	"chat-server/pkg/response"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	service *service.UserService
}

func NewUserHandler(s *service.UserService) *UserHandler {
	return &UserHandler{service: s}
}

// Register 用户注册
func (h *UserHandler) Register(c *gin.Context) {
	type req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email"`
		Password string `json:"password" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, token, err := h.service.Register(r.Username, r.Email, r.Password)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessWithMessage(c, "注册成功", &response.RegisterResponse{
		User:        response.FilterUserInfo(user),
		AccessToken: token,
	})
}

// Login 用户登录
func (h *UserHandler) Login(c *gin.Context) {
	type req struct {
		UsernameOrEmail string `json:"usernameOrEmail" binding:"required"`
		Password        string `json:"password" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, token, err := h.service.Login(r.UsernameOrEmail, r.Password)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessWithMessage(c, "登录成功", &response.LoginResponse{
		User:        response.FilterUserInfo(user),
		AccessToken: token,
	})
}

// GetProfile 获取当前用户资料（需要JWT认证）
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	if userID == 0 {
		response.Unauthorized(c, "用户未认证")
		return
	}

	user, err := h.service.Profile(userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, response.FilterUserInfo(user))
}

// Logout 用户登出（需要JWT认证）：仅更新在线状态为offline
func (h *UserHandler) Logout(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	if userID == 0 {
		response.Unauthorized(c, "用户未认证")
		return
	}
	if err := h.service.Logout(userID); err != nil {
		response.InternalError(c, "登出失败")
		return
	}
	response.SuccessWithMessage(c, "已离线", nil)
}

// GetOnlineUsers 获取在线用户列表（需要JWT认证）
func (h *UserHandler) GetOnlineUsers(c *gin.Context) {
	presences, err := redis.GetOnlineUsersWithDetails()
	if err != nil {
		response.InternalError(c, "获取在线用户失败")
		return
	}

	onlineUsers := make([]gin.H, 0, len(presences))
	for _, presence := range presences {
		onlineUsers = append(onlineUsers, gin.H{
			"user_id":   presence.UserID,
			"username":  presence.Username,
			"status":    presence.Status,
			"last_seen": presence.LastSeen.Format("2006-01-02 15:04:05"),
		})
	}

	response.Success(c, gin.H{
		"online_count": len(onlineUsers),
		"users":        onlineUsers,
	})
}
