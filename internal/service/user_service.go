package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-server/internal/model"
	"chat-server/internal/repository"
	"chat-server/pkg/apperr"
	"chat-server/pkg/jwt"
	"chat-server/pkg/password"
	"chat-server/pkg/redis"

	"gorm.io/gorm"
)

// UserService 用户服务：注册/登录/登出
type UserService struct {
	repo       *repository.UserRepository
	jwtService *jwt.JWTService
}

// NewUserService 创建UserService实例
func NewUserService(repo *repository.UserRepository, jwtService *jwt.JWTService) *UserService {
	return &UserService{repo: repo, jwtService: jwtService}
}

// Register 注册
func (s *UserService) Register(username, email, plainPassword string) (*model.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || plainPassword == "" {
		return nil, "", apperr.Validation("用户名和密码不能为空")
	}

	// 密码哈希
	hash, err := password.Hash(plainPassword)
	if err != nil {
		return nil, "", err
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Status:       "offline",
		LastSeen:     time.Now(),
	}
	if err := s.repo.Create(user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", apperr.Conflict("用户名或邮箱已被占用")
		}
		return nil, "", err
	}

	// 默认签发 token，用户ID作为 subject
	token, err := s.jwtService.GenerateToken(
		fmt.Sprintf("%d", user.ID),
		map[string]interface{}{"username": user.Username},
	)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login 登录
func (s *UserService) Login(identifier, plainPassword string) (*model.User, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || plainPassword == "" {
		return nil, "", apperr.Validation("用户名和密码不能为空")
	}

	u, err := s.repo.GetByUsernameOrEmail(identifier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", apperr.Unauthenticated("用户名或密码错误")
		}
		return nil, "", err
	}
	if !password.Verify(plainPassword, u.PasswordHash) {
		return nil, "", apperr.Unauthenticated("用户名或密码错误")
	}

	_ = s.repo.UpdateLastLogin(u.ID)

	token, err := s.jwtService.GenerateToken(
		fmt.Sprintf("%d", u.ID),
		map[string]interface{}{"username": u.Username},
	)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Profile 查询用户资料
func (s *UserService) Profile(userID uint) (*model.User, error) {
	u, err := s.repo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("用户不存在")
		}
		return nil, err
	}
	return u, nil
}

// SetOnline 实时通道连接建立时标记用户在线
func (s *UserService) SetOnline(userID uint, username string) error {
	if err := s.repo.UpdateStatus(userID, "online"); err != nil {
		return err
	}
	_ = redis.SetUserPresence(userID, username, "online")
	return nil
}

// SetOffline 实时通道连接全部断开时标记用户离线
func (s *UserService) SetOffline(userID uint, username string) error {
	if err := s.repo.UpdateStatus(userID, "offline"); err != nil {
		return err
	}
	_ = redis.SetUserPresence(userID, username, "offline")
	return nil
}

// Logout 登出：更新数据库与Redis的在线状态为offline
func (s *UserService) Logout(userID uint) error {
	if err := s.repo.UpdateStatus(userID, "offline"); err != nil {
		return err
	}

	u, err := s.repo.GetByID(userID)
	if err == nil {
		_ = redis.SetUserPresence(userID, u.Username, "offline")
	}
	return nil
}
