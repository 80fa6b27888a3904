package service

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chat-server/config"
	"chat-server/internal/event"
	"chat-server/internal/model"
	"chat-server/internal/repository"
	"chat-server/pkg/jwt"
	"chat-server/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var testDBSeq int64

// newTestDB 打开独立的内存数据库并迁移表结构
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	require.NoError(t, err)

	// 内存库限制为单连接：并发写在连接池串行化，胜负由条件更新裁决
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Message{}, &model.Friendship{}))
	return db
}

// withMiniRedis 启动进程内redis并接入包级客户端，测试结束恢复未初始化状态
func withMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	srv := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	require.NoError(t, redis.InitRedis(config.RedisConfig{Host: host, Port: port}))
	t.Cleanup(func() { _ = redis.Close() })
	return srv
}

// waitForCacheKey 等待异步回填的缓存key出现
func waitForCacheKey(t *testing.T, srv *miniredis.Miniredis, key string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !srv.Exists(key) {
		if time.Now().After(deadline) {
			t.Fatalf("缓存key未出现: %s", key)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// fakeRegistry 测试用连接注册表，记录推送给每个用户的载荷
type fakeRegistry struct {
	mu     sync.Mutex
	online map[uint]bool
	sent   map[uint][][]byte
}

func newFakeRegistry(onlineUsers ...uint) *fakeRegistry {
	online := make(map[uint]bool, len(onlineUsers))
	for _, id := range onlineUsers {
		online[id] = true
	}
	return &fakeRegistry{online: online, sent: make(map[uint][][]byte)}
}

func (f *fakeRegistry) SendToUser(userID uint, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[userID] {
		return false
	}
	f.sent[userID] = append(f.sent[userID], payload)
	return true
}

func (f *fakeRegistry) sentTo(userID uint) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[userID]...)
}

// testEnv 组装好的一套服务及其依赖
type testEnv struct {
	db            *gorm.DB
	registry      *fakeRegistry
	userRepo      *repository.UserRepository
	messageRepo   *repository.MessageRepository
	userSvc       *UserService
	messageSvc    *MessageService
	friendshipSvc *FriendshipService
}

func newTestEnv(t *testing.T, onlineUsers ...uint) *testEnv {
	t.Helper()

	db := newTestDB(t)
	registry := newFakeRegistry(onlineUsers...)
	dispatcher := event.NewDispatcher(registry, zap.NewNop())
	dispatcher.DisableOfflineQueue()

	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	friendshipRepo := repository.NewFriendshipRepository(db)

	jwtSvc := jwt.NewJWTService(config.JWTConfig{
		Secret:     "test-secret",
		ExpireTime: time.Hour,
		Issuer:     "chat-server-test",
	})

	msgCfg := config.MessageConfig{
		EditWindow:    5 * time.Minute,
		RecallWindow:  5 * time.Minute,
		MaxContentLen: 1000,
	}

	return &testEnv{
		db:            db,
		registry:      registry,
		userRepo:      userRepo,
		messageRepo:   messageRepo,
		userSvc:       NewUserService(userRepo, jwtSvc),
		messageSvc:    NewMessageService(messageRepo, userRepo, dispatcher, msgCfg),
		friendshipSvc: NewFriendshipService(friendshipRepo, userRepo, dispatcher),
	}
}

// createUser 创建测试用户
func (e *testEnv) createUser(t *testing.T, username string) *model.User {
	t.Helper()

	u := &model.User{
		Username:     username,
		Email:        username + "@test.local",
		PasswordHash: "test-hash",
		Status:       "offline",
	}
	require.NoError(t, e.userRepo.Create(u))
	return u
}

// backdateMessage 把消息创建时间改到过去，用于时间窗口测试
func (e *testEnv) backdateMessage(t *testing.T, messageID uint, age time.Duration) {
	t.Helper()

	err := e.db.Model(&model.Message{}).
		Where("id = ?", messageID).
		Update("created_at", time.Now().Add(-age)).Error
	require.NoError(t, err)
}
