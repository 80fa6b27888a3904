package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-server/config"
	"chat-server/internal/event"
	"chat-server/internal/handler"
	"chat-server/internal/model"
	"chat-server/internal/repository"
	"chat-server/internal/service"
	dbPkg "chat-server/pkg/db"
	"chat-server/pkg/jwt"
	"chat-server/pkg/logger"
	redisPkg "chat-server/pkg/redis"
	"chat-server/pkg/response"
	"chat-server/pkg/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== 聊天服务启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_host", cfg.Database.Host),
		zap.Int("database_port", cfg.Database.Port),
		zap.String("database_name", cfg.Database.Database),
		zap.Duration("jwt_expire_time", cfg.JWT.ExpireTime),
		zap.Duration("message_edit_window", cfg.Message.EditWindow),
		zap.Duration("message_recall_window", cfg.Message.RecallWindow),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	if _, err := dbPkg.InitDB(cfg.Database); err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 自动迁移表结构
	if err := dbPkg.AutoMigrate(&model.User{}, &model.Message{}, &model.Friendship{}); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}
	log.Info("自动迁移完成")

	// 3.2 初始化Redis（失败不阻断启动，相关功能自动降级到数据库）
	redisAvailable := true
	if err := redisPkg.InitRedis(cfg.Redis); err != nil {
		redisAvailable = false
		log.Warn("Redis连接失败，未读计数/在线状态/离线补投降级", zap.Error(err))
	} else {
		defer redisPkg.Close()
		log.Info("Redis连接成功")
	}

	// 3.3 组装业务组件：仓储 -> 连接管理器/事件分发 -> 服务 -> 处理器
	db := dbPkg.GetDB()
	jwtSvc := jwt.NewJWTService(cfg.JWT)
	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	friendshipRepo := repository.NewFriendshipRepository(db)

	wsManager := websocket.NewManager(log)
	dispatcher := event.NewDispatcher(wsManager, log)
	if !redisAvailable {
		dispatcher.DisableOfflineQueue()
	}

	userSvc := service.NewUserService(userRepo, jwtSvc)
	messageSvc := service.NewMessageService(messageRepo, userRepo, dispatcher, cfg.Message)
	friendshipSvc := service.NewFriendshipService(friendshipRepo, userRepo, dispatcher)

	userHandler := handler.NewUserHandler(userSvc)
	messageHandler := handler.NewMessageHandler(messageSvc)
	friendshipHandler := handler.NewFriendshipHandler(friendshipSvc)
	wsHandler := websocket.NewHandler(wsManager, jwtSvc, userSvc, messageSvc, friendshipSvc, dispatcher, cfg.WebSocket, log)

	// 4. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 5. 创建Gin路由
	router := gin.New()
	router.Use(logger.LoggerMiddleware())
	router.Use(logger.ErrorLoggerMiddleware())

	// 6. 基础路由
	setupBasicRoutes(router)

	// 6.1 业务路由
	v1 := router.Group("/api/v1")
	{
		users := v1.Group("/users")
		{
			// 公开接口（无需认证）
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的接口
			authUsers := users.Group("")
			authUsers.Use(jwtSvc.AuthMiddleware())
			{
				authUsers.GET("/profile", userHandler.GetProfile)
				authUsers.POST("/logout", userHandler.Logout)
				authUsers.GET("/online", userHandler.GetOnlineUsers)
			}
		}

		// 好友关系路由（需要认证）
		friends := v1.Group("/friends")
		friends.Use(jwtSvc.AuthMiddleware())
		{
			friends.GET("", friendshipHandler.ListFriends)
			friends.GET("/requests", friendshipHandler.ListRequests)
			friends.POST("/requests", friendshipHandler.SendRequest)
			friends.PUT("/requests/:friendship_id", friendshipHandler.RespondRequest)
			friends.PUT("/:friendship_id", friendshipHandler.UpdateMetadata)
			friends.DELETE("/:friendship_id", friendshipHandler.DeleteFriend)
		}

		// 消息路由（需要认证）
		messages := v1.Group("/messages")
		messages.Use(jwtSvc.AuthMiddleware())
		{
			messages.POST("/send", messageHandler.SendMessage)
			messages.GET("/sessions", messageHandler.GetSessions)
			messages.GET("/unread", messageHandler.GetUnreadMessages)
			messages.GET("/unread/count", messageHandler.GetUnreadCount)
			messages.PUT("/:message_id/read", messageHandler.MarkRead)
			messages.PUT("/:message_id", messageHandler.EditMessage)
			messages.POST("/:message_id/recall", messageHandler.RecallMessage)
		}

		// 私聊消息历史（需要认证）
		conversations := v1.Group("/conversations")
		conversations.Use(jwtSvc.AuthMiddleware())
		{
			conversations.GET("/:user_id/messages", messageHandler.GetHistory)
		}
	}

	// WebSocket路由
	router.GET("/ws", wsHandler.Serve)

	// 7. 创建HTTP服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 8. 启动HTTP服务器
	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}

	// 断开所有实时连接
	wsManager.CloseAll()

	log.Info("服务器已安全关闭")
}

// setupBasicRoutes 设置基础路由
func setupBasicRoutes(router *gin.Engine) {
	// 健康检查
	// 完整url为：http://localhost:8080/health
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if err := dbPkg.HealthCheck(); err != nil {
			status = "db-down"
		}
		response.Success(c, gin.H{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// 根路径
	// 完整url为：http://localhost:8080/
	router.GET("/", func(c *gin.Context) {
		response.Success(c, gin.H{
			"message": "欢迎使用聊天服务",
			"version": "1.0.0",
		})
	})
}
