package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"chat-server/config"
	"chat-server/internal/event"
	"chat-server/internal/service"
	"chat-server/pkg/apperr"
	"chat-server/pkg/jwt"
	"chat-server/pkg/redis"
	"chat-server/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域
	},
}

// Handler 实时通道入口
// 负责握手鉴权、连接生命周期管理以及客户端指令的分发，
// 业务动作全部走与HTTP接口相同的service层
type Handler struct {
	manager       *Manager
	jwtSvc        *jwt.JWTService
	userSvc       *service.UserService
	messageSvc    *service.MessageService
	friendshipSvc *service.FriendshipService
	dispatcher    *event.Dispatcher
	cfg           config.WebSocketConfig
	log           *zap.Logger
}

// NewHandler 创建实时通道处理器
func NewHandler(
	manager *Manager,
	jwtSvc *jwt.JWTService,
	userSvc *service.UserService,
	messageSvc *service.MessageService,
	friendshipSvc *service.FriendshipService,
	dispatcher *event.Dispatcher,
	cfg config.WebSocketConfig,
	log *zap.Logger,
) *Handler {
	return &Handler{
		manager:       manager,
		jwtSvc:        jwtSvc,
		userSvc:       userSvc,
		messageSvc:    messageSvc,
		friendshipSvc: friendshipSvc,
		dispatcher:    dispatcher,
		cfg:           cfg,
		log:           log,
	}
}

// clientAction 客户端通过实时通道下发的指令
type clientAction struct {
	Type         string            `json:"type"`
	To           uint              `json:"to"`
	Content      string            `json:"content"`
	Metadata     map[string]string `json:"metadata"`
	MsgID        uint              `json:"msg_id"`
	FriendshipID uint              `json:"friendship_id"`
	Accept       bool              `json:"accept"`
	Remark       string            `json:"remark"`
	Group        string            `json:"group"`
}

// Serve Gin路由处理函数：升级连接并进入收发循环
func (h *Handler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Sec-WebSocket-Protocol"), "Bearer ")
	}
	if token == "" {
		response.Unauthorized(c, "缺少token")
		return
	}

	claims, err := h.jwtSvc.ValidateToken(token)
	if err != nil {
		response.Unauthorized(c, "token无效或已过期")
		return
	}
	uid, _ := strconv.ParseUint(claims.Subject, 10, 32)
	if uid == 0 {
		response.Unauthorized(c, "token无效")
		return
	}
	userID := uint(uid)
	username, _ := claims.Data["username"].(string)

	// 回显子协议，避免客户端提示 "Server sent no subprotocol"
	respHeader := http.Header{}
	if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
		respHeader.Set("Sec-WebSocket-Protocol", protocol)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		h.log.Warn("WebSocket握手失败", zap.Uint("user_id", userID), zap.Error(err))
		return
	}

	client := NewClient(userID, conn)

	// 首条连接建立时才切换在线状态并广播，避免多端登录重复通知
	if h.manager.Register(client) == 1 {
		h.goOnline(userID, username)
	}

	defer func() {
		if h.manager.Unregister(client) == 0 {
			h.goOffline(userID, username)
		}
		_ = conn.Close()
	}()

	// 读写两侧都可能先退出，done只允许关闭一次
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() {
		once.Do(func() { close(done) })
	}

	go h.writePump(client, done, closeDone)

	// 补投离线期间积压的事件
	h.replayOfflineEvents(client)

	h.readPump(client, done)
	closeDone()
}

// writePump 写协程：转发Send通道内容并定时发送ping
func (h *Handler) writePump(client *Client, done chan struct{}, closeDone func()) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				closeDone()
				return
			}
		case <-done:
			return
		}
	}
}

// readPump 读协程：接收客户端指令并分发，超时未读到任何数据则断开
func (h *Handler) readPump(client *Client, done chan struct{}) {
	conn := client.Conn
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		select {
		case <-done:
			return
		default:
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		var action clientAction
		if err := json.Unmarshal(payload, &action); err != nil {
			h.pushError(client, "", "无法解析的指令")
			continue
		}
		h.handleAction(client, action)
	}
}

// handleAction 分发客户端指令到对应的service操作
func (h *Handler) handleAction(client *Client, action clientAction) {
	userID := client.UserID

	switch action.Type {
	case "chat":
		msg, err := h.messageSvc.Send(userID, action.To, action.Content, action.Metadata)
		if err != nil {
			h.pushError(client, action.Type, errMessage(err))
			return
		}
		h.pushJSON(client, map[string]interface{}{
			"type":      "chat_ack",
			"msg_id":    msg.ID,
			"to":        msg.ReceiverID,
			"timestamp": msg.CreatedAt.Unix(),
		})

	case "ack_read":
		if err := h.messageSvc.MarkRead(action.MsgID, userID); err != nil {
			h.pushError(client, action.Type, errMessage(err))
		}

	case "recall":
		if _, err := h.messageSvc.Recall(action.MsgID, userID); err != nil {
			h.pushError(client, action.Type, errMessage(err))
		}

	case "friend_request":
		if _, err := h.friendshipSvc.SendRequest(userID, action.To, action.Remark, action.Group); err != nil {
			h.pushError(client, action.Type, errMessage(err))
		}

	case "friend_respond":
		if _, err := h.friendshipSvc.Respond(userID, action.FriendshipID, action.Accept); err != nil {
			h.pushError(client, action.Type, errMessage(err))
		}

	case "heartbeat":
		_ = redis.RefreshUserPresence(userID)

	default:
		h.pushError(client, action.Type, "未知的指令类型")
	}
}

// goOnline 用户首条连接建立：更新状态并通知好友
func (h *Handler) goOnline(userID uint, username string) {
	_ = h.userSvc.SetOnline(userID, username)
	h.notifyFriends(userID, event.Event{
		Type: event.TypeUserOnline,
		Payload: map[string]interface{}{
			"user_id":   userID,
			"username":  username,
			"timestamp": time.Now().Unix(),
		},
	})
}

// goOffline 用户最后一条连接断开：更新状态并通知好友
func (h *Handler) goOffline(userID uint, username string) {
	_ = h.userSvc.SetOffline(userID, username)
	h.notifyFriends(userID, event.Event{
		Type: event.TypeUserOffline,
		Payload: map[string]interface{}{
			"user_id":   userID,
			"username":  username,
			"timestamp": time.Now().Unix(),
		},
	})
}

// notifyFriends 将事件定向推送给该用户的全部好友
func (h *Handler) notifyFriends(userID uint, evt event.Event) {
	friendships, _, err := h.friendshipSvc.ListFriends(userID)
	if err != nil {
		h.log.Warn("查询好友列表失败，跳过状态广播",
			zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	targets := make([]uint, 0, len(friendships))
	for _, f := range friendships {
		targets = append(targets, f.CounterpartOf(userID))
	}
	if len(targets) > 0 {
		h.dispatcher.Publish(evt, targets...)
	}
}

// replayOfflineEvents 补投离线队列中积压的事件，随后清空队列
func (h *Handler) replayOfflineEvents(client *Client) {
	events, err := redis.GetOfflineEvents(client.UserID, redis.MaxOfflineEvents)
	if err != nil || len(events) == 0 {
		return
	}
	for _, evt := range events {
		select {
		case client.Send <- []byte(evt.Payload):
		case <-time.After(5 * time.Second):
			return
		}
	}
	_ = redis.ClearOfflineEvents(client.UserID)
}

// pushJSON 序列化后推送给单个连接
func (h *Handler) pushJSON(client *Client, payload map[string]interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case client.Send <- b:
	default:
	}
}

// pushError 向发起指令的连接推送错误帧
func (h *Handler) pushError(client *Client, action, message string) {
	h.pushJSON(client, map[string]interface{}{
		"type":    "error",
		"action":  action,
		"message": message,
	})
}

// errMessage 提取面向客户端的错误文案
func errMessage(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "操作失败"
}
