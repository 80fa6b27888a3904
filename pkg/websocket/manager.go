package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client 代表用户的一条WebSocket连接
// 同一用户允许同时存在多条连接（多端登录）
type Client struct {
	UserID uint
	Conn   *websocket.Conn
	Send   chan []byte
}

// NewClient 创建客户端连接对象
func NewClient(userID uint, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 64),
	}
}

// Manager 管理所有在线用户的WebSocket连接
// 以用户ID为索引，每个用户对应一组连接，并发安全
type Manager struct {
	clients map[uint]map[*Client]struct{}
	lock    sync.RWMutex
	log     *zap.Logger
}

// NewManager 创建连接管理器
func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		clients: make(map[uint]map[*Client]struct{}),
		log:     log,
	}
}

// Register 注册新连接，返回该用户当前的连接数
func (m *Manager) Register(client *Client) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	set, ok := m.clients[client.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		m.clients[client.UserID] = set
	}
	set[client] = struct{}{}
	return len(set)
}

// Unregister 移除指定连接，返回该用户剩余的连接数
// 用户的其他连接不受影响
func (m *Manager) Unregister(client *Client) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	set, ok := m.clients[client.UserID]
	if !ok {
		return 0
	}
	if _, ok := set[client]; !ok {
		return len(set)
	}
	delete(set, client)
	close(client.Send)
	if len(set) == 0 {
		delete(m.clients, client.UserID)
		return 0
	}
	return len(set)
}

// SendToUser 推送消息给指定用户的所有连接
// 只要有一条连接接收成功即返回true；发送不阻塞，
// 写缓冲已满的连接直接跳过
func (m *Manager) SendToUser(userID uint, msg []byte) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	set, ok := m.clients[userID]
	if !ok {
		return false
	}

	delivered := false
	for client := range set {
		select {
		case client.Send <- msg:
			delivered = true
		default:
			m.log.Warn("WebSocket发送缓冲已满，跳过该连接",
				zap.Uint("user_id", userID))
		}
	}
	return delivered
}

// IsOnline 判断用户是否有在线连接
func (m *Manager) IsOnline(userID uint) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.clients[userID]
	return ok
}

// ConnectionCount 返回指定用户的连接数
func (m *Manager) ConnectionCount(userID uint) int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.clients[userID])
}

// OnlineUserIDs 返回当前所有在线用户ID
func (m *Manager) OnlineUserIDs() []uint {
	m.lock.RLock()
	defer m.lock.RUnlock()

	ids := make([]uint, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll 关闭所有连接，用于服务优雅退出
func (m *Manager) CloseAll() {
	m.lock.Lock()
	defer m.lock.Unlock()

	for userID, set := range m.clients {
		for client := range set {
			close(client.Send)
			if client.Conn != nil {
				_ = client.Conn.Close()
			}
		}
		delete(m.clients, userID)
	}
}
