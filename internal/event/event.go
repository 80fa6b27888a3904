package event

import "encoding/json"

// 事件类型
// 对应实时通道向客户端推送的 type 字段
const (
	TypeMessageReceived      = "message_received"       // 收到新消息
	TypeMessageStatusUpdated = "message_status_updated" // 消息状态变更（已读）
	TypeMessageRecalled      = "message_recalled"       // 消息被撤回
	TypeUserOnline           = "user_online"            // 用户上线
	TypeUserOffline          = "user_offline"           // 用户下线
	TypeFriendRequest        = "friend_request"         // 收到好友请求
	TypeFriendRequestHandled = "friend_request_handled" // 好友请求已处理
	TypeFriendStatusChanged  = "friend_status_changed"  // 好友关系元数据变更
)

// Event 领域事件
// Payload 的字段与 Type 一起平铺序列化为推送载荷
type Event struct {
	Type    string
	Payload map[string]interface{}
}

// Marshal 序列化为推送载荷：{"type": ..., 其余字段平铺}
func (e Event) Marshal() ([]byte, error) {
	body := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		body[k] = v
	}
	body["type"] = e.Type
	return json.Marshal(body)
}

// queueable 判断事件离线时是否值得入离线队列补投
// 消息类事件补投，状态广播类事件直接丢弃（可从历史查询恢复）
func (e Event) queueable() bool {
	switch e.Type {
	case TypeMessageReceived, TypeMessageRecalled, TypeFriendRequest, TypeFriendRequestHandled:
		return true
	}
	return false
}
