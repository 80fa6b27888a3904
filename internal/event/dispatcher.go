package event

import (
	"time"

	"chat-server/pkg/redis"

	"go.uber.org/zap"
)

// Registry 活跃连接注册表
// 由 pkg/websocket.Manager 实现；返回值表示是否投递到了至少一个活跃连接
type Registry interface {
	SendToUser(userID uint, payload []byte) bool
}

// Dispatcher 领域事件分发器
// 将事件序列化后定向推送给目标用户的活跃连接；推送是尽力而为的：
// 失败只记日志，绝不影响已提交的业务变更
type Dispatcher struct {
	registry Registry
	log      *zap.Logger
	offline  bool // 是否将可补投事件写入离线队列
}

// NewDispatcher 创建事件分发器
func NewDispatcher(registry Registry, log *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: log, offline: true}
}

// DisableOfflineQueue 关闭离线补投（测试或未接入redis时使用）
func (d *Dispatcher) DisableOfflineQueue() {
	d.offline = false
}

// Publish 向目标用户推送事件
// 仅推送给指定目标的连接，不做全量广播
func (d *Dispatcher) Publish(evt Event, targetUserIDs ...uint) {
	payload, err := evt.Marshal()
	if err != nil {
		d.log.Error("事件序列化失败", zap.String("event", evt.Type), zap.Error(err))
		return
	}

	for _, userID := range targetUserIDs {
		if d.registry.SendToUser(userID, payload) {
			continue
		}

		// 目标不在线：可补投事件入离线队列，其余静默丢弃
		if d.offline && evt.queueable() {
			offlineEvt := &redis.OfflineEvent{
				Event:     evt.Type,
				Payload:   string(payload),
				CreatedAt: time.Now(),
			}
			if sender, ok := evt.Payload["from"].(uint); ok {
				offlineEvt.SenderID = sender
			}
			if err := redis.AddOfflineEvent(userID, offlineEvt); err != nil {
				d.log.Warn("离线事件入队失败",
					zap.String("event", evt.Type),
					zap.Uint("target", userID),
					zap.Error(err),
				)
			}
		}
	}
}
