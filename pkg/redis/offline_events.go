package redis

import (
	"encoding/json"
	"fmt"
	"time"
)

// OfflineEvent 离线事件
// 接收方不在线时，事件推送落入该队列，等下次连接时补投
type OfflineEvent struct {
	Event     string    `json:"event"`      // 事件类型
	SenderID  uint      `json:"sender_id"`  // 发起方ID
	Payload   string    `json:"payload"`    // 已序列化的事件载荷
	CreatedAt time.Time `json:"created_at"` // 入队时间
}

// 离线事件相关常量
const (
	OfflineEventsKeyPrefix = "chat:offline:"    // 离线事件key前缀
	OfflineEventsTTL       = 7 * 24 * time.Hour // 7天过期
	MaxOfflineEvents       = 100                // 每个用户最多保留条数
)

// AddOfflineEvent 添加离线事件
func AddOfflineEvent(receiverID uint, event *OfflineEvent) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	key := fmt.Sprintf("%s%d", OfflineEventsKeyPrefix, receiverID)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化离线事件失败: %w", err)
	}

	// RPUSH保持入队顺序，补投时按发生顺序推送
	if err := client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("添加离线事件失败: %w", err)
	}

	if err := client.Expire(ctx, key, OfflineEventsTTL).Err(); err != nil {
		return fmt.Errorf("设置离线事件TTL失败: %w", err)
	}

	// 限制队列长度，保留最新的条目
	if err := client.LTrim(ctx, key, int64(-MaxOfflineEvents), -1).Err(); err != nil {
		return fmt.Errorf("限制离线事件数量失败: %w", err)
	}

	return nil
}

// GetOfflineEvents 获取用户的离线事件（按入队顺序）
func GetOfflineEvents(receiverID uint, limit int) ([]*OfflineEvent, error) {
	if client == nil {
		return nil, fmt.Errorf("redis客户端未初始化")
	}

	key := fmt.Sprintf("%s%d", OfflineEventsKeyPrefix, receiverID)

	results, err := client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("获取离线事件失败: %w", err)
	}

	var events []*OfflineEvent
	for _, result := range results {
		var event OfflineEvent
		if err := json.Unmarshal([]byte(result), &event); err != nil {
			continue // 跳过无法解析的条目
		}
		events = append(events, &event)
	}

	return events, nil
}

// ClearOfflineEvents 清空用户的离线事件
func ClearOfflineEvents(receiverID uint) error {
	if client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	key := fmt.Sprintf("%s%d", OfflineEventsKeyPrefix, receiverID)

	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("清空离线事件失败: %w", err)
	}

	return nil
}
