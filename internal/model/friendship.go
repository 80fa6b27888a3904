package model

import (
	"time"

	"gorm.io/gorm"
)

// 好友关系状态
const (
	FriendshipPending  = "pending"  // 待确认
	FriendshipAccepted = "accepted" // 已接受
	FriendshipRejected = "rejected" // 已拒绝
	FriendshipBlocked  = "blocked"  // 已拉黑
)

// Friendship 好友关系
// UserID 为发起方，FriendID 为被邀请方；accepted 后关系对双方对称
// 同一无序对 {UserID, FriendID} 最多存在一条 pending/accepted 记录
// Remark/Group/IsPinned/IsMuted 为共享记录上的元数据，归持有记录的一方所有
type Friendship struct {
	ID        uint           `gorm:"primaryKey"`
	UserID    uint           `gorm:"not null;index:idx_friendship_pair;comment:发起方用户ID"`
	FriendID  uint           `gorm:"not null;index:idx_friendship_pair;comment:被邀请方用户ID"`
	Status    string         `gorm:"type:varchar(32);default:'pending';comment:关系状态"`
	Remark    string         `gorm:"type:varchar(64);comment:备注名"`
	Group     string         `gorm:"type:varchar(64);comment:分组"`
	IsPinned  bool           `gorm:"default:false;comment:是否置顶"`
	IsMuted   bool           `gorm:"default:false;comment:是否免打扰"`
	CreatedAt time.Time      `gorm:"comment:创建时间"`
	UpdatedAt time.Time      `gorm:"comment:更新时间"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Friendship) TableName() string { return "friendship" }

// CounterpartOf 返回相对于给定用户的另一方ID
func (f *Friendship) CounterpartOf(userID uint) uint {
	if f.UserID == userID {
		return f.FriendID
	}
	return f.UserID
}
