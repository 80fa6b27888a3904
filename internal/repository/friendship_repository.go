package repository

import (
	"errors"
	"time"

	"chat-server/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPairExists 无序对上已存在pending/accepted关系
var ErrPairExists = errors.New("friendship already exists for pair")

// FriendshipRepository 好友关系数据仓储
type FriendshipRepository struct {
	db *gorm.DB
}

// NewFriendshipRepository 创建FriendshipRepository实例
func NewFriendshipRepository(db *gorm.DB) *FriendshipRepository {
	return &FriendshipRepository{db: db}
}

// GetByID 根据ID获取好友关系
func (r *FriendshipRepository) GetByID(id uint) (*model.Friendship, error) {
	var f model.Friendship
	if err := r.db.First(&f, id).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// GetActiveByPair 获取无序对上的pending/accepted关系（双向查询）
func (r *FriendshipRepository) GetActiveByPair(userID, friendID uint) (*model.Friendship, error) {
	var f model.Friendship
	err := r.db.Where(
		"((user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)) AND status IN ?",
		userID, friendID, friendID, userID,
		[]string{model.FriendshipPending, model.FriendshipAccepted},
	).First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateExclusive 排他创建好友请求
// 在单个事务内对无序对做加锁存在性检查后插入，两个并发的同对请求
// 只有一个能创建成功，另一个返回 ErrPairExists 及已存在的记录
func (r *FriendshipRepository) CreateExclusive(f *model.Friendship) (*model.Friendship, error) {
	var existing model.Friendship

	err := r.db.Transaction(func(tx *gorm.DB) error {
		query := tx.Where(
			"((user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)) AND status IN ?",
			f.UserID, f.FriendID, f.FriendID, f.UserID,
			[]string{model.FriendshipPending, model.FriendshipAccepted},
		)
		// sqlite不支持FOR UPDATE，写入本身串行化
		if tx.Dialector.Name() == "mysql" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := query.First(&existing).Error
		if err == nil {
			return ErrPairExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(f).Error
	})

	if errors.Is(err, ErrPairExists) {
		return &existing, ErrPairExists
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// RespondIfPending 被邀请方响应请求的条件更新
// 只有 id 匹配、friend_id 为响应者且仍处于 pending 时才生效
// 返回受影响行数：0 表示记录不存在、非本人或已被处理
func (r *FriendshipRepository) RespondIfPending(friendshipID, responderID uint, status string) (int64, error) {
	result := r.db.Model(&model.Friendship{}).
		Where("id = ? AND friend_id = ? AND status = ?", friendshipID, responderID, model.FriendshipPending).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// GetAcceptedInvolving 获取指定ID且当前用户参与的accepted关系
func (r *FriendshipRepository) GetAcceptedInvolving(friendshipID, userID uint) (*model.Friendship, error) {
	var f model.Friendship
	err := r.db.Where(
		"id = ? AND (user_id = ? OR friend_id = ?) AND status = ?",
		friendshipID, userID, userID, model.FriendshipAccepted,
	).First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdateMetadata 部分更新关系元数据（只更新给定字段）
func (r *FriendshipRepository) UpdateMetadata(friendshipID uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return r.db.Model(&model.Friendship{}).
		Where("id = ?", friendshipID).
		Updates(updates).Error
}

// Delete 删除好友关系（软删除，删除后对所有查询不可见）
func (r *FriendshipRepository) Delete(friendshipID uint) error {
	return r.db.Delete(&model.Friendship{}, friendshipID).Error
}

// ListFriends 获取用户的所有accepted关系（双向）
func (r *FriendshipRepository) ListFriends(userID uint) ([]*model.Friendship, error) {
	var friendships []*model.Friendship
	err := r.db.Where(
		"(user_id = ? OR friend_id = ?) AND status = ?",
		userID, userID, model.FriendshipAccepted,
	).Order("updated_at DESC").Find(&friendships).Error
	return friendships, err
}

// ListPendingRequests 获取等待当前用户响应的pending请求
func (r *FriendshipRepository) ListPendingRequests(userID uint) ([]*model.Friendship, error) {
	var friendships []*model.Friendship
	err := r.db.Where(
		"friend_id = ? AND status = ?",
		userID, model.FriendshipPending,
	).Order("created_at DESC").Find(&friendships).Error
	return friendships, err
}
