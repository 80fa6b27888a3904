package service

import (
	"errors"

	"chat-server/internal/event"
	"chat-server/internal/model"
	"chat-server/internal/repository"
	"chat-server/pkg/apperr"

	"gorm.io/gorm"
)

// FriendshipService 好友关系服务
// 持有好友关系状态机：pending -> accepted/rejected，accepted 后可更新元数据或删除
type FriendshipService struct {
	friendshipRepo *repository.FriendshipRepository
	userRepo       *repository.UserRepository
	dispatcher     *event.Dispatcher
}

// NewFriendshipService 创建FriendshipService实例
func NewFriendshipService(
	friendshipRepo *repository.FriendshipRepository,
	userRepo *repository.UserRepository,
	dispatcher *event.Dispatcher,
) *FriendshipService {
	return &FriendshipService{
		friendshipRepo: friendshipRepo,
		userRepo:       userRepo,
		dispatcher:     dispatcher,
	}
}

// MetadataUpdate 关系元数据的部分更新，nil字段不修改
type MetadataUpdate struct {
	Remark   *string
	Group    *string
	IsPinned *bool
	IsMuted  *bool
}

// SendRequest 发送好友请求
// 同一无序对上已存在pending/accepted关系时拒绝，并发场景由仓储层排他创建兜底
func (s *FriendshipService) SendRequest(requesterID, targetID uint, remark, group string) (*model.Friendship, error) {
	if requesterID == targetID {
		return nil, apperr.Validation("不能添加自己为好友")
	}

	exists, err := s.userRepo.Exists(targetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFound("用户不存在")
	}

	friendship := &model.Friendship{
		UserID:   requesterID,
		FriendID: targetID,
		Status:   model.FriendshipPending,
		Remark:   remark,
		Group:    group,
	}

	created, err := s.friendshipRepo.CreateExclusive(friendship)
	if err != nil {
		if errors.Is(err, repository.ErrPairExists) {
			if created != nil && created.Status == model.FriendshipAccepted {
				return nil, apperr.Conflict("已经是好友")
			}
			return nil, apperr.Conflict("好友请求已存在")
		}
		return nil, err
	}

	// 通知目标用户
	s.dispatcher.Publish(event.Event{
		Type: event.TypeFriendRequest,
		Payload: map[string]interface{}{
			"friendship_id": created.ID,
			"from":          requesterID,
			"remark":        remark,
		},
	}, targetID)

	return created, nil
}

// Respond 被邀请方接受/拒绝好友请求
// 条件更新保证同一请求只被处理一次，并发响应只有一个成功
func (s *FriendshipService) Respond(responderID, friendshipID uint, accept bool) (*model.Friendship, error) {
	status := model.FriendshipAccepted
	if !accept {
		status = model.FriendshipRejected
	}

	rows, err := s.friendshipRepo.RespondIfPending(friendshipID, responderID, status)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// 回查区分原因：记录不存在/非被邀请方/已被处理
		f, err := s.friendshipRepo.GetByID(friendshipID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("好友请求不存在")
			}
			return nil, err
		}
		if f.FriendID != responderID {
			return nil, apperr.NotFound("好友请求不存在")
		}
		return nil, apperr.AlreadyHandled("好友请求已被处理")
	}

	friendship, err := s.friendshipRepo.GetByID(friendshipID)
	if err != nil {
		return nil, err
	}

	// 通知发起方处理结果
	s.dispatcher.Publish(event.Event{
		Type: event.TypeFriendRequestHandled,
		Payload: map[string]interface{}{
			"friendship_id": friendship.ID,
			"by":            responderID,
			"status":        friendship.Status,
		},
	}, friendship.UserID)

	return friendship, nil
}

// UpdateMetadata 更新accepted关系的元数据（备注/分组/置顶/免打扰）
func (s *FriendshipService) UpdateMetadata(userID, friendshipID uint, upd MetadataUpdate) (*model.Friendship, error) {
	friendship, err := s.friendshipRepo.GetAcceptedInvolving(friendshipID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("好友关系不存在")
		}
		return nil, err
	}

	updates := make(map[string]interface{})
	if upd.Remark != nil {
		updates["remark"] = *upd.Remark
	}
	if upd.Group != nil {
		updates["group"] = *upd.Group
	}
	if upd.IsPinned != nil {
		updates["is_pinned"] = *upd.IsPinned
	}
	if upd.IsMuted != nil {
		updates["is_muted"] = *upd.IsMuted
	}

	if err := s.friendshipRepo.UpdateMetadata(friendshipID, updates); err != nil {
		return nil, err
	}

	updated, err := s.friendshipRepo.GetByID(friendshipID)
	if err != nil {
		return nil, err
	}

	// 通知对端元数据变更
	s.dispatcher.Publish(event.Event{
		Type: event.TypeFriendStatusChanged,
		Payload: map[string]interface{}{
			"friendship_id": updated.ID,
			"by":            userID,
		},
	}, friendship.CounterpartOf(userID))

	return updated, nil
}

// Delete 删除好友关系（仅accepted状态可删，双方均可发起）
func (s *FriendshipService) Delete(userID, friendshipID uint) error {
	friendship, err := s.friendshipRepo.GetAcceptedInvolving(friendshipID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("好友关系不存在")
		}
		return err
	}

	if err := s.friendshipRepo.Delete(friendshipID); err != nil {
		return err
	}

	s.dispatcher.Publish(event.Event{
		Type: event.TypeFriendStatusChanged,
		Payload: map[string]interface{}{
			"friendship_id": friendshipID,
			"by":            userID,
			"deleted":       true,
		},
	}, friendship.CounterpartOf(userID))

	return nil
}

// ListFriends 获取好友列表及对端用户信息
func (s *FriendshipService) ListFriends(userID uint) ([]*model.Friendship, map[uint]*model.User, error) {
	friendships, err := s.friendshipRepo.ListFriends(userID)
	if err != nil {
		return nil, nil, err
	}
	users, err := s.counterparts(userID, friendships)
	if err != nil {
		return nil, nil, err
	}
	return friendships, users, nil
}

// ListPendingRequests 获取等待当前用户响应的好友请求及发起方信息
func (s *FriendshipService) ListPendingRequests(userID uint) ([]*model.Friendship, map[uint]*model.User, error) {
	friendships, err := s.friendshipRepo.ListPendingRequests(userID)
	if err != nil {
		return nil, nil, err
	}
	users, err := s.counterparts(userID, friendships)
	if err != nil {
		return nil, nil, err
	}
	return friendships, users, nil
}

// counterparts 批量解析关系中相对当前用户的另一方
func (s *FriendshipService) counterparts(userID uint, friendships []*model.Friendship) (map[uint]*model.User, error) {
	if len(friendships) == 0 {
		return map[uint]*model.User{}, nil
	}
	ids := make([]uint, 0, len(friendships))
	for _, f := range friendships {
		ids = append(ids, f.CounterpartOf(userID))
	}
	return s.userRepo.GetByIDs(ids)
}
