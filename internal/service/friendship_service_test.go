package service

import (
	"encoding/json"
	"sync"
	"testing"

	"chat-server/internal/model"
	"chat-server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendFriendRequest(t *testing.T) {
	env := newTestEnv(t, 2)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	t.Run("不能添加自己", func(t *testing.T) {
		_, err := env.friendshipSvc.SendRequest(alice.ID, alice.ID, "", "")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("目标用户不存在", func(t *testing.T) {
		_, err := env.friendshipSvc.SendRequest(alice.ID, 9999, "", "")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("正常发送", func(t *testing.T) {
		f, err := env.friendshipSvc.SendRequest(alice.ID, bob.ID, "同事", "工作")
		require.NoError(t, err)
		assert.Equal(t, model.FriendshipPending, f.Status)
		assert.Equal(t, alice.ID, f.UserID)
		assert.Equal(t, bob.ID, f.FriendID)
		assert.Equal(t, "同事", f.Remark)

		// 目标用户收到通知
		sent := env.registry.sentTo(bob.ID)
		require.Len(t, sent, 1)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(sent[0], &payload))
		assert.Equal(t, "friend_request", payload["type"])
		assert.Equal(t, float64(alice.ID), payload["from"])
	})

	t.Run("同向重复请求被拒", func(t *testing.T) {
		_, err := env.friendshipSvc.SendRequest(alice.ID, bob.ID, "", "")
		assert.True(t, apperr.Is(err, apperr.KindConflict))
	})

	t.Run("反向重复请求同样被拒", func(t *testing.T) {
		_, err := env.friendshipSvc.SendRequest(bob.ID, alice.ID, "", "")
		assert.True(t, apperr.Is(err, apperr.KindConflict))
	})
}

func TestSendFriendRequestAfterAccepted(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	f, err := env.friendshipSvc.SendRequest(alice.ID, bob.ID, "", "")
	require.NoError(t, err)
	_, err = env.friendshipSvc.Respond(bob.ID, f.ID, true)
	require.NoError(t, err)

	// 已是好友，任一方向都不能再发请求
	_, err = env.friendshipSvc.SendRequest(alice.ID, bob.ID, "", "")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = env.friendshipSvc.SendRequest(bob.ID, alice.ID, "", "")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestRespondFriendRequest(t *testing.T) {
	env := newTestEnv(t, 1, 2, 3)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	f, err := env.friendshipSvc.SendRequest(alice.ID, bob.ID, "", "")
	require.NoError(t, err)

	t.Run("非被邀请方不能处理", func(t *testing.T) {
		_, err := env.friendshipSvc.Respond(carol.ID, f.ID, true)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("发起方自己也不能处理", func(t *testing.T) {
		_, err := env.friendshipSvc.Respond(alice.ID, f.ID, true)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("接受请求", func(t *testing.T) {
		accepted, err := env.friendshipSvc.Respond(bob.ID, f.ID, true)
		require.NoError(t, err)
		assert.Equal(t, model.FriendshipAccepted, accepted.Status)

		// 发起方收到处理结果
		sent := env.registry.sentTo(alice.ID)
		require.NotEmpty(t, sent)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(sent[len(sent)-1], &payload))
		assert.Equal(t, "friend_request_handled", payload["type"])
		assert.Equal(t, "accepted", payload["status"])
	})

	t.Run("重复处理返回已处理", func(t *testing.T) {
		_, err := env.friendshipSvc.Respond(bob.ID, f.ID, false)
		assert.True(t, apperr.Is(err, apperr.KindAlreadyHandled))
	})

	t.Run("不存在的请求", func(t *testing.T) {
		_, err := env.friendshipSvc.Respond(bob.ID, 9999, true)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

func TestRejectThenResend(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	f, err := env.friendshipSvc.SendRequest(alice.ID, bob.ID, "", "")
	require.NoError(t, err)

	rejected, err := env.friendshipSvc.Respond(bob.ID, f.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.FriendshipRejected, rejected.Status)

	// 拒绝不冻结无序对，可以再次发起
	again, err := env.friendshipSvc.SendRequest(alice.ID, bob.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, model.FriendshipPending, again.Status)
	assert.NotEqual(t, f.ID, again.ID)
}

func TestUpdateFriendshipMetadata(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	f, err := env.friendshipSvc.SendRequest(alice.ID, bob.ID, "", "")
	require.NoError(t, err)

	t.Run("pending状态不能更新元数据", func(t *testing.T) {
		remark := "老同学"
		_, err := env.friendshipSvc.UpdateMetadata(alice.ID, f.ID, MetadataUpdate{Remark: &remark})
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	_, err = env.friendshipSvc.Respond(bob.ID, f.ID, true)
	require.NoError(t, err)

	t.Run("部分更新只改给定字段", func(t *testing.T) {
		remark := "老同学"
		pinned := true
		updated, err := env.friendshipSvc.UpdateMetadata(alice.ID, f.ID, MetadataUpdate{
			Remark:   &remark,
			IsPinned: &pinned,
		})
		require.NoError(t, err)
		assert.Equal(t, "老同学", updated.Remark)
		assert.True(t, updated.IsPinned)
		assert.False(t, updated.IsMuted)

		// 未给定的字段保持不变
		muted := true
		updated, err = env.friendshipSvc.UpdateMetadata(bob.ID, f.ID, MetadataUpdate{IsMuted: &muted})
		require.NoError(t, err)
		assert.Equal(t, "老同学", updated.Remark)
		assert.True(t, updated.IsPinned)
		assert.True(t, updated.IsMuted)
	})

	t.Run("非参与方不能更新", func(t *testing.T) {
		remark := "陌生人"
		_, err := env.friendshipSvc.UpdateMetadata(carol.ID, f.ID, MetadataUpdate{Remark: &remark})
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

func TestDeleteFriendship(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	f, err := env.friendshipSvc.SendRequest(alice.ID, bob.ID, "", "")
	require.NoError(t, err)

	t.Run("pending状态不能删除", func(t *testing.T) {
		err := env.friendshipSvc.Delete(alice.ID, f.ID)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	_, err = env.friendshipSvc.Respond(bob.ID, f.ID, true)
	require.NoError(t, err)

	t.Run("任一方都可删除", func(t *testing.T) {
		require.NoError(t, env.friendshipSvc.Delete(bob.ID, f.ID))

		// 双方好友列表都不再包含该关系
		friends, _, err := env.friendshipSvc.ListFriends(alice.ID)
		require.NoError(t, err)
		assert.Empty(t, friends)
		friends, _, err = env.friendshipSvc.ListFriends(bob.ID)
		require.NoError(t, err)
		assert.Empty(t, friends)
	})

	t.Run("删除后可重新发起请求", func(t *testing.T) {
		again, err := env.friendshipSvc.SendRequest(bob.ID, alice.ID, "", "")
		require.NoError(t, err)
		assert.Equal(t, model.FriendshipPending, again.Status)
	})
}

func TestListFriendsAndRequests(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	// bob -> alice 已接受；carol -> alice 待处理
	f1, err := env.friendshipSvc.SendRequest(bob.ID, alice.ID, "", "")
	require.NoError(t, err)
	_, err = env.friendshipSvc.Respond(alice.ID, f1.ID, true)
	require.NoError(t, err)

	_, err = env.friendshipSvc.SendRequest(carol.ID, alice.ID, "", "")
	require.NoError(t, err)

	friends, users, err := env.friendshipSvc.ListFriends(alice.ID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, bob.ID, friends[0].CounterpartOf(alice.ID))
	require.Contains(t, users, bob.ID)
	assert.Equal(t, "bob", users[bob.ID].Username)

	requests, users, err := env.friendshipSvc.ListPendingRequests(alice.ID)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, carol.ID, requests[0].UserID)
	require.Contains(t, users, carol.ID)

	// 发起方视角没有待处理请求
	requests, _, err = env.friendshipSvc.ListPendingRequests(carol.ID)
	require.NoError(t, err)
	assert.Empty(t, requests)
}

// 并发重复响应同一请求：恰好一个成功，其余拿到已处理错误
func TestConcurrentRespondExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	f, err := env.friendshipSvc.SendRequest(alice.ID, bob.ID, "", "")
	require.NoError(t, err)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = env.friendshipSvc.Respond(bob.ID, f.ID, true)
		}(i)
	}
	wg.Wait()

	success := 0
	for _, e := range errs {
		if e == nil {
			success++
			continue
		}
		assert.Equal(t, apperr.KindAlreadyHandled, apperr.KindOf(e))
	}
	assert.Equal(t, 1, success)

	friends, _, err := env.friendshipSvc.ListFriends(bob.ID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, model.FriendshipAccepted, friends[0].Status)
}

// 同一无序对的并发请求（含反向）：恰好一条pending落库
func TestConcurrentSendRequestSamePair(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	pairs := [][2]uint{
		{alice.ID, bob.ID},
		{bob.ID, alice.ID},
		{alice.ID, bob.ID},
		{bob.ID, alice.ID},
	}
	errs := make([]error, len(pairs))
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		go func(idx int, from, to uint) {
			defer wg.Done()
			_, errs[idx] = env.friendshipSvc.SendRequest(from, to, "", "")
		}(i, p[0], p[1])
	}
	wg.Wait()

	success := 0
	for _, e := range errs {
		if e == nil {
			success++
			continue
		}
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(e))
	}
	assert.Equal(t, 1, success)

	// 胜者方向未知，两侧待处理请求合计恰好一条
	toAlice, _, err := env.friendshipSvc.ListPendingRequests(alice.ID)
	require.NoError(t, err)
	toBob, _, err := env.friendshipSvc.ListPendingRequests(bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, len(toAlice)+len(toBob))
}
