package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"chat-server/internal/model"
	"chat-server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t, 2)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	t.Run("内容为空", func(t *testing.T) {
		_, err := env.messageSvc.Send(alice.ID, bob.ID, "   ", nil)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("内容超长", func(t *testing.T) {
		_, err := env.messageSvc.Send(alice.ID, bob.ID, strings.Repeat("长", 1001), nil)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("不能给自己发", func(t *testing.T) {
		_, err := env.messageSvc.Send(alice.ID, alice.ID, "hello", nil)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("接收者不存在", func(t *testing.T) {
		_, err := env.messageSvc.Send(alice.ID, 9999, "hello", nil)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("正常发送", func(t *testing.T) {
		msg, err := env.messageSvc.Send(alice.ID, bob.ID, "  你好  ", map[string]string{"file_url": "/f/1"})
		require.NoError(t, err)
		assert.NotZero(t, msg.ID)
		assert.Equal(t, "你好", msg.Content) // 前后空白被裁剪
		assert.Equal(t, model.MessageSent, msg.Status)
		assert.False(t, msg.IsRead)
		assert.Equal(t, map[string]string{"file_url": "/f/1"}, msg.GetMetadata())

		// 在线的接收者收到推送
		sent := env.registry.sentTo(bob.ID)
		require.Len(t, sent, 1)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(sent[0], &payload))
		assert.Equal(t, "message_received", payload["type"])
		assert.Equal(t, "你好", payload["content"])
		assert.Equal(t, float64(alice.ID), payload["from"])
	})

	t.Run("接收者离线不算失败", func(t *testing.T) {
		carol := env.createUser(t, "carol")
		msg, err := env.messageSvc.Send(alice.ID, carol.ID, "离线消息", nil)
		require.NoError(t, err)
		assert.NotZero(t, msg.ID)
		assert.Empty(t, env.registry.sentTo(carol.ID))
	})
}

func TestMarkRead(t *testing.T) {
	env := newTestEnv(t, 1, 2)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	msg, err := env.messageSvc.Send(alice.ID, bob.ID, "hello", nil)
	require.NoError(t, err)

	t.Run("消息不存在", func(t *testing.T) {
		err := env.messageSvc.MarkRead(9999, bob.ID)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("只有接收者能标记", func(t *testing.T) {
		err := env.messageSvc.MarkRead(msg.ID, alice.ID)
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	})

	t.Run("标记已读", func(t *testing.T) {
		require.NoError(t, env.messageSvc.MarkRead(msg.ID, bob.ID))

		stored, err := env.messageRepo.GetByID(msg.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsRead)
		assert.Equal(t, model.MessageRead, stored.Status)
		require.NotNil(t, stored.ReadAt)

		// 发送者收到已读回执
		sent := env.registry.sentTo(alice.ID)
		require.Len(t, sent, 1)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(sent[0], &payload))
		assert.Equal(t, "message_status_updated", payload["type"])
		assert.Equal(t, "read", payload["status"])
	})

	t.Run("重复标记幂等", func(t *testing.T) {
		firstReadAt := func() time.Time {
			stored, err := env.messageRepo.GetByID(msg.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.ReadAt)
			return *stored.ReadAt
		}()

		require.NoError(t, env.messageSvc.MarkRead(msg.ID, bob.ID))

		stored, err := env.messageRepo.GetByID(msg.ID)
		require.NoError(t, err)
		assert.Equal(t, firstReadAt.Unix(), stored.ReadAt.Unix()) // 已读时间以第一次为准
		assert.Len(t, env.registry.sentTo(alice.ID), 1)           // 不重复发回执
	})
}

func TestEditMessage(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	msg, err := env.messageSvc.Send(alice.ID, bob.ID, "原始内容", nil)
	require.NoError(t, err)

	t.Run("只有发送者能编辑", func(t *testing.T) {
		_, err := env.messageSvc.Edit(msg.ID, bob.ID, "篡改")
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	})

	t.Run("窗口内编辑成功", func(t *testing.T) {
		edited, err := env.messageSvc.Edit(msg.ID, alice.ID, "修改后的内容")
		require.NoError(t, err)
		assert.Equal(t, "修改后的内容", edited.Content)
		assert.False(t, edited.IsRecalled)
	})

	t.Run("已读的消息仍可编辑", func(t *testing.T) {
		require.NoError(t, env.messageSvc.MarkRead(msg.ID, bob.ID))
		edited, err := env.messageSvc.Edit(msg.ID, alice.ID, "已读后再改")
		require.NoError(t, err)
		assert.Equal(t, "已读后再改", edited.Content)
		assert.True(t, edited.IsRead) // 编辑不影响已读状态
	})

	t.Run("超出窗口拒绝", func(t *testing.T) {
		env.backdateMessage(t, msg.ID, 10*time.Minute)
		_, err := env.messageSvc.Edit(msg.ID, alice.ID, "太晚了")
		assert.True(t, apperr.Is(err, apperr.KindInvalidOp))
	})
}

func TestRecallMessage(t *testing.T) {
	env := newTestEnv(t, 2)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	msg, err := env.messageSvc.Send(alice.ID, bob.ID, "说错话了", nil)
	require.NoError(t, err)

	t.Run("只有发送者能撤回", func(t *testing.T) {
		_, err := env.messageSvc.Recall(msg.ID, bob.ID)
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	})

	t.Run("窗口内撤回成功", func(t *testing.T) {
		recalled, err := env.messageSvc.Recall(msg.ID, alice.ID)
		require.NoError(t, err)
		assert.True(t, recalled.IsRecalled)
		assert.Equal(t, model.RecalledPlaceholder, recalled.Content)

		// 接收者收到撤回通知
		sent := env.registry.sentTo(bob.ID)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(sent[len(sent)-1], &payload))
		assert.Equal(t, "message_recalled", payload["type"])
	})

	t.Run("撤回为终态", func(t *testing.T) {
		_, err := env.messageSvc.Recall(msg.ID, alice.ID)
		assert.True(t, apperr.Is(err, apperr.KindInvalidOp))

		_, err = env.messageSvc.Edit(msg.ID, alice.ID, "改回来")
		assert.True(t, apperr.Is(err, apperr.KindInvalidOp))
	})

	t.Run("超出窗口拒绝", func(t *testing.T) {
		late, err := env.messageSvc.Send(alice.ID, bob.ID, "很久以前", nil)
		require.NoError(t, err)
		env.backdateMessage(t, late.ID, 10*time.Minute)

		_, err = env.messageSvc.Recall(late.ID, alice.ID)
		assert.True(t, apperr.Is(err, apperr.KindInvalidOp))
	})
}

// 并发撤回落库后，基于旧快照的编辑被条件更新拦截
func TestEditLosesToConcurrentRecall(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	msg, err := env.messageSvc.Send(alice.ID, bob.ID, "hello", nil)
	require.NoError(t, err)

	// 模拟编辑方读到旧快照后，撤回先落库
	rows, err := env.messageRepo.Recall(msg.ID, alice.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)

	rows, err = env.messageRepo.Edit(msg.ID, alice.ID, "竞争编辑", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows) // 编辑失败，撤回内容保持

	stored, err := env.messageRepo.GetByID(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecalledPlaceholder, stored.Content)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	_, err := env.messageSvc.Send(alice.ID, bob.ID, "第一条", nil)
	require.NoError(t, err)
	_, err = env.messageSvc.Send(bob.ID, alice.ID, "第二条", nil)
	require.NoError(t, err)
	_, err = env.messageSvc.Send(alice.ID, bob.ID, "第三条", nil)
	require.NoError(t, err)
	// 无关会话的消息不出现
	_, err = env.messageSvc.Send(alice.ID, carol.ID, "别的会话", nil)
	require.NoError(t, err)

	t.Run("对方不存在", func(t *testing.T) {
		_, err := env.messageSvc.History(alice.ID, 9999, 1, 20)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("双向消息按时间升序", func(t *testing.T) {
		messages, err := env.messageSvc.History(alice.ID, bob.ID, 1, 20)
		require.NoError(t, err)
		require.Len(t, messages, 3)
		assert.Equal(t, "第一条", messages[0].Content)
		assert.Equal(t, "第二条", messages[1].Content)
		assert.Equal(t, "第三条", messages[2].Content)
	})

	t.Run("查询是纯投影", func(t *testing.T) {
		before, err := env.messageRepo.GetUnreadCount(bob.ID)
		require.NoError(t, err)

		_, err = env.messageSvc.History(bob.ID, alice.ID, 1, 20)
		require.NoError(t, err)
		_, err = env.messageSvc.History(bob.ID, alice.ID, 1, 20)
		require.NoError(t, err)

		after, err := env.messageRepo.GetUnreadCount(bob.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after) // 查询历史不改变未读状态
	})

	t.Run("分页", func(t *testing.T) {
		page1, err := env.messageSvc.History(alice.ID, bob.ID, 1, 2)
		require.NoError(t, err)
		require.Len(t, page1, 2)

		page2, err := env.messageSvc.History(alice.ID, bob.ID, 2, 2)
		require.NoError(t, err)
		require.Len(t, page2, 1)
		assert.Equal(t, "第三条", page2[0].Content)
	})
}

func TestUnread(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	m1, err := env.messageSvc.Send(alice.ID, bob.ID, "一", nil)
	require.NoError(t, err)
	_, err = env.messageSvc.Send(alice.ID, bob.ID, "二", nil)
	require.NoError(t, err)

	count, err := env.messageSvc.UnreadCount(bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	messages, err := env.messageSvc.UnreadMessages(bob.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	require.NoError(t, env.messageSvc.MarkRead(m1.ID, bob.ID))

	count, err = env.messageSvc.UnreadCount(bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// 发送者视角没有未读
	count, err = env.messageSvc.UnreadCount(alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	bobMsg, err := env.messageSvc.Send(bob.ID, alice.ID, "bob的消息", nil)
	require.NoError(t, err)
	env.backdateMessage(t, bobMsg.ID, time.Minute)
	_, err = env.messageSvc.Send(carol.ID, alice.ID, "carol第一条", nil)
	require.NoError(t, err)
	_, err = env.messageSvc.Send(carol.ID, alice.ID, "carol第二条", nil)
	require.NoError(t, err)

	sessions, err := env.messageSvc.Sessions(alice.ID, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// carol会话更近，排在前面，未读数按会话统计
	assert.Equal(t, carol.ID, sessions[0].UserID)
	assert.Equal(t, "carol", sessions[0].Username)
	assert.Equal(t, "carol第二条", sessions[0].LastMessage)
	assert.EqualValues(t, 2, sessions[0].UnreadCount)

	assert.Equal(t, bob.ID, sessions[1].UserID)
	assert.EqualValues(t, 1, sessions[1].UnreadCount)
}

// 小分页查询回填缓存后，更大分页的查询不能被缓存截断
func TestHistoryCacheServesLargerPage(t *testing.T) {
	env := newTestEnv(t)
	srv := withMiniRedis(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	for i := 0; i < 10; i++ {
		_, err := env.messageSvc.Send(alice.ID, bob.ID, fmt.Sprintf("消息 %d", i), nil)
		require.NoError(t, err)
	}

	first, err := env.messageSvc.History(alice.ID, bob.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	key := fmt.Sprintf("chat:history:%d:%d", alice.ID, bob.ID)
	waitForCacheKey(t, srv, key)

	// 缓存窗口独立于请求分页，大分页必须拿到全部10条
	second, err := env.messageSvc.History(alice.ID, bob.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, second, 10)
	for i, msg := range second {
		assert.Equal(t, fmt.Sprintf("消息 %d", i), msg.Content)
	}
}

// 缓存命中与数据库回源必须返回相同的消息投影
func TestHistoryCacheHitMatchesDatabase(t *testing.T) {
	env := newTestEnv(t)
	srv := withMiniRedis(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	withMeta, err := env.messageSvc.Send(alice.ID, bob.ID, "带附件", map[string]string{"file_url": "/f/1"})
	require.NoError(t, err)
	_, err = env.messageSvc.Send(alice.ID, bob.ID, "纯文本", nil)
	require.NoError(t, err)

	require.NoError(t, env.messageSvc.MarkRead(withMeta.ID, bob.ID))

	fromDB, err := env.messageSvc.History(bob.ID, alice.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, fromDB, 2)

	key := fmt.Sprintf("chat:history:%d:%d", alice.ID, bob.ID)
	waitForCacheKey(t, srv, key)

	fromCache, err := env.messageSvc.History(bob.ID, alice.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, fromCache, 2)

	for i := range fromDB {
		assert.Equal(t, fromDB[i].ID, fromCache[i].ID)
		assert.Equal(t, fromDB[i].Content, fromCache[i].Content)
		assert.Equal(t, fromDB[i].MsgType, fromCache[i].MsgType)
		assert.Equal(t, fromDB[i].Status, fromCache[i].Status)
		assert.Equal(t, fromDB[i].IsRead, fromCache[i].IsRead)
		assert.Equal(t, fromDB[i].Metadata, fromCache[i].Metadata)
	}

	// 已读消息的投影字段必须完整经过缓存
	assert.Equal(t, "text", fromCache[0].MsgType)
	assert.Equal(t, model.MessageRead, fromCache[0].Status)
	assert.True(t, fromCache[0].IsRead)
	require.NotNil(t, fromCache[0].ReadAt)
	assert.Equal(t, map[string]string{"file_url": "/f/1"}, fromCache[0].GetMetadata())
}

// 标记已读后历史缓存必须失效，未读计数与历史投影保持一致
func TestMarkReadInvalidatesHistoryCache(t *testing.T) {
	env := newTestEnv(t)
	srv := withMiniRedis(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	msg, err := env.messageSvc.Send(alice.ID, bob.ID, "你好", nil)
	require.NoError(t, err)

	history, err := env.messageSvc.History(bob.ID, alice.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].IsRead)

	key := fmt.Sprintf("chat:history:%d:%d", alice.ID, bob.ID)
	waitForCacheKey(t, srv, key)

	require.NoError(t, env.messageSvc.MarkRead(msg.ID, bob.ID))
	assert.False(t, srv.Exists(key), "已读转换后消息缓存应当失效")

	count, err := env.messageSvc.UnreadCount(bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	// 历史中不允许残留未读状态
	after, err := env.messageSvc.History(bob.ID, alice.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.True(t, after[0].IsRead)
	assert.Equal(t, model.MessageRead, after[0].Status)

	waitForCacheKey(t, srv, key)
}
