package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("不存在")))
	assert.Equal(t, KindConflict, KindOf(Conflict("冲突")))

	// 非业务错误返回空串
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindOfWrapped(t *testing.T) {
	inner := Forbidden("无权限")
	wrapped := fmt.Errorf("handler: %w", inner)

	assert.Equal(t, KindForbidden, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindForbidden))
	assert.False(t, Is(wrapped, KindNotFound))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("db down")
	err := Wrap(KindValidation, "元数据格式非法", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "db down")
}

func TestErrorMessage(t *testing.T) {
	err := InvalidOp("超出可编辑时间窗口")
	assert.Equal(t, "invalid_operation: 超出可编辑时间窗口", err.Error())
	assert.Nil(t, err.Unwrap())
}
