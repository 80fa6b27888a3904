package apperr

import (
	"errors"
	"fmt"
)

// Kind 业务错误类别
// 服务层只抛出携带Kind的错误，由响应层统一翻译成协议状态码
type Kind string

const (
	KindNotFound        Kind = "not_found"         // 实体不存在
	KindForbidden       Kind = "forbidden"         // 无权操作该实体
	KindAlreadyHandled  Kind = "already_handled"   // 状态机转移已发生过
	KindInvalidOp       Kind = "invalid_operation" // 当前状态下不允许该转移
	KindConflict        Kind = "conflict"          // 并发重复创建
	KindValidation      Kind = "validation"        // 输入非法
	KindUnauthenticated Kind = "unauthenticated"   // 未认证
)

// Error 业务错误
// Message 面向客户端展示，Err 保留底层原因用于日志
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建业务错误
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 包装底层错误
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// 常用构造
func NotFound(message string) *Error        { return New(KindNotFound, message) }
func Forbidden(message string) *Error       { return New(KindForbidden, message) }
func AlreadyHandled(message string) *Error  { return New(KindAlreadyHandled, message) }
func InvalidOp(message string) *Error       { return New(KindInvalidOp, message) }
func Conflict(message string) *Error        { return New(KindConflict, message) }
func Validation(message string) *Error      { return New(KindValidation, message) }
func Unauthenticated(message string) *Error { return New(KindUnauthenticated, message) }

// KindOf 提取错误类别，非业务错误返回空串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is 判断错误是否属于指定类别
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
