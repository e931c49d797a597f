package services

import "errors"

// 校验类错误：同步返回给调用方并附带明确原因，不重试。
// HTTP 层据此映射为 400；其余内部错误一律收敛为通用失败。
var (
	ErrUnknownViewer = errors.New("valid profile required")
	ErrEmptyBody     = errors.New("message text required")
	ErrSelfChat      = errors.New("cannot send message to yourself")
)
