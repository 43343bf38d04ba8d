package response

// AppError 统一错误包装，Code 为响应体中的业务状态码
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable 调用方稍后重试可能成功（限流、队列或缓存繁忙）
func (e *AppError) Retryable() bool {
	return e.Code == CodeServiceUnavailable || e.Code == CodeTooManyRequests
}

// WrapError 包装错误
func WrapError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
