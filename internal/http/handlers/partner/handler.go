package partner

import "github.com/Do1K/b2b-point-service/internal/provider"

// Handler 合作方接口处理器入口
// 说明：所有接口都要求先经过 X-API-KEY 鉴权中间件。
type Handler struct {
	*provider.Container
}

// New 创建合作方处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
