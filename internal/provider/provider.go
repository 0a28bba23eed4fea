package provider

import (
	"context"
	"net/http"

	"github.com/John-Robertt/recallasin/internal/domain"
)

// Provider 把“查询站点变化”限制在 provider 包内部；核心流程只依赖统一接口。
//
// 约束：
// - upc 必须是 12 位 UPC-A（由上层还原；这里只做长度守卫）
// - Fetch 不做缓存、不做限速（这些由 cache/httpx 层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出；“查无此 UPC”返回 domain.NotFound 而不是错误
type Provider interface {
	Name() string
	Fetch(ctx context.Context, upc string, c *http.Client) (body []byte, pageURL string, err error)
	Parse(upc string, body []byte, pageURL string) (domain.ASIN, error)
}
