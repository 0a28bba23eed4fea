package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/recallasin/internal/domain"
)

// Attempt 记录一次 provider 尝试（用于解释 fallback/降级原因）。
type Attempt struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" / "parse" / "ok"
	Err      error  // nil when Stage=="ok"
}

// Answer 是一次成功查询的结果。ASIN 可能是 domain.NotFound。
type Answer struct {
	ASIN     domain.ASIN
	Provider string
	PageURL  string
	Body     []byte
}

// Lookup 按“requested -> 其余 provider”顺序查询 upc 对应的 ASIN。
func Lookup(ctx context.Context, reg Registry, providerRequested, upc string, c *http.Client) (Answer, error) {
	a, _, err := LookupTrace(ctx, reg, providerRequested, upc, c)
	return a, err
}

// LookupTrace 与 Lookup 相同，但额外返回 provider 的尝试链路。
//
// 只有 fetch/parse 失败才会回退；某个 provider 明确回答 NotFound 即视为最终答案。
func LookupTrace(ctx context.Context, reg Registry, providerRequested, upc string, c *http.Client) (Answer, []Attempt, error) {
	providerRequested = strings.ToLower(strings.TrimSpace(providerRequested))
	if providerRequested == "" {
		return Answer{}, nil, fmt.Errorf("provider_requested 不能为空")
	}
	if !isUPC12(upc) {
		return Answer{}, nil, fmt.Errorf("UPC 必须是 12 位数字：%q", upc)
	}

	order, err := reg.fallbackOrder(providerRequested)
	if err != nil {
		return Answer{}, nil, err
	}

	var (
		attempts []Attempt
		lastErr  error
	)
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return Answer{}, attempts, err
		}
		p, _ := reg.Get(name)

		body, pageURL, ferr := p.Fetch(ctx, upc, c)
		if ferr != nil {
			lastErr = &Error{Provider: name, Stage: "fetch", Err: ferr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "fetch", Err: ferr})
			continue
		}

		asin, perr := p.Parse(upc, body, pageURL)
		if perr != nil {
			lastErr = &Error{Provider: name, Stage: "parse", Err: perr}
			attempts = append(attempts, Attempt{Provider: name, Stage: "parse", Err: perr})
			continue
		}

		attempts = append(attempts, Attempt{Provider: name, Stage: "ok"})
		return Answer{ASIN: asin, Provider: name, PageURL: pageURL, Body: body}, attempts, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("无可用 provider")
	}
	return Answer{}, attempts, lastErr
}

// Error 是 provider 阶段的可追溯错误。
// 上层据此把失败归类为 fetch_failed / parse_failed。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "fetch" 或 "parse"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func isUPC12(s string) bool {
	if len(s) != 12 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
