// Package lookup 把“UPC 还原 + ASIN 查询 + 缓存”串成单个 UPC 的解析流程。
package lookup

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/recallasin/internal/domain"
	"github.com/John-Robertt/recallasin/internal/infra/cache"
	"github.com/John-Robertt/recallasin/internal/provider"
	"github.com/John-Robertt/recallasin/internal/upc"
)

// Hit 是一次 12 位 UPC 查询的答案。ASIN 可能是 domain.NotFound。
type Hit struct {
	UPC      string
	ASIN     domain.ASIN
	Provider string
	PageURL  string
	Cached   bool
}

// Searcher 顺序执行查询；不做并发，出站限速由 Client 的 Transport 负责。
type Searcher struct {
	Registry provider.Registry
	Provider string
	Client   *http.Client

	// Cache 为 ReadOnly 时（dry-run）只读不写。
	Cache cache.Store

	// Reconstructor 为零值时使用默认优先级与子串匹配。
	Reconstructor upc.Reconstructor

	Log *zap.Logger

	now func() time.Time
}

func (s *Searcher) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// LookupASIN 查询单个 12 位 UPC：先查缓存，未命中再走 provider 回退链。
// provider 明确回答 UPCNOTFOUND 也会写入缓存。
func (s *Searcher) LookupASIN(ctx context.Context, upc12 string) (Hit, error) {
	for _, name := range s.cacheOrder() {
		e, ok, err := s.Cache.Read(name, upc12)
		if err != nil {
			s.log().Warn("忽略坏缓存", zap.String("provider", name), zap.String("upc", upc12), zap.Error(err))
			continue
		}
		if ok {
			s.log().Debug("缓存命中", zap.String("provider", name), zap.String("upc", upc12), zap.String("asin", string(e.ASIN)))
			return Hit{UPC: upc12, ASIN: e.ASIN, Provider: e.Provider, PageURL: e.PageURL, Cached: true}, nil
		}
	}

	ans, attempts, err := provider.LookupTrace(ctx, s.Registry, s.Provider, upc12, s.Client)
	for _, a := range attempts {
		if a.Err != nil {
			s.log().Debug("provider 尝试失败", zap.String("provider", a.Provider), zap.String("stage", a.Stage), zap.String("upc", upc12), zap.Error(a.Err))
		}
	}
	if err != nil {
		return Hit{UPC: upc12}, err
	}
	hit := Hit{UPC: upc12, ASIN: ans.ASIN, Provider: ans.Provider, PageURL: ans.PageURL}
	s.log().Debug("查询完成", zap.String("provider", hit.Provider), zap.String("upc", upc12), zap.String("asin", string(hit.ASIN)))

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	werr := s.Cache.Write(cache.Entry{
		UPC:       upc12,
		ASIN:      hit.ASIN,
		Provider:  hit.Provider,
		PageURL:   hit.PageURL,
		FetchedAt: now().UTC(),
	})
	if werr != nil && !errors.Is(werr, cache.ErrReadOnly) {
		s.log().Warn("写缓存失败", zap.String("upc", upc12), zap.Error(werr))
	}
	return hit, nil
}

// Search 按顺序尝试候选，返回第一个不是 UPCNOTFOUND 的答案；全部 NotFound 时返回 NotFound。
// tried 是实际查询过的候选。查询失败立即停止，并以 error 返回（不能当作“未找到”）。
func (s *Searcher) Search(ctx context.Context, candidates []string) (hit Hit, tried []string, err error) {
	tried = make([]string, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Hit{}, tried, err
		}
		tried = append(tried, c)
		h, err := s.LookupASIN(ctx, c)
		if err != nil {
			return h, tried, err
		}
		if h.ASIN != domain.NotFound {
			return h, tried, nil
		}
	}
	return Hit{ASIN: domain.NotFound}, tried, nil
}

// Resolve 解析一个原始 UPC：清洗、按长度还原候选、依次查询。
// known 是同一召回事件下已知的 12 位 UPC（可以为空）。
func (s *Searcher) Resolve(ctx context.Context, row int, raw string, known []string) domain.UPCResult {
	digits := upc.Sanitize(raw)
	res := domain.UPCResult{
		Row:    row,
		Raw:    raw,
		Digits: digits,
	}

	cands := s.Reconstructor.Reconstruct(digits, known)
	if cands == nil {
		res.Status = domain.StatusUnresolvable
		res.ASIN = domain.LengthSentinel(len(digits))
		res.ErrorCode = domain.ErrCodeUPCLength
		res.ErrorMsg = (&upc.LengthError{N: len(digits)}).Error()
		return res
	}
	res.Candidates = cands

	hit, tried, err := s.Search(ctx, cands)
	res.Tried = tried
	if err != nil {
		res.Status = domain.StatusFailed
		res.ErrorCode = ErrorCode(err)
		res.ErrorMsg = err.Error()
		return res
	}

	res.ASIN = string(hit.ASIN)
	res.ProviderUsed = hit.Provider
	if hit.ASIN == domain.NotFound {
		res.Status = domain.StatusNotFound
		return res
	}
	res.Status = domain.StatusResolved
	res.UPC = hit.UPC
	return res
}

// ErrorCode 把查询错误归类为报告中的 error_code。
func ErrorCode(err error) string {
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Stage == "parse" {
		return domain.ErrCodeParseFailed
	}
	return domain.ErrCodeFetchFailed
}

// cacheOrder：requested 在前，其余按字典序（与回退顺序一致）。
func (s *Searcher) cacheOrder() []string {
	if !s.Cache.Enabled() {
		return nil
	}
	requested := strings.ToLower(strings.TrimSpace(s.Provider))
	out := []string{requested}
	for _, n := range s.Registry.Names() {
		if n != requested {
			out = append(out, n)
		}
	}
	return out
}
