package lookup

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/John-Robertt/recallasin/internal/domain"
	"github.com/John-Robertt/recallasin/internal/infra/cache"
	"github.com/John-Robertt/recallasin/internal/provider"
	"github.com/John-Robertt/recallasin/internal/upc"
)

// mapProvider 按 UPC 查表回答；表中没有的 UPC 回答 UPCNOTFOUND。
type mapProvider struct {
	name     string
	answers  map[string]domain.ASIN
	fetchErr map[string]error
	parseErr error
	calls    []string
}

func (p *mapProvider) Name() string { return p.name }

func (p *mapProvider) Fetch(ctx context.Context, u string, c *http.Client) ([]byte, string, error) {
	p.calls = append(p.calls, u)
	if err := p.fetchErr[u]; err != nil {
		return nil, "", err
	}
	return []byte(u), "http://stub.test/" + u, nil
}

func (p *mapProvider) Parse(u string, body []byte, pageURL string) (domain.ASIN, error) {
	if p.parseErr != nil {
		return "", p.parseErr
	}
	if a, ok := p.answers[u]; ok {
		return a, nil
	}
	return domain.NotFound, nil
}

func newSearcher(t *testing.T, p *mapProvider, store cache.Store) *Searcher {
	t.Helper()
	reg, err := provider.NewRegistry(p)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return &Searcher{Registry: reg, Provider: p.name, Cache: store}
}

func TestResolve_12DigitsResolved(t *testing.T) {
	p := &mapProvider{name: "upctoasin", answers: map[string]domain.ASIN{"876063002233": "B001BCH7KM"}}
	s := newSearcher(t, p, cache.New("", false))

	res := s.Resolve(context.Background(), 2, "8760-6300-2233", nil)
	if res.Status != domain.StatusResolved || res.ASIN != "B001BCH7KM" || res.UPC != "876063002233" {
		t.Fatalf("结果不符合预期：%+v", res)
	}
	if res.Digits != "876063002233" || res.ProviderUsed != "upctoasin" {
		t.Fatalf("结果不符合预期：%+v", res)
	}
	if len(p.calls) != 1 {
		t.Fatalf("期望查询 1 次，实际 %v", p.calls)
	}
}

func TestResolve_10DigitsStopsAtFirstHit(t *testing.T) {
	p := &mapProvider{name: "upctoasin", answers: map[string]domain.ASIN{"876063002233": "B001BCH7KM"}}
	s := newSearcher(t, p, cache.New("", false))

	res := s.Resolve(context.Background(), 1, "76063-00223", nil)
	if res.Status != domain.StatusResolved || res.UPC != "876063002233" {
		t.Fatalf("结果不符合预期：%+v", res)
	}
	if len(res.Candidates) != 10 {
		t.Fatalf("期望 10 个候选，实际 %d", len(res.Candidates))
	}
	// 优先级 0,7,8：第三个候选命中后停止。
	want := []string{upc.Complete("07606300223"), upc.Complete("77606300223"), "876063002233"}
	if len(res.Tried) != len(want) {
		t.Fatalf("tried 不符合预期：%v", res.Tried)
	}
	for i := range want {
		if res.Tried[i] != want[i] || p.calls[i] != want[i] {
			t.Fatalf("第 %d 次查询期望 %q，实际 tried=%v calls=%v", i, want[i], res.Tried, p.calls)
		}
	}
}

func TestResolve_KnownSkipsSearchFanout(t *testing.T) {
	p := &mapProvider{name: "upctoasin", answers: map[string]domain.ASIN{"876063002233": "B001BCH7KM"}}
	s := newSearcher(t, p, cache.New("", false))

	res := s.Resolve(context.Background(), 1, "7606300223", []string{"030243507998", "876063002233"})
	if res.Status != domain.StatusResolved || len(res.Tried) != 1 {
		t.Fatalf("已知 UPC 匹配时应只查一次：%+v", res)
	}
}

func TestResolve_AllNotFound(t *testing.T) {
	p := &mapProvider{name: "upctoasin"}
	s := newSearcher(t, p, cache.New("", false))

	res := s.Resolve(context.Background(), 1, "1234567890123", nil)
	if res.Status != domain.StatusNotFound || res.ASIN != string(domain.NotFound) {
		t.Fatalf("结果不符合预期：%+v", res)
	}
	if len(res.Tried) != 2 || res.UPC != "" {
		t.Fatalf("13 位非 00 开头应尝试 2 个候选：%+v", res)
	}
}

func TestResolve_LengthSentinel(t *testing.T) {
	p := &mapProvider{name: "upctoasin"}
	s := newSearcher(t, p, cache.New("", false))

	res := s.Resolve(context.Background(), 3, "12345-6789", nil)
	if res.Status != domain.StatusUnresolvable || res.ASIN != "UPClength-9" || res.ErrorCode != domain.ErrCodeUPCLength {
		t.Fatalf("结果不符合预期：%+v", res)
	}
	if len(p.calls) != 0 {
		t.Fatalf("长度不可还原时不应发起查询：%v", p.calls)
	}
}

func TestResolve_FetchFailureStopsSearch(t *testing.T) {
	first := upc.Complete("07606300223")
	p := &mapProvider{
		name:     "upctoasin",
		answers:  map[string]domain.ASIN{"876063002233": "B001BCH7KM"},
		fetchErr: map[string]error{first: errors.New("connection reset")},
	}
	s := newSearcher(t, p, cache.New("", false))

	res := s.Resolve(context.Background(), 1, "7606300223", nil)
	if res.Status != domain.StatusFailed || res.ErrorCode != domain.ErrCodeFetchFailed {
		t.Fatalf("期望 fetch_failed，实际：%+v", res)
	}
	if len(res.Tried) != 1 || res.ASIN != "" {
		t.Fatalf("失败后不应继续尝试：%+v", res)
	}
}

func TestResolve_ParseFailure(t *testing.T) {
	p := &mapProvider{name: "amazon", parseErr: errors.New("页面结构变化")}
	s := newSearcher(t, p, cache.New("", false))

	res := s.Resolve(context.Background(), 1, "876063002233", nil)
	if res.Status != domain.StatusFailed || res.ErrorCode != domain.ErrCodeParseFailed {
		t.Fatalf("期望 parse_failed，实际：%+v", res)
	}
}

func TestResolve_CanceledContext(t *testing.T) {
	p := &mapProvider{name: "upctoasin"}
	s := newSearcher(t, p, cache.New("", false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.Resolve(ctx, 1, "876063002233", nil)
	if res.Status != domain.StatusFailed {
		t.Fatalf("ctx 取消时期望 failed，实际：%+v", res)
	}
	if len(p.calls) != 0 {
		t.Fatalf("ctx 取消时不应发起查询：%v", p.calls)
	}
}

func TestLookupASIN_CacheWriteAndReuse(t *testing.T) {
	dir := t.TempDir()
	p := &mapProvider{name: "upctoasin", answers: map[string]domain.ASIN{"876063002233": "B001BCH7KM"}}
	s := newSearcher(t, p, cache.New(dir, false))

	if _, err := s.LookupASIN(context.Background(), "876063002233"); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, err := s.LookupASIN(context.Background(), "125846523692"); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// 第二个 Searcher 的 provider 全部失败：命中缓存就不会触网。
	broken := &mapProvider{name: "upctoasin", fetchErr: map[string]error{
		"876063002233": errors.New("down"),
		"125846523692": errors.New("down"),
	}}
	s2 := newSearcher(t, broken, cache.New(dir, true))

	hit, err := s2.LookupASIN(context.Background(), "876063002233")
	if err != nil || !hit.Cached || hit.ASIN != "B001BCH7KM" {
		t.Fatalf("期望命中缓存：%+v err=%v", hit, err)
	}
	hit, err = s2.LookupASIN(context.Background(), "125846523692")
	if err != nil || !hit.Cached || hit.ASIN != domain.NotFound {
		t.Fatalf("UPCNOTFOUND 也应命中缓存：%+v err=%v", hit, err)
	}
	if len(broken.calls) != 0 {
		t.Fatalf("命中缓存时不应触网：%v", broken.calls)
	}
}

func TestLookupASIN_ReadOnlyCacheNotWritten(t *testing.T) {
	store := cache.New(t.TempDir(), true)
	p := &mapProvider{name: "upctoasin", answers: map[string]domain.ASIN{"876063002233": "B001BCH7KM"}}
	s := newSearcher(t, p, store)

	if _, err := s.LookupASIN(context.Background(), "876063002233"); err != nil {
		t.Fatalf("dry-run 不应因缓存只读而失败：%v", err)
	}
	path, _ := store.Path("upctoasin", "876063002233")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("dry-run 不应写缓存：Stat err=%v", err)
	}
}
