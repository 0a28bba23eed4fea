package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/John-Robertt/recallasin/internal/domain"
)

type stubProvider struct {
	name string

	fetchErr error
	parseErr error

	body []byte
	url  string
	asin domain.ASIN

	fetchCalls int
	parseCalls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Fetch(ctx context.Context, upc string, c *http.Client) ([]byte, string, error) {
	p.fetchCalls++
	if p.fetchErr != nil {
		return nil, "", p.fetchErr
	}
	return p.body, p.url, nil
}

func (p *stubProvider) Parse(upc string, body []byte, pageURL string) (domain.ASIN, error) {
	p.parseCalls++
	if p.parseErr != nil {
		return "", p.parseErr
	}
	return p.asin, nil
}

func TestLookup_FallbackOnFetchFail(t *testing.T) {
	a := &stubProvider{name: "upctoasin", fetchErr: errors.New("nope")}
	b := &stubProvider{name: "amazon", body: []byte("x"), url: "https://example.test/s?k=1", asin: "B001BCH7KM"}

	reg, err := NewRegistry(a, b)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	ans, err := Lookup(context.Background(), reg, "upctoasin", "876063002233", nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ans.Provider != "amazon" || ans.ASIN != "B001BCH7KM" || ans.PageURL != b.url {
		t.Fatalf("answer 不符合预期：%+v", ans)
	}
}

func TestLookupTrace_NotFoundIsFinal(t *testing.T) {
	a := &stubProvider{name: "upctoasin", body: []byte("UPCNOTFOUND"), asin: domain.NotFound}
	b := &stubProvider{name: "amazon", asin: "B001BCH7KM"}

	reg, err := NewRegistry(a, b)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	ans, attempts, err := LookupTrace(context.Background(), reg, "upctoasin", "876063002233", nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ans.ASIN != domain.NotFound || ans.Provider != "upctoasin" {
		t.Fatalf("NotFound 应是最终答案：%+v", ans)
	}
	if b.fetchCalls != 0 {
		t.Fatalf("NotFound 后不应回退到 amazon，fetchCalls=%d", b.fetchCalls)
	}
	if len(attempts) != 1 || attempts[0].Stage != "ok" {
		t.Fatalf("attempts 不符合预期：%+v", attempts)
	}
}

func TestLookupTrace_RecordsFallbackReason(t *testing.T) {
	a := &stubProvider{name: "amazon", body: []byte("<bad/>"), parseErr: errors.New("parse fail")}
	b := &stubProvider{name: "upctoasin", body: []byte("B001BCH7KM"), asin: "B001BCH7KM"}

	reg, err := NewRegistry(a, b)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	ans, attempts, err := LookupTrace(context.Background(), reg, "amazon", "876063002233", nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ans.Provider != "upctoasin" {
		t.Fatalf("期望 used=upctoasin，实际=%q", ans.Provider)
	}
	if len(attempts) != 2 {
		t.Fatalf("期望 2 条 attempts，实际 %d: %+v", len(attempts), attempts)
	}
	if attempts[0].Provider != "amazon" || attempts[0].Stage != "parse" || attempts[0].Err == nil {
		t.Fatalf("attempt[0] 不符合预期：%+v", attempts[0])
	}
	if attempts[1].Provider != "upctoasin" || attempts[1].Stage != "ok" || attempts[1].Err != nil {
		t.Fatalf("attempt[1] 不符合预期：%+v", attempts[1])
	}
}

func TestLookup_AllFailReturnsProviderError(t *testing.T) {
	a := &stubProvider{name: "upctoasin", fetchErr: errors.New("down")}
	reg, err := NewRegistry(a)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	_, err = Lookup(context.Background(), reg, "upctoasin", "876063002233", nil)
	var pe *Error
	if !errors.As(err, &pe) || pe.Stage != "fetch" || pe.Provider != "upctoasin" {
		t.Fatalf("期望 fetch 阶段的 *Error，实际 %v", err)
	}
}

func TestLookup_RejectsNon12Digits(t *testing.T) {
	reg, err := NewRegistry(&stubProvider{name: "upctoasin"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	for _, upc := range []string{"8760630022", "87606300223a", ""} {
		if _, err := Lookup(context.Background(), reg, "upctoasin", upc, nil); err == nil {
			t.Fatalf("期望 %q 被拒绝", upc)
		}
	}
}

func TestLookup_UnknownProvider(t *testing.T) {
	reg, err := NewRegistry(&stubProvider{name: "upctoasin"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	_, err = Lookup(context.Background(), reg, "nope", "876063002233", nil)
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func TestNewRegistry_RejectsDuplicate(t *testing.T) {
	_, err := NewRegistry(&stubProvider{name: "amazon"}, &stubProvider{name: "Amazon"})
	if err == nil {
		t.Fatalf("期望重复 provider 报错")
	}
}

func TestFetchURL_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := FetchURL(context.Background(), srv.Client(), srv.URL+"/x")
	var hs *HTTPStatusError
	if !errors.As(err, &hs) || hs.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("期望 HTTP 429 的 *HTTPStatusError，实际 %v", err)
	}
}
