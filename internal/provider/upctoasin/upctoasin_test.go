package upctoasin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/John-Robertt/recallasin/internal/domain"
	providerx "github.com/John-Robertt/recallasin/internal/provider"
)

func TestFetchParse_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/876063002233":
			_, _ = w.Write([]byte("B001BCH7KM\n"))
		default:
			_, _ = w.Write([]byte("UPCNOTFOUND"))
		}
	}))
	defer srv.Close()

	p := Provider{BaseURL: srv.URL + "/"}

	body, pageURL, err := p.Fetch(context.Background(), "876063002233", srv.Client())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if pageURL != srv.URL+"/876063002233" {
		t.Fatalf("pageURL 不符合预期：%q", pageURL)
	}
	asin, err := p.Parse("876063002233", body, pageURL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if asin != "B001BCH7KM" {
		t.Fatalf("期望 B001BCH7KM，实际 %q", asin)
	}

	body, pageURL, err = p.Fetch(context.Background(), "125846523692", srv.Client())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	asin, err = p.Parse("125846523692", body, pageURL)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if asin != domain.NotFound {
		t.Fatalf("期望 UPCNOTFOUND，实际 %q", asin)
	}
}

func TestParse_HTMLWrapped(t *testing.T) {
	html := []byte("<html><head><title>x</title></head><body>\n  B004KT7UQY \n</body></html>")
	asin, err := Provider{}.Parse("086069200308", html, "http://upctoasin.com/086069200308")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if asin != "B004KT7UQY" {
		t.Fatalf("期望 B004KT7UQY，实际 %q", asin)
	}
}

func TestParse_GarbageIsParseError(t *testing.T) {
	for _, body := range []string{"", "   ", "rate limited, slow down"} {
		if _, err := (Provider{}).Parse("086069200308", []byte(body), "u"); err == nil {
			t.Fatalf("期望 %q 解析失败", body)
		}
	}
}

func TestFetch_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, _, err := Provider{BaseURL: srv.URL}.Fetch(context.Background(), "086069200308", srv.Client())
	var hs *providerx.HTTPStatusError
	if !errors.As(err, &hs) || hs.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("期望 HTTP 503，实际 %v", err)
	}
}
