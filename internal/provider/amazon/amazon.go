package amazon

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/recallasin/internal/domain"
	providerx "github.com/John-Robertt/recallasin/internal/provider"
)

// DefaultBaseURL 是 Amazon 站点的默认地址。
const DefaultBaseURL = "https://www.amazon.com"

// Provider 通过 Amazon 站内搜索页（/s?k=<UPC>）定位 ASIN。
//
// 约束：
// - 只取第一个真实搜索结果（排除广告/占位条目），不做相似度判断
// - 遇到 captcha 页面返回 *BlockedError，不尝试绕过
type Provider struct {
	BaseURL string
}

func (Provider) Name() string { return "amazon" }

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

func (p Provider) Fetch(ctx context.Context, upc string, c *http.Client) ([]byte, string, error) {
	if upc == "" {
		return nil, "", errors.New("upc 不能为空")
	}
	pageURL := p.baseURL() + "/s?k=" + url.QueryEscape(upc)
	b, err := providerx.FetchURL(ctx, c, pageURL)
	if err != nil {
		return nil, pageURL, err
	}
	if isCaptcha(b) {
		return nil, pageURL, &providerx.BlockedError{URL: pageURL, Reason: "captcha"}
	}
	return b, pageURL, nil
}

// Parse 从搜索结果页提取第一个结果的 data-asin；没有结果时返回 domain.NotFound。
func (Provider) Parse(upc string, html []byte, pageURL string) (domain.ASIN, error) {
	if len(html) == 0 {
		return "", errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", err
	}
	if doc.Find("form[action*='validateCaptcha']").Length() > 0 {
		return "", &providerx.BlockedError{URL: pageURL, Reason: "captcha"}
	}

	var raw string
	doc.Find("[data-component-type='s-search-result'][data-asin]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.AttrOr("class", ""), "AdHolder") {
			return true
		}
		v := strings.TrimSpace(s.AttrOr("data-asin", ""))
		if v == "" {
			return true
		}
		raw = v
		return false
	})
	if raw == "" {
		// 页面里连搜索结果容器都没有，多半不是搜索页。
		if doc.Find("[data-component-type='s-search-result'], .s-no-outline, .s-result-list, .s-main-slot").Length() == 0 &&
			!strings.Contains(doc.Text(), "No results for") {
			return "", errors.New("未找到搜索结果容器（疑似返回了非搜索页内容）")
		}
		return domain.NotFound, nil
	}
	return domain.NormalizeASIN(raw)
}

func isCaptcha(b []byte) bool {
	return bytes.Contains(b, []byte("/errors/validateCaptcha"))
}
