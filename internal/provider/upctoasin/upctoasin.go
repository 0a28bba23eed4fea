package upctoasin

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

// DefaultBaseURL 是 upctoasin 查询服务的默认地址。
const DefaultBaseURL = "http://upctoasin.com"

// Provider 查询 upctoasin：GET <base>/<UPC12>，响应体是纯文本的 ASIN 或 "UPCNOTFOUND"。
//
// 服务偶尔会把结果包在一个最小 HTML 页面里返回，此时取 <body> 文本。
type Provider struct {
	// BaseURL 为空时使用 DefaultBaseURL。
	BaseURL string
}

func (Provider) Name() string { return "upctoasin" }

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
	pageURL := p.baseURL() + "/" + url.PathEscape(upc)
	b, err := providerx.FetchURL(ctx, c, pageURL)
	return b, pageURL, err
}

func (Provider) Parse(upc string, body []byte, pageURL string) (domain.ASIN, error) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", errors.New("响应为空")
	}
	if strings.HasPrefix(text, "<") {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(doc.Find("body").First().Text())
	}
	if strings.EqualFold(text, string(domain.NotFound)) {
		return domain.NotFound, nil
	}
	return domain.NormalizeASIN(text)
}
