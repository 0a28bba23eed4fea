package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/John-Robertt/recallasin/internal/domain"
	"github.com/John-Robertt/recallasin/internal/infra/fsx"
)

// Store 提供 <dir>/providers/<provider>/<UPC12>.json 的查询结果缓存。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
// - "UPCNOTFOUND" 也会被缓存，重跑时不再打网络
type Store struct {
	Dir      string
	ReadOnly bool
}

// Entry 是一条缓存记录。
type Entry struct {
	UPC       string      `json:"upc"`
	ASIN      domain.ASIN `json:"asin"`
	Provider  string      `json:"provider"`
	PageURL   string      `json:"page_url"`
	FetchedAt time.Time   `json:"fetched_at"`
}

var ErrReadOnly = errors.New("cache: read-only")

func New(dir string, readOnly bool) Store {
	dir = strings.TrimSpace(dir)
	if dir != "" {
		dir = filepath.Clean(dir)
	}
	return Store{Dir: dir, ReadOnly: readOnly}
}

// Enabled 为 false 时所有读返回未命中、写直接忽略。
func (s Store) Enabled() bool { return s.Dir != "" }

// Path 返回缓存文件的绝对路径。
func (s Store) Path(provider, upc string) (string, error) {
	p, err := cleanProvider(provider)
	if err != nil {
		return "", err
	}
	if !upcRE.MatchString(upc) {
		return "", fmt.Errorf("非法 UPC：%q", upc)
	}
	return filepath.Join(s.Dir, "providers", p, upc+".json"), nil
}

func (s Store) Read(provider, upc string) (Entry, bool, error) {
	if !s.Enabled() {
		return Entry{}, false, nil
	}
	path, err := s.Path(provider, upc)
	if err != nil {
		return Entry{}, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, fmt.Errorf("坏缓存 %q：%w", path, err)
	}
	if e.UPC != upc || e.ASIN == "" {
		return Entry{}, false, fmt.Errorf("坏缓存 %q：内容与文件名不一致", path)
	}
	return e, true, nil
}

func (s Store) Write(e Entry) error {
	if !s.Enabled() {
		return nil
	}
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.Path(e.Provider, e.UPC)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), append(b, '\n'))
}

var (
	providerNameRE = regexp.MustCompile(`^[a-z0-9_]+$`)
	upcRE          = regexp.MustCompile(`^[0-9]{12}$`)
)

func cleanProvider(p string) (string, error) {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "", fmt.Errorf("provider 不能为空")
	}
	// 最小约束：避免路径穿越。
	if !providerNameRE.MatchString(p) {
		return "", fmt.Errorf("非法 provider：%q", p)
	}
	return p, nil
}
