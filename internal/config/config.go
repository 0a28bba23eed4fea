package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ErrCodeNotFound 表示未给出输入 CSV 且 cwd 下没有 recallasin.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingInput 表示既没有 CLI 输入路径，配置文件也缺少 input 字段。
	ErrCodeMissingInput = "config_missing_input"
)

const (
	// FileName 是配置文件名（固定在 cwd 下）。
	FileName = "recallasin.json"

	// DefaultProvider 是 provider 的最终默认值（当 CLI 与配置文件都未指定时）。
	DefaultProvider = "upctoasin"
	// DefaultInterval 是两次出站查询之间的最小间隔。
	DefaultInterval = time.Second
	// DefaultBatchSize 是评论导入每次提交的条数。
	DefaultBatchSize = 100
	// DefaultDriver 是未指定 database.driver 时的驱动。
	DefaultDriver = "sqlite"
	// DefaultLogLevel 是未指定 log_level 时的控制台日志级别。
	DefaultLogLevel = "normal"
)

// Providers 是可选的 provider 名称。
var Providers = []string{"upctoasin", "amazon"}

// CLIArgs 保留“是否显式指定”的信息，保证 --apply=false 能覆盖配置中的 apply=true。
type CLIArgs struct {
	Input  string
	Output string

	Provider    string
	ProviderSet bool

	Apply    bool
	ApplySet bool
}

// FileConfig 对应 recallasin.json 的解析结构。
type FileConfig struct {
	Input            string          `json:"input"`
	Output           string          `json:"output"`
	Provider         string          `json:"provider"`
	Apply            *bool           `json:"apply"`
	IntervalMS       int             `json:"interval_ms"`
	AllowFast        bool            `json:"allow_fast"`
	Proxy            *ProxyConfig    `json:"proxy"`
	UPCToASINBaseURL string          `json:"upctoasin_base_url"`
	AmazonBaseURL    string          `json:"amazon_base_url"`
	CacheDir         *string         `json:"cache_dir"`
	Database         *DatabaseConfig `json:"database"`
	BatchSize        int             `json:"batch_size"`
	LogLevel         string          `json:"log_level"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Input  string
	Output string

	Provider string
	Apply    bool

	Interval time.Duration
	ProxyURL string

	UPCToASINBaseURL string
	AmazonBaseURL    string

	// CacheDir 为空表示禁用查询缓存。
	CacheDir string

	// DBDriver/DBDSN 为空表示不落库（resolve 阶段跳过 product 写入）。
	DBDriver string
	DBDSN    string

	BatchSize int
	LogLevel  string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingInput:
		return fmt.Sprintf("%s：未指定输入 CSV，且配置文件 %q 缺少 input 字段", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取 <cwd>/recallasin.json 并与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) CLI 提供 input：配置文件可选
// 2) CLI 未提供 input：配置文件必选，且其中必须包含 input
//
// 覆盖优先级：
// - input/output/provider/apply：CLI > config > 默认
// - 其他字段：仅由 config 控制
// 相对路径一律以 cwd 为基准。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	input := strings.TrimSpace(cli.Input)
	if input == "" {
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		input = strings.TrimSpace(fc.Input)
		if input == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeMissingInput, Path: cfgPath}
		}
	}

	return merge(cwdAbs, absCleanFrom(cwdAbs, input), cli, fc, cfgPath)
}

// LoadOptional 只读取配置文件（不要求 input），供不需要输入 CSV 的子命令使用。
func LoadOptional(cwd string) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}
	cfgPath := filepath.Join(cwdAbs, FileName)
	fc, _, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	input := ""
	if strings.TrimSpace(fc.Input) != "" {
		input = absCleanFrom(cwdAbs, fc.Input)
	}
	return merge(cwdAbs, input, CLIArgs{}, fc, cfgPath)
}

func merge(cwdAbs, input string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) error { return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err} }

	// output：CLI > config > <input 去扩展名>_asins.csv
	output := strings.TrimSpace(cli.Output)
	if output == "" {
		output = strings.TrimSpace(fc.Output)
	}
	if output != "" {
		output = absCleanFrom(cwdAbs, output)
	} else if input != "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + "_asins.csv"
	}
	if input != "" && output == input {
		return EffectiveConfig{}, invalid(fmt.Errorf("output 不能与 input 相同：%q", input))
	}

	provider := DefaultProvider
	if cli.ProviderSet {
		provider = cli.Provider
	} else if strings.TrimSpace(fc.Provider) != "" {
		provider = fc.Provider
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if err := ValidateProvider(provider); err != nil {
		return EffectiveConfig{}, invalid(err)
	}

	apply := false
	if cli.ApplySet {
		apply = cli.Apply
	} else if fc.Apply != nil {
		apply = *fc.Apply
	}

	interval := DefaultInterval
	if fc.IntervalMS != 0 {
		interval = time.Duration(fc.IntervalMS) * time.Millisecond
	}
	// 查询服务要求每秒最多一次；更快需要显式 allow_fast（例如对接自建镜像）。
	if interval < DefaultInterval && !fc.AllowFast {
		interval = DefaultInterval
	}
	if interval < 0 {
		interval = 0
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return EffectiveConfig{}, invalid(fmt.Errorf("proxy.url 无效：%w", err))
		}
	}

	upcBase, err := validBaseURL("upctoasin_base_url", fc.UPCToASINBaseURL)
	if err != nil {
		return EffectiveConfig{}, invalid(err)
	}
	amazonBase, err := validBaseURL("amazon_base_url", fc.AmazonBaseURL)
	if err != nil {
		return EffectiveConfig{}, invalid(err)
	}

	// cache_dir：未指定时放在输入文件旁的 cache/；显式给空串表示禁用。
	cacheDir := ""
	if fc.CacheDir != nil {
		if v := strings.TrimSpace(*fc.CacheDir); v != "" {
			cacheDir = absCleanFrom(cwdAbs, v)
		}
	} else if input != "" {
		cacheDir = filepath.Join(filepath.Dir(input), "cache")
	}

	var driver, dsn string
	if fc.Database != nil {
		driver = strings.ToLower(strings.TrimSpace(fc.Database.Driver))
		dsn = strings.TrimSpace(fc.Database.DSN)
		if driver == "" {
			driver = DefaultDriver
		}
		switch driver {
		case "sqlite", "postgres":
		default:
			return EffectiveConfig{}, invalid(fmt.Errorf("database.driver 只能是 sqlite 或 postgres，实际是 %q", driver))
		}
		if dsn == "" {
			return EffectiveConfig{}, invalid(fmt.Errorf("database.dsn 不能为空"))
		}
		if driver == "sqlite" && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			dsn = absCleanFrom(cwdAbs, dsn)
		}
	}

	batch := fc.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	level := strings.ToLower(strings.TrimSpace(fc.LogLevel))
	if level == "" {
		level = DefaultLogLevel
	}
	switch level {
	case "none", "normal", "debug":
	default:
		return EffectiveConfig{}, invalid(fmt.Errorf("log_level 只能是 none/normal/debug，实际是 %q", level))
	}

	return EffectiveConfig{
		Input:            input,
		Output:           output,
		Provider:         provider,
		Apply:            apply,
		Interval:         interval,
		ProxyURL:         proxyURL,
		UPCToASINBaseURL: upcBase,
		AmazonBaseURL:    amazonBase,
		CacheDir:         cacheDir,
		DBDriver:         driver,
		DBDSN:            dsn,
		BatchSize:        batch,
		LogLevel:         level,
	}, nil
}

// ValidateProvider 校验 provider 名称（已小写）。
func ValidateProvider(p string) error {
	if p == "" {
		return fmt.Errorf("provider 不能为空")
	}
	for _, name := range Providers {
		if p == name {
			return nil
		}
	}
	return fmt.Errorf("provider 只能是 %s，实际是 %q", strings.Join(Providers, " 或 "), p)
}

func validBaseURL(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s 无效：%q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%s 必须是 http/https：%q", field, raw)
	}
	return raw, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
