package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/recallasin/internal/app/run"
	"github.com/John-Robertt/recallasin/internal/config"
	"github.com/John-Robertt/recallasin/internal/domain"
)

var _ run.Observer = (*progressLog)(nil)

// progressLog 把 run 的事件写成日志行（stderr），不污染 stdout 的 JSON 输出契约。
type progressLog struct {
	log *zap.Logger
}

func newProgressLog(log *zap.Logger) *progressLog {
	return &progressLog{log: log}
}

func (p *progressLog) OnStart(eff config.EffectiveConfig) {
	mode := "dry-run"
	if eff.Apply {
		mode = "apply"
	}
	fields := []zap.Field{
		zap.String("mode", mode),
		zap.String("input", eff.Input),
		zap.String("provider", providerChain(eff.Provider)),
		zap.Duration("interval", eff.Interval),
		zap.String("proxy", formatProxy(eff.ProxyURL)),
		zap.String("cache", onOffPath(eff.CacheDir)),
	}
	if eff.Apply {
		fields = append(fields, zap.String("output", eff.Output))
	}
	if eff.DBDriver != "" {
		fields = append(fields, zap.String("database", eff.DBDriver))
	}
	p.log.Info("recallasin resolve", fields...)
}

func (p *progressLog) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	zf := make([]zap.Field, 0, len(fields)+1)
	for _, k := range phaseKeys[name] {
		if v, ok := fields[k]; ok {
			zf = append(zf, zap.Any(k, v))
		}
	}
	zf = append(zf, zap.String("took", formatShortDuration(dur)))
	p.log.Info(name, zf...)
}

// phaseKeys 固定字段顺序，避免 map 遍历导致每次输出不同。
var phaseKeys = map[string][]string{
	"read":   {"rows", "upcs", "upc10"},
	"lookup": {"resolved", "not_found", "unresolvable", "failed"},
	"write":  {"output", "rows"},
}

func (p *progressLog) OnItemDone(idx, total int, res domain.UPCResult, dur time.Duration) {
	prefix := fmt.Sprintf("[%d/%d] %s", idx, total, res.Raw)
	switch res.Status {
	case domain.StatusFailed:
		p.log.Warn(prefix+" FAIL",
			zap.String("error_code", res.ErrorCode),
			zap.String("error", truncate(res.ErrorMsg, 160)),
			zap.Int("tried", len(res.Tried)),
			zap.String("took", formatShortDuration(dur)))
	case domain.StatusUnresolvable:
		p.log.Info(prefix+" SKIP", zap.String("asin", res.ASIN))
	default:
		status := "OK"
		if res.Status == domain.StatusNotFound {
			status = "NOTFOUND"
		}
		fields := []zap.Field{
			zap.String("asin", res.ASIN),
			zap.Int("tried", len(res.Tried)),
			zap.String("took", formatShortDuration(dur)),
		}
		if res.UPC != "" && res.UPC != res.Digits {
			fields = append(fields, zap.String("upc", res.UPC))
		}
		if res.ProviderUsed != "" {
			fields = append(fields, zap.String("provider", res.ProviderUsed))
		}
		p.log.Info(prefix+" "+status, fields...)
	}
}

func providerChain(requested string) string {
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case "amazon":
		return "amazon -> upctoasin"
	default:
		return "upctoasin -> amazon"
	}
}

func onOffPath(p string) string {
	if strings.TrimSpace(p) == "" {
		return "off"
	}
	return p
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
