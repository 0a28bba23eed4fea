package run

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/John-Robertt/recallasin/internal/config"
	"github.com/John-Robertt/recallasin/internal/domain"
	"github.com/John-Robertt/recallasin/internal/infra/cache"
	"github.com/John-Robertt/recallasin/internal/infra/fsx"
	"github.com/John-Robertt/recallasin/internal/infra/httpx"
	"github.com/John-Robertt/recallasin/internal/lookup"
	"github.com/John-Robertt/recallasin/internal/provider"
	"github.com/John-Robertt/recallasin/internal/recall"
	"github.com/John-Robertt/recallasin/internal/reviews"
	"github.com/John-Robertt/recallasin/internal/store"
	"github.com/John-Robertt/recallasin/internal/upc"
)

// Execute 执行一次 resolve（dry-run/apply），并返回对外稳定的 RunReport。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg provider.Registry) domain.RunReport {
	return ExecuteResolve(ctx, eff, reg, nil, nil)
}

// ExecuteResolve 逐行解析召回 CSV 中的 UPC 并查询 ASIN。
//
// 约束：
//   - 查询严格串行，出站间隔由 httpx 的限速器保证
//   - 单个 UPC 的失败只影响该条目
//   - dry-run 照常查询，但不写输出 CSV、不写缓存、不落库
//   - apply 时输出 CSV 原子替换写入
func ExecuteResolve(ctx context.Context, eff config.EffectiveConfig, reg provider.Registry, obs Observer, log *zap.Logger) domain.RunReport {
	if log == nil {
		log = zap.NewNop()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	obs.OnStart(eff)

	rr := domain.RunReport{
		Input:     eff.Input,
		Output:    eff.Output,
		DryRun:    !eff.Apply,
		StartedAt: time.Now().UTC(),
		Items:     make([]domain.UPCResult, 0, 128),
	}
	fail := func(code, msg string) domain.RunReport {
		rr.Items = append(rr.Items, syntheticFailed(code, msg))
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	client, err := httpx.NewLookupClient(eff.ProxyURL, eff.Interval)
	if err != nil {
		return fail(domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err))
	}

	readStarted := time.Now()
	table, err := readTable(eff.Input)
	if err != nil {
		return fail(domain.ErrCodeIOFailed, fmt.Sprintf("读取输入失败：%v", err))
	}
	total, short := 0, 0
	for _, ev := range table.Events {
		total += len(ev.UPCs)
		short += len(upc.Unique10(sanitizeAll(ev.UPCs)))
	}
	// upc10 是需要猜首位的 10 位输入数，最容易出现误匹配。
	obs.OnPhaseDone("read", map[string]any{
		"rows":  len(table.Events),
		"upcs":  total,
		"upc10": short,
	}, time.Since(readStarted))

	var st *store.Store
	if eff.Apply && eff.DBDriver != "" {
		st, err = openStore(ctx, eff, log)
		if err != nil {
			return fail(domain.ErrCodeDBFailed, err.Error())
		}
		defer func() {
			if cerr := st.Close(); cerr != nil {
				log.Warn("关闭数据库失败", zap.Error(cerr))
			}
		}()
	}

	s := &lookup.Searcher{
		Registry: reg,
		Provider: eff.Provider,
		Client:   client,
		Cache:    cache.New(eff.CacheDir, !eff.Apply),
		Log:      log.Named("lookup"),
	}

	lookupStarted := time.Now()
	asins := make([][]string, len(table.Events))
	memo := make(map[string]domain.UPCResult)
	done := 0
	canceled := false
	for i, ev := range table.Events {
		asins[i] = make([]string, 0, len(ev.UPCs))
		for _, raw := range ev.UPCs {
			if ctx.Err() != nil {
				canceled = true
				break
			}
			oneStarted := time.Now()
			res := resolveMemo(ctx, s, memo, ev, raw)
			if st != nil && res.Status == domain.StatusResolved {
				if _, err := st.UpsertProduct(ctx, domain.ASIN(res.ASIN), res.UPC); err != nil {
					res.Status = domain.StatusFailed
					res.ErrorCode = domain.ErrCodeDBFailed
					res.ErrorMsg = err.Error()
				}
			}
			asins[i] = append(asins[i], res.ASIN)
			rr.Items = append(rr.Items, res)

			done++
			obs.OnItemDone(done, total, res, time.Since(oneStarted))
		}
		if canceled {
			break
		}
	}
	var sum domain.ReportSummary
	for _, it := range rr.Items {
		switch it.Status {
		case domain.StatusResolved:
			sum.Resolved++
		case domain.StatusNotFound:
			sum.NotFound++
		case domain.StatusUnresolvable:
			sum.Unresolvable++
		case domain.StatusFailed:
			sum.Failed++
		}
	}
	obs.OnPhaseDone("lookup", map[string]any{
		"resolved":     sum.Resolved,
		"not_found":    sum.NotFound,
		"unresolvable": sum.Unresolvable,
		"failed":       sum.Failed,
	}, time.Since(lookupStarted))

	if canceled {
		return fail(domain.ErrCodeFetchFailed, fmt.Sprintf("已取消（完成 %d/%d）：%v", done, total, ctx.Err()))
	}

	if eff.Apply {
		writeStarted := time.Now()
		if err := writeJoined(eff.Output, table, asins); err != nil {
			code := domain.ErrCodeIOFailed
			if fsx.IsPathTypeConflict(err) {
				code = domain.ErrCodeTargetConflict
			}
			return fail(code, fmt.Sprintf("写出结果失败：%v", err))
		}
		obs.OnPhaseDone("write", map[string]any{
			"output": eff.Output,
			"rows":   len(table.Events),
		}, time.Since(writeStarted))
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

// resolveMemo 对同一 (数字, 同事件已知 UPC) 只查询一次；失败结果不复用。
func resolveMemo(ctx context.Context, s *lookup.Searcher, memo map[string]domain.UPCResult, ev recall.Event, raw string) domain.UPCResult {
	key := lookupKey(raw, ev.Known)
	if prev, ok := memo[key]; ok {
		prev.Row = ev.Row
		prev.Raw = raw
		return prev
	}
	res := s.Resolve(ctx, ev.Row, raw, ev.Known)
	if res.Status != domain.StatusFailed {
		memo[key] = res
	}
	return res
}

func lookupKey(raw string, known []string) string {
	digits := upc.Sanitize(raw)
	// 只有 10/11 位输入会用到 known。
	if len(digits) == 10 || len(digits) == 11 {
		return digits + "|" + strings.Join(known, ";")
	}
	return digits
}

func readTable(path string) (recall.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return recall.Table{}, err
	}
	defer f.Close()
	return recall.ReadEvents(f)
}

func sanitizeAll(raws []string) []string {
	out := make([]string, 0, len(raws))
	for _, r := range raws {
		out = append(out, upc.Sanitize(r))
	}
	return out
}

func writeJoined(path string, t recall.Table, asins [][]string) error {
	var buf bytes.Buffer
	if err := recall.WriteJoined(&buf, t, asins); err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), buf.Bytes())
}

func openStore(ctx context.Context, eff config.EffectiveConfig, log *zap.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, eff.DBDriver, eff.DBDSN, log)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, multierr.Append(err, st.Close())
	}
	return st, nil
}

func syntheticFailed(code, msg string) domain.UPCResult {
	return domain.UPCResult{
		Row:        0,
		Candidates: []string{},
		Tried:      []string{},
		Status:     domain.StatusFailed,
		ErrorCode:  code,
		ErrorMsg:   msg,
	}
}

// ExecuteLoadReviews 把评论 CSV 导入 eff 配置的数据库。
func ExecuteLoadReviews(ctx context.Context, eff config.EffectiveConfig, path string, skip int, log *zap.Logger) (rep domain.LoadReport, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	if eff.DBDriver == "" {
		return rep, &config.Error{Code: config.ErrCodeInvalid, Path: config.FileName, Err: fmt.Errorf("未配置 database")}
	}

	f, err := os.Open(path)
	if err != nil {
		return rep, err
	}
	rs, err := reviews.Read(f)
	err = multierr.Append(err, f.Close())
	if err != nil {
		return rep, err
	}
	log.Info("读取评论", zap.String("path", path), zap.Int("rows", len(rs)))

	st, err := openStore(ctx, eff, log)
	if err != nil {
		return rep, err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	return reviews.Load(ctx, st, rs, reviews.Options{
		Skip:      skip,
		BatchSize: eff.BatchSize,
		Log:       log.Named("reviews"),
	})
}
