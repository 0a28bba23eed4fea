// Package reviews 读取 Amazon 评论 CSV 并分批写入 store。
package reviews

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/John-Robertt/recallasin/internal/domain"
	"github.com/John-Robertt/recallasin/internal/store"
)

// DefaultBatchSize 是每个事务处理的评论条数。
const DefaultBatchSize = 100

// ReviewTimeLayout 是数据集 reviewTime 列的格式，例如 "11 28, 2013"。
const ReviewTimeLayout = "01 2, 2006"

var requiredColumns = []string{"reviewerID", "asin", "overall", "unixReviewTime"}

// Read 读取带表头的评论 CSV。列按名字定位，顺序无关。
func Read(r io.Reader) ([]domain.Review, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reviews: 空文件")
		}
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := col[c]; !ok {
			return nil, fmt.Errorf("reviews: 缺少 %s 列", c)
		}
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var out []domain.Review
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reviews: 第 %d 行：%w", line, err)
		}

		overall, err := parseNumber(get(rec, "overall"))
		if err != nil {
			return nil, fmt.Errorf("reviews: 第 %d 行 overall 无效：%w", line, err)
		}
		unix, err := parseNumber(get(rec, "unixReviewTime"))
		if err != nil {
			return nil, fmt.Errorf("reviews: 第 %d 行 unixReviewTime 无效：%w", line, err)
		}

		rv := domain.Review{
			ReviewerID:   strings.TrimSpace(get(rec, "reviewerID")),
			ReviewerName: get(rec, "reviewerName"),
			ASIN:         strings.TrimSpace(get(rec, "asin")),
			Text:         get(rec, "reviewText"),
			Summary:      get(rec, "summary"),
			Overall:      int(overall),
			UnixTime:     unix,
		}
		if rv.ReviewerID == "" {
			return nil, fmt.Errorf("reviews: 第 %d 行缺少 reviewerID", line)
		}
		if t, err := time.Parse(ReviewTimeLayout, strings.TrimSpace(get(rec, "reviewTime"))); err == nil {
			rv.ReviewTime = t
		} else {
			rv.ReviewTime = time.Unix(unix, 0).UTC()
		}
		out = append(out, rv)
	}
}

// parseNumber 接受整数或浮点写法（导出工具常把整数列写成 "5.0"）。
func parseNumber(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("非有限数值：%q", s)
	}
	return int64(f), nil
}

// Options 控制一次导入。
type Options struct {
	// Skip 跳过开头的若干行（用于从中断处续跑）。
	Skip int
	// BatchSize<=0 时使用 DefaultBatchSize。
	BatchSize int

	Log *zap.Logger
}

// Load 把评论写入 st：
//   - 新评论者只插入一次
//   - (reviewerID, unixReviewTime) 已存在的评论跳过（库中已有或本次更早出现）
//   - 每 BatchSize 条提交一次，失败的批次整体回滚
func Load(ctx context.Context, st *store.Store, rs []domain.Review, opts Options) (domain.LoadReport, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	rep := domain.LoadReport{Read: len(rs)}
	skip := opts.Skip
	if skip < 0 {
		skip = 0
	}
	if skip > len(rs) {
		skip = len(rs)
	}
	rep.Skipped = skip
	rs = rs[skip:]

	reviewers, err := st.ReviewerIDs(ctx)
	if err != nil {
		return rep, err
	}
	keys, err := st.ReviewKeys(ctx)
	if err != nil {
		return rep, err
	}
	log.Debug("已有数据", zap.Int("reviewers", len(reviewers)), zap.Int("reviews", len(keys)))

	l := loader{st: st, reviewers: reviewers, keys: keys}
	for start := 0; start < len(rs); start += batch {
		end := start + batch
		if end > len(rs) {
			end = len(rs)
		}
		delta, err := l.loadBatch(ctx, rs[start:end])
		if err != nil {
			return rep, fmt.Errorf("reviews: 第 %d 批（行 %d..%d）失败：%w", rep.Batches+1, skip+start+1, skip+end, err)
		}
		rep.ReviewersAdded += delta.ReviewersAdded
		rep.ReviewsAdded += delta.ReviewsAdded
		rep.Duplicates += delta.Duplicates
		rep.Batches++
		log.Info("committed",
			zap.Int("batch", rep.Batches),
			zap.Int("reviews_added", delta.ReviewsAdded),
			zap.Int("duplicates", delta.Duplicates))
	}
	return rep, nil
}

type loader struct {
	st        *store.Store
	reviewers map[string]struct{}
	keys      map[domain.ReviewKey]struct{}
}

// loadBatch 在一个事务里写入一批；只有提交成功后才把新键并入已知集合。
func (l *loader) loadBatch(ctx context.Context, batch []domain.Review) (delta domain.LoadReport, err error) {
	tx, err := l.st.Begin(ctx)
	if err != nil {
		return delta, err
	}
	defer func() {
		if err == nil {
			return
		}
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = multierr.Append(err, rerr)
		}
	}()

	newReviewers := make(map[string]struct{})
	newKeys := make(map[domain.ReviewKey]struct{})
	for _, r := range batch {
		if err := ctx.Err(); err != nil {
			return delta, err
		}

		if !l.hasReviewer(r.ReviewerID, newReviewers) {
			ins, err := tx.InsertReviewer(ctx, r.ReviewerID, r.ReviewerName)
			if err != nil {
				return delta, err
			}
			if ins {
				delta.ReviewersAdded++
			}
			newReviewers[r.ReviewerID] = struct{}{}
		}

		k := r.Key()
		if l.hasKey(k, newKeys) {
			delta.Duplicates++
			continue
		}
		ins, err := tx.InsertReview(ctx, r)
		if err != nil {
			return delta, err
		}
		if ins {
			delta.ReviewsAdded++
		} else {
			delta.Duplicates++
		}
		newKeys[k] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return delta, err
	}
	for id := range newReviewers {
		l.reviewers[id] = struct{}{}
	}
	for k := range newKeys {
		l.keys[k] = struct{}{}
	}
	return delta, nil
}

func (l *loader) hasReviewer(id string, pending map[string]struct{}) bool {
	if _, ok := l.reviewers[id]; ok {
		return true
	}
	_, ok := pending[id]
	return ok
}

func (l *loader) hasKey(k domain.ReviewKey, pending map[domain.ReviewKey]struct{}) bool {
	if _, ok := l.keys[k]; ok {
		return true
	}
	_, ok := pending[k]
	return ok
}
