// Package store 把商品（asin, upc）、评论者与评论写入关系数据库。
//
// 支持两种驱动：sqlite（modernc.org/sqlite，纯 Go，默认）与 postgres（github.com/lib/pq）。
// SQL 一律用 '?' 占位符书写，postgres 下改写为 $n；所有值都以参数绑定。
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/John-Robertt/recallasin/internal/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store 包装 *sql.DB，并记住驱动以决定占位符与建表语句。
type Store struct {
	db     *sql.DB
	driver string
	log    *zap.Logger
}

// Open 打开并探活数据库。
func Open(ctx context.Context, driver, dsn string, log *zap.Logger) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("store: 不支持的驱动 %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: 打开 %s 失败：%w", driver, err)
	}
	if driver == DriverSQLite {
		// 单连接：:memory: 库在连接间不共享，且避免 SQLITE_BUSY。
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("store: 连接 %s 失败：%w", driver, err), db.Close())
	}
	return New(db, driver, log), nil
}

// New 用现成的 *sql.DB 构造 Store（测试中配合 sqlmock 使用）。
func New(db *sql.DB, driver string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, driver: driver, log: log.Named("store")}
}

func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error { return s.db.Close() }

// Migrate 建表（幂等）。
func (s *Store) Migrate(ctx context.Context) error {
	stmts := schemaSQLite
	if s.driver == DriverPostgres {
		stmts = schemaPostgres
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("store: 建表失败：%w", err)
		}
	}
	s.log.Debug("schema ready", zap.String("driver", s.driver))
	return nil
}

// UpsertProduct 记录一条 (asin, upc)；已存在时不做任何事。返回是否新插入。
func (s *Store) UpsertProduct(ctx context.Context, asin domain.ASIN, upc string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(insertProduct), string(asin), upc)
	if err != nil {
		return false, fmt.Errorf("store: 写入 product(%s, %s) 失败：%w", asin, upc, err)
	}
	return affected(res)
}

// ReviewerIDs 返回库中已有的 amazon_reviewer_id 集合。
func (s *Store) ReviewerIDs(ctx context.Context) (ids map[string]struct{}, err error) {
	rows, err := s.db.QueryContext(ctx, selectReviewerIDs)
	if err != nil {
		return nil, fmt.Errorf("store: 查询 reviewer 失败：%w", err)
	}
	defer func() { err = multierr.Append(err, rows.Close()) }()

	ids = make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ReviewKeys 返回库中已有评论的 (amazon_reviewer_id, unix_review_time) 集合。
func (s *Store) ReviewKeys(ctx context.Context) (keys map[domain.ReviewKey]struct{}, err error) {
	rows, err := s.db.QueryContext(ctx, selectReviewKeys)
	if err != nil {
		return nil, fmt.Errorf("store: 查询 review 失败：%w", err)
	}
	defer func() { err = multierr.Append(err, rows.Close()) }()

	keys = make(map[domain.ReviewKey]struct{})
	for rows.Next() {
		var k domain.ReviewKey
		if err := rows.Scan(&k.ReviewerID, &k.UnixTime); err != nil {
			return nil, err
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

// Tx 是一个批次的事务。
type Tx struct {
	tx *sql.Tx
	s  *Store
}

func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: 开启事务失败：%w", err)
	}
	return &Tx{tx: tx, s: s}, nil
}

// InsertReviewer 插入评论者；已存在时忽略。
func (t *Tx) InsertReviewer(ctx context.Context, reviewerID, name string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.s.rebind(insertReviewer), reviewerID, name)
	if err != nil {
		return false, fmt.Errorf("store: 写入 reviewer %q 失败：%w", reviewerID, err)
	}
	return affected(res)
}

// InsertReview 插入评论；reviewer_id 与 product_id 通过子查询解析（商品未知时 product_id 为 NULL）。
func (t *Tx) InsertReview(ctx context.Context, r domain.Review) (bool, error) {
	at := r.ReviewTime
	if at.IsZero() {
		at = time.Unix(r.UnixTime, 0)
	}
	res, err := t.tx.ExecContext(ctx, t.s.rebind(insertReview),
		r.ReviewerID, r.ASIN, r.Text, r.Summary, r.Overall, r.UnixTime, at.UTC())
	if err != nil {
		return false, fmt.Errorf("store: 写入 review (%s, %d) 失败：%w", r.ReviewerID, r.UnixTime, err)
	}
	return affected(res)
}

func (t *Tx) Commit() error { return t.tx.Commit() }

func (t *Tx) Rollback() error { return t.tx.Rollback() }

// rebind 把 '?' 改写为 postgres 的 $1..$n。
func (s *Store) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
