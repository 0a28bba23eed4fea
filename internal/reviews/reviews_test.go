package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/John-Robertt/recallasin/internal/domain"
	"github.com/John-Robertt/recallasin/internal/store"
)

const sampleCSV = `reviewerID,asin,reviewerName,reviewText,summary,overall,unixReviewTime,reviewTime
A1, B001BCH7KM ,Jane,"Lamp works, mostly",Fine,4.0,1385596800,"11 28, 2013"
A2,B004KT7UQY,,Broke,Bad,1,1385683200,not-a-date
`

func TestRead(t *testing.T) {
	rs, err := Read(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("期望 2 条，实际 %d", len(rs))
	}
	r := rs[0]
	if r.ASIN != "B001BCH7KM" || r.Overall != 4 || r.UnixTime != 1385596800 || r.Text != "Lamp works, mostly" {
		t.Fatalf("第 1 条不符合预期：%+v", r)
	}
	if want := time.Date(2013, 11, 28, 0, 0, 0, 0, time.UTC); !r.ReviewTime.Equal(want) {
		t.Fatalf("reviewTime 期望 %v，实际 %v", want, r.ReviewTime)
	}
	// reviewTime 无法解析时回退到 unixReviewTime。
	if !rs[1].ReviewTime.Equal(time.Unix(1385683200, 0)) {
		t.Fatalf("reviewTime 回退不符合预期：%v", rs[1].ReviewTime)
	}
	if rs[1].ReviewerName != "" {
		t.Fatalf("空 reviewerName 应保持为空：%q", rs[1].ReviewerName)
	}
}

func TestRead_MissingColumn(t *testing.T) {
	if _, err := Read(strings.NewReader("reviewerID,asin,overall\nA1,B,5\n")); err == nil {
		t.Fatalf("缺少 unixReviewTime 列时期望错误")
	}
}

func TestRead_BadNumber(t *testing.T) {
	in := "reviewerID,asin,overall,unixReviewTime\nA1,B,five,1\n"
	if _, err := Read(strings.NewReader(in)); err == nil {
		t.Fatalf("overall 非数字时期望错误")
	}
}

func openSQLite(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("打开 sqlite 失败：%v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("建表失败：%v", err)
	}
	return st
}

func review(reviewer string, unix int64) domain.Review {
	return domain.Review{
		ReviewerID: reviewer,
		ASIN:       "B001BCH7KM",
		Overall:    5,
		UnixTime:   unix,
		ReviewTime: time.Unix(unix, 0).UTC(),
	}
}

func TestLoad_BatchesAndDedup(t *testing.T) {
	st := openSQLite(t)
	rs := []domain.Review{
		review("A1", 100),
		review("A1", 200),
		review("A2", 100),
		review("A1", 100), // 本次更早出现过
		review("A3", 300),
	}

	rep, err := Load(context.Background(), st, rs, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := domain.LoadReport{Read: 5, ReviewersAdded: 3, ReviewsAdded: 4, Duplicates: 1, Batches: 3}
	if rep != want {
		t.Fatalf("报告不符合预期：\n期望 %+v\n实际 %+v", want, rep)
	}

	// 重跑：库里已有的全部跳过。
	rep, err = Load(context.Background(), st, rs, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rep.ReviewersAdded != 0 || rep.ReviewsAdded != 0 || rep.Duplicates != 5 {
		t.Fatalf("重跑不应写入任何数据：%+v", rep)
	}
}

func TestLoad_Skip(t *testing.T) {
	st := openSQLite(t)
	rs := []domain.Review{review("A1", 1), review("A2", 2), review("A3", 3)}

	rep, err := Load(context.Background(), st, rs, Options{Skip: 2})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rep.Skipped != 2 || rep.ReviewsAdded != 1 || rep.Batches != 1 {
		t.Fatalf("报告不符合预期：%+v", rep)
	}

	rep, err = Load(context.Background(), st, rs, Options{Skip: 10})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rep.Skipped != 3 || rep.Batches != 0 {
		t.Fatalf("skip 超出行数时应不做任何事：%+v", rep)
	}
}

func TestLoad_DefaultBatchSize(t *testing.T) {
	st := openSQLite(t)
	rs := make([]domain.Review, 0, 250)
	for i := 0; i < 250; i++ {
		rs = append(rs, review(fmt.Sprintf("A%d", i%7), int64(i)))
	}
	rep, err := Load(context.Background(), st, rs, Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rep.Batches != 3 || rep.ReviewsAdded != 250 || rep.ReviewersAdded != 7 {
		t.Fatalf("报告不符合预期：%+v", rep)
	}
}

func TestLoad_FailedBatchRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("创建 sqlmock 失败：%v", err)
	}
	defer db.Close()
	st := store.New(db, store.DriverPostgres, nil)

	mock.ExpectQuery("SELECT amazon_reviewer_id FROM reviewer").
		WillReturnRows(sqlmock.NewRows([]string{"amazon_reviewer_id"}))
	mock.ExpectQuery("SELECT reviewer.amazon_reviewer_id").
		WillReturnRows(sqlmock.NewRows([]string{"amazon_reviewer_id", "unix_review_time"}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reviewer").WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	rep, err := Load(context.Background(), st, []domain.Review{review("A1", 1)}, Options{})
	if err == nil {
		t.Fatalf("期望错误")
	}
	if rep.Batches != 0 || rep.ReviewsAdded != 0 {
		t.Fatalf("失败批次不应计入：%+v", rep)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("期望回滚：%v", err)
	}
}
