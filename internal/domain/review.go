package domain

import "time"

// Review 是 Amazon 评论数据集中的一行。
type Review struct {
	ReviewerID   string
	ReviewerName string
	ASIN         string
	Text         string
	Summary      string
	Overall      int
	UnixTime     int64
	// ReviewTime 为空表示原始 reviewTime 无法解析（落库时回退到 UnixTime）。
	ReviewTime time.Time
}

// ReviewKey 唯一确定一条评论：同一评论者在同一时刻只会有一条评论。
type ReviewKey struct {
	ReviewerID string
	UnixTime   int64
}

func (r Review) Key() ReviewKey { return ReviewKey{ReviewerID: r.ReviewerID, UnixTime: r.UnixTime} }

// LoadReport 汇总一次评论导入。
type LoadReport struct {
	Read           int `json:"read"`
	Skipped        int `json:"skipped_offset"`
	ReviewersAdded int `json:"reviewers_added"`
	ReviewsAdded   int `json:"reviews_added"`
	Duplicates     int `json:"duplicates"`
	Batches        int `json:"batches"`
}
