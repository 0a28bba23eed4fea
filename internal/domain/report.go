package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusResolved     = "resolved"
	StatusNotFound     = "not_found"
	StatusUnresolvable = "unresolvable"
	StatusFailed       = "failed"
)

const (
	ErrCodeUPCLength          = "upc_length"
	ErrCodeFetchFailed        = "fetch_failed"
	ErrCodeParseFailed        = "parse_failed"
	ErrCodeIOFailed           = "io_failed"
	ErrCodeDBFailed           = "db_failed"
	ErrCodeTargetConflict     = "target_conflict"
	ErrCodeConfigNotFound     = "config_not_found"
	ErrCodeConfigInvalid      = "config_invalid"
	ErrCodeConfigMissingInput = "config_missing_input"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []UPCResult   `json:"items"`
}

type ReportSummary struct {
	Resolved     int `json:"resolved"`
	NotFound     int `json:"not_found"`
	Unresolvable int `json:"unresolvable"`
	Failed       int `json:"failed"`
}

// UPCResult 是一个原始 UPC 的解析结果。
//
// ASIN 字段总是有值：成功时为 ASIN；否则为 "UPCNOTFOUND" 或 "UPClength-N"；
// 失败（网络/解析）时为空，并由 ErrorCode/ErrorMsg 说明。
type UPCResult struct {
	Row    int    `json:"row"`
	Raw    string `json:"raw"`
	Digits string `json:"digits"`

	Candidates []string `json:"candidates"`
	Tried      []string `json:"tried"`

	UPC          string `json:"upc"`
	ProviderUsed string `json:"provider_used"`
	ASIN         string `json:"asin"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) items 稳定排序：按行号，再按原始 UPC；row<=0 的合成条目排在最后
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a, b := r.Items[i], r.Items[j]
		if (a.Row <= 0) != (b.Row <= 0) {
			return b.Row <= 0
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Raw < b.Raw
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusResolved:
			s.Resolved++
		case StatusNotFound:
			s.NotFound++
		case StatusUnresolvable:
			s.Unresolvable++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
