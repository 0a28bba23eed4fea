// Package recall 读写召回事件 CSV：每行一个召回事件，upc 列是以 ';' 连接的原始 UPC。
package recall

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/John-Robertt/recallasin/internal/upc"
)

const (
	ColumnUPC   = "upc"
	ColumnKnown = "event_upc12"
	ColumnASINs = "asins"
	listSep     = ";"
)

var (
	// ErrMissingUPCColumn 表示表头里没有 upc 列。
	ErrMissingUPCColumn = errors.New("recall: 缺少 upc 列")
	// ErrTooManyFields 表示数据行字段数超过表头；这种行无法无损写回。
	ErrTooManyFields = errors.New("recall: 字段数超过表头")
)

// Event 是一个召回事件（CSV 的一行）。
type Event struct {
	// Row 是数据行号（从 1 开始，不含表头）。
	Row    int
	Fields []string

	// UPCs 是去重后的原始 UPC（保持出现顺序，未清洗）。
	UPCs []string
	// Known 是同一事件下已经是合法 12 位的 UPC，用于 10/11 位输入的消歧。
	Known []string
}

// Table 保留原始表头与所有字段，写回时只追加 asins 列。
type Table struct {
	Header []string
	Events []Event

	asinsCol int // 输入里已有 asins 列时覆盖它；否则为 -1
}

// ReadEvents 读取带表头的召回 CSV。
// 字段少于表头的行按空值补齐；多于表头的行返回 ErrTooManyFields。
func ReadEvents(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, ErrMissingUPCColumn
		}
		return Table{}, err
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	upcCol, knownCol, asinsCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case ColumnUPC:
			upcCol = i
		case ColumnKnown:
			knownCol = i
		case ColumnASINs:
			asinsCol = i
		}
	}
	if upcCol < 0 {
		return Table{}, ErrMissingUPCColumn
	}

	t := Table{Header: header, asinsCol: asinsCol}
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("第 %d 行：%w", row, err)
		}
		if len(rec) > len(header) {
			return Table{}, fmt.Errorf("第 %d 行：%w（%d > %d）", row, ErrTooManyFields, len(rec), len(header))
		}
		ev := Event{Row: row, Fields: rec}
		ev.UPCs = upc.SplitList(field(rec, upcCol))
		ev.Known = knownUPCs(ev.UPCs, field(rec, knownCol))
		t.Events = append(t.Events, ev)
	}
	return t, nil
}

// WriteJoined 写出原始列加 asins 列。asins[i] 对应 t.Events[i]，按该行 UPC 顺序 ';' 连接。
func WriteJoined(w io.Writer, t Table, asins [][]string) error {
	if len(asins) != len(t.Events) {
		return fmt.Errorf("recall: asins 行数 %d 与事件数 %d 不一致", len(asins), len(t.Events))
	}
	cw := csv.NewWriter(w)

	header := append([]string(nil), t.Header...)
	col := t.asinsCol
	if col < 0 {
		col = len(header)
		header = append(header, ColumnASINs)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, ev := range t.Events {
		rec := make([]string, len(header))
		copy(rec, ev.Fields)
		rec[col] = strings.Join(asins[i], listSep)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// knownUPCs 合并该行自身已合法的 12 位 UPC 与 event_upc12 列，去重保持顺序。
func knownUPCs(raws []string, extra string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(s string) {
		d := upc.Sanitize(s)
		if len(d) != 12 || !upc.Valid(d) {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	for _, s := range raws {
		add(s)
	}
	for _, s := range upc.SplitList(extra) {
		add(s)
	}
	return out
}
