package upc

import (
	"fmt"
	"strconv"
	"strings"
)

// LeadingDigitPriority 是 10 位 UPC 补全首位（number system digit）时的尝试顺序。
// 顺序来自召回数据集中首位数字的经验频率（高 -> 低），可整体替换以重新校准。
var LeadingDigitPriority = []int{0, 7, 8, 6, 3, 1, 9, 2, 4, 5}

// Matcher 判断 known（已知的 12 位 UPC）是否“佐证”了 fragment。
//
// 默认实现是朴素子串匹配（不锚定数字边界），因此 fragment 偶然出现在无关 UPC 中间时会误判；
// 这是已知的启发式限制，保留原行为。
type Matcher func(known, fragment string) bool

// Contains 是默认 Matcher：known 中任意位置包含 fragment 即视为匹配。
func Contains(known, fragment string) bool { return strings.Contains(known, fragment) }

// Reconstructor 按数字长度把 UPC 片段还原为候选 12 位 UPC-A 列表。
// 零值可用：Priority 为空时用 LeadingDigitPriority，Match 为空时用 Contains。
type Reconstructor struct {
	Priority []int
	Match    Matcher
}

// Default 是包级默认的 Reconstructor。
var Default = Reconstructor{}

// LengthError 表示数字长度不在 {10,11,12,13,14} 内，无法还原。
// 这是正常的分类结果（对外表现为 "UPClength-N"），不是故障。
type LengthError struct {
	N int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("无法还原的 UPC 长度：%d", e.N)
}

// Sentinel 返回对外的哨兵值，例如 "UPClength-9"。
func (e *LengthError) Sentinel() string { return "UPClength-" + strconv.Itoa(e.N) }

// Sanitize 删除所有非 ASCII 数字字符（例如 '-'、空格）。
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// CheckDigit 计算 11 位数字串的 UPC-A 校验位（mod 10）。
//
// 输入必须恰好是 11 位 ASCII 数字；否则属于调用方 bug，直接 panic。
func CheckDigit(s string) int {
	if len(s) != 11 {
		panic(fmt.Sprintf("upc: CheckDigit 需要 11 位数字，实际 %d 位：%q", len(s), s))
	}
	odd, even := 0, 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			panic(fmt.Sprintf("upc: CheckDigit 输入包含非数字字符：%q", s))
		}
		d := int(c - '0')
		if i%2 == 0 {
			odd += d
		} else {
			even += d
		}
	}
	r := (odd*3 + even) % 10
	if r == 0 {
		return 0
	}
	return 10 - r
}

// Complete 在 11 位数字串后追加校验位，得到 12 位 UPC-A。
func Complete(s11 string) string {
	return s11 + strconv.Itoa(CheckDigit(s11))
}

// Valid 判断 u 是否是校验位正确的 12 位 UPC-A。
// Reconstruct 不做这一步校验；它留给下游消费方。
func Valid(u string) bool {
	if len(u) != 12 || Sanitize(u) != u {
		return false
	}
	return int(u[11]-'0') == CheckDigit(u[:11])
}

// Reconstruct 使用 Default 还原候选列表，见 Reconstructor.Reconstruct。
func Reconstruct(digits string, known []string) []string {
	return Default.Reconstruct(digits, known)
}

// Candidates 先清洗 raw，再按长度还原。
// 长度不可还原时返回 *LengthError。
func Candidates(raw string, known []string) ([]string, error) {
	return Default.Candidates(raw, known)
}

// Candidates 见包级 Candidates。
func (r Reconstructor) Candidates(raw string, known []string) ([]string, error) {
	digits := Sanitize(raw)
	out := r.Reconstruct(digits, known)
	if out == nil {
		return nil, &LengthError{N: len(digits)}
	}
	return out, nil
}

// Reconstruct 按 len(digits) 分派，返回按可能性降序排列的 12 位候选。
//
// digits 必须已经是纯数字（见 Sanitize）。known 是同一召回事件下已知有效的 12 位 UPC，
// 只读，仅用于 10/11 位输入的消歧；可以为空。
// 长度不在 10..14 时返回 nil，由调用方归类为 "UPClength-N"。
func (r Reconstructor) Reconstruct(digits string, known []string) []string {
	switch len(digits) {
	case 10:
		return r.from10(digits, known)
	case 11:
		if k, ok := r.firstMatch(known, digits); ok {
			return []string{k}
		}
		return []string{Complete(digits)}
	case 12:
		return []string{digits}
	case 13:
		if strings.HasPrefix(digits, "00") {
			return []string{Complete(digits[1:12])}
		}
		// 两种形态都有可能，没有已知的优先关系：(a) 去首尾，(b) 去前两位。
		return []string{Complete(digits[1:12]), Complete(digits[2:])}
	case 14:
		return []string{Complete(digits[2:13])}
	default:
		return nil
	}
}

func (r Reconstructor) from10(digits string, known []string) []string {
	if k, ok := r.firstMatch(known, digits); ok {
		return []string{k}
	}
	// 只有厂商前缀（前 4 位）能对上时，借用该已知 UPC 的首位；首位不是数字的条目跳过。
	if k, ok := r.firstMatch(digitLed(known), digits[:4]); ok {
		return []string{Complete(k[:1] + digits)}
	}

	prio := r.Priority
	if len(prio) == 0 {
		prio = LeadingDigitPriority
	}
	out := make([]string, 0, len(prio))
	for _, d := range prio {
		out = append(out, Complete(strconv.Itoa(d)+digits))
	}
	return out
}

// firstMatch 按顺序扫描 known，返回第一个被 Match 判定为包含 fragment 的条目。
func (r Reconstructor) firstMatch(known []string, fragment string) (string, bool) {
	match := r.Match
	if match == nil {
		match = Contains
	}
	for _, k := range known {
		if match(k, fragment) {
			return k, true
		}
	}
	return "", false
}

func digitLed(known []string) []string {
	out := make([]string, 0, len(known))
	for _, k := range known {
		if k != "" && k[0] >= '0' && k[0] <= '9' {
			out = append(out, k)
		}
	}
	return out
}

// Unique10 返回列表中去重后的 10 位条目（保持首次出现顺序）。
func Unique10(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, u := range list {
		if len(u) != 10 {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// SplitList 拆分以 ';' 连接的 UPC 单元格：trim、丢弃空项、去重（保持首次出现顺序）。
func SplitList(s string) []string {
	parts := strings.Split(s, ";")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
