package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ASIN 是 Amazon 的商品目录标识（10 位 A-Z0-9）。
type ASIN string

// NotFound 是查询服务对“该 UPC 没有对应 ASIN”的固定回答。
const NotFound ASIN = "UPCNOTFOUND"

// LengthSentinel 返回数字位数无法还原时的哨兵值，例如 "UPClength-9"。
func LengthSentinel(n int) string { return "UPClength-" + strconv.Itoa(n) }

// NormalizeASIN 规范化并校验 ASIN：去掉 '-' 与空白、转大写，必须是 10 位字母数字。
func NormalizeASIN(in string) (ASIN, error) {
	s := strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, in)
	s = strings.ToUpper(s)

	if len(s) != 10 {
		return "", fmt.Errorf("ASIN 必须是 10 个字符，实际 %d：%q", len(s), in)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'Z') {
			return "", fmt.Errorf("ASIN 只能包含 A-Z0-9：%q", in)
		}
	}
	return ASIN(s), nil
}
