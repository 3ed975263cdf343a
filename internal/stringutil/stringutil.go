package stringutil

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

func PascalToSnake(s string) string {
	var b bytes.Buffer

	for i, c := range s {
		if unicode.IsUpper(c) {
			if i > 0 && (unicode.IsLower(rune(s[i-1])) || (i+1 < len(s) && unicode.IsLower(rune(s[i+1])))) {
				b.WriteByte('_')
			}

			b.WriteRune(unicode.ToLower(c))
		} else {
			b.WriteRune(c)
		}
	}

	return b.String()
}

func LooksTrue(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "1", "on", "enabled", "enable", "active", "ok", "okay":
		return true
	default:
		return false
	}
}

// SplitInts parses a list of integers given as repeated values, comma
// separated values, or a mix of both. Empty elements are skipped.
func SplitInts(values []string) ([]int, error) {
	var a []int

	for _, v := range values {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e == "" {
				continue
			}

			n, err := strconv.Atoi(e)
			if err != nil {
				return nil, fmt.Errorf("stringutil.SplitInts: invalid integer %q", e)
			}

			a = append(a, n)
		}
	}

	return a, nil
}
