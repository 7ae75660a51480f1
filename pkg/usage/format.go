package usage

import (
	"fmt"
	"strconv"
	"strings"
)

// HumanTokens renders a token count compactly for /usage and /status:
// 1532 -> "1.5K", 1550000 -> "1.6M". Counts under a thousand print as-is.
func HumanTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return trimScaled(float64(n)/1_000_000) + "M"
	case n >= 1_000:
		return trimScaled(float64(n)/1_000) + "K"
	default:
		return strconv.Itoa(n)
	}
}

func trimScaled(v float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", v), ".0")
}

// GroupedInt inserts comma separators every three digits.
func GroupedInt(n int) string {
	s := strconv.Itoa(n)
	if n < 1000 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(s)/3)
	for i := 0; i < len(s); i++ {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
