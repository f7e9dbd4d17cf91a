package usage

import (
	"encoding/hex"
	"strings"
)

const escapeChar = '-'

// EscapeUsername applies the hub's directory name escaping: lowercase ASCII
// letters and digits are kept, every other byte becomes '-' followed by two
// lowercase hex digits.
func EscapeUsername(user string) string {
	var b strings.Builder
	for i := 0; i < len(user); i++ {
		c := user[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
			continue
		}
		b.WriteByte(escapeChar)
		b.WriteString(hex.EncodeToString([]byte{c}))
	}
	return b.String()
}

// UnescapeUsername reverses EscapeUsername. Malformed escapes are kept as is.
func UnescapeUsername(escaped string) string {
	if !strings.ContainsRune(escaped, escapeChar) {
		return escaped
	}
	var b strings.Builder
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c == escapeChar && i+3 <= len(escaped) {
			if decoded, err := hex.DecodeString(escaped[i+1 : i+3]); err == nil {
				b.WriteByte(decoded[0])
				i += 2
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
