package hcert

import (
	"fmt"
	"strings"
)

const base45Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

// encodeBase45 implements RFC 9285: each byte pair becomes three
// characters, a trailing byte two.
func encodeBase45(src []byte) string {
	var b strings.Builder
	b.Grow((len(src)/2)*3 + 2)
	for i := 0; i+1 < len(src); i += 2 {
		n := int(src[i])<<8 | int(src[i+1])
		b.WriteByte(base45Alphabet[n%45])
		b.WriteByte(base45Alphabet[(n/45)%45])
		b.WriteByte(base45Alphabet[n/2025])
	}
	if len(src)%2 == 1 {
		n := int(src[len(src)-1])
		b.WriteByte(base45Alphabet[n%45])
		b.WriteByte(base45Alphabet[n/45])
	}
	return b.String()
}

func decodeBase45(s string) ([]byte, error) {
	if len(s)%3 == 1 {
		return nil, fmt.Errorf("base45: invalid length %d", len(s))
	}
	digits := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		d := strings.IndexByte(base45Alphabet, s[i])
		if d < 0 {
			return nil, fmt.Errorf("base45: invalid character %q at %d", s[i], i)
		}
		digits[i] = d
	}

	out := make([]byte, 0, len(s)/3*2+1)
	for i := 0; i < len(digits); i += 3 {
		if i+2 < len(digits) {
			n := digits[i] + digits[i+1]*45 + digits[i+2]*2025
			if n > 0xFFFF {
				return nil, fmt.Errorf("base45: chunk at %d out of range", i)
			}
			out = append(out, byte(n>>8), byte(n))
			continue
		}
		n := digits[i] + digits[i+1]*45
		if n > 0xFF {
			return nil, fmt.Errorf("base45: trailing chunk out of range")
		}
		out = append(out, byte(n))
	}
	return out, nil
}
