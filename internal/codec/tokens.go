package codec

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// namedTokens resolves the in-stream <TOKEN> forms to their byte
// sequence, mirroring the original device protocol's _TOKEN_MAP.
var namedTokens = map[string][]byte{
	"CR":   {0x0D},
	"LF":   {0x0A},
	"CRLF": {0x0D, 0x0A},
	"TAB":  {0x09},
	"ESC":  {0x1B},
	"STX":  {0x02},
	"ETX":  {0x03},
	"NUL":  {0x00},
	"SP":   {0x20},
}

// EncodeTokens resolves <CR>, <LF>, <0xNN>, <dNNN> and the rest of the
// named token set inside text, encoding everything else as UTF-8 with
// the replacement character for anything that cannot be encoded.
// Unknown tokens are emitted literally, angle brackets included.
func EncodeTokens(text string) []byte {
	var out []byte
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		if runes[i] == '<' {
			j := i + 1
			for j < len(runes) && runes[j] != '>' {
				j++
			}
			if j >= len(runes) {
				out = appendRune(out, runes[i])
				i++
				continue
			}
			token := strings.TrimSpace(string(runes[i+1 : j]))
			if b, ok := resolveToken(token); ok {
				out = append(out, b...)
			} else {
				out = append(out, []byte("<"+token+">")...)
			}
			i = j + 1
			continue
		}
		out = appendRune(out, runes[i])
		i++
	}
	return out
}

func resolveToken(token string) ([]byte, bool) {
	up := strings.ToUpper(token)
	if b, ok := namedTokens[up]; ok {
		return b, true
	}
	if strings.HasPrefix(up, "0X") && len(up) == 4 {
		v, err := strconv.ParseUint(up[2:], 16, 8)
		if err == nil {
			return []byte{byte(v)}, true
		}
	}
	if strings.HasPrefix(up, "D") && len(up) > 1 {
		if v, err := strconv.Atoi(up[1:]); err == nil && v >= 0 && v <= 255 {
			return []byte{byte(v)}, true
		}
	}
	return nil, false
}

func appendRune(out []byte, r rune) []byte {
	var buf [utf8.UTFMax]byte
	// EncodeRune substitutes utf8.RuneError for any code point it
	// cannot represent, giving the "replacement for non-encodable code
	// points" behavior for free.
	n := utf8.EncodeRune(buf[:], r)
	return append(out, buf[:n]...)
}

// EnsureEvenBeforeCR implements the even-before-CR rule: if payload
// ends in CR or CRLF and its total length is odd, an LF is inserted
// immediately before the final CR.
func EnsureEvenBeforeCR(payload []byte) []byte {
	if len(payload) == 0 {
		return payload
	}
	switch {
	case len(payload) >= 2 && payload[len(payload)-2] == 0x0D && payload[len(payload)-1] == 0x0A:
		// CRLF-terminated: nothing in spec.md calls this out as a
		// distinct case beyond CR, treat the two trailing bytes as the
		// terminator and pad before them if the whole thing is odd.
		if len(payload)%2 != 0 {
			out := make([]byte, 0, len(payload)+1)
			out = append(out, payload[:len(payload)-2]...)
			out = append(out, 0x0A, 0x0D, 0x0A)
			return out
		}
		return payload
	case payload[len(payload)-1] == 0x0D:
		if len(payload)%2 != 0 {
			out := make([]byte, 0, len(payload)+1)
			out = append(out, payload[:len(payload)-1]...)
			out = append(out, 0x0A, 0x0D)
			return out
		}
		return payload
	default:
		return payload
	}
}
