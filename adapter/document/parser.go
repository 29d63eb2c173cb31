package document

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// parser is a single-pass, allocation-conscious JSON reader used instead of
// stdlib encoding/json reflection when decoding a persisted log line into
// an M. It only needs to understand the subset of JSON the Serializer ever
// produces: objects, arrays, strings, numbers, booleans and null.
type parser struct {
	data []byte
	i    int
	n    int
}

func (p *parser) parse() (any, error) {
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.i != p.n {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func (p *parser) skipSpace() {
	for p.i < p.n {
		switch p.data[p.i] {
		case ' ', '\t', '\n', '\r':
			p.i++
		default:
			return
		}
	}
}

func (p *parser) value() (any, error) {
	if p.i >= p.n {
		return nil, errors.New("unexpected end of input")
	}
	switch p.data[p.i] {
	case '{':
		return p.object()
	case '[':
		return p.array()
	case '"':
		return p.string()
	case 't':
		return p.literal("true", true)
	case 'f':
		return p.literal("false", false)
	case 'n':
		return p.literal("null", nil)
	default:
		return p.number()
	}
}

func (p *parser) object() (M, error) {
	p.i++
	p.skipSpace()
	m := make(M)
	if p.i < p.n && p.data[p.i] == '}' {
		p.i++
		return m, nil
	}
	for {
		p.skipSpace()
		key, err := p.string()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.i >= p.n || p.data[p.i] != ':' {
			return nil, errors.New(`expected ':'`)
		}
		p.i++
		p.skipSpace()
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		m[key] = val
		p.skipSpace()
		if p.i >= p.n {
			return nil, errors.New("unexpected end of object")
		}
		if p.data[p.i] == '}' {
			p.i++
			return m, nil
		}
		if p.data[p.i] != ',' {
			return nil, errors.New(`expected ',' in object`)
		}
		p.i++
	}
}

func (p *parser) array() ([]any, error) {
	p.i++
	p.skipSpace()
	out := []any{}
	if p.i < p.n && p.data[p.i] == ']' {
		p.i++
		return out, nil
	}
	for {
		p.skipSpace()
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		p.skipSpace()
		if p.i >= p.n {
			return nil, errors.New("unexpected end of array")
		}
		if p.data[p.i] == ']' {
			p.i++
			return out, nil
		}
		if p.data[p.i] != ',' {
			return nil, errors.New(`expected ',' in array`)
		}
		p.i++
	}
}

func (p *parser) string() (string, error) {
	if p.i >= p.n || p.data[p.i] != '"' {
		return "", errors.New("expected string")
	}
	for j := p.i + 1; j < p.n; j++ {
		switch p.data[j] {
		case '\\':
			j++
		case '"':
			s, err := p.unescape(p.data[p.i+1 : j])
			if err != nil {
				return "", err
			}
			p.i = j + 1
			return s, nil
		}
	}
	return "", errors.New("unterminated string")
}

func (p *parser) unescape(b []byte) (string, error) {
	out := make([]byte, 0, len(b)+2*utf8.UTFMax)
	i := 0
	for i < len(b) {
		c := b[i]
		switch {
		case c == '\\':
			i++
			if i >= len(b) {
				return "", errors.New("unterminated escape")
			}
			switch b[i] {
			case '"', '\\', '/', '\'':
				out = append(out, b[i])
				i++
			case 'b':
				out = append(out, '\b')
				i++
			case 'f':
				out = append(out, '\f')
				i++
			case 'n':
				out = append(out, '\n')
				i++
			case 'r':
				out = append(out, '\r')
				i++
			case 't':
				out = append(out, '\t')
				i++
			case 'u':
				r, consumed, err := p.unicodeEscape(b[i-1:])
				if err != nil {
					return "", err
				}
				var buf [utf8.UTFMax]byte
				w := utf8.EncodeRune(buf[:], r)
				out = append(out, buf[:w]...)
				i += consumed
			default:
				return "", fmt.Errorf("unknown escape character %q", b[i])
			}
		case c < ' ':
			return "", errors.New("invalid control character in string")
		default:
			r, size := utf8.DecodeRune(b[i:])
			var buf [utf8.UTFMax]byte
			w := utf8.EncodeRune(buf[:], r)
			out = append(out, buf[:w]...)
			i += size
		}
	}
	return string(out), nil
}

// unicodeEscape decodes a \uXXXX (optionally followed by a low surrogate
// \uXXXX) sequence starting at b[0] == '\\'. It returns the number of bytes
// of b consumed, counted from the leading backslash.
func (p *parser) unicodeEscape(b []byte) (rune, int, error) {
	r1, ok := hex4(b)
	if !ok {
		return 0, 0, errors.New("invalid \\u escape")
	}
	if !utf16.IsSurrogate(r1) {
		return r1, 6, nil
	}
	if len(b) < 12 {
		return unicode.ReplacementChar, 6, nil
	}
	r2, ok := hex4(b[6:])
	if !ok {
		return unicode.ReplacementChar, 6, nil
	}
	if dec := utf16.DecodeRune(r1, r2); dec != unicode.ReplacementChar {
		return dec, 12, nil
	}
	return unicode.ReplacementChar, 6, nil
}

func hex4(b []byte) (rune, bool) {
	if len(b) < 6 || b[0] != '\\' || b[1] != 'u' {
		return 0, false
	}
	v, err := strconv.ParseInt(string(b[2:6]), 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}

func (p *parser) number() (any, error) {
	start := p.i
	for p.i < p.n {
		switch p.data[p.i] {
		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '.', '-', '+', 'e', 'E':
			p.i++
		default:
			goto done
		}
	}
done:
	s := string(p.data[start:p.i])
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}

func (p *parser) literal(lit string, val any) (any, error) {
	end := p.i + len(lit)
	if end > p.n || string(p.data[p.i:end]) != lit {
		return nil, fmt.Errorf("invalid literal at offset %d", p.i)
	}
	p.i = end
	return val, nil
}
