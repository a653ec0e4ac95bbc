package tui

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxInputLen caps a form field, in runes.
const maxInputLen = 512

// editRune applies one key to text. "backspace" drops the last rune;
// a single printable rune is appended unless the field is full. Any
// other key leaves text as is.
func editRune(text, key string) string {
	if key == "backspace" {
		_, size := utf8.DecodeLastRuneInString(text)
		return text[:len(text)-size]
	}
	r, size := utf8.DecodeRuneInString(key)
	if size == 0 || size != len(key) || !unicode.IsPrint(r) {
		return text
	}
	if utf8.RuneCountInString(text) >= maxInputLen {
		return text
	}
	return text + key
}

// truncateToHeight keeps at most maxLines lines of s, including the
// newline that ends the last one kept. maxLines <= 0 disables the cap.
func truncateToHeight(s string, maxLines int) string {
	if maxLines <= 0 {
		return s
	}
	end := 0
	for range maxLines {
		i := strings.IndexByte(s[end:], '\n')
		if i < 0 {
			return s
		}
		end += i + 1
	}
	return s[:end]
}
