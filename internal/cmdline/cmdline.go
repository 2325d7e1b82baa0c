// Package cmdline tokenizes REPL input and editor commands, and turns
// server names into file names.
package cmdline

import (
	"errors"
	"strings"
	"unicode"
)

// ErrUnterminatedQuote is returned for input that ends inside a quote.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// Split breaks line into words the way a POSIX shell would, without
// expansions: single quotes are literal, double quotes honor \" \\ and \$,
// and a backslash outside quotes escapes the next character.
func Split(line string) ([]string, error) {
	words, _, err := cut(line, -1)
	return words, err
}

// Cut returns the first n words of line and the unparsed remainder with
// surrounding whitespace trimmed. It is used for commands whose last
// argument is raw JSON, which must not lose its quotes.
func Cut(line string, n int) ([]string, string, error) {
	words, rest, err := cut(line, n)
	return words, strings.TrimSpace(rest), err
}

func cut(line string, n int) ([]string, string, error) {
	var (
		words []string
		word  strings.Builder
		open  bool // a word has started, possibly empty ("")
		quote rune
	)
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case quote == '"':
			switch {
			case r == '"':
				quote = 0
			case r == '\\' && i+1 < len(runes) && strings.ContainsRune(`"\$`, runes[i+1]):
				i++
				word.WriteRune(runes[i])
			default:
				word.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, open = r, true
		case r == '\\':
			if i+1 < len(runes) {
				i++
			}
			word.WriteRune(runes[i])
			open = true
		case unicode.IsSpace(r):
			if open {
				words = append(words, word.String())
				word.Reset()
				open = false
				if len(words) == n {
					return words, string(runes[i:]), nil
				}
			}
		default:
			word.WriteRune(r)
			open = true
		}
	}
	if quote != 0 {
		return nil, "", ErrUnterminatedQuote
	}
	if open {
		words = append(words, word.String())
	}
	return words, "", nil
}

// FileName maps a server name to a name safe to use as a file name stem.
// Letters, digits, '-', '_' and '.' are kept; runs of anything else become
// a single '_'.
func FileName(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "server"
	}
	return out
}
