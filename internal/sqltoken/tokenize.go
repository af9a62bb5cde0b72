// Package sqltoken splits SQL text in to tokens.
//
// This is not a full SQL lexer; it only knows enough to find parameter markers
// outside of string literals, quoted identifiers, and comments.
package sqltoken

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType is the type of a token.
type TokenType uint8

// Token types.
const (
	Text         TokenType = iota // Words, numbers, operators, punctuation.
	Whitespace                    // Spaces, tabs, newlines.
	Comment                       // -- line or /* block */
	Literal                       // 'string', "ident", `ident`, [ident], $tag$body$tag$
	Param                         // ?name, @name, :name
	QuestionMark                  // ? without a name.
	Substitution                  // {=name}
)

func (t TokenType) String() string {
	switch t {
	case Text:
		return "Text"
	case Whitespace:
		return "Whitespace"
	case Comment:
		return "Comment"
	case Literal:
		return "Literal"
	case Param:
		return "Param"
	case QuestionMark:
		return "QuestionMark"
	case Substitution:
		return "Substitution"
	}
	return "TokenType(" + strconv.Itoa(int(t)) + ")"
}

// Token is a single token.
type Token struct {
	Type TokenType
	Text string
}

// Name gets the parameter name for Param and Substitution tokens.
func (t Token) Name() string {
	switch t.Type {
	case Param:
		return t.Text[1:]
	case Substitution:
		return t.Text[2 : len(t.Text)-1]
	}
	return ""
}

// Marker gets the marker character for Param tokens.
func (t Token) Marker() byte {
	if t.Type == Param || t.Type == QuestionMark {
		return t.Text[0]
	}
	return 0
}

// Tokens is a list of tokens.
type Tokens []Token

// String reassembles the tokens.
func (t Tokens) String() string {
	var b strings.Builder
	for _, tt := range t {
		b.WriteString(tt.Text)
	}
	return b.String()
}

// Tokenize a query.
func Tokenize(query string) Tokens {
	var (
		toks  = make(Tokens, 0, 16)
		start = 0 // Start of pending Text run.
		i     = 0
	)
	flush := func(end int) {
		if end > start {
			toks = append(toks, Token{Text, query[start:end]})
		}
	}
	emit := func(typ TokenType, end int) {
		flush(i)
		toks = append(toks, Token{typ, query[i:end]})
		i, start = end, end
	}

	for i < len(query) {
		c := query[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			end := i + 1
			for end < len(query) && strings.IndexByte(" \t\n\r", query[end]) > -1 {
				end++
			}
			emit(Whitespace, end)

		case c == '\'' || c == '"' || c == '`':
			emit(Literal, quoted(query, i, c))
		case c == '[' && i+1 < len(query) && isIdentStart(query[i+1:]):
			// [quoted ident]; array subscripts like a[1] start with a digit.
			if j := strings.IndexByte(query[i:], ']'); j > -1 && !hasSpace(query[i+1:i+j]) {
				emit(Literal, i+j+1)
			} else {
				i++
			}

		case c == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end == -1 {
				end = len(query)
			} else {
				end += i + 1
			}
			emit(Comment, end)
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end == -1 {
				end = len(query)
			} else {
				end += i + 4
			}
			emit(Comment, end)

		case c == '$':
			if end := dollarQuote(query, i); end > i {
				emit(Literal, end)
			} else {
				i++
			}

		case c == '{' && strings.HasPrefix(query[i:], "{="):
			n := identLen(query[i+2:])
			if n > 0 && i+2+n < len(query) && query[i+2+n] == '}' {
				emit(Substitution, i+3+n)
			} else {
				i++
			}

		case c == '?' || c == '@' || c == ':':
			// Previous char can't be part of an identifier or the same marker,
			// so that a::int, @@version, and e-mail@example.com aren't seen as
			// parameters.
			if i > 0 {
				prev, _ := utf8.DecodeLastRuneInString(query[:i])
				if prev == rune(c) || isIdentRune(prev) {
					i++
					continue
				}
			}
			n := identLen(query[i+1:])
			switch {
			case n > 0:
				emit(Param, i+1+n)
			case c == '?':
				emit(QuestionMark, i+1)
			default:
				i++
			}

		default:
			i++
		}
	}
	flush(len(query))
	return toks
}

func hasSpace(s string) bool { return strings.ContainsAny(s, " \t\r\n") }

// quoted finds the end of the quoted string at query[i], where a doubled quote
// is an escaped quote.
func quoted(query string, i int, q byte) int {
	for j := i + 1; j < len(query); j++ {
		if query[j] != q {
			continue
		}
		if j+1 < len(query) && query[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(query)
}

// dollarQuote finds the end of a PostgreSQL $tag$...$tag$ string, returning i
// if query[i:] isn't a dollar quote.
func dollarQuote(query string, i int) int {
	if i > 0 {
		prev, _ := utf8.DecodeLastRuneInString(query[:i])
		if isIdentRune(prev) {
			return i
		}
	}
	j := i + 1
	for j < len(query) && (query[j] == '_' || isLetter(query[j])) {
		j++
	}
	if j >= len(query) || query[j] != '$' {
		return i
	}
	tag := query[i : j+1]
	end := strings.Index(query[j+1:], tag)
	if end == -1 {
		return len(query)
	}
	return j + 1 + end + len(tag)
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isIdentStart(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r)
}

// identLen gets the length in bytes of the identifier at the start of s.
func identLen(s string) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if !isIdentRune(r) {
			break
		}
		n += size
	}
	return n
}
