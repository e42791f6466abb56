package genie

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrUnsafeSQL = errors.New("generated sql is not a single read-only query")

var (
	fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	readOnly    = regexp.MustCompile(`(?i)^(select|with)\b`)
	writeWords  = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|upsert|drop|alter|create|truncate|grant|revoke|copy|call|execute|set|reset|vacuum|reindex|refresh|set_config)\b`)
)

// CleanSQL extracts the statement from a model reply: the first fenced code
// block if any, without leading line comments or a trailing semicolon.
func CleanSQL(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	lines := strings.Split(s, "\n")
	for len(lines) > 0 {
		first := strings.TrimSpace(lines[0])
		if first != "" && !strings.HasPrefix(first, "--") {
			break
		}
		lines = lines[1:]
	}
	s = strings.TrimSpace(strings.Join(lines, "\n"))
	return strings.TrimSpace(strings.TrimRight(s, "; \t\n"))
}

// ValidateSQL accepts one SELECT or WITH statement with no data-modifying or
// session-altering keywords outside string literals.
func ValidateSQL(sql string) error {
	if sql == "" {
		return fmt.Errorf("%w: empty statement", ErrUnsafeSQL)
	}
	if !readOnly.MatchString(sql) {
		return fmt.Errorf("%w: must start with SELECT or WITH", ErrUnsafeSQL)
	}
	code := stripLiterals(sql)
	if strings.Contains(code, ";") {
		return fmt.Errorf("%w: multiple statements", ErrUnsafeSQL)
	}
	if m := writeWords.FindString(code); m != "" {
		return fmt.Errorf("%w: contains %s", ErrUnsafeSQL, strings.ToUpper(m))
	}
	return nil
}

// PrepareSQL cleans and validates a model reply.
func PrepareSQL(raw string) (string, error) {
	sql := CleanSQL(raw)
	return sql, ValidateSQL(sql)
}

// stripLiterals blanks out single-quoted strings, quoted identifiers and
// comments so keywords inside them are ignored. Newlines are kept.
func stripLiterals(sql string) string {
	src := []rune(sql)
	out := make([]rune, len(src))
	blank := func(r rune) rune {
		if r == '\n' {
			return r
		}
		return ' '
	}
	for i := 0; i < len(src); i++ {
		r := src[i]
		switch {
		case r == '\'' || r == '"':
			out[i] = ' '
			for i++; i < len(src) && src[i] != r; i++ {
				out[i] = blank(src[i])
			}
			if i < len(src) {
				out[i] = ' '
			}
		case r == '-' && i+1 < len(src) && src[i+1] == '-':
			for ; i < len(src) && src[i] != '\n'; i++ {
				out[i] = ' '
			}
			if i < len(src) {
				out[i] = '\n'
			}
		case r == '/' && i+1 < len(src) && src[i+1] == '*':
			out[i], out[i+1] = ' ', ' '
			for i += 2; i < len(src) && !(src[i] == '*' && i+1 < len(src) && src[i+1] == '/'); i++ {
				out[i] = blank(src[i])
			}
			if i < len(src) {
				out[i], out[i+1] = ' ', ' '
				i++
			}
		default:
			out[i] = r
		}
	}
	return string(out)
}
