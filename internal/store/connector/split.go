package connector

import (
	"regexp"
	"strings"
)

var goSeparator = regexp.MustCompile(`(?im)^[ \t]*GO[ \t]*(?:--[^\r\n]*)?\r?$`)

// SplitOnGo splits T-SQL text into batches on lines holding only GO.
func SplitOnGo(script string) []string {
	var out []string
	for _, batch := range goSeparator.Split(script, -1) {
		if b := strings.TrimSpace(batch); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Batches splits script on GO separator lines and drops batches that hold
// only comments. Each batch is meant to be sent to the server in one call.
func Batches(script string, opts SplitOptions) []string {
	var out []string
	for _, b := range SplitOnGo(script) {
		if len(SplitOnSemicolons(b, opts)) > 0 {
			out = append(out, b)
		}
	}
	return out
}

// SplitOptions tunes SplitOnSemicolons for a dialect's quoting rules.
type SplitOptions struct {
	// DollarQuotes treats PostgreSQL $tag$...$tag$ bodies as quoted text.
	DollarQuotes bool
	// BackslashEscapes lets a backslash escape the next rune inside quotes.
	BackslashEscapes bool
	// HashComments treats '#' up to the end of the line as a comment.
	HashComments bool
	// Blocks keeps BEGIN ... END and CASE ... END bodies in one statement.
	Blocks bool
	// Delimiters honours client "DELIMITER x" lines that replace ';'.
	Delimiters bool
}

// SplitOnSemicolons splits script on ';' (or the current DELIMITER) outside
// quoted text, comments and, with Blocks, compound bodies. Fragments holding
// nothing but comments are dropped.
func SplitOnSemicolons(script string, opts SplitOptions) []string {
	var (
		out     []string
		current strings.Builder
		hasCode bool
		depth   int
		delim   = []rune(";")
	)
	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" && hasCode {
			out = append(out, stmt)
		}
		current.Reset()
		hasCode = false
		depth = 0
	}

	rs := []rune(script)
	n := len(rs)
	for i := 0; i < n; i++ {
		r := rs[i]
		switch {
		case r == '-' && i+1 < n && rs[i+1] == '-', opts.HashComments && r == '#':
			j := i
			for j < n && rs[j] != '\n' {
				j++
			}
			current.WriteString(string(rs[i:j]))
			i = j - 1
			continue
		case r == '/' && i+1 < n && rs[i+1] == '*':
			j := i + 2
			for j+1 < n && !(rs[j] == '*' && rs[j+1] == '/') {
				j++
			}
			end := min(j+2, n)
			current.WriteString(string(rs[i:end]))
			i = end - 1
			continue
		case r == '\'' || r == '"' || r == '`':
			j := i + 1
			for j < n {
				if rs[j] == r {
					// doubled quote is an escaped quote
					if j+1 < n && rs[j+1] == r {
						j += 2
						continue
					}
					break
				}
				if opts.BackslashEscapes && rs[j] == '\\' && j+1 < n {
					j += 2
					continue
				}
				j++
			}
			end := min(j+1, n)
			current.WriteString(string(rs[i:end]))
			hasCode = true
			i = end - 1
			continue
		case opts.DollarQuotes && r == '$':
			if tag, ok := dollarTag(rs, i); ok {
				closeAt := indexRunes(rs, i+len(tag), tag)
				end := n
				if closeAt >= 0 {
					end = closeAt + len(tag)
				}
				current.WriteString(string(rs[i:end]))
				hasCode = true
				i = end - 1
				continue
			}
		}

		if hasPrefixAt(rs, i, delim) {
			// inside a compound body only a custom delimiter ends the statement
			if len(delim) == 1 && delim[0] == ';' && opts.Blocks && depth > 0 {
				current.WriteRune(r)
				continue
			}
			flush()
			i += len(delim) - 1
			continue
		}

		if isWordStart(r) && (i == 0 || !isWordRune(rs[i-1])) {
			j := wordEnd(rs, i)
			word := strings.ToUpper(string(rs[i:j]))
			if opts.Delimiters && !hasCode && word == "DELIMITER" && j < n && (rs[j] == ' ' || rs[j] == '\t') {
				k := j
				for k < n && rs[k] != '\n' {
					k++
				}
				if fields := strings.Fields(string(rs[j:k])); len(fields) > 0 {
					delim = []rune(fields[0])
				}
				current.Reset()
				i = k - 1
				continue
			}
			current.WriteString(string(rs[i:j]))
			hasCode = true
			if opts.Blocks {
				j = blockWord(rs, i, j, word, &depth, &current)
			}
			i = j - 1
			continue
		}

		if !isSpace(r) {
			hasCode = true
		}
		current.WriteRune(r)
	}
	flush()
	return out
}

// blockWord adjusts depth for a keyword spanning rs[start:end] and returns
// the index scanning resumes at. END CASE is consumed as one closer; END IF,
// END LOOP, END WHILE and END REPEAT close constructs that were never counted.
func blockWord(rs []rune, start, end int, word string, depth *int, current *strings.Builder) int {
	switch word {
	case "BEGIN":
		next := nextWord(rs, end)
		if next == "WORK" || next == "TRANSACTION" || nextRune(rs, end) == ';' {
			return end
		}
		*depth++
	case "CASE":
		*depth++
	case "END":
		switch nextWord(rs, end) {
		case "IF", "LOOP", "WHILE", "REPEAT":
			return end
		case "CASE":
			k := skipSpace(rs, end)
			e := wordEnd(rs, k)
			current.WriteString(string(rs[end:e]))
			end = e
		}
		if *depth > 0 {
			*depth--
		}
	}
	return end
}

func hasPrefixAt(rs []rune, i int, prefix []rune) bool {
	if i+len(prefix) > len(rs) {
		return false
	}
	for k, p := range prefix {
		if rs[i+k] != p {
			return false
		}
	}
	return true
}

func skipSpace(rs []rune, i int) int {
	for i < len(rs) && isSpace(rs[i]) {
		i++
	}
	return i
}

func nextRune(rs []rune, i int) rune {
	if i = skipSpace(rs, i); i < len(rs) {
		return rs[i]
	}
	return 0
}

func nextWord(rs []rune, i int) string {
	i = skipSpace(rs, i)
	if i >= len(rs) || !isWordStart(rs[i]) {
		return ""
	}
	return strings.ToUpper(string(rs[i:wordEnd(rs, i)]))
}

func wordEnd(rs []rune, i int) int {
	for i < len(rs) && isWordRune(rs[i]) {
		i++
	}
	return i
}

func isWordStart(r rune) bool { return r == '_' || isLetter(r) }

func isWordRune(r rune) bool { return isWordStart(r) || (r >= '0' && r <= '9') }

// dollarTag returns the opening $tag$ starting at i, if any.
func dollarTag(rs []rune, i int) ([]rune, bool) {
	j := i + 1
	for j < len(rs) && (rs[j] == '_' || isLetter(rs[j]) || (j > i+1 && rs[j] >= '0' && rs[j] <= '9')) {
		j++
	}
	if j < len(rs) && rs[j] == '$' {
		return rs[i : j+1], true
	}
	return nil, false
}

func indexRunes(rs []rune, from int, sub []rune) int {
	for i := from; i+len(sub) <= len(rs); i++ {
		match := true
		for k := range sub {
			if rs[i+k] != sub[k] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
