package broker

import (
	"fmt"
	"strconv"
	"strings"
)

// Selector is a conjunction of field conditions over event headers, parsed
// from strings like:
//
//	RUNID='run-1' and STATUS='job:done'
//	RUNID='run-1' and STATUS in ('job:ready', 'job:done') and DESTINATIONID=7
//
// Fields compare against the header view of an event (RUNID, STATUS,
// ORIGINATORID, DESTINATIONID). String literals are single-quoted; bare
// numbers compare as integers.
type Selector struct {
	terms []selectorTerm
}

type selectorTerm struct {
	field  string
	values []any
}

// ParseSelector compiles a selector string. The empty string matches every
// event.
func ParseSelector(text string) (*Selector, error) {
	sel := &Selector{}
	text = strings.TrimSpace(text)
	if text == "" {
		return sel, nil
	}
	for _, clause := range splitAnd(text) {
		term, err := parseTerm(clause)
		if err != nil {
			return nil, fmt.Errorf("bad selector %q: %w", text, err)
		}
		sel.terms = append(sel.terms, term)
	}
	return sel, nil
}

// Matches tests an event's header view against every term.
func (s *Selector) Matches(headers map[string]any) bool {
	for _, term := range s.terms {
		actual, ok := headers[term.field]
		if !ok {
			return false
		}
		matched := false
		for _, want := range term.values {
			if scalarEqual(actual, want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func splitAnd(text string) []string {
	var clauses []string
	var current strings.Builder
	inQuote := false
	lower := strings.ToLower(text)
	for i := 0; i < len(text); {
		if text[i] == '\'' {
			inQuote = !inQuote
		}
		if !inQuote && i+5 <= len(text) && lower[i:i+5] == " and " {
			clauses = append(clauses, current.String())
			current.Reset()
			i += 5
			continue
		}
		current.WriteByte(text[i])
		i++
	}
	clauses = append(clauses, current.String())
	return clauses
}

func parseTerm(clause string) (selectorTerm, error) {
	clause = strings.TrimSpace(clause)

	if field, rest, ok := cutKeyword(clause, " in "); ok {
		rest = strings.TrimSpace(rest)
		if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
			return selectorTerm{}, fmt.Errorf("malformed in-list %q", clause)
		}
		term := selectorTerm{field: strings.ToUpper(strings.TrimSpace(field))}
		for _, raw := range strings.Split(rest[1:len(rest)-1], ",") {
			v, err := parseLiteral(strings.TrimSpace(raw))
			if err != nil {
				return selectorTerm{}, err
			}
			term.values = append(term.values, v)
		}
		if len(term.values) == 0 {
			return selectorTerm{}, fmt.Errorf("empty in-list %q", clause)
		}
		return term, nil
	}

	field, raw, found := strings.Cut(clause, "=")
	if !found {
		return selectorTerm{}, fmt.Errorf("missing '=' in %q", clause)
	}
	v, err := parseLiteral(strings.TrimSpace(raw))
	if err != nil {
		return selectorTerm{}, err
	}
	return selectorTerm{
		field:  strings.ToUpper(strings.TrimSpace(field)),
		values: []any{v},
	}, nil
}

// cutKeyword splits clause on a case-insensitive keyword outside quotes.
func cutKeyword(clause, keyword string) (string, string, bool) {
	lower := strings.ToLower(clause)
	inQuote := false
	for i := 0; i+len(keyword) <= len(clause); i++ {
		if clause[i] == '\'' {
			inQuote = !inQuote
		}
		if !inQuote && lower[i:i+len(keyword)] == keyword {
			return clause[:i], clause[i+len(keyword):], true
		}
	}
	return "", "", false
}

func parseLiteral(raw string) (any, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty literal")
	}
	if raw[0] == '\'' {
		if len(raw) < 2 || raw[len(raw)-1] != '\'' {
			return nil, fmt.Errorf("unterminated string literal %s", raw)
		}
		return raw[1 : len(raw)-1], nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad literal %s: %w", raw, err)
	}
	return n, nil
}

func scalarEqual(actual, want any) bool {
	switch w := want.(type) {
	case string:
		a, ok := actual.(string)
		return ok && a == w
	case int64:
		switch a := actual.(type) {
		case int64:
			return a == w
		case int:
			return int64(a) == w
		case float64:
			return a == float64(w)
		default:
			return false
		}
	default:
		return false
	}
}
