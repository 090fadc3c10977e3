package autoconfig

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

// findSensitive walks doc and returns the paths whose key contains a
// denylisted term, or whose string value contains one as a whole word.
// Matching is case-insensitive. Paths are sorted and unique.
func findSensitive(doc []byte, terms []string) []string {
	lowered := make([]string, 0, len(terms))
	for _, term := range terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			lowered = append(lowered, term)
		}
	}
	if len(lowered) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	walk(gjson.ParseBytes(doc), "", lowered, seen)

	fields := make([]string, 0, len(seen))
	for path := range seen {
		fields = append(fields, path)
	}
	sort.Strings(fields)
	return fields
}

func walk(node gjson.Result, path string, terms []string, seen map[string]struct{}) {
	switch {
	case node.IsObject():
		node.ForEach(func(key, value gjson.Result) bool {
			child := joinPath(path, key.String())
			if keyMatches(key.String(), terms) {
				seen[child] = struct{}{}
			}
			walk(value, child, terms, seen)
			return true
		})
	case node.IsArray():
		i := 0
		node.ForEach(func(_, value gjson.Result) bool {
			walk(value, joinPath(path, strconv.Itoa(i)), terms, seen)
			i++
			return true
		})
	case node.Type == gjson.String:
		if valueMatches(node.String(), terms) {
			if path == "" {
				path = "$"
			}
			seen[path] = struct{}{}
		}
	}
}

func keyMatches(key string, terms []string) bool {
	key = strings.ToLower(key)
	for _, term := range terms {
		if strings.Contains(key, term) {
			return true
		}
	}
	return false
}

func valueMatches(value string, terms []string) bool {
	words := strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		for _, term := range terms {
			if word == term {
				return true
			}
		}
	}
	return false
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}

func joinFields(fields []string) string {
	const shown = 5
	if len(fields) <= shown {
		return strings.Join(fields, ", ")
	}
	return strings.Join(fields[:shown], ", ") + ", ..."
}
