package memdom

import (
	"fmt"
	"slices"
	"strings"
)

// selector is one compound simple selector: tag, #id, .class and [attr] or
// [attr="value"] parts. Combinators are not supported.
type selector struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

type attrMatch struct {
	name     string
	value    string
	hasValue bool
}

func parseSelector(raw string) (selector, error) {
	var sel selector
	s := strings.TrimSpace(raw)
	if s == "" {
		return sel, fmt.Errorf("empty selector")
	}

	i := 0
	readIdent := func() string {
		start := i
		for i < len(s) && isIdentByte(s[i]) {
			i++
		}
		return s[start:i]
	}

	if s[0] == '*' {
		i++
	} else if isIdentByte(s[0]) {
		sel.tag = strings.ToLower(readIdent())
	}

	for i < len(s) {
		switch s[i] {
		case '#':
			i++
			sel.id = readIdent()
			if sel.id == "" {
				return sel, fmt.Errorf("selector %q: empty id", raw)
			}
		case '.':
			i++
			class := readIdent()
			if class == "" {
				return sel, fmt.Errorf("selector %q: empty class", raw)
			}
			sel.classes = append(sel.classes, class)
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return sel, fmt.Errorf("selector %q: unterminated attribute", raw)
			}
			match, err := parseAttr(s[i+1 : i+end])
			if err != nil {
				return sel, fmt.Errorf("selector %q: %w", raw, err)
			}
			sel.attrs = append(sel.attrs, match)
			i += end + 1
		default:
			return sel, fmt.Errorf("selector %q: unsupported character %q", raw, s[i])
		}
	}

	return sel, nil
}

func parseAttr(body string) (attrMatch, error) {
	name, value, hasValue := strings.Cut(body, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return attrMatch{}, fmt.Errorf("empty attribute name")
	}
	if !hasValue {
		return attrMatch{name: name}, nil
	}

	value = strings.TrimSpace(value)
	if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
		value = value[1 : len(value)-1]
	}
	return attrMatch{name: name, value: value, hasValue: true}, nil
}

func isIdentByte(b byte) bool {
	return b == '-' || b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func (sel selector) matches(el *Element) bool {
	if sel.tag != "" && sel.tag != strings.ToLower(el.Tag) {
		return false
	}
	if sel.id != "" && el.Attrs["id"] != sel.id {
		return false
	}
	if len(sel.classes) > 0 {
		own := strings.Fields(el.Attrs["class"])
		for _, class := range sel.classes {
			if !slices.Contains(own, class) {
				return false
			}
		}
	}
	for _, attr := range sel.attrs {
		value, ok := el.Attrs[attr.name]
		if !ok || (attr.hasValue && value != attr.value) {
			return false
		}
	}
	return true
}
