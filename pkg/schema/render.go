package schema

import (
	"bytes"
	"fmt"
	"strconv"
)

const msgSeparator = "================================================================================"

// Render produces the canonical self-describing text for s: its own entries
// first, then every transitively referenced schema under a MSG: header, in
// first-encounter order. References are resolved through reg.
func Render(s *Schema, reg Registry) ([]byte, error) {
	var buf bytes.Buffer
	writeEntries(&buf, s)

	seen := map[string]bool{s.Name: true}
	queue := appendDependencies(nil, s, seen)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		dep, ok := reg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("render %s: %w: %s", s.Name, ErrUnknownSchema, name)
		}
		buf.WriteString(msgSeparator + "\n")
		buf.WriteString("MSG: " + name + "\n")
		writeEntries(&buf, dep)
		queue = appendDependencies(queue, dep, seen)
	}
	return buf.Bytes(), nil
}

func writeEntries(buf *bytes.Buffer, s *Schema) {
	for _, e := range s.Entries {
		switch x := e.(type) {
		case Field:
			fmt.Fprintf(buf, "%s %s\n", x.Type, x.Name)
		case Constant:
			fmt.Fprintf(buf, "%s %s=%s\n", x.Type, x.Name, formatConstantValue(x.Value))
		}
	}
}

func appendDependencies(queue []string, s *Schema, seen map[string]bool) []string {
	for _, e := range s.Entries {
		f, ok := e.(Field)
		if !ok {
			continue
		}
		if name, ok := namedElem(f.Type); ok && !seen[name] {
			seen[name] = true
			queue = append(queue, name)
		}
	}
	return queue
}

func namedElem(t Type) (string, bool) {
	for {
		switch x := t.(type) {
		case Array:
			t = x.Elem
		case Sequence:
			t = x.Elem
		case Named:
			return x.Name, true
		default:
			return "", false
		}
	}
}

func formatConstantValue(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "true"
		}
		return "false"
	case string:
		return strconv.Quote(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprintf("%d", v)
	}
}
