package encode

import (
	"bytes"
	"io"
	"strconv"
	"strings"
)

type textWriter struct {
	buf bytes.Buffer
}

func newTextWriter() *textWriter {
	return &textWriter{}
}

func (t *textWriter) StartDataBlock(name string) {
	t.buf.WriteString("data_")
	t.buf.WriteString(blockName(name))
	t.buf.WriteString("\n#\n")
}

func (t *textWriter) WriteCategory(c *Category) {
	if c.RowCount == 0 {
		return
	}
	if c.RowCount == 1 {
		width := 0
		for _, f := range c.Fields {
			width = max(width, len(c.Name)+len(f.Name)+2)
		}
		for i := range c.Fields {
			f := &c.Fields[i]
			key := "_" + c.Name + "." + f.Name
			t.buf.WriteString(key)
			t.buf.WriteString(strings.Repeat(" ", width-len(key)+1))
			t.writeValue(f, 0)
			t.buf.WriteByte('\n')
		}
		t.buf.WriteString("#\n")
		return
	}
	t.buf.WriteString("loop_\n")
	for _, f := range c.Fields {
		t.buf.WriteString("_" + c.Name + "." + f.Name + "\n")
	}
	for row := 0; row < c.RowCount; row++ {
		for i := range c.Fields {
			if i > 0 {
				t.buf.WriteByte(' ')
			}
			t.writeValue(&c.Fields[i], row)
		}
		t.buf.WriteByte('\n')
	}
	t.buf.WriteString("#\n")
}

func (t *textWriter) writeValue(f *Field, row int) {
	if !f.present(row) {
		t.buf.WriteByte('.')
		return
	}
	switch f.Type {
	case String:
		t.buf.WriteString(quote(f.Str(row)))
	case Int:
		t.buf.WriteString(strconv.FormatInt(f.Int(row), 10))
	case Float:
		t.buf.WriteString(formatFloat(f.Float(row), f.Digits, 64))
	case Samples:
		if f.ValueType.IsInteger() {
			t.buf.WriteString(strconv.FormatInt(int64(f.Values[row]), 10))
		} else {
			t.buf.WriteString(formatFloat(f.Values[row], f.Digits, 32))
		}
	}
}

func (t *textWriter) Encode(w io.Writer) error {
	_, err := t.buf.WriteTo(w)
	return err
}

func formatFloat(v float64, digits, bits int) string {
	if digits <= 0 {
		return strconv.FormatFloat(v, 'g', -1, bits)
	}
	return strconv.FormatFloat(v, 'g', digits, bits)
}

// quote makes a string safe as a CIF value.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	special := strings.ContainsAny(s, " \t\n") || strings.ContainsAny(s[:1], "_#$'\"[];") ||
		s == "." || s == "?" || hasReservedPrefix(s)
	if !special {
		return s
	}
	if strings.Contains(s, "\n") || (strings.Contains(s, "'") && strings.Contains(s, "\"")) {
		return "\n;" + s + "\n;"
	}
	if strings.Contains(s, "'") {
		return "\"" + s + "\""
	}
	return "'" + s + "'"
}

func hasReservedPrefix(s string) bool {
	l := strings.ToLower(s)
	for _, p := range []string{"data_", "loop_", "save_", "global_", "stop_"} {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	return false
}

// blockName makes a data block name without whitespace.
func blockName(name string) string {
	name = strings.Join(strings.Fields(name), "_")
	if name == "" {
		return "DATA"
	}
	return strings.ToUpper(name)
}
