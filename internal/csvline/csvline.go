// Package csvline splits a single line of comma-separated text into fields.
//
// It deliberately does not use encoding/csv: deck exports are processed one
// physical line at a time, and unbalanced quotes must degrade silently rather
// than abort the import.
package csvline

import "strings"

// Parse splits line on commas outside double quotes and trims each field.
// A doubled quote inside a quoted field yields one literal quote.
func Parse(line string) []string {
	fields := ParseRaw(line)
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

// ParseRaw is Parse without trimming. Some exports carry significant leading
// whitespace in content columns.
func ParseRaw(line string) []string {
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				current.WriteByte('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case ch == ',' && !inQuotes:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}

	return append(fields, current.String())
}

// Join is the inverse of Parse for fields that need no quoting beyond commas
// and quotes. Fields containing either are quoted with quotes doubled.
func Join(fields []string) string {
	out := make([]string, len(fields))
	for i, f := range fields {
		if strings.ContainsAny(f, ",\"") {
			f = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		}
		out[i] = f
	}
	return strings.Join(out, ",")
}

// LogicalLines splits text into CSV records. With multiline false every
// physical line is a record, matching how deck exports have always been
// read. With multiline true, a line that ends inside an open quoted field is
// joined with the following line by a newline.
func LogicalLines(text string, multiline bool) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	physical := strings.Split(text, "\n")
	if !multiline {
		return physical
	}

	var (
		records []string
		current strings.Builder
		open    bool
	)
	for _, line := range physical {
		if open {
			current.WriteByte('\n')
		}
		current.WriteString(line)
		if strings.Count(line, `"`)%2 == 1 {
			open = !open
		}
		if !open {
			records = append(records, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		records = append(records, current.String())
	}
	return records
}
