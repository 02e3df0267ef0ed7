package perforce

import (
	"strings"
)

// parseTagged splits `p4 -ztag` output into records. Each record is a run
// of "... key value" lines; blank lines separate records. Lines without the
// tag prefix continue the previous value.
func parseTagged(out string) []map[string]string {
	var (
		records []map[string]string
		current map[string]string
		lastKey string
	)
	flush := func() {
		if len(current) > 0 {
			records = append(records, current)
		}
		current = nil
		lastKey = ""
	}

	for _, line := range strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "... ") {
			if current == nil {
				current = make(map[string]string)
			}
			key, value, _ := strings.Cut(strings.TrimPrefix(line, "... "), " ")
			current[key] = value
			lastKey = key
			continue
		}
		if current != nil && lastKey != "" {
			current[lastKey] += "\n" + line
		}
	}
	flush()
	return records
}

// clientFormOrder lists the writable client spec fields in form order.
var clientFormOrder = []string{
	"Client",
	"Owner",
	"Host",
	"Description",
	"Root",
	"AltRoots",
	"Options",
	"SubmitOptions",
	"LineEnd",
	"Stream",
	"StreamAtChange",
	"ServerID",
	"Type",
	"Backup",
}

// renderForm writes spec in the layout `p4 client -i` reads. View lines are
// omitted; stream workspaces derive them from the stream.
func renderForm(spec ClientSpec) string {
	var b strings.Builder
	for _, field := range clientFormOrder {
		value, ok := spec[field]
		if !ok || value == "" {
			continue
		}
		value = strings.TrimRight(value, "\n")
		if strings.Contains(value, "\n") || field == "Description" {
			b.WriteString(field + ":\n")
			for _, line := range strings.Split(value, "\n") {
				b.WriteString("\t" + line + "\n")
			}
		} else {
			b.WriteString(field + ":\t" + value + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderChange writes a change form submitting files with message.
func renderChange(message string, files []string) string {
	var b strings.Builder
	b.WriteString("Change:\tnew\n\nDescription:\n")
	for _, line := range strings.Split(strings.TrimRight(message, "\n"), "\n") {
		b.WriteString("\t" + line + "\n")
	}
	b.WriteString("\nFiles:\n")
	for _, f := range files {
		b.WriteString("\t" + f + "\n")
	}
	return b.String()
}
