// Package scanner parses in-source comment-tag task markers (spec §6):
// `<comment-syntax> <prefix><agent>:<mode> <description>`. Only the
// file-format parser is in scope; the scanning UI/editor integration is a
// Non-goal (spec §1).
package scanner

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

// DefaultPrefix is the marker prefix used when a tag omits one explicitly.
const DefaultPrefix = "@@"

// Tag is one parsed comment-tag marker.
type Tag struct {
	Line        int
	Prefix      string
	Agent       string
	Mode        string
	Description string
	Raw         string
}

// markerPattern builds the regex matching `<prefix><agent>:<mode>
// <description>` for a given literal prefix. Comment-syntax leaders
// (//, #, --, etc.) are not matched explicitly; the prefix may appear
// anywhere on the line, inline or in a leading comment.
func markerPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(prefix) + `([A-Za-z0-9_-]+):([A-Za-z0-9_-]+)\s*(.*)`)
}

// ScanLine looks for a single marker using prefix (DefaultPrefix if empty)
// in one line of source, returning ok=false if none is present.
func ScanLine(prefix string, lineNo int, line string) (Tag, bool) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	m := markerPattern(prefix).FindStringSubmatch(line)
	if m == nil {
		return Tag{}, false
	}
	return Tag{
		Line:        lineNo,
		Prefix:      prefix,
		Agent:       m[1],
		Mode:        m[2],
		Description: strings.TrimSpace(m[3]),
		Raw:         strings.TrimSpace(line),
	}, true
}

// Scan reads r line by line using prefix (DefaultPrefix if empty) and
// returns every marker found, in file order.
func Scan(r io.Reader, prefix string) ([]Tag, error) {
	var tags []Tag
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if tag, ok := ScanLine(prefix, lineNo, scanner.Text()); ok {
			tags = append(tags, tag)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return tags, nil
}
