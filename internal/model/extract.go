// internal/model/extract.go
package model

import (
	"regexp"
	"strings"
)

// fencedBlock matches the first markdown code fence, with any language tag.
// \x60 is a backtick.
var fencedBlock = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z0-9_+-]*[ \t]*\n?(.*?)\n?[ \t]*\x60\x60\x60")

// ExtractCode returns the body of the first fenced code block in response,
// or the whole response when it has none. The result ends with exactly one
// newline so it can be written out as a file.
func ExtractCode(response string) string {
	body := response
	if m := fencedBlock.FindStringSubmatch(response); len(m) > 1 {
		body = m[1]
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	return body + "\n"
}
