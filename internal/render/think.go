// Package render formats assistant replies for the terminal.
package render

import (
	"regexp"
	"strings"
)

var thinkBlockRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// SplitThink separates reasoning emitted inside <think> tags from the reply.
// found is false when the content has no think block.
func SplitThink(content string) (think, reply string, found bool) {
	matches := thinkBlockRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return "", content, false
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if s := strings.TrimSpace(m[1]); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n"), strings.TrimSpace(thinkBlockRe.ReplaceAllString(content, "")), true
}
