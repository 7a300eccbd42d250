package whatsapp

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/wisbric/slotowl/pkg/agent"
)

// MaxMessageLength is the Cloud API limit for a text body, in characters.
const MaxMessageLength = 4096

var (
	headingRe  = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+(.+?)[ \t#]*$`)
	boldRe     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe   = regexp.MustCompile(`__(.+?)__`)
	citationRe = regexp.MustCompile(`【[^】]*】`)
	blankRe    = regexp.MustCompile(`\n{3,}`)
)

// Format converts model Markdown to WhatsApp markup: **bold** becomes
// *bold*, __italic__ becomes _italic_ and headings become bold lines.
// Citation markers are removed. An empty result is replaced by the fallback
// reply.
func Format(text string) string {
	text = citationRe.ReplaceAllString(text, "")
	text = headingRe.ReplaceAllStringFunc(text, func(line string) string {
		m := headingRe.FindStringSubmatch(line)
		inner := strings.Trim(strings.ReplaceAll(m[1], "**", ""), "* ")
		if inner == "" {
			return ""
		}
		return "*" + inner + "*"
	})
	text = boldRe.ReplaceAllString(text, "*$1*")
	text = italicRe.ReplaceAllString(text, "_${1}_")
	text = blankRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return agent.FallbackReply
	}
	return text
}

// Split breaks text into ordered parts of at most limit characters. It cuts
// at the last paragraph break that fits, then the last line break, then the
// last space, and otherwise at a rune boundary.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}

	var parts []string
	for {
		text = strings.TrimSpace(text)
		if text == "" {
			return parts
		}
		if utf8.RuneCountInString(text) <= limit {
			return append(parts, text)
		}

		window := text[:runeOffset(text, limit)]
		cut := -1
		for _, sep := range []string{"\n\n", "\n", " "} {
			if i := strings.LastIndex(window, sep); i > 0 {
				cut = i
				break
			}
		}
		if cut < 0 {
			parts = append(parts, window)
			text = text[len(window):]
			continue
		}
		parts = append(parts, strings.TrimRight(window[:cut], " \t\n"))
		text = text[cut:]
	}
}

// runeOffset returns the byte offset of the n-th rune of s.
func runeOffset(s string, n int) int {
	i := 0
	for off := range s {
		if i == n {
			return off
		}
		i++
	}
	return len(s)
}
