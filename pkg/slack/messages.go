package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

// SeverityEmoji returns the emoji prefix for a given severity level.
func SeverityEmoji(severity string) string {
	switch severity {
	case "critical":
		return "🔴"
	case "warning":
		return "🟡"
	case "info":
		return "🔵"
	default:
		return "⚪"
	}
}

// AlertBlocks builds Slack Block Kit blocks for an operator alert.
func AlertBlocks(alert AlertInfo) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType, headline(alert), true, false),
	)

	var fields []*goslack.TextBlockObject
	if alert.TenantName != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Tenant:* %s", alert.TenantName), false, false))
	}
	if alert.TenantID != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Tenant ID:* `%s`", alert.TenantID), false, false))
	}
	if alert.Component != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Component:* %s", alert.Component), false, false))
	}

	blocks := []goslack.Block{header}
	if len(fields) > 0 {
		blocks = append(blocks, goslack.NewSectionBlock(nil, fields, nil))
	}
	if alert.Detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, "```"+truncate(alert.Detail, 500)+"```", false, false),
			nil, nil,
		))
	}
	if alert.Action != "" {
		blocks = append(blocks, goslack.NewContextBlock("",
			goslack.NewTextBlockObject(goslack.MarkdownType, "💡 "+alert.Action, false, false),
		))
	}
	return blocks
}

func headline(alert AlertInfo) string {
	return fmt.Sprintf("%s %s", SeverityEmoji(alert.Severity), alert.Title)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
