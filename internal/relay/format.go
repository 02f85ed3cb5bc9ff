package relay

import (
	"strings"

	"github.com/astanek/livechat-relay/internal/session"
)

// userInfoLines renders the non-blank fields of a visitor's contact info,
// one "Capitalized-Key: value" line each, in a fixed field order.
func userInfoLines(info *session.UserInfo) []string {
	if info == nil {
		return nil
	}

	var lines []string
	for _, field := range []struct{ key, value string }{
		{"Name", info.Name},
		{"Email", info.Email},
		{"Phone", info.Phone},
	} {
		v := strings.TrimSpace(field.value)
		if v == "" {
			continue
		}
		lines = append(lines, field.key+": "+v)
	}
	return lines
}

// formatVisitorMessage builds the Telegram text block for a visitor chat
// message: body, visitor id, then any contact info lines.
func formatVisitorMessage(text, visitorID string, info *session.UserInfo) string {
	lines := append([]string{text, "Visitor: " + visitorID}, userInfoLines(info)...)
	return strings.Join(lines, "\n")
}

// formatUserInfo builds the text block announcing a visitor's submitted
// contact info, for both the admin connection and Telegram.
func formatUserInfo(visitorID string, info *session.UserInfo) string {
	lines := append([]string{"Visitor: " + visitorID}, userInfoLines(info)...)
	return strings.Join(lines, "\n")
}
