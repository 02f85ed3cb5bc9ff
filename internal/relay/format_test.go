package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/astanek/livechat-relay/internal/session"
)

func TestFormatVisitorMessage(t *testing.T) {
	got := formatVisitorMessage("hi", "visitor-123", &session.UserInfo{
		Name:  " Sam ",
		Email: "sam@example.com",
	})
	assert.Equal(t, "hi\nVisitor: visitor-123\nName: Sam\nEmail: sam@example.com", got)
}

func TestFormatVisitorMessage_NoInfo(t *testing.T) {
	got := formatVisitorMessage("hi", "visitor-123", nil)
	assert.Equal(t, "hi\nVisitor: visitor-123", got)
}

func TestFormatVisitorMessage_BlankFieldsSkipped(t *testing.T) {
	got := formatVisitorMessage("hi", "visitor-123", &session.UserInfo{
		Name:  "   ",
		Phone: "555-0100",
	})
	assert.Equal(t, "hi\nVisitor: visitor-123\nPhone: 555-0100", got)
}

func TestFormatUserInfo(t *testing.T) {
	got := formatUserInfo("visitor-9", &session.UserInfo{Name: "Sam", Phone: "555"})
	assert.Equal(t, "Visitor: visitor-9\nName: Sam\nPhone: 555", got)
}
