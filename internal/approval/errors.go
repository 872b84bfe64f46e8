package approval

import (
	"fmt"
	"strings"

	"github.com/MEKXH/opsdesk/internal/conversation"
)

// ErrConversationNotFound is returned when the conversation is absent or
// owned by someone else.
var ErrConversationNotFound = conversation.ErrNotFound

// ValidationError rejects a request before the agent runs or anything is
// written.
type ValidationError struct {
	Message string
	// ToolCallIDs names the pending calls involved, such as the ones a
	// resume left undecided.
	ToolCallIDs []string
}

func (e *ValidationError) Error() string {
	if len(e.ToolCallIDs) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.ToolCallIDs, ", "))
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
