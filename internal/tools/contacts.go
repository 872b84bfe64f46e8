package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MEKXH/opsdesk/internal/vendor"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

type LookupContactInput struct {
	Query string `json:"query" jsonschema:"required,description=Name, company, email or phone fragment to search for"`
}

type contactsToolImpl struct {
	contacts vendor.Contacts
}

func (t *contactsToolImpl) execute(ctx context.Context, input *LookupContactInput) (string, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	found, err := t.contacts.Lookup(ctx, query)
	if errors.Is(err, vendor.ErrNotFound) {
		return fmt.Sprintf("No contacts match %q.", query), nil
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, c := range found {
		fields := []string{c.Name}
		if c.Phone != "" {
			fields = append(fields, "phone="+c.Phone)
		}
		if c.Email != "" {
			fields = append(fields, "email="+c.Email)
		}
		if c.Company != "" {
			fields = append(fields, "company="+c.Company)
		}
		sb.WriteString("- " + strings.Join(fields, " ") + "\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// NewLookupContactTool creates a read-only address book search tool.
func NewLookupContactTool(contacts vendor.Contacts) (tool.InvokableTool, error) {
	impl := &contactsToolImpl{contacts: contacts}
	return utils.InferTool("lookup_contact", "Search the address book for a contact.", impl.execute)
}
