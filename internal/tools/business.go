package tools

import (
	"context"
	"log/slog"

	"github.com/MEKXH/opsdesk/internal/vendor"
	"github.com/cloudwego/eino/components/tool"
)

// RegisterBusinessTools registers a tool for every configured vendor client.
func RegisterBusinessTools(reg *Registry, suite vendor.Suite) error {
	var toolFns []func() (tool.InvokableTool, error)
	if suite.Messenger != nil {
		toolFns = append(toolFns, func() (tool.InvokableTool, error) { return NewSendSMSTool(suite.Messenger) })
	}
	if suite.Mailer != nil {
		toolFns = append(toolFns, func() (tool.InvokableTool, error) { return NewSendEmailTool(suite.Mailer) })
	}
	if suite.Tasks != nil {
		toolFns = append(toolFns,
			func() (tool.InvokableTool, error) { return NewCreateTaskTool(suite.Tasks) },
			func() (tool.InvokableTool, error) { return NewListTasksTool(suite.Tasks) },
		)
	}
	if suite.Calendar != nil {
		toolFns = append(toolFns,
			func() (tool.InvokableTool, error) { return NewCreateEventTool(suite.Calendar) },
			func() (tool.InvokableTool, error) { return NewListEventsTool(suite.Calendar) },
		)
	}
	if suite.Contacts != nil {
		toolFns = append(toolFns, func() (tool.InvokableTool, error) { return NewLookupContactTool(suite.Contacts) })
	}

	registered := make([]string, 0, len(toolFns))
	for _, fn := range toolFns {
		t, err := fn()
		if err != nil {
			return err
		}
		if err := reg.Register(t); err != nil {
			return err
		}
		if info, err := t.Info(context.Background()); err == nil && info != nil {
			registered = append(registered, info.Name)
		}
	}

	slog.Info("registered tools", "count", len(registered), "tools", registered)
	return nil
}
