package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MEKXH/opsdesk/internal/vendor"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

type CreateEventInput struct {
	Title           string   `json:"title" jsonschema:"required,description=Event title"`
	Start           string   `json:"start" jsonschema:"required,description=Start time as RFC3339 timestamp"`
	DurationMinutes int      `json:"duration_minutes,omitempty" jsonschema:"description=Length in minutes (default 30)"`
	Location        string   `json:"location,omitempty" jsonschema:"description=Where the event takes place"`
	Attendees       []string `json:"attendees,omitempty" jsonschema:"description=Attendee email addresses"`
}

type ListEventsInput struct {
	From string `json:"from,omitempty" jsonschema:"description=Range start as RFC3339 timestamp or YYYY-MM-DD (default now)"`
	Days int    `json:"days,omitempty" jsonschema:"description=Number of days to include (default 7)"`
}

type calendarToolImpl struct {
	calendar vendor.Calendar
	now      func() time.Time
}

func (t *calendarToolImpl) create(ctx context.Context, input *CreateEventInput) (string, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return "", fmt.Errorf("title is required")
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(input.Start))
	if err != nil {
		return "", fmt.Errorf("invalid start (expected RFC3339): %w", err)
	}
	duration := input.DurationMinutes
	if duration <= 0 {
		duration = 30
	}

	ev, err := t.calendar.CreateEvent(ctx, vendor.Event{
		Title:     title,
		Start:     start,
		End:       start.Add(time.Duration(duration) * time.Minute),
		Location:  strings.TrimSpace(input.Location),
		Attendees: trimAll(input.Attendees),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Event created: id=%s title=%q start=%s end=%s", ev.ID, ev.Title, ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339)), nil
}

func (t *calendarToolImpl) list(ctx context.Context, input *ListEventsInput) (string, error) {
	from := t.now()
	if raw := strings.TrimSpace(input.From); raw != "" {
		parsed, err := parseDate(raw)
		if err != nil {
			return "", fmt.Errorf("invalid from: %w", err)
		}
		from = parsed
	}
	days := input.Days
	if days <= 0 {
		days = 7
	}

	events, err := t.calendar.ListEvents(ctx, from, from.AddDate(0, 0, days))
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "No events in range.", nil
	}
	var sb strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&sb, "- %s %s (id=%s", ev.Start.Format("2006-01-02 15:04"), ev.Title, ev.ID)
		if ev.Location != "" {
			fmt.Fprintf(&sb, ", location=%s", ev.Location)
		}
		sb.WriteString(")\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// NewCreateEventTool creates a tool that books a calendar event.
func NewCreateEventTool(calendar vendor.Calendar) (tool.InvokableTool, error) {
	impl := &calendarToolImpl{calendar: calendar, now: time.Now}
	return utils.InferTool("create_calendar_event", "Create a calendar event.", impl.create)
}

// NewListEventsTool creates a read-only calendar listing tool.
func NewListEventsTool(calendar vendor.Calendar) (tool.InvokableTool, error) {
	impl := &calendarToolImpl{calendar: calendar, now: time.Now}
	return utils.InferTool("list_calendar_events", "List calendar events in a date range.", impl.list)
}
