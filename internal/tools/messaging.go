package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/MEKXH/opsdesk/internal/vendor"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

type SendSMSInput struct {
	To   string `json:"to" jsonschema:"required,description=Recipient phone number in E.164 format"`
	Body string `json:"body" jsonschema:"required,description=Text of the message"`
}

type SendEmailInput struct {
	To      []string `json:"to" jsonschema:"required,description=Recipient email addresses"`
	CC      []string `json:"cc,omitempty" jsonschema:"description=Carbon copy recipients"`
	Subject string   `json:"subject" jsonschema:"required,description=Email subject line"`
	Body    string   `json:"body" jsonschema:"required,description=Plain text email body"`
}

type smsToolImpl struct {
	messenger vendor.Messenger
}

func (t *smsToolImpl) execute(ctx context.Context, input *SendSMSInput) (string, error) {
	to := strings.TrimSpace(input.To)
	body := strings.TrimSpace(input.Body)
	if to == "" {
		return "", fmt.Errorf("to is required")
	}
	if body == "" {
		return "", fmt.Errorf("body is required")
	}

	receipt, err := t.messenger.SendSMS(ctx, vendor.SMS{To: to, Body: body})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SMS sent to %s: id=%s status=%s", to, receipt.ID, receipt.Status), nil
}

// NewSendSMSTool creates a tool that sends a text message.
func NewSendSMSTool(messenger vendor.Messenger) (tool.InvokableTool, error) {
	impl := &smsToolImpl{messenger: messenger}
	return utils.InferTool("send_sms", "Send an SMS text message to a phone number.", impl.execute)
}

type emailToolImpl struct {
	mailer vendor.Mailer
}

func (t *emailToolImpl) execute(ctx context.Context, input *SendEmailInput) (string, error) {
	to := trimAll(input.To)
	if len(to) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}
	if strings.TrimSpace(input.Subject) == "" {
		return "", fmt.Errorf("subject is required")
	}

	receipt, err := t.mailer.SendEmail(ctx, vendor.Email{
		To:      to,
		CC:      trimAll(input.CC),
		Subject: strings.TrimSpace(input.Subject),
		Body:    input.Body,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Email sent to %s: id=%s status=%s", strings.Join(to, ", "), receipt.ID, receipt.Status), nil
}

// NewSendEmailTool creates a tool that sends an email.
func NewSendEmailTool(mailer vendor.Mailer) (tool.InvokableTool, error) {
	impl := &emailToolImpl{mailer: mailer}
	return utils.InferTool("send_email", "Send an email to one or more recipients.", impl.execute)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
