package actions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/pkg/automation"
)

// fakeMailer records the messages it is asked to send.
type fakeMailer struct {
	sent []EmailMessage
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg EmailMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "queued", nil
}

func TestSendEmail(t *testing.T) {
	m := &fakeMailer{}
	e := &email{mailer: m}

	out, err := e.send(context.Background(), automation.SendEmailSMTPInputs{
		From:     "Ops <ops@example.com>",
		To:       "ada@example.com; bo@example.com",
		CC:       "cy@example.com",
		BCC:      "audit@example.com",
		Subject:  "Weekly report",
		Contents: "<p>done</p>",
	}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, automation.SendEmailOutputs{Success: true, Response: "queued"}, out)

	require.Len(t, m.sent, 1)
	msg := m.sent[0]
	assert.Equal(t, []string{"ada@example.com", "bo@example.com"}, msg.To)
	assert.Equal(t, []string{"cy@example.com"}, msg.CC)
	assert.Equal(t, []string{"audit@example.com"}, msg.BCC)
	assert.Len(t, msg.recipients(), 4)
}

func TestSendEmail_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   automation.SendEmailSMTPInputs
	}{
		{name: "bad from", in: automation.SendEmailSMTPInputs{From: "nobody", To: "ada@example.com"}},
		{name: "bad recipient", in: automation.SendEmailSMTPInputs{From: "ops@example.com", To: "ada@"}},
		{name: "no recipient", in: automation.SendEmailSMTPInputs{From: "ops@example.com", CC: "cy@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMailer{}
			_, err := (&email{mailer: m}).send(context.Background(), tt.in, newRunContext())
			assert.True(t, automation.IsCode(err, automation.ErrInvalidInput))
			assert.Empty(t, m.sent)
		})
	}
}

func TestSendEmail_MailerError(t *testing.T) {
	e := &email{mailer: &fakeMailer{err: errors.New("relay refused")}}
	_, err := e.send(context.Background(), automation.SendEmailSMTPInputs{From: "ops@example.com", To: "ada@example.com"}, newRunContext())
	var failure *automation.ActionFailure
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Message, "relay refused")
}

func TestBuildMessage_OmitsBCC(t *testing.T) {
	raw := string(buildMessage(EmailMessage{
		From:     "ops@example.com",
		To:       []string{"ada@example.com"},
		BCC:      []string{"audit@example.com"},
		Subject:  "Grüße",
		HTMLBody: "<p>hi</p>",
	}))

	assert.Contains(t, raw, "To: ada@example.com\r\n")
	assert.NotContains(t, raw, "audit@example.com")
	assert.NotContains(t, raw, "Cc:")
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n<p>hi</p>"))
}

func TestEnvelope(t *testing.T) {
	assert.Equal(t, "ops@example.com", envelope("Ops <ops@example.com>"))
	assert.Equal(t, "not an address", envelope("not an address"))
}
