package emailsvc

import (
	"bytes"
	"io/ioutil"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/autoregister/core"
	logsvc "github.com/trezcool/autoregister/services/logger"
)

func testConfig() *core.Config {
	conf := &core.Config{AppName: "AutoRegister", SendgridApiKey: "key"}
	conf.SetDefaultFromEmail("AutoRegister <noreply@example.com>")
	return conf
}

func TestConsoleServiceMock(t *testing.T) {
	svc := NewConsoleServiceMock(testConfig(), logsvc.NewZerologLogger(ioutil.Discard, "error", "json"))

	svc.SendMessages(
		&core.EmailMessage{
			To:      []mail.Address{{Name: "Ana", Address: "ana@example.com"}},
			Subject: "Grade published",
			BodyStr: "Your grade has been published.",
		},
		&core.EmailMessage{Subject: "no recipient", BodyStr: "dropped"},
		&core.EmailMessage{To: []mail.Address{{Address: "pedro@example.com"}}, Subject: "no content"},
	)

	sent := svc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Grade published", sent[0].Subject)
	assert.Equal(t, "Your grade has been published.", sent[0].TextContent)

	svc.Reset()
	assert.Empty(t, svc.Sent())
}

func TestConsoleService_send(t *testing.T) {
	out := new(bytes.Buffer)
	svc := consoleService{
		defaultFromEmail: testConfig().DefaultFromEmail(),
		subjPrefix:       "[AutoRegister] ",
		out:              out,
		logger:           logsvc.NewZerologLogger(ioutil.Discard, "error", "json"),
	}

	msg := &core.EmailMessage{
		To:       []mail.Address{{Name: "Ana", Address: "ana@example.com"}},
		Subject:  "Records",
		BodyStr:  "See attached.",
		Category: "records_export",
		Tags:     map[string]string{"rows": "2", "format": "xlsx"},
	}
	require.NoError(t, msg.Attach(strings.NewReader("xlsx"), "records.xlsx", "application/octet-stream"))
	require.True(t, svc.sendMessage(msg))

	printed := out.String()
	assert.Contains(t, printed, "Subject: [AutoRegister] Records")
	assert.Contains(t, printed, "To: \"Ana\" <ana@example.com>")
	assert.Contains(t, printed, "See attached.")
	assert.Contains(t, printed, "filename=records.xlsx")
	assert.Contains(t, printed, "X-Category: records_export\r\n")
	assert.Contains(t, printed, "X-Tag: format=xlsx\r\nX-Tag: rows=2\r\n")
}

func TestSendgridService_build(t *testing.T) {
	svc := NewSendgridService(testConfig(), logsvc.NewZerologLogger(ioutil.Discard, "error", "json"))

	msg := &core.EmailMessage{
		To:          []mail.Address{{Name: "Ana", Address: "ana@example.com"}},
		Cc:          []mail.Address{{Address: "pedro@example.com"}},
		Subject:     "Appeal accepted",
		TextContent: "Your appeal was accepted.",
		Category:    "appeal_accepted",
		Tags:        map[string]string{"record_id": "rec-1", "appeal_id": "apl-1"},
	}
	require.NoError(t, msg.Attach(strings.NewReader("xlsx"), "records.xlsx", "application/octet-stream"))
	m := svc.build(msg)

	assert.Equal(t, "noreply@example.com", m.From.Address)
	assert.Equal(t, []string{"appeal_accepted"}, m.Categories)
	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "[AutoRegister] Appeal accepted", p.Subject)
	require.Len(t, p.To, 1)
	assert.Equal(t, "ana@example.com", p.To[0].Address)
	require.Len(t, p.CC, 1)
	assert.Empty(t, p.BCC)
	assert.Equal(t, map[string]string{"record_id": "rec-1", "appeal_id": "apl-1"}, p.CustomArgs)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "Your appeal was accepted.", m.Content[0].Value)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "records.xlsx", m.Attachments[0].Filename)
	assert.Equal(t, "attachment", m.Attachments[0].Disposition)
}

func TestSendgridService_SendMessages(t *testing.T) {
	tests := []struct {
		name    string
		res     *rest.Response
		err     error
		wantErr string
	}{
		{name: "accepted", res: &rest.Response{StatusCode: http.StatusAccepted}},
		{
			name:    "rejected",
			res:     &rest.Response{StatusCode: http.StatusBadRequest, Body: `{"errors":[]}`},
			wantErr: "sendgrid replied 400",
		},
		{name: "unreachable", err: errors.New("connection refused"), wantErr: "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				mu        sync.Mutex
				delivered []*sgmail.SGMailV3
			)
			svc := newSendgridService(testConfig(), func(m *sgmail.SGMailV3) (*rest.Response, error) {
				mu.Lock()
				defer mu.Unlock()
				delivered = append(delivered, m)
				return tt.res, tt.err
			}, logsvc.NewZerologLogger(ioutil.Discard, "error", "json"))

			msg := &core.EmailMessage{
				To:       []mail.Address{{Address: "ana@example.com"}},
				Subject:  "Grade published",
				BodyStr:  "Your grade has been published.",
				Category: "grade_published",
				Tags:     map[string]string{"record_id": "rec-1"},
			}
			err := svc.sendMessage(msg)
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			// the asynchronous path delivers too, and skips what has nobody to go to
			svc.SendMessages(msg, &core.EmailMessage{Subject: "no recipient", BodyStr: "dropped"})
			svc.Wait()

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, delivered, 2)
			for _, m := range delivered {
				assert.Equal(t, "rec-1", m.Personalizations[0].CustomArgs["record_id"])
			}
		})
	}
}
