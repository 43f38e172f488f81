package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"
	"sync"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/autoregister/core"
)

// deliverFunc hands a built message to the SendGrid v3 mail/send API.
type deliverFunc func(*sgmail.SGMailV3) (*rest.Response, error)

// SendgridService sends notifications through SendGrid. A message's Category becomes a
// SendGrid category and its Tags become custom args, so delivery events can be traced
// back to the record and appeal that caused them.
type SendgridService struct {
	sender     *sgmail.Email
	subjPrefix string
	deliver    deliverFunc
	logger     core.Logger
	inflight   sync.WaitGroup
}

var _ core.EmailService = (*SendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *SendgridService {
	client := sendgrid.NewSendClient(conf.SendgridApiKey)
	return newSendgridService(conf, client.Send, logger)
}

func newSendgridService(conf *core.Config, deliver deliverFunc, logger core.Logger) *SendgridService {
	sender := conf.DefaultFromEmail()
	return &SendgridService{
		sender:     sgmail.NewEmail(sender.Name, sender.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		deliver:    deliver,
		logger:     logger,
	}
}

func (svc *SendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		svc.inflight.Add(1)
		go func() {
			defer svc.inflight.Done()
			if err := svc.sendMessage(msg); err != nil {
				svc.logger.Error(fmt.Sprintf("sending %q email: %v", msg.Subject, err), err)
			}
		}()
	}
}

func (svc *SendgridService) Wait() {
	svc.inflight.Wait()
}

// sendMessage renders and delivers msg. Messages without recipients or content are skipped.
func (svc *SendgridService) sendMessage(msg *core.EmailMessage) error {
	if err := msg.Render(); err != nil {
		return errors.Wrap(err, "rendering")
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return nil
	}

	res, err := svc.deliver(svc.build(msg))
	if err != nil {
		return errors.Wrap(err, "calling sendgrid")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("sendgrid replied %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (svc *SendgridService) build(msg *core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject
	p.AddTos(sgEmails(msg.To)...)
	if len(msg.Cc) > 0 {
		p.AddCCs(sgEmails(msg.Cc)...)
	}
	if len(msg.Bcc) > 0 {
		p.AddBCCs(sgEmails(msg.Bcc)...)
	}
	for _, name := range msg.TagNames() {
		p.SetCustomArg(name, msg.Tags[name])
	}

	m := sgmail.NewV3Mail().SetFrom(svc.sender).AddPersonalizations(p)
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	if msg.HasContent() {
		m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	}
	for _, at := range msg.Attachments {
		m.AddAttachment(sgmail.NewAttachment().
			SetContent(at.Content.String()).
			SetType(at.ContentType).
			SetFilename(at.Filename).
			SetDisposition("attachment"))
	}
	return m
}

func sgEmails(addrs []mail.Address) []*sgmail.Email {
	emails := make([]*sgmail.Email, 0, len(addrs))
	for _, addr := range addrs {
		emails = append(emails, sgmail.NewEmail(addr.Name, addr.Address))
	}
	return emails
}
