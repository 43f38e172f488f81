package record

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"

	"github.com/trezcool/autoregister/core"
)

const dateLayout = "2006-01-02"

// Notification events, sent as the email category.
const (
	EventGradePublished     = "grade_published"
	EventGradeAppealed      = "grade_appealed"
	EventAppealAccepted     = "appeal_accepted"
	EventAppealRejected     = "appeal_rejected"
	EventCorrectionRequired = "correction_requested"
	EventGradeCorrected     = "grade_corrected"
)

// notice is a notification about a record, and optionally one of its appeals.
type notice struct {
	event    string
	subject  string
	body     string
	rec      Record
	appealID string
}

func (n notice) tags() map[string]string {
	tags := map[string]string{
		"event":     n.event,
		"record_id": n.rec.ID,
		"subject":   n.rec.Subject,
		"period":    strconv.Itoa(n.rec.Period),
	}
	if n.appealID != "" {
		tags["appeal_id"] = n.appealID
	}
	return tags
}

// notify mails `n` to the users with an email among `userIDs`. Unknown users are skipped.
func (svc *Service) notify(ctx context.Context, n notice, userIDs ...string) {
	if svc.mailer == nil {
		return
	}

	to := make([]mail.Address, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		usr, err := svc.users.GetByID(ctx, id)
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("notify %s: finding user %q: %v", n.event, id, err), err)
			continue
		}
		if usr.Email == "" {
			continue
		}
		to = append(to, mail.Address{Name: usr.Name, Address: usr.Email})
	}
	if len(to) == 0 {
		return
	}
	svc.mailer.SendMessages(&core.EmailMessage{
		To:       to,
		Subject:  n.subject,
		BodyStr:  n.body,
		Category: n.event,
		Tags:     n.tags(),
	})
}
