package record

import (
	"context"
	"fmt"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/grading"
	"github.com/trezcool/autoregister/core/user"
)

const (
	DefaultEditWindowDays = 7

	opCreateOrUpdate = "create_or_update"
	opPublish        = "publish"
	opCreateAppeal   = "create_appeal"
	opResolveAppeal  = "resolve_appeal"
	opApplyCorrect   = "apply_appeal_correction"
	opDismissAlert   = "dismiss_alert"
)

type (
	// Repository is the record table. Returned records are copies: mutating them does not touch the table.
	Repository interface {
		// FindByKey fails with ErrRecordNotFound if no record exists for the key.
		FindByKey(ctx context.Context, key Key) (Record, error)
		// FindByID fails with ErrRecordNotFound if no record has the ID.
		FindByID(ctx context.Context, id string) (Record, error)
		// Upsert inserts the record, or replaces the record with the same ID.
		Upsert(ctx context.Context, rec Record) (Record, error)
		Query(ctx context.Context, filter Filter) ([]Record, error)
	}

	// Metrics observes the outcome of every lifecycle operation.
	Metrics interface {
		ObserveOperation(op string, kind ErrorKind, elapsed time.Duration)
	}

	Deps struct {
		Repo       Repository
		Users      *user.Service
		Calculator *grading.Calculator
		Validate   *validator.Validate
		Translator ut.Translator
		Logger     core.Logger

		// optional
		Locker             core.Locker       // defaults to an in-process core.KeyedMutex
		Mailer             core.EmailService // no notifications when nil
		Metrics            Metrics
		EditWindowDays     int // defaults to DefaultEditWindowDays
		RequireMethodology bool
		Now                func() time.Time // defaults to time.Now
	}

	// Service is the only writer of the record table.
	Service struct {
		repo               Repository
		users              *user.Service
		calc               *grading.Calculator
		validate           *validator.Validate
		translator         ut.Translator
		logger             core.Logger
		locker             core.Locker
		mailer             core.EmailService
		metrics            Metrics
		editWindowDays     int
		requireMethodology bool
		now                func() time.Time
	}
)

func NewService(deps Deps) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Repo, "Repo"),
		vala.IsNotNil(deps.Users, "Users"),
		vala.IsNotNil(deps.Calculator, "Calculator"),
		vala.IsNotNil(deps.Validate, "Validate"),
		vala.IsNotNil(deps.Translator, "Translator"),
		vala.IsNotNil(deps.Logger, "Logger"),
	).CheckAndPanic()

	svc := &Service{
		repo:               deps.Repo,
		users:              deps.Users,
		calc:               deps.Calculator,
		validate:           deps.Validate,
		translator:         deps.Translator,
		logger:             deps.Logger,
		locker:             deps.Locker,
		mailer:             deps.Mailer,
		metrics:            deps.Metrics,
		editWindowDays:     deps.EditWindowDays,
		requireMethodology: deps.RequireMethodology,
		now:                deps.Now,
	}
	if svc.locker == nil {
		svc.locker = core.NewKeyedMutex()
	}
	if svc.editWindowDays <= 0 {
		svc.editWindowDays = DefaultEditWindowDays
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

func (svc *Service) today() time.Time {
	return core.Today(svc.now())
}

func (svc *Service) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := svc.locker.Lock(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "locking %s", key)
	}
	return unlock, nil
}

// finish turns a failed operation into a failed Result, then logs and observes the outcome.
func (svc *Service) finish(op, actorID string, start time.Time, res *Result, err *error) {
	kind := KindOf(*err)
	switch kind {
	case KindNone:
		svc.logger.Info(fmt.Sprintf("%s: %s", op, res.Message), map[string]interface{}{
			"op": op, "actor": actorID, "record": res.RecordID, "appeal": res.AppealID,
		})
	case KindInternal:
		*res = Result{Message: (*err).Error(), Kind: kind}
		svc.logger.Error(fmt.Sprintf("%s: %v", op, *err), *err, map[string]interface{}{"op": op, "actor": actorID})
	default:
		*res = Result{Message: (*err).Error(), Kind: kind}
		svc.logger.Debug(fmt.Sprintf("%s refused: %v", op, *err), map[string]interface{}{"op": op, "actor": actorID})
	}
	if svc.metrics != nil {
		svc.metrics.ObserveOperation(op, kind, time.Since(start))
	}
}

func (svc *Service) compute(components map[string]float64) (grading.Score, error) {
	if err := svc.calc.Validate(components); err != nil {
		return grading.Score{}, &CalculationError{Err: err}
	}
	score, err := svc.calc.ComputeFinal(components)
	if err != nil {
		return grading.Score{}, &CalculationError{Err: err}
	}
	return score, nil
}

// checkStudent fails with a ValidationError unless `id` is a known student.
func (svc *Service) checkStudent(ctx context.Context, id string) error {
	usr, err := svc.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return core.NewValidationError(core.ErrInvalidInput, core.FieldError{Field: "student_id", Error: "unknown student"})
		}
		return errors.Wrap(err, "finding student")
	}
	if usr.Role != user.RoleStudent {
		return core.NewValidationError(core.ErrInvalidInput, core.FieldError{Field: "student_id", Error: "user is not a student"})
	}
	return nil
}

// CreateOrUpdate enters the grade of a student for a subject and period.
// An existing record keeps its ID and appeals, and goes back to draft.
func (svc *Service) CreateOrUpdate(ctx context.Context, actorID string, entry Entry) (res Result, err error) {
	defer svc.finish(opCreateOrUpdate, actorID, time.Now(), &res, &err)

	actor, err := svc.users.Resolve(ctx, actorID)
	if err != nil {
		return res, err
	}
	if !actor.Capabilities.FillFields {
		return res, ErrPermissionDenied
	}

	if err = entry.Clean(); err != nil {
		return res, err
	}
	if err = svc.validate.Struct(entry); err != nil {
		return res, core.TranslateValidationErrors(err, svc.translator)
	}
	if err = svc.checkStudent(ctx, entry.StudentID); err != nil {
		return res, err
	}

	score, err := svc.compute(entry.Components)
	if err != nil {
		return res, err
	}

	unlockKey, err := svc.lock(ctx, "key:"+entry.Key().String())
	if err != nil {
		return res, err
	}
	defer unlockKey()

	today := svc.today()
	now := svc.now().UTC()
	msg := "record updated"

	rec, err := svc.repo.FindByKey(ctx, entry.Key())
	switch {
	case err == nil:
		unlockRec, lErr := svc.lock(ctx, "record:"+rec.ID)
		if lErr != nil {
			return res, lErr
		}
		defer unlockRec()

		if rec.Published && today.After(rec.Deadline) &&
			!(actor.Capabilities.ModifyAfterDeadline || actor.Capabilities.EditWithin7Days) {
			return res, ErrEditWindowClosed
		}
	case errors.Is(err, ErrRecordNotFound):
		msg = "record created"
		rec = Record{
			ID:        uuid.New().String(),
			StudentID: entry.StudentID,
			Subject:   entry.Subject,
			Period:    entry.Period,
			CreatedAt: now,
		}
	default:
		return res, errors.Wrap(err, "finding record by key")
	}

	rec.TeacherID = actor.ID()
	rec.Components = entry.Components
	rec.NumericScore = score.Value
	rec.LetterGrade = score.Letter
	rec.Methodology = entry.Methodology
	rec.Published = false
	rec.AlertActive = true
	rec.Deadline = today.AddDate(0, 0, svc.editWindowDays)
	rec.UpdatedAt = now

	if rec, err = svc.repo.Upsert(ctx, rec); err != nil {
		return res, errors.Wrap(err, "saving record")
	}
	return newResult(msg, rec), nil
}

// Publish makes a draft record official and opens its edit window. Publishing twice is a no-op.
func (svc *Service) Publish(ctx context.Context, actorID, recordID string) (res Result, err error) {
	defer svc.finish(opPublish, actorID, time.Now(), &res, &err)

	actor, err := svc.users.Resolve(ctx, actorID)
	if err != nil {
		return res, err
	}
	if !actor.Capabilities.Publish {
		return res, ErrPermissionDenied
	}

	unlock, err := svc.lock(ctx, "record:"+recordID)
	if err != nil {
		return res, err
	}
	defer unlock()

	rec, err := svc.repo.FindByID(ctx, recordID)
	if err != nil {
		return res, err
	}
	if rec.Published {
		return newResult("record already published", rec), nil
	}
	if svc.requireMethodology && rec.Methodology == "" {
		return res, ErrMethodologyRequired
	}

	today := svc.today()
	rec.Published = true
	rec.AlertActive = false
	rec.PublishedAt = today
	rec.Deadline = today.AddDate(0, 0, svc.editWindowDays)
	rec.UpdatedAt = svc.now().UTC()

	if rec, err = svc.repo.Upsert(ctx, rec); err != nil {
		return res, errors.Wrap(err, "saving record")
	}

	svc.notify(ctx, notice{
		event:   EventGradePublished,
		subject: "Grade published",
		body: fmt.Sprintf("Your %s grade for period %d has been published: %.2f (%s).\nYou may appeal it until %s.",
			rec.Subject, rec.Period, rec.NumericScore, rec.LetterGrade, rec.Deadline.Format(dateLayout)),
		rec: rec,
	}, rec.StudentID)
	return newResult("record published", rec), nil
}

// CreateAppeal lets a student appeal their own published record.
func (svc *Service) CreateAppeal(ctx context.Context, studentID, recordID, comment string) (res Result, err error) {
	defer svc.finish(opCreateAppeal, studentID, time.Now(), &res, &err)

	actor, err := svc.users.Resolve(ctx, studentID)
	if err != nil {
		return res, err
	}
	if actor.Role() != user.RoleStudent {
		return res, ErrPermissionDenied
	}

	unlock, err := svc.lock(ctx, "record:"+recordID)
	if err != nil {
		return res, err
	}
	defer unlock()

	rec, err := svc.repo.FindByID(ctx, recordID)
	if err != nil {
		return res, err
	}
	if !rec.Published {
		return res, ErrNotPublished
	}
	if rec.StudentID != actor.ID() {
		return res, ErrNotOwner
	}

	appeal := Appeal{
		ID:        uuid.New().String(),
		StudentID: actor.ID(),
		CreatedAt: svc.today(),
		Comment:   core.CleanString(comment),
		State:     AppealPending,
	}
	rec.Appeals = append(rec.Appeals, appeal)
	rec.UpdatedAt = svc.now().UTC()

	if rec, err = svc.repo.Upsert(ctx, rec); err != nil {
		return res, errors.Wrap(err, "saving record")
	}

	svc.notify(ctx, notice{
		event:   EventGradeAppealed,
		subject: "Grade appealed",
		body: fmt.Sprintf("%s appealed their %s grade for period %d (%.2f, %s).\nComment: %s",
			actor.User.Name, rec.Subject, rec.Period, rec.NumericScore, rec.LetterGrade, appeal.Comment),
		rec:      rec,
		appealID: appeal.ID,
	}, rec.TeacherID)
	return newResult("appeal created", rec, appeal.ID), nil
}

// ResolveAppeal accepts or rejects a pending appeal. An accepted appeal flags the record for correction.
func (svc *Service) ResolveAppeal(ctx context.Context, adminID, recordID, appealID, newState, response string) (res Result, err error) {
	defer svc.finish(opResolveAppeal, adminID, time.Now(), &res, &err)

	actor, err := svc.users.Resolve(ctx, adminID)
	if err != nil {
		return res, err
	}
	if !(actor.Capabilities.ManageUsers || actor.Capabilities.ModifyAfterDeadline) {
		return res, ErrPermissionDenied
	}

	unlock, err := svc.lock(ctx, "record:"+recordID)
	if err != nil {
		return res, err
	}
	defer unlock()

	rec, err := svc.repo.FindByID(ctx, recordID)
	if err != nil {
		return res, err
	}
	appeal, ok := rec.appeal(appealID)
	if !ok {
		return res, ErrAppealNotFound
	}
	state, err := ParseAppealState(newState)
	if err != nil {
		return res, err
	}
	if state == AppealPending {
		return res, errors.Wrapf(ErrInvalidState, "%q", newState)
	}
	if appeal.State != AppealPending {
		return res, ErrAppealAlreadyResolved
	}

	appeal.State = state
	appeal.Response = core.CleanString(response)
	appeal.ResolvedBy = actor.ID()
	appeal.ResolvedAt = svc.today()
	rec.AlertActive = state == AppealAccepted
	rec.UpdatedAt = svc.now().UTC()

	resolved := *appeal
	if rec, err = svc.repo.Upsert(ctx, rec); err != nil {
		return res, errors.Wrap(err, "saving record")
	}

	body := fmt.Sprintf("Your appeal of your %s grade for period %d was %s.\nResponse: %s",
		rec.Subject, rec.Period, resolved.State, resolved.Response)
	if resolved.State == AppealAccepted {
		svc.notify(ctx, notice{
			event: EventAppealAccepted, subject: "Appeal accepted", body: body, rec: rec, appealID: resolved.ID,
		}, rec.StudentID)
		svc.notify(ctx, notice{
			event:   EventCorrectionRequired,
			subject: "Grade correction requested",
			body: fmt.Sprintf("An appeal of the %s grade of student %s for period %d was accepted and awaits your correction.",
				rec.Subject, rec.StudentID, rec.Period),
			rec:      rec,
			appealID: resolved.ID,
		}, rec.TeacherID)
	} else {
		svc.notify(ctx, notice{
			event: EventAppealRejected, subject: "Appeal rejected", body: body, rec: rec, appealID: resolved.ID,
		}, rec.StudentID)
	}
	return newResult("appeal "+string(resolved.State), rec, resolved.ID), nil
}

// ApplyAppealCorrection merges `revised` over the components of a record with an accepted appeal and recomputes its grade.
func (svc *Service) ApplyAppealCorrection(ctx context.Context, actorID, recordID, appealID string, revised map[string]float64) (res Result, err error) {
	defer svc.finish(opApplyCorrect, actorID, time.Now(), &res, &err)

	actor, err := svc.users.Resolve(ctx, actorID)
	if err != nil {
		return res, err
	}
	caps := actor.Capabilities
	if !(caps.FillFields || caps.ModifyAfterDeadline || caps.EditWithin7Days) {
		return res, ErrPermissionDenied
	}

	unlock, err := svc.lock(ctx, "record:"+recordID)
	if err != nil {
		return res, err
	}
	defer unlock()

	rec, err := svc.repo.FindByID(ctx, recordID)
	if err != nil {
		return res, err
	}
	appeal, ok := rec.appeal(appealID)
	if !ok {
		return res, ErrAppealNotFound
	}
	if appeal.State != AppealAccepted {
		return res, ErrAppealNotAccepted
	}

	revised, err = cleanComponents(revised)
	if err != nil {
		return res, err
	}
	merged := make(map[string]float64, len(rec.Components)+len(revised))
	for name, v := range rec.Components {
		merged[name] = v
	}
	for name, v := range revised {
		merged[name] = v
	}
	score, err := svc.compute(merged)
	if err != nil {
		return res, err
	}

	today := svc.today()
	appeal.CorrectedAt = today
	rec.Components = merged
	rec.NumericScore = score.Value
	rec.LetterGrade = score.Letter
	rec.AlertActive = false
	rec.Deadline = today
	rec.UpdatedAt = svc.now().UTC()

	if rec, err = svc.repo.Upsert(ctx, rec); err != nil {
		return res, errors.Wrap(err, "saving record")
	}

	svc.notify(ctx, notice{
		event:   EventGradeCorrected,
		subject: "Grade corrected",
		body: fmt.Sprintf("Your %s grade for period %d was corrected after your appeal: %.2f (%s).",
			rec.Subject, rec.Period, rec.NumericScore, rec.LetterGrade),
		rec:      rec,
		appealID: appealID,
	}, rec.StudentID)
	return newResult("correction applied", rec, appealID), nil
}

// DismissAlert clears the alert of a record.
func (svc *Service) DismissAlert(ctx context.Context, actorID, recordID string) (res Result, err error) {
	defer svc.finish(opDismissAlert, actorID, time.Now(), &res, &err)

	actor, err := svc.users.Resolve(ctx, actorID)
	if err != nil {
		return res, err
	}
	if !actor.Capabilities.DismissAlerts {
		return res, ErrPermissionDenied
	}

	unlock, err := svc.lock(ctx, "record:"+recordID)
	if err != nil {
		return res, err
	}
	defer unlock()

	rec, err := svc.repo.FindByID(ctx, recordID)
	if err != nil {
		return res, err
	}
	if !rec.AlertActive {
		return newResult("no active alert", rec), nil
	}
	rec.AlertActive = false
	rec.UpdatedAt = svc.now().UTC()

	if rec, err = svc.repo.Upsert(ctx, rec); err != nil {
		return res, errors.Wrap(err, "saving record")
	}
	return newResult("alert dismissed", rec), nil
}

// Get returns a record. Students may only read their own published records.
func (svc *Service) Get(ctx context.Context, actorID, recordID string) (Record, error) {
	actor, err := svc.users.Resolve(ctx, actorID)
	if err != nil {
		return Record{}, err
	}
	if !actor.Capabilities.ViewGrades {
		return Record{}, ErrPermissionDenied
	}

	rec, err := svc.repo.FindByID(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	if actor.Role() == user.RoleStudent {
		if rec.StudentID != actor.ID() {
			return Record{}, ErrNotOwner
		}
		if !rec.Published {
			return Record{}, ErrNotPublished
		}
	}
	return rec, nil
}

// List returns the records matching `filter`. Students only get their own published records.
func (svc *Service) List(ctx context.Context, actorID string, filter Filter) ([]Record, error) {
	actor, err := svc.users.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Capabilities.ViewGrades {
		return nil, ErrPermissionDenied
	}
	if actor.Role() == user.RoleStudent {
		filter.StudentID = actor.ID()
		filter.PublishedOnly = true
	}
	filter.Clean()
	return svc.repo.Query(ctx, filter)
}

// Alerts returns the records with an active alert: their own for teachers, all of them for staff.
func (svc *Service) Alerts(ctx context.Context, actorID string) ([]Record, error) {
	actor, err := svc.users.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	filter := Filter{AlertOnly: true}
	switch actor.Role() {
	case user.RoleStudent:
		return nil, ErrPermissionDenied
	case user.RoleTeacher:
		filter.TeacherID = actor.ID()
	}
	filter.Clean()
	return svc.repo.Query(ctx, filter)
}
