package record

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
)

// AppealState is the resolution state of an Appeal.
type AppealState string

const (
	AppealPending  AppealState = "pending"
	AppealAccepted AppealState = "accepted"
	AppealRejected AppealState = "rejected"
)

var appealStateAliases = map[string]AppealState{
	"pending":   AppealPending,
	"pendiente": AppealPending,
	"accepted":  AppealAccepted,
	"accept":    AppealAccepted,
	"aceptada":  AppealAccepted,
	"aceptado":  AppealAccepted,
	"rejected":  AppealRejected,
	"reject":    AppealRejected,
	"rechazada": AppealRejected,
	"rechazado": AppealRejected,
}

// ParseAppealState parses an appeal state case-insensitively, in english or spanish.
func ParseAppealState(s string) (AppealState, error) {
	if st, ok := appealStateAliases[core.CleanString(s, true /* lower */)]; ok {
		return st, nil
	}
	return "", errors.Wrapf(ErrInvalidState, "%q", s)
}

// State is the lifecycle state of a Record, derived from its publication and deadline.
type State string

const (
	StateDraft     State = "draft"
	StatePublished State = "published"
	StateLocked    State = "locked"
)

type Appeal struct {
	ID          string      `json:"id"`
	StudentID   string      `json:"student_id"`
	CreatedAt   time.Time   `json:"created_at"`
	Comment     string      `json:"comment"`
	State       AppealState `json:"state"`
	Response    string      `json:"response,omitempty"`
	ResolvedBy  string      `json:"resolved_by,omitempty"`
	ResolvedAt  time.Time   `json:"resolved_at,omitempty"`
	CorrectedAt time.Time   `json:"corrected_at,omitempty"`
}

// Record is the grade of one student for one subject and period.
type Record struct {
	ID           string             `json:"id"`
	StudentID    string             `json:"student_id"`
	TeacherID    string             `json:"teacher_id"`
	Subject      string             `json:"subject"`
	Period       int                `json:"period"`
	Components   map[string]float64 `json:"components"`
	NumericScore float64            `json:"numeric_score"`
	LetterGrade  string             `json:"letter_grade"`
	Methodology  string             `json:"methodology"`
	Published    bool               `json:"published"`
	PublishedAt  time.Time          `json:"published_at,omitempty"` // date
	Deadline     time.Time          `json:"deadline"`               // date
	AlertActive  bool               `json:"alert_active"`
	Appeals      []Appeal           `json:"appeals"`
	CreatedAt    time.Time          `json:"created_at"` // UTC
	UpdatedAt    time.Time          `json:"updated_at"` // UTC
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := r
	if r.Components != nil {
		c.Components = make(map[string]float64, len(r.Components))
		for k, v := range r.Components {
			c.Components[k] = v
		}
	}
	if r.Appeals != nil {
		c.Appeals = make([]Appeal, len(r.Appeals))
		copy(c.Appeals, r.Appeals)
	}
	return c
}

func (r Record) Key() Key {
	return Key{StudentID: r.StudentID, Subject: r.Subject, Period: r.Period}
}

// State returns the lifecycle state of the record on the date of `today`.
func (r Record) State(today time.Time) State {
	switch {
	case !r.Published:
		return StateDraft
	case core.Today(today).After(r.Deadline):
		return StateLocked
	default:
		return StatePublished
	}
}

// Flagged tells whether a published record awaits attention.
func (r Record) Flagged() bool {
	return r.Published && r.AlertActive
}

func (r *Record) appeal(id string) (*Appeal, bool) {
	for i := range r.Appeals {
		if r.Appeals[i].ID == id {
			return &r.Appeals[i], true
		}
	}
	return nil, false
}

// Key is the natural key of a Record.
type Key struct {
	StudentID string
	Subject   string
	Period    int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.StudentID, k.Subject, k.Period)
}

// Entry is a grade entry for one student, subject and period.
type Entry struct {
	StudentID   string             `json:"student_id" validate:"required,notblank,max=64"`
	Subject     string             `json:"subject" validate:"required,notblank,max=128"`
	Period      int                `json:"period" validate:"required,min=1"`
	Components  map[string]float64 `json:"components" validate:"required,min=1,dive,keys,required,endkeys"`
	Methodology string             `json:"methodology" validate:"max=2000"`
}

// Clean trims the entry and lower-cases its component names.
// It fails when two component names are the same once cleaned.
func (e *Entry) Clean() error {
	e.StudentID = core.CleanString(e.StudentID)
	e.Subject = core.CleanString(e.Subject)
	e.Methodology = core.CleanString(e.Methodology)
	if len(e.Components) == 0 {
		return nil
	}
	cleaned, err := cleanComponents(e.Components)
	if err != nil {
		return err
	}
	e.Components = cleaned
	return nil
}

// cleanComponents returns `components` keyed by their cleaned, lower-case name.
func cleanComponents(components map[string]float64) (map[string]float64, error) {
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	cleaned := make(map[string]float64, len(components))
	given := make(map[string]string, len(components))
	for _, name := range names {
		key := core.CleanString(name, true /* lower */)
		if prev, ok := given[key]; ok {
			return nil, core.NewValidationError(core.ErrInvalidInput, core.FieldError{
				Field: "components",
				Error: fmt.Sprintf("%q and %q are the same component", prev, name),
			})
		}
		given[key] = name
		cleaned[key] = components[name]
	}
	return cleaned, nil
}

func (e Entry) Key() Key {
	return Key{StudentID: e.StudentID, Subject: e.Subject, Period: e.Period}
}

// Filter applies AND operation on its set fields.
type Filter struct {
	StudentID     string            `query:"student_id"`
	TeacherID     string            `query:"teacher_id"`
	Subject       string            `query:"subject"`
	Period        int               `query:"period"`
	PublishedOnly bool              `query:"published"`
	AlertOnly     bool              `query:"alert"`
	Ordering      []core.DBOrdering `query:"-"`
}

// OrderingFields are the fields a Filter can be ordered by.
var OrderingFields = []string{"student_id", "teacher_id", "subject", "period", "numeric_score", "created_at", "updated_at"}

// DefaultOrdering is applied to queries without ordering.
var DefaultOrdering = []core.DBOrdering{
	{Field: "student_id", Ascending: true},
	{Field: "subject", Ascending: true},
	{Field: "period", Ascending: true},
}

func (f *Filter) Clean() {
	f.StudentID = core.CleanString(f.StudentID)
	f.TeacherID = core.CleanString(f.TeacherID)
	f.Subject = core.CleanString(f.Subject)

	ordering := make([]core.DBOrdering, 0, len(f.Ordering))
	for _, ord := range f.Ordering {
		for _, fld := range OrderingFields {
			if ord.Field == fld {
				ordering = append(ordering, ord)
				break
			}
		}
	}
	if len(ordering) == 0 {
		ordering = DefaultOrdering
	}
	f.Ordering = ordering
}

// Match tells whether `r` satisfies the filter.
func (f Filter) Match(r Record) bool {
	return (f.StudentID == "" || r.StudentID == f.StudentID) &&
		(f.TeacherID == "" || r.TeacherID == f.TeacherID) &&
		(f.Subject == "" || r.Subject == f.Subject) &&
		(f.Period == 0 || r.Period == f.Period) &&
		(!f.PublishedOnly || r.Published) &&
		(!f.AlertOnly || r.AlertActive)
}

// Result is the outcome of a lifecycle operation.
type Result struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	Kind         ErrorKind `json:"error_kind,omitempty"`
	RecordID     string    `json:"record_id,omitempty"`
	AppealID     string    `json:"appeal_id,omitempty"`
	NumericScore float64   `json:"numeric_score"`
	LetterGrade  string    `json:"letter_grade,omitempty"`
	Record       *Record   `json:"record,omitempty"`
}

func newResult(msg string, rec Record, appealID ...string) Result {
	res := Result{
		Success:      true,
		Message:      msg,
		RecordID:     rec.ID,
		NumericScore: rec.NumericScore,
		LetterGrade:  rec.LetterGrade,
		Record:       &rec,
	}
	if len(appealID) > 0 {
		res.AppealID = appealID[0]
	}
	return res
}
