package attendance

import (
	"context"
	"errors"
	"sort"
	"strings"

	"academy/internal/apperr"
	"academy/internal/logger"
	"academy/internal/metrics"
	"academy/internal/model"
)

// Service groups attendance rows into sessions and applies session edits.
// Multi-row edits are not atomic; every row is written independently so a
// retried call converges on the same membership.
type Service struct {
	repo *Repository
	log  *logger.Logger
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log.Named("attendance")}
}

// MarkInput is the body of a single attendance mark.
type MarkInput struct {
	StudentID   *string `json:"student_id"`
	Date        string  `json:"date" validate:"required,day"`
	Timing      string  `json:"timing" validate:"required,timing"`
	Status      string  `json:"status" validate:"omitempty,eq=present"`
	SessionName *string `json:"session_name"`
}

// CreateSessionInput describes a new session and its initial members.
type CreateSessionInput struct {
	Date       string   `json:"date" validate:"required,day"`
	Timing     string   `json:"timing" validate:"required,timing"`
	Name       string   `json:"name"`
	StudentIDs []string `json:"student_ids"`
}

// RenameInput renames the rows of a session currently named OldName, or all
// of them when OldName is empty.
type RenameInput struct {
	Date    string `json:"date" validate:"required,day"`
	Timing  string `json:"timing" validate:"required,timing"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name" validate:"required"`
}

// ItemError reports one failed row of a batch.
type ItemError struct {
	StudentID string `json:"student_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// BatchResult is the partial-success outcome of CreateSession.
type BatchResult struct {
	Created []model.AttendanceRecord `json:"created"`
	Failed  []ItemError              `json:"failed"`
}

// Mark inserts one attendance row. A row joining an existing session takes
// that session's name. Marking a session without a student returns the
// existing placeholder when there is one.
func (s *Service) Mark(ctx context.Context, in MarkInput) (model.AttendanceRecord, error) {
	if err := model.Validate("attendance.mark", in); err != nil {
		return model.AttendanceRecord{}, err
	}
	if in.StudentID != nil && strings.TrimSpace(*in.StudentID) == "" {
		in.StudentID = nil
	}
	k := Key{Date: in.Date, Timing: in.Timing}
	existing, err := s.repo.Session(ctx, k)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	name, err := sessionName("attendance.mark", k, existing, trimmed(in.SessionName))
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if in.StudentID == nil {
		// one placeholder per session
		for _, r := range existing {
			if r.IsPlaceholder() {
				return r, nil
			}
		}
	} else {
		if _, err := s.repo.Student(ctx, *in.StudentID); err != nil {
			return model.AttendanceRecord{}, err
		}
		for _, r := range existing {
			if r.StudentID != nil && *r.StudentID == *in.StudentID {
				return model.AttendanceRecord{}, apperr.Conflict("attendance.mark", "student %s already present at %s %s", *in.StudentID, k.Date, k.Timing)
			}
		}
	}
	return s.repo.Insert(ctx, model.AttendanceRecord{
		StudentID:   in.StudentID,
		Date:        in.Date,
		Timing:      in.Timing,
		Status:      model.StatusPresent,
		SessionName: name,
	})
}

// CreateSession creates a session. With no students it writes a single
// placeholder row; otherwise one row per distinct student. Rows are attempted
// independently and failures are listed per student.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (BatchResult, error) {
	if err := model.Validate("attendance.create_session", in); err != nil {
		return BatchResult{}, err
	}
	k := Key{Date: in.Date, Timing: in.Timing}
	existing, err := s.repo.Session(ctx, k)
	if err != nil {
		return BatchResult{}, err
	}
	name, err := sessionName("attendance.create_session", k, existing, trimmed(&in.Name))
	if err != nil {
		return BatchResult{}, err
	}

	ids := dedupe(in.StudentIDs)
	res := BatchResult{Created: []model.AttendanceRecord{}, Failed: []ItemError{}}
	if len(ids) == 0 {
		for _, r := range existing {
			if r.IsPlaceholder() {
				res.Created = append(res.Created, r)
				return res, nil
			}
		}
		rec, err := s.repo.Insert(ctx, model.AttendanceRecord{
			Date: in.Date, Timing: in.Timing, Status: model.StatusPresent, SessionName: name,
		})
		if err != nil {
			return BatchResult{}, err
		}
		res.Created = append(res.Created, rec)
		return res, nil
	}

	for _, id := range ids {
		rec, err := s.repo.Insert(ctx, model.AttendanceRecord{
			StudentID: model.Ptr(id), Date: in.Date, Timing: in.Timing, Status: model.StatusPresent, SessionName: name,
		})
		if err != nil {
			s.log.Warnf("create session %s %s: student %s: %v", k.Date, k.Timing, id, err)
			res.Failed = append(res.Failed, ItemError{StudentID: id, Code: apperr.Code(err), Message: apperr.Message(err)})
			continue
		}
		res.Created = append(res.Created, rec)
	}
	if len(res.Failed) > 0 {
		metrics.AttendanceBatchFailures.Add(float64(len(res.Failed)))
		s.log.Infof("session %s %s created with %d of %d students", k.Date, k.Timing, len(res.Created), len(ids))
	}
	return res, nil
}

// AddMember adds one student to a session. A student already present is a
// conflict; the store's unique index settles concurrent adds.
func (s *Service) AddMember(ctx context.Context, date, timing, studentID string) (model.AttendanceRecord, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return model.AttendanceRecord{}, apperr.Validation("attendance.add_member", "student_id is required")
	}
	return s.Mark(ctx, MarkInput{StudentID: &studentID, Date: date, Timing: timing})
}

// RemoveMember deletes a row, which is how a student is marked absent.
func (s *Service) RemoveMember(ctx context.Context, recordID string) error {
	if strings.TrimSpace(recordID) == "" {
		return apperr.Validation("attendance.remove_member", "record id is required")
	}
	return s.repo.Delete(ctx, recordID)
}

// RenameSession updates the name of every matching row of a session and
// returns how many rows changed. Concurrent renames resolve last write wins.
func (s *Service) RenameSession(ctx context.Context, in RenameInput) (int, error) {
	if err := model.Validate("attendance.rename_session", in); err != nil {
		return 0, err
	}
	k := Key{Date: in.Date, Timing: in.Timing}
	rows, err := s.repo.Session(ctx, k)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, apperr.NotFound("attendance.rename_session", "no session on %s at %s", k.Date, k.Timing)
	}
	newName := strings.TrimSpace(in.NewName)
	oldName := strings.TrimSpace(in.OldName)

	changed := 0
	var errs []error
	for _, r := range rows {
		if oldName != "" && r.Name() != oldName {
			continue
		}
		if r.Name() == newName {
			continue
		}
		if _, err := s.repo.SetName(ctx, r.ID, &newName); err != nil {
			// a row removed since the read no longer belongs to the session
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		changed++
	}
	if len(errs) > 0 {
		s.log.Warnf("rename %s %s: %d of %d rows failed", k.Date, k.Timing, len(errs), len(rows))
		return changed, errs[0]
	}
	return changed, nil
}

// Records lists present rows, placeholders excluded.
func (s *Service) Records(ctx context.Context, f ListFilter) ([]model.AttendanceRecord, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	rows, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	var names map[string]string
	if strings.TrimSpace(f.Search) != "" {
		roster, err := s.repo.Students(ctx)
		if err != nil {
			return nil, err
		}
		names = make(map[string]string, len(roster))
		for _, st := range roster {
			names[st.ID] = st.Name
		}
	}
	return f.narrow(PresentStudents(rows), names), nil
}

// Sessions lists the sessions matching the date, timing, month and since
// fields of f, keeping only those with StudentID as a member when it is set.
func (s *Service) Sessions(ctx context.Context, f ListFilter) ([]Session, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	rows, err := s.repo.List(ctx, ListFilter{Date: f.Date, Timing: f.Timing})
	if err != nil {
		return nil, err
	}
	// month and since narrow whole sessions; search stays a row filter
	rows = ListFilter{Month: f.Month, Since: f.Since}.narrow(rows, nil)
	sessions := GroupByDateTiming(rows)
	if f.StudentID == "" {
		return sessions, nil
	}
	out := sessions[:0]
	for _, sess := range sessions {
		if sess.Has(f.StudentID) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// sessionName resolves the name a new row of session k carries. Every row of
// a session shares one name, so a request may only repeat the current name or
// leave it out; changing it is a rename.
func sessionName(op string, k Key, existing []model.AttendanceRecord, requested *string) (*string, error) {
	if len(existing) == 0 {
		return requested, nil
	}
	current := GroupByDateTiming(existing)[0].Name
	switch {
	case requested == nil && current == "":
		return nil, nil
	case requested == nil, *requested == current:
		return &current, nil
	case current == "":
		return nil, apperr.Validation(op, "session %s %s has no name; rename it to %q first", k.Date, k.Timing, *requested)
	}
	return nil, apperr.Validation(op, "session %s %s is named %q; rename the session instead", k.Date, k.Timing, current)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
