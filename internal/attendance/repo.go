package attendance

import (
	"context"
	"strings"
	"time"

	"academy/internal/apperr"
	"academy/internal/model"
	"academy/internal/recordstore"
)

// Repository reads and writes attendance rows through the record store.
type Repository struct {
	store recordstore.Store
}

// NewRepository creates a repo.
func NewRepository(s recordstore.Store) *Repository {
	return &Repository{store: s}
}

// ListFilter narrows a listing. Empty fields match everything. Date, Timing
// and StudentID are matched by the store; the rest are applied afterwards.
type ListFilter struct {
	Date      string
	Timing    string
	StudentID string
	// Month is YYYY-MM.
	Month string
	// Since keeps rows dated on or after this YYYY-MM-DD day.
	Since string
	// Search matches the student's name or the session name, ignoring case.
	Search string
}

func (f ListFilter) validate() error {
	const op = "attendance.list"
	if f.Date != "" {
		if _, err := model.ParseDate(f.Date); err != nil {
			return apperr.Validation(op, "date must be a YYYY-MM-DD date")
		}
	}
	if f.Since != "" {
		if _, err := model.ParseDate(f.Since); err != nil {
			return apperr.Validation(op, "since must be a YYYY-MM-DD date")
		}
	}
	if f.Month != "" {
		if _, err := time.Parse("2006-01", f.Month); err != nil {
			return apperr.Validation(op, "month must be YYYY-MM")
		}
	}
	return nil
}

// narrow applies the filters the store does not. names maps student ids to
// names and is only consulted for Search.
func (f ListFilter) narrow(rows []model.AttendanceRecord, names map[string]string) []model.AttendanceRecord {
	term := strings.ToLower(strings.TrimSpace(f.Search))
	out := rows[:0]
	for _, r := range rows {
		if f.Month != "" && !strings.HasPrefix(r.Date, f.Month+"-") {
			continue
		}
		// dates are zero padded, so they order as strings
		if f.Since != "" && r.Date < f.Since {
			continue
		}
		if term != "" {
			name := ""
			if r.StudentID != nil {
				name = names[*r.StudentID]
			}
			if !strings.Contains(strings.ToLower(name), term) && !strings.Contains(strings.ToLower(r.Name()), term) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func (f ListFilter) toStore() recordstore.Filter {
	out := recordstore.Filter{}
	if f.Date != "" {
		out["date"] = f.Date
	}
	if f.Timing != "" {
		out["timing"] = f.Timing
	}
	if f.StudentID != "" {
		out["student_id"] = f.StudentID
	}
	return out
}

// List returns the rows matching f.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]model.AttendanceRecord, error) {
	return recordstore.ReadAs[model.AttendanceRecord](ctx, r.store, recordstore.Attendance, f.toStore())
}

// Session returns every row of one session, placeholder included.
func (r *Repository) Session(ctx context.Context, k Key) ([]model.AttendanceRecord, error) {
	return r.List(ctx, ListFilter{Date: k.Date, Timing: k.Timing})
}

// Insert writes a new row.
func (r *Repository) Insert(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	return recordstore.InsertAs(ctx, r.store, recordstore.Attendance, rec)
}

// Delete removes a row by id.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, recordstore.Attendance, id)
}

// SetName changes the session name carried by one row.
func (r *Repository) SetName(ctx context.Context, id string, name *string) (model.AttendanceRecord, error) {
	return recordstore.UpdateAs[model.AttendanceRecord](ctx, r.store, recordstore.Attendance, id, recordstore.Patch{"session_name": name})
}

// Student loads a student by id.
func (r *Repository) Student(ctx context.Context, id string) (model.Student, error) {
	return recordstore.GetAs[model.Student](ctx, r.store, recordstore.Students, id)
}

// Students returns the whole roster.
func (r *Repository) Students(ctx context.Context) ([]model.Student, error) {
	return recordstore.ReadAs[model.Student](ctx, r.store, recordstore.Students, nil)
}
