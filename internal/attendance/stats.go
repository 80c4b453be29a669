package attendance

import (
	"context"
	"time"

	"academy/internal/model"
)

// StudentStats is the presence summary shown on a student's dashboard.
// Only presence is stored, so absences are the sessions held since the
// student joined that carry no row for them.
type StudentStats struct {
	StudentID    string  `json:"student_id"`
	SessionsHeld int     `json:"sessions_held"`
	Present      int     `json:"present"`
	Absent       int     `json:"absent"`
	Rate         float64 `json:"rate"` // percentage, 0 when no sessions were held
	LastAttended string  `json:"last_attended,omitempty"`
}

// Overview is the admin summary across all sessions.
type Overview struct {
	Records          int     `json:"records"`
	Sessions         int     `json:"sessions"`
	Students         int     `json:"students"`
	AverageAttendees float64 `json:"average_attendees"`
}

// ComputeStudentStats counts sessions on or after since. A zero since counts
// every session.
func ComputeStudentStats(sessions []Session, studentID string, since time.Time) StudentStats {
	st := StudentStats{StudentID: studentID}
	cutoff := ""
	if !since.IsZero() {
		cutoff = since.UTC().Format(model.DateLayout)
	}
	for _, s := range sessions {
		present := s.Has(studentID)
		// a student counts every session they attended, even before joining
		if !present && cutoff != "" && s.Date < cutoff {
			continue
		}
		st.SessionsHeld++
		if present {
			st.Present++
			if s.Date > st.LastAttended {
				st.LastAttended = s.Date
			}
		}
	}
	st.Absent = st.SessionsHeld - st.Present
	if st.SessionsHeld > 0 {
		st.Rate = float64(st.Present) * 100 / float64(st.SessionsHeld)
	}
	return st
}

// ComputeOverview summarizes sessions for the admin dashboard.
func ComputeOverview(sessions []Session) Overview {
	var ov Overview
	students := make(map[string]struct{})
	for _, s := range sessions {
		ov.Sessions++
		ov.Records += len(s.Members)
		for _, id := range s.StudentIDs() {
			students[id] = struct{}{}
		}
	}
	ov.Students = len(students)
	if ov.Sessions > 0 {
		ov.AverageAttendees = float64(ov.Records) / float64(ov.Sessions)
	}
	return ov
}

// StudentStats loads the sessions and computes a student's presence summary.
func (s *Service) StudentStats(ctx context.Context, studentID string) (StudentStats, error) {
	st, err := s.repo.Student(ctx, studentID)
	if err != nil {
		return StudentStats{}, err
	}
	rows, err := s.repo.List(ctx, ListFilter{})
	if err != nil {
		return StudentStats{}, err
	}
	return ComputeStudentStats(GroupByDateTiming(rows), st.ID, st.JoinedAt), nil
}

// Overview loads every session and summarizes them.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	rows, err := s.repo.List(ctx, ListFilter{})
	if err != nil {
		return Overview{}, err
	}
	return ComputeOverview(GroupByDateTiming(rows)), nil
}
