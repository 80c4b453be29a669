package attendance

import (
	"sort"

	"academy/internal/model"
)

// Key identifies a session.
type Key struct {
	Date   string `json:"date"`
	Timing string `json:"timing"`
}

// Session is the derived group of attendance rows sharing a date and timing.
type Session struct {
	Key
	Name    string                   `json:"name"`
	Members []model.AttendanceRecord `json:"members"`
	// Placeholder is the student-less row that keeps an empty session visible.
	Placeholder *model.AttendanceRecord `json:"placeholder,omitempty"`
	// MixedNames is set while a rename is only partly applied.
	MixedNames bool `json:"mixed_names,omitempty"`
}

// StudentIDs lists the members' student ids.
func (s Session) StudentIDs() []string {
	ids := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		ids = append(ids, *m.StudentID)
	}
	return ids
}

// Has reports whether studentID is a member of the session.
func (s Session) Has(studentID string) bool {
	for _, m := range s.Members {
		if *m.StudentID == studentID {
			return true
		}
	}
	return false
}

// GroupByDateTiming groups rows into sessions, newest date first. The result
// only depends on the set of rows, never on their order.
func GroupByDateTiming(records []model.AttendanceRecord) []Session {
	groups := make(map[Key]*Session)
	names := make(map[Key]map[string]int)
	for _, r := range records {
		k := Key{Date: r.Date, Timing: r.Timing}
		s, ok := groups[k]
		if !ok {
			s = &Session{Key: k}
			groups[k] = s
			names[k] = make(map[string]int)
		}
		names[k][r.Name()]++
		if r.IsPlaceholder() {
			rec := r
			if s.Placeholder == nil || rec.ID < s.Placeholder.ID {
				s.Placeholder = &rec
			}
			continue
		}
		s.Members = append(s.Members, r)
	}

	out := make([]Session, 0, len(groups))
	for k, s := range groups {
		sort.Slice(s.Members, func(i, j int) bool {
			a, b := s.Members[i], s.Members[j]
			if *a.StudentID != *b.StudentID {
				return *a.StudentID < *b.StudentID
			}
			return a.ID < b.ID
		})
		s.Name, s.MixedNames = dominantName(names[k])
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if ra, rb := timingRank(a.Timing), timingRank(b.Timing); ra != rb {
			return ra < rb
		}
		return a.Timing < b.Timing
	})
	return out
}

// dominantName picks the most frequent name, breaking ties alphabetically.
func dominantName(counts map[string]int) (string, bool) {
	best, bestN := "", -1
	for name, n := range counts {
		if n > bestN || (n == bestN && name < best) {
			best, bestN = name, n
		}
	}
	return best, len(counts) > 1
}

// timingRank orders slots by the fixed slot list, unknown slots last.
func timingRank(t string) int {
	for i, v := range model.Timings {
		if v == t {
			return i
		}
	}
	return len(model.Timings)
}

// Find returns the session with the given key.
func Find(sessions []Session, k Key) (Session, bool) {
	for _, s := range sessions {
		if s.Key == k {
			return s, true
		}
	}
	return Session{}, false
}

// PresentStudents drops placeholder rows.
func PresentStudents(records []model.AttendanceRecord) []model.AttendanceRecord {
	out := make([]model.AttendanceRecord, 0, len(records))
	for _, r := range records {
		if !r.IsPlaceholder() {
			out = append(out, r)
		}
	}
	return out
}
