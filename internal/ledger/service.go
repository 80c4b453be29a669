package ledger

import (
	"context"
	"sort"

	"academy/internal/apperr"
	"academy/internal/model"
	"academy/internal/realtime"
	"academy/internal/recordstore"
)

// Source supplies students and fee records.
type Source interface {
	Student(ctx context.Context, id string) (model.Student, error)
	Students(ctx context.Context) ([]model.Student, error)
	// FeeRecords returns the records of one student, or all when id is "".
	FeeRecords(ctx context.Context, studentID string) ([]model.FeeRecord, error)
}

// Statement is a balance with the records behind it.
type Statement struct {
	Balance Balance           `json:"balance"`
	History []model.FeeRecord `json:"history"`
}

// Service answers balance questions from a Source.
type Service struct {
	src        Source
	defaultFee int64
}

func NewService(src Source, defaultFee int64) *Service {
	return &Service{src: src, defaultFee: defaultFee}
}

// DefaultFee is the total fee applied to students without one.
func (s *Service) DefaultFee() int64 { return s.defaultFee }

// BalanceFor computes one student's balance.
func (s *Service) BalanceFor(ctx context.Context, studentID string) (Balance, error) {
	st, err := s.src.Student(ctx, studentID)
	if err != nil {
		return Balance{}, err
	}
	records, err := s.src.FeeRecords(ctx, studentID)
	if err != nil {
		return Balance{}, err
	}
	return PendingBalance(st, records, s.defaultFee), nil
}

// HistoryFor lists a student's fee records, newest first.
func (s *Service) HistoryFor(ctx context.Context, studentID string) ([]model.FeeRecord, error) {
	records, err := s.src.FeeRecords(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return History(studentID, records), nil
}

// Statement returns a student's balance and history.
func (s *Service) Statement(ctx context.Context, studentID string) (Statement, error) {
	st, err := s.src.Student(ctx, studentID)
	if err != nil {
		return Statement{}, err
	}
	records, err := s.src.FeeRecords(ctx, studentID)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		Balance: PendingBalance(st, records, s.defaultFee),
		History: History(studentID, records),
	}, nil
}

// Overview returns every student's balance, largest pending amount first.
func (s *Service) Overview(ctx context.Context) ([]Balance, error) {
	students, err := s.src.Students(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.src.FeeRecords(ctx, "")
	if err != nil {
		return nil, err
	}
	byStudent := make(map[string][]model.FeeRecord)
	for _, r := range records {
		byStudent[r.StudentID] = append(byStudent[r.StudentID], r)
	}
	out := make([]Balance, 0, len(students))
	for _, st := range students {
		out = append(out, PendingBalance(st, byStudent[st.ID], s.defaultFee))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pending != out[j].Pending {
			return out[i].Pending > out[j].Pending
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

// StoreSource reads straight from the record store.
type StoreSource struct {
	Store recordstore.Store
}

func (s StoreSource) Student(ctx context.Context, id string) (model.Student, error) {
	return recordstore.GetAs[model.Student](ctx, s.Store, recordstore.Students, id)
}

func (s StoreSource) Students(ctx context.Context) ([]model.Student, error) {
	return recordstore.ReadAs[model.Student](ctx, s.Store, recordstore.Students, nil)
}

func (s StoreSource) FeeRecords(ctx context.Context, studentID string) ([]model.FeeRecord, error) {
	var f recordstore.Filter
	if studentID != "" {
		f = recordstore.Filter{"student_id": studentID}
	}
	return recordstore.ReadAs[model.FeeRecord](ctx, s.Store, recordstore.FeeRecords, f)
}

// MirrorSource reads from realtime mirrors, trading read-your-writes for
// not hitting the store on every dashboard refresh.
type MirrorSource struct {
	Roster *realtime.Mirror[model.Student]
	Fees   *realtime.Mirror[model.FeeRecord]
}

func (s MirrorSource) Student(ctx context.Context, id string) (model.Student, error) {
	st, ok, err := s.Roster.Get(ctx, id)
	if err != nil {
		return model.Student{}, err
	}
	if !ok {
		return model.Student{}, apperr.NotFound("ledger", "student %s not found", id)
	}
	return st, nil
}

func (s MirrorSource) Students(ctx context.Context) ([]model.Student, error) {
	return s.Roster.Snapshot(ctx)
}

func (s MirrorSource) FeeRecords(ctx context.Context, studentID string) ([]model.FeeRecord, error) {
	all, err := s.Fees.Snapshot(ctx)
	if err != nil || studentID == "" {
		return all, err
	}
	out := all[:0]
	for _, r := range all {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	return out, nil
}
