// Package students manages the enrolled-student roster.
package students

import (
	"context"
	"strings"

	"academy/internal/apperr"
	"academy/internal/logger"
	"academy/internal/model"
	"academy/internal/recordstore"
)

// CreateInput is the body of a new student.
type CreateInput struct {
	Name           string  `json:"name" validate:"required"`
	Email          string  `json:"email" validate:"required,email"`
	Phone          string  `json:"phone"`
	Course         string  `json:"course"`
	Fee            *int64  `json:"fee" validate:"omitempty,gte=0"`
	ProfilePicture *string `json:"profile_picture" validate:"omitempty,url"`
}

// UpdateInput changes the fields that are set. ResetFee puts the student
// back on the default fee.
type UpdateInput struct {
	Name           *string `json:"name" validate:"omitempty,min=1"`
	Email          *string `json:"email" validate:"omitempty,email"`
	Phone          *string `json:"phone"`
	Course         *string `json:"course"`
	Fee            *int64  `json:"fee" validate:"omitempty,gte=0"`
	ResetFee       bool    `json:"reset_fee"`
	ProfilePicture *string `json:"profile_picture" validate:"omitempty,url"`
}

type Service struct {
	store recordstore.Store
	log   *logger.Logger
}

func NewService(s recordstore.Store, log *logger.Logger) *Service {
	return &Service{store: s, log: log.Named("students")}
}

// List returns every student, oldest enrolment first.
func (s *Service) List(ctx context.Context) ([]model.Student, error) {
	return recordstore.ReadAs[model.Student](ctx, s.store, recordstore.Students, nil)
}

func (s *Service) Get(ctx context.Context, id string) (model.Student, error) {
	return recordstore.GetAs[model.Student](ctx, s.store, recordstore.Students, id)
}

// Create enrols a student. Emails are unique, case-insensitively.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.Student, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := model.Validate("students.create", in); err != nil {
		return model.Student{}, err
	}
	st, err := recordstore.InsertAs(ctx, s.store, recordstore.Students, model.Student{
		Name:           in.Name,
		Email:          in.Email,
		Phone:          strings.TrimSpace(in.Phone),
		Course:         strings.TrimSpace(in.Course),
		Fee:            in.Fee,
		ProfilePicture: in.ProfilePicture,
	})
	if err != nil {
		return model.Student{}, err
	}
	s.log.Infof("student %s enrolled", st.ID)
	return st, nil
}

// Update patches a student.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (model.Student, error) {
	const op = "students.update"
	if in.Email != nil {
		e := normalizeEmail(*in.Email)
		in.Email = &e
	}
	if err := model.Validate(op, in); err != nil {
		return model.Student{}, err
	}
	if in.ResetFee && in.Fee != nil {
		return model.Student{}, apperr.Validation(op, "fee and reset_fee are mutually exclusive")
	}

	p := recordstore.Patch{}
	setString(p, "name", in.Name)
	setString(p, "email", in.Email)
	setString(p, "phone", in.Phone)
	setString(p, "course", in.Course)
	if in.ProfilePicture != nil {
		p["profile_picture"] = *in.ProfilePicture
	}
	switch {
	case in.Fee != nil:
		p["fee"] = *in.Fee
	case in.ResetFee:
		p["fee"] = nil
	}
	if len(p) == 0 {
		return model.Student{}, apperr.Validation(op, "nothing to update")
	}
	return recordstore.UpdateAs[model.Student](ctx, s.store, recordstore.Students, id, p)
}

// Delete removes a student. Students with attendance or fee history cannot
// be removed.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, recordstore.Students, id); err != nil {
		return err
	}
	s.log.Infof("student %s removed", id)
	return nil
}

func setString(p recordstore.Patch, col string, v *string) {
	if v != nil {
		p[col] = strings.TrimSpace(*v)
	}
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
