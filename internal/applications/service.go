// Package applications stores enrolment enquiries sent from the public site
// and lets admins review them.
package applications

import (
	"context"
	"strings"

	"academy/internal/apperr"
	"academy/internal/logger"
	"academy/internal/model"
	"academy/internal/recordstore"
)

// SubmitInput is the public enquiry form.
type SubmitInput struct {
	Name    string  `json:"name" validate:"required"`
	Email   string  `json:"email" validate:"required,email"`
	Phone   string  `json:"phone" validate:"required"`
	Course  string  `json:"course" validate:"required"`
	Message *string `json:"message"`
}

type Service struct {
	store recordstore.Store
	log   *logger.Logger
}

func NewService(s recordstore.Store, log *logger.Logger) *Service {
	return &Service{store: s, log: log.Named("applications")}
}

// Submit records a new pending application.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (model.Application, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Course = strings.TrimSpace(in.Course)
	if err := model.Validate("applications.submit", in); err != nil {
		return model.Application{}, err
	}
	a, err := recordstore.InsertAs(ctx, s.store, recordstore.Applications, model.Application{
		Name:    in.Name,
		Email:   in.Email,
		Phone:   in.Phone,
		Course:  in.Course,
		Message: in.Message,
		Status:  model.ApplicationPending,
	})
	if err != nil {
		return model.Application{}, err
	}
	s.log.Infof("application %s received for %s", a.ID, a.Course)
	return a, nil
}

// List returns applications, newest first, optionally by status.
func (s *Service) List(ctx context.Context, status string) ([]model.Application, error) {
	var f recordstore.Filter
	if status != "" {
		if !validStatus(model.ApplicationStatus(status)) {
			return nil, apperr.Validation("applications.list", "unknown status %q", status)
		}
		f = recordstore.Filter{"status": status}
	}
	list, err := recordstore.ReadAs[model.Application](ctx, s.store, recordstore.Applications, f)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

// SetStatus moves an application to approved, rejected or back to pending.
func (s *Service) SetStatus(ctx context.Context, id string, status model.ApplicationStatus) (model.Application, error) {
	if !validStatus(status) {
		return model.Application{}, apperr.Validation("applications.set_status", "status must be pending, approved or rejected")
	}
	a, err := recordstore.UpdateAs[model.Application](ctx, s.store, recordstore.Applications, id, recordstore.Patch{"status": string(status)})
	if err != nil {
		return model.Application{}, err
	}
	s.log.Infof("application %s %s", id, status)
	return a, nil
}

func validStatus(s model.ApplicationStatus) bool {
	switch s {
	case model.ApplicationPending, model.ApplicationApproved, model.ApplicationRejected:
		return true
	}
	return false
}
