package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"academy/internal/applications"
	"academy/internal/auth"
	"academy/internal/model"
	"academy/internal/students"
)

func (s *server) feeOverview(c *gin.Context) {
	balances, err := s.Ledger.Overview(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"default_fee": s.Ledger.DefaultFee(), "balances": balances})
}

func (s *server) feeStatement(c *gin.Context) {
	id := c.Param("student_id")
	if !auth.CanAccessStudent(c, id) {
		forbidden(c)
		return
	}
	st, err := s.Ledger.Statement(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) listStudents(c *gin.Context) {
	list, err := s.Students.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": list})
}

func (s *server) getStudent(c *gin.Context) {
	id := c.Param("id")
	if !auth.CanAccessStudent(c, id) {
		forbidden(c)
		return
	}
	st, err := s.Students.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) createStudent(c *gin.Context) {
	var in students.CreateInput
	if !s.bind(c, &in) {
		return
	}
	st, err := s.Students.Create(context.WithoutCancel(c.Request.Context()), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (s *server) updateStudent(c *gin.Context) {
	var in students.UpdateInput
	if !s.bind(c, &in) {
		return
	}
	st, err := s.Students.Update(context.WithoutCancel(c.Request.Context()), c.Param("id"), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) deleteStudent(c *gin.Context) {
	if err := s.Students.Delete(context.WithoutCancel(c.Request.Context()), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *server) submitApplication(c *gin.Context) {
	var in applications.SubmitInput
	if !s.bind(c, &in) {
		return
	}
	a, err := s.Applications.Submit(context.WithoutCancel(c.Request.Context()), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": a.ID, "status": a.Status})
}

func (s *server) listApplications(c *gin.Context) {
	list, err := s.Applications.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": list})
}

func (s *server) reviewApplication(c *gin.Context) {
	var in struct {
		Status model.ApplicationStatus `json:"status" binding:"required"`
	}
	if !s.bind(c, &in) {
		return
	}
	a, err := s.Applications.SetStatus(context.WithoutCancel(c.Request.Context()), c.Param("id"), in.Status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
