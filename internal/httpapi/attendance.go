package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"academy/internal/attendance"
	"academy/internal/auth"
)

func (s *server) listAttendance(c *gin.Context) {
	f := attendance.ListFilter{
		Date:      c.Query("date"),
		Timing:    c.Query("timing"),
		StudentID: c.Query("student_id"),
		Month:     c.Query("month"),
		Since:     c.Query("since"),
		Search:    c.Query("q"),
	}
	claims, _ := auth.ClaimsFrom(c)
	if !claims.IsAdmin() {
		if f.StudentID != "" && f.StudentID != claims.Subject {
			forbidden(c)
			return
		}
		f.StudentID = claims.Subject
	}
	rows, err := s.Attendance.Records(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": rows})
}

func (s *server) listSessions(c *gin.Context) {
	sessions, err := s.Attendance.Sessions(c.Request.Context(), attendance.ListFilter{
		Date:      c.Query("date"),
		Timing:    c.Query("timing"),
		StudentID: c.Query("student_id"),
		Month:     c.Query("month"),
		Since:     c.Query("since"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *server) attendanceOverview(c *gin.Context) {
	o, err := s.Attendance.Overview(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *server) studentStats(c *gin.Context) {
	id := c.Param("student_id")
	if !auth.CanAccessStudent(c, id) {
		forbidden(c)
		return
	}
	st, err := s.Attendance.StudentStats(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) markAttendance(c *gin.Context) {
	var in attendance.MarkInput
	if !s.bind(c, &in) {
		return
	}
	rec, err := s.Attendance.Mark(context.WithoutCancel(c.Request.Context()), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "record": rec})
}

func (s *server) createSession(c *gin.Context) {
	var in attendance.CreateSessionInput
	if !s.bind(c, &in) {
		return
	}
	res, err := s.Attendance.CreateSession(context.WithoutCancel(c.Request.Context()), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) renameSession(c *gin.Context) {
	var in attendance.RenameInput
	if !s.bind(c, &in) {
		return
	}
	n, err := s.Attendance.RenameSession(context.WithoutCancel(c.Request.Context()), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": n})
}

func (s *server) addMember(c *gin.Context) {
	var in struct {
		Date      string `json:"date"`
		Timing    string `json:"timing"`
		StudentID string `json:"student_id"`
	}
	if !s.bind(c, &in) {
		return
	}
	rec, err := s.Attendance.AddMember(context.WithoutCancel(c.Request.Context()), in.Date, in.Timing, in.StudentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "record": rec})
}

func (s *server) removeAttendance(c *gin.Context) {
	if err := s.Attendance.RemoveMember(context.WithoutCancel(c.Request.Context()), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
