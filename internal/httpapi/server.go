// Package httpapi exposes the academy services over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"academy/internal/applications"
	"academy/internal/attendance"
	"academy/internal/auth"
	"academy/internal/httpmiddleware"
	"academy/internal/ledger"
	"academy/internal/logger"
	"academy/internal/metrics"
	"academy/internal/payment"
	"academy/internal/realtime"
	"academy/internal/students"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the services the router dispatches to.
type Deps struct {
	Attendance   *attendance.Service
	Students     *students.Service
	Applications *applications.Service
	Ledger       *ledger.Service
	Payments     *payment.Service
	Views        realtime.Registry
	Signer       auth.Signer
	Limiter      httpmiddleware.Limiter
	CORSOrigins  []string
	Health       map[string]HealthCheck
	Log          *logger.Logger
}

type server struct {
	Deps
	log *logger.Logger
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	s := &server{Deps: d, log: d.Log.Named("http")}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    d.Log.Writer(),
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(metrics.GinMiddleware())
	r.Use(httpmiddleware.CORS(d.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	if d.Limiter != nil {
		r.Use(httpmiddleware.GinMiddleware(d.Limiter, s.log))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	// public
	r.POST("/api/applications", s.submitApplication)
	r.POST("/api/payment/webhook", s.paymentWebhook)

	api := r.Group("/api", auth.Authenticate(d.Signer))
	admin := auth.RequireRole(auth.RoleAdmin)

	api.GET("/attendance", s.listAttendance)
	api.GET("/attendance/sessions", admin, s.listSessions)
	api.GET("/attendance/overview", admin, s.attendanceOverview)
	api.GET("/attendance/stats/:student_id", s.studentStats)
	api.POST("/attendance/mark", admin, s.markAttendance)
	api.POST("/attendance/sessions", admin, s.createSession)
	api.PATCH("/attendance/sessions", admin, s.renameSession)
	api.POST("/attendance/sessions/members", admin, s.addMember)
	api.DELETE("/attendance/:id", admin, s.removeAttendance)

	api.POST("/payment/create-order", s.createOrder)
	api.POST("/payment/verify-payment", s.verifyPayment)
	api.POST("/payment/abandon", s.abandonOrder)

	api.GET("/fees", admin, s.feeOverview)
	api.GET("/fees/:student_id", s.feeStatement)

	api.GET("/students", admin, s.listStudents)
	api.POST("/students", admin, s.createStudent)
	api.GET("/students/:id", s.getStudent)
	api.PATCH("/students/:id", admin, s.updateStudent)
	api.DELETE("/students/:id", admin, s.deleteStudent)

	api.GET("/applications", admin, s.listApplications)
	api.PATCH("/applications/:id", admin, s.reviewApplication)

	api.GET("/realtime/:collection", admin, s.streamSSE)
	api.GET("/realtime/:collection/ws", admin, s.streamWS)

	return r
}

func (s *server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.Health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
