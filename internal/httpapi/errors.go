package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"academy/internal/apperr"
)

// writeError maps err onto a status code and a JSON error body. Internal
// errors are logged and never shown to the caller.
func (s *server) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": apperr.Message(err), "code": apperr.Code(err)})
}

// bind decodes the JSON body into v, reporting malformed bodies as
// validation errors.
func (s *server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		s.writeError(c, apperr.Validation("decode", "invalid request body: %v", err))
		return false
	}
	return true
}

func forbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "forbidden"})
}
