package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxIDParamLength = 64

// ParseStringIDParam reads a path id and answers 400 itself when it is
// empty or too long. Callers return on "".
func ParseStringIDParam(c *gin.Context, param string) string {
	idStr := strings.TrimSpace(c.Param(param))
	if idStr == "" || len(idStr) > maxIDParamLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "ID must be between 1 and 64 characters",
			Code:    "INVALID_PARAM",
		})
		return ""
	}
	return idStr
}
