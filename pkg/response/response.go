// Package response writes the JSON envelope every booking endpoint answers with.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the envelope. Fields carries per-field validation messages on 400s.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Fields  interface{} `json:"fields,omitempty"`
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Body{Success: true, Data: data})
}

func failure(c *gin.Context, status int, msg string) {
	c.JSON(status, Body{Error: msg})
}

func OK(c *gin.Context, data interface{})      { success(c, http.StatusOK, data) }
func Created(c *gin.Context, data interface{}) { success(c, http.StatusCreated, data) }

// NoContent writes a bare 204, used by deletes.
func NoContent(c *gin.Context) { c.Status(http.StatusNoContent) }

func BadRequest(c *gin.Context, msg string)   { failure(c, http.StatusBadRequest, msg) }
func Unauthorized(c *gin.Context, msg string) { failure(c, http.StatusUnauthorized, msg) }
func Forbidden(c *gin.Context, msg string)    { failure(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)     { failure(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)     { failure(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)     { failure(c, http.StatusInternalServerError, msg) }

// UnprocessableEntity is for well-formed requests that cannot be booked, such as an exceeded limit.
func UnprocessableEntity(c *gin.Context, msg string) { failure(c, http.StatusUnprocessableEntity, msg) }

// ServiceUnavailable reports a failing dependency from the health check.
func ServiceUnavailable(c *gin.Context, msg string) { failure(c, http.StatusServiceUnavailable, msg) }

// Invalid writes a 400 listing which request fields were rejected and why.
func Invalid(c *gin.Context, msg string, fields map[string]string) {
	c.JSON(http.StatusBadRequest, Body{Error: msg, Fields: fields})
}
