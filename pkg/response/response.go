package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"payx-ledger/pkg/apperror"
)

// ErrorEnvelope is the standard error body: {"error": {code, message, details}}.
type ErrorEnvelope struct {
	Error *apperror.AppError `json:"error"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent sends an empty 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response. It checks if err is an *apperror.AppError
// and maps it accordingly, otherwise returns a generic 500.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, ErrorEnvelope{Error: appErr})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorEnvelope{
		Error: apperror.New("internal_error", "internal server error", http.StatusInternalServerError),
	})
}
