package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payx-ledger/pkg/apperror"
)

func setupContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestOK(t *testing.T) {
	c, w := setupContext()

	OK(c, gin.H{"status": "ok"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCreated(t *testing.T) {
	c, w := setupContext()

	Created(c, gin.H{"id": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"abc"}`, w.Body.String())
}

func TestNoContent(t *testing.T) {
	c, w := setupContext()

	NoContent(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestError_AppError(t *testing.T) {
	c, w := setupContext()

	Error(c, apperror.CurrencyMismatch("USD", "EUR"))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "currency_mismatch", envelope["error"]["code"])
	assert.NotEmpty(t, envelope["error"]["message"])
}

func TestError_Details(t *testing.T) {
	c, w := setupContext()

	Error(c, apperror.InsufficientFunds("50.0000", "100.0000"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var envelope struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "insufficient_funds", envelope.Error.Code)
	assert.Equal(t, "50.0000", envelope.Error.Details["available"])
	assert.Equal(t, "100.0000", envelope.Error.Details["requested"])
}

func TestError_NoDetailsOmitted(t *testing.T) {
	c, w := setupContext()

	Error(c, apperror.IdempotencyConflict(uuid.New()))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NotContains(t, w.Body.String(), "details")
}

func TestError_UnknownError(t *testing.T) {
	c, w := setupContext()

	Error(c, fmt.Errorf("something unexpected"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var envelope map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "internal_error", envelope["error"]["code"])
	assert.NotContains(t, envelope["error"]["message"], "unexpected", "internal details must not leak")
}
