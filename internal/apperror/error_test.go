package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := StaleState("request was already processed")
	wrapped := fmt.Errorf("transition: %w", base)

	assert.Equal(t, KindStaleState, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindStaleState))
	assert.False(t, Is(wrapped, KindValidation))
	assert.Equal(t, "CSE-4009", From(wrapped).Code)
}

func TestUnknownErrorIsInternal(t *testing.T) {
	err := errors.New("connection reset")
	assert.Equal(t, KindInternal, KindOf(err))

	e := From(err)
	assert.Equal(t, KindInternal, e.Kind)
	assert.NotContains(t, e.Message, "connection reset")
	assert.ErrorIs(t, e, err)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindStaleState))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindNotEligible))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(KindSpreadsheetFormat))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}

func TestWithDetails(t *testing.T) {
	e := SpreadsheetFormat("no rows matched", nil).WithDetails(map[string]any{"agent": []string{"X"}})
	assert.Equal(t, []string{"X"}, e.Details["agent"])
}
