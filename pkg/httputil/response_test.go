package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteCreatedAndNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]int{"id": 1}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteUnauthorized(w, "missing authorization header")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "Unauthorized", body.Error)
	assert.Equal(t, "missing authorization header", body.Message)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperrors.Kind
		want int
	}{
		{apperrors.KindNotFound, http.StatusNotFound},
		{apperrors.KindForbidden, http.StatusForbidden},
		{apperrors.KindConflict, http.StatusConflict},
		{apperrors.KindInvalidArgument, http.StatusBadRequest},
		{apperrors.KindPersistence, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.kind))
		})
	}
}

func TestWriteAppError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/subscriptions/1", nil)

	t.Run("classified", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteAppError(w, r, apperrors.Conflict(apperrors.CodeDuplicateSubscription, "user 1 already has an open subscription"))

		assert.Equal(t, http.StatusConflict, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "DuplicateSubscription", body.Error)
		assert.Equal(t, "user 1 already has an open subscription", body.Message)
	})

	t.Run("persistence hides cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteAppError(w, r, apperrors.Persistence("get plan", errors.New("connection refused")))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "PersistenceError", body.Error)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})

	t.Run("unclassified", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteAppError(w, r, errors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
