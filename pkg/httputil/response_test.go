package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()

	err := WriteSuccess(rec, map[string]string{"hello": "world"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "world", body["hello"])
}

func TestWriteErrorCode(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteErrorCode(rec, http.StatusBadRequest, "USER_IN_USE", "user ID is already in use")

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "USER_IN_USE", body["errcode"])
	assert.Equal(t, "user ID is already in use", body["error"])
}

func TestWriteInternalError(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteInternalError(rec, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "boom", body["error"])
}

func TestWriteNotFoundError(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteNotFoundError(rec, "unknown identity provider")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
