package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestOKEncodesNullPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"","payload":null}`, rec.Body.String())
}

func TestHandleAPIErrorKeepsStatusError(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleAPIError(rec, zap.NewNop().Sugar(), NewStatusError(http.StatusForbidden, "nope", errors.New("inner")))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "nope", body["message"])
}

func TestHandleAPIErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleAPIError(rec, zap.NewNop().Sugar(), errors.New("pq: relation users does not exist"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
	assert.Equal(t, internalErrorMessage, decode(t, rec)["message"])
}

func TestRecover(t *testing.T) {
	h := Recover(zap.NewNop().Sugar())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestDecodeRejectsGarbage(t *testing.T) {
	rec := httptest.NewRecorder()
	var v struct{ A string }
	ok := Decode(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")), &v)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
