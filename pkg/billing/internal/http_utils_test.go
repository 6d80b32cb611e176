package internal

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyStrict(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ok":true}`))
	body, err := ReadBodyStrict(rec, req, 1024)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	_, err = ReadBodyStrict(rec, req, 1024)
	assert.ErrorIs(t, err, ErrEmptyBody)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 2048)))
	_, err = ReadBodyStrict(rec, req, 1024)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusAccepted, map[string]bool{"received": true}))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var got map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got["received"])
}
