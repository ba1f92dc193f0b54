package decisionlog

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRecent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(Entry{RunID: "r", Action: "go_forward", Front: math.Inf(1), Left: 1, Right: 2, Linear: 0.2})
	require.NoError(t, err)
	_, err = s.Insert(Entry{RunID: "r", Action: "turn_right", Front: 0.3, Left: 1, Right: 1, Linear: 0.2, Angular: -1})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	s.handleRecent(w, httptest.NewRequest(http.MethodGet, "/debug/decisions?n=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "turn_right", got[0]["action"])
	assert.InDelta(t, 0.3, got[0]["front"], 1e-9)
	assert.Nil(t, got[1]["front"], "infinite distance is encoded as null")
}

func TestHandleRecent_BadLimit(t *testing.T) {
	s := openTestStore(t)
	for _, q := range []string{"n=0", "n=-3", "n=lots"} {
		w := httptest.NewRecorder()
		s.handleRecent(w, httptest.NewRequest(http.MethodGet, "/debug/decisions?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/decisions", "/debug/tailsql/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:40000"
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		// Registered routes answer with 200 or, if debug access is denied, 403.
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
	}
}
