package decisionlog

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/reflex/internal/httputil"
)

const defaultRecentLimit = 50

// AttachAdminRoutes mounts the decision log's debug pages: a live SQL
// console and a JSON feed of recent decisions.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Decision log",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("decisions", "Most recent steering decisions (JSON, ?n=)", http.HandlerFunc(s.handleRecent))
	return nil
}

func (s *Store) handleRecent(w http.ResponseWriter, r *http.Request) {
	n := defaultRecentLimit
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "n must be a positive integer")
			return
		}
		n = min(parsed, 1000)
	}

	entries, err := s.Recent(n)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	out := make([]recentEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, recentEntry{
			Entry: e,
			Front: jsonDistance(e.Front),
			Left:  jsonDistance(e.Left),
			Right: jsonDistance(e.Right),
		})
	}
	httputil.WriteJSONOK(w, out)
}

// recentEntry shadows the distance fields: encoding/json rejects +Inf.
type recentEntry struct {
	Entry
	Front *float64 `json:"front"`
	Left  *float64 `json:"left"`
	Right *float64 `json:"right"`
}

func jsonDistance(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
