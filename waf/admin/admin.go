// Package admin serves the operator endpoints: audit trail, bans, stats
// and config reload. Mount it behind waf.LocalhostOnly.
package admin

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"rhinoguard/waf"
	"rhinoguard/waf/audit"
	"rhinoguard/waf/autoban"
	"rhinoguard/waf/compression"
	"rhinoguard/waf/logging"
	"rhinoguard/waf/security"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 5000
)

// Reloader re-reads the configuration file
type Reloader interface {
	Reload() error
}

type API struct {
	guard    *waf.Guard
	reloader Reloader
	flusher  *audit.Flusher
	log      zerolog.Logger
}

// New returns the admin API. reloader and flusher may be nil.
func New(g *waf.Guard, reloader Reloader, flusher *audit.Flusher) *API {
	return &API{guard: g, reloader: reloader, flusher: flusher, log: logging.With("admin")}
}

func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	gz := compression.NewHandler(compression.Config{})

	r.With(gz.Handle).Get("/audit", a.audit)
	r.Get("/bans", a.listBans)
	r.Delete("/bans/{client}", a.unban)
	r.Get("/stats", a.stats)
	r.Post("/reload", a.reload)
	return r
}

type auditPage struct {
	Records []audit.Record `json:"records"`
	Next    uint64         `json:"next"`
	Lost    uint64         `json:"lost,omitempty"`
}

// audit returns the newest records, or with ?since=N the records after
// sequence number N in order
func (a *API) audit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultAuditLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	ring := a.guard.Ring()
	if v := q.Get("since"); v != "" {
		since, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a sequence number")
			return
		}
		recs, next, lost := ring.Since(since, limit)
		writeJSON(w, http.StatusOK, auditPage{Records: recs, Next: next, Lost: lost})
		return
	}

	writeJSON(w, http.StatusOK, auditPage{Records: ring.Recent(limit), Next: ring.LastSeq()})
}

func (a *API) listBans(w http.ResponseWriter, r *http.Request) {
	bans := a.guard.Bans().List(a.guard.Clock().Now())
	if bans == nil {
		bans = []autoban.Ban{}
	}
	writeJSON(w, http.StatusOK, bans)
}

// unban lifts a ban and clears the client's rate window so it starts clean
func (a *API) unban(w http.ResponseWriter, r *http.Request) {
	client, err := url.PathUnescape(chi.URLParam(r, "client"))
	if err != nil || client == "" {
		writeError(w, http.StatusBadRequest, "invalid client")
		return
	}
	client = security.NormalizeIP(client)

	if !a.guard.Bans().Unban(client) {
		writeError(w, http.StatusNotFound, "no ban for "+client)
		return
	}
	a.guard.Tracker().Reset(client)

	a.log.Info().Str("client", client).Msg("Ban lifted by operator")
	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	Guard   waf.Stats           `json:"guard"`
	Flusher *audit.FlusherStats `json:"flusher,omitempty"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Guard: a.guard.Stats()}
	if a.flusher != nil {
		fs := a.flusher.Stats()
		resp.Flusher = &fs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) reload(w http.ResponseWriter, r *http.Request) {
	if a.reloader == nil {
		writeError(w, http.StatusServiceUnavailable, "reload is not available")
		return
	}

	a.log.Info().Msg("Configuration reload requested")
	if err := a.reloader.Reload(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
