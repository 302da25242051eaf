// Package api exposes the sync pipeline's operational surface: health,
// tip, prometheus metrics, an on-demand sync trigger, and read access
// to one account's received notes. It carries no pool-usage or
// privacy-level policy — that remains out of scope for this surface.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zecsync/warpcore/internal/pipeline"
	"github.com/zecsync/warpcore/internal/store"
)

type Server struct {
	st store.Store
	pl *pipeline.Pipeline
}

type Option func(*Server)

// WithPipeline wires a Pipeline for POST /v1/sync/run to trigger.
// Without one, that route reports 503.
func WithPipeline(pl *pipeline.Pipeline) Option {
	return func(s *Server) {
		s.pl = pl
	}
}

func New(st store.Store, opts ...Option) (*Server, error) {
	if st == nil {
		return nil, errors.New("api: store is nil")
	}
	s := &Server{st: st}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/tip", s.handleTip)
	mux.Handle("/v1/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/sync/run", s.handleSyncRun)
	mux.HandleFunc("/v1/accounts/", s.handleAccountSubroutes)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := map[string]any{"status": "ok"}

	if _, ok, err := s.st.Tip(ctx); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	} else {
		resp["has_synced_blocks"] = ok
	}

	writeJSON(w, resp)
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	tip, ok, err := s.st.Tip(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, map[string]any{"synced": false})
		return
	}

	writeJSON(w, map[string]any{
		"synced": true,
		"height": tip.Height,
		"hash":   hex.EncodeToString(reverse(tip.Hash[:])),
	})
}

// handleSyncRun triggers a single pipeline poll pass and waits for it
// to finish, rather than queuing it against the pipeline's own ticker
// loop — so a caller driving sync manually (original_source's
// warp_cli long-running sync call, spec.md §5) gets a synchronous
// result instead of having to poll /v1/tip afterward.
func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pl == nil {
		http.Error(w, "sync pipeline not configured", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	if err := s.pl.RunOnce(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tip, ok, err := s.st.Tip(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	resp := map[string]any{"status": "ok"}
	if ok {
		resp["height"] = tip.Height
	}
	writeJSON(w, resp)
}

func (s *Server) handleAccountSubroutes(w http.ResponseWriter, r *http.Request) {
	// /v1/accounts/{id}/notes
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "notes" {
		http.NotFound(w, r)
		return
	}

	account, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}

	s.handleListAccountNotes(w, r, int64(account))
}

type accountNote struct {
	ID          int64  `json:"id"`
	Pool        uint8  `json:"pool"`
	Height      int64  `json:"height"`
	Position    int64  `json:"position"`
	Value       uint64 `json:"value_zat"`
	Nullifier   string `json:"nullifier"`
	SpentHeight *int64 `json:"spent_height,omitempty"`
	HasWitness  bool   `json:"has_witness"`
}

// handleListAccountNotes lists account's unspent notes along with
// whether each currently has a witness checkpointed at the store's
// tip — spec.md §5's "list received notes + witness status". Spent
// notes are excluded: store.Store only exposes ListUnspentNotes, and a
// spent note's witness is no longer useful to a caller building a
// spend proof.
func (s *Server) handleListAccountNotes(w http.ResponseWriter, r *http.Request, account int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	notes, err := s.st.ListUnspentNotes(ctx, account)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	witnessed := make(map[int64]bool)
	if tip, ok, err := s.st.Tip(ctx); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	} else if ok {
		ws, err := s.st.ListWitnessesAtHeight(ctx, tip.Height)
		if err != nil {
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		for _, w := range ws {
			witnessed[w.NoteID] = true
		}
	}

	out := make([]accountNote, 0, len(notes))
	for _, n := range notes {
		out = append(out, accountNote{
			ID:          n.ID,
			Pool:        n.Pool,
			Height:      n.Height,
			Position:    n.Position,
			Value:       n.Value,
			Nullifier:   hex.EncodeToString(n.Nullifier[:]),
			SpentHeight: n.SpentHeight,
			HasWitness:  witnessed[n.ID],
		})
	}

	writeJSON(w, map[string]any{"notes": out})
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
