// Package handler exposes a database fleet over HTTP.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/stevemurr/layerstore/database"
	"github.com/stevemurr/layerstore/store"
)

// Fleet is the set of databases served by a Handler.
type Fleet interface {
	View() *database.View
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	fleet Fleet
	log   zerolog.Logger
	mux   *http.ServeMux
}

// New creates a Handler and wires up all routes.
func New(fleet Fleet, log zerolog.Logger) *Handler {
	h := &Handler{fleet: fleet, log: log, mux: http.NewServeMux()}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	// Health / status
	h.mux.HandleFunc("GET /", h.root)
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /connections", h.listConnections)

	h.mux.HandleFunc("GET /collections/{collection}/items", h.getAllItems)
	h.mux.HandleFunc("GET /collections/{collection}/items/since/{timestamp}", h.getItemsSince)
	h.mux.HandleFunc("GET /collections/{collection}/items/{key}", h.getItem)
	h.mux.HandleFunc("PUT /collections/{collection}/items/{key}", h.saveItem)
	h.mux.HandleFunc("DELETE /collections/{collection}/items/{key}", h.deleteItem)
	h.mux.HandleFunc("POST /collections/{collection}/find", h.find)

	h.mux.HandleFunc("POST /populate", h.populate)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func parseISO(s string) (time.Time, error) {
	s = strings.Replace(s, "Z", "+00:00", 1)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	// Try without timezone
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %s", s)
}

func parseBool(r *http.Request, name string, fallback bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.NotValidf("%s=%q", name, raw)
	}
	return v, nil
}

// view returns the fleet, narrowed to the ?layer= query parameter.
func (h *Handler) view(r *http.Request) *database.View {
	v := h.fleet.View()
	if layer := r.URL.Query().Get("layer"); layer != "" {
		v = v.Layer(layer)
	}
	return v
}

// byKey selects an item by the "id" property, which Save writes to every
// connection regardless of its identifier field.
func byKey(key string) store.Query {
	return store.Query{"id": key}
}

// status maps coordinator errors to HTTP status codes.
func status(err error) int {
	switch {
	case errors.Is(err, database.ErrEmptyDocument),
		errors.Is(err, database.ErrNoCollectionName),
		errors.Is(err, errors.NotValid),
		errors.Is(err, errors.NotSupported):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNoActiveConnections):
		return http.StatusServiceUnavailable
	case errors.Is(err, database.ErrRollbackFailed):
		return http.StatusInternalServerError
	case errors.Is(err, database.ErrPartialSave),
		errors.Is(err, database.ErrNothingSaved),
		errors.Is(err, database.ErrNothingRemoved):
		return http.StatusBadGateway
	case errors.Is(err, database.ErrPopulatePartial),
		errors.Is(err, database.ErrPopulateUnresolved):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)
	if code >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, code, err.Error())
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	// Only match exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "layerstore",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if len(h.fleet.View().Shells()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	shells := h.view(r).Shells()
	out := make([]map[string]string, 0, len(shells))
	for _, shell := range shells {
		out = append(out, map[string]string{
			"layer":     shell.Layer,
			"idPattern": shell.Conn.IDPattern(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------- items ----------

func (h *Handler) getAllItems(w http.ResponseWriter, r *http.Request) {
	docs, err := h.view(r).Find(r.Context(), store.Query{}, r.PathValue("collection"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) getItemsSince(w http.ResponseWriter, r *http.Request) {
	since, err := parseISO(r.PathValue("timestamp"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timestamp format")
		return
	}
	docs, err := h.view(r).Find(r.Context(), store.Query{}, r.PathValue("collection"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result := []store.Document{}
	for _, doc := range docs {
		if ts, ok := doc["updatedAt"].(string); ok {
			t, err := parseISO(ts)
			if err == nil && t.After(since) {
				result = append(result, doc)
			}
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	docs, err := h.view(r).Find(r.Context(), byKey(r.PathValue("key")), r.PathValue("collection"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(docs) == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, docs[0])
}

func (h *Handler) find(w http.ResponseWriter, r *http.Request) {
	var query store.Query
	if err := readJSON(r, &query); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	docs, err := h.view(r).Find(r.Context(), query, r.PathValue("collection"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// saveItem writes the item to every connection. An item carrying an older
// updatedAt than the stored one is ignored and the stored one returned.
func (h *Handler) saveItem(w http.ResponseWriter, r *http.Request) {
	collection, key := r.PathValue("collection"), r.PathValue("key")
	var incoming store.Document
	if err := readJSON(r, &incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(incoming) == 0 {
		writeError(w, http.StatusBadRequest, database.ErrEmptyDocument.Error())
		return
	}
	upsert, err := parseBool(r, "upsert", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rollback, err := parseBool(r, "rollback", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	incoming["id"] = key

	view := h.view(r)
	// Last-write-wins: only update if incoming is newer
	existing, err := view.Find(r.Context(), byKey(key), collection)
	if err != nil && !errors.Is(err, database.ErrNoActiveConnections) {
		h.fail(w, r, err)
		return
	}
	if len(existing) > 0 {
		if existingTS, ok := existing[0]["updatedAt"].(string); ok {
			if incomingTS, ok := incoming["updatedAt"].(string); ok {
				et, err1 := parseISO(existingTS)
				nt, err2 := parseISO(incomingTS)
				if err1 == nil && err2 == nil && !nt.After(et) {
					writeJSON(w, http.StatusOK, existing[0])
					return
				}
			}
		}
	}

	res, err := view.Save(r.Context(), incoming,
		database.InCollection(collection),
		database.Upsert(upsert),
		database.RollbackOnError(rollback),
	)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, diag := range res.Skipped {
		h.log.Warn().Str("collection", collection).Str("key", key).Str("reason", diag.String()).Msg("pre-save state not captured")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item":         incoming,
		"successCount": res.SuccessCount,
		"errorCount":   res.ErrorCount,
	})
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	res, err := h.view(r).Remove(r.Context(), byKey(key), r.PathValue("collection"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "key": key, "removed": res.Removed})
}

// ---------- populate ----------

func (h *Handler) populate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Document    store.Document `json:"document"`
		Properties  []string       `json:"properties"`
		Collections []string       `json:"collections"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Document == nil {
		writeError(w, http.StatusBadRequest, database.ErrEmptyDocument.Error())
		return
	}
	doc, err := h.view(r).Populate(r.Context(), req.Document, req.Properties, req.Collections)
	if err != nil {
		var popErr *database.PopulateError
		if errors.As(err, &popErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"detail":   err.Error(),
				"document": popErr.Document,
			})
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
