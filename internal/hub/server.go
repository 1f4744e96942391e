package hub

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stagecraft/drift/internal/artifact"
)

const maxPutBodySize = 10 << 20 // 10MB

// ServerConfig configures the hub HTTP handler.
type ServerConfig struct {
	// Token is the bearer credential clients must present.
	Token string

	// Logger for request-level diagnostics. Defaults to stderr.
	Logger *log.Logger
}

// NewHandler builds the hub's HTTP surface over a hub Store.
//
// Routes:
//
//	GET /v1/tables/{table}/records            ?since=N incremental list
//	GET /v1/tables/{table}/records/{id}       fetch one record
//	PUT /v1/tables/{table}/records/{id}       conditional write
func NewHandler(store *Store, cfg ServerConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[hub] ", log.LstdFlags)
	}

	r := chi.NewRouter()
	r.Use(bearerAuth(cfg.Token))

	r.Route("/v1/tables/{table}/records", func(r chi.Router) {
		r.Get("/", handleList(store, cfg.Logger))
		r.Get("/{id}", handleGet(store, cfg.Logger))
		r.Put("/{id}", handlePut(store, cfg.Logger))
	})

	return r
}

// bearerAuth rejects requests without the expected bearer token.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) ||
				subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleGet(store *Store, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		table := chi.URLParam(r, "table")
		id := chi.URLParam(r, "id")

		rec, err := store.Get(r.Context(), table, id)
		if errors.Is(err, ErrNotFound) {
			httpError(w, http.StatusNotFound, "no record %s", id)
			return
		}
		if err != nil {
			logger.Printf("get %s/%s failed: %v", table, id, err)
			httpError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handlePut(store *Store, logger *log.Logger) http.HandlerFunc {
	type putRequest struct {
		ExpectedVersion int64              `json:"expected_version"`
		ChangeID        string             `json:"change_id"`
		Record          *artifact.Artifact `json:"record"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		table := chi.URLParam(r, "table")
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxPutBodySize)
		defer r.Body.Close()

		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Record == nil {
			httpError(w, http.StatusBadRequest, "record is required")
			return
		}
		if req.Record.ID != id {
			httpError(w, http.StatusBadRequest, "record id %q does not match path id %q", req.Record.ID, id)
			return
		}

		version, current, ok, err := store.Put(r.Context(), table, id,
			req.ExpectedVersion, req.Record, req.ChangeID)
		if err != nil {
			// Validation failures are the caller's fault; everything
			// else is ours.
			if strings.Contains(err.Error(), "malformed record") ||
				strings.Contains(err.Error(), "must exceed") ||
				strings.Contains(err.Error(), "required") {
				httpError(w, http.StatusBadRequest, "%v", err)
				return
			}
			logger.Printf("put %s/%s failed: %v", table, id, err)
			httpError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeJSON(w, http.StatusConflict, map[string]any{"current": current})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"version": version})
	}
}

func handleList(store *Store, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		table := chi.URLParam(r, "table")

		var since int64
		if raw := r.URL.Query().Get("since"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid since value %q", raw)
				return
			}
			since = v
		}

		records, checkpoint, err := store.ListSince(r.Context(), table, since)
		if err != nil {
			logger.Printf("list %s failed: %v", table, err)
			httpError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if records == nil {
			records = []*artifact.Artifact{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"records":    records,
			"checkpoint": checkpoint,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": fmt.Sprintf(format, args...),
	})
}
