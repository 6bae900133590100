// Package server exposes the Manager's control surface over loopback
// HTTP, routed with github.com/go-chi/chi/v5. It generalises the
// teacher's cmd/server.go (a bare http.ServeMux with /health and
// /download) into the full control-surface method set of §4.1.1.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aio-downloader/aiocore/internal/events"
	"github.com/aio-downloader/aiocore/internal/model"
)

// AddRequest is the JSON body accepted by POST /tasks.
type AddRequest struct {
	URL          string            `json:"url"`
	Kind         model.Kind        `json:"kind,omitempty"`
	Directory    string            `json:"directory"`
	FileName     string            `json:"fileName,omitempty"`
	Referer      string            `json:"referer,omitempty"`
	CookieString string            `json:"cookieString,omitempty"`
	Headers      map[string]string `json:"additionalHeaders,omitempty"`
}

// ManagerAPI is the subset of manager.Manager the HTTP surface depends
// on, kept narrow so this package doesn't import manager directly and
// create a cycle with anything manager later needs from server.
type ManagerAPI interface {
	Add(record *model.TaskRecord) error
	Resume(id int64) error
	Pause(id int64) error
	Clear(id int64) error
	Delete(id int64) error
	PauseAll() error
	ResumeAll() error
	ClearAll() error
	DeleteAll() error
	List() []*model.TaskRecord
	Get(id int64) (*model.TaskRecord, bool)
	NextID() int64
	Events() *events.Bus
}

// New constructs the chi router wired to mgr.
func New(mgr ManagerAPI, settings model.Settings) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
		handleEvents(w, req, mgr.Events())
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, mgr.List())
		})
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			handleAdd(w, req, mgr, settings)
		})
		r.Post("/pause", func(w http.ResponseWriter, req *http.Request) {
			if err := mgr.PauseAll(); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
		})
		r.Post("/resume", func(w http.ResponseWriter, req *http.Request) {
			if err := mgr.ResumeAll(); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				id, err := idParam(req)
				if err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
				record, ok := mgr.Get(id)
				if !ok {
					http.NotFound(w, req)
					return
				}
				writeJSON(w, http.StatusOK, record)
			})
			r.Post("/pause", taskOp(mgr.Pause))
			r.Post("/resume", taskOp(mgr.Resume))
			r.Post("/clear", taskOp(mgr.Clear))
			r.Delete("/", taskOp(mgr.Delete))
		})
	})

	return r
}

// sseEvent is the wire shape pushed over GET /events: "status" for every
// StatusEvent off events.Bus.SubscribeStatus, "finish" for every FinishEvent
// off SubscribeFinish. This is the listener half of §4.1's event bus, which
// otherwise has no external consumer now that the control surface is HTTP
// rather than an in-process UI callback.
type sseEvent struct {
	Type   string            `json:"type"`
	Record *model.TaskRecord `json:"record"`
}

func handleEvents(w http.ResponseWriter, req *http.Request, bus *events.Bus) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, jsonError("streaming unsupported"))
		return
	}

	statusCh, unsubStatus := bus.SubscribeStatus()
	defer unsubStatus()
	finishCh, unsubFinish := bus.SubscribeFinish()
	defer unsubFinish()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-statusCh:
			if !open {
				return
			}
			writeSSE(w, sseEvent{Type: "status", Record: ev.Record})
			flusher.Flush()
		case ev, open := <-finishCh:
			if !open {
				return
			}
			writeSSE(w, sseEvent{Type: "finish", Record: ev.Record})
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev sseEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func taskOp(op func(int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, err := idParam(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := op(id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func idParam(req *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
}

func handleAdd(w http.ResponseWriter, req *http.Request, mgr ManagerAPI, settings model.Settings) {
	var body AddRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer req.Body.Close()

	if body.URL == "" {
		writeError(w, http.StatusBadRequest, errURLRequired)
		return
	}

	kind := body.Kind
	if kind == "" {
		kind = model.KindHttp
	}

	record := model.New(mgr.NextID(), kind, body.URL, settings)
	record.Directory = body.Directory
	record.FileName = body.FileName
	record.Referer = body.Referer
	record.CookieString = body.CookieString
	record.AdditionalHeaders = body.Headers

	if err := mgr.Add(record); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

var errURLRequired = jsonError("url is required")

type jsonError string

func (e jsonError) Error() string { return string(e) }

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
