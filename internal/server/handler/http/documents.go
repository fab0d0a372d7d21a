package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/atinyakov/shoplist/internal/docstore"
	"github.com/atinyakov/shoplist/internal/middleware"
	"github.com/atinyakov/shoplist/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// DocumentStore defines the document operations required by the DocumentHandler.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (docstore.Snapshot, error)
	Set(ctx context.Context, collection, id string, fields docstore.Fields) error
	Subscribe(ctx context.Context, collection, id string, fn docstore.ChangeFunc) (docstore.Subscription, error)
}

// DocumentHandler serves point reads, point writes and watch streams of the
// caller's own document.
type DocumentHandler struct {
	Store DocumentStore
	Log   *zap.Logger
	// Upgrader upgrades watch requests to WebSocket.
	Upgrader websocket.Upgrader
}

// NewDocumentHandler returns a handler over store.
func NewDocumentHandler(store DocumentStore, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{Store: store, Log: log}
}

// target resolves the addressed document and checks the caller owns it.
func (h *DocumentHandler) target(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	if collection != models.UsersCollection {
		http.Error(w, "unknown collection", http.StatusNotFound)
		return "", "", false
	}
	if id == "" || id != middleware.GetUserIDFromContext(r.Context()) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", "", false
	}
	return collection, id, true
}

// Get handles GET /api/documents/{collection}/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.target(w, r)
	if !ok {
		return
	}
	snap, err := h.Store.Get(r.Context(), collection, id)
	if err != nil {
		h.Log.Error("get document", zap.String("id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// Put handles PUT /api/documents/{collection}/{id} with {"fields": {...}}.
// The document is replaced wholesale, or created.
func (h *DocumentHandler) Put(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req docstore.SetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Fields == nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.Store.Set(r.Context(), collection, id, req.Fields); err != nil {
		h.Log.Error("set document", zap.String("id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Watch handles GET /api/documents/{collection}/{id}/watch. After the
// WebSocket upgrade it sends the current snapshot and then one frame per
// change. A slow reader only receives the latest state.
func (h *DocumentHandler) Watch(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.target(w, r)
	if !ok {
		return
	}
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		h.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client never sends data; reading surfaces its close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	latest := make(chan docstore.WatchFrame, 1)
	push := func(f docstore.WatchFrame) {
		for {
			select {
			case latest <- f:
				return
			default:
				select {
				case <-latest:
				default:
				}
			}
		}
	}

	sub, err := h.Store.Subscribe(ctx, collection, id, func(snap docstore.Snapshot, err error) {
		if err != nil {
			push(docstore.WatchFrame{Error: err.Error()})
			return
		}
		push(docstore.WatchFrame{Snapshot: &snap})
	})
	if err != nil {
		h.Log.Error("subscribe", zap.String("id", id), zap.Error(err))
		_ = conn.WriteJSON(docstore.WatchFrame{Error: err.Error()})
		return
	}
	defer sub.Close()

	h.Log.Debug("watch started", zap.String("id", id))
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case f := <-latest:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(f); err != nil {
				h.Log.Debug("watch write failed", zap.String("id", id), zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
