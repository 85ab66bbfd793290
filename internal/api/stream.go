// Reel is a local media-processing job server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"reel/internal/metrics"
)

// timeoutEvent is sent when a stream sees no progress for the configured
// window, telling the client to poll the snapshot endpoint instead.
var timeoutEvent = map[string]string{"status": "timeout"}

// Both stream flavors deliver the same sequence: the job snapshot first,
// then every progress event in publication order, ending with the single
// terminal event or a timeout notice.

// --------------- GET /jobs/{id}/progress (SSE) ---------------

func (a *API) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, jsonError{
			Error:   "server_error",
			Message: "streaming unsupported",
		})
		return
	}

	id := mux.Vars(r)["id"]
	sink, snap, found := a.Jobs.Subscribe(id)
	if !found {
		writeJSON(w, http.StatusNotFound, jsonError{
			Error:   "not_found",
			Message: "Job not found",
		})
		return
	}
	if sink != nil {
		metrics.IncSubscribers(1)
		defer func() {
			a.Jobs.Unsubscribe(id, sink)
			metrics.IncSubscribers(-1)
		}()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The stream outlives any server-wide write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	send := func(v any) error {
		if err := writeSSE(w, v); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(snap); err != nil {
		return
	}
	if sink == nil {
		// Already terminal; the snapshot is the whole story.
		return
	}

	for {
		ctx, cancel := context.WithTimeout(r.Context(), a.streamTimeout())
		ev, err := sink.Next(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				_ = send(timeoutEvent)
			}
			return
		}
		if err := send(ev); err != nil {
			return
		}
		if ev.Status.IsTerminal() {
			return
		}
	}
}

// writeSSE frames one JSON payload as a server-sent event.
func writeSSE(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// --------------- GET /jobs/{id}/ws (WebSocket) ---------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local pages and file:// clients send arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (a *API) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sink, snap, found := a.Jobs.Subscribe(id)
	if !found {
		writeJSON(w, http.StatusNotFound, jsonError{
			Error:   "not_found",
			Message: "Job not found",
		})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		a.Jobs.Unsubscribe(id, sink)
		return
	}
	defer conn.Close()

	if sink != nil {
		metrics.IncSubscribers(1)
		defer func() {
			a.Jobs.Unsubscribe(id, sink)
			metrics.IncSubscribers(-1)
		}()
	}

	if err := conn.WriteJSON(snap); err != nil {
		return
	}
	if sink == nil {
		closeSocket(conn)
		return
	}

	// The connection is hijacked, so client disconnects surface only
	// through the read side.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		nextCtx, nextCancel := context.WithTimeout(ctx, a.streamTimeout())
		ev, err := sink.Next(nextCtx)
		nextCancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				_ = conn.WriteJSON(timeoutEvent)
				closeSocket(conn)
			}
			return
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		if ev.Status.IsTerminal() {
			closeSocket(conn)
			return
		}
	}
}

// closeSocket sends a normal-closure frame; the deferred Close tears the
// connection down regardless.
func closeSocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
