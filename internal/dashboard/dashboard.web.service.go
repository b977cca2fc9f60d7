// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package dashboard

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

type clientSet struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[*websocket.Conn]bool)}
}

// send writes to every client, dropping the ones that fail.
func (c *clientSet) send(pm *websocket.PreparedMessage) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	failed := 0
	for ws := range c.clients {
		if err := ws.WritePreparedMessage(pm); err != nil {
			ws.Close()
			delete(c.clients, ws)
			failed++
		}
	}
	return failed
}

func (c *clientSet) add(ws *websocket.Conn) {
	c.mu.Lock()
	c.clients[ws] = true
	c.mu.Unlock()
}

func (c *clientSet) remove(ws *websocket.Conn) {
	c.mu.Lock()
	delete(c.clients, ws)
	c.mu.Unlock()
}

func (c *clientSet) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ws := range c.clients {
		ws.Close()
		delete(c.clients, ws)
	}
}

func (d *Dashboard) buildHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	})
	mux.HandleFunc("/ws", d.serveWebSockets)
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d.State())
	})
	mux.HandleFunc("POST /api/command", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !d.enqueue(req) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func (d *Dashboard) enqueue(req Request) bool {
	select {
	case d.clientQueue <- req:
		return true
	default:
		d.log.Debug("clientQueue is full; dropping client message")
		return false
	}
}

func (d *Dashboard) serveWebSockets(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return false
			}
			if strings.Contains(origin, "localhost") {
				return true
			}
			return strings.Contains(origin, r.Host)
		},
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Error("failed to upgrade websocket: %v", err)
		return
	}
	d.clients.add(ws)
	defer func() {
		d.clients.remove(ws)
		ws.Close()
	}()

	d.enqueue(Request{Command: "broadcast"})

	for {
		var req Request
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.log.Debug("ws read: %v", err)
			}
			return
		}
		d.enqueue(req)
	}
}

func (d *Dashboard) broadcast(st State) {
	data, err := json.Marshal(st)
	if err != nil {
		d.log.Error("failed to marshal broadcast: %v", err)
		return
	}
	pm, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		d.log.Error("failed to prepare message: %v", err)
		return
	}
	if n := d.clients.send(pm); n > 0 {
		d.log.Debug("dropped %d websocket clients", n)
	}
}
