// Package cdptest provides a fake CDP debugger endpoint for exercising
// internal/cdp without a real browser, built on httptest.NewServer and a
// gorilla/websocket upgrader — the corpus has no fake-debugger example to
// ground on directly, so this follows the standard net/http/httptest
// fake-server idiom already implicit in the teacher's own net/http-based
// internal/server package.
package cdptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Server is a fake Chrome DevTools instance exposing /json/list, /json/new,
// /json/close and one debugger websocket per tab.
type Server struct {
	HTTP     *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	targets map[string]*fakeTarget

	// Handler, if set, is invoked for every inbound command on every tab's
	// debugger socket and returns the raw JSON result or an error message.
	// Tests install this to script specific CDP responses.
	Handler func(method string, params json.RawMessage) (result any, errMsg string)
}

type fakeTarget struct {
	id  string
	url string
}

// New starts a fake debugger HTTP+websocket server.
func New() *Server {
	s := &Server{targets: make(map[string]*fakeTarget)}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", s.handleList)
	mux.HandleFunc("/json/new", s.handleNew)
	mux.HandleFunc("/json/close/", s.handleClose)
	mux.HandleFunc("/devtools/page/", s.handleSocket)
	s.HTTP = httptest.NewServer(mux)
	return s
}

// Close shuts down the underlying httptest.Server.
func (s *Server) Close() { s.HTTP.Close() }

// AddTarget registers a tab the fake debugger will report via /json/list.
func (s *Server) AddTarget(id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[id] = &fakeTarget{id: id, url: url}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type info struct {
		ID                   string `json:"id"`
		Type                 string `json:"type"`
		URL                  string `json:"url"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	var out []info
	wsBase := "ws" + strings.TrimPrefix(s.HTTP.URL, "http")
	for _, t := range s.targets {
		out = append(out, info{ID: t.id, Type: "page", URL: t.url, WebSocketDebuggerURL: wsBase + "/devtools/page/" + t.id})
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	var url string
	for k := range r.URL.Query() {
		url = k
	}

	s.mu.Lock()
	id := randomID()
	s.targets[id] = &fakeTarget{id: id, url: url}
	s.mu.Unlock()

	type info struct {
		ID                   string `json:"id"`
		Type                 string `json:"type"`
		URL                  string `json:"url"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	wsBase := "ws" + strings.TrimPrefix(s.HTTP.URL, "http")
	_ = json.NewEncoder(w).Encode(info{ID: id, Type: "page", URL: url, WebSocketDebuggerURL: wsBase + "/devtools/page/" + id})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/json/close/")
	s.mu.Lock()
	delete(s.targets, id)
	s.mu.Unlock()
	_ = json.NewEncoder(w).Encode(json.RawMessage(`{}`))
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		var result any = json.RawMessage(`{}`)
		errMsg := ""
		if s.Handler != nil {
			result, errMsg = s.Handler(req.Method, req.Params)
		}

		reply := map[string]any{"id": req.ID}
		if errMsg != "" {
			reply["error"] = map[string]any{"code": -32000, "message": errMsg}
		} else {
			reply["result"] = result
		}
		out, _ := json.Marshal(reply)
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

var idCounter int

func randomID() string {
	idCounter++
	return "gen-tab-" + itoa(idCounter)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
