package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mastercactapus/voxarm/actuator"
	"github.com/mastercactapus/voxarm/arm"
	"github.com/mastercactapus/voxarm/machine"
)

const wsWriteWait = 5 * time.Second

// Handler runs operator commands.
type Handler interface {
	Handle(ctx context.Context, text string) machine.Result
}

// TelemetrySource reads raw controller telemetry.
type TelemetrySource interface {
	Telemetry(ctx context.Context) (json.RawMessage, error)
}

type api struct {
	http.Handler
	m     Handler
	tel   TelemetrySource
	state *arm.State
	sse   *sse.Server
	ws    *wsHub
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
	Image    string `json:"image,omitempty"`
}

type wsMessage struct {
	Type     string        `json:"type"`
	State    *arm.Snapshot `json:"state,omitempty"`
	Response string        `json:"response,omitempty"`
	Image    string        `json:"image,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func newAPI(m Handler, tel TelemetrySource, state *arm.State) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		m:       m,
		tel:     tel,
		state:   state,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(ioutil.Discard, "", 0),
		}),
		ws: &wsHub{clients: make(map[*wsClient]struct{})},
	}

	r.HandleFunc("/chat", a.chat).Methods("POST")
	r.HandleFunc("/telemetry", a.telemetry).Methods("GET")
	r.HandleFunc("/state", a.snapshot).Methods("GET")
	r.HandleFunc("/ws", a.socket)
	r.PathPrefix("/events/").Handler(a.sse)

	go func() {
		for s := range state.Changes() {
			s := s
			data, err := json.Marshal(s)
			if err != nil {
				log.Printf("ERROR: marshal json: %+v", err)
				continue
			}
			a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
			a.ws.broadcast(wsMessage{Type: "state", State: &s})
		}
	}()

	return a
}

// withCORS allows any origin, answering preflight requests directly.
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Printf("ERROR: write response: %+v", err)
	}
}

func (a *api) respond(ctx context.Context, text string) chatResponse {
	text = strings.TrimSpace(text)
	if text == "" {
		return chatResponse{Response: "Please send a message."}
	}
	res := a.m.Handle(ctx, text)
	resp := chatResponse{Response: res.String()}
	if len(res.Image) > 0 {
		resp.Image = base64.StdEncoding.EncodeToString(res.Image)
	}
	return resp
}

func (a *api) chat(w http.ResponseWriter, req *http.Request) {
	var body chatRequest
	err := json.NewDecoder(req.Body).Decode(&body)
	if err != nil || strings.TrimSpace(body.Message) == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Response: "Please send a message."})
		return
	}

	writeJSON(w, http.StatusOK, a.respond(req.Context(), body.Message))
}

func (a *api) telemetry(w http.ResponseWriter, req *http.Request) {
	data, err := a.tel.Telemetry(req.Context())
	if err != nil {
		log.Printf("ERROR: telemetry: %+v", err)
		msg := "ESP32 unreachable"
		if tErr, ok := err.(*actuator.TransportError); ok && tErr.StatusCode != 0 {
			msg = "Failed to get telemetry"
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (a *api) snapshot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, a.state.Snapshot())
}

func (a *api) socket(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("ERROR: websocket upgrade: %+v", err)
		return
	}
	c := &wsClient{conn: conn}
	a.ws.add(c)
	defer a.ws.remove(c)

	s := a.state.Snapshot()
	err = c.write(wsMessage{Type: "state", State: &s})
	if err != nil {
		return
	}

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ERROR: websocket read: %+v", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		resp := a.respond(req.Context(), string(data))
		err = c.write(wsMessage{Type: "response", Response: resp.Response, Image: resp.Image})
		if err != nil {
			return
		}
	}
}

type wsClient struct {
	mx   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) write(msg wsMessage) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(msg)
}

type wsHub struct {
	mx      sync.Mutex
	clients map[*wsClient]struct{}
}

func (h *wsHub) add(c *wsClient) {
	h.mx.Lock()
	h.clients[c] = struct{}{}
	h.mx.Unlock()
}

func (h *wsHub) remove(c *wsClient) {
	h.mx.Lock()
	delete(h.clients, c)
	h.mx.Unlock()
	c.conn.Close()
}

func (h *wsHub) broadcast(msg wsMessage) {
	h.mx.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mx.Unlock()

	for _, c := range clients {
		if err := c.write(msg); err != nil {
			// the reader loop notices the closed conn and removes the client
			c.conn.Close()
		}
	}
}
