package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mvejnar/sidekick/internal/call"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// assistCommand is a client-to-server control message. Binary frames are not
// commands; they carry PCM audio for the client's bound session.
type assistCommand struct {
	Type       string `json:"type"`
	Mode       string `json:"mode,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	YouChannel int    `json:"you_channel,omitempty"`
	YouSpeaker *int   `json:"you_speaker,omitempty"`
	Language   string `json:"language,omitempty"`
}

// assistClient is one connected websocket device. All writes go through send
// and close so the connection is never written concurrently.
type assistClient struct {
	conn   *websocket.Conn
	connMu sync.Mutex // serializes writes and close

	mu        sync.Mutex
	sessionID string // session this client started, "" when none
}

func newAssistClient(conn *websocket.Conn) *assistClient {
	return &assistClient{conn: conn}
}

func (c *assistClient) send(v any) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		// The read loop will observe the broken connection and clean up.
		_ = c.conn.Close()
	}
}

func (c *assistClient) close() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	_ = c.conn.Close()
}

func (c *assistClient) bindSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func (c *assistClient) boundSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// handleAssistWS upgrades the connection and runs the device protocol: text
// frames are JSON start/stop commands, binary frames are PCM audio, and every
// pipeline event streams back as JSON.
func (r *Router) handleAssistWS(w http.ResponseWriter, req *http.Request) {
	if !r.clients.Add() {
		http.Error(w, `{"error": "server is draining"}`, http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.clients.Done()
		r.logger.Printf("assist: websocket upgrade failed: %v", err)
		return
	}

	r.runAssistClient(newAssistClient(conn), getAuthDevice(req.Context()))
}

func (r *Router) runAssistClient(client *assistClient, deviceID string) {
	defer r.clients.Done()

	r.dispatcher.subscribe(client)
	defer r.dispatcher.unsubscribe(client)

	r.logger.Printf("assist: device %s connected", deviceID)

	defer func() {
		client.close()

		// A vanished device ends its session. Viewers that never issued
		// start have no bound session and stop nothing.
		if id := client.boundSession(); id != "" && r.orch != nil {
			r.orch.Stop(id)
		}
		r.logger.Printf("assist: device %s disconnected", deviceID)
	}()

	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Printf("assist: device %s closed the connection", deviceID)
			} else {
				r.logger.Printf("assist: read error for device %s: %v", deviceID, err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if id := client.boundSession(); id != "" && r.orch != nil {
				r.orch.HandleAudioFrame(id, data)
				if r.metrics != nil {
					r.metrics.RecordAudioBytes(len(data))
				}
			}
		case websocket.TextMessage:
			r.handleAssistCommand(client, data)
		}
	}
}

func (r *Router) handleAssistCommand(client *assistClient, data []byte) {
	var cmd assistCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		client.send(map[string]any{"type": "error", "scope": "command", "message": "invalid command"})
		return
	}

	switch cmd.Type {
	case "start":
		if r.orch == nil {
			client.send(map[string]any{"type": "error", "scope": "start", "message": "assist pipeline not available"})
			return
		}
		info, err := r.orch.Start(call.StartParams{
			Mode:       call.Mode(cmd.Mode),
			SampleRate: cmd.SampleRate,
			Channels:   cmd.Channels,
			YouChannel: cmd.YouChannel,
			YouSpeaker: cmd.YouSpeaker,
			Language:   cmd.Language,
		})
		if err != nil {
			client.send(map[string]any{"type": "error", "scope": "start", "message": err.Error()})
			return
		}
		// Start returns the running session when one is already live, so a
		// reconnecting device resumes by sending start again.
		client.bindSession(info.ID)
		client.send(map[string]any{"type": "started", "session": info})
	case "stop":
		if id := client.boundSession(); id != "" && r.orch != nil {
			client.bindSession("")
			r.orch.Stop(id)
		}
	default:
		client.send(map[string]any{"type": "error", "scope": "command", "message": "unknown command type"})
	}
}
