package net

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"

	"github.com/crowdchess/crowdchess/common/log"
	"github.com/crowdchess/crowdchess/core"
)

// Gateway is the websocket listener. It implements core.Publisher: the
// coordinator broadcasts through it and it never calls back into the
// coordinator while holding its own lock.
type Gateway struct {
	log      log.Logger
	game     *core.Game
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client

	srv *http.Server
}

// NewGateway wires a gateway to the coordinator.
func NewGateway(l log.Logger, game *core.Game) *Gateway {
	return &Gateway{
		log:  l.Named("gateway"),
		game: game,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The browser client is served from anywhere; identity is the
			// pid, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Router exposes the HTTP surface: the game socket and a health probe.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", g.handleWS)
	r.Get("/health", g.handleHealth)
	return r
}

// Start listens on addr until Stop is called.
func (g *Gateway) Start(addr string) {
	g.srv = &http.Server{
		Addr:              addr,
		Handler:           g.Router(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		g.log.Infow("gateway listening", "addr", addr)
		if err := g.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Errorw("gateway stopped", "err", err)
		}
	}()
}

// Stop shuts the listener down and closes every socket.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	for _, c := range g.clients {
		c.close()
	}
	g.clients = make(map[string]*client)
	g.mu.Unlock()
	if g.srv == nil {
		return nil
	}
	return g.srv.Shutdown(ctx)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": g.game.Status().String(),
	})
}

// handleWS authenticates the handshake hints, admits the session and runs
// the pumps. Blacklisted pids are cut before any state changes; the client
// observes a dead socket.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debugw("upgrade failed", "err", err)
		return
	}

	pid := r.URL.Query().Get("pid")
	name := r.URL.Query().Get("name")
	resolved, err := g.game.Resolve(pid, name)
	if err != nil {
		g.log.Infow("connection rejected", "pid", pid, "err", err)
		_ = conn.Close()
		return
	}

	c := newClient(g, resolved, conn)
	g.mu.Lock()
	if old, ok := g.clients[resolved]; ok {
		old.close()
	}
	g.clients[resolved] = c
	g.mu.Unlock()

	go c.writePump()
	go c.readPump()

	if err := g.game.Connected(resolved); err != nil {
		g.log.Errorw("connect replay failed", "pid", resolved, "err", err)
		c.close()
	}
}

// dropClient runs when a socket dies. Only the current holder of the pid
// reports the disconnect; a reconnect that replaced the socket does not.
func (g *Gateway) dropClient(c *client) {
	g.mu.Lock()
	current := g.clients[c.pid] == c
	if current {
		delete(g.clients, c.pid)
	}
	g.mu.Unlock()
	if current {
		g.game.Disconnected(c.pid)
	}
}

// dispatch routes one inbound frame to the coordinator.
func (g *Gateway) dispatch(c *client, frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		g.replyErr(c, nil, fmt.Errorf("malformed message"))
		return
	}

	var err error
	switch env.Type {
	case msgSetName:
		var p setNamePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = g.game.SetName(c.pid, p.Name)
		}
	case msgJoinSide:
		var p joinSidePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = g.game.JoinSide(c.pid, core.Team(p.Side))
		}
	case msgPlayMove:
		var p playMovePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = g.game.PlayMove(c.pid, p.LAN)
		}
	case msgChatMessage:
		var p chatPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = g.game.Chat(c.pid, p.Message)
		}
	case msgStartTeamVote:
		var p startTeamVotePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = g.game.StartTeamVote(c.pid, core.VoteKind(p.Type))
		}
	case msgVoteTeam:
		var p ballotPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = g.game.VoteTeam(c.pid, p.Vote == "yes")
		}
	case msgStartKickVote:
		var p startKickVotePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = g.game.StartKickVote(c.pid, p.TargetPID)
		}
	case msgVoteKick:
		var p ballotPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = g.game.VoteKick(c.pid, p.Vote == "yes")
		}
	case msgStartResetVote:
		err = g.game.StartResetVote(c.pid)
	case msgVoteReset:
		var p ballotPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = g.game.VoteReset(c.pid, p.Vote == "yes")
		}
	default:
		err = fmt.Errorf("unknown message type %q", env.Type)
	}

	if err != nil {
		g.replyErr(c, env.ID, err)
		return
	}
	if env.ID != nil {
		c.enqueue(encode(outbound{Type: "ack", ID: env.ID, Data: ackPayload{Success: true}}))
	}
}

func (g *Gateway) replyErr(c *client, id *int64, err error) {
	if id != nil {
		c.enqueue(encode(outbound{Type: "ack", ID: id, Data: ackPayload{Error: err.Error()}}))
		return
	}
	c.enqueue(encode(outbound{
		Type: core.EventError,
		Data: core.ErrorPayload{Message: err.Error()},
	}))
}

// ---- core.Publisher ----------------------------------------------------

// Unicast delivers one event to one session's live socket, if any.
func (g *Gateway) Unicast(pid, event string, payload interface{}) {
	frame := encode(outbound{Type: event, Data: payload})
	g.mu.Lock()
	c, ok := g.clients[pid]
	g.mu.Unlock()
	if ok {
		c.enqueue(frame)
	}
}

// Broadcast delivers one event to every live socket.
func (g *Gateway) Broadcast(event string, payload interface{}) {
	frame := encode(outbound{Type: event, Data: payload})
	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()
	for _, c := range clients {
		c.enqueue(frame)
	}
}

// CloseClient force-disconnects a session's socket, e.g. after a kick.
func (g *Gateway) CloseClient(pid string) {
	g.mu.Lock()
	c, ok := g.clients[pid]
	if ok {
		delete(g.clients, pid)
	}
	g.mu.Unlock()
	if ok {
		c.close()
	}
}

func encode(o outbound) []byte {
	frame, err := json.Marshal(o)
	if err != nil {
		// Payloads are our own structs; this cannot fail at runtime.
		panic(err)
	}
	return frame
}
