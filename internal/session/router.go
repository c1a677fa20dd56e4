package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/HynixCorp/reach-backend-sub000/pkg/overlay"
	"github.com/HynixCorp/reach-backend-sub000/pkg/transport"
)

// Router owns the set of open transport connections and turns inbound socket
// events (identify, presenceUpdate, joinExperience, leaveExperience) into hub
// operations. A connection stays unidentified, and restricted to the identify
// event, until its credential passes the auth policy.
type Router struct {
	logger *slog.Logger
	hub    *overlay.Hub
	policy overlay.AuthPolicy

	mu    sync.Mutex
	conns map[uuid.UUID]*liveConn
}

type liveConn struct {
	transport *transport.Connection
	ip        string
	openedAt  time.Time
}

func NewRouter(logger *slog.Logger, hub *overlay.Hub, policy overlay.AuthPolicy) *Router {
	return &Router{
		logger: logger.With(slog.String("component", "session_router")),
		hub:    hub,
		policy: policy,
		conns:  make(map[uuid.UUID]*liveConn),
	}
}

// Attach records a freshly upgraded connection so events from it can be
// routed. Must be called before the connection's pumps start.
func (r *Router) Attach(conn *transport.Connection, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = &liveConn{transport: conn, ip: ip, openedAt: time.Now()}
}

// HandleClose tears the connection down: hub deregistration (which finalizes
// presence when it was the identity's last connection) and removal from the
// live set.
func (r *Router) HandleClose(connID uuid.UUID, err error) {
	r.hub.Disconnect(connID)
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
	r.logger.Debug("session closed", slog.String("connID", connID.String()), slog.Any("reason", err))
}

// CountByIP reports how many open connections an address currently holds.
// Used by the connection limiter middleware.
func (r *Router) CountByIP(ip string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, lc := range r.conns {
		if lc.ip == ip {
			n++
		}
	}
	return n
}

// CloseOldestByIP closes the longest-open connection from an address, making
// room for a new one in "cycle" limiter mode.
func (r *Router) CloseOldestByIP(ip string, reason error) {
	r.mu.Lock()
	var oldest *liveConn
	for _, lc := range r.conns {
		if lc.ip != ip {
			continue
		}
		if oldest == nil || lc.openedAt.Before(oldest.openedAt) {
			oldest = lc
		}
	}
	r.mu.Unlock()
	if oldest != nil {
		oldest.transport.Close(reason)
	}
}

// HandleMessage is the transport's message callback.
func (r *Router) HandleMessage(_ context.Context, connID uuid.UUID, msg []byte) {
	r.mu.Lock()
	lc, ok := r.conns[connID]
	r.mu.Unlock()
	if !ok {
		return
	}

	var ev clientEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		r.logger.Warn("unparseable client message", slog.String("connID", connID.String()), slog.Any("error", err))
		r.sendError(lc, codeBadRequest, "message must be a JSON event envelope")
		return
	}

	identity, identified := r.hub.IdentityFor(connID)
	if !identified && ev.Event != eventIdentify {
		r.sendError(lc, codeAuthRequired, "identify before sending events")
		return
	}

	switch ev.Event {
	case eventIdentify:
		r.handleIdentify(lc, connID, ev.Payload)
	case eventPresenceUpdate:
		r.handlePresenceUpdate(lc, identity, ev.Payload)
	case eventJoinExperience:
		r.handleJoinExperience(lc, identity, ev.Payload)
	case eventLeaveExperience:
		r.hub.LeaveExperience(identity)
		r.sendAck(lc, eventLeaveExperience, "")
	default:
		r.logger.Warn("unknown client event", slog.String("event", ev.Event), slog.String("connID", connID.String()))
		r.sendError(lc, codeUnknownEvent, "unknown event '"+ev.Event+"'")
	}
}

func (r *Router) handleIdentify(lc *liveConn, connID uuid.UUID, payload json.RawMessage) {
	body := string(payload)
	credential := gjson.Get(body, "credential").String()

	identity, err := r.policy.Authenticate(credential, connID)
	if err != nil {
		// The connection stays open but unregistered; a later identify with a
		// valid credential can still succeed.
		r.logger.Warn("identify rejected", slog.String("connID", connID.String()), slog.Any("error", err))
		r.sendError(lc, errorCode(err), err.Error())
		return
	}

	r.hub.Connect(connID, identity, lc.transport.Send)

	if exp := gjson.Get(body, "experienceId").String(); exp != "" {
		if err := r.hub.JoinExperience(identity, exp); err != nil {
			r.sendError(lc, errorCode(err), err.Error())
			return
		}
	}
	r.sendAck(lc, eventIdentify, identity)
	r.logger.Info("session identified", slog.String("connID", connID.String()), slog.String("identity", identity))
}

func (r *Router) handlePresenceUpdate(lc *liveConn, identity string, payload json.RawMessage) {
	body := string(payload)
	status := overlay.Status(gjson.Get(body, "status").String())
	detail := gjson.Get(body, "detail").String()

	// An absent experienceId leaves membership untouched; an explicit empty
	// string leaves the current experience.
	var experienceID *string
	if field := gjson.Get(body, "experienceId"); field.Exists() {
		v := field.String()
		experienceID = &v
	}

	if err := r.hub.UpdatePresence(identity, status, detail, experienceID); err != nil {
		r.sendError(lc, errorCode(err), err.Error())
		return
	}
	r.sendAck(lc, eventPresenceUpdate, "")
}

func (r *Router) handleJoinExperience(lc *liveConn, identity string, payload json.RawMessage) {
	exp := gjson.Get(string(payload), "experienceId").String()
	if exp == "" {
		r.sendError(lc, codeBadRequest, "joinExperience requires experienceId")
		return
	}
	if err := r.hub.JoinExperience(identity, exp); err != nil {
		r.sendError(lc, errorCode(err), err.Error())
		return
	}
	r.sendAck(lc, eventJoinExperience, "")
}

func (r *Router) sendAck(lc *liveConn, event, identity string) {
	r.push(lc, reply{Type: "ack", Payload: ackPayload{Event: event, Identity: identity}})
}

func (r *Router) sendError(lc *liveConn, code, message string) {
	r.push(lc, reply{Type: "error", Payload: errorPayload{Code: code, Message: message}})
}

func (r *Router) push(lc *liveConn, rep reply) {
	body, err := json.Marshal(rep)
	if err != nil {
		r.logger.Error("failed to marshal reply", slog.Any("error", err))
		return
	}
	lc.transport.Send(body)
}

// CloseAll closes every open connection; used during graceful shutdown.
func (r *Router) CloseAll(reason error) {
	r.mu.Lock()
	conns := make([]*liveConn, 0, len(r.conns))
	for _, lc := range r.conns {
		conns = append(conns, lc)
	}
	r.mu.Unlock()
	for _, lc := range conns {
		lc.transport.Close(reason)
	}
}
