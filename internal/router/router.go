// Package router dispatches realtime client messages and fans server events
// out to connections.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/arkanwolfshade/MythosMUD-sub022/internal/occupants"
	"github.com/arkanwolfshade/MythosMUD-sub022/internal/presence"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/rooms"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/state"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/world"
)

// PresenceView is the read side of the presence tracker plus Touch.
type PresenceView interface {
	PresenceInfo(playerID string) presence.Snapshot
	Statistics() presence.Statistics
	Touch(playerID string)
}

type OccupantLister interface {
	OccupantsOf(ctx context.Context, roomID, include string) []occupants.Occupant
}

// Request is what a handler sees of one inbound message.
type Request struct {
	Context context.Context
	Conn    state.ConnectionRecord
	Message *ClientMessage
}

// HandlerFunc answers one event. A nil response sends nothing.
type HandlerFunc func(req *Request) (*ClientMessage, error)

type EventRouter struct {
	logger    *slog.Logger
	registry  state.Registry
	presence  PresenceView
	occupants OccupantLister
	formatter *occupants.Formatter
	players   world.PlayerStore

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc
}

func NewEventRouter(
	logger *slog.Logger,
	registry state.Registry,
	presence PresenceView,
	lister OccupantLister,
	formatter *occupants.Formatter,
	players world.PlayerStore,
) *EventRouter {
	r := &EventRouter{
		logger:    logger.With(slog.String("component", "event_router")),
		registry:  registry,
		presence:  presence,
		occupants: lister,
		formatter: formatter,
		players:   players,
		handlers:  make(map[string]HandlerFunc),
	}
	r.Register(EventPing, r.handlePing)
	r.Register(EventPresence, r.handlePresence)
	r.Register(EventOccupants, r.handleOccupants)
	r.Register(EventStats, r.handleStats)
	return r
}

// Register adds a handler. Registering an event twice panics.
func (r *EventRouter) Register(event string, fn HandlerFunc) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	if _, exists := r.handlers[event]; exists {
		panic("event handler already registered: " + event)
	}
	r.handlers[event] = fn
}

// HandleMessage decodes msg, runs the matching handler and sends its reply
// back over the originating connection.
func (r *EventRouter) HandleMessage(ctx context.Context, connID string, msg []byte) {
	conn, ok := r.registry.Get(connID)
	if !ok {
		r.logger.Warn("Message from unregistered connection", slog.String("connID", connID))
		return
	}
	if !gjson.ValidBytes(msg) {
		r.logger.Warn("Failed to parse client message", slog.String("connID", connID))
		r.reply(connID, errorMessage("", "malformed message"))
		return
	}

	fields := gjson.GetManyBytes(msg, "event", "target", "payload")
	clientMsg := &ClientMessage{
		Event:  fields[0].String(),
		Target: fields[1].String(),
	}
	if fields[2].Exists() {
		clientMsg.Payload = json.RawMessage(fields[2].Raw)
	}

	r.handlersMu.RLock()
	handler, ok := r.handlers[clientMsg.Event]
	r.handlersMu.RUnlock()
	if !ok {
		r.logger.Warn("Received unknown event", slog.String("event", clientMsg.Event), slog.String("connID", connID))
		r.reply(connID, errorMessage(clientMsg.Event, "unknown event"))
		return
	}

	r.registry.TouchLastSeen(connID)
	r.logger.Debug("Handling event", slog.String("event", clientMsg.Event), slog.String("connID", connID))
	resp, err := handler(&Request{Context: ctx, Conn: conn, Message: clientMsg})
	if err != nil {
		r.logger.Error("Event handler failed", slog.String("event", clientMsg.Event), slog.Any("error", err))
		r.reply(connID, errorMessage(clientMsg.Event, "request failed"))
		return
	}
	if resp != nil {
		r.reply(connID, resp)
	}
}

func (r *EventRouter) reply(connID string, msg *ClientMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("Failed to marshal reply", slog.String("event", msg.Event), slog.Any("error", err))
		return
	}
	if h, ok := r.registry.Handle(connID); ok {
		h.Send(data)
	}
}

func errorMessage(event, message string) *ClientMessage {
	payload, _ := json.Marshal(errorPayload{Message: message, Event: event})
	return &ClientMessage{Event: EventError, Payload: payload}
}

func respond(event, target string, payload any) (*ClientMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return &ClientMessage{Event: event, Target: target, Payload: data}, nil
}

// --- Handlers ---

func (r *EventRouter) handlePing(req *Request) (*ClientMessage, error) {
	r.presence.Touch(req.Conn.PlayerID)
	return &ClientMessage{Event: EventPong}, nil
}

func (r *EventRouter) handlePresence(req *Request) (*ClientMessage, error) {
	target := req.Message.Target
	if target == "" {
		target = req.Conn.PlayerID
	}
	return respond(EventPresence, target, r.presence.PresenceInfo(target))
}

// handleOccupants lists a room. Without payload.room_id it uses the
// requester's current room. When the room is the requester's own they are
// force-included, so a player who just moved sees themselves.
func (r *EventRouter) handleOccupants(req *Request) (*ClientMessage, error) {
	current := r.currentRoom(req.Context, req.Conn.PlayerID)
	roomID, _ := rooms.Normalize(gjson.GetBytes(req.Message.Payload, "room_id").String())
	if roomID == "" {
		roomID = current
	}
	if roomID == "" {
		return errorMessage(EventOccupants, "room_id required"), nil
	}
	include := ""
	if rooms.Matches(roomID, "", current, "") {
		include = req.Conn.PlayerID
	}

	list := r.occupants.OccupantsOf(req.Context, roomID, include)
	players, npcs, _ := r.formatter.Classify(occupants.Entries(list), roomID)
	return respond(EventOccupants, roomID, occupantsPayload{
		RoomID:    roomID,
		Occupants: list,
		Players:   players,
		NPCs:      npcs,
	})
}

// currentRoom reads the player's room from the store, which follows moves.
// The presence record only holds the room seen at connection time and is
// the fallback when there is no store or the lookup fails.
func (r *EventRouter) currentRoom(ctx context.Context, playerID string) string {
	if r.players != nil {
		p, err := r.players.GetPlayer(ctx, playerID)
		if err == nil && p != nil {
			if room, ok := rooms.Normalize(p.CurrentRoomID); ok {
				return room
			}
		} else if err != nil {
			r.logger.Debug("Falling back to cached room", slog.String("playerID", playerID), slog.Any("error", err))
		}
	}
	return r.presence.PresenceInfo(playerID).CurrentRoomID
}

func (r *EventRouter) handleStats(_ *Request) (*ClientMessage, error) {
	return respond(EventStats, "", r.presence.Statistics())
}
