// Package relay turns client events into room operations and room outcomes into
// broadcasts.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"
	"github.com/strongfeels/stagedelight/internal/connection"
	"github.com/strongfeels/stagedelight/internal/history"
	"github.com/strongfeels/stagedelight/internal/registry"
	"github.com/strongfeels/stagedelight/internal/room"
	"github.com/strongfeels/stagedelight/internal/statsbus"
	"github.com/strongfeels/stagedelight/pkg/executils"
	"github.com/strongfeels/stagedelight/pkg/metrics"
	"github.com/strongfeels/stagedelight/pkg/protocol"
	"go.uber.org/fx"
)

const fanOutLimit = 64

type handlerFunc func(ctx context.Context, conn connection.Conn, data json.RawMessage) error

type Relay struct {
	logger   *slog.Logger
	registry *registry.Registry
	conns    *connection.Manager
	history  history.Recorder
	stats    statsbus.Publisher
	metrics  *metrics.Metrics

	handlers map[string]handlerFunc

	// statsMu keeps room-stats broadcasts in the order they were computed.
	statsMu sync.Mutex
}

type Params struct {
	fx.In

	Logger   *slog.Logger
	Registry *registry.Registry
	Conns    *connection.Manager
	History  history.Recorder
	Stats    statsbus.Publisher
	Metrics  *metrics.Metrics
}

func New(params Params) *Relay {
	r := &Relay{
		logger:   params.Logger,
		registry: params.Registry,
		conns:    params.Conns,
		history:  params.History,
		stats:    params.Stats,
		metrics:  params.Metrics,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.history == nil {
		r.history = history.Nop{}
	}
	if r.stats == nil {
		r.stats = statsbus.Nop{}
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}

	r.handlers = map[string]handlerFunc{
		protocol.EventJoinRoom:     r.onJoinRoom,
		protocol.EventVoteToStart:  r.onVoteToStart,
		protocol.EventVoteSkip:     r.onVoteSkip,
		protocol.EventTimeExpired:  r.onTimeExpired,
		protocol.EventLeaveRoom:    r.onLeaveRoom,
		protocol.EventPing:         r.onPing,
		protocol.EventOffer:        r.forward(protocol.EventOffer),
		protocol.EventAnswer:       r.forward(protocol.EventAnswer),
		protocol.EventIceCandidate: r.forward(protocol.EventIceCandidate),
	}

	r.registry.OnOutcome(r.onRoomOutcome)
	return r
}

// Connect registers conn and sends it the current membership counts.
func (r *Relay) Connect(ctx context.Context, conn connection.Conn) error {
	if err := r.conns.Register(conn); err != nil {
		return err
	}
	r.metrics.Connections.Set(float64(r.conns.Count()))
	r.logger.Debug("connected", slog.String("conn", conn.ID()))

	return r.send(conn, protocol.EventRoomStats, r.roomStats())
}

// Disconnect is the same state transition as an explicit leave, followed by
// forgetting the connection.
func (r *Relay) Disconnect(ctx context.Context, connID string) {
	r.leave(ctx, connID)
	r.conns.Unregister(connID)
	r.metrics.Connections.Set(float64(r.conns.Count()))
	r.logger.Debug("disconnected", slog.String("conn", connID))
}

// Dispatch routes one inbound message. Failures are reported to the sender as an
// error event and returned for logging; the connection stays usable.
func (r *Relay) Dispatch(ctx context.Context, conn connection.Conn, msg protocol.Message) error {
	handler, ok := r.handlers[msg.Event]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
		r.sendError(conn, err)
		return err
	}
	r.metrics.InboundEvents.WithLabelValues(msg.Event).Inc()

	if err := handler(ctx, conn, msg.Data); err != nil {
		r.sendError(conn, err)
		return fmt.Errorf("%s: %w", msg.Event, err)
	}
	return nil
}

func (r *Relay) onJoinRoom(ctx context.Context, conn connection.Conn, data json.RawMessage) error {
	var req protocol.JoinRoomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	t, err := r.registry.Catalog().Parse(req.RoomType)
	if err != nil {
		return err
	}

	if _, inRoom := r.conns.RoomOf(conn.ID()); inRoom {
		r.leave(ctx, conn.ID())
	}

	rm, out, err := r.registry.Join(t, room.User{ID: conn.ID()})
	if err != nil {
		return err
	}
	defer rm.Release()

	others := r.conns.InRoom(rm.ID())
	if err := r.conns.Bind(conn.ID(), rm); err != nil {
		// The connection vanished while joining; undo the membership.
		r.publishLeave(ctx, rm, conn.ID(), r.registry.Leave(rm, conn.ID()))
		return err
	}

	r.logger.Info("joined",
		slog.String("conn", conn.ID()),
		slog.Int("room", rm.ID()),
		slog.String("type", string(t)),
	)
	r.history.Record(history.Event{
		RoomID:   rm.ID(),
		RoomType: string(t),
		Kind:     history.KindJoined,
		UserID:   conn.ID(),
	})

	members := append(others, conn)
	config := rm.Config()

	r.broadcast(ctx, others, protocol.EventUserJoined, conn.ID())
	r.send(conn, protocol.EventRoomJoined, protocol.RoomJoined{
		RoomID:     rm.ID(),
		RoomType:   string(t),
		Label:      config.Label,
		UserID:     conn.ID(),
		Queue:      out.Queue,
		HasStarted: out.HasStarted,
		Duration:   int(config.Duration.Seconds()),
	})
	r.broadcast(ctx, members, protocol.EventQueueUpdated, out.Queue)
	r.broadcastStats(ctx)

	if out.HasStarted {
		if out.Speaker != "" {
			r.send(conn, protocol.EventSpeakerChanged, protocol.Speaker{SpeakerID: out.Speaker, Turn: out.Turn})
		}
	} else if out.StartVotes != nil {
		r.broadcast(ctx, members, protocol.EventStartVotesUpdated, protocol.StartVotes{
			Votes:  out.StartVotes.Votes,
			Needed: out.StartVotes.Needed,
		})
	}
	if out.SkipVotes != nil {
		r.send(conn, protocol.EventSkipVotesUpdated, protocol.SkipVotes(*out.SkipVotes))
	}
	return nil
}

func (r *Relay) onVoteToStart(ctx context.Context, conn connection.Conn, _ json.RawMessage) error {
	rm, ok := r.conns.RoomOf(conn.ID())
	if !ok {
		return nil
	}
	rm.Acquire()
	defer rm.Release()
	r.publish(ctx, rm, rm.VoteToStart(conn.ID()))
	return nil
}

func (r *Relay) onVoteSkip(ctx context.Context, conn connection.Conn, _ json.RawMessage) error {
	rm, ok := r.conns.RoomOf(conn.ID())
	if !ok {
		return nil
	}
	rm.Acquire()
	defer rm.Release()
	r.publish(ctx, rm, rm.VoteSkip(conn.ID()))
	return nil
}

func (r *Relay) onTimeExpired(ctx context.Context, conn connection.Conn, data json.RawMessage) error {
	var req protocol.TimeExpiredRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	rm, ok := r.conns.RoomOf(conn.ID())
	if !ok {
		return nil
	}

	rm.Acquire()
	defer rm.Release()

	out := rm.ExpireTurn(conn.ID(), req.Turn)
	if out.Ignored {
		r.logger.Debug("stale time-expired ignored",
			slog.String("conn", conn.ID()),
			slog.Int("room", rm.ID()),
			slog.Uint64("turn", req.Turn),
		)
	}
	r.publish(ctx, rm, out)
	return nil
}

func (r *Relay) onLeaveRoom(ctx context.Context, conn connection.Conn, _ json.RawMessage) error {
	r.leave(ctx, conn.ID())
	return nil
}

func (r *Relay) onPing(_ context.Context, conn connection.Conn, _ json.RawMessage) error {
	return r.send(conn, protocol.EventPong, nil)
}

// forward relays an opaque negotiation payload to its recipient, stamping the
// sender id. The payload is never inspected.
func (r *Relay) forward(event string) handlerFunc {
	return func(_ context.Context, conn connection.Conn, data json.RawMessage) error {
		var req protocol.RelayRequest
		if err := decode(data, &req); err != nil {
			return err
		}
		if req.To == "" {
			return fmt.Errorf("%w: missing recipient", ErrMalformedPayload)
		}

		target, ok := r.conns.Get(req.To)
		if !ok {
			return fmt.Errorf("%w: %s", ErrRecipientNotFound, req.To)
		}
		return r.send(target, event, protocol.RelayMessage{From: conn.ID(), Payload: req.Payload})
	}
}

func (r *Relay) leave(ctx context.Context, connID string) {
	rm := r.conns.Unbind(connID)
	if rm == nil {
		return
	}
	rm.Acquire()
	defer rm.Release()

	out := r.registry.Leave(rm, connID)
	if out.Ignored {
		return
	}

	r.logger.Info("left", slog.String("conn", connID), slog.Int("room", rm.ID()), slog.Bool("empty", out.Empty))
	r.history.Record(history.Event{
		RoomID:   rm.ID(),
		RoomType: string(rm.Type()),
		Kind:     history.KindLeft,
		UserID:   connID,
	})
	r.publishLeave(ctx, rm, connID, out)
}

// publishLeave follows the departure order clients expect: who left, the new
// queue, then who speaks now.
func (r *Relay) publishLeave(ctx context.Context, rm *room.Room, connID string, out room.Outcome) {
	if out.Ignored {
		return
	}
	r.observe(rm, out)

	members := r.conns.InRoom(rm.ID())
	r.broadcast(ctx, members, protocol.EventUserLeft, connID)
	r.publishQueue(ctx, members, out)
	r.publishSpeaker(ctx, members, out)
	r.publishTallies(ctx, members, out)
	r.broadcastStats(ctx)
}

// onRoomOutcome receives outcomes rooms produce on their own timers. The room's
// order is already held.
func (r *Relay) onRoomOutcome(rm *room.Room, out room.Outcome) {
	r.logger.Info("room timer fired",
		slog.Int("room", rm.ID()),
		slog.String("reason", string(out.Reason)),
		slog.String("speaker", out.Speaker),
	)
	r.publish(context.Background(), rm, out)
}

// publish broadcasts what out changed to the room's members and records it. The
// caller holds rm's order.
func (r *Relay) publish(ctx context.Context, rm *room.Room, out room.Outcome) {
	if out.Ignored {
		return
	}
	r.observe(rm, out)

	members := r.conns.InRoom(rm.ID())
	r.publishTallies(ctx, members, out)
	r.publishSpeaker(ctx, members, out)
	r.publishQueue(ctx, members, out)
}

func (r *Relay) publishTallies(ctx context.Context, members []connection.Conn, out room.Outcome) {
	if out.StartVotes != nil && !out.HasStarted {
		r.broadcast(ctx, members, protocol.EventStartVotesUpdated, protocol.StartVotes{
			Votes:  out.StartVotes.Votes,
			Needed: out.StartVotes.Needed,
		})
	}
	if out.SkipVotes != nil {
		r.broadcast(ctx, members, protocol.EventSkipVotesUpdated, protocol.SkipVotes(*out.SkipVotes))
	}
}

func (r *Relay) publishSpeaker(ctx context.Context, members []connection.Conn, out room.Outcome) {
	speaker := protocol.Speaker{SpeakerID: out.Speaker, Turn: out.Turn}
	switch {
	case out.Started:
		r.broadcast(ctx, members, protocol.EventRoomStarted, speaker)
	case out.SpeakerChanged && out.Speaker != "":
		r.broadcast(ctx, members, protocol.EventSpeakerChanged, speaker)
	}
}

func (r *Relay) publishQueue(ctx context.Context, members []connection.Conn, out room.Outcome) {
	if out.QueueChanged || out.Rotated {
		r.broadcast(ctx, members, protocol.EventQueueUpdated, out.Queue)
	}
}

func (r *Relay) observe(rm *room.Room, out room.Outcome) {
	event := history.Event{
		RoomID:   rm.ID(),
		RoomType: string(rm.Type()),
		Reason:   string(out.Reason),
		Turn:     out.Turn,
	}

	if out.Started {
		r.metrics.RoomsStarted.WithLabelValues(string(out.Reason)).Inc()
		started := event
		started.Kind = history.KindStarted
		started.UserID = out.Speaker
		r.history.Record(started)
	} else if out.SpeakerChanged && out.Speaker != "" {
		r.metrics.Rotations.WithLabelValues(string(out.Reason)).Inc()
		changed := event
		changed.Kind = history.KindSpeakerChanged
		changed.UserID = out.Speaker
		r.history.Record(changed)
	}

	if out.Empty {
		closed := event
		closed.Kind = history.KindClosed
		r.history.Record(closed)
	}
}

func (r *Relay) roomStats() protocol.RoomStats {
	stats := make(protocol.RoomStats)
	for t, n := range r.registry.Stats() {
		stats[string(t)] = n
	}
	return stats
}

// broadcastStats sends membership counts to every connection and mirrors them to
// metrics and the stats publisher.
func (r *Relay) broadcastStats(ctx context.Context) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	stats := r.roomStats()

	live := lo.GroupBy(r.registry.Rooms(), func(rm *room.Room) string { return string(rm.Type()) })
	for t, n := range stats {
		r.metrics.Members.WithLabelValues(t).Set(float64(n))
		r.metrics.Rooms.WithLabelValues(t).Set(float64(len(live[t])))
	}

	r.broadcast(ctx, r.conns.All(), protocol.EventRoomStats, stats)

	if err := r.stats.Publish(ctx, stats); err != nil {
		r.logger.Warn("publish room stats", slog.String("err", err.Error()))
	}
}

// broadcast writes one event to every recipient concurrently and returns once all
// writes finished, so consecutive broadcasts reach each recipient in order.
// Failures are logged and never undo the state change that caused them.
func (r *Relay) broadcast(ctx context.Context, recipients []connection.Conn, event string, data any) {
	msg, err := protocol.NewMessage(event, data)
	if err != nil {
		r.logger.Error("encode event", slog.String("event", event), slog.String("err", err.Error()))
		return
	}

	err = executils.ForEachAsync(ctx, recipients, fanOutLimit, func(_ context.Context, conn connection.Conn) error {
		if err := conn.WriteJSON(msg); err != nil {
			r.metrics.SendFailures.Inc()
			return fmt.Errorf("%s: %w", conn.ID(), err)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("broadcast", slog.String("event", event), slog.String("err", err.Error()))
	}
}

func (r *Relay) send(conn connection.Conn, event string, data any) error {
	msg, err := protocol.NewMessage(event, data)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(msg); err != nil {
		r.metrics.SendFailures.Inc()
		r.logger.Warn("send", slog.String("conn", conn.ID()), slog.String("event", event), slog.String("err", err.Error()))
		return err
	}
	return nil
}

// Throttled tells conn that its message was dropped by the rate limit.
func (r *Relay) Throttled(conn connection.Conn) {
	r.metrics.Throttled.Inc()
	r.sendError(conn, ErrRateLimited)
}

func (r *Relay) sendError(conn connection.Conn, err error) {
	_ = r.send(conn, protocol.EventError, protocol.Error{Message: err.Error()})
}

// decode accepts an absent payload as the zero value.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(ErrMalformedPayload, err)
	}
	return nil
}
