package realtime

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/model"
	"github.com/deepmindneural/escuchodromo-sub002/internal/infra/metrics"
)

// Event is the envelope every room subscriber receives.
type Event struct {
	Type      string      `json:"type"`
	Room      string      `json:"room,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

const EventMessageCreated = "message-created"

// Broadcaster fans a payload out to every current member of a room.
// Ordering across two broadcasts to the same room is the caller's
// responsibility: the message pipeline issues them sequentially, and each
// member's queue preserves enqueue order. Delivery to members that vanish
// mid-iteration is silently dropped.
type Broadcaster struct {
	reg *Registry
	log *zerolog.Logger
}

func NewBroadcaster(reg *Registry, logger *zerolog.Logger) *Broadcaster {
	return &Broadcaster{reg: reg, log: logger}
}

// Broadcast delivers raw bytes to the room, optionally excluding the
// originating connection. Returns the number of members that accepted the
// payload into their queue.
func (b *Broadcaster) Broadcast(roomKey string, payload []byte, excludeConnID string) int {
	delivered := 0
	for _, m := range b.reg.Snapshot(roomKey) {
		if m.ConnID == excludeConnID {
			continue
		}
		if m.Sender.Send(payload) {
			delivered++
		} else {
			metrics.BroadcastDropped()
			b.log.Debug().Str("room", roomKey).Str("conn_id", m.ConnID).Msg("broadcast dropped")
		}
	}
	metrics.BroadcastDelivered(delivered)
	return delivered
}

// BroadcastMessage wraps a persisted message in the message-created
// envelope and fans it out. This is the pipeline's only view of fan-out.
func (b *Broadcaster) BroadcastMessage(roomKey string, msg *model.Message, excludeConnID string) int {
	ev := Event{
		Type:      EventMessageCreated,
		Room:      roomKey,
		Data:      msg,
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Str("room", roomKey).Msg("marshal broadcast event")
		return 0
	}
	return b.Broadcast(roomKey, payload, excludeConnID)
}
