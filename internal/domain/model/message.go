package model

import (
	"time"

	"github.com/google/uuid"
)

type MessageRole string

const (
	RoleHuman     MessageRole = "human"
	RoleAssistant MessageRole = "assistant"
)

// EmotionScore is the scorer's verdict for one piece of text: an overall
// valence in [-1, 1] plus per-label intensities.
type EmotionScore struct {
	Valence float64            `json:"valence"`
	Labels  map[string]float64 `json:"labels,omitempty"`
}

// Message is one persisted chat message. The core creates and annotates
// messages; durable ownership lives with the persistence layer.
type Message struct {
	ID           string        `json:"id"`
	RoomKey      string        `json:"roomKey"`
	AuthorID     string        `json:"authorId,omitempty"`
	SessionToken string        `json:"-"`
	Role         MessageRole   `json:"role"`
	Content      string        `json:"content"`
	Score        *EmotionScore `json:"score,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// NewHumanMessage builds a human-authored message. Exactly one of authorID
// (authenticated) and sessionToken (anonymous) is expected to be set.
func NewHumanMessage(roomKey, authorID, sessionToken, content string) *Message {
	return &Message{
		ID:           uuid.NewString(),
		RoomKey:      roomKey,
		AuthorID:     authorID,
		SessionToken: sessionToken,
		Role:         RoleHuman,
		Content:      content,
		CreatedAt:    time.Now().UTC(),
	}
}

func NewAssistantMessage(roomKey, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		RoomKey:   roomKey,
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}
