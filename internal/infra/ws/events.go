package ws

// InboundEvent is one frame from the client. Room is required for every
// type; Credential is optional on join (absent means anonymous join).
type InboundEvent struct {
	Type       string `json:"type"` // join | leave | message
	Room       string `json:"room,omitempty"`
	Credential string `json:"credential,omitempty"`
	Content    string `json:"content,omitempty"`
}

const (
	inboundJoin    = "join"
	inboundLeave   = "leave"
	inboundMessage = "message"
)

// Outbound event types beyond message-created (which the broadcaster owns).
const (
	eventSession = "session"
	eventJoined  = "joined"
	eventLeft    = "left"
	eventAck     = "ack"
	eventError   = "error"
)

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeInvalidCredential = "invalid_credential"
	codeRateLimited       = "rate_limited"
	codeBadEvent          = "bad_event"
)
