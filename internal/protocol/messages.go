package protocol

import "time"

// SpeakRequest asks the speech service to queue one piece of text for playback.
type SpeakRequest struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text"`
	Markup    bool   `json:"markup,omitempty"`
	Voice     string `json:"voice,omitempty"`
}

// SpeakCancel cancels a single queued or active request by identity.
type SpeakCancel struct {
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id"`
}

// SpeakStatus reports one lifecycle transition for a queued request.
type SpeakStatus struct {
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id"`
	MessageID string    `json:"message_id,omitempty"`
	State     string    `json:"state"`
	Engine    string    `json:"engine,omitempty"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	QueueLen  int       `json:"queue_len"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is an assistant message announced by the chat frontend.
type ChatMessage struct {
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Markup    bool      `json:"markup,omitempty"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSpeechSay          = "speech.say"
	SubjectSpeechCancel       = "speech.cancel"
	SubjectSpeechStop         = "speech.stop"
	SubjectSpeechStatusPrefix = "speech.status"
	SubjectChatMessage        = "chat.message"
)
