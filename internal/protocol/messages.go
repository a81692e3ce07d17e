package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSessionStart  MessageType = "session_start"
	TypePing          MessageType = "ping"
	TypePong          MessageType = "pong"
	TypeEndSession    MessageType = "end_session"
	TypeSummary       MessageType = "summary"
	TypeTranscription MessageType = "transcription"
	TypeResponse      MessageType = "response"
	TypeError         MessageType = "error"

	// TypeAudio labels binary frames in both directions. It never appears on the wire.
	TypeAudio MessageType = "audio"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrMalformed       = errors.New("malformed control message")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl is a parsed inbound text frame (ping or end_session).
type ClientControl struct {
	Type MessageType `json:"type"`
}

// AudioChunk is one inbound binary frame of compressed microphone audio.
type AudioChunk struct {
	Data []byte
}

// AudioFrame is one outbound binary frame of synthesized speech.
type AudioFrame struct {
	Data   []byte
	Format string
}

type SessionStart struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type Pong struct {
	Type MessageType `json:"type"`
}

type Transcription struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	Language string      `json:"language"`
}

type Response struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type Sentiment struct {
	Overall string  `json:"overall"`
	Score   float64 `json:"score"`
	Details string  `json:"details"`
}

type Summary struct {
	Type          MessageType `json:"type"`
	Summary       string      `json:"summary"`
	Sentiment     Sentiment   `json:"sentiment"`
	TurnCount     int         `json:"turn_count"`
	LanguagesUsed []string    `json:"languages_used"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewSessionStart(sessionID string) SessionStart {
	return SessionStart{Type: TypeSessionStart, SessionID: sessionID}
}

func NewPong() Pong { return Pong{Type: TypePong} }

func NewTranscription(text, language string) Transcription {
	return Transcription{Type: TypeTranscription, Text: text, Language: language}
}

func NewResponse(text string) Response {
	return Response{Type: TypeResponse, Text: text}
}

func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

func NewSummary(summary string, sentiment Sentiment, turnCount int, languages []string) Summary {
	if languages == nil {
		languages = []string{}
	}
	return Summary{
		Type:          TypeSummary,
		Summary:       summary,
		Sentiment:     sentiment,
		TurnCount:     turnCount,
		LanguagesUsed: languages,
	}
}

// ParseClientMessage decodes an inbound text frame. Invalid JSON wraps
// ErrMalformed; a well-formed frame of an unknown type wraps ErrUnsupportedType.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypePing, TypeEndSession:
		return ClientControl{Type: env.Type}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

// TypeOf reports the message type of an inbound or outbound payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientControl:
		return m.Type, true
	case AudioChunk, AudioFrame:
		return TypeAudio, true
	case SessionStart:
		return m.Type, true
	case Pong:
		return m.Type, true
	case Transcription:
		return m.Type, true
	case Response:
		return m.Type, true
	case Summary:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
