// Package protocol defines the WebSocket envelope exchanged between interview
// clients and the server, and the codec that validates it.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// MessageType is the closed set of envelope types.
type MessageType string

// Message types from client to server
const (
	TypeConnect    MessageType = "connect"
	TypeTextInput  MessageType = "text_input"
	TypeAudioInput MessageType = "audio_input"
	TypePing       MessageType = "ping"
	TypeDisconnect MessageType = "disconnect"
)

// Message types from server to client
const (
	TypeConnected     MessageType = "connected"
	TypeAIResponse    MessageType = "ai_response"
	TypeTranscription MessageType = "transcription"
	TypeError         MessageType = "error"
	TypeStatus        MessageType = "status"
	TypePong          MessageType = "pong"
)

// ServerVersion is reported in the connected envelope.
const ServerVersion = "2.0.0"

// Envelope is the wire wrapper for every frame in both directions.
// An empty SessionID is encoded as null.
type Envelope struct {
	Type      MessageType
	SessionID string
	Timestamp time.Time
	Data      any
}

type wireEnvelope struct {
	Type      string          `json:"type"`
	SessionID *string         `json:"session_id"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var data json.RawMessage
	if e.Data == nil {
		data = json.RawMessage("{}")
	} else {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		data = raw
	}

	w := wireEnvelope{
		Type:      string(e.Type),
		Timestamp: FormatTimestamp(ts),
		Data:      data,
	}
	if e.SessionID != "" {
		sid := e.SessionID
		w.SessionID = &sid
	}
	return json.Marshal(w)
}

// Inbound is a decoded client message. The set of implementations is closed:
// Connect, TextInput, AudioInput, Ping and Disconnect.
type Inbound interface {
	Kind() MessageType
	Session() string
	// Envelope re-encodes the message in wire form.
	Envelope() Envelope
	inbound()
}

// Header carries the envelope fields shared by every inbound message.
type Header struct {
	SessionID string
	Timestamp time.Time
}

func (h Header) Session() string { return h.SessionID }

func (h Header) envelope(t MessageType, data any) Envelope {
	return Envelope{Type: t, SessionID: h.SessionID, Timestamp: h.Timestamp, Data: data}
}

// Connect starts or re-confirms a session binding.
type Connect struct {
	Header
	Style         string
	CandidateName string
}

// TextInput is a typed answer.
type TextInput struct {
	Header
	Text    string
	Context string
}

// AudioInput is a recorded answer. Audio holds the decoded bytes.
type AudioInput struct {
	Header
	Audio   []byte
	Format  string
	Context string
}

// Ping keeps the connection's heartbeat alive.
type Ping struct {
	Header
}

// Disconnect asks the server to close the connection.
type Disconnect struct {
	Header
	Reason string
}

func (Connect) Kind() MessageType    { return TypeConnect }
func (TextInput) Kind() MessageType  { return TypeTextInput }
func (AudioInput) Kind() MessageType { return TypeAudioInput }
func (Ping) Kind() MessageType       { return TypePing }
func (Disconnect) Kind() MessageType { return TypeDisconnect }

func (Connect) inbound()    {}
func (TextInput) inbound()  {}
func (AudioInput) inbound() {}
func (Ping) inbound()       {}
func (Disconnect) inbound() {}

func (m Connect) Envelope() Envelope {
	return m.envelope(TypeConnect, connectData{InterviewStyle: m.Style, CandidateName: m.CandidateName})
}

func (m TextInput) Envelope() Envelope {
	return m.envelope(TypeTextInput, textData{Text: m.Text, Context: m.Context})
}

func (m AudioInput) Envelope() Envelope {
	return m.envelope(TypeAudioInput, audioData{
		AudioData:   base64.StdEncoding.EncodeToString(m.Audio),
		AudioFormat: m.Format,
		Context:     m.Context,
	})
}

func (m Ping) Envelope() Envelope {
	return m.envelope(TypePing, struct{}{})
}

func (m Disconnect) Envelope() Envelope {
	return m.envelope(TypeDisconnect, disconnectData{Reason: m.Reason})
}

type connectData struct {
	InterviewStyle string `json:"interview_style,omitempty"`
	CandidateName  string `json:"candidate_name,omitempty"`
}

type textData struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

type audioData struct {
	AudioData   string `json:"audio_data"`
	AudioFormat string `json:"audio_format,omitempty"`
	Context     string `json:"context,omitempty"`
}

type disconnectData struct {
	Reason string `json:"reason,omitempty"`
}

// ServerInfo describes the server in the connected envelope.
type ServerInfo struct {
	Version string `json:"version"`
}

// ConnectedData is the payload of a connected envelope.
type ConnectedData struct {
	Status        string     `json:"status"`
	ServerInfo    ServerInfo `json:"server_info"`
	SessionID     string     `json:"session_id"`
	ConnectionID  string     `json:"connection_id"`
	Resumed       bool       `json:"resumed"`
	Completed     bool       `json:"completed"`
	FirstQuestion string     `json:"first_question,omitempty"`
}

// TranscriptionInfo describes how an audio answer was transcribed.
type TranscriptionInfo struct {
	Confidence        float64 `json:"confidence"`
	DurationMs        int64   `json:"duration_ms"`
	Language          string  `json:"language,omitempty"`
	TranscriptionTime float64 `json:"transcription_time"`
}

// AIResponseData is the payload of an ai_response envelope.
type AIResponseData struct {
	UserInput          string             `json:"user_input"`
	AIResponse         string             `json:"ai_response"`
	ResponseType       string             `json:"response_type"`
	StrategyUsed       string             `json:"strategy_used,omitempty"`
	FocusArea          string             `json:"focus_area,omitempty"`
	Confidence         float64            `json:"confidence"`
	ProcessingTime     float64            `json:"processing_time"`
	InterviewCompleted bool               `json:"interview_completed"`
	TranscriptionInfo  *TranscriptionInfo `json:"transcription_info,omitempty"`
	Success            bool               `json:"success"`
}

// TranscriptionData is the payload of a transcription envelope.
type TranscriptionData struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	DurationMs int64   `json:"duration_ms"`
	Language   string  `json:"language,omitempty"`
}

// Fallback is the degraded reply offered alongside a pipeline error.
type Fallback struct {
	AIResponse   string  `json:"ai_response"`
	ResponseType string  `json:"response_type"`
	StrategyUsed string  `json:"strategy_used"`
	Confidence   float64 `json:"confidence"`
}

// ErrorData is the payload of an error envelope.
type ErrorData struct {
	Error        string    `json:"error"`
	Message      string    `json:"message"`
	Field        string    `json:"field,omitempty"`
	ReceivedType string    `json:"received_type,omitempty"`
	Details      string    `json:"details,omitempty"`
	Fallback     *Fallback `json:"fallback,omitempty"`
}

// PongData is the payload of a pong envelope.
type PongData struct {
	Timestamp string `json:"timestamp"`
}

func Connected(sessionID string, data ConnectedData) Envelope {
	data.Status = "connected"
	data.ServerInfo = ServerInfo{Version: ServerVersion}
	data.SessionID = sessionID
	return Envelope{Type: TypeConnected, SessionID: sessionID, Timestamp: time.Now(), Data: data}
}

func AIResponse(sessionID string, data AIResponseData) Envelope {
	return Envelope{Type: TypeAIResponse, SessionID: sessionID, Timestamp: time.Now(), Data: data}
}

func Transcription(sessionID string, data TranscriptionData) Envelope {
	return Envelope{Type: TypeTranscription, SessionID: sessionID, Timestamp: time.Now(), Data: data}
}

func Error(sessionID string, data ErrorData) Envelope {
	return Envelope{Type: TypeError, SessionID: sessionID, Timestamp: time.Now(), Data: data}
}

// Status wraps an arbitrary status payload.
func Status(sessionID string, data any) Envelope {
	return Envelope{Type: TypeStatus, SessionID: sessionID, Timestamp: time.Now(), Data: data}
}

func Pong(sessionID string) Envelope {
	now := time.Now()
	return Envelope{Type: TypePong, SessionID: sessionID, Timestamp: now, Data: PongData{Timestamp: FormatTimestamp(now)}}
}
