package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Decode error codes
const (
	ErrorCodeInvalidJSON       = "invalid_json"
	ErrorCodeInvalidMessage    = "invalid_message"
	ErrorCodeUnknownType       = "unknown_message_type"
	ErrorCodeInvalidAudio      = "invalid_audio"
	ErrorCodeUnsupportedFormat = "unsupported_format"
	ErrorCodeEmptyInput        = "empty_input"
)

// DecodeError reports why a frame was rejected. It never closes the connection.
type DecodeError struct {
	Code         string
	Message      string
	Field        string
	ReceivedType string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Field) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Field)
}

// ErrorData converts the decode error into an error envelope payload.
func (e *DecodeError) ErrorData() ErrorData {
	return ErrorData{Error: e.Code, Message: e.Message, Field: e.Field, ReceivedType: e.ReceivedType}
}

func invalid(code, message, field string) *DecodeError {
	return &DecodeError{Code: code, Message: message, Field: field}
}

// DefaultAudioFormat is assumed when audio_format is absent.
const DefaultAudioFormat = "wav"

// Codec validates and converts frames. It is pure and safe for concurrent use.
type Codec struct {
	MaxAudioBytes  int
	AllowedFormats []string
	// Now is used for frames without a timestamp. Defaults to time.Now.
	Now func() time.Time
}

// NewCodec creates a codec with the given audio limits.
func NewCodec(maxAudioBytes int, allowedFormats []string) *Codec {
	formats := make([]string, 0, len(allowedFormats))
	for _, f := range allowedFormats {
		formats = append(formats, NormalizeFormat(f))
	}
	return &Codec{MaxAudioBytes: maxAudioBytes, AllowedFormats: formats}
}

// Decode parses and validates a raw client frame.
func (c *Codec) Decode(raw []byte) (Inbound, error) {
	var w wireEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&w); err != nil {
		return nil, invalid(ErrorCodeInvalidJSON, "frame is not a valid JSON envelope", "")
	}

	typ := MessageType(strings.TrimSpace(w.Type))
	if typ == "" {
		return nil, invalid(ErrorCodeInvalidMessage, "message type is required", "type")
	}

	header := Header{}
	if w.SessionID != nil {
		header.SessionID = strings.TrimSpace(*w.SessionID)
	}
	ts, err := c.timestamp(w.Timestamp)
	if err != nil {
		return nil, invalid(ErrorCodeInvalidMessage, "timestamp is not ISO-8601", "timestamp")
	}
	header.Timestamp = ts

	data := w.Data
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = json.RawMessage("{}")
	}

	switch typ {
	case TypeConnect:
		var d connectData
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		return Connect{
			Header:        header,
			Style:         strings.ToLower(strings.TrimSpace(d.InterviewStyle)),
			CandidateName: strings.TrimSpace(d.CandidateName),
		}, nil

	case TypeTextInput:
		var d textData
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		if strings.TrimSpace(d.Text) == "" {
			return nil, invalid(ErrorCodeEmptyInput, "text must not be empty", "data.text")
		}
		return TextInput{Header: header, Text: d.Text, Context: d.Context}, nil

	case TypeAudioInput:
		var d audioData
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		format := NormalizeFormat(d.AudioFormat)
		if format == "" {
			format = DefaultAudioFormat
		}
		if err := c.checkFormat(format); err != nil {
			return nil, err
		}
		audio, err := c.decodeAudio(d.AudioData)
		if err != nil {
			return nil, err
		}
		return AudioInput{Header: header, Audio: audio, Format: format, Context: d.Context}, nil

	case TypePing:
		return Ping{Header: header}, nil

	case TypeDisconnect:
		var d disconnectData
		if err := unmarshalData(data, &d); err != nil {
			return nil, err
		}
		return Disconnect{Header: header, Reason: d.Reason}, nil

	default:
		return nil, &DecodeError{
			Code:         ErrorCodeUnknownType,
			Message:      fmt.Sprintf("unknown message type: %s", typ),
			Field:        "type",
			ReceivedType: string(typ),
		}
	}
}

// Encode serializes an outbound envelope.
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", env.Type, err)
	}
	return raw, nil
}

// ValidateAudio applies the decode-time audio rules to an upload received
// outside the envelope (for example a multipart HTTP body).
func (c *Codec) ValidateAudio(format string, audio []byte) (string, error) {
	format = NormalizeFormat(format)
	if format == "" {
		format = DefaultAudioFormat
	}
	if err := c.checkFormat(format); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", invalid(ErrorCodeInvalidAudio, "audio payload is empty", "audio_data")
	}
	if err := c.checkSize(len(audio)); err != nil {
		return "", err
	}
	return format, nil
}

func (c *Codec) checkFormat(format string) error {
	for _, allowed := range c.AllowedFormats {
		if allowed == format {
			return nil
		}
	}
	return invalid(ErrorCodeUnsupportedFormat,
		fmt.Sprintf("audio format %q is not supported (allowed: %s)", format, strings.Join(c.AllowedFormats, ", ")),
		"data.audio_format")
}

func (c *Codec) checkSize(n int) error {
	if c.MaxAudioBytes > 0 && n > c.MaxAudioBytes {
		return invalid(ErrorCodeInvalidAudio,
			fmt.Sprintf("audio payload of %d bytes exceeds the %d byte limit", n, c.MaxAudioBytes),
			"data.audio_data")
	}
	return nil
}

func (c *Codec) timestamp(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		if c.Now != nil {
			return c.Now(), nil
		}
		return time.Now(), nil
	}
	return ParseTimestamp(s)
}

func unmarshalData(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return invalid(ErrorCodeInvalidMessage, "data does not match the message type", "data")
	}
	return nil
}

// decodeAudio accepts standard or unpadded base64, optionally as a data URL.
// Payloads whose encoded length already exceeds the limit are rejected
// before decoding.
func (c *Codec) decodeAudio(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if s == "" {
		return nil, invalid(ErrorCodeInvalidAudio, "audio payload is empty", "data.audio_data")
	}
	if err := c.checkSize(base64.RawStdEncoding.DecodedLen(len(strings.TrimRight(s, "=")))); err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		audio, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, invalid(ErrorCodeInvalidAudio, "audio payload is not valid base64", "data.audio_data")
	}
	if len(audio) == 0 {
		return nil, invalid(ErrorCodeInvalidAudio, "audio payload is empty", "data.audio_data")
	}
	if err := c.checkSize(len(audio)); err != nil {
		return nil, err
	}
	return audio, nil
}

// NormalizeFormat lower-cases a format name and strips a leading dot or a
// MIME type prefix ("audio/webm" becomes "webm").
func NormalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	format = strings.TrimPrefix(format, ".")
	if i := strings.Index(format, "/"); i >= 0 {
		format = format[i+1:]
	}
	if i := strings.Index(format, ";"); i >= 0 {
		format = format[:i]
	}
	return format
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 and naive ISO-8601 timestamps. Naive
// timestamps are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// FormatTimestamp renders t as RFC 3339 in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
