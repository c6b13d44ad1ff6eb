package sessions

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Modality is how the user supplied a turn.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// Style is the interviewer persona chosen at session creation.
type Style string

const (
	StyleFormal Style = "formal"
	StyleCasual Style = "casual"
	StyleCampus Style = "campus"
)

// DefaultCandidateName is used when the client does not supply one.
const DefaultCandidateName = "Anonymous"

// ParseStyle validates a style name. An empty name selects StyleFormal.
func ParseStyle(s string) (Style, error) {
	switch Style(strings.ToLower(strings.TrimSpace(s))) {
	case "", StyleFormal:
		return StyleFormal, nil
	case StyleCasual:
		return StyleCasual, nil
	case StyleCampus:
		return StyleCampus, nil
	default:
		return "", fmt.Errorf("unknown interview style %q", s)
	}
}

// Config is fixed when the session is created.
type Config struct {
	Style         Style  `json:"style"`
	CandidateName string `json:"candidate_name"`
}

// Normalize fills defaults and validates the style.
func (c Config) Normalize() (Config, error) {
	style, err := ParseStyle(string(c.Style))
	if err != nil {
		return Config{}, err
	}
	c.Style = style
	c.CandidateName = strings.TrimSpace(c.CandidateName)
	if c.CandidateName == "" {
		c.CandidateName = DefaultCandidateName
	}
	return c, nil
}

// Turn is one recorded utterance.
type Turn struct {
	Role          Role           `json:"role"`
	Content       string         `json:"content"`
	ProducedAt    time.Time      `json:"produced_at"`
	InputModality Modality       `json:"input_modality"`
	Meta          map[string]any `json:"meta,omitempty"`
}

func (t Turn) clone() Turn {
	if t.Meta != nil {
		meta := make(map[string]any, len(t.Meta))
		for k, v := range t.Meta {
			meta[k] = v
		}
		t.Meta = meta
	}
	return t
}

// Validate checks the turn can be appended.
func (t Turn) Validate() error {
	switch t.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("invalid turn role %q", t.Role)
	}
	switch t.InputModality {
	case ModalityText, ModalityAudio:
	default:
		return fmt.Errorf("invalid input modality %q", t.InputModality)
	}
	return nil
}

// Session is a snapshot of one conversation. Values returned by the Store are
// copies and never alias store state.
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Turns        []Turn    `json:"turns"`
	Config       Config    `json:"config"`
	Completed    bool      `json:"completed"`
}

func (s *Session) clone() Session {
	out := *s
	out.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		out.Turns[i] = t.clone()
	}
	return out
}

// TurnsByRole returns the turns produced by role.
func (s Session) TurnsByRole(role Role) []Turn {
	var out []Turn
	for _, t := range s.Turns {
		if t.Role == role {
			out = append(out, t)
		}
	}
	return out
}

// LastTurn returns the most recent turn, if any.
func (s Session) LastTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// Summary is the listing form of a session.
type Summary struct {
	ID            string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastActiveAt  time.Time `json:"last_active_at"`
	TurnCount     int       `json:"turn_count"`
	Completed     bool      `json:"completed"`
	Style         Style     `json:"interview_style"`
	CandidateName string    `json:"candidate_name"`
}

func (s *Session) summary() Summary {
	return Summary{
		ID:            s.ID,
		CreatedAt:     s.CreatedAt,
		LastActiveAt:  s.LastActiveAt,
		TurnCount:     len(s.Turns),
		Completed:     s.Completed,
		Style:         s.Config.Style,
		CandidateName: s.Config.CandidateName,
	}
}
