package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mockinterview/interviewd/internal/protocol"
)

var (
	chatStyle string
	chatName  string
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat [session-id]",
		Short: "Run an interview in the terminal",
		Long: `Connects to the interview socket and sends each line typed as an answer.

Commands inside the chat:
  /audio <file>  send a recorded answer
  /ping          check the connection
  /quit          leave (the session can be resumed later)`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
	cmd.Flags().StringVar(&chatStyle, "style", "", "Interview style for a new session: formal, casual or campus")
	cmd.Flags().StringVar(&chatName, "name", "", "Candidate name for a new session")

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	sessionID := uuid.NewString()
	if len(args) == 1 {
		sessionID = args[0]
	}

	query := url.Values{}
	if chatStyle != "" {
		query.Set("style", chatStyle)
	}
	if chatName != "" {
		query.Set("candidate_name", chatName)
	}
	wsURL, err := newClient().WebSocketURL(sessionID, query)
	if err != nil {
		return err
	}

	chat, err := DialChat(cmd.Context(), wsURL, sessionID)
	if err != nil {
		return err
	}
	defer chat.Close()

	return chat.Run(cmd.InOrStdin(), cmd.OutOrStdout(), formatFlag == "json")
}

// frame is a server envelope with its payload left raw.
type frame struct {
	Type      protocol.MessageType `json:"type"`
	SessionID *string              `json:"session_id"`
	Data      json.RawMessage      `json:"data"`
	raw       []byte
}

// Chat is one interactive interview connection.
type Chat struct {
	conn      *websocket.Conn
	sessionID string
	timeout   time.Duration
}

// DialChat opens the interview socket.
func DialChat(ctx context.Context, wsURL, sessionID string) (*Chat, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Chat{conn: conn, sessionID: sessionID, timeout: 2 * time.Minute}, nil
}

// Close closes the socket.
func (c *Chat) Close() error {
	return c.conn.Close()
}

// Run waits for the connected envelope, then sends every input line and
// prints the replies until the interview completes, input ends or /quit.
func (c *Chat) Run(in io.Reader, out io.Writer, rawJSON bool) error {
	p := printer{out: out, raw: rawJSON}

	f, err := c.read()
	if err != nil {
		return fmt.Errorf("read connected: %w", err)
	}
	p.print(f)
	if f.Type == protocol.TypeError {
		return errors.New("handshake rejected")
	}
	if f.Type != protocol.TypeConnected {
		return fmt.Errorf("expected connected, got: %s", f.Type)
	}
	var connected protocol.ConnectedData
	_ = json.Unmarshal(f.Data, &connected)
	if connected.Completed {
		return nil
	}

	scanner := bufio.NewScanner(in)
	for {
		p.prompt()
		if !scanner.Scan() {
			return c.disconnect("input closed")
		}
		line := strings.TrimSpace(scanner.Text())

		var env protocol.Envelope
		header := protocol.Header{SessionID: c.sessionID, Timestamp: time.Now()}
		switch {
		case line == "":
			continue
		case line == "/quit":
			return c.disconnect("client quit")
		case line == "/ping":
			env = protocol.Ping{Header: header}.Envelope()
		case strings.HasPrefix(line, "/audio "):
			msg, err := audioMessage(header, strings.TrimSpace(strings.TrimPrefix(line, "/audio ")))
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			env = msg.Envelope()
		default:
			env = protocol.TextInput{Header: header, Text: line}.Envelope()
		}

		if err := c.write(env); err != nil {
			return err
		}
		done, err := c.await(p)
		if err != nil || done {
			if done {
				_ = c.disconnect("interview completed")
			}
			return err
		}
	}
}

// await prints frames until the answer to the last message arrives. It
// reports whether the interview is over.
func (c *Chat) await(p printer) (bool, error) {
	for {
		f, err := c.read()
		if err != nil {
			return false, err
		}
		p.print(f)
		switch f.Type {
		case protocol.TypeAIResponse:
			var data protocol.AIResponseData
			_ = json.Unmarshal(f.Data, &data)
			return data.InterviewCompleted, nil
		case protocol.TypeError, protocol.TypePong:
			return false, nil
		}
	}
}

func (c *Chat) disconnect(reason string) error {
	env := protocol.Disconnect{Header: protocol.Header{SessionID: c.sessionID, Timestamp: time.Now()}, Reason: reason}.Envelope()
	if err := c.write(env); err != nil {
		return err
	}
	// drain until the server closes
	for {
		if _, err := c.read(); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil
			}
			return err
		}
	}
}

func (c *Chat) write(env protocol.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Chat) read() (frame, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return frame{}, err
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	f.raw = raw
	return f, nil
}

func audioMessage(header protocol.Header, path string) (protocol.AudioInput, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return protocol.AudioInput{}, err
	}
	format := protocol.NormalizeFormat(filepath.Ext(path))
	if format == "" {
		format = protocol.DefaultAudioFormat
	}
	return protocol.AudioInput{Header: header, Audio: audio, Format: format}, nil
}

type printer struct {
	out io.Writer
	raw bool
}

func (p printer) prompt() {
	if !p.raw {
		fmt.Fprint(p.out, "> ")
	}
}

func (p printer) print(f frame) {
	if p.raw {
		fmt.Fprintln(p.out, string(f.raw))
		return
	}

	switch f.Type {
	case protocol.TypeConnected:
		var d protocol.ConnectedData
		_ = json.Unmarshal(f.Data, &d)
		if d.Resumed {
			fmt.Fprintf(p.out, "Resumed session %s\n", d.SessionID)
		} else {
			fmt.Fprintf(p.out, "Started session %s\n", d.SessionID)
		}
		if d.FirstQuestion != "" {
			fmt.Fprintf(p.out, "Interviewer: %s\n", d.FirstQuestion)
		}
		if d.Completed {
			fmt.Fprintln(p.out, "This interview is already completed.")
		}
	case protocol.TypeTranscription:
		var d protocol.TranscriptionData
		_ = json.Unmarshal(f.Data, &d)
		fmt.Fprintf(p.out, "You said: %s\n", d.Text)
	case protocol.TypeAIResponse:
		var d protocol.AIResponseData
		_ = json.Unmarshal(f.Data, &d)
		fmt.Fprintf(p.out, "Interviewer: %s\n", d.AIResponse)
	case protocol.TypeError:
		var d protocol.ErrorData
		_ = json.Unmarshal(f.Data, &d)
		fmt.Fprintf(p.out, "error: %s: %s\n", d.Error, d.Message)
		if d.Fallback != nil {
			fmt.Fprintf(p.out, "Interviewer: %s\n", d.Fallback.AIResponse)
		}
	case protocol.TypePong:
		fmt.Fprintln(p.out, "pong")
	default:
		fmt.Fprintf(p.out, "[%s] %s\n", f.Type, string(f.Data))
	}
}
