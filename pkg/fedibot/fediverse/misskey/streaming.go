// Package misskey – streaming.go implements the EventSource contract on
// Misskey's websocket streaming API. The stream subscribes to the main
// channel and translates mention and reaction notifications into the
// core event types. Reconnection with backoff is handled here so the
// core never sees connection churn.
package misskey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SeolHa314/my-fedi-bot/pkg/fedibot/fediverse"
)

const (
	// pingInterval keeps the websocket alive through idle periods.
	pingInterval = 30 * time.Second

	// readTimeout is reset on every inbound frame and pong.
	readTimeout = 90 * time.Second

	// maxBackoff caps the reconnect delay.
	maxBackoff = time.Minute
)

// Stream is a streaming connection to a Misskey instance.
type Stream struct {
	client *Client
	logger *slog.Logger

	mentions  chan *fediverse.Note
	reactions chan *fediverse.Reaction

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream creates a streaming event source for the client's instance.
func NewStream(client *Client, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		client:    client,
		logger:    logger.With("component", "misskey-stream"),
		mentions:  make(chan *fediverse.Note, 16),
		reactions: make(chan *fediverse.Reaction, 16),
		done:      make(chan struct{}),
	}
}

// Mentions implements fediverse.EventSource.
func (s *Stream) Mentions() <-chan *fediverse.Note { return s.mentions }

// Reactions implements fediverse.EventSource.
func (s *Stream) Reactions() <-chan *fediverse.Reaction { return s.reactions }

// Connect dials the streaming endpoint and starts the read loop.
func (s *Stream) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	conn, err := s.dial(runCtx)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Close tears down the stream and closes the event channels.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	<-s.done
	return nil
}

// dial opens the websocket and subscribes to the main channel.
func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := url.URL{
		Scheme:   wsScheme(s.client.baseURL.Scheme),
		Host:     s.client.baseURL.Host,
		Path:     "/streaming",
		RawQuery: url.Values{"i": {s.client.token}}.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial streaming endpoint: %w", err)
	}

	subscribe := map[string]any{
		"type": "connect",
		"body": map[string]any{"channel": "main", "id": uuid.NewString()},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to main channel: %w", err)
	}

	s.logger.Info("streaming connected", "host", s.client.Host())
	return conn, nil
}

// run reads frames until ctx is canceled, reconnecting with backoff on
// transient failures.
func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.mentions)
	defer close(s.reactions)

	backoff := time.Second
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("streaming connection lost, reconnecting",
			"error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)

		conn, err = s.dial(ctx)
		if err != nil {
			s.logger.Warn("reconnect failed", "error", err)
			continue
		}
		backoff = time.Second

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
	}
}

// readLoop pumps frames from one connection, keeping it alive with pings.
func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pings.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.handleFrame(ctx, data)
	}
}

// ---------- Frame decoding ----------

type streamFrame struct {
	Type string `json:"type"`
	Body struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Body json.RawMessage `json:"body"`
	} `json:"body"`
}

// noteJSON is the subset of a Misskey note the bot consumes.
type noteJSON struct {
	ID         string   `json:"id"`
	UserID     string   `json:"userId"`
	Text       string   `json:"text"`
	ReplyID    string   `json:"replyId"`
	Visibility string   `json:"visibility"`
	Mentions   []string `json:"mentions"`
	Files      []struct {
		Type string `json:"type"` // MIME type
		URL  string `json:"url"`
	} `json:"files"`
}

type notificationJSON struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Reaction string `json:"reaction"`
	Note     *struct {
		ID string `json:"id"`
	} `json:"note"`
}

func (s *Stream) handleFrame(ctx context.Context, data []byte) {
	frame := streamFrame{}
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Debug("undecodable frame dropped", "error", err)
		return
	}
	if frame.Type != "channel" {
		return
	}

	switch frame.Body.Type {
	case "mention":
		note := noteJSON{}
		if err := json.Unmarshal(frame.Body.Body, &note); err != nil {
			s.logger.Debug("undecodable mention dropped", "error", err)
			return
		}
		s.emitMention(ctx, toNote(note))

	case "notification":
		n := notificationJSON{}
		if err := json.Unmarshal(frame.Body.Body, &n); err != nil {
			s.logger.Debug("undecodable notification dropped", "error", err)
			return
		}
		if n.Type != "reaction" || n.Note == nil {
			return
		}
		s.emitReaction(ctx, &fediverse.Reaction{
			NoteID: n.Note.ID,
			UserID: n.UserID,
			Emoji:  n.Reaction,
		})
	}
}

func (s *Stream) emitMention(ctx context.Context, note *fediverse.Note) {
	select {
	case s.mentions <- note:
	case <-ctx.Done():
	}
}

func (s *Stream) emitReaction(ctx context.Context, r *fediverse.Reaction) {
	select {
	case s.reactions <- r:
	case <-ctx.Done():
	}
}

func toNote(n noteJSON) *fediverse.Note {
	note := &fediverse.Note{
		ID:         n.ID,
		AuthorID:   n.UserID,
		Text:       n.Text,
		ReplyToID:  n.ReplyID,
		Visibility: fediverse.Visibility(n.Visibility),
		Mentions:   n.Mentions,
	}
	for _, f := range n.Files {
		note.Attachments = append(note.Attachments, fediverse.Attachment{
			Type: broadType(f.Type),
			URL:  f.URL,
		})
	}
	return note
}

// broadType collapses a MIME type into the broad media kind.
func broadType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "file"
	}
}

func wsScheme(httpScheme string) string {
	if httpScheme == "http" {
		return "ws"
	}
	return "wss"
}
