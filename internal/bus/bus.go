// Package bus connects the assistant to a websocket hub shared with other
// shards.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	KindUtterance = "utterance"
	KindReply     = "reply"

	DefaultName      = "luna"
	DefaultReconnect = 3 * time.Second
)

type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// Answerer turns an utterance into a reply.
type Answerer func(ctx context.Context, text string) (string, error)

type Client struct {
	URL       string
	Name      string
	Reconnect time.Duration
	Dialer    *ws.Dialer
}

func New(url string) *Client {
	return &Client{
		URL:       url,
		Name:      DefaultName,
		Reconnect: DefaultReconnect,
		Dialer:    ws.DefaultDialer,
	}
}

// Run answers utterances addressed to this shard until ctx is cancelled,
// redialing after every lost connection.
func (c *Client) Run(ctx context.Context, answer Answerer) error {
	for {
		conn, _, err := c.Dialer.DialContext(ctx, c.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("Bus dial failed", "url", c.URL, "err", err)
		} else {
			log.Info("Connected to bus", "url", c.URL)
			err = c.serve(ctx, conn, answer)
			if ctx.Err() != nil {
				return nil
			}
			if isClosed(err) {
				log.Info("Bus closed the connection", "url", c.URL)
			} else {
				log.Warn("Bus connection lost", "err", err)
			}
		}

		t := time.NewTimer(c.Reconnect)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *ws.Conn, answer Answerer) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Debug("Dropping bus frame", "err", err)
			continue
		}
		if m.Kind != KindUtterance || (m.To != "" && m.To != c.Name) {
			continue
		}

		log.Debug("Bus utterance", "from", m.From, "content", m.Content)

		reply, err := answer(ctx, m.Content)
		if err != nil {
			log.Warn("Could not answer bus utterance", "err", err)
			continue
		}

		out, err := json.Marshal(Message{From: c.Name, To: m.From, Kind: KindReply, Content: reply})
		if err != nil {
			return fmt.Errorf("encode reply: %w", err)
		}
		if err := conn.WriteMessage(ws.TextMessage, out); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
