package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"luna/internal/actions"
)

const (
	toolsKey   = "tools"
	ToolsTTL   = 5 * time.Minute
	maxSkipped = 100

	// InitTimeout bounds the handshake with a spawned server.
	InitTimeout = 10 * time.Second
)

var ErrToolFailed = errors.New("tool failed")

// Client talks to one MCP server over a line oriented stream.
type Client struct {
	Name string

	mu     sync.Mutex
	w      *bufio.Writer
	lines  chan line
	nextID int
	tools  *cache.Cache

	done      chan struct{}
	closeOnce sync.Once
	closer    func() error
}

type line struct {
	text string
	err  error
}

// NewClient wraps an established stream. Call Initialize before use.
func NewClient(name string, r io.Reader, w io.Writer) *Client {
	c := &Client{
		Name:   name,
		w:      bufio.NewWriter(w),
		lines:  make(chan line),
		tools:  cache.New(ToolsTTL, 2*ToolsTTL),
		done:   make(chan struct{}),
		closer: func() error { return nil },
	}
	go c.read(bufio.NewReader(r))
	return c
}

// read feeds lines from the server to receive until the stream ends or the
// client is closed.
func (c *Client) read(r *bufio.Reader) {
	defer close(c.lines)
	for {
		text, err := r.ReadString('\n')
		if strings.TrimSpace(text) != "" {
			select {
			case c.lines <- line{text: text}:
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case c.lines <- line{err: err}:
			case <-c.done:
			}
			return
		}
	}
}

// Spawn starts command as an MCP server and initializes it.
func Spawn(ctx context.Context, name, command string, args ...string) (*Client, error) {
	cmd := exec.Command(command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	go func() {
		s := bufio.NewScanner(stderr)
		for s.Scan() {
			log.Debug("MCP server stderr", "server", name, "line", s.Text())
		}
	}()

	c := NewClient(name, stdout, stdin)
	c.closer = func() error {
		stdin.Close()
		if err := cmd.Process.Kill(); err != nil {
			return err
		}
		_ = cmd.Wait()
		return nil
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()
	if err := c.Initialize(initCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}

	log.Info("MCP server started", "server", name, "cmd", command)

	return c, nil
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.closer()
}

func (c *Client) Initialize(ctx context.Context) error {
	var res initializeResult
	err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "luna", "version": "1.0.0"},
	}, &res)
	if err != nil {
		return err
	}
	return c.notify("notifications/initialized")
}

// ListTools returns the server's tools, cached for ToolsTTL.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if v, ok := c.tools.Get(toolsKey); ok {
		return v.([]Tool), nil
	}

	var res listResult
	if err := c.call(ctx, "tools/list", nil, &res); err != nil {
		return nil, err
	}

	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		if t.Name == "" {
			continue
		}
		tools = append(tools, t)
	}

	c.tools.Set(toolsKey, tools, cache.DefaultExpiration)
	return tools, nil
}

func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var res CallResult
	if err := c.call(ctx, "tools/call", CallParams{Name: name, Arguments: args}, &res); err != nil {
		return "", err
	}
	text := res.Text()
	if res.IsError {
		return "", fmt.Errorf("%w: %s: %s", ErrToolFailed, name, text)
	}
	if text == "" {
		text = "Done."
	}
	return text, nil
}

// Actions registers every server tool on r under its own name.
func (c *Client) Actions(ctx context.Context, r *actions.Registry) error {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return err
	}

	for _, t := range tools {
		if r.Has(t.Name) {
			log.Warn("MCP tool shadows a local action, skipping", "server", c.Name, "tool", t.Name)
			continue
		}
		name := t.Name
		err := r.Register(actions.Action{
			Name:        name,
			Description: t.Description,
			Parameters:  t.InputSchema,
			Run: func(ctx context.Context, params map[string]any) (string, error) {
				return c.CallTool(ctx, name, params)
			},
		})
		if err != nil {
			log.Warn("Skipping MCP tool", "server", c.Name, "tool", name, "err", err)
		}
	}
	return nil
}

func (c *Client) notify(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(Request{JSONRPC: "2.0", Method: method})
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	c.nextID++
	id := json.RawMessage(strconv.Itoa(c.nextID))

	req := Request{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = raw
	}

	if err := c.send(req); err != nil {
		return err
	}

	resp, err := c.receive(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", method, resp.Error)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) send(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return c.w.Flush()
}

// receive reads lines until the response for id arrives. Log lines and
// unrelated messages from the server are skipped. A late answer to an
// abandoned call is dropped by a later receive since its id no longer matches.
func (c *Client) receive(ctx context.Context, id json.RawMessage) (*rawResponse, error) {
	for skipped := 0; skipped < maxSkipped; skipped++ {
		var l line
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case l, ok = <-c.lines:
		}
		if !ok {
			return nil, fmt.Errorf("read response: %w", io.ErrClosedPipe)
		}
		if l.err != nil {
			return nil, fmt.Errorf("read response: %w", l.err)
		}

		text := strings.TrimSpace(l.text)

		var resp rawResponse
		if err := json.Unmarshal([]byte(text), &resp); err != nil {
			log.Debug("Skipping non-JSON line from MCP server", "server", c.Name, "line", text)
			continue
		}
		if string(resp.ID) != string(id) {
			continue
		}
		return &resp, nil
	}
	return nil, fmt.Errorf("no response after %d lines", maxSkipped)
}
