package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strings"
	"sync"

	"luna/internal/actions"
)

// Server exposes an action registry as MCP tools.
type Server struct {
	Name    string
	Version string

	registry *actions.Registry
	mu       sync.Mutex
}

func NewServer(registry *actions.Registry) *Server {
	return &Server{Name: "luna", Version: "1.0.0", registry: registry}
}

// Serve handles one request per line until r is exhausted or ctx ends.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp := s.handle(ctx, []byte(line))
		if resp == nil {
			continue
		}
		if err := s.write(w, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) write(w io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func (s *Server) handle(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(json.RawMessage("null"), CodeParseError, "parse error")
	}
	if req.Method == "" {
		return errorResponse(idOrNull(req.ID), CodeInvalidRequest, "missing method")
	}

	// notifications get no answer
	if len(req.ID) == 0 {
		log.Debug("MCP notification", "method", req.Method)
		return nil
	}

	log.Debug("MCP request", "method", req.Method)

	switch req.Method {
	case "initialize":
		return result(req.ID, initializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      serverInfo{Name: s.Name, Version: s.Version},
		})
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, listResult{Tools: s.tools()})
	case "tools/call":
		var p CallParams
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
			return errorResponse(req.ID, CodeInvalidParams, "tools/call needs a tool name")
		}
		return result(req.ID, s.call(ctx, p))
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) tools() []Tool {
	catalogue := s.registry.Catalogue()
	tools := make([]Tool, 0, len(catalogue))
	for _, a := range catalogue {
		tools = append(tools, Tool{
			Name:        a.Name,
			Description: a.Description,
			InputSchema: a.Parameters,
		})
	}
	return tools
}

func (s *Server) call(ctx context.Context, p CallParams) CallResult {
	reply, err := s.registry.Run(ctx, p.Name, p.Arguments)
	if err != nil {
		var pe *actions.ParamError
		if errors.As(err, &pe) {
			reply = pe.Sentence()
		} else {
			reply = err.Error()
		}
		return CallResult{Content: []Content{{Type: "text", Text: reply}}, IsError: true}
	}
	return CallResult{Content: []Content{{Type: "text", Text: reply}}}
}

func result(id json.RawMessage, v any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: v}
}

func errorResponse(id json.RawMessage, code int, msg string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
