package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const (
	DefaultSocketPath = "/tmp/luna.sock"

	CmdTrigger  = "trigger"
	CmdAsk      = "ask"
	CmdMute     = "mute"
	CmdUnmute   = "unmute"
	CmdStatus   = "status"
	CmdProvider = "provider"
	CmdShutdown = "shutdown"
)

// ControlMessage is one command sent to the daemon.
type ControlMessage struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

// ControlReply answers a ControlMessage.
type ControlReply struct {
	OK   bool   `json:"ok"`
	Text string `json:"text,omitempty"`
}

type Handler func(ctx context.Context, msg ControlMessage) ControlReply

// Server accepts one ControlMessage per connection on a unix socket.
type Server struct {
	path string
	ln   net.Listener
}

// Listen replaces any stale socket at path.
func Listen(path string) (*Server, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{path: path, ln: ln}, nil
}

func (s *Server) Path() string { return s.path }

// Serve handles connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				os.Remove(s.path)
				return nil
			}
			log.Warn("Accept failed", "err", err)
			continue
		}
		go handleConn(ctx, conn, handler)
	}
}

func (s *Server) Close() error {
	defer os.Remove(s.path)
	return s.ln.Close()
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(ControlReply{Text: "bad message: " + err.Error()})
		return
	}

	log.Debug("Control message", "cmd", msg.Cmd, "args", len(msg.Args))

	reply := handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("Could not write control reply", "err", err)
	}
}

// Send delivers msg to the daemon at path and waits for its reply.
func Send(ctx context.Context, path string, msg ControlMessage) (ControlReply, error) {
	if path == "" {
		path = DefaultSocketPath
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return ControlReply{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(2 * time.Minute))
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return ControlReply{}, fmt.Errorf("send: %w", err)
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
