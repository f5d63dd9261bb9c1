package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketPath(t *testing.T) string {
	// unix socket paths are limited to ~100 bytes
	dir, err := os.MkdirTemp("", "luna")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestRoundTrip(t *testing.T) {
	path := socketPath(t)

	srv, err := Listen(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, func(_ context.Context, msg ControlMessage) ControlReply {
			if msg.Cmd != CmdAsk {
				return ControlReply{Text: "unknown command " + msg.Cmd}
			}
			return ControlReply{OK: true, Text: strings.ToUpper(strings.Join(msg.Args, " "))}
		})
	}()

	reply, err := Send(context.Background(), path, ControlMessage{Cmd: CmdAsk, Args: []string{"hello", "there"}})
	require.NoError(t, err)
	assert.Equal(t, ControlReply{OK: true, Text: "HELLO THERE"}, reply)

	reply, err = Send(context.Background(), path, ControlMessage{Cmd: "dance"})
	require.NoError(t, err)
	assert.False(t, reply.OK)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestBadMessage(t *testing.T) {
	path := socketPath(t)
	srv, err := Listen(path)
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, func(context.Context, ControlMessage) ControlReply { return ControlReply{OK: true} })

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{nope\n"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), `"ok":false`)
}

func TestStaleSocket(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	srv, err := Listen(path)
	require.NoError(t, err)
	require.NoError(t, srv.Close())
}

func TestSendNoDaemon(t *testing.T) {
	_, err := Send(context.Background(), socketPath(t), ControlMessage{Cmd: CmdStatus})
	require.Error(t, err)
}
