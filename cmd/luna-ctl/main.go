package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"luna/internal/config"
	"luna/internal/ipc"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	socket := cli.StringP("socket", "s", "", "Control socket path (default LUNA_SOCKET)")
	timeout := cli.DurationP("timeout", "t", 2*time.Minute, "How long to wait for the daemon")
	cli.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: luna-ctl [flags] trigger|ask <text>|mute|unmute|status|provider <name> [key]|shutdown")
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() == 0 {
		cli.Usage()
		os.Exit(2)
	}

	path := *socket
	if path == "" {
		cfg, err := config.Load(*envFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		path = cfg.SocketPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	args := cli.Args()
	reply, err := ipc.Send(ctx, path, ipc.ControlMessage{Cmd: args[0], Args: args[1:]})
	if err != nil {
		fmt.Println("luna-daemon not running:", err)
		os.Exit(1)
	}

	fmt.Println(reply.Text)
	if !reply.OK {
		os.Exit(1)
	}
}
