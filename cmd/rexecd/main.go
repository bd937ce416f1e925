// SPDX-License-Identifier: GPL-3.0-or-later

// Command rexecd is a host-local remote test-execution agent: it
// accepts connections on a configurable transport and, per peer
// request, runs a command as a given user, or pushes/pulls a file into
// that user's home directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/bassosimone/runtimex"

	"github.com/twopence-project/rexecd"
	"github.com/twopence-project/rexecd/transport"
)

func main() {
	var (
		network    = flag.String("network", "unix", `transport to listen on: "unix", "serial", or "vsock"`)
		address    = flag.String("address", "/run/rexecd.sock", `listen address (socket path, device path, or "cid:port" for vsock)`)
		socketMode = flag.Uint("socket-mode", 0660, "file mode applied to a unix socket listener")
		timeout    = flag.Int("default-timeout", 3600, "default COMMAND timeout in seconds, used when a request sends 0")
		jsonLogs   = flag.Bool("json-logs", false, "emit structured logs as JSON instead of text")
		verbose    = flag.Bool("verbose", false, "enable debug-level logging")
	)
	flag.Parse()

	logger := newSlogLogger(*jsonLogs, *verbose)

	cfg := rexecd.NewConfig()
	cfg.Logger = logger
	cfg.ListenNetwork = *network
	cfg.ListenAddress = *address
	cfg.DefaultCommandTimeout = *timeout

	listener := runtimex.PanicOnError1(listen(*network, *address, os.FileMode(*socketMode)))
	defer listener.Close()

	logger.Info("listening", "network", *network, "address", listener.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := rexecd.NewConnectionPool(listener, cfg)
	if err := pool.Run(ctx); err != nil {
		logger.Error("poolExited", "err", err)
		os.Exit(1)
	}
}

// listen constructs the transport.Listener named by network, binding
// at address.
func listen(network, address string, socketMode os.FileMode) (transport.Listener, error) {
	switch network {
	case "unix":
		return transport.ListenUnix(address, socketMode)
	case "serial":
		return transport.ListenSerial(address)
	case "vsock":
		cid, port, err := parseVsockAddress(address)
		if err != nil {
			return nil, err
		}
		return transport.ListenVsock(cid, port)
	default:
		return nil, fmt.Errorf("rexecd: unknown transport network %q", network)
	}
}

// parseVsockAddress parses a "cid:port" address into its two uint32
// components.
func parseVsockAddress(address string) (cid, port uint32, err error) {
	parts := strings.SplitN(address, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("rexecd: vsock address %q must be \"cid:port\"", address)
	}
	c, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("rexecd: invalid vsock cid %q: %w", parts[0], err)
	}
	p, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("rexecd: invalid vsock port %q: %w", parts[1], err)
	}
	return uint32(c), uint32(p), nil
}

// newSlogLogger builds the real [*slog.Logger] the daemon writes to
// stderr with, satisfying [rexecd.SLogger].
func newSlogLogger(asJSON, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
