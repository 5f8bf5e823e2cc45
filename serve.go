package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/lfkeitel/tftpd/internal/discovery"
	"github.com/lfkeitel/tftpd/internal/server"
	"github.com/lfkeitel/tftpd/internal/store"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	host        string
	port        int
	readRoot    string
	writeRoot   string
	timeout     time.Duration
	retries     int
	maxSessions int64
	strategy    string
	maxFileSize int64
	advertise   bool
	debug       bool
}

func serveCommand() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a TFTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.host, "host", "", "Address to listen on")
	flags.IntVar(&f.port, "port", server.DefaultPort, "UDP port to listen on")
	flags.StringVar(&f.readRoot, "read-root", ".", "Directory served to read requests")
	flags.StringVar(&f.writeRoot, "write-root", ".", "Directory receiving write requests")
	flags.DurationVar(&f.timeout, "timeout", server.DefaultTimeout, "Retransmission timeout")
	flags.IntVar(&f.retries, "retries", server.DefaultRetries, "Retransmissions before a session is abandoned")
	flags.Int64Var(&f.maxSessions, "max-sessions", 0, "Concurrent session limit, 0 for unlimited")
	flags.StringVar(&f.strategy, "strategy", server.StrategyBuffered.String(), "File handling strategy: buffered or stream")
	flags.Int64Var(&f.maxFileSize, "max-file-size", 0, "Upload size limit in bytes, 0 for unlimited")
	flags.BoolVar(&f.advertise, "advertise", false, "Announce the server over mDNS")
	flags.BoolVar(&f.debug, "debug", false, "Enable debug output")
	return cmd
}

func runServe(parent context.Context, f *serveFlags) error {
	strategy, err := server.ParseStrategy(f.strategy)
	if err != nil {
		return err
	}

	st, err := store.New(f.readRoot, f.writeRoot)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := server.NewStdLogger(os.Stderr, f.debug)
	srv := server.New(st,
		server.WithLogger(logger),
		server.WithTimeout(f.timeout),
		server.WithRetries(f.retries),
		server.WithMaxSessions(f.maxSessions),
		server.WithStrategy(strategy),
		server.WithMaxFileSize(f.maxFileSize),
	)

	if f.advertise {
		go func() {
			if err := discovery.Advertise(ctx, discovery.InstanceName(), f.port); err != nil {
				logger.Errorf("Advertisement failed: %s", err)
			}
		}()
	}

	if err := srv.ListenAndServe(ctx, net.JoinHostPort(f.host, strconv.Itoa(f.port))); err != nil {
		return err
	}
	logger.Infof("Server stopped")
	return nil
}
