package main

import (
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lfkeitel/tftpd/internal/client"
	"github.com/lfkeitel/tftpd/internal/packet"
	"github.com/lfkeitel/tftpd/internal/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type transferFlags struct {
	port    int
	mode    string
	timeout time.Duration
	retries int
}

func (f *transferFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&f.port, "port", server.DefaultPort, "Server UDP port")
	flags.StringVar(&f.mode, "mode", packet.ModeOctet, "Transfer mode: octet or netascii")
	flags.DurationVar(&f.timeout, "timeout", server.DefaultTimeout, "Retransmission timeout")
	flags.IntVar(&f.retries, "retries", server.DefaultRetries, "Retransmissions before giving up")
}

// newClient splits a REMOTE:PATH argument and returns a client for REMOTE.
func (f *transferFlags) newClient(remote string) (*client.Client, string, error) {
	parts := strings.SplitN(remote, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, "", errors.Errorf("expected REMOTE:PATH, got %q", remote)
	}

	mode := strings.ToLower(f.mode)
	if mode != packet.ModeOctet && mode != packet.ModeNetascii {
		return nil, "", errors.Errorf("unsupported mode %q", f.mode)
	}

	addr := net.JoinHostPort(parts[0], strconv.Itoa(f.port))
	c := client.New(addr,
		client.WithTimeout(f.timeout),
		client.WithRetries(f.retries),
		client.WithMode(mode),
	)
	return c, parts[1], nil
}

func getCommand() *cobra.Command {
	f := &transferFlags{}
	cmd := &cobra.Command{
		Use:   "get REMOTE:PATH LOCAL",
		Short: "Download a file from a TFTP server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, remotePath, err := f.newClient(args[0])
			if err != nil {
				return err
			}

			file, err := os.OpenFile(args[1], os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
			if err != nil {
				return errors.Wrap(err, "opening local file")
			}

			start := time.Now()
			n, err := c.Get(remotePath, file)
			if cerr := file.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(args[1])
				return err
			}
			log.Printf("Received %d bytes in %s", n, time.Since(start))
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func putCommand() *cobra.Command {
	f := &transferFlags{}
	cmd := &cobra.Command{
		Use:   "put REMOTE:PATH LOCAL",
		Short: "Upload a file to a TFTP server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, remotePath, err := f.newClient(args[0])
			if err != nil {
				return err
			}

			file, err := os.Open(args[1])
			if err != nil {
				return errors.Wrap(err, "opening local file")
			}
			defer file.Close()

			start := time.Now()
			n, err := c.Put(remotePath, file)
			if err != nil {
				return err
			}
			log.Printf("Sent %d bytes in %s", n, time.Since(start))
			return nil
		},
	}
	f.register(cmd)
	return cmd
}
