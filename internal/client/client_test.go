package client

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lfkeitel/tftpd/internal/packet"
	"github.com/lfkeitel/tftpd/internal/server"
	"github.com/lfkeitel/tftpd/internal/store"
	"github.com/pkg/errors"
)

func startServer(t *testing.T, strategy server.Strategy) (string, *store.Store) {
	t.Helper()

	st, err := store.New(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := server.New(st,
		server.WithLogger(server.NewStdLogger(io.Discard, false)),
		server.WithTimeout(200*time.Millisecond),
		server.WithStrategy(strategy),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, conn) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return conn.LocalAddr().String(), st
}

func content(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i/512)
	}
	return b
}

var sizes = []int{0, 1, 511, 512, 513, 4096, 100000}

func TestGet(t *testing.T) {
	for _, strategy := range []server.Strategy{server.StrategyBuffered, server.StrategyStream} {
		addr, st := startServer(t, strategy)
		c := New(addr, WithTimeout(200*time.Millisecond))

		for _, size := range sizes {
			want := content(size)
			name := filepath.Join(st.ReadRoot(), "file.bin")
			if err := os.WriteFile(name, want, 0644); err != nil {
				t.Fatal(err)
			}

			var got bytes.Buffer
			n, err := c.Get("file.bin", &got)
			if err != nil {
				t.Fatalf("%s size %d: %v", strategy, size, err)
			}
			if n != int64(size) || !bytes.Equal(got.Bytes(), want) {
				t.Errorf("%s size %d: got %d bytes", strategy, size, got.Len())
			}
		}
	}
}

func TestPut(t *testing.T) {
	for _, strategy := range []server.Strategy{server.StrategyBuffered, server.StrategyStream} {
		addr, st := startServer(t, strategy)
		c := New(addr, WithTimeout(200*time.Millisecond))

		for i, size := range sizes {
			want := content(size)
			name := "upload-" + string(rune('a'+i)) + ".bin"

			n, err := c.Put(name, bytes.NewReader(want))
			if err != nil {
				t.Fatalf("%s size %d: %v", strategy, size, err)
			}
			if n != int64(size) {
				t.Errorf("%s size %d: sent %d bytes", strategy, size, n)
			}

			got, err := os.ReadFile(filepath.Join(st.WriteRoot(), name))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("%s size %d: stored %d bytes", strategy, size, len(got))
			}
		}
	}
}

func TestRemoteErrors(t *testing.T) {
	addr, st := startServer(t, server.StrategyBuffered)
	c := New(addr, WithTimeout(200*time.Millisecond))

	var remote *packet.Error
	_, err := c.Get("missing", io.Discard)
	if !errors.As(err, &remote) || remote.Code != packet.ErrFileNotFound {
		t.Errorf("expected file not found, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(st.WriteRoot(), "taken"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = c.Put("taken", bytes.NewReader([]byte("y")))
	if !errors.As(err, &remote) || remote.Code != packet.ErrFileExists {
		t.Errorf("expected file exists, got %v", err)
	}
}

func TestNetasciiRoundTrip(t *testing.T) {
	addr, st := startServer(t, server.StrategyStream)
	c := New(addr, WithTimeout(200*time.Millisecond), WithMode(packet.ModeNetascii))

	text := bytes.Repeat([]byte("a line of text\n"), 100)
	if _, err := c.Put("notes.txt", bytes.NewReader(text)); err != nil {
		t.Fatal(err)
	}
	stored, _ := os.ReadFile(filepath.Join(st.WriteRoot(), "notes.txt"))
	if !bytes.Equal(stored, text) {
		t.Errorf("stored file differs: %d bytes", len(stored))
	}

	if err := os.WriteFile(filepath.Join(st.ReadRoot(), "notes.txt"), text, 0644); err != nil {
		t.Fatal(err)
	}
	var got bytes.Buffer
	if _, err := c.Get("notes.txt", &got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), text) {
		t.Errorf("downloaded file differs: %d bytes", got.Len())
	}
}

func TestConcurrentTransfers(t *testing.T) {
	addr, st := startServer(t, server.StrategyStream)

	files := map[string][]byte{
		"one.bin":   content(3000),
		"two.bin":   content(10240),
		"three.bin": content(77),
	}
	for name, b := range files {
		if err := os.WriteFile(filepath.Join(st.ReadRoot(), name), b, 0644); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for name, want := range files {
		wg.Add(1)
		go func(name string, want []byte) {
			defer wg.Done()
			var got bytes.Buffer
			if _, err := New(addr).Get(name, &got); err != nil {
				t.Errorf("%s: %v", name, err)
				return
			}
			if !bytes.Equal(got.Bytes(), want) {
				t.Errorf("%s: got %d bytes", name, got.Len())
			}
		}(name, want)
	}
	wg.Wait()
}

func TestGetTimeout(t *testing.T) {
	// Nothing answers on this socket.
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	c := New(conn.LocalAddr().String(), WithTimeout(20*time.Millisecond), WithRetries(2))
	if _, err := c.Get("foo", io.Discard); err != ErrTimeout {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
