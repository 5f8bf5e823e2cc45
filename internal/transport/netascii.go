package transport

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"pack.ag/tftp/netascii"
)

var errTransferAborted = errors.New("transfer aborted")

// ASCIIEncoder converts a native byte stream into netascii as it is read.
type ASCIIEncoder struct {
	pr   *io.PipeReader
	done chan struct{}
	once sync.Once
}

func NewASCIIEncoder(src io.Reader) *ASCIIEncoder {
	pr, pw := io.Pipe()
	e := &ASCIIEncoder{pr: pr, done: make(chan struct{})}

	go func() {
		defer close(e.done)
		var w io.Writer = netascii.NewWriter(pw)
		_, err := io.Copy(w, src)
		// A trailing CR is held back until the writer knows what follows it.
		if flusher, ok := w.(interface{ Flush() error }); ok && err == nil {
			err = flusher.Flush()
		}
		pw.CloseWithError(err)
	}()

	return e
}

func (e *ASCIIEncoder) Read(p []byte) (int, error) {
	return e.pr.Read(p)
}

// Close stops the encoder and waits for it to exit.
func (e *ASCIIEncoder) Close() error {
	e.once.Do(func() {
		e.pr.CloseWithError(errTransferAborted)
		<-e.done
	})
	return nil
}

// ASCIIDecoder converts netascii written to it back into native bytes on
// dst. Close must be called to flush the last bytes and collect errors.
type ASCIIDecoder struct {
	pw   *io.PipeWriter
	done chan error
	once sync.Once
	err  error
}

func NewASCIIDecoder(dst io.Writer) *ASCIIDecoder {
	pr, pw := io.Pipe()
	d := &ASCIIDecoder{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := io.Copy(dst, netascii.NewReader(pr))
		pr.CloseWithError(err)
		d.done <- err
	}()

	return d
}

func (d *ASCIIDecoder) Write(p []byte) (int, error) {
	n, err := d.pw.Write(p)
	return n, errors.Wrap(err, "decoding netascii")
}

func (d *ASCIIDecoder) Close() error {
	return d.finish(nil)
}

// Abort discards anything not yet decoded.
func (d *ASCIIDecoder) Abort() {
	d.finish(errTransferAborted)
}

func (d *ASCIIDecoder) finish(cause error) error {
	d.once.Do(func() {
		d.pw.CloseWithError(cause)
		err := <-d.done
		if cause == nil {
			d.err = errors.Wrap(err, "decoding netascii")
		}
	})
	return d.err
}
