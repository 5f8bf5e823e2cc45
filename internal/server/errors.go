package server

import (
	"fmt"

	"github.com/lfkeitel/tftpd/internal/packet"
	"github.com/lfkeitel/tftpd/internal/store"
	"github.com/pkg/errors"
)

// transferError ends a session. When reply is set the client is sent a
// single ERROR packet with code and msg.
type transferError struct {
	code  packet.ErrorCode
	msg   string
	reply bool
	cause error
}

func (e *transferError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *transferError) Cause() error { return e.cause }
func (e *transferError) Unwrap() error { return e.cause }

func fail(code packet.ErrorCode, msg string, cause error) error {
	return &transferError{code: code, msg: msg, reply: true, cause: cause}
}

// abort ends the session without replying, used when the client sent an
// ERROR itself or the socket is unusable.
func abort(msg string, cause error) error {
	return &transferError{msg: msg, cause: cause}
}

func remoteError(raw []byte) error {
	e, err := packet.DecodeError(raw)
	if err != nil {
		return abort("client sent malformed error", err)
	}
	return abort("client aborted transfer", e)
}

func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fail(packet.ErrFileNotFound, "File not found", err)
	case errors.Is(err, store.ErrAlreadyExists):
		return fail(packet.ErrFileExists, "File already exists", err)
	case errors.Is(err, store.ErrAccessViolation):
		return fail(packet.ErrAccessViolation, "Access violation", err)
	}
	return fail(packet.ErrNotDefined, "Failed to open file", err)
}
