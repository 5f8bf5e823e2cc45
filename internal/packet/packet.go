package packet

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrMalformed       = errors.New("malformed packet")
	ErrInvalidOpcode   = errors.New("invalid opcode")
	ErrInvalidBlock    = errors.New("invalid block number")
	ErrPayloadTooLarge = errors.New("payload exceeds block size")
)

// Request is a decoded RRQ or WRQ.
type Request struct {
	Op       Opcode
	Filename string
	Mode     string
}

type Data struct {
	Block   uint16
	Payload []byte
}

// Final reports whether d is the short block ending a transfer.
func (d *Data) Final() bool {
	return len(d.Payload) < BlockSize
}

type Ack struct {
	Block uint16
}

type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tftp error %d: %s", e.Code, e.Code)
	}
	return fmt.Sprintf("tftp error %d: %s", e.Code, e.Message)
}

// OpcodeOf returns the opcode of a raw datagram without validating the rest.
func OpcodeOf(b []byte) (Opcode, error) {
	if len(b) < 2 {
		return 0, errors.Wrapf(ErrMalformed, "%d byte datagram", len(b))
	}
	return Opcode(decodeUInt16(b[:2])), nil
}

func DecodeRequest(b []byte) (*Request, error) {
	op, err := OpcodeOf(b)
	if err != nil {
		return nil, err
	}
	if op != OpRRQ && op != OpWRQ {
		return nil, errors.Wrapf(ErrInvalidOpcode, "opcode %d is not a request", op)
	}

	rest := b[2:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return nil, errors.Wrap(ErrMalformed, "filename is not terminated")
	}
	filename := string(rest[:end])

	rest = rest[end+1:]
	end = bytes.IndexByte(rest, 0)
	if end < 0 {
		return nil, errors.Wrap(ErrMalformed, "mode is not terminated")
	}

	// Anything after the mode is RFC 2347 options, which are not negotiated.
	return &Request{
		Op:       op,
		Filename: filename,
		Mode:     strings.ToLower(string(rest[:end])),
	}, nil
}

func DecodeData(b []byte) (*Data, error) {
	if err := expect(b, OpData); err != nil {
		return nil, err
	}
	block := decodeUInt16(b[2:4])
	if block == 0 {
		return nil, errors.Wrap(ErrInvalidBlock, "DATA block 0")
	}
	payload := b[headerSize:]
	if len(payload) > BlockSize {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(payload))
	}
	return &Data{Block: block, Payload: payload}, nil
}

func DecodeAck(b []byte) (*Ack, error) {
	if err := expect(b, OpAck); err != nil {
		return nil, err
	}
	return &Ack{Block: decodeUInt16(b[2:4])}, nil
}

func DecodeError(b []byte) (*Error, error) {
	if err := expect(b, OpError); err != nil {
		return nil, err
	}
	msg := b[headerSize:]
	if end := bytes.IndexByte(msg, 0); end >= 0 {
		msg = msg[:end]
	}
	return &Error{
		Code:    ErrorCode(decodeUInt16(b[2:4])),
		Message: string(msg),
	}, nil
}

func expect(b []byte, want Opcode) error {
	op, err := OpcodeOf(b)
	if err != nil {
		return err
	}
	if op != want {
		return errors.Wrapf(ErrInvalidOpcode, "expected %s, got opcode %d", want, op)
	}
	if len(b) < headerSize {
		return errors.Wrapf(ErrMalformed, "%d byte %s packet", len(b), want)
	}
	return nil
}

func EncodeRequest(op Opcode, filename, mode string) []byte {
	resp := make([]byte, 0, 4+len(filename)+len(mode))
	resp = appendUInt16(resp, uint16(op))
	resp = append(resp, filename...)
	resp = append(resp, 0) // Null terminator
	resp = append(resp, mode...)
	resp = append(resp, 0) // Null terminator
	return resp
}

// EncodeData panics if payload is longer than BlockSize.
func EncodeData(block uint16, payload []byte) []byte {
	if len(payload) > BlockSize {
		panic(fmt.Sprintf("packet: DATA payload of %d bytes", len(payload)))
	}
	resp := make([]byte, 0, headerSize+len(payload))
	resp = appendUInt16(resp, uint16(OpData))
	resp = appendUInt16(resp, block)
	return append(resp, payload...)
}

func EncodeAck(block uint16) []byte {
	resp := make([]byte, 0, headerSize)
	resp = appendUInt16(resp, uint16(OpAck))
	return appendUInt16(resp, block)
}

func EncodeError(code ErrorCode, msg string) []byte {
	resp := make([]byte, 0, headerSize+len(msg)+1)
	resp = appendUInt16(resp, uint16(OpError))
	resp = appendUInt16(resp, uint16(code))
	// Human-readable message
	resp = append(resp, msg...)
	return append(resp, 0)
}

// Segment splits content into DATA payloads. The last payload is always
// shorter than BlockSize, so a multiple of BlockSize (including an empty
// file) ends with an empty block.
func Segment(content []byte) [][]byte {
	chunks := make([][]byte, 0, len(content)/BlockSize+1)
	for len(content) >= BlockSize {
		chunks = append(chunks, content[:BlockSize])
		content = content[BlockSize:]
	}
	return append(chunks, content)
}

func decodeUInt16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func appendUInt16(b []byte, in uint16) []byte {
	return append(b, byte(in>>8), byte(in))
}
