package packet

const (
	// BlockSize is the fixed RFC 1350 payload size of a DATA packet.
	BlockSize = 512
	// MaxPacketSize is a DATA header plus a full block.
	MaxPacketSize = headerSize + BlockSize

	headerSize = 4
)

type Opcode uint16

// TFTP op codes
const (
	OpRRQ   Opcode = 1
	OpWRQ   Opcode = 2
	OpData  Opcode = 3
	OpAck   Opcode = 4
	OpError Opcode = 5
)

func (op Opcode) String() string {
	switch op {
	case OpRRQ:
		return "Read"
	case OpWRQ:
		return "Write"
	case OpData:
		return "Data"
	case OpAck:
		return "Ack"
	case OpError:
		return "Error"
	}
	return "Unknown"
}

type ErrorCode uint16

// TFTP error codes
const (
	ErrNotDefined       ErrorCode = 0
	ErrFileNotFound     ErrorCode = 1
	ErrAccessViolation  ErrorCode = 2
	ErrDiskFull         ErrorCode = 3
	ErrIllegalOperation ErrorCode = 4
	ErrUnknownTID       ErrorCode = 5
	ErrFileExists       ErrorCode = 6
	ErrNoSuchUser       ErrorCode = 7
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotDefined:
		return "Not defined"
	case ErrFileNotFound:
		return "File not found"
	case ErrAccessViolation:
		return "Access violation"
	case ErrDiskFull:
		return "Disk full or allocation exceeded"
	case ErrIllegalOperation:
		return "Illegal TFTP operation"
	case ErrUnknownTID:
		return "Unknown transfer ID"
	case ErrFileExists:
		return "File already exists"
	case ErrNoSuchUser:
		return "No such user"
	}
	return "Unknown error"
}

// TFTP transfer modes. mail is recognized but never served.
const (
	ModeNetascii = "netascii"
	ModeOctet    = "octet"
	ModeMail     = "mail"
)
