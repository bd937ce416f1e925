// SPDX-License-Identifier: GPL-3.0-or-later

package rexecd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketType identifies the logical kind of a framed packet on the wire.
type PacketType byte

// Packet types the core produces and consumes. See [PacketHeader].
const (
	PacketHello PacketType = iota + 1
	PacketQuit
	PacketInject
	PacketExtract
	PacketCommand
	PacketData
	PacketEOF
	PacketIntr
	PacketMajor
	PacketMinor
	PacketTimeout
)

// String returns a short diagnostic name, used in log fields.
func (t PacketType) String() string {
	switch t {
	case PacketHello:
		return "HELLO"
	case PacketQuit:
		return "QUIT"
	case PacketInject:
		return "INJECT"
	case PacketExtract:
		return "EXTRACT"
	case PacketCommand:
		return "COMMAND"
	case PacketData:
		return "DATA"
	case PacketEOF:
		return "EOF"
	case PacketIntr:
		return "INTR"
	case PacketMajor:
		return "MAJOR"
	case PacketMinor:
		return "MINOR"
	case PacketTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("PacketType(%d)", byte(t))
	}
}

func (t PacketType) valid() bool {
	return t >= PacketHello && t <= PacketTimeout
}

// Channel ids reserved by the protocol. A file-transfer transaction
// (INJECT/EXTRACT) uses [ChannelFile] exclusively; a COMMAND
// transaction uses up to three channels for the child's standard
// streams.
const (
	ChannelFile   uint16 = 0
	ChannelStdin  uint16 = 1
	ChannelStdout uint16 = 2
	ChannelStderr uint16 = 3
)

// headerSize is the fixed on-wire size of a [PacketHeader]: one byte
// type, two 16-bit ids, one 16-bit length.
const headerSize = 7

// maxPayloadLength is the largest payload the 16-bit length field can
// express. Builders never truncate: a payload larger than this is an
// internal error, not a wire concern.
const maxPayloadLength = 1<<16 - 1

// ErrShortHeader is returned by [ParseHeader] when fewer than
// [headerSize] bytes are available.
var ErrShortHeader = errors.New("rexecd: short packet header")

// ErrMalformedPacket is returned when a header or payload violates the
// wire grammar (unknown type, truncated payload, oversize length).
var ErrMalformedPacket = errors.New("rexecd: malformed packet")

// PacketHeader is the fixed-layout prefix of every wire message:
// {type: one byte, transaction_id: 16-bit, channel_id: 16-bit,
// length: 16-bit}, all multi-byte fields big-endian.
type PacketHeader struct {
	Type          PacketType
	TransactionID uint16
	ChannelID     uint16
	Length        uint16
}

// ParseHeader parses the fixed-size header prefix of b. It does not
// consume or validate the payload; callers read Length more bytes
// afterward.
func ParseHeader(b []byte) (PacketHeader, error) {
	if len(b) < headerSize {
		return PacketHeader{}, ErrShortHeader
	}
	hdr := PacketHeader{
		Type:          PacketType(b[0]),
		TransactionID: binary.BigEndian.Uint16(b[1:3]),
		ChannelID:     binary.BigEndian.Uint16(b[3:5]),
		Length:        binary.BigEndian.Uint16(b[5:7]),
	}
	if !hdr.Type.valid() {
		return PacketHeader{}, ErrMalformedPacket
	}
	return hdr, nil
}

// BuildPacket serializes a complete packet (header plus payload). It
// returns [ErrMalformedPacket] if payload exceeds what the 16-bit
// length field can carry; builders never truncate.
func BuildPacket(typ PacketType, tid, cid uint16, payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadLength {
		return nil, fmt.Errorf("rexecd: oversize payload (%d bytes): %w", len(payload), ErrMalformedPacket)
	}
	buf := make([]byte, headerSize+len(payload))
	buf[0] = byte(typ)
	binary.BigEndian.PutUint16(buf[1:3], tid)
	binary.BigEndian.PutUint16(buf[3:5], cid)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(payload)))
	copy(buf[headerSize:], payload)
	return buf, nil
}

// writeString appends a length-prefixed string to buf.
func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxPayloadLength {
		return fmt.Errorf("rexecd: oversize string (%d bytes): %w", len(s), ErrMalformedPacket)
	}
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf.Write(lenBytes[:])
	buf.WriteString(s)
	return nil
}

// readString consumes a length-prefixed string from the front of b,
// returning the string and the remaining bytes.
func readString(b []byte) (s string, rest []byte, err error) {
	if len(b) < 2 {
		return "", nil, ErrMalformedPacket
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < n {
		return "", nil, ErrMalformedPacket
	}
	return string(b[:n]), b[n:], nil
}

// InjectRequest is the dissected payload of an INJECT packet: push a
// file named Path into the host, owned by User, with mode Mode.
type InjectRequest struct {
	User string
	Path string
	Mode uint32
}

// BuildInject serializes req as an INJECT payload.
func BuildInject(req InjectRequest) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, req.User); err != nil {
		return nil, err
	}
	if err := writeString(&buf, req.Path); err != nil {
		return nil, err
	}
	var modeBytes [4]byte
	binary.BigEndian.PutUint32(modeBytes[:], req.Mode)
	buf.Write(modeBytes[:])
	return buf.Bytes(), nil
}

// DissectInject parses an INJECT payload.
func DissectInject(payload []byte) (InjectRequest, error) {
	user, rest, err := readString(payload)
	if err != nil {
		return InjectRequest{}, err
	}
	path, rest, err := readString(rest)
	if err != nil {
		return InjectRequest{}, err
	}
	if len(rest) < 4 {
		return InjectRequest{}, ErrMalformedPacket
	}
	mode := binary.BigEndian.Uint32(rest[:4])
	return InjectRequest{User: user, Path: path, Mode: mode}, nil
}

// ExtractRequest is the dissected payload of an EXTRACT packet: pull
// a file named Path, owned by User, out of the host.
type ExtractRequest struct {
	User string
	Path string
}

// BuildExtract serializes req as an EXTRACT payload.
func BuildExtract(req ExtractRequest) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, req.User); err != nil {
		return nil, err
	}
	if err := writeString(&buf, req.Path); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DissectExtract parses an EXTRACT payload.
func DissectExtract(payload []byte) (ExtractRequest, error) {
	user, rest, err := readString(payload)
	if err != nil {
		return ExtractRequest{}, err
	}
	path, _, err := readString(rest)
	if err != nil {
		return ExtractRequest{}, err
	}
	return ExtractRequest{User: user, Path: path}, nil
}

// CommandRequest is the dissected payload of a COMMAND packet: run a
// single shell command line as User.
type CommandRequest struct {
	User       string
	Command    string
	Timeout    uint32 // seconds; 0 means the server's default.
	RequestTTY bool
	Env        map[string]string
}

// BuildCommand serializes req as a COMMAND payload.
func BuildCommand(req CommandRequest) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, req.User); err != nil {
		return nil, err
	}
	if err := writeString(&buf, req.Command); err != nil {
		return nil, err
	}
	var timeoutBytes [4]byte
	binary.BigEndian.PutUint32(timeoutBytes[:], req.Timeout)
	buf.Write(timeoutBytes[:])
	if req.RequestTTY {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var countBytes [2]byte
	binary.BigEndian.PutUint16(countBytes[:], uint16(len(req.Env)))
	buf.Write(countBytes[:])
	for k, v := range req.Env {
		if err := writeString(&buf, k); err != nil {
			return nil, err
		}
		if err := writeString(&buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DissectCommand parses a COMMAND payload.
func DissectCommand(payload []byte) (CommandRequest, error) {
	user, rest, err := readString(payload)
	if err != nil {
		return CommandRequest{}, err
	}
	command, rest, err := readString(rest)
	if err != nil {
		return CommandRequest{}, err
	}
	if len(rest) < 4+1+2 {
		return CommandRequest{}, ErrMalformedPacket
	}
	timeout := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	requestTTY := rest[0] != 0
	rest = rest[1:]
	count := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]

	env := make(map[string]string, count)
	for i := 0; i < count; i++ {
		var key, value string
		key, rest, err = readString(rest)
		if err != nil {
			return CommandRequest{}, err
		}
		value, rest, err = readString(rest)
		if err != nil {
			return CommandRequest{}, err
		}
		env[key] = value
	}

	return CommandRequest{
		User:       user,
		Command:    command,
		Timeout:    timeout,
		RequestTTY: requestTTY,
		Env:        env,
	}, nil
}
