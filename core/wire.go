package core

import (
	"bytes"
	"errors"
)

// MessageTag identifies a NetworkMessage variant on the wire.
type MessageTag byte

const (
	TagExecuteRequest MessageTag = 0
	TagProgramStdout  MessageTag = 1
	TagProgramExit    MessageTag = 2
)

// MaxDatagramBytes is the largest encoded NetworkMessage this codec will
// produce or accept; it matches the conservative IPv4/IPv6 UDP payload
// ceiling used throughout §4.2 of the spec.
const MaxDatagramBytes = 64 * 1024

const maxStdoutChunkBytes = 32 * 1024

// ErrOversizeMessage is returned by Encode when the encoded frame would not
// fit in a single datagram.
var ErrOversizeMessage = errors.New("core: encoded message exceeds datagram limit")

// ProgramStdoutMsg carries one chunk of a program's stdout. Seq is
// monotonically increasing per FromPID so a lossy receiver can detect gaps
// (SPEC_FULL.md Open Question a).
type ProgramStdoutMsg struct {
	FromPID uint64
	Seq     uint64
	Data    []byte
}

// ProgramExitMsg announces a program's terminal exit code.
type ProgramExitMsg struct {
	FromPID  uint64
	ExitCode uint32
}

// NetworkMessage is the tagged union carried by every datagram. Exactly one
// of ExecuteRequest, Stdout, Exit is populated, matching Tag.
type NetworkMessage struct {
	Tag            MessageTag
	ExecuteRequest *ProgramBundle
	Stdout         *ProgramStdoutMsg
	Exit           *ProgramExitMsg
}

func NewExecuteRequest(bundle *ProgramBundle) *NetworkMessage {
	return &NetworkMessage{Tag: TagExecuteRequest, ExecuteRequest: bundle}
}

func NewProgramStdout(fromPID, seq uint64, data []byte) *NetworkMessage {
	return &NetworkMessage{Tag: TagProgramStdout, Stdout: &ProgramStdoutMsg{FromPID: fromPID, Seq: seq, Data: data}}
}

func NewProgramExit(fromPID uint64, exitCode uint32) *NetworkMessage {
	return &NetworkMessage{Tag: TagProgramExit, Exit: &ProgramExitMsg{FromPID: fromPID, ExitCode: exitCode}}
}

// Encode produces the deterministic wire form of m. It fails closed with
// ErrBundleTooLarge / ErrOversizeMessage rather than emitting a frame no
// receiver could reassemble, since the transport is a single unframed
// datagram (§4.2 — "no framing, no fragmentation").
func Encode(m *NetworkMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Tag))

	switch m.Tag {
	case TagExecuteRequest:
		if m.ExecuteRequest == nil {
			return nil, errors.New("core: ExecuteRequest message missing bundle")
		}
		if len(m.ExecuteRequest.WasmBytes) > MaxWasmBytes {
			return nil, ErrBundleTooLarge
		}
		m.ExecuteRequest.encodeTo(&buf)
	case TagProgramStdout:
		if m.Stdout == nil {
			return nil, errors.New("core: ProgramStdout message missing payload")
		}
		putUint64(&buf, m.Stdout.FromPID)
		putUint64(&buf, m.Stdout.Seq)
		putBytes(&buf, m.Stdout.Data)
	case TagProgramExit:
		if m.Exit == nil {
			return nil, errors.New("core: ProgramExit message missing payload")
		}
		putUint64(&buf, m.Exit.FromPID)
		putUint32(&buf, m.Exit.ExitCode)
	default:
		return nil, ErrMalformedFrame
	}

	if buf.Len() > MaxDatagramBytes {
		return nil, ErrOversizeMessage
	}
	return buf.Bytes(), nil
}

// Decode parses a single datagram into a NetworkMessage. It returns
// ErrMalformedFrame for short, over-long, or unknown-tag input rather than
// panicking on attacker-controlled bytes.
func Decode(data []byte) (*NetworkMessage, error) {
	if len(data) == 0 {
		return nil, ErrMalformedFrame
	}
	tag := MessageTag(data[0])
	r := newFrameReader(data[1:])

	var m *NetworkMessage
	switch tag {
	case TagExecuteRequest:
		bundle, err := decodeBundle(r)
		if err != nil {
			return nil, err
		}
		m = NewExecuteRequest(bundle)
	case TagProgramStdout:
		fromPID, err := r.uint64()
		if err != nil {
			return nil, err
		}
		seq, err := r.uint64()
		if err != nil {
			return nil, err
		}
		data, err := r.bytesField(maxStdoutChunkBytes)
		if err != nil {
			return nil, err
		}
		m = NewProgramStdout(fromPID, seq, data)
	case TagProgramExit:
		fromPID, err := r.uint64()
		if err != nil {
			return nil, err
		}
		exitCode, err := r.uint32()
		if err != nil {
			return nil, err
		}
		m = NewProgramExit(fromPID, exitCode)
	default:
		return nil, ErrMalformedFrame
	}

	if r.remaining() != 0 {
		return nil, ErrMalformedFrame
	}
	return m, nil
}
