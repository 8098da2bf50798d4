package dbft

import (
	"encoding/binary"
	"fmt"
)

// Wire format: a one-byte message type, the sender seat, the (height, view)
// round, then variant-specific fields. All integers are little-endian.
// The node's P2P layer wraps these payloads in its own envelope; this codec
// only covers the consensus payload itself.

const msgHeaderSize = 1 + 4 + 4 + 4

// Marshal encodes a consensus message for the wire.
func Marshal(m Message) []byte {
	var h Height
	var v View
	buf := make([]byte, msgHeaderSize, msgHeaderSize+36)

	switch msg := m.(type) {
	case ProposalMsg:
		h, v = msg.Height, msg.View
		buf = append(buf, msg.BlockHash[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, msg.TxCount)
	case VoteMsg:
		h, v = msg.Height, msg.View
		buf = append(buf, msg.BlockHash[:]...)
		buf = appendBytes(buf, msg.Signature)
	case CommitMsg:
		h, v = msg.Height, msg.View
		buf = append(buf, msg.BlockHash[:]...)
		buf = appendBytes(buf, msg.Signature)
	case ChangeViewMsg:
		h, v = msg.Height, msg.View
		buf = binary.LittleEndian.AppendUint32(buf, uint32(msg.NewView))
		buf = append(buf, byte(msg.Reason))
	case RecoveryRequestMsg:
		h, v = msg.Height, msg.View
	case RecoveryMsg:
		h, v = msg.Height, msg.View
		if msg.HasProposal {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = append(buf, msg.BlockHash[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, msg.TxCount)
	}

	buf[0] = byte(m.Type())
	binary.LittleEndian.PutUint32(buf[1:], uint32(m.Sender()))
	binary.LittleEndian.PutUint32(buf[5:], uint32(h))
	binary.LittleEndian.PutUint32(buf[9:], uint32(v))
	return buf
}

// Unmarshal decodes a consensus message payload.
// Errors wrap ErrInvalidMessage.
func Unmarshal(data []byte) (Message, error) {
	if len(data) < msgHeaderSize {
		return nil, fmt.Errorf("%w: payload of %d bytes is shorter than the header", ErrInvalidMessage, len(data))
	}
	var (
		typ    = MessageType(data[0])
		sender = ID(binary.LittleEndian.Uint32(data[1:]))
		height = Height(binary.LittleEndian.Uint32(data[5:]))
		view   = View(binary.LittleEndian.Uint32(data[9:]))
		body   = data[msgHeaderSize:]
	)

	r := reader{buf: body}
	switch typ {
	case MessageProposal:
		msg := ProposalMsg{Proposer: sender, Height: height, View: view}
		r.hash(&msg.BlockHash)
		msg.TxCount = r.uint16()
		return msg, r.finish(typ)
	case MessageVote:
		msg := VoteMsg{Voter: sender, Height: height, View: view}
		r.hash(&msg.BlockHash)
		msg.Signature = r.bytes()
		return msg, r.finish(typ)
	case MessageCommit:
		msg := CommitMsg{Voter: sender, Height: height, View: view}
		r.hash(&msg.BlockHash)
		msg.Signature = r.bytes()
		return msg, r.finish(typ)
	case MessageChangeView:
		msg := ChangeViewMsg{Validator: sender, Height: height, View: view}
		msg.NewView = View(r.uint32())
		msg.Reason = ViewChangeReason(r.byte())
		return msg, r.finish(typ)
	case MessageRecoveryRequest:
		msg := RecoveryRequestMsg{Validator: sender, Height: height, View: view}
		return msg, r.finish(typ)
	case MessageRecovery:
		msg := RecoveryMsg{Validator: sender, Height: height, View: view}
		msg.HasProposal = r.byte() == 1
		r.hash(&msg.BlockHash)
		msg.TxCount = r.uint16()
		return msg, r.finish(typ)
	}
	return nil, fmt.Errorf("%w: unknown message type %d", ErrInvalidMessage, typ)
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b)))
	return append(buf, b...)
}

// reader consumes fixed-layout fields, remembering the first failure so that
// call sites do not have to check an error after every field.
type reader struct {
	buf  []byte
	fail bool
}

func (r *reader) take(n int) []byte {
	if r.fail || len(r.buf) < n {
		r.fail = true
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) hash(h *Hash) {
	b := r.take(len(h))
	if b != nil {
		copy(h[:], b)
	}
}

func (r *reader) bytes() []byte {
	n := r.uint16()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) finish(typ MessageType) error {
	if r.fail {
		return fmt.Errorf("%w: truncated %s payload", ErrInvalidMessage, typ)
	}
	if len(r.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes after %s payload", ErrInvalidMessage, len(r.buf), typ)
	}
	return nil
}
