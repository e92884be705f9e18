// Package memd implements the memcached binary protocol framing used by
// the pipeline: the fixed 24-byte header, opcode/status/feature enums, and
// the in-memory Packet representation with its flag bitset. This is the
// wire-format leaf of the dependency graph described in spec.md §2.
package memd

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed memcached binary protocol header length.
	HeaderSize = 24

	magicReq byte = 0x80
	magicRes byte = 0x81

	// MaxIOV bounds the scatter-gather segments a pipeline flush will
	// assemble in one syscall (spec.md §4.2).
	MaxIOV = 32
)

// ErrShortHeader is returned when fewer than HeaderSize bytes are available
// to decode.
var ErrShortHeader = errors.New("memd: short header")

// Flag is a bit in Packet.Flags.
type Flag uint32

const (
	FlagFlushed  Flag = 1 << iota // written to the socket
	FlagInvoked                   // user callback already invoked
	FlagDetached                  // heap-owned, no longer pipeline-owned
	FlagUFwd                      // user-initiated forwarding / redispatch
	FlagNoCid                     // no collection id attached
	FlagHasExt                    // carries extension datums (detached only)
)

// Header is the decoded fixed 24-byte frame header. Multi-byte fields are
// big-endian on the wire except Opaque and Cas, which are transported as
// opaque byte blobs (spec.md §3).
type Header struct {
	Magic     byte
	Opcode    Opcode
	KeyLen    uint16
	ExtLen    uint8
	DataType  uint8
	VBucket   uint16 // request: vbucket id; response: Status reuses this field
	BodyLen   uint32
	Opaque    uint32
	Cas       uint64
}

// Status interprets the VBucket field as a response status code.
func (h Header) Status() Status { return Status(h.VBucket) }

// EncodeRequest writes a 24-byte request header into buf (len(buf) must be
// >= HeaderSize).
func EncodeRequest(buf []byte, h Header) {
	buf[0] = magicReq
	buf[1] = byte(h.Opcode)
	binary.BigEndian.PutUint16(buf[2:4], h.KeyLen)
	buf[4] = h.ExtLen
	buf[5] = h.DataType
	binary.BigEndian.PutUint16(buf[6:8], h.VBucket)
	binary.BigEndian.PutUint32(buf[8:12], h.BodyLen)
	binary.BigEndian.PutUint32(buf[12:16], h.Opaque)
	binary.BigEndian.PutUint64(buf[16:24], h.Cas)
}

// DecodeHeader parses a 24-byte frame header (request or response).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	var h Header
	h.Magic = buf[0]
	h.Opcode = Opcode(buf[1])
	h.KeyLen = binary.BigEndian.Uint16(buf[2:4])
	h.ExtLen = buf[4]
	h.DataType = buf[5]
	h.VBucket = binary.BigEndian.Uint16(buf[6:8])
	h.BodyLen = binary.BigEndian.Uint32(buf[8:12])
	h.Opaque = binary.BigEndian.Uint32(buf[12:16])
	h.Cas = binary.BigEndian.Uint64(buf[16:24])
	return h, nil
}

// Packet is the in-memory request/response unit that flows through the
// packet log, retry queue, and dispatch layer (spec.md §3).
type Packet struct {
	Opaque  uint32
	Opcode  Opcode
	VBucket uint16
	Cas     uint64
	Extras  []byte
	Key     []byte
	Value   []byte
	Status  Status
	Flags   Flag

	// PipelineIdx is the index of the owning Pipeline at enqueue time. A
	// detached packet keeps the value it had when detached so retry/NMV
	// bookkeeping can log where it came from.
	PipelineIdx int

	// Cookie carries whatever opaque user data the caller attached; the
	// packet log never interprets it.
	Cookie interface{}

	// ext holds keyed extension datums, only populated on detached copies
	// (spec.md §4.1 "extension datums").
	ext map[string]extDatum
}

type extDatum struct {
	value interface{}
	free  func(interface{})
}

// Has reports whether the flag bit is set.
func (p *Packet) Has(f Flag) bool { return p.Flags&f != 0 }

// Set sets flag bits.
func (p *Packet) Set(f Flag) { p.Flags |= f }

// Clear unsets flag bits.
func (p *Packet) Clear(f Flag) { p.Flags &^= f }

// PutExt attaches a keyed extension datum. Only meaningful once a packet
// has been Renew'd into its detached form.
func (p *Packet) PutExt(key string, value interface{}, free func(interface{})) {
	if p.ext == nil {
		p.ext = make(map[string]extDatum)
	}
	p.ext[key] = extDatum{value: value, free: free}
	p.Set(FlagHasExt)
}

// GetExt retrieves a previously attached extension datum.
func (p *Packet) GetExt(key string) (interface{}, bool) {
	d, ok := p.ext[key]
	if !ok {
		return nil, false
	}
	return d.value, true
}

// DropExt runs the destructor (if any) and removes the datum.
func (p *Packet) DropExt(key string) {
	if d, ok := p.ext[key]; ok {
		if d.free != nil {
			d.free(d.value)
		}
		delete(p.ext, key)
	}
	if len(p.ext) == 0 {
		p.Clear(FlagHasExt)
	}
}

// Renew produces a detached copy of p: all buffers are copied onto the
// heap so the pipeline's buffers can be released independently, matching
// spec.md §4.1's renew() operation. Cookie and extension datums are
// preserved; pipeline-local flags (Flushed) are cleared; Detached is set.
func (p *Packet) Renew() *Packet {
	cp := &Packet{
		Opaque:  p.Opaque,
		Opcode:  p.Opcode,
		VBucket: p.VBucket,
		Cas:     p.Cas,
		Status:  p.Status,
		Cookie:  p.Cookie,
	}
	cp.Extras = append([]byte(nil), p.Extras...)
	cp.Key = append([]byte(nil), p.Key...)
	cp.Value = append([]byte(nil), p.Value...)
	if len(p.ext) > 0 {
		cp.ext = make(map[string]extDatum, len(p.ext))
		for k, d := range p.ext {
			cp.ext[k] = d
		}
	}
	cp.Flags = (p.Flags &^ FlagFlushed) | FlagDetached
	return cp
}

// Encode assembles the full wire frame (header + extras + key + value).
func (p *Packet) Encode() []byte {
	body := len(p.Extras) + len(p.Key) + len(p.Value)
	buf := make([]byte, HeaderSize+body)
	EncodeRequest(buf, Header{
		Opcode:  p.Opcode,
		KeyLen:  uint16(len(p.Key)),
		ExtLen:  uint8(len(p.Extras)),
		VBucket: p.VBucket,
		BodyLen: uint32(body),
		Opaque:  p.Opaque,
		Cas:     p.Cas,
	})
	n := HeaderSize
	n += copy(buf[n:], p.Extras)
	n += copy(buf[n:], p.Key)
	copy(buf[n:], p.Value)
	return buf
}

// DecodeBody splits a response body (already read in full) into
// extras/key/value according to the header's ExtLen/KeyLen/BodyLen.
func DecodeBody(h Header, body []byte) (extras, key, value []byte, err error) {
	if uint32(len(body)) != h.BodyLen {
		return nil, nil, nil, fmt.Errorf("memd: body length mismatch: have %d want %d", len(body), h.BodyLen)
	}
	if int(h.ExtLen)+int(h.KeyLen) > len(body) {
		return nil, nil, nil, fmt.Errorf("memd: extlen+keylen exceeds body")
	}
	extras = body[:h.ExtLen]
	key = body[h.ExtLen : int(h.ExtLen)+int(h.KeyLen)]
	value = body[int(h.ExtLen)+int(h.KeyLen):]
	return extras, key, value, nil
}

// FromResponse builds a Packet from a decoded header and body, used by the
// pipeline read loop when matching a response to its in-flight request.
func FromResponse(h Header, body []byte) (*Packet, error) {
	extras, key, value, err := DecodeBody(h, body)
	if err != nil {
		return nil, err
	}
	return &Packet{
		Opaque:  h.Opaque,
		Opcode:  h.Opcode,
		VBucket: h.VBucket,
		Cas:     h.Cas,
		Status:  h.Status(),
		Extras:  extras,
		Key:     key,
		Value:   value,
	}, nil
}
