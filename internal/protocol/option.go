package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// OptionHeaderLen is the size+id prefix every option record carries.
	// A record's declared size includes this prefix.
	OptionHeaderLen uint32 = 8

	// MaxOptionLen caps a single option record so a peer cannot declare
	// unbounded per-option sizes.
	MaxOptionLen uint32 = 4096
)

// OptionID identifies one negotiable connection option.
type OptionID uint32

// OptionUseTCP asks the server to accept per-CPU data over TCP sockets.
const OptionUseTCP OptionID = 1

// Option is one self-describing record from a TINIT payload.
type Option struct {
	ID   OptionID
	Data []byte
}

// EncodeOptions serializes records back-to-back, each prefixed with its
// total size and id.
func EncodeOptions(opts []Option) []byte {
	n := 0
	for _, o := range opts {
		n += int(OptionHeaderLen) + len(o.Data)
	}
	out := make([]byte, 0, n)
	for _, o := range opts {
		var hdr [OptionHeaderLen]byte
		binary.BigEndian.PutUint32(hdr[0:4], OptionHeaderLen+uint32(len(o.Data)))
		binary.BigEndian.PutUint32(hdr[4:8], uint32(o.ID))
		out = append(out, hdr[:]...)
		out = append(out, o.Data...)
	}
	return out
}

// ParseOptions walks the option records of a TINIT message. Every record
// is validated against the declared frame size before it is touched: the
// record header must fit the remaining frame, the running size must never
// pass the frame total, and no single record may exceed MaxOptionLen.
// Nothing is allocated from the declared record count alone. A walk
// failure returns no options at all.
func ParseOptions(m Message) ([]Option, error) {
	count := int32(m.TInit.Options)
	if count <= 0 {
		return nil, nil
	}

	payload := m.Payload
	size := uint64(HeaderLen) + uint64(m.Header.CmdSize)
	total := uint64(m.Header.Size)
	off := 0

	// Each record carries at least its own header, so the payload bounds
	// how many records can exist regardless of the declared count.
	capHint := len(payload) / int(OptionHeaderLen)
	if capHint > int(count) {
		capHint = int(count)
	}
	opts := make([]Option, 0, capHint)
	for i := int32(0); i < count; i++ {
		if size+uint64(OptionHeaderLen) > total {
			return nil, fmt.Errorf("%w: not enough message for options", ErrMalformed)
		}
		if len(payload)-off < int(OptionHeaderLen) {
			return nil, fmt.Errorf("%w: truncated option record", ErrMalformed)
		}
		optSize := binary.BigEndian.Uint32(payload[off : off+4])
		optID := OptionID(binary.BigEndian.Uint32(payload[off+4 : off+8]))

		size += uint64(optSize)
		if total < size {
			return nil, fmt.Errorf("%w: not enough message for options", ErrMalformed)
		}
		if optSize > MaxOptionLen {
			return nil, fmt.Errorf("%w: option size %d exceeds limit", ErrMalformed, optSize)
		}
		if optSize < OptionHeaderLen {
			return nil, fmt.Errorf("%w: option size %d below record header", ErrMalformed, optSize)
		}
		if len(payload)-off < int(optSize) {
			return nil, fmt.Errorf("%w: truncated option record", ErrMalformed)
		}

		data := make([]byte, optSize-OptionHeaderLen)
		copy(data, payload[off+int(OptionHeaderLen):off+int(optSize)])
		off += int(optSize)
		opts = append(opts, Option{ID: optID, Data: data})
	}
	return opts, nil
}
