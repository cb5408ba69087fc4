package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLen is the fixed wire header size in bytes.
	HeaderLen uint32 = 12

	// MaxFrameLen bounds one complete frame, header included.
	MaxFrameLen uint32 = 8192

	// MaxDataLen is the largest payload a single SEND_DATA frame carries.
	MaxDataLen uint32 = MaxFrameLen - HeaderLen
)

// Header is the fixed wire header. Size spans the whole frame, CmdSize
// declares the fixed-body byte count that follows the header.
type Header struct {
	Size    uint32
	Cmd     Command
	CmdSize uint32
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Size)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Cmd))
	binary.BigEndian.PutUint32(buf[8:12], h.CmdSize)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(HeaderLen) {
		return Header{}, fmt.Errorf("protocol: invalid header length: %d", len(b))
	}
	return Header{
		Size:    binary.BigEndian.Uint32(b[0:4]),
		Cmd:     Command(binary.BigEndian.Uint32(b[4:8])),
		CmdSize: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}
