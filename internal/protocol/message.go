package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// TInitBody carries the client's trace parameters.
type TInitBody struct {
	CPUs     uint32
	PageSize uint32
	Options  uint32
}

// RInitBody carries the server's CPU count; the per-CPU port array
// follows in the variable payload.
type RInitBody struct {
	CPUs uint32
}

// Message is one complete wire message. Only the body variant matching
// Header.Cmd is meaningful; Payload holds the variable region after the
// fixed body.
type Message struct {
	Header  Header
	TInit   TInitBody
	RInit   RInitBody
	Payload []byte
}

func newMessage(cmd Command) Message {
	return Message{Header: Header{
		Size:    HeaderLen + fixedBodyLen[cmd],
		Cmd:     cmd,
		CmdSize: fixedBodyLen[cmd],
	}}
}

// NewClose builds a CLOSE message.
func NewClose() Message { return newMessage(CmdClose) }

// NewFinData builds a FIN_DATA message.
func NewFinData() Message { return newMessage(CmdFinData) }

// NewTInit builds a TINIT message advertising cpus and pageSize, with the
// given option records appended to the variable payload.
func NewTInit(cpus, pageSize uint32, opts []Option) Message {
	m := newMessage(CmdTInit)
	m.TInit = TInitBody{CPUs: cpus, PageSize: pageSize, Options: uint32(len(opts))}
	m.Payload = EncodeOptions(opts)
	m.Header.Size += uint32(len(m.Payload))
	return m
}

// NewRInit builds a RINIT message answering with cpus and one listener
// port per CPU.
func NewRInit(cpus uint32, ports []int) Message {
	m := newMessage(CmdRInit)
	m.RInit = RInitBody{CPUs: cpus}
	m.Payload = make([]byte, 4*len(ports))
	for i, p := range ports {
		binary.BigEndian.PutUint32(m.Payload[4*i:], uint32(p))
	}
	m.Header.Size += uint32(len(m.Payload))
	return m
}

// NewData builds a SEND_DATA message carrying chunk. Callers chunk at
// MaxDataLen; a frame built over that is not refused here but the
// receiver rejects it against MaxFrameLen.
func NewData(chunk []byte) Message {
	m := newMessage(CmdSendData)
	m.Payload = chunk
	m.Header.Size += uint32(len(chunk))
	return m
}

// Ports decodes the per-CPU listener ports from a RINIT message. The
// payload must hold one u32 per advertised CPU.
func (m Message) Ports() ([]int, error) {
	if m.Header.Cmd != CmdRInit {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedCommand, m.Header.Cmd.Name())
	}
	cpus := int(int32(m.RInit.CPUs))
	if cpus < 0 || 4*cpus > len(m.Payload) {
		return nil, fmt.Errorf("%w: port array for %d cpus, %d payload bytes",
			ErrMalformed, cpus, len(m.Payload))
	}
	ports := make([]int, cpus)
	for i := range ports {
		ports[i] = int(binary.BigEndian.Uint32(m.Payload[4*i:]))
	}
	return ports, nil
}

// DataLen reports the payload byte count a SEND_DATA frame declares.
func (m Message) DataLen() int {
	return int(m.Header.Size - HeaderLen - m.Header.CmdSize)
}

// WriteMessage encodes m and writes the full frame: header and fixed body
// first, then the variable payload.
func WriteMessage(w io.Writer, m Message) error {
	if !m.Header.Cmd.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCommand, m.Header.Cmd)
	}

	log.Debug().
		Uint32("cmd", uint32(m.Header.Cmd)).
		Str("name", m.Header.Cmd.Name()).
		Uint32("size", m.Header.Size).
		Msg("message send")

	msgLen := HeaderLen + m.Header.CmdSize
	if m.Header.Size < msgLen {
		return fmt.Errorf("%w: size %d below header and body", ErrMalformed, m.Header.Size)
	}
	payloadLen := m.Header.Size - msgLen
	if int(payloadLen) != len(m.Payload) {
		return fmt.Errorf("%w: declared %d payload bytes, have %d",
			ErrMalformed, payloadLen, len(m.Payload))
	}

	buf := make([]byte, msgLen)
	copy(buf, EncodeHeader(m.Header))
	encodeBody(buf[HeaderLen:], m)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if payloadLen == 0 {
		return nil
	}
	if _, err := w.Write(m.Payload); err != nil {
		return err
	}
	return nil
}

func encodeBody(dst []byte, m Message) {
	var fixed [12]byte
	switch m.Header.Cmd {
	case CmdTInit:
		binary.BigEndian.PutUint32(fixed[0:4], m.TInit.CPUs)
		binary.BigEndian.PutUint32(fixed[4:8], m.TInit.PageSize)
		binary.BigEndian.PutUint32(fixed[8:12], m.TInit.Options)
	case CmdRInit:
		binary.BigEndian.PutUint32(fixed[0:4], m.RInit.CPUs)
	}
	copy(dst, fixed[:fixedBodyLen[m.Header.Cmd]])
}

// ReadMessage reads one complete message. The declared total size is
// validated against frame bounds before any body byte is read or any
// payload buffer is allocated.
func ReadMessage(r io.Reader) (Message, error) {
	hb := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, hb); err != nil {
		return Message{}, mapReadErr(err)
	}
	h, err := DecodeHeader(hb)
	if err != nil {
		return Message{}, err
	}

	log.Debug().
		Uint32("cmd", uint32(h.Cmd)).
		Str("name", h.Cmd.Name()).
		Uint32("size", h.Size).
		Msg("message received")

	if h.Size > MaxFrameLen || h.Size < HeaderLen {
		log.Warn().Uint32("size", h.Size).Msg("received an invalid message size")
		return Message{}, fmt.Errorf("%w: declared size %d", ErrMalformed, h.Size)
	}

	m := Message{Header: h}
	if h.Size == HeaderLen {
		return m, nil
	}
	if err := readBody(r, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// readBody consumes the fixed body and variable payload. The declared
// cmd_size is clamped to the command's known fixed-body size; declared
// excess within the frame is drained so the stream stays aligned, never
// trusted for parsing or allocation.
func readBody(r io.Reader, m *Message) error {
	cmd := m.Header.Cmd
	if !cmd.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCommand, cmd)
	}
	declared := m.Header.CmdSize
	if declared > math.MaxInt32 {
		return fmt.Errorf("%w: cmd_size %d", ErrMalformed, declared)
	}
	if HeaderLen+declared > m.Header.Size {
		return fmt.Errorf("%w: cmd_size %d exceeds frame", ErrMalformed, declared)
	}

	read := HeaderLen
	if declared > 0 {
		keep := declared
		if keep > fixedBodyLen[cmd] {
			keep = fixedBodyLen[cmd]
		}
		body := make([]byte, keep)
		if _, err := io.ReadFull(r, body); err != nil {
			return mapReadErr(err)
		}
		decodeBody(m, body)
		if declared > keep {
			if _, err := io.CopyN(io.Discard, r, int64(declared-keep)); err != nil {
				return mapReadErr(err)
			}
		}
		read += declared
	}

	if m.Header.Size > read {
		m.Payload = make([]byte, m.Header.Size-read)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return mapReadErr(err)
		}
	}
	return nil
}

// decodeBody parses the fixed body from however many bytes the peer
// declared; missing trailing fields stay zero.
func decodeBody(m *Message, b []byte) {
	var fixed [12]byte
	copy(fixed[:], b)
	switch m.Header.Cmd {
	case CmdTInit:
		m.TInit = TInitBody{
			CPUs:     binary.BigEndian.Uint32(fixed[0:4]),
			PageSize: binary.BigEndian.Uint32(fixed[4:8]),
			Options:  binary.BigEndian.Uint32(fixed[8:12]),
		}
	case CmdRInit:
		m.RInit = RInitBody{CPUs: binary.BigEndian.Uint32(fixed[0:4])}
	}
}

func mapReadErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnectionClosed
	}
	return err
}

// Conn is the duplex byte stream the protocol runs over. net.Conn
// satisfies it.
type Conn interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// ReadMessageWait reads one message, waiting up to timeout for it to
// arrive. A zero or negative timeout blocks indefinitely. Deadline expiry
// surfaces as ErrTimeout.
func ReadMessageWait(c Conn, timeout time.Duration) (Message, error) {
	if timeout > 0 {
		if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return Message{}, err
		}
		defer c.SetReadDeadline(time.Time{})
	}
	m, err := ReadMessage(c)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return Message{}, ErrTimeout
		}
		return Message{}, err
	}
	return m, nil
}
