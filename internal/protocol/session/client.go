package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/tracectl/internal/protocol"
)

// ClientInit performs the opening exchange: advertise cpus and pageSize
// plus any negotiated options, then wait for the relay's port reply. The
// returned ports map one-to-one onto CPUs.
func (h *Handle) ClientInit(cpus, pageSize int) ([]int, error) {
	var opts []protocol.Option
	if h.useTCP {
		opts = append(opts, protocol.Option{ID: protocol.OptionUseTCP})
	}
	h.cpuCount = cpus

	if err := h.send(protocol.NewTInit(uint32(cpus), uint32(pageSize), opts)); err != nil {
		return nil, err
	}
	reply, err := h.waitForMessage()
	if err != nil {
		return nil, err
	}
	if reply.Header.Cmd != protocol.CmdRInit {
		return nil, fmt.Errorf("%w: want RINIT, got %s",
			protocol.ErrUnexpectedCommand, reply.Header.Cmd.Name())
	}
	return reply.Ports()
}

// SendStream reads src to exhaustion and ships it in SEND_DATA frames of
// at most protocol.MaxDataLen bytes each. The sequence is ended by
// FinishSend, not here, so callers can stream several sources back to
// back.
func (h *Handle) SendStream(src io.Reader) (int64, error) {
	buf := make([]byte, protocol.MaxDataLen)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := h.send(protocol.NewData(buf[:n])); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// FinishSend marks the end of the data stream.
func (h *Handle) FinishSend() error {
	return h.send(protocol.NewFinData())
}
