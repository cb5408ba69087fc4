package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/tracectl/internal/protocol"
)

// ServerInit performs the relay side of the opening exchange: wait for
// the recorder's TINIT, validate its parameters, apply its options, and
// return the recorder's page size. The advertised CPU count is recorded
// on the handle.
func (h *Handle) ServerInit() (int, error) {
	if err := h.ensureServer(); err != nil {
		return 0, err
	}

	m, err := h.receive(h.cfg.waitTimeout())
	if err != nil {
		if errors.Is(err, protocol.ErrTimeout) {
			h.log.Warn().Msg("connection timed out")
		}
		return 0, err
	}
	if m.Header.Cmd != protocol.CmdTInit {
		h.errorOperation(m)
		return 0, fmt.Errorf("%w: want TINIT, got %s",
			protocol.ErrUnexpectedCommand, m.Header.Cmd.Name())
	}

	cpus := int(int32(m.TInit.CPUs))
	h.log.Debug().Int("cpus", cpus).Msg("client init")
	if cpus < 0 {
		h.errorOperation(m)
		return 0, fmt.Errorf("%w: cpu count %d", protocol.ErrMalformed, cpus)
	}
	h.cpuCount = cpus

	pageSize := int(int32(m.TInit.PageSize))
	h.log.Debug().Int("page_size", pageSize).Msg("client init")
	if pageSize <= 0 {
		h.errorOperation(m)
		return 0, fmt.Errorf("%w: page size %d", protocol.ErrMalformed, pageSize)
	}

	opts, err := protocol.ParseOptions(m)
	if err != nil {
		h.log.Warn().Err(err).Msg("rejecting client options")
		h.errorOperation(m)
		return 0, err
	}
	for i, opt := range opts {
		if opt.ID == protocol.OptionUseTCP {
			h.useTCP = true
			continue
		}
		h.log.Warn().
			Int("index", i).
			Uint32("id", uint32(opt.ID)).
			Uint32("size", protocol.OptionHeaderLen+uint32(len(opt.Data))).
			Msg("cannot understand option")
		h.errorOperation(m)
		return 0, fmt.Errorf("%w: id %d", protocol.ErrUnknownOption, opt.ID)
	}

	return pageSize, nil
}

// SendPorts answers the init with one data listener port per CPU.
func (h *Handle) SendPorts(ports []int) error {
	if err := h.ensureServer(); err != nil {
		return err
	}
	if len(ports) != h.cpuCount {
		return fmt.Errorf("session: %d ports for %d cpus", len(ports), h.cpuCount)
	}
	return h.send(protocol.NewRInit(uint32(h.cpuCount), ports))
}

// Collect receives the data stream into sink until the recorder sends
// FIN_DATA, then waits out the goodbye: further messages are read
// without a timeout until CLOSE arrives, the completion flag is set, or
// the peer vanishes. Returns the sunk byte count.
func (h *Handle) Collect(sink io.Writer) (int64, error) {
	if err := h.ensureServer(); err != nil {
		return 0, err
	}

	var total int64
	for {
		m, err := h.receive(h.cfg.waitTimeout())
		if err != nil {
			if errors.Is(err, protocol.ErrTimeout) {
				h.log.Warn().Msg("connection timed out")
			} else {
				h.log.Warn().Err(err).Msg("reading client")
			}
			return total, err
		}
		if m.Header.Cmd == protocol.CmdFinData {
			break
		}
		if m.Header.Cmd != protocol.CmdSendData {
			h.errorOperation(m)
			return total, fmt.Errorf("%w: want SEND_DATA, got %s",
				protocol.ErrUnexpectedCommand, m.Header.Cmd.Name())
		}
		if len(m.Payload) > 0 {
			if _, err := sink.Write(m.Payload); err != nil {
				h.log.Warn().Err(err).Msg("writing to sink")
				return total, err
			}
			total += int64(len(m.Payload))
		}
	}

	for !h.Done() {
		m, err := h.receive(0)
		if err != nil {
			h.log.Warn().Err(err).Msg("reading client")
			return total, err
		}
		if m.Header.Cmd == protocol.CmdClose {
			break
		}
		h.errorOperation(m)
		return total, fmt.Errorf("%w: got %s after FIN_DATA",
			protocol.ErrUnexpectedCommand, m.Header.Cmd.Name())
	}

	return total, nil
}
