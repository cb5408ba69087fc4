package protocol

// Command identifies one wire message kind.
type Command uint32

const (
	CmdClose Command = iota
	CmdTInit
	CmdRInit
	CmdSendData
	CmdFinData

	nrCommands
)

// fixedBodyLen is the statically known fixed-body size per command.
// Declared cmd_size values are clamped to these before any body decode.
var fixedBodyLen = [nrCommands]uint32{
	CmdClose:    0,
	CmdTInit:    12,
	CmdRInit:    4,
	CmdSendData: 0,
	CmdFinData:  0,
}

func (c Command) valid() bool {
	return c < nrCommands
}

// Name returns the wire name of the command for diagnostics.
func (c Command) Name() string {
	switch c {
	case CmdClose:
		return "CLOSE"
	case CmdTInit:
		return "TINIT"
	case CmdRInit:
		return "RINIT"
	case CmdSendData:
		return "SEND_DATA"
	case CmdFinData:
		return "FIN_DATA"
	default:
		return "Unknown"
	}
}
