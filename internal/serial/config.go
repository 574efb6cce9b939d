package serial

import "time"

// standardSpeeds maps the handful of baud rates the two bridge links
// actually use onto the fixed CBAUD constants. Anything else falls
// back to BOTHER with the rate in ISpeed/OSpeed via SetCustomSpeed.
var standardSpeeds = map[uint32]CFlag{
	1200:    B1200,
	2400:    B2400,
	4800:    B4800,
	9600:    B9600,
	19200:   B19200,
	38400:   B38400,
	57600:   B57600,
	115200:  B115200,
	230400:  B230400,
	460800:  B460800,
	921600:  B921600,
	1000000: B1000000,
}

// LinkConfig describes the termios settings a bridge link (Marker or
// PLC) needs. Both links run 8N1 with no local echo, raw mode.
type LinkConfig struct {
	BaudRate    uint32
	XonXoff     bool
	ReadTimeout time.Duration
}

// OpenLink opens name and configures it for raw 8N1 operation at the
// requested baud rate. It applies the Termios2 MakeRaw recipe, then
// enables CREAD|CLOCAL, which MakeRaw alone does not set and both
// bridge links require to see incoming bytes without carrier-detect
// stalls, sets or clears IXON|IXOFF per XonXoff, and sets VMIN and
// VTIME to 0.
func OpenLink(name string, cfg LinkConfig) (*Port, error) {
	opts := NewOptions()
	if cfg.ReadTimeout > 0 {
		opts.SetReadTimeout(cfg.ReadTimeout)
	}
	port, err := Open(name, opts)
	if err != nil {
		return nil, err
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, err
	}
	attrs.MakeRaw()
	attrs.Cflag |= CREAD | CLOCAL
	if cfg.XonXoff {
		attrs.Iflag |= IXON | IXOFF
	} else {
		attrs.Iflag &^= IXON | IXOFF
	}
	if speed, ok := standardSpeeds[cfg.BaudRate]; ok {
		attrs.SetSpeed(speed)
	} else {
		attrs.SetCustomSpeed(cfg.BaudRate)
	}
	attrs.Cc[VMIN] = 0
	attrs.Cc[VTIME] = 0

	if err := port.SetAttr2(TCSANOW, attrs); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}
