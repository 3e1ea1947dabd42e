package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jezek/xgb"
)

// The RECORD data stream needs a second connection: EnableContext answers
// with an open-ended series of replies, which xgb's cookie model does not
// support. This file holds the small part of the X protocol needed for it.

const (
	recordFromServer  = 0
	recordFromClient  = 1
	recordStartOfData = 4
	recordEndOfData   = 5

	recordEnableContextOpcode = 5
	maxRecordReply            = 1 << 24
)

var errMalformedRecord = errors.New("malformed record data")

type displayAddr struct {
	network string
	addr    string
	host    string
	display string
}

// parseDisplay splits "[protocol/][host]:display[.screen]".
func parseDisplay(name string) (displayAddr, error) {
	if name == "" {
		name = os.Getenv("DISPLAY")
	}
	colon := strings.LastIndex(name, ":")
	if colon < 0 {
		return displayAddr{}, fmt.Errorf("bad display string: %q", name)
	}

	var protocol string
	host := name[:colon]
	if slash := strings.LastIndex(host, "/"); slash >= 0 {
		protocol, host = host[:slash], host[slash+1:]
	}

	disp := name[colon+1:]
	if dot := strings.Index(disp, "."); dot >= 0 {
		disp = disp[:dot]
	}
	n, err := strconv.Atoi(disp)
	if err != nil || n < 0 {
		return displayAddr{}, fmt.Errorf("bad display string: %q", name)
	}

	da := displayAddr{host: host, display: disp}
	switch {
	case host == "" || host == "unix" || protocol == "unix":
		da.network = "unix"
		da.addr = filepath.Join("/tmp/.X11-unix", "X"+disp)
	default:
		if protocol == "" {
			protocol = "tcp"
		}
		da.network = protocol
		da.addr = net.JoinHostPort(host, strconv.Itoa(6000+n))
	}
	return da, nil
}

// readAuthority finds the MIT-MAGIC-COOKIE for the display in the
// Xauthority file.
func readAuthority(host, display string) (string, []byte, error) {
	path := os.Getenv("XAUTHORITY")
	if path == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return "", nil, errors.New("neither XAUTHORITY nor HOME is set")
		}
		path = filepath.Join(home, ".Xauthority")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	if host == "" || host == "localhost" || host == "unix" {
		if host, err = os.Hostname(); err != nil {
			return "", nil, err
		}
	}
	return findAuthority(f, host, display)
}

func findAuthority(r io.Reader, host, display string) (string, []byte, error) {
	const (
		familyLocal = 256
		familyWild  = 65535
	)
	for {
		var family uint16
		if err := binary.Read(r, binary.BigEndian, &family); err != nil {
			if errors.Is(err, io.EOF) {
				return "", nil, fmt.Errorf("no Xauthority entry for %s:%s", host, display)
			}
			return "", nil, err
		}
		fields := make([][]byte, 4)
		for i := range fields {
			b, err := readCounted(r)
			if err != nil {
				return "", nil, err
			}
			fields[i] = b
		}
		addr, disp, name, data := string(fields[0]), string(fields[1]), string(fields[2]), fields[3]

		addrMatch := family == familyWild || (family == familyLocal && addr == host)
		dispMatch := disp == "" || disp == display
		if addrMatch && dispMatch {
			return name, data, nil
		}
	}
}

func readCounted(r io.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// dialData opens the raw connection and completes the setup handshake.
func dialData(display string, timeout time.Duration) (net.Conn, error) {
	da, err := parseDisplay(display)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTimeout(da.network, da.addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", da.addr, err)
	}

	authName, authData, err := readAuthority(da.host, da.display)
	if err != nil {
		// servers without access control accept an empty auth
		authName, authData = "", nil
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if err := handshake(conn, authName, authData); err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

// handshake sends the little-endian connection setup and consumes the
// server's answer. The setup data itself is not needed.
func handshake(rw io.ReadWriter, authName string, authData []byte) error {
	buf := make([]byte, 12+xgb.Pad(len(authName))+xgb.Pad(len(authData)))
	buf[0] = 'l'
	xgb.Put16(buf[2:], 11)
	xgb.Put16(buf[4:], 0)
	xgb.Put16(buf[6:], uint16(len(authName)))
	xgb.Put16(buf[8:], uint16(len(authData)))
	copy(buf[12:], authName)
	copy(buf[12+xgb.Pad(len(authName)):], authData)
	if _, err := rw.Write(buf); err != nil {
		return fmt.Errorf("failed to send connection setup: %w", err)
	}

	head := make([]byte, 8)
	if _, err := io.ReadFull(rw, head); err != nil {
		return fmt.Errorf("failed to read connection setup reply: %w", err)
	}
	code := head[0]
	reasonLen := int(head[1])
	dataLen := int(xgb.Get16(head[6:])) * 4

	body := make([]byte, dataLen)
	if _, err := io.ReadFull(rw, body); err != nil {
		return fmt.Errorf("failed to read connection setup reply: %w", err)
	}

	switch code {
	case 1:
		if major := xgb.Get16(head[2:]); major != 11 {
			return fmt.Errorf("unsupported X protocol version %d", major)
		}
		return nil
	case 0:
		if reasonLen > len(body) {
			reasonLen = len(body)
		}
		return fmt.Errorf("X server refused connection: %s", body[:reasonLen])
	case 2:
		return fmt.Errorf("X server requires further authentication: %s",
			strings.TrimRight(string(body), "\x00"))
	default:
		return fmt.Errorf("unknown connection setup status %d", code)
	}
}

// enableContext sends RecordEnableContext on the data connection.
func enableContext(w io.Writer, majorOpcode byte, context uint32) error {
	buf := make([]byte, 8)
	buf[0] = majorOpcode
	buf[1] = recordEnableContextOpcode
	xgb.Put16(buf[2:], 2)
	xgb.Put32(buf[4:], context)
	_, err := w.Write(buf)
	return err
}

type recordReply struct {
	category byte
	data     []byte
}

// readRecordReply reads one EnableContext reply.
func readRecordReply(r io.Reader) (recordReply, error) {
	head := make([]byte, 32)
	if _, err := io.ReadFull(r, head); err != nil {
		return recordReply{}, err
	}
	switch head[0] {
	case 1:
	case 0:
		return recordReply{}, fmt.Errorf("X error %d on record stream", head[1])
	default:
		return recordReply{}, fmt.Errorf("unexpected packet type %d on record stream", head[0])
	}

	n := int(xgb.Get32(head[4:])) * 4
	if n > maxRecordReply {
		return recordReply{}, fmt.Errorf("record reply of %d bytes: %w", n, errMalformedRecord)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return recordReply{}, err
	}
	return recordReply{category: head[1], data: data}, nil
}

// decodeDeviceEvents turns the core events of a FromServer record into raw
// events. names maps an X keycode to the observed canonical name. Unknown
// event types are skipped; a trailing partial event is reported as
// malformed after the complete ones are returned.
func decodeDeviceEvents(data []byte, ts time.Time, names func(keycode byte) string) ([]RawEvent, error) {
	var out []RawEvent
	for len(data) >= 32 {
		ev := data[:32]
		data = data[32:]

		detail := int(ev[1])
		x := int(int16(xgb.Get16(ev[20:])))
		y := int(int16(xgb.Get16(ev[22:])))

		switch ev[0] & 0x7f {
		case 2, 3:
			if detail < 8 {
				continue
			}
			name := ""
			if names != nil {
				name = names(ev[1])
			}
			out = append(out, KeyEvent(detail-8, name, ev[0]&0x7f == 2, ts))
		case 4, 5:
			if raw, ok := ButtonEvent(detail, ev[0]&0x7f == 4, ts); ok {
				raw.X, raw.Y = x, y
				out = append(out, raw)
			}
		case 6:
			out = append(out, RawEvent{Kind: Move, X: x, Y: y, Time: ts})
		}
	}
	if len(data) != 0 {
		return out, fmt.Errorf("%d trailing bytes: %w", len(data), errMalformedRecord)
	}
	return out, nil
}
