package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDisplay(t *testing.T) {
	cases := []struct {
		in      string
		network string
		addr    string
		display string
	}{
		{":0", "unix", "/tmp/.X11-unix/X0", "0"},
		{":1.0", "unix", "/tmp/.X11-unix/X1", "1"},
		{"unix:2", "unix", "/tmp/.X11-unix/X2", "2"},
		{"localhost:10.0", "tcp", "localhost:6010", "10"},
		{"tcp/example.org:3", "tcp", "example.org:6003", "3"},
	}
	for _, tc := range cases {
		da, err := parseDisplay(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.network, da.network, tc.in)
		assert.Equal(t, tc.addr, da.addr, tc.in)
		assert.Equal(t, tc.display, da.display, tc.in)
	}

	_, err := parseDisplay("nocolon")
	assert.Error(t, err)
	_, err = parseDisplay(":x")
	assert.Error(t, err)
}

func authRecord(family uint16, fields ...string) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, family)
	for _, f := range fields {
		binary.Write(&buf, binary.BigEndian, uint16(len(f)))
		buf.WriteString(f)
	}
	return buf.Bytes()
}

func TestFindAuthority(t *testing.T) {
	var file bytes.Buffer
	file.Write(authRecord(256, "otherhost", "0", "MIT-MAGIC-COOKIE-1", "nope"))
	file.Write(authRecord(256, "myhost", "1", "MIT-MAGIC-COOKIE-1", "wrongdisp"))
	file.Write(authRecord(256, "myhost", "0", "MIT-MAGIC-COOKIE-1", "cookie"))

	name, data, err := findAuthority(bytes.NewReader(file.Bytes()), "myhost", "0")
	require.NoError(t, err)
	assert.Equal(t, "MIT-MAGIC-COOKIE-1", name)
	assert.Equal(t, []byte("cookie"), data)

	_, _, err = findAuthority(bytes.NewReader(file.Bytes()), "myhost", "7")
	assert.Error(t, err)

	wild := authRecord(65535, "", "", "MIT-MAGIC-COOKIE-1", "any")
	_, data, err = findAuthority(bytes.NewReader(wild), "whatever", "3")
	require.NoError(t, err)
	assert.Equal(t, []byte("any"), data)
}

// fakeServer answers the connection setup on the other end of a pipe.
func fakeServer(t *testing.T, conn net.Conn, status byte, body []byte) <-chan []byte {
	got := make(chan []byte, 1)
	go func() {
		head := make([]byte, 12)
		if _, err := io.ReadFull(conn, head); err != nil {
			close(got)
			return
		}
		nameLen := int(xgb.Get16(head[6:]))
		dataLen := int(xgb.Get16(head[8:]))
		rest := make([]byte, xgb.Pad(nameLen)+xgb.Pad(dataLen))
		io.ReadFull(conn, rest)
		got <- append(head, rest...)

		for len(body)%4 != 0 {
			body = append(body, 0)
		}
		reply := make([]byte, 8)
		reply[0] = status
		if status == 0 {
			reply[1] = byte(len(bytes.TrimRight(body, "\x00")))
		}
		xgb.Put16(reply[2:], 11)
		xgb.Put16(reply[6:], uint16(len(body)/4))
		conn.Write(append(reply, body...))
	}()
	return got
}

func TestHandshakeSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sent := fakeServer(t, server, 1, make([]byte, 16))
	require.NoError(t, handshake(client, "MIT-MAGIC-COOKIE-1", []byte("0123456789abcdef")))

	req := <-sent
	assert.Equal(t, byte('l'), req[0])
	assert.Equal(t, uint16(11), xgb.Get16(req[2:]))
	assert.Equal(t, uint16(18), xgb.Get16(req[6:]))
	assert.Equal(t, "MIT-MAGIC-COOKIE-1", string(req[12:30]))
	assert.Equal(t, "0123456789abcdef", string(req[32:48]))
}

func TestHandshakeRefused(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fakeServer(t, server, 0, []byte("No protocol specified"))
	err := handshake(client, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No protocol specified")
}

func TestEnableContextRequest(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, enableContext(&buf, 146, 0x00400001))
	assert.Equal(t, []byte{146, 5, 2, 0, 0x01, 0x00, 0x40, 0x00}, buf.Bytes())
}

func recordPacket(category byte, data []byte) []byte {
	head := make([]byte, 32)
	head[0] = 1
	head[1] = category
	xgb.Put32(head[4:], uint32(len(data)/4))
	return append(head, data...)
}

func coreEvent(code, detail byte, x, y int16) []byte {
	ev := make([]byte, 32)
	ev[0] = code
	ev[1] = detail
	xgb.Put16(ev[20:], uint16(x))
	xgb.Put16(ev[22:], uint16(y))
	return ev
}

func TestReadRecordReply(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(recordPacket(recordStartOfData, nil))
	stream.Write(recordPacket(recordFromServer, coreEvent(2, 38, 0, 0)))

	r, err := readRecordReply(&stream)
	require.NoError(t, err)
	assert.Equal(t, byte(recordStartOfData), r.category)
	assert.Empty(t, r.data)

	r, err = readRecordReply(&stream)
	require.NoError(t, err)
	assert.Equal(t, byte(recordFromServer), r.category)
	assert.Len(t, r.data, 32)

	_, err = readRecordReply(&stream)
	assert.True(t, errors.Is(err, io.EOF))

	xerr := make([]byte, 32)
	xerr[1] = 8
	_, err = readRecordReply(bytes.NewReader(xerr))
	assert.ErrorContains(t, err, "X error 8")
}

func TestDecodeDeviceEvents(t *testing.T) {
	var data []byte
	data = append(data, coreEvent(2, 38, 0, 0)...)     // KeyPress keycode 38
	data = append(data, coreEvent(3, 38, 0, 0)...)     // KeyRelease
	data = append(data, coreEvent(4, 1, 10, 20)...)    // ButtonPress left
	data = append(data, coreEvent(4, 5, 0, 0)...)      // wheel down
	data = append(data, coreEvent(5, 5, 0, 0)...)      // wheel release, dropped
	data = append(data, coreEvent(6, 0, -5, 700)...)   // motion
	data = append(data, coreEvent(0x80|2, 9, 0, 0)...) // synthetic flag
	data = append(data, coreEvent(12, 0, 0, 0)...)     // Expose, ignored

	names := func(kc byte) string {
		if kc == 38 {
			return "KEY_A"
		}
		return ""
	}
	now := time.Now()
	got, err := decodeDeviceEvents(data, now, names)
	require.NoError(t, err)
	require.Len(t, got, 6)

	assert.Equal(t, RawEvent{Kind: KeyDown, Code: 30, Name: "KEY_A", Time: now}, got[0])
	assert.Equal(t, KeyUp, got[1].Kind)
	assert.Equal(t, RawEvent{Kind: ButtonDown, Code: 1, X: 10, Y: 20, Time: now}, got[2])
	assert.Equal(t, Scroll, got[3].Kind)
	assert.Equal(t, -1, got[3].Delta)
	assert.Equal(t, RawEvent{Kind: Move, X: -5, Y: 700, Time: now}, got[4])
	assert.Equal(t, 1, got[5].Code)
}

func TestDecodeMalformedKeepsCompleteEvents(t *testing.T) {
	data := append(coreEvent(2, 38, 0, 0), 1, 2, 3)
	got, err := decodeDeviceEvents(data, time.Now(), nil)
	assert.ErrorIs(t, err, errMalformedRecord)
	assert.Len(t, got, 1)
}

func TestKeysymTable(t *testing.T) {
	syms := []xproto.Keysym{
		0x61, 0x41, // a A
		0xffaa, 0, // KP_Multiply
		0xff55, 0, // Prior
		0, 0,
	}
	tbl := newKeysymTable(8, 2, syms)
	assert.Equal(t, "KEY_A", tbl.lookup(8))
	assert.Equal(t, "KEY_KP_MULTIPLY", tbl.lookup(9))
	assert.Equal(t, "KEY_PRIOR", tbl.lookup(10))
	assert.Equal(t, "", tbl.lookup(11))
	assert.Equal(t, "", tbl.lookup(7))
	assert.Equal(t, "", tbl.lookup(200))

	var nilTable *keysymTable
	assert.Equal(t, "", nilTable.lookup(8))
}
