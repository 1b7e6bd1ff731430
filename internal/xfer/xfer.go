// Package xfer implements the device side of the serial transfer protocol
// spec.md §6 summarises (the PC-side sending tool is a separate,
// out-of-scope program). A Session parses the 10-byte "ESP32_XFER" framing
// plus its 1-byte command, reassembles file-chunk frames by offset, and
// drives the READY/ACK/NACK/OK/ERROR response state machine. Multi-byte
// fields in this sub-protocol are big-endian, following the teacher's
// field-at-a-time header codec (write.go's ToBigEndian32/64 helpers);
// spec.md leaves the transfer wire's endianness unspecified (it only
// summarises the protocol, deferring to "the data-transfer tool"), unlike
// the QTZ4/_forest.bin formats it pins byte-for-byte in little-endian.
package xfer

import (
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/viettran-edgeAI/rfcore/internal/platform"
	"github.com/viettran-edgeAI/rfcore/internal/storagefs"
)

// Command tags one incoming frame's purpose (spec §6).
type Command uint8

const (
	CmdStartSession Command = 0x01
	CmdFileInfo     Command = 0x02
	CmdFileChunk    Command = 0x03
	CmdEndSession   Command = 0x04
)

// magic opens every frame: the 10-byte ASCII tag "ESP32_XFER".
var magic = [10]byte{'E', 'S', 'P', '3', '2', '_', 'X', 'F', 'E', 'R'}

const headerLen = len(magic) + 1 // magic + command byte

// Response is one of the five fixed device replies spec.md §6 names.
type Response string

const (
	RespReady Response = "READY"
	RespOK    Response = "OK"
	RespError Response = "ERROR"
)

// ErrBadMagic is returned when a frame doesn't open with "ESP32_XFER".
var ErrBadMagic = errors.New("xfer: frame missing ESP32_XFER magic")

// ErrShortFrame is returned when a frame is truncated for its command.
var ErrShortFrame = errors.New("xfer: frame too short for its command")

// sessionState tracks where a Session is in the start/file-info/chunk*/end
// sequence; frames out of order are rejected rather than silently
// accepted.
type sessionState int

const (
	stateIdle sessionState = iota
	stateAwaitingFileInfo
	stateReceivingChunks
)

// Session reassembles one file transfer into path via fs, chunk by chunk
// (spec §6). It is not safe for concurrent use; the device handles one
// transfer session at a time.
type Session struct {
	fs    storagefs.FileSystem
	state sessionState

	path         string
	file         storagefs.File
	expectedSize int64
	bytesWritten int64

	debug *platform.DebugSink
}

// NewSession returns a Session that will write received files through fs,
// with tracing suppressed. Use NewSessionWithDebug to emit per-chunk
// traces through a real DebugSink (spec §7's level-3 per-chunk traces).
func NewSession(fs storagefs.FileSystem) *Session {
	return NewSessionWithDebug(fs, platform.NewDebugSink(platform.DebugNone))
}

// NewSessionWithDebug is NewSession over a caller-chosen DebugSink.
func NewSessionWithDebug(fs storagefs.FileSystem, debug *platform.DebugSink) *Session {
	if debug == nil {
		debug = platform.NewDebugSink(platform.DebugNone)
	}
	return &Session{fs: fs, state: stateIdle, debug: debug}
}

// HandleFrame parses and dispatches one frame, returning the response the
// device would send back over the serial link.
func (s *Session) HandleFrame(frame []byte) (Response, error) {
	if len(frame) < headerLen {
		return "", ErrShortFrame
	}
	var got [10]byte
	copy(got[:], frame[:10])
	if got != magic {
		return "", ErrBadMagic
	}
	cmd := Command(frame[10])
	body := frame[headerLen:]

	switch cmd {
	case CmdStartSession:
		return s.handleStartSession()
	case CmdFileInfo:
		return s.handleFileInfo(body)
	case CmdFileChunk:
		return s.handleFileChunk(body)
	case CmdEndSession:
		return s.handleEndSession(body)
	default:
		return "", errors.Errorf("xfer: unknown command byte 0x%02x", cmd)
	}
}

// handleStartSession resets the Session for a new transfer and replies
// READY (spec §6).
func (s *Session) handleStartSession() (Response, error) {
	if s.file != nil {
		_ = s.file.Close()
	}
	*s = Session{fs: s.fs, state: stateAwaitingFileInfo, debug: s.debug}
	return RespReady, nil
}

// handleFileInfo opens the destination file and records the declared
// size. Layout: name_len u8, name, size u32 (big-endian).
func (s *Session) handleFileInfo(body []byte) (Response, error) {
	if s.state != stateAwaitingFileInfo {
		return "", errors.New("xfer: file-info received outside a started session")
	}
	if len(body) < 1 {
		return "", ErrShortFrame
	}
	nameLen := int(body[0])
	if len(body) < 1+nameLen+4 {
		return "", ErrShortFrame
	}
	name := string(body[1 : 1+nameLen])
	size := beUint32(body[1+nameLen : 1+nameLen+4])

	f, err := s.fs.Open(name, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return "", errors.Wrapf(err, "xfer: open destination %s", name)
	}

	s.path = name
	s.file = f
	s.expectedSize = int64(size)
	s.bytesWritten = 0
	s.state = stateReceivingChunks
	return RespReady, nil
}

// handleFileChunk validates the chunk's own CRC32, writes it at its
// declared offset on success, and NACKs it (without error; the sender is
// expected to retry) on a CRC mismatch. Layout: offset u32, length u32,
// crc32 u32, payload (length bytes), all big-endian.
func (s *Session) handleFileChunk(body []byte) (Response, error) {
	if s.state != stateReceivingChunks {
		return "", errors.New("xfer: file-chunk received before file-info")
	}
	if len(body) < 12 {
		return "", ErrShortFrame
	}
	offset := beUint32(body[0:4])
	length := beUint32(body[4:8])
	wantCRC := beUint32(body[8:12])
	payload := body[12:]
	if uint32(len(payload)) != length {
		return "", ErrShortFrame
	}

	gotCRC := crc32.ChecksumIEEE(payload)
	if gotCRC != wantCRC {
		s.debug.Tracef("xfer: chunk offset=%d len=%d crc mismatch, nacking", offset, length)
		return nackResponse(offset), nil
	}

	if _, err := s.file.Seek(int64(offset), 0); err != nil {
		return "", errors.Wrapf(err, "xfer: seek to chunk offset %d", offset)
	}
	if _, err := s.file.Write(payload); err != nil {
		return "", errors.Wrapf(err, "xfer: write chunk at offset %d", offset)
	}
	if end := int64(offset) + int64(length); end > s.bytesWritten {
		s.bytesWritten = end
	}
	s.debug.Tracef("xfer: chunk offset=%d len=%d written, total=%d", offset, length, s.bytesWritten)
	return ackResponse(offset), nil
}

// handleEndSession verifies the assembled file's CRC32 against the
// sender-declared total, deleting the file on mismatch (spec §6's
// non-recoverable verification failure, scenario S5). Layout: crc32 u32,
// big-endian.
func (s *Session) handleEndSession(body []byte) (Response, error) {
	if s.state != stateReceivingChunks {
		return "", errors.New("xfer: end-session received before file-info")
	}
	if len(body) < 4 {
		return "", ErrShortFrame
	}
	wantCRC := beUint32(body[0:4])

	if err := s.file.Flush(); err != nil {
		return "", errors.Wrap(err, "xfer: flush received file")
	}
	actualCRC, err := fileCRC32(s.file)
	if err != nil {
		return "", errors.Wrap(err, "xfer: checksum received file")
	}
	_ = s.file.Close()
	s.file = nil
	s.state = stateIdle

	if actualCRC != wantCRC {
		s.debug.Tracef("xfer: end-session %s crc mismatch got=%08x want=%08x, deleting", s.path, actualCRC, wantCRC)
		if rerr := s.fs.Remove(s.path); rerr != nil {
			return "", errors.Wrapf(rerr, "xfer: remove corrupt transfer %s after CRC mismatch", s.path)
		}
		return RespError, nil
	}
	s.debug.Tracef("xfer: end-session %s ok, %d bytes", s.path, s.bytesWritten)
	return RespOK, nil
}

func fileCRC32(f storagefs.File) (uint32, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}
	h := crc32.NewIEEE()
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return 0, err
		}
	}
	return h.Sum32(), nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func ackResponse(offset uint32) Response {
	return Response("ACK " + itoa(offset))
}

func nackResponse(offset uint32) Response {
	return Response("NACK " + itoa(offset))
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
