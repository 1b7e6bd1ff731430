package xfer

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viettran-edgeAI/rfcore/internal/storagefs"
)

func newFS(t *testing.T) storagefs.FileSystem {
	t.Helper()
	fs, err := storagefs.New(storagefs.SDNative, t.TempDir())
	require.NoError(t, err)
	return fs
}

func startSessionFrame() []byte {
	return append(append([]byte{}, magic[:]...), byte(CmdStartSession))
}

func fileInfoFrame(name string, size uint32) []byte {
	f := append(append([]byte{}, magic[:]...), byte(CmdFileInfo))
	f = append(f, byte(len(name)))
	f = append(f, []byte(name)...)
	f = append(f, be32(size)...)
	return f
}

func chunkFrame(offset uint32, payload []byte, corruptCRC bool) []byte {
	f := append(append([]byte{}, magic[:]...), byte(CmdFileChunk))
	f = append(f, be32(offset)...)
	f = append(f, be32(uint32(len(payload)))...)
	crc := crc32.ChecksumIEEE(payload)
	if corruptCRC {
		crc ^= 0xFF
	}
	f = append(f, be32(crc)...)
	f = append(f, payload...)
	return f
}

func endSessionFrame(crc uint32) []byte {
	f := append(append([]byte{}, magic[:]...), byte(CmdEndSession))
	return append(f, be32(crc)...)
}

func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func TestHappyPathTransferVerifiesAndClosesOK(t *testing.T) {
	fs := newFS(t)
	s := NewSession(fs)

	payload := []byte("hello device")
	resp, err := s.HandleFrame(startSessionFrame())
	require.NoError(t, err)
	assert.Equal(t, RespReady, resp)

	resp, err = s.HandleFrame(fileInfoFrame("model.csv", uint32(len(payload))))
	require.NoError(t, err)
	assert.Equal(t, RespReady, resp)

	resp, err = s.HandleFrame(chunkFrame(0, payload, false))
	require.NoError(t, err)
	assert.Equal(t, Response("ACK 0"), resp)

	totalCRC := crc32.ChecksumIEEE(payload)
	resp, err = s.HandleFrame(endSessionFrame(totalCRC))
	require.NoError(t, err)
	assert.Equal(t, RespOK, resp)

	assert.True(t, fs.Exists("model.csv"))
}

func TestCorruptChunkIsNackedThenRetried(t *testing.T) {
	fs := newFS(t)
	s := NewSession(fs)
	payload := []byte("0123456789ABCDEF")

	_, err := s.HandleFrame(startSessionFrame())
	require.NoError(t, err)
	_, err = s.HandleFrame(fileInfoFrame("payload.bin", uint32(len(payload))))
	require.NoError(t, err)

	resp, err := s.HandleFrame(chunkFrame(0, payload, true))
	require.NoError(t, err)
	assert.Equal(t, Response("NACK 0"), resp, "corrupted chunk must be rejected, not written")

	resp, err = s.HandleFrame(chunkFrame(0, payload, false))
	require.NoError(t, err)
	assert.Equal(t, Response("ACK 0"), resp, "retried chunk with correct CRC must be accepted")

	resp, err = s.HandleFrame(endSessionFrame(crc32.ChecksumIEEE(payload)))
	require.NoError(t, err)
	assert.Equal(t, RespOK, resp)
}

func TestEndSessionCRCMismatchDeletesFile(t *testing.T) {
	fs := newFS(t)
	s := NewSession(fs)
	payload := []byte("this file will be rejected")

	_, err := s.HandleFrame(startSessionFrame())
	require.NoError(t, err)
	_, err = s.HandleFrame(fileInfoFrame("bad.bin", uint32(len(payload))))
	require.NoError(t, err)
	_, err = s.HandleFrame(chunkFrame(0, payload, false))
	require.NoError(t, err)

	resp, err := s.HandleFrame(endSessionFrame(0xDEADBEEF))
	require.NoError(t, err)
	assert.Equal(t, RespError, resp)
	assert.False(t, fs.Exists("bad.bin"), "file with a CRC mismatch must be deleted on end-session")
}

func TestFileChunkBeforeFileInfoErrors(t *testing.T) {
	fs := newFS(t)
	s := NewSession(fs)
	_, err := s.HandleFrame(startSessionFrame())
	require.NoError(t, err)

	_, err = s.HandleFrame(chunkFrame(0, []byte("x"), false))
	assert.Error(t, err)
}

func TestBadMagicErrors(t *testing.T) {
	fs := newFS(t)
	s := NewSession(fs)
	frame := append([]byte("NOT_MAGIC!"), byte(CmdStartSession))
	_, err := s.HandleFrame(frame)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestMultiChunkOutOfOrderReassembles(t *testing.T) {
	fs := newFS(t)
	s := NewSession(fs)
	first := []byte("AAAA")
	second := []byte("BBBB")
	whole := append(append([]byte{}, first...), second...)

	_, err := s.HandleFrame(startSessionFrame())
	require.NoError(t, err)
	_, err = s.HandleFrame(fileInfoFrame("ooo.bin", uint32(len(whole))))
	require.NoError(t, err)

	resp, err := s.HandleFrame(chunkFrame(4, second, false))
	require.NoError(t, err)
	assert.Equal(t, Response("ACK 4"), resp)

	resp, err = s.HandleFrame(chunkFrame(0, first, false))
	require.NoError(t, err)
	assert.Equal(t, Response("ACK 0"), resp)

	resp, err = s.HandleFrame(endSessionFrame(crc32.ChecksumIEEE(whole)))
	require.NoError(t, err)
	assert.Equal(t, RespOK, resp)
}
