package main

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/viettran-edgeAI/rfcore/internal/platform"
	"github.com/viettran-edgeAI/rfcore/internal/storagefs"
	"github.com/viettran-edgeAI/rfcore/internal/xfer"
)

const xferChunkSize = 256

func newXferCommand() *cobra.Command {
	var srcPath, destDir, destName string
	var corruptChunk int

	cmd := &cobra.Command{
		Use:   "xfer",
		Short: "Send a local file through internal/xfer, for scenario S5-style testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if srcPath == "" {
				return configErr(errors.New("--src is required"))
			}
			if destName == "" {
				destName = srcPath
			}
			return runXfer(cmd.OutOrStdout(), srcPath, destDir, destName, corruptChunk)
		},
	}
	cmd.Flags().StringVar(&srcPath, "src", "", "local file to send")
	cmd.Flags().StringVar(&destDir, "dest_dir", ".", "root directory for the receiving storagefs backend")
	cmd.Flags().StringVar(&destName, "dest_name", "", "destination file name (defaults to --src)")
	cmd.Flags().IntVar(&corruptChunk, "corrupt_chunk", -1, "flip a byte in this chunk index before the first send, to exercise NACK-and-retry")
	return cmd
}

func runXfer(w io.Writer, srcPath, destDir, destName string, corruptChunk int) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return ioErr(errors.Wrap(err, "rfctl: read source file"))
	}

	fs, err := storagefs.New(storagefs.SDNative, destDir)
	if err != nil {
		return ioErr(errors.Wrap(err, "rfctl: open destination filesystem"))
	}

	ctx := platform.NewHostContext(fs, 0, platform.DebugLevel(debugLevel))
	sess := xfer.NewSessionWithDebug(ctx.FS, ctx.Debug)

	resp, err := sess.HandleFrame(frame(xfer.CmdStartSession, nil))
	if err != nil {
		return verificationErr(errors.Wrap(err, "rfctl: start-session"))
	}
	fmt.Fprintf(w, "start-session -> %s\n", resp)

	resp, err = sess.HandleFrame(frame(xfer.CmdFileInfo, fileInfoBody(destName, len(data))))
	if err != nil {
		return verificationErr(errors.Wrap(err, "rfctl: file-info"))
	}
	fmt.Fprintf(w, "file-info -> %s\n", resp)

	for i, off := 0, 0; off < len(data); i, off = i+1, off+xferChunkSize {
		end := off + xferChunkSize
		if end > len(data) {
			end = len(data)
		}
		body := chunkBody(off, data[off:end])
		if i == corruptChunk && end > off {
			// flip a payload byte after the CRC was computed over the
			// original bytes, as a transmission error would.
			body[12] ^= 0xFF
		}

		resp, err = sess.HandleFrame(frame(xfer.CmdFileChunk, body))
		if err != nil {
			return verificationErr(errors.Wrapf(err, "rfctl: chunk %d", i))
		}
		fmt.Fprintf(w, "chunk %d -> %s\n", i, resp)

		if i == corruptChunk {
			// retry with the uncorrupted chunk, as the real sender would
			// after seeing a NACK.
			good := data[off:end]
			resp, err = sess.HandleFrame(frame(xfer.CmdFileChunk, chunkBody(off, good)))
			if err != nil {
				return verificationErr(errors.Wrapf(err, "rfctl: chunk %d retry", i))
			}
			fmt.Fprintf(w, "chunk %d retry -> %s\n", i, resp)
		}
	}

	resp, err = sess.HandleFrame(frame(xfer.CmdEndSession, endSessionBody(data)))
	if err != nil {
		return verificationErr(errors.Wrap(err, "rfctl: end-session"))
	}
	fmt.Fprintf(w, "end-session -> %s\n", resp)
	if resp != xfer.RespOK {
		return verificationErr(errors.Errorf("rfctl: transfer failed verification: %s", resp))
	}
	return nil
}

func frame(cmd xfer.Command, body []byte) []byte {
	f := make([]byte, 0, 11+len(body))
	f = append(f, "ESP32_XFER"...)
	f = append(f, byte(cmd))
	f = append(f, body...)
	return f
}

func fileInfoBody(name string, size int) []byte {
	b := make([]byte, 0, 1+len(name)+4)
	b = append(b, byte(len(name)))
	b = append(b, name...)
	b = append(b, beBytes32(uint32(size))...)
	return b
}

func chunkBody(offset int, payload []byte) []byte {
	b := make([]byte, 0, 12+len(payload))
	b = append(b, beBytes32(uint32(offset))...)
	b = append(b, beBytes32(uint32(len(payload)))...)
	b = append(b, beBytes32(crc32.ChecksumIEEE(payload))...)
	b = append(b, payload...)
	return b
}

func endSessionBody(data []byte) []byte {
	return beBytes32(crc32.ChecksumIEEE(data))
}

func beBytes32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
