// Package hexdump writes raw packets as 32-bit hex words, one block per packet.
package hexdump

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/natefinch/lumberjack.v2"
)

// MarkerOffset is where the separator value following each dump is read.
const MarkerOffset = 42

// Writer renders packets in native-endian 32-bit words.
type Writer struct {
	out io.Writer
	buf []byte
}

// New returns a Writer on out.
func New(out io.Writer) *Writer {
	return &Writer{out: out, buf: make([]byte, 0, 4096)}
}

// NewFile returns a Writer on a size-rotated file and the closer for that
// file. A file left by an earlier run is replaced; its rotated backups are kept.
func NewFile(filename string, maxSizeMB int) (*Writer, io.Closer, error) {
	if err := os.Remove(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to replace hexdump file: %w", err)
	}
	f := &lumberjack.Logger{
		Filename: filename,
		MaxSize:  maxSizeMB,
	}
	return New(f), f, nil
}

func (w *Writer) Name() string {
	return "hexdump"
}

// Consume writes pkt followed by its separator line.
func (w *Writer) Consume(pkt []byte, length int) {
	w.buf = Append(w.buf[:0], pkt)
	_, _ = w.out.Write(w.buf)
}

// Append renders pkt into dst. Words are printed "%x " with a newline after
// word 0 and every 16th word after it; a trailing partial word is zero-padded.
// The separator carries the signed 32-bit value at MarkerOffset, or 0 when the
// packet is too short to hold it.
func Append(dst, pkt []byte) []byte {
	var word [4]byte
	for i := 0; i*4 < len(pkt); i++ {
		var v uint32
		if rest := pkt[i*4:]; len(rest) >= 4 {
			v = binary.NativeEndian.Uint32(rest)
		} else {
			word = [4]byte{}
			copy(word[:], rest)
			v = binary.NativeEndian.Uint32(word[:])
		}
		dst = strconv.AppendUint(dst, uint64(v), 16)
		dst = append(dst, ' ')
		if i%16 == 0 {
			dst = append(dst, '\n')
		}
	}

	var marker int32
	if len(pkt) >= MarkerOffset+4 {
		marker = int32(binary.NativeEndian.Uint32(pkt[MarkerOffset:]))
	}
	return fmt.Appendf(dst, "\n----------------%d\n\n", marker)
}
