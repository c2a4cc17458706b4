package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"bitfeed/internal/bitset"
)

// wordBits is the packed word size used for Keyframe payloads. 64-bit
// words match Go's native integer size and encoding/binary's LE
// helpers, per spec §6 ("implementation-defined word size").
const wordBits = 64

var encodeBufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Encode serializes f using the canonical wire format from spec §6:
// a 32-bit LE variant tag, then version (u64 LE), timestamp (u64 LE),
// then the variant's payload.
func Encode(w io.Writer, f Frame) error {
	buf := encodeBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer encodeBufPool.Put(buf)

	var tag [4]byte
	binary.LittleEndian.PutUint32(tag[:], uint32(f.Kind))
	buf.Write(tag[:])

	writeU64(buf, f.Version)
	writeU64(buf, f.Timestamp)

	switch f.Kind {
	case KindKeyframe:
		words := packWords(f.Bits)
		writeU64(buf, uint64(len(words)))
		for _, word := range words {
			writeU64(buf, word)
		}
	case KindDeltaframe:
		writeU64(buf, uint64(len(f.Changes)))
		for _, c := range f.Changes {
			writeU64(buf, uint64(c.Index))
			if c.Value {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	default:
		return fmt.Errorf("frame: unknown kind %d", f.Kind)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Decode reads one Frame encoded by Encode. bitLen must equal the
// Keyframe's intended bit length; it is only used to size the decoded
// Bits slice correctly for a trailing partial word.
func Decode(r io.Reader, bitLen int) (Frame, error) {
	var hdr [20]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	kind := Kind(binary.LittleEndian.Uint32(hdr[0:4]))
	version := binary.LittleEndian.Uint64(hdr[4:12])
	timestamp := binary.LittleEndian.Uint64(hdr[12:20])

	var countBuf [8]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return Frame{}, err
	}
	count := binary.LittleEndian.Uint64(countBuf[:])

	f := Frame{Version: version, Timestamp: timestamp, Kind: kind}

	switch kind {
	case KindKeyframe:
		words := make([]uint64, count)
		var wb [8]byte
		for i := range words {
			if _, err := io.ReadFull(r, wb[:]); err != nil {
				return Frame{}, err
			}
			words[i] = binary.LittleEndian.Uint64(wb[:])
		}
		n := bitLen
		if n == 0 {
			n = int(count) * wordBits
		}
		f.Bits = unpackWords(words, n)
	case KindDeltaframe:
		changes := make([]bitset.Change, count)
		var ib [8]byte
		var vb [1]byte
		for i := range changes {
			if _, err := io.ReadFull(r, ib[:]); err != nil {
				return Frame{}, err
			}
			if _, err := io.ReadFull(r, vb[:]); err != nil {
				return Frame{}, err
			}
			changes[i] = bitset.Change{
				Index: int(binary.LittleEndian.Uint64(ib[:])),
				Value: vb[0] != 0,
			}
		}
		f.Changes = changes
	default:
		return Frame{}, fmt.Errorf("frame: unknown kind %d", kind)
	}

	return f, nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func packWords(bits []bool) []uint64 {
	n := (len(bits) + wordBits - 1) / wordBits
	words := make([]uint64, n)
	for i, v := range bits {
		if v {
			words[i/wordBits] |= 1 << uint(i%wordBits)
		}
	}
	return words
}

func unpackWords(words []uint64, n int) []bool {
	bits := make([]bool, n)
	for i := range bits {
		word := words[i/wordBits]
		bits[i] = word&(1<<uint(i%wordBits)) != 0
	}
	return bits
}
