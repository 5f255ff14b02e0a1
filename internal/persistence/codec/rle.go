// Package codec is the binary run-length chunk record format.
//
// Record layout, little-endian:
//
//	x:i32 y:i32 z:i32 extraCount:i32
//	block array, then extraCount extra arrays, each as
//	runCount:i32 runCount*(length:i32) valueCount:i32 valueCount*(value)
//
// Values are u16 for the block array and u32 for extra arrays. Arrays are
// scanned y outer, z middle, x inner. A trailing run of zeros is omitted.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"voxelstream.ai/internal/chunks"
)

var (
	ErrRunValueMismatch = errors.New("codec: run count and value count differ")
	ErrCorrupt          = errors.New("codec: corrupt record")
)

// Runs16 run-length encodes a, omitting a trailing zero run.
func Runs16(a []uint16) (lengths []int32, values []uint16) {
	for i := 0; i < len(a); {
		j := i + 1
		for j < len(a) && a[j] == a[i] {
			j++
		}
		lengths = append(lengths, int32(j-i))
		values = append(values, a[i])
		i = j
	}
	if n := len(values); n > 0 && values[n-1] == 0 {
		lengths, values = lengths[:n-1], values[:n-1]
	}
	return lengths, values
}

// Runs32 is Runs16 for u32 arrays. A nil array encodes as no runs.
func Runs32(a []uint32) (lengths []int32, values []uint32) {
	for i := 0; i < len(a); {
		j := i + 1
		for j < len(a) && a[j] == a[i] {
			j++
		}
		lengths = append(lengths, int32(j-i))
		values = append(values, a[i])
		i = j
	}
	if n := len(values); n > 0 && values[n-1] == 0 {
		lengths, values = lengths[:n-1], values[:n-1]
	}
	return lengths, values
}

// Expand16 fills an array of size n from runs. Cells past the last run stay zero.
func Expand16(lengths []int32, values []uint16, n int) ([]uint16, error) {
	if len(lengths) != len(values) {
		return nil, ErrRunValueMismatch
	}
	out := make([]uint16, n)
	at := 0
	for i, l := range lengths {
		if l <= 0 || at+int(l) > n {
			return nil, fmt.Errorf("%w: run %d length %d at %d", ErrCorrupt, i, l, at)
		}
		if v := values[i]; v != 0 {
			for k := at; k < at+int(l); k++ {
				out[k] = v
			}
		}
		at += int(l)
	}
	return out, nil
}

// Expand32 is Expand16 for u32 arrays. It returns nil when every cell is zero.
func Expand32(lengths []int32, values []uint32, n int) ([]uint32, error) {
	if len(lengths) != len(values) {
		return nil, ErrRunValueMismatch
	}
	if len(lengths) == 0 {
		return nil, nil
	}
	out := make([]uint32, n)
	at := 0
	for i, l := range lengths {
		if l <= 0 || at+int(l) > n {
			return nil, fmt.Errorf("%w: run %d length %d at %d", ErrCorrupt, i, l, at)
		}
		if v := values[i]; v != 0 {
			for k := at; k < at+int(l); k++ {
				out[k] = v
			}
		}
		at += int(l)
	}
	return out, nil
}

// Record is a decoded chunk record.
type Record struct {
	Pos    chunks.Pos
	Blocks []uint16
	Extra  [][]uint32 // nil entry means all zero
}

// RecordOf captures a snapshot's arrays without copying them.
func RecordOf(s *chunks.Snapshot) Record {
	r := Record{Pos: s.Pos(), Blocks: s.Blocks(), Extra: make([][]uint32, s.ExtraChannels())}
	for i := range r.Extra {
		r.Extra[i] = s.Extra(i)
	}
	return r
}

// Chunk builds a Generating chunk from the record. The arrays are adopted.
func (r Record) Chunk() *chunks.Chunk {
	return chunks.FromArrays(r.Pos, r.Blocks, r.Extra)
}

func Encode(r Record) []byte {
	buf := make([]byte, 0, 256)
	buf = appendI32(buf, r.Pos.X)
	buf = appendI32(buf, r.Pos.Y)
	buf = appendI32(buf, r.Pos.Z)
	buf = appendI32(buf, len(r.Extra))

	lengths, values := Runs16(r.Blocks)
	buf = appendLengths(buf, lengths)
	buf = appendI32(buf, len(values))
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint16(buf, v)
	}
	for _, e := range r.Extra {
		lengths, values := Runs32(e)
		buf = appendLengths(buf, lengths)
		buf = appendI32(buf, len(values))
		for _, v := range values {
			buf = binary.LittleEndian.AppendUint32(buf, v)
		}
	}
	return buf
}

func Decode(data []byte) (Record, error) {
	rd := reader{b: data}
	var r Record
	r.Pos.X = rd.i32()
	r.Pos.Y = rd.i32()
	r.Pos.Z = rd.i32()
	extra := rd.i32()
	if rd.err != nil {
		return Record{}, rd.err
	}
	if extra < 0 || extra > 64 {
		return Record{}, fmt.Errorf("%w: extra channel count %d", ErrCorrupt, extra)
	}

	lengths := rd.lengths()
	nv := rd.count()
	if rd.err != nil {
		return Record{}, rd.err
	}
	if nv != len(lengths) {
		return Record{}, fmt.Errorf("%w: block array has %d runs, %d values", ErrRunValueMismatch, len(lengths), nv)
	}
	values := make([]uint16, nv)
	for i := range values {
		values[i] = rd.u16()
	}
	if rd.err != nil {
		return Record{}, rd.err
	}
	blocks, err := Expand16(lengths, values, chunks.Volume)
	if err != nil {
		return Record{}, err
	}
	r.Blocks = blocks

	r.Extra = make([][]uint32, extra)
	for ch := range r.Extra {
		lengths := rd.lengths()
		nv := rd.count()
		if rd.err != nil {
			return Record{}, rd.err
		}
		if nv != len(lengths) {
			return Record{}, fmt.Errorf("%w: extra array %d has %d runs, %d values", ErrRunValueMismatch, ch, len(lengths), nv)
		}
		values := make([]uint32, nv)
		for i := range values {
			values[i] = rd.u32()
		}
		if rd.err != nil {
			return Record{}, rd.err
		}
		e, err := Expand32(lengths, values, chunks.Volume)
		if err != nil {
			return Record{}, err
		}
		r.Extra[ch] = e
	}
	if len(rd.b) != rd.off {
		return Record{}, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(rd.b)-rd.off)
	}
	return r, nil
}

func appendI32(buf []byte, v int) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(int32(v)))
}

func appendLengths(buf []byte, lengths []int32) []byte {
	buf = appendI32(buf, len(lengths))
	for _, l := range lengths {
		buf = appendI32(buf, int(l))
	}
	return buf
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.b) {
		r.err = fmt.Errorf("%w: truncated at byte %d", ErrCorrupt, r.off)
		return false
	}
	return true
}

func (r *reader) i32() int {
	if !r.need(4) {
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(r.b[r.off:]))
	r.off += 4
	return int(v)
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

// count reads a non-negative element count no larger than one chunk volume.
func (r *reader) count() int {
	n := r.i32()
	if r.err == nil && (n < 0 || n > chunks.Volume) {
		r.err = fmt.Errorf("%w: count %d out of range", ErrCorrupt, n)
	}
	return n
}

func (r *reader) lengths() []int32 {
	n := r.count()
	if r.err != nil || !r.need(4*n) {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(r.i32())
	}
	return out
}
