package spmat

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

const (
	tripletMagic = "KSCOO1\n"

	// MaxDim bounds the dimensions and vector lengths accepted from disk.
	MaxDim = 1 << 26

	indexChunk       = 1 << 14
	vectorHeaderSize = 40
)

// WriteTriplets encodes A in row/column/value triple form: a magic line, the
// int64 little-endian dimensions and entry count, the row indices, the column
// indices, then the values as a gonum binary vector.
func WriteTriplets(w io.Writer, a *CSR) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(tripletMagic); err != nil {
		return err
	}
	rows, cols, vals := a.Triplets()
	header := []int64{int64(a.Rows), int64(a.Cols), int64(len(vals))}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write triplet header: %w", err)
	}
	for _, idx := range [][]int{rows, cols} {
		buf := make([]int64, len(idx))
		for n, v := range idx {
			buf[n] = int64(v)
		}
		if err := binary.Write(bw, binary.LittleEndian, buf); err != nil {
			return fmt.Errorf("write triplet indices: %w", err)
		}
	}
	if err := writeVector(bw, vals); err != nil {
		return fmt.Errorf("write triplet values: %w", err)
	}
	return bw.Flush()
}

// ReadTriplets decodes a matrix written by WriteTriplets
func ReadTriplets(r io.Reader) (*CSR, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(tripletMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read triplet magic: %w", err)
	}
	if string(magic) != tripletMagic {
		return nil, fmt.Errorf("not a triplet file (magic %q)", magic)
	}
	header := make([]int64, 3)
	if err := binary.Read(br, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("read triplet header: %w", err)
	}
	nr, nc, nnz := header[0], header[1], header[2]
	if nr < 0 || nc < 0 || nnz < 0 || nr > MaxDim || nc > MaxDim {
		return nil, fmt.Errorf("corrupt triplet header %v", header)
	}
	if nnz > nr*nc {
		return nil, fmt.Errorf("corrupt triplet header %v: more entries than cells", header)
	}
	idx := make([][]int64, 2)
	for n := range idx {
		var err error
		if idx[n], err = readIndices(br, int(nnz)); err != nil {
			return nil, fmt.Errorf("read triplet indices: %w", err)
		}
	}
	vals, err := readVector(br, int(nnz))
	if err != nil {
		return nil, fmt.Errorf("read triplet values: %w", err)
	}
	if int64(len(vals)) != nnz {
		return nil, fmt.Errorf("triplet value count %d, header says %d", len(vals), nnz)
	}
	t := NewTriplet(int(nr), int(nc), int(nnz))
	for n := range vals {
		i, j := int(idx[0][n]), int(idx[1][n])
		if i < 0 || i >= int(nr) || j < 0 || j >= int(nc) {
			return nil, fmt.Errorf("triplet entry %d at (%d,%d) outside %dx%d", n, i, j, nr, nc)
		}
		t.Put(i, j, vals[n])
	}
	return t.ToCSR(), nil
}

// writeVector writes v as a gonum binary vector; empty vectors are written as a
// zero-length header.
func writeVector(w io.Writer, v []float64) error {
	var vec mat.VecDense
	if len(v) > 0 {
		vec = *mat.NewVecDense(len(v), v)
	}
	_, err := vec.MarshalBinaryTo(w)
	return err
}

// readIndices reads n int64 values in bounded chunks, so a count that
// outruns the input fails on EOF instead of allocating up front.
func readIndices(r io.Reader, n int) ([]int64, error) {
	out := make([]int64, 0, min(n, indexChunk))
	chunk := make([]int64, min(n, indexChunk))
	for len(out) < n {
		c := chunk[:min(n-len(out), indexChunk)]
		if err := binary.Read(r, binary.LittleEndian, c); err != nil {
			return nil, err
		}
		out = append(out, c...)
	}
	return out, nil
}

// readVector checks the length recorded in the gonum header against max
// before handing the payload to gonum, which allocates the full length first.
func readVector(br *bufio.Reader, limit int) ([]float64, error) {
	head, err := br.Peek(vectorHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("read vector header: %w", err)
	}
	if n := int64(binary.LittleEndian.Uint64(head[8:16])); n < 0 || n > int64(limit) {
		return nil, fmt.Errorf("vector length %d outside [0, %d]", n, limit)
	}
	var vec mat.VecDense
	if _, err := vec.UnmarshalBinaryFrom(br); err != nil {
		if errors.Is(err, mat.ErrZeroLength) {
			return []float64{}, nil
		}
		return nil, err
	}
	return vec.RawVector().Data, nil
}

// WriteVector and ReadVector expose the vector encoding used by the triplet
// format for other binary payloads (checkpoints). ReadVector rejects vectors
// longer than limit.
func WriteVector(w io.Writer, v []float64) error { return writeVector(w, v) }

func ReadVector(br *bufio.Reader, limit int) ([]float64, error) { return readVector(br, limit) }
