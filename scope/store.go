package scope

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Store persists the serialized scope to path as a flat little-endian
// binary file: two uint64 dimensions followed by the row-major float64
// data. There is no schema versioning.
func (s *Scope) Store(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("scope %q: %w", s.name, err)
	}
	defer file.Close()

	data := s.Serialize()
	rows, cols := data.Dims()
	w := bufio.NewWriter(file)
	if err := binary.Write(w, binary.LittleEndian, uint64(rows)); err != nil {
		return fmt.Errorf("scope %q: %w", s.name, err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(cols)); err != nil {
		return fmt.Errorf("scope %q: %w", s.name, err)
	}
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if err := binary.Write(w, binary.LittleEndian, data.At(row, col)); err != nil {
				return fmt.Errorf("scope %q: %w", s.name, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("scope %q: %w", s.name, err)
	}
	return file.Close()
}

// Load reads a file written by Store.
func Load(path string, cfg Config) (*Scope, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scope: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var rows, cols uint64
	if err := binary.Read(r, binary.LittleEndian, &rows); err != nil {
		return nil, fmt.Errorf("scope: reading %s: %w", path, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &cols); err != nil {
		return nil, fmt.Errorf("scope: reading %s: %w", path, err)
	}
	if rows < 2 || cols < 1 {
		return nil, fmt.Errorf("scope: %s holds a %dx%d matrix, want a time line plus signals", path, rows, cols)
	}

	timeLine := make([]float64, cols)
	if err := binary.Read(r, binary.LittleEndian, timeLine); err != nil {
		return nil, fmt.Errorf("scope: reading %s: %w", path, err)
	}
	signals := make([]float64, (rows-1)*cols)
	if err := binary.Read(r, binary.LittleEndian, signals); err != nil {
		return nil, fmt.Errorf("scope: reading %s: %w", path, err)
	}
	return FromSignals(timeLine, mat.NewDense(int(rows-1), int(cols), signals), cfg)
}
