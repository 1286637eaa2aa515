package catalog

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/raphaelgruber/movie-recommender/internal/models"
	"github.com/sbinet/npyio/npy"
	"gonum.org/v1/gonum/mat"
)

// ParseNPY decodes a 2-D float32 or float64 .npy array into a dense matrix.
func ParseNPY(data []byte) (*mat.Dense, error) {
	r, err := npy.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: read npy header: %w", models.ErrConfiguration, err)
	}

	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: embedding matrix must be 2-D, got shape %v", models.ErrConfiguration, shape)
	}
	rows, cols := shape[0], shape[1]
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%w: embedding matrix is empty (shape %v)", models.ErrConfiguration, shape)
	}

	var values []float64
	switch r.Header.Descr.Type {
	case "<f8", "f8", "=f8":
		values = make([]float64, rows*cols)
		if err := r.Read(&values); err != nil {
			return nil, fmt.Errorf("%w: read npy data: %w", models.ErrConfiguration, err)
		}
	case "<f4", "f4", "=f4":
		raw := make([]float32, rows*cols)
		if err := r.Read(&raw); err != nil {
			return nil, fmt.Errorf("%w: read npy data: %w", models.ErrConfiguration, err)
		}
		values = make([]float64, len(raw))
		for i, v := range raw {
			values[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported npy dtype %q", models.ErrConfiguration, r.Header.Descr.Type)
	}

	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			row, col := i/cols, i%cols
			if r.Header.Descr.Fortran {
				row, col = i%rows, i/rows
			}
			return nil, fmt.Errorf("%w: embedding matrix has non-finite value %v at row %d, column %d",
				models.ErrConfiguration, v, row, col)
		}
	}

	if r.Header.Descr.Fortran {
		// column-major on disk
		m := mat.NewDense(cols, rows, values)
		return mat.DenseCopyOf(m.T()), nil
	}
	return mat.NewDense(rows, cols, values), nil
}

// NewMatrix converts encoder output into a dense matrix. All rows must have
// the same width.
func NewMatrix(rows [][]float32) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: no embeddings to store", models.ErrInvalidInput)
	}
	cols := len(rows[0])
	values := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d", models.ErrConfiguration, i, len(row), cols)
		}
		for _, v := range row {
			values = append(values, float64(v))
		}
	}
	return mat.NewDense(len(rows), cols, values), nil
}

// WriteNPY encodes m as a float64 .npy array.
func WriteNPY(w io.Writer, m *mat.Dense) error {
	if err := npy.Write(w, m); err != nil {
		return fmt.Errorf("write npy: %w", err)
	}
	return nil
}
