// Package matx collects small dense-matrix helpers shared by the toolkit.
package matx

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Ones returns a (m by n) matrix filled with ones.
func Ones(m, n int) *mat.Dense {
	return Full(m, n, 1.)
}

// Full returns a (m by n) matrix filled with value.
func Full(m, n int, value float64) *mat.Dense {
	data := make([]float64, m*n)
	for index := range data {
		data[index] = value
	}
	return mat.NewDense(m, n, data)
}

// Eye returns the n by n identity matrix.
func Eye(n int) *mat.Dense {
	res := mat.NewDense(n, n, nil)
	for index := 0; index < n; index++ {
		res.Set(index, index, 1)
	}
	return res
}

// Scaled returns value times the n by n identity matrix.
func Scaled(n int, value float64) *mat.Dense {
	res := mat.NewDense(n, n, nil)
	for index := 0; index < n; index++ {
		res.Set(index, index, value)
	}
	return res
}

// HasNaN reports whether any entry of matrix is NaN. A NaN-marked output
// vector is the missing-measurement marker in the estimator recursions.
func HasNaN(matrix mat.Matrix) bool {
	m, n := matrix.Dims()
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			if math.IsNaN(matrix.At(row, col)) {
				return true
			}
		}
	}
	return false
}

// HasNaNOrInf reports whether any entry of matrix is NaN or infinite.
func HasNaNOrInf(matrix mat.Matrix) bool {
	m, n := matrix.Dims()
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			v := matrix.At(row, col)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

// SymFrom copies a square matrix into a SymDense, averaging the off-diagonal
// pairs. Covariance updates keep their operands symmetric in exact
// arithmetic; this removes the floating-point skew before a factorization.
func SymFrom(matrix mat.Matrix) *mat.SymDense {
	n, _ := matrix.Dims()
	res := mat.NewSymDense(n, nil)
	for row := 0; row < n; row++ {
		for col := row; col < n; col++ {
			res.SetSym(row, col, 0.5*(matrix.At(row, col)+matrix.At(col, row)))
		}
	}
	return res
}
