// Package mca provides a maximum covariance analysis solver backed by gonum.
package mca

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"go.ngs.io/amm-index/internal/domain"
)

// ErrComplexUnsupported is returned when a complexified (Hilbert) solve is requested.
var ErrComplexUnsupported = errors.New("complexified MCA is not supported")

var _ domain.Decomposer = (*Solver)(nil)

// Solver computes the MCA of two fields as the SVD of their cross-covariance.
type Solver struct {
	// Modes caps the number of modes kept. Zero keeps all.
	Modes int
}

// NewSolver creates a solver that keeps at most modes modes (0 = all).
func NewSolver(modes int) *Solver {
	return &Solver{Modes: modes}
}

// Solve implements domain.Decomposer.
//
// Cells holding a NaN at any step are dropped before the analysis and come
// back as NaN in the EOFs. Columns are centered in time; the cross-covariance
// C = XᵀY/(nt-1) is factorized as U·S·Vᵀ, EOFs are the columns of U and V and
// PCs are X·U and Y·V.
func (s *Solver) Solve(left, right *domain.Field, complexify bool) (*domain.Decomposition, error) {
	if complexify {
		return nil, ErrComplexUnsupported
	}
	nt := left.NT()
	if right.NT() != nt {
		return nil, fmt.Errorf("%w: left has %d steps, right has %d", domain.ErrInputShape, nt, right.NT())
	}
	if nt < 2 {
		return nil, fmt.Errorf("%w: need at least 2 time steps, got %d", domain.ErrInputShape, nt)
	}

	x, leftCells, err := centeredMatrix(left)
	if err != nil {
		return nil, fmt.Errorf("left field: %w", err)
	}
	y, rightCells, err := centeredMatrix(right)
	if err != nil {
		return nil, fmt.Errorf("right field: %w", err)
	}

	var cov mat.Dense
	cov.Mul(x.T(), y)
	cov.Scale(1/float64(nt-1), &cov)

	var svd mat.SVD
	if ok := svd.Factorize(&cov, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: SVD of cross-covariance did not converge", domain.ErrNumericDegeneracy)
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	modes := len(values)
	if s.Modes > 0 && s.Modes < modes {
		modes = s.Modes
	}

	var leftPCs, rightPCs mat.Dense
	leftPCs.Mul(x, u.Slice(0, len(leftCells), 0, modes))
	rightPCs.Mul(y, v.Slice(0, len(rightCells), 0, modes))

	d := &domain.Decomposition{
		Times:          append([]time.Time(nil), left.Time...),
		SingularValues: append([]float64(nil), values[:modes]...),
		LeftPCs:        make([][]float64, modes),
		RightPCs:       make([][]float64, modes),
		LeftEOFs:       make([]*domain.Pattern, modes),
		RightEOFs:      make([]*domain.Pattern, modes),
	}
	for k := 0; k < modes; k++ {
		d.LeftPCs[k] = mat.Col(nil, k, &leftPCs)
		d.RightPCs[k] = mat.Col(nil, k, &rightPCs)
		d.LeftEOFs[k] = expand(left, leftCells, mat.Col(nil, k, &u))
		d.RightEOFs[k] = expand(right, rightCells, mat.Col(nil, k, &v))
	}
	return d, nil
}

// centeredMatrix flattens f to (nt, cells) keeping only cells without NaN,
// with each column's time mean removed.
func centeredMatrix(f *domain.Field) (*mat.Dense, []int, error) {
	nt := f.NT()
	var cells []int
	for c := 0; c < f.Cells(); c++ {
		valid := true
		for t := 0; t < nt; t++ {
			if math.IsNaN(f.Slab(t)[c]) {
				valid = false
				break
			}
		}
		if valid {
			cells = append(cells, c)
		}
	}
	if len(cells) == 0 {
		return nil, nil, fmt.Errorf("%w: every cell is masked", domain.ErrMissingData)
	}

	m := mat.NewDense(nt, len(cells), nil)
	for j, c := range cells {
		var mean float64
		for t := 0; t < nt; t++ {
			mean += f.Slab(t)[c]
		}
		mean /= float64(nt)
		for t := 0; t < nt; t++ {
			m.Set(t, j, f.Slab(t)[c]-mean)
		}
	}
	return m, cells, nil
}

// expand scatters a singular vector back onto f's grid, NaN elsewhere.
func expand(f *domain.Field, cells []int, vec []float64) *domain.Pattern {
	values := make([]float64, f.Cells())
	for i := range values {
		values[i] = math.NaN()
	}
	for j, c := range cells {
		values[c] = vec[j]
	}
	return &domain.Pattern{
		Lat:    append([]float64(nil), f.Lat...),
		Lon:    append([]float64(nil), f.Lon...),
		Values: values,
	}
}
