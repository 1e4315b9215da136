package usecase

import (
	"context"
	"math"
	"time"

	"go.ngs.io/amm-index/internal/domain"
)

// RunStore is the read side of the index result store.
type RunStore interface {
	ListRuns(ctx context.Context) ([]domain.RunInfo, error)
	GetRun(ctx context.Context, id int64) (domain.RunInfo, error)
	QueryRows(ctx context.Context, id int64, f domain.RowFilter) ([]domain.IndexRow, error)
}

// IndexPoint is one row of a run in API form. AMM is null where the index
// is undefined.
type IndexPoint struct {
	Time   string   `json:"time"`
	Member *int     `json:"ens,omitempty"`
	AMM    *float64 `json:"amm"`
}

// RunResponse is a stored run with its (filtered) rows.
type RunResponse struct {
	Run    domain.RunInfo `json:"run"`
	Count  int            `json:"count"`
	Points []IndexPoint   `json:"points"`
}

// QueryUseCase serves stored index runs.
type QueryUseCase struct {
	store RunStore
}

// NewQueryUseCase creates a new query use case.
func NewQueryUseCase(store RunStore) *QueryUseCase {
	return &QueryUseCase{store: store}
}

// ListRuns returns all stored runs, newest first.
func (uc *QueryUseCase) ListRuns(ctx context.Context) ([]domain.RunInfo, error) {
	runs, err := uc.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []domain.RunInfo{}
	}
	return runs, nil
}

// GetRun returns run id with the rows that pass f.
func (uc *QueryUseCase) GetRun(ctx context.Context, id int64, f domain.RowFilter) (*RunResponse, error) {
	run, err := uc.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := uc.store.QueryRows(ctx, id, f)
	if err != nil {
		return nil, err
	}
	points := make([]IndexPoint, len(rows))
	for i, r := range rows {
		points[i] = toPoint(r)
	}
	return &RunResponse{Run: run, Count: len(points), Points: points}, nil
}

func toPoint(r domain.IndexRow) IndexPoint {
	p := IndexPoint{Time: r.Time.UTC().Format(time.RFC3339)}
	if r.Member >= 0 {
		m := r.Member
		p.Member = &m
	}
	if !math.IsNaN(r.AMM) {
		v := r.AMM
		p.AMM = &v
	}
	return p
}
