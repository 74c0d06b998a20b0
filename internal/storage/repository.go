package storage

import (
	"context"

	"github.com/casewire/casewire/internal/cdr"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/domain/graph"
)

// Repository groups data access by domain.
type Repository interface {
	Cases() cases.Repository
	Graph() graph.Repository
	CDR() cdr.Repository

	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
}
