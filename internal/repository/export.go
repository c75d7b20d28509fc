package repository

import (
	"context"

	"personnelexport/internal/model"
)

// ExportRepository defines data access for export records using SQL queries only.
type ExportRepository interface {
	// Create inserts a new export record and returns the stored row.
	Create(ctx context.Context, exp *model.Export) (*model.Export, error)

	// FindByID returns an export by its ID.
	FindByID(ctx context.Context, id string) (*model.Export, error)

	// List returns a page of exports, newest first, and the total row count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Export], error)

	// Delete removes an export by ID. It returns nil if the row did not exist.
	Delete(ctx context.Context, id string) error
}
