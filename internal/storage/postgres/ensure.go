package postgres

import (
	"github.com/felixgeelhaar/aula/internal/content"
	"github.com/felixgeelhaar/aula/internal/progress"
)

// Ensure PostgreSQL stores implement the storage interfaces.
var (
	_ content.Store    = (*CatalogStore)(nil)
	_ progress.Catalog = (*CatalogStore)(nil)
	_ progress.Store   = (*ProgressStore)(nil)
)
