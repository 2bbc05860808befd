package content

import (
	"context"
	"encoding/json"

	"github.com/felixgeelhaar/aula/internal/domain"
)

// CatalogReader loads the exercise catalog: instances, templates and the
// unit > phase > program ancestor chain. Missing records return the
// matching domain lookup error.
type CatalogReader interface {
	GetInstance(ctx context.Context, id domain.RecordID) (*domain.ExerciseInstance, error)
	GetTemplate(ctx context.Context, id domain.RecordID) (*domain.ExerciseTemplate, error)
	GetUnit(ctx context.Context, id domain.RecordID) (*domain.Unit, error)
	GetPhase(ctx context.Context, id domain.RecordID) (*domain.Phase, error)
	GetProgram(ctx context.Context, id domain.RecordID) (*domain.Program, error)
}

// Store persists instances and their content versions.
type Store interface {
	CatalogReader

	// SaveInstance upserts the whole instance record. A status value the
	// schema does not accept returns domain.ErrStatusRejected.
	SaveInstance(ctx context.Context, inst *domain.ExerciseInstance) error

	SaveContent(ctx context.Context, c *domain.ExerciseContent) error
	GetContent(ctx context.Context, id domain.RecordID) (*domain.ExerciseContent, error)

	// LatestContentVersion returns the highest version stored for an
	// instance, or 0 when none exists.
	LatestContentVersion(ctx context.Context, instanceID domain.RecordID) (int, error)
}

// ContentService is the generation workflow used by the daemon and MCP tools.
type ContentService interface {
	Generate(ctx context.Context, instanceID domain.RecordID, force bool) (*Result, error)
	Publish(ctx context.Context, instanceID domain.RecordID) (*Result, error)
	Unpublish(ctx context.Context, instanceID domain.RecordID) (*Result, error)
	EditDraft(ctx context.Context, instanceID domain.RecordID, payload json.RawMessage) (*Result, error)
	Get(ctx context.Context, instanceID domain.RecordID) (*Result, error)
}

// Ensure Service implements ContentService
var _ ContentService = (*Service)(nil)
