package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/aula/internal/domain"
)

// CatalogWriter stores catalog records during an import
type CatalogWriter interface {
	SaveProgram(ctx context.Context, p *domain.Program) error
	SavePhase(ctx context.Context, p *domain.Phase) error
	SaveUnit(ctx context.Context, u *domain.Unit) error
	SaveTemplate(ctx context.Context, t *domain.ExerciseTemplate) error
	SaveInstance(ctx context.Context, inst *domain.ExerciseInstance) error
	GetInstance(ctx context.Context, id domain.RecordID) (*domain.ExerciseInstance, error)
}

// catalogFile is the YAML layout of an importable catalog
type catalogFile struct {
	Templates []templateEntry `yaml:"templates"`
	Programs  []programEntry  `yaml:"programs"`
}

type templateEntry struct {
	ID             string      `yaml:"id"`
	Name           string      `yaml:"name"`
	Kind           string      `yaml:"kind"`
	PromptTemplate string      `yaml:"prompt_template"`
	Shadow         shadowEntry `yaml:"shadow"`
}

type shadowEntry struct {
	Criteria         bool `yaml:"criteria"`
	Quality          bool `yaml:"quality"`
	Insights         bool `yaml:"insights"`
	CriteriaEvery    int  `yaml:"criteria_every"`
	QualityThreshold int  `yaml:"quality_threshold"`
}

type programEntry struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Phases      []phaseEntry `yaml:"phases"`
}

type phaseEntry struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Units       []unitEntry `yaml:"units"`
}

type unitEntry struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Objectives  []string        `yaml:"objectives"`
	Instances   []instanceEntry `yaml:"instances"`
}

type instanceEntry struct {
	ID        string `yaml:"id"`
	Template  string `yaml:"template"`
	Order     int    `yaml:"order"`
	Mandatory bool   `yaml:"mandatory"`
}

// ImportStats counts the records written by an import
type ImportStats struct {
	Templates int
	Programs  int
	Phases    int
	Units     int
	Instances int
}

// ImportCatalogFile imports the catalog at path
func ImportCatalogFile(ctx context.Context, path string, w CatalogWriter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	stats, err := ImportCatalog(ctx, f, w)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	slog.Info("catalog imported",
		"path", path,
		"templates", stats.Templates,
		"units", stats.Units,
		"instances", stats.Instances,
	)
	return nil
}

// ImportCatalog upserts every record in the YAML catalog read from r.
// Existing instances keep their content status and current content.
func ImportCatalog(ctx context.Context, r io.Reader, w CatalogWriter) (ImportStats, error) {
	var stats ImportStats
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return stats, fmt.Errorf("%w: parse catalog: %v", domain.ErrInvalidInput, err)
	}

	for _, t := range file.Templates {
		id, err := recordID(t.ID, domain.TableTemplate)
		if err != nil {
			return stats, err
		}
		err = w.SaveTemplate(ctx, &domain.ExerciseTemplate{
			ID:             id,
			Name:           t.Name,
			Kind:           t.Kind,
			PromptTemplate: t.PromptTemplate,
			Shadow: domain.ShadowConfig{
				CriteriaEnabled:  t.Shadow.Criteria,
				QualityEnabled:   t.Shadow.Quality,
				InsightsEnabled:  t.Shadow.Insights,
				CriteriaEvery:    t.Shadow.CriteriaEvery,
				QualityThreshold: t.Shadow.QualityThreshold,
			},
		})
		if err != nil {
			return stats, err
		}
		stats.Templates++
	}

	for _, p := range file.Programs {
		programID, err := recordID(p.ID, domain.TableProgram)
		if err != nil {
			return stats, err
		}
		if err := w.SaveProgram(ctx, &domain.Program{ID: programID, Name: p.Name, Description: p.Description}); err != nil {
			return stats, err
		}
		stats.Programs++

		for _, ph := range p.Phases {
			phaseID, err := recordID(ph.ID, domain.TablePhase)
			if err != nil {
				return stats, err
			}
			if err := w.SavePhase(ctx, &domain.Phase{ID: phaseID, ProgramID: programID, Name: ph.Name, Description: ph.Description}); err != nil {
				return stats, err
			}
			stats.Phases++

			for _, u := range ph.Units {
				n, err := importUnit(ctx, w, phaseID, u)
				if err != nil {
					return stats, err
				}
				stats.Units++
				stats.Instances += n
			}
		}
	}
	return stats, nil
}

func importUnit(ctx context.Context, w CatalogWriter, phaseID domain.RecordID, u unitEntry) (int, error) {
	unitID, err := recordID(u.ID, domain.TableUnit)
	if err != nil {
		return 0, err
	}
	unit := &domain.Unit{ID: unitID, PhaseID: phaseID, Name: u.Name, Description: u.Description, Objectives: u.Objectives}
	if err := w.SaveUnit(ctx, unit); err != nil {
		return 0, err
	}

	for _, e := range u.Instances {
		id, err := recordID(e.ID, domain.TableInstance)
		if err != nil {
			return 0, err
		}
		templateID, err := recordID(e.Template, domain.TableTemplate)
		if err != nil {
			return 0, err
		}

		inst, err := w.GetInstance(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			inst = &domain.ExerciseInstance{ID: id, ContentStatus: domain.ContentUnset}
		case err != nil:
			return 0, err
		}
		inst.TemplateID = templateID
		inst.UnitID = unitID
		inst.Order = e.Order
		inst.Mandatory = e.Mandatory
		if err := w.SaveInstance(ctx, inst); err != nil {
			return 0, err
		}
	}
	return len(u.Instances), nil
}

// recordID parses s and checks it belongs to table
func recordID(s, table string) (domain.RecordID, error) {
	id, err := domain.ParseRecordID(s)
	if err != nil {
		return "", err
	}
	if id.Table() != table {
		return "", fmt.Errorf("%w: %s is not a %s id", domain.ErrInvalidInput, id, table)
	}
	return id, nil
}
