// Package lineage maintains the provenance graph: extraction events, the
// models derived from them, and the dashboards consuming those models.
package lineage

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/store"
)

// ErrNoIssues rejects a flag request carrying no non-blank issue text.
var ErrNoIssues = eris.New("lineage: flag requires at least one non-empty issue")

// Service wraps the store's lineage operations with input validation and
// content hashing. All graph writes are idempotent; replays are safe.
type Service struct {
	store store.Store
}

// NewService creates a lineage service over the given store.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// ExtractionInput describes one extraction event. Content is hashed here;
// callers never compute hashes themselves.
type ExtractionInput struct {
	SourceURI         string
	Content           string
	AgentID           string
	InitialConfidence float64
	// FinalConfidence defaults to InitialConfidence when zero.
	FinalConfidence float64
}

// RecordExtraction records an extraction event, deduplicating on the
// content hash: resubmitting identical content returns the existing row.
func (s *Service) RecordExtraction(ctx context.Context, in ExtractionInput) (*model.Extraction, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, eris.New("lineage: extraction content is empty")
	}
	if in.InitialConfidence < 0 || in.InitialConfidence > 1 {
		return nil, eris.Errorf("lineage: initial confidence %.2f outside [0, 1]", in.InitialConfidence)
	}
	final := in.FinalConfidence
	if final == 0 {
		final = in.InitialConfidence
	}
	if final < 0 || final > 1 {
		return nil, eris.Errorf("lineage: final confidence %.2f outside [0, 1]", final)
	}

	ext, deduped, err := s.store.RecordExtraction(ctx, model.Extraction{
		SourceURI:         in.SourceURI,
		ContentHash:       model.HashContent(in.Content),
		AgentID:           in.AgentID,
		InitialConfidence: in.InitialConfidence,
		FinalConfidence:   final,
	})
	if err != nil {
		return nil, err
	}
	if deduped {
		zap.L().Info("lineage: extraction already recorded",
			zap.String("extraction_id", ext.ID),
			zap.String("source_uri", ext.SourceURI),
		)
	}
	return ext, nil
}

// LinkModel appends a model to the extraction's derived set. Calling it
// again with the same pair is a no-op.
func (s *Service) LinkModel(ctx context.Context, extractionID, modelID string) error {
	if extractionID == "" || modelID == "" {
		return eris.New("lineage: link requires both extraction and model ids")
	}
	return s.store.LinkModel(ctx, extractionID, modelID)
}

// LinkDashboard appends a downstream consumer to a model. Every extraction
// feeding the model picks up the dashboard through the model join, so one
// call fans out to all of them.
func (s *Service) LinkDashboard(ctx context.Context, modelID, dashboardID string) error {
	if modelID == "" || dashboardID == "" {
		return eris.New("lineage: link requires both model and dashboard ids")
	}
	return s.store.LinkDashboard(ctx, modelID, dashboardID)
}

// FindBySource returns the extractions recorded for a content hash.
func (s *Service) FindBySource(ctx context.Context, contentHash string) ([]model.Extraction, error) {
	if contentHash == "" {
		return nil, eris.New("lineage: content hash is empty")
	}
	return s.store.ExtractionsByHash(ctx, contentHash)
}

// Lineage returns one extraction together with both of its used-in sets.
func (s *Service) Lineage(ctx context.Context, extractionID string) (*model.ExtractionLineage, error) {
	return s.store.ExtractionLineage(ctx, extractionID)
}

// ImpactAnalysis walks from a source document hash to every model and
// dashboard reachable through the link sets. An unlinked hash yields an
// empty set, not an error.
func (s *Service) ImpactAnalysis(ctx context.Context, contentHash string) ([]model.ImpactRow, error) {
	if contentHash == "" {
		return nil, eris.New("lineage: content hash is empty")
	}
	return s.store.ImpactAnalysis(ctx, contentHash)
}

// Flag marks an extraction for review. At least one non-blank issue is
// required; dependent models inherit a review marker.
func (s *Service) Flag(ctx context.Context, extractionID string, issues []string) error {
	var kept []string
	for _, issue := range issues {
		if strings.TrimSpace(issue) != "" {
			kept = append(kept, issue)
		}
	}
	if len(kept) == 0 {
		return ErrNoIssues
	}

	if err := s.store.FlagExtraction(ctx, extractionID, kept); err != nil {
		return err
	}
	zap.L().Warn("lineage: extraction flagged",
		zap.String("extraction_id", extractionID),
		zap.Int("issues", len(kept)),
	)
	return nil
}

// Verify marks an extraction verified and clears its issue list.
func (s *Service) Verify(ctx context.Context, extractionID string) error {
	return s.store.VerifyExtraction(ctx, extractionID)
}
