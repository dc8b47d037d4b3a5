//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/modelgen/internal/model"
)

func TestComputeJobStats_Empty(t *testing.T) {
	s := computeJobStats(nil, 0)

	assert.Equal(t, 0, s.Total)
	assert.Zero(t, s.AvgDurSecs)
}

func TestComputeJobStats_Buckets(t *testing.T) {
	now := time.Now()
	list := []model.Job{
		{Status: model.JobStatusCompleted, CreatedAt: now.Add(-90 * time.Second), UpdatedAt: now,
			Usage: model.TokenUsage{InputTokens: 1000, OutputTokens: 500, Cost: 0.02}},
		{Status: model.JobStatusCompleted, CreatedAt: now.Add(-30 * time.Second), UpdatedAt: now,
			Usage: model.TokenUsage{InputTokens: 800, OutputTokens: 400, Cost: 0.015}},
		{Status: model.JobStatusFailed, ErrorClass: model.ErrorClassValidation, CreatedAt: now, UpdatedAt: now},
		{Status: model.JobStatusFailed, ErrorClass: model.ErrorClassClassification, CreatedAt: now, UpdatedAt: now},
		{Status: model.JobStatusFailed, ErrorClass: model.ErrorClassTransport, CreatedAt: now, UpdatedAt: now},
		{Status: model.JobStatusFailed, ErrorClass: model.ErrorClassCanceled, CreatedAt: now, UpdatedAt: now},
		{Status: model.JobStatusFailed, ErrorClass: model.ErrorClassStalled, CreatedAt: now, UpdatedAt: now},
		{Status: model.JobStatusFailed, ErrorClass: "mystery", CreatedAt: now, UpdatedAt: now},
		{Status: model.JobStatusPending, CreatedAt: now, UpdatedAt: now},
		{Status: model.JobStatusGenerating, CreatedAt: now, UpdatedAt: now},
	}

	s := computeJobStats(list, 0)

	assert.Equal(t, 10, s.Total)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 6, s.Failed)
	// Classification failures count toward the validation bucket.
	assert.Equal(t, 2, s.Validation)
	assert.Equal(t, 1, s.Transport)
	assert.Equal(t, 1, s.Canceled)
	assert.Equal(t, 1, s.Stalled)
	assert.Equal(t, 1, s.OtherFailed)
	assert.Equal(t, 1, s.Queued)
	assert.Equal(t, 1, s.Active)

	assert.Equal(t, 1800, s.InputTokens)
	assert.Equal(t, 900, s.OutputTokens)
	assert.InDelta(t, 0.035, s.Cost, 1e-9)

	// (90s + 30s) / 2 completed jobs.
	assert.InDelta(t, 60.0, s.AvgDurSecs, 0.5)
}

func TestComputeJobStats_Window(t *testing.T) {
	now := time.Now()
	list := []model.Job{
		{Status: model.JobStatusCompleted, CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-47 * time.Hour)},
		{Status: model.JobStatusCompleted, CreatedAt: now.Add(-time.Hour), UpdatedAt: now},
	}

	s := computeJobStats(list, 24*time.Hour)

	// The two-day-old job falls outside the window.
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Completed)
}

func TestFormatJobsList(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	list := []model.Job{
		{
			ID:         "3f8a01bc-0000-0000-0000-000000000000",
			Status:     model.JobStatusCompleted,
			RetryCount: 1,
			Classification: &model.Classification{
				Archetype: "B2",
			},
			CreatedAt: created,
			UpdatedAt: created.Add(42 * time.Second),
		},
		{
			ID:                "9e2d77aa-0000-0000-0000-000000000000",
			Status:            model.JobStatusFailed,
			ErrorClass:        model.ErrorClassValidation,
			ArchetypeOverride: "B5",
			CreatedAt:         created,
			UpdatedAt:         created,
		},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, list)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "3f8a01bc")
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "B2")
	assert.Contains(t, output, "2026-03-10 09:15")
	assert.Contains(t, output, "42s")
	// The failed job never classified, so the override shows instead.
	assert.Contains(t, output, "B5")
	assert.Contains(t, output, model.ErrorClassValidation)
}

func TestFormatJobsList_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatJobsList(&buf, nil)

	output := buf.String()
	// Header still prints with no rows.
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "ARCHETYPE")
}

func TestFormatJobStats(t *testing.T) {
	s := jobStats{
		Total:        12,
		Completed:    9,
		Failed:       2,
		Validation:   1,
		Transport:    1,
		Queued:       1,
		AvgDurSecs:   38.2,
		InputTokens:  52000,
		OutputTokens: 18000,
		Cost:         1.2345,
	}

	var buf bytes.Buffer
	formatJobStats(&buf, s)

	output := buf.String()
	assert.Contains(t, output, "Total jobs:")
	assert.Contains(t, output, "12")
	assert.Contains(t, output, "38.2s")
	assert.Contains(t, output, "52000/18000")
	assert.Contains(t, output, "$1.2345")
}

func TestFormatJobStats_NoSpend(t *testing.T) {
	var buf bytes.Buffer
	formatJobStats(&buf, jobStats{Total: 1, Queued: 1})

	// No oracle calls means no spend line.
	assert.NotContains(t, buf.String(), "Oracle spend")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "3f8a01bc", truncateID("3f8a01bc-9c2d-4e70-b1aa-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
