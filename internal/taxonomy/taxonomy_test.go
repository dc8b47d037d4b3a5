package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_ClosedSet(t *testing.T) {
	t.Parallel()

	r := Default()
	codes := r.Codes()
	require.Len(t, codes, 9)
	assert.Equal(t, []string{"B1", "B2", "B3", "B4", "B5", "B6", "B7", "B8", "B9"}, codes)

	for _, a := range r.All() {
		assert.NotEmpty(t, a.Name, "archetype %s missing name", a.Code)
		assert.NotEmpty(t, a.Description, "archetype %s missing description", a.Code)
		assert.NotEmpty(t, a.Guidance, "archetype %s missing guidance", a.Code)
		assert.Equal(t, 1, a.MinComponents, "archetype %s minimum should default to the schema floor", a.Code)
	}

	assert.True(t, r.Contains("B7"))
	assert.False(t, r.Contains("B10"))
	assert.False(t, r.Contains(""))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	r := Default()
	a, ok := r.Lookup("B3")
	require.True(t, ok)
	assert.Equal(t, "Productivity Gain", a.Name)

	_, ok = r.Lookup("Z1")
	assert.False(t, ok)
}

func TestPromptBlock_ListsEveryArchetype(t *testing.T) {
	t.Parallel()

	block := Default().PromptBlock()
	for _, code := range Default().Codes() {
		assert.Contains(t, block, code+":")
	}
}

func TestLoadOverlay_RewordsExistingCode(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "overlay.yaml")
	overlay := `taxonomy:
  archetypes:
    - code: B7
      name: Customer Retention
      guidance: Focus on churn reduction only.
      min_components: 4
`
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))

	r, err := LoadOverlay(path)
	require.NoError(t, err)

	a, ok := r.Lookup("B7")
	require.True(t, ok)
	assert.Equal(t, "Customer Retention", a.Name)
	assert.Equal(t, "Focus on churn reduction only.", a.Guidance)
	assert.Equal(t, 4, a.MinComponents)
	// Untouched fields keep the built-in wording.
	assert.NotEmpty(t, a.Description)

	// Other archetypes are unaffected.
	b1, _ := r.Lookup("B1")
	assert.Equal(t, "Cost Reduction", b1.Name)
}

func TestLoadOverlay_RejectsUnknownCode(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "overlay.yaml")
	overlay := `taxonomy:
  archetypes:
    - code: B99
      name: Made Up
`
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))

	_, err := LoadOverlay(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "B99")
}

func TestLoadOverlay_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadOverlay(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
