package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validArtifact() *Artifact {
	return &Artifact{
		ID:           "plan-001",
		Type:         TypePlan,
		Content:      "# Launch plan\n\nShip it.\n",
		State:        StateDraft,
		Version:      1,
		Author:       "alice@dev",
		LastModified: time.Now().UTC(),
	}
}

func TestArtifactValidate(t *testing.T) {
	require.NoError(t, validArtifact().Validate())

	t.Run("missing id", func(t *testing.T) {
		a := validArtifact()
		a.ID = ""
		assert.Error(t, a.Validate())
	})

	t.Run("id with path separator", func(t *testing.T) {
		a := validArtifact()
		a.ID = "plans/evil"
		assert.Error(t, a.Validate())
	})

	t.Run("unknown type", func(t *testing.T) {
		a := validArtifact()
		a.Type = "memo"
		assert.Error(t, a.Validate())
	})

	t.Run("zero version", func(t *testing.T) {
		a := validArtifact()
		a.Version = 0
		assert.Error(t, a.Validate())
	})

	t.Run("base ahead of version", func(t *testing.T) {
		a := validArtifact()
		a.Version = 2
		a.BaseVersion = 3
		assert.Error(t, a.Validate())
	})

	t.Run("tombstone skips content check", func(t *testing.T) {
		a := validArtifact()
		a.Content = ""
		a.Deleted = true
		a.Version = 2
		assert.NoError(t, a.Validate())
	})

	t.Run("malformed content", func(t *testing.T) {
		a := validArtifact()
		a.Content = ""
		assert.Error(t, a.Validate())
	})
}

func TestDirty(t *testing.T) {
	a := validArtifact()
	a.Version, a.BaseVersion = 3, 3
	assert.False(t, a.Dirty())

	a.Version = 4
	assert.True(t, a.Dirty())
}

func TestClone(t *testing.T) {
	a := validArtifact()
	c := a.Clone()
	c.Content = "changed"
	c.Version = 9

	assert.Equal(t, "# Launch plan\n\nShip it.\n", a.Content)
	assert.Equal(t, int64(1), a.Version)
}

func TestStateLattice(t *testing.T) {
	assert.True(t, Comparable(StateDraft, StateAccepted))
	assert.False(t, Comparable(StateDraft, State("ARCHIVED")))

	assert.Equal(t, StateCommitted, MoreAdvanced(StateDraft, StateCommitted))
	assert.Equal(t, StateAccepted, MoreAdvanced(StateAccepted, StateCommitted))
	// Incomparable states keep the first argument.
	assert.Equal(t, StateDraft, MoreAdvanced(StateDraft, State("ARCHIVED")))
}

func TestNewChangeID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewChangeID()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate change id %s", id)
		seen[id] = true
	}
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		content string
		wantErr bool
	}{
		{"plain markdown plan", TypePlan, "# Title\n\nBody\n", false},
		{"markdown with front matter", TypeStory, "---\ntitle: x\nowner: y\n---\n\n# Story\n", false},
		{"broken front matter", TypePlan, "---\ntitle: [unclosed\n---\n\nBody\n", true},
		{"empty plan", TypePlan, "   \n", true},
		{"valid runbook yaml", TypeRunbook, "name: restart\nsteps:\n  - stop\n  - start\n", false},
		{"invalid journey yaml", TypeJourney, "steps: [a, b\n", true},
		{"empty runbook", TypeRunbook, "", true},
		{"unknown type", Type("memo"), "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.typ, tt.content)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHistoryEntryValidate(t *testing.T) {
	e := &HistoryEntry{
		ArtifactID: "plan-001",
		ChangeID:   NewChangeID(),
		Version:    1,
		Timestamp:  time.Now().UTC(),
		Author:     "alice@dev",
	}
	require.NoError(t, e.Validate())

	e.ChangeID = ""
	assert.Error(t, e.Validate())
}
