package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l := NewFileLogger(path)

	require.NoError(t, l.Log(Record{
		Author:     "alice@dev",
		ArtifactID: "plan-001",
		Operation:  "push",
		Outcome:    "pushed",
	}))
	require.NoError(t, l.Log(Record{
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Author:     "alice@dev",
		ArtifactID: "plan-002",
		Operation:  "pull",
		Outcome:    "fast-forwarded",
	}))
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), "each line must be standalone JSON")
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, records, 2)

	// A missing timestamp is filled in at write time.
	assert.False(t, records[0].Timestamp.IsZero())
	assert.Equal(t, "plan-001", records[0].ArtifactID)
	assert.Equal(t, "pushed", records[0].Outcome)
	assert.Equal(t, "fast-forwarded", records[1].Outcome)
}

func TestRecordCarriesNoContentFields(t *testing.T) {
	data, err := json.Marshal(Record{
		Timestamp:  time.Now().UTC(),
		Author:     "alice@dev",
		ArtifactID: "plan-001",
		Operation:  "push",
		Outcome:    "pushed",
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for key := range raw {
		assert.NotContains(t, []string{"content", "token", "secret"}, key)
	}
	assert.Len(t, raw, 5)
}

func TestNop(t *testing.T) {
	var l Logger = Nop{}
	assert.NoError(t, l.Log(Record{}))
}
