package outputlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "output.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAndRead(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Append("agent-claude-demo", []string{"line one", "line two"}))
	require.NoError(t, l.Append("agent-claude-demo", []string{"line three"}))

	page, err := l.Read("agent-claude-demo", 0, 50)
	require.NoError(t, err)
	require.Len(t, page.Chunks, 2)
	// Oldest first.
	require.Equal(t, "line one\nline two", page.Chunks[0].Content)
	require.Equal(t, "line three", page.Chunks[1].Content)
	require.Equal(t, page.Chunks[0].TS, page.EarliestTS)
	require.Less(t, page.Chunks[0].TS, page.Chunks[1].TS)
}

func TestAppendEmptyIsNoop(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Append("agent-claude-demo", nil))
	page, err := l.Read("agent-claude-demo", 0, 10)
	require.NoError(t, err)
	require.Empty(t, page.Chunks)
	require.Zero(t, page.EarliestTS)
}

func TestReadPaginatesBackwards(t *testing.T) {
	l := openTestLog(t)

	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, l.Append("s", []string{content}))
	}

	// Latest page of one.
	page, err := l.Read("s", 0, 1)
	require.NoError(t, err)
	require.Len(t, page.Chunks, 1)
	require.Equal(t, "third", page.Chunks[0].Content)

	// before is exclusive: the cursor chunk itself is not repeated.
	page, err = l.Read("s", page.EarliestTS, 10)
	require.NoError(t, err)
	require.Len(t, page.Chunks, 2)
	require.Equal(t, "first", page.Chunks[0].Content)
	require.Equal(t, "second", page.Chunks[1].Content)
}

func TestReadScopedToSession(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Append("a", []string{"from a"}))
	require.NoError(t, l.Append("b", []string{"from b"}))

	page, err := l.Read("a", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Chunks, 1)
	require.Equal(t, "from a", page.Chunks[0].Content)
}

func TestSearch(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Append("a", []string{"the parser panicked on nil input"}))
	require.NoError(t, l.Append("b", []string{"all tests passed"}))

	results, err := l.Search("panicked", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a", results[0].SessionID)
	require.Contains(t, results[0].Snippet, "<b>panicked</b>")
}

func TestSearchScopedToSession(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Append("a", []string{"build failed with errors"}))
	require.NoError(t, l.Append("b", []string{"build failed again"}))

	results, err := l.Search("failed", "b", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].SessionID)
}

func TestSoftDeleteHidesEverywhere(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Append("gone", []string{"secret output"}))
	require.NoError(t, l.Append("kept", []string{"other output"}))
	require.NoError(t, l.SoftDelete("gone"))

	page, err := l.Read("gone", 0, 10)
	require.NoError(t, err)
	require.Empty(t, page.Chunks)

	results, err := l.Search("secret", "", 10)
	require.NoError(t, err)
	require.Empty(t, results)

	ids, err := l.SessionIDs()
	require.NoError(t, err)
	require.Equal(t, []string{"kept"}, ids)
}

func TestLatestTS(t *testing.T) {
	l := openTestLog(t)

	_, ok, err := l.LatestTS("none")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l.Append("s", []string{"first"}))
	require.NoError(t, l.Append("s", []string{"second"}))

	ts, ok, err := l.LatestTS("s")
	require.NoError(t, err)
	require.True(t, ok)

	page, err := l.Read("s", 0, 10)
	require.NoError(t, err)
	require.Equal(t, page.Chunks[1].TS, ts)
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "output.db")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Reopen to confirm the schema persisted.
	l, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}
