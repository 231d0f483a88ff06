package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scholarsync/api/schemas"
)

func TestRenderCleanRun(t *testing.T) {
	var buf bytes.Buffer
	r := schemas.FinalReport{Total: 1234, Added: 1200, Skipped: 34, Duration: 3 * time.Minute}

	require.NoError(t, Render(&buf, r, false))
	out := buf.String()

	assert.Contains(t, out, "== Run summary ==")
	assert.Contains(t, out, "Records:     1,234")
	assert.Contains(t, out, "Duration:    3 minutes")
	assert.NotContains(t, out, "╭", "no failure table without failures")
	assert.True(t, strings.HasSuffix(out, "Finished sending data.\n"))
	assert.NotContains(t, out, "\x1b[")
}

func TestRenderWithFailures(t *testing.T) {
	var buf bytes.Buffer
	r := schemas.FinalReport{Total: 2, Added: 1}
	r.AddFailure(schemas.PaperRecord{Key: "K2", Title: "A Paper Nobody Wrote"}, "no results")

	require.NoError(t, Render(&buf, r, false))
	out := buf.String()

	assert.Contains(t, out, "╭")
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "A Paper Nobody Wrote")
	assert.Contains(t, out, "no results")
	assert.Contains(t, out, "Finished with 1 record(s) that could not be added.")
}

func TestRenderAborted(t *testing.T) {
	text.EnableColors()
	var buf bytes.Buffer
	r := schemas.FinalReport{Aborted: true, AbortReason: "sign-in failed"}

	require.NoError(t, Render(&buf, r, true))
	out := buf.String()

	assert.Contains(t, out, "Run aborted: sign-in failed")
	assert.Contains(t, out, "\x1b[", "colorized output carries escape codes")
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "250ms", Duration(250*time.Millisecond))
	assert.Equal(t, "2 minutes", Duration(2*time.Minute+10*time.Second))
	assert.Equal(t, "2 hours", Duration(2*time.Hour))
}

func TestColorize(t *testing.T) {
	assert.False(t, Colorize(&bytes.Buffer{}))

	f, err := os.Create(filepath.Join(t.TempDir(), "out.txt"))
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, Colorize(f))
}
