package audit

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBuilder_StepElapsed(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBuilder("req-1", WithClock(clk.now))

	clk.advance(2 * time.Second)
	b.Step("research", "model research complete")
	clk.advance(500 * time.Millisecond)
	b.Stepf("structure", "parsed on attempt %d", 1)

	log := b.Finish()
	require.Len(t, log.Steps, 2)
	assert.Equal(t, "req-1", log.RequestID)
	assert.Equal(t, 2*time.Second, log.Steps[0].Elapsed)
	assert.Equal(t, 500*time.Millisecond, log.Steps[1].Elapsed)
	assert.Equal(t, "parsed on attempt 1", log.Steps[1].Description)
	assert.Equal(t, 2500*time.Millisecond, log.TotalDuration)
}

func TestBuilder_Failed(t *testing.T) {
	b := NewBuilder("req")
	b.Failed("vulnerabilities", errors.New("nvd down"))
	b.Failed("sources", nil)

	log := b.Finish()
	require.Len(t, log.Steps, 2)
	assert.True(t, log.Steps[0].Failed)
	assert.Contains(t, log.Steps[0].Description, "nvd down")
	assert.Contains(t, log.Steps[0].Description, "left unchanged")
	assert.Contains(t, log.Steps[1].Description, "unknown error")
}

func TestBuilder_BucketsDeduplicate(t *testing.T) {
	b := NewBuilder("req", WithGroundingFilter(func(u string) bool {
		return strings.Contains(u, "redirect")
	}))

	b.AddGrounding("https://a.example/1", "https://a.example/1", "https://redirect.example/x", "")
	b.AddApproved("https://b.example", "https://b.example")
	b.AddDocument("notes.txt", "notes.txt", "report.txt")

	log := b.Finish()
	assert.Equal(t, []string{"https://a.example/1"}, log.GroundingURLs)
	assert.Equal(t, []string{"https://b.example"}, log.ApprovedURLs)
	assert.Equal(t, []string{"notes.txt", "report.txt"}, log.Documents)
}

func TestBuilder_FinishReturnsCopy(t *testing.T) {
	b := NewBuilder("req")
	b.Step("a", "first")
	first := b.Finish()
	b.Step("b", "second")

	assert.Len(t, first.Steps, 1)
	assert.Len(t, b.Finish().Steps, 2)
}
