package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/stencil/internal/model"
	"github.com/starford/stencil/internal/queue"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestQueueCounters(t *testing.T) {
	m := New()
	q := queue.New(queue.ResolverFunc(func(ev model.ChangeEvent) []string {
		if ev.Identity == "ignored.go" {
			return nil
		}
		return []string{"dto.tpl"}
	}), queue.WithObserver(m))

	require.NoError(t, q.Enqueue(model.NewEvent(model.SourceProjectItem, model.Modified, "a.go", "")))
	require.NoError(t, q.Enqueue(model.NewEvent(model.SourceProjectItem, model.Modified, "a.go", "")))
	require.NoError(t, q.Enqueue(model.NewEvent(model.SourceProjectItem, model.Modified, "ignored.go", "")))

	out := scrape(t, m)
	assert.Contains(t, out, `stencil_queue_events_total{outcome="enqueued"} 2`)
	assert.Contains(t, out, `stencil_queue_events_total{outcome="coalesced"} 1`)
	assert.Contains(t, out, `stencil_queue_events_total{outcome="dropped"} 1`)
	assert.Contains(t, out, `stencil_queue_pending_requests 1`)
}

func TestRunFinished(t *testing.T) {
	m := New()
	start := time.Now()
	m.RunFinished(model.RunSummary{
		Templates:  2,
		Succeeded:  1,
		Failed:     1,
		StartedAt:  start,
		FinishedAt: start.Add(20 * time.Millisecond),
		Results: []model.GenerationResult{
			{Template: "a.tpl", Written: []string{"A.txt", "B.txt"}, Removed: []string{"C.txt"}},
			{Template: "b.tpl", Unchanged: []string{"D.txt"}},
		},
	}, queue.Completed)

	out := scrape(t, m)
	assert.Contains(t, out, `stencil_generator_runs_total{state="completed"} 1`)
	assert.Contains(t, out, `stencil_generator_templates_total{result="failed"} 1`)
	assert.Contains(t, out, `stencil_generator_outputs_total{action="written"} 2`)
	assert.Contains(t, out, `stencil_generator_outputs_total{action="removed"} 1`)
	assert.Contains(t, out, `stencil_generator_outputs_total{action="unchanged"} 1`)
	assert.Contains(t, out, `stencil_generator_run_duration_seconds_count 1`)
}
