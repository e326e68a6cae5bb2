package orchestrator_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctionswatch/core/pkg/fetch"
	"github.com/sanctionswatch/core/pkg/notify"
	"github.com/sanctionswatch/core/pkg/orchestrator"
	"github.com/sanctionswatch/core/pkg/parse"
	"github.com/sanctionswatch/core/pkg/risk"
	"github.com/sanctionswatch/core/pkg/sanctions"
	"github.com/sanctionswatch/core/pkg/store/memstore"
)

// stubParser is a fixed-output parse.Parser, letting tests control exactly
// which entities a run sees without wiring a real source format.
type stubParser struct {
	source   sanctions.Source
	entities []*sanctions.SanctionedEntity
	err      error
}

func (p *stubParser) Source() sanctions.Source { return p.source }

func (p *stubParser) Parse(ctx context.Context, content []byte, minEntities int) (parse.Result, error) {
	if p.err != nil {
		return parse.Result{}, p.err
	}
	return parse.Result{Entities: p.entities}, nil
}

func mustEntity(t *testing.T, uid, name string) *sanctions.SanctionedEntity {
	t.Helper()
	e := &sanctions.SanctionedEntity{
		UID:        uid,
		Source:     sanctions.SourceOFAC,
		EntityType: sanctions.EntityPerson,
		Name:       name,
		Programs:   []string{"SDGT"},
	}
	require.NoError(t, e.Canonicalize())
	return e
}

// xmlServer serves body for every request as a fixed XML payload, long
// enough to clear fetch's default minimum content size.
func xmlServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

func padXML(inner string) string {
	out := "<?xml version=\"1.0\"?><doc>" + inner
	for len(out) < 1100 {
		out += "<!-- pad -->"
	}
	return out + "</doc>"
}

func newOrchestrator(t *testing.T, p parse.Parser) (*orchestrator.Orchestrator, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	registry := parse.Registry{p.Source(): p}
	classifier, err := risk.New()
	require.NoError(t, err)
	notifier := notify.New(notify.NewMemoryDigestQueue(), notify.NewLogChannel())
	orch := orchestrator.New(st, registry, classifier, notifier, nil, nil, 3)
	return orch, st
}

func TestRunOnce_FirstRunAddsAllEntities(t *testing.T) {
	srv := xmlServer(t, padXML("<entity/>"))
	defer srv.Close()

	parser := &stubParser{source: sanctions.SourceOFAC, entities: []*sanctions.SanctionedEntity{
		mustEntity(t, "u1", "Jane Doe"),
		mustEntity(t, "u2", "John Roe"),
	}}
	orch, _ := newOrchestrator(t, parser)

	cfg := orchestrator.SourceConfig{
		Source:      sanctions.SourceOFAC,
		FetchConfig: fetch.Config{Source: sanctions.SourceOFAC, URL: srv.URL, Format: fetch.FormatXML},
		MinEntities: 1,
	}

	run, err := orch.RunOnce(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, sanctions.RunSuccess, run.Status)
	assert.Equal(t, 2, run.EntitiesProcessed)
	assert.Equal(t, 2, run.EntitiesAdded)
	assert.True(t, run.ContentChanged)
}

func TestRunOnce_SecondRunWithIdenticalContentIsSkipped(t *testing.T) {
	srv := xmlServer(t, padXML("<entity/>"))
	defer srv.Close()

	parser := &stubParser{source: sanctions.SourceOFAC, entities: []*sanctions.SanctionedEntity{mustEntity(t, "u1", "Jane Doe")}}
	orch, _ := newOrchestrator(t, parser)

	cfg := orchestrator.SourceConfig{
		Source:      sanctions.SourceOFAC,
		FetchConfig: fetch.Config{Source: sanctions.SourceOFAC, URL: srv.URL, Format: fetch.FormatXML},
		MinEntities: 1,
	}

	first, err := orch.RunOnce(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, sanctions.RunSuccess, first.Status)

	second, err := orch.RunOnce(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, sanctions.RunSkipped, second.Status)
	assert.False(t, second.ContentChanged)
}

func TestRunOnce_ContentChangeProducesRiskClassifiedEvents(t *testing.T) {
	srv1 := xmlServer(t, padXML("<entity>v1</entity>"))
	defer srv1.Close()

	parser := &stubParser{source: sanctions.SourceOFAC, entities: []*sanctions.SanctionedEntity{mustEntity(t, "u1", "Jane Doe")}}
	orch, _ := newOrchestrator(t, parser)

	cfg := orchestrator.SourceConfig{
		Source:      sanctions.SourceOFAC,
		FetchConfig: fetch.Config{Source: sanctions.SourceOFAC, URL: srv1.URL, Format: fetch.FormatXML},
		MinEntities: 1,
	}
	first, err := orch.RunOnce(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, sanctions.RunSuccess, first.Status)

	srv2 := xmlServer(t, padXML("<entity>v2-different-body-to-change-the-hash</entity>"))
	defer srv2.Close()
	parser.entities = []*sanctions.SanctionedEntity{mustEntity(t, "u1", "Jane R. Doe")}
	cfg.FetchConfig.URL = srv2.URL

	second, err := orch.RunOnce(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, sanctions.RunSuccess, second.Status)
	assert.Equal(t, 1, second.EntitiesModified)
	assert.Equal(t, 1, second.CriticalRiskChanges, "name change classifies CRITICAL")
}

func TestRunOnce_BelowMinEntitiesFailsRun(t *testing.T) {
	srv := xmlServer(t, padXML("<entity/>"))
	defer srv.Close()

	parser := &stubParser{source: sanctions.SourceOFAC, err: &sanctions.InvalidSourceDataError{Source: sanctions.SourceOFAC, Got: 0, Required: 100}}
	orch, _ := newOrchestrator(t, parser)

	cfg := orchestrator.SourceConfig{
		Source:      sanctions.SourceOFAC,
		FetchConfig: fetch.Config{Source: sanctions.SourceOFAC, URL: srv.URL, Format: fetch.FormatXML},
		MinEntities: 100,
	}

	run, err := orch.RunOnce(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, sanctions.RunFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMessage)
}

func TestRunOnce_UnreachableSourceFailsAfterRetries(t *testing.T) {
	parser := &stubParser{source: sanctions.SourceOFAC}
	orch, _ := newOrchestrator(t, parser)

	cfg := orchestrator.SourceConfig{
		Source:        sanctions.SourceOFAC,
		FetchConfig:   fetch.Config{Source: sanctions.SourceOFAC, URL: "http://127.0.0.1:1", Format: fetch.FormatXML},
		MinEntities:   1,
		MaxRetries:    1,
		BackoffFactor: 0.01,
	}

	start := time.Now()
	run, err := orch.RunOnce(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, sanctions.RunFailed, run.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunOnce_SingleFlightRejectsConcurrentRunForSameSource(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(padXML("<entity/>")))
	}))
	defer srv.Close()

	parser := &stubParser{source: sanctions.SourceOFAC, entities: []*sanctions.SanctionedEntity{mustEntity(t, "u1", "Jane Doe")}}
	orch, _ := newOrchestrator(t, parser)

	cfg := orchestrator.SourceConfig{
		Source:      sanctions.SourceOFAC,
		FetchConfig: fetch.Config{Source: sanctions.SourceOFAC, URL: srv.URL, Format: fetch.FormatXML},
		MinEntities: 1,
	}

	done := make(chan struct{})
	go func() {
		_, _ = orch.RunOnce(context.Background(), cfg)
		close(done)
	}()

	// give the first run time to claim the RUNNING row before racing a
	// second RunOnce against the same source.
	time.Sleep(50 * time.Millisecond)
	_, err := orch.RunOnce(context.Background(), cfg)
	assert.ErrorIs(t, err, sanctions.ErrRunBusy)

	close(block)
	<-done
}
