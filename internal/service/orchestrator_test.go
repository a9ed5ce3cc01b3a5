package service

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerkensm/vaporvibe/internal/config"
	"github.com/gerkensm/vaporvibe/internal/domain"
	"github.com/gerkensm/vaporvibe/internal/llm"
	"github.com/gerkensm/vaporvibe/internal/pending"
	"github.com/gerkensm/vaporvibe/internal/session"
	"github.com/gerkensm/vaporvibe/internal/stream"
)

func testConfig() *config.Config {
	return &config.Config{
		Brief:             "test app",
		HistoryLimit:      30,
		HistoryMaxBytes:   200_000,
		SessionCap:        10,
		PendingTTL:        time.Minute,
		StreamTTL:         time.Minute,
		GenerationTimeout: time.Minute,
	}
}

func newOrchestrator(t *testing.T, client llm.Client) *Orchestrator {
	t.Helper()
	cfg := testConfig()
	return New(cfg,
		session.New(cfg.SessionTTL, cfg.SessionCap),
		pending.New(cfg.PendingTTL),
		stream.NewRegistry(cfg.StreamTTL),
		client,
		slog.New(slog.DiscardHandler),
	)
}

func waitForResult(t *testing.T, o *Orchestrator, token string) string {
	t.Helper()
	var html string
	require.Eventually(t, func() bool {
		doc, status := o.Result(token)
		if status != pending.StatusReady {
			return false
		}
		html = doc
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return html
}

func TestRenderReturnsShellImmediately(t *testing.T) {
	block := make(chan struct{})
	client := llm.NewMockClient(llm.MockResponse{
		HTML:  "<!DOCTYPE html><html><body>slow</body></html>",
		Block: block,
	})
	o := newOrchestrator(t, client)

	resp := o.Render(RenderRequest{Method: "GET", Path: "/menu"})
	assert.NotEmpty(t, resp.SessionID)
	assert.True(t, resp.SessionCreated)
	assert.NotEmpty(t, resp.ResultToken)
	assert.Contains(t, resp.HTML, "data-vaporvibe-loading")
	assert.Contains(t, resp.HTML, resp.ResultToken)

	_, status := o.Result(resp.ResultToken)
	assert.Equal(t, pending.StatusPending, status)

	close(block)
	html := waitForResult(t, o, resp.ResultToken)
	assert.Contains(t, html, "slow")
}

func TestSlowGenerationOutlivesPendingTTL(t *testing.T) {
	block := make(chan struct{})
	client := llm.NewMockClient(llm.MockResponse{
		HTML:  "<!DOCTYPE html><html><body>worth the wait</body></html>",
		Block: block,
	})
	cfg := testConfig()
	cfg.PendingTTL = 30 * time.Millisecond
	o := New(cfg,
		session.New(cfg.SessionTTL, cfg.SessionCap),
		pending.New(cfg.PendingTTL),
		stream.NewRegistry(cfg.StreamTTL),
		client,
		slog.New(slog.DiscardHandler),
	)

	resp := o.Render(RenderRequest{Method: "GET", Path: "/slow"})

	// Keep polling well past the TTL while the generation is still running;
	// the token must stay pending, never vanish.
	deadline := time.Now().Add(4 * cfg.PendingTTL)
	for time.Now().Before(deadline) {
		_, status := o.Result(resp.ResultToken)
		require.Equal(t, pending.StatusPending, status)
		time.Sleep(5 * time.Millisecond)
	}

	close(block)
	html := waitForResult(t, o, resp.ResultToken)
	assert.Contains(t, html, "worth the wait")
}

func TestResultIsOneShot(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{
		HTML: "<!DOCTYPE html><html><body>once</body></html>",
	})
	o := newOrchestrator(t, client)

	resp := o.Render(RenderRequest{Method: "GET", Path: "/"})
	waitForResult(t, o, resp.ResultToken)

	_, status := o.Result(resp.ResultToken)
	assert.Equal(t, pending.StatusNotFound, status)
}

func TestSuccessCommitsTurnAndFeedsNextPrompt(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockResponse{HTML: "<!DOCTYPE html><html><body><div>first</div></body></html>"},
		llm.MockResponse{HTML: "<!DOCTYPE html><html><body><div>second</div></body></html>"},
	)
	o := newOrchestrator(t, client)

	first := o.Render(RenderRequest{Method: "GET", Path: "/"})
	waitForResult(t, o, first.ResultToken)

	second := o.Render(RenderRequest{SessionCookie: first.SessionID, Method: "POST", Path: "/cart"})
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.False(t, second.SessionCreated)
	waitForResult(t, o, second.ResultToken)

	calls := client.Calls()
	require.Len(t, calls, 2)
	// The second prompt carries the first turn as history.
	var sawHistory bool
	for _, msg := range calls[1] {
		if msg.Role == llm.RoleUser && strings.Contains(msg.Content, "first") {
			sawHistory = true
		}
	}
	assert.True(t, sawHistory, "second prompt should include the first document")

	snap := o.ExportHistory()
	require.Len(t, snap.Sessions, 1)
	require.Len(t, snap.Sessions[0].Branches, 1)
	assert.Len(t, snap.Sessions[0].Branches[0].Turns, 2)
}

func TestFailureDeliversErrorDocumentWithoutCommit(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{Err: errors.New("upstream exploded")})
	o := newOrchestrator(t, client)

	resp := o.Render(RenderRequest{Method: "GET", Path: "/broken"})
	html := waitForResult(t, o, resp.ResultToken)
	assert.Contains(t, html, "data-vaporvibe-error")
	assert.Contains(t, html, "upstream exploded")

	snap := o.ExportHistory()
	require.Len(t, snap.Sessions, 1)
	assert.Empty(t, snap.Sessions[0].Branches)
}

func TestFragmentMarkersResolveAcrossTurns(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockResponse{HTML: "<!DOCTYPE html><html><body><nav>menu</nav></body></html>"},
		llm.MockResponse{HTML: "<!DOCTYPE html><html><body>{{component:vv-gen-1}}<main>page two</main></body></html>"},
	)
	o := newOrchestrator(t, client)

	first := o.Render(RenderRequest{Method: "GET", Path: "/"})
	doc1 := waitForResult(t, o, first.ResultToken)
	assert.Contains(t, doc1, `data-id="vv-gen-1"`)

	second := o.Render(RenderRequest{SessionCookie: first.SessionID, Method: "GET", Path: "/two"})
	doc2 := waitForResult(t, o, second.ResultToken)
	assert.NotContains(t, doc2, "{{component:")
	assert.Contains(t, doc2, "menu")
	assert.Contains(t, doc2, "page two")
}

func TestReasoningStreamLifecycle(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{
		HTML: "<!DOCTYPE html><html><body>done</body></html>",
		Events: []llm.ReasoningEvent{
			{Kind: "reasoning", Text: "thinking about layout"},
		},
	})
	client.SetReasoningStream(true)
	o := newOrchestrator(t, client)

	resp := o.Render(RenderRequest{Method: "GET", Path: "/"})
	require.NotEmpty(t, resp.StreamToken)
	assert.Contains(t, resp.HTML, resp.StreamToken)

	waitForResult(t, o, resp.ResultToken)

	s, ok := o.Stream(resp.StreamToken)
	require.True(t, ok)
	replay, _, cancel := s.Subscribe()
	defer cancel()
	require.NotEmpty(t, replay)
	assert.Equal(t, stream.KindReasoning, replay[0].Kind)
	assert.Equal(t, stream.KindComplete, replay[len(replay)-1].Kind)
}

func TestNoStreamTokenWhenProviderDoesNotStream(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{
		HTML: "<!DOCTYPE html><html><body>done</body></html>",
	})
	o := newOrchestrator(t, client)

	resp := o.Render(RenderRequest{Method: "GET", Path: "/"})
	assert.Empty(t, resp.StreamToken)
}

func TestBriefAttachmentsRideEveryPrompt(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockResponse{HTML: "<!DOCTYPE html><html><body>one</body></html>"},
		llm.MockResponse{HTML: "<!DOCTYPE html><html><body>two</body></html>"},
	)
	o := newOrchestrator(t, client)
	o.SetBriefAttachments([]domain.Attachment{
		{ID: "mock-1", Name: "mockup.png", MimeType: "image/png", Base64: "aGVsbG8="},
	})

	first := o.Render(RenderRequest{Method: "GET", Path: "/"})
	waitForResult(t, o, first.ResultToken)
	second := o.Render(RenderRequest{SessionCookie: first.SessionID, Method: "GET", Path: "/next"})
	waitForResult(t, o, second.ResultToken)

	calls := client.Calls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		require.NotEmpty(t, call[0].Attachments)
		assert.Equal(t, "mockup.png", call[0].Attachments[0].Name)
	}
}

func TestBranchesRenderIndependently(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockResponse{HTML: "<!DOCTYPE html><html><body>main view</body></html>"},
		llm.MockResponse{HTML: "<!DOCTYPE html><html><body>alt view</body></html>"},
	)
	o := newOrchestrator(t, client)

	first := o.Render(RenderRequest{Method: "GET", Path: "/"})
	waitForResult(t, o, first.ResultToken)

	alt := o.Render(RenderRequest{SessionCookie: first.SessionID, BranchID: "alt", Method: "GET", Path: "/"})
	waitForResult(t, o, alt.ResultToken)

	// The alt branch starts empty, so its prompt has no history messages.
	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1], 2, "system + current request only")

	snap := o.ExportHistory()
	require.Len(t, snap.Sessions, 1)
	assert.Len(t, snap.Sessions[0].Branches, 2)
}

func TestImportHistoryRestoresContinuity(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockResponse{HTML: "<!DOCTYPE html><html><body>original</body></html>"},
		llm.MockResponse{HTML: "<!DOCTYPE html><html><body>after import</body></html>"},
	)
	o := newOrchestrator(t, client)

	first := o.Render(RenderRequest{Method: "GET", Path: "/"})
	waitForResult(t, o, first.ResultToken)
	snap := o.ExportHistory()

	restored := newOrchestrator(t, client)
	restored.ImportHistory(snap)

	resp := restored.Render(RenderRequest{SessionCookie: first.SessionID, Method: "GET", Path: "/next"})
	assert.Equal(t, first.SessionID, resp.SessionID)
	assert.False(t, resp.SessionCreated)
	waitForResult(t, restored, resp.ResultToken)

	calls := client.Calls()
	last := calls[len(calls)-1]
	var sawHistory bool
	for _, msg := range last {
		if strings.Contains(msg.Content, "original") {
			sawHistory = true
		}
	}
	assert.True(t, sawHistory, "imported turn should feed the next prompt")
}
