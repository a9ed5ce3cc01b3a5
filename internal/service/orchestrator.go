// Package service coordinates one render request end to end: resolve the
// session, budget the history, hand the prompt to the model, and route the
// finished document back through the pending-result handoff.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gerkensm/vaporvibe/internal/config"
	"github.com/gerkensm/vaporvibe/internal/domain"
	"github.com/gerkensm/vaporvibe/internal/fragment"
	"github.com/gerkensm/vaporvibe/internal/history"
	"github.com/gerkensm/vaporvibe/internal/llm"
	"github.com/gerkensm/vaporvibe/internal/pending"
	"github.com/gerkensm/vaporvibe/internal/session"
	"github.com/gerkensm/vaporvibe/internal/stream"
	"github.com/gerkensm/vaporvibe/internal/view"
)

// Orchestrator owns the render pipeline. One instance serves every request.
type Orchestrator struct {
	cfg         *config.Config
	sessions    *session.Store
	pending     *pending.Store
	streams     *stream.Registry
	client      llm.Client
	attachments []domain.Attachment
	logger      *slog.Logger
	now         func() time.Time
}

// New wires an Orchestrator from its collaborators.
func New(cfg *config.Config, sessions *session.Store, pend *pending.Store, streams *stream.Registry, client llm.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		pending:  pend,
		streams:  streams,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}
}

// SetBriefAttachments installs the files forwarded with every prompt
// alongside the brief. Call before serving requests.
func (o *Orchestrator) SetBriefAttachments(attachments []domain.Attachment) {
	o.attachments = attachments
}

// RenderRequest is one page request entering the pipeline. Query and Body
// have already been stripped of the branch selector and instructions field.
type RenderRequest struct {
	SessionCookie string
	BranchID      string
	Method        string
	Path          string
	Query         domain.Values
	Body          domain.Values
	Instructions  string
}

// RenderResponse is returned immediately: the loading shell plus the
// session cookie the transport must set. The generated document arrives
// later through the pending store.
type RenderResponse struct {
	SessionID      string
	SessionCreated bool
	ResultToken    string
	StreamToken    string
	HTML           string
}

// Render resolves the session, mints the handoff tokens, and starts the
// generation in the background. It never blocks on the model.
func (o *Orchestrator) Render(req RenderRequest) RenderResponse {
	started := o.now()

	sessionID, created := o.sessions.ResolveOrCreate(req.SessionCookie)
	branchID := req.BranchID
	if branchID == "" {
		branchID = session.DefaultBranchID
	}

	bctx, err := o.sessions.Context(sessionID, branchID)
	if err != nil {
		// Context degradation is non-fatal: render from an empty branch.
		o.logger.Warn("branch context unavailable, rendering from scratch",
			"session", sessionID, "branch", branchID, "error", err)
		bctx = session.BranchContext{SessionID: sessionID, BranchID: branchID,
			Tables: domain.NewFragmentTables()}
	}

	sel := history.Select(bctx.Turns, o.cfg.HistoryLimit, o.cfg.HistoryMaxBytes)
	messages := llm.BuildMessages(llm.PromptInput{
		Brief:        o.cfg.Brief,
		Attachments:  o.attachments,
		Method:       req.Method,
		Path:         req.Path,
		Query:        req.Query,
		Body:         req.Body,
		Instructions: req.Instructions,
		Timestamp:    started,
		History:      sel.Entries,
		HistoryTotal: len(bctx.Turns),
		HistoryBytes: sel.Bytes,
		Tables:       bctx.Tables,
	})

	resultToken := o.pending.Mint()

	var streamToken string
	var str *stream.Stream
	if o.client.Settings().ReasoningStream {
		streamToken, str = o.streams.Open()
	}

	o.logger.Info("render started",
		"session", sessionID, "branch", branchID,
		"method", req.Method, "path", req.Path,
		"history_selected", len(sel.Entries), "history_total", len(bctx.Turns),
		"history_bytes", sel.Bytes)

	go o.generate(generation{
		resultToken: resultToken,
		stream:      str,
		sessionID:   sessionID,
		branchID:    branchID,
		request: domain.TurnRequest{
			Method:       req.Method,
			Path:         req.Path,
			Query:        req.Query,
			Body:         req.Body,
			Instructions: req.Instructions,
		},
		messages: messages,
		tables:   bctx.Tables,
		started:  started,
	})

	return RenderResponse{
		SessionID:      sessionID,
		SessionCreated: created,
		ResultToken:    resultToken,
		StreamToken:    streamToken,
		HTML: view.LoadingShell(view.ShellData{
			ResultURL:    ResultRoutePrefix + "/" + resultToken,
			StreamURL:    streamURL(streamToken),
			OriginalPath: req.Path,
		}),
	}
}

// Route prefixes served by the transport; the shell embeds them, so they
// are defined here rather than in the handler layer.
const (
	ResultRoutePrefix    = "/__vaporvibe/result"
	ReasoningRoutePrefix = "/__vaporvibe/reasoning"
)

func streamURL(token string) string {
	if token == "" {
		return ""
	}
	return ReasoningRoutePrefix + "/" + token
}

type generation struct {
	resultToken string
	stream      *stream.Stream
	sessionID   string
	branchID    string
	request     domain.TurnRequest
	messages    []llm.Message
	tables      domain.FragmentTables
	started     time.Time
}

// generate runs detached from the originating request: a client disconnect
// never cancels a generation, only the configured timeout does.
func (o *Orchestrator) generate(g generation) {
	ctx := context.Background()
	if o.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.GenerationTimeout)
		defer cancel()
	}

	var observe llm.StreamObserver
	if g.stream != nil {
		observe = func(ev llm.ReasoningEvent) {
			g.stream.Publish(stream.Event{Kind: stream.Kind(ev.Kind), Text: ev.Text})
		}
	}

	result, err := o.client.Generate(ctx, g.messages, observe)
	if err != nil {
		o.failGeneration(g, err)
		return
	}
	o.completeGeneration(g, result)
}

func (o *Orchestrator) completeGeneration(g generation, result *llm.Result) {
	document := view.EnsureDocument(result.HTML)
	applied := fragment.Apply(document, g.tables)
	for _, id := range applied.Missing.Components {
		o.logger.Warn("unknown component marker in generated document",
			"session", g.sessionID, "id", id)
	}
	for _, id := range applied.Missing.Styles {
		o.logger.Warn("unknown style marker in generated document",
			"session", g.sessionID, "id", id)
	}

	settings := o.client.Settings()
	turn := domain.Turn{
		ID:        uuid.NewString(),
		BranchID:  g.branchID,
		CreatedAt: g.started,
		Duration:  o.now().Sub(g.started),
		Request:   g.request,
		HTML:      applied.Document,
		Provider:  settings.Provider,
		Model:     settings.Model,
		Usage:     result.Usage,
		Reasoning: result.Reasoning,
		Fragments: applied.Tables,
	}
	if err := o.sessions.CommitTurn(g.sessionID, g.branchID, turn); err != nil {
		// The session was evicted mid-flight. The visitor still gets the
		// document; only continuity is lost.
		o.logger.Warn("commit skipped", "session", g.sessionID, "error", err)
	}

	o.pending.Resolve(g.resultToken, applied.Document)
	if g.stream != nil {
		g.stream.Close(stream.Event{Kind: stream.KindComplete})
	}
	o.logger.Info("render complete",
		"session", g.sessionID, "branch", g.branchID,
		"path", g.request.Path,
		"duration", o.now().Sub(g.started),
		"components", len(applied.Tables.Components),
		"styles", len(applied.Tables.Styles))
}

// failGeneration delivers an error document through the same pending token
// so the loading shell's poll contract stays uniform. No turn is committed.
func (o *Orchestrator) failGeneration(g generation, cause error) {
	o.logger.Error("render failed",
		"session", g.sessionID, "branch", g.branchID,
		"path", g.request.Path, "error", cause)

	o.pending.Resolve(g.resultToken, view.ErrorDocument(view.ErrorData{
		Method: g.request.Method,
		Path:   g.request.Path,
		Detail: cause.Error(),
	}))
	if g.stream != nil {
		g.stream.Close(stream.Event{Kind: stream.KindError, Text: cause.Error()})
	}
}

// Result fetches a finished document by token. The first successful read
// consumes the entry.
func (o *Orchestrator) Result(token string) (string, pending.Status) {
	return o.pending.Take(token)
}

// Stream looks up a live reasoning stream by token.
func (o *Orchestrator) Stream(token string) (*stream.Stream, bool) {
	return o.streams.Get(token)
}

// ExportHistory snapshots every live session.
func (o *Orchestrator) ExportHistory() session.Snapshot {
	return o.sessions.Export()
}

// ImportHistory merges a snapshot into the live store.
func (o *Orchestrator) ImportHistory(snap session.Snapshot) {
	o.sessions.Import(snap)
}
