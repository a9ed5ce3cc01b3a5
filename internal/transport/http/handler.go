package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/gerkensm/vaporvibe/internal/domain"
	"github.com/gerkensm/vaporvibe/internal/pending"
	"github.com/gerkensm/vaporvibe/internal/service"
	"github.com/gerkensm/vaporvibe/internal/session"
	"github.com/gerkensm/vaporvibe/internal/stream"
)

const (
	sessionCookieName = "sid"
	branchField       = "vv-branch"
	instructionsField = "VAPORVIBE_INSTRUCTIONS"
	adminHistoryPath  = "/vaporvibe/api/history"
)

// Handler handles HTTP requests.
type Handler struct {
	orch   *service.Orchestrator
	logger *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(orch *service.Orchestrator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, logger: logger}
}

// RegisterRoutes registers all engine routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET(service.ResultRoutePrefix+"/:token", h.Result)
	e.GET(service.ReasoningRoutePrefix+"/:token", h.Reasoning)

	e.GET(adminHistoryPath, h.ExportHistory)
	e.POST(adminHistoryPath, h.ImportHistory)

	// Everything else is a page request answered by the model.
	e.Any("/*", h.Render)
}

// Render serves the catch-all page route: it kicks off a generation and
// replies immediately with the loading shell.
func (h *Handler) Render(c echo.Context) error {
	req := c.Request()
	path := req.URL.Path

	if isNoisePath(path) {
		return c.NoContent(http.StatusNotFound)
	}

	// Non-GET requests to the handoff routes fall through to the catch-all;
	// they are protocol errors, not page requests.
	if strings.HasPrefix(path, service.ResultRoutePrefix+"/") ||
		strings.HasPrefix(path, service.ReasoningRoutePrefix+"/") {
		return echo.NewHTTPError(http.StatusMethodNotAllowed)
	}

	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return echo.NewHTTPError(http.StatusMethodNotAllowed)
	}

	query := valuesFrom(c.QueryParams())
	body := h.formValues(c)

	branchID := takeField(query, body, branchField)
	if branchID == "" {
		branchID = session.DefaultBranchID
	}
	instructions := takeField(query, body, instructionsField)

	cookieValue := ""
	if cookie, err := c.Cookie(sessionCookieName); err == nil {
		cookieValue = cookie.Value
	}

	resp := h.orch.Render(service.RenderRequest{
		SessionCookie: cookieValue,
		BranchID:      branchID,
		Method:        req.Method,
		Path:          path,
		Query:         query,
		Body:          body,
		Instructions:  instructions,
	})

	if resp.SessionID != cookieValue {
		c.SetCookie(&http.Cookie{
			Name:     sessionCookieName,
			Value:    resp.SessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	if req.Method == http.MethodHead {
		c.Response().Header().Set("Link",
			fmt.Sprintf("<%s/%s>; rel=\"result\"", service.ResultRoutePrefix, resp.ResultToken))
		return c.NoContent(http.StatusOK)
	}
	return c.HTML(http.StatusOK, resp.HTML)
}

// Result serves the one-shot generated document. Polls before completion
// get 202; the first read after completion consumes the entry.
func (h *Handler) Result(c echo.Context) error {
	token := c.Param("token")
	html, status := h.orch.Result(token)
	switch status {
	case pending.StatusReady:
		return c.HTML(http.StatusOK, html)
	case pending.StatusPending:
		return c.JSON(http.StatusAccepted, map[string]string{"status": "pending"})
	default:
		return c.JSON(http.StatusNotFound, map[string]string{"error": "result not found"})
	}
}

// Reasoning streams a generation's reasoning side channel via SSE:
// buffered events first, then live ones until a terminal event or client
// disconnect.
func (h *Handler) Reasoning(c echo.Context) error {
	token := c.Param("token")
	s, ok := h.orch.Stream(token)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "stream not found"})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	flusher, _ := c.Response().Writer.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	replay, live, cancel := s.Subscribe()
	defer cancel()

	for _, ev := range replay {
		if err := writeSSEEvent(c.Response(), ev); err != nil {
			return nil
		}
		if ev.Terminal() {
			flush()
			return nil
		}
	}
	flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-live:
			if !open {
				return nil
			}
			if err := writeSSEEvent(c.Response(), ev); err != nil {
				return nil
			}
			flush()
			if ev.Terminal() {
				return nil
			}
		}
	}
}

// ExportHistory returns the full Session → Branch → Turn snapshot.
func (h *Handler) ExportHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, h.orch.ExportHistory())
}

// ImportHistory merges an uploaded snapshot into the live store.
func (h *Handler) ImportHistory(c echo.Context) error {
	var snap session.Snapshot
	if err := c.Bind(&snap); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid snapshot payload"})
	}
	h.orch.ImportHistory(snap)
	h.logger.Info("history imported", "sessions", len(snap.Sessions))
	return c.JSON(http.StatusOK, map[string]int{"sessions": len(snap.Sessions)})
}

// rawBodyField carries a body the engine cannot decode structurally, so
// unknown payloads still reach the prompt instead of vanishing.
const rawBodyField = "_raw"

// maxRawBodyBytes bounds how much of an opaque body is captured.
const maxRawBodyBytes = 1 << 20

// formValues extracts submitted body fields. Form and multipart bodies
// decode field-wise, JSON bodies flatten their top-level fields, and any
// other non-empty body lands under a raw fallback field. Query parameters
// are kept separate.
func (h *Handler) formValues(c echo.Context) domain.Values {
	req := c.Request()
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		return domain.Values{}
	}

	ctype := req.Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(ctype, echo.MIMEApplicationJSON):
		return h.jsonValues(c)
	case strings.HasPrefix(ctype, echo.MIMEApplicationForm), strings.HasPrefix(ctype, echo.MIMEMultipartForm):
		if _, err := c.FormParams(); err != nil {
			h.logger.Warn("form parse failed", "path", req.URL.Path, "error", err)
			return domain.Values{}
		}
		body := valuesFrom(req.PostForm)
		if req.MultipartForm != nil {
			for key, vals := range req.MultipartForm.Value {
				for _, v := range vals {
					if !contains(body[key], v) {
						body.Add(key, v)
					}
				}
			}
		}
		return body
	default:
		return h.rawValues(c)
	}
}

// jsonValues flattens a JSON object body into Values: scalars become their
// string form, arrays of scalars become repeated values, and anything
// nested is kept as compact JSON. Non-object payloads fall back to the raw
// field.
func (h *Handler) jsonValues(c echo.Context) domain.Values {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRawBodyBytes))
	if err != nil || len(raw) == 0 {
		return domain.Values{}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		h.logger.Warn("json body parse failed", "path", c.Request().URL.Path, "error", err)
		return domain.Values{rawBodyField: {string(raw)}}
	}

	body := make(domain.Values, len(fields))
	for key, value := range fields {
		appendJSONField(body, key, value)
	}
	return body
}

func appendJSONField(out domain.Values, key string, raw json.RawMessage) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		out.Add(key, s)
		return
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		for _, item := range list {
			appendJSONField(out, key, item)
		}
		return
	}
	// Numbers, booleans, null, and nested objects keep their JSON text.
	out.Add(key, string(raw))
}

func (h *Handler) rawValues(c echo.Context) domain.Values {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRawBodyBytes))
	if err != nil || len(raw) == 0 {
		return domain.Values{}
	}
	return domain.Values{rawBodyField: {string(raw)}}
}

func valuesFrom(src map[string][]string) domain.Values {
	out := make(domain.Values, len(src))
	for key, vals := range src {
		copied := make([]string, len(vals))
		copy(copied, vals)
		out[key] = copied
	}
	return out
}

// takeField pulls a control field out of the page state: the body wins
// over the query, and the field is removed from both.
func takeField(query, body domain.Values, field string) string {
	value := body.Get(field)
	if value == "" {
		value = query.Get(field)
	}
	body.Delete(field)
	query.Delete(field)
	return value
}

func contains(vals []string, v string) bool {
	for _, existing := range vals {
		if existing == v {
			return true
		}
	}
	return false
}

// noisePaths are asset requests browsers fire on their own; burning a
// generation on them would pollute the history.
var noisePaths = map[string]bool{
	"/favicon.ico": true,
	"/robots.txt":  true,
	"/sitemap.xml": true,
}

func isNoisePath(path string) bool {
	if noisePaths[path] {
		return true
	}
	if strings.HasPrefix(path, "/.well-known/") || strings.HasPrefix(path, "/apple-touch-icon") {
		return true
	}
	return strings.HasSuffix(path, ".map")
}

func writeSSEEvent(w http.ResponseWriter, ev stream.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Kind); err != nil {
		return err
	}
	for _, line := range strings.Split(ev.Text, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}
