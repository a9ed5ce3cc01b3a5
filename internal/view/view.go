// Package view renders the engine's own pages: the loading shell served
// while a generation runs, and the error document shown when one fails.
// Generated application pages never come from here.
package view

import (
	"fmt"
	"html/template"
	"strings"
)

// ShellData parameterizes the loading shell for one in-flight generation.
type ShellData struct {
	// ResultURL is polled until the generated document is ready.
	ResultURL string
	// StreamURL, when non-empty, is attached as an SSE source for live
	// status text. Left empty when the provider has no reasoning stream.
	StreamURL string
	// OriginalPath restores the address bar after the document swap.
	OriginalPath string
	Message      string
}

const defaultShellMessage = "Composing your next view…"

var shellTmpl = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Loading · vaporvibe</title>
<style>
:root { color-scheme: light dark; }
body { margin: 0; font-family: system-ui, sans-serif; display: grid; place-items: center; min-height: 100vh; }
main { text-align: center; max-width: 28rem; padding: 2rem; }
.spinner { width: 3rem; height: 3rem; margin: 0 auto 1.5rem; border: 4px solid rgba(29,78,216,.2); border-top-color: #1d4ed8; border-radius: 50%; animation: spin 1s linear infinite; }
@keyframes spin { to { transform: rotate(360deg); } }
.status { min-height: 3em; opacity: .8; }
.hint { font-size: .85rem; opacity: .6; }
</style>
</head>
<body data-vaporvibe-loading>
<main>
<div class="spinner" role="status" aria-label="Generating the next view"></div>
<h1>Generating your next view</h1>
<p class="status" data-status>{{.Message}}</p>
<p class="hint">The model is composing a fresh page for this request. This usually lands within a minute.</p>
</main>
<script>
(function () {
  var resultUrl = {{.ResultURL}};
  var streamUrl = {{.StreamURL}};
  var originalPath = {{.OriginalPath}};
  var statusEl = document.querySelector("[data-status]");

  function setStatus(text) {
    if (statusEl && text) statusEl.textContent = text;
  }

  function fail(message) {
    var main = document.querySelector("main");
    if (main) {
      main.innerHTML = "<h1>We hit a snag</h1><p>" + message +
        "</p><p class='hint'>Reload to retry the request.</p>";
    }
  }

  if (streamUrl && window.EventSource) {
    try {
      var source = new EventSource(streamUrl);
      source.addEventListener("reasoning", function (ev) { setStatus(ev.data); });
      source.addEventListener("status", function (ev) { setStatus(ev.data); });
      source.addEventListener("complete", function () { source.close(); });
      source.addEventListener("error", function () { source.close(); });
    } catch (err) { /* polling still drives the swap */ }
  }

  function poll() {
    fetch(resultUrl, { credentials: "same-origin", cache: "no-store", headers: { "Accept": "text/html" } })
      .then(function (response) {
        if (response.status === 202) {
          setTimeout(poll, 1000);
          return null;
        }
        if (!response.ok) {
          throw new Error("result request returned " + response.status);
        }
        return response.text();
      })
      .then(function (html) {
        if (html === null) return;
        try { history.replaceState(null, "", originalPath); } catch (err) {}
        document.open("text/html", "replace");
        document.write(html);
        document.close();
      })
      .catch(function () {
        fail("The generated page is no longer available.");
      });
  }
  poll();
})();
</script>
</body>
</html>
`))

// LoadingShell renders the interim page that polls for the generated
// document and mirrors live status over SSE.
func LoadingShell(data ShellData) string {
	if data.Message == "" {
		data.Message = defaultShellMessage
	}
	if data.OriginalPath == "" {
		data.OriginalPath = "/"
	}
	var b strings.Builder
	if err := shellTmpl.Execute(&b, data); err != nil {
		// The template is static and the data is plain strings; execution
		// cannot fail outside programmer error.
		panic(fmt.Sprintf("render loading shell: %v", err))
	}
	return b.String()
}

var errorTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Generation failed · vaporvibe</title>
<style>
body { margin: 0; font-family: system-ui, sans-serif; display: grid; place-items: center; min-height: 100vh; background: #1c1917; color: #fafaf9; }
main { max-width: 32rem; padding: 2rem; }
h1 { color: #f87171; }
code { background: rgba(255,255,255,.1); padding: .15em .4em; border-radius: 4px; }
.detail { white-space: pre-wrap; font-family: ui-monospace, monospace; font-size: .85rem; opacity: .8; }
</style>
</head>
<body data-vaporvibe-error>
<main>
<h1>Generation failed</h1>
<p>The model could not produce a page for <code>{{.Method}} {{.Path}}</code>.</p>
<p class="detail">{{.Detail}}</p>
<p><a href="{{.Path}}" style="color:#93c5fd">Retry the request</a></p>
</main>
</body>
</html>
`))

// ErrorData parameterizes the error document.
type ErrorData struct {
	Method string
	Path   string
	Detail string
}

// ErrorDocument renders the page shown when a generation fails. The
// body carries a data-vaporvibe-error attribute so callers can tell it
// apart from model output.
func ErrorDocument(data ErrorData) string {
	if data.Path == "" {
		data.Path = "/"
	}
	var b strings.Builder
	if err := errorTmpl.Execute(&b, data); err != nil {
		panic(fmt.Sprintf("render error document: %v", err))
	}
	return b.String()
}

// EnsureDocument wraps a bare HTML fragment into a full document when the
// model ignored the output contract. Full documents pass through untouched.
func EnsureDocument(html string) string {
	trimmed := strings.TrimSpace(html)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		return html
	}
	return "<!DOCTYPE html>\n<html lang=\"en\">\n<head><meta charset=\"utf-8\"></head>\n<body>\n" +
		trimmed + "\n</body>\n</html>"
}
