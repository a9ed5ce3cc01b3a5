package view

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadingShellEmbedsRoutes(t *testing.T) {
	html := LoadingShell(ShellData{
		ResultURL:    "/__vaporvibe/result/tok-1",
		StreamURL:    "/__vaporvibe/reasoning/tok-2",
		OriginalPath: "/menu?x=1",
	})
	assert.Contains(t, html, "/__vaporvibe/result/tok-1")
	assert.Contains(t, html, "/__vaporvibe/reasoning/tok-2")
	assert.Contains(t, html, "data-vaporvibe-loading")
	assert.Contains(t, html, defaultShellMessage)
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
}

func TestLoadingShellWithoutStream(t *testing.T) {
	html := LoadingShell(ShellData{ResultURL: "/__vaporvibe/result/tok"})
	assert.NotContains(t, html, "/__vaporvibe/reasoning/")
	assert.Contains(t, html, `streamUrl = ""`)
}

func TestErrorDocumentMarker(t *testing.T) {
	html := ErrorDocument(ErrorData{Method: "POST", Path: "/cart", Detail: "upstream timeout"})
	assert.Contains(t, html, "data-vaporvibe-error")
	assert.Contains(t, html, "POST")
	assert.Contains(t, html, "/cart")
	assert.Contains(t, html, "upstream timeout")
}

func TestEnsureDocument(t *testing.T) {
	full := "<!DOCTYPE html><html><body>ok</body></html>"
	assert.Equal(t, full, EnsureDocument(full))

	upper := "<HTML><body>ok</body></HTML>"
	assert.Equal(t, upper, EnsureDocument(upper))

	wrapped := EnsureDocument("<h1>bare</h1>")
	assert.Contains(t, wrapped, "<!DOCTYPE html>")
	assert.Contains(t, wrapped, "<h1>bare</h1>")
}
