package server

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"Choirbook/web"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHighlight(t *testing.T) {
	tests := []struct {
		text, term, want string
	}{
		{"Bach Cantata", "", "Bach Cantata"},
		{"Bach Cantata", "bach", `<span class="highlight">Bach</span> Cantata`},
		{"ABBA abba", "bb", `A<span class="highlight">BB</span>A a<span class="highlight">bb</span>a`},
		{"Tom & Jerry", "jerry", `Tom &amp; <span class="highlight">Jerry</span>`},
		{"<b>bold</b>", "b", `&lt;<span class="highlight">b</span>&gt;<span class="highlight">b</span>old&lt;/<span class="highlight">b</span>&gt;`},
		{"1+1 (two)", "+1 (", `1<span class="highlight">+1 (</span>two)`},
		{"Requiem", "mass", "Requiem"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(highlight(tt.text, tt.term)), tt.text+"/"+tt.term)
	}
}

func TestPartLabels(t *testing.T) {
	assert.Equal(t, "<span>S</span><span>T/B</span>", string(partLabels([]string{"S", "T/B"})))
	assert.Equal(t, "", string(partLabels(nil)))
	assert.Equal(t, "<span>&lt;x&gt;</span>", string(partLabels([]string{"<x>"})))
}

func testTemplates(greeting string) fstest.MapFS {
	return fstest.MapFS{
		"layout.html": {Data: []byte(`{{define "layout"}}[{{template "content" .}}]{{end}}`)},
		"hello.html":  {Data: []byte(`{{define "content"}}` + greeting + ` {{.}}{{end}}`)},
	}
}

func TestRendererRenderAndReload(t *testing.T) {
	fsys := testTemplates("hello")
	r, err := NewRenderer(fsys)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, "hello", "choir"))
	assert.Equal(t, "[hello choir]", buf.String())

	assert.Error(t, r.Render(&buf, "layout", nil))
	assert.Error(t, r.Render(&buf, "missing", nil))

	fsys["hello.html"].Data = []byte(`{{define "content"}}hi {{.}}{{end}}`)
	require.NoError(t, r.Reload())
	buf.Reset()
	require.NoError(t, r.Render(&buf, "hello", "choir"))
	assert.Equal(t, "[hi choir]", buf.String())

	// 解析失败时保留旧模板
	fsys["hello.html"].Data = []byte(`{{define "content"}}{{.Broken{{end}}`)
	assert.Error(t, r.Reload())
	buf.Reset()
	require.NoError(t, r.Render(&buf, "hello", "choir"))
	assert.Equal(t, "[hi choir]", buf.String())
}

func TestRendererFailedExecutionWritesNothing(t *testing.T) {
	r, err := NewRenderer(fstest.MapFS{
		"layout.html": {Data: []byte(`{{define "layout"}}start {{template "content" .}}{{end}}`)},
		"bad.html":    {Data: []byte(`{{define "content"}}{{.Missing.Field}}{{end}}`)},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.Error(t, r.Render(&buf, "bad", struct{}{}))
	assert.Zero(t, buf.Len())
}

func TestNewRendererNeedsPages(t *testing.T) {
	_, err := NewRenderer(fstest.MapFS{"layout.html": {Data: []byte(`{{define "layout"}}{{end}}`)}})
	assert.Error(t, err)
}

func TestRendererWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	for name, f := range testTemplates("hello") {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), f.Data, 0o644))
	}
	r, err := NewRenderer(os.DirFS(dir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Watch(ctx, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.html"),
		[]byte(`{{define "content"}}welcome {{.}}{{end}}`), 0o644))

	assert.Eventually(t, func() bool {
		var buf bytes.Buffer
		return r.Render(&buf, "hello", "back") == nil && buf.String() == "[welcome back]"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEmbeddedTemplates(t *testing.T) {
	r, err := NewRenderer(web.Templates())
	require.NoError(t, err)

	for _, page := range []string{"login", "register", "contact", "useful_links", "landing", "error"} {
		var buf bytes.Buffer
		data := &pageData{Form: map[string]string{}, Status: 500, Message: "boom"}
		require.NoError(t, r.Render(&buf, page, data), page)
		assert.Contains(t, buf.String(), "</html>", page)
	}
}
