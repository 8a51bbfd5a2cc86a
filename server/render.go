package server

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"regexp"
	"strings"
	"sync"

	"Choirbook/logger"

	"github.com/fsnotify/fsnotify"
)

const layoutFile = "layout.html"

// Renderer 页面模板：每个页面与 layout 组成一个独立的模板集
type Renderer struct {
	fsys  fs.FS
	mu    sync.RWMutex
	pages map[string]*template.Template
}

// NewRenderer parses every page under fsys. Page names are file names without ".html".
func NewRenderer(fsys fs.FS) (*Renderer, error) {
	r := &Renderer{fsys: fsys}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses all templates. On failure the previous set stays in use.
func (r *Renderer) Reload() error {
	files, err := fs.Glob(r.fsys, "*.html")
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		if file == layoutFile {
			continue
		}
		name := strings.TrimSuffix(file, ".html")
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(r.fsys, layoutFile, file)
		if err != nil {
			return fmt.Errorf("failed to parse template %s: %w", file, err)
		}
		pages[name] = t
	}
	if len(pages) == 0 {
		return fmt.Errorf("no page templates found")
	}

	r.mu.Lock()
	r.pages = pages
	r.mu.Unlock()
	return nil
}

// Render executes a page into w. Output is buffered so a failing template
// never leaves a half-written response.
func (r *Renderer) Render(w io.Writer, page string, data interface{}) error {
	r.mu.RLock()
	t, ok := r.pages[page]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", page, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Watch reloads the templates whenever a file in dir changes, until ctx is done.
func (r *Renderer) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".html") {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.Reload(); err != nil {
					logger.Warn("[Templates] 重新加载失败，继续使用旧模板", logger.String("file", ev.Name), logger.ErrorField(err))
					continue
				}
				logger.Info("[Templates] 模板已重新加载", logger.String("file", ev.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("[Templates] watcher error", logger.ErrorField(err))
			}
		}
	}()
	logger.Info("[Templates] 监听模板目录", logger.String("dir", dir))
	return nil
}

var templateFuncs = template.FuncMap{
	"highlight":  highlight,
	"partLabels": partLabels,
}

// highlight HTML-escapes text and wraps every case-insensitive occurrence of
// term in <span class="highlight">.
func highlight(text, term string) template.HTML {
	if term == "" {
		return template.HTML(template.HTMLEscapeString(text))
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(term))
	if err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}

	var b strings.Builder
	last := 0
	for _, m := range re.FindAllStringIndex(text, -1) {
		b.WriteString(template.HTMLEscapeString(text[last:m[0]]))
		b.WriteString(`<span class="highlight">`)
		b.WriteString(template.HTMLEscapeString(text[m[0]:m[1]]))
		b.WriteString(`</span>`)
		last = m[1]
	}
	b.WriteString(template.HTMLEscapeString(text[last:]))
	return template.HTML(b.String())
}

// partLabels renders a label set as badges.
func partLabels(labels []string) template.HTML {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString("<span>")
		b.WriteString(template.HTMLEscapeString(l))
		b.WriteString("</span>")
	}
	return template.HTML(b.String())
}
