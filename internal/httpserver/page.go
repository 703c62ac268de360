package httpserver

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/seabird/chitter/internal/domain"
)

// pageItem is one URL rendered on the index page.
type pageItem struct {
	URL       string
	Users     []string
	Reshares  []domain.GroupedReshare
	Originals []domain.GroupedOriginal
}

var indexTemplate = template.Must(template.New("index").Funcs(template.FuncMap{
	"linkify": linkify,
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf8">
<style>
	html { overflow-x: hidden; }
	article {
		margin: 4em auto;
		max-width: 720px;
		line-height: 1.4;
		padding-bottom: 4em;
		border-bottom: 2px solid black;
		font-family: sans-serif;
	}
	h4 { position: sticky; top: 0; background: #fff; }
	.user { color: #888; }
	.context { padding: 0.5em; background: #f0f0f0; margin-bottom: 1em; }
	.repeats { color: #888; font-size: 0.8em; }
	a { color: blue; }
	ul, li { list-style-type: none; }
</style>
</head>
<body>
{{range .}}
<article>
	<h4><a href="{{.URL}}">{{.URL}}</a></h4>
	<div class="user">saved by {{range $i, $u := .Users}}{{if $i}}, {{end}}{{$u}}{{end}}</div>
	{{range .Originals}}
	<div class="context">
		<div class="user">{{.User}}</div>
		{{linkify .Text}}
		{{if .Repeats}}<span class="repeats">(seen {{.Repeats}} more times)</span>{{end}}
		<ul class="subs">
		{{range .Sub}}<li><em class="user">{{.User}}</em>: {{linkify .Text}}</li>{{end}}
		</ul>
	</div>
	{{end}}
	{{range .Reshares}}
	<div class="context">
		<div class="user">{{.User}} (reshared by {{range $i, $u := .Resharers}}{{if $i}}, {{end}}{{$u}}{{end}})</div>
		{{linkify .Text}}
	</div>
	{{end}}
</article>
{{end}}
</body>
</html>
`))

// linkify HTML-escapes text, then turns bare platform short links into
// anchors.
func linkify(text string) template.HTML {
	escaped := template.HTMLEscapeString(text)
	linked := shortLinkExpr.ReplaceAllString(escaped, `<a href="$0">$0</a>`)
	return template.HTML(linked)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
