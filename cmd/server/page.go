package main

import (
	"bytes"
	"html/template"
	"net/http"

	"giftvalue/internal/render"
)

// pageTemplate is the thin adapter that draws a render.Page.
var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
{{- if .Chart}}
<script src="https://cdn.jsdelivr.net/npm/chart.js@4"></script>
{{- end}}
</head>
<body class="view-{{.View}}">
<main>
<h1>{{.Title}}</h1>
{{- if .Headline}}
<p class="headline">{{.Headline}}</p>
{{- end}}
{{- range .Lines}}
<p>{{.}}</p>
{{- end}}
{{- if .Choices}}
<ul class="recipients">
{{- range .Choices}}
<li><a href="?{{$.RecipientParam}}={{.ID}}">{{.Name}}</a></li>
{{- end}}
</ul>
{{- end}}
{{- if .PriceNote}}
<p class="note">{{.PriceNote}}</p>
{{- end}}
{{- if .Chart}}
<canvas id="chart" width="640" height="320"></canvas>
<script>
const cfg = {{.Chart}};
if (window.Chart) {
  new Chart(document.getElementById("chart"), {
    type: cfg.type,
    data: {
      labels: cfg.labels,
      datasets: cfg.datasets.map(d => ({label: d.label, data: d.data, borderDash: d.dashed ? [6, 4] : []}))
    }
  });
}
</script>
{{- end}}
</main>
</body>
</html>
`))

// pageView is what the template sees: the page plus the query parameter
// the selection links must carry.
type pageView struct {
	render.Page
	RecipientParam string
}

// writeHTML renders p into a buffer first so a template failure never leaves
// a half-written page; it falls back to the reload prompt.
func writeHTML(w http.ResponseWriter, status int, p render.Page, recipientParam string) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, pageView{Page: p, RecipientParam: recipientParam}); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = pageTemplate.Execute(&buf, pageView{Page: render.ErrorPage(), RecipientParam: recipientParam})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
