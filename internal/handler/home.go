package handler

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"

	"legacy-site-proxy/internal/registry"
)

// homeTemplate renders the landing page listing the proxied sites.
var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Legacy Site Proxy</title>
</head>
<body>
<h1>Legacy Site Proxy</h1>
<p>Archived sites served through this proxy:</p>
<ul>
{{- range .}}
<li><a href="/{{.Prefix}}/">{{.OriginHost}}</a> ({{.EncodingName}})</li>
{{- end}}
</ul>
</body>
</html>
`))

// HomeHandler serves the landing page.
type HomeHandler struct {
	reg *registry.Registry
}

// NewHomeHandler creates a HomeHandler.
func NewHomeHandler(reg *registry.Registry) *HomeHandler {
	return &HomeHandler{reg: reg}
}

// Index lists the configured sites as entry links.
func (h *HomeHandler) Index(c echo.Context) error {
	var buf bytes.Buffer
	if err := homeTemplate.Execute(&buf, h.reg.Sites()); err != nil {
		return err
	}
	return c.HTML(http.StatusOK, buf.String())
}
