package server

import (
	"html/template"
	"strings"

	"github.com/ifuryst/murmur/pkg/util"
)

type pageData struct {
	Title     string
	Message   string
	Outcome   string
	ContentID string
	Platform  string
}

var approvalPage = template.Must(template.New("approval").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 32rem; margin: 4rem auto; padding: 0 1rem; color: #222; }
h1 { font-size: 1.5rem; }
.meta { color: #777; font-size: 0.875rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .ContentID}}<p class="meta">Content {{.ContentID}}{{if .Platform}} · {{.Platform}}{{end}}</p>{{end}}
</body>
</html>
`))

var tokenRoutes = []string{"/api/v1/approve/", "/api/v1/reject/"}

// redactPath masks approval tokens before a path is logged.
func redactPath(path string) string {
	for _, prefix := range tokenRoutes {
		if token, ok := strings.CutPrefix(path, prefix); ok {
			return prefix + util.MaskToken(token)
		}
	}
	return path
}
