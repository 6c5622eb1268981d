package web

import (
	"html/template"
)

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>ccr {{.Contract}}</title>
</head>
<body>
  <h1>ccr {{.Version}}</h1>
  <p>Mode {{.Mode}}, contract {{.Contract}}, sponsor <code>{{.Sponsor}}</code> holding {{.Balance}}</p>
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  {{with .View}}
  <h2>Coins</h2>
  <p>Admin <code>{{.Admin}}</code></p>
  <table>
    <tr><th>Key</th><th>Amount</th><th>Redeemed</th></tr>
    {{range .Coins}}<tr><td><code>{{.PublicKey}}</code></td><td>{{.Amount}}</td><td>{{if .IsRedeemed}}yes{{else}}no{{end}}</td></tr>
    {{end}}
  </table>
  {{end}}
  <h2>Events</h2>
  <ul id="events">
    {{range .Events}}<li class="{{.Level}}">{{.Timestamp.Format "15:04:05"}} {{.Text}}</li>
    {{end}}
  </ul>
  <p><a href="/api/docs?name=redeem">Redeeming</a> · <a href="/api/docs?name=permit">Permits</a> · <a href="/api/docs?name=api">API</a></p>
</body>
</html>`

// parseTemplates parses the page templates compiled into the binary.
func parseTemplates() (*template.Template, error) {
	return template.New("index").Parse(indexTemplate)
}
