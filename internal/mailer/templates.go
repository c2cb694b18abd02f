package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

var (
	uaaInviteTemplate = template.Must(template.New("uaaInvite").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
	<h2>You've been invited to cloud.gov Pages</h2>
	<p>A Pages organization manager invited you to join their organization.</p>
	<p>To accept, create your cloud.gov account using the link below:</p>
	<p><a href="{{.Link}}">{{.Link}}</a></p>
	<p>Once your account is set up, sign in to Pages and connect your GitHub account.</p>
</body>
</html>
`))

	sandboxReminderTemplate = template.Must(template.New("sandboxReminder").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
	<h2>Your sandbox sites will be removed on {{.DateStr}}</h2>
	<p>The sites in your sandbox organization <strong>{{.OrganizationName}}</strong> will be removed on {{.DateStr}}.</p>
	{{- if .Sites}}
	<p>The following sites will be removed:</p>
	<ul>
	{{- range .Sites}}
		<li><a href="{{$.Hostname}}/sites/{{.ID}}/builds">{{.Owner}}/{{.Repository}}</a></li>
	{{- end}}
	</ul>
	{{- end}}
	<p>After removal you can add sites to the organization again at
	<a href="{{.Hostname}}/organizations/{{.OrganizationID}}">{{.Hostname}}/organizations/{{.OrganizationID}}</a>.</p>
</body>
</html>
`))

	alertTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
	<h2>{{.Reason}}</h2>
	<ul>
	{{- range .Errors}}
		<li>{{.}}</li>
	{{- end}}
	</ul>
</body>
</html>
`))
)

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}
