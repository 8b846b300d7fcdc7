package notify

import (
	"bytes"
	"html/template"
)

var inviteTemplate = template.Must(template.New("invite").Parse(`<html><body>
<p>You have been asked to sign the document <strong>{{.Name}}</strong> (no. {{.Number}}).</p>
<p>Uploaded by: {{.UploadedBy}}<br>Comment: {{.Comment}}</p>
<p>The file to sign is attached. Once signed, upload it here:<br>
<a href="{{.SignLink}}">{{.SignLink}}</a></p>
</body></html>`))

var completionTemplate = template.Must(template.New("completion").Parse(`<html><body>
<p>All signees have signed the document <strong>{{.Name}}</strong> (no. {{.Number}}).</p>
<p>Uploaded by: {{.UploadedBy}}<br>Comment: {{.Comment}}</p>
</body></html>`))

type mailContext struct {
	Name       string
	Number     string
	Comment    string
	UploadedBy string
	SignLink   string
}

func render(tmpl *template.Template, data mailContext) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
