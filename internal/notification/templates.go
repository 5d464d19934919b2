package notification

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

var messageTemplates = template.Must(template.New("messages").Funcs(template.FuncMap{
	"datetime": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") },
}).Parse(`
{{define "sla_escalated.subject"}}SLA overdue for lead {{.LeadID}}{{end}}
{{define "sla_escalated.body"}}Hello {{.Name}},

Lead {{.LeadID}} was assigned to {{.OwnerName}} on {{datetime .AssignedAt}} and has not been contacted before its deadline of {{datetime .Deadline}}.
Please follow up as soon as possible.{{end}}
{{define "approval_requested.subject"}}Approval needed for lead {{.LeadID}}{{end}}
{{define "approval_requested.body"}}Hello {{.Name}},

A workflow step for lead {{.LeadID}} is waiting for a decision from the {{.Role}} role.
Approval request: {{.ApprovalID}}
{{- if .Reason}}
Reason: {{.Reason}}{{end}}
The request expires on {{datetime .ExpiresAt}}.{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := messageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
