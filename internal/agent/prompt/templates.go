package prompt

// Template names.
const (
	System       = "system"
	Assessment   = "assessment"
	Troubleshoot = "troubleshoot"
	FollowUp     = "followup"
)

// Defaults returns the built-in templates.
func Defaults() []Template {
	return []Template{
		{
			Name:        System,
			Description: "System prompt shared by every agent run",
			Required:    []string{"Services", "SafetyMode"},
			Text:        systemPrompt,
		},
		{
			Name:        Assessment,
			Description: "Initial health assessment ending in a structured report",
			Required:    []string{"Services", "ReportFormat"},
			Text:        assessmentPrompt,
		},
		{
			Name:        Troubleshoot,
			Description: "Troubleshooting phase for one category of failing services",
			Required:    []string{"Category", "Services", "SafetyMode"},
			Text:        troubleshootPrompt,
		},
		{
			Name:        FollowUp,
			Description: "Operator follow-up question after the assessment",
			Required:    []string{"Question"},
			Text:        followUpPrompt,
		},
	}
}

const systemPrompt = `You are BoxFixer, an assistant that diagnoses and repairs QA boxes: shared test
environments running services under systemd, Docker and Kubernetes.

Services on this box: {{ join ", " .Services }}.

How to work:
- Gather facts with your tools before drawing conclusions. Do not guess service state.
- A service is failing when it is not running, not found, or reports an error.
- Recommend rebuilding the box when more than 2 services have been running for 5 days
  or longer, or when CPU, memory or disk usage is a bottleneck.
- Keep answers short and concrete. Use markdown lists for findings and next steps.
{{- if eq .SafetyMode "off" }}
- Command execution is disabled. Suggest commands for the operator to run instead.
{{- else }}
- Commands you run are checked by a safety policy. Destructive commands (deleting
  files or resources, killing processes, wiping disks, sudo, permission changes,
  shutdowns) are always refused, so never propose them.
{{- if eq .SafetyMode "supervised" }}
- Every command needs operator approval. Explain why you want to run it.
{{- end }}
{{- end }}`

const assessmentPrompt = `Assess the health of this QA box.

1. Check the status of all services ({{ len .Services }} configured).
2. Check CPU, memory and disk usage.
3. Summarise what is wrong, if anything, and whether a rebuild is recommended.

{{ .ReportFormat }}`

const troubleshootPrompt = `The following {{ .Category }} services are failing: {{ join ", " .Services }}.

Fetch the troubleshooting steps for the "{{ .Category }}" category once, then work through
them for each failing service. Do not request the same category again.
{{- if eq .SafetyMode "off" }}
List the commands the operator should run, in order, with what to look for in the output.
{{- else }}
Run diagnostic commands one at a time and read their output before deciding on the next step.
{{- if eq .SafetyMode "supervised" }} Each command is shown to the operator for approval; if one
is declined, adapt your plan instead of retrying it.{{ end }}
{{- end }}
Finish with a short summary: root cause if found, what was done, and what remains.`

const followUpPrompt = `{{- with get . "Report" }}Latest health report:
{{ . }}

{{ end -}}
{{ .Question }}`
