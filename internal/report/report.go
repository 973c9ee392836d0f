package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"sentinel/internal/domain"
)

const incidentMarkdown = `# Incident Report {{.ID}}

- **Type:** {{.Type}}
- **Severity:** {{.Severity}}
- **Status:** {{.Status}}
- **Detected:** {{fmtTime .Timestamp}}
- **Detection method:** {{.DetectionMethod}}
{{- if .AffectedContracts}}
- **Affected contracts:** {{join .AffectedContracts ", "}}
{{- end}}
{{- if .EstimatedImpact}}
- **Estimated impact:** {{.EstimatedImpact}}
{{- end}}

{{.Description}}

## Response Actions
{{- if not .ResponseActions}}
No response actions were taken.
{{- end}}
{{- range .ResponseActions}}
- **{{.Type}}** ({{if .Automated}}automated{{else}}manual{{end}}): {{if .Executed}}{{.Result}}{{else}}not executed{{end}}{{if .Error}} — {{.Error}}{{end}}
{{- range .Targets}}
  - {{.Contract}}: {{if .OK}}ok{{if .TxHash}} tx={{.TxHash}}{{end}}{{else}}failed{{if .Error}} ({{.Error}}){{end}}{{end}}
{{- end}}
{{- end}}

## Timeline
{{- range .Timeline}}
- {{fmtTime .Timestamp}} [{{.Severity}}] {{.Event}}{{if .Details}}: {{.Details}}{{end}}
{{- end}}
`

const monitoringMarkdown = `# Monitoring Report

Generated: {{fmtTime .GeneratedAt}}
Network: {{.Network}}

| Contract | Status | Balance (wei) | Tx | Errors | Uptime |
|----------|--------|---------------|----|--------|--------|
{{- range .Metrics}}
| {{.ContractName}} | {{.Status}} | {{if .Balance}}{{.Balance}}{{else}}n/a{{end}} | {{.TxCount}} | {{.ErrorCount}} | {{printf "%.1f" .Uptime}}% |
{{- end}}
`

// MonitoringSnapshot is the report model for one monitoring summary.
// Params: generation time, network label, and latest metrics.
// Returns: template input for WriteMonitoring.
type MonitoringSnapshot struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Network     string                 `json:"network"`
	Metrics     []domain.HealthMetrics `json:"metrics"`
}

// Writer renders incident and monitoring reports into a directory.
// Params: output directory and parsed templates.
// Returns: artifact writer used on incident resolution and on demand.
type Writer struct {
	dir                string
	incidentTemplate   *template.Template
	monitoringTemplate *template.Template
}

// NewWriter creates the report writer and its output directory.
// Params: output directory path.
// Returns: initialized writer or mkdir/template error.
func NewWriter(dir string) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("report directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory %q: %w", dir, err)
	}
	funcs := template.FuncMap{
		"fmtTime": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
		"join":    strings.Join,
	}
	incidentTemplate, err := template.New("incident").Funcs(funcs).Parse(incidentMarkdown)
	if err != nil {
		return nil, fmt.Errorf("parse incident template: %w", err)
	}
	monitoringTemplate, err := template.New("monitoring").Funcs(funcs).Parse(monitoringMarkdown)
	if err != nil {
		return nil, fmt.Errorf("parse monitoring template: %w", err)
	}
	return &Writer{
		dir:                dir,
		incidentTemplate:   incidentTemplate,
		monitoringTemplate: monitoringTemplate,
	}, nil
}

// WriteIncident renders one incident into JSON and markdown artifacts.
// Params: resolved or escalated incident snapshot.
// Returns: artifact paths or render/write error.
func (w *Writer) WriteIncident(incident domain.Incident) (jsonPath, markdownPath string, err error) {
	jsonPath = filepath.Join(w.dir, "incident-"+incident.ID+".json")
	markdownPath = filepath.Join(w.dir, "incident-"+incident.ID+".md")

	encoded, err := json.MarshalIndent(incident, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode incident %s: %w", incident.ID, err)
	}
	if err := os.WriteFile(jsonPath, encoded, 0o644); err != nil {
		return "", "", fmt.Errorf("write incident json: %w", err)
	}

	var rendered strings.Builder
	if err := w.incidentTemplate.Execute(&rendered, incident); err != nil {
		return "", "", fmt.Errorf("render incident %s: %w", incident.ID, err)
	}
	if err := os.WriteFile(markdownPath, []byte(rendered.String()), 0o644); err != nil {
		return "", "", fmt.Errorf("write incident markdown: %w", err)
	}
	return jsonPath, markdownPath, nil
}

// WriteMonitoring renders one monitoring summary into JSON and markdown.
// Params: monitoring snapshot.
// Returns: artifact paths or render/write error.
func (w *Writer) WriteMonitoring(snapshot MonitoringSnapshot) (jsonPath, markdownPath string, err error) {
	stamp := snapshot.GeneratedAt.UTC().Format("20060102-150405")
	jsonPath = filepath.Join(w.dir, "monitoring-"+stamp+".json")
	markdownPath = filepath.Join(w.dir, "monitoring-"+stamp+".md")

	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode monitoring snapshot: %w", err)
	}
	if err := os.WriteFile(jsonPath, encoded, 0o644); err != nil {
		return "", "", fmt.Errorf("write monitoring json: %w", err)
	}

	var rendered strings.Builder
	if err := w.monitoringTemplate.Execute(&rendered, snapshot); err != nil {
		return "", "", fmt.Errorf("render monitoring snapshot: %w", err)
	}
	if err := os.WriteFile(markdownPath, []byte(rendered.String()), 0o644); err != nil {
		return "", "", fmt.Errorf("write monitoring markdown: %w", err)
	}
	return jsonPath, markdownPath, nil
}

// ParseIncident loads one incident artifact back from its JSON file.
// Params: path to a previously written incident JSON artifact.
// Returns: decoded incident or read/decode error.
func ParseIncident(path string) (domain.Incident, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Incident{}, fmt.Errorf("read incident artifact: %w", err)
	}
	var incident domain.Incident
	if err := json.Unmarshal(raw, &incident); err != nil {
		return domain.Incident{}, fmt.Errorf("decode incident artifact: %w", err)
	}
	return incident, nil
}
