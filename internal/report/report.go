package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"sort"
	"text/template"
	"time"

	"github.com/FranksOps/trawl/internal/storage"
)

// FailedRun is one FAILED run listed in a summary.
type FailedRun struct {
	RunID     string    `json:"run_id"`
	SourceID  string    `json:"source_id"`
	StartTime time.Time `json:"start_time"`
	Message   string    `json:"error_message"`
}

// Summary contains aggregated figures about a set of extraction runs.
type Summary struct {
	TotalRuns  int                    `json:"total_runs"`
	ByStatus   map[storage.Status]int `json:"by_status"`
	BySource   map[string]int         `json:"by_source"`
	TotalRows  int                    `json:"total_rows"`
	FirstStart time.Time              `json:"first_start"`
	LastStart  time.Time              `json:"last_start"`
	Failed     []FailedRun            `json:"failed"`
}

// GenerateSummary aggregates a slice of runs. Failed runs are listed oldest first.
func GenerateSummary(runs []*storage.Run) Summary {
	s := Summary{
		ByStatus: make(map[storage.Status]int),
		BySource: make(map[string]int),
	}

	if len(runs) == 0 {
		return s
	}

	s.FirstStart = runs[0].StartTime
	s.LastStart = runs[0].StartTime

	for _, r := range runs {
		s.TotalRuns++
		s.ByStatus[r.Status]++
		s.BySource[r.SourceID]++
		if r.Status == storage.StatusOK {
			s.TotalRows += r.RowCount
		}
		if r.Status == storage.StatusFailed {
			fr := FailedRun{RunID: r.ID, SourceID: r.SourceID, StartTime: r.StartTime}
			if r.ErrorMessage != nil {
				fr.Message = *r.ErrorMessage
			}
			s.Failed = append(s.Failed, fr)
		}

		if r.StartTime.Before(s.FirstStart) {
			s.FirstStart = r.StartTime
		}
		if r.StartTime.After(s.LastStart) {
			s.LastStart = r.StartTime
		}
	}

	sort.SliceStable(s.Failed, func(i, j int) bool {
		return s.Failed[i].StartTime.Before(s.Failed[j].StartTime)
	})
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Trawl Run Summary
-----------------
{{- if .TotalRuns}}
Started:       {{.FirstStart.Format "2006-01-02 15:04:05"}} - {{.LastStart.Format "2006-01-02 15:04:05"}}
{{- end}}
Total Runs:    {{.TotalRuns}}
Total Rows:    {{.TotalRows}}

By Status:
{{- range $status, $count := .ByStatus}}
  {{$status}}: {{$count}}
{{- else}}
  None
{{- end}}

By Source:
{{- range $src, $count := .BySource}}
  {{$src}}: {{$count}}
{{- else}}
  None
{{- end}}

Failed Runs:
{{- range .Failed}}
  {{.StartTime.Format "2006-01-02 15:04:05"}} {{.SourceID}} {{.RunID}}: {{.Message}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer. Error messages
// come from upstream services and are escaped.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Trawl Run Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Trawl Run Report</h1>
  {{- if .TotalRuns}}
  <p><strong>Started:</strong> {{.FirstStart.Format "2006-01-02 15:04:05"}} to {{.LastStart.Format "2006-01-02 15:04:05"}}</p>
  {{- end}}

  <div class="stat-card">
    <div>Total Runs</div>
    <div class="stat-val">{{.TotalRuns}}</div>
  </div>
  <div class="stat-card">
    <div>Total Rows</div>
    <div class="stat-val">{{.TotalRows}}</div>
  </div>
  <div class="stat-card">
    <div>Failed</div>
    <div class="stat-val" style="color: {{if .Failed}}red{{else}}green{{end}};">{{len .Failed}}</div>
  </div>

  <h3>By Status</h3>
  <table>
    <tr><th>Status</th><th>Count</th></tr>
    {{- range $status, $count := .ByStatus}}
    <tr><td>{{$status}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Failed Runs</h3>
  <table>
    <tr><th>Started</th><th>Source</th><th>Run</th><th>Error</th></tr>
    {{- range .Failed}}
    <tr><td>{{.StartTime.Format "2006-01-02 15:04:05"}}</td><td>{{.SourceID}}</td><td>{{.RunID}}</td><td>{{.Message}}</td></tr>
    {{- else}}
    <tr><td colspan="4">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := htmltemplate.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}
