package deployments

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Record string            `yaml:"record"`
			Alert  string            `yaml:"alert"`
			Expr   string            `yaml:"expr"`
			Labels map[string]string `yaml:"labels"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	content := readAsset(t, "grafana", "sqlstudio_slo_dashboard.json")

	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}

	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}

	records := recordNames(t)
	for _, p := range panels {
		panel, _ := p.(map[string]any)
		targets, _ := panel["targets"].([]any)
		for _, target := range targets {
			expr, _ := target.(map[string]any)["expr"].(string)
			if !records[expr] {
				t.Fatalf("panel %v queries unknown record %q", panel["title"], expr)
			}
		}
	}
}

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	var rules ruleFile
	if err := yaml.Unmarshal(readAsset(t, "prometheus", "sqlstudio_rules.yaml"), &rules); err != nil {
		t.Fatalf("parse rules file: %v", err)
	}

	alerts := map[string]string{}
	for _, g := range rules.Groups {
		for _, r := range g.Rules {
			if r.Alert == "" {
				continue
			}
			if r.Labels["severity"] == "" || r.Labels["service"] == "" {
				t.Fatalf("alert %q missing severity or service label", r.Alert)
			}
			alerts[r.Alert] = r.Expr
		}
	}

	requiredAlerts := []string{
		"SQLStudioAgentSuccessRatioLow",
		"SQLStudioAgentRunLatencyP95High",
		"SQLStudioAgentRetriesHigh",
		"SQLStudioSQLErrorRatioHigh",
		"SQLStudioLLMErrors",
		"SQLStudioExportFailures",
		"SQLStudioHTTPErrorRateHigh",
	}
	records := recordNames(t)
	for _, name := range requiredAlerts {
		expr, ok := alerts[name]
		if !ok {
			t.Fatalf("rules missing alert %q", name)
		}
		record := strings.Fields(expr)[0]
		if !records[record] {
			t.Fatalf("alert %q references unknown record %q", name, record)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := string(readAsset(t, "prometheus", "prometheus-scrape.example.yaml"))

	for _, token := range []string{
		"metrics_path: /v1/metrics",
		"sqlstudio_rules.yaml",
		"sqlstudio_recording_rules.yaml",
		"job_name: sqlstudio-api",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func TestPrometheusRecordingRulesContainExpectedRecords(t *testing.T) {
	records := recordNames(t)
	requiredRecords := []string{
		"sqlstudio:slo_agent_success_ratio_15m",
		"sqlstudio:slo_agent_run_seconds_p95",
		"sqlstudio:slo_agent_attempts_p95",
		"sqlstudio:slo_sql_execution_seconds_p95",
		"sqlstudio:slo_sql_error_ratio_15m",
		"sqlstudio:slo_llm_stream_seconds_p95",
		"sqlstudio:slo_llm_errors_15m",
		"sqlstudio:slo_export_failures_30m",
		"sqlstudio:slo_http_error_rate_5m",
	}
	for _, name := range requiredRecords {
		if !records[name] {
			t.Fatalf("recording rules missing record %q", name)
		}
	}
}

func TestAlertmanagerExampleContainsSeverityRouting(t *testing.T) {
	text := string(readAsset(t, "alertmanager", "alertmanager.example.yaml"))

	requiredTokens := []string{
		"receiver: sqlstudio-default",
		"severity=\"critical\"",
		"severity=\"warning\"",
		"name: sqlstudio-critical",
		"name: sqlstudio-warning",
		"inhibit_rules:",
		"group_by: [alertname, service, severity]",
	}
	for _, token := range requiredTokens {
		if !strings.Contains(text, token) {
			t.Fatalf("alertmanager example missing token %q", token)
		}
	}
}

func recordNames(t *testing.T) map[string]bool {
	t.Helper()
	var rules ruleFile
	if err := yaml.Unmarshal(readAsset(t, "prometheus", "sqlstudio_recording_rules.yaml"), &rules); err != nil {
		t.Fatalf("parse recording rules: %v", err)
	}
	names := map[string]bool{}
	for _, g := range rules.Groups {
		for _, r := range g.Rules {
			if r.Record != "" {
				names[r.Record] = true
			}
		}
	}
	return names
}

func readAsset(t *testing.T, parts ...string) []byte {
	t.Helper()
	path := filepath.Join(append([]string{repoRoot(t), "deployments", "observability"}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
