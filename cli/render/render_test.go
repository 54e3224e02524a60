package render

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	_, err := ParseFormat("csv")
	if err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error message should mention valid formats, got: %v", err)
	}
}

type taskRow struct {
	Task     string        `json:"task"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	hidden   string
}

func TestRenderer_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)

	if err := r.Render(map[string]string{"key": "value"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, `"key"`) || !strings.Contains(got, `"value"`) {
		t.Errorf("JSON output missing expected content: %s", got)
	}
}

func TestRenderer_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, false, &buf)

	if err := r.Render(map[string]string{"key": "value"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); got != "key: value\n" {
		t.Errorf("YAML output = %q", got)
	}
}

func TestRenderer_Table_Struct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	row := taskRow{Task: "build", Status: "SUCCESS", Duration: 1500 * time.Millisecond, hidden: "x"}
	if err := r.Render(&row); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	for _, want := range []string{"task:", "build", "status:", "SUCCESS", "duration:", "1.5s"} {
		if !strings.Contains(got, want) {
			t.Errorf("table output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "hidden") {
		t.Errorf("unexported fields should be skipped:\n%s", got)
	}
}

func TestRenderer_Table_Slice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	rows := []taskRow{
		{Task: "build", Status: "SUCCESS"},
		{Task: "lint", Status: "SUCCESS_WITH_WARNING"},
	}
	if err := r.Render(rows); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if fields := strings.Fields(lines[0]); len(fields) != 3 || fields[0] != "task" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], "lint") || !strings.Contains(lines[2], "SUCCESS_WITH_WARNING") {
		t.Errorf("unexpected row %q", lines[2])
	}
	// Columns are aligned.
	if strings.Index(lines[1], "SUCCESS") != strings.Index(lines[2], "SUCCESS_WITH_WARNING") {
		t.Errorf("status column not aligned:\n%s", buf.String())
	}
}

func TestRenderer_Table_MapSorted(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	if err := r.Render(map[string]int{"zeta": 1, "alpha": 2}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	if strings.Index(got, "alpha") > strings.Index(got, "zeta") {
		t.Errorf("map keys should be sorted:\n%s", got)
	}
}

func TestRenderer_Table_EmptySlice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, false, &buf)

	if err := r.Render([]taskRow{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("empty slice should show '(no results)', got: %s", buf.String())
	}
}

func TestRenderer_NoColor_DoesNotAffectJSON(t *testing.T) {
	var bufColor, bufNoColor bytes.Buffer
	data := map[string]string{"key": "value"}

	if err := NewRendererWithWriter(FormatJSON, false, &bufColor).Render(data); err != nil {
		t.Fatal(err)
	}
	if err := NewRendererWithWriter(FormatJSON, true, &bufNoColor).Render(data); err != nil {
		t.Fatal(err)
	}
	if bufColor.String() != bufNoColor.String() {
		t.Errorf("JSON output differs with --no-color")
	}
}
