package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestPrinter_Success(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithNoColor(true))

	p.Success("queued %s", "Process")
	if !strings.Contains(buf.String(), "queued Process") {
		t.Errorf("Success output = %q, want to contain 'queued Process'", buf.String())
	}
}

func TestPrinter_Quiet(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithQuiet(true))

	p.Info("hidden")
	p.KeyValue("VOD", "hidden")
	p.Flag("Fastified", true)
	if buf.Len() != 0 {
		t.Errorf("quiet printer wrote %q", buf.String())
	}
}

func TestPrinter_ErrorIgnoresQuiet(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithErrOutput(&buf), WithQuiet(true), WithNoColor(true))

	p.Error("broker unreachable")
	if !strings.Contains(buf.String(), "broker unreachable") {
		t.Errorf("Error output = %q", buf.String())
	}
}

func TestPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithJSON(true))

	p.Info("suppressed in json mode")
	if err := p.JSON(map[string]string{"vod_uuid": "abc"}); err != nil {
		t.Fatalf("JSON() error = %v", err)
	}

	var result map[string]string
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("output is not a single JSON document: %v (%q)", err, buf.String())
	}
	if result["vod_uuid"] != "abc" {
		t.Errorf("vod_uuid = %q", result["vod_uuid"])
	}
}

func TestPrinter_Flag(t *testing.T) {
	var buf bytes.Buffer
	p := New(WithOutput(&buf), WithNoColor(true))

	p.Flag("Fastified", true)
	p.Flag("Preview", false)

	out := buf.String()
	if !strings.Contains(out, "Fastified: yes") || !strings.Contains(out, "Preview: no") {
		t.Errorf("Flag output = %q", out)
	}
}

// TestTable_Render tests column alignment with plain, colored and wide cells.
func TestTable_Render(t *testing.T) {
	tests := []struct {
		name  string
		rows  [][]string
		quiet bool
		want  []string
	}{
		{
			name: "plain",
			rows: [][]string{{"vods-eu", "up"}, {"vods", "failover"}},
			want: []string{"Bucket   Status", "vods-eu  up", "vods     failover"},
		},
		{
			name: "colored cells pad by visible width",
			rows: [][]string{{"\x1b[32mup\x1b[0m", "vods"}, {"failover", "vods-eu"}},
			want: []string{"Bucket    Status", "\x1b[32mup\x1b[0m        vods", "failover  vods-eu"},
		},
		{
			name: "wide runes",
			rows: [][]string{{"動画", "up"}},
			want: []string{"Bucket  Status", "動画    up"},
		},
		{
			name:  "quiet",
			rows:  [][]string{{"vods", "up"}},
			quiet: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			table := NewTable(&buf, []string{"Bucket", "Status"}, tt.quiet)
			for _, row := range tt.rows {
				table.Row(row...)
			}
			if err := table.Render(); err != nil {
				t.Fatalf("Render() error = %v", err)
			}

			if tt.quiet {
				if buf.Len() != 0 {
					t.Errorf("quiet output = %q, want empty", buf.String())
				}
				return
			}
			got := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
			if len(got) != len(tt.want) {
				t.Fatalf("got %d lines, want %d: %q", len(got), len(tt.want), buf.String())
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestByteProgress_Quiet(t *testing.T) {
	p := NewByteProgress(100, "upload", true)
	p.Add(50)
	p.Finish()
	if p.bar != nil {
		t.Error("quiet progress should not draw a bar")
	}
}
