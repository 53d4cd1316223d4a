package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type route struct {
	ID         string        `json:"id"`
	ServerName string        `json:"server_name"`
	State      string        `json:"state"`
	Implicit   bool          `json:"implicit"`
	RemoteAddr string        `json:"remote_addr,omitempty" table:"wide"`
	Secret     string        `json:"-" table:"-"`
	Age        time.Duration `json:"age"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTableFormatter_Slice(t *testing.T) {
	rows := []route{
		{ID: "r1", ServerName: "node-b", State: "established", RemoteAddr: "10.0.0.2:40000", Secret: "x", Age: 2 * time.Second},
		{ID: "r2", State: "dialing", Implicit: true},
	}

	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, rows); err != nil {
		t.Fatalf("Format() = %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d:\n%s", len(lines), buf.String())
	}
	header := strings.Fields(lines[0])
	if strings.Join(header, " ") != "ID SERVER_NAME STATE IMPLICIT AGE" {
		t.Errorf("header = %v", header)
	}
	if !strings.Contains(lines[1], "2s") || strings.Contains(buf.String(), "10.0.0.2") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if fields := strings.Fields(lines[2]); fields[1] != "-" || fields[3] != "true" {
		t.Errorf("row 2 = %v", fields)
	}

	buf.Reset()
	if err := (&TableFormatter{Wide: true, NoHeaders: true}).Format(&buf, rows); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "10.0.0.2:40000") || strings.Contains(buf.String(), "SERVER_NAME") {
		t.Errorf("wide/no headers output:\n%s", buf.String())
	}
}

func TestTableFormatter_StructAndMap(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, &route{ID: "r1", Age: time.Minute}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "FIELD") || !strings.Contains(buf.String(), "1m0s") {
		t.Errorf("struct output:\n%s", buf.String())
	}

	buf.Reset()
	if err := (&TableFormatter{}).Format(&buf, map[string]int{"b": 2, "a": 1}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "a") {
		t.Errorf("map output not sorted:\n%s", buf.String())
	}

	buf.Reset()
	if err := (&TableFormatter{}).Format(&buf, 42); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "42" {
		t.Errorf("scalar fallback = %q", buf.String())
	}
}

func TestTable_Render(t *testing.T) {
	tbl := &Table{}
	tbl.SetHeaders("NAME", "ROUTES")
	tbl.AddRow("node-a", "2")
	tbl.AddRow("node-bbbbbb", "10")

	var buf bytes.Buffer
	if err := tbl.Render(&buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %v", lines)
	}
	if strings.Index(lines[1], "2") != strings.Index(lines[2], "10") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestJSONAndYAML(t *testing.T) {
	data := []route{{ID: "r1", ServerName: "node-b", Secret: "hidden"}}

	var buf bytes.Buffer
	if err := NewFormatter(FormatJSON, false).Format(&buf, data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"server_name": "node-b"`) || strings.Contains(buf.String(), "hidden") {
		t.Errorf("json = %s", buf.String())
	}

	buf.Reset()
	if err := NewFormatter(FormatYAML, false).Format(&buf, data); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "server_name: node-b") || strings.Contains(buf.String(), "hidden") {
		t.Errorf("yaml = %s", buf.String())
	}
}

// lockedBuffer is a bytes.Buffer safe for the spinner goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner(t *testing.T) {
	var out lockedBuffer
	s := NewSpinner(&out, "waiting")
	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Success("healthy")
	s.Stop()
	s.Fail("ignored")

	got := out.String()
	if !strings.Contains(got, "waiting") || !strings.HasSuffix(got, "ok healthy\n") {
		t.Errorf("spinner output = %q", got)
	}
	if strings.Contains(got, "ignored") {
		t.Error("second stop wrote output")
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "steps", 4)
	p.Step("restart node-1")
	p.Step("pause node-2")
	if p.Current() != 2 {
		t.Errorf("Current() = %d", p.Current())
	}
	if !strings.Contains(buf.String(), "2/4 pause node-2") {
		t.Errorf("progress = %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[###############...............]") {
		t.Errorf("bar at 50%% = %q", buf.String())
	}
	p.Finish()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Finish() did not end the line")
	}
}
