package internal

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	base := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Project.Root = filepath.Join(base, "src")
	cfg.Templates.Dir = filepath.Join(base, "templates")
	cfg.Output.Dir = filepath.Join(base, "gen")
	cfg.Ledger.Path = filepath.Join(base, "state", "ledger.db")
	cfg.Scratch.Dir = filepath.Join(base, "state", "tmp")
	cfg.App.HTTP.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGenerate_OnePass(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Project.Root, "order.go"), "package shop\n\ntype Order struct {\n\tID int\n}\n")
	writeFile(t, filepath.Join(cfg.Templates.Dir, "dto.tpl"),
		"---\nbind: Class\noutput: \"{ClassName}.g.txt\"\n---\n{{.Name}}{{range .Class.Properties}} {{.Name}}{{end}}\n")
	writeFile(t, filepath.Join(cfg.Templates.Dir, "broken.tpl"), "---\nbind: Class\n---\n")
	writeFile(t, filepath.Join(cfg.Scratch.Dir, "stale.tmp"), "x")

	opts := []Option{WithConfig(cfg), WithLogOutput(io.Discard)}
	summary, err := Generate(context.Background(), opts...)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if summary.Templates != 2 || summary.Succeeded != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "Order.g.txt"))
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if string(data) != "Order ID\n" {
		t.Errorf("output = %q", data)
	}
	if _, err := os.Stat(filepath.Join(cfg.Scratch.Dir, "stale.tmp")); !os.IsNotExist(err) {
		t.Errorf("scratch not cleared: %v", err)
	}

	// The ledger persists across sessions, so a second pass writes nothing.
	summary, err = Generate(context.Background(), opts...)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if summary.Written != 0 {
		t.Errorf("second pass wrote %d files", summary.Written)
	}
}

func TestGenerate_RemovesOutputsOfTemplateDeletedBetweenSessions(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Project.Root, "order.go"), "package shop\n\ntype Order struct{}\n")
	tpl := filepath.Join(cfg.Templates.Dir, "dto.tpl")
	writeFile(t, tpl, "---\nbind: Class\noutput: \"{ClassName}.g.txt\"\n---\n{{.Name}}\n")

	opts := []Option{WithConfig(cfg), WithLogOutput(io.Discard)}
	if _, err := Generate(context.Background(), opts...); err != nil {
		t.Fatalf("generate: %v", err)
	}
	out := filepath.Join(cfg.Output.Dir, "Order.g.txt")
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output: %v", err)
	}

	if err := os.Remove(tpl); err != nil {
		t.Fatal(err)
	}
	summary, err := Generate(context.Background(), opts...)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if summary.Removed != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("orphaned output still present: %v", err)
	}
}

func TestGenerate_RequiresConfig(t *testing.T) {
	if _, err := Generate(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestInspect(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Project.Root, "order.go"), "package shop\n\ntype Order struct{ ID int }\n")

	var buf bytes.Buffer
	if err := Inspect(context.Background(), &buf, WithConfig(cfg), WithLogOutput(io.Discard)); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"order.go"`) || !strings.Contains(out, `"Order"`) {
		t.Errorf("dump = %s", out)
	}
}
