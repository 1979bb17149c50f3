package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/cfgtree/pkg/cfg"
	"github.com/openfroyo/cfgtree/pkg/source"
	"github.com/openfroyo/cfgtree/pkg/telemetry"
)

var testSchema = cfg.Schema{
	cfg.Int("port", 80, cfg.FlagNone),
	cfg.StrList("hosts", nil, cfg.FlagNone),
	cfg.Func("include", cfg.Include),
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

type checkerFunc struct {
	name string
	fn   func(tree *cfg.Section) ([]Finding, error)
}

func (c checkerFunc) Name() string { return c.name }

func (c checkerFunc) Check(_ context.Context, tree *cfg.Section) ([]Finding, error) {
	return c.fn(tree)
}

type memoryRecorder struct {
	results []*Result
}

func (m *memoryRecorder) Record(_ context.Context, res *Result) error {
	m.results = append(m.results, res)
	return nil
}

func testTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	tcfg := telemetry.DefaultConfig()
	tel := telemetry.Nop()
	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		t.Fatal(err)
	}
	tel.Metrics = metrics
	return tel
}

func TestLoad_WithIncludes(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "app.conf")
	writeFile(t, main, "port = 8080\ninclude(hosts.conf)\n")
	writeFile(t, filepath.Join(dir, "hosts.conf"), "hosts = {a, b}\n")

	rec := &memoryRecorder{}
	l := New(testSchema, WithRecorder(rec))
	res, err := l.Load(context.Background(), main)
	if err != nil {
		t.Fatalf("Load: %v (%v)", err, res.Diagnostics)
	}

	if res.Tree.Int("port") != 8080 || res.Tree.Size("hosts") != 2 {
		t.Errorf("tree = %v", res.Tree.Map())
	}
	if len(res.Sources) != 2 || res.Sources[0] != main || res.Sources[1] != filepath.Join(dir, "hosts.conf") {
		t.Errorf("sources = %v", res.Sources)
	}
	if res.ID == "" || res.Duration <= 0 {
		t.Errorf("id %q duration %v", res.ID, res.Duration)
	}
	if res.Code() != "" || res.Blocked() {
		t.Errorf("successful load reports code %q blocked %v", res.Code(), res.Blocked())
	}
	if len(rec.results) != 1 || rec.results[0] != res {
		t.Errorf("recorded %d results", len(rec.results))
	}
}

func TestLoad_ParseFailure(t *testing.T) {
	var forwarded []string
	tel := testTelemetry(t)
	l := New(testSchema,
		WithResolver(source.Memory{"app.conf": "port = 1\nport = 2\n"}),
		WithTelemetry(tel),
		WithReporter(func(pos cfg.Position, msg string) {
			forwarded = append(forwarded, pos.String()+": "+msg)
		}),
	)

	res, err := l.Load(context.Background(), "app.conf")
	if !errors.Is(err, cfg.ErrDuplicateOption) {
		t.Fatalf("got %v, want duplicate option", err)
	}
	if res.Tree != nil {
		t.Error("failed load returned a tree")
	}
	if res.Code() != cfg.CodeDuplicateOption || !res.Blocked() {
		t.Errorf("code %q blocked %v", res.Code(), res.Blocked())
	}
	want := "app.conf:2: option 'port' specified more than once"
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].String() != want {
		t.Errorf("diagnostics = %v", res.Diagnostics)
	}
	if len(forwarded) != 1 || forwarded[0] != want {
		t.Errorf("forwarded = %v", forwarded)
	}

	reg := tel.Metrics.Registry()
	if n, err := testutil.GatherAndCount(reg, "cfgtree_errors_by_code_total"); err != nil || n != 1 {
		t.Errorf("errors_by_code series = %d, %v", n, err)
	}
}

func TestLoad_MissingSource(t *testing.T) {
	l := New(testSchema)
	res, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.conf"))
	if !errors.Is(err, cfg.ErrSourceUnavailable) {
		t.Fatalf("got %v, want source unavailable", err)
	}
	if len(res.Diagnostics) != 1 || !strings.Contains(res.Diagnostics[0].Message, "cannot open") {
		t.Errorf("diagnostics = %v", res.Diagnostics)
	}
	if len(res.Sources) != 0 {
		t.Errorf("sources = %v", res.Sources)
	}
}

func TestLoad_Checkers(t *testing.T) {
	lowPort := checkerFunc{name: "ports", fn: func(tree *cfg.Section) ([]Finding, error) {
		if tree.Int("port") < 1024 {
			return []Finding{{Rule: "privileged", Path: "port", Severity: SeverityError, Message: "port below 1024"}}, nil
		}
		return nil, nil
	}}
	broken := checkerFunc{name: "broken", fn: func(*cfg.Section) ([]Finding, error) {
		return nil, errors.New("engine unavailable")
	}}

	l := New(testSchema, WithResolver(source.Memory{"a.conf": "port = 80"}), WithChecker(lowPort))
	res, err := l.Load(context.Background(), "a.conf")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(res.Findings) != 1 || res.Findings[0].Checker != "ports" || !res.Blocked() {
		t.Errorf("findings = %v", res.Findings)
	}
	if got := res.Findings[0].String(); got != "error: port below 1024 [ports/privileged]" {
		t.Errorf("finding string = %q", got)
	}

	l = New(testSchema, WithResolver(source.Memory{"a.conf": "port = 8080"}), WithChecker(lowPort), WithChecker(broken))
	res, err = l.Load(context.Background(), "a.conf")
	if err == nil || !strings.Contains(err.Error(), "broken: engine unavailable") {
		t.Fatalf("got %v, want checker error", err)
	}
	if res.Code() != "check_failed" || res.Tree == nil {
		t.Errorf("code %q tree %v", res.Code(), res.Tree)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "app.conf")
	extra := filepath.Join(dir, "extra.conf")
	writeFile(t, main, "include(extra.conf)\n")
	writeFile(t, extra, "port = 1\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan *Result, 8)
	l := New(testSchema, WithDebounce(20*time.Millisecond))
	done := make(chan error, 1)
	go func() {
		done <- l.Watch(ctx, main, func(res *Result) { results <- res })
	}()

	next := func() *Result {
		t.Helper()
		select {
		case res := <-results:
			return res
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for load")
			return nil
		}
	}

	if res := next(); res.Err != nil || res.Tree.Int("port") != 1 {
		t.Fatalf("initial load: %v", res.Err)
	}

	// Changing an included file triggers a reload.
	writeFile(t, extra, "port = 2\n")
	if res := next(); res.Err != nil || res.Tree.Int("port") != 2 {
		t.Fatalf("reload: err %v", res.Err)
	}

	writeFile(t, extra, "port = x\n")
	if res := next(); !errors.Is(res.Err, cfg.ErrType) {
		t.Fatalf("got %v, want type error", res.Err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop")
	}
}
