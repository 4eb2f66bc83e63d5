package cmd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/assay/cli/config"
	"github.com/pithecene-io/assay/integrity"
	"github.com/pithecene-io/assay/pipeline"
	"github.com/pithecene-io/assay/store"
)

// newTestApp creates a cli.App with all commands wired up and
// ExitErrHandler suppressed so errors are returned instead of calling
// os.Exit.
func newTestApp() *cli.App {
	app := cli.NewApp()
	app.Commands = []*cli.Command{
		UpdateCommand(),
		ListCommand(),
		CheckCommand(),
		RollbackCommand(),
		PruneCommand(),
		VersionCommand("test"),
	}
	app.ExitErrHandler = func(*cli.Context, error) {} // suppress os.Exit
	return app
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var coder cli.ExitCoder
	if !errors.As(err, &coder) {
		t.Fatalf("error is not an ExitCoder: %v", err)
	}
	return coder.ExitCode()
}

// containerBytes builds a minimal valid TFLite container.
func containerBytes(payload []byte) []byte {
	buf := make([]byte, 8, 8+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], 8)
	copy(buf[4:8], "TFL3")
	return append(buf, payload...)
}

// writeConfig writes an assay.yaml for the given model sources and
// returns its path plus the store root it points at.
func writeConfig(t *testing.T, sources map[string][]byte, serverURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "models")

	var b strings.Builder
	fmt.Fprintf(&b, "store_root: %s\nmodels:\n", root)
	for name, payload := range sources {
		fmt.Fprintf(&b, "  %s:\n", name)
		fmt.Fprintf(&b, "    source: %s/%s.tflite\n", serverURL, name)
		fmt.Fprintf(&b, "    version: 1.0.0\n")
		fmt.Fprintf(&b, "    checksum: %s\n", integrity.DigestBytes(payload))
	}

	path := filepath.Join(dir, "assay.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, root
}

func modelServer(t *testing.T, payloads map[string][]byte) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".tflite")
		payload, ok := payloads[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestUpdate_AllModelsSucceed(t *testing.T) {
	payloads := map[string][]byte{
		"alpha": containerBytes([]byte("alpha weights")),
		"beta":  containerBytes([]byte("beta weights")),
	}
	ts := modelServer(t, payloads)
	cfgPath, root := writeConfig(t, payloads, ts.URL)

	app := newTestApp()
	err := app.Run([]string{"assay", "update", "--config", cfgPath, "--quiet", "--format", "json"})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d: %v", code, err)
	}

	st, err := store.Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for name := range payloads {
		desc, rc, err := st.Read(name)
		if err != nil {
			t.Fatalf("Read %s: %v", name, err)
		}
		_ = rc.Close()
		if desc.Version != "1.0.0" {
			t.Errorf("%s version = %s", name, desc.Version)
		}
	}
}

func TestUpdate_PartialFailure(t *testing.T) {
	good := containerBytes([]byte("good weights"))
	payloads := map[string][]byte{"good": good}
	ts := modelServer(t, payloads)

	// "missing" is configured but the server does not have it.
	cfgPath, _ := writeConfig(t, map[string][]byte{
		"good":    good,
		"missing": []byte("never served"),
	}, ts.URL)

	app := newTestApp()
	err := app.Run([]string{"assay", "update", "--config", cfgPath, "--quiet", "--format", "json"})
	if code := exitCode(t, err); code != exitPartial {
		t.Fatalf("exit code = %d, want %d: %v", code, exitPartial, err)
	}
}

func TestUpdate_TotalFailure(t *testing.T) {
	ts := modelServer(t, nil)
	cfgPath, _ := writeConfig(t, map[string][]byte{"m": []byte("x")}, ts.URL)

	app := newTestApp()
	err := app.Run([]string{"assay", "update", "--config", cfgPath, "--quiet", "--format", "json"})
	if code := exitCode(t, err); code != exitFailure {
		t.Fatalf("exit code = %d, want %d: %v", code, exitFailure, err)
	}
}

func TestUpdate_UnknownModelIsInvalidInput(t *testing.T) {
	ts := modelServer(t, nil)
	cfgPath, _ := writeConfig(t, map[string][]byte{"m": []byte("x")}, ts.URL)

	app := newTestApp()
	err := app.Run([]string{"assay", "update", "--config", cfgPath, "--model", "nope"})
	if code := exitCode(t, err); code != exitInvalidInput {
		t.Fatalf("exit code = %d, want %d: %v", code, exitInvalidInput, err)
	}
}

func TestUpdate_MissingConfigIsInvalidInput(t *testing.T) {
	app := newTestApp()
	err := app.Run([]string{"assay", "update", "--config", "/nonexistent/assay.yaml"})
	if code := exitCode(t, err); code != exitInvalidInput {
		t.Fatalf("exit code = %d, want %d: %v", code, exitInvalidInput, err)
	}
}

func TestUpdate_BadPolicyIsInvalidInput(t *testing.T) {
	ts := modelServer(t, nil)
	cfgPath, _ := writeConfig(t, map[string][]byte{"m": []byte("x")}, ts.URL)

	app := newTestApp()
	err := app.Run([]string{"assay", "update", "--config", cfgPath, "--policy", "ask"})
	if code := exitCode(t, err); code != exitInvalidInput {
		t.Fatalf("exit code = %d, want %d: %v", code, exitInvalidInput, err)
	}
}

func TestCheck_CompatibleArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.tflite")
	if err := os.WriteFile(path, containerBytes([]byte("weights")), 0o644); err != nil {
		t.Fatal(err)
	}

	app := newTestApp()
	err := app.Run([]string{"assay", "check", "--format", "json", path})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d: %v", code, err)
	}
}

func TestCheck_RejectsNonContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.tflite")
	if err := os.WriteFile(path, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}

	app := newTestApp()
	err := app.Run([]string{"assay", "check", "--format", "json", path})
	if code := exitCode(t, err); code != exitFailure {
		t.Fatalf("exit code = %d, want %d", code, exitFailure)
	}
}

func TestCheck_MissingArgIsInvalidInput(t *testing.T) {
	app := newTestApp()
	err := app.Run([]string{"assay", "check"})
	if code := exitCode(t, err); code != exitInvalidInput {
		t.Fatalf("exit code = %d, want %d", code, exitInvalidInput)
	}
}

func TestRollback_RestoresPriorVersion(t *testing.T) {
	v1 := containerBytes([]byte("v1"))
	v2 := containerBytes([]byte("v2"))
	payloads := map[string][]byte{"m": v1}
	ts := modelServer(t, payloads)
	cfgPath, root := writeConfig(t, payloads, ts.URL)

	app := newTestApp()
	if err := app.Run([]string{"assay", "update", "--config", cfgPath, "--quiet", "--format", "json"}); exitCode(t, err) != 0 {
		t.Fatalf("update v1: %v", err)
	}

	// Second update replaces the payload; checksum changes with it.
	// The server handler reads from the payloads map on each request.
	rewriteConfigChecksum(t, cfgPath, integrity.DigestBytes(v2))
	payloads["m"] = v2
	if err := app.Run([]string{"assay", "update", "--config", cfgPath, "--quiet", "--format", "json"}); exitCode(t, err) != 0 {
		t.Fatalf("update v2: %v", err)
	}

	if err := app.Run([]string{"assay", "rollback", "--config", cfgPath, "m"}); exitCode(t, err) != 0 {
		t.Fatalf("rollback: %v", err)
	}

	st, _ := store.Open(root)
	desc, rc, err := st.Read("m")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	_ = rc.Close()
	if desc.Checksum != integrity.DigestBytes(v1) {
		t.Error("rollback did not restore the prior artifact")
	}
}

func TestRollback_NoBackupFails(t *testing.T) {
	ts := modelServer(t, nil)
	cfgPath, _ := writeConfig(t, map[string][]byte{"m": []byte("x")}, ts.URL)

	app := newTestApp()
	err := app.Run([]string{"assay", "rollback", "--config", cfgPath, "m"})
	if code := exitCode(t, err); code != exitFailure {
		t.Fatalf("exit code = %d, want %d", code, exitFailure)
	}
}

func TestSelectModels(t *testing.T) {
	cfg := &config.Config{Models: map[string]config.ModelConfig{
		"b": {}, "a": {},
	}}

	names, err := selectModels(cfg, nil)
	if err != nil || len(names) != 2 || names[0] != "a" {
		t.Errorf("all models = %v, %v", names, err)
	}

	names, err = selectModels(cfg, []string{"b"})
	if err != nil || len(names) != 1 || names[0] != "b" {
		t.Errorf("selected = %v, %v", names, err)
	}

	if _, err := selectModels(cfg, []string{"zzz"}); err == nil {
		t.Error("expected error for unknown model")
	}

	if _, err := selectModels(&config.Config{}, nil); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestResolveKeep(t *testing.T) {
	cases := []struct {
		name             string
		flag, configured int
		want             int
	}{
		{"explicit flag", 5, 2, 5},
		{"explicit zero drops history", 0, 2, 0},
		{"configured retention", -1, 2, 2},
		{"unconfigured falls back to default", -1, 0, store.DefaultMaxBackups},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveKeep(tc.flag, tc.configured); got != tc.want {
				t.Errorf("resolveKeep(%d, %d) = %d, want %d", tc.flag, tc.configured, got, tc.want)
			}
		})
	}
}

func TestUpdateExitCode(t *testing.T) {
	done := pipeline.Result{State: pipeline.StateDone}
	aborted := pipeline.Result{State: pipeline.StateAborted}

	cases := []struct {
		name    string
		results []pipeline.Result
		want    int
	}{
		{"all ok", []pipeline.Result{done, done}, exitSuccess},
		{"all failed", []pipeline.Result{aborted}, exitFailure},
		{"mixed", []pipeline.Result{done, aborted}, exitPartial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := updateExitCode(tc.results); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBuildAdapter(t *testing.T) {
	if a, err := buildAdapter(config.AdapterConfig{}); a != nil || err != nil {
		t.Errorf("empty adapter config: %v, %v", a, err)
	}
	if _, err := buildAdapter(config.AdapterConfig{Type: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown adapter type")
	}
	a, err := buildAdapter(config.AdapterConfig{Type: "webhook", URL: "http://127.0.0.1:9", Timeout: config.Duration{Duration: time.Second}})
	if err != nil {
		t.Fatalf("webhook adapter: %v", err)
	}
	_ = a.Close()
}

// rewriteConfigChecksum updates the checksum line in a generated
// config file.
func rewriteConfigChecksum(t *testing.T, path, checksum string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if strings.Contains(line, "checksum:") {
			lines[i] = "    checksum: " + checksum
		}
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
}
