package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("ECHOSKETCH_LOG_PATH", "/tmp/echosketch-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/echosketch-env-log" {
		t.Errorf("got %q, want /tmp/echosketch-env-log", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("ECHOSKETCH_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "echosketch") {
		t.Errorf("default directory %q should mention echosketch", got)
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"diagnostics_log.txt", "sessions_log.txt"} {
		path := filepath.Join(tmp, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestSessionText(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	SessionText("session_1_1700000000", "a red fox in the snow")
	SessionText("", "untracked prompt")

	data, err := os.ReadFile(filepath.Join(tmp, "sessions_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), data)
	}
	// format: "2006-01-02 15:04:05\t[pid]\tid\ttext"
	fields := strings.Split(lines[0], "\t")
	if len(fields) != 4 || fields[2] != "session_1_1700000000" || fields[3] != "a red fox in the snow" {
		t.Errorf("unexpected line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "\t-\t") {
		t.Errorf("missing placeholder id: %q", lines[1])
	}
}

func TestDiagnosticsEvents(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	RecordingStart("fake microphone", 44100)
	RecordingStop(2)
	ArtifactReady(ArtifactInfo{MimeType: "audio/webm", SizeKB: 62.5, AudioS: 2})
	Submission("voice", true, NetworkInfo{ConnReused: true})
	Warnf("level %d", 3)

	data, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"recording_start", "recording_stop", "artifact_ready", "audio/webm", "submission", "conn=reused", "level 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostics log missing %q:\n%s", want, out)
		}
	}
}

func TestNoopBeforeInit(t *testing.T) {
	setupLogDir(t)
	Info("dropped")
	SessionText("x", "dropped")
	RecordingStop(1)
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
