package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog     zerolog.Logger
	diagFile    *os.File
	sessionFile *os.File
	logMu       sync.Mutex
	logReady    bool
	pid         int
	dir         string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: ECHOSKETCH_LOG_PATH environment variable
	if envPath := os.Getenv("ECHOSKETCH_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	sessionPath := filepath.Join(dir, "sessions_log.txt")
	sessionFile, err = os.OpenFile(sessionPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if sessionFile != nil {
		sessionFile.Close()
		sessionFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func RecordingStart(device string, sampleRate uint32) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("device", device).
		Uint32("sample_rate", sampleRate).
		Msg("recording_start")
}

func RecordingStop(elapsed int) {
	if !logReady {
		return
	}
	diagLog.Info().Int("elapsed_s", elapsed).Msg("recording_stop")
}

type ArtifactInfo struct {
	MimeType     string
	SizeKB       float64
	AudioS       float64
	EncodeTimeMs float64
}

func ArtifactReady(a ArtifactInfo) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("mime", a.MimeType).
		Float64("size_kb", a.SizeKB).
		Float64("audio_s", a.AudioS).
		Float64("encode_ms", a.EncodeTimeMs).
		Msg("artifact_ready")
}

// NetworkInfo carries per-request timings from the API client.
type NetworkInfo struct {
	DNSTimeMs   float64
	TLSTimeMs   float64
	TTFBMs      float64
	TotalTimeMs float64
	ConnReused  bool
	TLSProtocol string
}

func Submission(kind string, ok bool, n NetworkInfo) {
	if !logReady {
		return
	}
	connStatus := "new"
	if n.ConnReused {
		connStatus = "reused"
	}
	ev := diagLog.Info().
		Str("kind", kind).
		Bool("ok", ok).
		Str("conn", connStatus)
	if n.TLSProtocol != "" {
		ev = ev.Str("tls_proto", n.TLSProtocol)
	}
	ev.Float64("dns_ms", n.DNSTimeMs).
		Float64("tls_ms", n.TLSTimeMs).
		Float64("ttfb_ms", n.TTFBMs).
		Float64("total_ms", n.TotalTimeMs).
		Msg("submission")
}

// SessionText appends one generated session to sessions_log.txt.
func SessionText(sessionID, transcript string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if sessionFile == nil {
		return
	}
	if sessionID == "" {
		sessionID = "-"
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, sessionID, transcript)
	sessionFile.WriteString(line)
}

func SessionStart(api, mode, format string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("api", api).
		Str("mode", mode).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("count", count).
		Msg("session_end")
}
