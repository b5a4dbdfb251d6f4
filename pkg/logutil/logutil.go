package logutil

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"

	log "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	outputMu sync.Mutex
	fileSink io.WriteCloser
)

// Configure sets the global level and, when file is non-empty, tees every
// log line (colour codes stripped) into a size-rotated file.
func Configure(levelRaw, file string) error {
	level, err := ParseLevel(levelRaw)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	outputMu.Lock()
	defer outputMu.Unlock()
	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}
	file = strings.TrimSpace(file)
	if file == "" {
		log.SetOutput(os.Stderr)
		return nil
	}
	fileSink = &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
	log.SetOutput(&teeWriter{out: os.Stderr, file: fileSink})
	return nil
}

func ParseLevel(levelRaw string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelRaw)) {
	case "":
		return log.InfoLevel, nil
	case "trace", "trac":
		// No native trace level.
		return log.DebugLevel, nil
	default:
		level, err := log.ParseLevel(levelRaw)
		if err != nil {
			return 0, fmt.Errorf("invalid loglevel %q", levelRaw)
		}
		return level, nil
	}
}

// StdLogger adapts the global logger for libraries that want a *log.Logger,
// such as chi's request logger.
func StdLogger() *stdlog.Logger {
	return log.StandardLog(log.StandardLogOptions{ForceLevel: log.InfoLevel})
}

type teeWriter struct {
	mu   sync.Mutex
	out  io.Writer
	file io.Writer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_, _ = io.WriteString(w.file, stripANSI(string(p)))
	}
	return w.out.Write(p)
}

func stripANSI(s string) string {
	if strings.IndexByte(s, 0x1b) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inEsc := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case !inEsc && ch == 0x1b:
			inEsc = true
		case !inEsc:
			b.WriteByte(ch)
		case (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z'):
			inEsc = false
		}
	}
	return b.String()
}
