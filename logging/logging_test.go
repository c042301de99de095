package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestNewWritesServiceField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.log")
	logger := New("board-api", Config{Debug: true, File: path, MaxSizeMB: 1})
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}
	logger.WithField("project", "p1").Info("project created")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"service":"board-api"`) || !strings.Contains(line, `"project":"p1"`) {
		t.Fatalf("unexpected log line %s", line)
	}
}

func TestNewDefaultsToInfo(t *testing.T) {
	logger := New("stream-service", Config{})
	if logger.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level, got %s", logger.GetLevel())
	}
}
