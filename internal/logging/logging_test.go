package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitLevel(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"bogus", logrus.InfoLevel},
		{"", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if err := Init(tt.level, "", false); err != nil {
				t.Fatalf("Init: %v", err)
			}
			if got := Get().GetLevel(); got != tt.want {
				t.Errorf("level = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vkcompute.log")
	if err := Init("info", path, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	For("test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if s := string(data); !strings.Contains(s, "hello") || !strings.Contains(s, "component=test") {
		t.Errorf("log file = %q", s)
	}
}
