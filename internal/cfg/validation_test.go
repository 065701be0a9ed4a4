package cfg

import (
	"strings"
	"testing"
	"time"

	"har-lifecycle/internal/ml"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		DataPath:       "data",
		ListenAddr:     ":8080",
		ServerURL:      "http://localhost:8080",
		WatchModels:    true,
		WatchDebounce:  250 * time.Millisecond,
		CacheSize:      8,
		RequestTimeout: 5 * time.Second,
		Trainer:        ml.DefaultTrainerConfig(),
		LogLevel:       "info",
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	if err := validateSettings(createValidSettings()); err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings_Ranges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"empty data path", func(s *Settings) { s.DataPath = "" }, "data path"},
		{"empty listen addr", func(s *Settings) { s.ListenAddr = "" }, "listen address"},
		{"empty server url", func(s *Settings) { s.ServerURL = "" }, "server URL"},
		{"debounce too short", func(s *Settings) { s.WatchDebounce = time.Millisecond }, "watch debounce"},
		{"debounce too long", func(s *Settings) { s.WatchDebounce = time.Hour }, "watch debounce"},
		{"timeout too long", func(s *Settings) { s.RequestTimeout = time.Hour }, "request timeout"},
		{"zero cache", func(s *Settings) { s.CacheSize = 0 }, "cache size"},
		{"zero test ratio", func(s *Settings) { s.Trainer.TestRatio = 0 }, "test ratio"},
		{"full test ratio", func(s *Settings) { s.Trainer.TestRatio = 1 }, "test ratio"},
		{"negative accuracy", func(s *Settings) { s.Trainer.MinAccuracy = -0.1 }, "min accuracy"},
		{"accuracy above one", func(s *Settings) { s.Trainer.MinAccuracy = 1.1 }, "min accuracy"},
		{"negative importance", func(s *Settings) { s.Trainer.ImportanceTop = -1 }, "importance top"},
		{"no trees", func(s *Settings) { s.Trainer.Forest.NEstimators = 0 }, "number of trees"},
		{"negative depth", func(s *Settings) { s.Trainer.Forest.MaxDepth = -1 }, "max depth"},
		{"split of one", func(s *Settings) { s.Trainer.Forest.MinSamplesSplit = 1 }, "min samples split"},
		{"empty leaf", func(s *Settings) { s.Trainer.Forest.MinSamplesLeaf = 0 }, "min samples leaf"},
		{"negative max features", func(s *Settings) { s.Trainer.Forest.MaxFeatures = -2 }, "max features"},
		{"bad level", func(s *Settings) { s.LogLevel = "loud" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createValidSettings()
			tt.mutate(s)
			err := validateSettings(s)
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateSettings_DebounceIgnoredWithoutWatcher(t *testing.T) {
	s := createValidSettings()
	s.WatchModels = false
	s.WatchDebounce = 0
	if err := validateSettings(s); err != nil {
		t.Errorf("expected debounce to be ignored when watching is off, got %v", err)
	}
}
