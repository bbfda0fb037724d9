package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func seedConfigFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machguard.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return path
}

func TestManagerNeedsReloadAfterFileChange(t *testing.T) {
	path := seedConfigFile(t)
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil {
		t.Fatalf("needs reload: %v", err)
	}
	if needs {
		t.Fatalf("fresh manager should not need reload")
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err = m.NeedsReload()
	if err != nil {
		t.Fatalf("needs reload: %v", err)
	}
	if !needs {
		t.Fatalf("expected reload after file change")
	}
	if _, err := m.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	needs, err = m.NeedsReload()
	if err != nil {
		t.Fatalf("needs reload: %v", err)
	}
	if needs {
		t.Fatalf("reload should clear the pending change")
	}
}

func TestManagerConcurrentUpdateAndReloadCheck(t *testing.T) {
	path := seedConfigFile(t)
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			cfg := DefaultConfig()
			cfg.LogLevel = "debug"
			if err := m.Update(cfg); err != nil {
				t.Errorf("update: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 50; i++ {
		if _, err := m.NeedsReload(); err != nil {
			t.Fatalf("needs reload: %v", err)
		}
	}
	<-done
	if m.Get().LogLevel != "debug" {
		t.Fatalf("update not visible: %s", m.Get().LogLevel)
	}
}
