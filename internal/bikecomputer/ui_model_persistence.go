package bikecomputer

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

type uiModelPersistenceData struct {
	LastTrailName string `json:"last_trail_name"`
}

type uiModelPersistence struct {
	filePath string
	mu       sync.Mutex
	data     uiModelPersistenceData
	logger   *log.Logger
}

// DefaultStatePath is ~/.bike-computer/ui_state.json.
func DefaultStatePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".bike-computer", "ui_state.json")
}

func newUIModelPersistence(filePath string, logger *log.Logger) *uiModelPersistence {
	p := &uiModelPersistence{
		filePath: filePath,
		logger:   logger,
	}
	p.load()
	return p
}

func (p *uiModelPersistence) getLastTrailName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.LastTrailName
}

func (p *uiModelPersistence) setLastTrailName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data.LastTrailName == name {
		return
	}
	p.data.LastTrailName = name
	p.save()
}

func (p *uiModelPersistence) load() {
	if p.filePath == "" {
		return
	}
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("UIModelPersistence: load %s (no existing file)", p.filePath)
		return
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		p.logger.Printf("UIModelPersistence: load %s failed to parse: %v", p.filePath, err)
		return
	}
	p.logger.Printf("UIModelPersistence: load %s -> last trail %q", p.filePath, p.data.LastTrailName)
}

// save must be called with mu held.
func (p *uiModelPersistence) save() {
	if p.filePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0755); err != nil {
		p.logger.Printf("UIModelPersistence: save mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.logger.Printf("UIModelPersistence: save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0644); err != nil {
		p.logger.Printf("UIModelPersistence: save %s failed: %v", p.filePath, err)
	}
}
