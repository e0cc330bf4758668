package sources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigCacheLoadValidConfig(t *testing.T) {
	tempDir := t.TempDir()

	content := `
platform: "fanforge"
creator: "ashdraws"
url: "https://fanforge.example.com/ashdraws"
feed_url: "https://fanforge.example.com/ashdraws/feed.xml"

settings:
  enabled: true
  timeout: 15
  max_pages: 10

grouping:
  - tag: "wallpaper"
    collection: "Wallpapers"
`

	err := os.WriteFile(filepath.Join(tempDir, "ashdraws.yml"), []byte(content), 0644)
	if err != nil {
		t.Fatal(err)
	}

	configCache := NewConfigCache(tempDir)
	err = configCache.Run()
	if err != nil {
		t.Fatal(err)
	}

	if configCache.GetConfigCount() != 1 {
		t.Errorf("Expected 1 source config, got %d", configCache.GetConfigCount())
	}

	sourceConfig, err := configCache.GetConfig("ashdraws")
	if err != nil {
		t.Fatal(err)
	}

	if sourceConfig.Name != "ashdraws" {
		t.Errorf("Expected name 'ashdraws', got '%s'", sourceConfig.Name)
	}
	if sourceConfig.Platform != "fanforge" {
		t.Errorf("Expected platform 'fanforge', got '%s'", sourceConfig.Platform)
	}
	if !sourceConfig.Settings.Enabled {
		t.Error("Expected source to be enabled")
	}
	if sourceConfig.Settings.Timeout != 15 {
		t.Errorf("Expected timeout 15, got %d", sourceConfig.Settings.Timeout)
	}
	if len(sourceConfig.Grouping) != 1 {
		t.Fatalf("Expected 1 grouping rule, got %d", len(sourceConfig.Grouping))
	}
	if sourceConfig.Grouping[0].Collection != "Wallpapers" {
		t.Errorf("Expected collection 'Wallpapers', got '%s'", sourceConfig.Grouping[0].Collection)
	}
}

func TestConfigCacheDefaults(t *testing.T) {
	tempDir := t.TempDir()

	content := `
platform: "fanforge"
creator: "ashdraws"
url: "https://fanforge.example.com/ashdraws"
settings:
  enabled: true
`

	err := os.WriteFile(filepath.Join(tempDir, "defaults.yml"), []byte(content), 0644)
	if err != nil {
		t.Fatal(err)
	}

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	sourceConfig, err := configCache.GetConfig("defaults")
	if err != nil {
		t.Fatal(err)
	}

	if sourceConfig.Settings.Timeout != 30 {
		t.Errorf("Expected default timeout 30, got %d", sourceConfig.Settings.Timeout)
	}
	if sourceConfig.Settings.MaxPages != 50 {
		t.Errorf("Expected default max pages 50, got %d", sourceConfig.Settings.MaxPages)
	}
}

func TestConfigCacheInvalidConfig(t *testing.T) {
	tempDir := t.TempDir()

	// Missing creator and URL
	content := `
platform: "fanforge"
settings:
  enabled: true
`

	err := os.WriteFile(filepath.Join(tempDir, "broken.yml"), []byte(content), 0644)
	if err != nil {
		t.Fatal(err)
	}

	configCache := NewConfigCache(tempDir)
	err = configCache.Run()
	if err == nil {
		t.Fatal("Expected error for invalid config")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("Expected 'required' in error, got: %v", err)
	}
}

func TestConfigCacheEnabledFilter(t *testing.T) {
	tempDir := t.TempDir()

	enabled := `
platform: "fanforge"
creator: "a"
url: "https://example.com/a"
settings:
  enabled: true
`
	disabled := `
platform: "fanforge"
creator: "b"
url: "https://example.com/b"
settings:
  enabled: false
`

	if err := os.WriteFile(filepath.Join(tempDir, "a.yml"), []byte(enabled), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "b.yml"), []byte(disabled), 0644); err != nil {
		t.Fatal(err)
	}

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if len(configCache.GetConfigs()) != 2 {
		t.Errorf("Expected 2 configs, got %d", len(configCache.GetConfigs()))
	}
	if len(configCache.GetEnabledConfigs()) != 1 {
		t.Errorf("Expected 1 enabled config, got %d", len(configCache.GetEnabledConfigs()))
	}
}
