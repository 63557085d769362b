package rubble

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Thermal.UpdateHz != 30 {
		t.Errorf("thermal update rate default 30 Hz, got %f", cfg.Thermal.UpdateHz)
	}
	if cfg.Debris.MaxEntities != 500 || cfg.Debris.MaxTotalTriangles != 50000 {
		t.Errorf("debris budget defaults wrong: %+v", cfg.Debris)
	}
	if cfg.Debris.LifetimeS != 30 {
		t.Errorf("debris lifetime default 30 s, got %f", cfg.Debris.LifetimeS)
	}
	if cfg.Physics.SolverIterations != 4 {
		t.Errorf("solver iterations default 4, got %d", cfg.Physics.SolverIterations)
	}
	if cfg.Impact.DecalMaxJ != 10 || cfg.Impact.SurfaceMaxJ != 100 || cfg.Impact.PartialMaxJ != 500 {
		t.Errorf("impact thresholds wrong: %+v", cfg.Impact)
	}
	if cfg.Surface.VertexBudget != 500 {
		t.Errorf("surface vertex budget default 500, got %d", cfg.Surface.VertexBudget)
	}
	if cfg.MeshCache.LoadTimeoutS != 30 {
		t.Errorf("mesh load timeout default 30 s, got %f", cfg.MeshCache.LoadTimeoutS)
	}
}

func TestLoadConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	overlay := "debris:\n  max_entities: 64\n"
	if err := os.WriteFile(path, []byte(overlay), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Debris.MaxEntities != 64 {
		t.Errorf("overlay should win, got %d", cfg.Debris.MaxEntities)
	}
	// Untouched sections keep their defaults.
	if cfg.Debris.LifetimeS != 30 {
		t.Errorf("unset overlay keys keep defaults, got %f", cfg.Debris.LifetimeS)
	}
	if cfg.Thermal.UpdateHz != 30 {
		t.Errorf("other sections keep defaults")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/does/not/exist.yaml"); err == nil {
		t.Errorf("missing override file must error")
	}
}
