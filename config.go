package rubble

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds every tunable of the destruction core. Values load from the
// embedded defaults and may be overlaid from a user file; components receive
// their section at construction and never read thresholds elsewhere.
type Config struct {
	Thermal    ThermalConfig    `yaml:"thermal"`
	Structural StructuralConfig `yaml:"structural"`
	Surface    SurfaceConfig    `yaml:"surface"`
	Fracture   FractureConfig   `yaml:"fracture"`
	Debris     DebrisConfig     `yaml:"debris"`
	Physics    PhysicsConfig    `yaml:"physics"`
	Fluid      FluidConfig      `yaml:"fluid"`
	Impact     ImpactConfig     `yaml:"impact"`
	MeshCache  MeshCacheConfig  `yaml:"mesh_cache"`
}

type ThermalConfig struct {
	UpdateHz           float64 `yaml:"update_hz"`
	GridCellSize       float32 `yaml:"grid_cell_size"`
	MaxNeighbors       int     `yaml:"max_neighbors"`
	ConductionRange    float32 `yaml:"conduction_range"`
	RadiationRange     float32 `yaml:"radiation_range"`
	ContactArea        float64 `yaml:"contact_area"`
	AmbientK           float64 `yaml:"ambient_k"`
	ConvectionCoeff    float64 `yaml:"convection_coeff"`
	PhaseHysteresisK   float64 `yaml:"phase_hysteresis_k"`
	DamageThresholdK   float64 `yaml:"damage_threshold_k"`
	DamageRate         float64 `yaml:"damage_rate"`
	SpreadInterval     float64 `yaml:"spread_interval"`
	SpreadLineOfSight  bool    `yaml:"spread_line_of_sight"`
	AmbientOxygenMolM3 float64 `yaml:"ambient_oxygen_mol_m3"`
}

type StructuralConfig struct {
	Gravity            float64 `yaml:"gravity"`
	EffectiveAreaM2    float64 `yaml:"effective_area_m2"`
	CharacteristicLen  float64 `yaml:"characteristic_length"`
	CrackPropagationMS float64 `yaml:"crack_propagation_m_s"`
}

type SurfaceConfig struct {
	VertexBudget   int     `yaml:"vertex_budget"`
	MaxHoleRadius  float32 `yaml:"max_hole_radius"`
	RadiusPerJoule float32 `yaml:"radius_per_joule"`
	ChipMin        int     `yaml:"chip_min"`
	ChipMax        int     `yaml:"chip_max"`
}

type FractureConfig struct {
	NumFragments   int     `yaml:"num_fragments"`
	SeedClustering float32 `yaml:"seed_clustering"`
	UseGPU         bool    `yaml:"use_gpu"`
	MinPieceMass   float32 `yaml:"min_piece_mass"`
}

type DebrisConfig struct {
	MaxEntities       int     `yaml:"max_entities"`
	MaxTotalTriangles int     `yaml:"max_total_triangles"`
	LifetimeS         float64 `yaml:"lifetime_s"`
	MergeDistance     float32 `yaml:"merge_distance"`
	MergePressure     float64 `yaml:"merge_pressure"`
	EnableLOD         bool    `yaml:"enable_lod"`
	LODNear           float32 `yaml:"lod_near"`
	LODFar            float32 `yaml:"lod_far"`
	LODReductionFar   float32 `yaml:"lod_reduction_far"`
}

type PhysicsConfig struct {
	SubstepHz           float64 `yaml:"substep_hz"`
	Gravity             float32 `yaml:"gravity"`
	AirDragCoeff        float32 `yaml:"air_drag_coeff"`
	AngularDamping      float32 `yaml:"angular_damping"`
	Restitution         float32 `yaml:"restitution"`
	SolverIterations    int     `yaml:"solver_iterations"`
	CorrectionPercent   float32 `yaml:"correction_percent"`
	CorrectionSlop      float32 `yaml:"correction_slop"`
	SleepLinearVel      float32 `yaml:"sleep_linear_vel"`
	SleepAngularVel     float32 `yaml:"sleep_angular_vel"`
	SleepTime           float64 `yaml:"sleep_time"`
	GroundPlaneY        float32 `yaml:"ground_plane_y"`
	CollideWithTilemap  bool    `yaml:"collide_with_tilemap"`
}

type FluidConfig struct {
	SubmergeThreshold float32 `yaml:"submerge_threshold"`
	DragCoeff         float32 `yaml:"drag_coeff"`
	AngularDragCoeff  float32 `yaml:"angular_drag_coeff"`
	FlowStrength      float32 `yaml:"flow_strength"`
	WakeForceN        float32 `yaml:"wake_force_n"`
	MaxPieces         int     `yaml:"max_pieces"`
}

type ImpactConfig struct {
	DecalMaxJ     float64 `yaml:"decal_max_j"`
	SurfaceMaxJ   float64 `yaml:"surface_max_j"`
	PartialMaxJ   float64 `yaml:"partial_max_j"`
	ToughnessNorm float64 `yaml:"toughness_norm"`
	HealthPerKJ   float64 `yaml:"health_per_kj"`
}

type MeshCacheConfig struct {
	LoadTimeoutS float64 `yaml:"load_timeout_s"`
}

// DefaultConfig returns the embedded defaults. Panics if the embedded file
// is malformed, which is a build error, not a runtime condition.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		panic(fmt.Sprintf("embedded defaults.yaml is invalid: %v", err))
	}
	return cfg
}

// LoadConfig reads defaults and overlays the given YAML file on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
