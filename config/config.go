package config

import (
	"fmt"
	"os"

	"github.com/notargets/KrylovStepper/mesh"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDt          = 1.e-3
	DefaultT           = 1.e-1
	DefaultRestart     = 20
	DefaultCheckpoints = 10
	DefaultBlowUp      = 1.e6
)

// Preconditioner names accepted in configuration files
const (
	PrecondIdentity = "identity"
	PrecondJacobi   = "jacobi"
	PrecondILU0     = "ilu0"
	PrecondDirect   = "direct"
)

// Ordering names accepted in configuration files
const (
	OrderingBandwidth        = "bandwidth"
	OrderingNestedDissection = "nested-dissection"
)

// SolverParameters configures one LinearSolverToolkit instance
type SolverParameters struct {
	Atol float64 `yaml:"atol"`
	Rtol float64 `yaml:"rtol"`
	// MaxIterations nil means no explicit cap: the method default (problem
	// dimension) bounds the iteration.
	MaxIterations  *int   `yaml:"max_iterations,omitempty"`
	Restart        int    `yaml:"restart,omitempty"`
	Preconditioner string `yaml:"preconditioner"`
}

// PhysicalParameters fully determines which cached operators apply
type PhysicalParameters struct {
	Ekman         float64    `yaml:"ekman"`
	Buoyancy      float64    `yaml:"buoyancy"`
	Coriolis      float64    `yaml:"coriolis"`
	CoriolisTilde float64    `yaml:"coriolis_tilde"`
	Kappa         float64    `yaml:"kappa"`
	MeanFlow      [3]float64 `yaml:"mean_flow,flow"`
	Dt            float64    `yaml:"dt"`
	T             float64    `yaml:"t"`
	BlowUp        float64    `yaml:"blow_up"`

	Inversion SolverParameters `yaml:"inversion"`
	Evolution SolverParameters `yaml:"evolution"`
}

// MeshConfig describes the box discretization
type MeshConfig struct {
	Nx int     `yaml:"nx"`
	Ny int     `yaml:"ny"`
	Nz int     `yaml:"nz"`
	Lx float64 `yaml:"lx"`
	Ly float64 `yaml:"ly"`
	Lz float64 `yaml:"lz"`
}

// Box converts the configuration into a mesh
func (m MeshConfig) Box() mesh.Box {
	return mesh.Box{Nx: m.Nx, Ny: m.Ny, Nz: m.Nz, Lx: m.Lx, Ly: m.Ly, Lz: m.Lz}
}

// ArchConfig selects the execution architecture once per process
type ArchConfig struct {
	Kind        string   `yaml:"kind"` // host | accelerator
	DeviceProps []string `yaml:"device_props,omitempty"`
	// Ordering is bandwidth (default) or nested-dissection, the latter
	// host only
	Ordering string `yaml:"ordering,omitempty"`
}

// RunConfig holds driver-level settings
type RunConfig struct {
	Checkpoints         int    `yaml:"checkpoints"`
	OutputDir           string `yaml:"output_dir"`
	CacheDir            string `yaml:"cache_dir"`
	CheckpointPrefix    string `yaml:"checkpoint_prefix"`
	MaxUnconvergedSteps int    `yaml:"max_unconverged_steps"`
	Plot                bool   `yaml:"plot"`
	// ProgressEvery is the progress log cadence in steps; 0 logs every step
	ProgressEvery int `yaml:"progress_every,omitempty"`
}

// Config is the complete run description
type Config struct {
	Physics PhysicalParameters `yaml:"physics"`
	Mesh    MeshConfig         `yaml:"mesh"`
	Arch    ArchConfig         `yaml:"arch"`
	Run     RunConfig          `yaml:"run"`
}

// Cap returns a pointer suitable for SolverParameters.MaxIterations
func Cap(n int) *int { return &n }

func DefaultConfig() *Config {
	return &Config{
		Physics: PhysicalParameters{
			Ekman:    1.e-2,
			Buoyancy: 1.,
			Coriolis: 1.,
			Kappa:    1.e-2,
			Dt:       DefaultDt,
			T:        DefaultT,
			BlowUp:   DefaultBlowUp,
			Inversion: SolverParameters{
				Atol:           1.e-12,
				Rtol:           1.e-8,
				Restart:        DefaultRestart,
				Preconditioner: PrecondDirect,
			},
			Evolution: SolverParameters{
				Atol:           1.e-12,
				Rtol:           1.e-10,
				Preconditioner: PrecondJacobi,
			},
		},
		Mesh: MeshConfig{Nx: 8, Ny: 8, Nz: 8, Lx: 1, Ly: 1, Lz: 1},
		Arch: ArchConfig{Kind: "host"},
		Run: RunConfig{
			Checkpoints:      DefaultCheckpoints,
			OutputDir:        "output",
			CacheDir:         "operator_cache",
			CheckpointPrefix: "state",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Steps returns the number of fixed-size steps needed to reach T
func (p PhysicalParameters) Steps() int {
	n := int(p.T/p.Dt + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// Symmetric reports whether the Evolution operator is symmetric positive definite
func (p PhysicalParameters) Symmetric() bool {
	return p.MeanFlow == [3]float64{}
}

func (c *Config) Validate() error {
	if err := c.Physics.Validate(); err != nil {
		return err
	}
	if err := c.Mesh.Box().Validate(); err != nil {
		return err
	}
	switch c.Arch.Kind {
	case "host", "accelerator":
	default:
		return fmt.Errorf("arch kind %q must be host or accelerator", c.Arch.Kind)
	}
	switch c.Arch.Ordering {
	case "", OrderingBandwidth:
	case OrderingNestedDissection:
		if c.Arch.Kind != "host" {
			return fmt.Errorf("arch ordering %q requires the host architecture", c.Arch.Ordering)
		}
	default:
		return fmt.Errorf("arch ordering %q must be %s or %s", c.Arch.Ordering, OrderingBandwidth, OrderingNestedDissection)
	}
	if c.Run.Checkpoints < 0 || c.Run.MaxUnconvergedSteps < 0 || c.Run.ProgressEvery < 0 {
		return fmt.Errorf("run: checkpoints, max_unconverged_steps and progress_every must be non-negative")
	}
	return nil
}

func (p PhysicalParameters) Validate() error {
	if p.Dt <= 0 || p.T <= 0 {
		return fmt.Errorf("dt and t must be positive, got dt=%g t=%g", p.Dt, p.T)
	}
	if p.Ekman <= 0 {
		return fmt.Errorf("ekman must be positive, got %g", p.Ekman)
	}
	if p.Kappa < 0 {
		return fmt.Errorf("kappa must be non-negative, got %g", p.Kappa)
	}
	if p.BlowUp <= 0 {
		return fmt.Errorf("blow_up threshold must be positive, got %g", p.BlowUp)
	}
	for name, sp := range map[string]SolverParameters{"inversion": p.Inversion, "evolution": p.Evolution} {
		if err := sp.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (s SolverParameters) Validate() error {
	if s.Atol < 0 || s.Rtol < 0 {
		return fmt.Errorf("tolerances must be non-negative, got atol=%g rtol=%g", s.Atol, s.Rtol)
	}
	if s.Atol == 0 && s.Rtol == 0 {
		return fmt.Errorf("at least one of atol, rtol must be positive")
	}
	if s.MaxIterations != nil && *s.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1 when set, got %d", *s.MaxIterations)
	}
	if s.Restart < 0 {
		return fmt.Errorf("restart must be non-negative, got %d", s.Restart)
	}
	switch s.Preconditioner {
	case PrecondIdentity, PrecondJacobi, PrecondILU0, PrecondDirect:
	default:
		return fmt.Errorf("unknown preconditioner %q", s.Preconditioner)
	}
	return nil
}
