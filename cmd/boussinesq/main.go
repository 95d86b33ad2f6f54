package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/notargets/KrylovStepper/arch"
	"github.com/notargets/KrylovStepper/assembly"
	"github.com/notargets/KrylovStepper/cache"
	"github.com/notargets/KrylovStepper/config"
	"github.com/notargets/KrylovStepper/integrator"
	"github.com/notargets/KrylovStepper/reorder"
	"github.com/notargets/KrylovStepper/simerr"
	"github.com/notargets/KrylovStepper/state"
	"github.com/notargets/KrylovStepper/viz"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string
	archKind   string
	ordering   string
	restart    bool
	outDir     string
	cacheDir   string
	steps      int
	verbose    bool
	amplitude  float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "boussinesq",
		Short:         "semi-implicit rotating Boussinesq solver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run or restart a simulation",
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVar(&archKind, "arch", "", "host or accelerator (overrides config)")
	runCmd.Flags().StringVar(&ordering, "ordering", "", "bandwidth or nested-dissection (overrides config)")
	runCmd.Flags().BoolVar(&restart, "restart", false, "resume from the latest checkpoint")
	runCmd.Flags().StringVar(&outDir, "out", "", "output directory (overrides config)")
	runCmd.Flags().StringVar(&cacheDir, "cache", "", "operator cache directory (overrides config)")
	runCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (default T/dt)")
	runCmd.Flags().Float64Var(&amplitude, "amplitude", 1e-2, "initial buoyancy perturbation")

	initCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("default configuration written to %s\n", args[0])
			return nil
		},
	}

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "list cached operators",
		RunE:  listCache,
	}
	cacheCmd.Flags().StringVar(&cacheDir, "cache", "", "operator cache directory (overrides config)")

	rootCmd.AddCommand(runCmd, initCmd, cacheCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if simerr.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}
	if archKind != "" {
		cfg.Arch.Kind = archKind
	}
	if ordering != "" {
		cfg.Arch.Ordering = ordering
	}
	if outDir != "" {
		cfg.Run.OutputDir = outDir
	}
	if cacheDir != "" {
		cfg.Run.CacheDir = cacheDir
	}
	return cfg, cfg.Validate()
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	kind, err := arch.ParseKind(cfg.Arch.Kind)
	if err != nil {
		return err
	}
	method, err := reorder.ParseMethod(cfg.Arch.Ordering)
	if err != nil {
		return err
	}
	adapter, err := arch.New(arch.Config{Kind: kind, DeviceProps: cfg.Arch.DeviceProps, Logger: log})
	if err != nil {
		return err
	}
	defer adapter.Close()

	box := cfg.Mesh.Box()
	asm, err := assembly.NewStaggered(box, cfg.Physics)
	if err != nil {
		return err
	}
	c, err := cache.New(cfg.Run.CacheDir, log)
	if err != nil {
		return err
	}
	store := state.NewStore(cfg.Run.OutputDir, cfg.Run.CheckpointPrefix, log)
	sinks := viz.Multi{viz.NewProfile(filepath.Join(cfg.Run.OutputDir, "profile.csv"), log)}
	if cfg.Run.Plot {
		sinks = append(sinks, viz.NewHeatMap(filepath.Join(cfg.Run.OutputDir, "images"), log))
	}

	it, err := integrator.New(integrator.Setup{
		Adapter:   adapter,
		Physics:   cfg.Physics,
		Run:       cfg.Run,
		Ordering:  method,
		Assembler: asm,
		Cache:     c,
		Store:     store,
		Sink:      sinks,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer it.Close()

	if restart {
		path, _, err := store.Latest()
		if err != nil {
			return fmt.Errorf("restart: %w", err)
		}
		sim, err := store.Load(path)
		if err != nil {
			return err
		}
		if err := it.Resume(sim); err != nil {
			return err
		}
	} else if err := it.Initialize(Perturbation(box, amplitude)); err != nil {
		return err
	}

	n := steps
	if n <= 0 {
		n = cfg.Physics.Steps() - it.Steps()
	}
	if n <= 0 {
		log.Info("final time already reached")
		return nil
	}
	log.WithFields(logrus.Fields{
		"mesh": box, "arch": adapter.Kind(), "steps": n, "dt": cfg.Physics.Dt,
	}).Info("starting run")
	if err := it.Run(n); err != nil {
		return err
	}
	log.WithField("time", it.State().Time).Info("run complete")
	return nil
}

func listCache(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := cache.New(cfg.Run.CacheDir, newLogger())
	if err != nil {
		return err
	}
	m, err := c.Manifest()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tOPERATOR\tSIZE\tNNZ\tCREATED")
	for _, k := range keys {
		e := m.Entries[k]
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%d\t%s\n", k, e.Name, e.Rows, e.Cols, e.NNZ, e.Created.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
