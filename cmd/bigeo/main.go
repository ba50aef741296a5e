// Package main provides the bigeo command line tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tingold/bigeo"
	"github.com/tingold/bigeo/geom"
	"github.com/tingold/bigeo/internal/config"
	"github.com/tingold/bigeo/internal/logger"
	"github.com/tingold/bigeo/vector"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitOpenError     = 2
	ExitProjectionErr = 3
	ExitWriteError    = 4
	ExitGeometryError = 5
)

// Build information (set via ldflags during build)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// cli holds the state shared by all commands of one invocation.
type cli struct {
	stdout, stderr io.Writer

	configPath string
	engine     string
	driver     string
	extension  string
	logLevel   string
	logFormat  string
	verbose    bool

	cfg config.Config
	log *slog.Logger
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	if c.log != nil {
		c.log.Error("operation failed", "error", err)
	} else {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps pipeline error kinds to process exit codes. Anything that
// is not a pipeline error is a usage error.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, bigeo.ErrDatasetOpen):
		return ExitOpenError
	case errors.Is(err, bigeo.ErrProjection):
		return ExitProjectionErr
	case errors.Is(err, bigeo.ErrDatasetWrite):
		return ExitWriteError
	case errors.Is(err, bigeo.ErrGeometry):
		return ExitGeometryError
	}
	return ExitUsageError
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bigeo",
		Short: "bigeo - batch vector feature transformations",
		Long: `bigeo reprojects vector datasets and derives bounding boxes, centroids
and representative points from their features.

Supported formats: ESRI Shapefile, FlatGeobuf, GeoJSON and GeoParquet.

Exit codes:
  0 - Success
  1 - Usage or configuration error
  2 - Source dataset could not be opened or read
  3 - Target CRS unknown or projection failed
  4 - Destination dataset could not be written
  5 - Geometry not supported by the operation

Examples:
  bigeo reprojector --indir data --outdir out --crs EPSG:3857
  bigeo boundingbox --srcfile parcels.shp --outfile bbox.shp
  bigeo centroids --srcfile parcels.shp --outfile centroids.fgb --driver fgb`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	f := root.PersistentFlags()
	f.StringVar(&c.configPath, "config", "", "YAML configuration file")
	f.StringVar(&c.engine, "engine", "", "geometry engine: planar or duckdb")
	f.StringVar(&c.driver, "driver", "", "output driver, defaults to the source driver")
	f.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&c.logFormat, "log-format", "", "log format: json or text")
	f.BoolVarP(&c.verbose, "verbose", "v", false, "log every feature")

	root.AddCommand(
		c.reprojectCmd(),
		c.deriveCmd(bigeo.BoundingBox, "Write the bounding box polygon of every feature"),
		c.deriveCmd(bigeo.Centroid, "Write the centroid of every feature"),
		c.deriveCmd(bigeo.RepresentativePoint, "Write a point inside every feature"),
		c.driversCmd(),
		c.versionCmd(),
	)
	return root
}

// setup resolves configuration and the logger before any command runs.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	override := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	override("engine", &cfg.Engine, c.engine)
	override("driver", &cfg.Driver, c.driver)
	override("extension", &cfg.Extension, c.extension)
	override("log-level", &cfg.LogLevel, c.logLevel)
	override("log-format", &cfg.LogFormat, c.logFormat)
	if c.verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: c.stderr})
	if err != nil {
		return err
	}
	c.cfg, c.log = cfg, log
	return nil
}

// options builds pipeline options. The caller closes the engine.
func (c *cli) options(ctx context.Context) (bigeo.Options, error) {
	engine, err := geom.New(ctx, c.cfg.Engine, c.cfg.EngineOptions())
	if err != nil {
		return bigeo.Options{}, err
	}
	c.log.Debug("engine ready", "engine", engine.Name())

	opts := bigeo.DefaultOptions()
	opts.Engine = engine
	opts.Driver = c.cfg.Driver
	if c.cfg.Extension != "" {
		opts.Extension = c.cfg.Extension
	}
	opts.Observer = bigeo.LogObserver(c.log)
	return opts, nil
}

func (c *cli) reprojectCmd() *cobra.Command {
	var inDir, outDir, target string

	cmd := &cobra.Command{
		Use:     bigeo.Reproject.String(),
		Aliases: bigeo.Reproject.Aliases(),
		Short:   "Reproject every dataset of a directory",
		Long: `Reproject every dataset in --indir with the discovery extension into
--outdir, keeping file names and schemas. A failure on one dataset stops
the batch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := c.options(cmd.Context())
			if err != nil {
				return err
			}
			defer opts.Engine.Close()

			c.log.Info("reprojecting datasets", "indir", inDir, "outdir", outDir, "crs", target)
			return bigeo.ReprojectDir(cmd.Context(), inDir, outDir, target, opts)
		},
	}

	cmd.Flags().StringVar(&inDir, "indir", "", "directory holding the source datasets")
	cmd.Flags().StringVar(&outDir, "outdir", "", "directory receiving the reprojected datasets")
	cmd.Flags().StringVar(&target, "crs", "", "target CRS, e.g. EPSG:3857")
	cmd.Flags().StringVar(&c.extension, "extension", "", "extension of the datasets to reproject (default .shp)")
	for _, name := range []string{"indir", "outdir", "crs"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (c *cli) deriveCmd(op bigeo.Operation, short string) *cobra.Command {
	var src, dst string

	cmd := &cobra.Command{
		Use:     op.String(),
		Aliases: op.Aliases(),
		Short:   short,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := c.options(cmd.Context())
			if err != nil {
				return err
			}
			defer opts.Engine.Close()

			return bigeo.Run(cmd.Context(), bigeo.Transform{Op: op}, []string{src}, dst, opts)
		},
	}

	cmd.Flags().StringVar(&src, "srcfile", "", "source dataset")
	cmd.Flags().StringVar(&dst, "outfile", "", "destination dataset")
	for _, name := range []string{"srcfile", "outfile"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (c *cli) driversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the supported dataset formats",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, d := range vector.Drivers() {
				fmt.Fprintf(c.stdout, "%-16s %s\n", d.Name(), strings.Join(d.Extensions(), " "))
			}
		},
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(c.stdout, "bigeo %s\n", version)
			fmt.Fprintf(c.stdout, "  commit: %s\n", commit)
			fmt.Fprintf(c.stdout, "  built:  %s\n", buildDate)
		},
	}
}
