package bigeo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/tingold/bigeo/crs"
	"github.com/tingold/bigeo/geom"
	"github.com/tingold/bigeo/vector"
)

// Options configures a pipeline run.
type Options struct {
	Engine    geom.Engine // geometry engine, nil selects geom.Planar
	Driver    string      // output driver, empty keeps the source driver
	Extension string      // file extension Reproject discovers, e.g. ".shp"
	Observer  Observer    // progress events, may be nil
}

// DefaultOptions returns the planar engine, the source driver and shapefile
// discovery.
func DefaultOptions() Options {
	return Options{
		Engine:    geom.Planar{},
		Extension: ".shp",
	}
}

func (o Options) withDefaults() Options {
	if o.Engine == nil {
		o.Engine = geom.Planar{}
	}
	if o.Extension == "" {
		o.Extension = ".shp"
	}
	if !strings.HasPrefix(o.Extension, ".") {
		o.Extension = "." + o.Extension
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// Run applies t to every feature of the source datasets.
//
// Reproject writes each source into the directory dst under its own file
// name and accepts any number of sources, processed one after another. The
// other operations take exactly one source and write the dataset dst.
//
// The first failure aborts the run. Destinations written before the failure
// are kept and a partially written destination is left as is.
func Run(ctx context.Context, t Transform, sources []string, dst string, opts Options) error {
	opts = opts.withDefaults()

	var out vector.Driver
	if opts.Driver != "" {
		d, err := vector.Lookup(opts.Driver)
		if err != nil {
			return err
		}
		out = d
	}

	switch t.Op {
	case Reproject:
		if len(sources) == 0 {
			return fmt.Errorf("%w: %s needs at least one source", ErrSourceCount, t.Op)
		}
		if t.Target.IsZero() {
			return newError(ErrProjection, t.Op, dst, crs.ErrInvalid)
		}
		for _, src := range sources {
			target := filepath.Join(dst, filepath.Base(src))
			if out != nil {
				target = vector.SwapExt(target, out)
			}
			if err := runOne(ctx, t, src, target, opts); err != nil {
				return err
			}
		}
		return nil
	case BoundingBox, Centroid, RepresentativePoint:
		if len(sources) != 1 {
			return fmt.Errorf("%w: %s takes one source, got %d", ErrSourceCount, t.Op, len(sources))
		}
		return runOne(ctx, t, sources[0], dst, opts)
	}
	return fmt.Errorf("%w: %s", ErrUnknownOperation, t.Op)
}

// ReprojectDir reprojects every dataset in inDir with the discovery extension
// into outDir. target is any identifier crs.Parse accepts.
func ReprojectDir(ctx context.Context, inDir, outDir, target string, opts Options) error {
	opts = opts.withDefaults()

	c, err := crs.Parse(target)
	if err != nil {
		return newError(ErrProjection, Reproject, outDir, err)
	}

	sources, err := discover(inDir, opts.Extension)
	if err != nil {
		return newError(ErrDatasetOpen, Reproject, inDir, err)
	}
	for _, src := range sources {
		opts.Observer.Observe(Event{Kind: EventDiscovered, Op: Reproject, Path: src})
	}
	if len(sources) == 0 {
		opts.Observer.Observe(Event{
			Kind:    EventWarning,
			Op:      Reproject,
			Path:    inDir,
			Message: fmt.Sprintf("no %s datasets found", opts.Extension),
		})
		return nil
	}

	if same, err := samePath(inDir, outDir); err == nil && same {
		return newError(ErrDatasetWrite, Reproject, outDir, errors.New("output directory is the input directory"))
	}
	return Run(ctx, Transform{Op: Reproject, Target: c}, sources, outDir, opts)
}

// BoundingBoxes writes the envelope of every feature of src as a polygon.
func BoundingBoxes(ctx context.Context, src, dst string, opts Options) error {
	return Run(ctx, Transform{Op: BoundingBox}, []string{src}, dst, opts)
}

// Centroids writes the centroid of every feature of src.
func Centroids(ctx context.Context, src, dst string, opts Options) error {
	return Run(ctx, Transform{Op: Centroid}, []string{src}, dst, opts)
}

// RepresentativePoints writes a point inside every feature of src.
func RepresentativePoints(ctx context.Context, src, dst string, opts Options) error {
	return Run(ctx, Transform{Op: RepresentativePoint}, []string{src}, dst, opts)
}

// discover lists the files in dir with extension ext, sorted by name.
func discover(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func samePath(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(ia, ib), nil
}

// runOne streams a single source into a single destination.
func runOne(ctx context.Context, t Transform, src, dst string, opts Options) error {
	if same, err := samePath(src, dst); err == nil && same {
		return newError(ErrDatasetWrite, t.Op, dst, errors.New("destination is the source"))
	}

	r, err := vector.Open(src)
	if err != nil {
		return newError(ErrDatasetOpen, t.Op, src, err)
	}
	defer r.Close()

	opts.Observer.Observe(Event{
		Kind:   EventReading,
		Op:     t.Op,
		Path:   src,
		Driver: r.Driver(),
		CRS:    r.CRS().String(),
	})

	outCRS := r.CRS()
	var proj geom.Projector
	if t.Op == Reproject {
		outCRS = t.Target
		if r.CRS().IsZero() {
			// nothing to transform from, label the output only
			opts.Observer.Observe(Event{
				Kind:    EventWarning,
				Op:      t.Op,
				Path:    src,
				Message: "source has no CRS, assigning " + t.Target.String() + " without transforming coordinates",
			})
			proj, _ = geom.Planar{}.Projector(t.Target, t.Target)
		} else if proj, err = opts.Engine.Projector(r.CRS(), t.Target); err != nil {
			return newError(ErrProjection, t.Op, src, err)
		}
	}

	driver := opts.Driver
	if driver == "" {
		driver = r.Driver()
	}
	schema := r.Schema().WithGeometry(t.Op.OutputType(r.Schema().Geometry))

	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return newError(ErrDatasetWrite, t.Op, dst, err)
		}
	}
	w, err := vector.Create(dst, driver, schema, outCRS)
	if err != nil {
		return newError(ErrDatasetWrite, t.Op, dst, err)
	}

	opts.Observer.Observe(Event{
		Kind:   EventWriting,
		Op:     t.Op,
		Path:   src,
		Dest:   dst,
		Driver: driver,
		CRS:    outCRS.String(),
	})

	if err := stream(ctx, t, r, w, proj, src, dst, opts); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return newError(ErrDatasetWrite, t.Op, dst, err)
	}

	opts.Observer.Observe(Event{Kind: EventDone, Op: t.Op, Path: src, Dest: dst, Count: w.Count()})
	return nil
}

func stream(ctx context.Context, t Transform, r vector.Reader, w vector.Writer, proj geom.Projector, src, dst string, opts Options) error {
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &Error{Kind: ErrDatasetOpen, Op: t.Op, Path: src, Feature: i, Err: err}
		}

		g, err := t.apply(ctx, opts.Engine, proj, f.Geometry)
		if err != nil {
			kind := ErrGeometry
			if t.Op == Reproject {
				kind = ErrProjection
			}
			return &Error{Kind: kind, Op: t.Op, Path: src, Feature: i, Err: err}
		}

		out := &geojson.Feature{
			ID:         f.ID,
			Type:       f.Type,
			Geometry:   g,
			Properties: f.Properties,
		}
		if err := w.Write(out); err != nil {
			return &Error{Kind: ErrDatasetWrite, Op: t.Op, Path: dst, Feature: i, Err: err}
		}
		opts.Observer.Observe(Event{Kind: EventFeature, Op: t.Op, Dest: dst, Feature: i})
	}
}
