// Package pipeline sequences one conversion job: read, detect projection,
// clean geometries and normalize attributes in parallel, reproject, write,
// and score. It is the only entry point external callers use.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cascadegis/geoconv/attr"
	"github.com/cascadegis/geoconv/clean"
	"github.com/cascadegis/geoconv/config"
	"github.com/cascadegis/geoconv/crs"
	"github.com/cascadegis/geoconv/errors"
	"github.com/cascadegis/geoconv/feature"
	"github.com/cascadegis/geoconv/format"
	"github.com/cascadegis/geoconv/logger"
	"github.com/cascadegis/geoconv/quality"
)

// Stage names used in error wrapping and logs
const (
	StageRead      = "read"
	StageDetect    = "detect"
	StageClean     = "clean"
	StageNormalize = "normalize"
	StageReproject = "reproject"
	StageWrite     = "write"
	StageReport    = "report"
)

// JobSpec describes one conversion job. Read-only to the pipeline.
type JobSpec struct {
	Input               string        `json:"input_location"`
	DeclaredFormat      format.Format `json:"declared_format,omitempty"`
	SourceEPSG          int           `json:"source_epsg,omitempty"`
	OutputFormat        format.Format `json:"output_format"`
	Output              string        `json:"output_location"`
	TargetEPSG          int           `json:"target_epsg,omitempty"`
	FixGeometries       bool          `json:"fix_geometries"`
	NormalizeAttributes bool          `json:"normalize_attributes"`
	Encoding            string        `json:"encoding,omitempty"`
}

// Result is what a finished job hands back to the caller
type Result struct {
	Output                string          `json:"output_location"`
	FeatureCountOutput    int             `json:"feature_count_output"`
	ProcessingTimeSeconds float64         `json:"processing_time_seconds"`
	SourceEPSG            int             `json:"source_epsg"`
	TargetEPSG            int             `json:"target_epsg"`
	QualityReport         *quality.Report `json:"quality_report"`
}

// Runner executes jobs under the configured budgets
type Runner struct {
	cfg      *config.Config
	detector *crs.Detector
	log      *zap.SugaredLogger
}

func NewRunner(cfg *config.Config, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = logger.Logger
	}
	return &Runner{
		cfg:      cfg,
		detector: crs.NewDetector(cfg.Detect.FallbackEPSG, log),
		log:      log,
	}
}

// Run executes one job end to end. On any failure the output location is
// left untouched; artifacts only appear after every stage succeeded.
func (r *Runner) Run(ctx context.Context, spec JobSpec) (*Result, error) {
	start := time.Now()

	if hard := r.cfg.Budget.HardSeconds; hard > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(hard)*time.Second)
		defer cancel()
	}
	if soft := r.cfg.Budget.SoftSeconds; soft > 0 {
		timer := time.AfterFunc(time.Duration(soft)*time.Second, func() {
			r.log.Warnw("job exceeded its soft time budget",
				logger.FieldComponent, "pipeline",
				logger.FieldDurationMS, time.Since(start).Milliseconds(),
			)
		})
		defer timer.Stop()
	}

	scratch, err := os.MkdirTemp(r.cfg.Scratch.Root, "geoconv-job-")
	if err != nil {
		return nil, errors.Wrap(err, "create scratch area")
	}
	defer os.RemoveAll(scratch)

	col, meta, err := r.read(spec, scratch)
	if err != nil {
		return nil, r.stageErr(ctx, StageRead, err)
	}
	r.log.Infow("input loaded",
		logger.FieldComponent, "pipeline",
		logger.FieldStage, StageRead,
		logger.FieldFeatureCount, col.Len(),
		logger.FieldGeometryKind, string(col.Kind),
	)

	candidate := r.detect(spec, col, meta)
	r.log.Infow("projection selected",
		logger.FieldComponent, "pipeline",
		logger.FieldStage, StageDetect,
		logger.FieldEPSG, candidate.EPSG,
		logger.FieldConfidence, string(candidate.Confidence),
		logger.FieldMethod, candidate.Method,
	)

	cleaned, normalized, err := r.transform(ctx, spec, col)
	if err != nil {
		return nil, err
	}
	merged := mergeBranches(cleaned, normalized)

	targetEPSG := spec.TargetEPSG
	if targetEPSG == 0 {
		targetEPSG = candidate.EPSG
	}
	if err := r.reproject(merged, candidate.EPSG, targetEPSG); err != nil {
		return nil, r.stageErr(ctx, StageReproject, err)
	}

	if err := r.write(spec, merged, scratch, targetEPSG); err != nil {
		return nil, r.stageErr(ctx, StageWrite, err)
	}

	report := quality.Build(quality.Inputs{
		Cleaning:   cleaned.Stats,
		CRS:        candidate,
		Attributes: normalized,
		Output:     merged,
	}, r.cfg.Quality)

	elapsed := time.Since(start)
	r.log.Infow("job finished",
		logger.FieldComponent, "pipeline",
		logger.FieldFeatureCount, merged.Len(),
		logger.FieldQualityScore, report.CompositeScore,
		logger.FieldDurationMS, elapsed.Milliseconds(),
		logger.FieldOutputPath, spec.Output,
	)
	return &Result{
		Output:                spec.Output,
		FeatureCountOutput:    merged.Len(),
		ProcessingTimeSeconds: elapsed.Seconds(),
		SourceEPSG:            candidate.EPSG,
		TargetEPSG:            targetEPSG,
		QualityReport:         report,
	}, nil
}

func (r *Runner) read(spec JobSpec, scratch string) (*feature.Collection, *format.Metadata, error) {
	f := spec.DeclaredFormat
	if f == "" {
		sniffed, err := format.Sniff(spec.Input)
		if err != nil {
			return nil, nil, err
		}
		f = sniffed
	}

	input := spec.Input
	// Archives unpack into the job's scratch area under its byte cap
	if strings.EqualFold(filepath.Ext(input), ".zip") {
		unpacked := filepath.Join(scratch, "input")
		if err := os.MkdirAll(unpacked, 0o755); err != nil {
			return nil, nil, errors.Wrap(err, "create unpack directory")
		}
		if err := format.ExtractArchive(input, unpacked, r.cfg.Scratch.MaxBytes); err != nil {
			return nil, nil, err
		}
		shp, ok := format.FindByExtension(unpacked, ".shp")
		if !ok {
			return nil, nil, errors.Wrapf(errors.ErrCorruptArchive, "archive holds no .shp member")
		}
		input = shp
	}

	codec, err := format.Lookup(f)
	if err != nil {
		return nil, nil, err
	}
	return codec.Read(input)
}

func (r *Runner) detect(spec JobSpec, col *feature.Collection, meta *format.Metadata) crs.Candidate {
	if spec.SourceEPSG != 0 {
		return crs.Declared(spec.SourceEPSG)
	}
	ev := crs.Evidence{}
	if meta != nil {
		ev.MetadataEPSG = meta.EPSG
		ev.SidecarWKT = meta.SidecarWKT
	}
	if b, ok := sampleBound(col, r.cfg.Detect.SampleSize); ok {
		ev.Bound = b
		ev.HasBound = true
	}
	return r.detector.Detect(ev)
}

// transform runs the cleaner and the normalizer as parallel branches over
// the same immutable input collection.
func (r *Runner) transform(ctx context.Context, spec JobSpec, col *feature.Collection) (*clean.Result, *attr.Result, error) {
	var cleaned *clean.Result
	var normalized *attr.Result

	// Each branch tags its own failures so neither is misattributed to the
	// other's stage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return r.stageErr(gctx, StageClean, err)
		}
		if spec.FixGeometries {
			cleaned = clean.Clean(col, r.log)
		} else {
			cleaned = passthroughClean(col)
		}
		return nil
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return r.stageErr(gctx, StageNormalize, err)
		}
		if spec.NormalizeAttributes {
			normalized = attr.Normalize(col, outputNameLimit(spec.OutputFormat), r.log)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return cleaned, normalized, nil
}

// mergeBranches combines the cleaner's keep mask and repaired geometries
// with the normalizer's schema and attribute rows.
func mergeBranches(cleaned *clean.Result, normalized *attr.Result) *feature.Collection {
	if normalized == nil {
		return cleaned.Collection
	}

	kept := make([]*feature.Feature, 0, cleaned.Collection.Len())
	next := 0
	for i, keep := range cleaned.Keep {
		if !keep {
			continue
		}
		kept = append(kept, &feature.Feature{
			Geometry: cleaned.Collection.Features[next].Geometry,
			Attrs:    normalized.Collection.Features[i].Attrs,
		})
		next++
	}
	return &feature.Collection{
		Kind:     cleaned.Collection.Kind,
		Schema:   normalized.Collection.Schema,
		Features: kept,
	}
}

func (r *Runner) reproject(col *feature.Collection, sourceEPSG, targetEPSG int) error {
	if targetEPSG == 0 || targetEPSG == sourceEPSG {
		return nil
	}
	tr, err := crs.NewTransform(sourceEPSG, targetEPSG)
	if err != nil {
		return err
	}
	return crs.ReprojectCollection(col, tr)
}

func (r *Runner) write(spec JobSpec, col *feature.Collection, scratch string, epsg int) error {
	if err := format.CheckWritable(spec.OutputFormat, col); err != nil {
		return err
	}
	enc, err := format.ParseEncoding(spec.Encoding)
	if err != nil {
		return err
	}
	codec, err := format.Lookup(spec.OutputFormat)
	if err != nil {
		return err
	}

	meta := &format.Metadata{
		EPSG:      epsg,
		LayerName: layerNameFor(spec),
	}
	if def, ok := crs.Lookup(epsg); ok {
		meta.SidecarWKT = def.WKT
	}

	// Stage in scratch, then move: a failed job leaves no partial artifact
	staged := filepath.Join(scratch, "output"+filepath.Ext(spec.Output))
	if err := codec.Write(staged, col, meta, enc); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(spec.Output), 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	if err := moveFile(staged, spec.Output); err != nil {
		return errors.Wrap(err, "publish output")
	}
	return nil
}

// stageErr tags a failure with its pipeline stage and maps a blown hard
// budget to the timeout sentinel.
func (r *Runner) stageErr(ctx context.Context, stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errors.Wrapf(errors.ErrTimeout, "hard time budget exhausted: %v", err)
	}
	wrapped := errors.AtStage(err, stage)
	r.log.Errorw("stage failed",
		logger.FieldComponent, "pipeline",
		logger.FieldStage, stage,
		logger.FieldError, wrapped,
		logger.FieldErrorKind, errors.Kind(wrapped),
	)
	return wrapped
}

// passthroughClean builds a no-op cleaner result when fix_geometries is off
func passthroughClean(col *feature.Collection) *clean.Result {
	keep := make([]bool, col.Len())
	for i := range keep {
		keep[i] = true
	}
	return &clean.Result{
		Collection: col,
		Keep:       keep,
		Stats:      clean.Stats{TotalInput: col.Len(), TotalOutput: col.Len()},
	}
}

// sampleBound computes the extent of the first n features with geometry
func sampleBound(col *feature.Collection, n int) (b orb.Bound, ok bool) {
	if n <= 0 || n >= col.Len() {
		return col.Bound()
	}
	sampled := &feature.Collection{Features: col.Features[:n]}
	return sampled.Bound()
}

func outputNameLimit(f format.Format) int {
	codec, err := format.Lookup(f)
	if err != nil {
		return 0
	}
	return codec.Capabilities().FieldNameLimit
}

func layerNameFor(spec JobSpec) string {
	base := filepath.Base(spec.Output)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		return "features"
	}
	return stem
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to copy
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
