// Package pipeline sequences one subtitle-generation run:
// extract -> transcribe -> build cues -> (translate) -> write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxsub/subgen/internal/config"
	"github.com/voxsub/subgen/internal/cue"
	"github.com/voxsub/subgen/internal/fetch"
	"github.com/voxsub/subgen/internal/media"
	"github.com/voxsub/subgen/internal/metrics"
	"github.com/voxsub/subgen/internal/speech"
	"github.com/voxsub/subgen/internal/storage"
	"github.com/voxsub/subgen/internal/subtitle"
)

// Stage is one discrete step of a run.
type Stage string

const (
	StageExtracting   Stage = "extracting"
	StageTranscribing Stage = "transcribing"
	StageBuildingCues Stage = "building_cues"
	StageTranslating  Stage = "translating"
	StageWriting      Stage = "writing"
	StageDone         Stage = "done"
)

// ErrPersistFailed means the artifact could not be written to storage.
// Nothing is visible at the destination when this is returned.
var ErrPersistFailed = errors.New("persist failed")

// StageError tags a failure with the stage it happened in. Runs stop at
// the first failing stage; the wrapped error is surfaced unchanged.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Request describes one run. It is consumed once and not retained.
type Request struct {
	JobID          string
	Source         fetch.Source
	LanguageCode   string
	SourceLanguage string
	TargetLanguage string
}

// Result is a successful run's outcome.
type Result struct {
	ArtifactKey string
	Cues        int
	SourceLang  string
	TargetLang  string
}

// Translated reports whether a translation stage ran.
func (r *Result) Translated() bool { return r.SourceLang != r.TargetLang }

// Fetcher materializes a video source into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, src fetch.Source, workDir string) (string, func(), error)
}

// Transcriber turns extracted audio into raw timestamped segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audio *media.Audio, languageCode string) ([]speech.Segment, error)
}

// Translator rewrites cue text into the target language.
type Translator interface {
	Translate(ctx context.Context, cues []cue.Cue, sourceLang, targetLang string) ([]cue.Cue, error)
}

// ExtractFunc produces mono PCM audio from a video file. It is a field
// so tests can run the pipeline without ffmpeg installed.
type ExtractFunc func(ctx context.Context, videoPath, workDir string, sampleRate int) (*media.Audio, func(), error)

// Orchestrator drives runs through the stage machine. Each run owns its
// own scratch dir, audio, segments, and cues; concurrent runs share
// only the artifact store.
type Orchestrator struct {
	fetcher    Fetcher
	extract    ExtractFunc
	speech     Transcriber
	translator Translator
	store      storage.Store
	cueOpts    cue.Options
	sampleRate int
	workDir    string
	bus        *Bus
	onStage    func(jobID string, stage Stage)
	log        zerolog.Logger
}

// OrchestratorOptions wires an Orchestrator.
type OrchestratorOptions struct {
	Fetcher    Fetcher
	Extract    ExtractFunc // nil = media.Extract
	Speech     Transcriber
	Translator Translator
	Store      storage.Store
	Cue        config.CueConfig
	SampleRate int
	WorkDir    string
	Bus        *Bus
	OnStage    func(jobID string, stage Stage) // invoked on every stage entry
	Log        zerolog.Logger
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	extract := opts.Extract
	if extract == nil {
		extract = media.Extract
	}
	return &Orchestrator{
		fetcher:    opts.Fetcher,
		extract:    extract,
		speech:     opts.Speech,
		translator: opts.Translator,
		store:      opts.Store,
		cueOpts: cue.Options{
			MaxChars:    opts.Cue.MaxChars,
			MaxDuration: opts.Cue.MaxDuration.Seconds(),
			MergeBelow:  opts.Cue.MergeBelow.Seconds(),
		},
		sampleRate: opts.SampleRate,
		workDir:    opts.WorkDir,
		bus:        opts.Bus,
		onStage:    opts.OnStage,
		log:        opts.Log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes the stage machine for one request. On failure it returns
// a *StageError naming the failing stage; no artifact is published and
// all scratch files are removed either way.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	log := o.log.With().Str("job_id", req.JobID).Logger()
	runDir := filepath.Join(o.workDir, req.JobID)
	defer os.RemoveAll(runDir)

	// Extracting
	o.enterStage(req.JobID, StageExtracting)
	stageStart := time.Now()

	videoPath, cleanVideo, err := o.fetcher.Fetch(ctx, req.Source, runDir)
	if err != nil {
		return nil, o.fail(req.JobID, StageExtracting, err)
	}
	defer cleanVideo()

	audio, cleanAudio, err := o.extract(ctx, videoPath, runDir, o.sampleRate)
	if err != nil {
		return nil, o.fail(req.JobID, StageExtracting, err)
	}
	defer cleanAudio()
	o.observeStage(StageExtracting, stageStart)

	log.Debug().Float64("duration", audio.Duration).Msg("audio extracted")

	// Transcribing
	o.enterStage(req.JobID, StageTranscribing)
	stageStart = time.Now()
	segments, err := o.speech.Transcribe(ctx, audio, req.LanguageCode)
	if err != nil {
		return nil, o.fail(req.JobID, StageTranscribing, err)
	}
	o.observeStage(StageTranscribing, stageStart)

	// BuildingCues
	o.enterStage(req.JobID, StageBuildingCues)
	cues := cue.Build(toCueSegments(segments), o.cueOpts)
	log.Debug().Int("segments", len(segments)).Int("cues", len(cues)).Msg("cues built")

	sourceDoc := subtitle.Document{
		Cues:       cues,
		SourceLang: req.SourceLanguage,
		TargetLang: req.SourceLanguage,
	}

	// Translating (skipped when source == target)
	targetDoc := sourceDoc
	if req.SourceLanguage != req.TargetLanguage {
		o.enterStage(req.JobID, StageTranslating)
		stageStart = time.Now()
		translated, err := o.translator.Translate(ctx, cues, req.SourceLanguage, req.TargetLanguage)
		if err != nil {
			return nil, o.fail(req.JobID, StageTranslating, err)
		}
		o.observeStage(StageTranslating, stageStart)
		targetDoc = subtitle.Document{
			Cues:       translated,
			SourceLang: req.SourceLanguage,
			TargetLang: req.TargetLanguage,
		}
	}

	// Writing
	o.enterStage(req.JobID, StageWriting)
	stageStart = time.Now()
	artifactKey, err := o.write(ctx, req, sourceDoc, targetDoc)
	if err != nil {
		return nil, o.fail(req.JobID, StageWriting, err)
	}
	o.observeStage(StageWriting, stageStart)

	o.enterStage(req.JobID, StageDone)
	metrics.PipelineRunsTotal.WithLabelValues("done").Inc()

	log.Info().Str("artifact", artifactKey).Int("cues", len(targetDoc.Cues)).Msg("run complete")
	return &Result{
		ArtifactKey: artifactKey,
		Cues:        len(targetDoc.Cues),
		SourceLang:  req.SourceLanguage,
		TargetLang:  req.TargetLanguage,
	}, nil
}

// write persists the source-language SRT and transcript, plus the
// translated SRT when translation ran. The returned key is the primary
// artifact: the translated SRT if present, the source SRT otherwise.
func (o *Orchestrator) write(ctx context.Context, req Request, sourceDoc, targetDoc subtitle.Document) (string, error) {
	srcKey := artifactKey(req.JobID, req.SourceLanguage)
	if err := o.save(ctx, srcKey, subtitle.Compose(sourceDoc), "application/x-subrip"); err != nil {
		return "", err
	}

	txtKey := fmt.Sprintf("texts/%s/%s.txt", req.JobID, req.SourceLanguage)
	if err := o.save(ctx, txtKey, subtitle.PlainText(sourceDoc), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}

	if req.SourceLanguage == req.TargetLanguage {
		return srcKey, nil
	}

	tgtKey := artifactKey(req.JobID, req.TargetLanguage)
	if err := o.save(ctx, tgtKey, subtitle.Compose(targetDoc), "application/x-subrip"); err != nil {
		return "", err
	}
	return tgtKey, nil
}

func (o *Orchestrator) save(ctx context.Context, key string, data []byte, contentType string) error {
	if err := o.store.Save(ctx, key, data, contentType); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistFailed, key, err)
	}
	return nil
}

func artifactKey(jobID, lang string) string {
	return fmt.Sprintf("subtitles/%s/%s.srt", jobID, lang)
}

func (o *Orchestrator) enterStage(jobID string, stage Stage) {
	if o.onStage != nil {
		o.onStage(jobID, stage)
	}
	if o.bus != nil {
		o.bus.Publish(Event{Type: "stage", JobID: jobID, Stage: string(stage)})
	}
}

func (o *Orchestrator) fail(jobID string, stage Stage, err error) error {
	metrics.PipelineRunsTotal.WithLabelValues("failed").Inc()
	metrics.PipelineStageFailures.WithLabelValues(string(stage)).Inc()
	if o.bus != nil {
		o.bus.Publish(Event{Type: "failed", JobID: jobID, Stage: string(stage), Detail: err.Error()})
	}
	return &StageError{Stage: stage, Err: err}
}

func (o *Orchestrator) observeStage(stage Stage, start time.Time) {
	metrics.PipelineStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

func toCueSegments(segments []speech.Segment) []cue.Segment {
	out := make([]cue.Segment, len(segments))
	for i, s := range segments {
		out[i] = cue.Segment{
			Text:       s.Text,
			Start:      s.Start,
			End:        s.End,
			Confidence: s.Confidence,
		}
	}
	return out
}
