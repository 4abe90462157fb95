package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Stage identifiers. Each run kind tracks a fixed, ordered subset.
const (
	StageValidate = "validate"
	StageProcess  = "process"
	StageCreate   = "create"
	StageExtract  = "extract"
	StageConvert  = "convert"
	StagePackage  = "package"
	StagePrepare  = "prepare"
)

// StageStatus is the lifecycle of one stage. Transitions are strictly
// forward: pending → processing → completed, or processing → error.
// There is no retry-in-place; retry is a fresh Run starting at validate.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageError      StageStatus = "error"
)

// StageState is the externally visible snapshot of one stage.
type StageState struct {
	ID     string      `json:"id"`
	Label  string      `json:"label"`
	Status StageStatus `json:"status"`
}

// Observer receives every stage transition. Calls are serialized per Run.
type Observer func(stage string, status StageStatus)

// Run tracks one end-to-end pipeline execution. A failed Run cannot be
// resumed; callers build a new one to retry.
type Run struct {
	Kind Kind

	mu       sync.Mutex
	stages   []StageState
	observer Observer
	failed   bool
}

// NewRun creates a Run with the stage sequence of the given kind, all
// stages pending. obs may be nil.
func NewRun(kind Kind, obs Observer) *Run {
	r := &Run{Kind: kind, observer: obs}
	switch kind {
	case KindPDFToImages:
		r.stages = []StageState{
			{ID: StageValidate, Label: "Validating PDF file", Status: StagePending},
			{ID: StageExtract, Label: "Extracting pages from PDF", Status: StagePending},
			{ID: StageConvert, Label: "Converting pages to images", Status: StagePending},
			{ID: StagePackage, Label: "Creating ZIP archive", Status: StagePending},
			{ID: StagePrepare, Label: "Preparing download", Status: StagePending},
		}
	default:
		r.stages = []StageState{
			{ID: StageValidate, Label: "Validating images", Status: StagePending},
			{ID: StageProcess, Label: "Processing images", Status: StagePending},
			{ID: StageCreate, Label: "Creating PDF document", Status: StagePending},
			{ID: StagePrepare, Label: "Preparing download", Status: StagePending},
		}
	}
	return r
}

// Stages returns a copy of the current stage states, in order.
func (r *Run) Stages() []StageState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageState, len(r.stages))
	copy(out, r.stages)
	return out
}

// Succeeded reports whether every stage reached completed.
func (r *Run) Succeeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stages {
		if s.Status != StageCompleted {
			return false
		}
	}
	return true
}

// Failed reports whether any stage reached error.
func (r *Run) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// setLocked updates a stage status. Caller holds r.mu and notifies the
// observer after unlocking, so an observer may read the Run freely.
func (r *Run) setLocked(id string, status StageStatus) {
	for i := range r.stages {
		if r.stages[i].ID == id {
			r.stages[i].Status = status
			break
		}
	}
}

// notify is called without r.mu held. The observer field is set at
// construction and never changes.
func (r *Run) notify(id string, status StageStatus) {
	if r.observer != nil {
		r.observer(id, status)
	}
}

// begin moves a stage from pending to processing. Rejected on a failed
// run or out of order; stages never revive or skip ahead.
func (r *Run) begin(id string) error {
	r.mu.Lock()
	if r.failed {
		r.mu.Unlock()
		return fmt.Errorf("run already failed, %s cannot start", id)
	}
	for i := range r.stages {
		if r.stages[i].ID != id {
			continue
		}
		if r.stages[i].Status != StagePending {
			r.mu.Unlock()
			return fmt.Errorf("stage %s is %s, not pending", id, r.stages[i].Status)
		}
		if i > 0 && r.stages[i-1].Status != StageCompleted {
			r.mu.Unlock()
			return fmt.Errorf("stage %s cannot start before %s completes", id, r.stages[i-1].ID)
		}
		r.setLocked(id, StageProcessing)
		r.mu.Unlock()
		r.notify(id, StageProcessing)
		return nil
	}
	r.mu.Unlock()
	return fmt.Errorf("unknown stage %s", id)
}

func (r *Run) complete(id string) {
	r.mu.Lock()
	r.setLocked(id, StageCompleted)
	r.mu.Unlock()
	r.notify(id, StageCompleted)
}

func (r *Run) fail(id string) {
	r.mu.Lock()
	r.failed = true
	r.setLocked(id, StageError)
	r.mu.Unlock()
	r.notify(id, StageError)
}

// Step executes fn under the named stage, applying the transition rules.
// Exported so tests and alternate frontends can drive a Run with
// synthetic stage outcomes.
func (r *Run) Step(id string, fn func() error) error {
	if err := r.begin(id); err != nil {
		return Classify(err)
	}
	if err := fn(); err != nil {
		r.fail(id)
		return err
	}
	r.complete(id)
	return nil
}

// RunImagesToPDF executes the full images→PDF pipeline
// (validate → process → create → prepare) under stage tracking.
// On any error the failing stage is flipped to error, later stages stay
// pending, and no artifact is produced.
func (s *Service) RunImagesToPDF(ctx context.Context, files []InputFile, obs Observer) (*Outcome, *Run, error) {
	run := NewRun(KindImagesToPDF, obs)

	if err := run.Step(StageValidate, func() error {
		return s.ValidateImages(files)
	}); err != nil {
		return nil, run, err
	}

	var descs []placement
	if err := run.Step(StageProcess, func() (err error) {
		descs, err = s.placeImages(files)
		return err
	}); err != nil {
		return nil, run, err
	}

	var doc []byte
	if err := run.Step(StageCreate, func() (err error) {
		doc, err = s.buildPDF(ctx, files, descs)
		return err
	}); err != nil {
		return nil, run, err
	}

	var out *Outcome
	if err := run.Step(StagePrepare, func() error {
		out = &Outcome{
			Filename:    "converted-images.pdf",
			StampedName: fmt.Sprintf("converted-images-%s.pdf", downloadTimestamp(time.Now())),
			ContentType: "application/pdf",
			Pages:       len(files),
			Data:        doc,
		}
		return nil
	}); err != nil {
		return nil, run, err
	}

	s.logger.Info("images converted to pdf", "files", len(files), "bytes", len(doc))
	return out, run, nil
}

// RunPDFToImages executes the full PDF→images pipeline
// (validate → extract → convert → package → prepare) under stage
// tracking. All-or-nothing: a single failing page fails the run.
func (s *Service) RunPDFToImages(ctx context.Context, name string, data []byte, obs Observer) (*Outcome, *Run, error) {
	run := NewRun(KindPDFToImages, obs)

	if err := run.Step(StageValidate, func() error {
		_, err := s.ValidatePDF(name, data)
		return err
	}); err != nil {
		return nil, run, err
	}

	var doc *docHandle
	if err := run.Step(StageExtract, func() (err error) {
		doc, err = s.extract(name, data)
		return err
	}); err != nil {
		return nil, run, err
	}
	defer doc.Close()

	var pages []PageImage
	if err := run.Step(StageConvert, func() (err error) {
		pages, err = s.renderPages(ctx, doc.doc)
		return err
	}); err != nil {
		return nil, run, err
	}

	var archive []byte
	if err := run.Step(StagePackage, func() (err error) {
		archive, err = BuildZip(pages)
		return err
	}); err != nil {
		return nil, run, err
	}

	var out *Outcome
	if err := run.Step(StagePrepare, func() error {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		out = &Outcome{
			Filename:    base + "-images.zip",
			StampedName: fmt.Sprintf("%s-images-%s.zip", base, downloadTimestamp(time.Now())),
			ContentType: "application/zip",
			Pages:       len(pages),
			Data:        archive,
		}
		return nil
	}); err != nil {
		return nil, run, err
	}

	s.logger.Info("pdf converted to images", "file", name, "pages", len(pages), "bytes", len(archive))
	return out, run, nil
}
