package certificate

import (
	"context"
	"crypto"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/idlock"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/telemetry"
)

const tracerName = "github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/domain/certificate"

// DefaultCleanupConcurrency bounds concurrent expunges when none is configured.
const DefaultCleanupConcurrency = 3

// Config holds the identifier systems and limits of a Pipeline.
type Config struct {
	FolderIdentifierSystem   string
	DocumentIdentifierSystem string
	CleanupConcurrency       int
}

// Pipeline runs the certificate saga for one core data set at a time.
type Pipeline struct {
	repo      Repository
	resolver  *Resolver
	assembler Assembler
	enricher  Enricher
	signer    crypto.Signer
	locker    idlock.Locker
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    zerolog.Logger
	cfg       Config
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLocker serializes runs for the same patient identifier.
func WithLocker(l idlock.Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

// WithMetrics records run outcomes and stage latencies.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithEnricher sets the best-effort content enricher.
func WithEnricher(e Enricher) Option {
	return func(p *Pipeline) { p.enricher = e }
}

// NewPipeline returns a Pipeline signing with signer. Without options it
// uses no lock, no enricher and discards metrics.
func NewPipeline(repo Repository, assembler Assembler, signer crypto.Signer, cfg Config, logger zerolog.Logger, opts ...Option) *Pipeline {
	if cfg.CleanupConcurrency < 1 {
		cfg.CleanupConcurrency = DefaultCleanupConcurrency
	}
	logger = logger.With().Str("component", "certificate").Logger()
	p := &Pipeline{
		repo:      repo,
		resolver:  NewResolver(repo, logger),
		assembler: assembler,
		signer:    signer,
		locker:    idlock.Noop{},
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run is the mutable state threaded through the stages.
type run struct {
	cctx      *Context
	bundle    *fhir.Bundle
	committed *fhir.Bundle
	document  map[string]interface{}
	signed    map[string]interface{}
	unlock    idlock.Unlock
	stages    []Stage
	logger    zerolog.Logger
}

type step struct {
	stage Stage
	fn    func(ctx context.Context, r *run) error
	// fatal is false for stages whose failure is logged and skipped.
	fatal bool
}

func (p *Pipeline) steps() []step {
	return []step{
		{StageInit, p.init, true},
		{StageResolve, p.resolve, true},
		{StageAssemble, p.assemble, true},
		{StageDedupMerge, p.merge, true},
		{StageEnrich, p.enrich, false},
		{StageCommit, p.commit, true},
		{StageCompose, p.compose, true},
		{StageSign, p.sign, true},
		{StageCleanup, p.cleanup, false},
	}
}

// Run executes the saga. Any fatal stage failure ends the run with an
// *Error; nothing committed before it is rolled back.
func (p *Pipeline) Run(ctx context.Context, cctx *Context) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "certificate.Run", trace.WithAttributes(
		attribute.String("ddcc.kind", string(cctx.Kind)),
		attribute.String("ddcc.hcid", cctx.CoreDataSet.HCID()),
	))
	defer span.End()

	r := &run{
		cctx:   cctx,
		logger: p.logger.With().Str("hcid", cctx.CoreDataSet.HCID()).Logger(),
	}
	defer p.release(ctx, r)

	for _, s := range p.steps() {
		r.stages = append(r.stages, s.stage)
		err := p.runStep(ctx, r, s)
		if err == nil {
			continue
		}
		if !s.fatal {
			r.logger.Warn().Err(err).Str("stage", string(s.stage)).Msg("non-fatal stage failed, continuing")
			continue
		}

		e := AsError(err)
		e.Stage = s.stage
		r.stages = append(r.stages, StageFailed)
		span.RecordError(e)
		span.SetStatus(codes.Error, e.Reason)
		p.metrics.IncrementRun(string(cctx.Kind), "failed")
		r.logger.Error().Err(e).Str("stage", string(s.stage)).Str("code", e.Code).Msg("certificate pipeline failed")
		return nil, e
	}

	r.stages = append(r.stages, StageDone)
	p.metrics.IncrementRun(string(cctx.Kind), "done")
	r.logger.Info().Str("document_id", fhir.ResourceID(r.signed)).Msg("certificate signed")

	return &Result{
		Document:  r.signed,
		Committed: committedEntries(r.bundle, r.committed),
		Stages:    r.stages,
	}, nil
}

func (p *Pipeline) runStep(ctx context.Context, r *run, s step) error {
	ctx, span := p.tracer.Start(ctx, "certificate."+string(s.stage))
	defer span.End()

	start := time.Now()
	err := s.fn(ctx, r)
	p.metrics.ObserveStage(string(s.stage), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.logger.Debug().Str("stage", string(s.stage)).Dur("latency", time.Since(start)).Msg("stage finished")
	return err
}

// init checks the business keys before any repository call.
func (p *Pipeline) init(_ context.Context, r *run) error {
	cds := r.cctx.CoreDataSet
	if cds.PatientIdentifier() == "" {
		return validationError(fhir.IssueTypeRequired, ReasonMissingIdentifier, "Missing patient identifier")
	}
	if cds.HCID() == "" {
		return validationError(fhir.IssueTypeRequired, ReasonMissingIdentifier, "Missing certificate hcid")
	}
	if cds.IssuerIdentifier() == "" {
		return validationError(fhir.IssueTypeRequired, ReasonMissingIdentifier, "Missing certificate issuer identifier")
	}
	cds.StampVersion(r.cctx.Version)
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, r *run) error {
	cds := r.cctx.CoreDataSet
	unlock, err := p.locker.Lock(ctx, cds.PatientIdentifier())
	if err != nil {
		return transportError(ReasonLock, err)
	}
	r.unlock = unlock

	r.cctx.Resolved = Resolved{
		Organization: p.resolver.ResolveOrganization(ctx, cds.IssuerIdentifier()),
		Patient:      p.resolver.ResolvePatient(ctx, cds.PatientIdentifier()),
		Folder:       p.resolver.ResolveFolder(ctx, p.cfg.FolderIdentifierSystem, cds.HCID()),
	}
	return nil
}

func (p *Pipeline) assemble(ctx context.Context, r *run) error {
	bundle, err := p.assembler.Assemble(ctx, r.cctx.CoreDataSet)
	if err != nil {
		return err
	}
	r.bundle = bundle
	return nil
}

func (p *Pipeline) merge(_ context.Context, r *run) error {
	if r.cctx.Resolved.Patient != nil {
		r.logger.Info().Str("patient_identifier", r.cctx.CoreDataSet.PatientIdentifier()).Msg("patient exists, updating")
	}
	return Merge(r.bundle, r.cctx.Resolved)
}

func (p *Pipeline) enrich(ctx context.Context, r *run) error {
	if p.enricher == nil {
		return nil
	}
	if err := p.enricher.Enrich(ctx, r.bundle.Entry, r.cctx.CoreDataSet.HCID()); err != nil {
		p.metrics.IncrementEnrichmentFailure()
		return err
	}
	return nil
}

// release drops the identity lock once the records exist in the
// repository, or when the run ends early.
func (p *Pipeline) release(ctx context.Context, r *run) {
	if r.unlock == nil {
		return
	}
	unlock := r.unlock
	r.unlock = nil
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn().Err(err).Msg("identity lock release failed")
	}
}

func committedEntries(b, committed *fhir.Bundle) []CommittedEntry {
	if b == nil {
		return nil
	}
	out := make([]CommittedEntry, 0, len(b.Entry))
	for i, e := range b.Entry {
		ce := CommittedEntry{
			ResourceType: fhir.ResourceType(e.Resource),
			ID:           committedID(b, committed, i),
		}
		if e.Request != nil {
			ce.Method = e.Request.Method
		}
		out = append(out, ce)
	}
	return out
}
