// Package engine orchestrates persona interpretations: it resolves personas,
// builds prompts, calls the provider through the retry executor, and caches
// results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/interpretation-service/internal/cache"
	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/interpretation-service/internal/persona"
	"github.com/book-expert/interpretation-service/internal/prompt"
	"github.com/book-expert/interpretation-service/internal/retry"
	"github.com/book-expert/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("orchestrator dependency missing")

const (
	logFmtCacheHit       = "Cache hit for persona %s (%s)"
	logFmtGenerating     = "Generating %s for persona %s with model %s"
	logFmtGenerated      = "Generated %s for persona %s: %d words in %v"
	logFmtGenerateFailed = "Generation of %s for persona %s failed: %v"
	logFmtBatchStarted   = "Starting batch of %d personas (%s)"
	logFmtBatchFinished  = "Batch finished: %d succeeded, %d failed"
	logFmtCacheCleared   = "Result cache cleared"
)

// RegeneratePolicy decides how Regenerate treats the cached result.
type RegeneratePolicy int

const (
	// ReuseCached returns the cached interpretation when one exists.
	ReuseCached RegeneratePolicy = iota
	// BypassCache always calls the provider and replaces the cached value
	// with the fresh result.
	BypassCache
)

// Catalogue is the read-only persona lookup the orchestrator depends on.
type Catalogue interface {
	Lookup(id string) (persona.Persona, error)
	All() []persona.Persona
	ListByCategory(category persona.Category) []persona.Persona
	Categories() []persona.Category
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Catalogue Catalogue
	Cache     *cache.Cache
	Executor  *retry.Executor
	Provider  core.Provider
	Tiers     TierPolicy
	// MaxConcurrency bounds the in-flight generations of one batch. Zero means
	// unbounded.
	MaxConcurrency int
	// Now stamps generated interpretations. It defaults to time.Now.
	Now func() time.Time
	Log *logger.Logger
}

// Orchestrator generates interpretations for one or many personas.
type Orchestrator struct {
	catalogue      Catalogue
	builder        *prompt.Builder
	cache          *cache.Cache
	executor       *retry.Executor
	provider       core.Provider
	tiers          TierPolicy
	maxConcurrency int
	now            func() time.Time
	log            *logger.Logger
	inflight       singleflight.Group

	flightsMu sync.Mutex
	flights   map[string]*flight
}

// flight is the context shared by the callers waiting on one in-flight
// generation. It is cancelled once the last waiter leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Catalogue == nil:
		return nil, fmt.Errorf("%w: catalogue", ErrMissingDependency)
	case cfg.Cache == nil:
		return nil, fmt.Errorf("%w: cache", ErrMissingDependency)
	case cfg.Executor == nil:
		return nil, fmt.Errorf("%w: executor", ErrMissingDependency)
	case cfg.Provider == nil:
		return nil, fmt.Errorf("%w: provider", ErrMissingDependency)
	case cfg.Log == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	maxConcurrency := max(cfg.MaxConcurrency, 0)

	return &Orchestrator{
		catalogue:      cfg.Catalogue,
		builder:        prompt.NewBuilder(cfg.Catalogue),
		cache:          cfg.Cache,
		executor:       cfg.Executor,
		provider:       cfg.Provider,
		tiers:          cfg.Tiers.withDefaults(),
		maxConcurrency: maxConcurrency,
		now:            now,
		log:            cfg.Log,
		inflight:       singleflight.Group{},
		flightsMu:      sync.Mutex{},
		flights:        make(map[string]*flight),
	}, nil
}

// GenerateOne produces one persona's interpretation of text. A cache hit
// returns without contacting the provider. Errors are returned unmodified.
func (o *Orchestrator) GenerateOne(
	ctx context.Context,
	text, personaID string,
	op core.OperationType,
	opts core.Options,
) (core.Interpretation, error) {
	useCache := opts.CacheEnabled()

	return o.generate(ctx, text, personaID, op, opts, useCache, useCache)
}

// GenerateMany generates an interpretation for every persona in personaIDs.
// The returned slice mirrors personaIDs; each slot holds either the result or
// the failure of that persona, and one failure never cancels the others. The
// only error is for a malformed batch.
func (o *Orchestrator) GenerateMany(
	ctx context.Context,
	text string,
	personaIDs []string,
	op core.OperationType,
	opts core.Options,
) ([]core.Outcome, error) {
	if len(personaIDs) == 0 {
		return nil, core.NewError(core.KindValidation, "at least one persona id is required", nil)
	}

	o.log.Info(logFmtBatchStarted, len(personaIDs), op)

	outcomes := make([]core.Outcome, len(personaIDs))

	var group errgroup.Group
	if o.maxConcurrency > 0 {
		group.SetLimit(o.maxConcurrency)
	}

	for index, personaID := range personaIDs {
		group.Go(func() error {
			outcomes[index] = o.outcome(ctx, text, personaID, op, opts)

			return nil
		})
	}

	_ = group.Wait()

	succeeded := len(core.Interpretations(outcomes))
	o.log.Info(logFmtBatchFinished, succeeded, len(outcomes)-succeeded)

	return outcomes, nil
}

// Regenerate produces personaID's interpretation again. With ReuseCached it
// behaves exactly like GenerateOne; with BypassCache the provider is always
// called and the fresh result replaces the cached one unless opts disables
// caching.
func (o *Orchestrator) Regenerate(
	ctx context.Context,
	text, personaID string,
	op core.OperationType,
	policy RegeneratePolicy,
	opts core.Options,
) (core.Interpretation, error) {
	if policy == BypassCache {
		return o.generate(ctx, text, personaID, op, opts, false, opts.CacheEnabled())
	}

	return o.GenerateOne(ctx, text, personaID, op, opts)
}

// Personas lists every persona in declaration order.
func (o *Orchestrator) Personas() []persona.Persona {
	return o.catalogue.All()
}

// PersonasByCategory lists the personas of one category.
func (o *Orchestrator) PersonasByCategory(category persona.Category) []persona.Persona {
	return o.catalogue.ListByCategory(category)
}

// Categories lists the persona categories in first-occurrence order.
func (o *Orchestrator) Categories() []persona.Category {
	return o.catalogue.Categories()
}

// CacheStats reports result cache usage.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.cache.Stats()
}

// ClearCache drops every cached interpretation.
func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
	o.log.Info(logFmtCacheCleared)
}

func (o *Orchestrator) outcome(
	ctx context.Context,
	text, personaID string,
	op core.OperationType,
	opts core.Options,
) core.Outcome {
	interpretation, err := o.GenerateOne(ctx, text, personaID, op, opts)
	if err != nil {
		return core.Outcome{Interpretation: nil, Failure: o.describe(personaID, err)}
	}

	return core.Outcome{Interpretation: &interpretation, Failure: nil}
}

func (o *Orchestrator) describe(personaID string, err error) *core.ErrorDescriptor {
	kind := core.KindOf(err)
	if kind == "" {
		kind = core.KindProviderFatal
	}

	descriptor := &core.ErrorDescriptor{
		PersonaID:    personaID,
		PersonaName:  "",
		Kind:         kind,
		ErrorMessage: err.Error(),
	}

	p, lookupErr := o.catalogue.Lookup(personaID)
	if lookupErr == nil {
		descriptor.PersonaName = p.Name
	}

	return descriptor
}

func (o *Orchestrator) generate(
	ctx context.Context,
	text, personaID string,
	op core.OperationType,
	opts core.Options,
	readCache, writeCache bool,
) (core.Interpretation, error) {
	if readCache {
		cached, ok := o.cache.Get(text, personaID, op)
		if ok {
			o.log.Info(logFmtCacheHit, personaID, op)

			return cached, nil
		}
	}

	p, err := o.catalogue.Lookup(personaID)
	if err != nil {
		return core.Interpretation{}, err
	}

	built, err := o.builder.Build(personaID, op, text, prompt.BuildOptions{Variables: nil, OmitVoiceProfile: false})
	if err != nil {
		return core.Interpretation{}, err
	}

	request := o.tiers.Resolve(op, text, opts)
	request.UserMessage = built.UserMessage
	request.SystemPrompt = built.SystemPrompt

	if !readCache {
		return o.invoke(ctx, p, op, text, request, writeCache)
	}

	// Identical concurrent misses share one provider call. The call runs on a
	// context owned by all of its waiters, and each waiter stops waiting when
	// its own context is done.
	key := cache.Key(text, personaID, op) + "\x00" + request.ModelID
	flightCtx := o.joinFlight(ctx, key)

	defer o.leaveFlight(key)

	results := o.inflight.DoChan(key, func() (any, error) {
		// A flight that finished between the miss above and this call has
		// already stored the value.
		cached, ok := o.cache.Get(text, personaID, op)
		if ok {
			return cached, nil
		}

		return o.invoke(flightCtx, p, op, text, request, writeCache)
	})

	select {
	case <-ctx.Done():
		return core.Interpretation{}, ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return core.Interpretation{}, result.Err
		}

		interpretation, _ := result.Val.(core.Interpretation)

		return interpretation, nil
	}
}

// joinFlight registers a waiter on key and returns the flight's context. The
// first waiter creates it from its own context without the cancellation.
func (o *Orchestrator) joinFlight(ctx context.Context, key string) context.Context {
	o.flightsMu.Lock()
	defer o.flightsMu.Unlock()

	current, ok := o.flights[key]
	if !ok {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		current = &flight{ctx: flightCtx, cancel: cancel, waiters: 0}
		o.flights[key] = current
	}

	current.waiters++

	return current.ctx
}

// leaveFlight drops a waiter. The last one out cancels the shared call and
// forgets it so later callers start a fresh one.
func (o *Orchestrator) leaveFlight(key string) {
	o.flightsMu.Lock()
	defer o.flightsMu.Unlock()

	current, ok := o.flights[key]
	if !ok {
		return
	}

	current.waiters--
	if current.waiters > 0 {
		return
	}

	delete(o.flights, key)
	current.cancel()
	o.inflight.Forget(key)
}

func (o *Orchestrator) invoke(
	ctx context.Context,
	p persona.Persona,
	op core.OperationType,
	text string,
	request core.ProviderRequest,
	store bool,
) (core.Interpretation, error) {
	o.log.Info(logFmtGenerating, op, p.ID, request.ModelID)

	started := o.now()

	var content string

	err := o.executor.Execute(ctx, func(callCtx context.Context) error {
		generated, invokeErr := o.provider.Invoke(callCtx, request)
		if invokeErr != nil {
			return invokeErr
		}

		content = generated

		return nil
	})
	if err != nil {
		o.log.Error(logFmtGenerateFailed, op, p.ID, err)

		return core.Interpretation{}, err
	}

	generatedAt := o.now()
	interpretation := core.Interpretation{
		PersonaID:         p.ID,
		PersonaName:       p.Name,
		Operation:         op,
		Content:           content,
		ModelID:           request.ModelID,
		GeneratedAt:       generatedAt,
		WordCount:         len(strings.Fields(content)),
		OriginalWordCount: len(strings.Fields(text)),
	}

	if store {
		o.cache.Set(text, p.ID, op, interpretation)
	}

	o.log.Info(logFmtGenerated, op, p.ID, interpretation.WordCount, generatedAt.Sub(started))

	return interpretation, nil
}
