// Package syncrun orchestrates one mailbox sync run per owner: listing,
// pre-filtering, extraction, reconciliation and batched commits, with
// per-item and per-batch failure isolation.
package syncrun

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/jobtrail/jobtrail/internal/config"
	"github.com/jobtrail/jobtrail/internal/extract"
	"github.com/jobtrail/jobtrail/internal/mailbox"
	"github.com/jobtrail/jobtrail/internal/models"
	"github.com/jobtrail/jobtrail/internal/prefilter"
	"github.com/jobtrail/jobtrail/internal/reconcile"
	"github.com/jobtrail/jobtrail/internal/syncerr"
)

// Source is the mailbox surface the controller consumes.
type Source interface {
	Candidates(ctx context.Context, windowDays int) mailbox.Iter
	Fetch(ctx context.Context, ref mailbox.MessageRef) (*mailbox.RawMessage, error)
}

// SourceFactory builds a Source from the owner's token at run start.
type SourceFactory func(ctx context.Context, token *oauth2.Token) (Source, error)

type Extractor interface {
	Extract(ctx context.Context, raw *mailbox.RawMessage) (*extract.Fields, error)
}

type TokenProvider interface {
	ValidToken(ctx context.Context, ownerID uint) (*oauth2.Token, error)
}

// Summary is the user-visible result of one run. No raw provider errors leak
// through it, only the aggregated reasons.
type Summary struct {
	RunID        string            `json:"run_id"`
	State        models.RunState   `json:"state"`
	Candidates   int               `json:"candidates"`
	New          int               `json:"new"`
	Updated      int               `json:"updated"`
	Skipped      int               `json:"skipped"`
	Errors       int               `json:"errors"`
	ErrorReasons []string          `json:"error_reasons"`
}

type Controller struct {
	storage   Storage
	creds     TokenProvider
	newSource SourceFactory
	extractor Extractor
	cfg       *config.Config
	locks     *ownerLocks
}

func NewController(storage Storage, creds TokenProvider, newSource SourceFactory, extractor Extractor, cfg *config.Config) *Controller {
	return &Controller{
		storage:   storage,
		creds:     creds,
		newSource: newSource,
		extractor: extractor,
		cfg:       cfg,
		locks:     newOwnerLocks(),
	}
}

// GmailSource is the production SourceFactory: it wraps the run's token in
// an HTTP client and hands it to the mailbox reader.
func GmailSource(cfg *config.Config) SourceFactory {
	return func(ctx context.Context, token *oauth2.Token) (Source, error) {
		client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
		return mailbox.NewReader(ctx, client, cfg)
	}
}

// Run executes one sync run for the owner. Run-fatal errors (auth, conflict)
// come back as the error; everything else is absorbed into the summary.
func (c *Controller) Run(ctx context.Context, ownerID uint) (*Summary, error) {
	if !c.locks.acquire(ownerID) {
		return nil, &syncerr.ConflictError{OwnerID: ownerID}
	}
	defer c.locks.release(ownerID)

	run := &models.SyncRun{
		ID:           uuid.NewString(),
		UserID:       ownerID,
		State:        models.RunPending,
		StartedAt:    time.Now(),
		LookbackDays: c.cfg.LookbackDays,
	}
	run.State = models.RunRunning
	if err := c.storage.CreateRun(run); err != nil {
		return nil, err
	}

	exec := &runExec{
		ctrl:    c,
		run:     run,
		ownerID: ownerID,
		staged:  make(map[string]*stagedEntry),
	}
	exec.rec = reconcile.New(&overlayStore{base: c.storage, staged: exec.staged})

	fatal := exec.execute(ctx)
	if fatal != nil {
		run.State = models.RunFailed
		exec.reason(fatal.Error())
	} else if exec.cancelled || exec.batchFailed {
		run.State = models.RunPartialFailure
	} else {
		run.State = models.RunCompleted
	}

	if len(exec.sidelined) > 0 {
		if err := c.storage.MarkProcessed(ownerID, exec.sidelined); err != nil {
			log.Printf("sync run %s: mark processed failed: %v", run.ID, err)
		}
	}

	run.Skipped = run.Candidates - run.New - run.Updated
	if run.Skipped < 0 {
		run.Skipped = 0
	}
	if err := c.storage.FinalizeRun(run); err != nil {
		log.Printf("sync run %s: finalize failed: %v", run.ID, err)
	}

	summary := &Summary{
		RunID:        run.ID,
		State:        run.State,
		Candidates:   run.Candidates,
		New:          run.New,
		Updated:      run.Updated,
		Skipped:      run.Skipped,
		Errors:       run.Errors,
		ErrorReasons: run.ErrorReasons,
	}
	log.Printf("sync run %s for owner %d: %s new=%d updated=%d skipped=%d errors=%d",
		run.ID, ownerID, run.State, run.New, run.Updated, run.Skipped, run.Errors)
	return summary, fatal
}

// stagedEntry tracks an insert decided earlier in this run so a second
// message resolving to the same fingerprint merges into it instead of
// colliding on the unique index.
type stagedEntry struct {
	app  *models.Application
	item *BatchItem
}

// overlayStore makes in-run inserts visible to the Reconciler before they
// are committed.
type overlayStore struct {
	base   reconcile.Store
	staged map[string]*stagedEntry
}

func (o *overlayStore) FindByFingerprint(ownerID uint, fingerprint string) (*models.Application, error) {
	if entry, ok := o.staged[fingerprint]; ok {
		return entry.app, nil
	}
	return o.base.FindByFingerprint(ownerID, fingerprint)
}

type extractOut struct {
	fields *extract.Fields
	err    error
}

type runExec struct {
	ctrl    *Controller
	run     *models.SyncRun
	ownerID uint
	rec     *reconcile.Reconciler

	pending   []*BatchItem
	staged    map[string]*stagedEntry
	sidelined []string // message ids to mark processed outside any batch

	batchSeq    int
	batchFailed bool
	cancelled   bool
}

// execute runs the pipeline. Its error return is run-fatal only; per-item
// and per-batch failures are absorbed into counters and reasons.
func (e *runExec) execute(ctx context.Context) error {
	token, err := e.ctrl.creds.ValidToken(ctx, e.ownerID)
	if err != nil {
		return err
	}
	source, err := e.ctrl.newSource(ctx, token)
	if err != nil {
		return err
	}

	waveSize := e.ctrl.cfg.BatchSize
	if e.ctrl.cfg.ExtractConcurrency > waveSize {
		waveSize = e.ctrl.cfg.ExtractConcurrency
	}

	iter := source.Candidates(ctx, e.run.LookbackDays)
	wave := make([]*mailbox.RawMessage, 0, waveSize)
	for !e.cancelled {
		ref, ok, err := iter.Next(ctx)
		if err != nil {
			// Listing failures are structural: without a reliable candidate
			// sequence the run cannot make ordering guarantees.
			return err
		}
		if !ok {
			break
		}
		e.run.Candidates++

		done, err := e.ctrl.storage.IsProcessed(e.ownerID, ref.ID)
		if err != nil {
			return err
		}
		if done {
			continue
		}

		raw, err := source.Fetch(ctx, ref)
		if err != nil {
			if syncerr.IsAuth(err) {
				return err
			}
			// Exhausted retries; the message stays unmarked and is retried
			// on the next run.
			e.itemError(ref.ID, err, false)
			continue
		}

		if !prefilter.IsCandidate(raw) {
			e.sideline(ref.ID)
			continue
		}

		wave = append(wave, raw)
		if len(wave) >= waveSize {
			if err := e.flushWave(ctx, wave); err != nil {
				return err
			}
			wave = wave[:0]
		}
	}

	if err := e.flushWave(ctx, wave); err != nil {
		return err
	}
	e.drainPending(ctx, true)
	return nil
}

// flushWave extracts one wave concurrently (the only intra-run parallelism,
// capped), then reconciles results in listing order and commits any batches
// that became full.
func (e *runExec) flushWave(ctx context.Context, wave []*mailbox.RawMessage) error {
	if len(wave) == 0 || e.cancelled {
		return nil
	}

	outs := make([]extractOut, len(wave))
	g := new(errgroup.Group)
	g.SetLimit(e.ctrl.cfg.ExtractConcurrency)
	for i, raw := range wave {
		g.Go(func() error {
			fields, err := e.ctrl.extractor.Extract(ctx, raw)
			outs[i] = extractOut{fields: fields, err: err}
			return nil
		})
	}
	g.Wait()

	for i, out := range outs {
		raw := wave[i]
		if out.err != nil {
			switch {
			case errors.Is(out.err, extract.ErrNotJobRelated):
				e.sideline(raw.SourceID)
			case syncerr.IsAuth(out.err):
				return out.err
			case syncerr.IsTransient(out.err):
				e.itemError(raw.SourceID, out.err, false)
			default:
				// Schema violations are deterministic; re-running them next
				// sync would fail the same way.
				e.itemError(raw.SourceID, out.err, true)
			}
			continue
		}
		if err := e.reconcileOne(raw.SourceID, out.fields); err != nil {
			return err
		}
	}

	e.drainPending(ctx, false)
	return nil
}

func (e *runExec) reconcileOne(sourceID string, fields *extract.Fields) error {
	dec, err := e.rec.Reconcile(e.ownerID, fields)
	if err != nil {
		var ve *syncerr.ValidationError
		if errors.As(err, &ve) {
			e.sideline(sourceID)
			return nil
		}
		return err
	}

	switch dec.Kind {
	case reconcile.NoOp:
		e.sideline(sourceID)
	case reconcile.Insert:
		item := &BatchItem{Decision: dec, MessageIDs: []string{sourceID}}
		e.staged[dec.Fingerprint] = &stagedEntry{app: dec.App, item: item}
		e.pending = append(e.pending, item)
	case reconcile.Update:
		if dec.App.ID == 0 {
			// Second extraction resolving to a fingerprint inserted earlier
			// in this run: fold it into the pending insert so both messages
			// commit (or fail) together.
			if entry, ok := e.staged[dec.Fingerprint]; ok {
				e.mergeIntoPending(entry, dec, sourceID)
			} else {
				e.sideline(sourceID)
			}
		} else {
			e.pending = append(e.pending, &BatchItem{Decision: dec, MessageIDs: []string{sourceID}})
		}
	}
	return nil
}

func (e *runExec) mergeIntoPending(entry *stagedEntry, dec *reconcile.Decision, sourceID string) {
	app := entry.app
	if dec.History != nil {
		app.Status = dec.History.NewStatus
		app.History = append(app.History, *dec.History)
	}
	for col, v := range dec.Changes {
		switch col {
		case "status":
			// applied through History above
		case "notes":
			app.Notes = v.(string)
		case "location":
			app.Location = v.(string)
		case "source":
			app.Source = v.(string)
		case "salary_min":
			f := v.(float64)
			app.SalaryMin = &f
		case "salary_max":
			f := v.(float64)
			app.SalaryMax = &f
		case "applied_at":
			t := v.(time.Time)
			app.AppliedAt = &t
		case "last_activity_at":
			app.LastActivityAt = v.(time.Time)
		}
	}
	entry.item.MessageIDs = append(entry.item.MessageIDs, sourceID)
	entry.item.ExtraUpdates++
}

// drainPending commits full batches in order; with final set it also flushes
// the trailing partial batch. Cancellation is honored only at batch
// boundaries, so committed batches stay durable.
func (e *runExec) drainPending(ctx context.Context, final bool) {
	if e.cancelled {
		return
	}
	for len(e.pending) >= e.ctrl.cfg.BatchSize || (final && len(e.pending) > 0) {
		if ctx.Err() != nil {
			e.cancelled = true
			e.reason("run cancelled before batch " + fmt.Sprint(e.batchSeq+1))
			return
		}
		n := e.ctrl.cfg.BatchSize
		if n > len(e.pending) {
			n = len(e.pending)
		}
		batch := e.pending[:n]
		e.pending = e.pending[n:]
		e.commitBatch(batch)
	}
}

func (e *runExec) commitBatch(batch []*BatchItem) {
	e.batchSeq++
	if err := e.ctrl.storage.CommitBatch(e.ownerID, batch); err != nil {
		cerr := &syncerr.CommitError{Batch: e.batchSeq, Err: err}
		lost := 0
		for _, item := range batch {
			lost += 1 + item.ExtraUpdates
			// A failed insert must be re-insertable by a later message in
			// this run; drop its staged entry.
			if item.Decision.Kind == reconcile.Insert {
				delete(e.staged, item.Decision.Fingerprint)
			}
		}
		e.run.Errors += lost
		e.reason(cerr.Error())
		e.batchFailed = true
		return
	}

	for _, item := range batch {
		switch item.Decision.Kind {
		case reconcile.Insert:
			e.run.New++
		case reconcile.Update:
			e.run.Updated++
		}
		e.run.Updated += item.ExtraUpdates
	}
}

func (e *runExec) sideline(messageID string) {
	e.sidelined = append(e.sidelined, messageID)
}

func (e *runExec) itemError(messageID string, err error, deadEnd bool) {
	e.run.Errors++
	e.reason(fmt.Sprintf("message %s: %v", messageID, err))
	if deadEnd {
		e.sideline(messageID)
	}
}

func (e *runExec) reason(msg string) {
	e.run.ErrorReasons = append(e.run.ErrorReasons, msg)
}
