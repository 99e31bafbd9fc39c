// Package worker orchestrates the poll cycle: login, extraction, date
// resolution, snapshot differencing, attachment ingestion, notification,
// and snapshot replacement.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"portalwatch/internal/config"
	"portalwatch/internal/dateresolve"
	"portalwatch/internal/diff"
	"portalwatch/internal/ingest"
	"portalwatch/internal/logger"
	"portalwatch/internal/models"
	"portalwatch/internal/notify"
	"portalwatch/internal/portal"
	"portalwatch/internal/report"
	"portalwatch/internal/snapshot"
	"portalwatch/internal/uploader"
)

// Runner owns the cycle loop and the single-slot snapshot.
type Runner struct {
	cfg      *config.Config
	logger   *logger.Logger
	reporter report.Sink
	store    *snapshot.Store
	running  sync.Mutex
}

// New creates a runner.
func New(cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		logger:   log,
		reporter: report.NewReporter(cfg.ErrorSink.URL, log),
		store:    snapshot.NewStore(cfg.Snapshot.Path),
	}
}

// Run executes one cycle immediately, then once per configured interval
// until ctx is cancelled. A cycle that is still in flight when the next
// tick arrives causes that tick to be skipped: overlapping cycles would
// race on the snapshot slot.
func (r *Runner) Run(ctx context.Context) error {
	r.cycle(ctx)

	ticker := time.NewTicker(r.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Runner) cycle(ctx context.Context) {
	if !r.running.TryLock() {
		r.logger.Warn("previous cycle still running, skipping this tick")

		return
	}

	defer r.running.Unlock()

	start := time.Now()

	if err := r.RunCycle(ctx); err != nil {
		r.logger.Error("cycle failed", "error", err, "duration", time.Since(start))
		r.reporter.Report(ctx, err)

		return
	}

	r.logger.Info("cycle complete", "duration", time.Since(start))
}

// RunCycle performs one poll cycle. The returned error is cycle-fatal
// (missing credentials, login failure, board extraction failure, snapshot
// write failure); everything below that level degrades softly inside.
func (r *Runner) RunCycle(ctx context.Context) error {
	creds, err := config.CredentialsFromEnv()
	if err != nil {
		return err
	}

	client, err := portal.NewClient(r.cfg.Portal, creds, r.cfg.Retry, r.logger)
	if err != nil {
		return err
	}

	boardHTML, err := client.Login(ctx)
	if err != nil {
		return err
	}

	extractor := portal.NewExtractor(r.cfg.Portal, r.logger)

	rows, err := extractor.Rows(boardHTML)
	if err != nil {
		return err
	}

	r.logger.Info("board extracted", "rows", len(rows))

	notices := r.buildNotices(ctx, client, rows)

	previous, err := r.store.Load()
	if err != nil {
		// A corrupt snapshot degrades to an empty one; the volume valve
		// below keeps the resulting mass-"new" cycle from notifying.
		r.logger.Error("snapshot read failed, treating as empty", "error", err)
		r.reporter.Report(ctx, err)

		previous = nil
	}

	result := diff.Classify(previous, notices)
	r.logger.Info("change set classified", "new", len(result.New), "updated", len(result.Updated))

	for _, id := range result.DetailOnly {
		r.reporter.Report(ctx, fmt.Errorf("updated item %s can't be detected without detail", id))
	}

	if result.Changed() {
		if result.Total() > r.cfg.Ingest.VolumeThreshold {
			r.logger.Warn("too many new or updated items, skipping ingestion and notification",
				"total", result.Total(), "threshold", r.cfg.Ingest.VolumeThreshold)
		} else {
			r.ingestAndNotify(ctx, client, creds, result)
		}
	}

	if err := r.store.Replace(notices); err != nil {
		return err
	}

	r.logger.Info("snapshot replaced", "notices", len(notices), "path", r.store.Path())

	return nil
}

// buildNotices walks the raw rows strictly in extraction order, resolving
// dates and enriching each row from its detail page. A detail fetch
// failure keeps whatever fields the board row already provided.
func (r *Runner) buildNotices(ctx context.Context, client *portal.Client, rows []models.RawRow) []models.Notice {
	resolver := dateresolve.New(r.cfg.Location())
	notices := make([]models.Notice, 0, len(rows))

	for _, row := range rows {
		posted, updated := resolver.Resolve(row.PostedText, row.UpdatedText)

		notice := models.Notice{
			ID:      row.ID,
			Title:   row.Title,
			From:    row.From,
			To:      row.To,
			Posted:  posted,
			Updated: updated,
		}

		if row.DetailRef != "" {
			if detail, err := r.fetchDetail(ctx, client, row.DetailRef); err != nil {
				r.logger.Error("detail fetch failed", "id", row.ID, "error", err)
				r.reporter.Report(ctx, err)
			} else {
				notice.Content = detail.Content
				notice.Attachments = detail.Attachments

				if detail.FullDateText != "" {
					full := resolver.ParseFull(detail.FullDateText)
					notice.Posted, notice.Updated = dateresolve.Reconcile(notice.Posted, notice.Updated, full)
				}
			}
		}

		notices = append(notices, notice)
	}

	return notices
}

func (r *Runner) fetchDetail(ctx context.Context, client *portal.Client, detailRef string) (models.Detail, error) {
	page, err := client.FetchDetailPage(ctx, detailRef)
	if err != nil {
		return models.Detail{}, err
	}

	return portal.ParseDetail(page)
}

// ingestAndNotify runs the attachment ingestion and dispatches the change
// set through the configured sink topology. Nothing in here is
// cycle-fatal.
func (r *Runner) ingestAndNotify(ctx context.Context, client *portal.Client, creds config.Credentials, result diff.Result) {
	up := uploader.NewClient(r.cfg.Upload.URL, creds.UploadToken, r.logger)
	ingestor := ingest.New(client, up, r.reporter, r.logger, r.cfg.Ingest.MaxConcurrent)

	ingestor.IngestAll(ctx, result.New)
	ingestor.IngestAll(ctx, result.Updated)

	if r.cfg.Notify.AggregatorURL != "" {
		agg := notify.NewAggregatorClient(r.cfg.Notify.AggregatorURL)
		if err := agg.Notify(ctx, result.New, result.Updated); err != nil {
			r.logger.Error("batch notification failed", "error", err)
			r.reporter.Report(ctx, err)
		}

		return
	}

	router, err := notify.NewRouter(r.cfg.Notify, r.cfg.Location(), r.reporter, r.logger)
	if err != nil {
		r.logger.Error("router setup failed", "error", err)
		r.reporter.Report(ctx, err)

		return
	}

	router.Dispatch(ctx, result.New, result.Updated)
}
