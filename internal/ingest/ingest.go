// Package ingest fetches attachment binaries for changed notices and
// records the durable references the uploader assigns.
//
// Every failure here is soft: a fetch or upload problem is reported to the
// error sink, leaves the descriptor without a file_url, and never aborts
// sibling attachments or the containing notice.
package ingest

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"portalwatch/internal/logger"
	"portalwatch/internal/models"
	"portalwatch/internal/portal"
	"portalwatch/internal/report"
	"portalwatch/internal/uploader"
)

// Fetcher downloads attachment payloads from the source.
type Fetcher interface {
	FetchAttachment(ctx context.Context, sourceRef string) (*portal.AttachmentData, error)
}

// Ingestor coordinates attachment fetch and upload.
type Ingestor struct {
	fetcher       Fetcher
	uploader      uploader.Uploader
	reporter      report.Sink
	logger        *logger.Logger
	maxConcurrent int
}

// New creates an ingestor with the given concurrency bound.
func New(fetcher Fetcher, up uploader.Uploader, reporter report.Sink, log *logger.Logger, maxConcurrent int) *Ingestor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Ingestor{
		fetcher:       fetcher,
		uploader:      up,
		reporter:      reporter,
		logger:        log,
		maxConcurrent: maxConcurrent,
	}
}

// IngestAll resolves every attachment of every given notice, filling in
// file_url on success. Attachments are independent once the change set is
// known, so they run concurrently under a bound; the call returns only
// after all of them resolved, so each notice is internally consistent when
// it reaches notification.
func (g *Ingestor) IngestAll(ctx context.Context, items []models.Notice) {
	var eg errgroup.Group
	eg.SetLimit(g.maxConcurrent)

	for i := range items {
		for j := range items[i].Attachments {
			att := &items[i].Attachments[j]
			title := items[i].Title

			eg.Go(func() error {
				g.ingestOne(ctx, att, title)

				return nil
			})
		}
	}

	// Workers never return errors; soft failures are reported inline.
	_ = eg.Wait()
}

func (g *Ingestor) ingestOne(ctx context.Context, att *models.Attachment, noticeTitle string) {
	if att.URL == nil {
		g.logger.Info("attachment has no source URL, skipping", "text", att.Text, "notice", noticeTitle)

		return
	}

	data, err := g.fetcher.FetchAttachment(ctx, *att.URL)
	if err != nil {
		g.logger.Error("attachment fetch failed", "text", att.Text, "error", err)
		g.reporter.Report(ctx, err)

		return
	}

	// A declared HTML content type means the session expired and the
	// server answered with a login page instead of the file.
	if strings.Contains(data.ContentType, "text/html") {
		g.logger.Warn("received HTML response instead of file", "text", att.Text, "contentType", data.ContentType)

		return
	}

	filename := data.Filename
	if filename == "" {
		filename = att.Text
	}

	fileURL, err := g.uploader.Upload(ctx, data.Body, filename)
	if err != nil {
		g.logger.Error("attachment upload failed", "filename", filename, "error", err)
		g.reporter.Report(ctx, err)

		return
	}

	att.FileURL = &fileURL
	g.logger.Info("attachment ingested", "filename", filename, "fileUrl", fileURL)
}
