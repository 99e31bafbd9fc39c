package portal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"portalwatch/internal/config"
	"portalwatch/internal/logger"
	"portalwatch/internal/models"
	"portalwatch/internal/render"
)

var (
	detailIDPattern = regexp.MustCompile(`dID=(\d+)`)

	// Attachment rows prefix the label with a counter and extension,
	// e.g. "添付ファイル1 (pdf) schedule.pdf".
	attachmentPrefix = regexp.MustCompile(`添付ファイル\d+ \(\w+\) `)
)

const detailTableSelector = "body > div.clsContainer > div > table.clsTb > tbody"

// Extractor turns board page HTML into raw rows, in source order.
type Extractor struct {
	logger     *logger.Logger
	tables     []string
	headerRows int
}

// NewExtractor creates an extractor for the configured board tables.
func NewExtractor(cfg config.PortalConfig, log *logger.Logger) *Extractor {
	return &Extractor{
		logger:     log,
		tables:     cfg.Tables,
		headerRows: cfg.HeaderRows,
	}
}

// Rows extracts raw announcement rows table by table, row by row. The
// returned order is the source's native descending-by-recency order, which
// the date resolver depends on. Rows with fewer than five cells are
// layout filler and skipped; a missing table is logged and skipped.
func (e *Extractor) Rows(boardHTML string) ([]models.RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(boardHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse board page: %w", err)
	}

	var rows []models.RawRow

	for _, selector := range e.tables {
		table := doc.Find(selector)
		if table.Length() == 0 {
			e.logger.Warn("board table not found", "selector", selector)

			continue
		}

		table.Find("tr").Each(func(i int, row *goquery.Selection) {
			if i < e.headerRows {
				return
			}

			cells := row.Find("td")
			if cells.Length() < 5 {
				return
			}

			raw := models.RawRow{
				To:          splitAudience(cells.Eq(0).Text()),
				From:        strings.TrimSpace(cells.Eq(1).Text()),
				PostedText:  strings.TrimSpace(cells.Eq(2).Text()),
				UpdatedText: strings.TrimSpace(cells.Eq(3).Text()),
				Title:       strings.TrimSpace(cells.Eq(4).Text()),
			}

			if href, ok := cells.Eq(4).Find("a").Attr("href"); ok {
				raw.DetailRef = href
				raw.ID = extractID(href)
			}

			rows = append(rows, raw)
		})
	}

	return rows, nil
}

// ParseDetail extracts the authoritative date, rendered body, and
// attachment descriptors from a detail page. Row 1 of the detail table is
// the full date, row 2 the body, rows 3+ one attachment each.
func ParseDetail(pageHTML string) (models.Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return models.Detail{}, fmt.Errorf("failed to parse detail page: %w", err)
	}

	var detail models.Detail

	doc.Find(detailTableSelector).Find("tr").Each(func(k int, row *goquery.Selection) {
		switch {
		case k == 1:
			detail.FullDateText = strings.TrimSpace(row.Find("td").Text())
		case k == 2:
			if raw, err := row.Find("td").Html(); err == nil {
				text := render.Text(raw)
				detail.Content = &text
			}
		case k >= 3:
			att := models.Attachment{
				Text: attachmentPrefix.ReplaceAllString(strings.TrimSpace(row.Find("td").Text()), ""),
			}

			if href, ok := row.Find("a").Attr("href"); ok {
				att.URL = models.StrPtr(href)
			}

			detail.Attachments = append(detail.Attachments, att)
		}
	})

	return detail, nil
}

// frameSource returns the src of the board page's first iframe, or "".
func frameSource(pageHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return ""
	}

	src, _ := doc.Find("iframe").Attr("src")

	return src
}

// extractID pulls the numeric record identifier out of a detail link.
func extractID(href string) string {
	m := detailIDPattern.FindStringSubmatch(href)
	if m == nil {
		return ""
	}

	return m[1]
}

// splitAudience splits the comma-separated audience cell into ordered tags.
func splitAudience(text string) []string {
	parts := strings.Split(strings.TrimSpace(text), ",")

	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}

	return tags
}
