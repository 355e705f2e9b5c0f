// Package importer loads marketing candidates from CSV, XLSX or YAML files,
// local or fetched over FTP, and bulk-upserts them by ID.
package importer

import (
	"context"
	"math"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nextgenfi/targeting-cli/internal/metrics"
	"github.com/nextgenfi/targeting-cli/internal/model"
)

// CandidateWriter is the store subset the importer needs.
type CandidateWriter interface {
	UpsertCandidates(ctx context.Context, candidates []model.Candidate) (int64, error)
}

// Options controls one import.
type Options struct {
	Format    Format // empty infers from the file extension
	Encoding  string // CSV text encoding, e.g. "windows-1252"
	Delimiter rune   // CSV field separator, default ','
	Sheet     string // XLSX sheet name, default first sheet
	TempDir   string // download directory for ftp:// sources
	FTP       FTPAuth
	// Strict fails the import on the first bad row instead of skipping it.
	Strict bool
}

// RowError records a skipped row. Line is 1-based and counts the header.
type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// Report summarizes an import.
type Report struct {
	Rows     int        `json:"rows"`
	Imported int64      `json:"imported"`
	Skipped  []RowError `json:"skipped,omitempty"`
}

// Importer parses candidate files and writes them in batches.
type Importer struct {
	store     CandidateWriter
	batchSize int
	metrics   *metrics.Recorder
}

// New creates an Importer. batchSize <= 0 uses 1000.
func New(store CandidateWriter, batchSize int, rec *metrics.Recorder) *Importer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Importer{store: store, batchSize: batchSize, metrics: rec}
}

// Import reads src (a path or ftp:// URL) and upserts every valid row.
func (im *Importer) Import(ctx context.Context, src string, opts Options) (*Report, error) {
	dir := opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	local, cleanup, err := Localize(ctx, src, dir, opts.FTP)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	format := opts.Format
	if format == "" {
		if format, err = detectFormat(src); err != nil {
			return nil, err
		}
	}

	candidates, report, err := im.parse(local, format, opts)
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(candidates); start += im.batchSize {
		batch := candidates[start:min(start+im.batchSize, len(candidates))]
		n, err := im.store.UpsertCandidates(ctx, batch)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: upsert rows %d-%d", start+1, start+len(batch))
		}
		report.Imported += n
	}
	im.metrics.CandidatesImported(report.Imported)

	zap.L().Info("candidate import complete",
		zap.String("source", src),
		zap.String("format", string(format)),
		zap.Int("rows", report.Rows),
		zap.Int64("imported", report.Imported),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

func (im *Importer) parse(p string, format Format, opts Options) ([]model.Candidate, *Report, error) {
	report := &Report{}

	if format == FormatYAML {
		cs, err := readYAML(p)
		if err != nil {
			return nil, nil, err
		}
		report.Rows = len(cs)
		valid := cs[:0]
		for i, c := range cs {
			if err := validate(c); err != nil {
				if opts.Strict {
					return nil, nil, eris.Wrapf(err, "importer: candidate %d", i+1)
				}
				report.Skipped = append(report.Skipped, RowError{Line: i + 1, Err: err.Error()})
				continue
			}
			valid = append(valid, c)
		}
		return valid, report, nil
	}

	var t *table
	var err error
	switch format {
	case FormatCSV:
		t, err = readCSV(p, opts.Encoding, opts.Delimiter)
	case FormatXLSX:
		t, err = readXLSX(p, opts.Sheet)
	default:
		err = eris.Errorf("importer: unsupported format %q", format)
	}
	if err != nil {
		return nil, nil, err
	}

	cols, err := newColumnMap(t.header)
	if err != nil {
		return nil, nil, err
	}

	out := make([]model.Candidate, 0, len(t.rows))
	seen := make(map[string]int, len(t.rows))
	for i, row := range t.rows {
		if blank(row) {
			continue
		}
		report.Rows++
		line := i + 2
		c, err := cols.candidate(row)
		if err == nil {
			err = validate(c)
		}
		if err == nil {
			if prev, dup := seen[c.ID]; dup {
				err = eris.Errorf("duplicate id %s (first seen on line %d)", c.ID, prev)
			}
		}
		if err != nil {
			if opts.Strict {
				return nil, nil, eris.Wrapf(err, "importer: line %d", line)
			}
			report.Skipped = append(report.Skipped, RowError{Line: line, Err: err.Error()})
			continue
		}
		seen[c.ID] = line
		out = append(out, c)
	}
	return out, report, nil
}

func validate(c model.Candidate) error {
	if c.ID == "" {
		return eris.New("missing id")
	}
	loc, ok := c.Location()
	if !ok {
		return eris.New("missing coordinates")
	}
	if !loc.Valid() {
		return eris.New("coordinates out of range")
	}
	if math.IsNaN(c.AssetValue) || math.IsInf(c.AssetValue, 0) {
		return eris.New("asset value is not a finite number")
	}
	if c.AssetValue < 0 {
		return eris.New("negative asset value")
	}
	return nil
}

func blank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
