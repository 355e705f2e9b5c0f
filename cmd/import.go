package main

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/nextgenfi/targeting-cli/internal/importer"
	"github.com/nextgenfi/targeting-cli/internal/metrics"
)

var importFlags struct {
	format    string
	encoding  string
	delimiter string
	sheet     string
	fromFTP   bool
	strict    bool
	metrics   string
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import marketing data",
}

var importCandidatesCmd = &cobra.Command{
	Use:   "candidates <path|ftp-url>",
	Short: "Upsert candidates from a CSV, XLSX or YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		src, err := importSource(args[0])
		if err != nil {
			return err
		}
		opts, err := importOptions()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec := metrics.New()
		report, err := importer.New(st, cfg.Import.BatchSize, rec).Import(ctx, src, opts)
		if err != nil {
			return err
		}
		if err := rec.WriteTextfile(importFlags.metrics); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// importSource resolves a path against the configured FTP host when --ftp
// is set.
func importSource(arg string) (string, error) {
	if !importFlags.fromFTP {
		return arg, nil
	}
	if strings.HasPrefix(arg, "ftp://") {
		return arg, nil
	}
	if cfg.Import.FTPAddr == "" {
		return "", eris.New("--ftp requires import.ftp_addr (TARGETING_IMPORT_FTP_ADDR)")
	}
	return "ftp://" + cfg.Import.FTPAddr + "/" + strings.TrimPrefix(arg, "/"), nil
}

func importOptions() (importer.Options, error) {
	opts := importer.Options{
		Format:   importer.Format(importFlags.format),
		Encoding: cfg.Import.Encoding,
		Sheet:    importFlags.sheet,
		TempDir:  cfg.Import.TempDir,
		Strict:   importFlags.strict,
		FTP: importer.FTPAuth{
			User:     cfg.Import.FTPUser,
			Password: cfg.Import.FTPPassword,
			Timeout:  30 * time.Second,
		},
	}
	if importFlags.encoding != "" {
		opts.Encoding = importFlags.encoding
	}
	switch opts.Format {
	case "", importer.FormatCSV, importer.FormatXLSX, importer.FormatYAML:
	default:
		return opts, eris.Errorf("unknown format %q (csv, xlsx or yaml)", importFlags.format)
	}
	if d := importFlags.delimiter; d != "" {
		if d == `\t` {
			d = "\t"
		}
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) {
			return opts, eris.Errorf("delimiter %q must be a single character", importFlags.delimiter)
		}
		opts.Delimiter = r
	}
	return opts, nil
}

func init() {
	f := importCandidatesCmd.Flags()
	f.StringVar(&importFlags.format, "format", "", "csv, xlsx or yaml (default from extension)")
	f.StringVar(&importFlags.encoding, "encoding", "", "CSV text encoding, e.g. windows-1252 (default from config)")
	f.StringVar(&importFlags.delimiter, "delimiter", "", `CSV field separator, e.g. ";" or "\t"`)
	f.StringVar(&importFlags.sheet, "sheet", "", "XLSX sheet name (default first sheet)")
	f.BoolVar(&importFlags.fromFTP, "ftp", false, "read the path from the configured FTP host")
	f.BoolVar(&importFlags.strict, "strict", false, "fail on the first invalid row")
	f.StringVar(&importFlags.metrics, "metrics-file", "", "write Prometheus metrics to this file when done")

	importCmd.AddCommand(importCandidatesCmd)
	rootCmd.AddCommand(importCmd)
}
