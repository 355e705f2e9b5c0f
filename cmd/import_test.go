//go:build !integration

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextgenfi/targeting-cli/internal/config"
	"github.com/nextgenfi/targeting-cli/internal/importer"
)

func resetImportFlags(t *testing.T) {
	t.Helper()
	saved := importFlags
	t.Cleanup(func() { importFlags = saved })
}

func TestImportCmd_Metadata(t *testing.T) {
	assert.Equal(t, "import", importCmd.Use)
	assert.Equal(t, "candidates", importCandidatesCmd.Name())
	assert.NotEmpty(t, importCandidatesCmd.Short)

	for _, name := range []string{"format", "encoding", "delimiter", "sheet", "ftp", "strict", "metrics-file"} {
		require.NotNil(t, importCandidatesCmd.Flags().Lookup(name), "missing --%s", name)
	}
}

func TestImportOptions(t *testing.T) {
	resetImportFlags(t)
	cfg = &config.Config{Import: config.ImportConfig{
		Encoding: "utf-8",
		TempDir:  "/tmp/imports",
		FTPUser:  "scout",
	}}

	importFlags.delimiter = `\t`
	importFlags.encoding = "windows-1252"
	importFlags.format = "csv"
	importFlags.strict = true

	opts, err := importOptions()
	require.NoError(t, err)
	assert.Equal(t, '\t', opts.Delimiter)
	assert.Equal(t, "windows-1252", opts.Encoding)
	assert.Equal(t, importer.FormatCSV, opts.Format)
	assert.Equal(t, "/tmp/imports", opts.TempDir)
	assert.Equal(t, "scout", opts.FTP.User)
	assert.True(t, opts.Strict)
}

func TestImportOptions_Invalid(t *testing.T) {
	cfg = &config.Config{}

	t.Run("format", func(t *testing.T) {
		resetImportFlags(t)
		importFlags.format = "json"
		_, err := importOptions()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown format")
	})

	t.Run("delimiter", func(t *testing.T) {
		resetImportFlags(t)
		importFlags.delimiter = ";;"
		_, err := importOptions()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "single character")
	})
}

func TestImportSource(t *testing.T) {
	resetImportFlags(t)
	cfg = &config.Config{Import: config.ImportConfig{FTPAddr: "ftp.scout.example:21"}}

	src, err := importSource("data/leads.csv")
	require.NoError(t, err)
	assert.Equal(t, "data/leads.csv", src)

	importFlags.fromFTP = true
	src, err = importSource("/exports/leads.csv")
	require.NoError(t, err)
	assert.Equal(t, "ftp://ftp.scout.example:21/exports/leads.csv", src)

	src, err = importSource("ftp://other.example/x.csv")
	require.NoError(t, err)
	assert.Equal(t, "ftp://other.example/x.csv", src)

	cfg.Import.FTPAddr = ""
	_, err = importSource("leads.csv")
	require.Error(t, err)
}

func TestImportCandidates_SQLite(t *testing.T) {
	resetImportFlags(t)
	dir := t.TempDir()
	cfg = &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "targeting.db")},
		Targeting: config.TargetingConfig{MaxLimit: 1000},
		Import:    config.ImportConfig{BatchSize: 10, Encoding: "utf-8"},
	}

	migrateCmd.SetContext(t.Context())
	require.NoError(t, migrateCmd.RunE(migrateCmd, nil))

	csvPath := filepath.Join(dir, "leads.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,lat,lon,house_value\na,37.77,-122.42,350000\nb,,-122.40,1\n"), 0o600))

	importFlags.metrics = filepath.Join(dir, "import.prom")

	var out bytes.Buffer
	importCandidatesCmd.SetOut(&out)
	importCandidatesCmd.SetContext(t.Context())
	t.Cleanup(func() { importCandidatesCmd.SetOut(nil) })

	require.NoError(t, importCandidatesCmd.RunE(importCandidatesCmd, []string{csvPath}))

	var report importer.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 2, report.Rows)
	assert.Equal(t, int64(1), report.Imported)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 3, report.Skipped[0].Line)

	prom, err := os.ReadFile(importFlags.metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "targeting_candidates_imported_total 1")
}

func TestImportCandidates_MissingFile(t *testing.T) {
	resetImportFlags(t)
	dir := t.TempDir()
	cfg = &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "targeting.db")},
		Targeting: config.TargetingConfig{MaxLimit: 1000},
	}

	importCandidatesCmd.SetContext(t.Context())
	err := importCandidatesCmd.RunE(importCandidatesCmd, []string{filepath.Join(dir, "nope.csv")})
	require.Error(t, err)
}
