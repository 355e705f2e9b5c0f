package importer

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"

	"github.com/nextgenfi/targeting-cli/internal/model"
)

// Format names a supported input layout.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatYAML Format = "yaml"
)

// table is a header row plus data rows.
type table struct {
	header []string
	rows   [][]string
}

// readCSV reads a delimited file, decoding from encoding when it names a
// non-UTF-8 charset such as "windows-1252" or "latin1".
func readCSV(p, encoding string, comma rune) (*table, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: open %s", p)
	}
	defer f.Close() //nolint:errcheck

	var r io.Reader = f
	if enc := strings.TrimSpace(encoding); enc != "" && !strings.EqualFold(enc, "utf-8") && !strings.EqualFold(enc, "utf8") {
		e, err := htmlindex.Get(enc)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: unsupported encoding %q", enc)
		}
		r = transform.NewReader(f, e.NewDecoder())
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if comma != 0 {
		cr.Comma = comma
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "importer: read csv")
	}
	if len(records) == 0 {
		return nil, eris.New("importer: csv has no header row")
	}
	records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	return &table{header: records[0], rows: records[1:]}, nil
}

// readXLSX reads one sheet of a workbook. An empty sheet name selects the
// first sheet.
func readXLSX(p, sheetName string) (*table, error) {
	f, err := xlsx.OpenFile(p)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: open workbook %s", p)
	}

	var sheet *xlsx.Sheet
	if sheetName != "" {
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("importer: sheet %q not found", sheetName)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.New("importer: workbook has no sheets")
		}
		sheet = f.Sheets[0]
	}

	t := &table{}
	for i, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			cells[j] = c.String()
		}
		if i == 0 {
			t.header = cells
			continue
		}
		t.rows = append(t.rows, cells)
	}
	if len(t.header) == 0 {
		return nil, eris.New("importer: sheet has no header row")
	}
	return t, nil
}

// candidateFile is the YAML layout: a top-level candidates list using the
// model field names.
type candidateFile struct {
	Candidates []model.Candidate `yaml:"candidates"`
}

func readYAML(p string) ([]model.Candidate, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: read %s", p)
	}
	var f candidateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "importer: parse yaml")
	}
	return f.Candidates, nil
}
