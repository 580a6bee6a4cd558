// Package importer loads business listings from CSV, JSON or XLSX files
// into the record store.
package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/db"
)

// ErrUnsupportedFormat is returned for files that are not CSV, JSON or XLSX.
var ErrUnsupportedFormat = errors.New("unsupported import format")

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// FormatOf picks the format from a file name's extension.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// Record is one listing as it appears in an import file.
type Record struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Address     string `json:"address"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	ContactName string `json:"contact_name"`
	Location    string `json:"location"`
	Source      string `json:"source"`
	HasWebsite  bool   `json:"has_website"`
}

type Store interface {
	UpsertBusiness(ctx context.Context, b *db.Business) (bool, error)
}

// Result counts what an import did.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"` // listings that already have a website
	Invalid int `json:"invalid"` // rows without a name
}

type Importer struct {
	store  Store
	region string
	logger *zap.Logger
}

// New returns an importer. region is the ISO country used to read phone
// numbers written without a country code.
func New(store Store, region string, logger *zap.Logger) *Importer {
	if region == "" {
		region = "US"
	}
	return &Importer{store: store, region: strings.ToUpper(region), logger: logger}
}

// ImportFile reads path, choosing the decoder by extension.
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Result{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	return im.Import(ctx, f, format)
}

// Import upserts every listing without a website, matching existing
// businesses on name and phone.
func (im *Importer) Import(ctx context.Context, r io.Reader, format Format) (Result, error) {
	records, err := Decode(r, format)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if rec.HasWebsite {
			res.Skipped++
			continue
		}
		if strings.TrimSpace(rec.Name) == "" {
			res.Invalid++
			im.logger.Warn("import row without a name", zap.Int("row", i+1))
			continue
		}

		b := im.toBusiness(rec)
		created, err := im.store.UpsertBusiness(ctx, b)
		if err != nil {
			return res, fmt.Errorf("import row %d (%s): %w", i+1, b.Name, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	im.logger.Info("businesses imported",
		zap.String("format", string(format)),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("invalid", res.Invalid),
	)
	return res, nil
}

func (im *Importer) toBusiness(rec Record) *db.Business {
	source := strings.TrimSpace(rec.Source)
	if source == "" {
		source = "import"
	}
	return &db.Business{
		Name:        strings.TrimSpace(rec.Name),
		Category:    strings.TrimSpace(rec.Category),
		Address:     strings.TrimSpace(rec.Address),
		Phone:       im.normalizePhone(rec.Phone),
		Email:       strings.ToLower(strings.TrimSpace(rec.Email)),
		ContactName: strings.TrimSpace(rec.ContactName),
		Location:    strings.TrimSpace(rec.Location),
		Source:      source,
	}
}

// normalizePhone returns E.164 when the number parses as valid and the
// trimmed input otherwise, so the (name, phone) key stays stable.
func (im *Importer) normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := phonenumbers.Parse(raw, im.region)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		im.logger.Debug("phone kept as written", zap.String("phone", raw))
		return raw
	}
	return phonenumbers.Format(parsed, phonenumbers.E164)
}

// Decode parses every record in r.
func Decode(r io.Reader, format Format) ([]Record, error) {
	switch format {
	case FormatJSON:
		return decodeJSON(r)
	case FormatCSV:
		rows, err := csv.NewReader(r).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		return fromRows(rows), nil
	case FormatXLSX:
		return decodeXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func decodeJSON(r io.Reader) ([]Record, error) {
	var raw []map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for _, obj := range raw {
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			fields[strings.ToLower(k)] = jsonString(v)
		}
		out = append(out, fromFields(fields))
	}
	return out, nil
}

// jsonString flattens scalars; finder exports carry numbers and booleans.
func jsonString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func decodeXLSX(r io.Reader) ([]Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return fromRows(rows), nil
}

// fromRows maps a header row plus data rows to records.
func fromRows(rows [][]string) []Record {
	if len(rows) < 2 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	out := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		fields := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				fields[h] = row[i]
			}
		}
		out = append(out, fromFields(fields))
	}
	return out
}

func fromFields(f map[string]string) Record {
	return Record{
		Name:        f["name"],
		Category:    f["category"],
		Address:     f["address"],
		Phone:       f["phone"],
		Email:       f["email"],
		ContactName: f["contact_name"],
		Location:    f["location"],
		Source:      f["source"],
		HasWebsite:  truthy(f["has_website"]),
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y":
		return true
	}
	return false
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
