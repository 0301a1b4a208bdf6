package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
)

// Row is one vendor export row keyed by column title
type Row map[string]string

// Result is the outcome of normalizing one export
type Result struct {
	Platform Platform                  `json:"platform"`
	Drafts   []domain.ReservationDraft `json:"drafts"`
	Skipped  int                       `json:"skipped"`
	Errors   []*domain.RowError        `json:"-"`
}

// Normalizer maps vendor rows onto ReservationDraft
type Normalizer struct {
	log *logger.Logger
}

// NewNormalizer creates a Normalizer logging to log
func NewNormalizer(log *logger.Logger) *Normalizer {
	if log == nil {
		log = logger.Get()
	}
	return &Normalizer{log: log}
}

// Normalize converts rows using the column table of format. Bad rows are
// skipped and counted; the call only fails when the export lacks a mapped
// column entirely.
func (n *Normalizer) Normalize(format *Format, rows []Row) (*Result, error) {
	if err := checkColumns(format, rows); err != nil {
		return nil, err
	}

	res := &Result{Platform: format.Platform, Drafts: make([]domain.ReservationDraft, 0, len(rows))}
	for i, raw := range rows {
		row := trimKeys(raw)
		if isBlank(row) {
			res.Skipped++
			continue
		}
		draft, err := n.normalizeRow(format, i, row)
		if err != nil {
			n.log.Warn("Skipping export row",
				zap.String("platform", string(format.Platform)),
				zap.Int("row", i),
				zap.Error(err),
			)
			res.Skipped++
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Drafts = append(res.Drafts, draft)
	}
	return res, nil
}

func (n *Normalizer) normalizeRow(format *Format, i int, row Row) (domain.ReservationDraft, *domain.RowError) {
	get := func(f Field) string { return cell(row[format.Column(f)]) }

	d := domain.ReservationDraft{
		Platform:       string(format.Platform),
		ExternalNumber: get(FieldExternalNumber),
		HolderName:     get(FieldHolderName),
		Phone:          get(FieldPhone),
		Seat:           get(FieldSeat),
	}

	qty, ok := parseQuantity(get(FieldQuantity))
	if !ok {
		n.log.Warn("Non-numeric quantity, using 0",
			zap.String("platform", string(format.Platform)),
			zap.Int("row", i),
			zap.String("value", get(FieldQuantity)),
		)
	}
	d.Quantity = qty

	if d.HolderName == "" {
		return d, &domain.RowError{Row: i, Field: string(FieldHolderName), Err: domain.ErrMissingField}
	}
	if d.ExternalNumber == "" {
		return d, &domain.RowError{Row: i, Field: string(FieldExternalNumber), Err: domain.ErrMissingField}
	}
	if d.Quantity < 0 {
		return d, &domain.RowError{Row: i, Field: string(FieldQuantity), Err: domain.ErrInvalidQuantity}
	}
	return d, nil
}

func checkColumns(format *Format, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	present := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			present[strings.TrimSpace(k)] = true
		}
	}
	var missing []string
	for _, h := range format.Headers() {
		if !present[h] {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s export lacks %s", domain.ErrMissingColumn, format.Platform, strings.Join(missing, ", "))
	}
	return nil
}

// cell trims a spreadsheet value and maps the empty markers spreadsheet
// readers emit for blank cells to "".
func cell(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "nan", "none", "null", "<na>":
		return ""
	}
	return v
}

func trimKeys(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[strings.TrimSpace(k)] = v
	}
	return out
}

func isBlank(row Row) bool {
	for _, v := range row {
		if cell(v) != "" {
			return false
		}
	}
	return true
}

// parseQuantity accepts integers and integral floats ("2", "2.0", "1,200").
// Anything else yields 0 and ok=false.
func parseQuantity(v string) (int, bool) {
	v = strings.ReplaceAll(v, ",", "")
	if v == "" {
		return 0, true
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
