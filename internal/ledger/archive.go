package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"ctrader/internal/domain"
)

// Archive exports execution records to Parquet files for audit hand-off and
// offline analysis. Files are grouped by export date under
// <DataDir>/executions/<YYYY-MM-DD>.parquet; re-exporting the same day
// merges by order id, preferring the newer row.
type Archive struct {
	DataDir string
}

// NewArchive creates an Archive rooted at the given data directory.
func NewArchive(dataDir string) *Archive {
	return &Archive{DataDir: dataDir}
}

// ExecutionRecord is the Parquet schema for archived executions. Decimal
// fields are stored as strings to keep exact values.
type ExecutionRecord struct {
	OrderID        string `parquet:"order_id"`
	ClientOrderID  string `parquet:"client_order_id"`
	Symbol         string `parquet:"symbol"`
	Side           string `parquet:"side"`
	Type           string `parquet:"type"`
	Qty            string `parquet:"qty"`
	Price          string `parquet:"price"`
	Status         string `parquet:"status"`
	FilledQty      string `parquet:"filled_qty"`
	FilledAvgPrice string `parquet:"filled_avg_price"`
	Raw            string `parquet:"raw"`
	CreatedAt      int64  `parquet:"created_at,timestamp(millisecond)"` // Unix ms
	UpdatedAt      int64  `parquet:"updated_at,timestamp(millisecond)"` // Unix ms
}

// Path returns the archive file path for the given export date.
// Layout: <DataDir>/executions/<YYYY-MM-DD>.parquet
func (a *Archive) Path(day time.Time) string {
	return filepath.Join(a.DataDir, "executions", day.Format("2006-01-02")+".parquet")
}

// Write exports records into the archive file for the given date, merging
// with any existing rows by order id.
func (a *Archive) Write(recs []domain.OrderRecord, day time.Time) error {
	if len(recs) == 0 {
		return nil
	}

	incoming := make([]ExecutionRecord, 0, len(recs))
	for _, rec := range recs {
		incoming = append(incoming, toExecutionRecord(rec))
	}

	path := a.Path(day)
	existing, _ := readParquetFile[ExecutionRecord](path)
	merged := mergeExecutionRecords(existing, incoming)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing execution archive %s: %w", path, err)
	}
	return nil
}

// Read loads the archive file for the given date back into order records.
func (a *Archive) Read(day time.Time) ([]domain.OrderRecord, error) {
	rows, err := readParquetFile[ExecutionRecord](a.Path(day))
	if err != nil {
		return nil, err
	}

	recs := make([]domain.OrderRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := fromExecutionRecord(r)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func toExecutionRecord(rec domain.OrderRecord) ExecutionRecord {
	return ExecutionRecord{
		OrderID:        rec.Key(),
		ClientOrderID:  rec.ClientOrderID,
		Symbol:         rec.Symbol,
		Side:           string(rec.Side),
		Type:           string(rec.Type),
		Qty:            rec.Qty.String(),
		Price:          rec.Price.String(),
		Status:         string(rec.Status),
		FilledQty:      rec.FilledQty.String(),
		FilledAvgPrice: rec.FilledAvgPrice.String(),
		Raw:            string(rec.Raw),
		CreatedAt:      rec.CreatedAt.UnixMilli(),
		UpdatedAt:      rec.UpdatedAt.UnixMilli(),
	}
}

func fromExecutionRecord(r ExecutionRecord) (domain.OrderRecord, error) {
	rec := domain.OrderRecord{
		VenueID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          domain.Side(r.Side),
		Type:          domain.OrderType(r.Type),
		Status:        domain.OrderStatus(r.Status),
		CreatedAt:     time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:     time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if rec.VenueID == rec.ClientOrderID {
		rec.VenueID = ""
	}
	if r.Raw != "" {
		rec.Raw = json.RawMessage(r.Raw)
	}

	var err error
	if rec.Qty, err = decimal.NewFromString(r.Qty); err != nil {
		return rec, fmt.Errorf("parsing archived qty %q: %w", r.Qty, err)
	}
	if rec.Price, err = decimal.NewFromString(r.Price); err != nil {
		return rec, fmt.Errorf("parsing archived price %q: %w", r.Price, err)
	}
	if rec.FilledQty, err = decimal.NewFromString(r.FilledQty); err != nil {
		return rec, fmt.Errorf("parsing archived filled qty %q: %w", r.FilledQty, err)
	}
	if rec.FilledAvgPrice, err = decimal.NewFromString(r.FilledAvgPrice); err != nil {
		return rec, fmt.Errorf("parsing archived filled avg price %q: %w", r.FilledAvgPrice, err)
	}
	return rec, nil
}

// mergeExecutionRecords deduplicates by order id, preferring incoming rows
// over existing ones. Results are sorted by update time.
func mergeExecutionRecords(existing, incoming []ExecutionRecord) []ExecutionRecord {
	seen := make(map[string]ExecutionRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.OrderID] = r
	}
	for _, r := range incoming {
		seen[r.OrderID] = r
	}

	merged := make([]ExecutionRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].UpdatedAt != merged[j].UpdatedAt {
			return merged[i].UpdatedAt < merged[j].UpdatedAt
		}
		return merged[i].OrderID < merged[j].OrderID
	})
	return merged
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
