package storage

import (
	"context"
	"fmt"
	"math"

	"github.com/ContrejfC/ai-bookkeeper-sub002/internal/service"
)

// AppendVendorLabel appends one suggested-account label to a vendor's
// history. Labels are never updated or deleted.
func (s *SQLiteStorage) AppendVendorLabel(ctx context.Context, vendorNormalized, account string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(vendorNormalized, "vendorNormalized"); err != nil {
		return err
	}
	if err := validateString(account, "account"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendor_labels (vendor_normalized, account) VALUES (?, ?)
	`, vendorNormalized, account)
	if err != nil {
		return fmt.Errorf("failed to append vendor label: %w", err)
	}
	return nil
}

// GetVendorLabels returns a vendor's labels in insertion order.
func (s *SQLiteStorage) GetVendorLabels(ctx context.Context, vendorNormalized string) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(vendorNormalized, "vendorNormalized"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT account FROM vendor_labels
		WHERE vendor_normalized = ?
		ORDER BY id ASC
	`, vendorNormalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var labels []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("failed to scan vendor label: %w", err)
		}
		labels = append(labels, account)
	}
	return labels, rows.Err()
}

// ListVendorLabels returns the full label history keyed by vendor, in
// insertion order per vendor. Used to hydrate the cold-start tracker.
func (s *SQLiteStorage) ListVendorLabels(ctx context.Context) (map[string][]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT vendor_normalized, account FROM vendor_labels ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendor labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	history := make(map[string][]string)
	for rows.Next() {
		var vendor, account string
		if err := rows.Scan(&vendor, &account); err != nil {
			return nil, fmt.Errorf("failed to scan vendor label: %w", err)
		}
		history[vendor] = append(history[vendor], account)
	}
	return history, rows.Err()
}

// RecordVendorAmount appends one observed transaction amount for a vendor.
func (s *SQLiteStorage) RecordVendorAmount(ctx context.Context, vendorNormalized string, amount float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(vendorNormalized, "vendorNormalized"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendor_amounts (vendor_normalized, amount) VALUES (?, ?)
	`, vendorNormalized, amount)
	if err != nil {
		return fmt.Errorf("failed to record vendor amount: %w", err)
	}
	return nil
}

// GetVendorAmountStats summarizes a vendor's amount history for the anomaly
// check. The standard deviation is derived from SQL aggregates.
func (s *SQLiteStorage) GetVendorAmountStats(ctx context.Context, vendorNormalized string) (*service.VendorAmountStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(vendorNormalized, "vendorNormalized"); err != nil {
		return nil, err
	}

	var (
		count         int64
		mean, meanSqr float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(amount), 0), COALESCE(AVG(amount * amount), 0)
		FROM vendor_amounts
		WHERE vendor_normalized = ?
	`, vendorNormalized).Scan(&count, &mean, &meanSqr)
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor amount stats: %w", err)
	}

	variance := meanSqr - mean*mean
	if variance < 0 {
		variance = 0
	}

	return &service.VendorAmountStats{
		Count:  count,
		Mean:   mean,
		StdDev: math.Sqrt(variance),
	}, nil
}
