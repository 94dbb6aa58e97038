// Package extractor runs the fixed loans/loan_types join against the
// relational source and materializes the result in memory.
package extractor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/lender/core"
)

// Query selects every eligible loan joined with its loan type. The two
// placeholders are the exclusive lower and upper loan_amount bounds.
const Query = `
SELECT loans.lei, loans.census_tract, loans.action_taken, loans.county_code,
       loans.loan_amount, loans.interest_rate, loans.income,
       loans.loan_type_id, loan_types.loan_type_name
FROM loans
INNER JOIN loan_types ON loans.loan_type_id = loan_types.id
WHERE loans.loan_amount > ? AND loans.loan_amount < ?`

// Options configures an Extractor.
type Options struct {
	Driver        string
	DSN           string
	MinLoanAmount float64
	MaxLoanAmount float64
	Logger        *slog.Logger
}

// Extractor opens a fresh connection for every Extract call.
type Extractor struct {
	driver    string
	dsn       string
	minAmount float64
	maxAmount float64
	logger    *slog.Logger
}

// New validates opts. No connection is opened until Extract.
func New(opts Options) (*Extractor, error) {
	if opts.Driver == "" {
		return nil, errors.New("database driver must be set")
	}
	if opts.DSN == "" {
		return nil, errors.New("database dsn must be set")
	}
	if opts.MinLoanAmount >= opts.MaxLoanAmount {
		return nil, fmt.Errorf("invalid loan amount bounds (%v, %v)", opts.MinLoanAmount, opts.MaxLoanAmount)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Extractor{
		driver:    opts.Driver,
		dsn:       opts.DSN,
		minAmount: opts.MinLoanAmount,
		maxAmount: opts.MaxLoanAmount,
		logger:    logger.With("component", "Extractor"),
	}, nil
}

// Extract connects, runs Query, and closes the connection before returning.
func (e *Extractor) Extract(ctx context.Context) ([]core.LoanRecord, error) {
	db, err := sql.Open(e.driver, e.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", e.driver, err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", e.driver, err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, Query, e.minAmount, e.maxAmount)
	if err != nil {
		return nil, fmt.Errorf("loan query failed: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Extracted loan records", "rows", len(records))
	return records, nil
}

func scanRecords(rows *sql.Rows) ([]core.LoanRecord, error) {
	var records []core.LoanRecord
	for rows.Next() {
		var (
			lei, tract, typeName sql.NullString
			action, county       sql.NullInt64
			typeID               sql.NullInt64
			amount               float64
			rate, income         sql.NullFloat64
		)
		if err := rows.Scan(&lei, &tract, &action, &county, &amount, &rate, &income, &typeID, &typeName); err != nil {
			return nil, fmt.Errorf("failed to scan loan row %d: %w", len(records), err)
		}
		rec := core.LoanRecord{
			LEI:          lei.String,
			CensusTract:  tract.String,
			ActionTaken:  int32(action.Int64),
			LoanAmount:   amount,
			LoanTypeID:   int32(typeID.Int64),
			LoanTypeName: typeName.String,
		}
		if county.Valid {
			v := county.Int64
			rec.CountyCode = &v
		}
		if rate.Valid {
			v := rate.Float64
			rec.InterestRate = &v
		}
		if income.Valid {
			v := income.Float64
			rec.Income = &v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate loan rows: %w", err)
	}
	return records, nil
}
