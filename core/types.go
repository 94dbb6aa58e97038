package core

import (
	"fmt"
	"strings"
)

// CompressionType identifies the page compression used for columnar files.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompressionType maps a config value to a CompressionType.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("unsupported compression %q", s)
	}
}

// LoanRecord is one row of the loans/loan_types join as stored in the
// main dataset and in partition files. CountyCode is nil when the source
// row has no county; such rows never belong to a partition.
type LoanRecord struct {
	LEI          string   `parquet:"lei,dict"`
	CensusTract  string   `parquet:"census_tract"`
	ActionTaken  int32    `parquet:"action_taken"`
	CountyCode   *int64   `parquet:"county_code,optional"`
	LoanAmount   float64  `parquet:"loan_amount"`
	InterestRate *float64 `parquet:"interest_rate,optional"`
	Income       *float64 `parquet:"income,optional"`
	LoanTypeID   int32    `parquet:"loan_type_id"`
	LoanTypeName string   `parquet:"loan_type_name,dict"`
}

// Column names referenced outside of struct tags.
const (
	ColumnCountyCode = "county_code"
	ColumnLoanAmount = "loan_amount"
)

// InCounty reports whether the record belongs to the given partition key.
func (r *LoanRecord) InCounty(key int64) bool {
	return r.CountyCode != nil && *r.CountyCode == key
}

// Provenance records which path the partition cache took to answer a request.
type Provenance string

const (
	ProvenanceNone     Provenance = ""
	ProvenanceReuse    Provenance = "reuse"
	ProvenanceCreate   Provenance = "create"
	ProvenanceRecreate Provenance = "recreate"
)

func (p Provenance) String() string { return string(p) }

// AverageLoanAmount returns the mean loan amount of records truncated
// toward zero. ok is false when records is empty.
func AverageLoanAmount(records []LoanRecord) (avg int64, ok bool) {
	if len(records) == 0 {
		return 0, false
	}
	var sum float64
	for i := range records {
		sum += records[i].LoanAmount
	}
	return int64(sum / float64(len(records))), true
}
