package normalizer

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"

	"settlement-reconciler/internal/models"
)

// Stats describes one normalization run
type Stats struct {
	Source           string         `json:"source"`
	InputRows        int            `json:"input_rows"`
	DroppedRows      int            `json:"dropped_rows"`
	OutputRows       int            `json:"output_rows"`
	DroppedByType    map[string]int `json:"dropped_by_type,omitempty"`
	MappedByType     map[string]int `json:"mapped_by_type,omitempty"`
	CoercionFailures int            `json:"coercion_failures"`
	FailuresByColumn map[string]int `json:"failures_by_column,omitempty"`
}

func newStats(source string, input int) *Stats {
	return &Stats{
		Source:        source,
		InputRows:     input,
		DroppedByType: make(map[string]int),
		MappedByType:  make(map[string]int),
	}
}

// text renders a raw cell as trimmed text; nil becomes ""
func text(v interface{}) string {
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// amount coerces a raw cell into a nullable decimal. An empty cell is null without error.
func amount(v interface{}, symbols []string) (decimal.NullDecimal, error) {
	switch val := v.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case float64:
		return models.NewAmount(decimal.NewFromFloat(val)), nil
	case int:
		return models.NewAmount(decimal.NewFromInt(int64(val))), nil
	case int64:
		return models.NewAmount(decimal.NewFromInt(val)), nil
	}

	s := text(v)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := models.ParseAmount(s, symbols)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return models.NewAmount(d), nil
}

// Excel serial dates this side of 1955 and before 2150 are accepted as dates
const (
	minExcelSerial = 20000
	maxExcelSerial = 91000
)

// date parses a raw cell permissively; anything unparseable is no date
func date(v interface{}) *time.Time {
	s := text(v)
	if s == "" {
		return nil
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial < minExcelSerial || serial > maxExcelSerial {
			return nil
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return nil
		}
		return &t
	}

	t, err := models.ParseTimeWithFormats(s)
	if err != nil {
		return nil
	}
	return &t
}

func firstDate(record models.RawRecord, headers []string) *time.Time {
	for _, h := range headers {
		if d := date(record[h]); d != nil {
			return d
		}
	}
	return nil
}
