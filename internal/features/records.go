package features

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput is returned when a record collection is structurally
// invalid (not an array of objects). Sparse or malformed fields inside a
// record are never an error.
var ErrInvalidInput = errors.New("features: input must be an array of objects")

// Well-known transaction types.
const (
	TypeTransfer = "TRANSFER"
	TypeSwap     = "SWAP"
)

// TransactionRecord is one wallet-side event.
type TransactionRecord struct {
	Timestamp *int64   `json:"timestamp,omitempty"` // unix seconds
	Type      string   `json:"type,omitempty"`
	Fee       *float64 `json:"fee,omitempty"`
}

// TransferRecord is one token-transfer event.
type TransferRecord struct {
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Timestamp *int64   `json:"timeStamp,omitempty"` // unix seconds
}

// DecodeTransactions parses a JSON array of wallet transaction objects.
// Keys used: timestamp, type, fee. Unknown keys are ignored and fields
// that cannot be coerced are left absent.
func DecodeTransactions(data []byte) ([]TransactionRecord, error) {
	raw, err := decodeObjects(data)
	if err != nil {
		return nil, err
	}
	return TransactionsFromMaps(raw), nil
}

// DecodeTransfers parses a JSON array of token transfer objects.
// Keys used: from, to, value, timeStamp.
func DecodeTransfers(data []byte) ([]TransferRecord, error) {
	raw, err := decodeObjects(data)
	if err != nil {
		return nil, err
	}
	return TransfersFromMaps(raw), nil
}

// TransactionsFromMaps converts loosely typed records (as produced by an
// upstream JSON API) into TransactionRecords.
func TransactionsFromMaps(raw []map[string]any) []TransactionRecord {
	out := make([]TransactionRecord, 0, len(raw))
	for _, m := range raw {
		out = append(out, TransactionRecord{
			Timestamp: coerceInt(m["timestamp"]),
			Type:      coerceString(m["type"]),
			Fee:       coerceFloat(m["fee"]),
		})
	}
	return out
}

// TransfersFromMaps converts loosely typed transfer records.
func TransfersFromMaps(raw []map[string]any) []TransferRecord {
	out := make([]TransferRecord, 0, len(raw))
	for _, m := range raw {
		out = append(out, TransferRecord{
			From:      coerceString(m["from"]),
			To:        coerceString(m["to"]),
			Value:     coerceFloat(m["value"]),
			Timestamp: coerceInt(m["timeStamp"]),
		})
	}
	return out
}

func decodeObjects(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, ErrInvalidInput
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T", ErrInvalidInput, i, item)
		}
		out = append(out, m)
	}
	return out, nil
}

// coerceFloat accepts JSON numbers, Go numerics and numeric strings.
// Anything else (including NaN/Inf) is absent.
func coerceFloat(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return nil
		}
		f = d.InexactFloat64()
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		f = d.InexactFloat64()
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// coerceInt truncates a coerced float to whole seconds.
func coerceInt(v any) *int64 {
	f := coerceFloat(v)
	if f == nil {
		return nil
	}
	i := int64(math.Floor(*f))
	return &i
}

func coerceString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}
