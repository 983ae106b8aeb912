package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mbd888/defiintel/internal/features"
)

// maxLineBytes bounds one JSON-lines record.
const maxLineBytes = 16 << 20

// ErrInvalidLabel is returned for labels other than 0, 1 or null.
var ErrInvalidLabel = errors.New("label must be 0, 1 or null")

// Line is one JSON-lines training record. Raw histories are run through
// the extractors; a raw history and a vector for the same source may not
// both be given.
type Line struct {
	Wallet       features.Vector `json:"wallet"`
	Token        features.Vector `json:"token"`
	Social       features.Vector `json:"social"`
	Transactions json.RawMessage `json:"transactions"`
	Transfers    json.RawMessage `json:"transfers"`
	Label        *int            `json:"label"`
}

// LoadStats counts what ReadJSONL consumed.
type LoadStats struct {
	Lines   int `json:"lines"`
	Samples int `json:"samples"`
	Labeled int `json:"labeled"`
	Skipped int `json:"skipped"`
}

// ReadJSONL reads training samples from r into agg, one JSON object per
// line. Blank lines and lines starting with '#' are skipped. The first
// malformed line stops the read with its line number.
func ReadJSONL(r io.Reader, agg *Aggregator, opts ...features.Option) (LoadStats, error) {
	wallets := features.NewWalletExtractor(opts...)
	tokens := features.NewTokenExtractor(opts...)

	var stats LoadStats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		stats.Lines++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			stats.Skipped++
			continue
		}

		var line Line
		if err := json.Unmarshal(raw, &line); err != nil {
			return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
		}
		wallet, token, err := line.vectors(wallets, tokens)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
		}
		if line.Label != nil && *line.Label != LabelLegitimate && *line.Label != LabelFraud {
			return stats, fmt.Errorf("line %d: %w", stats.Lines, ErrInvalidLabel)
		}
		if len(wallet) == 0 && len(token) == 0 && len(line.Social) == 0 {
			stats.Skipped++
			continue
		}

		agg.AddSample(wallet, token, line.Social, line.Label)
		stats.Samples++
		if line.Label != nil {
			stats.Labeled++
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("line %d: %w", stats.Lines+1, err)
	}
	return stats, nil
}

func (l *Line) vectors(wallets *features.WalletExtractor, tokens *features.TokenExtractor) (features.Vector, features.Vector, error) {
	wallet, token := l.Wallet, l.Token

	if present(l.Transactions) {
		if len(wallet) > 0 {
			return nil, nil, errors.New("both wallet and transactions given")
		}
		txs, err := features.DecodeTransactions(l.Transactions)
		if err != nil {
			return nil, nil, fmt.Errorf("transactions: %w", err)
		}
		wallet = wallets.Extract(txs).Vector()
	}
	if present(l.Transfers) {
		if len(token) > 0 {
			return nil, nil, errors.New("both token and transfers given")
		}
		transfers, err := features.DecodeTransfers(l.Transfers)
		if err != nil {
			return nil, nil, fmt.Errorf("transfers: %w", err)
		}
		token = tokens.Extract(transfers).Vector()
	}
	return wallet, token, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
