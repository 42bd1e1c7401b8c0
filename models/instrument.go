package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// OptionType is the exercise side encoded in an instrument name.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// Instrument is the structured decomposition of a Deribit option
// instrument name of the form <ASSET>-<DDMMMYY>-<STRIKE>-<C|P>,
// e.g. "BTC-30JUN24-50000-C".
type Instrument struct {
	Asset    string
	Maturity time.Time
	Strike   float64
	Type     OptionType
}

// ParseInstrument decomposes an instrument name. Well-formed names parse
// deterministically; anything else returns an error so the caller can
// drop the record without aborting the batch.
func ParseInstrument(name string) (Instrument, error) {
	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		return Instrument{}, fmt.Errorf("instrument '%s': expected 4 dash-separated fields, got %d", name, len(parts))
	}

	asset := strings.ToUpper(strings.TrimSpace(parts[0]))
	if asset == "" {
		return Instrument{}, fmt.Errorf("instrument '%s': empty asset", name)
	}

	maturity, err := parseMaturity(parts[1])
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument '%s': %w", name, err)
	}

	strike, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument '%s': bad strike '%s'", name, parts[2])
	}
	if strike <= 0 {
		return Instrument{}, fmt.Errorf("instrument '%s': non-positive strike %v", name, strike)
	}

	var optType OptionType
	switch strings.ToUpper(parts[3]) {
	case "C":
		optType = Call
	case "P":
		optType = Put
	default:
		return Instrument{}, fmt.Errorf("instrument '%s': unknown option type '%s'", name, parts[3])
	}

	return Instrument{Asset: asset, Maturity: maturity, Strike: strike, Type: optType}, nil
}

// parseMaturity parses the DDMMMYY maturity field, e.g. "30JUN24" or
// "7JUN24". Month names arrive upper-cased so they are re-cased before
// handing off to time.Parse.
func parseMaturity(s string) (time.Time, error) {
	if len(s) < 6 || len(s) > 7 {
		return time.Time{}, fmt.Errorf("bad maturity '%s'", s)
	}
	day := s[:len(s)-5]
	month := s[len(s)-5 : len(s)-2]
	year := s[len(s)-2:]
	for _, r := range day + year {
		if !unicode.IsDigit(r) {
			return time.Time{}, fmt.Errorf("bad maturity '%s'", s)
		}
	}
	recased := day + strings.ToUpper(month[:1]) + strings.ToLower(month[1:]) + year
	maturity, err := time.Parse("2Jan06", recased)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad maturity '%s'", s)
	}
	return maturity, nil
}

// MaturityLabel formats a maturity back into the exchange's notation,
// used for grid row labels.
func MaturityLabel(t time.Time) string {
	return strings.ToUpper(t.Format("2Jan06"))
}
