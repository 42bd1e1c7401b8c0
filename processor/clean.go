package processor

import (
	"strconv"
	"strings"

	"optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/models"
)

// CleanResult carries the rows that survived cleaning plus a count of the
// rows that did not. Drops are absorbed here; they never abort the batch.
type CleanResult struct {
	Records []models.FlowRecord
	Dropped int
}

// Clean normalizes raw trade records into flow rows. A record is dropped
// when it is not a block trade, its instrument name fails to decompose,
// it belongs to another asset, or its amount or price does not parse to a
// positive number. The per-record value depends on the mode:
//
//   - notional: amount * price, in units of the underlying asset (Deribit
//     quotes option premium in the underlying, and amount is already in
//     underlying units).
//   - net_contracts: signed amount, sells counted negative.
func Clean(records []models.TradeRecord, asset string, mode string) CleanResult {
	log := logger.GetLogger().WithComponent("cleaner").WithFields(logger.Fields{
		"asset":     asset,
		"mode":      mode,
		"operation": "clean",
	})

	asset = strings.ToUpper(asset)
	result := CleanResult{Records: make([]models.FlowRecord, 0, len(records))}

	for _, rec := range records {
		row, reason := cleanOne(rec, asset, mode)
		if reason != "" {
			result.Dropped++
			log.WithFields(logger.Fields{
				"trade_id":   rec.TradeID,
				"instrument": rec.InstrumentName,
				"reason":     reason,
			}).Debug("dropping record")
			continue
		}
		result.Records = append(result.Records, row)
	}

	metrics.AddRecordsDropped(result.Dropped)
	metrics.AddRecordsCleaned(len(result.Records))

	if result.Dropped > 0 {
		log.WithFields(logger.Fields{
			"dropped": result.Dropped,
			"kept":    len(result.Records),
		}).Warn("records dropped during cleaning")
	}
	logger.LogDataFlowEntry(log, "working_set", "flow_rows", len(result.Records), "flow_records")

	return result
}

func cleanOne(rec models.TradeRecord, asset string, mode string) (models.FlowRecord, string) {
	if !rec.IsBlockTrade() {
		return models.FlowRecord{}, "not a block trade"
	}

	inst, err := models.ParseInstrument(rec.InstrumentName)
	if err != nil {
		return models.FlowRecord{}, "malformed instrument"
	}
	if inst.Asset != asset {
		return models.FlowRecord{}, "asset mismatch"
	}

	amount, err := strconv.ParseFloat(rec.Amount, 64)
	if err != nil || amount <= 0 {
		return models.FlowRecord{}, "bad amount"
	}
	price, err := strconv.ParseFloat(rec.Price, 64)
	if err != nil || price <= 0 {
		return models.FlowRecord{}, "bad price"
	}

	value := amount * price
	if mode == config.ModeNetContracts {
		value = amount
		if strings.EqualFold(rec.Direction, "sell") {
			value = -amount
		}
	}

	return models.FlowRecord{
		Asset:     inst.Asset,
		Maturity:  inst.Maturity,
		Strike:    inst.Strike,
		Type:      inst.Type,
		Direction: strings.ToLower(rec.Direction),
		Amount:    amount,
		Price:     price,
		Value:     value,
		Timestamp: rec.Timestamp,
	}, ""
}
