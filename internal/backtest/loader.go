package backtest

import (
	"fmt"
	"os"
	"strings"
	"time"

	mqkerrors "github.com/riskkernel/mqk/internal/errors"
	"github.com/riskkernel/mqk/internal/schema"
)

// barCSVHeader is the canonical bar export header, matched exactly: a file
// with extra, missing, or reordered columns is refused rather than
// best-effort mapped, since a silently misread price column would corrupt
// every downstream fill.
const barCSVHeader = "ts_close_utc,open,high,low,close,volume"

// LoadBarsCSV reads a canonical bar CSV covering a single symbol. The file
// has no symbol column; the caller names the symbol the export covers.
// Rows are returned in file order; Engine.Run enforces canonical
// (EndTS, Symbol) ordering itself so a shuffled export fails loudly there.
func LoadBarsCSV(path, symbol, timeframe string) ([]schema.Bar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mqkerrors.WithKind(mqkerrors.KindValidationError,
			fmt.Errorf("load bars csv: %w", err))
	}
	return ParseBarsCSV(data, symbol, timeframe)
}

// ParseBarsCSV parses canonical bar CSV content. Pure and deterministic.
// Prices are decimal strings converted to micros exactly once here; a value
// with sub-micro precision or a malformed timestamp fails with its line
// number rather than being rounded or skipped. Blank lines and lines
// starting with '#' are ignored. Only complete bars appear in a canonical
// export, so IsComplete is always true on the parsed rows.
func ParseBarsCSV(data []byte, symbol, timeframe string) ([]schema.Bar, error) {
	if symbol == "" {
		return nil, mqkerrors.WithKind(mqkerrors.KindValidationError,
			fmt.Errorf("parse bars csv: symbol is required"))
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 {
		return nil, mqkerrors.WithKind(mqkerrors.KindValidationError,
			fmt.Errorf("parse bars csv: empty input"))
	}

	header := strings.TrimSpace(strings.TrimPrefix(lines[0], "\ufeff"))
	if header != barCSVHeader {
		return nil, mqkerrors.WithKind(mqkerrors.KindValidationError,
			fmt.Errorf("parse bars csv: header must be exactly %q, got %q", barCSVHeader, header))
	}

	var bars []schema.Bar
	for i, raw := range lines[1:] {
		lineNo := i + 2 // 1-based, header is line 1
		row := strings.TrimSpace(raw)
		if row == "" || strings.HasPrefix(row, "#") {
			continue
		}
		fields := strings.Split(row, ",")
		if len(fields) != 6 {
			return nil, mqkerrors.WithKind(mqkerrors.KindValidationError,
				fmt.Errorf("parse bars csv line %d: expected 6 fields, got %d", lineNo, len(fields)))
		}

		closeTime, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, mqkerrors.WithKind(mqkerrors.KindValidationError,
				fmt.Errorf("parse bars csv line %d: ts_close_utc: %w", lineNo, err))
		}
		closeTime = closeTime.UTC()

		prices := make([]schema.Price, 4)
		for j, name := range []string{"open", "high", "low", "close"} {
			micros, err := schema.MoneyFromDecimal(strings.TrimSpace(fields[j+1]))
			if err != nil {
				return nil, mqkerrors.WithKind(mqkerrors.KindValidationError,
					fmt.Errorf("parse bars csv line %d: %s: %w", lineNo, name, err))
			}
			if micros <= 0 {
				return nil, mqkerrors.WithKind(mqkerrors.KindValidationError,
					fmt.Errorf("parse bars csv line %d: %s must be > 0", lineNo, name))
			}
			prices[j] = schema.Price(micros)
		}

		volume, err := schema.MoneyFromDecimal(strings.TrimSpace(fields[5]))
		if err != nil {
			return nil, mqkerrors.WithKind(mqkerrors.KindValidationError,
				fmt.Errorf("parse bars csv line %d: volume: %w", lineNo, err))
		}
		if volume < 0 {
			return nil, mqkerrors.WithKind(mqkerrors.KindValidationError,
				fmt.Errorf("parse bars csv line %d: volume must be >= 0", lineNo))
		}

		y, m, d := closeTime.Date()
		bars = append(bars, schema.Bar{
			Symbol:         symbol,
			Timeframe:      timeframe,
			EndTS:          closeTime.UnixNano(),
			Open:           prices[0],
			High:           prices[1],
			Low:            prices[2],
			Close:          prices[3],
			Volume:         schema.Quantity(volume),
			IsComplete:     true,
			DayID:          int64(y)*10_000 + int64(m)*100 + int64(d),
			RejectWindowID: closeTime.Unix() / 60,
		})
	}
	return bars, nil
}
