// Package export renders a probe's reconciled temperature log for
// download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/probe-link/probe-link-server/internal/models"
	"github.com/probe-link/probe-link-server/pkg/probe"
)

// csvHeader matches the sheet layout users import into spreadsheets:
// the sequence number, the eight channels, then the session the record
// belongs to.
var csvHeader = []string{
	"SequenceNumber",
	"T1", "T2", "T3", "T4", "T5", "T6", "T7", "T8",
	"SessionID",
}

// WriteCSV streams records as CSV. Records must already be in
// chronological order: session id first, sequence number within each
// session. Temperatures are rendered with two decimals, matching the
// 0.05 degree sensor resolution.
func WriteCSV(w io.Writer, records []*models.TemperatureRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(csvHeader))
	for _, rec := range records {
		row[0] = strconv.FormatUint(uint64(rec.SequenceNumber), 10)

		for i := 0; i < probe.TemperatureCount; i++ {
			if i < len(rec.Temperatures) {
				row[1+i] = strconv.FormatFloat(rec.Temperatures[i], 'f', 2, 64)
			} else {
				row[1+i] = ""
			}
		}

		row[len(row)-1] = rec.SessionID

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
