package reports

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV renders a report list as CSV for the manager export action.
func WriteCSV(w io.Writer, rows []Report) error {
	cw := csv.NewWriter(w)

	header := []string{"date", "user_id", "team", "status", "tasks", "blockers", "risks", "dependencies"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			r.Date,
			r.UserID.String(),
			r.Team,
			string(r.Status),
			r.Tasks,
			r.Blockers,
			r.Risks,
			r.Dependencies,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
