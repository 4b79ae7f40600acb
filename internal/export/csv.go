// Package export renders the board as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"taskboard/internal/domain"
)

var Header = []string{"Column", "Task Content", "Username", "Created At", "In Progress", "Done", "Estimated Completion"}

// WriteCSV writes one row per task, grouped by column in board order and
// keeping the input order within a column. Tasks in an unknown column are
// dropped.
func WriteCSV(w io.Writer, tasks []domain.Task) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, col := range domain.Columns {
		for _, t := range tasks {
			if t.Column != col {
				continue
			}
			row := []string{
				col.Title(),
				t.Content,
				t.Username,
				t.CreatedAt,
				deref(t.InProgressAt),
				deref(t.DoneAt),
				deref(t.EstimatedCompletion),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write task %s: %w", t.ID, err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName is the suggested download name for an export taken at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("kanban-board-%s.csv", domain.FormatTime(now))
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
