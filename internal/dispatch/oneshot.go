package dispatch

import (
	"time"

	"github.com/sacla-sfx/cheetah-dispatch/internal/jobdir"
	"github.com/sacla-sfx/cheetah-dispatch/internal/models"
	"github.com/sacla-sfx/cheetah-dispatch/internal/status"
)

// ReadTable decodes every job directory under root once, the same way a
// watcher does, and returns the rows in directory order. Directories
// without a decodable status file yield rows without a record.
func ReadTable(root string) ([]models.Row, error) {
	ids, err := jobdir.Scan(root)
	if err != nil {
		return nil, err
	}

	rows := make([]models.Row, 0, len(ids))
	for i, id := range ids {
		row := models.Row{Index: i, JobID: id}
		w := status.NewWatcher(id, jobdir.New(root, id).Path(), time.Second, nil, nil)
		if rec, ok := w.Poll(); ok {
			row.Record = &rec
			row.UpdatedAt = time.Now()
		}
		rows = append(rows, row)
	}
	return rows, nil
}
