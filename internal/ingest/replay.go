package ingest

import (
	"fmt"
)

// Replay pushes every event of a recovery log back into the pipeline in file
// order and returns how many were queued. Message, document and profile
// writes are idempotent and user history only grows when a profile changes,
// but online records and group history are plain appends, so replaying a log
// twice duplicates them.
func (p *Pipeline) Replay(path string) (int, error) {
	records, err := ReadRecoveryLog(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for i, rec := range records {
		ev, ok := rec.Event.(Event)
		if !ok {
			return n, fmt.Errorf("record %d: %T is not an event", i, rec.Event)
		}
		if err := p.Push(ev); err != nil {
			return n, err
		}
		n++
	}
	p.logger.Info("Replayed recovery log", "path", path, "events", n)
	return n, nil
}
