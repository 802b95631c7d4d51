package pipeline

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/lumberjack"

	"github.com/khaledhikmat/vs-face/model"
)

// Journal appends one JSON line per processed face frame.
type Journal struct {
	mu sync.Mutex
	w  io.WriteCloser
}

type journalEntry struct {
	ID     string                  `json:"id"`
	RunID  string                  `json:"runId,omitempty"`
	Time   string                  `json:"time"`
	Seq    uint64                  `json:"seq"`
	Faces  []model.FaceObservation `json:"faces"`
	Status string                  `json:"status"`
}

// NewJournal writes to a rotated file.
func NewJournal(path string) *Journal {
	return NewJournalWriter(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     7,    // days
		Compress:   true, // compress old logs
	})
}

func NewJournalWriter(w io.WriteCloser) *Journal {
	return &Journal{w: w}
}

func (j *Journal) Record(runID string, frame model.Frame, faces []model.FaceObservation, status string) error {
	if j == nil {
		return nil
	}

	entry := journalEntry{
		ID:     uuid.NewString(),
		RunID:  runID,
		Time:   frame.Timestamp.Format(time.RFC3339Nano),
		Seq:    frame.Seq,
		Faces:  faces,
		Status: status,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err = j.w.Write(append(data, '\n'))
	return err
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Close()
}
