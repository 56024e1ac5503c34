package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AdvisoryRecord captures one coordinator cycle for audit and analysis.
type AdvisoryRecord struct {
	Timestamp   time.Time         `json:"timestamp"`
	Symbol      string            `json:"symbol"`
	CycleNumber int               `json:"cycle_number"`
	Action      string            `json:"action"`
	Confidence  float64           `json:"confidence"`
	SizeHint    float64           `json:"size_hint"`
	Reasoning   string            `json:"reasoning,omitempty"`
	AgentVotes  map[string]string `json:"agent_votes,omitempty"`
}

// OrderRecord captures one dispatched order with the state that produced it.
type OrderRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	SideCode  int       `json:"side_code"`
	Side      string    `json:"side"`
	Size      float64   `json:"size"`
	Price     float64   `json:"price"`
	Signal    float64   `json:"signal"`
	OrderID   string    `json:"order_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Writer persists records to a directory as JSON files, one per event.
// Safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer rooted at dir.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteAdvisory appends a coordinator cycle record.
func (w *Writer) WriteAdvisory(rec *AdvisoryRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	// The file sequence is shared with order records; it only stands in for
	// the cycle number when the caller did not track one.
	if rec.CycleNumber == 0 {
		rec.CycleNumber = w.seq
	}
	name := fmt.Sprintf("advisory_%s_%05d.json",
		rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	return w.writeLocked(name, rec)
}

// WriteOrder appends an order dispatch record.
func (w *Writer) WriteOrder(rec *OrderRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	name := fmt.Sprintf("order_%s_%05d.json",
		rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	return w.writeLocked(name, rec)
}

func (w *Writer) writeLocked(name string, rec any) (string, error) {
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
