package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"keygate/internal/constants"
	"keygate/internal/logger"
)

type auditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	IP        string    `json:"ip"`
	Key       string    `json:"key,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Details   string    `json:"details"`
	Severity  string    `json:"severity"`
}

// AuditSink appends events as JSON lines. At most maxPerMinute records
// are written per one-minute window; the rest are counted and skipped.
type AuditSink struct {
	mu           sync.Mutex
	w            io.WriteCloser
	enc          *json.Encoder
	maxPerMinute int
	logCount     map[Kind]int
	windowStart  time.Time
	suppressed   int
	now          func() time.Time
}

func NewAuditSink(w io.WriteCloser, maxPerMinute int) *AuditSink {
	return &AuditSink{
		w:            w,
		enc:          json.NewEncoder(w),
		maxPerMinute: maxPerMinute,
		logCount:     make(map[Kind]int),
		windowStart:  time.Now(),
		now:          time.Now,
	}
}

// OpenAuditSink opens (or creates) today's audit file under dir.
func OpenAuditSink(dir string) (*AuditSink, error) {
	file, err := logger.OpenFile(dir, fmt.Sprintf("audit-%s.log", time.Now().Format("2006-01-02")))
	if err != nil {
		return nil, err
	}
	return NewAuditSink(file, constants.MaxAuditLogsPerMinute), nil
}

func (s *AuditSink) Send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.windowStart) > time.Minute {
		s.windowStart = now
		s.logCount = make(map[Kind]int)
	}

	total := 0
	for _, count := range s.logCount {
		total += count
	}
	if total >= s.maxPerMinute {
		s.suppressed++
		return nil
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = now
	}

	s.logCount[ev.Kind]++
	return s.enc.Encode(auditRecord{
		Timestamp: ts,
		EventType: string(ev.Kind),
		IP:        ev.Address,
		Key:       ev.Key,
		Payload:   ev.Payload,
		Details:   ev.Message(),
		Severity:  ev.Kind.Severity(),
	})
}

// Suppressed returns how many records were skipped by the per-minute cap.
func (s *AuditSink) Suppressed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed
}

func (s *AuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
