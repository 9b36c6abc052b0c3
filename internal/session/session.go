// Package session accumulates the two uploads of a reconciliation and runs the
// pipeline once both are present.
//
// A session moves waiting → ready → processing → completed|failed. Sessions that
// sit in waiting (or finished) longer than the TTL are expired by a sweeper.
package session

import (
	"time"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/summary"
)

// Status of a session
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusReady      Status = "ready"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transition can happen
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// FileInfo describes one attached upload
type FileInfo struct {
	Name       string    `json:"name"`
	Size       int       `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Snapshot is a point-in-time copy of a session, safe to hand out
type Snapshot struct {
	ID          string          `json:"session_id"`
	Status      Status          `json:"status"`
	OrderFile   *FileInfo       `json:"mtr_file,omitempty"`
	PaymentFile *FileInfo       `json:"payment_file,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Error       string          `json:"error,omitempty"`
	ResultID    string          `json:"result_id,omitempty"`
	Result      *summary.Report `json:"result,omitempty"`
}

type session struct {
	snapshot    Snapshot
	order       *reconciler.Source
	payment     *reconciler.Source
	subscribers map[int]chan Snapshot
}

func newSession(id string, now time.Time) *session {
	return &session{
		snapshot:    Snapshot{ID: id, Status: StatusWaiting, CreatedAt: now, UpdatedAt: now},
		subscribers: make(map[int]chan Snapshot),
	}
}

func (s *session) attach(kind models.SourceKind, name string, data []byte, now time.Time) {
	src := &reconciler.Source{Name: name, Data: data}
	info := &FileInfo{Name: name, Size: len(data), UploadedAt: now}
	if kind == models.OrderReport {
		s.order = src
		s.snapshot.OrderFile = info
	} else {
		s.payment = src
		s.snapshot.PaymentFile = info
	}
	s.snapshot.UpdatedAt = now
	if s.order != nil && s.payment != nil {
		s.snapshot.Status = StatusReady
	}
}

func (s *session) copy() Snapshot {
	cp := s.snapshot
	if cp.OrderFile != nil {
		f := *cp.OrderFile
		cp.OrderFile = &f
	}
	if cp.PaymentFile != nil {
		f := *cp.PaymentFile
		cp.PaymentFile = &f
	}
	return cp
}

// publish hands the current snapshot to every subscriber. A slow subscriber loses
// the oldest pending snapshot rather than blocking the transition.
func (s *session) publish() {
	snap := s.copy()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	if snap.Status.Terminal() {
		for key, ch := range s.subscribers {
			close(ch)
			delete(s.subscribers, key)
		}
	}
}
