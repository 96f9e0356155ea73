package collab

import (
	"time"

	"reconcileServer/backend/internal/ot/delta"
	"reconcileServer/backend/internal/reconcile"
	"reconcileServer/backend/internal/resolution"
)

const (
	EventOpApplied          = "OP_APPLIED"
	EventReconcileTriggered = "RECONCILE_TRIGGERED"
	EventReconcileResolved  = "RECONCILE_RESOLVED"
)

// Event 是投递到 Kafka 的事件；以 docId 做 key，保证同一文档的事件落在同一分区
type Event interface {
	Key() string
	Type() string
}

type DocOpEvent struct {
	EventType    string      `json:"eventType"` // 固定 "OP_APPLIED"
	DocID        string      `json:"docId"`
	OperationID  string      `json:"operationId"`
	Revision     uint64      `json:"revision"`
	AuthorID     uint64      `json:"authorId"`
	ClientID     string      `json:"clientId"`
	ClientSeq    uint64      `json:"clientSeq"`
	BaseRevision uint64      `json:"baseRevision"`
	Ops          delta.Delta `json:"ops"`
	AppliedAt    time.Time   `json:"appliedAt"`
}

func (e DocOpEvent) Key() string  { return e.DocID }
func (e DocOpEvent) Type() string { return e.EventType }

type ReconcileTriggeredEvent struct {
	EventType string            `json:"eventType"` // 固定 "RECONCILE_TRIGGERED"
	DocID     string            `json:"docId"`
	EntryID   string            `json:"entryId"`
	Trigger   reconcile.Trigger `json:"trigger"`
	Entry     resolution.Entry  `json:"entry"`
	Revision  uint64            `json:"revision"`
}

func (e ReconcileTriggeredEvent) Key() string  { return e.DocID }
func (e ReconcileTriggeredEvent) Type() string { return e.EventType }

type ReconcileResolvedEvent struct {
	EventType  string                `json:"eventType"` // 固定 "RECONCILE_RESOLVED"
	DocID      string                `json:"docId"`
	Resolution resolution.Resolution `json:"resolution"`
	ResolvedBy uint64                `json:"resolvedBy"`
	Revision   uint64                `json:"revision"`
	ResolvedAt time.Time             `json:"resolvedAt"`
}

func (e ReconcileResolvedEvent) Key() string  { return e.DocID }
func (e ReconcileResolvedEvent) Type() string { return e.EventType }
