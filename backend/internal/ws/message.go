package ws

import (
	"time"

	"reconcileServer/backend/internal/ot/delta"
	"reconcileServer/backend/internal/resolution"
)

// 客户端 -> 服务端
const (
	MsgJoinDocument     = "joinDocument"
	MsgHeartbeat        = "heartbeat"
	MsgOpSubmit         = "op_submit"
	MsgOpsSince         = "opsSince"
	MsgLoadDocument     = "loadDocumentContent"
	MsgSaveDocument     = "saveDocument"
	MsgReconcileList    = "reconcile_list"
	MsgReconcileResolve = "reconcile_resolve"
	MsgReconcileDismiss = "reconcile_dismiss"
)

// 服务端 -> 客户端
const (
	MsgWelcome            = "welcome"
	MsgOpApplied          = "op_applied"
	MsgOpBroadcast        = "op_broadcast"
	MsgReconcileEntries   = "reconcile_entries"
	MsgReconcileResolved  = "reconcile_resolved"
	MsgReconcileDismissed = "reconcile_dismissed"
	MsgPresence           = "presence"
	MsgError              = "error"
	MsgIgnored            = "ignored"
)

type ClientMessage struct {
	Type         string      `json:"type"`
	DocID        string      `json:"docId"`
	BaseRevision uint64      `json:"baseRevision"`
	ClientId     string      `json:"clientId"`
	ClientSeq    uint64      `json:"clientSeq"`
	Ops          delta.Delta `json:"ops"`
	FromRevision uint64      `json:"fromRevision,omitempty"`
	EntryID      string      `json:"entryId,omitempty"`
	Choice       string      `json:"choice,omitempty"`
}

type PresenceMember struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username,omitempty"`
}

type ServerMessage struct {
	Type     string           `json:"type"`
	UserID   uint64           `json:"userId,omitempty"`
	DocID    string           `json:"docId,omitempty"`
	Revision uint64           `json:"revision,omitempty"`
	Members  []PresenceMember `json:"members,omitempty"`
	Content  string           `json:"content,omitempty"`
}

type OpsSinceMessage struct {
	Type  string               `json:"type"` // 固定 "opsSince"
	DocID string               `json:"docId"`
	Ops   []OpBroadcastMessage `json:"ops"`
}

// 广播给同文档房间内其他连接的“已应用操作”事件
// - 与 op_applied(ack) 区分：这里用于把变更推送给其他协作者（包括同用户的其他标签页）
// - 冲突解决产生的替换也走这里，clientId 为空
type OpBroadcastMessage struct {
	Type        string      `json:"type"` // 固定 "op_broadcast"
	DocID       string      `json:"docId"`
	OperationID string      `json:"operationId"`
	Revision    uint64      `json:"revision"` // 服务端已应用后的最新版本
	AuthorID    uint64      `json:"authorId"`
	ClientId    string      `json:"clientId,omitempty"`
	ClientSeq   uint64      `json:"clientSeq,omitempty"`
	Ops         delta.Delta `json:"ops"`
	AppliedAt   time.Time   `json:"appliedAt"`
}

type OpAppliedMessage struct {
	Type            string `json:"type"` // 固定 "op_applied"
	DocID           string `json:"docId"`
	OperationID     string `json:"operationId"`
	BaseRevision    uint64 `json:"baseRevision"`    // 客户端提交时的 base
	CurrentRevision uint64 `json:"currentRevision"` // 服务端应用后的最新版本
	ClientId        string `json:"clientId"`
	ClientSeq       uint64 `json:"clientSeq"`
}

// 待决冲突全集，每次变化整体下发
type ReconcileEntriesMessage struct {
	Type     string               `json:"type"` // 固定 "reconcile_entries"
	DocID    string               `json:"docId"`
	Overlays []resolution.Overlay `json:"overlays"`
}

type ReconcileResolvedMessage struct {
	Type       string                 `json:"type"` // 固定 "reconcile_resolved"
	DocID      string                 `json:"docId"`
	EntryID    string                 `json:"entryId"`
	Resolved   bool                   `json:"resolved"`
	Resolution *resolution.Resolution `json:"resolution,omitempty"`
}

type ReconcileDismissedMessage struct {
	Type    string `json:"type"` // 固定 "reconcile_dismissed"
	DocID   string `json:"docId"`
	EntryID string `json:"entryId"`
	Removed bool   `json:"removed"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string             { return m.Type }
func (m OpsSinceMessage) MessageType() string           { return m.Type }
func (m OpAppliedMessage) MessageType() string          { return m.Type }
func (m OpBroadcastMessage) MessageType() string        { return m.Type }
func (m ReconcileEntriesMessage) MessageType() string   { return m.Type }
func (m ReconcileResolvedMessage) MessageType() string  { return m.Type }
func (m ReconcileDismissedMessage) MessageType() string { return m.Type }
