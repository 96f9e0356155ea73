package ws

import (
	"sync"

	"reconcileServer/backend/internal/cache"
	"reconcileServer/backend/internal/collab"
	"reconcileServer/backend/internal/resolution"
)

// Hub 维护 docID -> 连接集合，并实现 collab.Listener 把变更推给房间
type Hub struct {
	// 在线状态与显示名存在 Redis
	presence cache.PresenceCache
	// 广播期间持有读锁，Leave 拿到写锁之后不会再有人往该连接的 send 写
	mu sync.RWMutex
	// 一个用户可开多个标签页/设备，所以按连接而不是按 userID 存
	rooms map[string]map[*Conn]struct{}
}

var _ collab.Listener = (*Hub)(nil)

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定文档房间
func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

// Leave 将连接从指定文档房间移除
func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

func (h *Hub) RoomSize(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}

// broadcast 非阻塞投递；skip 返回 true 的连接不发
func (h *Hub) broadcast(docID string, msg OutboundMessage, skip func(*Conn) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		if skip != nil && skip(c) {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}

func (h *Hub) BroadcastPresence(docID string, members []cache.PresenceMember) {
	out := make([]PresenceMember, len(members))
	for i, m := range members {
		out[i] = PresenceMember{UserID: m.UserID, Username: m.Username}
	}
	h.broadcast(docID, ServerMessage{Type: MsgPresence, DocID: docID, Members: out}, nil)
}

// OnApplied 推送给房间内除提交方连接之外的所有人（提交方收 op_applied ack）
func (h *Hub) OnApplied(docID string, op collab.AppliedOp) {
	msg := broadcastFromApplied(docID, op)
	h.broadcast(docID, msg, func(c *Conn) bool {
		return op.ClientId != "" && c.ClientID() == op.ClientId
	})
}

func (h *Hub) OnOverlaysChanged(docID string, overlays []resolution.Overlay) {
	if overlays == nil {
		overlays = []resolution.Overlay{}
	}
	h.broadcast(docID, ReconcileEntriesMessage{Type: MsgReconcileEntries, DocID: docID, Overlays: overlays}, nil)
}

func broadcastFromApplied(docID string, op collab.AppliedOp) OpBroadcastMessage {
	return OpBroadcastMessage{
		Type:        MsgOpBroadcast,
		DocID:       docID,
		OperationID: op.OperationId,
		Revision:    op.Revision,
		AuthorID:    op.AuthorId,
		ClientId:    op.ClientId,
		ClientSeq:   op.ClientSeq,
		Ops:         op.Ops,
		AppliedAt:   op.AppliedAt,
	}
}
