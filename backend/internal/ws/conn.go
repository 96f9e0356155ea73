package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reconcileServer/backend/internal/collab"
	"reconcileServer/backend/internal/resolution"
)

const (
	presenceTTL    = 600 * time.Second
	submitTimeout  = 200 * time.Millisecond
	sendQueueSize  = 64
	opsSinceLimit  = 500
	writeWaitLimit = 10 * time.Second
)

var ErrNotJoined = errors.New("NOT_JOINED")

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	userID   uint64
	username string

	// docID / clientID 由读循环写，hub 广播时读
	mu       sync.RWMutex
	docID    string
	clientID string

	send chan OutboundMessage
	// 协作引擎服务
	svc collab.Service
	// 限制同时在处理的提交数量
	sem *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, userID uint64, username string, svc collab.Service, sem *collab.SemaphoreControl) *Conn {
	return &Conn{ws: ws, hub: hub, userID: userID, username: username, send: make(chan OutboundMessage, sendQueueSize), svc: svc, sem: sem}
}

func (c *Conn) DocID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docID
}

func (c *Conn) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

func (c *Conn) setDocID(docID string) {
	c.mu.Lock()
	c.docID = docID
	c.mu.Unlock()
}

func (c *Conn) setClientID(clientID string) {
	c.mu.Lock()
	c.clientID = clientID
	c.mu.Unlock()
}

// SendMessage_Enqueue 非阻塞入队，队列满时丢弃
func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
		log.Printf("ws send queue full, drop message type=%s user=%d", msg.MessageType(), c.userID)
	}
}

func (c *Conn) sendError(err error) {
	c.SendMessage_Enqueue(ServerMessage{Type: MsgError, DocID: c.DocID(), Content: err.Error()})
}

// docFor 消息里带 docId 时以消息为准，否则用当前房间
func (c *Conn) docFor(msg ClientMessage) (string, error) {
	if msg.DocID != "" {
		return msg.DocID, nil
	}
	if docID := c.DocID(); docID != "" {
		return docID, nil
	}
	return "", ErrNotJoined
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	if msg.DocID == "" {
		c.sendError(ErrNotJoined)
		return
	}
	if old := c.DocID(); old != "" && old != msg.DocID {
		// 先离开旧房间
		c.hub.Leave(old, c)
		c.leavePresence(old)
	}
	c.setDocID(msg.DocID)
	c.hub.Join(msg.DocID, c)

	// 已记录的显示名优先（例如用户在别处改过昵称）
	if name, found, err := c.hub.presence.DisplayName(ctx, msg.DocID, c.userID); err == nil && found {
		c.username = name
	}
	if err := c.hub.presence.AddMember(ctx, msg.DocID, c.userID, c.username, presenceTTL); err != nil {
		log.Printf("add member error: %v", err)
	}

	content, revision, err := c.svc.LoadDocumentContent(ctx, msg.DocID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.SendMessage_Enqueue(ServerMessage{Type: MsgJoinDocument, DocID: msg.DocID, UserID: c.userID, Revision: revision, Content: content})
	c.sendOverlays(ctx, msg.DocID)
	c.broadcastPresence(ctx, msg.DocID)
}

func (c *Conn) handleHeartbeat(ctx context.Context) {
	docID := c.DocID()
	if docID == "" {
		return
	}
	if err := c.hub.presence.AddMember(ctx, docID, c.userID, c.username, presenceTTL); err != nil {
		log.Printf("add member error: %v", err)
	}
	c.broadcastPresence(ctx, docID)
}

func (c *Conn) broadcastPresence(ctx context.Context, docID string) {
	members, err := c.hub.presence.GetAliveMembersWithNames(ctx, docID)
	if err != nil {
		log.Printf("get members error: %v", err)
		return
	}
	c.hub.BroadcastPresence(docID, members)
}

func (c *Conn) leavePresence(docID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.hub.presence.RemoveMember(ctx, docID, c.userID); err != nil {
		log.Printf("remove member error: %v", err)
	}
}

func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	docID, err := c.docFor(msg)
	if err != nil {
		c.sendError(err)
		return
	}
	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	if err := c.sem.Acquire(submitCtx); err != nil {
		c.sendError(err)
		return
	}
	defer c.sem.Release()

	c.setClientID(msg.ClientId)
	applied, err := c.svc.Submit(submitCtx, docID, c.userID, c.username,
		msg.BaseRevision, msg.ClientId, msg.ClientSeq, msg.Ops)
	if err != nil {
		c.sendError(err)
		return
	}
	c.SendMessage_Enqueue(OpAppliedMessage{
		Type:            MsgOpApplied,
		DocID:           docID,
		OperationID:     applied.OperationId,
		BaseRevision:    msg.BaseRevision,
		CurrentRevision: applied.Revision,
		ClientId:        msg.ClientId,
		ClientSeq:       msg.ClientSeq,
	})
}

func (c *Conn) handleOpsSince(ctx context.Context, msg ClientMessage) {
	docID, err := c.docFor(msg)
	if err != nil {
		c.sendError(err)
		return
	}
	ops, err := c.svc.OpsSince(ctx, docID, msg.FromRevision, opsSinceLimit)
	if err != nil {
		c.sendError(err)
		return
	}
	out := make([]OpBroadcastMessage, len(ops))
	for i, op := range ops {
		out[i] = broadcastFromApplied(docID, op)
	}
	c.SendMessage_Enqueue(OpsSinceMessage{Type: MsgOpsSince, DocID: docID, Ops: out})
}

func (c *Conn) sendOverlays(ctx context.Context, docID string) {
	overlays, err := c.svc.PendingOverlays(ctx, docID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.SendMessage_Enqueue(ReconcileEntriesMessage{Type: MsgReconcileEntries, DocID: docID, Overlays: overlays})
}

func (c *Conn) handleResolve(ctx context.Context, msg ClientMessage) {
	docID, err := c.docFor(msg)
	if err != nil {
		c.sendError(err)
		return
	}
	res, ok, err := c.svc.Resolve(ctx, docID, msg.EntryID, resolution.Choice(msg.Choice), c.userID)
	if err != nil {
		c.sendError(err)
		return
	}
	out := ReconcileResolvedMessage{Type: MsgReconcileResolved, DocID: docID, EntryID: msg.EntryID, Resolved: ok}
	if ok {
		out.Resolution = &res
	}
	c.SendMessage_Enqueue(out)
}

func (c *Conn) handleDismiss(ctx context.Context, msg ClientMessage) {
	docID, err := c.docFor(msg)
	if err != nil {
		c.sendError(err)
		return
	}
	removed, err := c.svc.Dismiss(ctx, docID, msg.EntryID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.SendMessage_Enqueue(ReconcileDismissedMessage{Type: MsgReconcileDismissed, DocID: docID, EntryID: msg.EntryID, Removed: removed})
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		// 先离开房间再关闭 send，保证 hub 不会往已关闭的通道写
		if docID := c.DocID(); docID != "" {
			c.hub.Leave(docID, c)
			c.leavePresence(docID)
		}
		close(c.send)
	}()
	for {
		var clientMessage ClientMessage
		if err := c.ws.ReadJSON(&clientMessage); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("read json error (user=%d, doc=%s): %v", c.userID, c.DocID(), err)
			}
			return
		}
		switch clientMessage.Type {
		case MsgJoinDocument:
			c.handleJoin(ctx, clientMessage)

		case MsgHeartbeat:
			c.handleHeartbeat(ctx)

		case MsgOpSubmit:
			c.handleOpSubmit(ctx, clientMessage)

		case MsgOpsSince:
			c.handleOpsSince(ctx, clientMessage)

		case MsgSaveDocument:
			docID, err := c.docFor(clientMessage)
			if err != nil {
				c.sendError(err)
				continue
			}
			if err := c.svc.SaveSnapshot(ctx, docID); err != nil {
				log.Printf("save document error doc=%s: %v", docID, err)
				c.sendError(err)
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: MsgSaveDocument, DocID: docID, Content: "Document " + docID + " saved"})

		case MsgLoadDocument:
			docID, err := c.docFor(clientMessage)
			if err != nil {
				c.sendError(err)
				continue
			}
			content, revision, err := c.svc.LoadDocumentContent(ctx, docID)
			if err != nil {
				log.Printf("load document content error: %v", err)
				c.sendError(err)
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: MsgLoadDocument, DocID: docID, Content: content, Revision: revision})

		case MsgReconcileList:
			docID, err := c.docFor(clientMessage)
			if err != nil {
				c.sendError(err)
				continue
			}
			c.sendOverlays(ctx, docID)

		case MsgReconcileResolve:
			c.handleResolve(ctx, clientMessage)

		case MsgReconcileDismiss:
			c.handleDismiss(ctx, clientMessage)

		default:
			c.SendMessage_Enqueue(ServerMessage{Type: MsgIgnored, Content: "Unknown message type"})
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的消息，直到读循环关闭 send
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWaitLimit))
		if err := c.ws.WriteJSON(msg); err != nil {
			log.Printf("write json error (user=%d): %v", c.userID, err)
		}
	}
}
