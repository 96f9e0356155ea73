package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"reconcileServer/backend/internal/ot/delta"
	"reconcileServer/backend/internal/reconcile"
	"reconcileServer/backend/internal/resolution"
)

// 协作引擎接口
type Service interface {
	Submit(ctx context.Context, docID string, authorID uint64, authorName string,
		baseRevision uint64, clientID string, clientSeq uint64,
		ops delta.Delta) (AppliedOp, error)

	CurrentRevision(ctx context.Context, docID string) (uint64, error)

	LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error)

	// 用于握手/追平
	OpsSince(ctx context.Context, docID string, fromRevision uint64, limit int) ([]AppliedOp, error)

	SaveSnapshot(ctx context.Context, docID string) error

	// 冲突相关
	PendingOverlays(ctx context.Context, docID string) ([]resolution.Overlay, error)
	Resolve(ctx context.Context, docID, entryID string, choice resolution.Choice, resolvedBy uint64) (resolution.Resolution, bool, error)
	Dismiss(ctx context.Context, docID, entryID string) (bool, error)
	SectionStats(ctx context.Context, docID, sectionID string) (reconcile.WindowStats, error)
	SectionHistory(ctx context.Context, docID, sectionID string) ([]reconcile.HistoryEntry, error)
	// 检测器当前跟踪的所有 section 及其窗口统计
	TrackedSections(ctx context.Context, docID string) ([]reconcile.WindowStats, error)
}

// 快照存储接口
type SnapshotStore interface {
	SaveDocumentSnapshot(ctx context.Context, docID string, rev uint64, content string) error
	// found=false 表示该文档还没有快照
	LoadLatestSnapshot(ctx context.Context, docID string) (content string, rev uint64, found bool, err error)
}

// 冲突解决记录的持久化接口
type ResolutionStore interface {
	SaveResolution(ctx context.Context, docID string, res resolution.Resolution, resolvedBy uint64, revision uint64) error
}

// Listener 由 ws hub 实现，用于广播。
// 在文档锁内调用：实现不能阻塞，也不能回调 Service
type Listener interface {
	OnApplied(docID string, op AppliedOp)
	OnOverlaysChanged(docID string, overlays []resolution.Overlay)
}

type AppliedOp struct {
	OperationId string `json:"operationId"` // 本次操作的唯一ID（用于幂等/追踪）
	Revision    uint64 `json:"revision"`    // 文档版本号
	AuthorId    uint64 `json:"authorId"`
	// 冲突解决产生的操作没有 clientId
	ClientId  string      `json:"clientId,omitempty"`
	ClientSeq uint64      `json:"clientSeq,omitempty"`
	Ops       delta.Delta `json:"ops"`
	AppliedAt time.Time   `json:"appliedAt"`
}

var (
	ErrRevisionConflict      = errors.New("REVISION_CONFLICT")
	ErrDuplicateOrOutOfOrder = errors.New("DUPLICATE_OR_OUT_OF_ORDER")
	ErrDocumentNotFound      = errors.New("DOCUMENT_NOT_FOUND")
	ErrStoreNotInitialized   = errors.New("STORE_NOT_INITIALIZED")
)

const (
	DefaultRingCapacity = 1024
	publishTimeout      = 200 * time.Millisecond
)

type Options struct {
	RingCapacity      int
	WindowMs          int64
	ThresholdRatio    float64
	KeepBothSeparator string
	// 测试注入时钟
	Now func() time.Time
}

type docState struct {
	mu       sync.RWMutex
	revision uint64
	opsRing  []AppliedOp
	// 去重窗口：记录某 clientId 最近的最大 clientSeq
	lastSeqByClient map[string]uint64
	// 文档内容缓冲区
	buf Buffer

	detector *reconcile.Detector
	surface  *resolution.Surface
	versions sectionVersions

	// surface 回调在锁内写入，notify / Resolve 取走
	overlays      []resolution.Overlay
	overlaysDirty bool
	resolved      []resolution.Resolution
}

// 内存实现：持有所有文档的状态
type InMemoryService struct {
	mu   sync.RWMutex
	docs map[string]*docState
	opts Options

	// 依赖注入，实现在 store / collab.KafkaDispatcher 中
	snapshots   SnapshotStore
	resolutions ResolutionStore
	publisher   Publisher

	listenerMu sync.RWMutex
	listener   Listener

	// 首次打开文档时的快照加载
	loads singleflight.Group
}

func NewInMemoryService(snapshots SnapshotStore, resolutions ResolutionStore, publisher Publisher, opts Options) (*InMemoryService, error) {
	if opts.RingCapacity <= 0 {
		opts.RingCapacity = DefaultRingCapacity
	}
	if opts.WindowMs == 0 {
		opts.WindowMs = reconcile.DefaultWindowMs
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	// 先用一个探针校验检测器配置，避免到第一次编辑才报错
	if _, err := reconcile.NewDetector(detectorOptions(opts)...); err != nil {
		return nil, err
	}
	return &InMemoryService{
		docs:        make(map[string]*docState),
		opts:        opts,
		snapshots:   snapshots,
		resolutions: resolutions,
		publisher:   publisher,
	}, nil
}

func detectorOptions(opts Options) []reconcile.Option {
	return []reconcile.Option{
		reconcile.WithWindow(opts.WindowMs),
		reconcile.WithThresholdRatio(opts.ThresholdRatio),
	}
}

func (s *InMemoryService) SetListener(l Listener) {
	s.listenerMu.Lock()
	s.listener = l
	s.listenerMu.Unlock()
}

func (s *InMemoryService) getListener() Listener {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.listener
}

func (s *InMemoryService) lookupDoc(docID string) *docState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[docID]
}

// 获取或创建指定文档的状态；首次打开时尝试从快照恢复。
// 同一文档的并发首次打开合并成一次快照读取
func (s *InMemoryService) getOrCreateDoc(ctx context.Context, docID string) (*docState, error) {
	if ds := s.lookupDoc(docID); ds != nil {
		return ds, nil
	}

	v, err, _ := s.loads.Do(docID, func() (any, error) {
		if ds := s.lookupDoc(docID); ds != nil {
			return ds, nil
		}
		var (
			content string
			rev     uint64
		)
		if s.snapshots != nil {
			c, r, found, err := s.snapshots.LoadLatestSnapshot(ctx, docID)
			if err != nil {
				return nil, fmt.Errorf("load snapshot doc=%s: %w", docID, err)
			}
			if found {
				content, rev = c, r
			}
		}
		ds, err := s.newDocState(content, rev)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.docs[docID] = ds
		s.mu.Unlock()
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*docState), nil
}

func (s *InMemoryService) newDocState(content string, rev uint64) (*docState, error) {
	det, err := reconcile.NewDetector(detectorOptions(s.opts)...)
	if err != nil {
		return nil, err
	}
	ds := &docState{
		revision:        rev,
		lastSeqByClient: make(map[string]uint64),
		opsRing:         make([]AppliedOp, 0, s.opts.RingCapacity),
		buf:             NewPieceTable(content),
		detector:        det,
		versions:        make(sectionVersions),
	}
	ds.surface = resolution.NewSurface(ds.buf, resolution.Options{
		KeepBothSeparator: s.opts.KeepBothSeparator,
		OnResolve: func(r resolution.Resolution) {
			ds.resolved = append(ds.resolved, r)
		},
	})
	ds.surface.Subscribe(func(o []resolution.Overlay) {
		ds.overlays = o
		ds.overlaysDirty = true
	})
	return ds, nil
}

// 保存到环形缓冲（如果达到容量则丢弃最老的一条）
func (ds *docState) pushOp(op AppliedOp) {
	if cap(ds.opsRing) > 0 && len(ds.opsRing) == cap(ds.opsRing) {
		copy(ds.opsRing[0:], ds.opsRing[1:])
		ds.opsRing = ds.opsRing[:len(ds.opsRing)-1]
	}
	ds.opsRing = append(ds.opsRing, op)
}

// notify 在文档锁内调用 listener，保证广播顺序与版本顺序一致
func (s *InMemoryService) notify(ds *docState, docID string, op *AppliedOp) {
	l := s.getListener()
	overlaysChanged := ds.overlaysDirty
	ds.overlaysDirty = false
	if l == nil {
		return
	}
	if op != nil {
		l.OnApplied(docID, *op)
	}
	if overlaysChanged {
		l.OnOverlaysChanged(docID, ds.overlays)
	}
}

// 提交操作：去重 -> 版本校验 -> 应用 -> 重映射待决锚点 -> 冲突检测
func (s *InMemoryService) Submit(ctx context.Context, docID string, authorID uint64, authorName string, baseRevision uint64, clientId string, clientSeq uint64, ops delta.Delta) (AppliedOp, error) {
	ds, err := s.getOrCreateDoc(ctx, docID)
	if err != nil {
		return AppliedOp{}, err
	}
	ds.mu.Lock()

	// 幂等/去重（只允许递增）
	if last := ds.lastSeqByClient[clientId]; clientSeq <= last {
		ds.mu.Unlock()
		return AppliedOp{}, ErrDuplicateOrOutOfOrder
	}
	// 版本校验
	if baseRevision != ds.revision {
		ds.mu.Unlock()
		return AppliedOp{}, ErrRevisionConflict
	}
	if err := ds.buf.Apply(ops); err != nil {
		ds.mu.Unlock()
		return AppliedOp{}, err
	}

	now := s.opts.Now()
	ds.revision++
	appliedOp := AppliedOp{
		OperationId: uuid.NewString(),
		Revision:    ds.revision,
		AuthorId:    authorID,
		ClientId:    clientId,
		ClientSeq:   clientSeq,
		Ops:         ops,
		AppliedAt:   now,
	}
	ds.pushOp(appliedOp)
	ds.lastSeqByClient[clientId] = clientSeq

	// 其他人的编辑会移动待决区间
	ds.surface.Remap(ops)

	events := []Event{DocOpEvent{
		EventType:    EventOpApplied,
		DocID:        docID,
		OperationID:  appliedOp.OperationId,
		Revision:     appliedOp.Revision,
		AuthorID:     authorID,
		ClientID:     clientId,
		ClientSeq:    clientSeq,
		BaseRevision: baseRevision,
		Ops:          ops,
		AppliedAt:    now,
	}}
	if evt, ok := s.detect(ds, docID, authorID, authorName, ops, now); ok {
		events = append(events, evt)
	}

	s.notify(ds, docID, &appliedOp)
	ds.mu.Unlock()

	s.publish(ctx, events...)
	return appliedOp, nil
}

// detect 把一次已应用的编辑转成 SectionEditEvent 喂给检测器；触发时生成待决条目。
// 调用方持有文档写锁
func (s *InMemoryService) detect(ds *docState, docID string, authorID uint64, authorName string, ops delta.Delta, now time.Time) (Event, bool) {
	changed := delta.ChangedChars(ops)
	if changed == 0 {
		return nil, false
	}
	content := ds.buf.String()
	sections := SplitSections(content)
	sec, ok := SectionAt(sections, delta.EditStart(ops))
	if !ok {
		return nil, false
	}

	nowMs := now.UnixMilli()
	author := authorSnapshot{
		authorID:   strconv.FormatUint(authorID, 10),
		authorName: authorName,
		atMs:       nowMs,
		text:       ds.buf.Slice(sec.From, sec.To),
	}
	ds.versions.record(sec.ID, author, nowMs-ds.detector.WindowMs())

	trig, err := ds.detector.RecordEdit(reconcile.SectionEditEvent{
		SectionID:     sec.ID,
		AuthorID:      author.authorID,
		TimestampMs:   nowMs,
		ChangedChars:  changed,
		SectionLength: sec.To - sec.From,
	})
	if err != nil {
		log.Printf("reconcile record edit failed doc=%s section=%s err=%v", docID, sec.ID, err)
		return nil, false
	}
	if trig == nil {
		return nil, false
	}

	raw, ok := entryFromTrigger(uuid.NewString(), trig, sec, author, ds.versions, ds.detector.WindowMs())
	if !ok || !ds.surface.Add(raw) {
		log.Printf("reconcile trigger without usable versions doc=%s section=%s", docID, sec.ID)
		return nil, false
	}
	entry, _ := ds.surface.Entry(raw.ID)
	log.Printf("reconcile triggered doc=%s section=%s entry=%s ratio=%.2f authors=%d",
		docID, sec.ID, raw.ID, trig.Stats.ChangeRatio, trig.Stats.DistinctAuthorCount)
	return ReconcileTriggeredEvent{
		EventType: EventReconcileTriggered,
		DocID:     docID,
		EntryID:   raw.ID,
		Trigger:   *trig,
		Entry:     entry,
		Revision:  ds.revision,
	}, true
}

// Resolve 在文档锁内对待决条目应用选择，替换结果作为新版本进入操作环
func (s *InMemoryService) Resolve(ctx context.Context, docID, entryID string, choice resolution.Choice, resolvedBy uint64) (resolution.Resolution, bool, error) {
	ds := s.lookupDoc(docID)
	if ds == nil {
		return resolution.Resolution{}, false, ErrDocumentNotFound
	}

	ds.mu.Lock()
	res, ok, err := ds.surface.Resolve(entryID, choice)
	if err != nil || !ok {
		ds.mu.Unlock()
		return res, ok, err
	}

	now := s.opts.Now()
	ds.revision++
	appliedOp := AppliedOp{
		OperationId: uuid.NewString(),
		Revision:    ds.revision,
		AuthorId:    resolvedBy,
		Ops:         delta.Replace(res.From, res.To, res.Replacement),
		AppliedAt:   now,
	}
	ds.pushOp(appliedOp)
	// 解决之后该 section 重新开始计数
	ds.detector.ClearSection(res.SectionID)
	ds.versions.clear(res.SectionID)

	resolved := ds.resolved
	ds.resolved = nil
	revision := ds.revision
	s.notify(ds, docID, &appliedOp)
	ds.mu.Unlock()

	// 替换同样是一次操作，操作流里不能缺这个版本
	s.publish(ctx, DocOpEvent{
		EventType:    EventOpApplied,
		DocID:        docID,
		OperationID:  appliedOp.OperationId,
		Revision:     revision,
		AuthorID:     resolvedBy,
		BaseRevision: revision - 1,
		Ops:          appliedOp.Ops,
		AppliedAt:    now,
	})
	for _, r := range resolved {
		s.publish(ctx, ReconcileResolvedEvent{
			EventType:  EventReconcileResolved,
			DocID:      docID,
			Resolution: r,
			ResolvedBy: resolvedBy,
			Revision:   revision,
			ResolvedAt: now,
		})
		s.persistResolution(ctx, docID, r, resolvedBy, revision)
	}
	return res, true, nil
}

// 持久化失败只打日志，不影响已经生效的解决结果
func (s *InMemoryService) persistResolution(ctx context.Context, docID string, r resolution.Resolution, resolvedBy, revision uint64) {
	if s.resolutions == nil {
		return
	}
	if err := s.resolutions.SaveResolution(ctx, docID, r, resolvedBy, revision); err != nil {
		log.Printf("save resolution failed doc=%s entry=%s err=%v", docID, r.ID, err)
	}
}

func (s *InMemoryService) Dismiss(ctx context.Context, docID, entryID string) (bool, error) {
	ds := s.lookupDoc(docID)
	if ds == nil {
		return false, ErrDocumentNotFound
	}
	ds.mu.Lock()
	removed := ds.surface.Remove(entryID)
	s.notify(ds, docID, nil)
	ds.mu.Unlock()
	return removed, nil
}

func (s *InMemoryService) PendingOverlays(ctx context.Context, docID string) ([]resolution.Overlay, error) {
	ds := s.lookupDoc(docID)
	if ds == nil {
		return []resolution.Overlay{}, nil
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.surface.Overlays(), nil
}

// SectionStats 裁剪会修改历史，所以用写锁
func (s *InMemoryService) SectionStats(ctx context.Context, docID, sectionID string) (reconcile.WindowStats, error) {
	ds := s.lookupDoc(docID)
	if ds == nil {
		return reconcile.WindowStats{SectionID: sectionID}, nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.detector.SectionStats(sectionID, s.opts.Now().UnixMilli()), nil
}

func (s *InMemoryService) SectionHistory(ctx context.Context, docID, sectionID string) ([]reconcile.HistoryEntry, error) {
	ds := s.lookupDoc(docID)
	if ds == nil {
		return []reconcile.HistoryEntry{}, nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	history := ds.detector.SectionHistory(sectionID, s.opts.Now().UnixMilli())
	if history == nil {
		history = []reconcile.HistoryEntry{}
	}
	return history, nil
}

func (s *InMemoryService) TrackedSections(ctx context.Context, docID string) ([]reconcile.WindowStats, error) {
	ds := s.lookupDoc(docID)
	if ds == nil {
		return []reconcile.WindowStats{}, nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	nowMs := s.opts.Now().UnixMilli()
	out := []reconcile.WindowStats{}
	for _, id := range ds.detector.Sections() {
		stats := ds.detector.SectionStats(id, nowMs)
		if stats.EditCount == 0 {
			continue
		}
		out = append(out, stats)
	}
	return out, nil
}

func (s *InMemoryService) LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error) {
	ds, err := s.getOrCreateDoc(ctx, docID)
	if err != nil {
		return "", 0, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.buf.String(), ds.revision, nil
}

// 返回当前文档版本
func (s *InMemoryService) CurrentRevision(ctx context.Context, docID string) (uint64, error) {
	ds := s.lookupDoc(docID)
	if ds == nil {
		return 0, nil
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.revision, nil
}

// 返回 fromRevision 之后的已应用操作
func (s *InMemoryService) OpsSince(ctx context.Context, docID string, fromRevision uint64, limit int) ([]AppliedOp, error) {
	ds := s.lookupDoc(docID)
	if ds == nil {
		return nil, nil
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	var out []AppliedOp
	for _, op := range ds.opsRing {
		if op.Revision > fromRevision {
			out = append(out, op)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryService) SaveSnapshot(ctx context.Context, docID string) error {
	if s.snapshots == nil {
		return fmt.Errorf("%w: snapshot store", ErrStoreNotInitialized)
	}
	ds := s.lookupDoc(docID)
	if ds == nil {
		return ErrDocumentNotFound
	}
	ds.mu.RLock()
	content := ds.buf.String()
	rev := ds.revision
	ds.mu.RUnlock()
	return s.snapshots.SaveDocumentSnapshot(ctx, docID, rev, content)
}

// publish 异步投递，不阻塞主流程；队列满超时只打日志
func (s *InMemoryService) publish(ctx context.Context, events ...Event) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, evt := range events {
		if err := s.publisher.Enqueue(ctx, evt); err != nil {
			log.Printf("enqueue event failed type=%s doc=%s err=%v", evt.Type(), evt.Key(), err)
		}
	}
}
