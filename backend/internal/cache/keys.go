package cache

import "fmt"

// 键语义：
// - roomKey(docID):  文档在线成员（ZSet<userId>，score=expireAt）
// - namesKey(docID): userId -> 显示名（Hash），冲突浮层里展示作者名用
// - docsKey():       有在线成员的文档集合（Set<docID>）
const (
	keyRoomFmt  = "reconcile:presence:room:{docID:%s}"
	keyNamesFmt = "reconcile:presence:names:{docID:%s}"
	keyDocsSet  = "reconcile:presence:docs"
)

func roomKey(docID string) string  { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string { return fmt.Sprintf(keyNamesFmt, docID) }
func docsKey() string              { return keyDocsSet }
