package cache

import (
	"fmt"
	"strings"
)

// KeySpace 拼接发放链路使用的 Redis 键
// 同一模板的键使用 {id} 作为 hash tag，保证集群模式下落在同一个槽位。
type KeySpace struct {
	prefix string
}

// NewKeySpace 创建键空间，prefix 为空时不加前缀
func NewKeySpace(prefix string) KeySpace {
	return KeySpace{prefix: strings.Trim(strings.TrimSpace(prefix), ":")}
}

// Template 模板快照键 template:{id}
func (k KeySpace) Template(templateID uint) string {
	return k.build(fmt.Sprintf("template:{%d}", templateID))
}

// TemplateCount 模板发放计数键 template:{id}:count
func (k KeySpace) TemplateCount(templateID uint) string {
	return k.build(fmt.Sprintf("template:{%d}:count", templateID))
}

// TemplateUsers 模板已领取用户集合键 template:{id}:users
func (k KeySpace) TemplateUsers(templateID uint) string {
	return k.build(fmt.Sprintf("template:{%d}:users", templateID))
}

// TemplateLock 模板回源锁键 lock:template:{id}
func (k KeySpace) TemplateLock(templateID uint) string {
	return k.build(fmt.Sprintf("lock:template:{%d}", templateID))
}

// IssueRequests 待处理发放缓冲区键
func (k KeySpace) IssueRequests() string {
	return k.build("issue:requests")
}

// IssueProcessing 批处理认领键 issue:requests:processing:{claimID}
func (k KeySpace) IssueProcessing(claimID string) string {
	return k.build("issue:requests:processing:" + claimID)
}

// RateLimit 限流键
func (k KeySpace) RateLimit(scope string) string {
	return k.build("rate:" + scope)
}

func (k KeySpace) build(key string) string {
	if k.prefix == "" {
		return key
	}
	return k.prefix + ":" + key
}
