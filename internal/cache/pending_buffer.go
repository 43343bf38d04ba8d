package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/Do1K/b2b-point-service/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PendingBuffer 待入库发放请求缓冲区（Redis list）
type PendingBuffer struct {
	client *redis.Client
	keys   KeySpace
}

// ClaimedBatch 被某一轮批处理独占认领的缓冲区内容
type ClaimedBatch struct {
	Key     string
	Entries []string
	client  *redis.Client
}

// NewPendingBuffer 创建缓冲区
func NewPendingBuffer(client *redis.Client, keys KeySpace) *PendingBuffer {
	return &PendingBuffer{client: client, keys: keys}
}

// Append 追加一条已序列化的发放消息
func (b *PendingBuffer) Append(ctx context.Context, payload []byte) error {
	if err := b.client.RPush(ctx, b.keys.IssueRequests(), payload).Err(); err != nil {
		metrics.BufferAppends.WithLabelValues("error").Inc()
		return fmt.Errorf("append pending issue request failed: %w", err)
	}
	metrics.BufferAppends.WithLabelValues("ok").Inc()
	return nil
}

// Pending 缓冲区是否有待处理消息
func (b *PendingBuffer) Pending(ctx context.Context) (bool, error) {
	n, err := b.client.Exists(ctx, b.keys.IssueRequests()).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Len 缓冲区长度
func (b *PendingBuffer) Len(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, b.keys.IssueRequests()).Result()
}

// ClaimAll 将当前缓冲区整体改名到唯一认领键下，之后追加的消息属于下一轮
// 缓冲区为空时返回 nil。调用方必须在处理结束后调用 Release。
func (b *PendingBuffer) ClaimAll(ctx context.Context) (*ClaimedBatch, error) {
	claimKey := b.keys.IssueProcessing(uuid.NewString())
	renamed, err := b.client.RenameNX(ctx, b.keys.IssueRequests(), claimKey).Result()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim pending issue requests failed: %w", err)
	}
	if !renamed {
		return nil, fmt.Errorf("claim key already exists: %s", claimKey)
	}

	batch := &ClaimedBatch{Key: claimKey, client: b.client}
	entries, err := b.client.LRange(ctx, claimKey, 0, -1).Result()
	if err != nil {
		return batch, fmt.Errorf("read claimed batch failed: %w", err)
	}
	batch.Entries = entries
	return batch, nil
}

// Release 删除认领键
func (c *ClaimedBatch) Release(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(context.WithoutCancel(ctx), c.Key).Err()
}

func isNoSuchKey(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such key")
}
