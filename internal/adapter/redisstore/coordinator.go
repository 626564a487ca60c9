// Package redisstore 提供基于 Redis 的部署互斥锁与事件通道。
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

const (
	// DefaultLockTTL 是部署锁的兜底过期时间。
	DefaultLockTTL = 15 * time.Minute
	// DefaultPollingTimeout 是心跳过期阈值，超过即判定部署进程失联。
	DefaultPollingTimeout = 90 * time.Second
)

func lockKey(envID string) string       { return fmt.Sprintf("env:%s:deploy:lock", envID) }
func deploymentKey(envID string) string { return fmt.Sprintf("env:%s:deploy:deployment", envID) }
func pollingKey(envID string) string {
	return fmt.Sprintf("env:%s:deploy:latest_polling_time", envID)
}

// Coordinator 实现环境级部署互斥。
// 锁以 NX+PX 设置；心跳超时的锁被视为失联并自动释放。
type Coordinator struct {
	client         redis.UniversalClient
	lockTTL        time.Duration
	pollingTimeout time.Duration
}

var _ port.Coordinator = (*Coordinator)(nil)

func NewCoordinator(client redis.UniversalClient, lockTTL, pollingTimeout time.Duration) *Coordinator {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if pollingTimeout <= 0 {
		pollingTimeout = DefaultPollingTimeout
	}
	return &Coordinator{client: client, lockTTL: lockTTL, pollingTimeout: pollingTimeout}
}

func (c *Coordinator) Acquire(ctx context.Context, environmentID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, lockKey(environmentID), "1", c.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire deploy lock: %w", err)
	}
	return ok, nil
}

func (c *Coordinator) SetDeployment(ctx context.Context, environmentID, deploymentID string) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, deploymentKey(environmentID), deploymentID, c.lockTTL)
	pipe.Set(ctx, pollingKey(environmentID), strconv.FormatInt(time.Now().Unix(), 10), c.lockTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set current deployment: %w", err)
	}
	return nil
}

// GetCurrent 返回当前部署 id。心跳超过 pollingTimeout 时判定部署进程
// 已失联，自动释放锁并返回空。
func (c *Coordinator) GetCurrent(ctx context.Context, environmentID string) (string, error) {
	deploymentID, err := c.client.Get(ctx, deploymentKey(environmentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	raw, err := c.client.Get(ctx, pollingKey(environmentID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	lastPolled, _ := strconv.ParseInt(raw, 10, 64)
	if time.Since(time.Unix(lastPolled, 0)) > c.pollingTimeout {
		slog.Warn("deploy heartbeat stale, auto releasing lock",
			"environment_id", environmentID, "deployment_id", deploymentID)
		if err := c.Release(ctx, environmentID, ""); err != nil {
			return "", err
		}
		return "", nil
	}
	return deploymentID, nil
}

// Release 释放锁并清空部署状态。expected 非空时在事务内校验当前部署
// 匹配，不匹配返回 ErrStaleDeployment 且不改动任何键。
func (c *Coordinator) Release(ctx context.Context, environmentID, expected string) error {
	if expected == "" {
		return c.client.Del(ctx,
			lockKey(environmentID), deploymentKey(environmentID), pollingKey(environmentID)).Err()
	}

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, deploymentKey(environmentID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != expected {
			return fmt.Errorf("%w: current deployment is %q, expected %q",
				domain.ErrStaleDeployment, current, expected)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, lockKey(environmentID), deploymentKey(environmentID), pollingKey(environmentID))
			return nil
		})
		return err
	}
	return c.client.Watch(ctx, txn, deploymentKey(environmentID))
}

func (c *Coordinator) UpdatePollingTime(ctx context.Context, environmentID string) error {
	return c.client.Set(ctx, pollingKey(environmentID),
		strconv.FormatInt(time.Now().Unix(), 10), c.lockTTL).Err()
}
