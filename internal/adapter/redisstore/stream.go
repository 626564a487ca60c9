package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
	"github.com/TencentBlueKing/blueking-paas-sub003/internal/port"
)

// 事件在 Redis 里保留的时长，部署结束后供断线重连补读。
const eventRetention = 2 * time.Hour

func channelKey(deploymentID string) string { return fmt.Sprintf("deploy:%s:events", deploymentID) }
func historyKey(deploymentID string) string { return fmt.Sprintf("deploy:%s:history", deploymentID) }

// EventStream 以 Redis pub/sub 广播部署事件，
// 同时把事件追加到 list 供订阅者补读历史。
type EventStream struct {
	client redis.UniversalClient
}

var _ port.EventStream = (*EventStream)(nil)

func NewEventStream(client redis.UniversalClient) *EventStream {
	return &EventStream{client: client}
}

func (s *EventStream) Publish(ctx context.Context, deploymentID string, event domain.StreamEvent) error {
	// 事件 id 取自 list 长度，保证单部署内单调递增。
	length, err := s.client.RPush(ctx, historyKey(deploymentID), "").Result()
	if err != nil {
		return fmt.Errorf("allocate event id: %w", err)
	}
	event.ID = length

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.LSet(ctx, historyKey(deploymentID), length-1, payload)
	pipe.Expire(ctx, historyKey(deploymentID), eventRetention)
	pipe.Publish(ctx, channelKey(deploymentID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe 返回事件通道与取消函数。通道先收到一条 ping（供 SSE 冲掉
// 响应头），随后是 list 里的历史事件，再接实时 pub/sub 事件。
// 收到 EOF 事件后通道关闭。
func (s *EventStream) Subscribe(ctx context.Context, deploymentID string) (<-chan domain.StreamEvent, func(), error) {
	sub := s.client.Subscribe(ctx, channelKey(deploymentID))
	// 确认订阅建立后再读历史，避免丢事件。
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe deploy events: %w", err)
	}

	history, err := s.client.LRange(ctx, historyKey(deploymentID), 0, -1).Result()
	if err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan domain.StreamEvent, 64)
	done := make(chan struct{})
	cancel := func() {
		select {
		case <-done:
		default:
			close(done)
		}
		_ = sub.Close()
	}

	go func() {
		defer close(out)

		if !sendEvent(out, done, domain.StreamEvent{Event: domain.EventPing}) {
			return
		}

		lastID := int64(0)
		for _, raw := range history {
			event, ok := decodeEvent([]byte(raw))
			if !ok {
				continue
			}
			lastID = event.ID
			if !sendEvent(out, done, event) {
				return
			}
			if event.Event == domain.EventEOF {
				return
			}
		}

		for {
			select {
			case <-done:
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				event, decoded := decodeEvent([]byte(msg.Payload))
				if !decoded || event.ID <= lastID {
					continue
				}
				if !sendEvent(out, done, event) {
					return
				}
				if event.Event == domain.EventEOF {
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

// CloseStream 发布终止 EOF，所有订阅者随之收尾。
func (s *EventStream) CloseStream(ctx context.Context, deploymentID string) error {
	return s.Publish(ctx, deploymentID, domain.StreamEvent{Event: domain.EventEOF})
}

func sendEvent(out chan<- domain.StreamEvent, done <-chan struct{}, event domain.StreamEvent) bool {
	select {
	case out <- event:
		return true
	case <-done:
		return false
	}
}

func decodeEvent(raw []byte) (domain.StreamEvent, bool) {
	if len(raw) == 0 {
		return domain.StreamEvent{}, false
	}
	var event domain.StreamEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		slog.Warn("dropping malformed deploy event", "error", err)
		return domain.StreamEvent{}, false
	}
	return event, true
}
