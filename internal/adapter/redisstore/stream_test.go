package redisstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/TencentBlueKing/blueking-paas-sub003/internal/domain"
)

func collectEvents(t *testing.T, ch <-chan domain.StreamEvent, n int) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	deadline := time.After(3 * time.Second)
	for len(events) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("等待事件超时，已收到 %d/%d：%+v", len(events), n, events)
		}
	}
	return events
}

func TestEventStreamSubscribeStartsWithPing(t *testing.T) {
	stream := NewEventStream(newTestRedis(t))
	ch, cancel, err := stream.Subscribe(context.Background(), "deploy-1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	events := collectEvents(t, ch, 1)
	if events[0].Event != domain.EventPing {
		t.Errorf("首条事件 = %q, want ping", events[0].Event)
	}
}

func TestEventStreamPublishReachesSubscriber(t *testing.T) {
	stream := NewEventStream(newTestRedis(t))
	ctx := context.Background()

	ch, cancel, err := stream.Subscribe(ctx, "deploy-1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if err := stream.Publish(ctx, "deploy-1", domain.NewTitleEvent("正在构建")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := stream.Publish(ctx, "deploy-1", domain.NewMessageEvent("step 1 done", "STDOUT")); err != nil {
		t.Fatal(err)
	}

	events := collectEvents(t, ch, 3)
	if events[1].Event != domain.EventTitle || events[2].Event != domain.EventMessage {
		t.Errorf("events = %+v", events)
	}
	if events[1].ID >= events[2].ID {
		t.Errorf("事件 id 应单调递增：%d, %d", events[1].ID, events[2].ID)
	}
}

func TestEventStreamReplaysHistory(t *testing.T) {
	stream := NewEventStream(newTestRedis(t))
	ctx := context.Background()

	// 先发布后订阅：历史事件应补读。
	if err := stream.Publish(ctx, "deploy-1", domain.NewTitleEvent("准备中")); err != nil {
		t.Fatal(err)
	}
	if err := stream.Publish(ctx, "deploy-1", domain.NewTitleEvent("构建中")); err != nil {
		t.Fatal(err)
	}

	ch, cancel, err := stream.Subscribe(ctx, "deploy-1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	events := collectEvents(t, ch, 3)
	if events[0].Event != domain.EventPing {
		t.Fatalf("events = %+v", events)
	}
	if events[1].ID != 1 || events[2].ID != 2 {
		t.Errorf("历史事件 id = %d, %d", events[1].ID, events[2].ID)
	}
}

func TestEventStreamEOFClosesChannel(t *testing.T) {
	stream := NewEventStream(newTestRedis(t))
	ctx := context.Background()

	ch, cancel, err := stream.Subscribe(ctx, "deploy-1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if err := stream.CloseStream(ctx, "deploy-1"); err != nil {
		t.Fatalf("CloseStream: %v", err)
	}

	var sawEOF, closed bool
	deadline := time.After(3 * time.Second)
	for !closed {
		select {
		case ev, ok := <-ch:
			if !ok {
				closed = true
				break
			}
			if ev.Event == domain.EventEOF {
				sawEOF = true
			}
		case <-deadline:
			t.Fatal("EOF 后通道未关闭")
		}
	}
	if !sawEOF {
		t.Error("订阅者应收到 EOF 事件")
	}
}

func TestEventStreamIndependentDeployments(t *testing.T) {
	stream := NewEventStream(newTestRedis(t))
	ctx := context.Background()

	ch, cancel, err := stream.Subscribe(ctx, "deploy-a")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if err := stream.Publish(ctx, "deploy-b", domain.NewTitleEvent("别的部署")); err != nil {
		t.Fatal(err)
	}
	if err := stream.Publish(ctx, "deploy-a", domain.NewTitleEvent("自己的部署")); err != nil {
		t.Fatal(err)
	}

	events := collectEvents(t, ch, 2)
	if events[1].Event != domain.EventTitle {
		t.Fatalf("events = %+v", events)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(events[1].Data), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["title"] != "自己的部署" {
		t.Errorf("收到了其它部署的事件：%v", payload)
	}
}
