package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Do1K/b2b-point-service/internal/cache"
	"github.com/Do1K/b2b-point-service/internal/provider"
	"github.com/Do1K/b2b-point-service/internal/queue"
	"github.com/Do1K/b2b-point-service/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

func setupConsumerTest(t *testing.T) (*Consumer, *cache.PendingBuffer) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	buffer := cache.NewPendingBuffer(client, cache.NewKeySpace(""))
	return NewConsumer(&provider.Container{PendingBuffer: buffer}), buffer
}

func validIssuancePayload(t *testing.T) []byte {
	t.Helper()
	body, err := queue.NewIssuanceMessage(1, 2, "alice", time.Now().Add(time.Hour)).Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return body
}

func TestHandleCouponIssueAppendsToBuffer(t *testing.T) {
	consumer, buffer := setupConsumerTest(t)
	payload := validIssuancePayload(t)

	if err := consumer.handleCouponIssue(context.Background(), asynq.NewTask(queue.TaskCouponIssue, payload)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	batch, err := buffer.ClaimAll(context.Background())
	if err != nil || batch == nil {
		t.Fatalf("claim failed: %+v err=%v", batch, err)
	}
	if len(batch.Entries) != 1 || batch.Entries[0] != string(payload) {
		t.Fatalf("unexpected buffer content %v", batch.Entries)
	}
}

func TestHandleCouponIssueMalformedSkipsRetry(t *testing.T) {
	consumer, buffer := setupConsumerTest(t)

	err := consumer.handleCouponIssue(context.Background(), asynq.NewTask(queue.TaskCouponIssue, []byte("{oops")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("malformed payload should skip retry, got %v", err)
	}
	if pending, _ := buffer.Pending(context.Background()); pending {
		t.Fatalf("malformed payload must not reach the buffer")
	}
}

func TestHandleCouponIssueWithoutBufferRetries(t *testing.T) {
	consumer := NewConsumer(&provider.Container{})

	err := consumer.handleCouponIssue(context.Background(), asynq.NewTask(queue.TaskCouponIssue, validIssuancePayload(t)))
	if !errors.Is(err, ErrPendingBufferUnavailable) {
		t.Fatalf("missing buffer want unavailable error, got %v", err)
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("missing buffer must be retried, got %v", err)
	}
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []kafka.Message
	drained   chan struct{}
	once      sync.Once
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{messages: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	if len(r.messages) == 0 {
		r.once.Do(func() { close(r.drained) })
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.Message(nil), r.committed...)
}

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	written  []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("broker unavailable")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeBuffer struct {
	err      error
	attempts int32
	appended [][]byte
	mu       sync.Mutex
}

func (b *fakeBuffer) Append(_ context.Context, payload []byte) error {
	atomic.AddInt32(&b.attempts, 1)
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended = append(b.appended, payload)
	return nil
}

func runConsumerUntilDrained(t *testing.T, consumer *KafkaIssueConsumer, reader *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = consumer.Run(ctx)
	}()
	select {
	case <-reader.drained:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer did not drain messages")
	}
	cancel()
	<-done
}

func TestKafkaIssueConsumerRoutesMessages(t *testing.T) {
	good := kafka.Message{Topic: "coupon.issue", Offset: 1, Value: validIssuancePayload(t)}
	bad := kafka.Message{Topic: "coupon.issue", Offset: 2, Value: []byte("{oops")}
	reader := newFakeReader(good, bad)
	writer := &fakeWriter{failures: 1}
	buffer := &fakeBuffer{}
	consumer := NewKafkaIssueConsumer(reader, writer, buffer, 3)
	consumer.backoff = time.Millisecond

	runConsumerUntilDrained(t, consumer, reader)

	if len(buffer.appended) != 1 || string(buffer.appended[0]) != string(good.Value) {
		t.Fatalf("valid message should be buffered, got %d entries", len(buffer.appended))
	}
	if len(writer.written) != 1 {
		t.Fatalf("malformed message should be dead-lettered once, got %d", len(writer.written))
	}
	if got := queue.HeaderValue(writer.written[0], queue.HeaderOriginalOffset); got != "2" {
		t.Fatalf("dead letter original offset want 2 got %s", got)
	}
	if committed := reader.Committed(); len(committed) != 2 {
		t.Fatalf("both messages should be committed, got %d", len(committed))
	}
}

func TestKafkaIssueConsumerDeadLettersAfterRetries(t *testing.T) {
	msg := kafka.Message{Topic: "coupon.issue", Offset: 7, Value: validIssuancePayload(t)}
	reader := newFakeReader(msg)
	writer := &fakeWriter{}
	buffer := &fakeBuffer{err: errors.New("redis down")}
	consumer := NewKafkaIssueConsumer(reader, writer, buffer, 3)
	consumer.backoff = time.Millisecond

	runConsumerUntilDrained(t, consumer, reader)

	if atomic.LoadInt32(&buffer.attempts) != 3 {
		t.Fatalf("append attempts want 3 got %d", buffer.attempts)
	}
	if len(writer.written) != 1 {
		t.Fatalf("message should be dead-lettered, got %d", len(writer.written))
	}
	if got := queue.HeaderValue(writer.written[0], queue.HeaderErrorMessage); got != "redis down" {
		t.Fatalf("dead letter error header want redis down got %q", got)
	}
}

func TestKafkaDeadLetterLoggerCommits(t *testing.T) {
	dl := queue.BuildDeadLetterMessage(kafka.Message{Topic: "coupon.issue", Value: []byte("x")}, errors.New("boom"))
	reader := newFakeReader(dl)
	deadLetters := NewKafkaDeadLetterLogger(reader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = deadLetters.Run(ctx)
	}()
	select {
	case <-reader.drained:
	case <-time.After(5 * time.Second):
		t.Fatalf("dead letter logger did not commit")
	}
	cancel()
	<-done
	if len(reader.Committed()) != 1 {
		t.Fatalf("dead letter should be committed")
	}
}

type blockingReconciler struct {
	calls   int32
	started chan struct{}
	release chan struct{}
}

func (r *blockingReconciler) ReconcileOnce(context.Context) (service.ReconcileReport, error) {
	if atomic.AddInt32(&r.calls, 1) == 1 {
		close(r.started)
		<-r.release
	}
	return service.ReconcileReport{}, nil
}

func TestReconcileOnceSkipsWhileRunning(t *testing.T) {
	reconciler := &blockingReconciler{started: make(chan struct{}), release: make(chan struct{})}
	svc := &Service{reconciler: reconciler}

	go svc.reconcileOnce(context.Background())
	<-reconciler.started
	if svc.reconcileOnce(context.Background()) {
		t.Fatalf("overlapping round should be skipped")
	}
	close(reconciler.release)

	deadline := time.Now().Add(2 * time.Second)
	for !svc.reconcileOnce(context.Background()) {
		if time.Now().After(deadline) {
			t.Fatalf("round should run after the previous one finished")
		}
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&reconciler.calls) != 2 {
		t.Fatalf("reconcile calls want 2 got %d", reconciler.calls)
	}
}

// lateArrivalReconciler 清空本轮缓冲区，并模拟处理期间新到达一条消息
type lateArrivalReconciler struct {
	buffer *cache.PendingBuffer
	late   []byte
}

func (r *lateArrivalReconciler) ReconcileOnce(ctx context.Context) (service.ReconcileReport, error) {
	batch, err := r.buffer.ClaimAll(ctx)
	if err != nil {
		return service.ReconcileReport{}, err
	}
	if batch != nil {
		_ = batch.Release(ctx)
	}
	return service.ReconcileReport{}, r.buffer.Append(ctx, r.late)
}

func TestReconcileOnceRecordsBacklog(t *testing.T) {
	_, buffer := setupConsumerTest(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := buffer.Append(ctx, validIssuancePayload(t)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	svc := &Service{
		reconciler: &lateArrivalReconciler{buffer: buffer, late: validIssuancePayload(t)},
		backlog:    buffer,
	}

	if !svc.reconcileOnce(ctx) {
		t.Fatalf("round should run")
	}
	depth, ok := svc.recordBacklog(ctx)
	if !ok || depth != 1 {
		t.Fatalf("backlog want 1 got %d ok=%v", depth, ok)
	}

	if _, ok := (&Service{}).recordBacklog(ctx); ok {
		t.Fatalf("service without buffer should not record backlog")
	}
}
