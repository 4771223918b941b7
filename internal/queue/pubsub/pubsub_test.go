package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/queue"
)

var testConfig = Config{
	ProjectID:    "harvester-test",
	Topic:        "product_queue",
	Subscription: "product_queue-consumer",
}

func newTestClient(t *testing.T) *pubsub.Client {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := NewClient(ctx, testConfig, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, EnsureTopic(ctx, client, testConfig))
	require.NoError(t, EnsureSubscription(ctx, client, testConfig))
	return client
}

func TestConfig(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "projects/harvester-test/topics/product_queue", testConfig.TopicName())
	assert.Equal(t, "projects/harvester-test/subscriptions/product_queue-consumer", testConfig.SubscriptionName())
	assert.Equal(t, "projects/other/topics/t", Config{ProjectID: "p", Topic: "projects/other/topics/t"}.TopicName())

	require.Error(t, Config{Topic: "t"}.Validate())
	require.Error(t, Config{ProjectID: "p"}.Validate())
}

func TestEnsureIsIdempotent(t *testing.T) {
	t.Parallel()
	client := newTestClient(t)

	require.NoError(t, EnsureTopic(context.Background(), client, testConfig))
	require.NoError(t, EnsureSubscription(context.Background(), client, testConfig))
	require.Error(t, EnsureSubscription(context.Background(), client, Config{ProjectID: "p", Topic: "t"}))
}

func TestPublishAndReceive(t *testing.T) {
	t.Parallel()
	client := newTestClient(t)
	ctx := context.Background()

	pub := NewPublisher(client, testConfig, zap.NewNop())
	defer func() { _ = pub.Close() }()

	id, err := pub.Publish(ctx, crawler.Record{ID: 55, Name: "Mesin Cuci", Price: "Rp1.999.000"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sub := NewSubscriber(client, testConfig, 2, zap.NewNop())
	recvCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var got crawler.Record
	var attrs map[string]string
	err = sub.Receive(recvCtx, func(_ context.Context, d *queue.Delivery) {
		record, decodeErr := queue.Decode(d.Data)
		assert.NoError(t, decodeErr)
		got = record
		attrs = d.Attributes
		d.Ack()
		cancel()
	})
	require.NoError(t, err)
	assert.Equal(t, int64(55), got.ID)
	assert.Equal(t, "Mesin Cuci", got.Name)
	assert.Equal(t, "55", attrs[queue.AttrRecordID])
}

func TestTraceContextTravelsWithMessage(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	client := newTestClient(t)

	traceID := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	spanID := trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	pub := NewPublisher(client, testConfig, zap.NewNop())
	defer func() { _ = pub.Close() }()
	_, err := pub.Publish(ctx, crawler.Record{ID: 55})
	require.NoError(t, err)

	sub := NewSubscriber(client, testConfig, 1, zap.NewNop())
	recvCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		header   string
		received trace.SpanContext
	)
	err = sub.Receive(recvCtx, func(ctx context.Context, d *queue.Delivery) {
		header = d.Attributes["traceparent"]
		received = trace.SpanContextFromContext(ctx)
		d.Ack()
		cancel()
	})
	require.NoError(t, err)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", header)
	assert.Equal(t, traceID, received.TraceID())
	assert.Equal(t, spanID, received.SpanID())
	assert.True(t, received.IsRemote())
}

func TestNackRedeliversWithIncreasingAttempt(t *testing.T) {
	t.Parallel()
	client := newTestClient(t)
	ctx := context.Background()

	pub := NewPublisher(client, testConfig, zap.NewNop())
	defer func() { _ = pub.Close() }()
	_, err := pub.Publish(ctx, crawler.Record{ID: 7})
	require.NoError(t, err)

	sub := NewSubscriber(client, testConfig, 1, zap.NewNop())
	recvCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	var attempts []int
	err = sub.Receive(recvCtx, func(_ context.Context, d *queue.Delivery) {
		mu.Lock()
		attempts = append(attempts, d.Attempt)
		n := len(attempts)
		mu.Unlock()
		if n == 1 {
			d.Nack()
			return
		}
		d.Ack()
		cancel()
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestCheckSubscription(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	require.NoError(t, CheckSubscription(context.Background(), client, testConfig))

	missing := testConfig
	missing.Subscription = "nobody-listens"
	require.ErrorContains(t, CheckSubscription(context.Background(), client, missing), "get subscription")
}
