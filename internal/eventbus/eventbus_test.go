package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	billingeventdomain "github.com/smallbiznis/billingcore/internal/billingevent/domain"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/errs"
	"github.com/smallbiznis/billingcore/pkg/db/dbtest"
)

var at = time.Date(2024, 2, 3, 9, 0, 0, 0, time.UTC)

func finalized() Event {
	return NewEvent(TopicInvoiceFinalized, snowflake.ID(7), map[string]any{"invoice_id": "42", "total": 1945}, at)
}

func TestRedisPublisherPublishesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "billingcore.events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	event := finalized()
	require.NoError(t, NewRedisPublisher(client, "billingcore.events").Publish(ctx, event))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, TopicInvoiceFinalized, got.Type)
	assert.Equal(t, snowflake.ID(7), got.TenantID)
	assert.Equal(t, "42", got.Payload["invoice_id"])
	assert.True(t, at.Equal(got.OccurredAt))
}

func TestRedisPublisherFailsWhenServerIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	err := NewRedisPublisher(client, "billingcore.events").Publish(context.Background(), finalized())
	require.Error(t, err)
	assert.Equal(t, errs.KindInternal, errs.KindOf(err))
}

func TestOutboxPublisherDeduplicatesByEventID(t *testing.T) {
	db := dbtest.Open(t, &billingeventdomain.BillingEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	publisher := NewOutboxPublisher(db, node)
	ctx := context.Background()

	event := finalized()
	require.NoError(t, publisher.Publish(ctx, event))
	require.NoError(t, publisher.Publish(ctx, event))
	require.NoError(t, publisher.Publish(ctx, finalized()))

	var rows []billingeventdomain.BillingEvent
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, event.ID, rows[0].DedupeKey)
	assert.Equal(t, TopicInvoiceFinalized, rows[0].EventType)
	assert.Equal(t, snowflake.ID(7), rows[0].TenantID)
	assert.False(t, rows[0].Published)
}

func TestPublishRejectsUntypedEvent(t *testing.T) {
	err := NewLogPublisher(zap.NewNop()).Publish(context.Background(), Event{})
	require.ErrorIs(t, err, ErrMissingType)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestNewSelectsDriver(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := New(Params{Cfg: config.Config{EventBusDriver: DriverRedis, EventBusChannel: "c"}, Log: log, Redis: client})
	assert.IsType(t, &RedisPublisher{}, p)

	p = New(Params{Cfg: config.Config{EventBusDriver: DriverRedis}, Log: log})
	assert.IsType(t, &LogPublisher{}, p)
	assert.Equal(t, 1, logs.FilterMessage("eventbus.redis_unavailable").Len())

	p = New(Params{Cfg: config.Config{EventBusDriver: DriverOutbox}, Log: log})
	assert.IsType(t, &OutboxPublisher{}, p)

	require.NoError(t, New(Params{Cfg: config.Config{}, Log: log}).Publish(context.Background(), finalized()))
	entries := logs.FilterMessage(TopicInvoiceFinalized).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "7", entries[0].ContextMap()["tenant_id"])
}
