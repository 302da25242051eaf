package publisher

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zecsync/warpcore/internal/broker"
	"github.com/zecsync/warpcore/internal/store"
	"github.com/zecsync/warpcore/internal/store/rocksdb"
)

type fakeBroker struct {
	msgs []published
}

type published struct {
	key   string
	value []byte
}

func (b *fakeBroker) Publish(_ context.Context, key string, value []byte) error {
	b.msgs = append(b.msgs, published{key: key, value: append([]byte{}, value...)})
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func TestPublisherPublishesAndAdvancesCursor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := rocksdb.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	require.NoError(t, st.Migrate(ctx))

	payload := json.RawMessage(`{"height":100,"hash":"deadbeef"}`)
	require.NoError(t, st.InsertEvent(ctx, store.Event{Kind: "checkpoint", Height: 100, Payload: payload}))

	br := &fakeBroker{}
	p, err := New(st, br, Config{PollInterval: 10 * time.Millisecond, BatchSize: 100})
	require.NoError(t, err)

	require.NoError(t, p.publishOnce(ctx))
	require.Len(t, br.msgs, 1)
	require.Equal(t, "100", br.msgs[0].key)

	var env broker.Envelope
	require.NoError(t, json.Unmarshal(br.msgs[0].value, &env))
	require.Equal(t, "checkpoint", env.Kind)
	require.EqualValues(t, 100, env.Height)
	require.JSONEq(t, string(payload), string(env.Payload))

	cursor, err := st.EventPublishCursor(ctx)
	require.NoError(t, err)
	require.Greater(t, cursor, int64(0))

	require.NoError(t, p.publishOnce(ctx))
	require.Len(t, br.msgs, 1, "no additional events, nothing new to publish")
}

func TestPublisherFansOutReorgEvent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := rocksdb.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	require.NoError(t, st.Migrate(ctx))

	payload := json.RawMessage(`{"common_height":50}`)
	require.NoError(t, st.InsertEvent(ctx, store.Event{Kind: "reorg", Height: 50, Payload: payload}))

	br := &fakeBroker{}
	p, err := New(st, br, Config{})
	require.NoError(t, err)

	require.NoError(t, p.publishOnce(ctx))
	require.Len(t, br.msgs, 1)
	require.Equal(t, "reorg", br.msgs[0].key)
}
