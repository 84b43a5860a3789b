package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/relayex/internal/ledger"
)

// fakeWriter implements the same methods as *kafka.Writer
type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, m ...kafka.Message) error {
	f.msgs = append(f.msgs, m...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

type ping struct {
	N int `json:"n"`
}

func (ping) EventName() string { return "Ping" }

var contract = common.HexToAddress("0x00000000000000000000000000000000000c0de0")

func receipt(seq uint64, n ...int) *ledger.Receipt {
	r := &ledger.Receipt{Seq: seq, Time: time.Unix(1_700_000_000, 0).UTC()}
	for _, v := range n {
		r.Logs = append(r.Logs, ledger.Log{Address: contract, Name: "Ping", Event: ping{N: v}, Time: r.Time})
	}
	return r
}

func TestKafkaSinkPublishesOneMessagePerLog(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, "relayex.events", nil)

	require.NoError(t, sink.Publish(context.Background(), receipt(7, 1, 2)))
	require.Len(t, w.msgs, 2)

	for i, msg := range w.msgs {
		assert.Equal(t, contract.Hex(), string(msg.Key))
		assert.Equal(t, "event", msg.Headers[0].Key)
		assert.Equal(t, "Ping", string(msg.Headers[0].Value))

		var m Message
		require.NoError(t, json.Unmarshal(msg.Value, &m))
		assert.EqualValues(t, 7, m.Seq)
		assert.Equal(t, i, m.Index)
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i+1), string(m.Event))
	}
}

func TestKafkaSinkReportsWriteErrors(t *testing.T) {
	w := &fakeWriter{err: fmt.Errorf("broker down")}
	sink := newKafkaSink(w, "relayex.events", nil)
	assert.Error(t, sink.Publish(context.Background(), receipt(1, 1)))
}

func TestNewKafkaSinkValidatesConfig(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)
	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, nil)
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
}

func TestMemorySinkKeepsNewest(t *testing.T) {
	sink := NewMemorySink(3)
	ctx := context.Background()
	require.NoError(t, sink.Publish(ctx, receipt(1, 1, 2)))
	assert.Len(t, sink.Recent(10, ""), 2)

	require.NoError(t, sink.Publish(ctx, receipt(2, 3, 4)))
	got := sink.Recent(10, "")
	require.Len(t, got, 3)
	assert.JSONEq(t, `{"n":4}`, string(got[0].Event))
	assert.JSONEq(t, `{"n":2}`, string(got[2].Event))

	assert.Len(t, sink.Recent(1, ""), 1)
	assert.Empty(t, sink.Recent(10, "Pong"))
	assert.Nil(t, sink.Recent(0, ""))
}

type failingSink struct{}

func (failingSink) Publish(context.Context, *ledger.Receipt) error { return fmt.Errorf("nope") }

func TestFanoutContinuesPastFailures(t *testing.T) {
	mem := NewMemorySink(4)
	f := NewFanout(nil, failingSink{}, mem)
	assert.Error(t, f.Publish(context.Background(), receipt(1, 1)))
	assert.Len(t, mem.Recent(4, "Ping"), 1)
}

func TestMemorySinkSubscribers(t *testing.T) {
	sink := NewMemorySink(4)
	ch, cancel := sink.Subscribe(1)

	require.NoError(t, sink.Publish(context.Background(), receipt(1, 1, 2)))
	m := <-ch
	assert.JSONEq(t, `{"n":1}`, string(m.Event))
	select {
	case <-ch:
		t.Fatal("second message should have been dropped")
	default:
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, sink.Publish(context.Background(), receipt(2, 3)))
}
