package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/reconciler/internal/service/reaper"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(envKafkaBrokers, "")
	t.Setenv(envPostgresDSN, "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

type stubSweeper struct {
	cancelled int
	err       error
	now       time.Time
}

func (s *stubSweeper) Sweep(_ context.Context, now time.Time) (int, error) {
	s.now = now
	return s.cancelled, s.err
}

func (s *stubSweeper) Threshold() time.Duration { return 24 * time.Hour }

func TestReapCmd_PrintsResult(t *testing.T) {
	oldSweeper := newSweeper
	defer func() { newSweeper = oldSweeper }()

	stub := &stubSweeper{cancelled: 2}
	var (
		gotDSN  string
		closed  bool
		options int
	)
	newSweeper = func(_ context.Context, dsn string, opts ...reaper.Option) (sweeper, func() error, error) {
		gotDSN = dsn
		options = len(opts)
		return stub, func() error { closed = true; return nil }, nil
	}

	out, err := executeCommand(t, "reap", "--dsn", "postgres://localhost/reconciler", "--at", "2026-03-02T00:00:00Z")
	require.NoError(t, err)

	var result reapResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Cancelled)
	assert.Equal(t, 24, result.ThresholdHours)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), stub.now)
	assert.Equal(t, "postgres://localhost/reconciler", gotDSN)
	assert.Equal(t, 3, options)
	assert.True(t, closed, "store must be closed")
}

func TestReapCmd_Errors(t *testing.T) {
	oldSweeper := newSweeper
	defer func() { newSweeper = oldSweeper }()

	newSweeper = func(context.Context, string, ...reaper.Option) (sweeper, func() error, error) {
		return &stubSweeper{err: domain.ErrStorageUnavailable}, func() error { return nil }, nil
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing dsn", args: []string{"reap"}, wantErr: "postgres dsn is required"},
		{name: "zero threshold", args: []string{"reap", "--dsn", "x", "--threshold-hours", "0"}, wantErr: "threshold-hours must be > 0"},
		{name: "bad time", args: []string{"reap", "--dsn", "x", "--at", "yesterday"}, wantErr: "parse --at"},
		{name: "sweep failure", args: []string{"reap", "--dsn", "x"}, wantErr: "sweep stale orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type stubEventPublisher struct {
	topic  string
	key    string
	event  interface{}
	err    error
	closed bool
}

func (s *stubEventPublisher) PublishEvent(_ context.Context, topic, key string, event interface{}) error {
	s.topic, s.key, s.event = topic, key, event
	return s.err
}

func (s *stubEventPublisher) Close() error {
	s.closed = true
	return nil
}

func TestSubmitCmd_PublishesTaskMessage(t *testing.T) {
	oldPublisher := newEventPublisher
	defer func() { newEventPublisher = oldPublisher }()

	stub := &stubEventPublisher{}
	var gotBrokers []string
	newEventPublisher = func(brokers []string, clientID string) (eventPublisher, error) {
		gotBrokers = brokers
		assert.Equal(t, defaultClientID, clientID)
		return stub, nil
	}

	out, err := executeCommand(t, "submit",
		"--brokers", "kafka-1:9092, kafka-2:9092",
		"--kind", "succeeded",
		"--order-id", "O1",
		"--tx", "tx_1",
		"--amount-minor", "1000",
		"--currency", "USD",
		"--event-id", "evt-1",
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, gotBrokers)
	assert.Equal(t, kafka.TopicPaymentsSucceeded, stub.topic)
	assert.Equal(t, "O1", stub.key)
	assert.True(t, stub.closed)
	assert.Equal(t, "evt-1\n", out)

	msg, ok := stub.event.(kafka.TaskMessage)
	require.True(t, ok, "expected kafka.TaskMessage, got %T", stub.event)
	assert.Equal(t, "succeeded", msg.EventKind)
	assert.Equal(t, "tx_1", msg.TransactionID)
	assert.Equal(t, int64(1000), msg.AmountMinor)
	assert.Equal(t, "USD", msg.Currency)
}

func TestSubmitCmd_FailedKindAndTopicOverride(t *testing.T) {
	oldPublisher := newEventPublisher
	defer func() { newEventPublisher = oldPublisher }()

	stub := &stubEventPublisher{}
	newEventPublisher = func([]string, string) (eventPublisher, error) { return stub, nil }

	_, err := executeCommand(t, "submit", "--brokers", "kafka:9092", "--kind", "FAILED", "--tx", "tx_9")
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicPaymentsFailed, stub.topic)

	msg := stub.event.(kafka.TaskMessage)
	assert.NotEmpty(t, msg.EventID, "event id must be generated")
	assert.Equal(t, msg.EventID, stub.key, "event id is the key when order id is empty")

	_, err = executeCommand(t, "submit", "--brokers", "kafka:9092", "--kind", "refunded", "--topic", "custom.topic")
	require.NoError(t, err)
	assert.Equal(t, "custom.topic", stub.topic)
}

func TestSubmitCmd_Errors(t *testing.T) {
	oldPublisher := newEventPublisher
	defer func() { newEventPublisher = oldPublisher }()

	newEventPublisher = func([]string, string) (eventPublisher, error) {
		return &stubEventPublisher{err: errors.New("broker down")}, nil
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no brokers", args: []string{"submit"}, wantErr: "kafka brokers are required"},
		{name: "unknown kind", args: []string{"submit", "--brokers", "kafka:9092", "--kind", "refunded"}, wantErr: "unknown event kind"},
		{name: "publish failure", args: []string{"submit", "--brokers", "kafka:9092", "--tx", "tx_1"}, wantErr: "broker down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReplayDLQCmd_UsesStubbedDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(consumerLetterValue)}}),
		},
	}
	var gotCfg replayConfig
	newReplayDependencies = func(cfg replayConfig) (offsetClient, partitionConsumerSource, replayProducer, error) {
		gotCfg = cfg
		return client, consumer, nil, nil
	}

	_, err := executeCommand(t, "replay-dlq", "--brokers", "broker:9092", "--limit", "1", "--idle-timeout", "50ms", "--from-newest")
	require.NoError(t, err)

	assert.Equal(t, []string{"broker:9092"}, gotCfg.brokers)
	assert.Equal(t, kafka.TopicDeadLetterQueue, gotCfg.sourceTopic)
	assert.Equal(t, kafka.TopicOrderEvents, gotCfg.targetTopic)
	assert.True(t, gotCfg.fromNewest)
	assert.False(t, gotCfg.execute)
	assert.Equal(t, 50*time.Millisecond, gotCfg.idleTimeout)
	assert.True(t, client.closed)
}

func TestReplayDLQCmd_ValidationErrors(t *testing.T) {
	_, err := executeCommand(t, "replay-dlq")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka brokers are required")

	_, err = executeCommand(t, "replay-dlq", "--brokers", "broker:9092", "--limit", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit must be > 0")
}

func TestRootCmd_BrokersFromEnv(t *testing.T) {
	t.Setenv(envKafkaBrokers, "env-1:9092,env-2:9092")
	opts := &rootOptions{}
	assert.Equal(t, []string{"env-1:9092", "env-2:9092"}, opts.kafkaBrokers())

	opts.brokers = "flag:9092"
	assert.Equal(t, []string{"flag:9092"}, opts.kafkaBrokers())

	t.Setenv(envPostgresDSN, " postgres://env ")
	assert.Equal(t, "postgres://env", opts.postgresDSN())
}

func TestFailExits(t *testing.T) {
	if os.Getenv("RECONCILECTL_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "RECONCILECTL_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
