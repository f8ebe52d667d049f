package nats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/timefix/internal/crypto"
	"github.com/rubiojr/timefix/internal/events"
	"github.com/rubiojr/timefix/internal/types"
)

func runServer(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("NATS server failed to start in time")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestEncodeDecode(t *testing.T) {
	e := events.Event{
		Type:      events.Outcomes,
		SessionID: "abc",
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Outcomes: []types.FileOutcome{
			{Path: "/sdcard/DCIM/IMG_20230101_123045.jpg", OriginalTime: 1, FixedTime: 2, Fixed: true, Message: "filename:compact"},
		},
	}
	data, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, e.Outcomes, got.Outcomes)
	assert.True(t, e.Timestamp.Equal(got.Timestamp))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "TIMEFIX.scan.completed", Subject(DefaultSubject, events.Completed))
}

func TestPublishAndListen(t *testing.T) {
	url := runServer(t)

	pub, err := NewPublisher(url, DefaultStream, DefaultSubject)
	require.NoError(t, err)
	defer pub.Close()

	pub.Publish(events.Event{Type: events.Progress, SessionID: "s1", Progress: types.Progress{TotalDiscovered: 20, Scanned: 10, Fixed: 5}})
	pub.Publish(events.Event{Type: events.Completed, SessionID: "s1", Progress: types.Progress{TotalDiscovered: 20, Scanned: 20, Fixed: 9}})
	assert.Equal(t, int64(0), pub.Failures())

	// a second publisher finds the existing stream
	again, err := NewPublisher(url, DefaultStream, DefaultSubject)
	require.NoError(t, err)
	again.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []events.Event
	l := NewListener(url, DefaultStream, DefaultSubject, WithDeliverAll(), WithConsumerName("test"))
	done := make(chan error, 1)
	go func() {
		done <- l.Listen(ctx, func(e events.Event) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, e)
			if len(got) == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("listener did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, events.Progress, got[0].Type)
	assert.Equal(t, events.Completed, got[1].Type)
	assert.Equal(t, int64(9), got[1].Progress.Fixed)
}

func TestEncryptedEvents(t *testing.T) {
	url := runServer(t)

	_, key, err := crypto.GenerateAgeKeyPair()
	require.NoError(t, err)
	m, err := crypto.New(key)
	require.NoError(t, err)

	pub, err := NewPublisher(url, DefaultStream, DefaultSubject, WithEncryption(m))
	require.NoError(t, err)
	defer pub.Close()
	pub.Publish(events.Event{Type: events.Error, SessionID: "s1", Message: "storage root gone"})
	require.Equal(t, int64(0), pub.Failures())

	l := NewListener(url, DefaultStream, DefaultSubject, WithDeliverAll(), WithConsumerName("plain"))
	msg := &nats.Msg{Data: []byte("garbage"), Header: nats.Header{}}
	msg.Header.Set(encryptedHeader, "true")
	_, err = l.decode(msg)
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var got events.Event
	l = NewListener(url, DefaultStream, DefaultSubject, WithDeliverAll(), WithConsumerName("sealed"), WithListenerEncryption(m))
	err = l.Listen(ctx, func(e events.Event) {
		got = e
		cancel()
	})
	require.NoError(t, err)
	assert.Equal(t, events.Error, got.Type)
	assert.Equal(t, "storage root gone", got.Message)
}

func TestPublishFailureIsCounted(t *testing.T) {
	url := runServer(t)

	pub, err := NewPublisher(url, DefaultStream, DefaultSubject)
	require.NoError(t, err)
	pub.Close()

	pub.Publish(events.Event{Type: events.Log, Message: "hello"})
	assert.Equal(t, int64(1), pub.Failures())
}

func TestConnectFailure(t *testing.T) {
	_, err := NewPublisher("nats://127.0.0.1:1", DefaultStream, DefaultSubject)
	assert.Error(t, err)
}
