package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/expiry-discount/internal/events"
	"github.com/noah-isme/expiry-discount/internal/notify"
	"github.com/noah-isme/expiry-discount/internal/resilience"
)

func runCompleted() events.Event {
	return events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicRunCompleted,
		AggregateID: "run-1",
		Payload:     json.RawMessage(`{"run_id":"run-1","discounted":3}`),
		OccurredAt:  time.Now().UTC(),
	}
}

func TestDeliverSignsPayload(t *testing.T) {
	type recorded struct {
		req  *http.Request
		body []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{req: r, body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	d := &notify.Dispatcher{
		Endpoints: []notify.Endpoint{{URL: srv.URL, Secret: "s3cret"}},
		Client:    srv.Client(),
	}
	ev := runCompleted()
	require.NoError(t, d.Deliver(context.Background(), notify.Delivery{EndpointURL: srv.URL, Event: ev}))

	rec := <-received
	require.Equal(t, "application/json", rec.req.Header.Get("Content-Type"))
	require.Equal(t, ev.ID.String(), rec.req.Header.Get("X-Event-ID"))
	require.Equal(t, events.TopicRunCompleted, rec.req.Header.Get("X-Event-Topic"))
	ts, err := strconv.ParseInt(rec.req.Header.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature("s3cret", ts, ev.ID.String(), rec.body), rec.req.Header.Get("X-Signature"))

	var decoded events.Event
	require.NoError(t, json.Unmarshal(rec.body, &decoded))
	require.Equal(t, "run-1", decoded.AggregateID)
}

func TestDeliverClassifiesStatus(t *testing.T) {
	status := atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)
	d := &notify.Dispatcher{Endpoints: []notify.Endpoint{{URL: srv.URL}}, Client: srv.Client()}
	delivery := notify.Delivery{EndpointURL: srv.URL, Event: runCompleted()}

	status.Store(http.StatusBadRequest)
	require.ErrorIs(t, d.Deliver(context.Background(), delivery), notify.ErrRejected)

	status.Store(http.StatusBadGateway)
	err := d.Deliver(context.Background(), delivery)
	require.Error(t, err)
	require.False(t, errors.Is(err, notify.ErrRejected))

	err = d.Deliver(context.Background(), notify.Delivery{EndpointURL: "https://gone.example", Event: runCompleted()})
	require.ErrorIs(t, err, notify.ErrRejected)
}

func TestNotifyRetriesInBackgroundAndFiltersTopics(t *testing.T) {
	calls := atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := &notify.Dispatcher{
		Endpoints: []notify.Endpoint{{URL: srv.URL, Topics: []string{events.TopicRunCompleted}}},
		Client:    srv.Client(),
		Attempts:  3,
		Backoff:   time.Millisecond,
	}
	ignored := runCompleted()
	ignored.Topic = events.TopicBatchCreated
	require.NoError(t, d.Notify(context.Background(), ignored))
	require.NoError(t, d.Notify(context.Background(), runCompleted()))
	d.Wait()
	require.Equal(t, int32(2), calls.Load())
}

func TestDeliverSuppressesReplays(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	calls := atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := &notify.Dispatcher{
		Endpoints: []notify.Endpoint{{URL: srv.URL}},
		Client:    srv.Client(),
		Replay:    notify.RedisReplayProtector{Client: rdb},
		ReplayTTL: time.Minute,
	}
	delivery := notify.Delivery{EndpointURL: srv.URL, Event: runCompleted()}
	require.NoError(t, d.Deliver(context.Background(), delivery))
	require.NoError(t, d.Deliver(context.Background(), delivery))
	require.Equal(t, int32(1), calls.Load())
}

func TestDeliverStopsWhenBreakerOpens(t *testing.T) {
	calls := atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	d := &notify.Dispatcher{
		Endpoints: []notify.Endpoint{{URL: srv.URL}},
		Client:    srv.Client(),
		Breaker:   resilience.NewBreaker(1, 0.5, time.Hour),
	}
	delivery := notify.Delivery{EndpointURL: srv.URL, Event: runCompleted()}
	require.Error(t, d.Deliver(context.Background(), delivery))
	require.ErrorIs(t, d.Deliver(context.Background(), delivery), resilience.ErrOpenCircuit)
	require.Equal(t, int32(1), calls.Load())
}

type fakeQueue struct {
	tasks []*asynq.Task
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: strconv.Itoa(len(q.tasks))}, nil
}

func TestNotifyEnqueuesAndTaskHandlerDelivers(t *testing.T) {
	calls := atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	queue := &fakeQueue{}
	d := &notify.Dispatcher{
		Endpoints: []notify.Endpoint{{URL: srv.URL}},
		Client:    srv.Client(),
		Queue:     queue,
		Attempts:  3,
	}
	require.NoError(t, d.Notify(context.Background(), runCompleted()))
	require.Len(t, queue.tasks, 1)
	require.Equal(t, notify.TaskDeliverWebhook, queue.tasks[0].Type())
	require.Zero(t, calls.Load())

	require.NoError(t, d.TaskHandler()(context.Background(), queue.tasks[0]))
	require.Equal(t, int32(1), calls.Load())

	err := d.TaskHandler()(context.Background(), asynq.NewTask(notify.TaskDeliverWebhook, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestParseEndpoints(t *testing.T) {
	eps, err := notify.ParseEndpoints([]string{"https://hooks.example/a", " ", "http://localhost:9000/b"}, "k", nil)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	require.True(t, eps[0].Accepts("anything"))

	_, err = notify.ParseEndpoints([]string{"http://remote.example/x"}, "k", nil)
	require.Error(t, err)
	_, err = notify.ParseEndpoints([]string{"ftp://hooks.example"}, "k", nil)
	require.Error(t, err)
}
