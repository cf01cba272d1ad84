package events_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"parley/internal/platform/metrics"
	"parley/internal/users/events"
	"parley/internal/users/events/mocks"
	"parley/internal/users/models"
	id "parley/pkg/domain"
	"parley/pkg/platform/circuit"
)

func testEnvelope(t *testing.T) events.Envelope {
	t.Helper()
	u, err := models.NewUser(id.NewUserID(), "e@example.com", "eve", nil, "hash", time.Now())
	require.NoError(t, err)
	return events.UserCreated(u, time.Now())
}

func TestNotifier_PublishSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	env := testEnvelope(t)

	publisher.EXPECT().Publish(gomock.Any(), env).Return(nil)

	n := events.NewNotifier(publisher, events.WithMetrics(m))
	n.Notify(context.Background(), env)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("user.created", "published")))
}

func TestNotifier_FailureIsSwallowedAndLogged(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	env := testEnvelope(t)

	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	n := events.NewNotifier(publisher, events.WithMetrics(m), events.WithLogger(logger))
	n.Notify(context.Background(), env)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("user.created", "failed")))
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "broker down")
}

func TestNotifier_TimeoutBoundsPublish(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)

	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ events.Envelope) error {
			<-ctx.Done()
			return ctx.Err()
		})

	n := events.NewNotifier(publisher,
		events.WithTimeout(20*time.Millisecond),
		events.WithLogger(slog.New(slog.DiscardHandler)),
	)

	start := time.Now()
	n.Notify(context.Background(), testEnvelope(t))
	assert.Less(t, time.Since(start), time.Second)
}

func TestNotifier_SurvivesCancelledRequestContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)

	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ events.Envelope) error {
			return ctx.Err()
		})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := metrics.New(prometheus.NewRegistry())
	n := events.NewNotifier(publisher, events.WithMetrics(m))
	n.Notify(ctx, testEnvelope(t))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("user.created", "published")))
}

func TestNotifier_BreakerSkipsPublisherWhenOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	breaker := circuit.New("events", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))

	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("down")).Times(2)

	n := events.NewNotifier(publisher,
		events.WithBreaker(breaker),
		events.WithMetrics(m),
		events.WithLogger(slog.New(slog.DiscardHandler)),
	)
	for i := 0; i < 4; i++ {
		n.Notify(context.Background(), testEnvelope(t))
	}

	assert.True(t, breaker.IsOpen())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("user.created", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerOpen.WithLabelValues("events")))
}

func TestNotifier_NilPublisherDropsEvents(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	n := events.NewNotifier(nil, events.WithMetrics(m))

	n.Notify(context.Background(), testEnvelope(t))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("user.created", "disabled")))
}
