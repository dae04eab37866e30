package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/questwatch/internal/notify/memory"
	"github.com/JakeFAU/questwatch/internal/quest"
)

// TestDispatchIsolatesFailingSink checks that one unreachable sink does not
// block the others.
func TestDispatchIsolatesFailingSink(t *testing.T) {
	t.Parallel()

	first := memory.New("one")
	second := memory.NewFailing("two", func(quest.Quest) error { return errors.New("connection refused") })
	third := memory.New("three")
	d := New([]quest.Notifier{first, second, third}, time.Second, zap.NewNop())

	report := d.Dispatch(context.Background(), []quest.Quest{{ID: "a", Region: "en-US"}})

	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"a"}, first.IDs())
	assert.Empty(t, second.IDs())
	assert.Equal(t, []string{"a"}, third.IDs())

	var deliveryErr *quest.DeliveryError
	require.ErrorAs(t, report.Err, &deliveryErr)
	assert.Equal(t, "two", deliveryErr.Sink)
	assert.Equal(t, "a", deliveryErr.QuestID)
}

func TestDispatchCrossProductInOrder(t *testing.T) {
	t.Parallel()

	a := memory.New("a")
	b := memory.NewFailing("b", func(q quest.Quest) error {
		if q.ID != "2" {
			return errors.New("nope")
		}
		return nil
	})
	d := New([]quest.Notifier{a, b}, 0, nil)
	assert.Equal(t, 2, d.Sinks())

	report := d.Dispatch(context.Background(), []quest.Quest{{ID: "1"}, {ID: "2"}, {ID: "3"}})

	assert.Equal(t, 4, report.Delivered)
	assert.Equal(t, 2, report.Failed)
	assert.Len(t, multierr.Errors(report.Err), 2)
	assert.Equal(t, []string{"1", "2", "3"}, a.IDs())
	assert.Equal(t, []string{"2"}, b.IDs())
}

func TestDispatchWrapsPlainErrors(t *testing.T) {
	t.Parallel()

	d := New([]quest.Notifier{plainFailer{}}, time.Second, zap.NewNop())
	report := d.Dispatch(context.Background(), []quest.Quest{{ID: "z"}})

	var deliveryErr *quest.DeliveryError
	require.ErrorAs(t, report.Err, &deliveryErr)
	assert.Equal(t, "plain", deliveryErr.Sink)
	assert.Equal(t, "z", deliveryErr.QuestID)
}

func TestDispatchAppliesTimeout(t *testing.T) {
	t.Parallel()

	d := New([]quest.Notifier{blockingSink{}}, 20*time.Millisecond, zap.NewNop())
	start := time.Now()
	report := d.Dispatch(context.Background(), []quest.Quest{{ID: "slow"}})

	assert.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatchEmptyBatch(t *testing.T) {
	t.Parallel()

	report := New([]quest.Notifier{memory.New("x")}, time.Second, nil).Dispatch(context.Background(), nil)
	assert.Equal(t, Report{}, report)
}

type plainFailer struct{}

func (plainFailer) Name() string { return "plain" }

func (plainFailer) Send(context.Context, quest.Quest) error { return errors.New("boom") }

type blockingSink struct{}

func (blockingSink) Name() string { return "blocking" }

func (blockingSink) Send(ctx context.Context, _ quest.Quest) error {
	<-ctx.Done()
	return ctx.Err()
}
