package vectorstore

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/iapropria/iapropria/internal/logging"
)

var errDown = &TransportError{Transport: "primary", Op: "query", Err: errors.New("connection refused")}

func seeded(name string) *memTransport {
	m := newMemTransport(name)
	_, _ = m.Upsert(context.Background(), "acme", []Record{
		{ID: "doc1", Values: []float32{1, 0}, Metadata: map[string]any{"category": "invoice"}},
		{ID: "doc2", Values: []float32{0, 1}, Metadata: map[string]any{"category": "receipt"}},
	})
	m.upserts.Store(0)
	return m
}

func TestFallback_PrimarySuccessSkipsSecondary(t *testing.T) {
	primary, secondary := seeded("primary"), seeded("secondary")
	f := NewFallbackTransport(primary, secondary, time.Second, nil)

	got, err := f.Query(context.Background(), QueryParams{Namespace: "acme", TopK: 5, Vector: []float32{1, 0}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Zero(t, secondary.calls())
}

func TestFallback_InvokedExactlyOnce(t *testing.T) {
	primary, secondary := seeded("primary"), seeded("secondary")
	primary.fail(errDown)
	tl := logging.NewTestLogger()
	f := NewFallbackTransport(primary, secondary, time.Second, tl.Logger)

	before := testutil.ToFloat64(FallbackTotal.WithLabelValues("query", "success"))

	params := QueryParams{Namespace: "acme", TopK: 5, Vector: []float32{1, 0}, Filter: Filter{"category": {"invoice"}}}
	got, err := f.Query(context.Background(), params)
	require.NoError(t, err)

	assert.EqualValues(t, 1, primary.queries.Load())
	assert.EqualValues(t, 1, secondary.queries.Load())
	assert.Equal(t, params, secondary.lastQuery, "fallback receives the same request")
	require.Len(t, got, 1)
	assert.Equal(t, "doc1", got[0].ID)

	assert.Equal(t, before+1, testutil.ToFloat64(FallbackTotal.WithLabelValues("query", "success")))
	tl.AssertLogged(t, zapcore.WarnLevel, "primary transport failed, falling back")
}

func TestFallback_SameShapeEitherPath(t *testing.T) {
	params := QueryParams{Namespace: "acme", TopK: 5, Vector: []float32{1, 0}}

	direct, err := NewFallbackTransport(seeded("p"), seeded("s"), time.Second, nil).Query(context.Background(), params)
	require.NoError(t, err)

	broken := seeded("p")
	broken.fail(errDown)
	viaFallback, err := NewFallbackTransport(broken, seeded("s"), time.Second, nil).Query(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, Normalize(direct, 5), Normalize(viaFallback, 5))
}

func TestFallback_BothFail(t *testing.T) {
	primary, secondary := seeded("primary"), seeded("secondary")
	primary.fail(errDown)
	secondary.fail(&TransportError{Transport: "secondary", Op: "query", StatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")})
	f := NewFallbackTransport(primary, secondary, time.Second, nil)

	got, err := f.Query(context.Background(), QueryParams{Namespace: "acme", TopK: 5, Vector: []float32{1, 0}})
	assert.Nil(t, got)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "secondary", te.Transport)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Contains(t, err.Error(), "connection refused", "primary cause is kept")
	assert.Contains(t, err.Error(), "unavailable")
	assert.EqualValues(t, 1, secondary.queries.Load())
}

func TestFallback_NotFoundDoesNotFallBack(t *testing.T) {
	primary, secondary := seeded("primary"), seeded("secondary")
	f := NewFallbackTransport(primary, secondary, time.Second, nil)

	err := f.Delete(context.Background(), "acme", []string{"missing"})
	assert.True(t, IsNotFound(err))
	assert.Zero(t, secondary.deletes.Load())
}

func TestFallback_NotFoundFromSecondary(t *testing.T) {
	primary, secondary := seeded("primary"), seeded("secondary")
	primary.fail(errDown)
	f := NewFallbackTransport(primary, secondary, time.Second, nil)

	err := f.Delete(context.Background(), "acme", []string{"missing"})
	assert.True(t, IsNotFound(err))
}

func TestFallback_ConfigurationErrorDoesNotFallBack(t *testing.T) {
	primary, secondary := seeded("primary"), seeded("secondary")
	primary.fail(&ConfigurationError{Field: "vectorstore.dimension"})
	f := NewFallbackTransport(primary, secondary, time.Second, nil)

	_, err := f.Upsert(context.Background(), "acme", []Record{{ID: "x", Values: []float32{1, 0}}})
	assert.True(t, IsConfigurationError(err))
	assert.Zero(t, secondary.upserts.Load())
}

func TestFallback_CanceledContextDoesNotFallBack(t *testing.T) {
	primary, secondary := seeded("primary"), seeded("secondary")
	primary.fail(errDown)
	f := NewFallbackTransport(primary, secondary, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Query(ctx, QueryParams{Namespace: "acme", TopK: 1, Vector: []float32{1, 0}})
	assert.Error(t, err)
	assert.Zero(t, secondary.queries.Load())
}

func TestFallback_NoSecondary(t *testing.T) {
	primary := seeded("primary")
	primary.fail(errors.New("boom"))
	f := NewFallbackTransport(primary, nil, time.Second, nil)

	assert.Equal(t, "primary", f.Name())
	_, err := f.Query(context.Background(), QueryParams{Namespace: "acme", TopK: 1, Vector: []float32{1, 0}})
	var te *TransportError
	require.ErrorAs(t, err, &te, "untyped errors are wrapped")
	assert.Equal(t, "primary", te.Transport)
}

func TestFallback_UpsertAndDeleteFallBack(t *testing.T) {
	primary, secondary := seeded("primary"), seeded("secondary")
	primary.fail(errDown)
	f := NewFallbackTransport(primary, secondary, time.Second, nil)

	n, err := f.Upsert(context.Background(), "acme", []Record{{ID: "doc3", Values: []float32{1, 1}}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, f.Delete(context.Background(), "acme", []string{"doc3"}))
	assert.EqualValues(t, 1, secondary.upserts.Load())
	assert.EqualValues(t, 1, secondary.deletes.Load())
}

func TestFallback_HealthAndClose(t *testing.T) {
	primary, secondary := seeded("primary"), seeded("secondary")
	f := NewFallbackTransport(primary, secondary, time.Second, nil)
	assert.Equal(t, "primary+secondary", f.Name())

	primary.fail(errDown)
	require.NoError(t, f.Health(context.Background()), "healthy while the fallback is up")

	report := f.HealthReport(context.Background())
	require.Len(t, report, 2)
	assert.False(t, report[0].Healthy)
	assert.Equal(t, "primary", report[0].Role)
	assert.True(t, report[1].Healthy)

	secondary.fail(errDown)
	assert.True(t, IsTransportError(f.Health(context.Background())))

	require.NoError(t, f.Close())
	assert.EqualValues(t, 1, primary.closed.Load())
	assert.EqualValues(t, 1, secondary.closed.Load())
}
