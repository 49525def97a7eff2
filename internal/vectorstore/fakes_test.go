package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// memTransport is an in-memory Transport with call counting and failure
// injection.
type memTransport struct {
	name string

	mu   sync.Mutex
	data map[string]map[string]Record
	err  error // returned by every call when set

	queries atomic.Int32
	upserts atomic.Int32
	deletes atomic.Int32
	closed  atomic.Int32

	lastQuery QueryParams
}

func newMemTransport(name string) *memTransport {
	return &memTransport{name: name, data: map[string]map[string]Record{}}
}

func (m *memTransport) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *memTransport) calls() int {
	return int(m.queries.Load() + m.upserts.Load() + m.deletes.Load())
}

func (m *memTransport) Name() string { return m.name }

func (m *memTransport) Query(ctx context.Context, p QueryParams) ([]Match, error) {
	m.queries.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = p
	if m.err != nil {
		return nil, m.err
	}
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Transport: m.name, Op: "query", Err: err}
	}

	var out []Match
	for _, r := range m.data[p.Namespace] {
		if !p.Filter.Matches(r.Metadata) {
			continue
		}
		out = append(out, Match{ID: r.ID, Score: cosine(p.Vector, r.Values), Metadata: copyMeta(r.Metadata)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > p.TopK {
		out = out[:p.TopK]
	}
	return out, nil
}

func (m *memTransport) Upsert(_ context.Context, ns string, records []Record) (int, error) {
	m.upserts.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.data[ns] == nil {
		m.data[ns] = map[string]Record{}
	}
	for _, r := range records {
		r.Metadata = copyMeta(r.Metadata)
		m.data[ns][r.ID] = r
	}
	return len(records), nil
}

func (m *memTransport) Delete(_ context.Context, ns string, ids []string) error {
	m.deletes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, id := range ids {
		if _, ok := m.data[ns][id]; !ok {
			return &NotFoundError{ID: id, Namespace: ns}
		}
	}
	for _, id := range ids {
		delete(m.data[ns], id)
	}
	return nil
}

func (m *memTransport) Health(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *memTransport) Close() error {
	m.closed.Add(1)
	return nil
}

func copyMeta(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// countingEmbedder returns a one-hot-ish vector derived from the text length.
type countingEmbedder struct {
	dim   int
	calls atomic.Int32
	err   error
}

func (e *countingEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	v[len(text)%e.dim] = 1
	v[0] += 0.5
	return v
}

func (e *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *countingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}
