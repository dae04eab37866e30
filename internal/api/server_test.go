package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/questwatch/internal/clock/system"
	"github.com/JakeFAU/questwatch/internal/dedup"
	"github.com/JakeFAU/questwatch/internal/dispatcher"
	"github.com/JakeFAU/questwatch/internal/id/uuid"
	"github.com/JakeFAU/questwatch/internal/notify/memory"
	"github.com/JakeFAU/questwatch/internal/pipeline"
	"github.com/JakeFAU/questwatch/internal/quest"
	memstore "github.com/JakeFAU/questwatch/internal/storage/memory"
)

const testToken = "s3cret"

type fixture struct {
	server *Server
	store  *memstore.SeenStore
	sink   *memory.Sink
}

func newFixture(t *testing.T, filter quest.Filter) fixture {
	t.Helper()
	store := memstore.NewSeenStore()
	sink := memory.New("rec")
	d, err := dedup.New(store, filter, system.Fixed{At: time.Unix(1_757_000_000, 0).UTC()})
	require.NoError(t, err)
	p, err := pipeline.NewProcessor(d, dispatcher.New([]quest.Notifier{sink}, time.Second, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	srv := NewServer(p, uuid.New(), Options{Token: testToken, MaxBodyBytes: 1 << 10}, zap.NewNop())
	return fixture{server: srv, store: store, sink: sink}
}

func postIngest(t *testing.T, h http.Handler, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngestAcceptsAndDedups(t *testing.T) {
	t.Parallel()

	f := newFixture(t, quest.FilterAll)
	body := `{"region":"ko-KR","source":"agent","quests":[{"id":"1","name":"A"},{"id":"2","name":"B"}]}`

	rec := postIngest(t, f.server.Handler(), testToken, body)
	require.Equal(t, http.StatusOK, rec.Code)
	var res quest.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, quest.IngestResult{Accepted: 2, Deduped: 0}, res)
	assert.Equal(t, []string{"1", "2"}, f.sink.IDs())
	assert.Equal(t, "ko-KR", f.sink.Delivered()[0].Region)

	rec = postIngest(t, f.server.Handler(), testToken, body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, quest.IngestResult{Accepted: 0, Deduped: 2}, res)
	assert.Len(t, f.sink.IDs(), 2)
}

func TestIngestFilteredCountAsDeduped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, quest.FilterOrbs)
	body := `{"region":"en-US","quests":[{"id":"1","reward_category":"orbs"},{"id":"2","reward_category":"decor"}]}`

	rec := postIngest(t, f.server.Handler(), testToken, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accepted":1,"deduped":1}`, rec.Body.String())
}

func TestIngestNormalizesRewardCategory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, quest.FilterOrbs)
	body := `{"region":"en-US","quests":[` +
		`{"id":"1","reward_category":"ORBS","tasks":[{"type":"PLAY_ON_DESKTOP","target_seconds":900}]},` +
		`{"id":"2","reward_category":"ingame"},{"id":"3"}]}`

	rec := postIngest(t, f.server.Handler(), testToken, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accepted":1,"deduped":2}`, rec.Body.String())

	delivered := f.sink.Delivered()
	require.Len(t, delivered, 1)
	assert.Equal(t, quest.RewardOrbs, delivered[0].Category)
	assert.Equal(t, []quest.Task{{Type: "PLAY_ON_DESKTOP", TargetSeconds: 900}}, delivered[0].Tasks)
}

func TestIngestRejectsBadToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, quest.FilterAll)
	body := `{"region":"en-US","quests":[{"id":"1"}]}`

	for _, token := range []string{"", "wrong", testToken + "x"} {
		rec := postIngest(t, f.server.Handler(), token, body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, token)
	}

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	req.Header.Set("Authorization", "Basic "+testToken)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	n, err := f.store.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.sink.IDs())
}

func TestIngestEmptyConfiguredTokenRejectsEverything(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, nil, Options{}, nil)
	rec := postIngest(t, srv.Handler(), "", `{"region":"en-US","quests":[]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestMalformedBodies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, quest.FilterAll)
	testCases := []struct {
		name string
		body string
		want string
		code int
	}{
		{"invalid json", `{"region":`, "invalid JSON", http.StatusBadRequest},
		{"missing region", `{"quests":[]}`, "region is required", http.StatusBadRequest},
		{"missing quests", `{"region":"en-US"}`, "quests is required", http.StatusBadRequest},
		{"quest without id", `{"region":"en-US","quests":[{"name":"x"}]}`, "quests[0]", http.StatusBadRequest},
		{"too large", `{"region":"en-US","quests":[{"id":"` + strings.Repeat("x", 2048) + `"}]}`, "", http.StatusRequestEntityTooLarge},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postIngest(t, f.server.Handler(), testToken, tc.body)
			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
	assert.Empty(t, f.sink.IDs())
}

func TestIngestEmptyBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, quest.FilterAll)
	rec := postIngest(t, f.server.Handler(), testToken, `{"region":"en-US","quests":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accepted":0,"deduped":0}`, rec.Body.String())
}

func TestIngestStorageFailureIsReported(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		fatals []error
	)
	handler := handlerFunc(func(context.Context, string, string, []quest.Quest, bool) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, &quest.StorageError{Op: "save", Err: errors.New("read-only filesystem")}
	})
	srv := NewServer(handler, uuid.New(), Options{
		Token: testToken,
		OnFatal: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			fatals = append(fatals, err)
		},
	}, zap.NewNop())

	rec := postIngest(t, srv.Handler(), testToken, `{"region":"en-US","quests":[{"id":"1"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fatals, 1)
}

func TestIngestConcurrentRequestsAcceptOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, quest.FilterAll)
	body := `{"region":"en-US","quests":[{"id":"same"}]}`

	const n = 20
	var wg sync.WaitGroup
	results := make([]quest.IngestResult, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))
			req.Header.Set("Authorization", "Bearer "+testToken)
			rec := httptest.NewRecorder()
			f.server.Handler().ServeHTTP(rec, req)
			_ = json.Unmarshal(rec.Body.Bytes(), &results[i])
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, r := range results {
		accepted += r.Accepted
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, []string{"same"}, f.sink.IDs())
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, quest.FilterAll)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	f := newFixture(t, quest.FilterAll)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "agent-supplied")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "agent-supplied", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	srv := NewServer(handlerFunc(func(context.Context, string, string, []quest.Quest, bool) (pipeline.Outcome, error) {
		panic("boom")
	}), nil, Options{Token: testToken}, zap.NewNop())

	rec := postIngest(t, srv.Handler(), testToken, `{"region":"en-US","quests":[]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type handlerFunc func(ctx context.Context, region, source string, records []quest.Quest, deliver bool) (pipeline.Outcome, error)

func (f handlerFunc) Handle(ctx context.Context, region, source string, records []quest.Quest, deliver bool) (pipeline.Outcome, error) {
	return f(ctx, region, source, records, deliver)
}
