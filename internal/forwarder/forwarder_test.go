package forwarder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/questwatch/internal/id/uuid"
	"github.com/JakeFAU/questwatch/internal/quest"
)

func TestForwardPostsBatch(t *testing.T) {
	t.Parallel()

	var got quest.IngestBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ingest", r.URL.Path)
		assert.Equal(t, "Bearer shared", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":1,"deduped":1}`))
	}))
	defer srv.Close()

	fwd, err := New(Config{CollectorURL: srv.URL, Token: "shared"}, srv.Client(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/ingest", fwd.Endpoint())

	res, err := fwd.Forward(context.Background(), quest.IngestBatch{
		Region: "ja",
		Quests: []quest.Quest{{ID: "1"}, {ID: "2"}},
		Source: "agent",
	})
	require.NoError(t, err)
	assert.Equal(t, quest.IngestResult{Accepted: 1, Deduped: 1}, res)
	assert.Equal(t, "ja", got.Region)
	assert.Equal(t, "agent", got.Source)
	assert.Len(t, got.Quests, 2)
}

func TestForwardSendsEmptyQuestList(t *testing.T) {
	t.Parallel()

	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"accepted":0,"deduped":0}`))
	}))
	defer srv.Close()

	fwd, err := New(Config{CollectorURL: srv.URL, Token: "t"}, srv.Client(), uuid.New())
	require.NoError(t, err)
	_, err = fwd.Forward(context.Background(), quest.IngestBatch{Region: "ja", Source: "agent"})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw["quests"]))
}

func TestForwardUnauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	fwd, err := New(Config{CollectorURL: srv.URL, Token: "wrong"}, srv.Client(), uuid.New())
	require.NoError(t, err)

	_, err = fwd.Forward(context.Background(), quest.IngestBatch{Region: "ja"})
	var authErr *quest.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, quest.AuthScopeCollector, authErr.Scope)
	assert.False(t, quest.IsFatal(err))
}

func TestForwardServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "storage failure", http.StatusInternalServerError)
	}))
	defer srv.Close()

	fwd, err := New(Config{CollectorURL: srv.URL + "/custom/ingest", Token: "t"}, srv.Client(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/custom/ingest", fwd.Endpoint())

	_, err = fwd.Forward(context.Background(), quest.IngestBatch{Region: "ja"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestForwardTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	fwd, err := New(Config{CollectorURL: srv.URL, Token: "t", Timeout: 50 * time.Millisecond}, nil, uuid.New())
	require.NoError(t, err)
	_, err = fwd.Forward(context.Background(), quest.IngestBatch{Region: "ja"})
	require.Error(t, err)
}

func TestIngestEndpoint(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://collector:8080", "http://collector:8080/ingest", false},
		{"http://collector:8080/", "http://collector:8080/ingest", false},
		{"https://c.example.com/api/ingest", "https://c.example.com/api/ingest", false},
		{"", "", true},
		{"collector:8080", "", true},
		{"ftp://collector", "", true},
	}
	for _, tc := range testCases {
		got, err := ingestEndpoint(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
