package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dyluth/burrow/pkg/dump"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthCheck(t *testing.T) {
	h := newHarness(t, nil)

	srv := httptest.NewServer(NewStatusServer(h.coord, fakePinger{}, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "connected", body.Bus)
}

func TestHealthCheckBusDown(t *testing.T) {
	h := newHarness(t, nil)

	srv := httptest.NewServer(NewStatusServer(h.coord, fakePinger{err: errors.New("connection refused")}, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "disconnected", body.Bus)
	assert.Equal(t, "connection refused", body.Error)
}

func TestHealthCheckRejectsPost(t *testing.T) {
	h := newHarness(t, nil)

	srv := httptest.NewServer(NewStatusServer(h.coord, nil, "").Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/healthz", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestIssueSnapshotEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	issueID, err := h.coord.RequestDump(context.Background(), dump.TriggerCrashMonitor, []string{"dev1"}, dump.Bool(false))
	require.NoError(t, err)
	h.events.await(t, dump.KindAllDumpsCompleted, forIssue(issueID))

	srv := httptest.NewServer(NewStatusServer(h.coord, nil, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/issues/" + issueID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var m dump.Manifest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, issueID, m.IssueID)
	assert.Equal(t, 1, m.SuccessCount)

	list, err := http.Get(srv.URL + "/issues")
	require.NoError(t, err)
	defer list.Body.Close()
	var ids map[string][]string
	require.NoError(t, json.NewDecoder(list.Body).Decode(&ids))
	assert.Equal(t, []string{issueID}, ids["issues"])

	missing, err := http.Get(srv.URL + "/issues/000000-000000")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
