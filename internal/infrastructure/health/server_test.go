package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgrid/pkg/logging"
)

func TestHandleHealthReportsOKWhenAllComponentsHealthy(t *testing.T) {
	hm := NewHealthManager(logging.Nop())
	hm.Register("event_log", func() error { return nil })
	srv := NewServer(0, hm, nil, logging.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleHealthReportsUnhealthyWhenAComponentFails(t *testing.T) {
	hm := NewHealthManager(logging.Nop())
	hm.Register("event_log", func() error { return errors.New("disk full") })
	srv := NewServer(0, hm, nil, logging.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, []interface{}{"event_log"}, body["failing"])
}

func TestHandleStatusReturnsPerSlotPayloads(t *testing.T) {
	slots := map[int64]func() interface{}{
		1: func() interface{} { return map[string]interface{}{"phase": "S0"} },
		2: func() interface{} { return map[string]interface{}{"phase": "S1a"} },
	}
	srv := NewServer(0, nil, slots, logging.Nop())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "1")
	assert.Equal(t, "S0", body["1"]["phase"])
	assert.Equal(t, "S1a", body["2"]["phase"])
}

func TestAddrForFormatsPort(t *testing.T) {
	assert.Equal(t, ":8090", addrFor(8090))
}
