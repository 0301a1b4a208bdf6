package di

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/seatmap"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/worker"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixedGenerator struct{ token string }

func (g fixedGenerator) Next() (string, error) { return g.token, nil }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func newRouter(t *testing.T, store repository.Store) (*gin.Engine, *Container) {
	t.Helper()
	layouts, err := seatmap.Load("")
	require.NoError(t, err)

	c := NewContainer(&ContainerConfig{
		Store:     store,
		Layouts:   layouts,
		Generator: fixedGenerator{token: "48151623"},
		Logger:    logger.NewNop(),
	})
	router := gin.New()
	c.RegisterRoutes(router)
	return router, c
}

func call(t *testing.T, router *gin.Engine, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if out != nil {
		var env envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return w.Code
}

func importBody() map[string]any {
	return map[string]any{
		"name": "뮤지컬 오페라의 유령",
		"date": "2024.11.15",
		"time": "19:30",
		"batches": []map[string]any{{
			"platform": "interpark",
			"rows": []map[string]string{
				{"예매번호": "T1", "예매자명": "김철수", "휴대폰번호": "010-1234-5678", "좌석정보": "A-1", "매수": "1"},
			},
		}},
	}
}

func TestNewContainer_WithoutOptionalInfrastructure(t *testing.T) {
	store := repository.NewMemoryStore(nil)
	_, c := newRouter(t, store)

	assert.Nil(t, c.DB)
	assert.Nil(t, c.Redis)
	assert.Equal(t, repository.Store(store), c.Lookups, "lookups bypass the cache without Redis")
	assert.NotNil(t, c.ImportService)
	assert.NotNil(t, c.TokenIssuer)
	assert.NotNil(t, c.RedemptionHandler)
}

func TestContainer_Probes(t *testing.T) {
	router, _ := newRouter(t, repository.NewMemoryStore(nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var ready struct {
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	assert.Equal(t, "not configured", ready.Components["database"])
	assert.Equal(t, "not configured", ready.Components["redis"])
}

func TestContainer_ImportIssueAndScan(t *testing.T) {
	router, _ := newRouter(t, repository.NewMemoryStore(nil))

	var imported dto.ImportResponse
	require.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, "/api/v1/imports", importBody(), &imported))
	require.Equal(t, 1, imported.InsertedCount)

	var names []string
	require.Equal(t, http.StatusOK, call(t, router, http.MethodGet, "/api/v1/performances", nil, &names))
	assert.Equal(t, []string{"뮤지컬 오페라의 유령"}, names)

	var rs []dto.ReservationResponse
	require.Equal(t, http.StatusOK, call(t, router, http.MethodGet, "/api/v1/sessions/"+imported.SessionID+"/reservations", nil, &rs))
	require.Len(t, rs, 1)
	assert.Equal(t, string(domain.StatusReservedAssigned), rs[0].Status)

	var issued dto.IssueTokenResponse
	require.Equal(t, http.StatusOK, call(t, router, http.MethodPost, "/api/v1/reservations/"+rs[0].ID+"/issue-qr", nil, &issued))
	assert.Equal(t, "48151623", issued.Token)

	var checkedIn dto.ReservationResponse
	require.Equal(t, http.StatusOK, call(t, router, http.MethodPost, "/api/v1/check-in", map[string]string{"token": "48151623"}, &checkedIn))
	assert.Equal(t, string(domain.StatusCheckedIn), checkedIn.Status)

	assert.Equal(t, http.StatusConflict, call(t, router, http.MethodPost, "/api/v1/check-in", map[string]string{"token": "48151623"}, nil))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.EventEnvelope
}

func (p *recordingPublisher) Produce(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	var evt domain.EventEnvelope
	if err := json.Unmarshal(value, &evt); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) ProduceJSON(ctx context.Context, topic, key string, value any, headers map[string]string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.Produce(ctx, topic, key, data, headers)
}

func TestContainer_EventsReachTheOutbox(t *testing.T) {
	store := repository.NewMemoryStore(&repository.MemoryStoreConfig{OutboxEnabled: true})
	router, _ := newRouter(t, store)

	var imported dto.ImportResponse
	require.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, "/api/v1/imports", importBody(), &imported))
	var rs []dto.ReservationResponse
	call(t, router, http.MethodGet, "/api/v1/sessions/"+imported.SessionID+"/reservations", nil, &rs)
	require.Len(t, rs, 1)
	require.Equal(t, http.StatusOK, call(t, router, http.MethodPost, "/api/v1/reservations/"+rs[0].ID+"/issue-qr", nil, nil))

	pub := &recordingPublisher{}
	relay := worker.NewOutboxRelay(store, pub, nil)
	n, err := relay.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, pub.events, 2)
	assert.Equal(t, domain.EventReservationCreated, pub.events[0].EventType)
	assert.Equal(t, domain.EventQRIssued, pub.events[1].EventType)
	for _, evt := range pub.events {
		assert.Equal(t, rs[0].ID, evt.ReservationID)
	}

	pending, err := store.GetPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
