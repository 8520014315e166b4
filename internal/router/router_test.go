package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traitfusion-api/internal/handler"
	"traitfusion-api/internal/ledger"
	"traitfusion-api/internal/middleware"
	"traitfusion-api/internal/notify"
	"traitfusion-api/internal/repository"
	"traitfusion-api/internal/service"
)

type stubRandomness struct {
	mu   sync.Mutex
	next int
}

func (s *stubRandomness) RequestRandom(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("rand-%d", s.next), nil
}

type testServer struct {
	srv    *httptest.Server
	ledger *ledger.MemoryLedger
	events *notify.Recorder
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *struct {
		Total int64 `json:"total"`
	} `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var apiKeys = map[string]string{
	"k-engine": "engine",
	"k-oracle": "oracle",
	"k-bridge": "bridge",
	"k-alice":  "alice",
	"k-bob":    "bob",
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "traits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	roles := service.NewRoles()
	roles.Grant(service.RoleEngine, "engine")
	roles.Grant(service.RoleOracle, "oracle")
	roles.Grant(service.RoleBridge, "bridge")

	tokens := ledger.NewMemoryLedger()
	registry := ledger.NewMemoryRegistry()
	events := notify.NewRecorder(100)
	locker := service.NewItemLocker()

	attrs := service.NewAttributeStore(service.AttributeStoreConfig{
		Store:     store,
		Roles:     roles,
		Locker:    locker,
		Publisher: events,
	})
	engine := service.NewEngine(service.EngineDeps{
		Identity:   "engine",
		Config:     service.DefaultGameConfig(),
		Attributes: attrs,
		Store:      store,
		Registry:   registry,
		Minter:     registry,
		Ledger:     tokens,
		Randomness: &stubRandomness{},
		Roles:      roles,
	})
	scheduler := service.NewScheduler(store, service.DefaultSchedulerConfig(), nil)

	r := New(Config{
		Handler:         handler.New("traitfusion-api", "test"),
		ItemHandler:     handler.NewItemHandler(engine, attrs),
		ActionHandler:   handler.NewActionHandler(engine),
		SnapshotHandler: handler.NewSnapshotHandler(service.NewSnapshotService(engine, store, roles)),
		OracleHandler:   handler.NewOracleHandler(service.NewOracleAdapter(engine, store, roles), engine, roles),
		EventHandler:    handler.NewEventHandler(events, engine.Collection()),
		AdminHandler:    handler.NewAdminHandler(store, nil, "sqlite", roles, locker, scheduler),
		AuthMiddleware:  middleware.NewAuthMiddleware(middleware.AuthConfig{Keys: apiKeys}),
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, ledger: tokens, events: events}
}

func (s *testServer) do(t *testing.T, method, path, key string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decode(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func (s *testServer) createItem(t *testing.T, owner string) uint64 {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/v1/items", "k-engine", map[string]string{"owner": owner})
	require.Equal(t, http.StatusCreated, status)
	var out struct {
		ItemID uint64 `json:"item_id"`
	}
	decode(t, env, &out)
	return out.ItemID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	status, _ = s.do(t, http.MethodGet, "/api/v1/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestCreateItemAuthorization(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodPost, "/api/v1/items", "", map[string]string{"owner": "alice"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := s.do(t, http.MethodPost, "/api/v1/items", "k-alice", map[string]string{"owner": "alice"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	status, _ = s.do(t, http.MethodPost, "/api/v1/items", "k-engine", map[string]string{"owner": ""})
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, uint64(1), s.createItem(t, "alice"))
}

func TestAttributeEndpoints(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, uint64(1), s.createItem(t, "alice"))

	status, env := s.do(t, http.MethodGet, "/api/v1/items/1/attributes/level?as=uint", "", nil)
	require.Equal(t, http.StatusOK, status)
	var level struct {
		Value uint64 `json:"value"`
	}
	decode(t, env, &level)
	assert.Equal(t, uint64(1), level.Value)

	status, _ = s.do(t, http.MethodGet, "/api/v1/items/1/attributes/level?as=text", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/items/1/attributes/charisma", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/items/1/attributes/level?as=float", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/items/abc/attributes", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPut, "/api/v1/items/1/attributes/level", "k-alice", map[string]uint64{"uint": 9})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPut, "/api/v1/items/1/attributes/level", "k-engine", map[string]interface{}{"uint": 9, "text": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPut, "/api/v1/items/1/attributes/level", "k-engine", map[string]uint64{"uint": 9})
	assert.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/items/1/attributes", "", nil)
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Attributes []handler.AttributeView `json:"attributes"`
	}
	decode(t, env, &list)
	assert.Len(t, list.Attributes, 6)

	status, env = s.do(t, http.MethodPost, "/api/v1/items/1/digest", "", map[string][]string{"names": {"level", "energy"}})
	require.Equal(t, http.StatusOK, status)
	var digest struct {
		Digest string `json:"digest"`
	}
	decode(t, env, &digest)
	want := service.Keccak256(service.EncodeUint(9), service.EncodeUint(100))
	assert.Equal(t, want.Hex(), digest.Digest)
}

func TestActionEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.createItem(t, "alice")

	status, _ := s.do(t, http.MethodPost, "/api/v1/items/1/fight", "k-bob", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, env := s.do(t, http.MethodPost, "/api/v1/items/1/fight", "k-alice", nil)
	require.Equal(t, http.StatusOK, status)
	var fight service.FightResult
	decode(t, env, &fight)
	assert.Equal(t, uint64(80), fight.Energy)

	status, env = s.do(t, http.MethodPost, "/api/v1/items/1/fight", "k-alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "COOLDOWN_ACTIVE", env.Error.Code)

	// fight reward covers the potion
	status, _ = s.do(t, http.MethodPost, "/api/v1/items/1/potion", "k-alice", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPost, "/api/v1/items/1/potion", "k-alice", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPost, "/api/v1/items/1/potion", "k-alice", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, env = s.do(t, http.MethodPost, "/api/v1/items/1/zone", "k-alice", map[string]string{"zone": "forest"})
	require.Equal(t, http.StatusOK, status)
	var zone struct {
		Affinity string `json:"element_affinity"`
	}
	decode(t, env, &zone)
	assert.Equal(t, "earth", zone.Affinity)

	status, _ = s.do(t, http.MethodPost, "/api/v1/items/1/quests/complete", "k-alice", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = s.do(t, http.MethodPost, "/api/v1/items/1/quests", "k-alice", map[string]string{"quest_id": "q1"})
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPost, "/api/v1/items/1/quests/complete", "k-alice", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestLootBoxFlow(t *testing.T) {
	s := newTestServer(t)
	s.createItem(t, "alice")
	require.NoError(t, s.ledger.Mint(context.Background(), "alice", 20))

	status, env := s.do(t, http.MethodPost, "/api/v1/items/1/lootbox", "k-alice", nil)
	require.Equal(t, http.StatusAccepted, status)
	var loot struct {
		RequestID string `json:"request_id"`
	}
	decode(t, env, &loot)
	require.NotEmpty(t, loot.RequestID)

	body := map[string]interface{}{"request_id": loot.RequestID, "values": []string{"97"}}
	status, _ = s.do(t, http.MethodPost, "/api/v1/randomness/fulfill", "k-alice", body)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/randomness/fulfill", "k-engine", map[string]interface{}{"request_id": loot.RequestID, "values": []string{"-1"}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/randomness/fulfill", "k-engine", body)
	require.Equal(t, http.StatusOK, status)
	// a replay is acknowledged without effect
	status, _ = s.do(t, http.MethodPost, "/api/v1/randomness/fulfill", "k-engine", body)
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/items/1/attributes/strength?as=uint", "", nil)
	require.Equal(t, http.StatusOK, status)
	var strength struct {
		Value uint64 `json:"value"`
	}
	decode(t, env, &strength)
	assert.Equal(t, uint64(60), strength.Value)
}

func TestOracleFlow(t *testing.T) {
	s := newTestServer(t)
	s.createItem(t, "alice")

	status, _ := s.do(t, http.MethodPost, "/api/v1/items/1/oracle/tides", "k-alice", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env := s.do(t, http.MethodPost, "/api/v1/items/1/oracle/fitness", "k-alice", nil)
	require.Equal(t, http.StatusAccepted, status)
	var req struct {
		RequestID string `json:"request_id"`
	}
	decode(t, env, &req)

	body := map[string]interface{}{"request_id": req.RequestID, "category": "fitness", "steps": 10000}
	status, _ = s.do(t, http.MethodPost, "/api/v1/oracle/fulfill", "k-alice", body)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/oracle/fulfill", "k-oracle", map[string]interface{}{"request_id": req.RequestID, "category": "fitness"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/oracle/fulfill", "k-oracle", body)
	require.Equal(t, http.StatusOK, status)

	balance, err := s.ledger.BalanceOf(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), balance)

	status, _ = s.do(t, http.MethodPost, "/api/v1/items/1/oracle/weather", "k-alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/items/1/state", "", nil)
	require.Equal(t, http.StatusOK, status)
	var state struct {
		DailySteps uint64 `json:"daily_steps"`
	}
	decode(t, env, &state)
	assert.Equal(t, uint64(10000), state.DailySteps)
}

func TestSnapshotFlow(t *testing.T) {
	s := newTestServer(t)
	s.createItem(t, "alice")

	status, _ := s.do(t, http.MethodGet, "/api/v1/items/1/snapshot", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env := s.do(t, http.MethodPost, "/api/v1/items/1/snapshot", "k-alice", nil)
	require.Equal(t, http.StatusCreated, status)
	var snap struct {
		Hash string `json:"hash"`
	}
	decode(t, env, &snap)
	assert.Len(t, snap.Hash, 66)

	status, env = s.do(t, http.MethodGet, "/api/v1/items/1/snapshot/verify", "", nil)
	require.Equal(t, http.StatusOK, status)
	var verify struct {
		Valid bool   `json:"valid"`
		Hash  string `json:"hash"`
	}
	decode(t, env, &verify)
	assert.True(t, verify.Valid)
	assert.Equal(t, snap.Hash, verify.Hash)

	transfer := map[string]string{"destination": "0xabc", "target_chain": "polygon"}
	status, _ = s.do(t, http.MethodPost, "/api/v1/items/1/transfer", "k-alice", transfer)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = s.do(t, http.MethodPost, "/api/v1/items/1/transfer", "k-bridge", transfer)
	assert.Equal(t, http.StatusAccepted, status)
}

func TestEventsAndAdmin(t *testing.T) {
	s := newTestServer(t)
	s.createItem(t, "alice")
	s.createItem(t, "bob")

	status, env := s.do(t, http.MethodGet, "/api/v1/events?limit=5", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, env.Meta)
	assert.Equal(t, int64(14), env.Meta.Total)

	status, env = s.do(t, http.MethodGet, "/api/v1/items/2/events", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(7), env.Meta.Total)

	status, _ = s.do(t, http.MethodGet, "/api/v1/admin/stats", "k-alice", nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = s.do(t, http.MethodGet, "/api/v1/admin/stats", "k-engine", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/admin/jobs/daily-reset", "k-engine", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPost, "/api/v1/admin/jobs/vacuum", "k-engine", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
