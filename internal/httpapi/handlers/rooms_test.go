package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/cache"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/collab"
)

type nullDurable struct{}

func (nullDurable) Upsert(context.Context, string, uint64, string) error { return nil }
func (nullDurable) FindLatest(context.Context, string) (*collab.SnapshotRecord, error) {
	return nil, nil
}

func newTestRouter() (*gin.Engine, *collab.StateStore, *cache.Presence) {
	gin.SetMode(gin.TestMode)
	backend := cache.NewMemoryBackend()
	state := collab.NewStateStore(backend, nullDurable{}, nil, collab.StateStoreOptions{
		MaxOps:       200,
		PersistDelay: time.Hour,
	})
	presence := cache.NewPresence(backend, 45*time.Second)
	h := NewRooms(state, presence)

	r := gin.New()
	api := r.Group("/collab")
	api.GET("/rooms/:projectID", h.GetState)
	api.GET("/rooms/:projectID/ops", h.GetMissingOps)
	api.POST("/rooms/:projectID/ops", h.ApplyOperation)
	api.PUT("/rooms/:projectID/snapshot", h.SetSnapshot)
	api.DELETE("/rooms/:projectID", h.Clear)
	api.GET("/rooms/:projectID/presence", h.ListPresence)
	return r, state, presence
}

func doJSON(t *testing.T, r *gin.Engine, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, nil)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRooms_GetStateDefaultsToZero(t *testing.T) {
	r, _, _ := newTestRouter()

	w := doJSON(t, r, "GET", "/collab/rooms/p1", "")
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var st collab.RoomState
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if st.ProjectID != "p1" || st.Version != 0 {
		t.Fatalf("state = %+v, want zero-state for p1", st)
	}
}

func TestRooms_ApplyThenResync(t *testing.T) {
	r, _, _ := newTestRouter()

	for _, typ := range []string{"insert", "delete", "move"} {
		w := doJSON(t, r, "POST", "/collab/rooms/p1/ops", `{"op":{"type":"`+typ+`"}}`)
		if w.Code != 200 {
			t.Fatalf("apply %s status = %d body=%s", typ, w.Code, w.Body.String())
		}
	}

	w := doJSON(t, r, "GET", "/collab/rooms/p1/ops?from=1", "")
	if w.Code != 200 {
		t.Fatalf("ops status = %d", w.Code)
	}
	var resp struct {
		Ops []collab.Operation `json:"ops"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(resp.Ops) != 2 || resp.Ops[0].Version != 2 || resp.Ops[1].Version != 3 {
		t.Fatalf("ops = %+v, want v2 and v3", resp.Ops)
	}
}

func TestRooms_ApplyValidation(t *testing.T) {
	r, _, _ := newTestRouter()

	w := doJSON(t, r, "POST", "/collab/rooms/p1/ops", `{"op":{}}`)
	if w.Code != 400 {
		t.Fatalf("missing op type status = %d, want 400", w.Code)
	}
}

func TestRooms_SnapshotAndClear(t *testing.T) {
	r, _, _ := newTestRouter()

	w := doJSON(t, r, "PUT", "/collab/rooms/p1/snapshot", `{"snapshot":"{\"bpm\":90}","version":7}`)
	if w.Code != 200 {
		t.Fatalf("snapshot status = %d body=%s", w.Code, w.Body.String())
	}
	var st collab.RoomState
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.Version != 7 || st.Snapshot != `{"bpm":90}` {
		t.Fatalf("snapshot state = %+v, want v7", st)
	}

	w = doJSON(t, r, "DELETE", "/collab/rooms/p1", "")
	if w.Code != 200 {
		t.Fatalf("clear status = %d", w.Code)
	}
	w = doJSON(t, r, "GET", "/collab/rooms/p1", "")
	st = collab.RoomState{}
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.Version != 0 || st.Snapshot != "" {
		t.Fatalf("state after clear = %+v, want zero-state", st)
	}
}

func TestRooms_Presence(t *testing.T) {
	r, _, presence := newTestRouter()

	presence.AddPresence(context.Background(), "p1", "u1", json.RawMessage(`{"name":"An"}`), "sockA")

	w := doJSON(t, r, "GET", "/collab/rooms/p1/presence", "")
	if w.Code != 200 {
		t.Fatalf("presence status = %d", w.Code)
	}
	var resp struct {
		Members []cache.PresenceView `json:"members"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(resp.Members) != 1 || resp.Members[0].UserID != "u1" {
		t.Fatalf("members = %+v, want u1", resp.Members)
	}
}
