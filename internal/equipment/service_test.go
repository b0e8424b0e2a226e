package equipment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KURA-backend/internal/platform/auth"
)

type memStore struct {
	rows map[int64]Equipment
	held map[int64][]Reservation
	next int64
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]Equipment{}, held: map[int64][]Reservation{}}
}

func (m *memStore) Insert(_ context.Context, e *Equipment) (int64, error) {
	m.next++
	e.ID = m.next
	m.rows[e.ID] = *e
	return e.ID, nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*Equipment, error) {
	e, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memStore) Modify(_ context.Context, id int64, fn func(e *Equipment, held []Reservation) error) (bool, error) {
	e, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	if err := fn(&e, m.held[id]); err != nil {
		return true, err
	}
	m.rows[id] = e
	return true, nil
}

func (m *memStore) List(_ context.Context, q EquipmentQuery, _ Page) ([]Equipment, int64, error) {
	out := []Equipment{}
	for id := int64(1); id <= m.next; id++ {
		e, ok := m.rows[id]
		if !ok {
			continue
		}
		if q.StructureID != nil && e.StructureID != *q.StructureID {
			continue
		}
		if q.Type != nil && e.Type != *q.Type {
			continue
		}
		out = append(out, e)
	}
	return out, int64(len(out)), nil
}

var (
	lightTech = auth.Principal{ID: "lea", Role: "Régisseuse lumière", StructureID: 1}
	lightMgr  = auth.Principal{ID: "leo", Role: "Régisseur lumière", StructureID: 1}
	other     = auth.Principal{ID: "oz", Role: "Other", StructureID: 2}
	root      = auth.Principal{ID: "ada", Role: "admin", StructureID: 9}
)

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore())

	e, err := svc.Create(ctx, CreateEquipmentRequest{Name: " Par 64 ", Type: "lumière", TotalQty: 12, StructureID: 1}, lightMgr)
	require.NoError(t, err)
	assert.Equal(t, "Par 64", e.Name)
	assert.Equal(t, "Light", e.Type)

	_, err = svc.Create(ctx, CreateEquipmentRequest{Name: "Desk", Type: "Son", TotalQty: 1, StructureID: 1}, lightMgr)
	assert.Equal(t, http.StatusForbidden, toHTTPStatus(err))

	_, err = svc.Create(ctx, CreateEquipmentRequest{Name: "Desk", Type: "Son", TotalQty: 1, StructureID: 1}, other)
	assert.Equal(t, http.StatusForbidden, toHTTPStatus(err))

	_, err = svc.Create(ctx, CreateEquipmentRequest{Name: "Desk", Type: "Catering", TotalQty: 1, StructureID: 1}, root)
	assert.Equal(t, http.StatusBadRequest, toHTTPStatus(err))

	_, err = svc.Create(ctx, CreateEquipmentRequest{Name: "Desk", Type: "Son", TotalQty: -1, StructureID: 1}, root)
	assert.Equal(t, http.StatusBadRequest, toHTTPStatus(err))

	_, err = svc.Create(ctx, CreateEquipmentRequest{Name: "Desk", Type: "Son", TotalQty: 2, StructureID: 1}, root)
	assert.NoError(t, err)

	// 未知のロール表記は扱えない
	_, err = svc.Create(ctx, CreateEquipmentRequest{Name: "Gel", Type: "Light", TotalQty: 1, StructureID: 1}, lightTech)
	assert.Equal(t, http.StatusForbidden, toHTTPStatus(err))
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore())
	e, err := svc.Create(ctx, CreateEquipmentRequest{Name: "Screen", Type: "Video", TotalQty: 2, StructureID: 1}, lightMgr)
	require.NoError(t, err)

	qty := 5
	updated, err := svc.Update(ctx, e.ID, UpdateEquipmentRequest{TotalQty: &qty}, lightMgr)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.TotalQty)

	sound := "Sound"
	_, err = svc.Update(ctx, e.ID, UpdateEquipmentRequest{Type: &sound}, lightMgr)
	assert.Equal(t, http.StatusForbidden, toHTTPStatus(err))

	_, err = svc.Update(ctx, 404, UpdateEquipmentRequest{TotalQty: &qty}, root)
	assert.Equal(t, http.StatusNotFound, toHTTPStatus(err))

	light := "light"
	list, total, err := svc.List(ctx, EquipmentQuery{Type: &light}, Page{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)
}

func day(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }

func TestPeakQuantity(t *testing.T) {
	tests := []struct {
		name string
		held []Reservation
		want int
	}{
		{"none", nil, 0},
		{"single", []Reservation{{day(1), day(5), 2}}, 2},
		{"overlapping", []Reservation{{day(1), day(5), 2}, {day(3), day(8), 3}}, 5},
		{"back to back", []Reservation{{day(1), day(5), 2}, {day(5), day(8), 3}}, 3},
		{"zero length", []Reservation{{day(1), day(5), 1}, {day(3), day(3), 4}}, 1},
		{"nested", []Reservation{{day(1), day(10), 1}, {day(2), day(4), 1}, {day(3), day(9), 1}, {day(4), day(6), 1}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeakQuantity(tt.held))
		})
	}
}

func TestService_UpdateKeepsReservedCapacity(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewService(store)
	e, err := svc.Create(ctx, CreateEquipmentRequest{Name: "Par 64", Type: "Light", TotalQty: 6, StructureID: 1}, lightMgr)
	require.NoError(t, err)
	store.held[e.ID] = []Reservation{{day(1), day(5), 2}, {day(3), day(8), 2}, {day(8), day(9), 3}}

	three := 3
	_, err = svc.Update(ctx, e.ID, UpdateEquipmentRequest{TotalQty: &three}, lightMgr)
	assert.Equal(t, http.StatusBadRequest, toHTTPStatus(err))
	got, err := svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.TotalQty)

	// 管理者でも下回れない
	_, err = svc.Update(ctx, e.ID, UpdateEquipmentRequest{TotalQty: &three}, root)
	assert.Equal(t, http.StatusBadRequest, toHTTPStatus(err))

	four := 4
	updated, err := svc.Update(ctx, e.ID, UpdateEquipmentRequest{TotalQty: &four}, lightMgr)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.TotalQty)
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("", func(c *gin.Context) {
		c.Set(auth.CtxUserIDKey, lightMgr.ID)
		c.Set(auth.CtxRoleKey, lightMgr.Role)
		c.Set(auth.CtxStructureIDKey, lightMgr.StructureID)
	})
	RegisterRoutes(g, NewService(newMemStore()))

	w := httptest.NewRecorder()
	body := `{"name":"Fresnel","type":"Lumiere","total_qty":4,"structure_id":1}`
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/equipment", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/equipment/1", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/equipment?structure_id=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/equipment/2", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":{"code":"NOT_FOUND","message":"equipment not found"}}`, w.Body.String())
}
