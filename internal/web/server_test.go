package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/TemplatePick/internal/config"
	"github.com/JonMunkholm/TemplatePick/internal/core"
	"github.com/JonMunkholm/TemplatePick/internal/store/memory"
	mw "github.com/JonMunkholm/TemplatePick/internal/web/middleware"
)

type testUser struct {
	id, label, role string
}

var (
	adminUser = testUser{"admin", "Admin", "admin"}
	aliceUser = testUser{"u-alice", "Alice", "user"}
	bobUser   = testUser{"u-bob", "Bob", "user"}
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			RequestTimeout: 5 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	svc, err := core.NewService(memory.New(), nil)
	require.NoError(t, err)
	s := NewServer(svc, testConfig())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, u *testUser, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if u != nil {
		req.Header.Set(mw.HeaderUserID, u.id)
		req.Header.Set(mw.HeaderUserLabel, u.label)
		req.Header.Set(mw.HeaderUserRole, u.role)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

// seed creates the attendance format with n template rows.
func seed(t *testing.T, s *Server, n int) {
	t.Helper()
	format := map[string]any{
		"name": "Attendance",
		"columns": []map[string]any{
			{"name": "EmployeeID", "order": 0, "type": "text", "required": true, "unique": true},
			{"name": "Status", "order": 1, "type": "enum", "editableByUser": true, "enumOptions": []string{"Present", "Absent"}},
		},
		"statusColumn": "Status",
	}
	rec := do(t, s, &adminUser, http.MethodPut, "/api/formats/attendance/", format)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"EmployeeID": fmt.Sprintf("E%d", i)}
	}
	rec = do(t, s, &adminUser, http.MethodPut, "/api/formats/attendance/rows", map[string]any{"rows": rows})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)
}

func TestAPI_RequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, nil, http.MethodGet, "/api/formats", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFormats(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, &aliceUser, http.MethodPut, "/api/formats/attendance/", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	seed(t, s, 2)

	rec = do(t, s, &aliceUser, http.MethodGet, "/api/formats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	formats := decode[[]core.Format](t, rec)
	require.Len(t, formats, 1)
	assert.Equal(t, "attendance", formats[0].ID)

	rec = do(t, s, &adminUser, http.MethodPut, "/api/formats/attendance/", map[string]any{"id": "other", "name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "body id must match the path")

	rec = do(t, s, &aliceUser, http.MethodGet, "/api/formats/missing/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, &aliceUser, http.MethodGet, "/api/formats/attendance/rows?page=1&pageSize=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[core.TemplatePage](t, rec)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Rows, 1)
}

func TestImportTemplate_Invalid(t *testing.T) {
	s := newTestServer(t)
	seed(t, s, 0)

	rows := []map[string]any{{"EmployeeID": "E1", "Status": "Maybe"}, {"EmployeeID": ""}}
	rec := do(t, s, &adminUser, http.MethodPut, "/api/formats/attendance/rows", map[string]any{"rows": rows})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Code    string               `json:"code"`
		Details core.ValidationError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Details.Rows, 1)
	assert.Equal(t, 1, body.Details.Rows[0].Row.RowIndex)
	require.Len(t, body.Details.Dropdowns, 1)
	assert.Equal(t, "Maybe", body.Details.Dropdowns[0].Value)
	assert.Equal(t, []string{"Present", "Absent"}, body.Details.Dropdowns[0].Allowed)
}

func TestPickAndRelease(t *testing.T) {
	s := newTestServer(t)
	seed(t, s, 2)

	rec := do(t, s, &aliceUser, http.MethodPost, "/api/formats/attendance/rows/0/pick", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.PickOK, decode[core.PickResult](t, rec).Status)

	rec = do(t, s, &bobUser, http.MethodPost, "/api/formats/attendance/rows/0/pick", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	res := decode[core.PickResult](t, rec)
	assert.Equal(t, core.PickConflict, res.Status)
	assert.Equal(t, "Alice", res.HolderLabel)

	rec = do(t, s, &aliceUser, http.MethodGet, "/api/formats/attendance/reservations/mine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{0}, decode[myRowsResponse](t, rec).Rows)

	rec = do(t, s, &bobUser, http.MethodDelete, "/api/formats/attendance/rows/0/pick", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, &aliceUser, http.MethodDelete, "/api/formats/attendance/rows/0/pick", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, &bobUser, http.MethodPost, "/api/formats/attendance/rows/0/pick", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, &bobUser, http.MethodPost, "/api/formats/attendance/rows/abc/pick", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, &bobUser, http.MethodPost, "/api/formats/attendance/rows/7/pick", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFiles(t *testing.T) {
	s := newTestServer(t)
	seed(t, s, 3)

	rec := do(t, s, &aliceUser, http.MethodPost, "/api/files", map[string]any{
		"name":             "mine",
		"formatId":         "attendance",
		"pickedRowIndices": []int{0, 1},
		"rows":             []map[string]any{{"Status": "present"}, {"Status": "Absent"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[core.SaveResult](t, rec)
	require.NotNil(t, saved.File)
	fileID := saved.File.ID

	rec = do(t, s, &bobUser, http.MethodPost, "/api/files", map[string]any{
		"name":             "conflict",
		"formatId":         "attendance",
		"pickedRowIndices": []int{1, 2},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict struct {
		Details core.ConflictError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	require.Len(t, conflict.Details.Conflicts, 1)
	assert.Equal(t, 1, conflict.Details.Conflicts[0].RowIndex)

	rec = do(t, s, &aliceUser, http.MethodGet, "/api/files/"+fileID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	file := decode[core.CreatedFile](t, rec)
	require.Len(t, file.Rows, 2)
	assert.Equal(t, "Present", file.Rows[0]["Status"].String())

	rec = do(t, s, &bobUser, http.MethodGet, "/api/files/"+fileID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, &aliceUser, http.MethodPatch, "/api/files/"+fileID+"/cells", map[string]any{
		"rowIndex": 1, "column": "Status", "value": "present",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, &bobUser, http.MethodGet, "/api/files?all=true", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, &aliceUser, http.MethodDelete, "/api/files/"+fileID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []int{0, 1}, decode[deleteFileResponse](t, rec).Released)

	rec = do(t, s, &aliceUser, http.MethodGet, "/api/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestMerge(t *testing.T) {
	s := newTestServer(t)
	seed(t, s, 0)

	create := func(id string) string {
		rec := do(t, s, &aliceUser, http.MethodPost, "/api/files", map[string]any{
			"name":     "f-" + id,
			"formatId": "attendance",
			"rows":     []map[string]any{{"EmployeeID": id, "Status": "Present"}},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[core.SaveResult](t, rec).File.ID
	}
	a, b, dup := create("E1"), create("E2"), create("E1")

	rec := do(t, s, &aliceUser, http.MethodPost, "/api/merge", map[string]any{"fileIds": []string{a, b, dup}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var refused struct {
		Details core.MergeError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refused))
	require.Len(t, refused.Details.Duplicates, 1)
	assert.Equal(t, a, refused.Details.Duplicates[0].First.FileID)
	assert.Equal(t, dup, refused.Details.Duplicates[0].Duplicate.FileID)

	rec = do(t, s, &aliceUser, http.MethodPost, "/api/merge", map[string]any{"fileIds": []string{a, b}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	merged := decode[core.MergeResult](t, rec)
	assert.Equal(t, 1, merged.File.MergeCount)
	assert.Len(t, merged.File.Rows, 2)
}

func TestIngestAndAttendance(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{"rows": []map[string]any{
		{"Employee ID": "e1", "Date": "2024-03-05", "Status": "Present", "Hours": 8},
		{"Employee ID": "", "Date": "2024-03-05"},
	}}

	rec := do(t, s, &aliceUser, http.MethodPost, "/api/ingest", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, &adminUser, http.MethodPost, "/api/ingest", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.IngestResult](t, rec)
	assert.Equal(t, 1, res.MergedCount)
	assert.Equal(t, 1, res.ErrorCount)

	rec = do(t, s, &aliceUser, http.MethodGet, "/api/entities/E1/attendance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recs := decode[[]core.AttendanceRecord](t, rec)
	require.Len(t, recs, 1)
	assert.Equal(t, "8", recs[0].Extra["hours"])
}

func TestDecodeJSON_Errors(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/merge", bytes.NewBufferString("{not json"))
	req.Header.Set(mw.HeaderUserID, "u-alice")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/merge", nil)
	req.Header.Set(mw.HeaderUserID, "u-alice")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &core.ValidationError{}, http.StatusUnprocessableEntity},
		{"merge", fmt.Errorf("wrap: %w", &core.MergeError{}), http.StatusUnprocessableEntity},
		{"conflict", &core.ConflictError{}, http.StatusConflict},
		{"not found", fmt.Errorf("x: %w", core.ErrNotFound), http.StatusNotFound},
		{"forbidden", core.ErrForbidden, http.StatusForbidden},
		{"invalid", core.ErrInvalidInput, http.StatusBadRequest},
		{"busy", core.ErrTooManyOperations, http.StatusTooManyRequests},
		{"rate", errRateLimited, http.StatusTooManyRequests},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"too large", &http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"), "limits are per client")

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.allow("1.2.3.4"), "window resets")

	rl.stop()
	rl.stop()
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	defer rl.stop()

	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "request %d", i)
		if want == http.StatusTooManyRequests {
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		}
	}
}
