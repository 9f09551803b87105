package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/TemplatePick/internal/core"
	"github.com/JonMunkholm/TemplatePick/internal/store/memory"
)

var (
	admin = core.Actor{ID: "admin", Label: "Admin", Role: core.RoleAdmin}
	alice = core.Actor{ID: "u-alice", Label: "Alice", Role: core.RoleUser}
	bob   = core.Actor{ID: "u-bob", Label: "Bob", Role: core.RoleUser}
)

func testFormat() core.Format {
	return core.Format{
		ID:   "attendance",
		Name: "Attendance",
		Columns: []core.Column{
			{Name: "EmployeeID", Order: 0, Type: core.ColumnText, Required: true, Unique: true},
			{Name: "Name", Order: 1, Type: core.ColumnText},
			{Name: "Status", Order: 2, Type: core.ColumnEnum, EditableByUser: true, EnumOptions: []string{"Present", "Absent", "Leave"}},
		},
		StatusColumn: "Status",
	}
}

func templateRow(id, name string) core.Row {
	return core.Row{"EmployeeID": core.TextValue(id), "Name": core.TextValue(name)}
}

// newService returns a Service over a fresh memory store with a format
// and n template rows E0..E(n-1).
func newService(t *testing.T, n int) (*core.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return newServiceOver(t, st, n), st
}

func newServiceOver(t *testing.T, st core.Store, n int) *core.Service {
	t.Helper()
	svc, err := core.NewService(st, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.SaveFormat(ctx, admin, testFormat())
	require.NoError(t, err)

	rows := make([]core.Row, n)
	for i := range rows {
		rows[i] = templateRow(fmt.Sprintf("E%d", i), fmt.Sprintf("Employee %d", i))
	}
	imported, err := svc.ImportTemplate(ctx, admin, "attendance", rows)
	require.NoError(t, err)
	require.Equal(t, n, imported)
	return svc
}

// interleavedStore runs a hook once, right after a wrapped read returns, to
// land another write inside a read-modify-write cycle.
type interleavedStore struct {
	core.Store

	mu                    sync.Mutex
	afterListFiles        func()
	afterListReservations func()
}

func (s *interleavedStore) take(hook *func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := *hook
	*hook = nil
	return fn
}

func (s *interleavedStore) ListFiles(ctx context.Context, ownerID string) ([]*core.CreatedFile, error) {
	files, err := s.Store.ListFiles(ctx, ownerID)
	if fn := s.take(&s.afterListFiles); fn != nil {
		fn()
	}
	return files, err
}

func (s *interleavedStore) ListReservations(ctx context.Context, formatID string) (map[int]core.Reservation, error) {
	res, err := s.Store.ListReservations(ctx, formatID)
	if fn := s.take(&s.afterListReservations); fn != nil {
		fn()
	}
	return res, err
}

func TestNewService_NilStore(t *testing.T) {
	_, err := core.NewService(nil, nil)
	assert.Error(t, err)
}

func TestSaveFormat_AdminOnly(t *testing.T) {
	svc, _ := newService(t, 0)
	_, err := svc.SaveFormat(context.Background(), alice, testFormat())
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestImportTemplate_RejectsDuplicates(t *testing.T) {
	svc, st := newService(t, 2)
	ctx := context.Background()

	_, err := svc.ImportTemplate(ctx, admin, "attendance", []core.Row{templateRow("E1", "a"), templateRow("E1", "b")})
	var merr *core.MergeError
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Duplicates, 1)

	count, err := st.CountTemplateRows(ctx, "attendance")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "rejected import must not replace the template")
}

func TestPick_ConcurrentExclusivity(t *testing.T) {
	svc, _ := newService(t, 1)
	ctx := context.Background()

	const workers = 20
	results := make([]core.PickResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := core.Actor{ID: fmt.Sprintf("u-%d", i), Label: fmt.Sprintf("User %d", i), Role: core.RoleUser}
			res, err := svc.Pick(ctx, actor, "attendance", 0)
			if err != nil {
				t.Errorf("Pick() error: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if r.Status == core.PickOK {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestPick_IdempotentAndConflict(t *testing.T) {
	svc, _ := newService(t, 2)
	ctx := context.Background()

	res, err := svc.Pick(ctx, alice, "attendance", 1)
	require.NoError(t, err)
	assert.Equal(t, core.PickOK, res.Status)

	res, err = svc.Pick(ctx, alice, "attendance", 1)
	require.NoError(t, err)
	assert.Equal(t, core.PickOK, res.Status, "re-picking an owned row succeeds")

	res, err = svc.Pick(ctx, bob, "attendance", 1)
	require.NoError(t, err)
	assert.Equal(t, core.PickConflict, res.Status)
	assert.Equal(t, "Alice", res.HolderLabel)

	_, err = svc.Pick(ctx, bob, "attendance", 9)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRelease(t *testing.T) {
	svc, _ := newService(t, 2)
	ctx := context.Background()

	_, err := svc.Pick(ctx, alice, "attendance", 0)
	require.NoError(t, err)

	err = svc.Release(ctx, bob, "attendance", 0)
	assert.ErrorIs(t, err, core.ErrNotFound, "users cannot release rows they do not hold")

	require.NoError(t, svc.Release(ctx, alice, "attendance", 0))

	res, err := svc.Pick(ctx, bob, "attendance", 0)
	require.NoError(t, err)
	assert.Equal(t, core.PickOK, res.Status, "released row can be picked again")
}

func TestListTemplateRows_LockState(t *testing.T) {
	svc, _ := newService(t, 3)
	ctx := context.Background()

	_, err := svc.Pick(ctx, alice, "attendance", 0)
	require.NoError(t, err)
	_, err = svc.Pick(ctx, bob, "attendance", 2)
	require.NoError(t, err)

	page, err := svc.ListTemplateRows(ctx, alice, "attendance", core.Page{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Rows, 2)
	assert.True(t, page.Rows[0].Mine)
	assert.False(t, page.Rows[0].Locked)
	assert.False(t, page.Rows[1].Locked)

	page, err = svc.ListTemplateRows(ctx, alice, "attendance", core.Page{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, 2, page.Rows[0].RowIndex)
	assert.True(t, page.Rows[0].Locked)
	assert.Equal(t, "Bob", page.Rows[0].HolderLabel)

	views, err := svc.ListReservations(ctx, alice, "attendance")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Empty(t, views[1].HolderID, "holder ids are hidden from regular users")

	views, err = svc.ListReservations(ctx, admin, "attendance")
	require.NoError(t, err)
	assert.Equal(t, "u-bob", views[1].HolderID)
}

func TestSaveFile_Projection(t *testing.T) {
	svc, _ := newService(t, 3)
	ctx := context.Background()

	res, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{
		Name:             "my rows",
		FormatID:         "attendance",
		PickedRowIndices: []int{0, 2},
		Rows: []core.Row{
			{"EmployeeID": core.TextValue("HACKED"), "Status": core.TextValue("present")},
			{"Status": core.TextValue("Leave")},
		},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 2}, res.Picked)
	require.Len(t, res.Corrections, 1)
	assert.Equal(t, 0, res.Corrections[0].RowIndex)
	assert.Equal(t, "E0", res.Corrections[0].Canonical)

	got, err := svc.GetFile(ctx, alice, res.File.ID)
	require.NoError(t, err)
	require.True(t, got.IsProjection())
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "E0", got.Rows[0]["EmployeeID"].String(), "locked column keeps the template value")
	assert.Equal(t, "Present", got.Rows[0]["Status"].String(), "edit written back to the template")
	assert.Equal(t, "Leave", got.Rows[1]["Status"].String())

	mine, err := svc.ListMyRows(ctx, alice, "attendance")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, mine)

	_, err = svc.GetFile(ctx, bob, res.File.ID)
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestSaveFile_ConflictRollsBack(t *testing.T) {
	svc, _ := newService(t, 3)
	ctx := context.Background()

	_, err := svc.Pick(ctx, bob, "attendance", 1)
	require.NoError(t, err)

	_, err = svc.SaveFile(ctx, alice, core.SaveFileRequest{
		Name:             "greedy",
		FormatID:         "attendance",
		PickedRowIndices: []int{0, 1, 2},
	})
	var cerr *core.ConflictError
	require.ErrorAs(t, err, &cerr)
	require.Len(t, cerr.Conflicts, 1)
	assert.Equal(t, 1, cerr.Conflicts[0].RowIndex)
	assert.Equal(t, "Bob", cerr.Conflicts[0].HolderLabel)

	mine, err := svc.ListMyRows(ctx, alice, "attendance")
	require.NoError(t, err)
	assert.Empty(t, mine, "claims made before the conflict are undone")

	files, err := svc.ListFiles(ctx, alice, false)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSaveFile_UpdateReleasesDroppedRows(t *testing.T) {
	svc, _ := newService(t, 3)
	ctx := context.Background()

	res, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{Name: "f", FormatID: "attendance", PickedRowIndices: []int{0, 1}})
	require.NoError(t, err)

	res, err = svc.SaveFile(ctx, alice, core.SaveFileRequest{FileID: res.File.ID, Name: "f", FormatID: "attendance", PickedRowIndices: []int{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, res.Picked)
	assert.Equal(t, []int{0}, res.Released)

	mine, err := svc.ListMyRows(ctx, alice, "attendance")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, mine)
}

func TestSaveFile_ResaveWithoutPicksReleasesRows(t *testing.T) {
	tests := []struct {
		name string
		req  core.SaveFileRequest
	}{
		{"no format", core.SaveFileRequest{Name: "f", Rows: []core.Row{{"Note": core.TextValue("free text")}}}},
		{"format rows only", core.SaveFileRequest{Name: "f", FormatID: "attendance", Rows: []core.Row{
			{"EmployeeID": core.TextValue("E9"), "Status": core.TextValue("Present")},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(t, 2)
			ctx := context.Background()

			res, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{Name: "f", FormatID: "attendance", PickedRowIndices: []int{0}})
			require.NoError(t, err)

			req := tt.req
			req.FileID = res.File.ID
			res, err = svc.SaveFile(ctx, alice, req)
			require.NoError(t, err)
			assert.False(t, res.File.IsProjection())
			assert.Equal(t, []int{0}, res.Released)

			mine, err := svc.ListMyRows(ctx, alice, "attendance")
			require.NoError(t, err)
			assert.Empty(t, mine)

			pick, err := svc.Pick(ctx, bob, "attendance", 0)
			require.NoError(t, err)
			assert.Equal(t, core.PickOK, pick.Status, "the released row is free for others")
		})
	}
}

func TestSaveFile_ValidationNothingWritten(t *testing.T) {
	svc, _ := newService(t, 2)
	ctx := context.Background()

	_, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{
		Name:             "bad",
		FormatID:         "attendance",
		PickedRowIndices: []int{0},
		Rows:             []core.Row{{"Status": core.TextValue("Maybe")}},
	})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)

	mine, err := svc.ListMyRows(ctx, alice, "attendance")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestDeleteFile_ReleasesUnbackedRows(t *testing.T) {
	svc, _ := newService(t, 3)
	ctx := context.Background()

	first, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{Name: "one", FormatID: "attendance", PickedRowIndices: []int{0, 1}})
	require.NoError(t, err)
	_, err = svc.SaveFile(ctx, alice, core.SaveFileRequest{Name: "two", FormatID: "attendance", PickedRowIndices: []int{1}})
	require.NoError(t, err)

	released, err := svc.DeleteFile(ctx, alice, first.File.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, released, "row 1 is still backed by the second file")

	_, err = svc.GetFile(ctx, alice, first.File.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.DeleteFile(ctx, bob, first.File.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAdminRelease_TrimsProjection(t *testing.T) {
	svc, _ := newService(t, 2)
	ctx := context.Background()

	res, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{Name: "f", FormatID: "attendance", PickedRowIndices: []int{0, 1}})
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, admin, "attendance", 1))

	got, err := svc.GetFile(ctx, alice, res.File.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, got.PickedRowIndices)
}

func TestAdminRelease_KeepsRowRepickedDuringTrim(t *testing.T) {
	st := &interleavedStore{Store: memory.New()}
	svc := newServiceOver(t, st, 2)
	ctx := context.Background()

	res, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{Name: "f", FormatID: "attendance", PickedRowIndices: []int{0, 1}})
	require.NoError(t, err)

	// Alice saves the file again after the release listed her files but
	// before the trim is written, claiming row 1 back.
	st.afterListFiles = func() {
		_, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{FileID: res.File.ID, Name: "f", FormatID: "attendance", PickedRowIndices: []int{0, 1}})
		require.NoError(t, err)
	}
	require.NoError(t, svc.Release(ctx, admin, "attendance", 1))

	got, err := svc.GetFile(ctx, alice, res.File.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got.PickedRowIndices)

	mine, err := svc.ListMyRows(ctx, alice, "attendance")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, mine, "every held row is backed by the file")
}

func TestAssign(t *testing.T) {
	svc, _ := newService(t, 1)
	ctx := context.Background()

	_, err := svc.Assign(ctx, alice, "attendance", 0, core.Holder{ID: "u-bob", Label: "Bob"})
	assert.ErrorIs(t, err, core.ErrForbidden)

	_, err = svc.Pick(ctx, alice, "attendance", 0)
	require.NoError(t, err)

	r, err := svc.Assign(ctx, admin, "attendance", 0, core.Holder{ID: "u-bob", Label: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "u-bob", r.HolderID)

	mine, err := svc.ListMyRows(ctx, bob, "attendance")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, mine)
}

func TestPatchCell(t *testing.T) {
	svc, _ := newService(t, 1)
	ctx := context.Background()

	res, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{Name: "f", FormatID: "attendance", PickedRowIndices: []int{0}})
	require.NoError(t, err)

	_, err = svc.PatchCell(ctx, alice, res.File.ID, core.PatchCellRequest{RowIndex: 0, Column: "Name", Value: core.TextValue("x")})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, core.CodeLockedColumn, verr.Rows[0].Errors[0].Code)

	f, err := svc.PatchCell(ctx, alice, res.File.ID, core.PatchCellRequest{RowIndex: 0, Column: "status", Value: core.TextValue("absent")})
	require.NoError(t, err)
	assert.Equal(t, "Absent", f.Rows[0]["Status"].String())

	page, err := svc.ListTemplateRows(ctx, admin, "attendance", core.Page{})
	require.NoError(t, err)
	assert.Equal(t, "Absent", page.Rows[0].Row["Status"].String(), "projection edits land on the template")

	_, err = svc.PatchCell(ctx, alice, res.File.ID, core.PatchCellRequest{RowIndex: 3, Column: "Status", Value: core.TextValue("Present")})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMergeFiles(t *testing.T) {
	svc, _ := newService(t, 0)
	ctx := context.Background()

	save := func(name string, rows ...core.Row) *core.CreatedFile {
		t.Helper()
		res, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{Name: name, FormatID: "attendance", Rows: rows})
		require.NoError(t, err)
		return res.File
	}
	a := save("a", core.Row{"EmployeeID": core.TextValue("E1"), "Status": core.TextValue("Present")})
	b := save("b", core.Row{"EmployeeID": core.TextValue("E2"), "Status": core.TextValue("Absent")})

	first, err := svc.MergeFiles(ctx, alice, core.MergeRequest{FileIDs: []string{a.ID, b.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, first.File.MergeCount)
	assert.True(t, first.File.IsMerged)
	assert.Equal(t, []string{a.ID, b.ID}, first.File.MergedFromFileIDs)
	require.NotNil(t, first.Record.Attendance)
	assert.Equal(t, 1, first.Record.Attendance.Present)
	assert.Equal(t, 1, first.Record.Attendance.Absent)

	c := save("c", core.Row{"EmployeeID": core.TextValue("E3"), "Status": core.TextValue("Leave")})
	second, err := svc.MergeFiles(ctx, alice, core.MergeRequest{FileIDs: []string{first.File.ID, c.ID}, Name: "all"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.File.MergeCount)
	assert.Equal(t, "all", second.File.Name)
	assert.Len(t, second.File.Rows, 3)

	bumped, err := svc.GetFile(ctx, alice, first.File.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, bumped.MergeCount, "merged sources are bumped")
}

func TestMergeFiles_RefusalWritesNothing(t *testing.T) {
	svc, _ := newService(t, 0)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a", "b"} {
		res, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{
			Name:     name,
			FormatID: "attendance",
			Rows:     []core.Row{{"EmployeeID": core.TextValue("E1"), "Status": core.TextValue("Present")}},
		})
		require.NoError(t, err)
		ids = append(ids, res.File.ID)
	}

	_, err := svc.MergeFiles(ctx, alice, core.MergeRequest{FileIDs: ids})
	var merr *core.MergeError
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Duplicates, 1)
	assert.Equal(t, ids[0], merr.Duplicates[0].First.FileID)
	assert.Equal(t, ids[1], merr.Duplicates[0].Duplicate.FileID)

	files, err := svc.ListFiles(ctx, alice, false)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = svc.MergeFiles(ctx, alice, core.MergeRequest{FileIDs: []string{ids[0], ids[0]}})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.MergeFiles(ctx, bob, core.MergeRequest{FileIDs: ids})
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestIngest(t *testing.T) {
	svc, _ := newService(t, 0)
	ctx := context.Background()

	raw := []map[string]string{
		{"Employee ID": "e1", "Date": "05/03/2024", "Status": "Absent", "Name": "Ada", "Site": "Head Office"},
		{"Employee ID": "e1", "Date": "2024-03-05", "Status": "Present"},
		{"Employee ID": "e2", "Date": "2024-03-05"},
		{"Date": "2024-03-05"},
	}

	_, err := svc.Ingest(ctx, alice, raw)
	require.ErrorIs(t, err, core.ErrForbidden)

	res, err := svc.Ingest(ctx, admin, raw)
	require.NoError(t, err)
	assert.Equal(t, 2, res.MergedCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 2, res.EntitiesCreated)

	recs, err := svc.Attendance(ctx, " e1 ")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Present", recs[0].Status, "last write wins")

	res, err = svc.Ingest(ctx, admin, raw[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, res.EntitiesCreated)
	assert.Equal(t, 0, res.EntitiesUpdated, "unchanged entities are not rewritten")
}

func TestReconcile(t *testing.T) {
	svc, st := newService(t, 3)
	ctx := context.Background()

	res, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{Name: "f", FormatID: "attendance", PickedRowIndices: []int{0, 2}})
	require.NoError(t, err)

	// Shrink the template behind the service's back.
	require.NoError(t, st.ReplaceTemplateRows(ctx, "attendance", []core.Row{templateRow("E0", "x")}))

	stats, err := svc.Reconcile(ctx, "attendance")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ProjectionsFixed)

	f, err := st.GetFile(ctx, res.File.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, f.PickedRowIndices)
}

func TestReconcile_SkipsFileSavedDuringPass(t *testing.T) {
	st := &interleavedStore{Store: memory.New()}
	svc := newServiceOver(t, st, 3)
	ctx := context.Background()

	res, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{Name: "f", FormatID: "attendance", PickedRowIndices: []int{0, 1}})
	require.NoError(t, err)

	// Row 1 loses its reservation behind the service's back, so the pass
	// wants to trim it. Alice re-saves between the pass's reads and its write.
	_, err = st.ReleaseRow(ctx, "attendance", 1, "")
	require.NoError(t, err)
	st.afterListReservations = func() {
		_, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{FileID: res.File.ID, Name: "f", FormatID: "attendance", PickedRowIndices: []int{0, 1, 2}})
		require.NoError(t, err)
	}

	stats, err := svc.Reconcile(ctx, "attendance")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ProjectionsFixed)
	assert.Equal(t, 1, stats.ProjectionsSkipped)

	f, err := st.GetFile(ctx, res.File.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, f.PickedRowIndices, "the concurrent save is not reverted")

	mine, err := svc.ListMyRows(ctx, alice, "attendance")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, mine)

	stats, err = svc.Reconcile(ctx, "attendance")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ProjectionsFixed+stats.ProjectionsSkipped, "nothing left to repair")
}

// Two users pick rows through their saves, one save is refused for an
// out-of-options status, and the merge of the accepted file counts it.
func TestAttendanceRoundTrip(t *testing.T) {
	svc, _ := newService(t, 2)
	ctx := context.Background()

	a, err := svc.SaveFile(ctx, alice, core.SaveFileRequest{
		Name:             "alice",
		FormatID:         "attendance",
		PickedRowIndices: []int{0},
		Rows:             []core.Row{{"Status": core.TextValue("present")}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, a.Picked)
	require.Len(t, a.File.Rows, 1)
	assert.Equal(t, "Present", a.File.Rows[0]["Status"].String())

	_, err = svc.SaveFile(ctx, bob, core.SaveFileRequest{
		Name:             "bob",
		FormatID:         "attendance",
		PickedRowIndices: []int{1},
		Rows:             []core.Row{{"Status": core.TextValue("Late")}},
	})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, verr.Rows)
	require.Len(t, verr.Dropdowns, 1)
	assert.Equal(t, "Status", verr.Dropdowns[0].Column)
	assert.Equal(t, "Late", verr.Dropdowns[0].Value)
	assert.Equal(t, []string{"Present", "Absent", "Leave"}, verr.Dropdowns[0].Allowed)

	bobRows, err := svc.ListMyRows(ctx, bob, "attendance")
	require.NoError(t, err)
	assert.Empty(t, bobRows, "a refused save reserves nothing")
	bobFiles, err := svc.ListFiles(ctx, bob, false)
	require.NoError(t, err)
	assert.Empty(t, bobFiles)

	merged, err := svc.MergeFiles(ctx, alice, core.MergeRequest{FileIDs: []string{a.File.ID}})
	require.NoError(t, err)
	got := merged.Record.Attendance
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Present)
	assert.Equal(t, 0, got.Absent)
	assert.Equal(t, 0, got.Other)
	assert.Equal(t, 1, got.Total)
}

func TestErrorsAreClassified(t *testing.T) {
	svc, _ := newService(t, 1)
	ctx := context.Background()

	_, err := svc.GetFormat(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotFound))
	assert.Equal(t, core.MapError(err).Code, core.MapError(fmt.Errorf("x: %w", core.ErrNotFound)).Code)
}
