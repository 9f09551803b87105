// Package storetest is a conformance suite run against every core.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/TemplatePick/internal/core"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) core.Store

// Run executes the suite. Each subtest gets a fresh store.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s core.Store)
	}{
		{"Formats", testFormats},
		{"TemplateRows", testTemplateRows},
		{"ReplaceShrinkReleases", testReplaceShrinkReleases},
		{"ClaimExclusive", testClaimExclusive},
		{"ClaimReturnsOwner", testClaimReturnsOwner},
		{"AssignAndRelease", testAssignAndRelease},
		{"AssignConcurrentReportsEveryHolder", testAssignConcurrent},
		{"ReleaseBeyond", testReleaseBeyond},
		{"FileRoundTrip", testFileRoundTrip},
		{"FileTemplatePatches", testFileTemplatePatches},
		{"FileVersionPrecondition", testFileVersion},
		{"FileListAndDelete", testFileListAndDelete},
		{"CommitMerge", testCommitMerge},
		{"Ingest", testIngest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(s.Close)
			tt.fn(t, s)
		})
	}
}

var epoch = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func rosterFormat() core.Format {
	return core.Format{
		ID:   "roster",
		Name: "Roster",
		Columns: []core.Column{
			{Name: "EmployeeID", Order: 0, Type: core.ColumnText, Required: true, Unique: true},
			{Name: "Hours", Order: 1, Type: core.ColumnNumber, EditableByUser: true},
			{Name: "Day", Order: 2, Type: core.ColumnDate, EditableByUser: true},
			{Name: "Status", Order: 3, Type: core.ColumnEnum, EditableByUser: true, EnumOptions: []string{"Present", "Absent"}},
		},
		StatusColumn: "Status",
	}
}

func templateRow(i int) core.Row {
	return core.Row{
		"EmployeeID": core.TextValue(fmt.Sprintf("E%03d", i)),
		"Hours":      core.NumberValue(float64(i) + 0.5),
		"Day":        core.DateValue(epoch.AddDate(0, 0, i)),
		"Status":     core.EnumValue("Present"),
	}
}

func seed(t *testing.T, s core.Store, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveFormat(ctx, rosterFormat()))
	rows := make([]core.Row, n)
	for i := range rows {
		rows[i] = templateRow(i)
	}
	require.NoError(t, s.ReplaceTemplateRows(ctx, "roster", rows))
}

func reservation(idx int, holder string) core.Reservation {
	return core.Reservation{
		FormatID:    "roster",
		RowIndex:    idx,
		HolderID:    holder,
		HolderLabel: "Label " + holder,
		ReservedAt:  epoch,
	}
}

func testFormats(t *testing.T, s core.Store) {
	ctx := context.Background()

	_, err := s.GetFormat(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound), "GetFormat(missing) = %v", err)

	f := rosterFormat()
	min, max := 0.0, 24.0
	f.Columns[1].Range = &core.NumericRange{Min: &min, Max: &max}
	require.NoError(t, s.SaveFormat(ctx, f))

	got, err := s.GetFormat(ctx, "roster")
	require.NoError(t, err)
	assert.Equal(t, f, *got)

	f.Name = "Roster v2"
	require.NoError(t, s.SaveFormat(ctx, f))
	got, err = s.GetFormat(ctx, "roster")
	require.NoError(t, err)
	assert.Equal(t, "Roster v2", got.Name)

	require.NoError(t, s.SaveFormat(ctx, core.Format{ID: "a-first", Name: "A"}))
	list, err := s.ListFormats(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a-first", list[0].ID)
	assert.Equal(t, "roster", list[1].ID)
}

func testTemplateRows(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 10)

	n, err := s.CountTemplateRows(ctx, "roster")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	page, err := s.ListTemplateRows(ctx, "roster", 4, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, templateRow(4), page[0])
	assert.Equal(t, templateRow(6), page[2])

	tail, err := s.ListTemplateRows(ctx, "roster", 8, 100)
	require.NoError(t, err)
	assert.Len(t, tail, 2)

	beyond, err := s.ListTemplateRows(ctx, "roster", 50, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond)

	got, err := s.GetTemplateRows(ctx, "roster", []int{1, 9, 42})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, templateRow(9), got[9])
	_, ok := got[42]
	assert.False(t, ok, "stale index must be omitted")

	updated := templateRow(1)
	updated["Hours"] = core.NumberValue(8)
	require.NoError(t, s.UpdateTemplateRow(ctx, "roster", 1, updated))
	got, err = s.GetTemplateRows(ctx, "roster", []int{1})
	require.NoError(t, err)
	assert.Equal(t, updated, got[1])

	err = s.UpdateTemplateRow(ctx, "roster", 99, updated)
	assert.True(t, errors.Is(err, core.ErrNotFound), "UpdateTemplateRow(99) = %v", err)
}

func testReplaceShrinkReleases(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 5)

	for _, i := range []int{0, 3, 4} {
		_, ok, err := s.ClaimRow(ctx, reservation(i, "u1"))
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, s.ReplaceTemplateRows(ctx, "roster", []core.Row{templateRow(0), templateRow(1), templateRow(2)}))

	held, err := s.ListHolderRows(ctx, "roster", "u1")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, held)
}

func testClaimExclusive(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 1)

	const workers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		owners  = make(map[string]bool)
	)
	start := make(chan struct{})
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(holder string) {
			defer wg.Done()
			<-start
			owner, claimed, err := s.ClaimRow(ctx, reservation(0, holder))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			owners[owner.HolderID] = true
			if claimed {
				winners = append(winners, holder)
			}
		}(fmt.Sprintf("u%02d", w))
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1, "exactly one claim must win")
	assert.Len(t, owners, 1, "every caller must observe the same owner")
	assert.True(t, owners[winners[0]])

	all, err := s.ListReservations(ctx, "roster")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, winners[0], all[0].HolderID)
}

func testClaimReturnsOwner(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 2)

	r := reservation(1, "alice")
	owner, claimed, err := s.ClaimRow(ctx, r)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "alice", owner.HolderID)

	owner, claimed, err = s.ClaimRow(ctx, reservation(1, "bob"))
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "alice", owner.HolderID)
	assert.Equal(t, "Label alice", owner.HolderLabel)
	assert.True(t, owner.ReservedAt.Equal(epoch), "ReservedAt = %v", owner.ReservedAt)

	owner, claimed, err = s.ClaimRow(ctx, reservation(1, "alice"))
	require.NoError(t, err)
	assert.False(t, claimed, "a repeat claim by the holder creates nothing")
	assert.Equal(t, "alice", owner.HolderID)
}

func testAssignAndRelease(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 3)

	prev, err := s.AssignRow(ctx, reservation(2, "alice"))
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = s.AssignRow(ctx, reservation(2, "bob"))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "alice", prev.HolderID)

	_, err = s.ReleaseRow(ctx, "roster", 2, "alice")
	assert.True(t, errors.Is(err, core.ErrNotFound), "release by non-holder = %v", err)

	released, err := s.ReleaseRow(ctx, "roster", 2, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", released.HolderID)

	_, err = s.ReleaseRow(ctx, "roster", 2, "")
	assert.True(t, errors.Is(err, core.ErrNotFound), "release of free row = %v", err)

	_, _, err = s.ClaimRow(ctx, reservation(0, "carol"))
	require.NoError(t, err)
	released, err = s.ReleaseRow(ctx, "roster", 0, "")
	require.NoError(t, err)
	assert.Equal(t, "carol", released.HolderID)

	_, claimed, err := s.ClaimRow(ctx, reservation(0, "dave"))
	require.NoError(t, err)
	assert.True(t, claimed, "a released row can be picked again")
}

func testReleaseBeyond(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 6)

	for i := 0; i < 6; i++ {
		_, _, err := s.ClaimRow(ctx, reservation(i, "u1"))
		require.NoError(t, err)
	}
	n, err := s.ReleaseBeyond(ctx, "roster", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	held, err := s.ListHolderRows(ctx, "roster", "u1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, held)

	none, err := s.ListHolderRows(ctx, "roster", "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func sampleFile(id, owner string) *core.CreatedFile {
	return &core.CreatedFile{
		ID:         id,
		Name:       "File " + id,
		OwnerID:    owner,
		OwnerLabel: "Label " + owner,
		FormatID:   "roster",
		Rows: []core.Row{
			templateRow(0),
			{"EmployeeID": core.TextValue("X9"), "Hours": core.Value{}},
		},
		CreatedAt:    epoch,
		LastEditedAt: epoch.Add(time.Hour),
		LastEditedBy: "Label " + owner,
	}
}

func testFileRoundTrip(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 3)

	_, err := s.GetFile(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound), "GetFile(missing) = %v", err)

	plain := sampleFile("f1", "alice")
	require.NoError(t, s.SaveFile(ctx, core.FileSave{File: plain}))

	got, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	assertFileEqual(t, plain, got)
	assert.False(t, got.IsProjection())

	proj := &core.CreatedFile{
		ID:               "p1",
		Name:             "Projection",
		OwnerID:          "alice",
		OwnerLabel:       "Label alice",
		FormatID:         "roster",
		PickedRowIndices: []int{},
		CreatedAt:        epoch,
		LastEditedAt:     epoch,
	}
	require.NoError(t, s.SaveFile(ctx, core.FileSave{File: proj}))
	got, err = s.GetFile(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.IsProjection(), "an empty pick list must survive a round trip")

	proj.PickedRowIndices = []int{2, 0}
	require.NoError(t, s.SaveFile(ctx, core.FileSave{File: proj}))
	got, err = s.GetFile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, got.PickedRowIndices)
}

// Assigning a free row from many goroutines must form one chain: exactly
// one assign sees the row free and every other holder is reported as
// superseded exactly once.
func testAssignConcurrent(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 1)

	const workers = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		free  int
		prevs = make(map[string]int)
	)
	start := make(chan struct{})
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(holder string) {
			defer wg.Done()
			<-start
			prev, err := s.AssignRow(ctx, reservation(0, holder))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if prev == nil {
				free++
				return
			}
			prevs[prev.HolderID]++
		}(fmt.Sprintf("u%02d", w))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, free, "exactly one assign may see the row free")
	assert.Len(t, prevs, workers-1)
	for holder, n := range prevs {
		assert.Equal(t, 1, n, "holder %s superseded %d times", holder, n)
	}

	all, err := s.ListReservations(ctx, "roster")
	require.NoError(t, err)
	require.Len(t, all, 1)
	_, superseded := prevs[all[0].HolderID]
	assert.False(t, superseded, "the final holder was never superseded")
}

func testFileVersion(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 3)

	f := sampleFile("v1", "alice")
	err := s.SaveFile(ctx, core.FileSave{File: f, IfVersion: 1})
	assert.True(t, errors.Is(err, core.ErrNotFound), "conditional save of a new file = %v", err)

	require.NoError(t, s.SaveFile(ctx, core.FileSave{File: f}))
	assert.Equal(t, 1, f.Version)

	snapshot, err := s.GetFile(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Version)

	// A newer write lands between the snapshot and the conditional write.
	f.Name = "renamed"
	require.NoError(t, s.SaveFile(ctx, core.FileSave{File: f}))
	assert.Equal(t, 2, f.Version)

	snapshot.Name = "stale"
	err = s.SaveFile(ctx, core.FileSave{File: snapshot, IfVersion: snapshot.Version})
	assert.True(t, errors.Is(err, core.ErrStale), "stale conditional save = %v", err)

	got, err := s.GetFile(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name, "stale write must not land")

	got.Name = "fresh"
	require.NoError(t, s.SaveFile(ctx, core.FileSave{File: got, IfVersion: got.Version}))
	assert.Equal(t, 3, got.Version)

	// Bumping the merge count is a write too.
	require.NoError(t, s.CommitMerge(ctx, sampleFile("out", "alice"), []string{"v1"}))
	got, err = s.GetFile(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Version)
}

func testFileTemplatePatches(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 3)

	patched := templateRow(1)
	patched["Hours"] = core.NumberValue(7.25)
	file := &core.CreatedFile{
		ID:               "p1",
		Name:             "Projection",
		OwnerID:          "alice",
		FormatID:         "roster",
		PickedRowIndices: []int{1},
		CreatedAt:        epoch,
		LastEditedAt:     epoch,
	}
	require.NoError(t, s.SaveFile(ctx, core.FileSave{File: file, TemplateRows: map[int]core.Row{1: patched}}))

	rows, err := s.GetTemplateRows(ctx, "roster", []int{1})
	require.NoError(t, err)
	assert.Equal(t, patched, rows[1])

	// A patch on a stale index fails the whole save.
	bad := *file
	bad.ID = "p2"
	err = s.SaveFile(ctx, core.FileSave{File: &bad, TemplateRows: map[int]core.Row{0: templateRow(9), 99: templateRow(9)}})
	assert.True(t, errors.Is(err, core.ErrNotFound), "SaveFile with stale patch = %v", err)

	_, err = s.GetFile(ctx, "p2")
	assert.True(t, errors.Is(err, core.ErrNotFound), "file must not be written")
	rows, err = s.GetTemplateRows(ctx, "roster", []int{0})
	require.NoError(t, err)
	assert.Equal(t, templateRow(0), rows[0], "template must be unchanged")
}

func testFileListAndDelete(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 1)
	require.NoError(t, s.SaveFormat(ctx, core.Format{ID: "other", Name: "Other"}))

	a1 := sampleFile("a1", "alice")
	a2 := sampleFile("a2", "alice")
	a2.CreatedAt = epoch.Add(time.Minute)
	b1 := sampleFile("b1", "bob")
	b1.FormatID = "other"
	for _, f := range []*core.CreatedFile{a2, b1, a1} {
		require.NoError(t, s.SaveFile(ctx, core.FileSave{File: f}))
	}

	mine, err := s.ListFiles(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "a1", mine[0].ID)
	assert.Equal(t, "a2", mine[1].ID)

	all, err := s.ListFiles(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byFormat, err := s.ListFilesByFormat(ctx, "other")
	require.NoError(t, err)
	require.Len(t, byFormat, 1)
	assert.Equal(t, "b1", byFormat[0].ID)

	require.NoError(t, s.DeleteFile(ctx, "a1"))
	err = s.DeleteFile(ctx, "a1")
	assert.True(t, errors.Is(err, core.ErrNotFound), "second delete = %v", err)

	mine, err = s.ListFiles(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func testCommitMerge(t *testing.T, s core.Store) {
	ctx := context.Background()
	seed(t, s, 1)

	src := sampleFile("m1", "alice")
	src.IsMerged = true
	src.MergeCount = 2
	require.NoError(t, s.SaveFile(ctx, core.FileSave{File: src}))

	out := sampleFile("out", "alice")
	out.IsMerged = true
	out.MergedFromFileIDs = []string{"m1", "f9"}
	out.MergeCount = 3
	require.NoError(t, s.CommitMerge(ctx, out, []string{"m1"}))

	got, err := s.GetFile(ctx, "out")
	require.NoError(t, err)
	assertFileEqual(t, out, got)

	bumped, err := s.GetFile(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 3, bumped.MergeCount)

	// A missing source aborts the commit.
	out2 := sampleFile("out2", "alice")
	err = s.CommitMerge(ctx, out2, []string{"m1", "gone"})
	assert.Error(t, err)
	_, err = s.GetFile(ctx, "out2")
	assert.True(t, errors.Is(err, core.ErrNotFound), "output must not be written")
	bumped, err = s.GetFile(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 3, bumped.MergeCount, "sources must be unchanged")
}

func testIngest(t *testing.T, s core.Store) {
	ctx := context.Background()

	entities := []core.Entity{
		{ID: "E1", Name: "Ann", Site: "Head Office", SiteCategory: "office", UpdatedAt: epoch},
		{ID: "E2", Name: "Bo", Site: "North Camp", SiteCategory: "site", Designation: "Welder", UpdatedAt: epoch},
	}
	var records []core.AttendanceRecord
	for d := 0; d < 5; d++ {
		records = append(records, core.AttendanceRecord{
			EntityID: "E1",
			Date:     epoch.AddDate(0, 0, d).Truncate(24 * time.Hour),
			Status:   "Present",
			Site:     "Head Office",
		})
	}
	records[2].Extra = map[string]string{"shift": "night"}
	require.NoError(t, s.CommitIngest(ctx, entities, records, 2))

	got, err := s.GetEntities(ctx, []string{"E1", "E2", "E3"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Welder", got["E2"].Designation)
	assert.Equal(t, "office", got["E1"].SiteCategory)

	att, err := s.GetAttendance(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, att, 5)
	for i := 1; i < len(att); i++ {
		assert.True(t, att[i-1].Date.Before(att[i].Date), "attendance must be ordered by date")
	}
	assert.Equal(t, "night", att[2].Extra["shift"])

	// Upsert: same key overwrites, changed entity updates.
	entities[0].Name = "Ann Lee"
	again := records[0]
	again.Status = "Absent"
	require.NoError(t, s.CommitIngest(ctx, entities[:1], []core.AttendanceRecord{again}, 500))

	got, err = s.GetEntities(ctx, []string{"E1"})
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", got["E1"].Name)

	att, err = s.GetAttendance(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, att, 5)
	assert.Equal(t, "Absent", att[0].Status)
	assert.True(t, att[0].Date.Equal(records[0].Date), "date = %v, want %v", att[0].Date, records[0].Date)
}

func assertFileEqual(t *testing.T, want, got *core.CreatedFile) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.OwnerID, got.OwnerID)
	assert.Equal(t, want.OwnerLabel, got.OwnerLabel)
	assert.Equal(t, want.FormatID, got.FormatID)
	assert.Equal(t, want.PickedRowIndices, got.PickedRowIndices)
	assert.Equal(t, want.IsMerged, got.IsMerged)
	assert.Equal(t, want.MergedFromFileIDs, got.MergedFromFileIDs)
	assert.Equal(t, want.MergeCount, got.MergeCount)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	assert.True(t, want.LastEditedAt.Equal(got.LastEditedAt), "LastEditedAt = %v, want %v", got.LastEditedAt, want.LastEditedAt)
	assert.Equal(t, want.LastEditedBy, got.LastEditedBy)

	require.Len(t, got.Rows, len(want.Rows))
	for i := range want.Rows {
		for col, v := range want.Rows[i] {
			gv, ok := got.Rows[i][col]
			if assert.True(t, ok, "row %d column %s missing", i, col) {
				assert.Equal(t, v.Kind(), gv.Kind(), "row %d column %s kind", i, col)
				assert.True(t, v.Equal(gv), "row %d column %s = %v, want %v", i, col, gv, v)
			}
		}
	}
}
