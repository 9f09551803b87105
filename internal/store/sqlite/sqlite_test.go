package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JonMunkholm/TemplatePick/internal/config"
	"github.com/JonMunkholm/TemplatePick/internal/core"
	"github.com/JonMunkholm/TemplatePick/internal/store"
	"github.com/JonMunkholm/TemplatePick/internal/store/storetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store {
		return newTestStore(t)
	})
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SaveFormat(ctx, core.Format{ID: "roster", Name: "Roster"}))
	s.Close()

	// Schema application is idempotent and data survives.
	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	f, err := s.GetFormat(ctx, "roster")
	require.NoError(t, err)
	assert.Equal(t, "Roster", f.Name)
}

func TestRegistered(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "registry.db"),
	})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))
}

func TestReplaceTemplateRows_UnknownFormat(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	err := s.ReplaceTemplateRows(context.Background(), "missing", []core.Row{{"A": core.TextValue("x")}})
	assert.True(t, errors.Is(err, core.ErrNotFound), "err = %v", err)
}
