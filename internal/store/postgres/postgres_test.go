package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/TemplatePick/internal/config"
	"github.com/JonMunkholm/TemplatePick/internal/core"
	"github.com/JonMunkholm/TemplatePick/internal/store/storetest"
)

// newTestStore connects to TEST_DATABASE_URL and empties every table.
// Tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := New(ctx, config.DatabaseConfig{URL: url, MaxConns: 8})
	require.NoError(t, err)

	_, err = s.pool.Exec(ctx,
		`TRUNCATE formats, template_rows, reservations, created_files, entities, attendance`)
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	storetest.Run(t, func(t *testing.T) core.Store {
		return newTestStore(t)
	})
}

func TestNew_EmptyURL(t *testing.T) {
	_, err := New(context.Background(), config.DatabaseConfig{})
	require.Error(t, err)
}
