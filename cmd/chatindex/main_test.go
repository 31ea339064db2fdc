package main

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/search"
)

func TestRootCmd_Structure(t *testing.T) {
	root := newRootCmd()
	require.NotNil(t, root.RunE, "run is the default command")

	for _, name := range []string{"run", "replay", "search"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))

	searchCmd, _, err := root.Find([]string{"search"})
	require.NoError(t, err)
	assert.NotNil(t, searchCmd.Flags().Lookup("type"))
	assert.NotNil(t, searchCmd.Flags().Lookup("offset"))
}

func TestRun_ArgumentErrors(t *testing.T) {
	assert.Equal(t, 1, run(context.Background(), []string{"replay"}), "replay needs a log path")
	assert.Equal(t, 1, run(context.Background(), []string{"search"}), "search needs terms")
	assert.Equal(t, 1, run(context.Background(), []string{"bogus"}))
}

func TestPrintPage(t *testing.T) {
	var buf bytes.Buffer
	page := &search.Page{
		Total:  1,
		Status: search.StatusMiss,
		Rows: []database.IndexRow{{
			ChatID:      -100,
			MessageID:   7,
			Body:        "multi\nline   body",
			EventTime:   time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
			DocType:     "text",
			ForwardFrom: sql.NullInt64{},
		}},
	}
	require.NoError(t, printPage(&buf, page))
	out := buf.String()
	assert.Contains(t, out, "1 results (offset 0, cache miss)")
	assert.Contains(t, out, "multi line body")
	assert.Contains(t, out, "2024-06-01 12:30")
}
