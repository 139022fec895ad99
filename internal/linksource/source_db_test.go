package linksource_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkcheck/internal/linksource"
	"linkcheck/internal/logger"
	"linkcheck/internal/testutil"
)

func TestSource_Postgres(t *testing.T) {
	database, cleanup := testutil.TestDB(t)
	defer cleanup()
	ctx := context.Background()

	testutil.SeedContent(t, database,
		testutil.HTMLRecord(1, 10, `<p><a href="https://a.example/">a</a> <a href="https://b.example/x">b</a></p>`),
		testutil.HTMLRecord(2, 20, `<a href="https://c.example/">c</a>`),
	)

	s := linksource.New(database, logger.NewNop())

	all, err := s.Candidates(ctx, nil, []string{"external"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := s.Candidates(ctx, []int64{20}, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "https://c.example/", page[0].URL)

	ok, err := s.RecordContains(ctx, "tt_content", 1, "https://b.example/x")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := s.RecordLinks(ctx, "tt_content", 3)
	require.NoError(t, err)
	assert.False(t, found)
}
