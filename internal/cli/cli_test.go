package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/config"
	"github.com/ashureev/vulndash/internal/domain"
	"github.com/ashureev/vulndash/internal/suggest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func events(evs ...assist.StreamEvent) *assist.Assistance {
	ch := make(chan assist.StreamEvent, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return &assist.Assistance{Events: ch}
}

func TestPrintSuggestion_WritesDeltas(t *testing.T) {
	var buf bytes.Buffer
	err := printSuggestion(&buf, events(
		assist.StreamEvent{Type: assist.EventPartial, Text: "Upgrade "},
		assist.StreamEvent{Type: assist.EventPartial, Text: "Upgrade lodash"},
		assist.StreamEvent{Type: assist.EventCompleted, Text: "Upgrade lodash to 4.17.21"},
	))
	require.NoError(t, err)
	assert.Equal(t, "Upgrade lodash to 4.17.21\n", buf.String())
}

func TestPrintSuggestion_Failure(t *testing.T) {
	var buf bytes.Buffer
	err := printSuggestion(&buf, events(
		assist.StreamEvent{Type: assist.EventPartial, Text: "Upg"},
		assist.StreamEvent{Type: assist.EventFailed, Kind: assist.KindNetworkError, Message: "boom"},
	))
	var aerr *assist.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, assist.KindNetworkError, aerr.Kind)
	assert.Equal(t, "Upg\n", buf.String())

	err = printSuggestion(&buf, events(assist.StreamEvent{Type: assist.EventCancelled}))
	assert.ErrorIs(t, err, errSuggestionCancelled)
}

func TestReadAlert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alert.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"9","package":"lodash","severity":"high"}`), 0o600))

	alert, err := readAlert(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "lodash", alert.Package)
	assert.Equal(t, domain.SeverityHigh, alert.Severity)

	alert, err = readAlert("-", strings.NewReader(`{"id":"10"}`))
	require.NoError(t, err)
	assert.Equal(t, "10", alert.ID)

	_, err = readAlert(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}

func TestClearLocalCache(t *testing.T) {
	c := config.Default().Cache
	c.DBPath = filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	repo, err := openStore(c, nil)
	require.NoError(t, err)
	require.NoError(t, repo.PutSuggestion(ctx, &domain.Suggestion{AlertID: "1", Text: "fix", CreatedAt: time.Now()}))
	require.NoError(t, repo.Close())

	var out bytes.Buffer
	require.NoError(t, clearLocalCache(ctx, c, &out))
	assert.Contains(t, out.String(), "Removed 1 cached suggestion(s)")
}

func TestNewTransport(t *testing.T) {
	c := config.Default()

	tr, closeFn, err := newTransport(context.Background(), c, nil)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &suggest.HTTPTransport{}, tr)

	c.Suggest.Transport = config.TransportOpenAI
	_, _, err = newTransport(context.Background(), c, nil)
	assert.Error(t, err, "openai transport without credentials")

	c.Suggest.OpenAI.APIKey = "sk-test"
	tr, _, err = newTransport(context.Background(), c, nil)
	require.NoError(t, err)
	assert.IsType(t, &suggest.OpenAIGenerator{}, tr)
}

func TestSessionConfig(t *testing.T) {
	c := config.Default()
	sc := sessionConfig(c, nil)
	assert.Equal(t, 30*time.Second, sc.Timeout)
	assert.Equal(t, assist.DefaultCompletionMarker, sc.CompletionMarker)

	c.Suggest.Timeout = 0
	assert.Negative(t, sessionConfig(c, nil).Timeout)
}
