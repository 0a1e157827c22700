package deduplication

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsdedup/types"
)

func TestParseYes(t *testing.T) {
	for reply, want := range map[string]bool{
		"YES":               true,
		"yes.":              true,
		"  Yes, same event": true,
		"NO":                false,
		"":                  false,
		"I think yes":       false,
		"nope":              false,
	} {
		assert.Equal(t, want, ParseYes(reply), "reply %q", reply)
	}
}

func TestArbitrationPrompt(t *testing.T) {
	a := types.Article{Title: "Quake hits coast", Description: strings.Repeat("x", 400)}
	b := types.Article{Title: "Earthquake strikes", Description: "short"}

	prompt := ArbitrationPrompt(a, b)
	assert.True(t, strings.HasPrefix(prompt, "You are a news analyst."))
	assert.Contains(t, prompt, "TITLE: Quake hits coast\nSUMMARY: "+strings.Repeat("x", SummaryChars)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("x", SummaryChars+1))
	assert.Contains(t, prompt, "TITLE: Earthquake strikes\nSUMMARY: short")
	assert.True(t, strings.HasSuffix(prompt, "Respond with YES or NO."))
}

func TestArbitratorFailsOpen(t *testing.T) {
	ctx := context.Background()
	x, y := types.Article{Title: "x"}, types.Article{Title: "y"}

	var disabled *Arbitrator
	assert.False(t, disabled.Enabled())
	assert.False(t, NewArbitrator(nil, 0, zerolog.Nop()).SameEvent(ctx, x, y))

	failing := NewArbitrator(&fakeOracle{err: errors.New("timeout")}, time.Second, zerolog.Nop())
	assert.True(t, failing.Enabled())
	assert.False(t, failing.SameEvent(ctx, x, y))

	yes := NewArbitrator(&fakeOracle{reply: "YES"}, time.Second, zerolog.Nop())
	assert.True(t, yes.SameEvent(ctx, x, y))
}

func TestArbitratorAppliesTimeout(t *testing.T) {
	oracle := oracleFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	a := NewArbitrator(oracle, 30*time.Millisecond, zerolog.Nop())
	assert.False(t, a.SameEvent(context.Background(), types.Article{}, types.Article{}))
}

type oracleFunc func(ctx context.Context, prompt string) (string, error)

func (f oracleFunc) Ask(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

func TestOllamaOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaGenerateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultOllamaLLMModel, req.Model)
		assert.False(t, req.Stream)
		assert.EqualValues(t, 0, req.Options["temperature"])
		assert.EqualValues(t, 3, req.Options["num_predict"])
		_, _ = w.Write([]byte(`{"response":" YES\n","done":true}`))
	}))
	defer srv.Close()

	reply, err := NewOllamaOracle(srv.URL, "", time.Second).Ask(context.Background(), "same?")
	require.NoError(t, err)
	assert.Equal(t, "YES", reply)
}

func TestOllamaOracleErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllamaOracle(srv.URL, "m", time.Second).Ask(context.Background(), "same?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestAnthropicOracleRequiresKey(t *testing.T) {
	_, err := NewAnthropicOracle("", "")
	assert.Error(t, err)
}
