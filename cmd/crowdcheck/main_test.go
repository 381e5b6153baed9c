package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-crowdcheck/infrastructure/llm"
	"github.com/ahrav/go-crowdcheck/internal/application"
	"github.com/ahrav/go-crowdcheck/internal/domain"
	"github.com/ahrav/go-crowdcheck/internal/ports"
)

func noEnv(string) string { return "" }

func TestRun_SingleContext(t *testing.T) {
	in := strings.NewReader(`{"answer_text":"4","question_text":"Rate it","question_kind":"rating","other_answers":["4","4","4","5"]}`)
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"-env-file", ""}, in, &out, &errOut, noEnv)
	require.NoError(t, err, errOut.String())

	var result domain.ValidationResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	require.NotNil(t, result.Details.MajorityVoting)
	assert.Equal(t, "4", result.Details.MajorityVoting.MajorityValue)
	assert.InDelta(t, 75.0, result.Details.MajorityVoting.Confidence, 1e-9)
	assert.NotNil(t, result.Details.MLConfidence)
	assert.NotEmpty(t, result.ID)
}

func TestRun_BatchFromFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "answers.json")
	require.NoError(t, os.WriteFile(input, []byte(`[
  {"answer_text":"No","question_kind":"multiple_choice","other_answers":["Yes","yes","No"]},
  {"answer_text":"a first answer","question_kind":"open_text","other_answers":[]},
  {"answer_text":"x","question_kind":"audio","contributor_trust_score":10}
]`), 0o600))

	policy := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policy, []byte("thresholds:\n  trust: 30\n"), 0o600))

	var out, errOut bytes.Buffer
	err := run(context.Background(),
		[]string{"-input", input, "-policy", policy, "-env-file", "", "-log-level", "debug"},
		strings.NewReader(""), &out, &errOut, noEnv)
	require.NoError(t, err, errOut.String())

	var results []domain.ValidationResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 3)

	assert.True(t, results[0].ShouldFlag)
	assert.Contains(t, results[0].FlagReason, "66.7%")
	require.NotNil(t, results[1].Details.TextSimilarity)
	assert.Equal(t, 100.0, *results[1].Details.TextSimilarity)
	assert.True(t, results[2].ShouldFlag)
	assert.Contains(t, results[2].FlagReasons[len(results[2].FlagReasons)-1], "trust")

	assert.Contains(t, errOut.String(), "validating answers")
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		args    []string
		input   string
		wantErr error
		errMsg  string
	}{
		{
			name:   "unknown flag",
			args:   []string{"-bogus"},
			errMsg: "flag provided but not defined",
		},
		{
			name:   "stray argument",
			args:   []string{"-env-file", "", "extra"},
			errMsg: "unexpected arguments",
		},
		{
			name:    "missing policy",
			args:    []string{"-env-file", "", "-policy", filepath.Join(dir, "none.yaml")},
			input:   `{}`,
			wantErr: ports.ErrConfigNotFound,
		},
		{
			name:    "llm scorer without a key",
			args:    []string{"-env-file", "", "-scorer", "llm", "-provider", "openai"},
			input:   `{}`,
			wantErr: llm.ErrEmptyAPIKey,
		},
		{
			name:    "empty input",
			args:    []string{"-env-file", ""},
			input:   "   ",
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:    "malformed input",
			args:    []string{"-env-file", ""},
			input:   `{"answer_text": 4}`,
			wantErr: domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			err := run(context.Background(), tt.args, strings.NewReader(tt.input), &out, &errOut, noEnv)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
			assert.Empty(t, out.String())
		})
	}
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OPENAI_API_KEY=from-file\nGOOGLE_API_KEY=file-google\n"), 0o600))

	process := map[string]string{"GOOGLE_API_KEY": "from-process"}
	getenv, err := loadEnv(path, func(k string) string { return process[k] })
	require.NoError(t, err)

	assert.Equal(t, "from-file", getenv("OPENAI_API_KEY"))
	assert.Equal(t, "from-process", getenv("GOOGLE_API_KEY"), "process environment wins")
	assert.Empty(t, getenv("ANTHROPIC_API_KEY"))

	getenv, err = loadEnv(filepath.Join(t.TempDir(), "missing.env"), noEnv)
	require.NoError(t, err)
	assert.Empty(t, getenv("OPENAI_API_KEY"))
}

func TestRun_LLMScorerKeyFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ANTHROPIC_API_KEY=test-key\n"), 0o600))

	loader := application.NewPolicyLoader(time.Minute, nil)
	policy, err := loadPolicy(loader, options{scorer: "llm", provider: "anthropic", model: "claude-test"})
	require.NoError(t, err)
	assert.Equal(t, "llm", policy.Scorer.Type)
	assert.Equal(t, "anthropic", policy.Scorer.Provider)
	assert.Equal(t, "claude-test", policy.Scorer.Model)

	getenv, err := loadEnv(path, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "test-key", getenv(llm.APIKeyEnv["anthropic"]))
}

func TestLoadPolicy_FromFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("neutral_score: 40\n"), 0o600))

	loader := application.NewPolicyLoader(time.Minute, nil)
	policy, err := loadPolicy(loader, options{policyPath: path, scorer: "llm", provider: "anthropic", model: "claude-test"})
	require.NoError(t, err)
	assert.Equal(t, 40.0, policy.NeutralScore)
	assert.Equal(t, "llm", policy.Scorer.Type)

	// Overrides must not leak into the loader's cached copy.
	cached, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, application.ScorerHeuristic, cached.Scorer.Type)
	assert.Empty(t, cached.Scorer.Provider)

	_, err = loadPolicy(loader, options{policyPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}
