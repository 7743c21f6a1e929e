package cmd

import (
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/revd/internal/ai"
	"github.com/joescharf/revd/internal/analyzer"
	"github.com/joescharf/revd/internal/config"
	"github.com/joescharf/revd/internal/diff"
	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/pipeline"
	"github.com/joescharf/revd/internal/platform"
	"github.com/joescharf/revd/internal/session"
	"github.com/joescharf/revd/internal/store"
)

// toolConfig describes one external analyzer in the config file.
// The command must print findings as "path:line:severity:message".
type toolConfig struct {
	Name      string   `mapstructure:"name"`
	Category  string   `mapstructure:"category"`
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	Languages []string `mapstructure:"languages"`
}

// newRegistry builds the analyzer registry from the analyzers.tools
// config list. An empty list means AI-only review.
func newRegistry() (*analyzer.Registry, error) {
	var tools []toolConfig
	if err := viper.UnmarshalKey("analyzers.tools", &tools); err != nil {
		return nil, err
	}

	registry := analyzer.NewRegistry()
	for _, tc := range tools {
		registry.Register(analyzer.NewCommandAdapter(tc.Name, tc.Category, tc.Command, tc.Args, tc.Languages...))
	}
	return registry, nil
}

// newAIBackend creates the two-tier Anthropic client, or returns nil
// when no API key is configured.
func newAIBackend() ai.Backend {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	timeout := time.Duration(viper.GetInt("review.timeout_seconds")) * time.Second
	return ai.NewClient(apiKey,
		viper.GetString("anthropic.fast_model"),
		viper.GetString("anthropic.deep_model"),
		timeout, logger)
}

// newPlatformClient creates the GitHub client used as diff source and
// comment sink. Works unauthenticated for public repos, but posting
// requires a token.
func newPlatformClient() (*platform.Client, bool) {
	token := viper.GetString("github.token")
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	return platform.NewClient(token), token != ""
}

// defaultReviewConfig returns the system-default review settings that
// per-repository overrides merge over.
func defaultReviewConfig() models.ReviewConfig {
	return models.ReviewConfig{
		MaxComments:   viper.GetInt("review.max_comments"),
		LineTolerance: viper.GetInt("dedup.line_tolerance"),
	}
}

// buildPipeline wires the review pipeline from config: diff fetcher,
// analyzer runner, AI backend, and the optional posting sink.
func buildPipeline(s store.Store, machine *session.Machine) (*pipeline.Pipeline, error) {
	registry, err := newRegistry()
	if err != nil {
		return nil, err
	}

	client, canPost := newPlatformClient()
	fetcher := diff.NewFetcher(client, diff.Limits{
		MaxFileBytes:  viper.GetInt("diff.max_file_bytes"),
		MaxTotalBytes: viper.GetInt("diff.max_total_bytes"),
	})

	runner := analyzer.NewRunner(registry,
		viper.GetInt("analyzers.workers"),
		time.Duration(viper.GetInt("analyzers.timeout_seconds"))*time.Second,
		logger)

	var poster pipeline.Poster
	if canPost {
		poster = client
	}

	resolver := config.NewResolver(s, defaultReviewConfig())
	opts := pipeline.Options{DeepThreshold: viper.GetInt("review.deep_diff_threshold")}
	return pipeline.New(s, machine, resolver, fetcher, runner, newAIBackend(), poster, opts, logger), nil
}
