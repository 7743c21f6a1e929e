package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "revd"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage revd configuration.

Running bare 'revd config' is the same as 'revd config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# revd configuration
# See: revd config show (for effective values and sources)

# SQLite database path (default: ~/.config/revd/revd.db)
# db_path: {{ .DBPath }}

# Intake HTTP server
intake:
  # Listen address for webhook events and the control API
  addr: "{{ .IntakeAddr }}"

# GitHub access; token is required for private repos and comment posting
github:
  token: ""

# Anthropic models for the two review tiers
anthropic:
  api_key: ""
  fast_model: "{{ .FastModel }}"
  deep_model: "{{ .DeepModel }}"

# Review behavior
review:
  timeout_seconds: {{ .ReviewTimeout }}
  max_comments: {{ .MaxComments }}
  # Diffs smaller than this (bytes) are eligible for the deep tier
  deep_diff_threshold: {{ .DeepThreshold }}

# Dispatcher
dispatch:
  workers: {{ .Workers }}
  queue_depth: {{ .QueueDepth }}
  max_attempts: {{ .MaxAttempts }}

# Admission rate limiting (events per repository per window)
ratelimit:
  window_seconds: {{ .RateWindow }}
  max_per_window: {{ .RateLimit }}

# External static analyzers. Each command must print findings as
# "path:line:severity:message", one per line.
analyzers:
  workers: {{ .AnalyzerWorkers }}
  timeout_seconds: {{ .AnalyzerTimeout }}
  # tools:
  #   - name: ruff
  #     category: style
  #     command: revd-ruff
  #     languages: [python]
`

type configTemplateData struct {
	DBPath          string
	IntakeAddr      string
	FastModel       string
	DeepModel       string
	ReviewTimeout   int
	MaxComments     int
	DeepThreshold   int
	Workers         int
	QueueDepth      int
	MaxAttempts     int
	RateWindow      int
	RateLimit       int
	AnalyzerWorkers int
	AnalyzerTimeout int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DBPath:          viper.GetString("db_path"),
		IntakeAddr:      viper.GetString("intake.addr"),
		FastModel:       viper.GetString("anthropic.fast_model"),
		DeepModel:       viper.GetString("anthropic.deep_model"),
		ReviewTimeout:   viper.GetInt("review.timeout_seconds"),
		MaxComments:     viper.GetInt("review.max_comments"),
		DeepThreshold:   viper.GetInt("review.deep_diff_threshold"),
		Workers:         viper.GetInt("dispatch.workers"),
		QueueDepth:      viper.GetInt("dispatch.queue_depth"),
		MaxAttempts:     viper.GetInt("dispatch.max_attempts"),
		RateWindow:      viper.GetInt("ratelimit.window_seconds"),
		RateLimit:       viper.GetInt("ratelimit.max_per_window"),
		AnalyzerWorkers: viper.GetInt("analyzers.workers"),
		AnalyzerTimeout: viper.GetInt("analyzers.timeout_seconds"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "REVD_DB_PATH"},
	{Key: "intake.addr", EnvVar: "REVD_INTAKE_ADDR"},
	{Key: "anthropic.fast_model", EnvVar: "REVD_ANTHROPIC_FAST_MODEL"},
	{Key: "anthropic.deep_model", EnvVar: "REVD_ANTHROPIC_DEEP_MODEL"},
	{Key: "review.timeout_seconds", EnvVar: "REVD_REVIEW_TIMEOUT_SECONDS"},
	{Key: "review.max_comments", EnvVar: "REVD_REVIEW_MAX_COMMENTS"},
	{Key: "review.deep_diff_threshold", EnvVar: "REVD_REVIEW_DEEP_DIFF_THRESHOLD"},
	{Key: "diff.max_file_bytes", EnvVar: "REVD_DIFF_MAX_FILE_BYTES"},
	{Key: "diff.max_total_bytes", EnvVar: "REVD_DIFF_MAX_TOTAL_BYTES"},
	{Key: "dispatch.workers", EnvVar: "REVD_DISPATCH_WORKERS"},
	{Key: "dispatch.queue_depth", EnvVar: "REVD_DISPATCH_QUEUE_DEPTH"},
	{Key: "dispatch.max_attempts", EnvVar: "REVD_DISPATCH_MAX_ATTEMPTS"},
	{Key: "analyzers.workers", EnvVar: "REVD_ANALYZERS_WORKERS"},
	{Key: "analyzers.timeout_seconds", EnvVar: "REVD_ANALYZERS_TIMEOUT_SECONDS"},
	{Key: "ratelimit.window_seconds", EnvVar: "REVD_RATELIMIT_WINDOW_SECONDS"},
	{Key: "ratelimit.max_per_window", EnvVar: "REVD_RATELIMIT_MAX_PER_WINDOW"},
	{Key: "dedup.line_tolerance", EnvVar: "REVD_DEDUP_LINE_TOLERANCE"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-28s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'revd config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
