package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/revd/internal/dispatch"
	"github.com/joescharf/revd/internal/feedback"
	"github.com/joescharf/revd/internal/mcp"
	"github.com/joescharf/revd/internal/pipeline"
	"github.com/joescharf/revd/internal/session"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets Claude Code query review sessions and drive re-reviews
natively. Configure in Claude Code with:

  {
    "mcpServers": {
      "revd": { "command": "revd", "args": ["mcp"] }
    }
  }

Available tools: revd_review_status, revd_session_comments,
revd_rereview, revd_focus, revd_snooze, revd_unsnooze, revd_feedback`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	machine := session.NewMachine(s)
	pipe, err := buildPipeline(s, machine)
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(pipe, machine, dispatch.Options{
		Workers:     viper.GetInt("dispatch.workers"),
		QueueDepth:  viper.GetInt("dispatch.queue_depth"),
		MaxAttempts: viper.GetInt("dispatch.max_attempts"),
		Retryable:   pipeline.Retryable,
	}, logger)
	defer dispatcher.Close()

	recorder := feedback.NewRecorder(s, 0, logger)
	defer recorder.Close()

	srv := mcp.NewServer(s, dispatcher, machine, recorder)
	return srv.ServeStdio(cmd.Context())
}
