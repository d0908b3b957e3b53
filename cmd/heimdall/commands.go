package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/vikthevar/Heimdall/internal/app"
	"github.com/vikthevar/Heimdall/internal/storage"
	"github.com/vikthevar/Heimdall/pkg/types"
	"gopkg.in/yaml.v3"
)

func serveCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket API",
		Long: `Start the Heimdall API server.

Examples:
  heimdall serve
  heimdall serve --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			if port == "" {
				port = a.Config.Port
			}
			if a.Config.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			return a.Serve(cmd.Context(), ":"+port)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (default from PORT)")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		execute bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send one command or question to the assistant",
		Long: `Process one turn. Automation is simulated and the plan printed unless
--execute is given or simulation_mode is off.

Examples:
  heimdall ask "read my screen"
  heimdall ask --execute "scroll down 5"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			ctx := cmd.Context()
			text := strings.Join(args, " ")
			simulate := !execute && a.Simulate(ctx)
			out, err := a.Runner.Do(ctx, "cli_ask", func(ctx context.Context) (any, error) {
				return a.Brain.Process(ctx, text, simulate), nil
			})
			if err != nil {
				return err
			}
			res := out.(types.ProcessResult)

			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
			if res.IsError {
				return errors.New("turn failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&execute, "execute", "x", false, "perform automation instead of simulating it")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read [window]",
		Short: "OCR the screen, optionally checking that a window is open first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			ref := types.CurrentWindow()
			if len(args) == 1 {
				ref = types.WindowRefFromString(args[0])
			}
			text, err := a.Brain.ReadScreen(cmd.Context(), ref)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func windowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "List open windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			if !a.Capabilities.Windows {
				return errors.New("window enumeration is not available on this system")
			}
			handles := a.Windows.ListOpen(cmd.Context())
			if len(handles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No windows found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPID\tAPP\tTITLE")
			for _, h := range handles {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", h.ID, h.PID, h.App, h.Title)
			}
			return w.Flush()
		},
	}
}

func historyCmd() *cobra.Command {
	var (
		limit  int
		format string
		output string
		clear  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show, export or clear the conversation history",
		Long: `Show recent turns, or export them as json, yaml or txt.

Examples:
  heimdall history -n 20
  heimdall history --export yaml -o history.yaml
  heimdall history --clear`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()
			ctx := cmd.Context()

			if clear {
				if err := a.Store.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
				return nil
			}

			recs, err := a.Brain.RecentMessages(ctx, limit)
			if err != nil {
				return err
			}

			if format == "" {
				printHistory(cmd.OutOrStdout(), recs)
				return nil
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := storage.Export(w, format, recs, time.Now()); err != nil {
				return err
			}
			if output != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d turns to %s\n", len(recs), output)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of recent turns (0 for all)")
	cmd.Flags().StringVar(&format, "export", "", "export format: "+strings.Join(storage.ExportFormats, ", "))
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the export to a file instead of stdout")
	cmd.Flags().BoolVar(&clear, "clear", false, "delete all stored turns")
	return cmd
}

func printHistory(w io.Writer, recs []types.ConversationRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No history yet.")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(w, "[%s] %s\n", r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.IntentType())
		fmt.Fprintf(w, "  you:      %s\n", r.UserMessage)
		fmt.Fprintf(w, "  heimdall: %s\n\n", firstLine(r.AssistantMessage))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func listenCmd() *cobra.Command {
	var (
		process bool
		execute bool
		speak   bool
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Record one utterance from the microphone and transcribe it",
		Long: `Record from the microphone for the configured duration and print the
transcript. With --process the transcript is handled like "heimdall ask".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()
			ctx := cmd.Context()

			fmt.Fprintf(cmd.ErrOrStderr(), "Listening for %s...\n", a.Tuning.RecordDuration)
			text, err := a.Brain.Listen(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "You said:", text)
			if !process {
				return nil
			}

			res := a.Brain.Process(ctx, text, !execute && a.Simulate(ctx))
			fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
			if speak {
				return a.Brain.SpeakReply(ctx, res.Reply)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&process, "process", "p", false, "process the transcript as a command")
	cmd.Flags().BoolVarP(&execute, "execute", "x", false, "perform automation instead of simulating it")
	cmd.Flags().BoolVar(&speak, "speak", false, "read the reply aloud")
	return cmd
}

func capabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Report which desktop tools and services were found",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()
			return printJSON(cmd.OutOrStdout(), a.Capabilities)
		},
	}
}

func settingsCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "settings [key [value]]",
		Short: "Show or change stored settings (sqlite backend)",
		Long: `With no arguments list every setting, with a key print one, with a key
and a value store it. Values are parsed as YAML scalars, so true, 12 and 0.5
keep their types.

Examples:
  heimdall settings
  heimdall settings tts_rate 180
  heimdall settings --reset`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()
			return runSettings(cmd.Context(), cmd.OutOrStdout(), a, args, reset)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "restore the default settings")
	return cmd
}

func runSettings(ctx context.Context, w io.Writer, a *app.App, args []string, reset bool) error {
	if a.Settings == nil {
		return fmt.Errorf("settings need the sqlite storage backend (current: %s)", a.Config.StorageBackend)
	}
	s := a.Settings

	switch {
	case reset:
		if err := s.ResetSettings(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "Settings reset to defaults.")
		return nil
	case len(args) == 2:
		var value any
		if err := yaml.Unmarshal([]byte(args[1]), &value); err != nil {
			return fmt.Errorf("parse value %q: %w", args[1], err)
		}
		if err := s.SetSetting(ctx, args[0], value, "cli"); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s = %v\n", args[0], value)
		return nil
	case len(args) == 1:
		v, ok, err := s.GetSetting(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unknown setting %q", args[0])
		}
		fmt.Fprintf(w, "%s = %v\n", args[0], v)
		return nil
	}

	all, err := s.AllSettings(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%v\n", k, all[k])
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
