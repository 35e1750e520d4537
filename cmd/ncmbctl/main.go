package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ncmb/ncmb-go/client"
	"github.com/ncmb/ncmb-go/internal/logger"
)

var (
	baseURL string
	debug   bool
	timeout time.Duration
	log     = logger.New("ncmbctl", logger.Options{Console: true})
)

func main() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		reportFailure(err)
		os.Exit(1)
	}
}

func reportFailure(err error) {
	log.Error().Stack().Err(logger.WithStack(err)).Str("code", client.CodeOf(err)).Msg("command failed")
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ncmbctl",
		Short:         "Command-line access to an NCMB application",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log = logger.New("ncmbctl", logger.Options{Out: cmd.ErrOrStderr(), Console: true, Debug: debug})
			log.Debug().Msg("debug logging enabled")
		},
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Override NCMB_BASE_URL and NCMB_SCRIPT_BASE_URL")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable verbose debug output")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "Deadline for the whole command")

	rootCmd.AddCommand(newSignUpCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newWhoAmICmd())
	rootCmd.AddCommand(newObjectCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newFileCmd())
	rootCmd.AddCommand(newScriptCmd())
	rootCmd.AddCommand(newPushCmd())
	rootCmd.AddCommand(newInstallationCmd())

	return rootCmd
}

// newClient builds a client from NCMB_* variables and the root flags. The
// session is persisted by the configured store, so a login survives between
// invocations.
func newClient() (*client.Client, error) {
	cfg, err := client.LoadConfig()
	if err != nil {
		return nil, err
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
		cfg.ScriptBaseURL = baseURL
	}
	cfg.Debug = cfg.Debug || debug
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, client.WithLogger(log))
	return client.New(cfg.ApplicationKey, cfg.ClientKey, opts...)
}

// run opens a client, runs fn under the command deadline and closes the
// client afterwards.
func run(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	start := time.Now()
	err = fn(ctx, c)
	log.Debug().Str("command", cmd.CommandPath()).Dur("elapsed", time.Since(start)).Err(err).Msg("command finished")
	return err
}

type jsonEncoder interface {
	ToJSON() ([]byte, error)
}

// printEntity writes e's fields as indented JSON.
func printEntity(w io.Writer, e jsonEncoder) error {
	raw, err := e.ToJSON()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return printJSON(w, v)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// parseData decodes a --data flag into a field map.
func parseData(data string) (map[string]any, error) {
	if data == "" {
		return map[string]any{}, nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	return fields, nil
}

type putter interface {
	Put(key string, v any) error
}

func putAll(p putter, fields map[string]any) error {
	for k, v := range fields {
		if err := p.Put(k, v); err != nil {
			return err
		}
	}
	return nil
}
