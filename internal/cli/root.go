package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/HanTheDev/genie-analytics/internal/app"
	"github.com/HanTheDev/genie-analytics/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "genie",
	Short: "Operator tools for the tenant analytics engine",
	Long: `genie runs the analytics pipeline from the command line.

Classify questions offline, ask questions end to end for a tenant, check the
database the engine reads from, and mint tenant tokens for the HTTP API.
Configuration is read the same way the server reads it (config.yaml, GENIE_*).`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(tokenCmd)
}

// Tenant identity flags shared by ask and token.
var (
	flagTenant string
	flagUser   string
	flagRole   string
)

func addTenantFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagTenant, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&flagUser, "user", "", "User id")
	cmd.Flags().StringVar(&flagRole, "role", "", "Role evaluated by row-level security")
	_ = cmd.MarkFlagRequired("tenant")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	app.InitLogging(cfg)
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
