package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/HanTheDev/genie-analytics/internal/app"
	"github.com/HanTheDev/genie-analytics/internal/auth"
	"github.com/HanTheDev/genie-analytics/internal/classifier"
	"github.com/HanTheDev/genie-analytics/internal/db"
	"github.com/HanTheDev/genie-analytics/internal/genie"
	"github.com/HanTheDev/genie-analytics/internal/models"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <question>",
	Short: "Print the complexity tier and profile for a question",
	Long: `Classify a question with the configured profile table. Nothing is sent
over the network.

Examples:
  genie classify "show top 5 brands"
  genie classify "analyze customer behavior trends and predict future patterns"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question for a tenant through the full pipeline",
	Long: `Generate SQL, run it under the tenant's session scope and narrate the result.

Examples:
  genie ask --tenant acme "Compare cost per conversion of TikTok vs Facebook last month"
  genie ask --tenant acme --user u1 --role analyst --channel tiktok "CES trend this quarter"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the database health report",
	RunE:  runHealth,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed tenant token for the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

var (
	askCampaign string
	askChannel  string
	askTimeout  time.Duration
	tokenTTL    time.Duration
)

func init() {
	addTenantFlags(askCmd)
	askCmd.Flags().StringVar(&askCampaign, "campaign", "", "Scope the question to a campaign id")
	askCmd.Flags().StringVar(&askChannel, "channel", "", "Scope the question to a channel")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "Overall deadline")

	addTenantFlags(tokenCmd)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "Token lifetime")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c := classifier.New(cfg.Profiles, nil)
	return printJSON(cmd.OutOrStdout(), c.Classify(strings.Join(args, " ")))
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ans, err := a.Engine.AnswerQuery(ctx, genie.QueryRequest{
		Question:   strings.Join(args, " "),
		Tenant:     tenantFromFlags(),
		CampaignID: askCampaign,
		Channel:    askChannel,
		SkipCache:  true,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), ans)
}

type healthOutput struct {
	db.HealthReport
	MissingTables []string `json:"missing_tables,omitempty"`
}

func runHealth(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := genie.CatalogByName(cfg.Genie.Catalog)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Database.ConnectTimeout+cfg.Database.QueryTimeout)
	defer cancel()

	client, err := db.Open(ctx, app.DBConfig(cfg))
	if err != nil {
		return err
	}
	defer client.Close()

	out := healthOutput{HealthReport: client.Health(ctx)}
	if out.Connected {
		missing, err := client.MissingTables(ctx, catalog.TableNames())
		if err != nil {
			return err
		}
		out.MissingTables = missing
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if !out.Connected {
		return fmt.Errorf("database unreachable")
	}
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := auth.GenerateToken(tenantFromFlags(), cfg.Auth.JWTSecret, tokenTTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}

func tenantFromFlags() models.TenantContext {
	return models.TenantContext{TenantID: flagTenant, UserID: flagUser, Role: flagRole}
}
