// ABOUTME: Entry point for the openclaw agent pool gateway
// ABOUTME: Cobra commands for serving, inspecting agents, minting tokens and health checks

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/auth"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/config"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/gateway"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
)

const banner = `
                          __          
  ____  ____  ___  ____  / /___ __      __
 / __ \/ __ \/ _ \/ __ \/ / __ ` + "`" + `/ | /| / /
/ /_/ / /_/ /  __/ / / / / /_/ /| |/ |/ /
\____/ .___/\___/_/ /_/_/\__,_/ |__/|__/
    /_/
`

var version = "dev"

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "openclaw",
		Short:         "Telegram agent pool gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", config.DefaultPath(), "path to config file")

	root.AddCommand(
		newServeCmd(),
		newAgentsCmd(),
		newTokenCmd(),
		newHealthCmd(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and every persisted agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, path, cmd.OutOrStdout())
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, path string, out io.Writer) error {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	_, _ = cyan.Fprint(out, banner)
	_, _ = gray.Fprintf(out, "  %s\n\n", version)
	_, _ = green.Fprint(out, "    ▶ ")
	_, _ = fmt.Fprintf(out, "Config   %s\n", path)
	_, _ = green.Fprint(out, "    ▶ ")
	_, _ = fmt.Fprintf(out, "HTTP     %s\n", cfg.Server.HTTPAddr)
	_, _ = green.Fprint(out, "    ▶ ")
	_, _ = fmt.Fprintf(out, "Storage  %s\n", cfg.Database.Driver)
	if cfg.Relay.RedisURL != "" {
		_, _ = green.Fprint(out, "    ▶ ")
		_, _ = fmt.Fprintf(out, "Relay    %s\n", cfg.Relay.Channel)
	}
	_, _ = fmt.Fprintln(out)

	logger := setupLogger(cfg.Logging)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func newAgentsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List persisted agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			s, err := gateway.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			recs, err := s.GetAllAgents(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing agents: %w", err)
			}
			return printAgents(cmd.OutOrStdout(), recs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

// printAgents writes masked records as a table or a JSON array.
func printAgents(out io.Writer, recs []*store.AgentRecord, asJSON bool) error {
	masked := make([]*store.AgentRecord, 0, len(recs))
	for _, r := range recs {
		masked = append(masked, r.Masked())
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(masked)
	}

	if len(masked) == 0 {
		_, err := fmt.Fprintln(out, "no agents")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tBEHAVIORS\tSENT\tRECEIVED\tPARSED")
	for _, r := range masked {
		kinds := make([]string, 0, len(r.Behaviors))
		for _, b := range r.Behaviors {
			kinds = append(kinds, string(b.Kind))
		}
		behaviors := strings.Join(kinds, ",")
		if behaviors == "" {
			behaviors = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.Name, r.Credentials.Kind, r.Status, behaviors,
			r.Stats.Sent, r.Stats.Received, r.Stats.Parsed)
	}
	return tw.Flush()
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			token, err := mintToken(cfg.Auth.JWTSecret, subject, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (required)")
	cmd.Flags().StringVar(&role, "role", auth.RoleViewer, "token role: admin or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func mintToken(secret, subject, role string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("--subject cannot be empty")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive")
	}

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("creating verifier: %w", err)
	}
	token, err := verifier.Generate(subject, role, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running gateway's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return checkHealth(cmd.Context(), "http://"+cfg.Server.HTTPAddr, cmd.OutOrStdout())
		},
	}
}

func checkHealth(ctx context.Context, baseURL string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var health gateway.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	_, err = fmt.Fprintf(out, "healthy (%d agents running, up %s)\n",
		health.Running, (time.Duration(health.UptimeSeconds) * time.Second).String())
	return err
}
