package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/kilupskalvis/refbridge/internal/config"
	"github.com/kilupskalvis/refbridge/internal/remote"
	"github.com/kilupskalvis/refbridge/internal/remote/server"
	"github.com/spf13/cobra"
)

var (
	serverConfigPath  string
	serverListen      string
	serverDataDir     string
	serverLogLevel    string
	serverLogFormat   string
	serverTLSCert     string
	serverTLSKey      string
	serverChunkSize   int
	serverWebhookURLs string
	serverInitForce   bool

	adminURL   string
	adminToken string

	serverTokenDesc       string
	serverTokenRepos      []string
	serverTokenPermission string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the refbridge server",
	Long:  "Commands for configuring and running the refbridge ref server.",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the refbridge server",
	Long: `Start the refbridge server.

Settings are read from the configuration file (if present), then from
REFBRIDGE_* environment variables, then from flags. Each repository is a
bbolt database under <data-dir>/repos/<name>/. Bearer token authentication
is required for all repo endpoints; the admin token enables /admin/.

Examples:
  refbridge server start
  refbridge server start --config /etc/refbridge/refbridge.toml
  refbridge server start --listen 0.0.0.0:8720 --data-dir /var/lib/refbridge
  refbridge server start --tls-cert server.crt --tls-key server.key`,
	Run: runServerStart,
}

var serverInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file",
	Long: `Write a configuration file with the default settings, overlaid with
REFBRIDGE_* environment variables and flags, and create the data directory.`,
	Run: runServerInit,
}

func init() {
	serverCmd.AddCommand(serverStartCmd, serverInitCmd, serverTokensCmd)

	for _, cmd := range []*cobra.Command{serverStartCmd, serverInitCmd} {
		f := cmd.Flags()
		f.StringVar(&serverConfigPath, "config", envOrDefault("REFBRIDGE_CONFIG", defaultConfigPath()), "Configuration file")
		f.StringVar(&serverListen, "listen", "", "Listen address (host:port)")
		f.StringVar(&serverDataDir, "data-dir", "", "Directory for repository data")
		f.StringVar(&serverLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
		f.StringVar(&serverLogFormat, "log-format", "", "Log format (json|text)")
		f.StringVar(&serverTLSCert, "tls-cert", "", "TLS certificate file")
		f.StringVar(&serverTLSKey, "tls-key", "", "TLS key file")
		f.IntVar(&serverChunkSize, "chunk-size", 0, "Entries per streamed chunk")
		f.StringVar(&serverWebhookURLs, "webhook-urls", "", "Comma-separated webhook URLs to notify on ref deletion")
	}
	serverInitCmd.Flags().BoolVar(&serverInitForce, "force", false, "Overwrite an existing configuration file")

	// Shared admin connection flags, inherited by all subcommands. Both
	// parents bind the same package-level vars; only one command path runs.
	for _, cmd := range []*cobra.Command{serverTokensCmd, repoCmd} {
		cmd.PersistentFlags().StringVar(&adminURL, "url",
			os.Getenv("REFBRIDGE_URL"),
			"Server base URL (env: REFBRIDGE_URL)")
		cmd.PersistentFlags().StringVar(&adminToken, "admin-token",
			os.Getenv("REFBRIDGE_ADMIN_TOKEN"),
			"Admin token (env: REFBRIDGE_ADMIN_TOKEN)")
	}

	serverTokensCmd.AddCommand(serverTokensCreateCmd, serverTokensListCmd, serverTokensDeleteCmd)

	tf := serverTokensCreateCmd.Flags()
	tf.StringVar(&serverTokenDesc, "desc", "", "Token description")
	tf.StringArrayVar(&serverTokenRepos, "repo", nil,
		"Repos to grant access to, repeat for multiple (default: *)")
	tf.StringVar(&serverTokenPermission, "permission", server.PermissionRead, "Permission level: ro or rw")
}

// defaultConfigPath returns ~/.refbridge/refbridge.toml.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return config.ConfigFile
	}
	return filepath.Join(home, ".refbridge", config.ConfigFile)
}

// loadServerConfig resolves the configuration: file, environment, flags.
// A missing file is only an error when it was named explicitly.
func loadServerConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(serverConfigPath); err == nil {
		if cfg, err = config.Load(serverConfigPath); err != nil {
			return nil, err
		}
	} else if cmd.Flags().Changed("config") {
		return nil, fmt.Errorf("config file %s: %w", serverConfigPath, err)
	}

	if err := overlayServerSettings(cmd, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayServerSettings applies REFBRIDGE_* variables, then changed flags,
// and validates the result.
func overlayServerSettings(cmd *cobra.Command, cfg *config.Config) error {
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = serverListen
	}
	if f.Changed("data-dir") {
		cfg.DataDir = serverDataDir
	}
	if f.Changed("log-level") {
		cfg.LogLevel = serverLogLevel
	}
	if f.Changed("log-format") {
		cfg.LogFormat = serverLogFormat
	}
	if f.Changed("tls-cert") {
		cfg.TLSCert = serverTLSCert
	}
	if f.Changed("tls-key") {
		cfg.TLSKey = serverTLSKey
	}
	if f.Changed("chunk-size") {
		cfg.ChunkSize = serverChunkSize
	}
	if f.Changed("webhook-urls") {
		cfg.WebhookURLs = config.SplitList(serverWebhookURLs)
	}
	return cfg.Validate()
}

func runServerStart(cmd *cobra.Command, _ []string) {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		exitError("%v", err)
	}
	logger := cfg.NewLogger(os.Stdout)

	if cfg.AdminToken == "" {
		logger.Warn("no admin token configured, /admin/ endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServerInit(cmd *cobra.Command, _ []string) {
	if _, err := os.Stat(serverConfigPath); err == nil && !serverInitForce {
		exitError("%s already exists (use --force to overwrite)", serverConfigPath)
	}

	// Start from defaults so an existing file does not leak into the new one.
	cfg := config.Default()
	if err := overlayServerSettings(cmd, cfg); err != nil {
		exitError("%v", err)
	}

	if err := os.MkdirAll(cfg.ReposPath(), 0755); err != nil {
		exitError("failed to create data directory: %v", err)
	}
	if err := cfg.Save(serverConfigPath); err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Wrote %s\n", serverConfigPath)
	fmt.Printf("  Listen:   %s\n", cfg.Listen)
	fmt.Printf("  Data dir: %s\n", cfg.DataDir)
}

// --- refbridge server tokens ---

var serverTokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage server tokens",
	Long:  "Commands for managing authentication tokens on a running refbridge server.",
}

var serverTokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new authentication token",
	Run:   runServerTokensCreate,
}

var serverTokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all authentication tokens",
	Run:   runServerTokensList,
}

var serverTokensDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an authentication token",
	Args:  cobra.ExactArgs(1),
	Run:   runServerTokensDelete,
}

// resolveAdminClient builds an AdminClient from the admin flags.
func resolveAdminClient() *remote.AdminClient {
	if adminURL == "" {
		exitError("--url or REFBRIDGE_URL is required")
	}
	if adminToken == "" {
		exitError("--admin-token or REFBRIDGE_ADMIN_TOKEN is required")
	}
	if strings.HasPrefix(adminURL, "http://") {
		color.New(color.FgYellow).Fprintln(os.Stderr, "warning: sending the admin token over unencrypted HTTP")
	}
	return remote.NewAdminClient(adminURL, adminToken)
}

func runServerTokensCreate(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	repos := serverTokenRepos
	if len(repos) == 0 {
		repos = []string{"*"}
	}

	resp, err := c.CreateToken(ctx, serverTokenDesc, repos, serverTokenPermission)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println("Token created.")
	fmt.Printf("  ID:          %s\n", resp.ID)
	fmt.Printf("  Description: %s\n", resp.Description)
	fmt.Printf("  Repos:       %s\n", strings.Join(resp.Repos, ", "))
	fmt.Printf("  Permission:  %s\n", resp.Permission)
	fmt.Println()
	green.Printf("Token: %s\n", resp.Token)
	yellow.Println("Save this token, it will not be shown again.")
}

func runServerTokensList(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()

	tokens, err := c.ListTokens(context.Background())
	if err != nil {
		exitError("%v", err)
	}

	if len(tokens) == 0 {
		return
	}

	fmt.Printf("  %-32s  %-20s  %-16s  %s\n", "ID", "Description", "Repos", "Permission")
	for _, t := range tokens {
		fmt.Printf("  %-32s  %-20s  %-16s  %s\n",
			t.ID,
			t.Description,
			strings.Join(t.Repos, ","),
			t.Permission,
		)
	}
}

func runServerTokensDelete(_ *cobra.Command, args []string) {
	c := resolveAdminClient()

	if err := c.DeleteToken(context.Background(), args[0]); err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Deleted token '%s'\n", args[0])
}

// --- refbridge repo ---

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage server repositories",
	Long:  "Commands for managing repositories on a running refbridge server.",
}

var repoCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new repository",
	Args:  cobra.ExactArgs(1),
	Run:   runRepoCreate,
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all repositories",
	Run:   runRepoList,
}

var repoDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a repository",
	Args:  cobra.ExactArgs(1),
	Run:   runRepoDelete,
}

var repoRebuildCmd = &cobra.Command{
	Use:   "rebuild-typed-refs <name>",
	Short: "Rebuild the special-ref and keep-around stores of a repository",
	Args:  cobra.ExactArgs(1),
	Run:   runRepoRebuild,
}

func init() {
	repoCmd.AddCommand(repoCreateCmd, repoListCmd, repoDeleteCmd, repoRebuildCmd)
}

func runRepoCreate(_ *cobra.Command, args []string) {
	c := resolveAdminClient()

	if err := c.CreateRepo(context.Background(), args[0]); err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Created repository '%s'\n", args[0])
}

func runRepoList(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()

	repos, err := c.ListRepos(context.Background())
	if err != nil {
		exitError("%v", err)
	}

	for _, r := range repos {
		fmt.Printf("  %s\n", r)
	}
}

func runRepoDelete(_ *cobra.Command, args []string) {
	c := resolveAdminClient()

	if err := c.DeleteRepo(context.Background(), args[0]); err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Deleted repository '%s'\n", args[0])
}

func runRepoRebuild(_ *cobra.Command, args []string) {
	c := resolveAdminClient()

	result, err := c.RebuildTypedRefs(context.Background(), args[0])
	var re *remote.RemoteError
	if errors.As(err, &re) && re.Status == 501 {
		exitError("repository '%s' does not keep typed-ref stores", args[0])
	}
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Rebuilt typed refs of '%s'\n", args[0])
	fmt.Printf("  Special refs: %d\n", result.SpecialRefs)
	fmt.Printf("  Keep-arounds: %d\n", result.KeepArounds)
}
