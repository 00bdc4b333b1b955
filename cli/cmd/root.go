package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"southwinds.dev/secrets"
	"southwinds.dev/secrets/audit"
	"southwinds.dev/secrets/persist"
)

var (
	cfgFile     string
	storePath   string
	secretsSvc  secrets.Service
	sourceStore persist.Store
	auditLogger audit.Logger
	cliContext  *CLIContext
)

type CLIContext struct {
	UserID    string
	SessionID string
	Source    string // hostname/IP
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage RSA decryption keys for traffic analysis",
	Long: `Manages the table of RSA private key sources used to decrypt captured
traffic. Key material is fingerprinted with SHA-1 over the public key bits,
held in protected memory, and wiped when no longer needed.`,
	PersistentPreRunE: initializeSecrets,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if secretsSvc != nil {
			return secretsSvc.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags - consistent with config file structure
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.secrets.yaml)")
	rootCmd.PersistentFlags().StringVarP(&storePath, "store-path", "p", "", "path to key-source table storage")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (file, s3)")
	rootCmd.PersistentFlags().Bool("memory-lock", false, "lock process memory to prevent swapping")

	// Bind flags to viper
	bindFlagOrPanic("secrets.path", "store-path")
	bindFlagOrPanic("secrets.store_type", "store-type")
	bindFlagOrPanic("secrets.memory_lock", "memory-lock")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	// Bind audit flags
	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags (for direct CLI usage)
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	// Bind S3 flags
	bindFlagOrPanic("secrets.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("secrets.s3.region", "s3-region")
	bindFlagOrPanic("secrets.s3.bucket", "s3-bucket")
	bindFlagOrPanic("secrets.s3.prefix", "s3-prefix")
	bindFlagOrPanic("secrets.s3.access_key", "s3-access-key")
	bindFlagOrPanic("secrets.s3.secret_key", "s3-secret-key")
	bindFlagOrPanic("secrets.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	// Set defaults first
	setDefaults()

	// Configure config file paths
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search in multiple locations for consistency
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/secrets")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".secrets")
	}

	// Environment variable support
	viper.SetEnvPrefix("SECRETS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file found but error reading it
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	} else {
		if os.Getenv("DEBUG") == "true" {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}
}

func setDefaults() {
	// Store defaults - consistent paths
	viper.SetDefault("secrets.path", ".secrets")
	viper.SetDefault("secrets.store_type", "file")
	viper.SetDefault("secrets.memory_lock", false)

	// S3 defaults
	viper.SetDefault("secrets.s3.region", "us-east-1")
	viper.SetDefault("secrets.s3.prefix", "secrets/")
	viper.SetDefault("secrets.s3.use_ssl", true)

	// Audit defaults - use consistent path structure
	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.options.max_size", 100)
	viper.SetDefault("audit.options.max_backups", 5)
	viper.SetDefault("audit.log_level", "info")

	// Set audit file path based on store path - will be updated in initializeSecrets
	viper.SetDefault("audit.options.file_path", "audit.log")
}

func initializeSecrets(cmd *cobra.Command, args []string) error {
	// Skip initialization for help and completion commands
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
		return nil
	}

	// Get configuration values with proper fallbacks
	storePath = viper.GetString("secrets.path")

	// Set audit file path relative to store path if not explicitly set
	if viper.GetString("audit.options.file_path") == "audit.log" {
		auditPath := filepath.Join(storePath, "audit.log")
		viper.Set("audit.options.file_path", auditPath)
	}

	// Initialize CLI context
	cliContext = &CLIContext{
		UserID:    getCurrentUser(),
		SessionID: generateSessionID(),
		Source:    getHostname(),
		StartTime: time.Now(),
	}

	// Create audit logger with config-based settings
	var err error
	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	// Create the key-source table store
	storeType := viper.GetString("secrets.store_type")
	sourceStore, err = createSourceStore(storeType)
	if err != nil {
		return fmt.Errorf("failed to create key-source store: %w", err)
	}

	// Create the secrets service
	svc, err := secrets.New(secrets.Options{
		EnableMemoryLock: viper.GetBool("secrets.memory_lock"),
		UserID:           cliContext.UserID,
	}, auditLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets service: %w", err)
	}
	secretsSvc = svc

	return nil
}

func createAuditLogger() (audit.Logger, error) {
	// Use configuration values instead of hardcoded ones
	return audit.NewLogger(&audit.Config{
		Enabled: viper.GetBool("audit.enabled"),
		Type:    audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path":   viper.GetString("audit.options.file_path"),
			"max_size":    viper.GetInt("audit.options.max_size"),
			"max_backups": viper.GetInt("audit.options.max_backups"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	})
}

func createSourceStore(storeType string) (persist.Store, error) {
	switch strings.ToLower(storeType) {
	case "file":
		// Use configured store path
		path := viper.GetString("secrets.path")
		return persist.NewFileSystemStore(path)

	case "s3":
		s3Config := persist.S3Config{
			Endpoint:  viper.GetString("secrets.s3.endpoint"),
			AccessKey: viper.GetString("secrets.s3.access_key"),
			SecretKey: viper.GetString("secrets.s3.secret_key"),
			Bucket:    viper.GetString("secrets.s3.bucket"),
			Prefix:    viper.GetString("secrets.s3.prefix"),
			UseSSL:    viper.GetBool("secrets.s3.use_ssl"),
			Region:    viper.GetString("secrets.s3.region"),
		}

		if err := validateS3Config(s3Config); err != nil {
			return nil, fmt.Errorf("invalid S3 configuration: %w", err)
		}

		return persist.NewS3Store(s3Config)

	default:
		return nil, fmt.Errorf("unsupported store type: %s. Supported types: file, s3", storeType)
	}
}

func validateS3Config(config persist.S3Config) error {
	var missing []string

	if config.Bucket == "" {
		missing = append(missing, "secrets.s3.bucket")
	}
	if config.Region == "" {
		missing = append(missing, "secrets.s3.region")
	}

	hasAccessKey := config.AccessKey != ""
	hasSecretKey := config.SecretKey != ""

	if hasAccessKey && !hasSecretKey {
		missing = append(missing, "secrets.s3.secret_key")
	}
	if !hasAccessKey && hasSecretKey {
		missing = append(missing, "secrets.s3.access_key")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// Helper function to check if a flag name is sensitive (for logging purposes)
func isSensitiveFlag(name string) bool {
	sensitive := []string{"passphrase", "password", "credential", "secret", "key", "token"}
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// getCurrentUser retrieves the username of the currently logged-in user.
// It returns "unknown_user" if the user cannot be determined.
func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		// This can happen in restricted environments (e.g. scratch Docker images without /etc/passwd)
		envUser := os.Getenv("USER")
		if envUser != "" {
			return envUser
		}
		return "unknown_user"
	}
	return currentUser.Username
}

// generateSessionID creates a new unique session identifier.
// Uses UUID v4.
func generateSessionID() string {
	id := uuid.New()
	return id.String()
}

// getHostname retrieves the hostname of the machine.
// It returns "unknown_host" if the hostname cannot be determined.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("Warning: could not get hostname: %v. Falling back to 'unknown_host'.", err)
		return "unknown_host"
	}
	return hostname
}

func auditCmdStart(cmd *cobra.Command, args []string) time.Time {
	now := time.Now()
	err := auditLogger.Log("command_start", true, map[string]interface{}{
		"command":    cmd.CommandPath(),
		"args":       sanitizeArgs(args),
		"flags":      sanitizeFlags(cmd),
		"user_id":    cliContext.UserID,
		"session_id": cliContext.SessionID,
		"source":     cliContext.Source,
	})
	if err != nil {
		log.Printf("ERROR: %v\n", err)
	}
	return now
}

func auditCmdComplete(cmd *cobra.Command, err error, startedTime time.Time) error {
	// Log command completion
	if auditLogger != nil {
		auditLogger.Log("command_complete", err == nil, map[string]interface{}{
			"command":     cmd.CommandPath(),
			"duration_ms": time.Since(startedTime).Milliseconds(),
			"success":     err == nil,
			"error":       formatError(err),
			"user_id":     cliContext.UserID,
			"session_id":  cliContext.SessionID,
		})
	}
	return err
}

func formatError(err error) string {
	if err == nil {
		return ""
	}

	var messages []string

	// Unwrap the error chain and collect all messages
	for err != nil {
		messages = append(messages, err.Error())
		err = errors.Unwrap(err)
	}

	// If we have multiple errors in the chain, show the hierarchy
	if len(messages) > 1 {
		// Remove duplicates that might occur from unwrapping
		uniqueMessages := make([]string, 0, len(messages))
		seen := make(map[string]bool)

		for _, msg := range messages {
			if !seen[msg] {
				uniqueMessages = append(uniqueMessages, msg)
				seen[msg] = true
			}
		}

		if len(uniqueMessages) > 1 {
			return fmt.Sprintf("Error: %s (caused by: %s)",
				uniqueMessages[0],
				strings.Join(uniqueMessages[1:], " -> "))
		}
	}

	// Single error or all messages were the same
	message := messages[0]

	// Basic formatting
	if len(message) > 0 {
		first := string(message[0])
		if first != strings.ToUpper(first) {
			message = strings.ToUpper(first) + message[1:]
		}
	}

	return fmt.Sprintf("Error: %s", message)
}

func sanitizeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			if isSensitiveFlag(flag.Name) {
				flags[flag.Name] = "[REDACTED]"
			} else {
				flags[flag.Name] = flag.Value.String()
			}
		}
	})
	return flags
}

func sanitizeArgs(args []string) []string {
	// Remove or mask sensitive arguments
	sanitized := make([]string, len(args))
	for i, arg := range args {
		if containsSensitiveData(arg) {
			sanitized[i] = "[REDACTED]"
		} else {
			sanitized[i] = arg
		}
	}
	return sanitized
}

func containsSensitiveData(arg string) bool {
	return strings.HasPrefix(arg, "pass:")
}
