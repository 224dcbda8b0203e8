package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/api"
	"github.com/alberto591/ai-automation-agency-sub000/internal/genai"
	"github.com/alberto591/ai-automation-agency-sub000/internal/lockfile"
	"github.com/alberto591/ai-automation-agency-sub000/internal/messaging"
	"github.com/alberto591/ai-automation-agency-sub000/internal/pipeline"
	"github.com/alberto591/ai-automation-agency-sub000/internal/scheduler"
	"github.com/alberto591/ai-automation-agency-sub000/internal/store"
	"github.com/alberto591/ai-automation-agency-sub000/internal/twiliowhatsapp"
	"github.com/alberto591/ai-automation-agency-sub000/internal/util"
	"github.com/alberto591/ai-automation-agency-sub000/internal/whatsapp"
	"github.com/joho/godotenv"
	"github.com/openai/openai-go"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for sales agent state data
	DefaultStateDir = "/var/lib/salesagent"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "salesagent.db"
	// DefaultWhatsmeowDBFileName is the default whatsmeow session database filename
	DefaultWhatsmeowDBFileName = "whatsmeow.db"
	// DefaultFollowUpCron runs the lead follow-up sweep every morning at 9.
	DefaultFollowUpCron = "0 9 * * *"
	// DefaultFollowUpIdleHours is how long a lead may sit untouched before a nudge.
	DefaultFollowUpIdleHours = 48
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping sales agent with configured modules")
	if err := run(ctx, flags); err != nil {
		slog.Error("Sales agent failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Sales agent exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	WhatsmeowDSN   string
	StateDir       string
	OpenAIKey      string
	ChatModel      string
	EmbeddingModel string
	APIAddr        string
	Transport      string
	AgentPhone     string
	FollowUpCron   string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	whatsmeowDSN *string
	openaiKey    *string
	chatModel    *string
	embedModel   *string
	apiAddr      *string
	transport    *string
	agentPhone   *string
	followupCron *string
	ratePerMin   int
	followupIdle int
	cacheMinSim  float64
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		WhatsmeowDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:       os.Getenv("SALESAGENT_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		ChatModel:      os.Getenv("OPENAI_CHAT_MODEL"),
		EmbeddingModel: os.Getenv("OPENAI_EMBEDDING_MODEL"),
		APIAddr:        os.Getenv("API_ADDR"),
		Transport:      os.Getenv("MESSAGING_TRANSPORT"),
		AgentPhone:     os.Getenv("AGENT_PHONE"),
		FollowUpCron:   os.Getenv("FOLLOWUP_CRON"),
	}

	if config.FollowUpCron == "" {
		config.FollowUpCron = DefaultFollowUpCron
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SALESAGENT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	// The whatsmeow session store can share the Postgres DSN, but gets
	// its own SQLite file so session writes never contend with the
	// customer store.
	if config.WhatsmeowDSN == "" {
		if store.DetectDSNType(config.DatabaseURL) == "postgres" {
			config.WhatsmeowDSN = config.DatabaseURL
		} else {
			config.WhatsmeowDSN = filepath.Join(config.StateDir, DefaultWhatsmeowDBFileName)
		}
	}

	// Pick the transport from credentials when not set explicitly.
	if config.Transport == "" {
		if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
			config.Transport = "twilio"
		} else {
			config.Transport = "whatsmeow"
		}
		slog.Debug("No MESSAGING_TRANSPORT set, inferred from environment", "transport", config.Transport)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsmeowDSN != "",
		"SALESAGENT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_TRANSPORT", config.Transport,
		"AGENT_PHONE_SET", config.AgentPhone != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false), "use numeric login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for sales agent data (overrides $SALESAGENT_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN for the customer and property store (overrides $DATABASE_URL)"),
		whatsmeowDSN: flag.String("whatsapp-db-dsn", config.WhatsmeowDSN, "database DSN for the whatsmeow session store (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		chatModel:    flag.String("chat-model", config.ChatModel, "OpenAI chat model (overrides $OPENAI_CHAT_MODEL)"),
		embedModel:   flag.String("embedding-model", config.EmbeddingModel, "OpenAI embedding model (overrides $OPENAI_EMBEDDING_MODEL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		transport:    flag.String("transport", config.Transport, "messaging transport: whatsmeow or twilio (overrides $MESSAGING_TRANSPORT)"),
		agentPhone:   flag.String("agent-phone", config.AgentPhone, "agent phone number for hot-lead alerts (overrides $AGENT_PHONE)"),
		followupCron: flag.String("followup-cron", config.FollowUpCron, "cron schedule for the lead follow-up sweep (overrides $FOLLOWUP_CRON)"),
		ratePerMin:   util.ParseIntEnv("OUTBOUND_PER_MINUTE", messaging.DefaultOutboundPerMinute),
		followupIdle: util.ParseIntEnv("FOLLOWUP_IDLE_HOURS", DefaultFollowUpIdleHours),
		cacheMinSim:  util.ParseFloatEnv("CACHE_MIN_SIMILARITY", store.DefaultCacheMinSimilarity),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport,
		"ratePerMin", flags.ratePerMin)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.whatsmeowDSN} {
		if store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
	}
	return nil
}

// run wires the modules together and blocks until the context is
// cancelled or the API server fails.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	ai, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}

	service, twilioSvc, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	if err := service.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := service.Stop(); err != nil {
			slog.Warn("run: messaging service stop failed", "error", err)
		}
	}()

	outbound := messaging.NewOutbound(service, messaging.NewRateLimiter(flags.ratePerMin))

	var notifier pipeline.Notifier
	if *flags.agentPhone != "" {
		notifier = messaging.NewHotLeadNotifier(service, *flags.agentPhone)
	} else {
		slog.Warn("run: no agent phone configured, hot-lead alerts disabled")
	}

	engine := pipeline.NewEngine(st, ai, outbound, notifier)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	followUp := messaging.NewFollowUp(st, outbound, time.Duration(flags.followupIdle)*time.Hour)
	if err := sched.AddJob(*flags.followupCron, followUp.Run); err != nil {
		return err
	}

	handler := messaging.NewHandler(service, engine)
	handler.Start(ctx)
	defer handler.Wait()

	server := api.NewServer(engine, st, ai, service, twilioSvc, buildAPIOptions(flags)...)
	return server.Start(ctx)
}

// buildStore constructs the customer and property store from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return store.NewPostgresStore(
			store.WithPostgresDSN(*flags.dbDSN),
			store.WithCacheMinSimilarity(flags.cacheMinSim))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(
		store.WithSQLiteDSN(*flags.dbDSN),
		store.WithCacheMinSimilarity(flags.cacheMinSim))
}

// buildMessagingService constructs the configured transport. The
// TwilioService is returned separately because the API server mounts
// its webhook only when Twilio is in use.
func buildMessagingService(flags Flags) (messaging.Service, *messaging.TwilioService, error) {
	switch strings.ToLower(*flags.transport) {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, nil, err
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	default:
		client, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewWhatsAppService(client), nil, nil
	}
}

// buildWhatsAppOptions constructs whatsmeow configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsmeowDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsmeowDSN))
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.chatModel != "" {
		genaiOpts = append(genaiOpts, genai.WithChatModel(openai.ChatModel(*flags.chatModel)))
	}
	if *flags.embedModel != "" {
		genaiOpts = append(genaiOpts, genai.WithEmbeddingModel(openai.EmbeddingModel(*flags.embedModel)))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
