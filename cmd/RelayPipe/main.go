package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/RelayPipe/internal/api"
	"github.com/BTreeMap/RelayPipe/internal/flow"
	"github.com/BTreeMap/RelayPipe/internal/genai"
	"github.com/BTreeMap/RelayPipe/internal/lockfile"
	"github.com/BTreeMap/RelayPipe/internal/messaging"
	"github.com/BTreeMap/RelayPipe/internal/metrics"
	"github.com/BTreeMap/RelayPipe/internal/relay"
	"github.com/BTreeMap/RelayPipe/internal/store"
	"github.com/BTreeMap/RelayPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/RelayPipe/internal/util"
	"github.com/BTreeMap/RelayPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for RelayPipe state data
	DefaultStateDir = "/var/lib/relaypipe"
	// DefaultDocumentFileName is the JSON document used when no database is configured
	DefaultDocumentFileName = "db.json"
	// DefaultPublicDir holds static files served under /public/
	DefaultPublicDir = "public"
)

// Outbound channel names accepted by OUTBOUND_CHANNEL.
const (
	ChannelCloud  = "cloud"
	ChannelTwilio = "twilio"
)

func main() {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config, flag.CommandLine, os.Args[1:])
	initializeLogger(*flags.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("RelayPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("RelayPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	APIAddr          string
	PublicDir        string
	VerifyToken      string
	AccessToken      string
	PhoneNumberID    string
	APIVersion       string
	OutboundChannel  string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	GenAIKey         string
	GenAIBaseURL     string
	GenAIModel       string
	SystemPromptFile string
	FlowFile         string
	LogLevel         string
	GenAIDebug       bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	apiAddr          *string
	publicDir        *string
	verifyToken      *string
	accessToken      *string
	phoneNumberID    *string
	apiVersion       *string
	outboundChannel  *string
	twilioAccountSID *string
	twilioAuthToken  *string
	twilioFrom       *string
	genaiKey         *string
	genaiBaseURL     *string
	genaiModel       *string
	systemPromptFile *string
	flowFile         *string
	logLevel         *string
	genaiDebug       *bool
}

// initializeLogger sets up structured logging at the given level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// parseLogLevel maps LOG_LEVEL values to slog levels, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("RELAY_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		PublicDir:        os.Getenv("PUBLIC_DIR"),
		VerifyToken:      os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		AccessToken:      os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		PhoneNumberID:    os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		APIVersion:       os.Getenv("WHATSAPP_API_VERSION"),
		OutboundChannel:  os.Getenv("OUTBOUND_CHANNEL"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_WHATSAPP_FROM"),
		GenAIKey:         util.FirstEnv("GROQ_API_KEY", "OPENAI_API_KEY"),
		GenAIBaseURL:     os.Getenv("GENAI_BASE_URL"),
		GenAIModel:       os.Getenv("GENAI_MODEL"),
		SystemPromptFile: os.Getenv("SYSTEM_PROMPT_FILE"),
		FlowFile:         os.Getenv("FLOW_FILE"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.APIAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			config.APIAddr = ":" + port
		} else {
			config.APIAddr = api.DefaultAddr
		}
	}
	if config.PublicDir == "" {
		config.PublicDir = DefaultPublicDir
	}
	if config.OutboundChannel == "" {
		config.OutboundChannel = ChannelCloud
	}

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, fs *flag.FlagSet, args []string) Flags {
	flags := Flags{
		stateDir:         fs.String("state-dir", config.StateDir, "state directory for RelayPipe data (overrides $RELAY_STATE_DIR)"),
		dbDSN:            fs.String("db-dsn", config.DatabaseURL, "Postgres DSN, SQLite path or JSON document path (overrides $DATABASE_URL)"),
		apiAddr:          fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR or $PORT)"),
		publicDir:        fs.String("public-dir", config.PublicDir, "directory served under /public/ (overrides $PUBLIC_DIR)"),
		verifyToken:      fs.String("verify-token", config.VerifyToken, "webhook verification token (overrides $WEBHOOK_VERIFY_TOKEN)"),
		accessToken:      fs.String("whatsapp-access-token", config.AccessToken, "Cloud API access token (overrides $WHATSAPP_ACCESS_TOKEN)"),
		phoneNumberID:    fs.String("whatsapp-phone-number-id", config.PhoneNumberID, "Cloud API phone number id (overrides $WHATSAPP_PHONE_NUMBER_ID)"),
		apiVersion:       fs.String("whatsapp-api-version", config.APIVersion, "Graph API version (overrides $WHATSAPP_API_VERSION)"),
		outboundChannel:  fs.String("outbound-channel", config.OutboundChannel, "outbound channel: cloud or twilio (overrides $OUTBOUND_CHANNEL)"),
		twilioAccountSID: fs.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioAuthToken:  fs.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:       fs.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_WHATSAPP_FROM)"),
		genaiKey:         fs.String("genai-api-key", config.GenAIKey, "Groq or OpenAI API key (overrides $GROQ_API_KEY or $OPENAI_API_KEY)"),
		genaiBaseURL:     fs.String("genai-base-url", config.GenAIBaseURL, "OpenAI-compatible base URL (overrides $GENAI_BASE_URL)"),
		genaiModel:       fs.String("genai-model", config.GenAIModel, "chat model name (overrides $GENAI_MODEL)"),
		systemPromptFile: fs.String("system-prompt-file", config.SystemPromptFile, "file holding the responder system prompt (overrides $SYSTEM_PROMPT_FILE)"),
		flowFile:         fs.String("flow-file", config.FlowFile, "YAML menu flow definition (overrides $FLOW_FILE)"),
		logLevel:         fs.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)"),
		genaiDebug:       fs.Bool("genai-debug", config.GenAIDebug, "write responder requests to the state directory (overrides $GENAI_DEBUG)"),
	}

	if err := fs.Parse(args); err != nil {
		slog.Warn("failed to parse flags", "error", err)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"outboundChannel", *flags.outboundChannel,
		"genaiKeySet", *flags.genaiKey != "",
		"flowFile", *flags.flowFile)

	return flags
}

// run wires every module and serves until ctx is canceled.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()

	doc, err := st.Load()
	if err != nil {
		return fmt.Errorf("failed to load store snapshot: %w", err)
	}

	def, err := flow.Load(*flags.flowFile)
	if err != nil {
		return fmt.Errorf("failed to load flow definition: %w", err)
	}

	genaiOpts, err := buildGenAIOptions(flags)
	if err != nil {
		return err
	}
	responder, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create responder: %w", err)
	}

	channel, err := buildChannel(flags, def.Trigger)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(metrics.DefaultNamespace, nil)
	router := relay.NewRouter(st, flow.NewEngine(def), responder, channel, relay.WithMetrics(collector))
	server := api.NewServer(router, channel, buildAPIOptions(flags, def.Trigger, collector)...)

	slog.Info("Bootstrapping RelayPipe",
		"state_dir", *flags.stateDir,
		"store", store.DetectDSNType(storeDSN(flags)),
		"conversations", len(doc.Conversations),
		"flow_version", def.Version,
		"model", responder.Model(),
		"channel", *flags.outboundChannel,
		"api_addr", *flags.apiAddr)
	return server.Run(ctx)
}

// storeDSN returns the configured DSN, or the JSON document in the state directory.
func storeDSN(flags Flags) string {
	if *flags.dbDSN != "" {
		return *flags.dbDSN
	}
	return filepath.Join(*flags.stateDir, DefaultDocumentFileName)
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	dsn := storeDSN(flags)
	switch store.DetectDSNType(dsn) {
	case store.BackendPostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(dsn)}
	case store.BackendSQLite:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
		return []store.Option{store.WithSQLiteDSN(dsn)}
	case store.BackendJSON:
		slog.Debug("Configuring JSON document store", "path", dsn)
		return []store.Option{store.WithJSONPath(dsn)}
	default:
		slog.Warn("Unrecognized DSN, using in-memory store", "dsn", dsn)
		return nil
	}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) ([]genai.Option, error) {
	opts := []genai.Option{
		genai.WithAPIKey(*flags.genaiKey),
		genai.WithDebugMode(*flags.genaiDebug),
		genai.WithStateDir(*flags.stateDir),
		genai.WithTimeout(util.ParseDurationEnv("GENAI_TIMEOUT", genai.DefaultTimeout)),
	}
	if *flags.genaiBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(*flags.genaiBaseURL))
	}
	if *flags.genaiModel != "" {
		opts = append(opts, genai.WithModel(*flags.genaiModel))
	}
	if *flags.systemPromptFile != "" {
		data, err := os.ReadFile(*flags.systemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read system prompt file %s: %w", *flags.systemPromptFile, err)
		}
		if prompt := strings.TrimSpace(string(data)); prompt != "" {
			opts = append(opts, genai.WithSystemPrompt(prompt))
		}
	}
	return opts, nil
}

// buildChannel creates the outbound channel selected by --outbound-channel.
func buildChannel(flags Flags, trigger string) (messaging.Channel, error) {
	switch strings.ToLower(*flags.outboundChannel) {
	case ChannelCloud:
		opts := []whatsapp.Option{
			whatsapp.WithAccessToken(*flags.accessToken),
			whatsapp.WithPhoneNumberID(*flags.phoneNumberID),
			whatsapp.WithTimeout(util.ParseDurationEnv("WHATSAPP_TIMEOUT", whatsapp.DefaultTimeout)),
		}
		if *flags.apiVersion != "" {
			opts = append(opts, whatsapp.WithAPIVersion(*flags.apiVersion))
		}
		client, err := whatsapp.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp Cloud API client: %w", err)
		}
		return messaging.NewCloudChannel(client, messaging.WithMenuButton(trigger, messaging.DefaultMenuTitle)), nil

	case ChannelTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(*flags.twilioAccountSID),
			twiliowhatsapp.WithAuthToken(*flags.twilioAuthToken),
			twiliowhatsapp.WithFromWhats(*flags.twilioFrom),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioChannel(client), nil

	default:
		return nil, errors.New("unknown outbound channel " + *flags.outboundChannel + " (want cloud or twilio)")
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, trigger string, collector *metrics.Collector) []api.Option {
	opts := []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithVerifyToken(*flags.verifyToken),
		api.WithMenuTrigger(trigger),
		api.WithMetrics(collector),
	}
	if info, err := os.Stat(*flags.publicDir); err == nil && info.IsDir() {
		opts = append(opts, api.WithPublicDir(*flags.publicDir))
	} else {
		slog.Debug("Public directory not found, static files disabled", "public_dir", *flags.publicDir)
	}
	return opts
}
