package bootstrap

import (
	"context"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"

	"booking_worker/adapter/out/blob"
	"booking_worker/adapter/out/identity"
	"booking_worker/adapter/out/messaging"
	"booking_worker/adapter/out/mongodb"
	"booking_worker/adapter/out/provider"
	"booking_worker/config"
	"booking_worker/core/agent"
	"booking_worker/core/agent/llm"
	"booking_worker/core/agent/tools"
	"booking_worker/core/port/out"
	"booking_worker/core/service/calendar"
	"booking_worker/core/service/email"
	"booking_worker/core/service/pipeline"
	"booking_worker/core/service/reply"
	"booking_worker/pkg/cache"
	"booking_worker/pkg/httputil"
	"booking_worker/pkg/logger"
	"booking_worker/pkg/resilience"
)

// Options select the parts of the graph a run mode needs.
type Options struct {
	Mode   string
	DryRun bool
	// MboxRoot is the directory mbox buckets resolve against in replay mode.
	MboxRoot string
}

type Dependencies struct {
	Config *config.Config
	Log    *logger.Logger
	Zlog   zerolog.Logger

	Redis *redis.Client
	Mongo *mongo.Client

	Blobs      out.BlobStore
	BlobWriter out.BlobWriter
	Mbox       *blob.MboxStore
	Publisher  out.TriggerPublisher

	Pipeline *pipeline.Service
}

// NewDependencies builds the object graph. The returned cleanup closes every connection opened.
func NewDependencies(ctx context.Context, cfg *config.Config, opts Options) (*Dependencies, func(), error) {
	log := logger.New(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "booking-worker",
	})
	deps := &Dependencies{
		Config: cfg,
		Log:    log,
		Zlog:   newZerolog(cfg),
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	clients := httputil.NewClients()

	// Redis trigger queue
	if cfg.RedisURL != "" && opts.Mode != "once" && opts.Mode != "replay" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("invalid REDIS_URL: %w", err))
		}
		deps.Redis = redis.NewClient(redisOpts)
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			_ = deps.Redis.Close()
			return fail(fmt.Errorf("failed to connect to Redis: %w", err))
		}
		cleanups = append(cleanups, func() { _ = deps.Redis.Close() })
		deps.Publisher = messaging.NewTriggerProducer(deps.Redis, cfg.TriggerStream, 0)
		log.Info("Redis trigger queue configured on stream %s", cfg.TriggerStream)
	}

	// Raw email storage
	deps.Mbox = blob.NewMboxStore(opts.MboxRoot)
	switch {
	case opts.Mode == "replay" || cfg.BlobBackend == config.BlobBackendMbox:
		deps.Blobs = deps.Mbox
	case cfg.BlobBackend == config.BlobBackendFS:
		fsStore := blob.NewFSStore(cfg.BlobFSRoot)
		deps.Blobs, deps.BlobWriter = fsStore, fsStore
	default:
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			return fail(err)
		}
		deps.Mongo = client
		cleanups = append(cleanups, func() { _ = client.Disconnect(context.Background()) })
		store := mongodb.NewRawMailStore(client.Database(cfg.MongoDBName))
		deps.Blobs, deps.BlobWriter = store, store
	}

	// Calendar backend and identity directory
	var (
		calProvider out.CalendarProvider
		directory   out.IdentityDirectory
	)
	switch cfg.CalendarBackend {
	case config.CalendarBackendCalDAV:
		calProvider = provider.NewCalDAVAdapter(provider.CalDAVConfig{
			Endpoint:        cfg.CalDAVEndpoint,
			CalendarPath:    cfg.CalDAVCalendarPath,
			Username:        cfg.CalDAVUsername,
			Password:        cfg.CalDAVPassword,
			DefaultTimezone: cfg.CalDAVDefaultTimezone,
			HTTPClient:      clients.Default,
		})
		if cfg.ClerkSecretKey != "" {
			directory = identity.NewClerkDirectory(cfg.ClerkAPIURL, cfg.ClerkSecretKey, "", clients.Default)
		} else {
			directory = identity.NewStaticDirectory(cfg.CalDAVOwners, nil)
		}
	default:
		calProvider = provider.NewGoogleCalendarAdapter(googleOAuthConfig(cfg, gcal.CalendarScope),
			provider.WithCalendarHTTPClient(clients.Google))
		directory = identity.NewClerkDirectory(cfg.ClerkAPIURL, cfg.ClerkSecretKey, "oauth_google", clients.Default)
	}
	if _, static := directory.(*identity.StaticDirectory); !static && cfg.IdentityCacheTTL > 0 {
		var lookups cache.JSONCache = cache.NewMemoryCache()
		if deps.Redis != nil {
			lookups = cache.NewRedisCache(deps.Redis, "identity:")
		}
		directory = identity.NewCachedDirectory(directory, lookups, cfg.IdentityCacheTTL, log)
	}

	guardCfg := func(name string) resilience.GuardConfig {
		c := resilience.DefaultGuardConfig(name)
		c.Timeout = cfg.ExternalCallTimeout
		return c
	}
	gateway := calendar.NewGateway(
		directory,
		calProvider,
		resilience.NewGuard(guardCfg("identity"), log),
		resilience.NewGuard(guardCfg("calendar"), log),
		log,
	)

	// Agent
	model := llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		HTTPClient:  clients.OpenAI,
	})
	executor := tools.NewExecutor(tools.NewRegistry(tools.CalendarTools(gateway)...), log)
	responder := agent.New(model, executor, agent.Options{
		MaxIterations: cfg.AgentMaxIterations,
		AssistantName: cfg.AssistantName,
		Guard:         resilience.NewGuard(guardCfg("llm"), log),
		Logger:        log,
	})

	// Outbound mail
	from := &mail.Address{Name: cfg.AssistantName, Address: cfg.AssistantEmail}
	sender, err := newMailSender(ctx, cfg, opts, from, clients, log)
	if err != nil {
		return fail(err)
	}

	analyzer := email.NewThreadAnalyzer()
	dispatcher := reply.NewDispatcher(analyzer, sender, cfg.AssistantEmail,
		resilience.NewGuard(guardCfg("mail"), log), log)

	mode := pipeline.ModeAgent
	if cfg.OpenAIAPIKey == "" {
		mode = pipeline.ModeAutoAck
		log.Warn("OPENAI_API_KEY not set, replying with the default text")
	}
	deps.Pipeline = pipeline.NewService(
		deps.Blobs,
		email.NewParser(log),
		analyzer,
		responder,
		dispatcher,
		pipeline.Config{
			AssistantEmail: cfg.AssistantEmail,
			Mode:           mode,
			DefaultReply:   cfg.DefaultReply,

			ReplyToAutomated: cfg.ReplyToAutomated,
		},
		log,
	)

	return deps, cleanup, nil
}

func newMailSender(ctx context.Context, cfg *config.Config, opts Options, from *mail.Address, clients *httputil.Clients, log *logger.Logger) (out.MailSender, error) {
	if opts.DryRun {
		log.Info("Dry run: replies are logged, not sent")
		return provider.NewLogSender(from, log), nil
	}
	if cfg.MailSenderToken == "" {
		log.Warn("MAIL_SENDER_TOKEN not set, replies are logged, not sent")
		return provider.NewLogSender(from, log), nil
	}

	// The sender token is a refresh token when OAuth client credentials are present.
	var ts oauth2.TokenSource
	if oc := googleOAuthConfig(cfg, gmail.GmailSendScope); oc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, clients.Google)
		ts = oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.MailSenderToken})
	} else {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.MailSenderToken})
	}

	return provider.NewGmailSender(ctx, provider.GmailSenderConfig{
		From:        from,
		UserID:      cfg.MailSenderUser,
		TokenSource: ts,
		HTTPClient:  clients.Google,
	})
}

func googleOAuthConfig(cfg *config.Config, scopes ...string) *oauth2.Config {
	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
}

func newZerolog(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var zl zerolog.Logger
	if cfg.IsDevelopment() {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		zl = zerolog.New(os.Stdout)
	}
	return zl.Level(level).With().Timestamp().Str("service", "booking-worker").Logger()
}
