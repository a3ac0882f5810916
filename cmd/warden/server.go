package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/warden-bot/warden/automod"
	"github.com/warden-bot/warden/banmgr"
	"github.com/warden-bot/warden/discord"
	"github.com/warden-bot/warden/store"
	"github.com/warden-bot/warden/web"
)

type Config struct {
	Logger        *slog.Logger
	DiscordToken  string
	MongoURI      string
	MongoDatabase string
	GuildID       string
	StaffChannel  string
	VerifyRoleID  string
	ClientID      string
	ClientSecret  string
	PublicURL     string
	SessionSecret string
	AdminToken    string
	Bind          string
	MetricsListen string
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session
	db      *store.Mongo
	bans    *banmgr.Manager
	web     *web.Server
}

const ruleCacheTTL = 2 * time.Minute

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	logger := cfg.Logger

	client, err := store.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	db := store.NewMongo(client, cfg.MongoDatabase)
	if err := db.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensuring indexes: %w", err)
	}

	session, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return nil, err
	}
	mod := discord.NewModerator(session, logger)
	bans := banmgr.NewManager(logger, db, mod)

	var notifier automod.StaffNotifier = automod.NoopNotifier{}
	if cfg.StaffChannel != "" {
		notifier = &discord.StaffNotifier{Session: session, ChannelID: cfg.StaffChannel}
	}

	ruleCache := automod.NewCachedRuleSource(db, logger, 128, ruleCacheTTL)
	spam := automod.NewSpamDetector(automod.DefaultSpamWindow, automod.DefaultSpamThreshold, automod.DefaultMaxSpamWindows)
	engine := &automod.Engine{
		Logger:    logger,
		Rules:     ruleCache,
		Evaluator: automod.NewEvaluator(spam, logger),
		Recorder:  &automod.Recorder{Infractions: db, Logger: logger},
		Stats:     db,
		Executor:  &automod.Executor{Mod: mod, Logger: logger},
		Notifier:  notifier,
		Scheduler: bans,
	}
	discord.NewEventBridge(engine, logger).Attach(session)

	webSrv, err := web.NewServer(logger, web.Config{
		PublicURL:     cfg.PublicURL,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		GuildID:       cfg.GuildID,
		VerifyRoleID:  cfg.VerifyRoleID,
		SessionSecret: cfg.SessionSecret,
		AdminToken:    cfg.AdminToken,
	}, db, db, db, db, mod, bans, ruleCache)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		logger:  logger,
		session: session,
		db:      db,
		bans:    bans,
		web:     webSrv,
	}, nil
}

// Run opens the gateway, rebuilds the unban queue, and serves the web
// companion and metrics until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.session.Open(); err != nil {
		return fmt.Errorf("opening gateway connection: %w", err)
	}
	defer s.session.Close()

	if err := s.bans.LoadExisting(ctx); err != nil {
		return fmt.Errorf("rebuilding unban queue: %w", err)
	}
	defer s.bans.Close()

	go func() {
		if err := s.RunMetrics(s.cfg.MetricsListen); err != nil {
			s.logger.Error("failed to start metrics endpoint", "err", err)
			panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.web.Start(s.cfg.Bind)
	})
	eg.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.web.Shutdown(shutCtx)
	})

	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Server) RunMetrics(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, mux)
}
