package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "community moderation daemon (rules, bans, appeals)",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     "discord-token",
			Usage:    "bot token for the gateway and REST API",
			Required: true,
			EnvVars:  []string{"WARDEN_DISCORD_TOKEN", "DISCORD_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "mongo-uri",
			Usage:   "MongoDB connection string",
			Value:   "mongodb://localhost:27017",
			EnvVars: []string{"WARDEN_MONGO_URI", "MONGO_URI"},
		},
		&cli.StringFlag{
			Name:    "mongo-database",
			Value:   "warden",
			EnvVars: []string{"WARDEN_MONGO_DATABASE"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation daemon and web companion",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "guild-id",
			Usage:    "the guild this deployment moderates",
			Required: true,
			EnvVars:  []string{"WARDEN_GUILD_ID"},
		},
		&cli.StringFlag{
			Name:    "staff-channel-id",
			Usage:   "channel receiving violation audit notices; empty disables them",
			EnvVars: []string{"WARDEN_STAFF_CHANNEL_ID"},
		},
		&cli.StringFlag{
			Name:    "verify-role-id",
			Usage:   "role granted after OAuth verification",
			EnvVars: []string{"WARDEN_VERIFY_ROLE_ID"},
		},
		&cli.StringFlag{
			Name:    "discord-client-id",
			Usage:   "OAuth application client id",
			EnvVars: []string{"WARDEN_DISCORD_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "discord-client-secret",
			Usage:   "OAuth application client secret",
			EnvVars: []string{"WARDEN_DISCORD_CLIENT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "public-url",
			Usage:   "externally reachable base URL of the web companion",
			Value:   "http://localhost:8994",
			EnvVars: []string{"WARDEN_PUBLIC_URL"},
		},
		&cli.StringFlag{
			Name:    "session-secret",
			Usage:   "key for session cookies and OAuth state signing",
			EnvVars: []string{"WARDEN_SESSION_SECRET"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token for the moderator JSON API; empty disables it",
			EnvVars: []string{"WARDEN_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the web companion",
			Value:   ":8994",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics",
			Value:   ":8993",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := NewServer(ctx, Config{
			Logger:        logger,
			DiscordToken:  cctx.String("discord-token"),
			MongoURI:      cctx.String("mongo-uri"),
			MongoDatabase: cctx.String("mongo-database"),
			GuildID:       cctx.String("guild-id"),
			StaffChannel:  cctx.String("staff-channel-id"),
			VerifyRoleID:  cctx.String("verify-role-id"),
			ClientID:      cctx.String("discord-client-id"),
			ClientSecret:  cctx.String("discord-client-secret"),
			PublicURL:     cctx.String("public-url"),
			SessionSecret: cctx.String("session-secret"),
			AdminToken:    cctx.String("admin-token"),
			Bind:          cctx.String("bind"),
			MetricsListen: cctx.String("metrics-listen"),
		})
		if err != nil {
			return err
		}

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run moderation service: %w", err)
		}
		return nil
	},
}
