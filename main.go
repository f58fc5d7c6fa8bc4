package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/tejzpr/training-desk/internal/allocator"
	"github.com/tejzpr/training-desk/internal/auth"
	"github.com/tejzpr/training-desk/internal/config"
	"github.com/tejzpr/training-desk/internal/db"
	"github.com/tejzpr/training-desk/internal/handler"
	"github.com/tejzpr/training-desk/internal/legacy"
	"github.com/tejzpr/training-desk/internal/notify"
	"github.com/tejzpr/training-desk/internal/webserver"
	"github.com/tejzpr/training-desk/internal/workflow"
	"gorm.io/gorm"
)

const version = "1.0.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	envFile      string
	httpOnly     bool
	importLegacy string
	issueToken   string
	tokenName    string
	tokenRoles   []string
	tokenTTL     time.Duration
}

func run(args []string) error {
	// The env file has to be loaded before the flag defaults are computed.
	pre := pflag.NewFlagSet("training-desk", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	envFile := pre.String("env-file", ".env", "")
	_ = pre.Parse(args)

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}

	var opts options
	flagSet := pflag.NewFlagSet("training-desk", pflag.ContinueOnError)
	flagSet.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading TRAINING_* variables")
	cfg.BindFlags(flagSet)
	flagSet.BoolVar(&opts.httpOnly, "http-only", false, "serve only the HTTP gateway, without the MCP stdio server")
	flagSet.StringVar(&opts.importLegacy, "import-legacy", "", "import the old bot's JSON files from this directory and exit")
	flagSet.StringVar(&opts.issueToken, "issue-token", "", "print an actor token for this user id and exit")
	flagSet.StringVar(&opts.tokenName, "token-name", "", "display name for --issue-token")
	flagSet.StringSliceVar(&opts.tokenRoles, "token-roles", nil, "role ids for --issue-token")
	flagSet.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the token printed by --issue-token")
	flagSet.Bool("version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if v, _ := flagSet.GetBool("version"); v {
		fmt.Println("training-desk", version)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout carries the MCP protocol, so logs go to stderr.
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.issueToken != "" {
		tokens, err := auth.NewTokens(cfg.JWTSecret)
		if err != nil {
			return err
		}
		token, err := tokens.Issue(auth.Actor{ID: opts.issueToken, Name: opts.tokenName, Claims: opts.tokenRoles}, opts.tokenTTL)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	}

	d, err := db.Init(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if opts.importLegacy != "" {
		rep, err := importLegacy(ctx, cfg, d, opts.importLegacy, logger)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(rep)
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret)
	if err != nil {
		return err
	}

	broker := notify.NewBroker(cfg.ReviewChannel, cfg.ResultsChannel)
	dispatcher := notify.Fanout{broker}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis not reachable, notifications stay local until it is", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		dispatcher = append(dispatcher, notify.NewRedisPublisher(rdb,
			notify.WithRedisPrefix(cfg.RedisPrefix),
			notify.WithRedisLogger(logger),
		))
	}

	engine := workflow.New(d, dispatcher, workflow.Config{
		Claims: workflow.Claims{
			Standard: cfg.StandardClaim,
			Elevated: cfg.ElevatedClaim,
			Reviewer: cfg.ReviewerClaim,
		},
		ReviewChannel:  cfg.ReviewChannel,
		ResultsChannel: cfg.ResultsChannel,
		ReviewRole:     cfg.ReviewRole,
		CooldownWindow: cfg.Cooldown,
		StandardPrefix: cfg.StandardPrefix,
		ElevatedPrefix: cfg.ElevatedPrefix,
	}, workflow.WithLogger(logger))

	limiter := webserver.NewLimiter(cfg.RateRPS, cfg.RateBurst)
	limiter.StartJanitor(ctx, time.Minute)

	srv := webserver.New(engine, tokens,
		webserver.WithBroker(broker),
		webserver.WithLimiter(limiter),
		webserver.WithLogger(logger),
		webserver.WithReviewerClaim(cfg.ReviewerClaim),
	)
	primary, err := srv.Start(ctx, cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}

	var desk workflow.Desk = engine
	if !primary {
		if opts.httpOnly {
			return fmt.Errorf("another training desk is already serving %s", cfg.HTTPAddr)
		}
		logger.Info("forwarding commands to running desk", "addr", cfg.HTTPAddr)
		desk = webserver.NewClient("http://"+cfg.HTTPAddr, tokens)
	}

	if opts.httpOnly {
		<-ctx.Done()
		return nil
	}

	s := server.NewMCPServer(
		"training-desk",
		version,
		server.WithToolCapabilities(false),
	)
	handler.New(desk, tokens, logger).Register(s)

	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// importLegacy parses legacy ids with the configured prefixes.
func importLegacy(ctx context.Context, cfg config.Config, d *gorm.DB, dir string, logger *slog.Logger) (*legacy.Report, error) {
	alloc := allocator.New(d,
		allocator.WithPrefix(db.CategoryStandard, cfg.StandardPrefix),
		allocator.WithPrefix(db.CategoryElevated, cfg.ElevatedPrefix),
	)
	return legacy.Import(ctx, d, dir, legacy.WithAllocator(alloc), legacy.WithLogger(logger))
}
