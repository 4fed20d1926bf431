// Package server exposes rule-set processing over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/joshsymonds/gmailtriage/internal/model"
	"github.com/joshsymonds/gmailtriage/internal/rules"
	"github.com/joshsymonds/gmailtriage/internal/runtime"
)

// Processor runs a validated rule-set. An empty identity means the
// authenticated mailbox's own address.
type Processor interface {
	Run(ctx context.Context, identity string, rs rules.RuleSet) ([][]model.ActionReport, error)
}

// Connect authenticates against the mailbox and returns a Processor bound
// to it. Errors wrapping runtime.ErrAuthFailed are reported as 401.
type Connect func(ctx context.Context) (Processor, error)

// CredentialVerifier checks endpoint basic-auth credentials.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) error
}

type Config struct {
	Verifier CredentialVerifier
	Connect  Connect
	Log      *slog.Logger
	// Timeout bounds one processing request and each credential lookup.
	// Zero means no bound.
	Timeout time.Duration
	// BaseContext parents credential lookups; cancel it on shutdown.
	// Nil means context.Background.
	BaseContext context.Context
}

const (
	msgProcessed  = "Emails processed successfully"
	msgFailure    = "Something went wrong."
	outputFailure = "ERROR"
)

// New builds the HTTP app:
//
//	GET  /health                 liveness, unauthenticated
//	POST /process_emails/process basic auth, JSON rule-set body
func New(cfg Config) *fiber.App {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(requestLogger(cfg.Log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	h := &handler{cfg: cfg}
	protected := app.Group("/process_emails", basicauth.New(basicauth.Config{
		Realm: "gmailtriage",
		Authorizer: func(user, pass string) bool {
			ctx, cancel := cfg.lookupContext()
			defer cancel()
			err := cfg.Verifier.VerifyCredentials(ctx, user, pass)
			if err != nil {
				cfg.Log.Info("basic auth rejected", "user", user, "err", err)
				return false
			}
			return true
		},
		Unauthorized: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"status": false, "message": "Unauthorized"})
		},
	}))
	protected.Post("/process", h.process)
	return app
}

func (c Config) lookupContext() (context.Context, context.CancelFunc) {
	base := c.BaseContext
	if base == nil {
		base = context.Background()
	}
	if c.Timeout > 0 {
		return context.WithTimeout(base, c.Timeout)
	}
	return context.WithCancel(base)
}

type handler struct {
	cfg Config
}

func (h *handler) process(c *fiber.Ctx) error {
	rs, err := rules.Validate(c.Body())
	if err != nil {
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "message": verr.Message})
		}
		return failure(c)
	}

	ctx := c.UserContext()
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	proc, err := h.cfg.Connect(ctx)
	if err != nil {
		if errors.Is(err, runtime.ErrAuthFailed) {
			h.cfg.Log.Warn("mailbox authentication failed", "err", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"status": false, "message": "Mailbox authentication failed."})
		}
		h.cfg.Log.Error("connect mailbox", "err", err)
		return failure(c)
	}

	out, err := proc.Run(ctx, "", rs)
	if err != nil {
		h.cfg.Log.Error("processing failed", "err", err)
		return failure(c)
	}
	return c.JSON(fiber.Map{"message": msgProcessed, "output": out})
}

func failure(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msgFailure, "output": outputFailure})
}

func requestLogger(log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration", time.Since(start),
		)
		return err
	}
}
