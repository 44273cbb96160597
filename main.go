package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/config"
	"github.com/zarkopopovski/jane/controllers"
	"github.com/zarkopopovski/jane/db"
	"github.com/zarkopopovski/jane/filters"
	"github.com/zarkopopovski/jane/logger"
	"github.com/zarkopopovski/jane/middleware"
	"github.com/zarkopopovski/jane/services"
	"github.com/zarkopopovski/jane/web"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	Authentication *controllers.AuthController
	UserController *controllers.UserController
	ChatController *controllers.ChatController
	SMSController  *controllers.SMSController
	MainController *controllers.MainController
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		logrus.WithError(err).Fatal("Could not set up logging")
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			AttachStacktrace: true,
		})
		if err != nil {
			log.WithError(err).Warn("Sentry initialisation failed")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	dbHandler, err := db.NewDBConnection(cfg.DatabaseDriver(), cfg.DatabaseDSN())
	if err != nil {
		log.WithError(err).Fatal("Could not open database")
	}
	defer dbHandler.Close()

	var llm services.LLM
	var sender services.MessageCreator
	if cfg.IsProduction() {
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAI.APIKey),
			openai.WithModel(cfg.OpenAI.Model),
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			log.WithError(err).Fatal("Could not create OpenAI client")
		}
		llm = model

		twilioClient := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.Twilio.AccountSID,
			Password: cfg.Twilio.AuthToken,
		})
		sender = twilioClient.Api
	}

	cache := services.NewCacheService(dbHandler, log)
	messages := services.NewMessageService(dbHandler, cache, log, cfg.HistoryLimit)
	sms := services.NewSMSService(cfg, dbHandler, sender, log)
	users := services.NewUserService(dbHandler, sms, log)
	ai := services.NewAIService(cfg, llm, cache, log)
	screener := filters.NewScreener(log)

	mainController, err := controllers.NewMainController(dbHandler, web.FS, log)
	if err != nil {
		log.WithError(err).Fatal("Could not load web assets")
	}

	authController := &controllers.AuthController{
		DBManager:     dbHandler,
		Users:         users,
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		Log:           log,
	}

	var validator *client.RequestValidator
	if cfg.Twilio.ValidateSignature {
		v := client.NewRequestValidator(cfg.Twilio.AuthToken)
		validator = &v
	}

	handlers := &Handlers{
		Authentication: authController,
		UserController: &controllers.UserController{
			Users:          users,
			Messages:       messages,
			SMS:            sms,
			Mailer:         services.NewMailer(cfg.Mail, log),
			AuthController: authController,
			PublicURL:      cfg.PublicURL,
			Log:            log,
		},
		ChatController: &controllers.ChatController{
			AI:             ai,
			Messages:       messages,
			Screener:       screener,
			AuthController: authController,
			HistoryLimit:   cfg.HistoryLimit,
			Log:            log,
		},
		SMSController: &controllers.SMSController{
			SMS:       sms,
			AI:        ai,
			Screener:  screener,
			Validator: validator,
			PublicURL: cfg.PublicURL,
			Log:       log,
		},
		MainController: mainController,
	}

	store, err := middleware.NewStore(cfg.RateLimit.StorageURI)
	if err != nil {
		log.WithError(err).Fatal("Invalid rate limit storage")
	}
	chatRate, err := middleware.ParseRate(cfg.RateLimit.Chat)
	if err != nil {
		log.WithError(err).Fatal("Invalid chat rate limit")
	}
	defaultRate, err := middleware.ParseRate(cfg.RateLimit.Default)
	if err != nil {
		log.WithError(err).Fatal("Invalid default rate limit")
	}
	limiter := middleware.NewRateLimiter(store, cfg.RateLimit.Enabled, log).
		TrustProxy(cfg.RateLimit.TrustProxy)

	httpRouter := routes(handlers, limiter, chatRate, defaultRate, log)

	handler := cors.AllowAll().Handler(
		middleware.SecurityHeaders(
			middleware.RequestID(
				middleware.Recoverer(log)(
					middleware.Logger(log)(
						middleware.Metrics(httpRouter))))))

	go cache.RunJanitor(ctx, cfg.Cache.JanitorInterval)
	go limiter.RunSweeper(ctx, 10*time.Minute)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Env}).Info("Start listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Shutdown did not complete")
	}
}

func routes(handlers *Handlers, limiter *middleware.RateLimiter, chatRate, defaultRate middleware.Rate, log logrus.FieldLogger) *http.ServeMux {
	httpRouter := http.NewServeMux()

	denied := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, log, apperrors.RateLimit("Rate limit exceeded"))
	})
	limited := func(h http.HandlerFunc) http.Handler {
		return middleware.MaxBodySize(maxBodyBytes)(limiter.Limit("default", defaultRate, denied)(h))
	}

	//PAGES
	httpRouter.HandleFunc("GET /{$}", handlers.MainController.Index)
	httpRouter.HandleFunc("GET /terms_of_service", handlers.MainController.Document("terms_of_service"))
	httpRouter.HandleFunc("GET /privacy_policy", handlers.MainController.Document("privacy_policy"))
	httpRouter.HandleFunc("GET /static/", handlers.MainController.Static)
	httpRouter.HandleFunc("GET /health", handlers.MainController.Health)
	httpRouter.Handle("GET /metrics", promhttp.Handler())
	httpRouter.HandleFunc("/", handlers.MainController.NotFound)

	//CHAT
	chatDenied := http.HandlerFunc(handlers.ChatController.RateLimited)
	httpRouter.Handle("POST /chat", middleware.MaxBodySize(maxBodyBytes)(
		limiter.Limit("chat", chatRate, chatDenied)(http.HandlerFunc(handlers.ChatController.Chat))))
	httpRouter.Handle("GET /chat/history", limited(handlers.ChatController.History))
	httpRouter.Handle("POST /clear-chat", limited(handlers.ChatController.ClearChat))

	//SMS
	httpRouter.Handle("POST /sms", limited(handlers.SMSController.HandleSMS))

	//AUTH
	httpRouter.Handle("POST /auth/register", limited(handlers.UserController.RegisterNewUser))
	httpRouter.Handle("POST /auth/login", limited(handlers.Authentication.Login))
	httpRouter.Handle("POST /auth/logout", limited(handlers.Authentication.Logout))
	httpRouter.Handle("GET /auth/refresh-token", limited(handlers.Authentication.Refresh))

	//USER
	httpRouter.Handle("GET /auth/profile", limited(handlers.UserController.Profile))
	httpRouter.Handle("POST /auth/profile", limited(handlers.UserController.UpdateUserDetails))
	httpRouter.Handle("POST /auth/password/change", limited(handlers.UserController.ChangePassword))
	httpRouter.Handle("GET /auth/conversations", limited(handlers.UserController.ListConversations))
	httpRouter.Handle("POST /auth/conversations", limited(handlers.UserController.StartConversation))

	return httpRouter
}
