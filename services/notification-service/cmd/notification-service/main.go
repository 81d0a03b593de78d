package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/expertmeet/expertmeet/libs/config"
	"github.com/expertmeet/expertmeet/libs/db"
	"github.com/expertmeet/expertmeet/libs/httpx"
	"github.com/expertmeet/expertmeet/libs/kafkax"
	otelx "github.com/expertmeet/expertmeet/libs/otel"
	"github.com/expertmeet/expertmeet/libs/runtime"
	"github.com/expertmeet/expertmeet/services/notification-service/internal/consumer"
	"github.com/expertmeet/expertmeet/services/notification-service/internal/email"
	"github.com/expertmeet/expertmeet/services/notification-service/internal/inbox"
	"github.com/expertmeet/expertmeet/services/notification-service/internal/outbox"
	"github.com/expertmeet/expertmeet/services/notification-service/internal/push"
	"github.com/expertmeet/expertmeet/services/notification-service/internal/storage"
	"github.com/expertmeet/expertmeet/services/notification-service/internal/templates"
)

type notificationPayload struct {
	RecipientID string         `json:"recipient_id"`
	Channel     string         `json:"channel"`
	Template    string         `json:"template"`
	BookingID   string         `json:"booking_id"`
	Data        map[string]any `json:"data"`
}

func writeOutboxSent(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, payload notificationPayload, providerID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if strings.TrimSpace(providerID) == "" {
		providerID = "unknown"
	}
	eventPayload, err := json.Marshal(map[string]any{
		"booking_id":   payload.BookingID,
		"recipient_id": payload.RecipientID,
		"channel":      payload.Channel,
		"template":     payload.Template,
		"provider_id":  providerID,
		"sent_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   payload.BookingID,
		EventType:     "notification.sent.v1",
		Payload:       eventPayload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func writeOutboxFailed(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, payload notificationPayload, reason string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	eventPayload, err := json.Marshal(map[string]any{
		"booking_id":   payload.BookingID,
		"recipient_id": payload.RecipientID,
		"channel":      payload.Channel,
		"template":     payload.Template,
		"error_reason": reason,
		"failed_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   payload.BookingID,
		EventType:     "notification.failed.v1",
		Payload:       eventPayload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// emailAddress resolves the delivery address for a recipient. Events
// may carry an explicit address; otherwise one is derived from the
// recipient id and a configured domain (dev setups point this at
// Mailpit, which accepts anything).
func emailAddress(payload notificationPayload, domain string) string {
	if addr, ok := payload.Data["recipient_email"].(string); ok && strings.Contains(addr, "@") {
		return addr
	}
	return payload.RecipientID + "@" + domain
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	deliveriesRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@expertmeet.local")
	emailDomain := config.String("RECIPIENT_EMAIL_DOMAIN", "users.expertmeet.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)
	emailProviderID := "smtp"

	pushProvider := strings.ToLower(config.String("PUSH_PROVIDER", "noop"))
	pushWebhookURL := config.String("PUSH_WEBHOOK_URL", "")
	pushWebhookToken := config.String("PUSH_WEBHOOK_TOKEN", "")
	var pushSender push.Sender
	switch pushProvider {
	case "webhook":
		pushSender = push.NewWebhookSender(pushWebhookURL, pushWebhookToken)
	case "noop":
		pushSender = push.NewNoopSender()
	default:
		pushSender = push.NewWebhookSender(pushWebhookURL, pushWebhookToken)
	}

	consumerCfg := consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topic:   config.String("KAFKA_CONSUME_TOPIC", "booking.notification.requested.v1"),
	}
	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		var payload notificationPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid notification payload", "err", err)
			return nil
		}
		if payload.RecipientID == "" || payload.Channel == "" || payload.Template == "" || payload.BookingID == "" {
			logger.Error("missing notification fields", "booking_id", payload.BookingID)
			return nil
		}

		status := "sent"
		failureReason := ""
		providerID := ""

		rendered, err := templates.Render(payload.Template, payload.BookingID, payload.Data)
		if err != nil {
			status = "failed"
			failureReason = err.Error()
			logger.Error("template render failed", "err", err, "template", payload.Template)
		}

		if status == "sent" {
			switch strings.ToLower(payload.Channel) {
			case "email":
				to := emailAddress(payload, emailDomain)
				if err := emailSender.Send(to, rendered.Subject, rendered.Body); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("email send failed", "err", err, "recipient_id", payload.RecipientID)
				} else {
					providerID = emailProviderID
				}
			case "push":
				if err := pushSender.Send(ctx, payload.RecipientID, rendered.Subject, rendered.Body, payload.Data); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("push send failed", "err", err, "recipient_id", payload.RecipientID)
				} else {
					providerID = pushSender.ProviderID()
				}
			default:
				status = "failed"
				failureReason = "unsupported channel: " + payload.Channel
				logger.Error("unsupported channel", "channel", payload.Channel)
			}
		}

		if err := deliveriesRepo.Insert(ctx, storage.Delivery{
			BookingID:   payload.BookingID,
			RecipientID: payload.RecipientID,
			Channel:     payload.Channel,
			Template:    payload.Template,
			Payload:     payload.Data,
			Status:      status,
		}); err != nil {
			logger.Error("failed to persist delivery", "err", err)
			return err
		}

		if status == "failed" {
			if err := writeOutboxFailed(ctx, pool, outboxRepo, payload, failureReason); err != nil {
				logger.Error("failed to enqueue notification.failed", "err", err)
				return err
			}
		} else {
			if err := writeOutboxSent(ctx, pool, outboxRepo, payload, providerID); err != nil {
				logger.Error("failed to enqueue notification.sent", "err", err)
				return err
			}
		}

		logger.Info("notification processed", "booking_id", payload.BookingID, "template", payload.Template, "channel", payload.Channel, "status", status)
		return nil
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
