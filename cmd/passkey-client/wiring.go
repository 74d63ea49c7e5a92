package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	momentum "github.com/myeganeh2876/MomentumPasskeyTest"
	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/authenticator"
	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/events"
	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/store"
	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/internal/config"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
	"github.com/myeganeh2876/MomentumPasskeyTest/service"
)

// runtime holds the wired client of one command invocation
type runtime struct {
	client  *momentum.Client
	logger  *zap.Logger
	closers []func() error
}

func (r *runtime) Close() error {
	var errs []error
	if r.client != nil {
		r.client.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

func setup(ctx context.Context, cfg config.Config, logger *zap.Logger, presence authenticator.PresenceFunc) (*runtime, error) {
	rt := &runtime{logger: logger}

	var redisClient *redis.Client
	if cfg.Store == config.StoreRedis || cfg.Events == config.EventsRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		rt.closers = append(rt.closers, redisClient.Close)
	}

	clientStore, keyring, err := openStores(ctx, cfg, redisClient, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	publisher, err := newEventPublisher(ctx, cfg, redisClient, logger, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	client, err := momentum.New(momentum.Options{
		APIURL: cfg.APIURL,
		Store:  clientStore,
		Authenticator: authenticator.NewVirtual(cfg.Origin, keyring,
			authenticator.WithPresence(presence),
			authenticator.WithLogger(logger.Named("authenticator"))),
		Events:        publisher,
		Logger:        logger,
		HTTPTimeout:   cfg.HTTPTimeout,
		CSRFCookie:    cfg.CSRFCookie,
		CSRFHeader:    cfg.CSRFHeader,
		CSRFPrimePath: cfg.CSRFPrimePath,
		DisableCSRF:   cfg.CSRFCookie == "",
		Settings: service.Settings{
			UserAgent:           cfg.UserAgent,
			CodeRequestInterval: cfg.CodeRequestInterval,
			CodeRequestBurst:    cfg.CodeRequestBurst,
			EnrollAfterLogin:    cfg.EnrollAfterLogin,
			EnrollmentName:      cfg.EnrollmentName,
			EnrollmentTimeout:   cfg.EnrollmentTimeout,
		},
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.client = client
	return rt, nil
}

// openStores returns the session store and the authenticator keyring
func openStores(ctx context.Context, cfg config.Config, redisClient *redis.Client, rt *runtime) (ports.Store, ports.Store, error) {
	keyringNamespace := cfg.Namespace + ".authenticator"

	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), store.NewMemoryStore(), nil
	case config.StoreRedis:
		base := store.NewRedisStore(redisClient, cfg.Namespace)
		return base, base.WithNamespace(keyringNamespace), nil
	default:
		base, err := store.OpenSQLiteStore(ctx, cfg.StatePath, cfg.Namespace)
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, base.Close)
		return base, base.WithNamespace(keyringNamespace), nil
	}
}

// newEventPublisher returns nil when events are disabled
func newEventPublisher(ctx context.Context, cfg config.Config, redisClient *redis.Client, logger *zap.Logger, rt *runtime) (ports.EventPublisher, error) {
	wmLogger := events.NewZapLogger(logger.Named("events"))

	var publisher message.Publisher
	switch cfg.Events {
	case config.EventsRedis:
		p, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		publisher = p
	case config.EventsGoChannel:
		channel := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, wmLogger)
		messages, err := channel.Subscribe(ctx, events.AuthStateTopic)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to auth state: %w", err)
		}
		go logAuthStates(messages, logger)
		publisher = channel
	default:
		return nil, nil
	}

	rt.closers = append(rt.closers, publisher.Close)
	return events.NewWatermillPublisher(publisher), nil
}

// logAuthStates logs the events of an in-process subscription
func logAuthStates(messages <-chan *message.Message, logger *zap.Logger) {
	for msg := range messages {
		var event core.AuthStateEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			logger.Warn("undecodable auth state event", zap.String("uuid", msg.UUID), zap.Error(err))
		} else {
			logger.Info("auth state changed", zap.String("kind", string(event.Kind)), zap.String("device_id", event.DeviceID))
		}
		msg.Ack()
	}
}
