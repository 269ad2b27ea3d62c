// Package daemon composes the hubsync daemon from its parts: the
// session lock, the archive, the STOMP channel, the sync client and the
// archiver, wired through fx with lifecycle hooks.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/communityhub/hubsync/internal/archive"
	"github.com/communityhub/hubsync/internal/bus"
	"github.com/communityhub/hubsync/internal/config"
	"github.com/communityhub/hubsync/internal/history"
	"github.com/communityhub/hubsync/internal/lock"
	"github.com/communityhub/hubsync/internal/logging"
	"github.com/communityhub/hubsync/internal/session"
	"github.com/communityhub/hubsync/internal/status"
	"github.com/communityhub/hubsync/internal/syncer"
	"github.com/communityhub/hubsync/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideArchive,
			provideHistoryClient,
			provideChannel,
			provideSyncClient,
			provideArchiver,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideArchive(p Params, logger *zap.Logger) (*archive.DB, error) {
	dbPath := session.ArchiveDBPath(p.SessionName)
	db, err := archive.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideHistoryClient(p Params, logger *zap.Logger) *history.Client {
	return history.New(p.Config.ServerURL, p.Config.Token, logger)
}

func provideChannel(p Params, b *bus.Bus, machine *status.Machine, logger *zap.Logger) transport.Channel {
	return transport.NewStomp(transport.Options{
		URL:   p.Config.WSURL,
		Token: p.Config.Token,
	}, b, machine, logger)
}

func provideSyncClient(p Params, ch transport.Channel, api *history.Client, b *bus.Bus, logger *zap.Logger) *syncer.Client {
	return syncer.New(syncer.Options{
		LocalUser:   p.Config.UserID,
		CommunityID: p.Config.CommunityID,
		SendTimeout: time.Duration(p.Config.SendTimeoutSeconds) * time.Second,
		PageSize:    p.Config.HistoryPageSize,
	}, ch, api, b, logger)
}

func provideArchiver(p Params, db *archive.DB, b *bus.Bus, logger *zap.Logger) *archive.Archiver {
	return archive.NewArchiver(db, b, p.Config.UserID, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, db *archive.DB, ch transport.Channel, client *syncer.Client, api *history.Client, archiver *archive.Archiver, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	var bootCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			bootCancel = cancel

			// Persist state changes as they happen.
			archiver.Start(ctx)

			// Deliveries flow straight into the sync core; the handler
			// must be in place before the first broker session.
			ch.Handle(client.Deliver)

			// Bootstrap the roster after every established session, the
			// first connect and every reconnect alike.
			connected, unsub := b.Subscribe(bus.KindTransportConnected, 4)
			go func() {
				defer unsub()
				for {
					select {
					case <-ctx.Done():
						return
					case <-connected:
						bootstrap(ctx, client, api, p.Config.CommunityID, machine, b, logger)
					}
				}
			}()

			return ch.Open(ctx)
		},
		OnStop: func(context.Context) error {
			if bootCancel != nil {
				bootCancel()
			}
			ch.Close()
			client.Close()
			archiver.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing archive", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// bootstrap loads the roster for a fresh broker session and settles the
// state machine: Ready when the history API answered, Degraded when the
// push channel is up but history is not. The community member list and
// the server's unread total ride along; both are best effort and never
// degrade the session on their own.
func bootstrap(ctx context.Context, client *syncer.Client, api *history.Client, communityID int64, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	if err := machine.Transition(status.Syncing); err != nil {
		logger.Warn("unexpected state at sync start", zap.Error(err))
	}
	err := client.LoadConversations(ctx)
	switch {
	case err == nil:
		_ = machine.Transition(status.Ready)
	case errors.Is(err, context.Canceled):
		return
	default:
		logger.Warn("roster bootstrap failed", zap.Error(err))
		_ = machine.Transition(status.Degraded)
		return
	}

	members, err := api.FetchMembers(ctx, communityID)
	if err != nil {
		logger.Warn("member list fetch failed", zap.Error(err))
	} else {
		b.Publish(bus.Event{Kind: bus.KindRosterMembers, Payload: members})
		logger.Info("member list loaded", zap.Int("members", len(members)))
	}

	unread, err := api.UnreadCount(ctx)
	if err != nil {
		logger.Warn("unread count fetch failed", zap.Error(err))
	} else {
		logger.Info("unread total", zap.Int64("count", unread))
	}
}
