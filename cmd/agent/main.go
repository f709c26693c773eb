// The agent is a headless session participant: it joins a session's event
// channel, mirrors the chat, sketch and document state, answers calls and
// keeps itself connected. It is the reference owner of the client engines.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/studyroom/backend/config"
	"github.com/studyroom/backend/internal/api"
	"github.com/studyroom/backend/internal/auth"
	"github.com/studyroom/backend/internal/callsync"
	"github.com/studyroom/backend/internal/channel"
	"github.com/studyroom/backend/internal/chatsync"
	"github.com/studyroom/backend/internal/docsync"
	"github.com/studyroom/backend/internal/loggers"
	"github.com/studyroom/backend/internal/sketchsync"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := loggers.NewZap(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	selfID, err := auth.ParticipantID(cfg.Token)
	if err != nil {
		logger.Fatalf("Bad token: %v", err)
	}
	username, err := auth.ParticipantName(cfg.Token)
	if err != nil {
		logger.Fatalf("Bad token: %v", err)
	}
	logger.Infof("Joining session %d as %s (user %d)", cfg.SessionID, username, selfID)

	rest := api.NewClient(cfg.ServerURL, cfg.Token)

	wsURL, err := channelURL(cfg.ServerURL, cfg.SessionID, cfg.Token)
	if err != nil {
		logger.Fatalf("Bad server URL: %v", err)
	}
	ch := channel.New(wsURL, logger)

	chat := chatsync.NewEngine(cfg.SessionID, username, ch, rest, logger)
	chat.Bind(ch)

	doc := docsync.NewEngine(selfID, ch, logger)
	doc.Bind(ch)

	sketch := sketchsync.NewEngine(ch, logger)
	sketch.Bind(ch)

	call := callsync.NewEngine(selfID, ch, callsync.NewPionFactory(cfg.STUNServers), callsync.NewSampleSource(), logger)
	call.Bind(ch)
	defer call.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The channel never reconnects itself; the agent owns the reconnect
	// loop and resyncs after every fresh connection.
	reconnect := make(chan struct{}, 1)
	ch.OnClose = func(err error) {
		select {
		case reconnect <- struct{}{}:
		default:
		}
	}

	connect := func() error {
		policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
		return backoff.Retry(func() error {
			if err := ch.Connect(ctx); err != nil {
				logger.Warnf("Connect failed, retrying: %v", err)
				return err
			}
			return nil
		}, policy)
	}

	if err := connect(); err != nil {
		logger.Fatalf("Could not reach session: %v", err)
	}
	if err := chat.Resync(ctx); err != nil {
		logger.Warnf("Initial chat resync failed: %v", err)
	}
	logger.Info("Connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-reconnect:
				logger.Warn("Connection lost, reconnecting...")
				if err := connect(); err != nil {
					return fmt.Errorf("reconnect: %w", err)
				}
				// The server replays presence, media, sketch and document
				// snapshots on attach; chat history comes over REST.
				if err := chat.Resync(gctx); err != nil {
					logger.Warnf("Chat resync failed: %v", err)
				}
				logger.Info("Reconnected")
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logger.Debugf("transcript=%d entries, sketch=%d actions, document=%d bytes, call=%s",
					len(chat.Entries()), len(sketch.Actions()), len(doc.Text()), call.State())
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Agent error: %v", err)
	}

	chat.Unbind()
	sketch.Unbind()
	doc.Unbind()
	if err := ch.Close(); err != nil {
		logger.Warnf("Channel close: %v", err)
	}
	logger.Info("Agent stopped")
}

// channelURL turns the REST base URL into the session WebSocket endpoint.
func channelURL(serverURL string, sessionID int64, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/ws/sessions/%d", sessionID)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
