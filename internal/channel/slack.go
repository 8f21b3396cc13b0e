// Package channel connects relaybot to Slack: the Web API workspace, Socket
// Mode and Events API ingress, and the HTTP server.
package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack/socketmode"
)

// SocketMode receives events over a Slack Socket Mode connection.
type SocketMode struct {
	ws      *SlackWorkspace
	ingress *Ingress
	logger  *slog.Logger
}

func NewSocketMode(ws *SlackWorkspace, ingress *Ingress, logger *slog.Logger) *SocketMode {
	return &SocketMode{ws: ws, ingress: ingress, logger: logger}
}

// Run connects and dispatches events until ctx is cancelled.
func (s *SocketMode) Run(ctx context.Context) error {
	client := socketmode.New(s.ws.Client())

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				s.dispatch(client, evt)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack socket mode disconnecting")
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *SocketMode) dispatch(client *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		s.logger.Info("connecting to slack socket mode")
	case socketmode.EventTypeConnected:
		s.logger.Info("slack socket mode connected")
	case socketmode.EventTypeConnectionError:
		s.logger.Warn("slack socket mode connection error", "data", evt.Data)
	case socketmode.EventTypeEventsAPI:
		if evt.Request == nil {
			return
		}
		// Ack first; Slack redelivers anything unacknowledged after 3 s.
		client.Ack(*evt.Request)
		if err := s.ingress.Handle(evt.Request.Payload); err != nil {
			s.logger.Warn("dropping undecodable event", "err", err)
		}
	default:
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}
	}
}
