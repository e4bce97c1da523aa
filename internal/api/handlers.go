package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tv_relay/internal/relay"
	"github.com/dgnsrekt/tv_relay/internal/upstream"
	"github.com/dgnsrekt/tv_relay/internal/workerpool"
)

type StatusReport struct {
	Upstream      *upstream.Stats       `json:"upstream,omitempty"`
	Online        int64                 `json:"online"`
	Dispatcher    relay.DispatcherStats `json:"dispatcher"`
	Pool          *workerpool.Stats     `json:"pool,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
}

type messageBody struct {
	Message string `json:"message" minLength:"1" doc:"Text frame to deliver"`
}

func registerRelayHandlers(api huma.API, s *server) {
	type statusOutput struct {
		Body StatusReport
	}
	huma.Register(api, huma.Operation{OperationID: "get-status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Relay status", Description: "Upstream link health, online subscribers, mailbox and worker pool counters.", Tags: []string{"Relay"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			out := &statusOutput{}
			out.Body = s.status()
			return out, nil
		})

	type subscribersOutput struct {
		Body struct {
			Online      int64                  `json:"online"`
			Subscribers []relay.SubscriberInfo `json:"subscribers"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-subscribers", Method: http.MethodGet, Path: "/api/v1/subscribers", Summary: "List registered subscribers", Tags: []string{"Subscribers"}},
		func(ctx context.Context, input *struct{}) (*subscribersOutput, error) {
			reg := s.Hub.Registry()
			out := &subscribersOutput{}
			out.Body.Online = reg.Count()
			out.Body.Subscribers = reg.Subscribers()
			return out, nil
		})

	type sendInput struct {
		UID  string `path:"uid" minLength:"1" doc:"Subscriber id as used in /websocket/{uid}"`
		Body messageBody
	}
	type sendOutput struct {
		Body struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "send-direct", Method: http.MethodPost, Path: "/api/v1/subscribers/{uid}/messages", Summary: "Send a message to one subscriber", Description: "Bypasses the subscriber's mailbox. Delivery failures after acceptance are logged only.", Tags: []string{"Subscribers"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *sendInput) (*sendOutput, error) {
			if err := s.Hub.SendDirect(input.UID, input.Body.Message); err != nil {
				return nil, mapErr(err)
			}
			out := &sendOutput{}
			out.Body.ID = input.UID
			out.Body.Status = "accepted"
			return out, nil
		})

	type broadcastInput struct {
		Body messageBody
	}
	type broadcastOutput struct {
		Body struct {
			Recipients int64 `json:"recipients"`
			Filtered   bool  `json:"filtered"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "broadcast", Method: http.MethodPost, Path: "/api/v1/broadcast", Summary: "Fan a message out to every subscriber", Description: "Injects the message as if the upstream feed had sent it. Heartbeat payloads are filtered.", Tags: []string{"Relay"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *broadcastInput) (*broadcastOutput, error) {
			out := &broadcastOutput{}
			if input.Body.Message == relay.Heartbeat {
				out.Body.Filtered = true
				return out, nil
			}
			out.Body.Recipients = s.Hub.Registry().Count()
			s.Hub.Dispatcher().Dispatch(input.Body.Message)
			return out, nil
		})
}

func (s *server) status() StatusReport {
	r := StatusReport{
		Online:        s.Hub.Registry().Count(),
		Dispatcher:    s.Hub.Dispatcher().Stats(),
		StartedAt:     s.started,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.Upstream != nil {
		st := s.Upstream.Stats()
		r.Upstream = &st
	}
	if s.Pool != nil {
		ps := s.Pool.Stats()
		r.Pool = &ps
	}
	return r
}
