package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"rewardjar/internal/domain"
	"rewardjar/internal/queue"
)

type requestPath struct {
	ID string `path:"id" doc:"Wallet request id"`
}

func (s *server) registerRequests(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-wallet-request",
		Method:        http.MethodPost,
		Path:          "/wallet/requests",
		Summary:       "Queue a wallet generation request",
		DefaultStatus: http.StatusAccepted,
		Security:      authenticated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body EnqueueRequest
	}) (*struct {
		Body EnqueueResponse
	}, error) {
		p, err := requireRole(ctx, RoleWallet)
		if err != nil {
			return nil, err
		}
		req, coalesced, err := s.cfg.Queue.Enqueue(ctx, queue.EnqueueOptions{
			CardID:     input.Body.CardID,
			CustomerID: input.Body.CustomerID,
			Platform:   input.Body.Platform,
			Priority:   input.Body.Priority,
			Metadata:   input.Body.Metadata,
			ActorID:    p.ActorID,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body EnqueueResponse
		}{Body: EnqueueResponse{Request: req, Coalesced: coalesced}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-wallet-request",
		Method:      http.MethodGet,
		Path:        "/wallet/requests/{id}",
		Summary:     "Wallet request status",
		Description: "With wait > 0 the call blocks until the request is terminal or the wait budget runs out. " +
			"A timed out wait answers 202 with timed_out set; the request stays queued.",
		Security: authenticated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id" doc:"Wallet request id"`
		Wait int    `query:"wait" minimum:"0" maximum:"300" doc:"Seconds to wait for a terminal status"`
	}) (*struct {
		Status int
		Body   RequestStatusResponse
	}, error) {
		if _, err := requireRole(ctx, RoleWallet); err != nil {
			return nil, err
		}
		out := &struct {
			Status int
			Body   RequestStatusResponse
		}{Status: http.StatusOK}
		var (
			req domain.WalletRequest
			err error
		)
		if input.Wait > 0 {
			req, err = s.cfg.Queue.Wait(ctx, input.ID, s.waitBudget(input.Wait), 0)
			if errors.Is(err, domain.ErrWaitTimeout) {
				out.Status = http.StatusAccepted
				out.Body.TimedOut = true
				err = nil
			}
		} else {
			req, err = s.cfg.Queue.Get(ctx, input.ID)
		}
		if err != nil {
			return nil, s.handleError(err)
		}
		out.Body.Request = req
		if req.Status == domain.StatusCompleted && req.ForceReason == "" {
			out.Body.ArtifactURL = basePath + "/wallet/requests/" + req.ID + "/artifact"
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-wallet-artifact",
		Method:      http.MethodGet,
		Path:        "/wallet/requests/{id}/artifact",
		Summary:     "Rendered artifact of a completed request",
		Security:    authenticated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *requestPath) (*rawResponse, error) {
		if _, err := requireRole(ctx, RoleWallet); err != nil {
			return nil, err
		}
		art, err := s.artifact(ctx, input.ID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &rawResponse{
			Status:             http.StatusOK,
			ContentType:        art.ContentType,
			ContentDisposition: `attachment; filename="` + art.Filename + `"`,
			CacheControl:       "private, max-age=60",
			Body:               art.Body,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-wallet-request-events",
		Method:      http.MethodGet,
		Path:        "/wallet/requests/{id}/events",
		Summary:     "Event history of a wallet request",
		Security:    authenticated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body []domain.Event
	}, error) {
		if _, err := requireRole(ctx, RoleWallet); err != nil {
			return nil, err
		}
		if _, err := s.cfg.Queue.Get(ctx, input.ID); err != nil {
			return nil, s.handleError(err)
		}
		evts, err := s.cfg.Queue.History(ctx, input.ID)
		if err != nil {
			return nil, s.handleError(err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body []domain.Event
		}{Body: evts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-wallet-request",
		Method:      http.MethodDelete,
		Path:        "/wallet/requests/{id}",
		Summary:     "Cancel a pending wallet request",
		Security:    authenticated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *requestPath) (*struct {
		Body domain.WalletRequest
	}, error) {
		p, err := requireRole(ctx, RoleWallet)
		if err != nil {
			return nil, err
		}
		req, err := s.cfg.Queue.Cancel(ctx, input.ID, p.ActorID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body domain.WalletRequest
		}{Body: req}, nil
	})
}

// waitBudget caps a caller's wait at the configured queue wait timeout.
func (s *server) waitBudget(seconds int) time.Duration {
	d := time.Duration(seconds) * time.Second
	if max := s.cfg.Queue.Config.WaitTimeout; max > 0 && d > max {
		return max
	}
	return d
}

// artifact reads the cache first and fills it on a miss.
func (s *server) artifact(ctx context.Context, id string) (domain.StoredArtifact, error) {
	req, err := s.cfg.Queue.Get(ctx, id)
	if err != nil {
		return domain.StoredArtifact{}, err
	}
	if req.Status != domain.StatusCompleted {
		return domain.StoredArtifact{}, domain.NotFoundError{Entity: "artifact", ID: id}
	}
	if art, ok, err := s.cfg.Cache.Get(ctx, id); err == nil && ok {
		return art, nil
	}
	art, err := s.cfg.Queue.Artifact(ctx, id)
	if err != nil {
		return art, err
	}
	_ = s.cfg.Cache.Set(ctx, art)
	return art, nil
}

func (s *server) registerScan(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "scan-card",
		Method:      http.MethodPost,
		Path:        "/scan/{customerCardId}",
		Summary:     "Record a stamp or session from a card scan",
		Security:    authenticated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CustomerCardID string      `path:"customerCardId"`
		Body           ScanRequest `required:"false"`
	}) (*struct {
		Body queue.ScanResult
	}, error) {
		p, err := requireRole(ctx, RoleWallet)
		if err != nil {
			return nil, err
		}
		res, err := s.cfg.Queue.Scan(ctx, input.CustomerCardID, input.Body.Count, input.Body.Refresh, p.ActorID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body queue.ScanResult
		}{Body: res}, nil
	})
}
