package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"rewardjar/internal/domain"
	"rewardjar/internal/queue"
	"rewardjar/internal/repo"
	"rewardjar/internal/simulator"
	"rewardjar/internal/validate"
	"rewardjar/internal/wallet"
)

var adminErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

func (s *server) registerAdmin(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "admin-queue-list",
		Method:      http.MethodGet,
		Path:        "/admin/wallet-chain/queue",
		Summary:     "List wallet requests with queue statistics",
		Security:    authenticated,
		Errors:      adminErrors,
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"pending,processing,completed,failed,cancelled,dead_letter" required:"false"`
		Platform string `query:"platform" enum:"apple,google,pwa" required:"false"`
		CardID   string `query:"card_id"`
		Source   string `query:"source"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body QueueListResponse
	}, error) {
		if _, err := requireRole(ctx, RoleAdmin); err != nil {
			return nil, err
		}
		limit := input.Limit
		if limit == 0 {
			limit = 100
		}
		items, err := s.cfg.Queue.List(ctx, repo.RequestFilters{
			Status:   input.Status,
			Platform: input.Platform,
			CardID:   input.CardID,
			Source:   input.Source,
			Limit:    limit,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		st, err := s.cfg.Queue.Stats(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body QueueListResponse
		}{Body: QueueListResponse{Items: nonNilRequests(items), Stats: st}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-queue-action",
		Method:      http.MethodPost,
		Path:        "/admin/wallet-chain/queue",
		Summary:     "Bulk queue action",
		Description: "Each id is processed separately; the response reports per-item results and refreshed statistics.",
		Security:    authenticated,
		Errors:      adminErrors,
	}, func(ctx context.Context, input *struct {
		Body QueueActionRequest
	}) (*struct {
		Body queue.BulkResult
	}, error) {
		p, err := requireRole(ctx, RoleAdmin)
		if err != nil {
			return nil, err
		}
		res, err := s.cfg.Queue.Bulk(ctx, queue.BulkRequest{
			Action:   input.Body.Action,
			IDs:      input.Body.IDs,
			Priority: input.Body.Priority,
			Reason:   input.Body.Reason,
			ActorID:  p.ActorID,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body queue.BulkResult
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-queue-health",
		Method:      http.MethodGet,
		Path:        "/admin/wallet-chain/health",
		Summary:     "Queue health and recommended actions",
		Security:    authenticated,
		Errors:      adminErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body queue.Health
	}, error) {
		if _, err := requireRole(ctx, RoleAdmin); err != nil {
			return nil, err
		}
		h, err := s.cfg.Queue.Health(ctx)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body queue.Health
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-validate",
		Method:      http.MethodPost,
		Path:        "/admin/wallet-chain/validate",
		Summary:     "Check artifacts against platform requirements",
		Security:    authenticated,
		Errors:      append([]int{http.StatusServiceUnavailable}, adminErrors...),
	}, func(ctx context.Context, input *struct {
		Body ValidateRequest
	}) (*struct {
		Body ValidateResponse
	}, error) {
		if _, err := requireRole(ctx, RoleAdmin); err != nil {
			return nil, err
		}
		res, err := s.validate(ctx, input.Body)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body ValidateResponse
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-test-simulator",
		Method:      http.MethodPost,
		Path:        "/admin/wallet-chain/test-simulator",
		Summary:     "Create synthetic customers and cards and drive them through the queue",
		Security:    authenticated,
		Errors:      adminErrors,
	}, func(ctx context.Context, input *struct {
		Body SimulatorRequest
	}) (*struct {
		Body simulator.Result
	}, error) {
		p, err := requireRole(ctx, RoleAdmin)
		if err != nil {
			return nil, err
		}
		b := input.Body
		res, err := s.cfg.Simulator.Run(ctx, simulator.Request{
			Action:         b.Action,
			ActorID:        p.ActorID,
			BusinessName:   b.BusinessName,
			CustomerName:   b.CustomerName,
			CustomerEmail:  b.CustomerEmail,
			CardType:       b.CardType,
			CardName:       b.CardName,
			TotalStamps:    b.TotalStamps,
			StampsUsed:     b.StampsUsed,
			MembershipType: b.MembershipType,
			TotalSessions:  b.TotalSessions,
			SessionsUsed:   b.SessionsUsed,
			CostPerSession: b.CostPerSession,
			DurationDays:   b.DurationDays,
			CustomerID:     b.CustomerID,
			CardID:         b.CardID,
			Platforms:      b.Platforms,
			Priority:       b.Priority,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body simulator.Result
		}{Body: res}, nil
	})
}

// validate checks a stored artifact, raw content, or a live render of a
// customer card on every configured platform.
func (s *server) validate(ctx context.Context, in ValidateRequest) (ValidateResponse, error) {
	switch {
	case in.RequestID != "":
		art, err := s.artifact(ctx, in.RequestID)
		if err != nil {
			return ValidateResponse{}, err
		}
		return single(validate.Check(art.Platform, art.Body)), nil
	case in.CustomerCardID != "":
		if err := wallet.ValidateID("customer_card_id", in.CustomerCardID); err != nil {
			return ValidateResponse{}, err
		}
		input, err := s.cfg.Loader.ForCustomerCard(ctx, in.CustomerCardID)
		if err != nil {
			return ValidateResponse{}, err
		}
		var (
			artifacts []wallet.Artifact
			failures  = map[string]string{}
		)
		for _, r := range s.renderers() {
			if err := r.CheckConfig(); err != nil {
				failures[string(r.Platform())] = err.Error()
				continue
			}
			art, err := r.Render(ctx, input)
			if err != nil {
				failures[string(r.Platform())] = err.Error()
				continue
			}
			artifacts = append(artifacts, art)
		}
		sum := validate.CheckAll(artifacts)
		res := ValidateResponse{Valid: sum.Valid && len(failures) == 0, Completion: sum.Completion, Reports: sum.Reports}
		if len(failures) > 0 {
			res.RenderErrors = failures
		}
		return res, nil
	case in.Platform != "":
		p, err := domain.ParsePlatform(in.Platform)
		if err != nil {
			return ValidateResponse{}, err
		}
		if len(in.Content) == 0 {
			return ValidateResponse{}, domain.ValidationError{Field: "content", Reason: "required with platform"}
		}
		return single(validate.Check(p, in.Content)), nil
	}
	return ValidateResponse{}, domain.ValidationError{Field: "request_id", Reason: "one of request_id, customer_card_id or platform with content is required"}
}

func single(r validate.Report) ValidateResponse {
	return ValidateResponse{Valid: r.Valid, Completion: r.Completion, Reports: []validate.Report{r}}
}

func (s *server) renderers() []wallet.Renderer {
	var out []wallet.Renderer
	if s.cfg.Apple != nil {
		out = append(out, s.cfg.Apple)
	}
	if s.cfg.Google != nil {
		out = append(out, s.cfg.Google)
	}
	if s.cfg.PWA != nil {
		out = append(out, s.cfg.PWA)
	}
	return out
}
