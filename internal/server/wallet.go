package server

import (
	"bytes"
	"context"
	"html/template"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"rewardjar/internal/domain"
	"rewardjar/internal/wallet"
)

type appleInput struct {
	CustomerCardID string `path:"customerCardId" doc:"Customer card id"`
	Debug          bool   `query:"debug" doc:"Answer the pass descriptor as JSON"`
	Format         string `query:"format" doc:"pkpass for the signed bundle, html (default) for a preview"`
}

type cardInput struct {
	CustomerCardID string `path:"customerCardId" doc:"Customer card id"`
	Type           string `query:"type" doc:"Expected card kind: stamp or membership"`
}

var walletErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
}

func (s *server) registerWallet(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "apple-wallet",
		Method:      http.MethodGet,
		Path:        "/wallet/apple/{customerCardId}",
		Summary:     "Apple Wallet pass, preview or debug descriptor",
		Errors:      walletErrors,
	}, func(ctx context.Context, in *appleInput) (*rawResponse, error) {
		return s.apple(ctx, in, "")
	})
	huma.Register(api, huma.Operation{
		OperationID: "apple-wallet-membership",
		Method:      http.MethodGet,
		Path:        "/wallet/apple/membership/{customerCardId}",
		Summary:     "Apple Wallet pass for a membership card",
		Errors:      walletErrors,
	}, func(ctx context.Context, in *appleInput) (*rawResponse, error) {
		return s.apple(ctx, in, string(domain.CardKindMembership))
	})

	huma.Register(api, huma.Operation{
		OperationID: "google-wallet",
		Method:      http.MethodGet,
		Path:        "/wallet/google/{customerCardId}",
		Summary:     "Google Wallet save link",
		Errors:      walletErrors,
	}, func(ctx context.Context, in *cardInput) (*struct {
		Body GoogleWalletResponse
	}, error) {
		if s.cfg.Google == nil {
			return nil, s.handleError(domain.ConfigurationError{Platform: domain.PlatformGoogle, Missing: []string{"renderer"}})
		}
		if err := wallet.ValidateID("customerCardId", in.CustomerCardID); err != nil {
			return nil, s.handleError(err)
		}
		if err := s.cfg.Google.CheckConfig(); err != nil {
			return nil, s.handleError(err)
		}
		input, err := s.loadCard(ctx, in.CustomerCardID, in.Type)
		if err != nil {
			return nil, s.handleError(err)
		}
		res, err := s.cfg.Google.Sign(input)
		if err != nil {
			return nil, s.handleError(err)
		}
		return &struct {
			Body GoogleWalletResponse
		}{Body: GoogleWalletResponse{
			SaveURL:  res.SaveURL,
			JWT:      res.JWT,
			ClassID:  res.ClassID,
			ObjectID: res.ObjectID,
			Progress: input.Progress,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pwa-wallet",
		Method:      http.MethodGet,
		Path:        "/wallet/pwa/{customerCardId}",
		Summary:     "Installable web wallet card",
		Errors:      walletErrors,
	}, func(ctx context.Context, in *cardInput) (*rawResponse, error) {
		out, err := s.pwa(ctx, in)
		if err != nil {
			return s.errorPage(err), nil
		}
		return out, nil
	})
	huma.Register(api, huma.Operation{
		OperationID: "pwa-wallet-test",
		Method:      http.MethodPost,
		Path:        "/wallet/pwa/{customerCardId}",
		Summary:     "Web wallet card for test harnesses",
		Description: "Requires the configured wallet test token as bearer credential.",
		Security:    []map[string][]string{{"bearerAuth": {}}},
		Errors:      append([]int{http.StatusUnauthorized}, walletErrors...),
	}, func(ctx context.Context, in *cardInput) (*rawResponse, error) {
		if s.cfg.Auth.TestToken == "" {
			return nil, s.handleError(domain.ConfigurationError{Platform: domain.PlatformPWA, Missing: []string{"test token"}})
		}
		if p, ok := principalFromContext(ctx); !ok || p.Source != sourceTestToken {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "wallet test token required", nil)
		}
		out, err := s.pwa(ctx, in)
		if err != nil {
			return nil, s.handleError(err)
		}
		return out, nil
	})
}

// apple answers the preview endpoints. HTML requests get an HTML error
// page; debug and pkpass requests get the JSON envelope.
func (s *server) apple(ctx context.Context, in *appleInput, kind string) (*rawResponse, error) {
	html := !in.Debug && in.Format != "pkpass"
	fail := func(err error) (*rawResponse, error) {
		if html {
			return s.errorPage(err), nil
		}
		return nil, s.handleError(err)
	}
	if in.Format != "" && in.Format != "pkpass" && in.Format != "html" {
		return fail(domain.ValidationError{Field: "format", Reason: "must be html or pkpass"})
	}
	if err := wallet.ValidateID("customerCardId", in.CustomerCardID); err != nil {
		return fail(err)
	}
	r := s.cfg.Apple
	if r == nil {
		return fail(domain.ConfigurationError{Platform: domain.PlatformApple, Missing: []string{"renderer"}})
	}
	if err := r.CheckConfig(); err != nil {
		return fail(err)
	}
	input, err := s.loadCard(ctx, in.CustomerCardID, kind)
	if err != nil {
		return fail(err)
	}
	switch {
	case in.Debug:
		d, err := r.Debug(input)
		if err != nil {
			return fail(err)
		}
		return jsonResponse(d)
	case in.Format == "pkpass":
		art, err := r.Render(ctx, input)
		if err != nil {
			return fail(err)
		}
		return &rawResponse{
			Status:             http.StatusOK,
			ContentType:        art.ContentType,
			ContentDisposition: `attachment; filename="` + art.Filename + `"`,
			CacheControl:       "no-store",
			Body:               art.Body,
		}, nil
	}
	page, err := r.Preview(input)
	if err != nil {
		return fail(err)
	}
	return &rawResponse{Status: http.StatusOK, ContentType: "text/html; charset=utf-8", CacheControl: "no-store", Body: page}, nil
}

func (s *server) pwa(ctx context.Context, in *cardInput) (*rawResponse, error) {
	if err := wallet.ValidateID("customerCardId", in.CustomerCardID); err != nil {
		return nil, err
	}
	if s.cfg.PWA == nil {
		return nil, domain.ConfigurationError{Platform: domain.PlatformPWA, Missing: []string{"renderer"}}
	}
	if err := s.cfg.PWA.CheckConfig(); err != nil {
		return nil, err
	}
	input, err := s.loadCard(ctx, in.CustomerCardID, in.Type)
	if err != nil {
		return nil, err
	}
	art, err := s.cfg.PWA.Render(ctx, input)
	if err != nil {
		return nil, err
	}
	return &rawResponse{Status: http.StatusOK, ContentType: art.ContentType, CacheControl: "no-store", Body: art.Body}, nil
}

func (s *server) loadCard(ctx context.Context, customerCardID, kind string) (wallet.Input, error) {
	in, err := s.cfg.Loader.ForCustomerCard(ctx, customerCardID)
	if err != nil {
		return wallet.Input{}, err
	}
	if err := wallet.CheckKind(in.Card, kind); err != nil {
		return wallet.Input{}, err
	}
	return in, nil
}

var errorPageTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Wallet unavailable</title>
</head>
<body style="margin:0;padding:32px;font-family:-apple-system,Helvetica,Arial,sans-serif;background:#f9fafb;color:#111827;">
<div style="max-width:420px;margin:0 auto;background:#fff;border:1px solid #fecaca;border-radius:12px;padding:24px;">
  <h1 style="font-size:20px;margin:0 0 8px;color:#b91c1c;">{{.Title}}</h1>
  <p style="margin:0 0 12px;">{{.Message}}</p>
  <p style="margin:0;font-size:12px;color:#6b7280;">Error code: {{.Code}} ({{.Status}})</p>
</div>
</body>
</html>
`))

func errorTitle(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "Invalid wallet link"
	case http.StatusNotFound:
		return "Card not found"
	case http.StatusServiceUnavailable:
		return "Wallet not configured"
	default:
		return "Wallet unavailable"
	}
}

// errorPage renders err as an HTML page with the status handleError assigns.
func (s *server) errorPage(err error) *rawResponse {
	status := http.StatusInternalServerError
	code, msg := "internal_error", "internal error"
	if ae, ok := s.handleError(err).(*apiError); ok {
		status, code, msg = ae.status, ae.Body.Code, ae.Body.Message
	}
	var buf bytes.Buffer
	if err := errorPageTmpl.Execute(&buf, map[string]any{
		"Title": errorTitle(status), "Message": msg, "Code": code, "Status": status,
	}); err != nil {
		buf.Reset()
		buf.WriteString(http.StatusText(status))
	}
	return &rawResponse{Status: status, ContentType: "text/html; charset=utf-8", CacheControl: "no-store", Body: buf.Bytes()}
}
