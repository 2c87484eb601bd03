// Package google builds Google Wallet save-to-wallet JWTs.
package google

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rewardjar/internal/domain"
	"rewardjar/internal/wallet"
)

const (
	SaveURLPrefix = "https://pay.google.com/gp/v/save/"
	ContentType   = "application/jwt"
	tokenTTL      = time.Hour
)

type Config struct {
	IssuerID string
	// ServiceAccount is the key file JSON or a path to it.
	ServiceAccount string
	Origins        []string
}

type Renderer struct {
	Config  Config
	Account *ServiceAccount
	credErr error
}

// New parses the service account of cfg. Invalid credentials are kept and
// reported by CheckConfig.
func New(cfg Config) *Renderer {
	r := &Renderer{Config: cfg}
	if cfg.ServiceAccount != "" {
		r.Account, r.credErr = ParseServiceAccount(cfg.ServiceAccount)
	}
	return r
}

func (r *Renderer) Platform() domain.Platform { return domain.PlatformGoogle }

func (r *Renderer) CheckConfig() error {
	var missing []string
	if r.Config.IssuerID == "" {
		missing = append(missing, "issuer id")
	}
	switch {
	case r.credErr != nil:
		missing = append(missing, "valid service account ("+r.credErr.Error()+")")
	case r.Account == nil:
		missing = append(missing, "service account")
	}
	if len(missing) > 0 {
		return domain.ConfigurationError{Platform: domain.PlatformGoogle, Missing: missing}
	}
	return nil
}

// Result is a signed save token with the ids it references.
type Result struct {
	JWT      string  `json:"jwt"`
	SaveURL  string  `json:"saveUrl"`
	ClassID  string  `json:"classId"`
	ObjectID string  `json:"objectId"`
	Payload  Payload `json:"-"`
}

// Sign builds the payload for in and signs it with the service account key.
func (r *Renderer) Sign(in wallet.Input) (Result, error) {
	if err := r.CheckConfig(); err != nil {
		return Result{}, err
	}
	payload, err := BuildPayload(r.Config.IssuerID, in)
	if err != nil {
		return Result{}, genErr("payload", err)
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	origins := r.Config.Origins
	if origins == nil {
		origins = []string{}
	}
	claims := jwt.MapClaims{
		"iss":     r.Account.ClientEmail,
		"aud":     "google",
		"typ":     "savetowallet",
		"iat":     now.Unix(),
		"exp":     now.Add(tokenTTL).Unix(),
		"origins": origins,
		"payload": payload,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if r.Account.PrivateKeyID != "" {
		token.Header["kid"] = r.Account.PrivateKeyID
	}
	signed, err := token.SignedString(r.Account.key)
	if err != nil {
		return Result{}, genErr("sign", err)
	}
	return Result{
		JWT:      signed,
		SaveURL:  SaveURLPrefix + signed,
		ClassID:  payload.ClassID(),
		ObjectID: payload.ObjectID(),
		Payload:  payload,
	}, nil
}

func (r *Renderer) Render(_ context.Context, in wallet.Input) (wallet.Artifact, error) {
	res, err := r.Sign(in)
	if err != nil {
		return wallet.Artifact{}, err
	}
	return wallet.Artifact{
		Platform:    domain.PlatformGoogle,
		ContentType: ContentType,
		Filename:    in.SerialNumber() + ".jwt",
		Body:        []byte(res.JWT),
		SaveURL:     res.SaveURL,
	}, nil
}

func genErr(stage string, err error) error {
	return domain.GenerationError{Platform: domain.PlatformGoogle, Stage: stage, Err: err}
}
