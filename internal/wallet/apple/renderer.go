// Package apple builds signed Apple Wallet pass bundles.
package apple

import (
	"context"
	"encoding/json"
	"fmt"

	"rewardjar/internal/domain"
	"rewardjar/internal/wallet"
)

const ContentType = "application/vnd.apple.pkpass"

type Config struct {
	TeamIdentifier     string
	PassTypeIdentifier string
	OrganizationName   string
	// SignerCert, SignerKey and WWDRCert hold inline PEM text or a file path.
	SignerCert  string
	SignerKey   string
	WWDRCert    string
	P12         string
	P12Password string
	AssetsDir   string
	// WebServiceURL is copied into the pass for update callbacks.
	WebServiceURL string
}

type Renderer struct {
	Config Config
	Signer *Signer
}

// New loads the signing material of cfg when it is present. Missing
// material is reported by CheckConfig; unreadable material is an error here.
func New(cfg Config) (*Renderer, error) {
	r := &Renderer{Config: cfg}
	if cfg.P12 == "" && (cfg.SignerCert == "" || cfg.SignerKey == "") {
		return r, nil
	}
	s, err := LoadSigner(cfg)
	if err != nil {
		return nil, err
	}
	r.Signer = s
	return r, nil
}

func (r *Renderer) Platform() domain.Platform { return domain.PlatformApple }

func (r *Renderer) CheckConfig() error {
	var missing []string
	if r.Config.TeamIdentifier == "" {
		missing = append(missing, "team identifier")
	}
	if r.Config.PassTypeIdentifier == "" {
		missing = append(missing, "pass type identifier")
	}
	if r.Signer == nil {
		missing = append(missing, "signing certificate")
	}
	if len(missing) > 0 {
		return domain.ConfigurationError{Platform: domain.PlatformApple, Missing: missing}
	}
	return nil
}

// Render builds, signs and zips the pass. The archive holds pass.json, the
// configured assets, manifest.json and signature.
func (r *Renderer) Render(_ context.Context, in wallet.Input) (wallet.Artifact, error) {
	if err := r.CheckConfig(); err != nil {
		return wallet.Artifact{}, err
	}
	pass, err := BuildPass(r.Config, in)
	if err != nil {
		return wallet.Artifact{}, genErr("descriptor", err)
	}
	passJSON, err := json.MarshalIndent(pass, "", "  ")
	if err != nil {
		return wallet.Artifact{}, genErr("descriptor", err)
	}
	assets, err := LoadAssets(r.Config.AssetsDir)
	if err != nil {
		return wallet.Artifact{}, genErr("assets", err)
	}
	files := append([]File{{Name: PassFile, Data: passJSON}}, assets...)
	manifest, err := Manifest(files)
	if err != nil {
		return wallet.Artifact{}, genErr("manifest", err)
	}
	signature, err := r.Signer.Sign(manifest)
	if err != nil {
		return wallet.Artifact{}, genErr("sign", err)
	}
	files = append(files, File{Name: ManifestFile, Data: manifest}, File{Name: SignatureFile, Data: signature})
	body, err := Zip(files)
	if err != nil {
		return wallet.Artifact{}, genErr("zip", err)
	}
	return wallet.Artifact{
		Platform:    domain.PlatformApple,
		ContentType: ContentType,
		Filename:    fmt.Sprintf("%s.pkpass", pass.SerialNumber),
		Body:        body,
	}, nil
}

func genErr(stage string, err error) error {
	return domain.GenerationError{Platform: domain.PlatformApple, Stage: stage, Err: err}
}
