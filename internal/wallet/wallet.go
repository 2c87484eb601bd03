// Package wallet defines the renderer contract shared by the Apple, Google
// and PWA pass builders, and loads the data a render needs.
package wallet

import (
	"context"
	"time"

	"rewardjar/internal/domain"
	"rewardjar/internal/progress"
)

// Input is everything a renderer needs for one card. It is assembled by a
// Loader and never outlives a single render.
type Input struct {
	Business domain.Business
	Template domain.CardTemplate
	Card     domain.CustomerCard
	Customer *domain.Customer
	Progress progress.Progress
	Now      time.Time
}

// SerialNumber identifies the pass: the customer card id, or a template
// placeholder for previews without a customer.
func (in Input) SerialNumber() string {
	if in.Card.ID != "" {
		return in.Card.ID
	}
	return "template-" + in.Template.ID
}

// ScanMessage is the barcode content of a pass: the card type and serial,
// e.g. "gym:<id>". The scan endpoint accepts it.
func (in Input) ScanMessage() string {
	prefix := "stamp"
	if in.Card.Kind == domain.CardKindMembership {
		prefix = "membership"
		if in.Card.Membership != nil && in.Card.Membership.MembershipType != "" {
			prefix = in.Card.Membership.MembershipType
		}
	}
	return prefix + ":" + in.SerialNumber()
}

// Title is the card name shown on every platform.
func (in Input) Title() string {
	if in.Template.Name != "" {
		return in.Template.Name
	}
	return in.Business.Name
}

// Artifact is the output of a renderer.
type Artifact struct {
	Platform    domain.Platform
	ContentType string
	Filename    string
	Body        []byte
	// SaveURL is set by renderers whose artifact is installed through a link.
	SaveURL string
}

type Renderer interface {
	Platform() domain.Platform
	// CheckConfig returns a domain.ConfigurationError when settings are missing.
	CheckConfig() error
	Render(ctx context.Context, in Input) (Artifact, error)
}

// Registry maps each platform to its renderer.
type Registry map[domain.Platform]Renderer

func NewRegistry(renderers ...Renderer) Registry {
	reg := Registry{}
	for _, r := range renderers {
		reg[r.Platform()] = r
	}
	return reg
}

// Get returns the renderer for p, failing with a configuration error when
// the platform is not set up.
func (r Registry) Get(p domain.Platform) (Renderer, error) {
	if _, err := domain.ParsePlatform(string(p)); err != nil {
		return nil, err
	}
	rend, ok := r[p]
	if !ok {
		return nil, domain.ConfigurationError{Platform: p, Missing: []string{"renderer"}}
	}
	return rend, nil
}

// Render checks configuration and renders in one step.
func (r Registry) Render(ctx context.Context, p domain.Platform, in Input) (Artifact, error) {
	rend, err := r.Get(p)
	if err != nil {
		return Artifact{}, err
	}
	if err := rend.CheckConfig(); err != nil {
		return Artifact{}, err
	}
	return rend.Render(ctx, in)
}
