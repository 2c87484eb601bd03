package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"rewardjar/internal/domain"
	"rewardjar/internal/progress"
)

const (
	bizID  = "7b1c39a4-8f7e-4a53-9c55-0e4b6d1f2a10"
	tplID  = "2f0d5c1e-3b44-4c8a-a1f2-9d8e7c6b5a40"
	custID = "c4a1e2d3-5f60-4b7c-8d9e-0a1b2c3d4e50"
	cardID = "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c60"
)

type memStore struct {
	biz  domain.Business
	tpl  domain.CardTemplate
	card domain.CustomerCard
}

func (m memStore) GetBusiness(_ context.Context, id string) (domain.Business, error) {
	if id != m.biz.ID {
		return domain.Business{}, domain.NotFoundError{Entity: "business", ID: id}
	}
	return m.biz, nil
}

func (m memStore) GetTemplate(_ context.Context, id string) (domain.CardTemplate, error) {
	if id != m.tpl.ID {
		return domain.CardTemplate{}, domain.NotFoundError{Entity: "card template", ID: id}
	}
	return m.tpl, nil
}

func (m memStore) GetCustomer(_ context.Context, id string) (domain.Customer, error) {
	return domain.Customer{ID: id, Name: "Ada"}, nil
}

func (m memStore) GetCustomerCard(_ context.Context, id string) (domain.CustomerCard, error) {
	if id != m.card.ID {
		return domain.CustomerCard{}, domain.NotFoundError{Entity: "customer card", ID: id}
	}
	return m.card, nil
}

func (m memStore) FindCustomerCard(_ context.Context, templateID, customerID string) (domain.CustomerCard, error) {
	if templateID != m.card.TemplateID || customerID != m.card.CustomerID {
		return domain.CustomerCard{}, domain.NotFoundError{Entity: "customer card", ID: templateID + "/" + customerID}
	}
	return m.card, nil
}

func fixtureStore() memStore {
	return memStore{
		biz: domain.Business{ID: bizID, Name: "Cafe", BrandColor: "#0f0"},
		tpl: domain.CardTemplate{ID: tplID, BusinessID: bizID, Kind: domain.CardKindStamp, Name: "Coffee",
			Stamp: &domain.StampTemplate{TotalStamps: 8}},
		card: domain.CustomerCard{ID: cardID, CustomerID: custID, TemplateID: tplID, Kind: domain.CardKindStamp,
			Stamp: &domain.StampFields{StampsRequired: 8, StampsUsed: 2}},
	}
}

func TestLoaderRejectsMalformedID(t *testing.T) {
	l := Loader{Store: fixtureStore()}
	_, err := l.ForCustomerCard(context.Background(), "not-a-uuid")
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoaderNotFound(t *testing.T) {
	l := Loader{Store: fixtureStore()}
	_, err := l.ForCustomerCard(context.Background(), "00000000-0000-4000-8000-000000000000")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLoaderComputesProgressWithClock(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := Loader{Store: fixtureStore(), Now: func() time.Time { return now }}
	in, err := l.ForCustomerCard(context.Background(), cardID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if in.Progress.PercentComplete != 25 || !in.Now.Equal(now) {
		t.Fatalf("unexpected progress %+v", in.Progress)
	}
	if in.Customer == nil || in.SerialNumber() != cardID {
		t.Fatalf("expected customer and serial, got %+v", in)
	}
}

func TestLoaderTemplatePreview(t *testing.T) {
	l := Loader{Store: fixtureStore()}
	in, err := l.ForCard(context.Background(), tplID, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !in.Card.Preview() || in.SerialNumber() != "template-"+tplID {
		t.Fatalf("expected preview card, got %+v", in.Card)
	}
	if in.Progress.StampsRequired != 8 || in.Progress.StampsUsed != 0 {
		t.Fatalf("unexpected preview progress %+v", in.Progress)
	}
}

func TestCheckKind(t *testing.T) {
	card := fixtureStore().card
	if err := CheckKind(card, "stamp"); err != nil {
		t.Fatalf("matching kind: %v", err)
	}
	if err := CheckKind(card, ""); err != nil {
		t.Fatalf("empty kind: %v", err)
	}
	var verr domain.ValidationError
	if err := CheckKind(card, "membership"); !errors.As(err, &verr) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := CheckKind(card, "punch"); !errors.As(err, &verr) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestThemeFor(t *testing.T) {
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   Input
		want string
	}{
		{"brand", Input{Business: domain.Business{BrandColor: "#102030"}, Progress: progress.Progress{}}, "rgb(16, 32, 48)"},
		{"template wins", Input{Business: domain.Business{BrandColor: "#102030"}, Template: domain.CardTemplate{CardColor: "#fff"}}, "rgb(255, 255, 255)"},
		{"bad color", Input{Business: domain.Business{BrandColor: "blue"}}, DefaultColor},
		{"completed", Input{Progress: progress.Progress{IsCompleted: true}}, CompletedColor},
		{"expired", Input{Progress: progress.Progress{IsCompleted: true, IsExpired: true, ExpiryDate: &past}}, ExpiredColor},
	}
	for _, tc := range cases {
		if got := ThemeFor(tc.in).Background; got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

type stubRenderer struct{ cfgErr error }

func (stubRenderer) Platform() domain.Platform { return domain.PlatformPWA }

func (s stubRenderer) CheckConfig() error { return s.cfgErr }

func (stubRenderer) Render(context.Context, Input) (Artifact, error) {
	return Artifact{Platform: domain.PlatformPWA, Body: []byte("ok")}, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(stubRenderer{})
	if _, err := reg.Render(context.Background(), domain.PlatformPWA, Input{}); err != nil {
		t.Fatalf("render: %v", err)
	}
	var cfgErr domain.ConfigurationError
	if _, err := reg.Get(domain.PlatformApple); !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	var verr domain.ValidationError
	if _, err := reg.Get("fax"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	broken := NewRegistry(stubRenderer{cfgErr: domain.ConfigurationError{Platform: domain.PlatformPWA, Missing: []string{"base_url"}}})
	if _, err := broken.Render(context.Background(), domain.PlatformPWA, Input{}); !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
