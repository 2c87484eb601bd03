package progress

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rewardjar/internal/domain"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func stampCard(required, used int) domain.CustomerCard {
	return domain.CustomerCard{
		ID:    "card",
		Kind:  domain.CardKindStamp,
		Stamp: &domain.StampFields{StampsRequired: required, StampsUsed: used},
	}
}

func membershipCard(total, used int, expiry *time.Time) domain.CustomerCard {
	return domain.CustomerCard{
		ID:   "card",
		Kind: domain.CardKindMembership,
		Membership: &domain.MembershipFields{
			MembershipType: "gym",
			SessionsTotal:  total,
			SessionsUsed:   used,
			CostPerSession: decimal.RequireFromString("12.50"),
			ExpiryDate:     expiry,
		},
	}
}

func TestStampPercentBoundsAndCompletion(t *testing.T) {
	for required := -1; required <= 12; required++ {
		for used := -3; used <= 25; used++ {
			p := Calculate(stampCard(required, used), now)
			if p.PercentComplete < 0 || p.PercentComplete > 100 {
				t.Fatalf("required=%d used=%d: percent %d out of range", required, used, p.PercentComplete)
			}
			if p.IsCompleted != (p.StampsUsed >= p.StampsRequired) {
				t.Fatalf("required=%d used=%d: completion mismatch", required, used)
			}
			if p.IsExpired {
				t.Fatalf("stamp cards never expire")
			}
		}
	}
}

func TestStampScenario(t *testing.T) {
	p := Calculate(stampCard(10, 3), now)
	if p.PercentComplete != 30 {
		t.Fatalf("expected 30%%, got %d", p.PercentComplete)
	}
	if p.Remaining != 7 || p.IsCompleted {
		t.Fatalf("unexpected progress %+v", p)
	}
	if p.State() != StateActive {
		t.Fatalf("expected active, got %s", p.State())
	}
}

func TestDefaultsAndNegativeCounts(t *testing.T) {
	p := Calculate(stampCard(0, -4), now)
	if p.StampsRequired != DefaultStampsRequired || p.StampsUsed != 0 || p.PercentComplete != 0 {
		t.Fatalf("unexpected progress %+v", p)
	}
	m := Calculate(membershipCard(0, 5, nil), now)
	if m.SessionsTotal != DefaultSessionsTotal || m.PercentComplete != 25 {
		t.Fatalf("unexpected membership progress %+v", m)
	}
	empty := Calculate(domain.CustomerCard{Kind: domain.CardKindStamp}, now)
	if empty.StampsRequired != DefaultStampsRequired {
		t.Fatalf("missing fields should fall back to defaults")
	}
}

func TestMembershipExpiry(t *testing.T) {
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)
	for _, used := range []int{0, 10, 20, 30} {
		if !Calculate(membershipCard(20, used, &past), now).IsExpired {
			t.Fatalf("used=%d: expected expired", used)
		}
	}
	if Calculate(membershipCard(20, 3, &future), now).IsExpired {
		t.Fatalf("future expiry must not be expired")
	}
	if Calculate(membershipCard(20, 3, nil), now).IsExpired {
		t.Fatalf("no expiry must not be expired")
	}
	expired := Calculate(membershipCard(20, 20, &past), now)
	if expired.State() != StateExpired {
		t.Fatalf("expiry wins over completion, got %s", expired.State())
	}
}

func TestMembershipCompleted(t *testing.T) {
	p := Calculate(membershipCard(20, 20, nil), now)
	if !p.IsCompleted || p.PercentComplete != 100 || p.State() != StateCompleted {
		t.Fatalf("unexpected progress %+v", p)
	}
	if !p.RemainingValue().IsZero() {
		t.Fatalf("expected zero remaining value, got %s", p.RemainingValue())
	}
	partial := Calculate(membershipCard(20, 18, nil), now)
	if got := partial.RemainingValue().String(); got != "25" {
		t.Fatalf("expected remaining value 25, got %s", got)
	}
}
