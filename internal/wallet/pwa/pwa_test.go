package pwa

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"rewardjar/internal/domain"
	"rewardjar/internal/wallet"
	"rewardjar/internal/wallet/wallettest"
)

func embeddedData(t *testing.T, page string) PassData {
	t.Helper()
	const open = `<script type="application/json" id="pass-data">`
	i := strings.Index(page, open)
	if i < 0 {
		t.Fatalf("pass data script missing")
	}
	rest := page[i+len(open):]
	j := strings.Index(rest, "</script>")
	if j < 0 {
		t.Fatalf("pass data script not closed")
	}
	var d PassData
	if err := json.Unmarshal([]byte(rest[:j]), &d); err != nil {
		t.Fatalf("decode pass data: %v\n%s", err, rest[:j])
	}
	return d
}

func TestStampGrid(t *testing.T) {
	r := New(Config{BaseURL: "https://rewardjar.test/"})
	art, err := r.Render(context.Background(), wallettest.Stamp(3, 10))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	page := string(art.Body)
	if got := strings.Count(page, `class="stamp-cell `); got != 10 {
		t.Fatalf("expected 10 stamp cells, got %d", got)
	}
	if got := strings.Count(page, `class="stamp-cell stamp-filled"`); got != 3 {
		t.Fatalf("expected 3 filled cells, got %d", got)
	}
	if !strings.Contains(page, `data-progress="30"`) {
		t.Fatalf("progress value missing")
	}
	if !strings.Contains(page, `src="data:image/png;base64,`) {
		t.Fatalf("qr data uri missing")
	}
	d := embeddedData(t, page)
	if d.Title != "Coffee Card" || d.Subtitle != "Bean There Cafe" {
		t.Fatalf("unexpected title/subtitle %+v", d)
	}
	if d.Barcode.URL != "https://rewardjar.test/scan/"+wallettest.CustomerCard {
		t.Fatalf("unexpected scan url %q", d.Barcode.URL)
	}
	if d.Theme.Background != "rgb(29, 78, 216)" || len(d.Actions) != 2 {
		t.Fatalf("unexpected theme/actions %+v", d)
	}
}

func TestMembershipProgressBar(t *testing.T) {
	expiry := wallettest.Now.Add(30 * 24 * time.Hour)
	r := New(Config{BaseURL: "https://rewardjar.test"})
	html, err := r.HTML(wallettest.Membership(10, 20, &expiry))
	if err != nil {
		t.Fatalf("html: %v", err)
	}
	page := string(html)
	if strings.Contains(page, `class="stamp-cell `) {
		t.Fatalf("membership must not render a stamp grid")
	}
	if !strings.Contains(page, `style="width:50%"`) {
		t.Fatalf("progress bar width missing")
	}
	d := embeddedData(t, page)
	if d.Progress.Expires != expiry.Format("2006-01-02") || d.Kind != "membership" {
		t.Fatalf("unexpected progress %+v", d.Progress)
	}
}

func TestCompletedCardTheme(t *testing.T) {
	r := New(Config{BaseURL: "https://rewardjar.test"})
	html, err := r.HTML(wallettest.Stamp(12, 10))
	if err != nil {
		t.Fatal(err)
	}
	page := string(html)
	if !strings.Contains(page, wallet.CompletedColor) || !strings.Contains(page, `data-progress="100"`) {
		t.Fatalf("completed card should use the completed theme")
	}
	if got := strings.Count(page, `class="stamp-cell stamp-filled"`); got != 10 {
		t.Fatalf("filled cells must not exceed required, got %d", got)
	}
}

func TestMissingBaseURL(t *testing.T) {
	_, err := New(Config{}).Render(context.Background(), wallettest.Stamp(1, 10))
	var cfgErr domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
