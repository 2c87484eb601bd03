// Package pwa renders a self-contained HTML wallet card.
package pwa

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	"github.com/skip2/go-qrcode"

	"rewardjar/internal/domain"
	"rewardjar/internal/wallet"
)

const (
	ContentType = "text/html; charset=utf-8"
	qrSize      = 256
)

type Config struct {
	BaseURL string
}

type Renderer struct {
	Config Config
}

func New(cfg Config) *Renderer {
	return &Renderer{Config: cfg}
}

func (r *Renderer) Platform() domain.Platform { return domain.PlatformPWA }

func (r *Renderer) CheckConfig() error {
	if strings.TrimSpace(r.Config.BaseURL) == "" {
		return domain.ConfigurationError{Platform: domain.PlatformPWA, Missing: []string{"base url"}}
	}
	return nil
}

// PassData is embedded in the page as JSON for installable PWA shells and validation.
type PassData struct {
	Title          string       `json:"title"`
	Subtitle       string       `json:"subtitle"`
	CustomerCardID string       `json:"customerCardId,omitempty"`
	Kind           string       `json:"kind"`
	Barcode        PassBarcode  `json:"barcode"`
	Theme          wallet.Theme `json:"theme"`
	Progress       PassProgress `json:"progress"`
	Reward         string       `json:"reward,omitempty"`
	Actions        []Action     `json:"actions"`
}

type PassBarcode struct {
	Format  string `json:"format"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

type PassProgress struct {
	Used    int    `json:"used"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	State   string `json:"state"`
	Expires string `json:"expires,omitempty"`
}

type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ScanURL is the link encoded in the QR code.
func (r *Renderer) ScanURL(in wallet.Input) string {
	return strings.TrimRight(r.Config.BaseURL, "/") + "/scan/" + in.SerialNumber()
}

func (r *Renderer) passData(in wallet.Input) PassData {
	base := strings.TrimRight(r.Config.BaseURL, "/")
	p := in.Progress
	d := PassData{
		Title:          in.Title(),
		Subtitle:       in.Business.Name,
		CustomerCardID: in.Card.ID,
		Kind:           string(in.Card.Kind),
		Barcode:        PassBarcode{Format: "qr", Message: in.ScanMessage(), URL: r.ScanURL(in)},
		Theme:          wallet.ThemeFor(in),
		Progress:       PassProgress{Used: p.Used(), Total: p.Total(), Percent: p.PercentComplete, State: string(p.State())},
		Reward:         in.Template.RewardDescription,
		Actions: []Action{
			{Label: "Scan", URL: r.ScanURL(in)},
			{Label: "Refresh", URL: base + "/api/wallet/pwa/" + in.SerialNumber()},
		},
	}
	if p.ExpiryDate != nil {
		d.Progress.Expires = p.ExpiryDate.UTC().Format("2006-01-02")
	}
	return d
}

type page struct {
	Data       PassData
	Background template.CSS
	Foreground template.CSS
	Stamp      bool
	Cells      []bool
	Percent    int
	Status     string
	Detail     string
	QR         template.URL
}

// HTML renders the page for in.
func (r *Renderer) HTML(in wallet.Input) ([]byte, error) {
	data := r.passData(in)
	png, err := qrcode.Encode(data.Barcode.URL, qrcode.Medium, qrSize)
	if err != nil {
		return nil, genErr("qr", err)
	}
	pg := page{
		Data:       data,
		Background: template.CSS(data.Theme.Background),
		Foreground: template.CSS(data.Theme.Foreground),
		Percent:    in.Progress.PercentComplete,
		Status:     strings.ToUpper(data.Progress.State[:1]) + data.Progress.State[1:],
		QR:         template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
	}
	switch in.Card.Kind {
	case domain.CardKindStamp:
		pg.Stamp = true
		pg.Cells = make([]bool, in.Progress.StampsRequired)
		for i := 0; i < in.Progress.StampsUsed && i < len(pg.Cells); i++ {
			pg.Cells[i] = true
		}
		pg.Detail = fmt.Sprintf("%d of %d stamps", in.Progress.StampsUsed, in.Progress.StampsRequired)
	case domain.CardKindMembership:
		pg.Detail = fmt.Sprintf("%d of %d sessions used", in.Progress.SessionsUsed, in.Progress.SessionsTotal)
		if data.Progress.Expires != "" {
			pg.Detail += ", expires " + data.Progress.Expires
		}
	default:
		return nil, genErr("template", fmt.Errorf("unsupported card kind %q", in.Card.Kind))
	}
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, pg); err != nil {
		return nil, genErr("template", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) Render(_ context.Context, in wallet.Input) (wallet.Artifact, error) {
	if err := r.CheckConfig(); err != nil {
		return wallet.Artifact{}, err
	}
	body, err := r.HTML(in)
	if err != nil {
		return wallet.Artifact{}, err
	}
	return wallet.Artifact{
		Platform:    domain.PlatformPWA,
		ContentType: ContentType,
		Filename:    in.SerialNumber() + ".html",
		Body:        body,
	}, nil
}

func genErr(stage string, err error) error {
	return domain.GenerationError{Platform: domain.PlatformPWA, Stage: stage, Err: err}
}

var pageTmpl = template.Must(template.New("pwa").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="theme-color" content="{{.Data.Theme.Background}}">
<title>{{.Data.Title}} - {{.Data.Subtitle}}</title>
<style>
body{margin:0;font-family:-apple-system,Helvetica,Arial,sans-serif;background:#f3f4f6;}
.card{max-width:380px;margin:24px auto;border-radius:16px;padding:20px;}
.grid{display:grid;grid-template-columns:repeat(5,1fr);gap:8px;margin:16px 0;}
.stamp-cell{aspect-ratio:1;border-radius:50%;border:2px solid rgba(255,255,255,.7);}
.stamp-filled{background:#fff;}
.bar{height:12px;border-radius:6px;background:rgba(255,255,255,.3);overflow:hidden;margin:16px 0;}
.fill{height:100%;background:#fff;}
.qr{background:#fff;border-radius:12px;padding:12px;text-align:center;}
</style>
</head>
<body>
<div class="card" data-state="{{.Data.Progress.State}}" data-progress="{{.Percent}}" style="background:{{.Background}};color:{{.Foreground}};">
  <div class="business">{{.Data.Subtitle}}</div>
  <h1>{{.Data.Title}}</h1>
  {{if .Stamp}}<div class="grid">{{range .Cells}}<div class="stamp-cell {{if .}}stamp-filled{{else}}stamp-empty{{end}}"></div>{{end}}</div>
  {{else}}<div class="bar"><div class="fill" style="width:{{.Percent}}%"></div></div>
  {{end}}<p class="detail">{{.Detail}} ({{.Percent}}%)</p>
  <p class="status">{{.Status}}</p>
  {{if .Data.Reward}}<p class="reward">{{.Data.Reward}}</p>{{end}}
  <div class="qr"><img alt="Scan code" width="200" height="200" src="{{.QR}}"></div>
</div>
<script type="application/json" id="pass-data">{{.Data}}</script>
</body>
</html>
`))
