package apple

import (
	"bytes"
	"html/template"

	"rewardjar/internal/progress"
	"rewardjar/internal/wallet"
)

// Debug is the JSON answered by the preview endpoint with ?debug=true.
type Debug struct {
	Pass         Pass              `json:"pass"`
	Progress     progress.Progress `json:"progress"`
	Theme        wallet.Theme      `json:"theme"`
	Signed       bool              `json:"signed"`
	Certificate  string            `json:"certificate,omitempty"`
	Intermediate bool              `json:"intermediate"`
}

func (r *Renderer) Debug(in wallet.Input) (Debug, error) {
	pass, err := BuildPass(r.Config, in)
	if err != nil {
		return Debug{}, genErr("descriptor", err)
	}
	d := Debug{Pass: pass, Progress: in.Progress, Theme: wallet.ThemeFor(in), Signed: r.Signer != nil}
	if r.Signer != nil {
		d.Certificate = r.Signer.Cert.Subject.CommonName
		d.Intermediate = len(r.Signer.Chain) > 0
	}
	return d, nil
}

var previewTmpl = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Pass.OrganizationName}} - Apple Wallet preview</title>
</head>
<body style="margin:0;padding:24px;font-family:-apple-system,Helvetica,Arial,sans-serif;background:#f3f4f6;">
<div class="pass" data-state="{{.State}}" style="max-width:360px;margin:0 auto;border-radius:14px;padding:20px;background:{{.Background}};color:{{.Fg}};">
  <div style="display:flex;justify-content:space-between;">
    <strong>{{.Pass.LogoText}}</strong>
    {{range .Card.HeaderFields}}<span><small style="color:{{$.Label}}">{{.Label}}</small><br>{{.Value}}</span>{{end}}
  </div>
  {{range .Card.PrimaryFields}}<div style="margin:18px 0;"><small style="color:{{$.Label}}">{{.Label}}</small><div style="font-size:24px;">{{.Value}}</div></div>{{end}}
  <div style="display:flex;gap:16px;">
  {{range .Card.SecondaryFields}}<div><small style="color:{{$.Label}}">{{.Label}}</small><div>{{.Value}}</div></div>{{end}}
  </div>
  <div style="display:flex;gap:16px;margin-top:12px;">
  {{range .Card.AuxiliaryFields}}<div><small style="color:{{$.Label}}">{{.Label}}</small><div>{{.Value}}</div></div>{{end}}
  </div>
  <div class="barcode" style="margin-top:20px;background:#fff;color:#111;border-radius:8px;padding:12px;text-align:center;font-family:monospace;">{{.Pass.Barcode.Message}}</div>
</div>
<p style="text-align:center;"><a href="?format=pkpass">Add to Apple Wallet</a></p>
</body>
</html>
`))

// Preview renders an HTML approximation of the pass.
func (r *Renderer) Preview(in wallet.Input) ([]byte, error) {
	pass, err := BuildPass(r.Config, in)
	if err != nil {
		return nil, genErr("descriptor", err)
	}
	theme := wallet.ThemeFor(in)
	var buf bytes.Buffer
	err = previewTmpl.Execute(&buf, struct {
		Pass       Pass
		Card       *Structure
		Background template.CSS
		Fg         template.CSS
		Label      template.CSS
		State      string
	}{
		Pass:       pass,
		Card:       pass.StoreCard,
		Background: template.CSS(theme.Background),
		Fg:         template.CSS(theme.Foreground),
		Label:      template.CSS(theme.Label),
		State:      theme.State,
	})
	if err != nil {
		return nil, genErr("preview", err)
	}
	return buf.Bytes(), nil
}
