// Package validate checks rendered wallet artifacts against the minimum
// field set of each platform. It asserts presence and type only.
package validate

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"rewardjar/internal/domain"
	"rewardjar/internal/wallet"
)

type Report struct {
	Platform   domain.Platform `json:"platform"`
	Valid      bool            `json:"valid"`
	Errors     []string        `json:"errors"`
	Warnings   []string        `json:"warnings"`
	Completion int             `json:"completion"`
	Checks     []CheckResult   `json:"checks"`
}

// CheckResult is one required item of a platform checklist.
type CheckResult struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
}

type checklist struct {
	report Report
}

func newChecklist(p domain.Platform) *checklist {
	return &checklist{report: Report{Platform: p, Errors: []string{}, Warnings: []string{}, Checks: []CheckResult{}}}
}

func (c *checklist) require(name string, ok bool) {
	c.report.Checks = append(c.report.Checks, CheckResult{Name: name, OK: ok})
	if !ok {
		c.report.Errors = append(c.report.Errors, "missing "+name)
	}
}

func (c *checklist) warn(msg string) {
	c.report.Warnings = append(c.report.Warnings, msg)
}

// fail records a structural error that prevents further checks.
func (c *checklist) fail(msg string, required ...string) Report {
	c.report.Errors = append(c.report.Errors, msg)
	for _, name := range required {
		c.report.Checks = append(c.report.Checks, CheckResult{Name: name})
	}
	return c.done()
}

func (c *checklist) done() Report {
	ok := 0
	for _, ch := range c.report.Checks {
		if ch.OK {
			ok++
		}
	}
	if len(c.report.Checks) > 0 {
		c.report.Completion = int(math.Round(float64(ok) / float64(len(c.report.Checks)) * 100))
	}
	c.report.Valid = len(c.report.Errors) == 0
	return c.report
}

var (
	appleRequired  = []string{"formatVersion", "passTypeIdentifier", "serialNumber", "organizationName", "description", "barcode"}
	googleRequired = []string{"class id", "object id", "state", "barcode", "text modules"}
	pwaRequired    = []string{"title", "subtitle", "barcode", "theme", "actions"}
)

// Check validates one artifact body for platform.
func Check(platform domain.Platform, body []byte) Report {
	switch platform {
	case domain.PlatformApple:
		return checkApple(body)
	case domain.PlatformGoogle:
		return checkGoogle(body)
	case domain.PlatformPWA:
		return checkPWA(body)
	}
	c := newChecklist(platform)
	return c.fail(fmt.Sprintf("unknown platform %q", platform))
}

// Summary aggregates the reports of several artifacts.
type Summary struct {
	Valid      bool     `json:"valid"`
	Completion int      `json:"completion"`
	Reports    []Report `json:"reports"`
}

func CheckAll(artifacts []wallet.Artifact) Summary {
	reports := make([]Report, 0, len(artifacts))
	for _, a := range artifacts {
		reports = append(reports, Check(a.Platform, a.Body))
	}
	return Summarize(reports)
}

// Summarize averages completion over reports. An empty set is not valid.
func Summarize(reports []Report) Summary {
	s := Summary{Valid: len(reports) > 0, Reports: reports}
	if s.Reports == nil {
		s.Reports = []Report{}
	}
	total := 0
	for _, r := range reports {
		s.Valid = s.Valid && r.Valid
		total += r.Completion
	}
	if len(reports) > 0 {
		s.Completion = int(math.Round(float64(total) / float64(len(reports))))
	}
	return s
}

// JSON encodes r for storage next to an artifact.
func (r Report) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

func checkApple(body []byte) Report {
	c := newChecklist(domain.PlatformApple)
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return c.fail("not a zip archive: "+err.Error(), appleRequired...)
	}
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return c.fail(fmt.Sprintf("open %s: %v", f.Name, err), appleRequired...)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return c.fail(fmt.Sprintf("read %s: %v", f.Name, err), appleRequired...)
		}
		files[f.Name] = data
	}
	raw, ok := files["pass.json"]
	if !ok {
		return c.fail("pass.json missing", appleRequired...)
	}
	var pass map[string]any
	if err := json.Unmarshal(raw, &pass); err != nil {
		return c.fail("pass.json is not valid JSON: "+err.Error(), appleRequired...)
	}
	version, _ := pass["formatVersion"].(float64)
	c.require("formatVersion", version == 1)
	for _, key := range []string{"passTypeIdentifier", "serialNumber", "organizationName", "description"} {
		c.require(key, nonEmptyString(pass[key]))
	}
	c.require("barcode", hasAppleBarcode(pass))

	if !nonEmptyString(pass["teamIdentifier"]) {
		c.warn("teamIdentifier is empty")
	}
	if _, ok := files["manifest.json"]; !ok {
		c.warn("manifest.json missing")
	}
	if _, ok := files["signature"]; !ok {
		c.warn("signature missing")
	}
	style := false
	for _, key := range []string{"storeCard", "generic", "coupon", "eventTicket", "boardingPass"} {
		if _, ok := pass[key].(map[string]any); ok {
			style = true
		}
	}
	if !style {
		c.warn("no pass style key (storeCard or generic)")
	}
	return c.done()
}

func hasAppleBarcode(pass map[string]any) bool {
	if b, ok := pass["barcode"].(map[string]any); ok && nonEmptyString(b["message"]) {
		return true
	}
	list, _ := pass["barcodes"].([]any)
	for _, item := range list {
		if b, ok := item.(map[string]any); ok && nonEmptyString(b["message"]) {
			return true
		}
	}
	return false
}

func checkGoogle(body []byte) Report {
	c := newChecklist(domain.PlatformGoogle)
	parts := strings.Split(strings.TrimSpace(string(body)), ".")
	if len(parts) != 3 {
		return c.fail(fmt.Sprintf("jwt has %d segments, want 3", len(parts)), googleRequired...)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.Join(parts, "."), claims); err != nil {
		return c.fail("jwt is malformed: "+err.Error(), googleRequired...)
	}
	if claims["aud"] != "google" {
		c.warn("aud is not google")
	}
	if claims["typ"] != "savetowallet" {
		c.warn("typ is not savetowallet")
	}
	payload, _ := claims["payload"].(map[string]any)
	class := first(payload, "loyaltyClasses", "genericClasses")
	object := first(payload, "loyaltyObjects", "genericObjects")
	if object == nil {
		return c.fail("payload has neither loyaltyObjects nor genericObjects", googleRequired...)
	}
	classID, _ := object["classId"].(string)
	if class != nil && nonEmptyString(class["id"]) {
		classID, _ = class["id"].(string)
	}
	c.require("class id", classID != "")
	c.require("object id", nonEmptyString(object["id"]))
	c.require("state", nonEmptyString(object["state"]))
	barcode, _ := object["barcode"].(map[string]any)
	c.require("barcode", barcode != nil && nonEmptyString(barcode["value"]))
	modules, _ := object["textModulesData"].([]any)
	c.require("text modules", len(modules) > 0)
	if class == nil {
		c.warn("payload has no class definition")
	}
	return c.done()
}

func first(payload map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		list, _ := payload[key].([]any)
		if len(list) == 0 {
			continue
		}
		if m, ok := list[0].(map[string]any); ok {
			return m
		}
	}
	return nil
}

const passDataOpen = `<script type="application/json" id="pass-data">`

func checkPWA(body []byte) Report {
	c := newChecklist(domain.PlatformPWA)
	page := string(body)
	i := strings.Index(page, passDataOpen)
	if i < 0 {
		return c.fail("embedded pass data missing", pwaRequired...)
	}
	rest := page[i+len(passDataOpen):]
	j := strings.Index(rest, "</script>")
	if j < 0 {
		return c.fail("embedded pass data not terminated", pwaRequired...)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(rest[:j]), &data); err != nil {
		return c.fail("embedded pass data is not JSON: "+err.Error(), pwaRequired...)
	}
	c.require("title", nonEmptyString(data["title"]))
	c.require("subtitle", nonEmptyString(data["subtitle"]))
	barcode, _ := data["barcode"].(map[string]any)
	c.require("barcode", barcode != nil && nonEmptyString(barcode["message"]))
	theme, _ := data["theme"].(map[string]any)
	c.require("theme", theme != nil && nonEmptyString(theme["background"]))
	actions, _ := data["actions"].([]any)
	c.require("actions", len(actions) > 0)
	if !strings.Contains(page, "data:image/png;base64,") {
		c.warn("no embedded QR image")
	}
	return c.done()
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}
