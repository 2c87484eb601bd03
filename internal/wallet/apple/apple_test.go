package apple

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"

	"rewardjar/internal/domain"
	"rewardjar/internal/wallet"
	"rewardjar/internal/wallet/wallettest"
)

// issue creates a certificate for cn signed by parent, or self-signed when
// parent is nil.
func issue(t *testing.T, cn string, isCA bool, parent *x509.Certificate, parentKey *rsa.PrivateKey) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	if isCA {
		tmpl.IsCA = true
		tmpl.BasicConstraintsValid = true
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}
	if parent == nil {
		parent, parentKey = tmpl, key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert, key
}

func certPEM(c *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw}))
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	wwdr, wwdrKey := issue(t, "WWDR", true, nil, nil)
	leaf, leafKey := issue(t, "Pass Type ID: pass.com.rewardjar.test", false, wwdr, wwdrKey)
	r, err := New(Config{
		TeamIdentifier:     "ABCDE12345",
		PassTypeIdentifier: "pass.com.rewardjar.test",
		SignerCert:         certPEM(leaf),
		SignerKey:          string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(leafKey)})),
		WWDRCert:           certPEM(wwdr),
	})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return r
}

func unzip(t *testing.T, body []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		files[f.Name] = data
	}
	return files
}

func TestRenderBundleRoundTrip(t *testing.T) {
	r := newRenderer(t)
	art, err := r.Render(context.Background(), wallettest.Stamp(3, 10))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if art.ContentType != ContentType || art.Filename != wallettest.CustomerCard+".pkpass" {
		t.Fatalf("unexpected artifact %s %s", art.ContentType, art.Filename)
	}
	files := unzip(t, art.Body)
	var names []string
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "manifest.json,pass.json,signature" {
		t.Fatalf("unexpected archive contents %v", names)
	}
	var pass map[string]any
	if err := json.Unmarshal(files[PassFile], &pass); err != nil {
		t.Fatalf("pass.json: %v", err)
	}
	if pass["formatVersion"] != float64(1) {
		t.Fatalf("formatVersion = %v", pass["formatVersion"])
	}
	if _, ok := pass["storeCard"]; !ok {
		t.Fatalf("expected storeCard style")
	}
	if pass["serialNumber"] != wallettest.CustomerCard {
		t.Fatalf("serialNumber = %v", pass["serialNumber"])
	}

	var manifest map[string]string
	if err := json.Unmarshal(files[ManifestFile], &manifest); err != nil {
		t.Fatalf("manifest.json: %v", err)
	}
	sum := sha1.Sum(files[PassFile])
	if manifest[PassFile] != hex.EncodeToString(sum[:]) {
		t.Fatalf("manifest hash mismatch")
	}

	p7, err := pkcs7.Parse(files[SignatureFile])
	if err != nil {
		t.Fatalf("parse signature: %v", err)
	}
	p7.Content = files[ManifestFile]
	if err := p7.Verify(); err != nil {
		t.Fatalf("verify signature: %v", err)
	}
	if len(p7.Certificates) != 2 {
		t.Fatalf("expected signer and wwdr certificates, got %d", len(p7.Certificates))
	}
}

func TestRenderIncludesAssets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "icon.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := newRenderer(t)
	r.Config.AssetsDir = dir
	art, err := r.Render(context.Background(), wallettest.Stamp(1, 10))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	files := unzip(t, art.Body)
	if _, ok := files["icon.png"]; !ok || len(files) != 4 {
		t.Fatalf("expected icon.png in archive, got %d files", len(files))
	}
	var manifest map[string]string
	if err := json.Unmarshal(files[ManifestFile], &manifest); err != nil {
		t.Fatal(err)
	}
	if _, ok := manifest["icon.png"]; !ok {
		t.Fatalf("asset missing from manifest")
	}
}

func TestBuildPassBarcodeAndFields(t *testing.T) {
	in := wallettest.Membership(5, 20, nil)
	pass, err := BuildPass(Config{}, in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if pass.Barcode.Message != "gym:"+wallettest.CustomerCard {
		t.Fatalf("barcode message = %q", pass.Barcode.Message)
	}
	if pass.OrganizationName != "Bean There Cafe" {
		t.Fatalf("organization should default to business name, got %q", pass.OrganizationName)
	}
	if pass.StoreCard.HeaderFields[0].Value != "5/20" {
		t.Fatalf("sessions header = %v", pass.StoreCard.HeaderFields[0].Value)
	}
	if pass.StoreCard.SecondaryFields[1].Value != "225.00" {
		t.Fatalf("remaining value = %v", pass.StoreCard.SecondaryFields[1].Value)
	}
	if pass.Voided || pass.ExpirationDate != "" {
		t.Fatalf("membership without expiry must not be voided")
	}

	stamp, err := BuildPass(Config{}, wallettest.Stamp(3, 10))
	if err != nil {
		t.Fatal(err)
	}
	if stamp.Barcode.Message != "stamp:"+wallettest.CustomerCard {
		t.Fatalf("stamp barcode = %q", stamp.Barcode.Message)
	}
}

func TestCompletedMembershipUsesCompletedTheme(t *testing.T) {
	pass, err := BuildPass(Config{}, wallettest.Membership(20, 20, nil))
	if err != nil {
		t.Fatal(err)
	}
	if pass.BackgroundColor != wallet.CompletedColor {
		t.Fatalf("background = %q", pass.BackgroundColor)
	}
}

func TestExpiredMembershipIsVoided(t *testing.T) {
	past := wallettest.Now.Add(-48 * time.Hour)
	pass, err := BuildPass(Config{}, wallettest.Membership(2, 20, &past))
	if err != nil {
		t.Fatal(err)
	}
	if !pass.Voided || pass.ExpirationDate == "" || pass.BackgroundColor != wallet.ExpiredColor {
		t.Fatalf("expected voided expired pass, got voided=%v exp=%q bg=%q", pass.Voided, pass.ExpirationDate, pass.BackgroundColor)
	}
}

func TestUnknownKindIsRejected(t *testing.T) {
	in := wallettest.Stamp(1, 10)
	in.Card.Kind = "punch"
	if _, err := BuildPass(Config{}, in); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestMissingConfiguration(t *testing.T) {
	r, err := New(Config{TeamIdentifier: "ABCDE12345"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Render(context.Background(), wallettest.Stamp(1, 10))
	var cfgErr domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if strings.Join(cfgErr.Missing, ",") != "pass type identifier,signing certificate" {
		t.Fatalf("missing = %v", cfgErr.Missing)
	}
}

func TestUnreadableSigningMaterial(t *testing.T) {
	_, err := New(Config{SignerCert: filepath.Join(t.TempDir(), "missing.pem"), SignerKey: "x"})
	if err == nil {
		t.Fatalf("expected error for missing certificate file")
	}
}

func TestPreviewAndDebug(t *testing.T) {
	r := newRenderer(t)
	html, err := r.Preview(wallettest.Membership(20, 20, nil))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	page := string(html)
	if !strings.Contains(page, wallet.CompletedColor) || !strings.Contains(page, "gym:"+wallettest.CustomerCard) {
		t.Fatalf("preview missing theme or barcode:\n%s", page)
	}
	dbg, err := r.Debug(wallettest.Stamp(3, 10))
	if err != nil {
		t.Fatal(err)
	}
	if !dbg.Signed || !dbg.Intermediate || dbg.Progress.PercentComplete != 30 {
		t.Fatalf("unexpected debug %+v", dbg)
	}
}
