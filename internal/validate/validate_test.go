package validate

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"rewardjar/internal/domain"
	"rewardjar/internal/wallet"
	"rewardjar/internal/wallet/apple"
	"rewardjar/internal/wallet/google"
	"rewardjar/internal/wallet/pwa"
	"rewardjar/internal/wallet/wallettest"
)

func appleRenderer(t *testing.T) *apple.Renderer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	r, err := apple.New(apple.Config{
		TeamIdentifier:     "TEAM123456",
		PassTypeIdentifier: "pass.test",
		SignerCert:         string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		SignerKey:          string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func googleRenderer(t *testing.T) *google.Renderer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	sa, err := json.Marshal(map[string]string{
		"client_email": "svc@test.iam.gserviceaccount.com",
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
	})
	if err != nil {
		t.Fatal(err)
	}
	return google.New(google.Config{IssuerID: "issuer", ServiceAccount: string(sa)})
}

func TestRenderedArtifactsAreValid(t *testing.T) {
	ctx := context.Background()
	in := wallettest.Stamp(3, 10)
	var arts []wallet.Artifact
	for _, r := range []wallet.Renderer{appleRenderer(t), googleRenderer(t), pwa.New(pwa.Config{BaseURL: "https://rj.test"})} {
		a, err := r.Render(ctx, in)
		if err != nil {
			t.Fatalf("%s render: %v", r.Platform(), err)
		}
		arts = append(arts, a)
	}
	sum := CheckAll(arts)
	for _, rep := range sum.Reports {
		if !rep.Valid || rep.Completion != 100 {
			t.Fatalf("%s report not valid: %+v", rep.Platform, rep)
		}
	}
	if !sum.Valid || sum.Completion != 100 || len(sum.Reports) != 3 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestAppleMissingFields(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("pass.json")
	w.Write([]byte(`{"formatVersion":1,"serialNumber":"abc","organizationName":"Cafe"}`))
	zw.Close()
	rep := Check(domain.PlatformApple, buf.Bytes())
	if rep.Valid {
		t.Fatalf("expected invalid report")
	}
	if len(rep.Errors) != 3 {
		t.Fatalf("expected passTypeIdentifier, description and barcode errors, got %v", rep.Errors)
	}
	if rep.Completion != 50 {
		t.Fatalf("completion = %d", rep.Completion)
	}
	if len(rep.Warnings) != 4 {
		t.Fatalf("expected team, manifest, signature and style warnings, got %v", rep.Warnings)
	}
}

func TestAppleNotZip(t *testing.T) {
	rep := Check(domain.PlatformApple, []byte("nope"))
	if rep.Valid || rep.Completion != 0 || len(rep.Checks) != 6 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestGoogleSegments(t *testing.T) {
	rep := Check(domain.PlatformGoogle, []byte("a.b"))
	if rep.Valid {
		t.Fatalf("two segments must be invalid")
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"aud":"google","typ":"savetowallet","payload":{"loyaltyObjects":[{"id":"i.o","classId":"i.c","state":"ACTIVE","barcode":{"type":"QR_CODE","value":"x"}}]}}`))
	rep = Check(domain.PlatformGoogle, []byte(header+"."+payload+".sig"))
	if rep.Valid || len(rep.Errors) != 1 || rep.Errors[0] != "missing text modules" {
		t.Fatalf("expected only text modules missing, got %+v", rep)
	}
	if rep.Completion != 80 {
		t.Fatalf("completion = %d", rep.Completion)
	}
}

func TestGoogleMalformedPayload(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	for _, payload := range []string{"%%%", base64.RawURLEncoding.EncodeToString([]byte("not json"))} {
		rep := Check(domain.PlatformGoogle, []byte(header+"."+payload+".sig"))
		if rep.Valid || rep.Completion != 0 || len(rep.Checks) != 5 {
			t.Fatalf("payload %q: unexpected report %+v", payload, rep)
		}
	}
}

func TestPWAWithoutPassData(t *testing.T) {
	rep := Check(domain.PlatformPWA, []byte("<html></html>"))
	if rep.Valid || rep.Completion != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestUnknownPlatformAndEmptySummary(t *testing.T) {
	if Check("fax", nil).Valid {
		t.Fatalf("unknown platform must be invalid")
	}
	if CheckAll(nil).Valid {
		t.Fatalf("empty summary must not be valid")
	}
}
