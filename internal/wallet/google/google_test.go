package google

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rewardjar/internal/domain"
	"rewardjar/internal/wallet/wallettest"
)

func serviceAccountJSON(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	sa := map[string]string{
		"type":           "service_account",
		"project_id":     "rewardjar-test",
		"private_key_id": "key-123",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email":   "wallet@rewardjar-test.iam.gserviceaccount.com",
	}
	data, err := json.Marshal(sa)
	if err != nil {
		t.Fatal(err)
	}
	return string(data), key
}

func decodeSegment(t *testing.T, seg string) map[string]any {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal segment: %v", err)
	}
	return out
}

func TestStampCardProducesLoyaltyObjects(t *testing.T) {
	sa, key := serviceAccountJSON(t)
	r := New(Config{IssuerID: "3388000000012345", ServiceAccount: sa, Origins: []string{"https://rewardjar.test"}})
	art, err := r.Render(context.Background(), wallettest.Stamp(3, 10))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	token := string(art.Body)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(parts))
	}
	if art.SaveURL != SaveURLPrefix+token {
		t.Fatalf("unexpected save url %q", art.SaveURL)
	}
	header := decodeSegment(t, parts[0])
	if header["alg"] != "RS256" || header["kid"] != "key-123" {
		t.Fatalf("unexpected header %v", header)
	}
	claims := decodeSegment(t, parts[1])
	if claims["aud"] != "google" || claims["typ"] != "savetowallet" || claims["iss"] != "wallet@rewardjar-test.iam.gserviceaccount.com" {
		t.Fatalf("unexpected claims %v", claims)
	}
	exp := int64(claims["exp"].(float64))
	iat := int64(claims["iat"].(float64))
	if exp-iat != int64(time.Hour/time.Second) {
		t.Fatalf("expected one hour validity, got %d", exp-iat)
	}
	payload := claims["payload"].(map[string]any)
	objects, ok := payload["loyaltyObjects"].([]any)
	if !ok || len(objects) != 1 {
		t.Fatalf("expected loyaltyObjects, got %v", payload)
	}
	obj := objects[0].(map[string]any)
	if obj["id"] != "3388000000012345."+wallettest.CustomerCard || obj["state"] != "ACTIVE" {
		t.Fatalf("unexpected object %v", obj)
	}
	if obj["classId"] != "3388000000012345."+wallettest.TemplateID {
		t.Fatalf("unexpected class id %v", obj["classId"])
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
		jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestMembershipProducesGenericObjects(t *testing.T) {
	sa, _ := serviceAccountJSON(t)
	past := wallettest.Now.Add(-time.Hour)
	r := New(Config{IssuerID: "issuer", ServiceAccount: sa})
	res, err := r.Sign(wallettest.Membership(2, 20, &past))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(res.Payload.GenericObjects) != 1 || len(res.Payload.LoyaltyObjects) != 0 {
		t.Fatalf("expected generic objects only")
	}
	obj := res.Payload.GenericObjects[0]
	if obj.State != "EXPIRED" || obj.Barcode.Value != "gym:"+wallettest.CustomerCard {
		t.Fatalf("unexpected object %+v", obj)
	}
	if obj.HexBackgroundColor != "#dc2626" {
		t.Fatalf("expected expired color, got %q", obj.HexBackgroundColor)
	}
	if len(obj.TextModulesData) != 3 {
		t.Fatalf("expected reward, sessions and expiry modules, got %d", len(obj.TextModulesData))
	}
	claims := decodeSegment(t, strings.Split(res.JWT, ".")[1])
	if _, ok := claims["payload"].(map[string]any)["genericObjects"]; !ok {
		t.Fatalf("payload missing genericObjects")
	}
}

func TestClassesCarryProgramAndMessages(t *testing.T) {
	stamp, err := BuildPayload("issuer", wallettest.Stamp(3, 10))
	if err != nil {
		t.Fatal(err)
	}
	lc := stamp.LoyaltyClasses[0]
	if lc.IssuerName != "Bean There Cafe" || lc.ProgramName == "" {
		t.Fatalf("unexpected loyalty class %+v", lc)
	}
	if len(lc.Messages) != 2 || lc.Messages[0].Body != "Free coffee" || lc.Messages[1].Body != "7 more stamps to your reward" {
		t.Fatalf("unexpected loyalty messages %+v", lc.Messages)
	}

	past := wallettest.Now.Add(-time.Hour)
	membership, err := BuildPayload("issuer", wallettest.Membership(2, 20, &past))
	if err != nil {
		t.Fatal(err)
	}
	gc := membership.GenericClasses[0]
	if gc.ID != "issuer."+wallettest.TemplateID || gc.IssuerName != "Bean There Cafe" || gc.ProgramName == "" {
		t.Fatalf("unexpected generic class %+v", gc)
	}
	if gc.HexBackgroundColor != "#dc2626" {
		t.Fatalf("expected expired color on class, got %q", gc.HexBackgroundColor)
	}
	if len(gc.Messages) != 2 || gc.Messages[1].Body != "This membership has expired" {
		t.Fatalf("unexpected generic messages %+v", gc.Messages)
	}

	active, err := BuildPayload("issuer", wallettest.Membership(5, 20, nil))
	if err != nil {
		t.Fatal(err)
	}
	if body := active.GenericClasses[0].Messages[1].Body; body != "15 sessions remaining" {
		t.Fatalf("status message = %q", body)
	}
}

func TestCompletedState(t *testing.T) {
	p, err := BuildPayload("issuer", wallettest.Stamp(10, 10))
	if err != nil {
		t.Fatal(err)
	}
	if p.LoyaltyObjects[0].State != "COMPLETED" {
		t.Fatalf("state = %s", p.LoyaltyObjects[0].State)
	}
}

func TestServiceAccountFromFile(t *testing.T) {
	sa, _ := serviceAccountJSON(t)
	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, []byte(sa), 0o600); err != nil {
		t.Fatal(err)
	}
	acct, err := ParseServiceAccount(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if acct.PrivateKeyID != "key-123" {
		t.Fatalf("unexpected key id %q", acct.PrivateKeyID)
	}
}

func TestConfigurationErrors(t *testing.T) {
	var cfgErr domain.ConfigurationError
	missing := New(Config{})
	if err := missing.CheckConfig(); !errors.As(err, &cfgErr) || len(cfgErr.Missing) != 2 {
		t.Fatalf("expected two missing settings, got %v", err)
	}
	malformed := New(Config{IssuerID: "issuer", ServiceAccount: `{"client_email":"x@y","private_key":"not a key"}`})
	if _, err := malformed.Render(context.Background(), wallettest.Stamp(1, 10)); !errors.As(err, &cfgErr) {
		t.Fatalf("malformed credentials should be a configuration error, got %v", err)
	}
}
