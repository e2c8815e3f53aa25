package rpc

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"p2pmarket/crypto"
)

func TestAuthenticateAcceptsIssuedToken(t *testing.T) {
	cfg := AuthConfig{HMACSecret: testSecret, Issuer: "p2pmarketd", Audience: "market"}
	token, err := IssueToken(cfg, testSeller, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	caller, rpcErr := NewAuthenticator(cfg).Authenticate(req)
	if rpcErr != nil {
		t.Fatalf("authenticate: %+v", rpcErr)
	}
	if caller != testSeller {
		t.Fatalf("unexpected caller %x", caller)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	cfg := AuthConfig{HMACSecret: testSecret, Audience: "market"}
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   crypto.FormatAccount(testSeller),
		Audience:  jwt.ClaimStrings{"market"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	expiredToken, err := expired.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	wrongAudience, err := IssueToken(AuthConfig{HMACSecret: testSecret, Audience: "other"}, testSeller, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-an-account",
		Audience:  jwt.ClaimStrings{"market"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	badSubjectToken, err := badSubject.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := map[string]string{
		"missing":  "",
		"scheme":   "Basic abc",
		"expired":  "Bearer " + expiredToken,
		"audience": "Bearer " + wrongAudience,
		"subject":  "Bearer " + badSubjectToken,
		"garbage":  "Bearer not.a.token",
	}
	auth := NewAuthenticator(cfg)
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if _, rpcErr := auth.Authenticate(req); rpcErr == nil || rpcErr.Code != codeUnauthorized {
			t.Fatalf("%s: expected unauthorized, got %+v", name, rpcErr)
		}
	}
}

func TestIssueTokenValidatesInput(t *testing.T) {
	if _, err := IssueToken(AuthConfig{}, testSeller, time.Minute); err == nil {
		t.Fatalf("expected error without secret")
	}
	if _, err := IssueToken(AuthConfig{HMACSecret: testSecret}, testSeller, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
