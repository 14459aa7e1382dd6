package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-that-is-at-least-32-characters"

func TestGenerateAccessToken_RoundTrip(t *testing.T) {
	op := Operator{Username: "installer", Role: RoleInstaller}
	token, err := GenerateAccessToken(op, testSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "installer" {
		t.Errorf("Subject = %q, want installer", claims.Subject)
	}
	if claims.Role != RoleInstaller {
		t.Errorf("Role = %q, want installer", claims.Role)
	}
	if claims.Issuer != issuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, issuer)
	}
	if claims.ID == "" {
		t.Error("ID is empty")
	}
}

func TestParseToken_Rejects(t *testing.T) {
	op := Operator{Username: "viewer", Role: RoleViewer}
	expired, err := GenerateAccessToken(op, testSecret, time.Hour, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	valid, err := GenerateAccessToken(op, testSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	badRole, err := GenerateAccessToken(Operator{Username: "x", Role: "root"}, testSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	noSubject, err := GenerateAccessToken(Operator{Role: RoleViewer}, testSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "viewer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleInstaller,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"expired", expired, testSecret},
		{"wrong secret", valid, strings.Repeat("x", 32)},
		{"garbage", "not.a.jwt", testSecret},
		{"unknown role", badRole, testSecret},
		{"missing subject", noSubject, testSecret},
		{"alg none", none, testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermStatusRead, true},
		{RoleViewer, PermDeviceWrite, false},
		{RoleOperator, PermDeviceWrite, true},
		{RoleOperator, PermTransportWrite, true},
		{RoleOperator, PermFirmware, false},
		{RoleOperator, PermAuditRead, false},
		{RoleInstaller, PermFirmware, true},
		{RoleInstaller, PermAuditRead, true},
		{Role("root"), PermStatusRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}
