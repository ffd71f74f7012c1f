package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testUserID = "01JZZZZZZZZZZZZZZZZZZZZZZZ"

func newTestService() *Service {
	cfg := DefaultConfig()
	return NewService(cfg, NewMemoryStore(), NewEphemeralPasetoV4PublicManager(cfg))
}

func TestPasetoV4_IssueAndVerify(t *testing.T) {
	t.Parallel()

	mgr := NewEphemeralPasetoV4PublicManager(DefaultConfig())

	now := time.Now().UTC()
	tok, exp, err := mgr.Issue(testUserID, "01JYYYYYYYYYYYYYYYYYYYYYYY", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := mgr.Verify(tok, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != testUserID || claims.SessionID == "" {
		t.Fatalf("claims = %+v", claims)
	}

	if _, err := mgr.Verify(tok, exp.Add(time.Minute)); err == nil {
		t.Fatalf("expected verification failure after expiry")
	}
}

func TestService_IssueAndValidate(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	now := time.Now().UTC()

	issued, err := svc.IssueSession(context.Background(), now, testUserID, DeviceContext{})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if issued.RefreshToken == "" || issued.SessionID == "" {
		t.Fatalf("issued = %+v", issued)
	}

	claims, err := svc.ValidateAccessToken(context.Background(), issued.AccessToken, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != testUserID || claims.SessionID != issued.SessionID {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestService_RememberMeExtendsRefreshTTL(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	now := time.Now().UTC()

	short, err := svc.IssueSession(context.Background(), now, testUserID, DeviceContext{})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	long, err := svc.IssueSession(context.Background(), now, testUserID, DeviceContext{RememberMe: true})
	if err != nil {
		t.Fatalf("IssueSession remember: %v", err)
	}
	if !long.RefreshExp.After(short.RefreshExp) {
		t.Fatalf("remember-me refresh must outlive the default: %v vs %v", long.RefreshExp, short.RefreshExp)
	}
}

func TestService_ValidateRejectsRevokedSession(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	now := time.Now().UTC()

	issued, err := svc.IssueSession(context.Background(), now, testUserID, DeviceContext{})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if err := svc.RevokeSession(context.Background(), now, issued.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}

	_, err = svc.ValidateAccessToken(context.Background(), issued.AccessToken, now.Add(time.Second))
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestService_RotateRefresh(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	now := time.Now().UTC()

	first, err := svc.IssueSession(context.Background(), now, testUserID, DeviceContext{})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	second, err := svc.RotateRefresh(context.Background(), now.Add(time.Minute), first.RefreshToken, DeviceContext{})
	if err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Fatalf("rotation must create a new session")
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("rotation must mint a new refresh token")
	}

	// The old session is replaced; its access token no longer validates.
	_, err = svc.ValidateAccessToken(context.Background(), first.AccessToken, now.Add(2*time.Minute))
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked for replaced session, got %v", err)
	}

	// The new access token is good.
	if _, err := svc.ValidateAccessToken(context.Background(), second.AccessToken, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}
}

func TestService_RefreshReuseRevokesEverything(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	now := time.Now().UTC()

	first, err := svc.IssueSession(context.Background(), now, testUserID, DeviceContext{})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	second, err := svc.RotateRefresh(context.Background(), now.Add(time.Minute), first.RefreshToken, DeviceContext{})
	if err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}

	// Replaying the already-rotated token is theft evidence.
	_, err = svc.RotateRefresh(context.Background(), now.Add(2*time.Minute), first.RefreshToken, DeviceContext{})
	if !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected ErrRefreshReuseDetected, got %v", err)
	}

	// Every session of the user is revoked, including the live one.
	_, err = svc.ValidateAccessToken(context.Background(), second.AccessToken, now.Add(3*time.Minute))
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after reuse, got %v", err)
	}
}

func TestService_RotateUnknownToken(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	now := time.Now().UTC()

	_, err := svc.RotateRefresh(context.Background(), now, "no-such-token", DeviceContext{})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	_, err = svc.RotateRefresh(context.Background(), now, "   ", DeviceContext{})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for blank token, got %v", err)
	}
}

func TestService_RotateExpiredSession(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	now := time.Now().UTC()

	issued, err := svc.IssueSession(context.Background(), now, testUserID, DeviceContext{})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	after := issued.RefreshExp.Add(time.Minute)
	_, err = svc.RotateRefresh(context.Background(), after, issued.RefreshToken, DeviceContext{})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	now := time.Now().UTC()

	if _, err := store.Create(context.Background(), now, testUserID, DeviceContext{}, "hash-live", now.Add(time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(context.Background(), now, testUserID, DeviceContext{}, "hash-dead", now.Add(time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := store.DeleteExpired(context.Background(), now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d sessions, want 1", n)
	}
}
