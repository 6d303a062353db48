package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clave-auth/clave/internal/store/core"
)

func newCode(digest string) *core.AuthorizationCode {
	now := time.Now().UTC()
	return &core.AuthorizationCode{
		CodeDigest:  digest,
		ClientID:    "client-1",
		UserID:      "user-1",
		RedirectURI: "http://localhost:3000/cb",
		Scope:       "read write",
		IssuedAt:    now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

func newToken(id, kind string) *core.Token {
	now := time.Now().UTC()
	return &core.Token{
		ID:        id,
		Kind:      kind,
		ClientID:  "client-1",
		UserID:    "user-1",
		Scope:     "read",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestConsumeCode_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	st := New()
	if err := st.SaveAuthorizationCode(ctx, newCode("digest-1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	ac, err := st.ConsumeCode(ctx, "digest-1")
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if !ac.Consumed {
		t.Fatal("returned record must be marked consumed")
	}

	if _, err := st.ConsumeCode(ctx, "digest-1"); !errors.Is(err, core.ErrCodeConsumed) {
		t.Fatalf("second consume: want ErrCodeConsumed, got %v", err)
	}
	if _, err := st.ConsumeCode(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown code: want ErrNotFound, got %v", err)
	}
}

func TestConsumeCode_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	st := New()
	if err := st.SaveAuthorizationCode(ctx, newCode("digest-race")); err != nil {
		t.Fatalf("save: %v", err)
	}

	const callers = 64
	var wg sync.WaitGroup
	wins := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.ConsumeCode(ctx, "digest-race"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("exactly one caller must win the consume, got %d", n)
	}
}

func TestRotateRefreshToken_Atomic(t *testing.T) {
	ctx := context.Background()
	st := New()

	old := newToken("rt-old", core.TokenKindRefresh)
	if err := st.SaveToken(ctx, old); err != nil {
		t.Fatalf("save: %v", err)
	}

	repl := newToken("rt-new", core.TokenKindRefresh)
	repl.ParentID = "rt-old"
	if err := st.RotateRefreshToken(ctx, "rt-old", repl); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	got, err := st.GetToken(ctx, "rt-old")
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if !got.Revoked() {
		t.Fatal("old refresh must be revoked after rotation")
	}
	if _, err := st.GetToken(ctx, "rt-new"); err != nil {
		t.Fatalf("new refresh must exist after rotation: %v", err)
	}

	// Rotating an unknown token inserts nothing.
	repl2 := newToken("rt-ghost", core.TokenKindRefresh)
	if err := st.RotateRefreshToken(ctx, "does-not-exist", repl2); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := st.GetToken(ctx, "rt-ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Fatal("failed rotation must not insert the replacement")
	}

	// The already-rotated token cannot be rotated again.
	repl3 := newToken("rt-second", core.TokenKindRefresh)
	if err := st.RotateRefreshToken(ctx, "rt-old", repl3); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("rotating a revoked token: want ErrNotFound, got %v", err)
	}
	if _, err := st.GetToken(ctx, "rt-second"); !errors.Is(err, core.ErrNotFound) {
		t.Fatal("losing rotation must not insert its replacement")
	}
}

func TestRotateRefreshToken_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	st := New()
	if err := st.SaveToken(ctx, newToken("rt-race", core.TokenKindRefresh)); err != nil {
		t.Fatalf("save: %v", err)
	}

	const callers = 32
	var wg sync.WaitGroup
	wins := make(chan string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			repl := newToken("rt-race-child-"+string(rune('a'+n%26))+string(rune('a'+n/26)), core.TokenKindRefresh)
			repl.ParentID = "rt-race"
			if err := st.RotateRefreshToken(ctx, "rt-race", repl); err == nil {
				wins <- repl.ID
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for id := range wins {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("exactly one rotation must win, got %d", len(winners))
	}
	// Only the winner's replacement exists.
	if _, err := st.GetToken(ctx, winners[0]); err != nil {
		t.Fatalf("winner's replacement must exist: %v", err)
	}
	n, _ := st.RevokeTokensByParent(ctx, "rt-race")
	if n != 1 {
		t.Fatalf("exactly one child must have been minted, found %d unrevoked", n)
	}
}

func TestRevokeCascades(t *testing.T) {
	ctx := context.Background()
	st := New()

	rt := newToken("rt-1", core.TokenKindRefresh)
	at1 := newToken("at-1", core.TokenKindAccess)
	at1.ParentID = "rt-1"
	at2 := newToken("at-2", core.TokenKindAccess)
	at2.ParentID = "rt-1"
	other := newToken("at-other", core.TokenKindAccess)

	for _, tok := range []*core.Token{rt, at1, at2, other} {
		if err := st.SaveToken(ctx, tok); err != nil {
			t.Fatalf("save %s: %v", tok.ID, err)
		}
	}

	n, err := st.RevokeTokensByParent(ctx, "rt-1")
	if err != nil {
		t.Fatalf("revoke by parent: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 cascaded revocations, got %d", n)
	}
	got, _ := st.GetToken(ctx, "at-other")
	if got.Revoked() {
		t.Fatal("unrelated token must not be revoked")
	}
}

func TestRevokeTokensByCode(t *testing.T) {
	ctx := context.Background()
	st := New()

	at := newToken("at-code", core.TokenKindAccess)
	at.CodeDigest = "digest-x"
	rt := newToken("rt-code", core.TokenKindRefresh)
	rt.CodeDigest = "digest-x"
	for _, tok := range []*core.Token{at, rt} {
		if err := st.SaveToken(ctx, tok); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	n, err := st.RevokeTokensByCode(ctx, "digest-x")
	if err != nil {
		t.Fatalf("revoke by code: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2, got %d", n)
	}

	// Idempotent: already-revoked tokens are not counted again.
	n, _ = st.RevokeTokensByCode(ctx, "digest-x")
	if n != 0 {
		t.Fatalf("second pass must revoke nothing, got %d", n)
	}
}

func TestRevokeToken_Monotonic(t *testing.T) {
	ctx := context.Background()
	st := New()
	if err := st.SaveToken(ctx, newToken("at-mono", core.TokenKindAccess)); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := st.RevokeToken(ctx, "at-mono"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	first, _ := st.GetToken(ctx, "at-mono")

	time.Sleep(5 * time.Millisecond)
	if err := st.RevokeToken(ctx, "at-mono"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	second, _ := st.GetToken(ctx, "at-mono")

	if !first.RevokedAt.Equal(*second.RevokedAt) {
		t.Fatal("revocation timestamp must not move once set")
	}
}

func TestClientsAndUsers(t *testing.T) {
	ctx := context.Background()
	st := New()

	c := &core.Client{ClientID: "client-1", Name: "app", Type: core.ClientTypeConfidential, CreatedAt: time.Now()}
	if err := st.CreateClient(ctx, c); err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := st.CreateClient(ctx, c); !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("duplicate client: want ErrAlreadyExists, got %v", err)
	}
	got, err := st.GetClient(ctx, "client-1")
	if err != nil || got.Name != "app" {
		t.Fatalf("get client: %v %+v", err, got)
	}

	u := &core.User{ID: "user-1", Username: "ada", PasswordHash: "x", CreatedAt: time.Now()}
	if err := st.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := st.CreateUser(ctx, &core.User{ID: "user-2", Username: "ada"}); !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("duplicate username: want ErrAlreadyExists, got %v", err)
	}
	if _, err := st.GetUserByUsername(ctx, "ada"); err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if _, err := st.GetUserByID(ctx, "user-1"); err != nil {
		t.Fatalf("get by id: %v", err)
	}
}

func TestListClientTokens(t *testing.T) {
	ctx := context.Background()
	st := New()

	for i, id := range []string{"t1", "t2", "t3"} {
		tok := newToken(id, core.TokenKindAccess)
		tok.IssuedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := st.SaveToken(ctx, tok); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := st.ListClientTokens(ctx, "client-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2, got %d", len(got))
	}
	if got[0].ID != "t3" {
		t.Fatalf("newest first, got %s", got[0].ID)
	}
}
