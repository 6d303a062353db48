package password

import (
	"strings"
	"testing"
)

// Cheap params keep the test fast; Verify reads costs from the hash.
var testParams = Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

func TestHashVerify_RoundTrip(t *testing.T) {
	phc, err := Hash(testParams, "correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(phc, "$argon2id$v=19$") {
		t.Fatalf("unexpected PHC prefix: %q", phc)
	}
	if !Verify("correct horse battery staple", phc) {
		t.Fatal("expected verify to succeed")
	}
	if Verify("wrong password", phc) {
		t.Fatal("expected verify to fail for wrong password")
	}
}

func TestHash_EmptyPassword(t *testing.T) {
	if _, err := Hash(testParams, ""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestHash_UniqueSalts(t *testing.T) {
	a, _ := Hash(testParams, "same input")
	b, _ := Hash(testParams, "same input")
	if a == b {
		t.Fatal("two hashes of the same input must differ (random salt)")
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	malformed := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$ZGs",  // wrong variant
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$ZGs", // wrong version
		"$argon2id$v=19$m=8192,t=1,p=1$!!$ZGs",     // bad base64
	}
	for _, h := range malformed {
		if Verify("whatever", h) {
			t.Fatalf("expected verify to fail for %q", h)
		}
	}
}
