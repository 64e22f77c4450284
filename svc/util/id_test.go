package util

import (
	"strings"
	"testing"

	"github.com/pkg/errors"

	"stashbin/pkg/domain"
)

func TestGenerateID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id, err := GenerateID()
		if err != nil {
			t.Fatal(err)
		}
		if len(id) != domain.IDLength {
			t.Fatalf("id length = %d, want %d", len(id), domain.IDLength)
		}
		if !domain.ValidID(id) {
			t.Fatalf("generated id %q fails its own validation", id)
		}
		for _, c := range id {
			if !strings.ContainsRune(base62Chars, c) {
				t.Fatalf("id %q contains %q outside the alphabet", id, c)
			}
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q within 1000 draws", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != domain.KeyLength {
		t.Fatalf("key length = %d, want %d", len(key), domain.KeyLength)
	}
	if !domain.ValidKey(key) {
		t.Fatalf("generated key %q fails its own validation", key)
	}
}

func TestGenUniqueIDRetries(t *testing.T) {
	calls := 0
	id, err := GenUniqueID(func(string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("exists called %d times, want 3", calls)
	}
	if !domain.ValidID(id) {
		t.Fatalf("id %q invalid", id)
	}
}

func TestGenUniqueIDGivesUp(t *testing.T) {
	_, err := GenUniqueID(func(string) (bool, error) {
		return true, nil
	})
	if !errors.Is(err, domain.ErrIDGenerationFailed) {
		t.Fatalf("err = %v, want ErrIDGenerationFailed when every id collides", err)
	}
}

func TestGenUniqueIDPropagatesError(t *testing.T) {
	want := errors.New("store down")
	_, err := GenUniqueID(func(string) (bool, error) {
		return false, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
