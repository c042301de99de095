package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"prism-board/board-api/api"
)

var testCfg = api.AuthConfig{LocalMode: "hs256", LocalSecret: "secret"}

func TestGenerateTokensNamesUsers(t *testing.T) {
	a, err := api.NewAuth(nil, testCfg)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	tokens, err := generateTokens(testCfg, 3, "load", 5, time.Hour, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for i, want := range []string{"load-5", "load-6", "load-7"} {
		got, err := a.UserIDFromAuthHeader("Bearer " + tokens[i])
		if err != nil || got != want {
			t.Fatalf("token %d: expected %s, got %q (%v)", i, want, got, err)
		}
	}
}

func TestWriteTokensCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	if err := writeTokens(path, []string{"a", "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got []string
	if err := sonic.Unmarshal(data, &got); err != nil || len(got) != 2 {
		t.Fatalf("unexpected file %q: %v", data, err)
	}
}
