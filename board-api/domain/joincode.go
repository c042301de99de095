package domain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

const joinCodeAttempts = 5

// newJoinCode returns six lowercase hex characters.
func newJoinCode() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// uniqueJoinCode draws codes until one is unused or the attempts run out, in
// which case the last draw is returned and the store's unique index has the
// final say.
func uniqueJoinCode(ctx context.Context, projects ProjectStore) (string, error) {
	code, err := newJoinCode()
	if err != nil {
		return "", err
	}
	for i := 0; i < joinCodeAttempts; i++ {
		p, err := projects.FindByJoinCode(ctx, code)
		if err != nil {
			return "", err
		}
		if p == nil {
			return code, nil
		}
		if code, err = newJoinCode(); err != nil {
			return "", err
		}
	}
	return code, nil
}
