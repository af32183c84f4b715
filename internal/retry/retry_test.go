package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-adapter/internal/core"
)

type apiErr struct{ msg string }

func (e apiErr) Error() string { return e.msg }

func TestClassify(t *testing.T) {
	plain := errors.New("connection reset")
	fatal := errors.Join(apiErr{"EQuery:Unknown asset pair"}, core.ErrUnknownAssetPair)
	nonce := errors.Join(apiErr{"Invalid nonce"}, core.ErrInvalidNonce)

	tests := []struct {
		name         string
		err          error
		retryAllowed bool
		want         Kind
		reason       string
	}{
		{"success", nil, false, KindSuccess, ReasonOK},
		{"fatal with retry", fatal, true, KindFatal, ReasonUnknownAssetPair},
		{"fatal without retry", fatal, false, KindFatal, ReasonUnknownAssetPair},
		{"nonce without retry", nonce, false, KindRetry, ReasonInvalidNonce},
		{"nonce with retry", nonce, true, KindRetry, ReasonInvalidNonce},
		{"wrapped nonce", fmt.Errorf("balance: %w", nonce), false, KindRetry, ReasonInvalidNonce},
		{"caller retry", plain, true, KindRetry, ReasonCallerRetry},
		{"caller surface", plain, false, KindSurface, ReasonCallerSurface},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, tt.retryAllowed)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Equal(t, tt.err, got.Err)
		})
	}
}

func TestDefaultPolicyNeverStops(t *testing.T) {
	state := Policy{}.NewState()
	now := time.Unix(1700000000, 0)
	for i := 0; i < 50; i++ {
		d, ok := state.Next(now)
		require.True(t, ok)
		require.Equal(t, DefaultDelay, d)
	}
	assert.Equal(t, 50, state.Attempts())
	assert.Equal(t, now.Add(DefaultDelay), state.NextEligible())
}

func TestCappedPolicyStops(t *testing.T) {
	state := Policy{Delay: time.Second, MaxAttempts: 2}.NewState()
	now := time.Now()

	d, ok := state.Next(now)
	require.True(t, ok)
	assert.Equal(t, time.Second, d)
	_, ok = state.Next(now)
	require.True(t, ok)
	_, ok = state.Next(now)
	assert.False(t, ok)
	assert.Equal(t, 2, state.Attempts())
}

func TestWallClockRunsFunc(t *testing.T) {
	done := make(chan struct{})
	WallClock().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("AfterFunc did not fire")
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "fatal", KindFatal.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
