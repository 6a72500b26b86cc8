package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	rejected := fmt.Errorf("open BTC: %w", &OrderRejectedError{Message: "Insufficient margin"})
	if !errors.Is(rejected, ErrOrderRejected) {
		t.Fatalf("OrderRejectedError must match ErrOrderRejected")
	}
	if IsRetryable(rejected) {
		t.Fatalf("business rejection is not retryable")
	}

	if !IsRetryable(fmt.Errorf("x: %w", ErrRequestTimedOut)) || !IsRetryable(ErrNetworkUnavailable) {
		t.Fatalf("transport errors must be retryable")
	}
	if !IsSilent(fmt.Errorf("sign: %w", ErrUserRejectedSignature)) {
		t.Fatalf("user rejection must be silent")
	}
	if IsSilent(ErrSigningUnavailable) {
		t.Fatalf("unavailable signer must alert")
	}
}

func TestSide(t *testing.T) {
	if !SideLong.IsBuy() || SideShort.IsBuy() {
		t.Fatalf("IsBuy wrong")
	}
	if SideLong.Opposite() != SideShort || SideShort.Opposite() != SideLong {
		t.Fatalf("Opposite wrong")
	}
	if SideShort.Sign().IntPart() != -1 {
		t.Fatalf("Sign wrong")
	}
}
