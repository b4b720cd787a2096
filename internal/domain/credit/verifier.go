package credit

import (
	"context"
	"strings"
)

// ReceiptVerifier checks a store receipt with the platform that issued it.
type ReceiptVerifier interface {
	Verify(ctx context.Context, receipt string, platform Platform) (bool, error)
}

// StubVerifier returns a fixed verdict without calling any store. It stands
// in until the App Store / Play integrations exist.
type StubVerifier struct {
	Accept bool
}

// NewVerifier builds the verifier selected by configuration:
// "stub_accept" (default) or "stub_reject".
func NewVerifier(mode string) ReceiptVerifier {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "stub_reject":
		return StubVerifier{Accept: false}
	default:
		return StubVerifier{Accept: true}
	}
}

func (v StubVerifier) Verify(ctx context.Context, receipt string, platform Platform) (bool, error) {
	if strings.TrimSpace(receipt) == "" {
		return false, nil
	}
	return v.Accept, nil
}
