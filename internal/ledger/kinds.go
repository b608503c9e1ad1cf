package ledger

import (
	"context"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

// kindRule carries what differs between entry kinds. The set of kinds is
// closed; adding one means adding a row here.
type kindRule struct {
	// destination resolves where the gateway sends or collects the money.
	destination func(ctx context.Context, l *Ledger, req models.EntryRequest, member models.Member) (string, error)
}

var kindRules = map[models.EntryKind]kindRule{
	models.KindContribution: {destination: contributionDestination},
	models.KindPayout:       {destination: payoutDestination},
}

// Mobile-money contributions are collected from the member's phone unless
// told otherwise; crypto contributions get a fresh deposit address.
func contributionDestination(ctx context.Context, l *Ledger, req models.EntryRequest, member models.Member) (string, error) {
	if req.Destination != "" {
		return mobileMoney(req)
	}
	if req.Currency.IsCrypto() {
		if l.addresses == nil {
			return "", invalid("destination", "no address provider for %s", req.Currency)
		}
		addr, err := l.addresses.GenerateAddress(ctx, req.Currency)
		if err != nil {
			return "", &models.ValidationError{Field: "destination", Reason: "address generation failed", Err: err}
		}
		return addr, nil
	}
	if member.Phone == "" {
		return "", invalid("destination", "member %s has no phone number", member.ID)
	}
	return member.Phone, nil
}

func payoutDestination(_ context.Context, _ *Ledger, req models.EntryRequest, _ models.Member) (string, error) {
	if req.Destination == "" {
		return "", invalid("destination", "payout destination is required")
	}
	return mobileMoney(req)
}

// mobileMoney checks an explicit destination. UGX moves over mobile money
// and needs a phone number; crypto destinations are wallet addresses and
// pass through.
func mobileMoney(req models.EntryRequest) (string, error) {
	if req.Currency.IsCrypto() {
		return req.Destination, nil
	}
	return normalizePhone("destination", req.Destination)
}
