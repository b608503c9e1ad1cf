package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

// GatewayClient is the remote payment gateway. Submit returns a receipt on
// definitive success, a *models.DefinitiveGatewayError on rejection, and any
// other error is treated as transient.
type GatewayClient interface {
	Submit(ctx context.Context, req models.SubmitRequest) (models.Receipt, error)
	RateProvider
}

// RateProvider quotes units of pair.Quote per major unit of pair.Base.
type RateProvider interface {
	FetchRate(ctx context.Context, pair models.CurrencyPair) (decimal.Decimal, error)
}

// AddressProvider hands out receive addresses for cryptocurrency deposits.
type AddressProvider interface {
	GenerateAddress(ctx context.Context, c models.Currency) (string, error)
}
