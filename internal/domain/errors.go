package domain

import "errors"

var (
	// ErrListingNotFound means the listing index has never been assigned.
	ErrListingNotFound = errors.New("listing not found")

	// ErrInvalidPrice rejects a zero or negative listing price.
	ErrInvalidPrice = errors.New("price must be greater than zero")

	// ErrWrongPayment rejects a purchase whose payment does not exactly
	// match the listing price.
	ErrWrongPayment = errors.New("payment does not match listing price")

	// ErrNotSeller rejects a mutation by anyone other than the listing's
	// recorded seller.
	ErrNotSeller = errors.New("caller is not the listing seller")

	// ErrAlreadyFinalized rejects operations on a sold or cancelled listing.
	ErrAlreadyFinalized = errors.New("listing already finalized")

	// ErrNotOwner rejects a listing attempt by a caller that does not
	// currently own the asset.
	ErrNotOwner = errors.New("caller does not own the asset")

	// ErrAssetListed rejects a second active listing for the same asset.
	ErrAssetListed = errors.New("asset already has an active listing")

	// ErrNotApproved means the marketplace lacks transfer approval for the
	// asset at settlement time.
	ErrNotApproved = errors.New("marketplace not approved to transfer asset")

	// ErrInsufficientFunds means the buyer cannot cover the payment.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBadSignature means a request signature did not recover to the
	// claimed caller address.
	ErrBadSignature = errors.New("signature does not match caller")

	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)
