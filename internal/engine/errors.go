package engine

import "errors"

var (
	// ErrConfig marks invalid engine configuration or input. It is fatal and
	// raised before any simulation happens.
	ErrConfig = errors.New("engine: invalid configuration")

	// ErrEmptyWindow is returned when no asset has a defined performance over
	// a lookback window.
	ErrEmptyWindow = errors.New("engine: no asset has prices in the lookback window")

	// ErrNoForwardPrices is returned when none of the selected assets can be
	// priced at both ends of a holding period.
	ErrNoForwardPrices = errors.New("engine: no forward prices for selected assets")

	// ErrInvalidSelection is returned when a selector yields out-of-range,
	// duplicated or too many assets.
	ErrInvalidSelection = errors.New("engine: invalid selection")
)
