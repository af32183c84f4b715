package core

import "errors"

var (
	// ErrUnknownExchange indicates the configured exchange identifier is not supported.
	ErrUnknownExchange = errors.New("unknown exchange")
	// ErrUnknownAssetPair indicates the exchange does not know the configured market pair.
	ErrUnknownAssetPair = errors.New("unknown asset pair")
	// ErrInvalidNonce indicates the exchange rejected the request nonce.
	ErrInvalidNonce = errors.New("invalid nonce")
	// ErrInvalidOrderType indicates an order side other than buy or sell.
	ErrInvalidOrderType = errors.New("invalid order type")
	// ErrInvalidOrder indicates a non-positive amount or price, before or after rounding.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrMalformedResponse indicates a response body that does not match the expected shape.
	ErrMalformedResponse = errors.New("malformed exchange response")
)
