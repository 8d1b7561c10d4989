// Package service contains the core business logic for freight booking:
// capacity allocation, the booking lifecycle, pricing, and the conversation
// bootstrap that follows a successful payment.
package service

import (
	"math"

	"github.com/nexport/freightd/internal/model"
)

// ─── Rate Configuration ─────────────────────────────────────

// RateConfig holds the pricing parameters.
// In production, these would come from a config file or a rates table.
type RateConfig struct {
	FCLBaseUSD   map[model.ContainerSize]float64  // Flat rate for a full container.
	LCLRateUSD   map[model.TransportMode]float64  // Per-CBM rate for shared space.
	ReeferFactor float64                          // Multiplier for refrigerated containers.
	USDToINR     float64                          // Display-currency conversion.

	// Fallback rates used when a size or transport mode is missing from the
	// tables above. Pricing must never fail for a structurally valid request,
	// so unknown entries price at these documented defaults instead of zero.
	FallbackFCLBaseUSD float64
	FallbackLCLRateUSD float64
}

// DefaultRateConfig returns the standard rate card.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		FCLBaseUSD: map[model.ContainerSize]float64{
			model.Size20ft: 1200,
			model.Size40ft: 1800,
		},
		LCLRateUSD: map[model.TransportMode]float64{
			model.TransportSea:  35,
			model.TransportRoad: 50,
			model.TransportAir:  120,
		},
		ReeferFactor:       1.3,
		USDToINR:           83,
		FallbackFCLBaseUSD: 1200, // price unknown sizes like a 20ft
		FallbackLCLRateUSD: 35,   // price unknown modes like sea freight
	}
}

// ─── Quote ──────────────────────────────────────────────────

// Quote is the result of a price calculation.
type Quote struct {
	PriceINR      int               `json:"price_inr"`
	PriceUSD      float64           `json:"price_usd"`
	BookingMode   model.BookingMode `json:"booking_mode"`
	SuggestedMode model.BookingMode `json:"suggested_mode"`
}

// ─── PricingService ─────────────────────────────────────────

// PricingService computes booking prices. It is a pure calculator: no state,
// no I/O, deterministic for a given input. Safe to call speculatively for
// quote previews without reserving any capacity.
//
// Formula:
//
//	full:    baseUSD[size] × (ReeferFactor if reefer) × USDToINR
//	partial: cbm × perCbmUSD[transport] × USDToINR
type PricingService struct {
	rates RateConfig
}

// NewPricingService creates a pricing service with the given rate card.
func NewPricingService(rates RateConfig) *PricingService {
	return &PricingService{rates: rates}
}

// Price returns the price for a booking in INR (rounded) and USD.
//
// Negative CBM is treated as zero: validation of the request shape is the
// booking flow's job; pricing only guarantees it never errors or panics for
// structurally valid input.
func (s *PricingService) Price(
	mode model.BookingMode,
	size model.ContainerSize,
	ctype model.ContainerType,
	transport model.TransportMode,
	cbm float64,
) Quote {

	var usd float64
	switch mode {
	case model.ModeFull:
		base, ok := s.rates.FCLBaseUSD[size]
		if !ok {
			base = s.rates.FallbackFCLBaseUSD
		}
		usd = base
		if ctype == model.ContainerReefer {
			usd *= s.rates.ReeferFactor
		}
	default: // partial
		rate, ok := s.rates.LCLRateUSD[transport]
		if !ok {
			rate = s.rates.FallbackLCLRateUSD
		}
		usd = math.Max(0, cbm) * rate
	}

	return Quote{
		PriceINR:      int(math.Round(usd * s.rates.USDToINR)),
		PriceUSD:      usd,
		BookingMode:   mode,
		SuggestedMode: SuggestBookingMode(cbm),
	}
}

// SuggestBookingMode recommends full-container booking for large cargo
// volumes and shared space otherwise. Above 18 CBM a 20ft container is
// nearly full anyway, so a full booking is usually cheaper per CBM.
func SuggestBookingMode(cbm float64) model.BookingMode {
	if cbm > 18 {
		return model.ModeFull
	}
	return model.ModePartial
}
