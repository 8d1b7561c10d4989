package service

import (
	"testing"

	"github.com/nexport/freightd/internal/model"
)

func TestPrice_FullContainer(t *testing.T) {
	svc := NewPricingService(DefaultRateConfig())

	cases := []struct {
		name    string
		size    model.ContainerSize
		ctype   model.ContainerType
		wantINR int
	}{
		{"20ft dry", model.Size20ft, model.ContainerDry, 1200 * 83},
		{"40ft dry", model.Size40ft, model.ContainerDry, 1800 * 83},
		{"20ft reefer", model.Size20ft, model.ContainerReefer, int(1200 * 1.3 * 83)},
		{"40ft reefer", model.Size40ft, model.ContainerReefer, int(1800 * 1.3 * 83)},
	}
	for _, tc := range cases {
		got := svc.Price(model.ModeFull, tc.size, tc.ctype, model.TransportSea, 0)
		if got.PriceINR != tc.wantINR {
			t.Errorf("%s: PriceINR = %d, want %d", tc.name, got.PriceINR, tc.wantINR)
		}
	}
}

func TestPrice_PartialPerCBM(t *testing.T) {
	svc := NewPricingService(DefaultRateConfig())

	cases := []struct {
		name      string
		transport model.TransportMode
		cbm       float64
		wantINR   int
	}{
		{"sea 10 CBM", model.TransportSea, 10, 10 * 35 * 83},
		{"road 10 CBM", model.TransportRoad, 10, 10 * 50 * 83},
		{"air 2 CBM", model.TransportAir, 2, 2 * 120 * 83},
		{"sea fractional", model.TransportSea, 2.5, 7263}, // 2.5*35*83 = 7262.5, rounds up
	}
	for _, tc := range cases {
		got := svc.Price(model.ModePartial, model.Size20ft, model.ContainerDry, tc.transport, tc.cbm)
		if got.PriceINR != tc.wantINR {
			t.Errorf("%s: PriceINR = %d, want %d", tc.name, got.PriceINR, tc.wantINR)
		}
	}
}

func TestPrice_ReeferOnlyAffectsFullBookings(t *testing.T) {
	svc := NewPricingService(DefaultRateConfig())

	dry := svc.Price(model.ModePartial, model.Size20ft, model.ContainerDry, model.TransportSea, 10)
	reefer := svc.Price(model.ModePartial, model.Size20ft, model.ContainerReefer, model.TransportSea, 10)
	if dry.PriceINR != reefer.PriceINR {
		t.Errorf("partial pricing: reefer = %d, dry = %d; the reefer factor applies to full bookings only",
			reefer.PriceINR, dry.PriceINR)
	}
}

func TestPrice_FallbackRates(t *testing.T) {
	svc := NewPricingService(DefaultRateConfig())

	// Unknown size prices like a 20ft instead of erroring or pricing at zero.
	full := svc.Price(model.ModeFull, "45ft", model.ContainerDry, model.TransportSea, 0)
	if full.PriceINR != 1200*83 {
		t.Errorf("unknown size: PriceINR = %d, want fallback %d", full.PriceINR, 1200*83)
	}

	// Unknown transport mode prices like sea freight.
	partial := svc.Price(model.ModePartial, model.Size20ft, model.ContainerDry, "rail", 10)
	if partial.PriceINR != 10*35*83 {
		t.Errorf("unknown mode: PriceINR = %d, want fallback %d", partial.PriceINR, 10*35*83)
	}
}

func TestPrice_NegativeCBMTreatedAsZero(t *testing.T) {
	svc := NewPricingService(DefaultRateConfig())

	got := svc.Price(model.ModePartial, model.Size20ft, model.ContainerDry, model.TransportSea, -4)
	if got.PriceINR != 0 {
		t.Errorf("negative CBM: PriceINR = %d, want 0", got.PriceINR)
	}
}

func TestPrice_Deterministic(t *testing.T) {
	svc := NewPricingService(DefaultRateConfig())

	first := svc.Price(model.ModePartial, model.Size40ft, model.ContainerDry, model.TransportAir, 7.3)
	for i := 0; i < 5; i++ {
		again := svc.Price(model.ModePartial, model.Size40ft, model.ContainerDry, model.TransportAir, 7.3)
		if again != first {
			t.Fatalf("pricing not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestSuggestBookingMode(t *testing.T) {
	cases := []struct {
		cbm  float64
		want model.BookingMode
	}{
		{5, model.ModePartial},
		{18, model.ModePartial},
		{18.1, model.ModeFull},
		{30, model.ModeFull},
	}
	for _, tc := range cases {
		if got := SuggestBookingMode(tc.cbm); got != tc.want {
			t.Errorf("SuggestBookingMode(%v) = %s, want %s", tc.cbm, got, tc.want)
		}
	}
}
