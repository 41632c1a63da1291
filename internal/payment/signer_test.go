package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	fixtureKey       = "test-checksum-key"
	fixtureOrderCode = "1700000000123"
	fixtureCancelURL = "https://hotel.example.com/payment/cancel?orderCode=1700000000123"
	fixtureReturnURL = "https://hotel.example.com/payment/return?orderCode=1700000000123"
)

func TestSigningString_FixedOrder(t *testing.T) {
	got := SigningString(2_610_000, fixtureCancelURL, "Booking HX7K-2M9Q", fixtureOrderCode, fixtureReturnURL)
	want := "amount=2610000" +
		"&cancelUrl=" + fixtureCancelURL +
		"&description=Booking HX7K-2M9Q" +
		"&orderCode=" + fixtureOrderCode +
		"&returnUrl=" + fixtureReturnURL
	assert.Equal(t, want, got)
}

func TestSignIntent_Fixture(t *testing.T) {
	s := NewSigner(fixtureKey)
	sig := s.SignIntent(2_610_000, fixtureCancelURL, "Booking HX7K-2M9Q", fixtureOrderCode, fixtureReturnURL)
	assert.Equal(t, "09ea46d457357199c353d53766101002a816d5a28905f6c2e452e682a2ce6520", sig)

	again := s.SignIntent(2_610_000, fixtureCancelURL, "Booking HX7K-2M9Q", fixtureOrderCode, fixtureReturnURL)
	assert.Equal(t, sig, again)
	assert.NotEqual(t, sig, NewSigner("other").SignIntent(2_610_000, fixtureCancelURL, "Booking HX7K-2M9Q", fixtureOrderCode, fixtureReturnURL))
}

func TestVerify(t *testing.T) {
	s := NewSigner(fixtureKey)
	body := []byte(`{"code":"00"}`)
	const sig = "6ad0b8ec2a2463e7b750b1f0b856b626d608fd3a41ffcba85388bd26cae9641b"

	assert.Equal(t, sig, s.Sign(body))
	assert.True(t, s.Verify(body, sig))
	assert.True(t, s.Verify(body, " "+sig+"\n"))
	assert.False(t, s.Verify(body, "deadbeef"))
	assert.False(t, s.Verify(body, "not-hex"))
	assert.False(t, s.Verify([]byte(`{"code":"01"}`), sig))
}
