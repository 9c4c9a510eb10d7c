package payment

import (
	"testing"

	"github.com/ariefcatur/storefront-settlement/internal/config"
	"github.com/ariefcatur/storefront-settlement/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(ProviderFlutterwave,
		NewPaystack(PaystackConfig{SecretKey: "sk"}, nil),
		NewFlutterwave(FlutterwaveConfig{SecretKey: "fk"}, nil),
	)

	g, err := r.Get("paystack")
	require.NoError(t, err)
	assert.Equal(t, ProviderPaystack, g.Name())

	g, err = r.ForMethod(orders.MethodCard)
	require.NoError(t, err)
	assert.Equal(t, ProviderFlutterwave, g.Name())

	_, err = r.Get("stripe")
	require.ErrorIs(t, err, ErrUnknownProvider)
	_, err = r.ForMethod(orders.MethodBankTransfer)
	require.ErrorIs(t, err, ErrUnknownProvider)

	assert.Equal(t, []string{"flutterwave", "paystack"}, r.Names())
}

func TestRegistryFromConfig(t *testing.T) {
	reg := RegistryFromConfig(config.Payment{DefaultProvider: ProviderFlutterwave, FlutterwaveSecretKey: "FLWSECK"}, nil)
	assert.Equal(t, []string{ProviderFlutterwave}, reg.Names())

	g, err := reg.ForMethod(orders.MethodCard)
	require.NoError(t, err)
	assert.Equal(t, ProviderFlutterwave, g.Name())

	_, err = reg.ForMethod(orders.MethodPaystack)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
