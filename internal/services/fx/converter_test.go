package fx

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	resp ratesResponse
	err  error
}

func (s *stubSource) GetJSON(_ context.Context, _ string, _ map[string]string, dest interface{}) error {
	if s.err != nil {
		return s.err
	}
	*(dest.(*ratesResponse)) = s.resp
	return nil
}

func TestConvert(t *testing.T) {
	c, err := NewConverter("PHP", map[string]string{"USD": "56.10", "sgd": "41.5"})
	require.NoError(t, err)

	testData := map[string]struct {
		amount   string
		currency string
		want     string
		wantErr  error
	}{
		"base passes through": {amount: "1999.99", currency: "PHP", want: "1999.99"},
		"usd":                 {amount: "35.50", currency: "USD", want: "1991.55"},
		"lowercase key":       {amount: "10", currency: "SGD", want: "415"},
		"unknown":             {amount: "1", currency: "EUR", wantErr: ErrUnknownCurrency},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			got, err := c.Convert(decimal.RequireFromString(td.amount), td.currency)
			if td.wantErr != nil {
				assert.ErrorIs(t, err, td.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(td.want).Equal(got), got.String())
		})
	}
}

func TestNewConverterRejectsBadRates(t *testing.T) {
	_, err := NewConverter("PHP", map[string]string{"USD": "0"})
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = NewConverter("PHP", map[string]string{"USD": "abc"})
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	src := &stubSource{resp: ratesResponse{
		Base:  "PHP",
		Rates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("61.2")},
	}}
	c, err := NewConverter("PHP", map[string]string{"USD": "56"}, WithRemoteRates(src, "http://rates"))
	require.NoError(t, err)

	require.NoError(t, c.Refresh(context.Background()))
	assert.True(t, c.Supports("EUR"))
	assert.False(t, c.Supports("USD"))
	assert.True(t, c.Supports("PHP"))

	src.err = errors.New("down")
	assert.Error(t, c.Refresh(context.Background()))
	assert.True(t, c.Supports("EUR"))

	src.err = nil
	src.resp.Base = "USD"
	assert.Error(t, c.Refresh(context.Background()))
}
