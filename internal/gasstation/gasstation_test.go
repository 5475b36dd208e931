package gasstation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "fast number", body: `{"fast": 35}`, want: "35000000000"},
		{name: "fast string with decimals", body: `{"fast": "35.5"}`, want: "35500000000"},
		{name: "fast object", body: `{"fast": {"maxFee": 42.123456789, "maxPriorityFee": 30}}`, want: "42123456789"},
		{name: "etherscan style", body: `{"status":"1","result":{"FastGasPrice":"12"}}`, want: "12000000000"},
		{name: "sub-wei precision truncates", body: `{"fast": 1.0000000001}`, want: "1000000000"},
		{name: "missing price", body: `{"slow": 3}`, wantErr: true},
		{name: "zero price", body: `{"fast": 0}`, wantErr: true},
		{name: "not json", body: `<html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestClient_GasPriceFallsThroughStations(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer broken.Close()

	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fast": {"maxFee": 51}}`))
	}))
	defer working.Close()

	c := New([]string{broken.URL, working.URL})
	require.True(t, c.Configured())

	price, err := c.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "51000000000", price.String())
}

func TestClient_AllStationsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New([]string{srv.URL}).GasPrice(context.Background())
	assert.Error(t, err)

	_, err = New(nil).GasPrice(context.Background())
	assert.Error(t, err, "Client without stations must fail")
	assert.False(t, New(nil).Configured())
}
