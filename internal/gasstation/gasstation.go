// Package gasstation reads gas prices from HTTP gas-station services, which
// some chains expose as a better signal than eth_gasPrice.
package gasstation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Client queries a list of gas stations in order.
type Client struct {
	http *retryablehttp.Client
	urls []string
}

// New creates a client for the given station URLs.
func New(urls []string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = time.Second
	c.Logger = nil
	return &Client{http: c, urls: urls}
}

// Configured reports whether any station is set.
func (c *Client) Configured() bool {
	return c != nil && len(c.urls) > 0
}

// GasPrice returns the first price any station reports, in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if !c.Configured() {
		return nil, errors.New("no gas stations configured")
	}

	var errs []error
	for _, u := range c.urls {
		price, err := c.fetch(ctx, u)
		if err == nil {
			return price, nil
		}
		logrus.WithField("station", u).Warnf("Gas station query failed: %v", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all gas stations failed: %w", errors.Join(errs...))
}

func (c *Client) fetch(ctx context.Context, u string) (*big.Int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return ParseResponse(body)
}

type stationResponse struct {
	Fast   json.RawMessage `json:"fast"`
	Result *struct {
		FastGasPrice string `json:"FastGasPrice"`
	} `json:"result"`
}

// ParseResponse extracts the fast gas price from a station payload. Prices are
// given in gwei and may carry decimals.
func ParseResponse(body []byte) (*big.Int, error) {
	var resp stationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid gas station response: %w", err)
	}

	var gwei string
	switch {
	case len(resp.Fast) > 0 && bytes.HasPrefix(bytes.TrimSpace(resp.Fast), []byte("{")):
		var fast struct {
			MaxFee json.Number `json:"maxFee"`
		}
		if err := json.Unmarshal(resp.Fast, &fast); err != nil {
			return nil, fmt.Errorf("invalid fast entry: %w", err)
		}
		gwei = fast.MaxFee.String()
	case len(resp.Fast) > 0:
		gwei = strings.Trim(string(bytes.TrimSpace(resp.Fast)), `"`)
	case resp.Result != nil:
		gwei = resp.Result.FastGasPrice
	default:
		return nil, errors.New("gas station response has no fast price")
	}

	return gweiToWei(gwei)
}

func gweiToWei(gwei string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(gwei))
	if err != nil {
		return nil, fmt.Errorf("invalid gwei amount %q: %w", gwei, err)
	}
	wei := d.Shift(9).BigInt()
	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive gas price %q", gwei)
	}
	return wei, nil
}
