// Package relay wraps the cloud relay-control API behind a rate-limited,
// retrying client. Errors leaving this package are always redacted.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wattrelay/wattrelay/pkg/common"
	"github.com/wattrelay/wattrelay/pkg/log"
	"github.com/wattrelay/wattrelay/pkg/sanitize"
	"github.com/wattrelay/wattrelay/pkg/storage"
	"github.com/wattrelay/wattrelay/pkg/types"
)

const (
	maxAttempts = 5
	maxBackoff  = 30 * time.Second
)

// Status is the observed state of a relay channel.
type Status struct {
	Online bool
	Output bool
}

// Result reports the outcome of a control command. Blocked means the global
// write-block debug setting suppressed the call before any network activity.
type Result struct {
	Blocked bool
}

// Client is the interface to the cloud relay API.
type Client interface {
	Status(ctx context.Context, device types.Device) (Status, error)
	SetOutput(ctx context.Context, device types.Device, on bool) (Result, error)
}

// HTTPClient implements Client against a Shelly-cloud-style HTTP API.
type HTTPClient struct {
	client  *http.Client
	db      storage.Database
	limiter *Limiter

	// initial 429 backoff, doubled per attempt; overridden in tests
	retryBase time.Duration
}

var _ Client = (*HTTPClient)(nil)

// New returns an HTTPClient using the given limiter. The storage handle is
// used to read the write-block debug setting fresh on every control call.
func New(db storage.Database, limiter *Limiter) *HTTPClient {
	return &HTTPClient{
		client:    common.HTTPClient(5 * time.Second),
		db:        db,
		limiter:   limiter,
		retryBase: time.Second,
	}
}

type statusResponse struct {
	IsOK bool `json:"isok"`
	Data struct {
		Online       bool                       `json:"online"`
		DeviceStatus map[string]json.RawMessage `json:"device_status"`
	} `json:"data"`
}

type switchStatus struct {
	Output bool `json:"output"`
}

// Status queries the live state of the device's relay channel.
func (c *HTTPClient) Status(ctx context.Context, device types.Device) (Status, error) {
	params := url.Values{}
	params.Set("id", device.CloudDeviceID)
	params.Set("auth_key", device.AuthKey)

	body, err := c.doRequest(ctx, device, "GET", "device/status", params, nil)
	if err != nil {
		return Status{}, err
	}

	var res statusResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return Status{}, fmt.Errorf("failed to decode status response: %w", err)
	}

	raw, ok := res.Data.DeviceStatus[fmt.Sprintf("switch:%d", device.RelayChannel)]
	if !ok {
		return Status{}, fmt.Errorf("status response missing channel %d", device.RelayChannel)
	}
	var sw switchStatus
	if err := json.Unmarshal(raw, &sw); err != nil {
		return Status{}, fmt.Errorf("failed to decode switch status: %w", err)
	}

	return Status{
		Online: res.Data.Online,
		Output: sw.Output,
	}, nil
}

// SetOutput turns the device's relay channel on or off. The write-block
// debug setting short-circuits before the limiter and before any network
// call.
func (c *HTTPClient) SetOutput(ctx context.Context, device types.Device, on bool) (Result, error) {
	blocked, err := c.db.GetSetting(ctx, types.SettingBlockRelayWrites, types.SettingBlockRelayWritesDefault)
	if err != nil {
		return Result{}, sanitizedError("failed to read write-block setting", err)
	}
	if blocked == "1" {
		log.Ctx(ctx).InfoContext(ctx, "relay write blocked by debug setting",
			slog.String("deviceID", device.ID))
		return Result{Blocked: true}, nil
	}

	turn := "off"
	if on {
		turn = "on"
	}

	params := url.Values{}
	params.Set("id", device.CloudDeviceID)
	params.Set("auth_key", device.AuthKey)

	form := url.Values{}
	form.Set("turn", turn)
	form.Set("channel", fmt.Sprint(device.RelayChannel))

	if _, err := c.doRequest(ctx, device, "POST", "device/relay/control", params, form); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

// doRequest performs one rate-limited request, retrying on 429 with bounded
// exponential backoff. The returned error never contains credentials.
func (c *HTTPClient) doRequest(ctx context.Context, device types.Device, method, endpoint string, params, form url.Values) ([]byte, error) {
	u, err := url.Parse(device.Server)
	if err != nil {
		return nil, fmt.Errorf("invalid server url for device %s: %w", device.ID, err)
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %s: %w", endpoint, err)
	}
	u.RawQuery = params.Encode()

	backoff := c.retryBase
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx, device.CredentialKey()); err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if form != nil {
			reqBody = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
		if err != nil {
			return nil, sanitizedError("failed to create request", err)
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, sanitizedError("relay request failed", err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt == maxAttempts {
				return nil, fmt.Errorf("relay api rate limited after %d attempts", attempt)
			}
			log.Ctx(ctx).WarnContext(ctx, "relay api rate limited, backing off",
				slog.String("deviceID", device.ID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("relay api status %d", resp.StatusCode)
		}
		if readErr != nil {
			return nil, sanitizedError("failed to read relay response", readErr)
		}
		return body, nil
	}
	return nil, errors.New("relay request retries exhausted")
}

func sanitizedError(msg string, err error) error {
	return fmt.Errorf("%s: %s", msg, sanitize.Error(err))
}
