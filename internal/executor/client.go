// Package executor implements a typed REST facade over the remote
// instrument-control service. It is the only package that
// speaks HTTP to the instrument API; every verb carries the lock-holder
// identity (the mission name) so the instrument service can arbitrate
// concurrent missions touching the same hardware.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fleetops/missionctl/internal/logging"
)

// Response is the decoded {cmd, value, time, type} body every instrument
// verb returns.
type Response struct {
	Cmd   string      `json:"cmd"`
	Value interface{} `json:"value"`
	Time  float64     `json:"time"`
	Type  string      `json:"type"`
}

// Client is a REST facade over one instrument-control host, scoped to a
// single mission identity.
type Client struct {
	baseURL    string
	missionKey string
	httpClient *http.Client
}

// Config is the subset of internal/config's fields the executor needs.
// RequestTimeout is a hard wall-clock cap on any single outbound call,
// over and above the per-step timeout the instrument service enforces
// server-side; zero means no cap.
type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
}

// New builds a Client addressing http://Host:Port/instrument/api, identifying
// itself to the instrument service as missionKey (the mission's name) for
// lock ownership.
func New(cfg Config, missionKey string) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d/instrument/api", cfg.Host, cfg.Port),
		missionKey: missionKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (c *Client) url(target, verb string) string {
	return strings.Join([]string{c.baseURL, target, verb}, "/")
}

// do issues one request and decodes the {cmd, value, time, type} body. An
// empty body means the command timed out (unless the verb tolerates that);
// a non-JSON body decodes to a Response with all fields null.
func (c *Client) do(ctx context.Context, method, target, verb string, form url.Values, timeoutOK bool) (*Response, error) {
	var body io.Reader
	if method == http.MethodPost && form != nil {
		body = strings.NewReader(form.Encode())
	}
	u := c.url(target, verb)
	if method == http.MethodGet && form != nil {
		u += "?" + form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build instrument request: %w", err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("instrument request %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read instrument response: %w", err)
	}

	if resp.StatusCode == http.StatusConflict {
		return nil, ErrLock
	}

	if len(raw) == 0 {
		if timeoutOK {
			return &Response{}, nil
		}
		return nil, ErrTimeout
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		// Non-JSON body: all fields stay null, no failure raised here.
		return &Response{}, nil
	}
	if out.Type == "DRIVER_ASYNC_EVENT_ERROR" {
		return &out, ErrInstrument
	}
	return &out, nil
}

func timeoutParam(timeout float64) string {
	return strconv.FormatFloat(timeout, 'f', -1, 64)
}

// Execute runs command with kwargs against target, the "execute" verb.
func (c *Client) Execute(ctx context.Context, target string, command string, kwargs map[string]interface{}, timeout float64) (*Response, error) {
	kwargsJSON, err := json.Marshal(kwargs)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal kwargs: %v", ErrCommandArgument, err)
	}
	commandJSON, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal command: %v", ErrCommandArgument, err)
	}
	form := url.Values{
		"command": {string(commandJSON)},
		"kwargs":  {string(kwargsJSON)},
		"timeout": {timeoutParam(timeout)},
		"key":     {c.missionKey},
	}
	return c.do(ctx, http.MethodPost, target, "execute", form, false)
}

// Reset shuts down the target driver. A timeout response is expected and
// not treated as a failure.
func (c *Client) Reset(ctx context.Context, target string, timeout float64) (*Response, error) {
	form := url.Values{"timeout": {timeoutParam(timeout)}, "key": {c.missionKey}}
	return c.do(ctx, http.MethodPost, target, "shutdown", form, true)
}

// Ping checks that target is reachable.
func (c *Client) Ping(ctx context.Context, target string, timeout float64) (*Response, error) {
	form := url.Values{"timeout": {timeoutParam(timeout)}, "key": {c.missionKey}}
	return c.do(ctx, http.MethodPost, target, "ping", form, false)
}

// Discover triggers driver autodiscovery on target.
func (c *Client) Discover(ctx context.Context, target string, timeout float64) (*Response, error) {
	form := url.Values{"timeout": {timeoutParam(timeout)}, "key": {c.missionKey}}
	return c.do(ctx, http.MethodPost, target, "discover", form, false)
}

// GetState fetches the target driver's connection/agent state.
func (c *Client) GetState(ctx context.Context, target string, timeout float64) (*Response, error) {
	form := url.Values{"timeout": {timeoutParam(timeout)}, "key": {c.missionKey}}
	return c.do(ctx, http.MethodGet, target, "state", form, false)
}

// GetResource reads parameter from target.
func (c *Client) GetResource(ctx context.Context, target, parameter string, timeout float64) (*Response, error) {
	paramJSON, err := json.Marshal(parameter)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal parameter: %v", ErrCommandArgument, err)
	}
	form := url.Values{"timeout": {timeoutParam(timeout)}, "resource": {string(paramJSON)}, "key": {c.missionKey}}
	return c.do(ctx, http.MethodGet, target, "resource", form, false)
}

// SetResource writes {parameter: value} to target.
func (c *Client) SetResource(ctx context.Context, target, parameter string, value interface{}, timeout float64) (*Response, error) {
	kwargs := map[string]interface{}{parameter: value}
	kwargsJSON, err := json.Marshal(kwargs)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal resource: %v", ErrCommandArgument, err)
	}
	form := url.Values{"timeout": {timeoutParam(timeout)}, "resource": {string(kwargsJSON)}, "key": {c.missionKey}}
	return c.do(ctx, http.MethodPost, target, "resource", form, false)
}

// Disconnect tears down the driver's connection to target.
func (c *Client) Disconnect(ctx context.Context, target string, timeout float64) (*Response, error) {
	form := url.Values{"timeout": {timeoutParam(timeout)}, "key": {c.missionKey}}
	return c.do(ctx, http.MethodPost, target, "disconnect", form, false)
}

// Connect opens the driver's connection to target.
func (c *Client) Connect(ctx context.Context, target string, timeout float64) (*Response, error) {
	form := url.Values{"timeout": {timeoutParam(timeout)}, "key": {c.missionKey}}
	return c.do(ctx, http.MethodPost, target, "connect", form, false)
}

// SetInitParams pushes startup configuration to target before first connect.
func (c *Client) SetInitParams(ctx context.Context, target string, config map[string]interface{}, timeout float64) (*Response, error) {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal config: %v", ErrCommandArgument, err)
	}
	form := url.Values{"config": {string(configJSON)}, "timeout": {timeoutParam(timeout)}, "key": {c.missionKey}}
	return c.do(ctx, http.MethodPost, target, "initparams", form, false)
}

// Configure applies driver configuration parameters to target.
func (c *Client) Configure(ctx context.Context, target string, config map[string]interface{}, timeout float64) (*Response, error) {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal config: %v", ErrCommandArgument, err)
	}
	form := url.Values{"config": {string(configJSON)}, "timeout": {timeoutParam(timeout)}, "key": {c.missionKey}}
	return c.do(ctx, http.MethodPost, target, "configure", form, false)
}

// Lock acquires the instrument lock on each instrument in turn, in order.
// A 409 response means another mission already holds the lock.
func (c *Client) Lock(ctx context.Context, instruments []string) error {
	for _, instrument := range instruments {
		form := url.Values{"key": {c.missionKey}}
		if _, err := c.do(ctx, http.MethodPost, instrument, "lock", form, false); err != nil {
			return fmt.Errorf("lock %s: %w", instrument, err)
		}
	}
	return nil
}

type lockStatus struct {
	LockedBy string `json:"locked-by"`
}

// Unlock releases the lock on each instrument this mission holds. An
// instrument locked by a different mission is left alone with a warning;
// stealing a lock another mission still depends on is never correct.
func (c *Client) Unlock(ctx context.Context, instruments []string) error {
	for _, instrument := range instruments {
		held, err := c.lockHolder(ctx, instrument)
		if err != nil {
			return fmt.Errorf("query lock holder for %s: %w", instrument, err)
		}
		if held != c.missionKey {
			logging.Op().Warn("unlock: held by another mission",
				"instrument", instrument, "held_by", held, "mission", c.missionKey)
			continue
		}
		form := url.Values{"key": {c.missionKey}}
		if _, err := c.do(ctx, http.MethodPost, instrument, "unlock", form, false); err != nil {
			return fmt.Errorf("unlock %s: %w", instrument, err)
		}
	}
	return nil
}

// lockHolder reads the current holder of an instrument's lock directly,
// bypassing the {cmd,value,time,type} envelope the instrument verbs use.
func (c *Client) lockHolder(ctx context.Context, instrument string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(instrument, "lock"), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var status lockStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", nil
	}
	return status.LockedBy, nil
}
