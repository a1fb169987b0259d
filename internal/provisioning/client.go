package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/CovCube/server/internal/cube"
)

// DefaultTimeout bounds a device request when none is configured.
const DefaultTimeout = 10 * time.Second

// ConfigureRequest is the handshake body sent to a new cube.
type ConfigureRequest struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	UUID     string `json:"uuid"`
	Location string `json:"location"`
	Token    string `json:"token"`
}

// ConfigureResponse is the capability list a cube answers with.
type ConfigureResponse struct {
	Sensors   []cube.SensorAssignment `json:"sensors"`
	Actuators []string                `json:"actuators"`
	Token     string                  `json:"token,omitempty"`
}

// DeviceClient talks to the HTTP endpoint of a cube. It implements
// cube.DeviceNotifier for post-update notifications.
type DeviceClient struct {
	http *resty.Client
}

// NewDeviceClient creates a client whose requests are bounded by timeout.
func NewDeviceClient(timeout time.Duration) *DeviceClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DeviceClient{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
}

// Configure performs the provisioning handshake with the cube at ip.
func (c *DeviceClient) Configure(ctx context.Context, ip string, req ConfigureRequest) (*ConfigureResponse, error) {
	var resp ConfigureResponse
	if err := c.post(ctx, ip, "/", req, &resp, "configure"); err != nil {
		return nil, err
	}
	if resp.Sensors == nil || resp.Actuators == nil {
		return nil, &DeviceCommunicationError{Addr: ip, Op: "decode response",
			Err: errors.New("sensors and actuators are required")}
	}
	return &resp, nil
}

// NotifyScanInterval tells the cube at ip to sample sensorType every
// interval seconds.
func (c *DeviceClient) NotifyScanInterval(ctx context.Context, ip, sensorType string, interval int) error {
	body := map[string]map[string]int{
		sensorType: {"scanInterval": interval},
	}
	return c.post(ctx, ip, "/sensor", body, nil, "notify scan interval")
}

// NotifyLocation tells the cube at ip its new location.
func (c *DeviceClient) NotifyLocation(ctx context.Context, ip, location string) error {
	return c.post(ctx, ip, "/", map[string]string{"location": location}, nil, "notify location")
}

// post sends body to the cube and, when result is set, decodes a 2xx reply
// into it. Cubes do not always label their replies, so the body is read
// as JSON regardless of its content type.
func (c *DeviceClient) post(ctx context.Context, ip, path string, body, result any, op string) error {
	ip = strings.TrimSpace(ip)
	req := c.http.R().
		SetContext(ctx).
		SetBody(body)
	if result != nil {
		req.SetResult(result).ForceContentType("application/json")
	}

	resp, err := req.Post("http://" + ip + path)
	if err != nil {
		// A successful status with an error means the reply did not decode.
		if resp != nil && resp.IsSuccess() {
			return &DeviceCommunicationError{Addr: ip, Op: "decode response", Err: err}
		}
		return &DeviceCommunicationError{Addr: ip, Op: op, Err: err}
	}
	if !resp.IsSuccess() {
		return &DeviceCommunicationError{Addr: ip, Op: op,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}
	return nil
}
