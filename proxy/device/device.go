// Package device implements the account-scoped device-management facade: listing, removing,
// and rotating WireGuard keys for devices attached to an account.
package device

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mullvad/api-core/accesstoken"
	"github.com/mullvad/api-core/proxy"
	"github.com/mullvad/api-core/restop"
)

const pathPrefix = "/accounts/v1/devices"

// ErrPubkeyInUse is returned when the server rejects a CreateWireguardKey call because the
// supplied public key is already registered to another device.
var ErrPubkeyInUse = &restop.RestError{Kind: restop.KindServer, Server: &restop.ServerError{Code: "PUBKEY_IN_USE"}}

// ErrMaxDevicesReached is returned when the account has already reached its device limit.
var ErrMaxDevicesReached = &restop.RestError{Kind: restop.KindServer, Server: &restop.ServerError{Code: "MAX_DEVICES_REACHED"}}

// Device is one device registered to an account.
type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Pubkey      string `json:"pubkey"`
	IPv4Address string `json:"ipv4_address"`
	IPv6Address string `json:"ipv6_address"`
}

// Facade wraps proxy.Facade with the device-management service's typed methods.
type Facade struct {
	base *proxy.Facade
}

// New constructs a device Facade bound to engine and tokens.
func New(hostname string, engine *restop.Engine, tokens *accesstoken.Manager, opts ...proxy.Option) *Facade {
	return &Facade{base: proxy.New(hostname, pathPrefix, engine, tokens, opts...)}
}

// ListDevices returns every device registered to accountID.
func (f *Facade) ListDevices(ctx context.Context, accountID string, retry restop.RetryStrategy) *restop.Operation[[]Device] {
	spec := proxy.RequestSpec{Method: http.MethodGet, Path: ""}
	return proxy.AddOperation(f.base, ctx, "list-devices", spec, proxy.WithBearerToken(accountID), decodeDeviceList, retry)
}

// RemoveDevice deletes one device by ID from accountID.
func (f *Facade) RemoveDevice(ctx context.Context, accountID, deviceID string, retry restop.RetryStrategy) *restop.Operation[struct{}] {
	spec := proxy.RequestSpec{Method: http.MethodDelete, Path: "/" + deviceID}
	return proxy.AddOperation(f.base, ctx, "remove-device", spec, proxy.WithBearerToken(accountID), decodeEmpty, retry)
}

type createKeyRequest struct {
	Pubkey string `json:"pubkey"`
}

// CreateWireguardKey registers a new WireGuard public key for accountID, returning the created
// device. Known server rejection codes are mapped to ErrPubkeyInUse / ErrMaxDevicesReached.
func (f *Facade) CreateWireguardKey(ctx context.Context, accountID, pubkey string, retry restop.RetryStrategy) *restop.Operation[Device] {
	spec := proxy.RequestSpec{Method: http.MethodPost, Path: "", Body: createKeyRequest{Pubkey: pubkey}}
	return proxy.AddOperation(f.base, ctx, "create-wireguard-key", spec, proxy.WithBearerToken(accountID), decodeDevice, retry)
}

func decodeDeviceList(status int, header http.Header, body []byte) ([]Device, error) {
	if status >= 200 && status < 300 {
		var devices []Device
		if err := json.Unmarshal(body, &devices); err != nil {
			return nil, &restop.RestError{Kind: restop.KindDecodeSuccessResponse, Cause: err, Status: status}
		}
		return devices, nil
	}
	return nil, decodeErrorStatus(status, body)
}

func decodeDevice(status int, header http.Header, body []byte) (Device, error) {
	if status >= 200 && status < 300 {
		var dev Device
		if err := json.Unmarshal(body, &dev); err != nil {
			return Device{}, &restop.RestError{Kind: restop.KindDecodeSuccessResponse, Cause: err, Status: status}
		}
		return dev, nil
	}
	return Device{}, decodeErrorStatus(status, body)
}

func decodeEmpty(status int, header http.Header, body []byte) (struct{}, error) {
	if status >= 200 && status < 300 {
		return struct{}{}, nil
	}
	return struct{}{}, decodeErrorStatus(status, body)
}

func decodeErrorStatus(status int, body []byte) error {
	serverErr, err := proxy.DecodeServerError(body)
	if err != nil {
		return &restop.RestError{Kind: restop.KindDecodeErrorResponse, Cause: err, Status: status}
	}
	switch serverErr.Code {
	case "PUBKEY_IN_USE":
		return ErrPubkeyInUse
	case "MAX_DEVICES_REACHED":
		return ErrMaxDevicesReached
	}
	return &restop.RestError{Kind: restop.KindUnhandledResponse, Status: status, Server: serverErr}
}
