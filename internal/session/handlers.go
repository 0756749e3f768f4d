package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelnet-labs/modelnet/internal/license"
	"github.com/modelnet-labs/modelnet/internal/models"
	"github.com/modelnet-labs/modelnet/internal/protocol"
)

// handleAuthentication validates the presented license key and binds the
// snapshot to the connection. Failures reject only this request; the caller
// may retry with another key on the same connection.
func (l *Listener) handleAuthentication(_ context.Context, conn *ClientConnection, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var auth protocol.Authentication
	if err := msg.DecodePayload(&auth); err != nil {
		return nil, protocol.NewError(protocol.CodeValidationError, err.Error())
	}

	info, err := l.validator.Validate(auth.LicenseKey)
	if err != nil {
		if errors.Is(err, license.ErrLicenseExpired) {
			return nil, protocol.NewError(protocol.CodeLicenseExpired, "license has expired")
		}
		return nil, protocol.NewError(protocol.CodeAuthenticationFailed, "license validation failed")
	}

	conn.BindLicense(info)
	l.logger.Info("client authenticated",
		"connection_id", conn.ID,
		"tier", info.Tier.String(),
	)

	payload, err := protocol.PayloadOf(&protocol.AuthenticationAck{
		Authenticated: true,
		Tier:          info.Tier.String(),
		ConnectionID:  conn.ID,
	})
	if err != nil {
		return nil, protocol.NewError(protocol.CodeInternalError, err.Error())
	}
	return protocol.NewMessage(protocol.TypeAuthentication, payload, info), nil
}

// handleInference carries one inference request to the backend. It requires a
// prior successful authentication and a license hash matching the bound
// license; the connection survives every rejection.
func (l *Listener) handleInference(ctx context.Context, conn *ClientConnection, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	bound := conn.License()
	if bound == nil {
		return nil, protocol.NewError(protocol.CodeAuthenticationFailed, "authentication required")
	}
	if msg.Header.LicenseHash == "" {
		return nil, protocol.NewError(protocol.CodeValidationError, "license_hash is required")
	}
	if msg.Header.LicenseHash != protocol.HashKey(bound.Key) {
		return nil, protocol.NewError(protocol.CodeAuthenticationFailed, "license mismatch")
	}
	if bound.Expired() {
		return nil, protocol.NewError(protocol.CodeLicenseExpired, "license has expired")
	}

	var req protocol.InferenceRequest
	if err := msg.DecodePayload(&req); err != nil {
		return nil, protocol.NewError(protocol.CodeValidationError, err.Error())
	}

	if req.ModelID != l.cfg.ModelID {
		return nil, protocol.NewError(protocol.CodeModelNotFound,
			fmt.Sprintf("model %q is not served by this network", req.ModelID))
	}
	if !bound.ModelAllowed(req.ModelID) {
		return nil, protocol.NewError(protocol.CodeModelNotFound,
			fmt.Sprintf("license does not grant model %q", req.ModelID))
	}

	result, err := l.backend.Infer(ctx, &req)
	if err != nil {
		return nil, protocol.NewError(protocol.CodeInternalError, "inference failed")
	}
	result.NetworkID = l.cfg.NetworkID
	result.SessionID = req.SessionID

	payload, err := protocol.PayloadOf(result)
	if err != nil {
		return nil, protocol.NewError(protocol.CodeInternalError, err.Error())
	}
	return protocol.NewMessage(protocol.TypeInferenceResponse, payload, bound), nil
}

// handleHeartbeat refreshes the connection heartbeat and answers with the
// node's current load and available-resource snapshot.
func (l *Listener) handleHeartbeat(_ context.Context, conn *ClientConnection, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	conn.Touch()

	clients := l.ConnectedClients()
	available := 0
	lic := l.validator.CurrentLicense()
	if lic != nil && lic.MaxClients > 0 {
		available = lic.MaxClients - clients
		if available < 0 {
			available = 0
		}
	}

	payload, err := protocol.PayloadOf(&protocol.HeartbeatAck{
		NodeID:         l.opts.NodeID,
		Load:           loadMetric(clients, l.opts.LoadPerClient),
		ConnectedPeers: clients,
		AvailableSlots: available,
	})
	if err != nil {
		return nil, protocol.NewError(protocol.CodeInternalError, err.Error())
	}
	return protocol.NewMessage(protocol.TypeHeartbeat, payload, lic), nil
}

// handleLicenseCheck reports the status of a presented license key without
// binding it to the connection.
func (l *Listener) handleLicenseCheck(_ context.Context, conn *ClientConnection, msg *protocol.Message) (*protocol.Message, *protocol.Error) {
	var check protocol.LicenseCheck
	if err := msg.DecodePayload(&check); err != nil {
		return nil, protocol.NewError(protocol.CodeValidationError, err.Error())
	}

	result := protocol.LicenseCheckResult{Status: models.LicenseStatusInvalid}
	info, err := l.validator.Validate(check.LicenseKey)
	switch {
	case errors.Is(err, license.ErrLicenseExpired):
		result.Status = models.LicenseStatusExpired
	case err == nil:
		result.Status = models.LicenseStatusValid
		result.Tier = info.Tier.String()
	}

	payload, perr := protocol.PayloadOf(&result)
	if perr != nil {
		return nil, protocol.NewError(protocol.CodeInternalError, perr.Error())
	}
	return protocol.NewMessage(protocol.TypeLicenseCheck, payload, conn.License()), nil
}
