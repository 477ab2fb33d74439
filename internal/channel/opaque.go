package channel

import "github.com/jaydenbeard/mi-e2ee-core/internal/metrics"

// OpaqueClient is the narrow, byte-buffer interface through which the
// core reaches a vetted OPAQUE client library as a black box: two
// rounds (login-start, login-finish) whose only output this package
// cares about is the 32-byte session key. No protocol logic lives on
// this side of the interface — only whichever bound library implements
// it gets to see password material.
type OpaqueClient interface {
	// LoginStart begins the client's side of an OPAQUE login, returning
	// the request to send the server and an opaque state blob to pass
	// back into LoginFinish.
	LoginStart(password []byte) (request []byte, state []byte, err error)

	// LoginFinish consumes the server's login response and the state
	// from LoginStart, returning the final message to send the server
	// and the derived 32-byte session key.
	LoginFinish(userID string, password []byte, state []byte, response []byte) (final []byte, sessionKey [32]byte, err error)
}

// UnavailableOpaqueClient is the default OpaqueClient: every call fails
// closed with ErrOpaqueUnavailable. The core ships no home-rolled
// OPAQUE implementation; a real one must be wired in by the host
// application before AuthModeOpaque can be used.
type UnavailableOpaqueClient struct{}

func (UnavailableOpaqueClient) LoginStart(password []byte) ([]byte, []byte, error) {
	return nil, nil, ErrOpaqueUnavailable
}

func (UnavailableOpaqueClient) LoginFinish(userID string, password []byte, state []byte, response []byte) ([]byte, [32]byte, error) {
	return nil, [32]byte{}, ErrOpaqueUnavailable
}

// NewOpaqueClient returns the default, fail-closed OpaqueClient. Hosts
// that have a real OPAQUE library available should construct their own
// OpaqueClient implementation and pass it to the handshake directly
// instead of calling this.
func NewOpaqueClient() OpaqueClient {
	return UnavailableOpaqueClient{}
}

// RunOpaqueHandshake drives one OPAQUE login to completion against a
// caller-supplied transport round trip function, returning the session
// key client-start/finish produced.
func RunOpaqueHandshake(client OpaqueClient, userID string, password []byte, roundTrip func(request []byte) (response []byte, err error)) (sessionKey [32]byte, final []byte, err error) {
	request, state, err := client.LoginStart(password)
	if err != nil {
		metrics.ChannelHandshakesTotal.WithLabelValues("opaque", "error").Inc()
		return [32]byte{}, nil, err
	}
	response, err := roundTrip(request)
	if err != nil {
		metrics.ChannelHandshakesTotal.WithLabelValues("opaque", "error").Inc()
		return [32]byte{}, nil, err
	}
	final, sessionKey, err = client.LoginFinish(userID, password, state, response)
	if err != nil {
		metrics.ChannelHandshakesTotal.WithLabelValues("opaque", "error").Inc()
		return [32]byte{}, nil, err
	}
	metrics.ChannelHandshakesTotal.WithLabelValues("opaque", "ok").Inc()
	return sessionKey, final, nil
}
