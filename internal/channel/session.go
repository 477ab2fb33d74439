package channel

import (
	"fmt"

	"github.com/jaydenbeard/mi-e2ee-core/internal/corecrypto"
	"github.com/jaydenbeard/mi-e2ee-core/internal/transport"
)

const infoSessionKeys = "mi_e2ee_channel_session_keys_v1"

// DeriveSessionKeys expands a handshake secret into the four pieces of
// per-direction key material, with an HKDF info string that binds the
// username, the server-issued session token, and the transport kind —
// so a session key is useless if replayed against a different user,
// session, or transport.
func DeriveSessionKeys(secret []byte, username string, sessionToken []byte, kind transport.Kind) (SessionKeys, error) {
	info := make([]byte, 0, len(infoSessionKeys)+len(username)+len(sessionToken)+1)
	info = append(info, []byte(infoSessionKeys)...)
	info = append(info, []byte(username)...)
	info = append(info, sessionToken...)
	info = append(info, byte(kind))

	const total = 32 + 32 + 24 + 24
	out, err := corecrypto.HKDF(secret, nil, info, total)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("channel: derive session keys: %w", err)
	}

	var keys SessionKeys
	copy(keys.SendKey[:], out[0:32])
	copy(keys.RecvKey[:], out[32:64])
	copy(keys.SendNonceBase[:], out[64:88])
	copy(keys.RecvNonceBase[:], out[88:112])
	corecrypto.Zero(out)
	return keys, nil
}
