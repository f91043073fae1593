package adapter

import "context"

// Identity is the authenticated principal attached to a live connection.
type Identity struct {
	UserID string
	Role   string
}

// CredentialVerifier validates a presented credential at join time.
// A failed verification must reject only the join attempt, never the
// connection carrying it.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}
