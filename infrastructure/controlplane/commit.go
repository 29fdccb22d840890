package controlplane

import (
	"encoding/json"
	"fmt"
	"time"

	"pqproxy/infrastructure/session"
)

const (
	opCommit    = "commit"
	opCommitted = "committed"

	// CommitTimeout bounds the wait for the peer's committed reply.
	CommitTimeout = 20 * time.Second

	maxControlFrame = 1 << 16
)

// commitMessage is the AEAD-sealed pivot exchange. It travels under the OLD
// epoch keys on the same TCP connection the rekey handshake ran on.
type commitMessage struct {
	Op    string `json:"op"`
	Epoch uint8  `json:"epoch"`
}

func sealCommitMessage(old *session.Epoch, op string, epoch uint8) ([]byte, error) {
	payload, err := json.Marshal(commitMessage{Op: op, Epoch: epoch})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", op, err)
	}
	sealed, err := old.Sender.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("seal %s: %w", op, err)
	}
	return sealed, nil
}

func openCommitMessage(old *session.Epoch, sealed []byte, wantOp string, wantEpoch uint8) error {
	payload, rejection := old.Receiver.Decrypt(sealed)
	if rejection != nil {
		return fmt.Errorf("%s rejected: %v", wantOp, rejection)
	}
	var msg commitMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("parse %s: %w", wantOp, err)
	}
	if msg.Op != wantOp {
		return fmt.Errorf("unexpected op %q, want %q", msg.Op, wantOp)
	}
	if msg.Epoch != wantEpoch {
		return fmt.Errorf("unexpected epoch %d, want %d", msg.Epoch, wantEpoch)
	}
	return nil
}
