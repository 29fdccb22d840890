package handshake

import (
	"bytes"
	"crypto/rand"
	"net"
	"time"

	"pqproxy/application"
	"pqproxy/infrastructure/cryptography/datagram"
	"pqproxy/infrastructure/cryptography/kdf"
	"pqproxy/infrastructure/cryptography/mem"
	"pqproxy/infrastructure/cryptography/primitives"
	"pqproxy/infrastructure/suite"
	"pqproxy/infrastructure/wire"
)

// confirmPayload is the key-confirmation ping both sides exchange under the
// freshly derived keys at seq 0.
var confirmPayload = []byte("OK")

// Result is a completed handshake: the agreed suite, the shared session
// identifier, and the live Sender/Receiver pair for the negotiated epoch.
// The confirmation ping has already consumed seq 0 on both objects, so they
// are handed to the dataplane as-is; recreating them would reuse nonces.
type Result struct {
	Suite     suite.Descriptor
	SessionID [kdf.SessionIDLen]byte
	Epoch     uint8
	Sender    *datagram.Sender
	Receiver  *datagram.Receiver
}

// Engine drives the PQC handshake over an established TCP connection. The
// initiator (drone) encapsulates to the responder's ephemeral KEM key; the
// responder (GCS) authenticates by signing the transcript with its
// pre-distributed long-term key. One Engine serves both the initial
// handshake and every in-session rekey.
type Engine struct {
	registry       *suite.Registry
	localKeys      *KeyStore
	peerKeys       *KeyStore
	logger         application.Logger
	windowSize     int
	messageTimeout time.Duration
	overallTimeout time.Duration
}

func NewEngine(
	registry *suite.Registry,
	localKeys *KeyStore,
	peerKeys *KeyStore,
	logger application.Logger,
	windowSize int,
) *Engine {
	return &Engine{
		registry:       registry,
		localKeys:      localKeys,
		peerKeys:       peerKeys,
		logger:         logger,
		windowSize:     windowSize,
		messageTimeout: DefaultMessageTimeout,
		overallTimeout: DefaultOverallTimeout,
	}
}

// SetTimeouts overrides the per-message and overall deadlines. Primarily for
// tests; production uses the defaults.
func (e *Engine) SetTimeouts(message, overall time.Duration) {
	e.messageTimeout = message
	e.overallTimeout = overall
}

// Initiate runs the initiator side, offering the given suites. Unusable
// offers are filtered out locally before anything touches the wire.
func (e *Engine) Initiate(conn net.Conn, offeredSuiteIDs []string, epoch uint8) (*Result, error) {
	fc := newFramedConn(conn, e.messageTimeout, e.overallTimeout)
	var transcript Transcript
	defer transcript.Zeroize()

	offered := make([]string, 0, len(offeredSuiteIDs))
	for _, id := range offeredSuiteIDs {
		d, err := e.registry.Get(id)
		if err != nil || !e.registry.Usable(d) {
			continue
		}
		offered = append(offered, d.ID)
	}
	if len(offered) == 0 {
		return nil, failf(FailUnsupportedSuite, "no locally usable suite among %v", offeredSuiteIDs)
	}

	hello := ClientHello{Version: wire.Version, SuiteIDs: offered}
	if _, err := rand.Read(hello.Nonce[:]); err != nil {
		return nil, failf(FailKemFailure, "entropy unavailable: %v", err)
	}
	helloBytes, err := hello.MarshalBinary()
	if err != nil {
		return nil, failf(FailMalformed, "client hello: %v", err)
	}
	if werr := fc.writeFrame(helloBytes); werr != nil {
		return nil, werr
	}
	transcript.Append(helloBytes)

	shFrame, rerr := fc.readFrame()
	if rerr != nil {
		return nil, rerr
	}
	var sh ServerHello
	if err := sh.UnmarshalBinary(shFrame); err != nil {
		return nil, failf(FailMalformed, "server hello: %v", err)
	}
	chosen, err := e.registry.Get(sh.SuiteID)
	if err != nil {
		return nil, failf(FailUnsupportedSuite, "responder chose %q: %v", sh.SuiteID, err)
	}
	if !containsID(offered, chosen.ID) {
		return nil, failf(FailUnsupportedSuite, "responder chose unoffered suite %q", chosen.ID)
	}
	e.logger.Printf("responder selected suite %s", chosen.ID)
	core, err := sh.CoreBytes()
	if err != nil {
		return nil, failf(FailMalformed, "server hello core: %v", err)
	}
	transcript.Append(core)

	peerPub, err := e.peerKeys.PublicKey(chosen)
	if err != nil {
		return nil, failf(FailSignatureInvalid, "peer verification key: %v", err)
	}
	sigScheme, err := primitives.SignatureByName(chosen.SigName)
	if err != nil {
		return nil, failf(FailUnsupportedSuite, "signature mechanism: %v", err)
	}
	if !sigScheme.Verify(peerPub, transcript.SigningData(), sh.Signature, nil) {
		return nil, failf(FailSignatureInvalid, "transcript signature rejected for suite %s", chosen.ID)
	}

	kemScheme, err := primitives.KEMByName(chosen.KEMName)
	if err != nil {
		return nil, failf(FailUnsupportedSuite, "KEM mechanism: %v", err)
	}
	kemPub, err := kemScheme.UnmarshalBinaryPublicKey(sh.KEMPublicKey)
	if err != nil {
		return nil, failf(FailMalformed, "KEM public key: %v", err)
	}
	kemCiphertext, sharedSecret, err := kemScheme.Encapsulate(kemPub)
	if err != nil {
		return nil, failf(FailKemFailure, "encapsulation: %v", err)
	}
	defer mem.ZeroBytes(sharedSecret)

	ckx := ClientKeyExchange{KEMCiphertext: kemCiphertext}
	ckxBytes, err := ckx.MarshalBinary()
	if err != nil {
		return nil, failf(FailMalformed, "key exchange: %v", err)
	}
	if werr := fc.writeFrame(ckxBytes); werr != nil {
		return nil, werr
	}
	transcript.Append(ckxBytes)

	transcriptHash := transcript.Sum()
	return e.finish(fc, chosen, sharedSecret, transcriptHash[:], epoch, true)
}

// Respond runs the responder side: pick the first mutually usable suite,
// sign the transcript, decapsulate, confirm.
func (e *Engine) Respond(conn net.Conn, epoch uint8) (*Result, error) {
	fc := newFramedConn(conn, e.messageTimeout, e.overallTimeout)
	var transcript Transcript
	defer transcript.Zeroize()

	helloFrame, rerr := fc.readFrame()
	if rerr != nil {
		return nil, rerr
	}
	var hello ClientHello
	if err := hello.UnmarshalBinary(helloFrame); err != nil {
		return nil, failf(FailMalformed, "client hello: %v", err)
	}
	if hello.Version != wire.Version {
		return nil, failf(FailMalformed, "client hello version %d", hello.Version)
	}
	transcript.Append(helloFrame)

	var chosen suite.Descriptor
	found := false
	for _, id := range hello.SuiteIDs {
		d, err := e.registry.Get(id)
		if err == nil && e.registry.Usable(d) {
			chosen = d
			found = true
			break
		}
	}
	if !found {
		return nil, failf(FailUnsupportedSuite, "no usable suite among %v", hello.SuiteIDs)
	}
	e.logger.Printf("selected suite %s for epoch %d", chosen.ID, epoch)

	kemScheme, err := primitives.KEMByName(chosen.KEMName)
	if err != nil {
		return nil, failf(FailUnsupportedSuite, "KEM mechanism: %v", err)
	}
	kemPub, kemPriv, err := kemScheme.GenerateKeyPair()
	if err != nil {
		return nil, failf(FailKemFailure, "ephemeral keypair: %v", err)
	}
	kemPubBytes, err := kemPub.MarshalBinary()
	if err != nil {
		return nil, failf(FailKemFailure, "ephemeral public key: %v", err)
	}

	sh := ServerHello{SuiteID: chosen.ID, KEMPublicKey: kemPubBytes}
	if _, err := rand.Read(sh.Nonce[:]); err != nil {
		return nil, failf(FailKemFailure, "entropy unavailable: %v", err)
	}
	core, err := sh.CoreBytes()
	if err != nil {
		return nil, failf(FailMalformed, "server hello core: %v", err)
	}
	transcript.Append(core)

	signingKey, err := e.localKeys.PrivateKey(chosen)
	if err != nil {
		return nil, failf(FailSignatureInvalid, "local signing key: %v", err)
	}
	sigScheme, err := primitives.SignatureByName(chosen.SigName)
	if err != nil {
		return nil, failf(FailUnsupportedSuite, "signature mechanism: %v", err)
	}
	sh.Signature = sigScheme.Sign(signingKey, transcript.SigningData(), nil)

	shBytes, err := sh.MarshalBinary()
	if err != nil {
		return nil, failf(FailMalformed, "server hello: %v", err)
	}
	if werr := fc.writeFrame(shBytes); werr != nil {
		return nil, werr
	}

	ckxFrame, rerr := fc.readFrame()
	if rerr != nil {
		return nil, rerr
	}
	var ckx ClientKeyExchange
	if err := ckx.UnmarshalBinary(ckxFrame); err != nil {
		return nil, failf(FailMalformed, "key exchange: %v", err)
	}
	transcript.Append(ckxFrame)

	// The ephemeral KEM private key is dropped right after decapsulation;
	// the shared secret is wiped once keys are derived.
	sharedSecret, err := kemScheme.Decapsulate(kemPriv, ckx.KEMCiphertext)
	if err != nil {
		return nil, failf(FailKemFailure, "decapsulation: %v", err)
	}
	defer mem.ZeroBytes(sharedSecret)

	transcriptHash := transcript.Sum()
	return e.finish(fc, chosen, sharedSecret, transcriptHash[:], epoch, false)
}

// finish derives epoch keys, builds the datagram pair and runs the mutual
// key confirmation. The initiator seals first; the responder echoes.
func (e *Engine) finish(
	fc *framedConn,
	chosen suite.Descriptor,
	sharedSecret []byte,
	transcriptHash []byte,
	epoch uint8,
	initiator bool,
) (*Result, error) {
	keyLen, err := primitives.AEADKeySize(chosen.AEADToken)
	if err != nil {
		return nil, failf(FailUnsupportedSuite, "AEAD token: %v", err)
	}
	keys, err := kdf.Derive(sharedSecret, transcriptHash, chosen.ID, keyLen)
	if err != nil {
		return nil, failf(FailKemFailure, "key schedule: %v", err)
	}
	defer mem.ZeroBytes(keys.ClientSendKey)
	defer mem.ZeroBytes(keys.ServerSendKey)

	sendKey, recvKey := keys.ClientSendKey, keys.ServerSendKey
	if !initiator {
		sendKey, recvKey = recvKey, sendKey
	}
	sealAEAD, err := primitives.NewAEAD(chosen.AEADToken, sendKey)
	if err != nil {
		return nil, failf(FailUnsupportedSuite, "outbound AEAD: %v", err)
	}
	openAEAD, err := primitives.NewAEAD(chosen.AEADToken, recvKey)
	if err != nil {
		return nil, failf(FailUnsupportedSuite, "inbound AEAD: %v", err)
	}

	template := headerTemplate(chosen, keys.SessionID, epoch)
	sender := datagram.NewSender(sealAEAD, template)
	receiver, err := datagram.NewReceiver(openAEAD, template, e.windowSize)
	if err != nil {
		return nil, failf(FailMalformed, "receiver: %v", err)
	}

	if initiator {
		if err := e.sendConfirm(fc, sender); err != nil {
			return nil, err
		}
		if err := e.receiveConfirm(fc, receiver); err != nil {
			return nil, err
		}
	} else {
		if err := e.receiveConfirm(fc, receiver); err != nil {
			return nil, err
		}
		if err := e.sendConfirm(fc, sender); err != nil {
			return nil, err
		}
	}

	return &Result{
		Suite:     chosen,
		SessionID: keys.SessionID,
		Epoch:     epoch,
		Sender:    sender,
		Receiver:  receiver,
	}, nil
}

func (e *Engine) sendConfirm(fc *framedConn, sender *datagram.Sender) *Error {
	sealed, err := sender.Encrypt(confirmPayload)
	if err != nil {
		return failf(FailKeysMismatch, "sealing confirmation: %v", err)
	}
	return fc.writeFrame(sealed)
}

func (e *Engine) receiveConfirm(fc *framedConn, receiver *datagram.Receiver) *Error {
	frame, rerr := fc.readFrame()
	if rerr != nil {
		return rerr
	}
	plaintext, rejection := receiver.Decrypt(frame)
	if rejection != nil {
		return failf(FailKeysMismatch, "confirmation rejected: %v", rejection)
	}
	if !bytes.Equal(plaintext, confirmPayload) {
		return failf(FailKeysMismatch, "unexpected confirmation payload")
	}
	return nil
}

func headerTemplate(d suite.Descriptor, sessionID [kdf.SessionIDLen]byte, epoch uint8) wire.Header {
	return wire.Header{
		Version:   wire.Version,
		KEMID:     d.KEMID,
		KEMParam:  d.KEMParam,
		SigID:     d.SigID,
		SigParam:  d.SigParam,
		SessionID: sessionID,
		Epoch:     epoch,
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
