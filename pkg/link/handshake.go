package link

// handshake.go implements the hybrid key exchange that opens a link.
//
//	Client                                 Backend
//	    |                                      |
//	    | -------- ClientHello --------------> |
//	    |   - version, random                  |
//	    |   - X25519 || ML-KEM-1024 public key |
//	    |                                      |
//	    | <------- ServerHello --------------- |
//	    |   - version, random                  |
//	    |   - X25519 ephemeral || ML-KEM ct    |
//	    |                                      |
//	    |   [Both derive directional keys]     |
//
// The KEM context binds the protocol identifier, the full ClientHello, and
// the server random, so a ServerHello cannot be replayed against another
// ClientHello. The first record each side opens confirms the keys.

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/crypto"
	"github.com/pzverkov/quantum-auth/pkg/protocol"
)

// keys holds the two directional record ciphers of one endpoint.
type keys struct {
	seal *crypto.RecordCipher
	open *crypto.RecordCipher
}

func kemContext(clientHello, serverRandom []byte) []byte {
	return crypto.TranscriptHash([]byte(protocol.ProtocolID), clientHello, serverRandom)
}

func newKeys(master []byte, client bool) (*keys, error) {
	defer crypto.Zeroize(master)
	clientKey, serverKey, err := crypto.DeriveLinkKeys(master)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroizeMultiple(clientKey, serverKey)

	sealKey, openKey := clientKey, serverKey
	if !client {
		sealKey, openKey = serverKey, clientKey
	}
	seal, err := crypto.NewRecordCipher(sealKey)
	if err != nil {
		return nil, err
	}
	open, err := crypto.NewRecordCipher(openKey)
	if err != nil {
		return nil, err
	}
	return &keys{seal: seal, open: open}, nil
}

// clientHandshake runs the client side over rw.
func clientHandshake(rw io.ReadWriter, codec *protocol.Codec) (*keys, error) {
	kp, err := crypto.GenerateHybridKeyPair()
	if err != nil {
		return nil, err
	}
	defer kp.Zeroize()

	random, err := crypto.SecureRandomBytes(constants.LinkRandomSize)
	if err != nil {
		return nil, err
	}
	hello, err := codec.EncodeClientHello(&protocol.ClientHello{
		Version:   protocol.Current,
		Random:    random,
		PublicKey: kp.PublicKey().Bytes(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := rw.Write(hello); err != nil {
		return nil, err
	}

	msg, err := codec.ReadMessage(rw)
	if err != nil {
		return nil, err
	}
	if mt, _ := codec.GetMessageType(msg); mt == protocol.MessageTypeAlert {
		level, code, desc, err := codec.DecodeAlert(msg)
		if err != nil {
			return nil, err
		}
		return nil, &protocol.AlertMessage{Level: level, Code: code, Description: desc}
	}
	sh, err := codec.DecodeServerHello(msg)
	if err != nil {
		return nil, err
	}

	master, err := crypto.HybridDecapsulate(kp, sh.Ciphertext, kemContext(hello, sh.Random))
	if err != nil {
		return nil, err
	}
	return newKeys(master, true)
}

// serverHandshake runs the backend side over rw. On a malformed or
// incompatible ClientHello it sends a fatal alert before failing.
func serverHandshake(rw io.ReadWriter, codec *protocol.Codec) (*keys, error) {
	hello, err := codec.ReadMessage(rw)
	if err != nil {
		return nil, err
	}
	ch, err := codec.DecodeClientHello(hello)
	if err != nil {
		return nil, rejectHandshake(rw, codec, err)
	}
	pk, err := crypto.ParseHybridPublicKey(ch.PublicKey)
	if err != nil {
		return nil, rejectHandshake(rw, codec, err)
	}

	random, err := crypto.SecureRandomBytes(constants.LinkRandomSize)
	if err != nil {
		return nil, err
	}
	ct, master, err := crypto.HybridEncapsulate(pk, kemContext(hello, random))
	if err != nil {
		return nil, rejectHandshake(rw, codec, err)
	}
	reply, err := codec.EncodeServerHello(&protocol.ServerHello{
		Version:    protocol.Current,
		Random:     random,
		Ciphertext: ct,
	})
	if err != nil {
		crypto.Zeroize(master)
		return nil, err
	}
	if _, err := rw.Write(reply); err != nil {
		crypto.Zeroize(master)
		return nil, err
	}
	return newKeys(master, false)
}

func rejectHandshake(w io.Writer, codec *protocol.Codec, cause error) error {
	code := protocol.AlertCodeHandshakeFailure
	if qerrors.Is(cause, qerrors.ErrUnsupportedVersion) {
		code = protocol.AlertCodeUnsupportedVersion
	}
	_, _ = w.Write(codec.EncodeAlert(protocol.AlertLevelFatal, code, cause.Error()))
	return fmt.Errorf("%w: %w", qerrors.ErrHandshakeFailed, cause)
}

// Reject answers a connection that will not be served, for example one
// refused by a connection limit, with a fatal alert. The client's hello is
// read first so closing the connection does not discard the alert.
func Reject(nc net.Conn, cause error) error {
	codec := protocol.NewCodec()
	_ = nc.SetReadDeadline(time.Now().Add(rejectReadTimeout))
	_, _ = codec.ReadMessage(nc)

	alert := protocol.NewAlert(protocol.AlertLevelFatal, cause)
	_ = nc.SetWriteDeadline(time.Now().Add(rejectReadTimeout))
	_, err := nc.Write(codec.EncodeAlert(alert.Level, alert.Code, alert.Description))
	return err
}

const rejectReadTimeout = time.Second
