// Package sshtest contains a minimal in-process SSH server speaking
// just enough of the protocol to exercise the client side of the
// connection establishment in tests.
package sshtest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"net"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/sync/errgroup"

	"github.com/ooni/minissh/internal/bytesx"
	"github.com/ooni/minissh/internal/kex"
	"github.com/ooni/minissh/internal/model"
	"github.com/ooni/minissh/internal/packet"
)

// ErrServerHandshake wraps any failure of the fake server handshake.
var ErrServerHandshake = errors.New("sshtest: handshake failed")

// Server is a fake SSH server for a single connection. The zero value
// is invalid; use [NewServer].
type Server struct {
	// Banner is the identification string announced by the server,
	// without the line terminator.
	Banner string

	// MangleSignature, when true, corrupts the host signature so that
	// the client must reject the handshake.
	MangleSignature bool

	// signer is the host private key.
	signer ed25519.PrivateKey

	// hostKeyBlob is the serialized public host key.
	hostKeyBlob []byte
}

// NewServer creates a server with a fresh ed25519 host key.
func NewServer() (*Server, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	blob := &bytes.Buffer{}
	if err := bytesx.WriteString(blob, []byte("ssh-ed25519")); err != nil {
		return nil, err
	}
	if err := bytesx.WriteString(blob, pub); err != nil {
		return nil, err
	}
	return &Server{
		Banner:      "SSH-2.0-sshtest_0.1.0",
		signer:      priv,
		hostKeyBlob: blob.Bytes(),
	}, nil
}

// HostKeyBlob returns the serialized public host key.
func (srv *Server) HostKeyBlob() []byte {
	return srv.hostKeyBlob
}

// ServePipe creates an in-memory connection, serves the handshake on
// one end in a background goroutine and returns the other end for the
// client along with the group awaiting the server.
func (srv *Server) ServePipe() (net.Conn, *errgroup.Group) {
	clientConn, serverConn := net.Pipe()
	g := &errgroup.Group{}
	g.Go(func() error {
		defer serverConn.Close()
		return srv.Serve(serverConn)
	})
	return clientConn, g
}

// Serve runs the server side of the connection establishment on the
// given conn: banner trade, KEXINIT trade, curve25519 exchange, NEWKEYS
// and the service request acceptance.
func (srv *Server) Serve(conn net.Conn) error {
	if _, err := conn.Write([]byte(srv.Banner + "\r\n")); err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	clientBanner, err := readBannerLine(conn)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}

	pair := packet.NewCryptoPair()
	enc := packet.NewEncoder(pair)
	reader := &msgReader{conn: conn, dec: packet.NewDecoder(pair)}
	send := func(msg *model.Message) error {
		wire, err := enc.Encode(msg.Bytes())
		if err != nil {
			return err
		}
		_, err = conn.Write(wire)
		return err
	}

	// KEXINIT trade. We reuse the client preferences so that the
	// negotiation deterministically picks our only implementation.
	serverInit, err := kex.NewKexInit(kex.NewPreferences())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	serverInitPayload, err := serverInit.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	serverInitMsg := model.NewMessage(model.SSH_MSG_KEXINIT, serverInitPayload)
	if err := send(serverInitMsg); err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	clientInitMsg, err := reader.next()
	if err != nil || clientInitMsg.Type != model.SSH_MSG_KEXINIT {
		return fmt.Errorf("%w: expected KEXINIT", ErrServerHandshake)
	}
	clientInit, err := kex.ParseKexInit(clientInitMsg.Payload)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	algo, err := kex.Negotiate(clientInit, serverInit)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	if algo.Kex != kex.KexCurve25519SHA256 || algo.HostKey != "ssh-ed25519" {
		return fmt.Errorf("%w: unsupported negotiation outcome", ErrServerHandshake)
	}

	// Curve25519 exchange, server side.
	initMsg, err := reader.next()
	if err != nil || initMsg.Type != model.SSH_MSG_KEXDH_INIT {
		return fmt.Errorf("%w: expected KEXDH_INIT", ErrServerHandshake)
	}
	clientPub, err := bytesx.ReadString(bytes.NewBuffer(initMsg.Payload))
	if err != nil || len(clientPub) != curve25519.PointSize {
		return fmt.Errorf("%w: bad client public value", ErrServerHandshake)
	}
	serverPriv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(serverPriv); err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	serverPub, err := curve25519.X25519(serverPriv, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	shared, err := curve25519.X25519(serverPriv, clientPub)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	k := new(big.Int).SetBytes(shared)

	hash, err := exchangeHash(clientBanner, srv.Banner,
		clientInitMsg.Bytes(), serverInitMsg.Bytes(), srv.hostKeyBlob,
		clientPub, serverPub, k)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	rawSig := ed25519.Sign(srv.signer, hash)
	if srv.MangleSignature {
		rawSig[0] ^= 0xff
	}
	sigBlob := &bytes.Buffer{}
	bytesx.WriteString(sigBlob, []byte("ssh-ed25519"))
	bytesx.WriteString(sigBlob, rawSig)

	replyPayload := &bytes.Buffer{}
	bytesx.WriteString(replyPayload, srv.hostKeyBlob)
	bytesx.WriteString(replyPayload, serverPub)
	bytesx.WriteString(replyPayload, sigBlob.Bytes())

	// The reply and our NEWKEYS go out in a single write, otherwise
	// the synchronous pipe used by tests would deadlock with a client
	// that is writing its own NEWKEYS.
	replyWire, err := enc.Encode(model.NewMessage(model.SSH_MSG_KEXDH_REPLY, replyPayload.Bytes()).Bytes())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	newkeysWire, err := enc.Encode(model.NewMessage(model.SSH_MSG_NEWKEYS, nil).Bytes())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	if _, err := conn.Write(append(replyWire, newkeysWire...)); err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}

	// Stage the new keys with the direction labels swapped, so that
	// our outgoing direction uses the server-to-client keys.
	keys, err := deriveKeys(k, hash, hash, algo)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	swapped := &packet.KeyMaterial{
		IVClientToServer:  keys.IVServerToClient,
		IVServerToClient:  keys.IVClientToServer,
		KeyClientToServer: keys.KeyServerToClient,
		KeyServerToClient: keys.KeyClientToServer,
		MACClientToServer: keys.MACServerToClient,
		MACServerToClient: keys.MACClientToServer,
	}
	fmt.Printf("DEBUG server algo: %+v\n", algo)
	fmt.Printf("DEBUG server keys: c2s_iv=%x s2c_iv=%x c2s_key=%x s2c_key=%x c2s_mac=%x s2c_mac=%x\n",
		keys.IVClientToServer, keys.IVServerToClient, keys.KeyClientToServer, keys.KeyServerToClient, keys.MACClientToServer, keys.MACServerToClient)
	crypto, err := packet.NewCrypto(algo, swapped)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	pair.SetNext(crypto)

	newkeys, err := reader.next()
	if err != nil || newkeys.Type != model.SSH_MSG_NEWKEYS {
		return fmt.Errorf("%w: expected NEWKEYS", ErrServerHandshake)
	}
	pair.Rotate()

	// Service request over the encrypted channel.
	request, err := reader.next()
	fmt.Println("DEBUG request:", request, "err:", err)
	if err != nil || request.Type != model.SSH_MSG_SERVICE_REQUEST {
		return fmt.Errorf("%w: expected SERVICE_REQUEST", ErrServerHandshake)
	}
	service, err := bytesx.ReadString(bytes.NewBuffer(request.Payload))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	acceptPayload := &bytes.Buffer{}
	bytesx.WriteString(acceptPayload, service)
	if err := send(model.NewMessage(model.SSH_MSG_SERVICE_ACCEPT, acceptPayload.Bytes())); err != nil {
		return fmt.Errorf("%w: %s", ErrServerHandshake, err)
	}
	return nil
}

// readBannerLine reads bytes one at a time until the first newline and
// returns the line with terminators stripped.
func readBannerLine(conn net.Conn) (string, error) {
	line := make([]byte, 0, 64)
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return "", err
		}
		if buf[0] == '\n' {
			break
		}
		line = append(line, buf[0])
	}
	for len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return string(line), nil
}

// msgReader pumps conn bytes into the packet decoder and hands out one
// decoded message at a time.
type msgReader struct {
	conn  net.Conn
	dec   *packet.Decoder
	queue []*model.Message
}

func (r *msgReader) next() (*model.Message, error) {
	buf := make([]byte, 4096)
	for len(r.queue) <= 0 {
		count, err := r.conn.Read(buf)
		if err != nil {
			return nil, err
		}
		fmt.Printf("DEBUG server reader.next read %d bytes: %x\n", count, buf[:count])
		msgs, err := r.dec.Feed(buf[:count])
		if err != nil {
			return nil, err
		}
		r.queue = append(r.queue, msgs...)
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

// exchangeHash computes the curve25519-sha256 exchange hash from the
// server perspective.
func exchangeHash(clientBanner, serverBanner string,
	clientInit, serverInit, hostKey, clientPub, serverPub []byte, k *big.Int) ([]byte, error) {
	buf := &bytes.Buffer{}
	for _, s := range [][]byte{
		[]byte(clientBanner),
		[]byte(serverBanner),
		clientInit,
		serverInit,
		hostKey,
		clientPub,
		serverPub,
	} {
		if err := bytesx.WriteString(buf, s); err != nil {
			return nil, err
		}
	}
	if err := bytesx.WriteBigInt(buf, k); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(buf.Bytes())
	return digest[:], nil
}

// deriveKeys implements the standard key derivation with sha256, which
// is the hash of the only exchange this server speaks.
func deriveKeys(k *big.Int, h, sessionID []byte, algo packet.Algorithms) (*packet.KeyMaterial, error) {
	kBuf := &bytes.Buffer{}
	if err := bytesx.WriteBigInt(kBuf, k); err != nil {
		return nil, err
	}
	derive := func(letter byte, size int) []byte {
		digest := sha256.New()
		digest.Write(kBuf.Bytes())
		digest.Write(h)
		digest.Write([]byte{letter})
		digest.Write(sessionID)
		out := digest.Sum(nil)
		for len(out) < size {
			digest = sha256.New()
			digest.Write(kBuf.Bytes())
			digest.Write(h)
			digest.Write(out)
			out = append(out, digest.Sum(nil)...)
		}
		return out[:size]
	}
	ivOut, keyOut, macOut, err := packet.KeySizes(algo.CipherClientToServer, algo.MACClientToServer)
	if err != nil {
		return nil, err
	}
	ivIn, keyIn, macIn, err := packet.KeySizes(algo.CipherServerToClient, algo.MACServerToClient)
	if err != nil {
		return nil, err
	}
	return &packet.KeyMaterial{
		IVClientToServer:  derive('A', ivOut),
		IVServerToClient:  derive('B', ivIn),
		KeyClientToServer: derive('C', keyOut),
		KeyServerToClient: derive('D', keyIn),
		MACClientToServer: derive('E', macOut),
		MACServerToClient: derive('F', macIn),
	}, nil
}
