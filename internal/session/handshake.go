package session

//
// Handshake driver: the state machine that reacts to decoded input and
// walks the session from banner analysis to the authenticating state.
//

import (
	"bytes"
	"fmt"

	"github.com/ooni/minissh/internal/bytesx"
	"github.com/ooni/minissh/internal/kex"
	"github.com/ooni/minissh/internal/model"
	"github.com/ooni/minissh/internal/packet"
)

// advance runs the handshake as far as the available input allows. The
// decoders call it whenever new state or messages become available, so
// a guard protects against reentrancy.
func (s *Session) advance() {
	if s.advancing {
		return
	}
	s.advancing = true
	defer func() { s.advancing = false }()
	for {
		switch s.state {
		case model.S_BANNER_RECEIVED:
			if err := s.processBanner(); err != nil {
				s.fail(err)
				return
			}
			continue
		case model.S_INITIAL_KEX:
			if err := s.kexAdvance(); err != nil {
				s.fail(err)
			}
			return
		case model.S_AUTHENTICATING:
			// Nothing to drive anymore: the higher layer owns the
			// conversation from here on.
			return
		default:
			return
		}
	}
}

// processBanner analyzes the peer banner, chooses the protocol version,
// announces our own identification string and enters the key exchange.
// Selecting the legacy version is terminal: we negotiate it, but we
// only carry the version two handshake.
func (s *Session) processBanner() error {
	info, err := analyzeBanner(s.peerBanner)
	if err != nil {
		return err
	}
	s.opensshVer = info.opensshVersion
	switch {
	case info.speaksV2 && s.options.AllowV2:
		s.version = 2
	case info.speaksV1 && s.options.AllowV1:
		s.version = 1
		return fmt.Errorf("%w: %s", ErrVersionOneUnsupported, s.peerBanner)
	default:
		return ErrNoVersionUsable
	}
	s.logger.Infof("session: peer banner: %s", s.peerBanner)
	s.selfBanner = fmt.Sprintf("SSH-2.0-%s", s.options.ClientVersion)
	if _, err := s.conn.Write([]byte(s.selfBanner + "\r\n")); err != nil {
		return fmt.Errorf("Socket error: %s", err.Error())
	}
	s.notifyProgress(0.5)
	s.bannerDone = true
	s.setState(model.S_INITIAL_KEX)
	return nil
}

// takeInbox pops the first queued message, nil when the inbox is empty.
func (s *Session) takeInbox() *model.Message {
	if len(s.inbox) <= 0 {
		return nil
	}
	msg := s.inbox[0]
	s.inbox = s.inbox[1:]
	return msg
}

// kexAdvance drives the key exchange: KEXINIT trade, then the DH
// sub-states, then the service request.
func (s *Session) kexAdvance() error {
	if s.serverKexInit == nil {
		msg := s.takeInbox()
		if msg == nil {
			return nil
		}
		if msg.Type != model.SSH_MSG_KEXINIT {
			return errUnexpected(msg, model.SSH_MSG_KEXINIT)
		}
		if err := s.processKexInit(msg); err != nil {
			return err
		}
	}
	if s.dhState != model.DH_FINISHED {
		if err := s.dhAdvance(); err != nil {
			return err
		}
		if s.dhState != model.DH_FINISHED {
			return nil
		}
	}
	return s.serviceAdvance()
}

// processKexInit stores the peer KEXINIT, announces ours, negotiates
// the algorithms and instantiates the key exchange.
func (s *Session) processKexInit(msg *model.Message) error {
	serverInit, err := kex.ParseKexInit(msg.Payload)
	if err != nil {
		return err
	}
	s.serverKexInit = msg.Bytes()
	clientInit, err := kex.NewKexInit(s.options.Preferences)
	if err != nil {
		return err
	}
	payload, err := clientInit.Marshal()
	if err != nil {
		return err
	}
	out := model.NewMessage(model.SSH_MSG_KEXINIT, payload)
	s.clientKexInit = out.Bytes()
	if err := s.packetSend(out); err != nil {
		return err
	}
	if err := s.flush(); err != nil {
		return err
	}
	algo, err := kex.Negotiate(clientInit, serverInit)
	if err != nil {
		return err
	}
	s.algo = algo
	s.logger.Infof("session: negotiated kex=%s hostkey=%s cipher=%s mac=%s",
		algo.Kex, algo.HostKey, algo.CipherClientToServer, algo.MACClientToServer)
	s.notifyProgress(0.6)
	exchange, err := kex.NewExchange(algo.Kex)
	if err != nil {
		return err
	}
	s.exchange = exchange
	return nil
}

// dhAdvance drives the key exchange sub-states. Each iteration handles
// exactly one sub-state and either progresses or returns to wait for
// more input.
func (s *Session) dhAdvance() error {
	for {
		switch s.dhState {
		case model.DH_INIT:
			payload, err := s.exchange.InitPayload()
			if err != nil {
				return err
			}
			if err := s.packetSend(model.NewMessage(model.SSH_MSG_KEXDH_INIT, payload)); err != nil {
				return err
			}
			s.notifyProgress(0.8)
			s.setDHState(model.DH_INIT_TO_SEND)
		case model.DH_INIT_TO_SEND:
			if err := s.flush(); err != nil {
				return err
			}
			s.setDHState(model.DH_INIT_SENT)
		case model.DH_INIT_SENT:
			msg := s.takeInbox()
			if msg == nil {
				return nil
			}
			if msg.Type != model.SSH_MSG_KEXDH_REPLY {
				return errUnexpected(msg, model.SSH_MSG_KEXDH_REPLY)
			}
			if err := s.processDHReply(msg); err != nil {
				return err
			}
			s.setDHState(model.DH_NEWKEYS_TO_SEND)
		case model.DH_NEWKEYS_TO_SEND:
			if err := s.packetSend(model.NewMessage(model.SSH_MSG_NEWKEYS, nil)); err != nil {
				return err
			}
			if err := s.flush(); err != nil {
				return err
			}
			s.setDHState(model.DH_NEWKEYS_SENT)
		case model.DH_NEWKEYS_SENT:
			msg := s.takeInbox()
			if msg == nil {
				return nil
			}
			if msg.Type != model.SSH_MSG_NEWKEYS {
				return errUnexpected(msg, model.SSH_MSG_NEWKEYS)
			}
			s.pair.Rotate()
			s.burnExchange()
			s.logger.Info("session: new keys in effect")
			s.setDHState(model.DH_FINISHED)
			return nil
		case model.DH_FINISHED:
			return nil
		}
	}
}

// processDHReply verifies the server contribution: it computes the
// shared secret and the exchange hash, checks the host signature over
// the hash, and only then derives and stages the new key material. A
// signature failure therefore leaves no session identifier behind.
func (s *Session) processDHReply(msg *model.Message) error {
	reply, err := s.exchange.ProcessReply(msg.Payload)
	if err != nil {
		return err
	}
	s.reply = reply
	transcript := &kex.Transcript{
		ClientBanner:  s.selfBanner,
		ServerBanner:  s.peerBanner,
		ClientKexInit: s.clientKexInit,
		ServerKexInit: s.serverKexInit,
		HostKey:       reply.HostKey,
	}
	hash, err := s.exchange.ExchangeHash(transcript)
	if err != nil {
		return err
	}
	if err := kex.VerifyHostKeySignature(s.algo.HostKey, reply.HostKey, reply.Signature, hash); err != nil {
		return err
	}
	if s.sessionID == nil {
		s.sessionID = make([]byte, len(hash))
		copy(s.sessionID, hash)
	}
	fmt.Printf("DEBUG client algo: %+v\n", s.algo)
	keys, err := s.exchange.DeriveKeys(s.sessionID, s.algo)
	if keys != nil {
		fmt.Printf("DEBUG client keys: c2s_iv=%x s2c_iv=%x c2s_key=%x s2c_key=%x c2s_mac=%x s2c_mac=%x\n",
			keys.IVClientToServer, keys.IVServerToClient, keys.KeyClientToServer, keys.KeyServerToClient, keys.MACClientToServer, keys.MACServerToClient)
	}
	if err != nil {
		return err
	}
	crypto, err := packet.NewCrypto(s.algo, keys)
	if err != nil {
		keys.Burn()
		return err
	}
	s.pair.SetNext(crypto)
	return nil
}

// serviceAdvance requests the configured service after the key
// exchange and waits for the acceptance, which completes the
// establishment.
func (s *Session) serviceAdvance() error {
	if !s.serviceRequested {
		payload := &bytes.Buffer{}
		if err := bytesx.WriteString(payload, []byte(s.options.ServiceName)); err != nil {
			return err
		}
		msg := model.NewMessage(model.SSH_MSG_SERVICE_REQUEST, payload.Bytes())
		if err := s.packetSend(msg); err != nil {
			return err
		}
		if err := s.flush(); err != nil {
			return err
		}
		s.serviceRequested = true
	}
	msg := s.takeInbox()
	if msg == nil {
		return nil
	}
	if msg.Type != model.SSH_MSG_SERVICE_ACCEPT {
		return errUnexpected(msg, model.SSH_MSG_SERVICE_ACCEPT)
	}
	s.connected = true
	s.notifyProgress(1.0)
	s.tracer.OnHandshakeDone(s.conn.RemoteAddr().String())
	s.setState(model.S_AUTHENTICATING)
	return nil
}
