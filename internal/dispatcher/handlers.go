package dispatcher

import (
	"context"
	"errors"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
	"github.com/keepkey/keepkey-firmware-sub001/internal/confirm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/pinsm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/storage"
	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

// ensurePassphrase implements §4.5: ask at most once per session.
func (d *Dispatcher) ensurePassphrase(ctx context.Context) error {
	if !d.Engine.Public().PassphraseProtected() || d.Session.PassphraseCached {
		return nil
	}
	if err := d.t.Send(wire.MsgPassphraseRequest, wire.PassphraseRequest{}); err != nil {
		return err
	}
	_, payload, err := d.waitForTiny(ctx, wire.MsgPassphraseAck)
	if err != nil {
		return err
	}
	var ack wire.PassphraseAck
	if err := wire.Unmarshal(payload, &ack); err != nil {
		return err
	}
	d.Session.SetPassphrase(ack.Passphrase)
	return nil
}

func curveFromName(name string) crypto.Curve {
	switch name {
	case "nist256p1":
		return crypto.Nist256p1
	case "ed25519":
		return crypto.Ed25519
	default:
		return crypto.Secp256k1
	}
}

func handleGetPublicKey(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	var req wire.GetPublicKey
	if err := wire.Unmarshal(payload, &req); err != nil {
		return 0, nil, err
	}
	if err := d.ensurePassphrase(ctx); err != nil {
		return 0, nil, err
	}

	secret, err := d.Engine.DecryptSecret(d.Session)
	if err != nil {
		return 0, nil, err
	}
	curve := curveFromName(req.Curve)
	node, err := d.Engine.GetRootNode(d.Session, &secret, curve, d.Session.PassphraseCached)
	if err != nil {
		return 0, nil, err
	}
	for _, idx := range req.AddressN {
		node, err = crypto.CKDPriv(node, idx)
		if err != nil {
			return 0, nil, err
		}
	}

	if req.ShowDisplay {
		ok, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, wire.ButtonRequestOther, []byte("Export public key?"))
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, ErrCancelled
		}
	}

	return wire.MsgPublicKey, wire.PublicKey{
		Node: wire.HDNodeWire{
			Depth:       node.Depth,
			Fingerprint: node.Fingerprint,
			ChildNum:    node.ChildNum,
			ChainCode:   append([]byte(nil), node.ChainCode[:]...),
			PublicKey:   append([]byte(nil), node.PublicKey[:]...),
		},
	}, nil
}

func handleChangePin(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	var req wire.ChangePin
	if err := wire.Unmarshal(payload, &req); err != nil {
		return 0, nil, err
	}
	ok, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, wire.ButtonRequestProtectCall, []byte("Change PIN?"))
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, ErrCancelled
	}

	var secret *storage.PlaintextSecret
	if d.Engine.Public().HasMnemonic() || d.Engine.Public().HasNode() {
		s, err := d.Engine.DecryptSecret(d.Session)
		if err != nil {
			return 0, nil, err
		}
		secret = &s
	}

	var newPin string
	if !req.Remove {
		newPin, err = d.collectPin(ctx, pinsm.NewFirst)
		if err != nil {
			return 0, nil, err
		}
	}
	if err := d.Engine.SetPin(d.Session, newPin, secret); err != nil {
		return 0, nil, err
	}
	if err := d.Engine.Commit(); err != nil {
		return 0, nil, err
	}
	return wire.MsgSuccess, wire.Success{Message: "PIN changed"}, nil
}

func handleWipeDevice(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	ok, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, wire.ButtonRequestWipeDevice, []byte("Wipe device?"))
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, ErrCancelled
	}
	d.Session.Clear(false)
	if err := d.Engine.Wipe(); err != nil {
		return 0, nil, err
	}
	return wire.MsgSuccess, wire.Success{Message: "Device wiped"}, nil
}

func handleApplySettings(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	var req wire.ApplySettings
	if err := wire.Unmarshal(payload, &req); err != nil {
		return 0, nil, err
	}
	if req.Label != nil && len(*req.Label) > 48 {
		return 0, nil, errors.New("dispatcher: label exceeds 48 bytes")
	}
	if req.Language != nil && len(*req.Language) > 16 {
		return 0, nil, errors.New("dispatcher: language exceeds 16 bytes")
	}
	d.Engine.MutatePublic(func(pub *storage.PublicConfig) {
		if req.Label != nil {
			pub.Label = *req.Label
		}
		if req.Language != nil {
			pub.Language = *req.Language
		}
		if req.AutoLockDelayMs != nil {
			pub.AutoLockDelayMs = *req.AutoLockDelayMs
		}
		if req.UsePassphrase != nil {
			if *req.UsePassphrase {
				pub.Flags |= storage.FlagPassphraseProtected
			} else {
				pub.Flags &^= storage.FlagPassphraseProtected
			}
		}
	})
	if err := d.Engine.Commit(); err != nil {
		return 0, nil, err
	}
	return wire.MsgSuccess, wire.Success{Message: "Settings applied"}, nil
}

func handleApplyPolicies(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	var req wire.ApplyPolicies
	if err := wire.Unmarshal(payload, &req); err != nil {
		return 0, nil, err
	}
	for _, p := range req.Policies {
		d.Engine.SetPolicy(p.Name, p.Enabled)
	}
	if err := d.Engine.Commit(); err != nil {
		return 0, nil, err
	}
	return wire.MsgSuccess, wire.Success{Message: "Policies applied"}, nil
}

func handleLoadDevice(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	var req wire.LoadDevice
	if err := wire.Unmarshal(payload, &req); err != nil {
		return 0, nil, err
	}
	secret := d.Engine.LoadDevice(d.Session, req.Mnemonic)
	d.Engine.MutatePublic(func(pub *storage.PublicConfig) {
		pub.Label = req.Label
		pub.Language = req.Language
		pub.SetHasPin(req.Pin != "")
	})
	if err := d.Engine.SetPin(d.Session, req.Pin, &secret); err != nil {
		return 0, nil, err
	}
	if err := d.Engine.Commit(); err != nil {
		return 0, nil, err
	}
	return wire.MsgSuccess, wire.Success{Message: "Device loaded"}, nil
}

func handleCipherKeyValue(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	var req wire.CipherKeyValue
	if err := wire.Unmarshal(payload, &req); err != nil {
		return 0, nil, err
	}
	if err := d.ensurePassphrase(ctx); err != nil {
		return 0, nil, err
	}
	if req.AskOnEncrypt && req.Encrypt || req.AskOnDecrypt && !req.Encrypt {
		ok, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, wire.ButtonRequestOther, []byte(req.Key))
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, ErrCancelled
		}
	}

	secret, err := d.Engine.DecryptSecret(d.Session)
	if err != nil {
		return 0, nil, err
	}
	node, err := d.Engine.GetRootNode(d.Session, &secret, crypto.Secp256k1, d.Session.PassphraseCached)
	if err != nil {
		return 0, nil, err
	}
	for _, idx := range req.AddressN {
		node, err = crypto.CKDPriv(node, idx)
		if err != nil {
			return 0, nil, err
		}
	}
	key := crypto.HashAll([]byte(req.Key), node.PrivateKey[:])
	var iv [16]byte
	copy(iv[:], req.Iv)

	var out []byte
	if req.Encrypt {
		out, err = crypto.EncryptCBC(key[:], iv[:], req.Value)
	} else {
		out, err = crypto.DecryptCBC(key[:], iv[:], req.Value)
	}
	if err != nil {
		return 0, nil, err
	}
	return wire.MsgCipheredKeyValue, wire.CipheredKeyValue{Value: out}, nil
}
