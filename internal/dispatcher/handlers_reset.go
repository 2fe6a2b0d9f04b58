package dispatcher

import (
	"context"
	"errors"

	"github.com/tyler-smith/go-bip39"

	"github.com/keepkey/keepkey-firmware-sub001/crypto"
	"github.com/keepkey/keepkey-firmware-sub001/internal/confirm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/pinsm"
	"github.com/keepkey/keepkey-firmware-sub001/internal/recovery"
	"github.com/keepkey/keepkey-firmware-sub001/internal/storage"
	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

// handleResetDevice implements §4.1 load_device's counterpart for a
// brand-new seed: combine host-supplied entropy with the hardware RNG
// (§1's Non-goal note, carried forward as ambient behavior rather than
// dropped), generate a BIP-39 mnemonic, optionally display it for backup,
// and gate everything behind confirmation.
func handleResetDevice(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	var req wire.ResetDevice
	if err := wire.Unmarshal(payload, &req); err != nil {
		return 0, nil, err
	}
	ok, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, wire.ButtonRequestResetDevice, []byte("Create new wallet?"))
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, ErrCancelled
	}

	strength := int(req.StrengthBits)
	if strength == 0 {
		strength = 256
	}
	entropy, err := bip39.NewEntropy(strength)
	if err != nil {
		return 0, nil, err
	}
	hw := d.Engine.HWEntropy()
	for i := range entropy {
		entropy[i] ^= hw[i%len(hw)]
	}
	for i := range req.HostEntropy {
		if i >= len(entropy) {
			break
		}
		entropy[i] ^= req.HostEntropy[i]
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return 0, nil, err
	}
	crypto.SecureWipe(entropy)

	if req.DisplayRandom {
		shown, err := confirm.Ask(ctx, d.confirmTransport(), d.Buttons, wire.ButtonRequestOther, []byte(mnemonic))
		if err != nil {
			return 0, nil, err
		}
		if !shown {
			return 0, nil, ErrCancelled
		}
	}

	secret := storage.PlaintextSecret{Mnemonic: mnemonic}
	d.Engine.MutatePublic(func(pub *storage.PublicConfig) {
		pub.Label = req.Label
		pub.Language = req.Language
		pub.SetHasPin(req.PinProtection)
		pub.SetHasMnemonic(true)
		pub.SetImported(false)
	})

	var pin string
	if req.PinProtection {
		pin, err = d.collectPin(ctx, pinsm.NewFirst)
		if err != nil {
			return 0, nil, err
		}
	}
	if err := d.Engine.SetPin(d.Session, pin, &secret); err != nil {
		return 0, nil, err
	}
	if err := d.Engine.Commit(); err != nil {
		return 0, nil, err
	}
	return wire.MsgSuccess, wire.Success{Message: "Device reset"}, nil
}

// handleRecoveryDevice implements §4.6: drive the recovery-cipher
// CharacterRequest/CharacterAck dialogue to word count, then finalize.
func handleRecoveryDevice(ctx context.Context, d *Dispatcher, payload []byte) (wire.MessageID, interface{}, error) {
	var req wire.RecoveryDevice
	if err := wire.Unmarshal(payload, &req); err != nil {
		return 0, nil, err
	}

	var dryRunMnemonic string
	if req.DryRun {
		secret, err := d.Engine.DecryptSecret(d.Session)
		if err != nil {
			return 0, nil, err
		}
		dryRunMnemonic = secret.Mnemonic
	}

	cipher := recovery.New(req.EnforceWordlist, dryRunMnemonic)
	for words := 0; words < int(req.WordCount); {
		if err := d.t.Send(wire.MsgCharacterRequest, wire.CharacterRequest{}); err != nil {
			return 0, nil, err
		}
		_, payload, err := d.waitForTiny(ctx, wire.MsgCharacterAck)
		if err != nil {
			return 0, nil, err
		}
		var ack wire.CharacterAck
		if err := wire.Unmarshal(payload, &ack); err != nil {
			return 0, nil, err
		}
		switch {
		case ack.Delete:
			cipher.DeleteChar()
		case ack.Done:
			if err := cipher.FinishWord(); err != nil {
				return 0, nil, err
			}
			words++
		case ack.Character != "":
			if err := cipher.AddCipherChar(ack.Character[0]); err != nil {
				return 0, nil, err
			}
		}
	}

	mnemonic, dryRunMatch, err := cipher.Done()
	if err != nil {
		return 0, nil, err
	}

	if req.DryRun {
		if !dryRunMatch {
			return 0, nil, errors.New("recovery: dry-run mnemonic does not match the stored one")
		}
		return wire.MsgSuccess, wire.Success{Message: "Dry run matches"}, nil
	}

	secret := storage.PlaintextSecret{Mnemonic: mnemonic}
	d.Engine.MutatePublic(func(pub *storage.PublicConfig) {
		pub.Label = req.Label
		pub.Language = req.Language
		pub.SetHasPin(req.PinProtection)
		pub.SetHasMnemonic(true)
		pub.SetImported(true)
	})
	var pin string
	if req.PinProtection {
		pin, err = d.collectPin(ctx, pinsm.NewFirst)
		if err != nil {
			return 0, nil, err
		}
	}
	if err := d.Engine.SetPin(d.Session, pin, &secret); err != nil {
		return 0, nil, err
	}
	if err := d.Engine.Commit(); err != nil {
		return 0, nil, err
	}
	return wire.MsgSuccess, wire.Success{Message: "Device recovered"}, nil
}
