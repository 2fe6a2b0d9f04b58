package wire

// MessageID enumerates the message types named in spec §6. IDs are
// arbitrary but stable within this firmware; they are not required to
// match any other implementation's numbering since §6 describes the
// envelope, not a fixed registry.
type MessageID uint16

const (
	MsgInitialize MessageID = iota + 1
	MsgFeatures
	MsgPing
	MsgSuccess
	MsgFailure
	MsgCancel

	MsgGetPublicKey
	MsgPublicKey

	MsgPinMatrixRequest
	MsgPinMatrixAck

	MsgPassphraseRequest
	MsgPassphraseAck

	MsgButtonRequest
	MsgButtonAck

	MsgChangePin
	MsgApplySettings
	MsgApplyPolicies
	MsgWipeDevice
	MsgLoadDevice
	MsgResetDevice
	MsgRecoveryDevice
	MsgWordRequest
	MsgWordAck
	MsgCharacterRequest
	MsgCharacterAck

	MsgCipherKeyValue
	MsgCipheredKeyValue

	MsgSignTx
	MsgTxRequest
	MsgTxAck

	MsgEthereumSignTx
	MsgEthereumTxRequest
	MsgEthereumTxAck

	MsgDebugLinkGetState
	MsgDebugLinkState
)

// FailureCode enumerates the structured error codes of §6.
type FailureCode uint16

const (
	FailureUnexpectedMessage FailureCode = iota + 1
	FailureButtonExpected
	FailureDataError
	FailureActionCancelled
	FailurePinExpected
	FailurePinCancelled
	FailurePinInvalid
	FailureInvalidSignature
	FailureOther
	FailureNotEnoughFunds
	FailureNotInitialized
	FailureFirmwareError
)

// Failure is the structured error reply of §6/§7.
type Failure struct {
	Code    FailureCode
	Message string
}

// Success is a generic positive acknowledgement carrying a human message
// ("PIN changed", "Device recovered", ...).
type Success struct {
	Message string
}

// Initialize cancels any in-flight operation and requests Features.
type Initialize struct {
	SessionID []byte
}

// Features announces capabilities, matching §6 and §3's PublicConfig flags.
type Features struct {
	VendorString          string
	MajorVersion           uint32
	MinorVersion           uint32
	PatchVersion           uint32
	DeviceID               string
	Initialized            bool
	Label                  string
	Language               string
	PinProtection          bool
	PassphraseProtection   bool
	PinCached              bool
	PassphraseCached       bool
	Imported               bool
	NoBackup               bool
	PinFailedAttempts      uint32
	AutoLockDelayMs        uint32
	Policies               []PolicyType
	U2FCounter             uint32
	WipeCodeProtection     bool
	SCAHardened            bool
}

// PolicyType is a named, toggleable device policy (§4.9's "policy bits",
// supplemented by original_source's lib/firmware/policy.c policy table).
type PolicyType struct {
	Name    string
	Enabled bool
}

// Cancel unwinds the current operation (§4.2).
type Cancel struct{}

// PinMatrixRequest asks the host to submit a scrambled PIN sequence.
type PinMatrixRequest struct {
	Kind string // "Current", "NewFirst", "NewSecond", "WipeCode"
}

// PinMatrixAck carries the host's keypad-position sequence.
type PinMatrixAck struct {
	Pin string
}

// PassphraseRequest asks the host for the wallet passphrase.
type PassphraseRequest struct{}

// PassphraseAck carries the cleartext passphrase.
type PassphraseAck struct {
	Passphrase string
}

// ButtonRequestKind identifies what is being confirmed.
type ButtonRequestKind uint32

const (
	ButtonRequestOther ButtonRequestKind = iota
	ButtonRequestConfirmOutput
	ButtonRequestConfirmTransfer
	ButtonRequestConfirmExchange
	ButtonRequestFeeOverThreshold
	ButtonRequestSignTx
	ButtonRequestWipeDevice
	ButtonRequestProtectCall
	ButtonRequestResetDevice
	ButtonRequestRecoveryDevice
)

// ButtonRequest asks the host to prompt the user to look at the device
// (§4.3).
type ButtonRequest struct {
	Kind ButtonRequestKind
}

// ButtonAck is sent once the host has told the user to check the device;
// the actual confirm/cancel decision comes from the device's own buttons.
type ButtonAck struct{}

// ChangePin sets or removes the PIN.
type ChangePin struct {
	Remove bool
}

// ApplySettings mutates PublicConfig fields that don't need their own
// message (label, language, auto-lock delay, passphrase protection).
type ApplySettings struct {
	Label                *string
	Language             *string
	UsePassphrase        *bool
	AutoLockDelayMs      *uint32
}

// ApplyPolicies toggles named policies (§4.9 / supplemented feature).
type ApplyPolicies struct {
	Policies []PolicyType
}

// WipeDevice erases all storage (§4.1 wipe()).
type WipeDevice struct{}

// LoadDevice bulk-imports a mnemonic (§4.1 load_device).
type LoadDevice struct {
	Mnemonic       string
	Pin            string
	PassphraseProt bool
	Label          string
	Language       string
	SkipChecksum   bool
}

// ResetDevice generates a brand-new seed, mixing host-supplied entropy with
// the hardware RNG (§1 Non-goals: "mixes host-supplied entropy with a
// hardware source").
type ResetDevice struct {
	DisplayRandom bool
	StrengthBits  uint32
	PassphraseProt bool
	PinProtection  bool
	Label          string
	Language       string
	HostEntropy    []byte
}

// RecoveryDevice starts the recovery-cipher state machine (§4.6).
type RecoveryDevice struct {
	WordCount       uint32
	PassphraseProt  bool
	PinProtection   bool
	Label           string
	Language        string
	EnforceWordlist bool
	DryRun          bool
}

// CharacterRequest is the recovery cipher's request for the next cipher
// character (named WordRequest/CharacterRequest interchangeably across
// recovery implementations; we model the per-character granularity §4.6
// describes).
type CharacterRequest struct{}

// CharacterAck carries one cipher-alphabet character, a delete signal, or a
// finish-word signal from the host.
type CharacterAck struct {
	Character string // single cipher character, or "" with Delete/Done set
	Delete    bool
	Done      bool
}

// CipherKeyValue implements the symmetric key-wrap primitive named in §6
// but not detailed in §4 (supplemented from original_source).
type CipherKeyValue struct {
	AddressN    []uint32
	Key         string
	Value       []byte
	Encrypt     bool
	AskOnEncrypt bool
	AskOnDecrypt bool
	Iv          []byte
}

// CipheredKeyValue is the CipherKeyValue response.
type CipheredKeyValue struct {
	Value []byte
}

// GetPublicKey requests the public half of a derived node.
type GetPublicKey struct {
	AddressN    []uint32
	Curve       string
	ShowDisplay bool
}

// PublicKey is the GetPublicKey response.
type PublicKey struct {
	Node          HDNodeWire
	XPub          string
}

// HDNodeWire is the wire shape of crypto.HDNode.
type HDNodeWire struct {
	Depth       uint32
	Fingerprint uint32
	ChildNum    uint32
	ChainCode   []byte
	PublicKey   []byte
}
