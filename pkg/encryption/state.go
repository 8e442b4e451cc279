package encryption

// Banner is the UI-facing signal for encryption onboarding. Exactly one
// value is active per session; setting one supersedes the other.
type Banner int

const (
	BannerNone Banner = iota
	BannerRequestPassword
	BannerSavePassword
)

func (b Banner) String() string {
	switch b {
	case BannerRequestPassword:
		return "REQUEST_PASSWORD"
	case BannerSavePassword:
		return "SAVE_PASSWORD"
	default:
		return "NONE"
	}
}

// State is the per-server key-lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateCheckingServerSupport
	StateDisabled
	StateAwaitingPassword
	StateAwaitingPasswordSave
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCheckingServerSupport:
		return "CHECKING_SERVER_SUPPORT"
	case StateDisabled:
		return "DISABLED"
	case StateAwaitingPassword:
		return "AWAITING_PASSWORD"
	case StateAwaitingPasswordSave:
		return "AWAITING_PASSWORD_SAVE"
	case StateReady:
		return "READY"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNINITIALIZED"
	}
}

// Event drives the state machine. Events describe facts the manager
// has established (server capability, resolved key material, decode
// outcomes); Reduce turns them into a new state plus effects.
type Event interface{ isEvent() }

// EvStop requests idempotent teardown.
type EvStop struct{}

// EvInitStarted begins a new initialization pass.
type EvInitStarted struct{}

// EvServerSupport reports the server's E2E capability flag.
type EvServerSupport struct{ Enabled bool }

// EvKeysResolved reports what key material exists after the vault read
// and the server fetch.
type EvKeysResolved struct {
	// LocalPrivate: a private key is cached in the vault.
	LocalPrivate bool
	// ServerPrivate: the server holds a password-wrapped private key.
	ServerPrivate bool
	// RandomPasswordPending: keys were generated earlier and the user
	// has not confirmed saving the recovery password.
	RandomPasswordPending bool
	// PublicKeyAvailable: a public key is resolvable locally or from
	// the server.
	PublicKeyAvailable bool
}

// EvKeysCreated reports that a fresh key pair was generated and stored.
type EvKeysCreated struct{}

// EvPasswordDecoded reports a successful private-key decode.
type EvPasswordDecoded struct{}

// EvPasswordSaved reports the user's "I saved it" confirmation.
type EvPasswordSaved struct{}

func (EvStop) isEvent()            {}
func (EvInitStarted) isEvent()     {}
func (EvServerSupport) isEvent()   {}
func (EvKeysResolved) isEvent()    {}
func (EvKeysCreated) isEvent()     {}
func (EvPasswordDecoded) isEvent() {}
func (EvPasswordSaved) isEvent()   {}

// Effect is an instruction for the manager to execute after a
// transition. Reduce itself never touches the store, vault or network.
type Effect int

const (
	EffectClearBanner Effect = iota
	EffectSetBannerRequestPassword
	EffectSetBannerSavePassword
	EffectHaltWorkers
	EffectPersistKeys
	EffectCreateKeys
	EffectStartSweep
	EffectClearRandomPassword
)

// Reduce is the pure transition function. Unknown state/event pairs
// leave the state unchanged with no effects, which keeps re-entrant
// initialization harmless.
func Reduce(s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case EvStop:
		return StateStopped, []Effect{EffectClearBanner, EffectHaltWorkers}

	case EvInitStarted:
		return StateCheckingServerSupport, nil

	case EvServerSupport:
		if s != StateCheckingServerSupport {
			return s, nil
		}
		if !ev.Enabled {
			return StateDisabled, nil
		}
		return StateCheckingServerSupport, nil

	case EvKeysResolved:
		if s != StateCheckingServerSupport {
			return s, nil
		}
		// Server holds a key the user never unlocked here: ask for the
		// password before anything is persisted.
		if !ev.LocalPrivate && ev.ServerPrivate {
			return StateAwaitingPassword, []Effect{EffectSetBannerRequestPassword}
		}
		var effects []Effect
		next := StateReady
		if ev.RandomPasswordPending {
			effects = append(effects, EffectSetBannerSavePassword)
			next = StateAwaitingPasswordSave
		}
		if ev.LocalPrivate && ev.PublicKeyAvailable {
			effects = append(effects, EffectPersistKeys, EffectStartSweep)
			return next, effects
		}
		// No usable pair anywhere: mint one and make the user save the
		// recovery password.
		effects = append(effects, EffectCreateKeys, EffectSetBannerSavePassword)
		return StateAwaitingPasswordSave, effects

	case EvKeysCreated:
		if s != StateAwaitingPasswordSave {
			return s, nil
		}
		return s, []Effect{EffectStartSweep}

	case EvPasswordDecoded:
		return StateReady, []Effect{EffectPersistKeys, EffectStartSweep, EffectClearBanner}

	case EvPasswordSaved:
		if s != StateAwaitingPasswordSave {
			return s, nil
		}
		return StateReady, []Effect{EffectClearRandomPassword, EffectClearBanner}
	}
	return s, nil
}
