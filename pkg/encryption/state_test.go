package encryption

import (
	"reflect"
	"testing"
)

func TestReduceStopFromAnyState(t *testing.T) {
	states := []State{
		StateUninitialized, StateCheckingServerSupport, StateDisabled,
		StateAwaitingPassword, StateAwaitingPasswordSave, StateReady, StateStopped,
	}
	for _, s := range states {
		next, effects := Reduce(s, EvStop{})
		if next != StateStopped {
			t.Fatalf("Stop from %v: got %v", s, next)
		}
		want := []Effect{EffectClearBanner, EffectHaltWorkers}
		if !reflect.DeepEqual(effects, want) {
			t.Fatalf("Stop from %v: effects %v, want %v", s, effects, want)
		}
	}
}

func TestReduceServerSupport(t *testing.T) {
	next, _ := Reduce(StateCheckingServerSupport, EvServerSupport{Enabled: false})
	if next != StateDisabled {
		t.Fatalf("disabled server: got %v", next)
	}
	next, _ = Reduce(StateCheckingServerSupport, EvServerSupport{Enabled: true})
	if next != StateCheckingServerSupport {
		t.Fatalf("enabled server: got %v", next)
	}
	// support event outside an init pass is ignored
	next, effects := Reduce(StateReady, EvServerSupport{Enabled: false})
	if next != StateReady || effects != nil {
		t.Fatalf("stray support event: got %v, %v", next, effects)
	}
}

func TestReduceKeysResolvedDecisionTable(t *testing.T) {
	cases := []struct {
		name        string
		ev          EvKeysResolved
		wantState   State
		wantEffects []Effect
	}{
		{
			name:        "server key only asks for password",
			ev:          EvKeysResolved{ServerPrivate: true, PublicKeyAvailable: true},
			wantState:   StateAwaitingPassword,
			wantEffects: []Effect{EffectSetBannerRequestPassword},
		},
		{
			name:        "local pair persists and sweeps",
			ev:          EvKeysResolved{LocalPrivate: true, PublicKeyAvailable: true},
			wantState:   StateReady,
			wantEffects: []Effect{EffectPersistKeys, EffectStartSweep},
		},
		{
			name:        "local pair with unsaved password keeps save banner",
			ev:          EvKeysResolved{LocalPrivate: true, PublicKeyAvailable: true, RandomPasswordPending: true},
			wantState:   StateAwaitingPasswordSave,
			wantEffects: []Effect{EffectSetBannerSavePassword, EffectPersistKeys, EffectStartSweep},
		},
		{
			name:        "no keys anywhere creates a pair",
			ev:          EvKeysResolved{},
			wantState:   StateAwaitingPasswordSave,
			wantEffects: []Effect{EffectCreateKeys, EffectSetBannerSavePassword},
		},
		{
			// local private key exists but both locations lost the
			// public half: regenerate rather than run half-keyed
			name:        "local private without public creates a pair",
			ev:          EvKeysResolved{LocalPrivate: true},
			wantState:   StateAwaitingPasswordSave,
			wantEffects: []Effect{EffectCreateKeys, EffectSetBannerSavePassword},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, effects := Reduce(StateCheckingServerSupport, tc.ev)
			if next != tc.wantState {
				t.Fatalf("state = %v, want %v", next, tc.wantState)
			}
			if !reflect.DeepEqual(effects, tc.wantEffects) {
				t.Fatalf("effects = %v, want %v", effects, tc.wantEffects)
			}
		})
	}
}

func TestReducePasswordFlows(t *testing.T) {
	next, effects := Reduce(StateAwaitingPassword, EvPasswordDecoded{})
	if next != StateReady {
		t.Fatalf("decode: got %v", next)
	}
	want := []Effect{EffectPersistKeys, EffectStartSweep, EffectClearBanner}
	if !reflect.DeepEqual(effects, want) {
		t.Fatalf("decode effects = %v, want %v", effects, want)
	}

	next, effects = Reduce(StateAwaitingPasswordSave, EvPasswordSaved{})
	if next != StateReady {
		t.Fatalf("saved: got %v", next)
	}
	want = []Effect{EffectClearRandomPassword, EffectClearBanner}
	if !reflect.DeepEqual(effects, want) {
		t.Fatalf("saved effects = %v, want %v", effects, want)
	}

	// a stray saved confirmation changes nothing
	next, effects = Reduce(StateReady, EvPasswordSaved{})
	if next != StateReady || effects != nil {
		t.Fatalf("stray saved: got %v, %v", next, effects)
	}
}

func TestReduceKeysCreated(t *testing.T) {
	next, effects := Reduce(StateAwaitingPasswordSave, EvKeysCreated{})
	if next != StateAwaitingPasswordSave {
		t.Fatalf("got %v", next)
	}
	if !reflect.DeepEqual(effects, []Effect{EffectStartSweep}) {
		t.Fatalf("effects = %v", effects)
	}
}
