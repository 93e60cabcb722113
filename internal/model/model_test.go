package model

import "testing"

func TestRoute_Key(t *testing.T) {
	cases := []struct {
		name  string
		route Route
		want  string
	}{
		{"id wins", Route{ID: "r1", Number: "104"}, "r1"},
		{"number fallback", Route{Number: "104"}, "104"},
		{"unidentifiable", Route{Name: "just a name"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.route.Key(); got != tc.want {
				t.Errorf("Key() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTruck_Key(t *testing.T) {
	if got := (&Truck{ID: "t1", Plate: "WC-1"}).Key(); got != "t1" {
		t.Errorf("Key() = %q, want t1", got)
	}
	if got := (&Truck{Plate: "WC-1"}).Key(); got != "WC-1" {
		t.Errorf("Key() = %q, want WC-1", got)
	}
}

func TestActionType_Valid(t *testing.T) {
	for _, typ := range []ActionType{ActionStopComplete, ActionStopSkip, ActionRouteComplete} {
		if !typ.Valid() {
			t.Errorf("%q reported invalid", typ)
		}
	}
	if ActionType("teleport").Valid() {
		t.Error("unknown type reported valid")
	}
}

func TestCompletionAction_Validate(t *testing.T) {
	cases := []struct {
		name    string
		action  CompletionAction
		wantErr bool
	}{
		{"stop complete ok", CompletionAction{Type: ActionStopComplete, RouteID: "r1", StopID: "s1"}, false},
		{"stop skip ok", CompletionAction{Type: ActionStopSkip, RouteID: "r1", StopID: "s1"}, false},
		{"route complete needs no stop", CompletionAction{Type: ActionRouteComplete, RouteID: "r1"}, false},
		{"missing route", CompletionAction{Type: ActionStopComplete, StopID: "s1"}, true},
		{"stop action without stop", CompletionAction{Type: ActionStopComplete, RouteID: "r1"}, true},
		{"unknown type", CompletionAction{Type: "teleport", RouteID: "r1", StopID: "s1"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate()
			if tc.wantErr && err == nil {
				t.Error("Validate() = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}
