package features

import "testing"

func TestRegisterAndToggle(t *testing.T) {
	m := NewManager()
	m.RegisterDefaults(true, false, false)

	if !m.IsEnabled(FeatureCacheEnabled) {
		t.Error("Expected cache flag to be enabled")
	}
	if m.IsEnabled(FeatureLegacyTransitions) {
		t.Error("Expected legacy transitions to be disabled")
	}

	if !m.Set(FeatureLegacyTransitions, true) {
		t.Fatal("Expected Set to succeed for a registered flag")
	}
	if !m.IsEnabled(FeatureLegacyTransitions) {
		t.Error("Expected legacy transitions to be enabled after Set")
	}

	if m.Set("unknown", true) {
		t.Error("Expected Set to fail for an unknown flag")
	}
	if m.IsEnabled("unknown") {
		t.Error("Expected unknown flag to report disabled")
	}
}

func TestListIsSorted(t *testing.T) {
	m := NewManager()
	m.RegisterDefaults(true, true, false)

	flags := m.List()
	if len(flags) != 3 {
		t.Fatalf("Expected 3 flags, got %d", len(flags))
	}
	for i := 1; i < len(flags); i++ {
		if flags[i-1].Name > flags[i].Name {
			t.Errorf("Expected sorted flags, got %s before %s", flags[i-1].Name, flags[i].Name)
		}
	}
}

func TestNilManager(t *testing.T) {
	var m *Manager
	if m.IsEnabled(FeatureCacheEnabled) {
		t.Error("Expected nil manager to report every flag disabled")
	}
}
