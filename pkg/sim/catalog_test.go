package sim

import (
	"errors"
	"testing"
)

func TestCheckCatalog(t *testing.T) {
	if err := CheckCatalog(); err != nil {
		t.Fatalf("CheckCatalog() = %v", err)
	}
}

func TestCheckCatalogMissingEntry(t *testing.T) {
	saved := catalog[IncidentDNSFailure]
	delete(catalog, IncidentDNSFailure)
	defer func() { catalog[IncidentDNSFailure] = saved }()

	err := CheckCatalog()
	if err == nil {
		t.Fatal("expected an error for a missing entry")
	}
	if !IsConfigError(err) {
		t.Errorf("error %v is not a config error", err)
	}
	if !errors.Is(err, &SimError{Class: ErrorClassConfig, Code: ErrCodeCatalogIncomplete}) {
		t.Errorf("error %v does not match the catalog code", err)
	}
}

func TestCatalogPolicies(t *testing.T) {
	drainOnly := map[IncidentType]bool{
		IncidentHardwareDegradation:    true,
		IncidentStorageSpreading:       true,
		IncidentNetworkHardwareFailure: true,
	}
	restartCleared := map[IncidentType]bool{
		IncidentFlydStalled:      true,
		IncidentContainerdSync:   true,
		IncidentMemoryLeak:       true,
		IncidentConfigCorruption: true,
	}
	for _, typ := range IncidentTypes() {
		s, ok := Spec(typ)
		if !ok {
			t.Fatalf("no spec for %s", typ)
		}
		if s.RequiresDrain != drainOnly[typ] {
			t.Errorf("%s RequiresDrain = %v", typ, s.RequiresDrain)
		}
		if s.RequiresDrain && s.QuickFix.Alias != AliasDrain {
			t.Errorf("%s should alias its quick fix to a drain", typ)
		}
		if s.ClearedByRestart != restartCleared[typ] {
			t.Errorf("%s ClearedByRestart = %v", typ, s.ClearedByRestart)
		}
		if s.ClearedByRestart && !s.SuppressedByRestart {
			t.Errorf("%s is cleared by restarts but still generated during one", typ)
		}
	}
}

func TestIncidentTypeValidate(t *testing.T) {
	if err := IncidentKernelPanic.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if err := IncidentType("meteor_strike").Validate(); err == nil {
		t.Error("unknown type accepted")
	}
	if got := len(IncidentTypes()); got != 14 {
		t.Errorf("len(IncidentTypes()) = %d, want 14", got)
	}
}

func TestSimError(t *testing.T) {
	cause := errors.New("boom")
	err := NewNotFoundError("session missing", cause).WithSubject("abc").WithCode(ErrCodeSessionNotFound)

	if got, want := err.Error(), "[not_found] session missing (subject=abc): boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if !IsNotFound(err) || IsConfigError(err) {
		t.Error("classification helpers disagree")
	}
	if d := err.WithDetail("k", 1).Details["k"]; d != 1 {
		t.Errorf("detail = %v", d)
	}
}
