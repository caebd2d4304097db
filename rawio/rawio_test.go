package rawio

import "testing"

func TestValidateInterfaceRejectsUnknownName(t *testing.T) {
	_, err := ValidateInterface("wfbridge-definitely-not-a-real-iface")
	if err == nil {
		t.Fatalf("expected a ConfigError for a nonexistent interface")
	}
	var cfgErr *ConfigError
	if !asConfigError(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
}

func asConfigError(err error, target **ConfigError) bool {
	ce, ok := err.(*ConfigError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
