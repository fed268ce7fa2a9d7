package config

// Secret is a string that redacts itself on the way to logs, banners and
// JSON status payloads. Call sites that genuinely need the raw value
// (the request signer) convert with string(s) explicitly.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// MarshalJSON keeps secrets out of serialized config dumps.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
