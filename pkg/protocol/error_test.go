package protocol

import (
	"testing"
)

func TestErrorMessageEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		em   *ErrorMessage
	}{
		{"non_fatal", NewError(ErrRateLimited, "slow down")},
		{"fatal", NewFatalError(ErrSchemaMismatch, "registry fingerprint differs")},
		{"empty_message", NewError(ErrUnknown, "")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := DecodeErrorMessage(EncodeErrorMessage(tc.em))
			if err != nil {
				t.Fatalf("DecodeErrorMessage() error = %v", err)
			}
			if *decoded != *tc.em {
				t.Errorf("DecodeErrorMessage() = %+v, want %+v", decoded, tc.em)
			}
		})
	}
}

func TestErrorMessageError(t *testing.T) {
	tests := []struct {
		em   *ErrorMessage
		want string
	}{
		{NewError(ErrDesync, "bad mask"), "Desync: bad mask"},
		{NewFatalError(ErrServerFull, "no slots"), "fatal: ServerFull: no slots"},
	}

	for _, tc := range tests {
		if got := tc.em.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
		if tc.em.IsFatal() != tc.em.Fatal {
			t.Errorf("IsFatal() = %v, want %v", tc.em.IsFatal(), tc.em.Fatal)
		}
	}
}

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrUnknown, "Unknown"},
		{ErrInvalidFrame, "InvalidFrame"},
		{ErrInvalidControl, "InvalidControl"},
		{ErrDesync, "Desync"},
		{ErrSchemaMismatch, "SchemaMismatch"},
		{ErrRateLimited, "RateLimited"},
		{ErrServerError, "ServerError"},
		{ErrServerFull, "ServerFull"},
		{ErrorCode(0xBEEF), "Unknown"},
	}

	for _, tc := range tests {
		if got := tc.code.String(); got != tc.want {
			t.Errorf("ErrorCode(%#x).String() = %q, want %q", uint16(tc.code), got, tc.want)
		}
	}
}

func TestDecodeErrorMessageTruncated(t *testing.T) {
	data := EncodeErrorMessage(NewFatalError(ErrServerError, "boom"))
	for i := 0; i < len(data); i++ {
		if _, err := DecodeErrorMessage(data[:i]); err == nil {
			t.Errorf("DecodeErrorMessage(%d bytes) error = nil, want error", i)
		}
	}
}
