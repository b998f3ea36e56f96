package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/danmuck/fusion/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			logs.Debugf("auth.StaticToken stored=%q input=%q err=%v", tc.stored, tc.input, err)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
}

func TestBearerTokenParsing(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer s3cret", "s3cret", true},
		{"bearer  s3cret ", "s3cret", true},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwdw==", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := BearerToken(tc.header)
		if tc.ok != (err == nil) || got != tc.want {
			t.Fatalf("header %q: got %q err=%v", tc.header, got, err)
		}
	}
}

func TestCheckRequestRoundTripsBearerHeader(t *testing.T) {
	testlog.Start(t)
	v := StaticToken{Token: "s3cret"}

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if err := CheckRequest(v, r); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized without header, got %v", err)
	}

	BearerHeader(r.Header, "")
	if r.Header.Get("Authorization") != "" {
		t.Fatalf("empty token must not set a header")
	}
	BearerHeader(r.Header, "s3cret")
	if err := CheckRequest(v, r); err != nil {
		t.Fatalf("expected accepted token, got %v", err)
	}
}
