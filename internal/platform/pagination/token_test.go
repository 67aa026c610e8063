package pagination

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestEncodeTokenRoundTrip(t *testing.T) {
	created := time.Date(2025, time.July, 4, 9, 30, 0, 0, time.UTC)
	cursor := Cursor{StartAfter: []any{created.Format(time.RFC3339Nano), "ord_01H"}}

	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token for populated cursor")
	}

	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if len(decoded.StartAfter) != 2 {
		t.Fatalf("expected 2 cursor values, got %d", len(decoded.StartAfter))
	}
	if decoded.StartAfter[0] != created.Format(time.RFC3339Nano) {
		t.Errorf("unexpected first cursor value: %v", decoded.StartAfter[0])
	}
	if decoded.StartAfter[1] != "ord_01H" {
		t.Errorf("unexpected second cursor value: %v", decoded.StartAfter[1])
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token for empty cursor, got %q", token)
	}
}

func TestDecodeTokenBlank(t *testing.T) {
	cursor, err := DecodeToken("   ")
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if len(cursor.StartAfter) != 0 || len(cursor.StartAt) != 0 {
		t.Fatalf("expected zero cursor, got %+v", cursor)
	}
}

func TestDecodeTokenRejectsMalformedInput(t *testing.T) {
	if _, err := DecodeToken("%%%not-base64%%%"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for bad base64, got %v", err)
	}

	notJSON := base64.RawURLEncoding.EncodeToString([]byte("not json"))
	if _, err := DecodeToken(notJSON); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken for bad payload, got %v", err)
	}
}
