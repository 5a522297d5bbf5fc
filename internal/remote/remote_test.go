package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/satchelhq/satchel/internal/model"
)

func TestStaticToken(t *testing.T) {
	ctx := context.Background()

	token, err := StaticToken("secret").Token(ctx)
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	if token != "secret" {
		t.Errorf("Token() = %q, want %q", token, "secret")
	}

	_, err = StaticToken("").Token(ctx)
	if !errors.Is(err, model.ErrNoSession) {
		t.Errorf("Token() on empty token = %v, want ErrNoSession", err)
	}
}

func TestOpenLibSQLRequiresURL(t *testing.T) {
	_, err := OpenLibSQL(context.Background(), LibSQLConfig{DeviceID: "dev-1"})
	if !errors.Is(err, model.ErrNoSession) {
		t.Errorf("OpenLibSQL(no url) = %v, want ErrNoSession", err)
	}
}

func TestParseCursor(t *testing.T) {
	tests := []struct {
		cursor  string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"42", 42, false},
		{"-1", 0, true},
		{"abc", 0, true},
		{"12.5", 0, true},
	}
	for _, tt := range tests {
		got, err := parseCursor(tt.cursor)
		if tt.wantErr {
			if !errors.Is(err, model.ErrSyncRejected) {
				t.Errorf("parseCursor(%q) = %v, want ErrSyncRejected", tt.cursor, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCursor(%q) failed: %v", tt.cursor, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCursor(%q) = %d, want %d", tt.cursor, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("classify(nil) != nil")
	}

	if err := classify(context.Canceled); !errors.Is(err, context.Canceled) || errors.Is(err, model.ErrSyncTransient) {
		t.Errorf("classify(Canceled) = %v, want untouched cancellation", err)
	}

	rejected := classify(fmt.Errorf("UNIQUE constraint failed: changes.entity_id"))
	if !errors.Is(rejected, model.ErrSyncRejected) {
		t.Errorf("classify(constraint) = %v, want ErrSyncRejected", rejected)
	}

	transient := classify(fmt.Errorf("dial tcp: connection refused"))
	if !errors.Is(transient, model.ErrSyncTransient) {
		t.Errorf("classify(network) = %v, want ErrSyncTransient", transient)
	}
	if !model.IsRetryable(transient) {
		t.Error("IsRetryable(classified transient) = false, want true")
	}
}
