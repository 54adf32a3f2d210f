package hints

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewAndIsHint(t *testing.T) {
	err := New("nothing to do")
	if !IsHint(err) {
		t.Error("expected error created by New to be a hint")
	}
	if err.Error() != "nothing to do" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("base")
	hint := Wrap(base)
	if !IsHint(hint) {
		t.Error("wrapped error should be a hint")
	}
	if !errors.Is(hint, base) {
		t.Error("wrapped hint should still match the base error")
	}
	if Wrap(nil) != nil {
		t.Error("wrapping nil must return nil")
	}
}

func TestIsHintSurvivesWrapping(t *testing.T) {
	hint := New("skipped")
	wrapped := fmt.Errorf("outer context: %w", hint)
	if !IsHint(wrapped) {
		t.Error("hint should be detectable through fmt.Errorf wrapping")
	}
	if !Is(wrapped, hint) {
		t.Error("Is should match the wrapped hint")
	}
}

func TestPlainErrorIsNotHint(t *testing.T) {
	if IsHint(errors.New("hard failure")) {
		t.Error("plain errors must not be hints")
	}
	if IsHint(nil) {
		t.Error("nil must not be a hint")
	}
}
