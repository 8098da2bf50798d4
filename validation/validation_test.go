package validation

import (
	"bytes"
	"errors"
	"testing"

	"github.com/r3e-network/dbft"
)

func TestValidateMessageBounds(t *testing.T) {
	v := New(1024)
	tests := []struct {
		name    string
		payload []byte
		ok      bool
	}{
		{"empty", []byte{}, false},
		{"nil", nil, false},
		{"one byte", []byte{0x01}, true},
		{"exactly max", bytes.Repeat([]byte{0x01}, 1024), true},
		{"one over max", bytes.Repeat([]byte{0x01}, 1025), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := v.ValidateMessage(test.payload)
			if test.ok && err != nil {
				t.Errorf("ValidateMessage: unexpected error: %v", err)
			}
			if !test.ok && !errors.Is(err, dbft.ErrInvalidMessage) {
				t.Errorf("ValidateMessage: got: %v, want: ErrInvalidMessage", err)
			}
		})
	}
}

func TestValidateProposal(t *testing.T) {
	v := New(1024)
	tests := []struct {
		name   string
		pv, cv dbft.View
		ph, ch dbft.Height
		ok     bool
	}{
		{"exact round", 2, 2, 10, 10, true},
		{"future view accepted", 5, 2, 10, 10, true},
		{"stale view", 1, 2, 10, 10, false},
		{"height behind", 2, 2, 9, 10, false},
		{"height ahead", 2, 2, 11, 10, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := v.ValidateProposal(test.pv, test.cv, test.ph, test.ch)
			if test.ok && err != nil {
				t.Errorf("ValidateProposal: unexpected error: %v", err)
			}
			if !test.ok && !errors.Is(err, dbft.ErrInvalidProposal) {
				t.Errorf("ValidateProposal: got: %v, want: ErrInvalidProposal", err)
			}
		})
	}
}

func TestValidateVote(t *testing.T) {
	v := New(1024)
	tests := []struct {
		name   string
		vv, cv dbft.View
		vh, ch dbft.Height
		ok     bool
	}{
		{"exact round", 2, 2, 10, 10, true},
		{"future view rejected", 3, 2, 10, 10, false},
		{"stale view rejected", 1, 2, 10, 10, false},
		{"height mismatch", 2, 2, 11, 10, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := v.ValidateVote(test.vv, test.cv, test.vh, test.ch)
			if test.ok && err != nil {
				t.Errorf("ValidateVote: unexpected error: %v", err)
			}
			if !test.ok && !errors.Is(err, dbft.ErrInvalidVote) {
				t.Errorf("ValidateVote: got: %v, want: ErrInvalidVote", err)
			}
		})
	}
}
