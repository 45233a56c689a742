package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		name string
		from RequestStatus
		to   RequestStatus
		want error
	}{
		{"approve pending", StatusPending, StatusApproved, nil},
		{"deny pending", StatusPending, StatusDenied, nil},
		{"pending to pending", StatusPending, StatusPending, ErrInvalidTransition},
		{"unknown target", StatusPending, "Archived", ErrInvalidTransition},
		{"approved is terminal", StatusApproved, StatusDenied, ErrAlreadyDecided},
		{"denied is terminal", StatusDenied, StatusApproved, ErrAlreadyDecided},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &Request{Status: tc.from}
			err := r.CanTransitionTo(tc.to)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPayloadMustMatchKind(t *testing.T) {
	src := &Request{ID: "r1", Kind: KindJoinGroup, Join: &JoinGroupPayload{GroupID: "g1", User: "alice"}}
	data, err := src.MarshalPayload()
	require.NoError(t, err)

	dst := &Request{ID: "r1", Kind: KindJoinGroup}
	require.NoError(t, dst.UnmarshalPayload(data))
	assert.Equal(t, "g1", dst.GroupID())
	assert.Equal(t, "alice", dst.Join.User)

	wrong := &Request{ID: "r1", Kind: KindCreateGroup}
	assert.Error(t, wrong.UnmarshalPayload(data))
	assert.Error(t, dst.UnmarshalPayload([]byte("{")))
}

func TestGroupIDPerKind(t *testing.T) {
	assert.Equal(t, "c", (&Request{Create: &CreateGroupPayload{GroupID: "c"}}).GroupID())
	assert.Equal(t, "t", (&Request{Transfer: &TransferOwnershipPayload{GroupID: "t"}}).GroupID())
	assert.Empty(t, (&Request{}).GroupID())
}

func TestClientErrors(t *testing.T) {
	rejected := &AdmissionRejectedError{Event: "update", Requested: 101, Limit: 100}
	assert.Contains(t, rejected.Error(), "grow a group with a size greater than 100")
	assert.True(t, IsClientError(rejected))
	assert.True(t, IsClientError(Invalid("kind", "unknown")))
	assert.False(t, IsClientError(ErrNotFound))
	assert.False(t, IsClientError(errors.New("boom")))
}
