package redis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/internal/core/domain"
)

func testDocument() []byte {
	call := &domain.Call{
		ID:       "call-1",
		GroupID:  "friends",
		CallerID: "alice",
		Status:   domain.CallOffering,
		Type:     domain.CallRegular,
		Offer:    &domain.Description{Type: "offer", SDP: "v=0 offer"},
	}
	data, _ := json.Marshal(call)
	return data
}

func TestDocumentWireFieldNames(t *testing.T) {
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(testDocument(), &doc))

	assert.Equal(t, "friends", doc["groupId"])
	assert.Equal(t, "alice", doc["callerId"])
	assert.Equal(t, "offering", doc["status"])
	assert.Equal(t, false, doc["screenSharing"])

	offer, ok := doc["offer"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "offer", offer["type"])
	assert.Equal(t, "v=0 offer", offer["sdp"])

	// An absent answer is absent on the wire, not null.
	_, present := doc["answer"]
	assert.False(t, present)
}

func TestApplyPatchToDocumentMergesFields(t *testing.T) {
	answered := domain.CallAnswered
	updated, err := applyPatchToDocument(testDocument(), domain.CallPatch{
		Status: &answered,
		Answer: &domain.Description{Type: "answer", SDP: "v=0 answer"},
	})
	require.NoError(t, err)

	var call domain.Call
	require.NoError(t, json.Unmarshal(updated, &call))
	assert.Equal(t, domain.CallAnswered, call.Status)
	require.NotNil(t, call.Answer)
	assert.Equal(t, "v=0 answer", call.Answer.SDP)

	// Untouched fields survive the merge.
	assert.Equal(t, domain.CallID("call-1"), call.ID)
	require.NotNil(t, call.Offer)
	assert.Equal(t, "v=0 offer", call.Offer.SDP)
}

func TestApplyPatchToDocumentClearsAnswer(t *testing.T) {
	answered := domain.CallAnswered
	withAnswer, err := applyPatchToDocument(testDocument(), domain.CallPatch{
		Status: &answered,
		Answer: &domain.Description{Type: "answer", SDP: "v=0 answer"},
	})
	require.NoError(t, err)

	offering := domain.CallOffering
	off := false
	reset, err := applyPatchToDocument(withAnswer, domain.CallPatch{
		Status:        &offering,
		ClearAnswer:   true,
		ScreenSharing: &off,
	})
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(reset, &doc))
	assert.Equal(t, "offering", doc["status"])
	_, present := doc["answer"]
	assert.False(t, present)
}

func TestApplyPatchToDocumentRejectsMalformedDocument(t *testing.T) {
	_, err := applyPatchToDocument([]byte("not json"), domain.CallPatch{})
	assert.Error(t, err)
}

func TestDecodeCallEvent(t *testing.T) {
	call, err := decodeCallEvent(string(testDocument()))
	require.NoError(t, err)
	require.NotNil(t, call)
	assert.Equal(t, domain.CallID("call-1"), call.ID)

	tombstoned, err := decodeCallEvent(deletedSentinel)
	require.NoError(t, err)
	assert.Nil(t, tombstoned)

	_, err = decodeCallEvent("not json")
	assert.Error(t, err)
}
