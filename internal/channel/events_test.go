package channel

import (
	"encoding/json"
	"testing"

	"github.com/immxrtalbeast/chatsync/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestDecode_ReceiptPayload(t *testing.T) {
	raw := json.RawMessage(`{"messageId":"m1","userId":"u1","roomId":"r1"}`)

	payload, err := Decode[ReceiptPayload](raw)

	require.NoError(t, err)
	require.Equal(t, "m1", payload.MessageID)
	require.Equal(t, "u1", payload.UserID)
}

func TestDecode_MissingRequiredField(t *testing.T) {
	raw := json.RawMessage(`{"messageId":"m1"}`)

	_, err := Decode[ReceiptPayload](raw)

	require.Error(t, err)
	require.Contains(t, err.Error(), "validate payload")
}

func TestDecode_MalformedJSON(t *testing.T) {
	raw := json.RawMessage(`{"messageId":`)

	_, err := Decode[ReceiptPayload](raw)

	require.Error(t, err)
	require.Contains(t, err.Error(), "decode payload")
}

func TestDecode_CallOfferRejectsUnknownKind(t *testing.T) {
	raw := json.RawMessage(`{"from":"alice","roomId":"r1","callType":"hologram"}`)

	_, err := Decode[CallOfferPayload](raw)

	require.Error(t, err)
}

func TestDecode_MessagePayloadTombstone(t *testing.T) {
	raw := json.RawMessage(`{"_id":"m1","room":"r1","senderId":"alice","deleted":true}`)

	payload, err := Decode[MessagePayload](raw)

	require.NoError(t, err)
	require.True(t, payload.Deleted)
	require.Equal(t, "m1", payload.ID)
	require.Equal(t, "r1", payload.RoomID)
}

func TestDecode_MessageWithoutIdentityRejected(t *testing.T) {
	// an id-less message would seed an unaddressable timeline entry
	_, err := Decode[MessagePayload](json.RawMessage(`{"room":"r1","senderId":"alice","content":"x"}`))
	require.Error(t, err)

	_, err = Decode[MessagePayload](json.RawMessage(`{"_id":"m1","senderId":"alice","content":"x"}`))
	require.Error(t, err)
}

func TestDecode_SignalPayloadCarriesSDP(t *testing.T) {
	raw := json.RawMessage(`{"from":"bob","data":{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}}`)

	payload, err := Decode[CallSignalPayload](raw)

	require.NoError(t, err)
	require.Equal(t, domain.SignalOffer, payload.Data.Type)
	require.NotNil(t, payload.Data.SDP)
}
