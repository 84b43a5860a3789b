package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplainKeepsKind(t *testing.T) {
	err := AlreadyFinalized.Explain("order %s", "0xabc")
	assert.True(t, Is(err, AlreadyFinalized))
	assert.False(t, Is(err, NotAuthorized))
	assert.Equal(t, "[AlreadyFinalized] order 0xabc", err.Error())
	assert.Empty(t, AlreadyFinalized.Message, "sentinel must not be mutated")
}

func TestIsThroughWrapping(t *testing.T) {
	inner := TransferFailed.Explain("relay returned false")
	outer := fmt.Errorf("settle: %w", inner)
	assert.True(t, Is(outer, TransferFailed))
	assert.Equal(t, KindTransferFailed, KindOf(outer))
	assert.Equal(t, KindUnknown, KindOf(fmt.Errorf("plain")))

	wrapped := OrdersIncompatible.Wrap(inner)
	assert.True(t, Is(wrapped, OrdersIncompatible))
	assert.True(t, Is(wrapped, TransferFailed))
}

func TestProblemDetails(t *testing.T) {
	p := ToProblemDetails(DelayNotElapsed.Explain("wait 3600s"), "/api/v1/operators/0x1")
	assert.Equal(t, http.StatusUnprocessableEntity, p.Status)
	assert.Equal(t, "https://relayex.dev/problems/delay-not-elapsed", p.Type)
	assert.Equal(t, "Delay Not Elapsed", p.Title)
	assert.Equal(t, "wait 3600s", p.Detail)

	raw, err := json.Marshal(p.WithExtra("operator", "0x1"))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "0x1", decoded["operator"])
	assert.EqualValues(t, 422, decoded["status"])
}

func TestProblemDetailsHidesUnknown(t *testing.T) {
	p := ToProblemDetails(fmt.Errorf("badger: disk full"), "")
	assert.Equal(t, http.StatusInternalServerError, p.Status)
	assert.Equal(t, "Internal Server Error", p.Detail)
}
