package event_test

import (
	"EnergyLedger/internal/event"
	"EnergyLedger/internal/testutil"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() event.ContractCreated {
	return event.NewContractCreated(
		uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		time.Date(2025, 5, 20, 12, 30, 0, 0, time.UTC),
		event.ContractData{
			ContractID: uuid.MustParse("660e8400-e29b-41d4-a716-446655440001"),
			Type:       event.ContractTypePurchase,
			VolumeMwm:  decimal.RequireFromString("100.5"),
			Price:      decimal.RequireFromString("250.75"),
			StartDate:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			EndDate:    time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		},
	)
}

func TestEncodeContractCreatedWireShape(t *testing.T) {
	data, err := event.EncodeContractCreated(sampleEvent())
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", wire["EventId"])
	assert.Equal(t, "ContractCreated", wire["EventType"])
	assert.Equal(t, "2025-05-20T12:30:00Z", wire["Timestamp"])

	cd, ok := wire["ContractData"].(map[string]interface{})
	require.True(t, ok, "ContractData must be an object")
	assert.Equal(t, "660e8400-e29b-41d4-a716-446655440001", cd["ContractId"])
	assert.Equal(t, "Compra", cd["Type"])
	assert.Equal(t, 100.5, cd["VolumeMwm"], "volume must be a JSON number")
	assert.Equal(t, 250.75, cd["Price"], "price must be a JSON number")
	assert.Equal(t, "2025-06-01T00:00:00Z", cd["StartDate"])
	assert.Equal(t, "2025-09-01T00:00:00Z", cd["EndDate"])
}

func TestEncodeContractCreatedGolden(t *testing.T) {
	data, err := event.EncodeContractCreated(sampleEvent())
	require.NoError(t, err)
	testutil.AssertGolden(t, "contract_created.json", data)
}

func TestDecodeContractCreatedRoundTrip(t *testing.T) {
	in := sampleEvent()
	data, err := event.EncodeContractCreated(in)
	require.NoError(t, err)

	out, err := event.DecodeContractCreated(data)
	require.NoError(t, err)

	assert.Equal(t, in.EventID, out.EventID)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.Equal(t, in.ContractData.ContractID, out.ContractData.ContractID)
	assert.Equal(t, in.ContractData.Type, out.ContractData.Type)
	assert.True(t, in.ContractData.VolumeMwm.Equal(out.ContractData.VolumeMwm))
	assert.True(t, in.ContractData.Price.Equal(out.ContractData.Price))
	assert.True(t, in.ContractData.StartDate.Equal(out.ContractData.StartDate))
	assert.True(t, in.ContractData.EndDate.Equal(out.ContractData.EndDate))
	assert.Equal(t, event.EventTypeContractCreated, out.EventType())
	assert.Equal(t, in.EventID.String(), out.IdempotencyKey())
}

func TestDecodeNormalisesOffsetsToUTC(t *testing.T) {
	payload := `{
		"EventId": "550e8400-e29b-41d4-a716-446655440000",
		"Timestamp": "2025-05-20T09:30:00-03:00",
		"EventType": "ContractCreated",
		"ContractData": {
			"ContractId": "660e8400-e29b-41d4-a716-446655440001",
			"Type": "venda",
			"VolumeMwm": 30,
			"Price": 120.5,
			"StartDate": "2025-05-31T22:00:00-03:00",
			"EndDate": "2025-07-01T00:00:00Z"
		}
	}`

	evt, err := event.DecodeContractCreated([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, event.ContractTypeSale, evt.ContractData.Type)
	assert.Equal(t, time.UTC, evt.ContractData.StartDate.Location())
	assert.Equal(t, time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC), evt.ContractData.StartDate)
	assert.Equal(t, time.Date(2025, 5, 20, 12, 30, 0, 0, time.UTC), evt.Timestamp)
}

func TestDecodeMalformed(t *testing.T) {
	valid := func() map[string]interface{} {
		return map[string]interface{}{
			"EventId":   "550e8400-e29b-41d4-a716-446655440000",
			"Timestamp": "2025-05-20T12:30:00Z",
			"EventType": "ContractCreated",
			"ContractData": map[string]interface{}{
				"ContractId": "660e8400-e29b-41d4-a716-446655440001",
				"Type":       "Compra",
				"VolumeMwm":  10,
				"Price":      1,
				"StartDate":  "2025-06-01T00:00:00Z",
				"EndDate":    "2025-07-01T00:00:00Z",
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(m map[string]interface{})
		raw    string
	}{
		{name: "not json", raw: "{not json"},
		{name: "empty object", raw: "{}"},
		{name: "wrong event type", mutate: func(m map[string]interface{}) { m["EventType"] = "ContractCancelled" }},
		{name: "bad event id", mutate: func(m map[string]interface{}) { m["EventId"] = "nope" }},
		{name: "bad contract id", mutate: func(m map[string]interface{}) {
			m["ContractData"].(map[string]interface{})["ContractId"] = "nope"
		}},
		{name: "unknown type", mutate: func(m map[string]interface{}) {
			m["ContractData"].(map[string]interface{})["Type"] = "Swap"
		}},
		{name: "negative volume", mutate: func(m map[string]interface{}) {
			m["ContractData"].(map[string]interface{})["VolumeMwm"] = -5
		}},
		{name: "missing volume", mutate: func(m map[string]interface{}) {
			delete(m["ContractData"].(map[string]interface{}), "VolumeMwm")
		}},
		{name: "missing timestamp", mutate: func(m map[string]interface{}) { delete(m, "Timestamp") }},
		{name: "missing end date", mutate: func(m map[string]interface{}) {
			delete(m["ContractData"].(map[string]interface{}), "EndDate")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(tt.raw)
			if tt.mutate != nil {
				m := valid()
				tt.mutate(m)
				var err error
				data, err = json.Marshal(m)
				require.NoError(t, err)
			}

			_, err := event.DecodeContractCreated(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, event.ErrMalformed), "error should wrap ErrMalformed: %v", err)
		})
	}
}

func TestDecodeRoundsToStoredScale(t *testing.T) {
	payload := `{
		"EventId": "550e8400-e29b-41d4-a716-446655440000",
		"Timestamp": "2025-05-20T12:30:00Z",
		"EventType": "ContractCreated",
		"ContractData": {
			"ContractId": "660e8400-e29b-41d4-a716-446655440001",
			"Type": "Compra",
			"VolumeMwm": 10.123456,
			"Price": 99.999,
			"StartDate": "2025-06-01T00:00:00Z",
			"EndDate": "2025-07-01T00:00:00Z"
		}
	}`

	evt, err := event.DecodeContractCreated([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "10.1235", evt.ContractData.VolumeMwm.String())
	assert.Equal(t, "100", evt.ContractData.Price.String())
}

func TestParseContractType(t *testing.T) {
	for _, s := range []string{"Compra", "compra", "COMPRA"} {
		ct, err := event.ParseContractType(s)
		require.NoError(t, err)
		assert.Equal(t, event.ContractTypePurchase, ct)
	}
	ct, err := event.ParseContractType("vEnDa")
	require.NoError(t, err)
	assert.Equal(t, event.ContractTypeSale, ct)

	_, err = event.ParseContractType("Purchase")
	assert.ErrorIs(t, err, event.ErrUnknownContractType)
}

func TestNewContractCreatedCopiesSnapshot(t *testing.T) {
	data := event.ContractData{
		ContractID: uuid.New(),
		Type:       event.ContractTypeSale,
		VolumeMwm:  decimal.NewFromInt(10),
		StartDate:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	evt := event.NewContractCreated(uuid.New(), time.Now(), data)

	data.VolumeMwm = decimal.NewFromInt(99)
	data.EndDate = data.EndDate.AddDate(1, 0, 0)

	assert.True(t, evt.ContractData.VolumeMwm.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), evt.ContractData.EndDate)
}
