package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusResolved.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusIntake.IsTerminal())
	assert.False(t, StatusDispatched.IsTerminal())
	assert.False(t, StatusHospitalNotified.IsTerminal())
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from IncidentStatus
		to   IncidentStatus
		want bool
	}{
		{"intake to triaged", StatusIntake, StatusTriaged, true},
		{"triaged to located", StatusTriaged, StatusLocated, true},
		{"located to dispatched", StatusLocated, StatusDispatched, true},
		{"dispatched to hospital_notified", StatusDispatched, StatusHospitalNotified, true},
		{"audit keeps hospital_notified", StatusHospitalNotified, StatusHospitalNotified, true},
		{"no rollback to intake", StatusTriaged, StatusIntake, false},
		{"no rollback from dispatched", StatusDispatched, StatusLocated, false},
		{"cancel from intake", StatusIntake, StatusCancelled, true},
		{"resolve from hospital_notified", StatusHospitalNotified, StatusResolved, true},
		{"no transition out of resolved", StatusResolved, StatusCancelled, false},
		{"no transition out of cancelled", StatusCancelled, StatusTriaged, false},
		{"unknown status rejected", IncidentStatus("bogus"), StatusTriaged, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestStageOrder_IsCopy(t *testing.T) {
	order := StageOrder()
	require.Equal(t, []Stage{StageIntake, StageTriage, StageLocation, StageDispatch, StageHospitalNotify, StageAudit}, order)

	// Изменение копии не должно влиять на внутренний порядок
	order[0] = Stage("mutated")
	assert.Equal(t, StageIntake, StageOrder()[0])
}

func TestIsValidStage(t *testing.T) {
	for _, stage := range StageOrder() {
		assert.True(t, IsValidStage(stage))
	}
	assert.False(t, IsValidStage(Stage("unknown")))
}

func TestTriageReport_JSONContract(t *testing.T) {
	report := TriageReport{
		Priority:               PriorityP1,
		RequiredResources:      []string{"ambulance", "defibrillator"},
		PreArrivalInstructions: []string{"Start CPR now: push hard and fast on the center of the chest"},
		Confidence:             "high",
		EscalationNeeded:       true,
		IncidentSummary:        "cardiac: not breathing (John Doe)",
	}

	data, err := json.Marshal(report)
	require.NoError(t, err)

	// Имена полей - контракт передачи между этапами
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"priority", "required_resources", "pre_arrival_instructions", "confidence", "escalation_needed", "incident_summary"} {
		assert.Contains(t, raw, key)
	}

	var decoded TriageReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report, decoded)
}

func TestIntakeReport_JSONContract(t *testing.T) {
	report := IntakeReport{
		CallerName:          "Jane Roe",
		PatientName:         "John Doe",
		EmergencyType:       "cardiac",
		Symptoms:            "not breathing",
		Location:            Location{Lat: 55.75, Lng: 37.61, Address: "Tverskaya 1"},
		ContactNumber:       "+7-900-000-00-00",
		MedicalHistory:      "hypertension",
		LifeThreateningFlag: true,
		Notes:               "caller is panicking",
	}

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"caller_name", "patient_name", "emergency_type", "symptoms", "location", "contact_number", "medical_history", "life_threatening_flag", "notes"} {
		assert.Contains(t, raw, key)
	}
}
