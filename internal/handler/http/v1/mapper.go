package v1

import (
	"encoding/json"

	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

// DTOToIntakeReport преобразует DTO приема вызова в доменный отчет этапа Intake
func DTOToIntakeReport(dto CreateIncidentRequest) models.IntakeReport {
	return models.IntakeReport{
		CallerName:    dto.CallerName,
		PatientName:   dto.PatientName,
		EmergencyType: dto.EmergencyType,
		Symptoms:      dto.Symptoms,
		Location: models.Location{
			Lat:     dto.Location.Lat,
			Lng:     dto.Location.Lng,
			Address: dto.Location.Address,
		},
		ContactNumber:       dto.ContactNumber,
		MedicalHistory:      dto.MedicalHistory,
		LifeThreateningFlag: dto.LifeThreateningFlag,
		Notes:               dto.Notes,
	}
}

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа
func ModelToIncidentResponse(model *models.Incident) *IncidentResponse {
	resp := &IncidentResponse{
		ID:                  model.ID,
		CallerName:          model.CallerName,
		CallerPhone:         model.CallerPhone,
		IncidentType:        model.IncidentType,
		Symptoms:            model.Symptoms,
		Summary:             model.Summary,
		Latitude:            model.Latitude,
		Longitude:           model.Longitude,
		Address:             model.Address,
		Priority:            string(model.Priority),
		Status:              string(model.Status),
		Escalated:           model.Escalated,
		EscalationReason:    model.EscalationReason,
		AssignedResponderID: model.AssignedResponderID,
		CreatedAt:           model.CreatedAt,
		UpdatedAt:           model.UpdatedAt,
	}
	if len(model.StageOutputs) > 0 {
		resp.StageOutputs = make(map[string]json.RawMessage, len(model.StageOutputs))
		for stage, output := range model.StageOutputs {
			resp.StageOutputs[string(stage)] = output
		}
	}
	return resp
}

// ModelsToIncidentResponses преобразует слайс моделей в слайс DTO
func ModelsToIncidentResponses(models []*models.Incident) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(models))
	for i, model := range models {
		responses[i] = ModelToIncidentResponse(model)
	}
	return responses
}

// ModelToStageResultResponse преобразует результат этапа в DTO для ответа
func ModelToStageResultResponse(result *models.StageResult) *StageResultResponse {
	return &StageResultResponse{
		IncidentID: result.IncidentID,
		Stage:      string(result.Stage),
		Status:     string(result.Status),
		Output:     result.Output,
		Escalated:  result.Escalated,
		Replayed:   result.Replayed,
	}
}

// ModelsToAssignmentResponses преобразует слайс назначений в слайс DTO
func ModelsToAssignmentResponses(assignments []*models.Assignment) []*AssignmentResponse {
	responses := make([]*AssignmentResponse, len(assignments))
	for i, a := range assignments {
		responses[i] = &AssignmentResponse{
			ID:          a.ID,
			IncidentID:  a.IncidentID,
			ResponderID: a.ResponderID,
			HospitalID:  a.HospitalID,
			Status:      string(a.Status),
			ETAMinutes:  a.ETAMinutes,
			RankWonAt:   a.RankWonAt,
			CreatedAt:   a.CreatedAt,
		}
	}
	return responses
}
