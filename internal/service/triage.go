package service

import (
	"fmt"
	"strings"

	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

// Индикаторы тяжести состояния по стандартным протоколам экстренной помощи
var (
	p1Indicators = []string{
		"cardiac arrest", "not breathing", "no pulse", "unconscious",
		"severe bleeding", "choking", "drowning", "stroke", "severe trauma",
	}
	p2Indicators = []string{
		"chest pain", "difficulty breathing", "breathing difficulty",
		"seizure", "fracture", "broken", "allergic reaction", "burn",
	}
)

// resourcesByType сопоставляет тип происшествия требуемым ресурсам
var resourcesByType = map[string][]string{
	"cardiac":  {"ambulance", "defibrillator"},
	"medical":  {"ambulance"},
	"accident": {"ambulance", "trauma"},
	"trauma":   {"ambulance", "trauma"},
	"fire":     {"fire_truck", "ambulance"},
}

// instructionsByIndicator - инструкции звонящему до прибытия бригады
var instructionsByIndicator = map[string]string{
	"cardiac arrest":  "Start CPR now: push hard and fast on the center of the chest",
	"not breathing":   "Start CPR now: push hard and fast on the center of the chest",
	"no pulse":        "Start CPR now: push hard and fast on the center of the chest",
	"severe bleeding": "Apply firm pressure to the wound with a clean cloth",
	"choking":         "Perform abdominal thrusts if the patient cannot cough or speak",
	"burn":            "Cool the burn with running water, do not apply ice",
	"chest pain":      "Have the patient sit down, rest and loosen tight clothing",
	"seizure":         "Clear the area around the patient, do not restrain them",
}

// specialtyByType сопоставляет тип происшествия профилю принимающей больницы
var specialtyByType = map[string]string{
	"cardiac":  "cardiology",
	"accident": "trauma",
	"trauma":   "trauma",
	"fire":     "trauma",
}

// Triage классифицирует тяжесть инцидента по данным приема вызова.
// Консервативное правило: при неполных или неоднозначных данных выбирается более высокий приоритет.
func Triage(report models.IntakeReport) models.TriageReport {
	text := strings.ToLower(report.EmergencyType + " " + report.Symptoms + " " + report.Notes)

	priority := models.PriorityP3
	confidence := "medium"
	var instructions []string

	matched := false
	for _, ind := range p1Indicators {
		if strings.Contains(text, ind) {
			priority = models.PriorityP1
			confidence = "high"
			matched = true
			if instr, ok := instructionsByIndicator[ind]; ok {
				instructions = appendUnique(instructions, instr)
			}
		}
	}
	if priority != models.PriorityP1 {
		for _, ind := range p2Indicators {
			if strings.Contains(text, ind) {
				priority = models.PriorityP2
				confidence = "high"
				matched = true
				if instr, ok := instructionsByIndicator[ind]; ok {
					instructions = appendUnique(instructions, instr)
				}
			}
		}
	}

	// Флаг угрозы жизни перевешивает текстовый анализ
	if report.LifeThreateningFlag {
		priority = models.PriorityP1
		confidence = "high"
		matched = true
	}

	// Нет симптомов и нет совпадений - данные неполные, эскалируем приоритет консервативно
	if !matched && strings.TrimSpace(report.Symptoms) == "" {
		priority = models.PriorityP2
		confidence = "low"
	}

	resources := requiredResources(report.EmergencyType)
	if priority == models.PriorityP1 {
		resources = appendUnique(resources, "paramedics")
	}

	return models.TriageReport{
		Priority:               priority,
		RequiredResources:      resources,
		PreArrivalInstructions: instructions,
		Confidence:             confidence,
		EscalationNeeded:       priority == models.PriorityP1,
		IncidentSummary:        summarize(report),
	}
}

// requiredResources возвращает ресурсы для типа происшествия, по умолчанию ambulance
func requiredResources(emergencyType string) []string {
	key := strings.ToLower(strings.TrimSpace(emergencyType))
	for typ, resources := range resourcesByType {
		if strings.Contains(key, typ) {
			out := make([]string, len(resources))
			copy(out, resources)
			return out
		}
	}
	return []string{"ambulance"}
}

// HospitalSpecialty возвращает требуемый профиль больницы для типа происшествия
func HospitalSpecialty(emergencyType string) string {
	key := strings.ToLower(strings.TrimSpace(emergencyType))
	for typ, specialty := range specialtyByType {
		if strings.Contains(key, typ) {
			return specialty
		}
	}
	return "emergency"
}

func summarize(report models.IntakeReport) string {
	patient := report.PatientName
	if patient == "" {
		patient = "unknown patient"
	}
	return fmt.Sprintf("%s: %s (%s)", report.EmergencyType, report.Symptoms, patient)
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
