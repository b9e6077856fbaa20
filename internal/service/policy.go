package service

import (
	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

// Decision - решение политики эскалации по результату неудачной попытки этапа
type Decision string

const (
	DecisionRetry    Decision = "retry"
	DecisionEscalate Decision = "escalate"
	DecisionAbort    Decision = "abort"
)

// EscalationPolicy - чистая политика повторов и эскалации.
// Консультируется контроллером конвейера и движком аллокации; сама никогда не теряет инцидент.
type EscalationPolicy struct{}

// NewEscalationPolicy создает политику эскалации
func NewEscalationPolicy() *EscalationPolicy {
	return &EscalationPolicy{}
}

// Decide возвращает решение для (этап, приоритет, номер попытки, класс ошибки).
// Правило: первая неудача - повтор, вторая и далее - эскалация.
// Ошибки валидации возвращаются на прием без эскалации на диспетчеризацию.
// Устаревший переход не повторяется: он отвергается как идемпотентный no-op.
func (p *EscalationPolicy) Decide(stage models.Stage, priority models.Priority, attempt int, kind ErrorKind) Decision {
	switch kind {
	case KindValidation:
		return DecisionAbort
	case KindStaleTransition:
		return DecisionAbort
	}

	if attempt <= 1 {
		return DecisionRetry
	}
	return DecisionEscalate
}
