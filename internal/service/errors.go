package service

import (
	"context"
	"errors"
)

// Сентинельные ошибки ядра диспетчеризации
var (
	// ErrNoCandidate - ни один подходящий ресурс не найден в пределах предельного радиуса
	ErrNoCandidate = errors.New("no candidate found within search radius cap")
	// ErrReservationConflict - все ранжированные кандидаты проиграны конкурентным аллокациям
	ErrReservationConflict = errors.New("reservation conflict: all ranked candidates taken")
	// ErrInvalidRequirements - некорректный фильтр требований к ресурсу
	ErrInvalidRequirements = errors.New("invalid allocation requirements")
	// ErrStaleTransition - устаревший или дублирующий переход этапа
	ErrStaleTransition = errors.New("stale or duplicate stage transition")
	// ErrValidation - некорректные входные данные этапа
	ErrValidation = errors.New("invalid stage input")
	// ErrIncidentTerminal - инцидент уже в терминальном статусе
	ErrIncidentTerminal = errors.New("incident is in terminal status")
	// ErrCollaboratorUnavailable - внешний коллаборатор (геокодер, аудит) недоступен
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// ErrorKind - класс ошибки этапа, используемый политикой эскалации
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNoCandidate         ErrorKind = "no_candidate"
	KindReservationConflict ErrorKind = "reservation_conflict"
	KindStaleTransition     ErrorKind = "stale_transition"
	KindCollaborator        ErrorKind = "collaborator_unavailable"
	KindTimeout             ErrorKind = "timeout"
	KindInternal            ErrorKind = "internal"
)

// ClassifyError относит ошибку этапа к классу из таксономии
func ClassifyError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidRequirements):
		return KindValidation
	case errors.Is(err, ErrNoCandidate):
		return KindNoCandidate
	case errors.Is(err, ErrReservationConflict):
		return KindReservationConflict
	case errors.Is(err, ErrStaleTransition):
		return KindStaleTransition
	case errors.Is(err, ErrCollaboratorUnavailable):
		return KindCollaborator
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}
