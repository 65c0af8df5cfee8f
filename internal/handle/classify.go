package handle

import (
	"errors"
	"regexp"

	"github.com/arkilian/memstress/internal/table"
)

// Class is the outcome of classifying a create failure.
type Class int

const (
	// ClassFatal errors are returned to the caller unchanged.
	ClassFatal Class = iota
	// ClassBenignRace means another caller created the table first.
	ClassBenignRace
)

func (c Class) String() string {
	if c == ClassBenignRace {
		return "benign-race"
	}
	return "fatal"
}

// ErrorInfo is the structured content a create failure is classified by.
type ErrorInfo struct {
	Kind    table.Kind
	Message string
}

var benignRaces = []struct {
	kind    table.Kind
	pattern *regexp.Regexp
}{
	{table.KindGeneric, regexp.MustCompile("SaveMode `\\w+` is not allowed for create operation")},
	{table.KindTransaction, regexp.MustCompile(`version \d+ already exists`)},
}

// Classify reports whether info describes a lost creation race.
func Classify(info ErrorInfo) Class {
	for _, b := range benignRaces {
		if info.Kind == b.kind && b.pattern.MatchString(info.Message) {
			return ClassBenignRace
		}
	}
	return ClassFatal
}

// ClassifyError classifies err. Anything that is not a *table.Error is fatal.
func ClassifyError(err error) Class {
	var te *table.Error
	if !errors.As(err, &te) {
		return ClassFatal
	}
	return Classify(ErrorInfo{Kind: te.Kind, Message: te.Message})
}
