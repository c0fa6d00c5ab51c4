// Package schedule validates time period rules and computes when a scheduled
// task should next start.
package schedule

import (
	"fmt"

	"taskcore/internal/domain"
)

const bothDayFieldsMessage = "a time period is either date based or week day based"

// Validate returns one error per illegal field combination. A nil result means
// the rule is usable.
func Validate(tp domain.TimePeriod) domain.ValidationErrors {
	var errs domain.ValidationErrors
	errs = append(errs, checkRange("date", tp.Date, 1, 31)...)
	errs = append(errs, checkRange("weekDay", tp.WeekDay, 1, 7)...)
	errs = append(errs, checkRange("hour", tp.Hour, 0, 23)...)
	errs = append(errs, checkRange("minute", tp.Minute, 0, 59)...)

	switch {
	case tp.Date != nil && tp.WeekDay != nil:
		errs = append(errs,
			domain.ValidationError{Field: "date", Message: "cannot be combined with a week day"},
			domain.ValidationError{Field: "weekDay", Message: "cannot be combined with a date"},
			domain.ValidationError{Message: bothDayFieldsMessage},
		)
	case tp.Date != nil || tp.WeekDay != nil:
		if tp.Hour == nil {
			errs = append(errs, domain.ValidationError{Field: "hour", Message: "required when a date or week day is set"})
		}
		if tp.Minute == nil {
			errs = append(errs, domain.ValidationError{Field: "minute", Message: "required when a date or week day is set"})
		}
	case tp.Hour != nil && tp.Minute == nil:
		errs = append(errs, domain.ValidationError{Field: "minute", Message: "required when an hour is set"})
	}
	return errs
}

// ValidateAll validates every rule of a task definition, prefixing fields with
// the rule index.
func ValidateAll(periods []domain.TimePeriod) domain.ValidationErrors {
	if len(periods) == 0 {
		return domain.ValidationErrors{{Field: "timePeriods", Message: "at least one time period is required"}}
	}
	var errs domain.ValidationErrors
	for i, tp := range periods {
		for _, e := range Validate(tp) {
			field := fmt.Sprintf("timePeriods[%d]", i)
			if e.Field != "" {
				field += "." + e.Field
			}
			errs = append(errs, domain.ValidationError{Field: field, Message: e.Message})
		}
	}
	return errs
}

func checkRange(field string, v *int, lo, hi int) domain.ValidationErrors {
	if v == nil || (*v >= lo && *v <= hi) {
		return nil
	}
	return domain.ValidationErrors{{Field: field, Message: fmt.Sprintf("must be between %d and %d", lo, hi)}}
}
