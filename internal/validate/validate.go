// Package validate classifies a single item's raw input into an error and a
// warning. Every function here is referentially transparent so the form can
// re-run classification on each keystroke without side effects.
package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stakahashi/tenken/internal/types"
)

// Validation error messages. Errors block submission; warnings allow it
// behind an explicit confirmation step.
const (
	ErrRequired       = "required"
	ErrNotNumeric     = "must be numeric"
	ErrDetailRequired = "detail required"

	WarnAbnormality = "abnormality recorded"
)

// Result is the classification of one input. Error and Warning never
// co-occur: a warning is only reported on otherwise valid input.
type Result struct {
	Error   string
	Warning string
}

// OK reports whether the input carries no hard error.
func (r Result) OK() bool { return r.Error == "" }

// Item validates one raw value (and, for checkbox items, the free-text
// detail) against the item definition. For number items rawValue must be the
// string form; for checkbox items it must be a bool.
func Item(item types.Item, rawValue any, detail string) Result {
	switch item.Type {
	case types.ItemCheckbox:
		checked, _ := rawValue.(bool)
		return checkbox(checked, detail)
	default:
		raw, _ := rawValue.(string)
		return number(item, raw)
	}
}

// number applies the numeric rules in order: empty, unparsable, then the
// tolerance band. A band breach is a warning, not an error — submission
// stays possible behind the confirmation step.
func number(item types.Item, raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{Error: ErrRequired}
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return Result{Error: ErrNotNumeric}
	}
	if item.StandardValue != nil && item.ErrorThreshold != nil {
		lower := *item.StandardValue - *item.ErrorThreshold
		upper := *item.StandardValue + *item.ErrorThreshold
		if v < lower || v > upper {
			return Result{Warning: ToleranceWarning(lower, upper)}
		}
	}
	return Result{}
}

// checkbox treats false as an abnormal reading: it needs detail text, and
// once detail is present the abnormality is recorded as a warning. A checked
// box is clean; the caller clears any stored detail.
func checkbox(checked bool, detail string) Result {
	if checked {
		return Result{}
	}
	if strings.TrimSpace(detail) == "" {
		return Result{Error: ErrDetailRequired}
	}
	return Result{Warning: WarnAbnormality}
}

// ToleranceWarning renders the out-of-band warning for the given band.
func ToleranceWarning(lower, upper float64) string {
	return fmt.Sprintf("out of tolerance range [%s..%s]",
		strconv.FormatFloat(lower, 'f', -1, 64),
		strconv.FormatFloat(upper, 'f', -1, 64))
}
