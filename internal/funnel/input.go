package funnel

import (
	"fmt"
	"strings"

	"microloan-funnel/internal/validation"
)

// InputType distinguishes button presses from typed text.
type InputType string

const (
	InputChoice InputType = "choice"
	InputText   InputType = "text"
)

// Input is a raw inbound message.
type Input struct {
	Type InputType
	Data string
}

// ParseInput maps a raw input to an Event. Typed text is read as the value
// the current prompt asks for; values are validated here so transitions only
// see well-formed events.
func ParseInput(conv Conversation, in Input) Event {
	data := validation.SanitizeString(in.Data)

	switch data {
	case "/start", "start":
		return Event{Kind: EventStart}
	case "/cancel", "cancel", "back_to_main":
		return Event{Kind: EventCancel}
	}

	if in.Type == InputText {
		return parseText(conv, data)
	}
	return parseChoice(conv, data)
}

// fieldStates maps each field choice prefix to the only state that prompts
// for it.
var fieldStates = map[string]State{
	"country": StateChoosingCountry,
	"age":     StateChoosingAge,
	"amount":  StateChoosingAmount,
	"term":    StateChoosingTerm,
	"payment": StateChoosingPayment,
	"zero":    StateChoosingZeroPercent,
}

func parseChoice(conv Conversation, data string) Event {
	switch data {
	case "next_offer":
		return Event{Kind: EventNext}
	case "prev_offer":
		return Event{Kind: EventPrev}
	case "change_params":
		return Event{Kind: EventChangeParams}
	case "change_profile_settings", "settings":
		return Event{Kind: EventSettings}
	case "edit_country":
		return Event{Kind: EventEditCountry}
	case "edit_age":
		return Event{Kind: EventEditAge}
	case "clear_profile":
		return Event{Kind: EventClearProfile}
	}

	prefix, value, ok := splitChoice(data)
	if !ok {
		return invalid(fmt.Errorf("unknown choice: %q", data))
	}
	if want, ok := fieldStates[prefix]; ok && conv.State != want {
		return invalid(errUnexpected)
	}

	switch prefix {
	case "country":
		return parseCountry(value)
	case "age":
		return parseAge(value)
	case "amount":
		return parseAmount(conv, value)
	case "term":
		return parseTerm(value)
	case "payment":
		return parsePayment(value)
	case "zero":
		return parseZero(value)
	case "get_loan":
		return Event{Kind: EventSelect, OfferID: value}
	case "popular":
		if _, ok := popularPresets[value]; !ok {
			return invalid(&validation.ValidationError{
				Field:   "preset",
				Message: fmt.Sprintf("must be one of %s", strings.Join(knownPresets(), ", ")),
			})
		}
		return Event{Kind: EventPopular, Preset: value}
	}
	return invalid(fmt.Errorf("unknown choice: %q", data))
}

func parseText(conv Conversation, text string) Event {
	switch conv.State {
	case StateChoosingCountry:
		return parseCountry(text)
	case StateChoosingAge:
		return parseAge(text)
	case StateChoosingAmount:
		return parseAmount(conv, text)
	case StateChoosingTerm:
		return parseTerm(text)
	case StateChoosingPayment:
		return parsePayment(text)
	case StateChoosingZeroPercent:
		return parseZero(text)
	}
	return invalid(errUnexpected)
}

// splitChoice splits "get_loan_offer_1" into ("get_loan", "offer_1") and
// "age_30" into ("age", "30").
func splitChoice(data string) (string, string, bool) {
	if rest, ok := strings.CutPrefix(data, "get_loan_"); ok && rest != "" {
		return "get_loan", rest, true
	}
	prefix, value, ok := strings.Cut(data, "_")
	if !ok || value == "" {
		return "", "", false
	}
	return prefix, value, true
}

func parseCountry(v string) Event {
	country, err := validation.ParseCountry(v)
	if err != nil {
		return invalid(err)
	}
	return Event{Kind: EventCountry, Country: country}
}

func parseAge(v string) Event {
	age, err := validation.ParseAge(v)
	if err != nil {
		return invalid(err)
	}
	return Event{Kind: EventAge, Age: age}
}

func parseAmount(conv Conversation, v string) Event {
	amount, err := validation.ParseAmount(v, conv.Criteria.Country)
	if err != nil {
		return invalid(err)
	}
	return Event{Kind: EventAmount, Amount: amount}
}

func parseTerm(v string) Event {
	term, err := validation.ParseTerm(v)
	if err != nil {
		return invalid(err)
	}
	return Event{Kind: EventTerm, Term: term}
}

func parsePayment(v string) Event {
	method, err := validation.ParsePaymentMethod(v)
	if err != nil {
		return invalid(err)
	}
	return Event{Kind: EventPayment, PaymentMethod: method}
}

func parseZero(v string) Event {
	zero, err := validation.ParseZeroPercent(v)
	if err != nil {
		return invalid(err)
	}
	return Event{Kind: EventZeroPercent, ZeroPercent: zero}
}

func invalid(err error) Event {
	return Event{Kind: EventInvalid, Err: err}
}
